package imapclient

import (
	"strings"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// Well-known capabilities.
const (
	CapStartTLS      = "STARTTLS"
	CapAuthDigestMD5 = "AUTH=DIGEST-MD5"
)

// Capabilities is the set of capabilities announced by a server, minus those
// disabled in the configuration. A value is never modified, a new value is made
// after STARTTLS.
type Capabilities struct {
	m map[string]struct{} // Upper case.
}

func newCapabilities(l []string, disabled []string) Capabilities {
	off := map[string]struct{}{}
	for _, s := range disabled {
		off[strings.ToUpper(s)] = struct{}{}
	}
	m := map[string]struct{}{}
	for _, s := range l {
		s = strings.ToUpper(s)
		if _, ok := off[s]; !ok && s != "" {
			m[s] = struct{}{}
		}
	}
	return Capabilities{m}
}

// Has returns whether the capability is present, compared case-insensitively.
func (c Capabilities) Has(name string) bool {
	_, ok := c.m[strings.ToUpper(name)]
	return ok
}

// List returns the capabilities sorted.
func (c Capabilities) List() []string {
	l := maps.Keys(c.m)
	slices.Sort(l)
	return l
}

func (c Capabilities) String() string {
	return strings.Join(c.List(), " ")
}
