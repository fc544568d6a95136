// Package dns parses carrier host names, including internationalized names
// (IDNA), and provides a logging, metrics-keeping resolver for connecting to
// voicemail servers and gateways.
package dns

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"

	"golang.org/x/net/idna"

	"github.com/mjl-/adns"
)

var errEmptyHost = errors.New("empty host")

// Host is a server named by a carrier, e.g. in the srv field of a STATUS SMS
// or in a gateway URL: an IP address or a domain name.
type Host struct {
	IP net.IP // Set for IP literals, the other fields are empty.

	// Domain name with A-labels (xn--...) or plain ASCII labels, in lower case.
	// Used for lookups.
	ASCII string

	// Name as U-labels. Empty if this is an ASCII-only name.
	Unicode string
}

// String returns a human-readable string. For IDNA names, the string contains
// both the unicode and ASCII name.
func (h Host) String() string {
	switch {
	case h.IP != nil:
		return h.IP.String()
	case h.Unicode != "":
		return h.Unicode + "/" + h.ASCII
	}
	return h.ASCII
}

// ParseHost parses an IP address, optionally in brackets, or a domain name of
// ASCII or unicode labels. Carriers sometimes send fully qualified names, a
// single trailing dot is removed. Names are IDN-canonicalized and lower-cased.
func ParseHost(s string) (Host, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "[") && strings.HasSuffix(s, "]") {
		s = s[1 : len(s)-1]
	}
	if ip := net.ParseIP(s); ip != nil {
		return Host{IP: ip}, nil
	}
	s = strings.TrimSuffix(s, ".")
	if s == "" {
		return Host{}, errEmptyHost
	}
	ascii, err := idna.Lookup.ToASCII(s)
	if err != nil {
		return Host{}, fmt.Errorf("to ascii: %w", err)
	}
	unicode, err := idna.Lookup.ToUnicode(s)
	if err != nil {
		return Host{}, fmt.Errorf("to unicode: %w", err)
	}
	if ascii == unicode {
		return Host{ASCII: ascii}, nil
	}
	return Host{ASCII: ascii, Unicode: unicode}, nil
}

// IsNotFound returns whether an error is a DNS error with IsNotFound set, i.e.
// the name does not exist or has no addresses.
func IsNotFound(err error) bool {
	var adnsErr *adns.DNSError
	var netErr *net.DNSError
	return err != nil && (errors.As(err, &adnsErr) && adnsErr.IsNotFound || errors.As(err, &netErr) && netErr.IsNotFound)
}

// IsDNSError returns whether err is the result of a failed lookup, as opposed
// to a failure connecting after resolving.
func IsDNSError(err error) bool {
	var adnsErr *adns.DNSError
	var netErr *net.DNSError
	return err != nil && (errors.As(err, &adnsErr) || errors.As(err, &netErr))
}

// lookupResult classifies err for metrics.
func lookupResult(err error) string {
	var dnsErr *adns.DNSError
	switch {
	case err == nil:
		return "ok"
	case errors.As(err, &dnsErr) && dnsErr.IsNotFound:
		return "nxdomain"
	case errors.As(err, &dnsErr) && dnsErr.IsTemporary:
		return "temporary"
	case errors.Is(err, os.ErrDeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) || errors.As(err, &dnsErr) && dnsErr.IsTimeout:
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	}
	return "error"
}
