package dns

import (
	"context"
	"fmt"
	"net"

	"golang.org/x/exp/slices"

	"github.com/mjl-/adns"
)

// MockResolver is a Resolver used for testing.
// Set DNS records in the fields, which map FQDNs (with trailing dot) to values.
// Names without trailing dot are looked up with one.
type MockResolver struct {
	A     map[string][]string
	AAAA  map[string][]string
	CNAME map[string]string
	Fail  []string // Names that will return a servfail, with trailing dot.
}

var _ Resolver = MockResolver{}

func (r MockResolver) nxdomain(s string) error {
	return &adns.DNSError{
		Err:        "no record",
		Name:       s,
		Server:     "mock",
		IsNotFound: true,
	}
}

func (r MockResolver) servfail(s string) error {
	return &adns.DNSError{
		Err:         "temp error",
		Name:        s,
		Server:      "mock",
		IsTemporary: true,
	}
}

func (r MockResolver) LookupHost(ctx context.Context, host string) ([]string, adns.Result, error) {
	var result adns.Result
	if err := ctx.Err(); err != nil {
		return nil, result, err
	}
	name := absolute(host)
	for i := 0; i < 10; i++ {
		cname, ok := r.CNAME[name]
		if !ok {
			break
		}
		name = cname
	}
	if slices.Contains(r.Fail, name) {
		return nil, result, r.servfail(name)
	}
	var addrs []string
	addrs = append(addrs, r.A[name]...)
	addrs = append(addrs, r.AAAA[name]...)
	if len(addrs) == 0 {
		return nil, result, r.nxdomain(name)
	}
	return addrs, result, nil
}

func (r MockResolver) LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, adns.Result, error) {
	addrs, result, err := r.LookupHost(ctx, host)
	if err != nil {
		return nil, result, err
	}
	ips := make([]net.IPAddr, len(addrs))
	for i, a := range addrs {
		ip := net.ParseIP(a)
		if ip == nil {
			return nil, result, fmt.Errorf("malformed ip %q", a)
		}
		ips[i] = net.IPAddr{IP: ip}
	}
	return ips, result, nil
}
