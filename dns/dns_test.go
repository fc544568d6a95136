package dns

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"
)

func TestParseHost(t *testing.T) {
	test := func(s string, exp Host, expErr error) {
		t.Helper()
		h, err := ParseHost(s)
		if (err == nil) != (expErr == nil) || expErr != nil && !errors.Is(err, expErr) {
			t.Fatalf("parse host %q: err %v, expected %v", s, err, expErr)
		}
		if expErr == nil && (h.ASCII != exp.ASCII || h.Unicode != exp.Unicode || !h.IP.Equal(exp.IP)) {
			t.Fatalf("parse host %q: got %#v, expected %#v", s, h, exp)
		}
	}

	test("vvm.example.com", Host{ASCII: "vvm.example.com"}, nil)
	test("VVM.Example.COM", Host{ASCII: "vvm.example.com"}, nil)
	test(" vvm.example.com. ", Host{ASCII: "vvm.example.com"}, nil)
	test("TEST☺.example.com", Host{ASCII: "xn--test-3o3b.example.com", Unicode: "test☺.example.com"}, nil)
	test("10.1.2.3", Host{IP: net.ParseIP("10.1.2.3")}, nil)
	test("[2001:db8::1]", Host{IP: net.ParseIP("2001:db8::1")}, nil)
	test(".", Host{}, errEmptyHost)
	test("", Host{}, errEmptyHost)

	h, _ := ParseHost("TEST☺.example.com")
	if s := h.String(); s != "test☺.example.com/xn--test-3o3b.example.com" {
		t.Fatalf("string %q", s)
	}
	h, _ = ParseHost("[2001:db8::1]")
	if s := h.String(); s != "2001:db8::1" {
		t.Fatalf("string %q", s)
	}
}

func TestMockResolver(t *testing.T) {
	ctx := context.Background()
	r := MockResolver{
		A:     map[string][]string{"vmg.example.": {"10.0.0.1"}},
		AAAA:  map[string][]string{"vmg.example.": {"2001:db8::1"}},
		CNAME: map[string]string{"gw.example.": "vmg.example."},
		Fail:  []string{"broken.example."},
	}

	ips, _, err := r.LookupIPAddr(ctx, "gw.example")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if len(ips) != 2 || !ips[0].IP.Equal(net.ParseIP("10.0.0.1")) {
		t.Fatalf("unexpected ips %v", ips)
	}

	_, _, err = r.LookupHost(ctx, "missing.example.")
	if !IsNotFound(err) || !IsDNSError(err) {
		t.Fatalf("got %v, expected not found", err)
	}
	_, _, err = r.LookupHost(ctx, "broken.example.")
	if IsNotFound(err) || !IsDNSError(err) {
		t.Fatalf("got %v, expected servfail", err)
	}
	if lookupResult(err) != "temporary" {
		t.Fatalf("got result %q, expected temporary", lookupResult(err))
	}

	if IsDNSError(fmt.Errorf("dial: %w", errors.New("connection refused"))) {
		t.Fatalf("plain error classified as dns error")
	}

	cctx, cancel := context.WithCancel(ctx)
	cancel()
	_, _, err = r.LookupHost(cctx, "vmg.example.")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("got %v, expected canceled", err)
	}
}
