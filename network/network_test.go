package network

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"reflect"
	"testing"

	"github.com/mjl-/vvm/dns"
)

func tcheckf(t *testing.T, err error, format string, args ...any) {
	t.Helper()
	if err != nil {
		t.Fatalf("%s: %s", fmt.Sprintf(format, args...), err)
	}
}

func tcompare(t *testing.T, got, expect any) {
	t.Helper()
	if !reflect.DeepEqual(got, expect) {
		t.Fatalf("got:\n%#v\nexpected:\n%#v", got, expect)
	}
}

func TestHandle(t *testing.T) {
	ctx := context.Background()

	_, err := Acquire(ctx, Config{LocalIP: "192.0.2.123"})
	if !errors.Is(err, ErrNoNetwork) {
		t.Fatalf("got %v, expected ErrNoNetwork", err)
	}

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if c, err := r.Cookie("session"); err == nil {
			fmt.Fprint(w, "session "+c.Value)
			return
		}
		http.SetCookie(w, &http.Cookie{Name: "session", Value: "1", Path: "/"})
		fmt.Fprint(w, "new")
	}))
	defer ts.Close()
	u, err := url.Parse(ts.URL)
	tcheckf(t, err, "parse url")
	_, port, _ := net.SplitHostPort(u.Host)

	resolver := dns.MockResolver{
		A: map[string][]string{"gw.example.": {"127.0.0.1"}},
	}
	h, err := Acquire(ctx, Config{Resolver: resolver})
	tcheckf(t, err, "acquire")
	defer h.Release()

	ips, err := h.LookupIP(ctx, "gw.example")
	tcheckf(t, err, "lookup")
	tcompare(t, len(ips), 1)

	get := func(c *http.Client) string {
		t.Helper()
		resp, err := c.Get("http://gw.example:" + port + "/")
		tcheckf(t, err, "get")
		defer resp.Body.Close()
		buf, err := io.ReadAll(resp.Body)
		tcheckf(t, err, "read body")
		return string(buf)
	}

	c1, err := h.HTTPClient()
	tcheckf(t, err, "http client")
	tcompare(t, get(c1), "new")
	tcompare(t, get(c1), "session 1")

	// A second client has its own cookie jar.
	c2, err := h.HTTPClient()
	tcheckf(t, err, "http client")
	tcompare(t, get(c2), "new")

	_, err = h.DialContext(ctx, "tcp", "missing.example:143")
	if !dns.IsNotFound(err) {
		t.Fatalf("got %v, expected dns not found", err)
	}

	// Nothing listens on port 1 of localhost.
	_, err = h.DialContext(ctx, "tcp", "gw.example:1")
	var cerr *ConnectError
	if !errors.As(err, &cerr) {
		t.Fatalf("got %v, expected ConnectError", err)
	}

	h.Release()
	h.Release()
	_, err = h.HTTPClient()
	if !errors.Is(err, ErrReleased) {
		t.Fatalf("got %v, expected ErrReleased", err)
	}
	_, err = h.DialContext(ctx, "tcp", "gw.example:143")
	if !errors.Is(err, ErrReleased) {
		t.Fatalf("got %v, expected ErrReleased", err)
	}
}
