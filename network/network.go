// Package network provides the explicitly acquired network handle used for all
// connections to voicemail servers and provisioning gateways.
//
// A Handle is acquired for one activation attempt, sync or provisioning session
// and released when done. Connections can be bound to a local address, e.g. of
// the cellular interface, instead of following the default route.
package network

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/cookiejar"
	"sync/atomic"
	"time"

	"golang.org/x/net/publicsuffix"

	"github.com/mjl-/vvm/dns"
	"github.com/mjl-/vvm/mlog"
)

var xlog = mlog.New("network")

var (
	ErrNoNetwork = errors.New("network not available")
	ErrReleased  = errors.New("network handle already released")
)

const (
	DefaultDialTimeout = 10 * time.Second
	DefaultHTTPTimeout = 30 * time.Second
)

// Config is the configuration for acquiring a handle.
type Config struct {
	// If set, outgoing connections use this local IP, and acquiring fails with
	// ErrNoNetwork if no interface has the address.
	LocalIP string

	Resolver    dns.Resolver // If nil, a dns.StrictResolver is used.
	DialTimeout time.Duration
	HTTPTimeout time.Duration

	// For tests, to connect to a fake server without DNS.
	Dial func(ctx context.Context, network, address string) (net.Conn, error)
}

// ConnectError is returned by DialContext when the host resolved but a
// connection could not be made to any of its addresses.
type ConnectError struct {
	Host string
	Err  error // Error for the last address.
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("connecting to all addresses of %s failed: %v", e.Host, e.Err)
}

func (e *ConnectError) Unwrap() error {
	return e.Err
}

// Handle is an acquired network. It must be released after use.
type Handle struct {
	cfg       Config
	localAddr net.IP
	resolver  dns.Resolver
	released  atomic.Bool
	log       *mlog.Log
}

var handleCounter atomic.Int64

// Acquire requests the network described by cfg.
func Acquire(ctx context.Context, cfg Config) (*Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	h := &Handle{
		cfg:      cfg,
		resolver: cfg.Resolver,
		log:      xlog.WithContext(ctx).Fields(mlog.Field("handle", handleCounter.Add(1))),
	}
	if h.resolver == nil {
		h.resolver = dns.StrictResolver{Pkg: "network"}
	}
	if h.cfg.DialTimeout == 0 {
		h.cfg.DialTimeout = DefaultDialTimeout
	}
	if h.cfg.HTTPTimeout == 0 {
		h.cfg.HTTPTimeout = DefaultHTTPTimeout
	}
	if cfg.LocalIP != "" {
		ip := net.ParseIP(cfg.LocalIP)
		if ip == nil {
			return nil, fmt.Errorf("parsing local ip %q", cfg.LocalIP)
		}
		if ok, err := haveLocalIP(ip); err != nil {
			return nil, fmt.Errorf("listing interface addresses: %w", err)
		} else if !ok {
			return nil, fmt.Errorf("%w: no interface with ip %s", ErrNoNetwork, ip)
		}
		h.localAddr = ip
	}
	h.log.Debug("network acquired", mlog.Field("localip", cfg.LocalIP))
	return h, nil
}

func haveLocalIP(ip net.IP) (bool, error) {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return false, err
	}
	for _, a := range addrs {
		if ipnet, ok := a.(*net.IPNet); ok && ipnet.IP.Equal(ip) {
			return true, nil
		}
	}
	return false, nil
}

// Release releases the handle. Calling Release more than once is fine.
func (h *Handle) Release() {
	if h.released.Swap(true) {
		return
	}
	h.log.Debug("network released")
}

// LookupIP resolves host to its IP addresses. Internationalized names are
// converted to their ASCII form. An IP address, optionally in brackets, is
// returned as is.
func (h *Handle) LookupIP(ctx context.Context, host string) ([]net.IP, error) {
	if h.released.Load() {
		return nil, ErrReleased
	}
	hn, err := dns.ParseHost(host)
	if err != nil {
		return nil, fmt.Errorf("parsing host %q: %w", host, err)
	}
	if hn.IP != nil {
		return []net.IP{hn.IP}, nil
	}
	addrs, _, err := h.resolver.LookupIPAddr(ctx, hn.ASCII)
	if err != nil {
		return nil, fmt.Errorf("resolving %s: %w", hn, err)
	}
	ips := make([]net.IP, len(addrs))
	for i, a := range addrs {
		ips[i] = a.IP
	}
	return ips, nil
}

// DialContext connects to address, a host:port. Each resolved IP is tried in
// order. A DNS error is returned as is (wrapped), failure to connect to all
// addresses as *ConnectError.
func (h *Handle) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	if h.released.Load() {
		return nil, ErrReleased
	}
	host, port, err := net.SplitHostPort(address)
	if err != nil {
		return nil, fmt.Errorf("parsing address: %w", err)
	}
	if h.cfg.Dial != nil {
		return h.cfg.Dial(ctx, network, address)
	}
	ips, err := h.LookupIP(ctx, host)
	if err != nil {
		return nil, err
	}
	dialer := &net.Dialer{Timeout: h.cfg.DialTimeout}
	if h.localAddr != nil {
		dialer.LocalAddr = &net.TCPAddr{IP: h.localAddr}
	}
	var lastErr error
	for _, ip := range ips {
		addr := net.JoinHostPort(ip.String(), port)
		conn, err := dialer.DialContext(ctx, network, addr)
		if err == nil {
			h.log.Debug("connected", mlog.Field("addr", addr))
			return conn, nil
		}
		h.log.Debugx("connecting", err, mlog.Field("addr", addr))
		lastErr = err
		if ctx.Err() != nil {
			break
		}
	}
	return nil, &ConnectError{host, lastErr}
}

// HTTPClient returns a new HTTP client that connects through the handle. Each
// client has its own cookie jar, so sessions never share cookies.
func (h *Handle) HTTPClient() (*http.Client, error) {
	if h.released.Load() {
		return nil, ErrReleased
	}
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("making cookie jar: %w", err)
	}
	transport := &http.Transport{
		DialContext:           h.DialContext,
		TLSHandshakeTimeout:   h.cfg.DialTimeout,
		ResponseHeaderTimeout: h.cfg.HTTPTimeout,
		MaxIdleConns:          2,
		IdleConnTimeout:       h.cfg.HTTPTimeout,
	}
	return &http.Client{
		Transport: transport,
		Jar:       jar,
		Timeout:   h.cfg.HTTPTimeout,
	}, nil
}
