package dns

import (
	"context"
	"fmt"
	"net"
	"runtime"
	"strings"
	"time"

	"github.com/mjl-/adns"

	"github.com/mjl-/vvm/metrics"
	"github.com/mjl-/vvm/mlog"
)

func init() {
	net.DefaultResolver.StrictErrors = true
}

// Resolver is the interface strict resolver implements. Only address lookups are
// needed for connecting to servers.
type Resolver interface {
	LookupHost(ctx context.Context, host string) ([]string, adns.Result, error)
	LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, adns.Result, error)
}

// StrictResolver is an adns.Resolver that logs lookups and keeps metrics. Names
// are looked up as absolute names, preventing "search"-relative lookups: a
// missing trailing dot is added.
type StrictResolver struct {
	Pkg      string         // Name of subsystem that is making DNS requests, for metrics.
	Resolver *adns.Resolver // Where the actual lookups are done. If nil, adns.DefaultResolver is used for lookups.
}

var _ Resolver = StrictResolver{}

func (r StrictResolver) log() *mlog.Log {
	pkg := r.Pkg
	if pkg == "" {
		pkg = "dns"
	}
	return mlog.New(pkg)
}

func (r StrictResolver) resolver() *adns.Resolver {
	if r.Resolver == nil {
		return adns.DefaultResolver
	}
	return r.Resolver
}

// WithPackage returns a copy of the resolver with Pkg set to name.
func (r StrictResolver) WithPackage(name string) Resolver {
	nr := r
	nr.Pkg = name
	return nr
}

func absolute(host string) string {
	if strings.HasSuffix(host, ".") {
		return host
	}
	return host + "."
}

func resolveErrorHint(err *error) {
	e := *err
	if e == nil {
		return
	}
	dnserr, ok := e.(*adns.DNSError)
	if !ok {
		return
	}
	// If the dns server is not running, and it is one of the default/fallback IPs,
	// hint at where to look.
	if dnserr.IsTemporary && runtime.GOOS == "linux" && (dnserr.Server == "127.0.0.1:53" || dnserr.Server == "[::1]:53") && strings.HasSuffix(dnserr.Err, "connection refused") {
		*err = fmt.Errorf("%w (hint: does /etc/resolv.conf point to a running nameserver?)", *err)
	}
}

func (r StrictResolver) LookupHost(ctx context.Context, host string) (resp []string, result adns.Result, err error) {
	start := time.Now()
	defer func() {
		metrics.DNSLookupObserve(r.Pkg, "host", lookupResult(err), start)
		r.log().WithContext(ctx).Debugx("dns lookup result", err,
			mlog.Field("type", "host"),
			mlog.Field("host", host),
			mlog.Field("resp", resp),
			mlog.Field("duration", time.Since(start)),
		)
	}()
	defer resolveErrorHint(&err)

	resp, result, err = r.resolver().LookupHost(ctx, absolute(host))
	return
}

func (r StrictResolver) LookupIPAddr(ctx context.Context, host string) (resp []net.IPAddr, result adns.Result, err error) {
	start := time.Now()
	defer func() {
		metrics.DNSLookupObserve(r.Pkg, "ipaddr", lookupResult(err), start)
		r.log().WithContext(ctx).Debugx("dns lookup result", err,
			mlog.Field("type", "ipaddr"),
			mlog.Field("host", host),
			mlog.Field("resp", resp),
			mlog.Field("duration", time.Since(start)),
		)
	}()
	defer resolveErrorHint(&err)

	resp, result, err = r.resolver().LookupIPAddr(ctx, absolute(host))
	return
}
