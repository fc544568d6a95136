package protocol

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"regexp"
	"strings"
	"time"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/mjl-/vvm/dns"
	"github.com/mjl-/vvm/metrics"
	"github.com/mjl-/vvm/mlog"
	"github.com/mjl-/vvm/omtp"
	"github.com/mjl-/vvm/vvmio"
	"github.com/mjl-/vvm/vvmvar"
)

// Self-provisioning gateway form, VVM3 API 2.1.0 section 12.3.
const (
	spgParamMDN         = "VZW_MDN"
	spgParamService     = "VZW_SERVICE"
	spgParamDeviceModel = "DEVICE_MODEL"
	spgParamAppToken    = "APP_TOKEN"
	spgParamLanguage    = "SPG_LANGUAGE_PARAM"

	spgServiceBasic = "BVVM"
	spgDeviceModel  = "DROID_4G"
	spgAppToken     = "q8e3t5u2o1"
	spgLanguage     = "ENGLISH"
)

const vmgOperationGetSPGURL = "retrieveSPGURL"

// Model sent to the voicemail gateway.
const vmgDeviceModel = "vvm"

const vmgRequestFormat = `<?xml version="1.0" encoding="UTF-8"?>` +
	`<VMGVVMRequest>` +
	`  <MessageHeader>` +
	`    <transactionid>%s</transactionid>` +
	`  </MessageHeader>` +
	`  <MessageBody>` +
	`    <mdn>%s</mdn>` +
	`    <operation>%s</operation>` +
	`    <source>Device</source>` +
	`    <devicemodel>%s</devicemodel>` +
	`  </MessageBody>` +
	`</VMGVVMRequest>`

const maxResponseSize = 1024 * 1024

var ErrSubscribeLinkNotFound = errors.New("subscribe link not found")

// Subscriber self-provisions an unknown VVM3 subscriber. It asks the voicemail
// gateway (VMG) for the self-provisioning gateway (SPG), requests the SPG
// page, and follows its subscribe link. The carrier sends a new STATUS SMS when
// done, Subscribe does not wait for it.
type Subscriber struct {
	Env      ProvisioningEnv
	Protocol Protocol
	Patterns []*regexp.Regexp // Matched against the full text of links on the SPG page.
}

// Subscribe runs the subscription. Failures raise an event on the account.
func (s Subscriber) Subscribe(ctx context.Context, msg omtp.StatusMessage) (rerr error) {
	log := xlog.WithContext(ctx).Fields(mlog.Field("account", s.Env.AccountID))
	log.Info("subscribing")
	defer func() {
		log.Check(rerr, "subscribing")
		if ev, ok := omtp.EventOf(rerr); ok {
			s.Env.raise(ctx, s.Protocol, ev)
		}
	}()

	if msg.VMGURL == "" {
		return omtp.Errorf(omtp.VVM3VMGConnectionFailed, "no voicemail gateway url")
	}

	h, err := s.Env.Network(ctx)
	if err != nil {
		return omtp.WithEvent(omtp.VVM3VMGConnectionFailed, err)
	}
	defer h.Release()
	client, err := h.HTTPClient()
	if err != nil {
		return omtp.WithEvent(omtp.VVM3VMGConnectionFailed, err)
	}

	spgURL, err := s.selfProvisioningGateway(ctx, client, msg.VMGURL)
	if err != nil {
		return err
	}
	log.Debug("self provisioning gateway", mlog.Field("url", spgURL))

	link, err := s.subscribeLink(ctx, client, spgURL)
	if err != nil {
		return err
	}
	log.Debug("clicking subscribe link", mlog.Field("url", link))
	if _, err := s.post(ctx, metrics.GatewaySubscribe, client, link, "", nil); err != nil {
		return omtp.WithEvent(spgEvent(err), fmt.Errorf("clicking subscribe link: %w", err))
	}
	log.Info("subscribe link clicked, waiting for status sms")
	return nil
}

// selfProvisioningGateway asks the voicemail gateway for the URL of the
// self-provisioning gateway.
func (s Subscriber) selfProvisioningGateway(ctx context.Context, client *http.Client, vmgURL string) (string, error) {
	tid, err := randomDigits(18)
	if err != nil {
		return "", err
	}
	body := fmt.Sprintf(vmgRequestFormat, tid, s.Env.AccountID, vmgOperationGetSPGURL, vmgDeviceModel)
	resp, err := s.post(ctx, metrics.GatewayVMG, client, vmgURL, "text/xml; charset=utf-8", strings.NewReader(body))
	if err != nil {
		return "", omtp.WithEvent(vmgEvent(err), fmt.Errorf("voicemail gateway request: %w", err))
	}
	if rtid, ok := extractText(resp, "transactionid"); !ok || rtid != tid {
		return "", omtp.Errorf(omtp.VVM3VMGConnectionFailed, "transaction id mismatch in voicemail gateway response")
	}
	spgURL, ok := extractText(resp, "spgurl")
	if !ok {
		return "", omtp.Errorf(omtp.VVM3VMGConnectionFailed, "no spgurl in voicemail gateway response")
	}
	return spgURL, nil
}

// subscribeLink requests the self-provisioning page and returns the absolute
// URL of its subscribe link.
func (s Subscriber) subscribeLink(ctx context.Context, client *http.Client, spgURL string) (string, error) {
	form := url.Values{}
	form.Set(spgParamMDN, s.Env.AccountID)
	form.Set(spgParamService, spgServiceBasic)
	form.Set(spgParamDeviceModel, spgDeviceModel)
	form.Set(spgParamAppToken, spgAppToken)
	form.Set(spgParamLanguage, spgLanguage)
	resp, err := s.post(ctx, metrics.GatewaySPG, client, spgURL, "application/x-www-form-urlencoded", strings.NewReader(form.Encode()))
	if err != nil {
		return "", omtp.WithEvent(spgEvent(err), fmt.Errorf("self provisioning gateway request: %w", err))
	}
	href, err := FindSubscribeLink(s.Patterns, resp)
	if err != nil {
		return "", omtp.WithEvent(omtp.VVM3SPGConnectionFailed, err)
	}
	base, err := url.Parse(spgURL)
	if err != nil {
		return "", omtp.Errorf(omtp.VVM3SPGConnectionFailed, "parsing spg url: %v", err)
	}
	ref, err := url.Parse(href)
	if err != nil {
		return "", omtp.Errorf(omtp.VVM3SPGConnectionFailed, "parsing subscribe link: %v", err)
	}
	return base.ResolveReference(ref).String(), nil
}

// post sends a POST request and returns the response body. Non-2xx responses
// are errors.
func (s Subscriber) post(ctx context.Context, gw metrics.Gateway, client *http.Client, u, contentType string, body io.Reader) (string, error) {
	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, "POST", u, body)
	if err != nil {
		return "", fmt.Errorf("http request: %w", err)
	}
	req.Header.Set("User-Agent", vvmvar.UserAgent)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := client.Do(req)
	if err != nil {
		metrics.GatewayObserve(ctx, gw, 0, err, start)
		return "", err
	}
	defer resp.Body.Close()
	metrics.GatewayObserve(ctx, gw, resp.StatusCode, nil, start)
	if resp.StatusCode/100 != 2 {
		return "", fmt.Errorf("http status %s", resp.Status)
	}
	buf, err := io.ReadAll(&vvmio.LimitReader{R: resp.Body, Limit: maxResponseSize})
	if err != nil {
		return "", fmt.Errorf("reading response: %w", err)
	}
	return string(buf), nil
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.Is(err, os.ErrDeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) || errors.As(err, &netErr) && netErr.Timeout()
}

func vmgEvent(err error) omtp.Event {
	switch {
	case dns.IsDNSError(err):
		return omtp.VVM3VMGDNSFailure
	case isTimeout(err):
		return omtp.VVM3VMGTimeout
	}
	return omtp.VVM3VMGConnectionFailed
}

func spgEvent(err error) omtp.Event {
	if dns.IsDNSError(err) {
		return omtp.VVM3SPGDNSFailure
	}
	return omtp.VVM3SPGConnectionFailed
}

// extractText returns the text between the first <tag> and the last </tag>.
func extractText(xml, tag string) (string, bool) {
	re := regexp.MustCompile("<" + regexp.QuoteMeta(tag) + ">(.*)</" + regexp.QuoteMeta(tag) + ">")
	m := re.FindStringSubmatch(xml)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// FindSubscribeLink returns the href of the first link in the HTML document
// whose text matches one of patterns, see config.CompileSPGLinkPattern. If
// none match, the error contains the text of all links.
func FindSubscribeLink(patterns []*regexp.Regexp, doc string) (string, error) {
	if len(patterns) == 0 {
		return "", errors.New("no subscribe link patterns")
	}
	root, err := html.Parse(strings.NewReader(doc))
	if err != nil {
		return "", fmt.Errorf("parsing self provisioning page: %w", err)
	}

	var fulltext strings.Builder
	var found string
	var walk func(n *html.Node) bool
	walk = func(n *html.Node) bool {
		if n.Type == html.ElementNode && n.DataAtom == atom.A {
			href, ok := attr(n, "href")
			if ok {
				text := nodeText(n)
				for _, re := range patterns {
					if re.MatchString(text) {
						found = href
						return true
					}
				}
				fulltext.WriteString(text)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if walk(c) {
				return true
			}
		}
		return false
	}
	if walk(root) {
		return found, nil
	}
	return "", fmt.Errorf("%w: %s", ErrSubscribeLinkNotFound, fulltext.String())
}

func attr(n *html.Node, key string) (string, bool) {
	for _, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			return a.Val, true
		}
	}
	return "", false
}

// nodeText returns the visible text of n, with whitespace collapsed as a
// browser renders it.
func nodeText(n *html.Node) string {
	var b strings.Builder
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
			b.WriteString(" ")
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.Join(strings.Fields(b.String()), " ")
}
