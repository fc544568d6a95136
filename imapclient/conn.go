/*
Package imapclient is a client for the constrained IMAP dialect of visual
voicemail servers.

Responses are parsed into a generic tree of Elements (lists and strings) by a
Parser, interpretation is done by the commands in Conn and Folder. Large
literals, e.g. voicemail audio, are stored in temporary files. Callers must
Destroy responses when done, typically with a defer.

Errors that determine the state of the data channel carry an omtp.Event, see
omtp.EventOf.
*/
package imapclient

import (
	"bufio"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/base64"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/mjl-/vvm/dns"
	"github.com/mjl-/vvm/metrics"
	"github.com/mjl-/vvm/mlog"
	"github.com/mjl-/vvm/network"
	"github.com/mjl-/vvm/omtp"
	"github.com/mjl-/vvm/sasl"
	"github.com/mjl-/vvm/vvmio"
)

var xlog = mlog.New("imapclient")

// TagCounter hands out command tags. It is shared by all connections of a Store.
type TagCounter struct {
	n atomic.Uint64
}

// Next returns the next tag, a decimal number.
func (t *TagCounter) Next() string {
	return strconv.FormatUint(t.n.Add(1), 10)
}

// TLSMode indicates how TLS is used for a connection.
type TLSMode int

const (
	TLSNone     TLSMode = iota // Plain text, STARTTLS is not attempted.
	TLSStartTLS                // STARTTLS if the server announces it.
	TLSImplicit                // TLS from the start, "SSL port".
)

// Dialer makes the network connection, typically a *network.Handle.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// Opts are the connection parameters.
type Opts struct {
	Host     string
	Port     int
	Username string
	Password string
	TLS      TLSMode

	// For TLS, with ServerName set to Host if empty.
	TLSConfig *tls.Config

	// Capabilities to ignore, e.g. "AUTH=DIGEST-MD5" for servers with broken
	// implementations.
	DisabledCapabilities []string

	LiteralThreshold int64  // 0 means DefaultLiteralThreshold.
	TempDir          string // For large literals.

	// Required. Connections are only made through an explicitly acquired network.
	Dialer Dialer

	// Protocol variant, for metrics labels.
	Variant string
}

// Store holds connection parameters and makes connections.
type Store struct {
	Opts Opts
	tags TagCounter
}

// NewStore returns a store for connections with opts.
func NewStore(opts Opts) *Store {
	return &Store{Opts: opts}
}

// Conn returns a new connection, not yet opened.
func (s *Store) Conn() *Conn {
	return &Conn{opts: s.Opts, tags: &s.tags, log: xlog.Fields(mlog.Field("host", s.Opts.Host))}
}

// Conn is a connection to an IMAP server. A Conn executes one command at a time.
type Conn struct {
	opts Opts
	tags *TagCounter
	log  *mlog.Log

	conn   net.Conn
	tr     *vvmio.TraceReader
	tw     *vvmio.TraceWriter
	br     *bufio.Reader
	bw     *bufio.Writer
	parser *Parser
	caps   Capabilities
}

// IsOpen returns whether the connection is established and authenticated.
func (c *Conn) IsOpen() bool {
	return c.conn != nil
}

// Capabilities returns the capabilities after authentication.
func (c *Conn) Capabilities() Capabilities {
	return c.caps
}

func (c *Conn) setConn(conn net.Conn) {
	c.conn = conn
	if c.tr == nil {
		c.tr = vvmio.NewTraceReader(c.log, "S: ", conn)
		c.tw = vvmio.NewTraceWriter(c.log, "C: ", conn)
	} else {
		c.tr.SetReader(conn)
		c.tw = vvmio.NewTraceWriter(c.log, "C: ", conn)
	}
	c.br = bufio.NewReader(c.tr)
	c.bw = bufio.NewWriter(c.tw)
	c.parser = NewParser(c.br, c.tr, c.log)
	if c.opts.LiteralThreshold != 0 {
		c.parser.LiteralThreshold = c.opts.LiteralThreshold
	}
	c.parser.TempDir = c.opts.TempDir
}

// watch closes the connection when ctx is canceled, aborting reads and writes in
// progress. The returned function must be called when the operation is done.
func (c *Conn) watch(ctx context.Context) func() {
	conn := c.conn
	stop := context.AfterFunc(ctx, func() {
		conn.Close()
	})
	return func() { stop() }
}

func (c *Conn) tlsConfig() *tls.Config {
	var config *tls.Config
	if c.opts.TLSConfig != nil {
		config = c.opts.TLSConfig.Clone()
	} else {
		config = &tls.Config{}
	}
	if config.ServerName == "" {
		config.ServerName = c.opts.Host
	}
	return config
}

// Open connects, reads the greeting, does STARTTLS if configured and
// announced, and authenticates. Calling Open on an open connection returns its
// capabilities.
//
// Errors carry an event for the data channel.
func (c *Conn) Open(ctx context.Context) (caps Capabilities, rerr error) {
	if c.conn != nil {
		return c.caps, nil
	}
	if c.opts.Dialer == nil {
		return Capabilities{}, omtp.Errorf(omtp.DataNoConnection, "no network")
	}
	log := c.log.WithContext(ctx)

	defer func() {
		if rerr != nil {
			c.closeConn()
			if _, ok := omtp.EventOf(rerr); !ok {
				rerr = omtp.WithEvent(openErrorEvent(rerr), rerr)
			}
			log.Debugx("open failed", rerr)
		}
	}()

	addr := net.JoinHostPort(c.opts.Host, strconv.Itoa(c.opts.Port))
	conn, err := c.opts.Dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return Capabilities{}, fmt.Errorf("dial: %w", err)
	}
	if c.opts.TLS == TLSImplicit {
		tlsconn := tls.Client(conn, c.tlsConfig())
		if err := tlsconn.HandshakeContext(ctx); err != nil {
			conn.Close()
			return Capabilities{}, fmt.Errorf("tls handshake: %w", err)
		}
		conn = tlsconn
	}
	c.setConn(conn)
	defer c.watch(ctx)()

	greeting, err := c.parser.ReadResponse(false)
	if err != nil {
		if IsProtocolError(err) || errors.Is(err, ErrBye) {
			err = omtp.WithEvent(omtp.DataInvalidInitialServerResponse, err)
		}
		return Capabilities{}, fmt.Errorf("reading greeting: %w", err)
	}
	defer greeting.Destroy()
	if !greeting.IsOK() {
		return Capabilities{}, omtp.Errorf(omtp.DataInvalidInitialServerResponse, "invalid initial server response %q", greeting.String())
	}

	caps, err = c.capability()
	if err != nil {
		return Capabilities{}, err
	}
	if c.opts.TLS == TLSStartTLS && caps.Has(CapStartTLS) {
		if err := c.starttls(ctx); err != nil {
			return Capabilities{}, err
		}
		caps, err = c.capability()
		if err != nil {
			return Capabilities{}, err
		}
	}
	log.Debug("capabilities", mlog.Field("capabilities", caps.List()))

	if err := c.authenticate(caps); err != nil {
		return Capabilities{}, err
	}
	c.caps = caps
	log.Debug("connection open")
	return caps, nil
}

// openErrorEvent classifies an error of Open without event.
func openErrorEvent(err error) omtp.Event {
	var cerr *network.ConnectError
	var herr x509.HostnameError
	var verr *tls.CertificateVerificationError
	var aerr tls.AlertError
	var rerr tls.RecordHeaderError
	switch {
	case errors.Is(err, network.ErrNoNetwork), errors.Is(err, network.ErrReleased):
		return omtp.DataNoConnection
	case dns.IsDNSError(err):
		return omtp.DataCannotResolveHostOnNetwork
	case errors.As(err, &cerr):
		return omtp.DataAllSocketConnectionFailed
	case errors.As(err, &herr):
		return omtp.DataSSLInvalidHostName
	case errors.As(err, &verr):
		return omtp.DataSSLException
	case errors.As(err, &aerr), errors.As(err, &rerr):
		return omtp.DataCannotEstablishSSLSession
	}
	return omtp.DataIOEOnOpen
}

func (c *Conn) capability() (Capabilities, error) {
	resps, err := c.ExecuteSimpleCommand(context.Background(), "CAPABILITY", false)
	if err != nil {
		return Capabilities{}, err
	}
	defer resps.Destroy()
	var l []string
	for _, r := range resps {
		if !r.IsDataResponse(0, "CAPABILITY") {
			continue
		}
		for i := 1; i < len(r.List); i++ {
			l = append(l, r.StringAt(i).Text())
		}
	}
	return newCapabilities(l, c.opts.DisabledCapabilities), nil
}

func (c *Conn) starttls(ctx context.Context) error {
	resps, err := c.ExecuteSimpleCommand(ctx, "STARTTLS", false)
	if err != nil {
		return err
	}
	resps.Destroy()

	// Data buffered after the OK would have come from before the TLS handshake,
	// a server sending it is broken or an attacker is injecting. Pass it to TLS,
	// which will fail.
	conn := c.conn
	if n := c.br.Buffered(); n > 0 {
		buf := make([]byte, n)
		_, _ = c.br.Read(buf)
		conn = &vvmio.PrefixConn{PrefixReader: strings.NewReader(string(buf)), Conn: conn}
	}
	tlsconn := tls.Client(conn, c.tlsConfig())
	if err := tlsconn.HandshakeContext(ctx); err != nil {
		return fmt.Errorf("starttls handshake: %w", err)
	}
	c.setConn(tlsconn)
	c.log.Debug("starttls done")
	return nil
}

// authenticate logs in with DIGEST-MD5 if available, LOGIN otherwise.
func (c *Conn) authenticate(caps Capabilities) (rerr error) {
	kind := "login"
	if caps.Has(CapAuthDigestMD5) {
		kind = "digest-md5"
	}
	defer func() {
		result := "ok"
		if rerr != nil {
			result = "error"
			if ev, ok := omtp.EventOf(rerr); ok {
				result = strings.ToLower(ev.String())
			}
		}
		metrics.AuthenticationInc(kind, c.opts.Variant, result)
	}()

	var err error
	if kind == "digest-md5" {
		err = c.authenticateSASL(sasl.NewClientDigestMD5(c.opts.Username, c.opts.Password, c.opts.Host))
	} else {
		// TODO: The password is quoted but not escaped, so a password with a double
		// quote or backslash results in a malformed command. Send as literal instead.
		var resps Responses
		resps, err = c.ExecuteSimpleCommand(context.Background(), fmt.Sprintf(`LOGIN %s "%s"`, c.opts.Username, c.opts.Password), true)
		resps.Destroy()
	}
	if err == nil {
		return nil
	}
	var perr *ProtocolError
	if !errors.As(err, &perr) || perr.Status == "" {
		return err
	}
	if perr.Status != StatusNO {
		return omtp.WithEvent(omtp.DataRejectedServerResponse, err)
	}
	return omtp.WithEvent(loginFailureEvent(perr.Message), err)
}

var loginFailures = map[string]omtp.Event{
	"unknown user":               omtp.DataAuthUnknownUser,
	"unknown client":             omtp.DataAuthUnknownDevice,
	"invalid password":           omtp.DataAuthInvalidPassword,
	"mailbox not initialized":    omtp.DataAuthMailboxNotInitialized,
	"service is not provisioned": omtp.DataAuthServiceNotProvisioned,
	"service is not activated":   omtp.DataAuthServiceNotActivated,
	"user is blocked":            omtp.DataAuthUserIsBlocked,
	"application error":          omtp.DataRejectedServerResponse,
}

// loginFailureEvent returns the event for the text of a NO response to LOGIN or
// AUTHENTICATE.
func loginFailureEvent(text string) omtp.Event {
	if ev, ok := loginFailures[strings.ToLower(strings.TrimSpace(text))]; ok {
		return ev
	}
	return omtp.DataBadIMAPCredential
}

func (c *Conn) authenticateSASL(client sasl.Client) error {
	name, cleartext := client.Info()
	toServer, last, err := client.Next(nil)
	if err != nil {
		return fmt.Errorf("sasl initial response: %w", err)
	}
	cmd := "AUTHENTICATE " + name
	if toServer != nil {
		cmd += " " + base64.StdEncoding.EncodeToString(toServer)
	}
	resps, err := c.ExecuteSimpleCommand(context.Background(), cmd, cleartext)
	for err == nil {
		r := resps.Last()
		if !r.Continuation {
			resps.Destroy()
			if !last {
				return fmt.Errorf("authentication completed before sasl exchange ended")
			}
			return nil
		}
		raw := r.String()
		fromServer, derr := base64.StdEncoding.DecodeString(r.ContinuationText())
		resps.Destroy()
		if derr != nil {
			return &ProtocolError{Raw: raw, Message: fmt.Sprintf("bad base64 in sasl challenge: %v", derr)}
		}
		toServer, last, err = client.Next(fromServer)
		if err != nil {
			// Abort the exchange, the server responds with BAD.
			xresps, _ := c.ExecuteContinuation(context.Background(), "*", false)
			xresps.Destroy()
			return fmt.Errorf("sasl step: %w", err)
		}
		resps, err = c.ExecuteContinuation(context.Background(), base64.StdEncoding.EncodeToString(toServer), true)
	}
	return err
}

// Responses are the responses to a command, the last is the tagged response
// or a continuation request.
type Responses []*Response

// Destroy destroys all responses.
func (l Responses) Destroy() {
	for _, r := range l {
		r.Destroy()
	}
}

// Last returns the tagged response or continuation request.
func (l Responses) Last() *Response {
	if len(l) == 0 {
		return &Response{}
	}
	return l[len(l)-1]
}

// Untagged returns the untagged responses.
func (l Responses) Untagged() Responses {
	if len(l) == 0 {
		return nil
	}
	return l[:len(l)-1]
}

// writeLine writes a line and flushes. Sensitive lines are traced at level
// traceauth.
func (c *Conn) writeLine(line, logText string, sensitive bool) error {
	if sensitive {
		c.tw.SetTrace(mlog.LevelTraceauth)
		defer c.tw.SetTrace(mlog.LevelTrace)
	}
	c.log.Debug("write", mlog.Field("line", logText))
	if _, err := c.bw.WriteString(line + "\r\n"); err != nil {
		return err
	}
	return c.bw.Flush()
}

// ExecuteSimpleCommand writes a tagged command line and reads the responses
// until the tagged response, or for AUTHENTICATE until a continuation request.
// A continuation request for other commands is a protocol error. A tagged response other
// than OK results in a *ProtocolError with Status set. I/O errors, malformed
// responses and BYE close the connection.
//
// The responses must be destroyed by the caller.
func (c *Conn) ExecuteSimpleCommand(ctx context.Context, cmd string, sensitive bool) (Responses, error) {
	if c.conn == nil {
		return nil, ErrClosed
	}
	defer c.watch(ctx)()

	start := time.Now()
	tag := c.tags.Next()
	logText := cmd
	if sensitive {
		logText = "[IMAP command redacted]"
	}
	if err := c.writeLine(tag+" "+cmd, logText, sensitive); err != nil {
		c.closeConn()
		return nil, fmt.Errorf("writing command: %w", err)
	}
	resps, err := c.readResponses(tag, strings.HasPrefix(cmd, "AUTHENTICATE "))
	observeCommand(cmd, err, start)
	return resps, err
}

// ExecuteContinuation sends a line in response to a continuation request and
// reads responses like ExecuteSimpleCommand.
func (c *Conn) ExecuteContinuation(ctx context.Context, line string, sensitive bool) (Responses, error) {
	if c.conn == nil {
		return nil, ErrClosed
	}
	defer c.watch(ctx)()

	logText := line
	if sensitive {
		logText = "[IMAP command redacted]"
	}
	if err := c.writeLine(line, logText, sensitive); err != nil {
		c.closeConn()
		return nil, fmt.Errorf("writing continuation: %w", err)
	}
	return c.readResponses("", true)
}

// ExecuteStream is like ExecuteSimpleCommand, but calls fn for each untagged
// response as soon as it is read, and destroys it afterwards. An error from fn
// is returned after the tagged response has been read.
func (c *Conn) ExecuteStream(ctx context.Context, cmd string, fn func(r *Response) error) error {
	if c.conn == nil {
		return ErrClosed
	}
	defer c.watch(ctx)()

	start := time.Now()
	tag := c.tags.Next()
	if err := c.writeLine(tag+" "+cmd, cmd, false); err != nil {
		c.closeConn()
		return fmt.Errorf("writing command: %w", err)
	}
	var fnErr error
	for {
		r, err := c.parser.ReadResponse(false)
		if err != nil {
			c.fail(err)
			observeCommand(cmd, err, start)
			return err
		}
		if r.Continuation {
			raw := r.String()
			r.Destroy()
			err := &ProtocolError{Raw: raw, Message: "unexpected continuation request"}
			c.closeConn()
			observeCommand(cmd, err, start)
			return err
		}
		if !r.IsTagged() {
			if fnErr == nil {
				fnErr = fn(r)
			}
			r.Destroy()
			continue
		}
		err = c.checkTagged(r, tag)
		r.Destroy()
		observeCommand(cmd, err, start)
		if err != nil {
			return err
		}
		return fnErr
	}
}

func (c *Conn) readResponses(tag string, continuation bool) (Responses, error) {
	var l Responses
	for {
		r, err := c.parser.ReadResponse(false)
		if err != nil {
			l.Destroy()
			c.fail(err)
			return nil, err
		}
		l = append(l, r)
		if r.Continuation && !continuation {
			raw := r.String()
			l.Destroy()
			c.closeConn()
			return nil, &ProtocolError{Raw: raw, Message: "unexpected continuation request"}
		} else if r.Continuation {
			return l, nil
		}
		if r.IsTagged() {
			if err := c.checkTagged(r, tag); err != nil {
				l.Destroy()
				return nil, err
			}
			return l, nil
		}
	}
}

// checkTagged returns an error for a tagged response that is not OK. A response
// for another tag means requests and responses are no longer paired, the
// connection is closed.
func (c *Conn) checkTagged(r *Response, tag string) error {
	if tag != "" && r.Tag != tag {
		c.closeConn()
		return &ProtocolError{Raw: r.String(), Message: fmt.Sprintf("response for tag %q, expected %q", r.Tag, tag)}
	}
	if !r.IsOK() {
		return responseError(r)
	}
	return nil
}

// fail closes the connection after an error reading a response. After an I/O
// error, a BYE, or a malformed response, the position in the stream is unknown
// and the connection cannot be used for further commands. Only NO and BAD
// results leave the connection open.
func (c *Conn) fail(err error) {
	if !IsStatusError(err) {
		c.closeConn()
	}
}

func observeCommand(cmd string, err error, start time.Time) {
	name, _, _ := strings.Cut(cmd, " ")
	if strings.EqualFold(name, "UID") {
		name, _, _ = strings.Cut(strings.TrimSpace(cmd[len("UID"):]), " ")
		name = "UID " + name
	}
	result := "ok"
	var perr *ProtocolError
	switch {
	case err == nil:
	case errors.As(err, &perr) && perr.Status != "":
		result = strings.ToLower(perr.Status)
	case errors.As(err, &perr):
		result = "protocolerror"
	default:
		result = "ioerror"
	}
	metrics.IMAPCommandObserve(strings.ToUpper(name), result, start)
}

func (c *Conn) closeConn() {
	if c.conn == nil {
		return
	}
	err := c.conn.Close()
	if err != nil && !vvmio.IsClosed(err) {
		c.log.Errorx("closing connection", err)
	}
	c.conn = nil
	c.caps = Capabilities{}
}

// Close sends LOGOUT and closes the connection. The connection can be opened
// again.
func (c *Conn) Close() {
	if c.conn == nil {
		return
	}
	c.logout()
	c.closeConn()
}

func (c *Conn) logout() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	defer c.watch(ctx)()

	tag := c.tags.Next()
	if err := c.writeLine(tag+" LOGOUT", "LOGOUT", false); err != nil {
		c.log.Debugx("writing logout", err)
		return
	}
	r, err := c.parser.ReadResponse(true)
	if err != nil {
		c.log.Debugx("reading logout response", err)
		return
	}
	if r.Status() != StatusBYE {
		c.log.Error("server did not respond to logout with bye", mlog.Field("response", r.String()))
	}
	r.Destroy()
	r, err = c.parser.ReadResponse(false)
	if err != nil {
		c.log.Debugx("reading logout result", err)
		return
	}
	if !r.IsOK() {
		c.log.Error("server did not respond ok after logout", mlog.Field("response", r.String()))
	}
	r.Destroy()
}
