package imapclient

import (
	"bufio"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/mjl-/vvm/omtp"
	"github.com/mjl-/vvm/sasl"
)

// fakeServer is the server side of a net.Pipe, driven by a test script.
type fakeServer struct {
	t    *testing.T
	conn net.Conn
	br   *bufio.Reader
}

func (s *fakeServer) writeRaw(data string) {
	if _, err := s.conn.Write([]byte(data)); err != nil {
		panic(fmt.Errorf("server write: %w", err))
	}
}

func (s *fakeServer) send(lines ...string) {
	for _, l := range lines {
		s.writeRaw(l + "\r\n")
	}
}

func (s *fakeServer) readline() string {
	line, err := s.br.ReadString('\n')
	if err != nil {
		panic(fmt.Errorf("server read: %w", err))
	}
	return strings.TrimSuffix(line, "\r\n")
}

// expect reads a command line and checks it against cmd, returning the tag.
func (s *fakeServer) expect(cmd string) string {
	line := s.readline()
	tag, rest, _ := strings.Cut(line, " ")
	if rest != cmd {
		panic(fmt.Errorf("server got command %q, expected %q", rest, cmd))
	}
	return tag
}

// login handles the usual capability and login exchange.
func (s *fakeServer) login(caps string) {
	s.send("* OK IMAP4rev1 ready")
	tag := s.expect("CAPABILITY")
	s.send("* CAPABILITY "+caps, tag+" OK done")
	tag = s.expect(`LOGIN user "pass"`)
	s.send(tag + " OK logged in")
}

func (s *fakeServer) logout() {
	tag := s.expect("LOGOUT")
	s.send("* BYE bye", tag+" OK done")
}

// pipeDialer starts serve on the server side of a pipe for each dial.
type pipeDialer struct {
	t     *testing.T
	serve func(s *fakeServer)
	done  chan struct{}
}

func newPipeDialer(t *testing.T, serve func(s *fakeServer)) *pipeDialer {
	return &pipeDialer{t, serve, make(chan struct{})}
}

func (d *pipeDialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	client, server := net.Pipe()
	go func() {
		defer close(d.done)
		defer server.Close()
		defer func() {
			x := recover()
			if x != nil {
				if err, ok := x.(error); ok && errors.Is(err, errServerDone) {
					return
				}
				d.t.Errorf("fake server: %v", x)
			}
		}()
		d.serve(&fakeServer{d.t, server, bufio.NewReader(server)})
	}()
	return client, nil
}

var errServerDone = errors.New("server done")

func (d *pipeDialer) wait() {
	select {
	case <-d.done:
	case <-time.After(5 * time.Second):
		d.t.Fatalf("fake server did not finish")
	}
}

func testStore(d Dialer) *Store {
	return NewStore(Opts{
		Host:     "vvm.example.com",
		Port:     143,
		Username: "user",
		Password: "pass",
		Dialer:   d,
		Variant:  "test",
	})
}

func TestOpenLogin(t *testing.T) {
	d := newPipeDialer(t, func(s *fakeServer) {
		s.login("IMAP4rev1 STARTTLS AUTH=PLAIN QUOTA")
		s.logout()
	})
	store := testStore(d)
	store.Opts.DisabledCapabilities = []string{"quota"}
	c := store.Conn()
	caps, err := c.Open(context.Background())
	tcheckf(t, err, "open")
	tcompare(t, caps.List(), []string{"AUTH=PLAIN", "IMAP4REV1", "STARTTLS"})
	tcompare(t, caps.Has("starttls"), true)
	tcompare(t, caps.Has("QUOTA"), false)
	tcompare(t, c.IsOpen(), true)

	// Open is idempotent.
	caps2, err := c.Open(context.Background())
	tcheckf(t, err, "open again")
	tcompare(t, caps2.List(), caps.List())

	c.Close()
	tcompare(t, c.IsOpen(), false)
	d.wait()
}

// Tags are decimal, increase per command, and are shared by the conns of a store.
func TestTags(t *testing.T) {
	var tags []string
	d := newPipeDialer(t, func(s *fakeServer) {
		s.send("* OK ready")
		for _, cmd := range []string{"CAPABILITY", `LOGIN user "pass"`, "NOOP", "LOGOUT"} {
			line := s.readline()
			tag, rest, _ := strings.Cut(line, " ")
			if rest != cmd {
				panic(fmt.Errorf("got %q, expected %q", rest, cmd))
			}
			tags = append(tags, tag)
			if cmd == "LOGOUT" {
				s.send("* BYE bye")
			}
			s.send(tag + " OK done")
		}
	})
	store := testStore(d)
	store.tags.n.Store(41)
	c := store.Conn()
	_, err := c.Open(context.Background())
	tcheckf(t, err, "open")
	resps, err := c.ExecuteSimpleCommand(context.Background(), "NOOP", false)
	tcheckf(t, err, "noop")
	resps.Destroy()
	c.Close()
	d.wait()
	tcompare(t, tags, []string{"42", "43", "44", "45"})

	// A response with another tag is an error.
	d = newPipeDialer(t, func(s *fakeServer) {
		s.send("* OK ready")
		s.expect("CAPABILITY")
		s.send("* CAPABILITY IMAP4rev1", "x1 OK done")
		s.br.ReadString('\n')
	})
	c = testStore(d).Conn()
	_, err = c.Open(context.Background())
	if !IsProtocolError(err) {
		t.Fatalf("got err %v, expected protocol error for mismatched tag", err)
	}
	d.wait()
}

func TestLoginFailures(t *testing.T) {
	tests := []struct {
		response string
		event    omtp.Event
	}{
		{"NO invalid password", omtp.DataAuthInvalidPassword},
		{"NO unknown user", omtp.DataAuthUnknownUser},
		{"NO unknown client", omtp.DataAuthUnknownDevice},
		{"NO mailbox not initialized", omtp.DataAuthMailboxNotInitialized},
		{"NO service is not provisioned", omtp.DataAuthServiceNotProvisioned},
		{"NO service is not activated", omtp.DataAuthServiceNotActivated},
		{"NO user is blocked", omtp.DataAuthUserIsBlocked},
		{"NO application error", omtp.DataRejectedServerResponse},
		{"NO [AUTHENTICATIONFAILED] no", omtp.DataBadIMAPCredential},
		{"BAD syntax error", omtp.DataRejectedServerResponse},
	}
	for _, tc := range tests {
		d := newPipeDialer(t, func(s *fakeServer) {
			s.send("* OK ready")
			tag := s.expect("CAPABILITY")
			s.send("* CAPABILITY IMAP4rev1", tag+" OK done")
			tag = s.expect(`LOGIN user "pass"`)
			s.send(tag + " " + tc.response)
		})
		c := testStore(d).Conn()
		_, err := c.Open(context.Background())
		ev, ok := omtp.EventOf(err)
		if !ok || ev != tc.event {
			t.Fatalf("%q: got err %v, expected event %s", tc.response, err, tc.event)
		}
		tcompare(t, c.IsOpen(), false)
		d.wait()
	}
}

func TestInvalidGreeting(t *testing.T) {
	for _, greeting := range []string{"* NO not now", "* BYE go away", "* PREAUTH hi", "garbage"} {
		d := newPipeDialer(t, func(s *fakeServer) {
			s.send(greeting)
		})
		c := testStore(d).Conn()
		_, err := c.Open(context.Background())
		ev, _ := omtp.EventOf(err)
		tcompare(t, ev, omtp.DataInvalidInitialServerResponse)
		d.wait()
	}
}

type failDialer struct{ err error }

func (d failDialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	return nil, d.err
}

func TestOpenDialErrors(t *testing.T) {
	c := testStore(failDialer{&net.DNSError{Err: "no such host", Name: "vvm.example.com", IsNotFound: true}}).Conn()
	_, err := c.Open(context.Background())
	ev, _ := omtp.EventOf(err)
	tcompare(t, ev, omtp.DataCannotResolveHostOnNetwork)

	c = testStore(failDialer{errors.New("connection refused")}).Conn()
	_, err = c.Open(context.Background())
	ev, _ = omtp.EventOf(err)
	tcompare(t, ev, omtp.DataIOEOnOpen)

	c = NewStore(Opts{Host: "vvm.example.com"}).Conn()
	_, err = c.Open(context.Background())
	ev, _ = omtp.EventOf(err)
	tcompare(t, ev, omtp.DataNoConnection)
}

func TestDigestMD5Login(t *testing.T) {
	challenge := `realm="elwood.innosoft.com",nonce="OA6MG9tEQGm2hh",qop="auth",algorithm=md5-sess,charset=utf-8`
	for _, goodServer := range []bool{true, false} {
		d := newPipeDialer(t, func(s *fakeServer) {
			s.send("* OK ready")
			tag := s.expect("CAPABILITY")
			s.send("* CAPABILITY IMAP4rev1 AUTH=DIGEST-MD5", tag+" OK done")
			tag = s.expect("AUTHENTICATE DIGEST-MD5")
			s.send("+ " + base64.StdEncoding.EncodeToString([]byte(challenge)))

			buf, err := base64.StdEncoding.DecodeString(s.readline())
			if err != nil {
				panic(err)
			}
			m, err := sasl.ParseChallenge(string(buf))
			if err != nil {
				panic(err)
			}
			dd := sasl.DigestData{
				Username:  m["username"],
				Password:  "secret",
				Realm:     m["realm"],
				Nonce:     m["nonce"],
				Cnonce:    m["cnonce"],
				NC:        m["nc"],
				QOP:       m["qop"],
				DigestURI: m["digest-uri"],
			}
			if m["username"] != "chris" || m["digest-uri"] != "imap/elwood.innosoft.com" || m["response"] != dd.Response() {
				panic(fmt.Errorf("bad client response %q", buf))
			}
			rspauth := dd.ResponseAuth()
			if !goodServer {
				rspauth = strings.Repeat("0", len(rspauth))
			}
			s.send("+ " + base64.StdEncoding.EncodeToString([]byte("rspauth="+rspauth)))

			line := s.readline()
			if !goodServer {
				if line != "*" {
					panic(fmt.Errorf("got %q, expected abort", line))
				}
				s.send(tag + " BAD aborted")
				return
			}
			if line != "" {
				panic(fmt.Errorf("got %q, expected empty line", line))
			}
			s.send(tag + " OK logged in")
			s.logout()
		})
		store := NewStore(Opts{Host: "elwood.innosoft.com", Port: 143, Username: "chris", Password: "secret", Dialer: d})
		c := store.Conn()
		_, err := c.Open(context.Background())
		if goodServer {
			tcheckf(t, err, "open with digest-md5")
			c.Close()
		} else if err == nil || !errors.Is(err, sasl.ErrResponseAuth) {
			t.Fatalf("got err %v, expected response auth error", err)
		}
		d.wait()
	}
}

func TestCancel(t *testing.T) {
	d := newPipeDialer(t, func(s *fakeServer) {
		s.send("* OK ready")
		s.expect("CAPABILITY")
		// Never respond. The read fails when the client closes.
		s.br.ReadString('\n')
		panic(errServerDone)
	})
	c := testStore(d).Conn()
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err := c.Open(ctx)
	ev, _ := omtp.EventOf(err)
	tcompare(t, ev, omtp.DataIOEOnOpen)
	tcompare(t, c.IsOpen(), false)
	d.wait()
}
