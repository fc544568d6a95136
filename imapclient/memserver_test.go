package imapclient

import (
	"bytes"
	"context"
	"net"
	"strings"
	"testing"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapserver"
	"github.com/emersion/go-imap/v2/imapserver/imapmemserver"
)

type memServerLogger struct {
	t *testing.T
}

func (l memServerLogger) Printf(format string, args ...any) {
	l.t.Logf(format, args...)
}

const memVoicemail = "Date: Wed, 17 Jul 2024 02:44:25 -0700\r\n" +
	"From: 5551234@vvm.example.com\r\n" +
	"To: 5550000@vvm.example.com\r\n" +
	"Subject: voice mail\r\n" +
	"Content-Duration: 7\r\n" +
	"MIME-Version: 1.0\r\n" +
	"Content-Type: multipart/mixed; boundary=\"b\"\r\n" +
	"\r\n" +
	"--b\r\n" +
	"Content-Type: text/plain; charset=utf-8\r\n" +
	"\r\n" +
	"You have a new voice mail.\r\n" +
	"--b\r\n" +
	"Content-Type: audio/amr\r\n" +
	"Content-Transfer-Encoding: base64\r\n" +
	"Content-Disposition: attachment; filename=\"vm.amr\"\r\n" +
	"\r\n" +
	"IyFBTVIKAQID\r\n" +
	"--b--\r\n"

// startMemServer runs an in-memory IMAP server with one voicemail in INBOX.
func startMemServer(t *testing.T) (host string, port int) {
	user := imapmemserver.NewUser("user", "pass")
	if err := user.Create("INBOX", nil); err != nil {
		t.Fatalf("create inbox: %v", err)
	}
	if _, err := user.Append("INBOX", bytes.NewReader([]byte(memVoicemail)), &imap.AppendOptions{}); err != nil {
		t.Fatalf("append: %v", err)
	}

	msrv := imapmemserver.New()
	msrv.AddUser(user)
	isrv := imapserver.New(&imapserver.Options{
		NewSession: func(*imapserver.Conn) (imapserver.Session, *imapserver.GreetingData, error) {
			return msrv.NewSession(), nil, nil
		},
		Logger:       memServerLogger{t},
		InsecureAuth: true,
	})

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	tcheckf(t, err, "listen")
	go isrv.Serve(ln)
	t.Cleanup(func() { isrv.Close() })

	addr := ln.Addr().(*net.TCPAddr)
	return addr.IP.String(), addr.Port
}

func TestMemServer(t *testing.T) {
	host, port := startMemServer(t)
	store := NewStore(Opts{
		Host:     host,
		Port:     port,
		Username: "user",
		Password: "pass",
		Dialer:   &net.Dialer{},
		Variant:  "test",
	})
	c := store.Conn()
	defer c.Close()
	ctx := context.Background()

	caps, err := c.Open(ctx)
	tcheckf(t, err, "open")
	tcompare(t, caps.Has("IMAP4rev1"), true)

	f := c.Folder("INBOX")
	err = f.Open(ctx, ModeReadWrite)
	tcheckf(t, err, "open inbox")
	tcompare(t, f.MessageCount(), int64(1))

	msgs, err := f.Messages(ctx)
	tcheckf(t, err, "messages")
	tcompare(t, len(msgs), 1)
	m := msgs[0]

	err = f.Fetch(ctx, msgs, FetchProfile{Items: FetchFlags | FetchEnvelope | FetchStructure}, nil)
	tcheckf(t, err, "fetch")
	tcompare(t, m.HasFlag(FlagSeen), false)
	tcompare(t, m.From(), "5551234@vvm.example.com")
	dur, ok := m.Duration()
	tcompare(t, ok, true)
	tcompare(t, dur, int64(7))
	if m.Structure == nil {
		t.Fatalf("missing body structure")
	}
	tcompare(t, m.Structure.MimeType, "multipart/mixed")
	audio := m.Structure.FirstOfType("audio/")
	if audio == nil {
		t.Fatalf("no audio part in %#v", m.Structure)
	}
	tcompare(t, audio.ID, "2")
	tcompare(t, strings.ToLower(audio.Encoding), "base64")
	tcompare(t, audio.Disposition, "attachment")

	err = f.Fetch(ctx, msgs, FetchProfile{Part: audio}, nil)
	tcheckf(t, err, "fetch audio")
	tcompare(t, m.PartData, []byte("#!AMR\n\x01\x02\x03"))

	err = f.SetFlags(ctx, msgs, []string{FlagSeen}, true)
	tcheckf(t, err, "set seen")
	m.Flags = nil
	err = f.Fetch(ctx, msgs, FetchProfile{Items: FetchFlags}, nil)
	tcheckf(t, err, "fetch flags")
	tcompare(t, m.HasFlag(FlagSeen), true)

	err = f.SetFlags(ctx, msgs, []string{FlagDeleted}, true)
	tcheckf(t, err, "set deleted")
	f.Close(ctx, true)

	f = c.Folder("INBOX")
	err = f.Open(ctx, ModeReadOnly)
	tcheckf(t, err, "examine inbox")
	tcompare(t, f.MessageCount(), int64(0))
	f.Close(ctx, false)
}
