package main

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/mjl-/vvm/mlog"
	"github.com/mjl-/vvm/omtp"
)

func TestLineSender(t *testing.T) {
	var buf bytes.Buffer
	s := &lineSender{w: &buf}
	err := s.SendSMS(context.Background(), "122", 5499, "STATUS")
	if err != nil {
		t.Fatalf("send sms: %v", err)
	}
	if got, want := buf.String(), "sms 122 5499 STATUS\n"; got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestReadInbox(t *testing.T) {
	const input = `//VVM:SYNC:ev=NM;id=3446456;c=1;t=v;s=01986543210;dt=02/08/2008 12:53 +0200;l=30

hello, not for us
//VVM:STATUS:st=R;rc=0;srv=vvm.example.com;ipt=143;u=5550000;pw=secret
`
	inbox := readInbox(mlog.New("maintest"), strings.NewReader(input), "//VVM")

	var l []omtp.Message
	for m := range inbox {
		l = append(l, m)
	}
	if len(l) != 2 {
		t.Fatalf("got %d messages, expected 2: %#v", len(l), l)
	}
	if !l[0].IsSync() || l[0].Fields["ev"] != "NM" {
		t.Fatalf("first message not a sync for a new message: %#v", l[0])
	}
	if !l[1].IsStatus() || l[1].Fields["srv"] != "vvm.example.com" {
		t.Fatalf("second message not a status: %#v", l[1])
	}
}

func TestCommands(t *testing.T) {
	// Each command must register its flags and usage without further side effects.
	for _, c := range cmds {
		c.gather()
		if c.params == "" && c.help == "" {
			t.Fatalf("command %q has no usage or help", strings.Join(c.words, " "))
		}
	}
}
