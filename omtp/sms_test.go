package omtp

import (
	"errors"
	"fmt"
	"reflect"
	"testing"
	"time"
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

func TestParseSMS(t *testing.T) {
	m, err := ParseSMS("//VVM", "//VVM:STATUS:st=R;rc=0;srv=vvm.example.com;ipt=143;u=user;pw=secret;lang=1|2;pw_len=4-7")
	tcheckf(t, err, "parse status")
	tcompare(t, m.IsStatus(), true)
	tcompare(t, m.IsSync(), false)
	sm := NewStatusMessage(m.Fields)
	tcompare(t, sm.ProvisioningStatus, SubscriberReady)
	tcompare(t, sm.ReturnCode, ReturnSuccess)
	tcompare(t, sm.ServerAddress, "vvm.example.com")
	tcompare(t, sm.IMAPPort, "143")
	tcompare(t, sm.IMAPUserName, "user")
	tcompare(t, sm.IMAPPassword, "secret")
	tcompare(t, sm.Language, "1|2")
	min, max, ok := sm.PinLengthRange()
	tcompare(t, []any{min, max, ok}, []any{4, 7, true})
	tcompare(t, sm.Fields(), m.Fields)

	// Values may contain "=", empty fields and trailing separators are ignored.
	m, err = ParseSMS("//VVM", "//VVM:STATUS:st=N;rs=https://example.com/?a=b;;")
	tcheckf(t, err, "parse status")
	tcompare(t, m.Fields, map[string]string{"st": "N", "rs": "https://example.com/?a=b"})

	m, err = ParseSMS("//VVM", "//VVM:SYNC:ev=NM;id=3446456;c=1;t=v;s=01234567898;dt=02/08/2008 12:53 +0200;l=30")
	tcheckf(t, err, "parse sync")
	tcompare(t, m.IsSync(), true)
	sync := NewSyncMessage(m.Fields)
	tcompare(t, sync.Event, NewMessage)
	tcompare(t, sync.UID, "3446456")
	tcompare(t, sync.Count, 1)
	tcompare(t, sync.Length, 30)
	tcompare(t, sync.ContentType, ContentVoice)
	tcompare(t, sync.Sender, "01234567898")
	tcompare(t, sync.Time.Equal(time.Date(2008, 8, 2, 10, 53, 0, 0, time.UTC)), true)

	// Bad date is ignored.
	sync = NewSyncMessage(map[string]string{"dt": "yesterday"})
	tcompare(t, sync.Time.IsZero(), true)

	// Other events are kept as is, the protocol variant decides.
	m, err = ParseSMS("//VZWVVM", "//VZWVVM:UNKNOWN:vmg_url=https://vmg.example.com")
	tcheckf(t, err, "parse unknown event")
	tcompare(t, m.Event, "UNKNOWN")
	tcompare(t, m.Fields[VMGURL], "https://vmg.example.com")

	_, err = ParseSMS("//VVM", "hello there")
	if !errors.Is(err, ErrNoPrefix) {
		t.Fatalf("got err %v, expected ErrNoPrefix", err)
	}
	_, err = ParseSMS("//VVM", "//VVM:")
	if err == nil {
		t.Fatalf("missing event accepted")
	}

	for _, s := range []string{"", "4", "7-4", "a-b", "0-3"} {
		_, _, ok := StatusMessage{TUIPasswordLength: s}.PinLengthRange()
		tcompare(t, ok, false)
	}
}

func TestEvents(t *testing.T) {
	tcompare(t, DataAuthUnknownUser.String(), "DATA_AUTH_UNKNOWN_USER")
	tcompare(t, DataAuthUnknownUser.Type(), TypeDataChannel)
	tcompare(t, VVM3SubscriberBlocked.Type(), TypeOther)
	tcompare(t, Event(1000).String(), "event(1000)")

	base := errors.New("connection refused")
	err := fmt.Errorf("dial: %w", WithEvent(DataAllSocketConnectionFailed, base))
	ev, ok := EventOf(err)
	tcompare(t, ok, true)
	tcompare(t, ev, DataAllSocketConnectionFailed)
	tcompare(t, errors.Is(err, base), true)

	_, ok = EventOf(base)
	tcompare(t, ok, false)
	tcompare(t, WithEvent(DataNoConnection, nil), nil)

	err = Errorf(DataBadIMAPCredential, "login: %s", "NO")
	tcompare(t, err.Error(), "DATA_BAD_IMAP_CREDENTIAL: login: NO")
}

func TestChangePinResult(t *testing.T) {
	tcompare(t, ChangePinResultFromText("password too short"), ChangePinTooShort)
	tcompare(t, ChangePinResultFromText("password too long"), ChangePinTooLong)
	tcompare(t, ChangePinResultFromText("password too weak"), ChangePinTooWeak)
	tcompare(t, ChangePinResultFromText("old password mismatch"), ChangePinMismatch)
	tcompare(t, ChangePinResultFromText("password contains invalid characters"), ChangePinInvalidCharacter)
	tcompare(t, ChangePinResultFromText("something else"), ChangePinSystemError)
	tcompare(t, ChangePinSystemError.String(), "system error")
}
