package activation

import (
	"context"
	"errors"
	"path/filepath"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/mjl-/vvm/config"
	"github.com/mjl-/vvm/network"
	"github.com/mjl-/vvm/omtp"
	"github.com/mjl-/vvm/protocol"
	"github.com/mjl-/vvm/store"
	"github.com/mjl-/vvm/voicemail"
)

var ctxbg = context.Background()

func tcheck(t *testing.T, err error, msg string) {
	t.Helper()
	if err != nil {
		t.Fatalf("%s: %s", msg, err)
	}
}

func tcompare(t *testing.T, got, expect any) {
	t.Helper()
	if !reflect.DeepEqual(got, expect) {
		t.Fatalf("got:\n%#v\nexpected:\n%#v", got, expect)
	}
}

// carrier sends SMS requests, and delivers its responses on the inbox.
type carrier struct {
	sync.Mutex
	inbox   chan omtp.Message
	sent    []string
	err     error
	respond func(text string) []string // Responses in SMS form.
}

func (c *carrier) SendSMS(ctx context.Context, number string, port int, text string) error {
	c.Lock()
	defer c.Unlock()
	if c.err != nil {
		return c.err
	}
	c.sent = append(c.sent, text)
	if c.respond == nil {
		return nil
	}
	for _, s := range c.respond(text) {
		m, err := omtp.ParseSMS(config.DefaultClientPrefix, s)
		if err != nil {
			return err
		}
		c.inbox <- m
	}
	return nil
}

func (c *carrier) texts() []string {
	c.Lock()
	defer c.Unlock()
	return append([]string{}, c.sent...)
}

type fakeSyncer struct {
	sync.Mutex
	actions []voicemail.Action
}

func (s *fakeSyncer) Sync(ctx context.Context, action voicemail.Action) error {
	s.Lock()
	defer s.Unlock()
	s.actions = append(s.actions, action)
	return nil
}

const testAccount = "15555550100"

const readyStatus = "//VVM:STATUS:st=R;rc=0;srv=imap.vvm.example;ipt=143;u=15555550100@vvm.example;pw=secret"

func newTask(t *testing.T, cfg config.Account, respond func(string) []string) (*Task, *carrier, *fakeSyncer) {
	t.Helper()
	db, err := store.Open(ctxbg, filepath.Join(t.TempDir(), "vvm.db"))
	tcheck(t, err, "open db")
	t.Cleanup(func() { db.Close() })

	if cfg.VVMType == "" {
		cfg.VVMType = config.TypeOMTP
	}
	cfg.DestinationNumber = "+15555550000"
	cfg.ClientPrefix = config.DefaultClientPrefix
	if cfg.StatusSMSTimeout == 0 {
		cfg.StatusSMSTimeout = 50 * time.Millisecond
	}
	p, err := protocol.ForType(cfg)
	tcheck(t, err, "protocol")

	c := &carrier{inbox: make(chan omtp.Message, 10), respond: respond}
	syncer := &fakeSyncer{}
	task := &Task{
		AccountID: testAccount,
		Config:    cfg,
		DB:        db,
		Protocol:  p,
		SMS:       c,
		Network: func(ctx context.Context) (*network.Handle, error) {
			return network.Acquire(ctx, network.Config{})
		},
		Inbox:      c.inbox,
		Syncer:     syncer,
		RetryDelay: time.Millisecond,
	}
	return task, c, syncer
}

func reply(responses ...string) func(string) []string {
	return func(string) []string { return responses }
}

func (task *Task) account(t *testing.T) store.Account {
	t.Helper()
	acc, err := task.DB.Account(ctxbg, testAccount)
	tcheck(t, err, "account")
	return acc
}

func TestActivateReady(t *testing.T) {
	task, c, syncer := newTask(t, config.Account{}, reply(readyStatus))

	err := task.Run(ctxbg, nil)
	tcheck(t, err, "activate")
	tcompare(t, c.texts(), []string{"Activate:pv=13;ct=//VVM"})
	tcompare(t, syncer.actions, []voicemail.Action{voicemail.SyncFull})

	acc := task.account(t)
	tcompare(t, acc.Activated, true)
	tcompare(t, acc.Configuration, omtp.ConfigurationStateOK)
	creds, err := task.DB.Credentials(ctxbg, testAccount)
	tcheck(t, err, "credentials")
	tcompare(t, creds.ServerAddress, "imap.vvm.example")
	tcompare(t, creds.IMAPPassword, "secret")

	// Subsequent activation of an activated account.
	err = task.Run(ctxbg, nil)
	tcheck(t, err, "activate again")
	tcompare(t, len(c.texts()), 2)
	tcompare(t, task.account(t).Configuration, omtp.ConfigurationStateOK)
}

func TestActivateIgnoresOtherSMS(t *testing.T) {
	task, _, _ := newTask(t, config.Account{}, reply("//VVM:SYNC:ev=NM;id=1", "//VVM:WHATEVER:x=y", readyStatus))
	err := task.Run(ctxbg, nil)
	tcheck(t, err, "activate")
	tcompare(t, task.account(t).Activated, true)
}

func TestActivateTimeout(t *testing.T) {
	task, c, syncer := newTask(t, config.Account{}, nil)
	task.Attempts = 3

	err := task.Run(ctxbg, nil)
	if !errors.Is(err, ErrStatusTimeout) {
		t.Fatalf("got err %v, expected ErrStatusTimeout", err)
	}
	tcompare(t, len(c.texts()), 3)
	tcompare(t, len(syncer.actions), 0)
	acc := task.account(t)
	tcompare(t, acc.Activated, false)
	tcompare(t, acc.Configuration, omtp.ConfigurationStateFailed)
}

func TestActivateSendError(t *testing.T) {
	task, c, _ := newTask(t, config.Account{}, nil)
	task.Attempts = 2
	errModem := errors.New("modem gone")
	c.err = errModem

	err := task.Run(ctxbg, nil)
	if !errors.Is(err, errModem) {
		t.Fatalf("got err %v, expected %v", err, errModem)
	}
}

func TestActivateCanceled(t *testing.T) {
	task, _, _ := newTask(t, config.Account{StatusSMSTimeout: time.Hour}, nil)
	ctx, cancel := context.WithTimeout(ctxbg, 20*time.Millisecond)
	defer cancel()
	err := task.Run(ctx, nil)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("got err %v, expected deadline exceeded", err)
	}
}

func TestActivateNotAvailable(t *testing.T) {
	test := func(status string) {
		t.Helper()
		task, c, syncer := newTask(t, config.Account{}, reply(status))
		err := task.Run(ctxbg, nil)
		if !errors.Is(err, ErrServiceNotAvailable) {
			t.Fatalf("got err %v, expected ErrServiceNotAvailable", err)
		}
		// Not retried.
		tcompare(t, len(c.texts()), 1)
		tcompare(t, len(syncer.actions), 0)
		acc := task.account(t)
		tcompare(t, acc.Activated, false)
		tcompare(t, acc.Configuration, omtp.ConfigurationStateFailed)
	}

	test("//VVM:STATUS:st=B;rc=0")
	test("//VVM:STATUS:st=R;rc=1")
	test("//VVM:STATUS:st=N;rc=3")
}

func TestActivateNewWithoutProvisioning(t *testing.T) {
	task, _, _ := newTask(t, config.Account{VVMType: config.TypeCVVM}, reply("//VVM:STATUS:st=N;rc=0;srv=imap.vvm.example;ipt=143;u=x;pw=y"))
	err := task.Run(ctxbg, nil)
	tcheck(t, err, "activate")
	tcompare(t, task.account(t).Activated, true)
}

func TestActivateDisabled(t *testing.T) {
	task, c, _ := newTask(t, config.Account{}, reply(readyStatus))
	_, err := task.DB.EnsureAccount(ctxbg, testAccount, config.TypeOMTP)
	tcheck(t, err, "ensure account")
	_, err = task.DB.UpdateAccount(ctxbg, testAccount, func(a *store.Account) { a.Enabled = false })
	tcheck(t, err, "disable account")

	err = task.Run(ctxbg, nil)
	if !errors.Is(err, ErrDisabled) {
		t.Fatalf("got err %v, expected ErrDisabled", err)
	}
	tcompare(t, len(c.texts()), 0)
}

type fakeMailbox struct {
	sync.Mutex
	pins [][2]string
}

func (m *fakeMailbox) OpenMailbox(ctx context.Context, h *network.Handle, creds omtp.StatusMessage) (protocol.Mailbox, error) {
	return m, nil
}

func (m *fakeMailbox) ChangeVoicemailLanguage(ctx context.Context, code string) error { return nil }

func (m *fakeMailbox) ChangePIN(ctx context.Context, oldPIN, newPIN string) (omtp.ChangePinResult, error) {
	m.Lock()
	defer m.Unlock()
	m.pins = append(m.pins, [2]string{oldPIN, newPIN})
	return omtp.ChangePinSuccess, nil
}

func (m *fakeMailbox) CloseNewUserTutorial(ctx context.Context) error { return nil }
func (m *fakeMailbox) Close()                                         {}

func TestActivateProvisioning(t *testing.T) {
	// The carrier answers the first STATUS request with a new user, and the
	// request after provisioning with a ready subscriber.
	n := 0
	respond := func(text string) []string {
		n++
		if n == 1 {
			return []string{"//VVM:STATUS:st=N;rc=0;srv=imap.vvm.example;ipt=143;u=15555550100@vvm.example;pw=secret;pw_len=4-6"}
		}
		return []string{readyStatus}
	}
	task, c, syncer := newTask(t, config.Account{VVMType: config.TypeVVM3}, respond)
	mb := &fakeMailbox{}
	task.Mailbox = mb

	err := task.Run(ctxbg, nil)
	tcheck(t, err, "activate")
	tcompare(t, c.texts(), []string{"STATUS", "STATUS"})
	tcompare(t, len(mb.pins), 1)
	tcompare(t, mb.pins[0][0], "10100")
	acc := task.account(t)
	tcompare(t, acc.DefaultPinReplaced, true)
	tcompare(t, acc.Activated, false)

	// The STATUS after provisioning arrives as a regular SMS.
	m := <-task.Inbox
	err = task.HandleSMS(ctxbg, m)
	tcheck(t, err, "handle status")
	acc = task.account(t)
	tcompare(t, acc.Activated, true)
	tcompare(t, acc.Configuration, protocol.VVM3PinNotSet)
	tcompare(t, syncer.actions, []voicemail.Action{voicemail.SyncFull})
}

func TestActivateProvisioned(t *testing.T) {
	task, _, _ := newTask(t, config.Account{VVMType: config.TypeVVM3}, reply("//VVM:STATUS:st=P;rc=0"))
	err := task.Run(ctxbg, nil)
	tcheck(t, err, "activate")
	acc := task.account(t)
	tcompare(t, acc.Enabled, false)
	tcompare(t, acc.Configuration, protocol.VVM3ServiceNotActivated)
}

func TestHandleSMS(t *testing.T) {
	task, c, syncer := newTask(t, config.Account{}, nil)

	parse := func(s string) omtp.Message {
		t.Helper()
		m, err := omtp.ParseSMS(config.DefaultClientPrefix, s)
		tcheck(t, err, "parse sms")
		return m
	}

	// STATUS with content activates without a request.
	err := task.HandleSMS(ctxbg, parse(readyStatus))
	tcheck(t, err, "status")
	tcompare(t, len(c.texts()), 0)
	tcompare(t, task.account(t).Activated, true)
	tcompare(t, len(syncer.actions), 1)

	err = task.HandleSMS(ctxbg, parse("//VVM:SYNC:ev=NM;id=3;c=1;t=v;s=15555551234;dt=17/07/2024 02:44 -0700;l=7"))
	tcheck(t, err, "sync new message")
	err = task.HandleSMS(ctxbg, parse("//VVM:SYNC:ev=MBU"))
	tcheck(t, err, "sync mailbox update")
	err = task.HandleSMS(ctxbg, parse("//VVM:SYNC:ev=GU"))
	tcheck(t, err, "sync greetings update")
	tcompare(t, len(syncer.actions), 3)

	err = task.HandleSMS(ctxbg, parse("//VVM:UNRECOGNIZED:cmd=STATUS"))
	tcheck(t, err, "unrecognized")
	tcompare(t, len(c.texts()), 0)
}

func TestHandleUnrecognizedVVM3(t *testing.T) {
	task, _, _ := newTask(t, config.Account{VVMType: config.TypeVVM3}, nil)
	_, err := task.DB.EnsureAccount(ctxbg, testAccount, config.TypeVVM3)
	tcheck(t, err, "ensure account")

	// Translated into an unknown subscriber, whose subscription fails without a
	// reachable gateway.
	task.Network = func(ctx context.Context) (*network.Handle, error) { return nil, network.ErrNoNetwork }
	m, err := omtp.ParseSMS(config.DefaultClientPrefix, "//VVM:UNRECOGNIZED:cmd=STATUS")
	tcheck(t, err, "parse")
	task.Protocol, err = protocol.ForType(config.Account{VVMType: config.TypeVVM3, DefaultVMGURL: "https://vmg.example/vvm"})
	tcheck(t, err, "protocol")
	err = task.HandleSMS(ctxbg, m)
	ev, _ := omtp.EventOf(err)
	tcompare(t, ev, omtp.VVM3VMGConnectionFailed)
	tcompare(t, task.account(t).Configuration, protocol.VVM3VMGNoCellular)
}

func TestServe(t *testing.T) {
	task, c, syncer := newTask(t, config.Account{}, reply(readyStatus))
	c.inbox <- omtp.Message{Event: omtp.SyncSMSPrefix, Fields: map[string]string{"ev": "MBU"}}

	done := make(chan error, 1)
	go func() {
		done <- task.Serve(ctxbg)
	}()

	// Serve picks up the queued SYNC while waiting for the STATUS, and ignores
	// it. Closing the inbox after the activation ends Serve.
	deadline := time.After(5 * time.Second)
	for {
		if acc, err := task.DB.Account(ctxbg, testAccount); err == nil && acc.Activated {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("activation did not complete")
		case <-time.After(5 * time.Millisecond):
		}
	}
	close(c.inbox)
	err := <-done
	tcheck(t, err, "serve")
	syncer.Lock()
	defer syncer.Unlock()
	tcompare(t, syncer.actions, []voicemail.Action{voicemail.SyncFull})
}
