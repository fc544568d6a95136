// Package activation activates a voicemail account: it requests a STATUS SMS
// from the carrier, waits for it, provisions the subscriber if needed, and
// stores the IMAP credentials. It also dispatches SMS received later.
package activation

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/mjl-/vvm/config"
	"github.com/mjl-/vvm/metrics"
	"github.com/mjl-/vvm/mlog"
	"github.com/mjl-/vvm/network"
	"github.com/mjl-/vvm/omtp"
	"github.com/mjl-/vvm/protocol"
	"github.com/mjl-/vvm/store"
	"github.com/mjl-/vvm/voicemail"
)

var xlog = mlog.New("activation")

const (
	DefaultAttempts   = 4
	DefaultRetryDelay = 5 * time.Second
)

var (
	ErrDisabled            = errors.New("account disabled")
	ErrStatusTimeout       = errors.New("timeout waiting for status sms")
	ErrServiceNotAvailable = errors.New("voicemail service not available for subscriber")
)

// Syncer syncs voicemails after activation and on SYNC messages, typically a
// voicemail.Syncer.
type Syncer interface {
	Sync(ctx context.Context, action voicemail.Action) error
}

// Task activates one account. Inbound SMS for the account must be delivered on
// Inbox, parsed with the client prefix of the account. Only one goroutine,
// running Run, HandleSMS or Serve, may read from Inbox at a time.
type Task struct {
	AccountID string
	Config    config.Account
	DB        *store.DB
	Protocol  protocol.Protocol
	SMS       omtp.SMSSender
	Network   func(ctx context.Context) (*network.Handle, error)
	Inbox     <-chan omtp.Message

	// Optional. If nil, a voicemail.Opener is used.
	Mailbox protocol.MailboxOpener

	// Optional. If nil, no sync is done.
	Syncer Syncer

	Attempts   int           // Default DefaultAttempts.
	RetryDelay time.Duration // Default DefaultRetryDelay.
}

func (t *Task) log(ctx context.Context) *mlog.Log {
	return xlog.WithContext(ctx).Fields(mlog.Field("account", t.AccountID), mlog.Field("variant", t.Protocol.Name()))
}

func (t *Task) raise(ctx context.Context, event omtp.Event) {
	protocol.Raise(ctx, t.DB, t.Protocol, t.AccountID, event)
}

func (t *Task) env() protocol.ProvisioningEnv {
	opener := t.Mailbox
	if opener == nil {
		opener = voicemail.Opener{AccountID: t.AccountID, DB: t.DB, Protocol: t.Protocol, Config: t.Config}
	}
	return protocol.ProvisioningEnv{
		ActivationEnv: protocol.ActivationEnv{AccountID: t.AccountID, Config: t.Config, SMS: t.SMS},
		DB:            t.DB,
		Network:       t.Network,
		Mailbox:       opener,
	}
}

// Run activates the account. If data is set, it is the content of a STATUS SMS
// that was already received, and no request is sent. Sending the request and
// waiting for the STATUS SMS is attempted multiple times. Retries always request
// a fresh STATUS SMS.
func (t *Task) Run(ctx context.Context, data *omtp.StatusMessage) (rerr error) {
	ctx = context.WithValue(ctx, mlog.CidKey, mlog.Cid())
	log := t.log(ctx)

	defer func() {
		x := recover()
		if x != nil {
			log.Error("recover from panic", mlog.Field("panic", x))
			debug.PrintStack()
			metrics.PanicInc(metrics.PanicActivation)
			rerr = fmt.Errorf("activation panic: %v", x)
		}
	}()

	acc, err := t.DB.EnsureAccount(ctx, t.AccountID, t.Config.VVMType)
	if err != nil {
		return fmt.Errorf("account: %w", err)
	}
	if !acc.Enabled {
		log.Info("account disabled, not activating")
		return ErrDisabled
	}

	attempts := t.Attempts
	if attempts <= 0 {
		attempts = DefaultAttempts
	}
	delay := t.RetryDelay
	if delay <= 0 {
		delay = DefaultRetryDelay
	}

	for i := 1; ; i++ {
		retry, err := t.attempt(ctx, log, acc, data)
		if !retry || i >= attempts {
			if retry {
				err = fmt.Errorf("activation failed after %d attempts: %w", i, err)
			}
			log.Check(err, "activation")
			return err
		}
		log.Infox("activation attempt failed, retrying", err, mlog.Field("attempt", i), mlog.Field("delay", delay))
		data = nil

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// attempt does a single activation attempt. Failures to send the request or get
// a response are retried.
func (t *Task) attempt(ctx context.Context, log *mlog.Log, acc store.Account, data *omtp.StatusMessage) (retry bool, rerr error) {
	if data == nil {
		if acc.Activated {
			t.raise(ctx, omtp.ConfigActivatingSubsequent)
		} else {
			t.raise(ctx, omtp.ConfigActivating)
		}

		env := t.env()
		if err := t.Protocol.StartActivation(ctx, env.ActivationEnv); err != nil {
			metrics.ActivationInc("error")
			return true, err
		}
		msg, err := t.waitStatus(ctx, log)
		if err == ErrStatusTimeout {
			t.raise(ctx, omtp.ConfigStatusSMSTimeOut)
			metrics.ActivationInc("timeout")
			return true, err
		} else if err != nil {
			return false, err
		}
		data = &msg
	}
	return false, t.handleStatus(ctx, log, *data)
}

// waitStatus waits for a STATUS message on the inbox. Unrecognized messages the
// protocol can translate are accepted too. Other messages are ignored.
func (t *Task) waitStatus(ctx context.Context, log *mlog.Log) (omtp.StatusMessage, error) {
	timeout := t.Config.StatusSMSTimeout
	if timeout <= 0 {
		timeout = config.DefaultStatusSMSTimeout
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return omtp.StatusMessage{}, ctx.Err()
		case <-timer.C:
			return omtp.StatusMessage{}, ErrStatusTimeout
		case m, ok := <-t.Inbox:
			if !ok {
				return omtp.StatusMessage{}, errors.New("inbox closed")
			}
			if msg, ok := t.statusMessage(m); ok {
				return msg, nil
			}
			log.Info("ignoring sms while waiting for status", mlog.Field("event", m.Event))
		}
	}
}

func (t *Task) statusMessage(m omtp.Message) (omtp.StatusMessage, bool) {
	if m.IsStatus() {
		return omtp.NewStatusMessage(m.Fields), true
	}
	if m.IsSync() {
		return omtp.StatusMessage{}, false
	}
	return t.Protocol.TranslateUnrecognized(m.Event, m.Fields)
}

func (t *Task) handleStatus(ctx context.Context, log *mlog.Log, msg omtp.StatusMessage) error {
	log.Debug("status sms received", mlog.Field("st", msg.ProvisioningStatus), mlog.Field("rc", msg.ReturnCode))

	switch {
	case msg.ProvisioningStatus == omtp.SubscriberReady:
		return t.updateSource(ctx, log, msg)
	case t.Protocol.SupportsProvisioning():
		log.Info("subscriber not ready, provisioning")
		metrics.ActivationInc("provisioning")
		return t.Protocol.StartProvisioning(ctx, t.env(), msg)
	case msg.ProvisioningStatus == omtp.SubscriberNew:
		// Likely the new user tutorial was not completed. The credentials work anyway.
		log.Info("subscriber new but provisioning not supported, using credentials")
		return t.updateSource(ctx, log, msg)
	}
	log.Info("subscriber not ready and provisioning not supported")
	t.raise(ctx, omtp.ConfigServiceNotAvailable)
	metrics.ActivationInc("notavailable")
	return fmt.Errorf("%w: status %q", ErrServiceNotAvailable, msg.ProvisioningStatus)
}

// updateSource stores the credentials of a successful STATUS message, marks the
// account activated, and does a full sync.
func (t *Task) updateSource(ctx context.Context, log *mlog.Log, msg omtp.StatusMessage) error {
	if msg.ReturnCode != omtp.ReturnSuccess {
		t.raise(ctx, omtp.ConfigServiceNotAvailable)
		metrics.ActivationInc("notavailable")
		return fmt.Errorf("%w: return code %q", ErrServiceNotAvailable, msg.ReturnCode)
	}

	if err := t.DB.SaveCredentials(ctx, t.AccountID, msg); err != nil {
		return fmt.Errorf("storing credentials: %w", err)
	}
	if _, err := t.DB.UpdateAccount(ctx, t.AccountID, func(a *store.Account) { a.Activated = true }); err != nil {
		return fmt.Errorf("marking account activated: %w", err)
	}
	t.raise(ctx, omtp.ConfigRequestStatusSuccess)
	metrics.ActivationInc("ok")
	log.Info("account activated", mlog.Field("server", msg.ServerAddress))

	if t.Syncer != nil {
		err := t.Syncer.Sync(ctx, voicemail.SyncFull)
		log.Check(err, "sync after activation")
	}
	return nil
}

// HandleSMS handles an SMS received outside of an activation. A STATUS message,
// or an unrecognized message the protocol translates into one, runs the
// activation with its content. A SYNC message for new voicemail or a mailbox
// update runs a sync.
func (t *Task) HandleSMS(ctx context.Context, m omtp.Message) error {
	log := t.log(ctx).Fields(mlog.Field("event", m.Event))

	if m.IsSync() {
		sm := omtp.NewSyncMessage(m.Fields)
		switch sm.Event {
		case omtp.NewMessage, omtp.MailboxUpdate:
			if t.Syncer == nil {
				log.Debug("no syncer, ignoring sync sms")
				return nil
			}
			log.Info("sync sms received", mlog.Field("ev", sm.Event), mlog.Field("uid", sm.UID))
			return t.Syncer.Sync(ctx, voicemail.SyncFull)
		}
		log.Info("ignoring sync sms", mlog.Field("ev", sm.Event))
		return nil
	}

	msg, ok := t.statusMessage(m)
	if !ok {
		log.Info("ignoring unrecognized sms")
		return nil
	}
	return t.Run(ctx, &msg)
}

// Serve runs an activation, then handles inbound SMS until ctx is canceled or
// the inbox is closed. Errors are logged.
func (t *Task) Serve(ctx context.Context) error {
	log := t.log(ctx)
	err := t.Run(ctx, nil)
	log.Check(err, "initial activation")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case m, ok := <-t.Inbox:
			if !ok {
				return nil
			}
			err := t.HandleSMS(ctx, m)
			log.Check(err, "handling sms", mlog.Field("event", m.Event))
		}
	}
}
