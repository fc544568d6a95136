// Package protocol implements the visual voicemail protocol variants: standard
// OMTP, CVVM and Verizon's VVM3. Variants differ in the SMS requests they send,
// the names of carrier-specific IMAP commands, how events map to the status
// shown to the user, and whether they can provision a new subscriber.
package protocol

import (
	"context"
	"fmt"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"github.com/mjl-/vvm/config"
	"github.com/mjl-/vvm/metrics"
	"github.com/mjl-/vvm/mlog"
	"github.com/mjl-/vvm/network"
	"github.com/mjl-/vvm/omtp"
	"github.com/mjl-/vvm/store"
)

var xlog = mlog.New("protocol")

// Protocol is a visual voicemail protocol variant.
type Protocol interface {
	Name() string

	// StartActivation requests activation from the carrier, which responds with a
	// STATUS SMS.
	StartActivation(ctx context.Context, env ActivationEnv) error
	StartDeactivation(ctx context.Context, env ActivationEnv) error
	RequestStatus(ctx context.Context, env ActivationEnv) error

	SupportsProvisioning() bool

	// StartProvisioning handles a STATUS message for a subscriber that is not
	// ready. Failures are raised as events on the account and returned.
	StartProvisioning(ctx context.Context, env ProvisioningEnv, msg omtp.StatusMessage) error

	// TranslateCommand returns the IMAP command format for a command name from
	// package omtp, e.g. omtp.CommandChangeTUIPassword.
	TranslateCommand(name string) string

	// HandleEvent applies event to the status of acc.
	HandleEvent(acc *store.Account, event omtp.Event)

	// TranslateUnrecognized turns an SMS that is neither STATUS nor SYNC into a
	// STATUS message, if the variant knows it.
	TranslateUnrecognized(event string, fields map[string]string) (omtp.StatusMessage, bool)
}

// ActivationEnv is needed to send requests to the carrier.
type ActivationEnv struct {
	AccountID string // Also the MDN, the phone number.
	Config    config.Account
	SMS       omtp.SMSSender
}

// sendSMS sends text to the destination number of the carrier.
func (env ActivationEnv) sendSMS(ctx context.Context, text string) error {
	xlog.WithContext(ctx).Debug("sending sms", mlog.Field("account", env.AccountID), mlog.Field("number", env.Config.DestinationNumber), mlog.Field("text", text))
	if err := env.SMS.SendSMS(ctx, env.Config.DestinationNumber, env.Config.ApplicationPort, text); err != nil {
		return fmt.Errorf("sending sms to %s: %w", env.Config.DestinationNumber, err)
	}
	return nil
}

// MailboxOpener opens an IMAP session with the credentials from a STATUS
// message.
type MailboxOpener interface {
	OpenMailbox(ctx context.Context, h *network.Handle, creds omtp.StatusMessage) (Mailbox, error)
}

// Mailbox is an IMAP session with the carrier-specific commands needed during
// provisioning.
type Mailbox interface {
	ChangeVoicemailLanguage(ctx context.Context, code string) error
	ChangePIN(ctx context.Context, oldPIN, newPIN string) (omtp.ChangePinResult, error)
	CloseNewUserTutorial(ctx context.Context) error
	Close()
}

// ProvisioningEnv is needed to provision a subscriber.
type ProvisioningEnv struct {
	ActivationEnv
	DB      *store.DB
	Network func(ctx context.Context) (*network.Handle, error)
	Mailbox MailboxOpener
}

// Raise applies event to the stored account through p. Failures to store are
// logged, the status is informational.
func Raise(ctx context.Context, db *store.DB, p Protocol, accountID string, event omtp.Event) {
	log := xlog.WithContext(ctx).Fields(mlog.Field("account", accountID), mlog.Field("event", event))
	_, err := db.UpdateAccount(ctx, accountID, func(a *store.Account) {
		p.HandleEvent(a, event)
	})
	if err != nil {
		log.Errorx("storing status after event", err)
		return
	}
	metrics.EventInc(p.Name(), event.String())
	log.Debug("event raised")
}

func (env ProvisioningEnv) raise(ctx context.Context, p Protocol, event omtp.Event) {
	Raise(ctx, env.DB, p, env.AccountID, event)
}

var variants = map[string]func(cfg config.Account) Protocol{
	config.TypeOMTP: func(cfg config.Account) Protocol { return standard{handler: omtp.DefaultHandler{CellularDataRequired: cfg.CellularDataRequired}} },
	config.TypeCVVM: func(cfg config.Account) Protocol { return cvvm{standard{handler: omtp.DefaultHandler{CellularDataRequired: cfg.CellularDataRequired}}} },
	config.TypeVVM3: newVVM3,
}

// Types returns the known variant names, sorted.
func Types() []string {
	l := maps.Keys(variants)
	slices.Sort(l)
	return l
}

// ForType returns the protocol for the VVM type of cfg, e.g. "vvm3".
func ForType(cfg config.Account) (Protocol, error) {
	fn, ok := variants[cfg.VVMType]
	if !ok {
		return nil, fmt.Errorf("unknown vvm type %q", cfg.VVMType)
	}
	return fn(cfg), nil
}

// handleDefault applies event with h. Events h does not know are logged.
func handleDefault(h omtp.DefaultHandler, acc *store.Account, event omtp.Event) {
	st := acc.Status()
	if !h.Handle(&st, event) {
		xlog.Error("unhandled event", mlog.Field("account", acc.ID), mlog.Field("event", event))
		return
	}
	acc.SetStatus(st)
}
