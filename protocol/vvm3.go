package protocol

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"runtime/debug"
	"strings"

	"golang.org/x/text/language"

	"github.com/mjl-/vvm/config"
	"github.com/mjl-/vvm/metrics"
	"github.com/mjl-/vvm/mlog"
	"github.com/mjl-/vvm/omtp"
	"github.com/mjl-/vvm/store"
)

// VVM3 command formats, they differ from OMTP.
const (
	vvm3ChangeTUIPasswordFormat = "CHANGE_TUI_PWD PWD=%[1]s OLD_PWD=%[2]s"
	vvm3ChangeVMLanguageFormat  = "CHANGE_VM_LANG Lang=%[1]s"
	vvm3CloseNUT                = "CLOSE_NUT"
)

// Return code of a STATUS with st=U when the subscriber can self-provision.
const vvm3CanSubscribe = omtp.ReturnSubscriberError

// Voice prompt languages: standard prompts for the owner, none for callers.
const (
	vvm3LanguageEnglish = "5"
	vvm3LanguageSpanish = "6"
)

const vvm3DefaultPinLength = 6

// Field of an UNRECOGNIZED message with the command the server did not
// recognize.
const unrecognizedCommand = "cmd"

// ErrNoDefaultPIN is returned when no default PIN can be derived from the IMAP
// username.
var ErrNoDefaultPIN = errors.New("cannot derive default pin from imap username")

// vvm3 is Verizon's visual voicemail. It does not use activation SMS. A status
// request starts provisioning instead.
type vvm3 struct {
	handler vvm3Handler
	cfg     config.Account
}

func newVVM3(cfg config.Account) Protocol {
	return vvm3{vvm3Handler{omtp.DefaultHandler{CellularDataRequired: cfg.CellularDataRequired}}, cfg}
}

func (vvm3) Name() string { return "vvm3" }

func (p vvm3) StartActivation(ctx context.Context, env ActivationEnv) error {
	return p.RequestStatus(ctx, env)
}

func (vvm3) StartDeactivation(ctx context.Context, env ActivationEnv) error {
	xlog.WithContext(ctx).Info("vvm3 does not support deactivation", mlog.Field("account", env.AccountID))
	return nil
}

func (vvm3) RequestStatus(ctx context.Context, env ActivationEnv) error {
	return env.sendSMS(ctx, omtp.StatusSMSPrefix)
}

func (vvm3) SupportsProvisioning() bool {
	return true
}

func (p vvm3) StartProvisioning(ctx context.Context, env ProvisioningEnv, msg omtp.StatusMessage) (rerr error) {
	log := xlog.WithContext(ctx).Fields(mlog.Field("account", env.AccountID), mlog.Field("st", msg.ProvisioningStatus), mlog.Field("rc", msg.ReturnCode))

	defer func() {
		x := recover()
		if x != nil {
			log.Error("recover from panic", mlog.Field("panic", x))
			debug.PrintStack()
			metrics.PanicInc(metrics.PanicProvisioning)
			rerr = fmt.Errorf("provisioning panic: %v", x)
		}
	}()
	log.Info("starting vvm3 provisioning")

	switch msg.ProvisioningStatus {
	case omtp.SubscriberUnknown:
		if msg.ReturnCode != vvm3CanSubscribe {
			env.raise(ctx, p, omtp.VVM3SubscriberUnknown)
			return omtp.Errorf(omtp.VVM3SubscriberUnknown, "subscriber unknown and cannot subscribe, rc %q", msg.ReturnCode)
		}
		log.Info("self provisioning available, subscribing")
		s := Subscriber{Env: env, Protocol: p, Patterns: p.cfg.SPGLinkRegexps}
		return s.Subscribe(ctx, msg)

	case omtp.SubscriberNew:
		if err := env.DB.SaveCredentials(ctx, env.AccountID, msg); err != nil {
			return fmt.Errorf("storing credentials: %w", err)
		}
		return p.provisionNewUser(ctx, env, msg)

	case omtp.SubscriberProvisioned:
		log.Info("subscriber provisioned but not activated, disabling visual voicemail")
		if _, err := env.DB.UpdateAccount(ctx, env.AccountID, func(a *store.Account) { a.Enabled = false }); err != nil {
			return fmt.Errorf("disabling account: %w", err)
		}
		env.raise(ctx, p, omtp.VVM3SubscriberProvisioned)
		return nil

	case omtp.SubscriberBlocked:
		env.raise(ctx, p, omtp.VVM3SubscriberBlocked)
		return omtp.Errorf(omtp.VVM3SubscriberBlocked, "subscriber blocked")
	}
	log.Info("nothing to provision")
	return nil
}

func (p vvm3) provisionNewUser(ctx context.Context, env ProvisioningEnv, msg omtp.StatusMessage) (rerr error) {
	log := xlog.WithContext(ctx).Fields(mlog.Field("account", env.AccountID))

	h, err := env.Network(ctx)
	if err != nil {
		env.raise(ctx, p, omtp.DataNoConnectionCellularRequired)
		return omtp.WithEvent(omtp.DataNoConnectionCellularRequired, err)
	}
	defer h.Release()

	fail := func(err error) error {
		if ev, ok := omtp.EventOf(err); ok {
			env.raise(ctx, p, ev)
		}
		env.raise(ctx, p, omtp.VVM3NewUserSetupFailed)
		return omtp.WithEvent(omtp.VVM3NewUserSetupFailed, err)
	}

	mb, err := env.Mailbox.OpenMailbox(ctx, h, msg)
	if err != nil {
		return fail(fmt.Errorf("opening mailbox: %w", err))
	}
	defer mb.Close()

	code := vvm3LanguageEnglish
	if p.spanish() {
		code = vvm3LanguageSpanish
	}
	if err := mb.ChangeVoicemailLanguage(ctx, code); err != nil {
		return fail(fmt.Errorf("changing voicemail language: %w", err))
	}
	log.Info("new user: language set", mlog.Field("code", code))

	if err := p.setPIN(ctx, env, mb, msg); err == ErrNoDefaultPIN {
		log.Info("new user: no default pin, leaving tutorial open")
		return nil
	} else if err != nil {
		return fail(err)
	}

	if err := mb.CloseNewUserTutorial(ctx); err != nil {
		return fail(fmt.Errorf("closing new user tutorial: %w", err))
	}
	log.Info("new user: tutorial closed")

	if err := p.RequestStatus(ctx, env.ActivationEnv); err != nil {
		return fmt.Errorf("requesting status after provisioning: %w", err)
	}
	return nil
}

func (p vvm3) spanish() bool {
	if p.cfg.Locale == "" {
		return false
	}
	tag, err := language.Parse(p.cfg.Locale)
	if err != nil {
		return false
	}
	base, _ := tag.Base()
	return base == language.MustParseBase("es")
}

// setPIN replaces the default PIN with a random one, once. A PIN change refused
// by the server is logged and leaves the default PIN in place.
func (p vvm3) setPIN(ctx context.Context, env ProvisioningEnv, mb Mailbox, msg omtp.StatusMessage) error {
	log := xlog.WithContext(ctx).Fields(mlog.Field("account", env.AccountID))

	oldPIN, ok := defaultPIN(msg.IMAPUserName)
	if !ok {
		return ErrNoDefaultPIN
	}

	acc, err := env.DB.Account(ctx, env.AccountID)
	if err != nil {
		return fmt.Errorf("get account: %w", err)
	}
	if acc.DefaultPinReplaced {
		log.Info("new user: pin already set")
		return nil
	}

	length := vvm3DefaultPinLength
	if min, _, ok := msg.PinLengthRange(); ok {
		length = min
	}
	newPIN, err := randomDigits(length)
	if err != nil {
		return err
	}
	result, err := mb.ChangePIN(ctx, oldPIN, newPIN)
	if err != nil {
		return fmt.Errorf("changing pin: %w", err)
	}
	if result != omtp.ChangePinSuccess {
		log.Info("new user: pin change refused", mlog.Field("result", result))
		return nil
	}
	_, err = env.DB.UpdateAccount(ctx, env.AccountID, func(a *store.Account) {
		a.DefaultPinReplaced = true
		a.DefaultOldPIN = newPIN
	})
	if err != nil {
		return fmt.Errorf("storing new pin: %w", err)
	}
	env.raise(ctx, p, omtp.ConfigDefaultPinReplaced)
	log.Info("new user: pin set")
	return nil
}

// defaultPIN returns the PIN of a new VVM3 mailbox: "1" followed by the last 4
// digits of the phone number in the IMAP username "<number>@<domain>".
func defaultPIN(username string) (string, bool) {
	number, _, found := strings.Cut(username, "@")
	if !found || len(number) < 4 {
		return "", false
	}
	return "1" + number[len(number)-4:], true
}

// randomDigits returns n random decimal digits.
func randomDigits(n int) (string, error) {
	var b strings.Builder
	ten := big.NewInt(10)
	for i := 0; i < n; i++ {
		d, err := rand.Int(rand.Reader, ten)
		if err != nil {
			return "", fmt.Errorf("generating random digit: %w", err)
		}
		b.WriteByte(byte('0' + d.Int64()))
	}
	return b.String(), nil
}

func (vvm3) TranslateCommand(name string) string {
	switch name {
	case omtp.CommandChangeTUIPassword:
		return vvm3ChangeTUIPasswordFormat
	case omtp.CommandChangeVMLanguage:
		return vvm3ChangeVMLanguageFormat
	case omtp.CommandCloseNUT:
		return vvm3CloseNUT
	}
	return standard{}.TranslateCommand(name)
}

func (p vvm3) HandleEvent(acc *store.Account, event omtp.Event) {
	p.handler.handle(acc, event)
}

// TranslateUnrecognized turns "UNRECOGNIZED" with cmd=STATUS into a STATUS
// message for an unknown subscriber that can subscribe. Servers send it in
// response to a status request when the subscriber is provisioned for another
// kind of client.
func (p vvm3) TranslateUnrecognized(event string, fields map[string]string) (omtp.StatusMessage, bool) {
	if event != omtp.Unrecognized || fields[unrecognizedCommand] != omtp.StatusSMSPrefix {
		return omtp.StatusMessage{}, false
	}
	if p.cfg.DefaultVMGURL == "" {
		xlog.Error("cannot translate unrecognized status message, no default vmg url configured")
		return omtp.StatusMessage{}, false
	}
	return omtp.StatusMessage{
		ProvisioningStatus: omtp.SubscriberUnknown,
		ReturnCode:         vvm3CanSubscribe,
		VMGURL:             p.cfg.DefaultVMGURL,
	}, true
}
