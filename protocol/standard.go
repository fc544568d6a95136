package protocol

import (
	"context"
	"strconv"

	"github.com/mjl-/vvm/omtp"
	"github.com/mjl-/vvm/store"
)

// standard is OMTP visual voicemail version 1.3.
type standard struct {
	handler omtp.DefaultHandler
}

func (standard) Name() string { return "omtp" }

var requestKeys = []string{omtp.ProtocolVersion, omtp.ClientType, omtp.ApplicationPort}

func (p standard) request(env ActivationEnv, request string, withPort bool) string {
	fields := map[string]string{
		omtp.ProtocolVersion: omtp.ProtocolVersion13,
		omtp.ClientType:      env.Config.ClientPrefix,
	}
	if withPort && env.Config.ApplicationPort != 0 {
		fields[omtp.ApplicationPort] = strconv.Itoa(env.Config.ApplicationPort)
	}
	return omtp.FormatRequest(request, requestKeys, fields)
}

func (p standard) StartActivation(ctx context.Context, env ActivationEnv) error {
	return env.sendSMS(ctx, p.request(env, omtp.ActivateRequest, true))
}

func (p standard) StartDeactivation(ctx context.Context, env ActivationEnv) error {
	return env.sendSMS(ctx, p.request(env, omtp.DeactivateRequest, false))
}

func (p standard) RequestStatus(ctx context.Context, env ActivationEnv) error {
	return env.sendSMS(ctx, p.request(env, omtp.StatusRequest, true))
}

func (standard) SupportsProvisioning() bool {
	return false
}

func (standard) StartProvisioning(ctx context.Context, env ProvisioningEnv, msg omtp.StatusMessage) error {
	panic("provisioning not supported")
}

func (standard) TranslateCommand(name string) string {
	switch name {
	case omtp.CommandChangeTUIPassword:
		return omtp.IMAPChangeTUIPasswordFormat
	case omtp.CommandChangeVMLanguage:
		return omtp.IMAPChangeVMLanguageFormat
	case omtp.CommandCloseNUT:
		return omtp.IMAPCloseNUT
	}
	return ""
}

func (p standard) HandleEvent(acc *store.Account, event omtp.Event) {
	handleDefault(p.handler, acc, event)
}

func (standard) TranslateUnrecognized(event string, fields map[string]string) (omtp.StatusMessage, bool) {
	return omtp.StatusMessage{}, false
}
