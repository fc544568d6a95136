package protocol

import (
	"context"
)

// cvvm is the protocol of carriers using the CVVM client. It is standard OMTP
// with fixed activation messages.
type cvvm struct {
	standard
}

const cvvmRequestFields = "dt=15"

func (cvvm) Name() string { return "cvvm" }

func (cvvm) StartActivation(ctx context.Context, env ActivationEnv) error {
	return env.sendSMS(ctx, "Activate:"+cvvmRequestFields)
}

func (cvvm) StartDeactivation(ctx context.Context, env ActivationEnv) error {
	return env.sendSMS(ctx, "Deactivate:"+cvvmRequestFields)
}

func (cvvm) RequestStatus(ctx context.Context, env ActivationEnv) error {
	return env.sendSMS(ctx, "Status:"+cvvmRequestFields)
}
