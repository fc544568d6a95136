package omtp

import (
	"fmt"
)

// Configuration channel states.
const (
	ConfigurationStateOK              = 0
	ConfigurationStateNotConfigured   = 1
	ConfigurationStateCanBeConfigured = 2
	ConfigurationStateConfiguring     = 3
	ConfigurationStateFailed          = 4
	ConfigurationStateDisabled        = 5
)

// Data channel states.
const (
	DataStateOK                           = 0
	DataStateNoConnection                 = 1
	DataStateNoConnectionCellularRequired = 2
	DataStateBadConfiguration             = 3
	DataStateCommunicationError           = 4
	DataStateServerError                  = 5
	DataStateServerConnectionError        = 6
)

// Notification channel states.
const (
	NotificationStateOK             = 0
	NotificationStateNoConnection   = 1
	NotificationStateMessageWaiting = 2
)

// QuotaUnavailable is the quota value before the server was asked.
const QuotaUnavailable = -1

// Status is the voicemail status of an account as shown to a user. Each channel
// is either a state constant from above, or a negative carrier-specific error
// code.
type Status struct {
	Configuration int
	Data          int
	Notification  int

	QuotaOccupied int
	QuotaTotal    int
}

// NewStatus returns the status of an account that was never activated.
func NewStatus() Status {
	return Status{
		Configuration: ConfigurationStateNotConfigured,
		Data:          DataStateNoConnection,
		Notification:  NotificationStateNoConnection,
		QuotaOccupied: QuotaUnavailable,
		QuotaTotal:    QuotaUnavailable,
	}
}

// OK returns whether all channels are in a good state.
func (s Status) OK() bool {
	return s.Configuration == ConfigurationStateOK && s.Data == DataStateOK && s.Notification == NotificationStateOK
}

func (s Status) String() string {
	return fmt.Sprintf("configuration=%d data=%d notification=%d quota=%d/%d", s.Configuration, s.Data, s.Notification, s.QuotaOccupied, s.QuotaTotal)
}
