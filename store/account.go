package store

import (
	"time"

	"github.com/mjl-/vvm/omtp"
)

// Account is a voicemail subscription, typically of one SIM.
type Account struct {
	ID string // Subscription, e.g. the phone number.

	VVMType string // omtp, cvvm or vvm3.

	// Disabled locally, e.g. after a VVM3 carrier said the subscriber is provisioned
	// for another client. Activation does not start for disabled accounts.
	Enabled bool

	// Set after a successful activation. A later activation raises
	// CONFIG_ACTIVATING_SUBSEQUENT instead of CONFIG_ACTIVATING.
	Activated bool

	// VVM3 replaces the default PIN during provisioning, and keeps the random PIN
	// so the user can change it later.
	DefaultPinReplaced bool
	DefaultOldPIN      string

	// Status channels, see omtp.Status.
	Configuration int
	Data          int
	Notification  int
	QuotaOccupied int
	QuotaTotal    int

	Created time.Time `bstore:"default now"`
	Updated time.Time
}

// NewAccount returns an enabled account that was never activated.
func NewAccount(id, vvmType string) Account {
	a := Account{ID: id, VVMType: vvmType, Enabled: true}
	a.SetStatus(omtp.NewStatus())
	return a
}

// Status returns the voicemail status of the account.
func (a Account) Status() omtp.Status {
	return omtp.Status{
		Configuration: a.Configuration,
		Data:          a.Data,
		Notification:  a.Notification,
		QuotaOccupied: a.QuotaOccupied,
		QuotaTotal:    a.QuotaTotal,
	}
}

// SetStatus sets the status channels of the account.
func (a *Account) SetStatus(st omtp.Status) {
	a.Configuration = st.Configuration
	a.Data = st.Data
	a.Notification = st.Notification
	a.QuotaOccupied = st.QuotaOccupied
	a.QuotaTotal = st.QuotaTotal
}

// Credentials is the last STATUS message with st=R or a successful
// provisioning, with the IMAP server and credentials to use.
type Credentials struct {
	AccountID string
	omtp.StatusMessage
	Received time.Time
}
