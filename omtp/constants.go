// Package omtp has the OMTP visual voicemail vocabulary: SMS field names and
// values, parsing of carrier SMS messages, the events raised while activating
// and syncing, and the channel states those events map to.
package omtp

// SMS framing. A carrier SMS looks like "//VVM:STATUS:st=N;rc=0;...".
const (
	SMSFieldSeparator    = ";"
	SMSKeyValueSeparator = "="
	SMSPrefixSeparator   = ":"
)

// Events carried in the second section of an SMS.
const (
	SyncSMSPrefix   = "SYNC"
	StatusSMSPrefix = "STATUS"
)

// Layout of the "dt" field in SYNC messages, "dd/MM/yyyy HH:mm Z".
const DateTimeLayout = "02/01/2006 15:04 -0700"

// Protocol versions for the "pv" field of outbound requests.
const (
	ProtocolVersion11 = "11"
	ProtocolVersion12 = "12"
	ProtocolVersion13 = "13"
)

// Outbound (mobile originated) request names and fields.
const (
	ActivateRequest   = "Activate"
	DeactivateRequest = "Deactivate"
	StatusRequest     = "Status"

	ClientType      = "ct"
	ApplicationPort = "pt"
	ProtocolVersion = "pv"
)

// SYNC message fields.
const (
	SyncTriggerEvent = "ev"
	MessageUID       = "id"
	MessageLength    = "l"
	NumMessageCount  = "c"
	ContentType      = "t"
	Sender           = "s"
	Time             = "dt"
)

// Values of the SYNC "ev" field.
const (
	NewMessage      = "NM"
	MailboxUpdate   = "MBU"
	GreetingsUpdate = "GU"
)

// Values of the SYNC "t" field.
const (
	ContentVoice        = "v"
	ContentVideo        = "o"
	ContentFax          = "f"
	ContentInfotainment = "i"
	ContentECC          = "e"
)

// STATUS message fields.
const (
	ProvisioningStatusKey      = "st"
	ReturnCodeKey              = "rc"
	SubscriptionURL            = "rs"
	ServerAddress              = "srv"
	TUIAccessNumber            = "tui"
	TUIPasswordLength          = "pw_len"
	ClientSMSDestinationNumber = "dn"
	IMAPPort                   = "ipt"
	IMAPUserName               = "u"
	IMAPPassword               = "pw"
	SMTPPort                   = "spt"
	SMTPUserName               = "smtp_u"
	SMTPPassword               = "smtp_pw"
	Language                   = "lang"
	GreetingLength             = "g_len"
	VoiceSignatureLength       = "vs_len"

	// Only sent by VVM3 carriers, or synthesized from an UNRECOGNIZED message.
	VMGURL = "vmg_url"
)

// ProvisioningStatus is the "st" field of a STATUS message.
type ProvisioningStatus string

const (
	SubscriberNew         ProvisioningStatus = "N"
	SubscriberReady       ProvisioningStatus = "R"
	SubscriberProvisioned ProvisioningStatus = "P"
	SubscriberUnknown     ProvisioningStatus = "U"
	SubscriberBlocked     ProvisioningStatus = "B"
)

// Return codes, the "rc" field of a STATUS message.
const (
	ReturnSuccess                  = "0"
	ReturnSystemError              = "1"
	ReturnSubscriberError          = "2"
	ReturnMailboxUnknown           = "3"
	ReturnVVMNotActivated          = "4"
	ReturnVVMNotProvisioned        = "5"
	ReturnVVMClientUnknown         = "6"
	ReturnVVMMailboxNotInitialized = "7"
)

// Names of carrier-specific IMAP commands. A protocol variant translates them
// into a format string, see the protocol package.
const (
	CommandChangeTUIPassword = "change_tui_pwd"
	CommandChangeVMLanguage  = "change_vm_lang"
	CommandCloseNUT          = "close_nut"
)

// Standard OMTP formats for the commands above. The PIN change takes the new
// PIN first, then the old PIN.
const (
	IMAPChangeTUIPasswordFormat = "XCHANGE_TUI_PWD PWD=%[1]s OLD_PWD=%[2]s"
	IMAPChangeVMLanguageFormat  = "XCHANGE_VM_LANG LANG=%[1]s"
	IMAPCloseNUT                = "XCLOSE_NUT"
)

// Texts in a NO response to a PIN change.
const (
	ResponseChangePinTooShort         = "password too short"
	ResponseChangePinTooLong          = "password too long"
	ResponseChangePinTooWeak          = "password too weak"
	ResponseChangePinMismatch         = "old password mismatch"
	ResponseChangePinInvalidCharacter = "password contains invalid characters"
)

// ChangePinResult is the outcome of a PIN change.
type ChangePinResult int

const (
	ChangePinSuccess ChangePinResult = iota
	ChangePinTooShort
	ChangePinTooLong
	ChangePinTooWeak
	ChangePinMismatch
	ChangePinInvalidCharacter
	ChangePinSystemError
)

func (r ChangePinResult) String() string {
	switch r {
	case ChangePinSuccess:
		return "success"
	case ChangePinTooShort:
		return "too short"
	case ChangePinTooLong:
		return "too long"
	case ChangePinTooWeak:
		return "too weak"
	case ChangePinMismatch:
		return "old pin mismatch"
	case ChangePinInvalidCharacter:
		return "invalid character"
	}
	return "system error"
}

// ChangePinResultFromText classifies the text of a NO response to a PIN
// change command.
func ChangePinResultFromText(text string) ChangePinResult {
	switch text {
	case ResponseChangePinTooShort:
		return ChangePinTooShort
	case ResponseChangePinTooLong:
		return ChangePinTooLong
	case ResponseChangePinTooWeak:
		return ChangePinTooWeak
	case ResponseChangePinMismatch:
		return ChangePinMismatch
	case ResponseChangePinInvalidCharacter:
		return ChangePinInvalidCharacter
	}
	return ChangePinSystemError
}
