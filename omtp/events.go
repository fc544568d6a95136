package omtp

import (
	"errors"
	"fmt"
)

// EventType is the status channel an event is about.
type EventType int

const (
	TypeConfiguration EventType = iota
	TypeDataChannel
	TypeNotificationChannel
	TypeOther
)

func (t EventType) String() string {
	switch t {
	case TypeConfiguration:
		return "configuration"
	case TypeDataChannel:
		return "data"
	case TypeNotificationChannel:
		return "notification"
	}
	return "other"
}

// Event is raised during activation, provisioning and IMAP operations. Protocol
// variants translate events into status channel states.
type Event int

const (
	EventNone Event = iota

	ConfigActivating
	ConfigRequestStatusSuccess
	ConfigPinSet
	ConfigDefaultPinReplaced
	ConfigActivatingSubsequent
	ConfigStatusSMSTimeOut
	ConfigServiceNotAvailable

	DataIMAPOperationStarted
	DataIMAPOperationCompleted
	DataInvalidPort
	DataNoConnection
	DataNoConnectionCellularRequired
	DataCannotResolveHostOnNetwork
	DataAllSocketConnectionFailed
	DataCannotEstablishSSLSession
	DataSSLInvalidHostName
	DataSSLException
	DataInvalidInitialServerResponse
	DataIOEOnOpen
	DataMailboxOpenFailed
	DataGenericIMAPIOE
	DataBadIMAPCredential
	DataAuthUnknownUser
	DataAuthUnknownDevice
	DataAuthInvalidPassword
	DataAuthMailboxNotInitialized
	DataAuthServiceNotProvisioned
	DataAuthServiceNotActivated
	DataAuthUserIsBlocked
	DataRejectedServerResponse

	NotificationInService
	NotificationServiceLost

	OtherSourceRemoved

	VVM3NewUserSetupFailed
	VVM3VMGDNSFailure
	VVM3SPGDNSFailure
	VVM3VMGConnectionFailed
	VVM3SPGConnectionFailed
	VVM3VMGTimeout
	VVM3StatusSMSTimeout
	VVM3SubscriberProvisioned
	VVM3SubscriberBlocked
	VVM3SubscriberUnknown
)

type eventInfo struct {
	name string
	typ  EventType
}

var events = map[Event]eventInfo{
	ConfigActivating:           {"CONFIG_ACTIVATING", TypeConfiguration},
	ConfigRequestStatusSuccess: {"CONFIG_REQUEST_STATUS_SUCCESS", TypeConfiguration},
	ConfigPinSet:               {"CONFIG_PIN_SET", TypeConfiguration},
	ConfigDefaultPinReplaced:   {"CONFIG_DEFAULT_PIN_REPLACED", TypeConfiguration},
	ConfigActivatingSubsequent: {"CONFIG_ACTIVATING_SUBSEQUENT", TypeConfiguration},
	ConfigStatusSMSTimeOut:     {"CONFIG_STATUS_SMS_TIME_OUT", TypeConfiguration},
	ConfigServiceNotAvailable:  {"CONFIG_SERVICE_NOT_AVAILABLE", TypeConfiguration},

	DataIMAPOperationStarted:         {"DATA_IMAP_OPERATION_STARTED", TypeDataChannel},
	DataIMAPOperationCompleted:       {"DATA_IMAP_OPERATION_COMPLETED", TypeDataChannel},
	DataInvalidPort:                  {"DATA_INVALID_PORT", TypeDataChannel},
	DataNoConnection:                 {"DATA_NO_CONNECTION", TypeDataChannel},
	DataNoConnectionCellularRequired: {"DATA_NO_CONNECTION_CELLULAR_REQUIRED", TypeDataChannel},
	DataCannotResolveHostOnNetwork:   {"DATA_CANNOT_RESOLVE_HOST_ON_NETWORK", TypeDataChannel},
	DataAllSocketConnectionFailed:    {"DATA_ALL_SOCKET_CONNECTION_FAILED", TypeDataChannel},
	DataCannotEstablishSSLSession:    {"DATA_CANNOT_ESTABLISH_SSL_SESSION", TypeDataChannel},
	DataSSLInvalidHostName:           {"DATA_SSL_INVALID_HOST_NAME", TypeDataChannel},
	DataSSLException:                 {"DATA_SSL_EXCEPTION", TypeDataChannel},
	DataInvalidInitialServerResponse: {"DATA_INVALID_INITIAL_SERVER_RESPONSE", TypeDataChannel},
	DataIOEOnOpen:                    {"DATA_IOE_ON_OPEN", TypeDataChannel},
	DataMailboxOpenFailed:            {"DATA_MAILBOX_OPEN_FAILED", TypeDataChannel},
	DataGenericIMAPIOE:               {"DATA_GENERIC_IMAP_IOE", TypeDataChannel},
	DataBadIMAPCredential:            {"DATA_BAD_IMAP_CREDENTIAL", TypeDataChannel},
	DataAuthUnknownUser:              {"DATA_AUTH_UNKNOWN_USER", TypeDataChannel},
	DataAuthUnknownDevice:            {"DATA_AUTH_UNKNOWN_DEVICE", TypeDataChannel},
	DataAuthInvalidPassword:          {"DATA_AUTH_INVALID_PASSWORD", TypeDataChannel},
	DataAuthMailboxNotInitialized:    {"DATA_AUTH_MAILBOX_NOT_INITIALIZED", TypeDataChannel},
	DataAuthServiceNotProvisioned:    {"DATA_AUTH_SERVICE_NOT_PROVISIONED", TypeDataChannel},
	DataAuthServiceNotActivated:      {"DATA_AUTH_SERVICE_NOT_ACTIVATED", TypeDataChannel},
	DataAuthUserIsBlocked:            {"DATA_AUTH_USER_IS_BLOCKED", TypeDataChannel},
	DataRejectedServerResponse:       {"DATA_REJECTED_SERVER_RESPONSE", TypeDataChannel},

	NotificationInService:   {"NOTIFICATION_IN_SERVICE", TypeNotificationChannel},
	NotificationServiceLost: {"NOTIFICATION_SERVICE_LOST", TypeNotificationChannel},

	OtherSourceRemoved: {"OTHER_SOURCE_REMOVED", TypeOther},

	VVM3NewUserSetupFailed:    {"VVM3_NEW_USER_SETUP_FAILED", TypeOther},
	VVM3VMGDNSFailure:         {"VVM3_VMG_DNS_FAILURE", TypeOther},
	VVM3SPGDNSFailure:         {"VVM3_SPG_DNS_FAILURE", TypeOther},
	VVM3VMGConnectionFailed:   {"VVM3_VMG_CONNECTION_FAILED", TypeOther},
	VVM3SPGConnectionFailed:   {"VVM3_SPG_CONNECTION_FAILED", TypeOther},
	VVM3VMGTimeout:            {"VVM3_VMG_TIMEOUT", TypeOther},
	VVM3StatusSMSTimeout:      {"VVM3_STATUS_SMS_TIMEOUT", TypeOther},
	VVM3SubscriberProvisioned: {"VVM3_SUBSCRIBER_PROVISIONED", TypeOther},
	VVM3SubscriberBlocked:     {"VVM3_SUBSCRIBER_BLOCKED", TypeOther},
	VVM3SubscriberUnknown:     {"VVM3_SUBSCRIBER_UNKNOWN", TypeOther},
}

func (e Event) String() string {
	if info, ok := events[e]; ok {
		return info.name
	}
	return fmt.Sprintf("event(%d)", int(e))
}

// Type returns the channel the event affects.
func (e Event) Type() EventType {
	return events[e].typ
}

// EventErr is an error that carries the event to raise for it. Lower layers
// (imapclient, protocol) return these, the caller that owns the status decides
// when to apply the event.
type EventErr struct {
	Event Event
	Err   error
}

func (e *EventErr) Error() string {
	if e.Err == nil {
		return e.Event.String()
	}
	return fmt.Sprintf("%s: %v", e.Event, e.Err)
}

func (e *EventErr) Unwrap() error {
	return e.Err
}

// OmtpEvent returns the event for the error.
func (e *EventErr) OmtpEvent() Event {
	return e.Event
}

// Errorf returns an error carrying event, with a message like fmt.Errorf.
func Errorf(event Event, format string, args ...any) error {
	return &EventErr{event, fmt.Errorf(format, args...)}
}

// WithEvent wraps err so it carries event. A nil err stays nil.
func WithEvent(event Event, err error) error {
	if err == nil {
		return nil
	}
	return &EventErr{event, err}
}

// EventOf returns the first event found in the chain of err.
func EventOf(err error) (Event, bool) {
	var ee interface{ OmtpEvent() Event }
	if errors.As(err, &ee) {
		return ee.OmtpEvent(), true
	}
	return EventNone, false
}
