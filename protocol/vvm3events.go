package protocol

import (
	"github.com/mjl-/vvm/mlog"
	"github.com/mjl-/vvm/omtp"
	"github.com/mjl-/vvm/store"
)

// VVM3 error codes, shown in a status channel instead of a state.
const (
	VVM3VMSDNSFailure    = -9001
	VVM3VMGDNSFailure    = -9002
	VVM3SPGDNSFailure    = -9003
	VVM3VMSNoCellular    = -9004
	VVM3VMGNoCellular    = -9005
	VVM3SPGNoCellular    = -9006
	VVM3VMSTimeout       = -9007
	VVM3VMGTimeout       = -9008
	VVM3StatusSMSTimeout = -9009

	VVM3SubscriberBlocked      = -9990
	VVM3UnknownUser            = -9991
	VVM3UnknownDevice          = -9992
	VVM3InvalidPassword        = -9993
	VVM3MailboxNotInitialized  = -9994
	VVM3ServiceNotProvisioned  = -9995
	VVM3ServiceNotActivated    = -9996
	VVM3IMAPGetQuotaError      = -9997
	VVM3UserBlocked            = -9998
	VVM3IMAPSelectError        = -9989
	VVM3IMAPError              = -9999
	VVM3VMGInternalError       = -101
	VVM3VMGDBError             = -102
	VVM3VMGCommunicationError  = -103
	VVM3SPGURLNotFound         = -301
	VVM3VMGUnknownError        = -1
	VVM3PinNotSet              = -100
	VVM3SubscriberUnknownError = -99
)

type vvm3Channel int

const (
	channelConfiguration vvm3Channel = iota
	channelData
	channelNotification
)

var vvm3CodeChannels = map[int]vvm3Channel{
	VVM3VMGDNSFailure:          channelConfiguration,
	VVM3SPGDNSFailure:          channelConfiguration,
	VVM3VMGNoCellular:          channelConfiguration,
	VVM3SPGNoCellular:          channelConfiguration,
	VVM3VMGTimeout:             channelConfiguration,
	VVM3SubscriberBlocked:      channelConfiguration,
	VVM3UnknownUser:            channelConfiguration,
	VVM3UnknownDevice:          channelConfiguration,
	VVM3InvalidPassword:        channelConfiguration,
	VVM3MailboxNotInitialized:  channelConfiguration,
	VVM3ServiceNotProvisioned:  channelConfiguration,
	VVM3ServiceNotActivated:    channelConfiguration,
	VVM3UserBlocked:            channelConfiguration,
	VVM3VMGUnknownError:        channelConfiguration,
	VVM3SPGURLNotFound:         channelConfiguration,
	VVM3VMGInternalError:       channelConfiguration,
	VVM3VMGDBError:             channelConfiguration,
	VVM3VMGCommunicationError:  channelConfiguration,
	VVM3PinNotSet:              channelConfiguration,
	VVM3SubscriberUnknownError: channelConfiguration,

	VVM3VMSNoCellular:     channelData,
	VVM3VMSDNSFailure:     channelData,
	VVM3VMSTimeout:        channelData,
	VVM3IMAPGetQuotaError: channelData,
	VVM3IMAPSelectError:   channelData,
	VVM3IMAPError:         channelData,

	VVM3StatusSMSTimeout: channelNotification,
}

var vvm3DataCodes = map[omtp.Event]int{
	omtp.DataNoConnection:                 VVM3VMSNoCellular,
	omtp.DataNoConnectionCellularRequired: VVM3VMSNoCellular,
	omtp.DataAllSocketConnectionFailed:    VVM3VMSNoCellular,
	omtp.DataSSLInvalidHostName:           VVM3VMSTimeout,
	omtp.DataCannotEstablishSSLSession:    VVM3VMSTimeout,
	omtp.DataIOEOnOpen:                    VVM3VMSTimeout,
	omtp.DataCannotResolveHostOnNetwork:   VVM3VMSDNSFailure,
	omtp.DataBadIMAPCredential:            VVM3IMAPError,
	omtp.DataAuthUnknownUser:              VVM3UnknownUser,
	omtp.DataAuthUnknownDevice:            VVM3UnknownDevice,
	omtp.DataAuthInvalidPassword:          VVM3InvalidPassword,
	omtp.DataAuthMailboxNotInitialized:    VVM3MailboxNotInitialized,
	omtp.DataAuthServiceNotProvisioned:    VVM3ServiceNotProvisioned,
	omtp.DataAuthServiceNotActivated:      VVM3ServiceNotActivated,
	omtp.DataAuthUserIsBlocked:            VVM3UserBlocked,
	omtp.DataRejectedServerResponse:       VVM3IMAPError,
	omtp.DataInvalidInitialServerResponse: VVM3IMAPError,
	omtp.DataSSLException:                 VVM3IMAPError,
}

var vvm3OtherCodes = map[omtp.Event]int{
	omtp.VVM3NewUserSetupFailed:    VVM3MailboxNotInitialized,
	omtp.VVM3VMGDNSFailure:         VVM3VMGDNSFailure,
	omtp.VVM3SPGDNSFailure:         VVM3SPGDNSFailure,
	omtp.VVM3VMGConnectionFailed:   VVM3VMGNoCellular,
	omtp.VVM3SPGConnectionFailed:   VVM3SPGNoCellular,
	omtp.VVM3VMGTimeout:            VVM3VMGTimeout,
	omtp.VVM3SubscriberProvisioned: VVM3ServiceNotActivated,
	omtp.VVM3SubscriberBlocked:     VVM3SubscriberBlocked,
	omtp.VVM3SubscriberUnknown:     VVM3SubscriberUnknownError,
}

// vvm3Handler maps events to VVM3 error codes, and falls back to the default
// OMTP handling for events without a VVM3 code.
type vvm3Handler struct {
	fallback omtp.DefaultHandler
}

func (h vvm3Handler) handle(acc *store.Account, event omtp.Event) {
	st := acc.Status()
	handled := false
	switch event.Type() {
	case omtp.TypeConfiguration:
		handled = h.configuration(acc, &st, event)
	case omtp.TypeDataChannel:
		var code int
		if code, handled = vvm3DataCodes[event]; handled {
			postError(&st, code)
		}
	case omtp.TypeOther:
		var code int
		if code, handled = vvm3OtherCodes[event]; handled {
			postError(&st, code)
		}
	}
	if !handled {
		if !h.fallback.Handle(&st, event) {
			xlog.Error("unhandled event", mlog.Field("account", acc.ID), mlog.Field("event", event))
			return
		}
	}
	acc.SetStatus(st)
}

// configuration handles configuration events. While the random PIN set during
// provisioning has not been changed by the user, the configuration channel
// shows PIN_NOT_SET.
func (h vvm3Handler) configuration(acc *store.Account, st *omtp.Status, event omtp.Event) bool {
	switch event {
	case omtp.ConfigRequestStatusSuccess:
		if !acc.DefaultPinReplaced {
			return false
		}
		postError(st, VVM3PinNotSet)
	case omtp.ConfigActivatingSubsequent:
		if acc.DefaultPinReplaced {
			st.Configuration = VVM3PinNotSet
		} else {
			st.Configuration = omtp.ConfigurationStateOK
		}
		st.Notification = omtp.NotificationStateOK
		st.Data = omtp.DataStateOK
	case omtp.ConfigDefaultPinReplaced:
		postError(st, VVM3PinNotSet)
	case omtp.ConfigStatusSMSTimeOut:
		postError(st, VVM3StatusSMSTimeout)
	default:
		return false
	}
	return true
}

func postError(st *omtp.Status, code int) {
	ch, ok := vvm3CodeChannels[code]
	if !ok {
		xlog.Error("unknown vvm3 error code", mlog.Field("code", code))
		return
	}
	switch ch {
	case channelConfiguration:
		st.Configuration = code
	case channelData:
		st.Data = code
	case channelNotification:
		st.Notification = code
	}
}
