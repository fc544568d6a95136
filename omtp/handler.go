package omtp

// DefaultHandler maps events to status channel states for carriers without
// their own error codes.
type DefaultHandler struct {
	// If set, losing the notification channel means the data channel needs
	// cellular data too.
	CellularDataRequired bool
}

// Handle applies event to st. It returns false for events it does not know.
func (h DefaultHandler) Handle(st *Status, event Event) bool {
	switch event.Type() {
	case TypeConfiguration:
		return h.configuration(st, event)
	case TypeDataChannel:
		return h.data(st, event)
	case TypeNotificationChannel:
		return h.notification(st, event)
	case TypeOther:
		return h.other(st, event)
	}
	return false
}

func (h DefaultHandler) configuration(st *Status, event Event) bool {
	switch event {
	case ConfigDefaultPinReplaced, ConfigRequestStatusSuccess, ConfigPinSet:
		st.Configuration = ConfigurationStateOK
		st.Notification = NotificationStateOK
	case ConfigActivating:
		// A new activation attempt. Errors of earlier attempts no longer apply.
		st.Configuration = ConfigurationStateConfiguring
		st.Notification = NotificationStateOK
		st.Data = DataStateOK
	case ConfigActivatingSubsequent:
		st.Configuration = ConfigurationStateOK
		st.Notification = NotificationStateOK
		st.Data = DataStateOK
	case ConfigServiceNotAvailable, ConfigStatusSMSTimeOut:
		st.Configuration = ConfigurationStateFailed
	default:
		return false
	}
	return true
}

func (h DefaultHandler) data(st *Status, event Event) bool {
	switch event {
	case DataIMAPOperationStarted, DataIMAPOperationCompleted:
		st.Data = DataStateOK
	case DataNoConnection:
		st.Data = DataStateNoConnection
	case DataNoConnectionCellularRequired:
		st.Data = DataStateNoConnectionCellularRequired
	case DataInvalidPort, DataBadIMAPCredential,
		DataAuthUnknownUser, DataAuthUnknownDevice, DataAuthInvalidPassword,
		DataAuthMailboxNotInitialized, DataAuthServiceNotProvisioned,
		DataAuthServiceNotActivated, DataAuthUserIsBlocked:
		st.Data = DataStateBadConfiguration
	case DataCannotResolveHostOnNetwork:
		st.Data = DataStateServerConnectionError
	case DataSSLInvalidHostName, DataCannotEstablishSSLSession, DataIOEOnOpen, DataGenericIMAPIOE:
		st.Data = DataStateCommunicationError
	case DataRejectedServerResponse, DataInvalidInitialServerResponse, DataMailboxOpenFailed,
		DataSSLException, DataAllSocketConnectionFailed:
		st.Data = DataStateServerError
	default:
		return false
	}
	return true
}

func (h DefaultHandler) notification(st *Status, event Event) bool {
	switch event {
	case NotificationInService:
		st.Notification = NotificationStateOK
		// Data channel errors caused by the lost connection no longer apply.
		if st.Data == DataStateNoConnection || st.Data == DataStateNoConnectionCellularRequired {
			st.Data = DataStateOK
		}
	case NotificationServiceLost:
		st.Notification = NotificationStateNoConnection
		if h.CellularDataRequired {
			st.Data = DataStateNoConnectionCellularRequired
		} else {
			st.Data = DataStateNoConnection
		}
	default:
		return false
	}
	return true
}

func (h DefaultHandler) other(st *Status, event Event) bool {
	switch event {
	case OtherSourceRemoved:
		st.Configuration = ConfigurationStateNotConfigured
		st.Notification = NotificationStateNoConnection
		st.Data = DataStateNoConnection
	default:
		return false
	}
	return true
}
