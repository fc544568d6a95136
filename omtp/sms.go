package omtp

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Unrecognized is the event of SMS messages that are neither STATUS nor SYNC.
// Some carriers send those, see the protocol package.
const Unrecognized = "UNRECOGNIZED"

var ErrNoPrefix = errors.New("sms does not start with client prefix")

// Message is a parsed carrier SMS, e.g. "//VVM:STATUS:st=N;rc=0".
type Message struct {
	Event  string // STATUS, SYNC or the original event for unrecognized messages.
	Fields map[string]string
}

// IsStatus returns whether the message is a STATUS message.
func (m Message) IsStatus() bool {
	return m.Event == StatusSMSPrefix
}

// IsSync returns whether the message is a SYNC message.
func (m Message) IsSync() bool {
	return m.Event == SyncSMSPrefix
}

// ParseSMS parses a text message sent by the voicemail server. The message must
// start with the client prefix (e.g. "//VVM") followed by ":", the event and
// ":", then fields separated by ";".
func ParseSMS(prefix, text string) (Message, error) {
	if !strings.HasPrefix(text, prefix+SMSPrefixSeparator) {
		return Message{}, fmt.Errorf("%w: %q", ErrNoPrefix, prefix)
	}
	text = strings.TrimPrefix(text, prefix+SMSPrefixSeparator)
	event, rest, _ := strings.Cut(text, SMSPrefixSeparator)
	if event == "" {
		return Message{}, fmt.Errorf("missing event in sms")
	}
	m := Message{Event: event, Fields: ParseFields(rest)}
	return m, nil
}

// ParseFields parses "k=v;k=v". Fields without "=" are kept with an empty value.
// Values can contain "=", only the first one separates.
func ParseFields(s string) map[string]string {
	fields := map[string]string{}
	for _, f := range strings.Split(s, SMSFieldSeparator) {
		f = strings.TrimSpace(f)
		if f == "" {
			continue
		}
		k, v, _ := strings.Cut(f, SMSKeyValueSeparator)
		fields[k] = v
	}
	return fields
}

// StatusMessage is the content of a STATUS message. Carriers send one in
// response to an activation or status request, and when the provisioning state
// changes.
type StatusMessage struct {
	ProvisioningStatus ProvisioningStatus
	ReturnCode         string
	SubscriptionURL    string
	ServerAddress      string
	TUIAccessNumber    string
	TUIPasswordLength  string
	ClientSMSDest      string
	IMAPPort           string
	IMAPUserName       string
	IMAPPassword       string `mlog:"secret"`
	SMTPPort           string
	SMTPUserName       string
	SMTPPassword       string `mlog:"secret"`
	Language           string
	GreetingLength     string
	VoiceSignatureLen  string
	VMGURL             string
}

// NewStatusMessage returns the typed view of the fields of a STATUS message.
func NewStatusMessage(fields map[string]string) StatusMessage {
	return StatusMessage{
		ProvisioningStatus: ProvisioningStatus(fields[ProvisioningStatusKey]),
		ReturnCode:         fields[ReturnCodeKey],
		SubscriptionURL:    fields[SubscriptionURL],
		ServerAddress:      fields[ServerAddress],
		TUIAccessNumber:    fields[TUIAccessNumber],
		TUIPasswordLength:  fields[TUIPasswordLength],
		ClientSMSDest:      fields[ClientSMSDestinationNumber],
		IMAPPort:           fields[IMAPPort],
		IMAPUserName:       fields[IMAPUserName],
		IMAPPassword:       fields[IMAPPassword],
		SMTPPort:           fields[SMTPPort],
		SMTPUserName:       fields[SMTPUserName],
		SMTPPassword:       fields[SMTPPassword],
		Language:           fields[Language],
		GreetingLength:     fields[GreetingLength],
		VoiceSignatureLen:  fields[VoiceSignatureLength],
		VMGURL:             fields[VMGURL],
	}
}

// Fields returns the message as SMS fields, leaving out empty values.
func (m StatusMessage) Fields() map[string]string {
	r := map[string]string{}
	add := func(k, v string) {
		if v != "" {
			r[k] = v
		}
	}
	add(ProvisioningStatusKey, string(m.ProvisioningStatus))
	add(ReturnCodeKey, m.ReturnCode)
	add(SubscriptionURL, m.SubscriptionURL)
	add(ServerAddress, m.ServerAddress)
	add(TUIAccessNumber, m.TUIAccessNumber)
	add(TUIPasswordLength, m.TUIPasswordLength)
	add(ClientSMSDestinationNumber, m.ClientSMSDest)
	add(IMAPPort, m.IMAPPort)
	add(IMAPUserName, m.IMAPUserName)
	add(IMAPPassword, m.IMAPPassword)
	add(SMTPPort, m.SMTPPort)
	add(SMTPUserName, m.SMTPUserName)
	add(SMTPPassword, m.SMTPPassword)
	add(Language, m.Language)
	add(GreetingLength, m.GreetingLength)
	add(VoiceSignatureLength, m.VoiceSignatureLen)
	add(VMGURL, m.VMGURL)
	return r
}

// PinLengthRange parses the "pw_len" field, e.g. "4-7". Ok is false if the
// field is absent or malformed.
func (m StatusMessage) PinLengthRange() (min, max int, ok bool) {
	s, e, found := strings.Cut(m.TUIPasswordLength, "-")
	if !found {
		return 0, 0, false
	}
	var err1, err2 error
	min, err1 = strconv.Atoi(strings.TrimSpace(s))
	max, err2 = strconv.Atoi(strings.TrimSpace(e))
	if err1 != nil || err2 != nil || min <= 0 || max < min {
		return 0, 0, false
	}
	return min, max, true
}

// SyncMessage is the content of a SYNC message, sent by the server when the
// mailbox changed.
type SyncMessage struct {
	Event       string // NM, MBU or GU.
	UID         string
	Length      int
	Count       int
	ContentType string
	Sender      string
	Time        time.Time // Zero if absent or unparsable.
}

// NewSyncMessage returns the typed view of the fields of a SYNC message.
func NewSyncMessage(fields map[string]string) SyncMessage {
	m := SyncMessage{
		Event:       fields[SyncTriggerEvent],
		UID:         fields[MessageUID],
		ContentType: fields[ContentType],
		Sender:      fields[Sender],
	}
	m.Length, _ = strconv.Atoi(fields[MessageLength])
	m.Count, _ = strconv.Atoi(fields[NumMessageCount])
	if s := fields[Time]; s != "" {
		if t, err := time.Parse(DateTimeLayout, s); err == nil {
			m.Time = t
		}
	}
	return m
}
