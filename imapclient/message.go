package imapclient

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/emersion/go-message"
	"github.com/emersion/go-message/mail"
	"github.com/emersion/go-message/textproto"

	"github.com/mjl-/vvm/mlog"
)

// System flags kept on messages.
const (
	FlagSeen     = `\Seen`
	FlagDeleted  = `\Deleted`
	FlagAnswered = `\Answered`
	FlagFlagged  = `\Flagged`
)

var knownFlags = []string{FlagSeen, FlagDeleted, FlagAnswered, FlagFlagged}

// Message is a message in a folder, with the fields that were fetched.
type Message struct {
	UID string

	// Fetched with FetchFlags. Only system flags from knownFlags.
	Flags []string

	// Fetched with FetchEnvelope.
	InternalDate time.Time
	Size         int64
	Header       mail.Header

	// Fetched with FetchStructure. Nil if not fetched or not parsable.
	Structure *Part

	// Full message, fetched with FetchBody or FetchBodySane.
	Body []byte

	// Decoded content of FetchProfile.Part.
	PartData []byte
}

// NewMessage returns a message for uid, to be filled by Fetch.
func NewMessage(uid string) *Message {
	return &Message{UID: uid}
}

// HasFlag returns whether flag is set, compared case-insensitively.
func (m *Message) HasFlag(flag string) bool {
	for _, f := range m.Flags {
		if strings.EqualFold(f, flag) {
			return true
		}
	}
	return false
}

func (m *Message) setFlag(flag string) {
	if !m.HasFlag(flag) {
		m.Flags = append(m.Flags, flag)
	}
}

// Date returns the Date header, or the zero time.
func (m *Message) Date() time.Time {
	if m.Header.Len() == 0 {
		return time.Time{}
	}
	t, err := m.Header.Date()
	if err != nil {
		return time.Time{}
	}
	return t
}

// From returns the address of the first From address, or an empty string.
func (m *Message) From() string {
	if m.Header.Len() == 0 {
		return ""
	}
	l, err := m.Header.AddressList("From")
	if err != nil || len(l) == 0 {
		return ""
	}
	return l[0].Address
}

// Duration returns the Content-Duration header in seconds. Ok is false if the
// header is absent or not a number.
func (m *Message) Duration() (seconds int64, ok bool) {
	if m.Header.Len() == 0 {
		return 0, false
	}
	s := strings.TrimSpace(m.Header.Get("Content-Duration"))
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		xlog.Debug("cannot parse content-duration", mlog.Field("duration", s))
		return 0, false
	}
	return v, true
}

// ParseHeader parses a header block, as returned for BODY[HEADER.FIELDS (...)].
func ParseHeader(s string) (mail.Header, error) {
	if !strings.HasSuffix(s, "\r\n\r\n") && !strings.HasSuffix(s, "\n\n") {
		s += "\r\n"
	}
	h, err := textproto.ReadHeader(bufio.NewReader(strings.NewReader(s)))
	if err != nil {
		return mail.Header{}, fmt.Errorf("parsing header: %w", err)
	}
	return mail.Header{Header: message.Header{Header: h}}, nil
}

// DecodeTransfer returns a reader that undoes the content-transfer-encoding,
// e.g. base64 or quoted-printable. An empty encoding is 7bit.
func DecodeTransfer(r io.Reader, encoding string) (io.Reader, error) {
	if encoding == "" {
		encoding = "7bit"
	}
	var h textproto.Header
	h.Set("Content-Transfer-Encoding", encoding)
	e, err := message.New(message.Header{Header: h}, r)
	if err != nil {
		return nil, fmt.Errorf("transfer encoding %q: %w", encoding, err)
	}
	return e.Body, nil
}
