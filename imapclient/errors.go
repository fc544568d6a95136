package imapclient

import (
	"errors"
	"fmt"
)

var (
	ErrBye               = errors.New("received BYE")
	ErrRFC822Unsupported = errors.New("bodystructure message/rfc822 not supported")
	ErrNotOpen           = errors.New("folder not open")
	ErrClosed            = errors.New("connection closed")
)

// Error is used internally by the parser and connection to abort with panic,
// recovered at the API boundary.
type Error struct{ err error }

func (e Error) Error() string {
	return e.err.Error()
}

func (e Error) Unwrap() error {
	return e.err
}

// ProtocolError is a malformed response, or a NO or BAD result of a command.
// I/O errors are returned as is, not as ProtocolError.
type ProtocolError struct {
	Raw          string // Response as received, for diagnostics.
	Status       string // OK, NO, BAD, or empty for grammar errors.
	Message      string // Free text of the response, or description of the grammar error.
	Alert        string // Text if the response code was ALERT.
	ResponseCode string // E.g. READ-ONLY, TRYCREATE.
}

func (e *ProtocolError) Error() string {
	if e.Status == "" {
		return fmt.Sprintf("imap protocol error: %s (%q)", e.Message, e.Raw)
	}
	if e.ResponseCode != "" {
		return fmt.Sprintf("imap %s [%s] %s", e.Status, e.ResponseCode, e.Message)
	}
	return fmt.Sprintf("imap %s %s", e.Status, e.Message)
}

// IsProtocolError returns whether err is or wraps a *ProtocolError.
func IsProtocolError(err error) bool {
	var perr *ProtocolError
	return errors.As(err, &perr)
}

// IsStatusError returns whether err is or wraps a *ProtocolError for a NO or BAD
// result. The connection remains usable after such errors, unlike after
// malformed responses.
func IsStatusError(err error) bool {
	var perr *ProtocolError
	return errors.As(err, &perr) && perr.Status != ""
}

func responseError(r *Response) *ProtocolError {
	return &ProtocolError{
		Raw:          r.String(),
		Status:       r.Status(),
		Message:      r.StatusText(),
		Alert:        r.AlertText(),
		ResponseCode: r.ResponseCode(),
	}
}
