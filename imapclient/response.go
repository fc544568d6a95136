package imapclient

import (
	"strings"
)

// Status words of status responses.
const (
	StatusOK      = "OK"
	StatusNO      = "NO"
	StatusBAD     = "BAD"
	StatusPREAUTH = "PREAUTH"
	StatusBYE     = "BYE"
)

// Response is a single response line, with embedded literals. An empty Tag means
// the response is untagged. For a continuation request, the list holds a single
// string with the text after "+ ".
type Response struct {
	Tag          string
	Continuation bool
	List
}

// IsTagged returns whether the response is a tagged command completion.
func (r *Response) IsTagged() bool {
	return r.Tag != ""
}

// IsStatus returns whether the first element is a status word.
func (r *Response) IsStatus() bool {
	if r.Continuation {
		return false
	}
	s := r.StringAt(0)
	return s.Is(StatusOK) || s.Is(StatusNO) || s.Is(StatusBAD) || s.Is(StatusPREAUTH) || s.Is(StatusBYE)
}

// Status returns the status word in upper case, or an empty string for data
// responses.
func (r *Response) Status() string {
	if !r.IsStatus() {
		return ""
	}
	return strings.ToUpper(r.StringAt(0).Text())
}

// IsOK returns whether this is an OK status response.
func (r *Response) IsOK() bool {
	return r.IsStatus() && r.StringAt(0).Is(StatusOK)
}

// IsDataResponse returns whether this is an untagged response with name at
// index i, e.g. (1, "EXISTS") for "* 23 EXISTS", or (0, "SEARCH").
func (r *Response) IsDataResponse(i int, name string) bool {
	return !r.IsTagged() && !r.Continuation && r.Is(i, name)
}

// ResponseCode returns the upper-cased response code of a status response, e.g.
// "READ-WRITE", or an empty string.
func (r *Response) ResponseCode() string {
	if !r.IsStatus() {
		return ""
	}
	return strings.ToUpper(r.ListAt(1).StringAt(0).Text())
}

// ResponseCodeList returns the full bracketed response code.
func (r *Response) ResponseCodeList() List {
	if !r.IsStatus() {
		return List{}
	}
	return r.ListAt(1)
}

// StatusText returns the free text of a status response.
func (r *Response) StatusText() string {
	if r.Elem(1).IsList() {
		return r.StringAt(2).Text()
	}
	return r.StringAt(1).Text()
}

// AlertText returns the text of a status response with ALERT response code.
func (r *Response) AlertText() string {
	if r.ResponseCode() != "ALERT" {
		return ""
	}
	return r.StatusText()
}

// ContinuationText returns the text of a continuation request.
func (r *Response) ContinuationText() string {
	return r.StringAt(0).Text()
}

// Destroy removes temporary files of literals in the response.
func (r *Response) Destroy() {
	r.List.Destroy()
}

func (r *Response) String() string {
	var b strings.Builder
	switch {
	case r.Continuation:
		b.WriteString("+")
	case r.Tag == "":
		b.WriteString("*")
	default:
		b.WriteString(r.Tag)
	}
	for _, e := range r.List {
		b.WriteByte(' ')
		if s, ok := e.(*String); ok && s.backing == backingInline && !s.destroyed && !s.isNil {
			b.WriteString(s.text)
		} else {
			b.WriteString(e.String())
		}
	}
	return b.String()
}
