package imapclient

import (
	"fmt"
	"io"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/mjl-/vvm/mlog"
)

// Element is a token in a parsed response: a List or a *String.
type Element interface {
	IsList() bool
	IsString() bool

	// Destroy releases resources, i.e. removes temporary files of literals. After
	// Destroy, strings must not be read.
	Destroy()

	String() string
}

// List is a parenthesized or bracketed list of elements.
type List []Element

var _ Element = List(nil)

func (l List) IsList() bool   { return true }
func (l List) IsString() bool { return false }

// Destroy destroys all elements in the list, recursively.
func (l List) Destroy() {
	for _, e := range l {
		e.Destroy()
	}
}

func (l List) String() string {
	var b strings.Builder
	b.WriteByte('(')
	for i, e := range l {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(e.String())
	}
	b.WriteByte(')')
	return b.String()
}

// Elem returns element i, or an empty string if out of range.
func (l List) Elem(i int) Element {
	if i < 0 || i >= len(l) {
		return emptyString()
	}
	return l[i]
}

// StringAt returns element i if it is a string, or an empty string otherwise.
func (l List) StringAt(i int) *String {
	if s, ok := l.Elem(i).(*String); ok {
		return s
	}
	return emptyString()
}

// ListAt returns element i if it is a list, or an empty list otherwise.
func (l List) ListAt(i int) List {
	if x, ok := l.Elem(i).(List); ok {
		return x
	}
	return List{}
}

// Is returns whether element i is a string equal to text, case-insensitive.
func (l List) Is(i int, text string) bool {
	return l.StringAt(i).Is(text)
}

// Keyed returns the element following the first string element matching key,
// looking at even indices only, as in "UID 1 FLAGS (\Seen)". With prefix, a
// string starting with key matches, for keys like "BODY[" whose full form
// depends on the request. Returns nil if not found.
func (l List) Keyed(key string, prefix bool) Element {
	for i := 0; i+1 < len(l); i += 2 {
		s, ok := l[i].(*String)
		if !ok {
			continue
		}
		if prefix && s.HasPrefix(key) || !prefix && s.Is(key) {
			return l[i+1]
		}
	}
	return nil
}

// KeyedList returns the list for key, or an empty list.
func (l List) KeyedList(key string) List {
	if x, ok := l.Keyed(key, false).(List); ok {
		return x
	}
	return List{}
}

// KeyedString returns the string for key, or an empty string.
func (l List) KeyedString(key string, prefix bool) *String {
	if s, ok := l.Keyed(key, prefix).(*String); ok {
		return s
	}
	return emptyString()
}

type backing int

const (
	backingInline backing = iota // Atom or quoted string.
	backingMemory                // Literal kept in memory.
	backingFile                  // Literal written to a temporary file.
)

// String is an atom, quoted string or literal. Large literals are stored in a
// temporary file instead of memory.
type String struct {
	backing   backing
	text      string
	path      string // For backingFile.
	size      int64
	isNil     bool
	destroyed bool
}

var _ Element = (*String)(nil)

// Empty strings are returned for absent elements. Each is a new value, so a
// caller destroying one cannot affect another.
func emptyString() *String {
	return &String{}
}

func newInline(s string) *String {
	return &String{backing: backingInline, text: s, size: int64(len(s))}
}

func newMemoryLiteral(buf []byte) *String {
	return &String{backing: backingMemory, text: string(buf), size: int64(len(buf))}
}

// newFileLiteral returns a string backed by the file at path, which is removed
// on Destroy. A finalizer removes the file if Destroy is never called, and
// logs an error, as that means a leak.
func newFileLiteral(path string, size int64) *String {
	s := &String{backing: backingFile, path: path, size: size}
	runtime.SetFinalizer(s, func(s *String) {
		if s.path == "" {
			return
		}
		xlog.Error("literal temp file was not destroyed, removing", mlog.Field("path", s.path))
		os.Remove(s.path)
	})
	return s
}

func (s *String) IsList() bool   { return false }
func (s *String) IsString() bool { return true }

func (s *String) check() {
	if s.destroyed {
		panic("imapclient: read of destroyed element")
	}
}

// Destroy removes the temporary file of a literal, if any.
func (s *String) Destroy() {
	if s.destroyed {
		return
	}
	s.destroyed = true
	s.text = ""
	if s.path != "" {
		err := os.Remove(s.path)
		xlog.Check(err, "removing literal temp file", mlog.Field("path", s.path))
		s.path = ""
		runtime.SetFinalizer(s, nil)
	}
}

// IsNil returns whether the string was NIL on the wire. Its text is empty.
func (s *String) IsNil() bool {
	s.check()
	return s.isNil
}

// IsFile returns whether the string is a literal stored in a temporary file.
func (s *String) IsFile() bool {
	s.check()
	return s.backing == backingFile
}

// Len returns the size in bytes.
func (s *String) Len() int64 {
	s.check()
	return s.size
}

// IsEmpty returns whether the string has no content, e.g. NIL, "" or absent.
func (s *String) IsEmpty() bool {
	return s.Len() == 0
}

// Text returns the string. For a literal in a temporary file, the file is read.
func (s *String) Text() string {
	s.check()
	if s.backing != backingFile {
		return s.text
	}
	buf, err := os.ReadFile(s.path)
	if err != nil {
		xlog.Errorx("reading literal temp file", err, mlog.Field("path", s.path))
		return ""
	}
	return string(buf)
}

// Open returns a reader for the contents, for streaming large literals.
func (s *String) Open() (io.ReadCloser, error) {
	s.check()
	if s.backing == backingFile {
		return os.Open(s.path)
	}
	return io.NopCloser(strings.NewReader(s.text)), nil
}

// Is returns whether the text is equal to text, case-insensitive. Literals are
// never compared.
func (s *String) Is(text string) bool {
	s.check()
	return s.backing != backingFile && strings.EqualFold(s.text, text)
}

// HasPrefix returns whether the text starts with prefix, case-insensitive.
func (s *String) HasPrefix(prefix string) bool {
	s.check()
	return s.backing != backingFile && len(s.text) >= len(prefix) && strings.EqualFold(s.text[:len(prefix)], prefix)
}

// Number parses the text as a non-negative decimal number.
func (s *String) Number() (int64, error) {
	t := s.Text()
	if t == "" || strings.TrimLeft(t, "0123456789") != "" {
		return 0, fmt.Errorf("not a number: %q", t)
	}
	return strconv.ParseInt(t, 10, 64)
}

// NumberOrZero is like Number, returning 0 for non-numbers.
func (s *String) NumberOrZero() int64 {
	v, err := s.Number()
	if err != nil {
		return 0
	}
	return v
}

// IsNumber returns whether the text is a number.
func (s *String) IsNumber() bool {
	_, err := s.Number()
	return err == nil
}

// DateLayout is the IMAP date-time format, e.g. "17-Jul-1996 02:44:25 -0700".
// Days can be space-padded.
const DateLayout = "_2-Jan-2006 15:04:05 -0700"

// Date parses the text as IMAP date-time.
func (s *String) Date() (time.Time, error) {
	return time.Parse(DateLayout, strings.TrimPrefix(s.Text(), " "))
}

func (s *String) String() string {
	if s.destroyed {
		return "(destroyed)"
	}
	switch {
	case s.isNil:
		return "NIL"
	case s.backing == backingFile:
		return fmt.Sprintf("{%d bytes in file}", s.size)
	case s.backing == backingMemory:
		return fmt.Sprintf("{%d}", s.size)
	}
	return strconv.Quote(s.text)
}
