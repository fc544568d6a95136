package imapclient

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/mjl-/vvm/mlog"
	"github.com/mjl-/vvm/vvmio"
)

// DefaultLiteralThreshold is the size above which literals are written to a
// temporary file instead of kept in memory.
const DefaultLiteralThreshold = 2 * 1024 * 1024

// MaxLiteralSize is the largest literal accepted from a server. Larger sizes
// are malformed responses.
const MaxLiteralSize = 1 << 30

// Literals above this size are always stored in a temporary file, also when
// LiteralThreshold is negative.
const maxMemoryLiteral = 32 * 1024 * 1024

// Max number of bytes of a response kept for error messages.
const maxRecord = 1024

// Parser reads responses from an IMAP server. Responses are parsed into a
// generic Element tree, interpretation is left to the caller.
type Parser struct {
	// Literals larger than this are stored in a temporary file. A negative value
	// stores literals in memory up to 32MiB.
	LiteralThreshold int64

	// Directory for literal temporary files, os.TempDir() if empty.
	TempDir string

	br  *bufio.Reader
	tr  *vvmio.TraceReader // Optional, for switching to tracedata during literals.
	log *mlog.Log

	record []byte
	files  []*String // File literals of the response being parsed, destroyed on error.
}

// NewParser returns a parser reading from br. If tr is not nil, it is the trace
// reader under br and its level is raised while reading literals.
func NewParser(br *bufio.Reader, tr *vvmio.TraceReader, log *mlog.Log) *Parser {
	if log == nil {
		log = xlog
	}
	return &Parser{LiteralThreshold: DefaultLiteralThreshold, br: br, tr: tr, log: log}
}

func (p *Parser) xerrorf(format string, args ...any) {
	panic(Error{&ProtocolError{Message: fmt.Sprintf(format, args...)}})
}

func (p *Parser) xcheckf(err error, format string, args ...any) {
	if err != nil {
		panic(Error{fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)})
	}
}

func (p *Parser) recordAdd(buf []byte) {
	if len(p.record) < maxRecord {
		p.record = append(p.record, buf...)
	}
}

func (p *Parser) xbyte() byte {
	b, err := p.br.ReadByte()
	p.xcheckf(err, "read")
	p.recordAdd([]byte{b})
	return b
}

// xpeek returns the next byte without consuming it.
func (p *Parser) xpeek() byte {
	buf, err := p.br.Peek(1)
	p.xcheckf(err, "read")
	return buf[0]
}

func (p *Parser) take(b byte) bool {
	if p.xpeek() == b {
		p.xbyte()
		return true
	}
	return false
}

func (p *Parser) xtake(b byte) {
	if x := p.xbyte(); x != b {
		p.xerrorf("got %q, expected %q", x, b)
	}
}

func (p *Parser) xcrlf() {
	p.xtake('\r')
	p.xtake('\n')
}

// xline reads the remainder of the line, without the CRLF.
func (p *Parser) xline() string {
	var b strings.Builder
	for {
		c := p.xbyte()
		if c == '\r' {
			p.xtake('\n')
			return b.String()
		}
		b.WriteByte(c)
	}
}

// context returns bytes already buffered after an error, without blocking, for
// diagnostics.
func (p *Parser) context() string {
	n := p.br.Buffered()
	if n > 64 {
		n = 64
	}
	buf, _ := p.br.Peek(n)
	_, _ = p.br.Discard(len(buf))
	return string(buf)
}

// ReadResponse reads a single response. With expectBye, a BYE status response
// is returned as response, otherwise ErrBye is returned.
//
// Grammar errors result in a *ProtocolError, I/O errors are returned as is. On
// errors, temporary files for literals are removed.
func (p *Parser) ReadResponse(expectBye bool) (resp *Response, rerr error) {
	p.record = p.record[:0]
	p.files = nil

	defer func() {
		x := recover()
		if x == nil {
			return
		}
		err, ok := x.(Error)
		if !ok {
			panic(x)
		}
		for _, s := range p.files {
			s.Destroy()
		}
		p.files = nil
		resp = nil
		rerr = err.err
		var perr *ProtocolError
		if errors.As(rerr, &perr) && perr.Raw == "" {
			perr.Raw = string(p.record) + p.context()
			p.log.Debug("malformed response", mlog.Field("raw", perr.Raw), mlog.Field("err", perr.Message))
		}
	}()

	r := &Response{}
	if p.take('+') {
		p.take(' ')
		r.Continuation = true
		r.List = List{newInline(p.xline())}
		return r, nil
	}

	tag := p.xbare()
	if tag == "" {
		p.xerrorf("missing tag")
	}
	if tag != "*" {
		r.Tag = tag
	}
	p.xtake(' ')

	first := p.xbare()
	if first == "" {
		p.xerrorf("missing response name")
	}
	r.List = List{newInline(first)}
	if r.IsStatus() {
		if p.take(' ') {
			if p.take('[') {
				r.List = append(r.List, p.xelements(']'))
				p.take(' ')
			}
			if text := p.xline(); text != "" {
				r.List = append(r.List, newInline(text))
			}
		} else {
			p.xcrlf()
		}
		if r.Status() == StatusBYE && !expectBye {
			text := r.StatusText()
			r.Destroy()
			return nil, fmt.Errorf("%w: %s", ErrBye, text)
		}
	} else {
		r.List = append(r.List, p.xelements(0)...)
	}
	p.files = nil
	return r, nil
}

// xelements parses elements until end, or until CRLF if end is 0. CRLF inside a
// list is skipped.
func (p *Parser) xelements(end byte) List {
	l := List{}
	for {
		b := p.xpeek()
		switch {
		case end != 0 && b == end:
			p.xbyte()
			return l
		case b == ' ':
			p.xbyte()
			continue
		case b == '\r':
			p.xcrlf()
			if end == 0 {
				return l
			}
			continue
		case b == ')' || b == ']':
			p.xerrorf("unexpected %q", b)
		}
		l = append(l, p.xelement())
	}
}

func (p *Parser) xelement() Element {
	switch p.xpeek() {
	case '(':
		p.xbyte()
		return p.xelements(')')
	case '[':
		p.xbyte()
		return p.xelements(']')
	case '"':
		p.xbyte()
		return newInline(p.xquoted())
	case '{':
		p.xbyte()
		return p.xliteral()
	}
	s := p.xbare()
	if s == "" {
		p.xerrorf("unexpected %q", p.xpeek())
	}
	if strings.EqualFold(s, "NIL") {
		return &String{isNil: true}
	}
	return newInline(s)
}

func bareTerminator(b byte) bool {
	switch b {
	case '(', ')', '{', ' ', ']', '%', '"':
		return true
	}
	return b < ' ' || b == 0x7f
}

// xbare reads an atom-like string. A "[" starts a section that is read through
// the matching "]", as in BODY[HEADER.FIELDS (DATE)].
func (p *Parser) xbare() string {
	var b strings.Builder
	for {
		c := p.xpeek()
		if bareTerminator(c) {
			return b.String()
		}
		p.xbyte()
		b.WriteByte(c)
		if c != '[' {
			continue
		}
		for depth := 1; depth > 0; {
			c := p.xbyte()
			switch c {
			case '\r', '\n':
				p.xerrorf("unterminated section")
			case '[':
				depth++
			case ']':
				depth--
			}
			b.WriteByte(c)
		}
	}
}

// xquoted reads until the closing double quote. Backslash escapes are not
// interpreted.
func (p *Parser) xquoted() string {
	var b strings.Builder
	for {
		c := p.xbyte()
		switch c {
		case '"':
			return b.String()
		case '\r', '\n':
			p.xerrorf("unterminated quoted string")
		}
		b.WriteByte(c)
	}
}

func (p *Parser) xliteral() *String {
	var digits strings.Builder
	for {
		c := p.xbyte()
		if c == '}' {
			break
		}
		if c < '0' || c > '9' {
			p.xerrorf("bad literal size character %q", c)
		}
		digits.WriteByte(c)
	}
	size, err := strconv.ParseInt(digits.String(), 10, 64)
	if err != nil {
		p.xerrorf("bad literal size %q: %v", digits.String(), err)
	}
	if size > MaxLiteralSize {
		p.xerrorf("literal of %d bytes too large, max %d", size, MaxLiteralSize)
	}
	p.xcrlf()

	if p.tr != nil {
		p.tr.SetTrace(mlog.LevelTracedata)
		defer p.tr.SetTrace(mlog.LevelTrace)
	}
	p.recordAdd([]byte("..."))

	inMemory := size <= p.LiteralThreshold
	if p.LiteralThreshold < 0 {
		inMemory = size <= maxMemoryLiteral
	}
	if inMemory {
		buf := make([]byte, size)
		_, err := io.ReadFull(p.br, buf)
		p.xcheckf(err, "reading literal")
		return newMemoryLiteral(buf)
	}

	f, err := os.CreateTemp(p.TempDir, "imapliteral-*")
	p.xcheckf(err, "creating literal temp file")
	s := newFileLiteral(f.Name(), size)
	p.files = append(p.files, s)
	_, err = io.CopyN(f, p.br, size)
	if err != nil {
		f.Close()
		p.xcheckf(err, "reading literal into temp file")
	}
	err = f.Close()
	p.xcheckf(err, "closing literal temp file")
	p.log.Debug("stored literal in temp file", mlog.Field("size", size), mlog.Field("path", f.Name()))
	return s
}
