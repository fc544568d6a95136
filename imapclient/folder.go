package imapclient

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/mjl-/vvm/mlog"
	"github.com/mjl-/vvm/omtp"
)

// Mode of a selected folder.
type Mode string

const (
	ModeReadOnly  Mode = "read-only"
	ModeReadWrite Mode = "read-write"
)

// FetchItem is a set of items to fetch for messages.
type FetchItem int

const (
	FetchFlags     FetchItem = 1 << iota // FLAGS
	FetchEnvelope                        // INTERNALDATE, RFC822.SIZE and selected header fields.
	FetchStructure                       // BODYSTRUCTURE
	FetchBodySane                        // First SaneBodySize bytes of the message.
	FetchBody                            // Full message.
)

// SaneBodySize is the number of bytes fetched with FetchBodySane.
const SaneBodySize = 125 * 1024

// Header fields fetched with FetchEnvelope.
const envelopeHeaderFields = "BODY.PEEK[HEADER.FIELDS (date subject from content-type to cc content-duration)]"

// FetchProfile describes what to fetch.
type FetchProfile struct {
	Items FetchItem

	// If set, the part is fetched, decoded according to its encoding, and stored
	// in Message.PartData.
	Part *Part
}

// Has returns whether item is in the profile.
func (fp FetchProfile) Has(item FetchItem) bool {
	return fp.Items&item != 0
}

// Quota is the usage for the voice resource.
type Quota struct {
	Occupied int64
	Total    int64
}

// Folder is a mailbox on the server, opened with SELECT.
type Folder struct {
	Name string

	conn  *Conn
	log   *mlog.Log
	mode  Mode
	count int64
	open  bool
}

// Folder returns a folder that can be opened.
func (c *Conn) Folder(name string) *Folder {
	return &Folder{Name: name, conn: c, log: c.log.Fields(mlog.Field("folder", name)), count: -1}
}

// IsOpen returns whether the folder is selected on an open connection.
func (f *Folder) IsOpen() bool {
	return f.open && f.conn.IsOpen()
}

// Mode returns the mode reported by the server when opening.
func (f *Folder) Mode() Mode {
	return f.mode
}

// MessageCount returns the number of messages in the folder at open, or -1.
func (f *Folder) MessageCount() int64 {
	return f.count
}

func (f *Folder) checkOpen() error {
	if !f.IsOpen() {
		return fmt.Errorf("%w: %s", ErrNotOpen, f.Name)
	}
	return nil
}

// ioError closes the connection and folder after an I/O error.
func (f *Folder) ioError(err error) error {
	f.log.Debugx("i/o error, closing connection", err)
	f.conn.closeConn()
	f.close()
	return omtp.WithEvent(omtp.DataGenericIMAPIOE, err)
}

// Open opens the connection if needed and selects the folder. A read-only
// folder is opened with EXAMINE, otherwise SELECT is used. The server may still
// report the folder as read-only.
//
// Opening an open folder is a programming error and panics.
func (f *Folder) Open(ctx context.Context, mode Mode) error {
	if f.IsOpen() {
		panic("imapclient: duplicate open of folder")
	}
	if _, err := f.conn.Open(ctx); err != nil {
		return err
	}

	cmd := "SELECT"
	if mode == ModeReadOnly {
		cmd = "EXAMINE"
	}
	// Like LOGIN, the name is quoted without escaping. Folder names are fixed
	// ASCII names such as INBOX.
	resps, err := f.conn.ExecuteSimpleCommand(ctx, fmt.Sprintf(`%s "%s"`, cmd, f.Name), false)
	if err != nil {
		f.close()
		if IsStatusError(err) {
			return omtp.WithEvent(omtp.DataMailboxOpenFailed, fmt.Errorf("cannot open mailbox: %w", err))
		}
		return f.ioError(err)
	}
	defer resps.Destroy()

	f.mode = ModeReadWrite
	count := int64(-1)
	for _, r := range resps {
		switch {
		case r.IsDataResponse(1, "EXISTS"):
			count = r.StringAt(0).NumberOrZero()
		case r.IsOK():
			switch r.ResponseCode() {
			case "READ-ONLY":
				f.mode = ModeReadOnly
			case "READ-WRITE":
				f.mode = ModeReadWrite
			}
		}
	}
	if count == -1 {
		f.close()
		return &ProtocolError{Message: "did not find message count during select"}
	}
	f.count = count
	f.open = true
	f.log.Debug("folder open", mlog.Field("mode", f.mode), mlog.Field("count", count))
	return nil
}

// Close marks the folder closed, after an EXPUNGE if requested. The connection
// remains open.
func (f *Folder) Close(ctx context.Context, expunge bool) {
	if expunge && f.IsOpen() {
		err := f.Expunge(ctx)
		f.log.Check(err, "expunge on close")
	}
	f.close()
}

func (f *Folder) close() {
	f.open = false
	f.count = -1
}

// Search returns the UIDs matching criteria. A NO or BAD response results in no
// UIDs without error. A malformed response closes the connection.
func (f *Folder) Search(ctx context.Context, criteria string) ([]string, error) {
	if err := f.checkOpen(); err != nil {
		return nil, err
	}
	resps, err := f.conn.ExecuteSimpleCommand(ctx, "UID SEARCH "+criteria, false)
	if IsStatusError(err) {
		f.log.Debugx("search failed", err, mlog.Field("criteria", criteria))
		return nil, nil
	} else if err != nil {
		return nil, f.ioError(err)
	}
	defer resps.Destroy()

	var uids []string
	for _, r := range resps {
		if !r.IsDataResponse(0, "SEARCH") {
			continue
		}
		for i := 1; i < len(r.List); i++ {
			if s, ok := r.List[i].(*String); ok {
				uids = append(uids, s.Text())
			}
		}
	}
	f.log.Debug("search", mlog.Field("criteria", criteria), mlog.Field("results", len(uids)))
	return uids, nil
}

// Messages returns all messages not marked deleted, with only their UID set.
func (f *Folder) Messages(ctx context.Context) ([]*Message, error) {
	uids, err := f.Search(ctx, "1:* NOT DELETED")
	if err != nil {
		return nil, err
	}
	l := make([]*Message, len(uids))
	for i, uid := range uids {
		l[i] = NewMessage(uid)
	}
	return l, nil
}

// Message returns the message with uid, or nil if it does not exist.
func (f *Folder) Message(ctx context.Context, uid string) (*Message, error) {
	uids, err := f.Search(ctx, "UID "+uid)
	if err != nil {
		return nil, err
	}
	for _, u := range uids {
		if u == uid {
			return NewMessage(uid), nil
		}
	}
	f.log.Info("uid not found on server", mlog.Field("uid", uid))
	return nil, nil
}

func joinUIDs(msgs []*Message) string {
	l := make([]string, len(msgs))
	for i, m := range msgs {
		l[i] = m.UID
	}
	return strings.Join(l, ",")
}

// Fetch fetches the items of fp for msgs, filling in the messages. Fn, if not
// nil, is called for each message as soon as its FETCH response is processed.
func (f *Folder) Fetch(ctx context.Context, msgs []*Message, fp FetchProfile, fn func(m *Message)) error {
	if len(msgs) == 0 {
		return nil
	}
	if err := f.checkOpen(); err != nil {
		return err
	}
	byUID := map[string]*Message{}
	for _, m := range msgs {
		byUID[m.UID] = m
	}

	fields := []string{"UID"}
	if fp.Has(FetchFlags) {
		fields = append(fields, "FLAGS")
	}
	if fp.Has(FetchEnvelope) {
		fields = append(fields, "INTERNALDATE", "RFC822.SIZE", envelopeHeaderFields)
	}
	if fp.Has(FetchStructure) {
		fields = append(fields, "BODYSTRUCTURE")
	}
	if fp.Has(FetchBodySane) {
		fields = append(fields, fmt.Sprintf("BODY.PEEK[]<0.%d>", SaneBodySize))
	}
	if fp.Has(FetchBody) {
		fields = append(fields, "BODY.PEEK[]")
	}
	if fp.Part != nil {
		fields = append(fields, "BODY.PEEK["+fp.Part.Section()+"]")
	}

	cmd := fmt.Sprintf("UID FETCH %s (%s)", joinUIDs(msgs), strings.Join(fields, " "))
	err := f.conn.ExecuteStream(ctx, cmd, func(r *Response) error {
		if !r.IsDataResponse(1, "FETCH") {
			return nil
		}
		l := r.ListAt(2)
		uid := l.KeyedString("UID", false).Text()
		m := byUID[uid]
		if m == nil {
			return nil
		}
		f.fetched(m, l, fp)
		if fn != nil {
			fn(m)
		}
		return nil
	})
	if err == nil {
		return nil
	}
	if IsStatusError(err) {
		return err
	}
	return f.ioError(err)
}

// fetched fills m from the attributes of a FETCH response. Problems with
// individual attributes are logged, not returned.
func (f *Folder) fetched(m *Message, l List, fp FetchProfile) {
	log := f.log.Fields(mlog.Field("uid", m.UID))

	if fp.Has(FetchFlags) {
		for _, e := range l.KeyedList("FLAGS") {
			s, ok := e.(*String)
			if !ok {
				continue
			}
			for _, flag := range knownFlags {
				if s.Is(flag) {
					m.setFlag(flag)
				}
			}
		}
	}
	if fp.Has(FetchEnvelope) {
		if t, err := l.KeyedString("INTERNALDATE", false).Date(); err == nil {
			m.InternalDate = t
		}
		m.Size = l.KeyedString("RFC822.SIZE", false).NumberOrZero()
		h, err := ParseHeader(l.KeyedString("BODY[HEADER", true).Text())
		if err != nil {
			log.Errorx("parsing header", err)
		} else {
			m.Header = h
		}
	}
	if fp.Has(FetchStructure) {
		if bs := l.KeyedList("BODYSTRUCTURE"); len(bs) > 0 {
			p, err := ParseBodyStructure(bs)
			if err != nil {
				log.Debugx("parsing bodystructure", err)
				m.Structure = nil
			} else {
				m.Structure = p
			}
		}
	}
	if fp.Has(FetchBody) || fp.Has(FetchBodySane) {
		// Keyed by "BODY[]", "BODY[" would match BODY[HEADER.
		if buf, err := readString(l.KeyedString("BODY[]", true)); err != nil {
			log.Errorx("reading body", err)
		} else {
			m.Body = buf
		}
	}
	if fp.Part != nil {
		s := l.KeyedString("BODY["+fp.Part.Section()+"]", false)
		buf, err := decodeString(s, fp.Part.Encoding)
		if err != nil {
			log.Errorx("decoding part", err, mlog.Field("section", fp.Part.Section()))
		} else {
			m.PartData = buf
		}
	}
}

func readString(s *String) ([]byte, error) {
	rc, err := s.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

func decodeString(s *String, encoding string) ([]byte, error) {
	rc, err := s.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	r, err := DecodeTransfer(rc, encoding)
	if err != nil {
		return nil, err
	}
	return io.ReadAll(r)
}

// SetFlags adds (value true) or removes flags on msgs.
func (f *Folder) SetFlags(ctx context.Context, msgs []*Message, flags []string, value bool) error {
	if len(msgs) == 0 {
		return nil
	}
	if err := f.checkOpen(); err != nil {
		return err
	}
	op := "-"
	if value {
		op = "+"
	}
	cmd := fmt.Sprintf("UID STORE %s %sFLAGS.SILENT (%s)", joinUIDs(msgs), op, strings.Join(flags, " "))
	resps, err := f.conn.ExecuteSimpleCommand(ctx, cmd, false)
	if err != nil {
		if IsStatusError(err) {
			return err
		}
		return f.ioError(err)
	}
	resps.Destroy()
	return nil
}

// Expunge removes messages marked deleted.
func (f *Folder) Expunge(ctx context.Context) error {
	if err := f.checkOpen(); err != nil {
		return err
	}
	resps, err := f.conn.ExecuteSimpleCommand(ctx, "EXPUNGE", false)
	if err != nil {
		if IsStatusError(err) {
			return err
		}
		return f.ioError(err)
	}
	defer resps.Destroy()
	for _, r := range resps {
		if r.IsDataResponse(1, "EXISTS") {
			f.count = r.StringAt(0).NumberOrZero()
		}
	}
	return nil
}

// Quota returns the usage of the "voice" resource for the quota root of the
// folder, or nil if the server does not report it.
func (f *Folder) Quota(ctx context.Context) (*Quota, error) {
	resps, err := f.conn.ExecuteSimpleCommand(ctx, fmt.Sprintf(`GETQUOTAROOT "%s"`, f.Name), false)
	if err != nil {
		if IsStatusError(err) {
			return nil, err
		}
		return nil, f.ioError(err)
	}
	defer resps.Destroy()

	for _, r := range resps {
		if !r.IsDataResponse(0, "QUOTA") {
			continue
		}
		l := r.ListAt(2)
		for i := 0; i+2 < len(l); i += 3 {
			if !l.Is(i, "voice") {
				continue
			}
			q := &Quota{Occupied: -1, Total: -1}
			if v, err := l.StringAt(i + 1).Number(); err == nil {
				q.Occupied = v
			}
			if v, err := l.StringAt(i + 2).Number(); err == nil {
				q.Total = v
			}
			return q, nil
		}
	}
	return nil, nil
}
