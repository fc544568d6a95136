// Package voicemail fetches and manages voicemails on the IMAP server of a
// carrier, and synchronizes them with the local store.
package voicemail

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/emersion/go-message"

	"github.com/mjl-/vvm/config"
	"github.com/mjl-/vvm/imapclient"
	"github.com/mjl-/vvm/mlog"
	"github.com/mjl-/vvm/network"
	"github.com/mjl-/vvm/omtp"
	"github.com/mjl-/vvm/protocol"
	"github.com/mjl-/vvm/store"
	"github.com/mjl-/vvm/vvmio"
)

var xlog = mlog.New("voicemail")

// Inbox is the only folder used for voicemail.
const Inbox = "INBOX"

var ErrNotFound = errors.New("voicemail not found on server")

// Payload is the audio of a voicemail.
type Payload struct {
	MimeType string // E.g. "audio/amr".
	Data     []byte
}

// Session is an IMAP session for an account. Errors that carry an event are
// raised on the account before they are returned.
type Session struct {
	AccountID string
	DB        *store.DB
	Protocol  protocol.Protocol

	conn *imapclient.Conn
	log  *mlog.Log
}

var _ protocol.Mailbox = (*Session)(nil)

// NewSession returns a session that connects with opts on first use.
func NewSession(opts imapclient.Opts, accountID string, db *store.DB, p protocol.Protocol) *Session {
	return &Session{
		AccountID: accountID,
		DB:        db,
		Protocol:  p,
		conn:      imapclient.NewStore(opts).Conn(),
		log:       xlog.Fields(mlog.Field("account", accountID)),
	}
}

// IMAPOpts returns connection parameters for the credentials from a STATUS
// message. An unparsable port results in an error with DATA_INVALID_PORT.
func IMAPOpts(cfg config.Account, creds omtp.StatusMessage, dialer imapclient.Dialer, tempDir string) (imapclient.Opts, error) {
	opts := imapclient.Opts{
		Host:                 creds.ServerAddress,
		Username:             creds.IMAPUserName,
		Password:             creds.IMAPPassword,
		DisabledCapabilities: cfg.DisabledCapabilities,
		LiteralThreshold:     cfg.LiteralThreshold,
		TempDir:              tempDir,
		Dialer:               dialer,
		Variant:              cfg.VVMType,
	}
	if cfg.SSLPort != 0 {
		opts.Port = cfg.SSLPort
		opts.TLS = imapclient.TLSImplicit
		return opts, nil
	}
	port, err := strconv.Atoi(creds.IMAPPort)
	if err != nil || port <= 0 || port > 65535 {
		return imapclient.Opts{}, omtp.Errorf(omtp.DataInvalidPort, "invalid imap port %q", creds.IMAPPort)
	}
	opts.Port = port
	if cfg.StartTLS {
		opts.TLS = imapclient.TLSStartTLS
	}
	return opts, nil
}

// check raises the event carried by err, if any, and returns err.
func (s *Session) check(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if ev, ok := omtp.EventOf(err); ok && s.DB != nil {
		protocol.Raise(ctx, s.DB, s.Protocol, s.AccountID, ev)
	}
	return err
}

// Open connects and authenticates, if not yet done.
func (s *Session) Open(ctx context.Context) error {
	_, err := s.conn.Open(ctx)
	return s.check(ctx, err)
}

// Close logs out and closes the connection.
func (s *Session) Close() {
	s.conn.Close()
}

func (s *Session) openFolder(ctx context.Context, mode imapclient.Mode) (*imapclient.Folder, error) {
	f := s.conn.Folder(Inbox)
	if err := f.Open(ctx, mode); err != nil {
		return nil, s.check(ctx, err)
	}
	return f, nil
}

// closeFolder closes f, expunging if it was opened read-write.
func (s *Session) closeFolder(ctx context.Context, f *imapclient.Folder) {
	f.Close(ctx, f.Mode() == imapclient.ModeReadWrite)
}

// FetchAllVoicemails returns the voicemails on the server. Messages that are not
// multipart with an audio part are skipped. Embedded transcriptions (a text
// part) are fetched too.
func (s *Session) FetchAllVoicemails(ctx context.Context) ([]store.Voicemail, error) {
	f, err := s.openFolder(ctx, imapclient.ModeReadWrite)
	if err != nil {
		return nil, err
	}
	defer s.closeFolder(ctx, f)

	msgs, err := f.Messages(ctx)
	if err != nil {
		return nil, s.check(ctx, err)
	}
	fp := imapclient.FetchProfile{Items: imapclient.FetchFlags | imapclient.FetchEnvelope | imapclient.FetchStructure}
	if err := f.Fetch(ctx, msgs, fp, nil); err != nil {
		return nil, s.check(ctx, err)
	}

	var l []store.Voicemail
	for _, m := range msgs {
		if !isVoicemail(m) {
			s.log.Debug("skipping message without audio", mlog.Field("uid", m.UID))
			continue
		}
		vm := s.voicemail(m)
		if text := m.Structure.FirstOfType("text/"); text != nil {
			t, err := s.fetchPart(ctx, f, m, text)
			if err != nil {
				return nil, err
			}
			vm.Transcription = t
		}
		l = append(l, vm)
	}
	s.log.Debug("fetched voicemails", mlog.Field("messages", len(msgs)), mlog.Field("voicemails", len(l)))
	return l, nil
}

func isVoicemail(m *imapclient.Message) bool {
	return m.Structure != nil && m.Structure.IsMultipart() && m.Structure.FirstOfType("audio/") != nil
}

func (s *Session) voicemail(m *imapclient.Message) store.Voicemail {
	number, _, _ := strings.Cut(m.From(), "@")
	duration, _ := m.Duration()
	return store.Voicemail{
		AccountID: s.AccountID,
		UID:       m.UID,
		Timestamp: m.Date(),
		Number:    number,
		Duration:  duration,
		Read:      m.HasFlag(imapclient.FlagSeen),
	}
}

func (s *Session) fetchPart(ctx context.Context, f *imapclient.Folder, m *imapclient.Message, p *imapclient.Part) (string, error) {
	pm := imapclient.NewMessage(m.UID)
	if err := f.Fetch(ctx, []*imapclient.Message{pm}, imapclient.FetchProfile{Part: p}, nil); err != nil {
		return "", s.check(ctx, err)
	}
	buf, err := io.ReadAll(vvmio.DecodeReader(p.Params["charset"], bytes.NewReader(pm.PartData)))
	if err != nil {
		s.log.Debugx("decoding transcription charset, using raw text", err, mlog.Field("charset", p.Params["charset"]))
		return string(pm.PartData), nil
	}
	return string(buf), nil
}

// FetchTranscription returns the embedded transcription of the voicemail with
// uid. An empty string is returned if the voicemail has none.
func (s *Session) FetchTranscription(ctx context.Context, uid string) (string, error) {
	f, err := s.openFolder(ctx, imapclient.ModeReadWrite)
	if err != nil {
		return "", err
	}
	defer s.closeFolder(ctx, f)

	m, err := f.Message(ctx, uid)
	if err != nil {
		return "", s.check(ctx, err)
	} else if m == nil {
		return "", ErrNotFound
	}
	if err := f.Fetch(ctx, []*imapclient.Message{m}, imapclient.FetchProfile{Items: imapclient.FetchStructure}, nil); err != nil {
		return "", s.check(ctx, err)
	}
	if !isVoicemail(m) {
		return "", nil
	}
	text := m.Structure.FirstOfType("text/")
	if text == nil {
		return "", nil
	}
	return s.fetchPart(ctx, f, m, text)
}

var errStopWalk = errors.New("stop")

// FetchVoicemailPayload fetches the full message with uid and returns its first
// audio part.
func (s *Session) FetchVoicemailPayload(ctx context.Context, uid string) (*Payload, error) {
	f, err := s.openFolder(ctx, imapclient.ModeReadWrite)
	if err != nil {
		return nil, err
	}
	defer s.closeFolder(ctx, f)

	m, err := f.Message(ctx, uid)
	if err != nil {
		return nil, s.check(ctx, err)
	} else if m == nil {
		return nil, ErrNotFound
	}
	if err := f.Fetch(ctx, []*imapclient.Message{m}, imapclient.FetchProfile{Items: imapclient.FetchBody}, nil); err != nil {
		return nil, s.check(ctx, err)
	}
	return AudioPayload(m.Body)
}

// AudioPayload returns the first audio part of a message, with the transfer
// encoding undone.
func AudioPayload(msg []byte) (*Payload, error) {
	e, err := message.Read(bytes.NewReader(msg))
	if err != nil && !message.IsUnknownCharset(err) {
		return nil, fmt.Errorf("parsing message: %w", err)
	}
	var p *Payload
	var mimeTypes []string
	err = e.Walk(func(path []int, part *message.Entity, err error) error {
		if err != nil {
			return err
		}
		t, _, _ := part.Header.ContentType()
		t = strings.ToLower(t)
		mimeTypes = append(mimeTypes, t)
		if !strings.HasPrefix(t, "audio/") {
			return nil
		}
		buf, err := io.ReadAll(part.Body)
		if err != nil {
			return fmt.Errorf("reading audio part: %w", err)
		}
		p = &Payload{t, buf}
		return errStopWalk
	})
	if err != nil && err != errStopWalk {
		return nil, err
	}
	if p == nil {
		return nil, fmt.Errorf("no audio part in message, mime types %v", mimeTypes)
	}
	return p, nil
}

// MarkRead sets the seen flag on the voicemails with uids.
func (s *Session) MarkRead(ctx context.Context, uids []string) error {
	return s.setFlags(ctx, uids, imapclient.FlagSeen)
}

// MarkDeleted marks the voicemails with uids deleted. They are expunged when the
// folder is closed.
func (s *Session) MarkDeleted(ctx context.Context, uids []string) error {
	return s.setFlags(ctx, uids, imapclient.FlagDeleted)
}

func (s *Session) setFlags(ctx context.Context, uids []string, flag string) error {
	if len(uids) == 0 {
		return nil
	}
	f, err := s.openFolder(ctx, imapclient.ModeReadWrite)
	if err != nil {
		return err
	}
	defer s.closeFolder(ctx, f)

	msgs := make([]*imapclient.Message, len(uids))
	for i, uid := range uids {
		msgs[i] = imapclient.NewMessage(uid)
	}
	return s.check(ctx, f.SetFlags(ctx, msgs, []string{flag}, true))
}

// Quota returns the voice quota, or nil if the server does not report one.
func (s *Session) Quota(ctx context.Context) (*imapclient.Quota, error) {
	f, err := s.openFolder(ctx, imapclient.ModeReadOnly)
	if err != nil {
		return nil, err
	}
	defer s.closeFolder(ctx, f)
	q, err := f.Quota(ctx)
	if imapclient.IsStatusError(err) {
		// Not all servers implement GETQUOTAROOT.
		s.log.Debugx("quota", err)
		return nil, nil
	}
	return q, s.check(ctx, err)
}

// UpdateQuota fetches the quota and stores it in the status of the account.
func (s *Session) UpdateQuota(ctx context.Context) (*imapclient.Quota, error) {
	q, err := s.Quota(ctx)
	if err != nil {
		return nil, err
	}
	if q == nil {
		s.log.Info("server did not report quota")
		return nil, nil
	}
	_, err = s.DB.UpdateAccount(ctx, s.AccountID, func(a *store.Account) {
		a.QuotaOccupied = int(q.Occupied)
		a.QuotaTotal = int(q.Total)
	})
	if err != nil {
		return nil, fmt.Errorf("storing quota: %w", err)
	}
	s.log.Info("quota updated", mlog.Field("occupied", q.Occupied), mlog.Field("total", q.Total))
	return q, nil
}

// ChangePIN changes the PIN of the telephone user interface. A refusal by the
// server is returned as result, not as error. An I/O error results in
// omtp.ChangePinSystemError.
func (s *Session) ChangePIN(ctx context.Context, oldPIN, newPIN string) (omtp.ChangePinResult, error) {
	if err := s.Open(ctx); err != nil {
		return omtp.ChangePinSystemError, err
	}
	cmd := fmt.Sprintf(s.Protocol.TranslateCommand(omtp.CommandChangeTUIPassword), newPIN, oldPIN)
	resps, err := s.conn.ExecuteSimpleCommand(ctx, cmd, true)
	var perr *imapclient.ProtocolError
	if errors.As(err, &perr) && perr.Status != "" {
		result := omtp.ChangePinResultFromText(perr.Message)
		s.log.Info("change pin refused", mlog.Field("result", result), mlog.Field("text", perr.Message))
		return result, nil
	} else if err != nil {
		s.log.Errorx("change pin", err)
		return omtp.ChangePinSystemError, nil
	}
	resps.Destroy()
	s.log.Info("pin changed")
	return omtp.ChangePinSuccess, nil
}

// ChangeVoicemailLanguage sets the language of the voice prompts. The code is
// carrier-specific. A refusal by the server is logged.
func (s *Session) ChangeVoicemailLanguage(ctx context.Context, code string) error {
	if err := s.Open(ctx); err != nil {
		return err
	}
	cmd := fmt.Sprintf(s.Protocol.TranslateCommand(omtp.CommandChangeVMLanguage), code)
	resps, err := s.conn.ExecuteSimpleCommand(ctx, cmd, true)
	if imapclient.IsStatusError(err) {
		s.log.Infox("changing voicemail language", err, mlog.Field("code", code))
		return nil
	} else if err != nil {
		return s.check(ctx, omtp.WithEvent(omtp.DataGenericIMAPIOE, err))
	}
	resps.Destroy()
	return nil
}

// CloseNewUserTutorial stops the voice prompts for new users.
func (s *Session) CloseNewUserTutorial(ctx context.Context) error {
	if err := s.Open(ctx); err != nil {
		return err
	}
	resps, err := s.conn.ExecuteSimpleCommand(ctx, s.Protocol.TranslateCommand(omtp.CommandCloseNUT), false)
	if err != nil {
		if !imapclient.IsStatusError(err) {
			err = omtp.WithEvent(omtp.DataGenericIMAPIOE, err)
		}
		return s.check(ctx, fmt.Errorf("closing new user tutorial: %w", err))
	}
	resps.Destroy()
	return nil
}

// Opener opens sessions during provisioning.
type Opener struct {
	AccountID string
	DB        *store.DB
	Protocol  protocol.Protocol
	Config    config.Account
}

var _ protocol.MailboxOpener = Opener{}

// OpenMailbox opens a session with creds through h.
func (o Opener) OpenMailbox(ctx context.Context, h *network.Handle, creds omtp.StatusMessage) (protocol.Mailbox, error) {
	tempDir, err := o.DB.TempDir()
	if err != nil {
		return nil, err
	}
	opts, err := IMAPOpts(o.Config, creds, h, tempDir)
	if err != nil {
		return nil, err
	}
	s := NewSession(opts, o.AccountID, o.DB, o.Protocol)
	if err := s.Open(ctx); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}
