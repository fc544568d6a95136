package voicemail

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"

	"github.com/mjl-/vvm/config"
	"github.com/mjl-/vvm/metrics"
	"github.com/mjl-/vvm/mlog"
	"github.com/mjl-/vvm/network"
	"github.com/mjl-/vvm/omtp"
	"github.com/mjl-/vvm/protocol"
	"github.com/mjl-/vvm/store"
)

// Action selects the direction of a sync.
type Action string

const (
	SyncFull     Action = "full"     // Upload, then download.
	SyncUpload   Action = "upload"   // Local read/delete changes to the server.
	SyncDownload Action = "download" // Server voicemails to local store.
)

// ParseAction returns the action for s.
func ParseAction(s string) (Action, error) {
	switch a := Action(s); a {
	case SyncFull, SyncUpload, SyncDownload:
		return a, nil
	}
	return "", fmt.Errorf("unknown sync action %q", s)
}

var ErrNotActivated = errors.New("account not activated")

// Syncer synchronizes the voicemails of an account between the server and the
// local store.
type Syncer struct {
	AccountID string
	Config    config.Account
	DB        *store.DB
	Protocol  protocol.Protocol
	Network   func(ctx context.Context) (*network.Handle, error)
}

func (s Syncer) raise(ctx context.Context, event omtp.Event) {
	protocol.Raise(ctx, s.DB, s.Protocol, s.AccountID, event)
}

// Sync runs a sync. Disabled accounts are skipped without error. Accounts
// without credentials from an activation result in ErrNotActivated.
func (s Syncer) Sync(ctx context.Context, action Action) (rerr error) {
	ctx = context.WithValue(ctx, mlog.CidKey, mlog.Cid())
	log := xlog.WithContext(ctx).Fields(mlog.Field("account", s.AccountID), mlog.Field("action", action))

	defer func() {
		x := recover()
		if x != nil {
			log.Error("recover from panic", mlog.Field("panic", x))
			debug.PrintStack()
			metrics.PanicInc(metrics.PanicSync)
			rerr = fmt.Errorf("sync panic: %v", x)
		}
	}()

	acc, err := s.DB.Account(ctx, s.AccountID)
	if err != nil {
		return err
	}
	if !acc.Enabled {
		log.Info("account disabled, not syncing")
		return nil
	}
	creds, err := s.DB.Credentials(ctx, s.AccountID)
	if errors.Is(err, store.ErrNoCredentials) || err == nil && !acc.Activated {
		return ErrNotActivated
	} else if err != nil {
		return err
	}

	log.Info("sync starting")
	s.raise(ctx, omtp.DataIMAPOperationStarted)

	h, err := s.Network(ctx)
	if err != nil {
		s.raise(ctx, omtp.DataNoConnectionCellularRequired)
		return omtp.WithEvent(omtp.DataNoConnectionCellularRequired, err)
	}
	defer h.Release()

	tempDir, err := s.DB.TempDir()
	if err != nil {
		return err
	}
	opts, err := IMAPOpts(s.Config, creds, h, tempDir)
	if err != nil {
		s.raise(ctx, omtp.DataInvalidPort)
		return err
	}
	sess := NewSession(opts, s.AccountID, s.DB, s.Protocol)
	defer sess.Close()
	if err := sess.Open(ctx); err != nil {
		return err
	}

	if action == SyncFull || action == SyncUpload {
		if err := s.upload(ctx, log, sess); err != nil {
			return fmt.Errorf("upload: %w", err)
		}
	}
	if action == SyncFull || action == SyncDownload {
		if err := s.download(ctx, log, sess); err != nil {
			return fmt.Errorf("download: %w", err)
		}
	}

	q, err := sess.UpdateQuota(ctx)
	if err != nil {
		return fmt.Errorf("quota: %w", err)
	}
	if q != nil && s.Config.Archive {
		if n, err := s.archive(ctx, log, sess, q.Occupied, q.Total); err != nil {
			return fmt.Errorf("archive: %w", err)
		} else if n > 0 {
			if _, err := sess.UpdateQuota(ctx); err != nil {
				return fmt.Errorf("quota after archive: %w", err)
			}
		}
	}

	s.raise(ctx, omtp.DataIMAPOperationCompleted)
	log.Info("sync done")
	return nil
}

// upload sends local changes to the server.
func (s Syncer) upload(ctx context.Context, log *mlog.Log, sess *Session) error {
	l, err := s.DB.Voicemails(ctx, s.AccountID)
	if err != nil {
		return err
	}
	var deleted, read []store.Voicemail
	for _, vm := range l {
		if vm.Deleted {
			deleted = append(deleted, vm)
		} else if vm.Read && vm.Dirty {
			read = append(read, vm)
		}
	}

	if len(deleted) > 0 {
		if err := sess.MarkDeleted(ctx, uids(deleted)); err != nil {
			return err
		}
		for _, vm := range deleted {
			if err := s.DB.DeleteVoicemail(ctx, &vm); err != nil {
				return err
			}
		}
	}
	if len(read) > 0 {
		if err := sess.MarkRead(ctx, uids(read)); err != nil {
			return err
		}
		for _, vm := range read {
			vm.Dirty = false
			if err := s.DB.UpdateVoicemail(ctx, &vm); err != nil {
				return err
			}
		}
	}
	log.Debug("uploaded", mlog.Field("deleted", len(deleted)), mlog.Field("read", len(read)))
	return nil
}

func uids(l []store.Voicemail) []string {
	r := make([]string, len(l))
	for i, vm := range l {
		r[i] = vm.UID
	}
	return r
}

// download reconciles the local store with the voicemails on the server.
func (s Syncer) download(ctx context.Context, log *mlog.Log, sess *Session) error {
	remote, err := sess.FetchAllVoicemails(ctx)
	if err != nil {
		return err
	}
	local, err := s.DB.Voicemails(ctx, s.AccountID)
	if err != nil {
		return err
	}

	remoteByUID := map[string]store.Voicemail{}
	for _, vm := range remote {
		remoteByUID[vm.UID] = vm
	}

	var removed, updated, inserted int
	for _, vm := range local {
		rvm, ok := remoteByUID[vm.UID]
		if !ok {
			if vm.Archived {
				continue
			}
			if err := s.DB.DeleteVoicemail(ctx, &vm); err != nil {
				return err
			}
			removed++
			continue
		}
		delete(remoteByUID, vm.UID)

		changed := false
		if rvm.Read && !vm.Read {
			vm.Read = true
			vm.Dirty = false
			changed = true
		}
		if rvm.Transcription != "" && vm.Transcription == "" {
			vm.Transcription = rvm.Transcription
			changed = true
		}
		if changed {
			if err := s.DB.UpdateVoicemail(ctx, &vm); err != nil {
				return err
			}
			updated++
		}
	}

	// Insert in server order.
	for _, vm := range remote {
		if _, ok := remoteByUID[vm.UID]; !ok {
			continue
		}
		if s.Config.Prefetch() {
			p, err := sess.FetchVoicemailPayload(ctx, vm.UID)
			if err != nil {
				log.Errorx("prefetching voicemail audio", err, mlog.Field("uid", vm.UID))
			} else {
				vm.HasContent = true
				vm.MimeType = p.MimeType
				vm.Content = p.Data
			}
		}
		if err := s.DB.InsertVoicemail(ctx, &vm); err != nil {
			return err
		}
		inserted++
	}
	log.Debug("downloaded", mlog.Field("removed", removed), mlog.Field("updated", updated), mlog.Field("inserted", inserted))
	return nil
}

// archive keeps the oldest voicemails locally and deletes them from the server
// while the quota usage is above the threshold. It returns the number of
// archived voicemails.
func (s Syncer) archive(ctx context.Context, log *mlog.Log, sess *Session, occupied, total int64) (int, error) {
	threshold := s.Config.ArchiveThreshold
	if threshold <= 0 {
		threshold = config.DefaultArchiveThreshold
	}
	if total <= 0 || float64(occupied)/float64(total) <= threshold {
		return 0, nil
	}
	n := int(occupied - int64(threshold*float64(total)))

	l, err := s.DB.Voicemails(ctx, s.AccountID)
	if err != nil {
		return 0, err
	}
	// Oldest first.
	var candidates []store.Voicemail
	for _, vm := range l {
		if !vm.Archived && !vm.Deleted {
			candidates = append(candidates, vm)
		}
	}
	if n > len(candidates) {
		n = len(candidates)
	}
	if n == 0 {
		return 0, nil
	}
	candidates = candidates[:n]

	// The audio must be local before the server copy is removed.
	for i, vm := range candidates {
		if vm.HasContent {
			continue
		}
		p, err := sess.FetchVoicemailPayload(ctx, vm.UID)
		if err != nil {
			return 0, fmt.Errorf("fetching audio before archiving: %w", err)
		}
		candidates[i].HasContent = true
		candidates[i].MimeType = p.MimeType
		candidates[i].Content = p.Data
	}
	for _, vm := range candidates {
		vm.Archived = true
		if err := s.DB.UpdateVoicemail(ctx, &vm); err != nil {
			return 0, err
		}
	}
	if err := sess.MarkDeleted(ctx, uids(candidates)); err != nil {
		return 0, err
	}
	log.Info("archived voicemails", mlog.Field("count", n), mlog.Field("occupied", occupied), mlog.Field("total", total))
	return n, nil
}
