package store

import (
	"context"
	"fmt"
	"time"

	"github.com/mjl-/bstore"
)

// Voicemail is the local copy of a voicemail on the server.
type Voicemail struct {
	ID        int64
	AccountID string `bstore:"nonzero,ref Account,unique AccountID+UID,index AccountID+Timestamp"`
	UID       string `bstore:"nonzero"` // IMAP UID.

	Timestamp     time.Time // From Date header.
	Number        string    // Caller, local part of From address.
	Duration      int64     // Seconds, 0 if unknown.
	Transcription string

	Read     bool
	Dirty    bool // Read changed locally and not yet set on the server.
	Deleted  bool // Deleted locally and not yet expunged on the server.
	Archived bool // Kept locally after removal from the server.

	// Audio, only set after fetching the payload.
	HasContent bool
	MimeType   string
	Content    []byte

	Inserted time.Time `bstore:"default now"`
}

// Voicemails returns the voicemails of the account, oldest first.
func (db *DB) Voicemails(ctx context.Context, accountID string) ([]Voicemail, error) {
	var l []Voicemail
	err := db.Read(ctx, func(tx *bstore.Tx) error {
		var err error
		q := bstore.QueryTx[Voicemail](tx)
		q.FilterNonzero(Voicemail{AccountID: accountID})
		q.SortAsc("Timestamp", "ID")
		l, err = q.List()
		return err
	})
	return l, err
}

// VoicemailByUID returns the voicemail with the IMAP uid, or bstore.ErrAbsent.
func (db *DB) VoicemailByUID(ctx context.Context, accountID, uid string) (Voicemail, error) {
	var vm Voicemail
	err := db.Read(ctx, func(tx *bstore.Tx) error {
		var err error
		vm, err = bstore.QueryTx[Voicemail](tx).FilterNonzero(Voicemail{AccountID: accountID, UID: uid}).Get()
		return err
	})
	return vm, err
}

// InsertVoicemail adds vm, setting its ID.
func (db *DB) InsertVoicemail(ctx context.Context, vm *Voicemail) error {
	if err := db.Insert(ctx, vm); err != nil {
		return fmt.Errorf("inserting voicemail %s: %w", vm.UID, err)
	}
	return nil
}

// UpdateVoicemail stores the changed vm.
func (db *DB) UpdateVoicemail(ctx context.Context, vm *Voicemail) error {
	return db.Update(ctx, vm)
}

// DeleteVoicemail removes vm from the local store.
func (db *DB) DeleteVoicemail(ctx context.Context, vm *Voicemail) error {
	return db.Delete(ctx, &Voicemail{ID: vm.ID})
}
