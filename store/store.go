// Package store persists voicemail accounts in a bstore database: the
// account status as shown to the user, the credentials from the last STATUS
// message, the facts about the default PIN, and local copies of voicemails.
package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/mjl-/bstore"

	"github.com/mjl-/vvm/mlog"
	"github.com/mjl-/vvm/omtp"
)

var xlog = mlog.New("store")

var (
	ErrAccountNotFound = errors.New("account not found")
	ErrNoCredentials   = errors.New("no credentials for account")
)

// DBTypes are the types stored in the database.
var DBTypes = []any{Account{}, Credentials{}, Voicemail{}}

// DB is an opened voicemail database.
type DB struct {
	*bstore.DB
	Path string
}

// Open opens the database at path, creating it and its directory if needed.
func Open(ctx context.Context, path string) (*DB, error) {
	os.MkdirAll(filepath.Dir(path), 0770)
	db, err := bstore.Open(ctx, path, &bstore.Options{Timeout: 5 * time.Second, Perm: 0660}, DBTypes...)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	return &DB{db, path}, nil
}

// Close closes the database.
func (db *DB) Close() error {
	return db.DB.Close()
}

// EnsureAccount returns the account with id, inserting a new enabled account
// of vvmType with a fresh status if it does not exist yet.
func (db *DB) EnsureAccount(ctx context.Context, id, vvmType string) (Account, error) {
	var a Account
	err := db.Write(ctx, func(tx *bstore.Tx) error {
		a = Account{ID: id}
		err := tx.Get(&a)
		if err == nil {
			return nil
		} else if err != bstore.ErrAbsent {
			return err
		}
		a = NewAccount(id, vvmType)
		return tx.Insert(&a)
	})
	return a, err
}

// Account returns the account with id, or ErrAccountNotFound.
func (db *DB) Account(ctx context.Context, id string) (Account, error) {
	a := Account{ID: id}
	err := db.Get(ctx, &a)
	if err == bstore.ErrAbsent {
		return Account{}, fmt.Errorf("%w: %q", ErrAccountNotFound, id)
	}
	return a, err
}

// Accounts returns all accounts, ordered by id.
func (db *DB) Accounts(ctx context.Context) ([]Account, error) {
	var l []Account
	err := db.Read(ctx, func(tx *bstore.Tx) error {
		var err error
		l, err = bstore.QueryTx[Account](tx).SortAsc("ID").List()
		return err
	})
	return l, err
}

// SaveAccount stores a, which must already exist.
func (db *DB) SaveAccount(ctx context.Context, a *Account) error {
	a.Updated = time.Now()
	return db.Update(ctx, a)
}

// UpdateAccount reads the account with id, calls fn to change it, and writes
// it back in a single transaction.
func (db *DB) UpdateAccount(ctx context.Context, id string, fn func(a *Account)) (Account, error) {
	var a Account
	err := db.Write(ctx, func(tx *bstore.Tx) error {
		a = Account{ID: id}
		if err := tx.Get(&a); err == bstore.ErrAbsent {
			return fmt.Errorf("%w: %q", ErrAccountNotFound, id)
		} else if err != nil {
			return err
		}
		fn(&a)
		a.Updated = time.Now()
		return tx.Update(&a)
	})
	return a, err
}

// RemoveAccount removes the account with its credentials and voicemails.
func (db *DB) RemoveAccount(ctx context.Context, id string) error {
	return db.Write(ctx, func(tx *bstore.Tx) error {
		n, err := bstore.QueryTx[Voicemail](tx).FilterNonzero(Voicemail{AccountID: id}).Delete()
		if err != nil {
			return fmt.Errorf("removing voicemails: %w", err)
		}
		if err := tx.Delete(&Credentials{AccountID: id}); err != nil && err != bstore.ErrAbsent {
			return fmt.Errorf("removing credentials: %w", err)
		}
		if err := tx.Delete(&Account{ID: id}); err == bstore.ErrAbsent {
			return fmt.Errorf("%w: %q", ErrAccountNotFound, id)
		} else if err != nil {
			return err
		}
		xlog.Info("account removed", mlog.Field("account", id), mlog.Field("voicemails", n))
		return nil
	})
}

// SaveCredentials stores msg as the credentials for the account, replacing
// earlier credentials.
func (db *DB) SaveCredentials(ctx context.Context, accountID string, msg omtp.StatusMessage) error {
	return db.Write(ctx, func(tx *bstore.Tx) error {
		c := Credentials{AccountID: accountID}
		exists := true
		if err := tx.Get(&c); err == bstore.ErrAbsent {
			exists = false
		} else if err != nil {
			return err
		}
		c = Credentials{AccountID: accountID, StatusMessage: msg, Received: time.Now()}
		if exists {
			return tx.Update(&c)
		}
		return tx.Insert(&c)
	})
}

// Credentials returns the last stored STATUS message for the account, or
// ErrNoCredentials.
func (db *DB) Credentials(ctx context.Context, accountID string) (omtp.StatusMessage, error) {
	c := Credentials{AccountID: accountID}
	err := db.Get(ctx, &c)
	if err == bstore.ErrAbsent {
		return omtp.StatusMessage{}, ErrNoCredentials
	} else if err != nil {
		return omtp.StatusMessage{}, err
	}
	return c.StatusMessage, nil
}
