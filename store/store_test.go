package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/mjl-/bstore"

	"github.com/mjl-/vvm/omtp"
)

var ctxbg = context.Background()

func tcheck(t *testing.T, err error, msg string) {
	t.Helper()
	if err != nil {
		t.Fatalf("%s: %s", msg, err)
	}
}

func tcompare(t *testing.T, got, expect any) {
	t.Helper()
	if !reflect.DeepEqual(got, expect) {
		t.Fatalf("got:\n%#v\nexpected:\n%#v", got, expect)
	}
}

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(ctxbg, filepath.Join(t.TempDir(), "data", "vvm.db"))
	tcheck(t, err, "open")
	t.Cleanup(func() {
		err := db.Close()
		tcheck(t, err, "close")
	})
	return db
}

func TestAccount(t *testing.T) {
	db := openTestDB(t)

	_, err := db.Account(ctxbg, "5550000")
	tcompare(t, errors.Is(err, ErrAccountNotFound), true)

	a, err := db.EnsureAccount(ctxbg, "5550000", "vvm3")
	tcheck(t, err, "ensure account")
	tcompare(t, a.Enabled, true)
	tcompare(t, a.Status(), omtp.NewStatus())

	a, err = db.UpdateAccount(ctxbg, a.ID, func(a *Account) {
		st := a.Status()
		st.Configuration = -9990
		st.QuotaOccupied = 3
		st.QuotaTotal = 100
		a.SetStatus(st)
		a.DefaultPinReplaced = true
		a.DefaultOldPIN = "381927"
	})
	tcheck(t, err, "update account")

	// Ensure does not reset an existing account.
	b, err := db.EnsureAccount(ctxbg, "5550000", "omtp")
	tcheck(t, err, "ensure existing account")
	tcompare(t, b.VVMType, "vvm3")
	tcompare(t, b.Configuration, -9990)
	tcompare(t, b.DefaultOldPIN, "381927")
	tcompare(t, b.Status().QuotaTotal, 100)

	b.Enabled = false
	err = db.SaveAccount(ctxbg, &b)
	tcheck(t, err, "save account")
	c, err := db.Account(ctxbg, "5550000")
	tcheck(t, err, "get account")
	tcompare(t, c.Enabled, false)

	_, err = db.UpdateAccount(ctxbg, "5559999", func(a *Account) {})
	tcompare(t, errors.Is(err, ErrAccountNotFound), true)

	l, err := db.Accounts(ctxbg)
	tcheck(t, err, "list accounts")
	tcompare(t, len(l), 1)
}

func TestCredentials(t *testing.T) {
	db := openTestDB(t)
	_, err := db.EnsureAccount(ctxbg, "5550000", "omtp")
	tcheck(t, err, "ensure account")

	_, err = db.Credentials(ctxbg, "5550000")
	tcompare(t, err, ErrNoCredentials)

	msg := omtp.StatusMessage{
		ProvisioningStatus: omtp.SubscriberReady,
		ReturnCode:         "0",
		ServerAddress:      "vvm.example.com",
		IMAPPort:           "143",
		IMAPUserName:       "5550000@vvm.example.com",
		IMAPPassword:       "secret",
		TUIPasswordLength:  "4-7",
	}
	err = db.SaveCredentials(ctxbg, "5550000", msg)
	tcheck(t, err, "save credentials")
	got, err := db.Credentials(ctxbg, "5550000")
	tcheck(t, err, "get credentials")
	tcompare(t, got, msg)

	msg.IMAPPassword = "other"
	err = db.SaveCredentials(ctxbg, "5550000", msg)
	tcheck(t, err, "replace credentials")
	got, err = db.Credentials(ctxbg, "5550000")
	tcheck(t, err, "get credentials")
	tcompare(t, got.IMAPPassword, "other")
}

func TestVoicemails(t *testing.T) {
	db := openTestDB(t)
	_, err := db.EnsureAccount(ctxbg, "5550000", "omtp")
	tcheck(t, err, "ensure account")

	now := time.Now().Round(0)
	vm1 := Voicemail{AccountID: "5550000", UID: "10", Timestamp: now, Number: "5551234", Duration: 12}
	vm2 := Voicemail{AccountID: "5550000", UID: "5", Timestamp: now.Add(-time.Hour), Number: "5554321"}
	tcheck(t, db.InsertVoicemail(ctxbg, &vm1), "insert")
	tcheck(t, db.InsertVoicemail(ctxbg, &vm2), "insert")

	// UIDs are unique per account.
	dup := Voicemail{AccountID: "5550000", UID: "10"}
	if err := db.InsertVoicemail(ctxbg, &dup); !errors.Is(err, bstore.ErrUnique) {
		t.Fatalf("got err %v, expected unique error", err)
	}
	// Account must exist.
	orphan := Voicemail{AccountID: "5559999", UID: "1"}
	if err := db.InsertVoicemail(ctxbg, &orphan); err == nil {
		t.Fatalf("inserted voicemail for unknown account")
	}

	l, err := db.Voicemails(ctxbg, "5550000")
	tcheck(t, err, "list")
	tcompare(t, len(l), 2)
	tcompare(t, l[0].UID, "5")
	tcompare(t, l[1].UID, "10")

	vm1.Read = true
	vm1.Dirty = true
	tcheck(t, db.UpdateVoicemail(ctxbg, &vm1), "update")
	x, err := db.VoicemailByUID(ctxbg, "5550000", "10")
	tcheck(t, err, "by uid")
	tcompare(t, x.Read && x.Dirty, true)

	tcheck(t, db.DeleteVoicemail(ctxbg, &vm2), "delete")
	_, err = db.VoicemailByUID(ctxbg, "5550000", "5")
	tcompare(t, err, bstore.ErrAbsent)

	err = db.SaveCredentials(ctxbg, "5550000", omtp.StatusMessage{ReturnCode: "0"})
	tcheck(t, err, "save credentials")
	err = db.RemoveAccount(ctxbg, "5550000")
	tcheck(t, err, "remove account")
	l, err = db.Voicemails(ctxbg, "5550000")
	tcheck(t, err, "list after remove")
	tcompare(t, len(l), 0)
	_, err = db.Credentials(ctxbg, "5550000")
	tcompare(t, err, ErrNoCredentials)
}

func TestTempDir(t *testing.T) {
	db := openTestDB(t)
	dir, err := db.TempDir()
	tcheck(t, err, "temp dir")
	stale := filepath.Join(dir, "imapliteral-123")
	other := filepath.Join(dir, "keep")
	tcheck(t, os.WriteFile(stale, []byte("x"), 0660), "write")
	tcheck(t, os.WriteFile(other, []byte("x"), 0660), "write")
	_, err = db.TempDir()
	tcheck(t, err, "temp dir again")
	_, err = os.Stat(stale)
	tcompare(t, errors.Is(err, os.ErrNotExist), true)
	_, err = os.Stat(other)
	tcheck(t, err, "stat other")
}
