package store

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/mjl-/vvm/mlog"
)

// TempDir returns subdirectory tmp next to the database, creating it if needed.
// Large IMAP literals are written there. Files with prefix "imapliteral-" are
// left behind only by a crash, and are removed.
func (db *DB) TempDir() (string, error) {
	dir := filepath.Join(filepath.Dir(db.Path), "tmp")
	if err := os.MkdirAll(dir, 0770); err != nil {
		return "", err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", err
	}
	for _, e := range entries {
		if !e.Type().IsRegular() || !strings.HasPrefix(e.Name(), "imapliteral-") {
			continue
		}
		err := os.Remove(filepath.Join(dir, e.Name()))
		xlog.Check(err, "removing stale temporary file", mlog.Field("name", e.Name()))
	}
	return dir, nil
}
