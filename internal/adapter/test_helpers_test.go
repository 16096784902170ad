package adapter

import (
	"path/filepath"
	"testing"

	"github.com/roach88/entitystore/internal/record"
)

// createTestLocal opens a fresh SQLite-backed Local in a temp directory.
func createTestLocal(t *testing.T, opts ...LocalOption) *Local {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	l, err := OpenLocal(path, opts...)
	if err != nil {
		t.Fatalf("OpenLocal() failed: %v", err)
	}
	t.Cleanup(func() { l.Close() })
	return l
}

func ids(records []record.Record) []record.ID {
	out := make([]record.ID, len(records))
	for i, r := range records {
		out[i] = r.ID
	}
	return out
}
