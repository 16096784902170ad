package entity

import (
	"github.com/roach88/entitystore/internal/adapter"
	"github.com/roach88/entitystore/internal/record"
)

// Snapshot is the consistent state of one resource at one generation.
//
// Snapshots are immutable once published. Records and their Fields are
// shared between subscribers and must not be modified.
type Snapshot struct {
	Resource string

	// Records in display order. Never nil once published.
	Records []record.Record

	// Loading is true only while a list fetch for Resource is outstanding.
	Loading bool

	// Err is the most recent failure. Cleared by the next successful
	// fetch or mutation.
	Err error

	// Generation increases by one with every publish of this store.
	Generation int64
}

// Len returns the number of records.
func (s *Snapshot) Len() int {
	return len(s.Records)
}

// Find returns the record with id.
func (s *Snapshot) Find(id record.ID) (record.Record, bool) {
	for _, r := range s.Records {
		if r.ID == id {
			return r, true
		}
	}
	return record.Record{}, false
}

// ErrKind returns the Kind of Err, or "" when there is none.
func (s *Snapshot) ErrKind() adapter.Kind {
	if s.Err == nil {
		return ""
	}
	if k := adapter.KindOf(s.Err); k != "" {
		return k
	}
	return adapter.KindUnexpected
}

// Digest returns a content digest of Records, independent of Generation.
// Equal digests mean equal record lists.
func (s *Snapshot) Digest() (string, error) {
	return record.Digest(s.Records)
}
