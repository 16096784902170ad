package entity

import (
	"bytes"
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roach88/entitystore/internal/record"
	"github.com/roach88/entitystore/internal/testutil"
)

const settleTimeout = 2 * time.Second

// newTestRegistry builds a registry with deterministic provisional ids
// ("tmp-1", "tmp-2", ...) and shuts it down at cleanup.
func newTestRegistry(t *testing.T, fake *testutil.FakeAdapter) *Registry {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	r := NewRegistry(fake,
		WithLogger(logger),
		WithIDGenerator(testutil.NewSequenceGenerator(ProvisionalPrefix)),
	)
	t.Cleanup(func() {
		fake.Release()
		ctx, cancel := context.WithTimeout(context.Background(), settleTimeout)
		defer cancel()
		r.Shutdown(ctx)
	})
	return r
}

// acquireLoaded acquires key and waits for the initial fetch.
func acquireLoaded(t *testing.T, r *Registry, key string) *Store {
	t.Helper()
	s, err := r.Acquire(key)
	require.NoError(t, err)
	select {
	case <-s.Loaded():
	case <-time.After(settleTimeout):
		t.Fatalf("store %q did not load", key)
	}
	return s
}

// settle waits for m and returns its result.
func settle(t *testing.T, m *Mutation) (record.Record, error) {
	t.Helper()
	select {
	case <-m.Done():
		return m.Result()
	case <-time.After(settleTimeout):
		t.Fatalf("%s mutation on %s did not settle", m.Op(), m.Provisional())
		return record.Record{}, nil
	}
}

func snapshotIDs(s *Snapshot) []record.ID {
	out := make([]record.ID, len(s.Records))
	for i, r := range s.Records {
		out[i] = r.ID
	}
	return out
}

func seeded(ids ...int64) []record.Record {
	out := make([]record.Record, len(ids))
	for i, id := range ids {
		out[i] = record.New(record.IntID(id), record.Fields{"n": record.IntID(id).String()})
	}
	return out
}
