package entity

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/entitystore/internal/adapter"
	"github.com/roach88/entitystore/internal/record"
	"github.com/roach88/entitystore/internal/testutil"
)

func TestScenarioA_CreateAndRollback(t *testing.T) {
	ctx := context.Background()

	t.Run("create on empty backend", func(t *testing.T) {
		fake := testutil.NewFakeAdapter()
		s := acquireLoaded(t, newTestRegistry(t, fake), "tasks")

		snap := s.Snapshot()
		assert.Empty(t, snap.Records)
		assert.False(t, snap.Loading)

		rec, err := s.Create(ctx, record.Fields{"title": "T1"})
		require.NoError(t, err)
		assert.False(t, rec.ID.IsZero(), "backend synthesizes an id")
		assert.Equal(t, []record.Record{rec}, s.Snapshot().Records)
	})

	t.Run("failing create rolls back", func(t *testing.T) {
		fake := testutil.NewFakeAdapter()
		s := acquireLoaded(t, newTestRegistry(t, fake), "tasks")
		fake.FailNext(testutil.OpCreate, "tasks", adapter.KindValidation)

		_, err := s.Create(ctx, record.Fields{"title": "T1"})
		require.Error(t, err)
		assert.True(t, adapter.IsValidation(err))
		assert.Len(t, s.Snapshot().Records, 0)
	})
}

func TestStore_CreateRollbackRestoresExactList(t *testing.T) {
	fake := testutil.NewFakeAdapter()
	fake.Seed("tasks", seeded(1, 2, 3)...)
	s := acquireLoaded(t, newTestRegistry(t, fake), "tasks")
	before := s.Snapshot().Records

	fake.FailNext(testutil.OpCreate, "tasks", adapter.KindConnectivity)
	_, err := s.Create(context.Background(), record.Fields{"title": "x"})
	require.Error(t, err)

	snap := s.Snapshot()
	assert.Equal(t, before, snap.Records)
	assert.Equal(t, adapter.KindConnectivity, snap.ErrKind())
}

func TestStore_CreateIsVisibleBeforePersistence(t *testing.T) {
	fake := testutil.NewFakeAdapter()
	s := acquireLoaded(t, newTestRegistry(t, fake), "tasks")

	fake.Hold()
	m := s.CreateAsync(record.Fields{"title": "T1"})

	assert.Equal(t, record.StringID("tmp-1"), m.Provisional())
	provisional, ok := s.Snapshot().Find(record.StringID("tmp-1"))
	require.True(t, ok)
	assert.Equal(t, "T1", provisional.Fields["title"])
	_, err := m.Result()
	assert.ErrorIs(t, err, ErrPending)

	fake.Release()
	rec, err := settle(t, m)
	require.NoError(t, err)
	assert.Equal(t, record.IntID(1), rec.ID)
	assert.Equal(t, []record.ID{record.IntID(1)}, snapshotIDs(s.Snapshot()))
}

func TestStore_CreateWithCachedIDFailsImmediately(t *testing.T) {
	fake := testutil.NewFakeAdapter()
	fake.Seed("tasks", seeded(1)...)
	s := acquireLoaded(t, newTestRegistry(t, fake), "tasks")

	_, err := s.Create(context.Background(), record.Fields{"id": 1, "n": "dup"})
	require.Error(t, err)
	assert.True(t, adapter.IsValidation(err))
	assert.Equal(t, 0, fake.CallCount(testutil.OpCreate))
	assert.Len(t, s.Snapshot().Records, 1)
}

func TestStore_CreateWithCallerID(t *testing.T) {
	fake := testutil.NewFakeAdapter()
	s := acquireLoaded(t, newTestRegistry(t, fake), "tasks")

	fake.Hold()
	m := s.CreateAsync(record.Fields{"id": "custom", "title": "x"})
	assert.Equal(t, record.StringID("custom"), m.Provisional())
	assert.Equal(t, []record.ID{record.StringID("custom")}, snapshotIDs(s.Snapshot()))

	fake.Release()
	rec, err := settle(t, m)
	require.NoError(t, err)
	assert.Equal(t, record.StringID("custom"), rec.ID)
	assert.Len(t, s.Snapshot().Records, 1)
}

func TestStore_UpdateMergesOptimistically(t *testing.T) {
	fake := testutil.NewFakeAdapter()
	fake.Seed("tasks", record.New(record.IntID(1), record.Fields{"title": "old", "done": false}))
	s := acquireLoaded(t, newTestRegistry(t, fake), "tasks")

	fake.Hold()
	m := s.UpdateAsync(record.IntID(1), record.Fields{"done": true})

	rec, ok := s.Snapshot().Find(record.IntID(1))
	require.True(t, ok)
	assert.Equal(t, true, rec.Fields["done"])
	assert.Equal(t, "old", rec.Fields["title"])

	fake.Release()
	_, err := settle(t, m)
	require.NoError(t, err)
	rec, _ = s.Snapshot().Find(record.IntID(1))
	assert.Equal(t, true, rec.Fields["done"])
}

func TestStore_UpdateRollbackRestoresPriorValues(t *testing.T) {
	fake := testutil.NewFakeAdapter()
	fake.Seed("tasks", record.New(record.IntID(1), record.Fields{"title": "old"}))
	s := acquireLoaded(t, newTestRegistry(t, fake), "tasks")
	before := s.Snapshot().Records

	fake.FailNext(testutil.OpUpdate, "tasks", adapter.KindValidation)
	_, err := s.Update(context.Background(), record.IntID(1), record.Fields{"title": "new", "extra": 1})
	require.Error(t, err)
	assert.True(t, adapter.IsValidation(err))

	snap := s.Snapshot()
	assert.Equal(t, before, snap.Records)
	assert.Equal(t, adapter.KindValidation, snap.ErrKind())
}

func TestStore_UpdateMissingSurfacesNotFound(t *testing.T) {
	fake := testutil.NewFakeAdapter()
	s := acquireLoaded(t, newTestRegistry(t, fake), "tasks")

	_, err := s.Update(context.Background(), record.IntID(9), record.Fields{"x": 1})
	require.Error(t, err)
	assert.True(t, adapter.IsNotFound(err))
	assert.Empty(t, s.Snapshot().Records)
}

func TestStore_UpdateRejectsZeroID(t *testing.T) {
	fake := testutil.NewFakeAdapter()
	s := acquireLoaded(t, newTestRegistry(t, fake), "tasks")

	_, err := s.Update(context.Background(), record.ID{}, record.Fields{"x": 1})
	assert.True(t, adapter.IsValidation(err))
	assert.Equal(t, 0, fake.CallCount(testutil.OpUpdate))
}

func TestStore_PerIDOrdering(t *testing.T) {
	fake := testutil.NewFakeAdapter()
	fake.Seed("tasks", seeded(1, 2)...)
	s := acquireLoaded(t, newTestRegistry(t, fake), "tasks")

	fake.Hold()
	a := s.UpdateAsync(record.IntID(1), record.Fields{"n": "A", "a": true})
	b := s.UpdateAsync(record.IntID(1), record.Fields{"n": "B"})
	c := s.UpdateAsync(record.IntID(2), record.Fields{"n": "C"})

	// Both layers are visible at once, in call order.
	rec, _ := s.Snapshot().Find(record.IntID(1))
	assert.Equal(t, "B", rec.Fields["n"])
	assert.Equal(t, true, rec.Fields["a"])

	// Id 2 runs concurrently with id 1; the second id-1 update waits.
	require.Eventually(t, func() bool {
		return fake.CallCount(testutil.OpUpdate) == 2
	}, settleTimeout, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 2, fake.CallCount(testutil.OpUpdate))

	fake.Release()
	for _, m := range []*Mutation{a, b, c} {
		_, err := settle(t, m)
		require.NoError(t, err)
	}

	final, err := b.Result()
	require.NoError(t, err)
	assert.Equal(t, "B", final.Fields["n"], "patch B lands on top of patch A")
	assert.Equal(t, true, final.Fields["a"])

	calls := fake.Calls()
	last := calls[len(calls)-1]
	assert.Equal(t, testutil.Call{Op: testutil.OpUpdate, Resource: "tasks", ID: record.IntID(1)}, last)

	rec, _ = s.Snapshot().Find(record.IntID(1))
	assert.Equal(t, "B", rec.Fields["n"])
}

func TestStore_ProvisionalIDSharesLaneWithCanonical(t *testing.T) {
	fake := testutil.NewFakeAdapter()
	s := acquireLoaded(t, newTestRegistry(t, fake), "tasks")

	fake.Hold()
	created := s.CreateAsync(record.Fields{"title": "T1"})
	pid := created.Provisional()
	updated := s.UpdateAsync(pid, record.Fields{"done": true})

	rec, ok := s.Snapshot().Find(pid)
	require.True(t, ok)
	assert.Equal(t, true, rec.Fields["done"])

	fake.Release()
	_, err := settle(t, created)
	require.NoError(t, err)
	got, err := settle(t, updated)
	require.NoError(t, err)

	assert.Equal(t, record.IntID(1), got.ID)
	assert.Equal(t, []testutil.Call{
		{Op: testutil.OpList, Resource: "tasks"},
		{Op: testutil.OpCreate, Resource: "tasks"},
		{Op: testutil.OpUpdate, Resource: "tasks", ID: record.IntID(1)},
	}, fake.Calls())

	// The provisional id keeps resolving after reconciliation.
	_, err = s.Update(context.Background(), pid, record.Fields{"title": "T2"})
	require.NoError(t, err)
	assert.Equal(t, "T2", fake.Records("tasks")[0].Fields["title"])
	assert.Equal(t, []record.ID{record.IntID(1)}, snapshotIDs(s.Snapshot()))
}

func TestStore_MutationsOnFailedProvisionalSkipBackend(t *testing.T) {
	fake := testutil.NewFakeAdapter()
	s := acquireLoaded(t, newTestRegistry(t, fake), "tasks")

	fake.Hold()
	fake.FailNext(testutil.OpCreate, "tasks", adapter.KindValidation)
	created := s.CreateAsync(record.Fields{"title": "bad"})
	pid := created.Provisional()
	updated := s.UpdateAsync(pid, record.Fields{"x": 1})
	removed := s.RemoveAsync(pid)
	fake.Release()

	_, err := settle(t, created)
	assert.True(t, adapter.IsValidation(err))
	_, err = settle(t, updated)
	assert.True(t, adapter.IsNotFound(err))
	_, err = settle(t, removed)
	assert.NoError(t, err)

	assert.Equal(t, 0, fake.CallCount(testutil.OpUpdate))
	assert.Equal(t, 0, fake.CallCount(testutil.OpRemove))
	assert.Empty(t, s.Snapshot().Records)
}

func TestStore_RemoveHidesOptimistically(t *testing.T) {
	fake := testutil.NewFakeAdapter()
	fake.Seed("tasks", seeded(1, 2, 3)...)
	s := acquireLoaded(t, newTestRegistry(t, fake), "tasks")

	fake.Hold()
	m := s.RemoveAsync(record.IntID(2))
	assert.Equal(t, []record.ID{record.IntID(1), record.IntID(3)}, snapshotIDs(s.Snapshot()))

	fake.Release()
	_, err := settle(t, m)
	require.NoError(t, err)
	assert.Equal(t, []record.ID{record.IntID(1), record.IntID(3)}, snapshotIDs(s.Snapshot()))
	assert.Len(t, fake.Records("tasks"), 2)
}

func TestStore_RemoveRollbackRestoresPosition(t *testing.T) {
	fake := testutil.NewFakeAdapter()
	fake.Seed("tasks", seeded(1, 2, 3)...)
	s := acquireLoaded(t, newTestRegistry(t, fake), "tasks")
	before := s.Snapshot().Records

	fake.FailNext(testutil.OpRemove, "tasks", adapter.KindConnectivity)
	err := s.Remove(context.Background(), record.IntID(2))
	require.Error(t, err)
	assert.True(t, adapter.IsConnectivity(err))
	assert.Equal(t, before, s.Snapshot().Records)
}

func TestStore_DeleteIdempotence(t *testing.T) {
	fake := testutil.NewFakeAdapter()
	fake.Seed("tasks", seeded(1, 2)...)
	s := acquireLoaded(t, newTestRegistry(t, fake), "tasks")
	ctx := context.Background()

	require.NoError(t, s.Remove(ctx, record.IntID(1)))
	after := s.Snapshot().Records

	require.NoError(t, s.Remove(ctx, record.IntID(1)))
	assert.Equal(t, after, s.Snapshot().Records)
	assert.Equal(t, []record.ID{record.IntID(2)}, snapshotIDs(s.Snapshot()))
}

func TestStore_RemoveNotFoundCountsAsSuccess(t *testing.T) {
	fake := testutil.NewFakeAdapter()
	fake.Seed("tasks", seeded(1)...)
	s := acquireLoaded(t, newTestRegistry(t, fake), "tasks")

	fake.FailNext(testutil.OpRemove, "tasks", adapter.KindNotFound)
	require.NoError(t, s.Remove(context.Background(), record.IntID(1)))
	assert.Empty(t, s.Snapshot().Records)
}

func TestScenarioC_RemoveAbsentID(t *testing.T) {
	fake := testutil.NewFakeAdapter()
	fake.Seed("tasks", seeded(1, 2)...)
	s := acquireLoaded(t, newTestRegistry(t, fake), "tasks")
	before := s.Snapshot()

	require.NoError(t, s.Remove(context.Background(), record.IntID(42)))

	after := s.Snapshot()
	assert.Equal(t, before.Records, after.Records)
	assert.Equal(t, before.Generation, after.Generation, "no new snapshot is published")
}

func TestStore_ErrorClearedBySuccess(t *testing.T) {
	fake := testutil.NewFakeAdapter()
	s := acquireLoaded(t, newTestRegistry(t, fake), "tasks")
	ctx := context.Background()

	fake.FailNext(testutil.OpCreate, "tasks", adapter.KindValidation)
	_, err := s.Create(ctx, record.Fields{})
	require.Error(t, err)
	require.Error(t, s.Snapshot().Err)

	_, err = s.Create(ctx, record.Fields{"title": "ok"})
	require.NoError(t, err)
	assert.NoError(t, s.Snapshot().Err)
}

func TestStore_WaitDetachesOnCancel(t *testing.T) {
	fake := testutil.NewFakeAdapter()
	s := acquireLoaded(t, newTestRegistry(t, fake), "tasks")

	fake.Hold()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := s.Create(ctx, record.Fields{"title": "T1"})
	assert.ErrorIs(t, err, context.Canceled)

	// The write is fire-and-forget: it still lands.
	fake.Release()
	require.Eventually(t, func() bool {
		_, ok := s.Snapshot().Find(record.IntID(1))
		return ok
	}, settleTimeout, time.Millisecond)
	assert.Len(t, fake.Records("tasks"), 1)
}

func TestStore_DetachedFailureStillRollsBack(t *testing.T) {
	fake := testutil.NewFakeAdapter()
	s := acquireLoaded(t, newTestRegistry(t, fake), "tasks")

	fake.Hold()
	fake.FailNext(testutil.OpCreate, "tasks", adapter.KindUnexpected)
	m := s.CreateAsync(record.Fields{"title": "T1"})
	m.Detach()
	assert.True(t, m.Detached())

	fake.Release()
	_, err := settle(t, m)
	require.Error(t, err)
	assert.Empty(t, s.Snapshot().Records)
}

func TestStore_FailedCreateWithCallerIDKeepsIDAddressable(t *testing.T) {
	fake := testutil.NewFakeAdapter()
	s := acquireLoaded(t, newTestRegistry(t, fake), "tasks")
	ctx := context.Background()

	// Another writer takes id 7 after the initial load.
	fake.Seed("tasks", record.New(record.IntID(7), record.Fields{"title": "theirs"}))
	_, err := s.Create(ctx, record.Fields{"id": 7, "title": "mine"})
	require.True(t, adapter.IsValidation(err))

	require.NoError(t, s.Refresh(ctx))
	require.Equal(t, 1, s.Snapshot().Len())

	rec, err := s.Update(ctx, record.IntID(7), record.Fields{"done": true})
	require.NoError(t, err)
	assert.Equal(t, true, rec.Fields["done"])
	assert.Equal(t, 1, fake.CallCount(testutil.OpUpdate))

	require.NoError(t, s.Remove(ctx, record.IntID(7)))
	assert.Equal(t, 1, fake.CallCount(testutil.OpRemove))
	assert.Empty(t, fake.Records("tasks"), "backend and cache agree")
	assert.Empty(t, s.Snapshot().Records)
}

func TestStore_AbandonedIDsPrunedWhenLaneDrains(t *testing.T) {
	fake := testutil.NewFakeAdapter()
	s := acquireLoaded(t, newTestRegistry(t, fake), "tasks")

	fake.FailNext(testutil.OpCreate, "tasks", adapter.KindValidation)
	_, err := s.Create(context.Background(), record.Fields{"title": "bad"})
	require.Error(t, err)

	require.Eventually(t, func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		return len(s.abandoned) == 0 && len(s.lanes) == 0
	}, settleTimeout, time.Millisecond)
}

func TestStore_AliasesPrunedOnRemove(t *testing.T) {
	fake := testutil.NewFakeAdapter()
	s := acquireLoaded(t, newTestRegistry(t, fake), "tasks")
	ctx := context.Background()

	created := s.CreateAsync(record.Fields{"title": "T1"})
	rec, err := settle(t, created)
	require.NoError(t, err)
	s.mu.Lock()
	assert.Equal(t, rec.ID, s.aliases[created.Provisional()])
	s.mu.Unlock()

	require.NoError(t, s.Remove(ctx, created.Provisional()))
	assert.Equal(t, []testutil.Call{
		{Op: testutil.OpList, Resource: "tasks"},
		{Op: testutil.OpCreate, Resource: "tasks"},
		{Op: testutil.OpRemove, Resource: "tasks", ID: rec.ID},
	}, fake.Calls())
	require.Eventually(t, func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		return len(s.aliases) == 0 && len(s.aliasOrder) == 0 && len(s.lanes) == 0
	}, settleTimeout, time.Millisecond)
}

func TestStore_AliasesBounded(t *testing.T) {
	s := acquireLoaded(t, newTestRegistry(t, testutil.NewFakeAdapter()), "tasks")

	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range maxAliases + 5 {
		s.addAliasLocked(record.StringID(fmt.Sprintf("tmp-%d", i)), record.IntID(int64(i)))
	}
	assert.Len(t, s.aliases, maxAliases)
	assert.Len(t, s.aliasOrder, maxAliases)
	assert.NotContains(t, s.aliases, record.StringID("tmp-0"))
	assert.Equal(t, record.IntID(int64(maxAliases+4)), s.aliases[record.StringID(fmt.Sprintf("tmp-%d", maxAliases+4))])
}
