package entity

import (
	"context"
	"log/slog"
	"strconv"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/roach88/entitystore/internal/adapter"
	"github.com/roach88/entitystore/internal/record"
)

// listFlight prefixes the singleflight key of a fetch. The key also
// carries the store's write epoch, so a fetch only joins a flight that
// started after the last confirmed write.
const listFlight = "list"

// maxAliases bounds how many reconciled provisional ids stay resolvable.
const maxAliases = 1024

// layer is one pending update patch over a cached record.
type layer struct {
	patch record.Fields
}

// entry is one cached record plus its unconfirmed optimistic state.
//
// The visible record is base with every pending layer merged on top, in
// call order. A failed update drops its layer, which restores the prior
// values without touching base. hidden counts pending removes.
type entry struct {
	base        record.Record
	layers      []*layer
	hidden      int
	provisional bool
}

func (e *entry) view() record.Record {
	rec := e.base
	for _, l := range e.layers {
		rec = record.Merge(rec, l.patch)
	}
	return rec
}

func (e *entry) dropLayer(ly *layer) bool {
	for i, l := range e.layers {
		if l == ly {
			e.layers = append(e.layers[:i], e.layers[i+1:]...)
			return true
		}
	}
	return false
}

// Store is the live, cached record list of one resource.
//
// Every mutation is applied optimistically and published at once, then
// reconciled with the adapter's answer or rolled back. Mutations addressed
// to the same id run one at a time in call order; everything else runs
// concurrently. A Store is obtained from Registry.Acquire and shared by
// every consumer of its resource key.
//
// Thread-safety: all methods are safe for concurrent use.
type Store struct {
	key      string
	adapter  adapter.Adapter
	logger   *slog.Logger
	ids      record.IDGenerator
	registry *Registry
	clock    *Clock
	broker   broker
	fetches  singleflight.Group

	loaded     chan struct{}
	loadedOnce sync.Once

	mu      sync.Mutex
	entries []*entry
	// aliases maps reconciled provisional ids to canonical ids, oldest
	// first in aliasOrder.
	aliases    map[record.ID]record.ID
	aliasOrder []record.ID
	// abandoned holds synthesized provisional ids whose create failed,
	// until their lane drains.
	abandoned map[record.ID]bool
	lanes     map[record.ID]*lane
	// canonicalLanes routes a canonical id to the provisional lane that is
	// still draining mutations queued before reconciliation.
	canonicalLanes map[record.ID]*lane

	// starting is set until the initial fetch begins; fetchers counts
	// fetches in progress.
	starting bool
	fetchers int
	// epoch advances on every confirmed write. fetchSeq numbers fetches in
	// start order and applied is the newest one whose result was taken.
	epoch    uint64
	fetchSeq uint64
	applied  uint64

	lastErr error
	current *Snapshot
	closed  bool
}

// newStore builds a store with starting set, so its first snapshot
// already reports Loading. The caller starts the initial fetch.
func newStore(r *Registry, key string) *Store {
	s := &Store{
		key:            key,
		adapter:        r.adapter,
		logger:         r.logger.With("resource", key),
		ids:            r.ids,
		registry:       r,
		clock:          NewClock(),
		loaded:         make(chan struct{}),
		entries:        []*entry{},
		aliases:        map[record.ID]record.ID{},
		abandoned:      map[record.ID]bool{},
		lanes:          map[record.ID]*lane{},
		canonicalLanes: map[record.ID]*lane{},
		starting:       true,
	}
	// Not yet shared; no lock needed.
	s.publishLocked()
	return s
}

// Key returns the resource key.
func (s *Store) Key() string {
	return s.key
}

// Snapshot returns the latest published snapshot.
func (s *Store) Snapshot() *Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Loaded is closed once the initial fetch has resolved, successfully or not.
func (s *Store) Loaded() <-chan struct{} {
	return s.loaded
}

// Subscribe registers a consumer. The current snapshot is delivered at
// once, followed by every newer one until the subscription is closed.
func (s *Store) Subscribe() *Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub := newSubscription(&s.broker)
	sub.offer(s.current)
	if s.closed {
		close(sub.ch)
		return sub
	}
	s.broker.add(sub)
	return sub
}

// Subscribers returns the number of open subscriptions.
func (s *Store) Subscribers() int {
	return s.broker.len()
}

// Watch calls fn with every snapshot until ctx is done, fn returns an
// error, or the registry shuts down.
func (s *Store) Watch(ctx context.Context, fn func(*Snapshot) error) error {
	sub := s.Subscribe()
	defer sub.Close()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case snap, ok := <-sub.C():
			if !ok {
				return nil
			}
			if err := fn(snap); err != nil {
				return err
			}
		}
	}
}

// Refresh re-lists the resource and replaces the cached list wholesale.
// Concurrent refreshes share one adapter call unless a write was confirmed
// after that call started, in which case a new one is issued. If ctx ends
// first the
// caller stops waiting but the fetch still completes and publishes.
//
// On failure the last known-good records stay and the error is recorded
// in the snapshot.
func (s *Store) Refresh(ctx context.Context) error {
	ch, err := s.startFetch()
	if err != nil {
		return err
	}
	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Invalidate starts a refresh in the background.
func (s *Store) Invalidate() {
	if _, err := s.startFetch(); err != nil {
		s.logger.Debug("invalidate skipped", "error", err)
	}
}

func (s *Store) startFetch() (<-chan singleflight.Result, error) {
	if !s.registry.begin() {
		return nil, ErrClosed
	}
	return s.launchFetch(), nil
}

// launchFetch runs a fetch already counted by registry.begin.
func (s *Store) launchFetch() <-chan singleflight.Result {
	s.mu.Lock()
	key := listFlight + "@" + strconv.FormatUint(s.epoch, 10)
	s.mu.Unlock()

	flight := s.fetches.DoChan(key, func() (any, error) {
		return nil, s.load()
	})
	out := make(chan singleflight.Result, 1)
	go func() {
		defer s.registry.end()
		out <- <-flight
	}()
	return out
}

func (s *Store) load() error {
	s.mu.Lock()
	wasLoading := s.loadingLocked()
	s.starting = false
	s.fetchers++
	s.fetchSeq++
	seq, epoch := s.fetchSeq, s.epoch
	if !wasLoading {
		s.publishLocked()
	}
	s.mu.Unlock()

	// Shared by every waiter, so no single caller's context applies.
	records, err := s.adapter.List(context.Background(), s.key)

	s.mu.Lock()
	defer s.mu.Unlock()
	defer s.loadedOnce.Do(func() { close(s.loaded) })

	s.fetchers--
	// Drop the result if a later fetch already landed, or if a write was
	// confirmed meanwhile and a later fetch is still coming.
	if seq < s.applied || (epoch != s.epoch && seq < s.fetchSeq) {
		s.logger.Debug("stale list discarded", "seq", seq, "applied", s.applied)
		if !s.loadingLocked() {
			s.publishLocked()
		}
		return err
	}
	s.applied = seq
	if err != nil {
		s.logger.Warn("list failed", "error", err)
		s.lastErr = err
		s.publishLocked()
		return err
	}

	s.entries = s.entriesFrom(records)
	s.pruneAliasesLocked()
	s.lastErr = nil
	s.publishLocked()
	s.logger.Debug("list loaded", "records", len(records))
	return nil
}

// entriesFrom builds fresh entries, keeping the first of duplicate ids.
func (s *Store) entriesFrom(records []record.Record) []*entry {
	seen := make(map[record.ID]bool, len(records))
	out := make([]*entry, 0, len(records))
	for _, r := range records {
		if seen[r.ID] {
			s.logger.Warn("duplicate id in listing, keeping first", "id", r.ID.String())
			continue
		}
		seen[r.ID] = true
		out = append(out, &entry{base: r})
	}
	return out
}

// Create applies partial optimistically and waits for persistence.
// Cancelling ctx detaches the caller; the write continues.
func (s *Store) Create(ctx context.Context, partial record.Fields) (record.Record, error) {
	return s.create(context.WithoutCancel(ctx), partial).Wait(ctx)
}

// CreateAsync applies partial optimistically and returns at once.
func (s *Store) CreateAsync(partial record.Fields) *Mutation {
	return s.create(context.Background(), partial)
}

// Update layers patch over id optimistically and waits for persistence.
func (s *Store) Update(ctx context.Context, id record.ID, patch record.Fields) (record.Record, error) {
	return s.update(context.WithoutCancel(ctx), id, patch).Wait(ctx)
}

// UpdateAsync layers patch over id optimistically and returns at once.
func (s *Store) UpdateAsync(id record.ID, patch record.Fields) *Mutation {
	return s.update(context.Background(), id, patch)
}

// Remove hides id optimistically and waits for persistence. Removing an
// id the backend does not have succeeds.
func (s *Store) Remove(ctx context.Context, id record.ID) error {
	_, err := s.remove(context.WithoutCancel(ctx), id).Wait(ctx)
	return err
}

// RemoveAsync hides id optimistically and returns at once.
func (s *Store) RemoveAsync(id record.ID) *Mutation {
	return s.remove(context.Background(), id)
}

func (s *Store) create(ctx context.Context, partial record.Fields) *Mutation {
	id, fields, err := record.Split(partial)
	if err != nil {
		return s.reject(OpCreate, record.ID{}, adapter.NewValidationError(s.key, record.ID{}, "invalid id", err))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !id.IsZero() && s.indexLocked(s.resolveLocked(id)) >= 0 {
		return s.rejectLocked(OpCreate, id, adapter.NewValidationError(s.key, id, "duplicate id", nil))
	}
	pid := id
	synthesized := pid.IsZero()
	if synthesized {
		pid = record.StringID(s.ids.Generate())
	}
	if !s.registry.begin() {
		return failed(OpCreate, s.key, pid, s.logger, ErrClosed)
	}

	m := newMutation(OpCreate, s.key, pid, s.logger)
	e := &entry{base: record.Record{ID: pid, Fields: fields}, provisional: true}
	s.entries = append(s.entries, e)
	s.publishLocked()

	payload := partial.Clone()
	s.enqueueLocked(pid, func() {
		defer s.registry.end()
		rec, err := s.adapter.Create(ctx, s.key, payload)
		s.settleCreate(m, e, pid, synthesized, rec, err)
	})
	return m
}

// settleCreate reconciles a create. Only a synthesized pid is marked
// abandoned on failure: a caller-supplied id may well exist on the backend.
func (s *Store) settleCreate(m *Mutation, e *entry, pid record.ID, synthesized bool, rec record.Record, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexOfEntryLocked(e)
	if err != nil {
		if i >= 0 {
			s.entries = append(s.entries[:i], s.entries[i+1:]...)
		}
		if synthesized {
			s.abandoned[pid] = true
		}
		s.failLocked(m, err)
		return
	}

	if rec.ID != pid {
		s.addAliasLocked(pid, rec.ID)
		if l := s.lanes[pid]; l != nil && s.lanes[rec.ID] == nil {
			l.canonical = rec.ID
			s.canonicalLanes[rec.ID] = l
		}
	}

	switch j := s.indexLocked(rec.ID); {
	case j >= 0 && j != i:
		// A refresh already brought the canonical record in.
		other := s.entries[j]
		other.base = rec
		if i >= 0 {
			other.layers = append(other.layers, e.layers...)
			s.entries = append(s.entries[:i], s.entries[i+1:]...)
		}
	case i >= 0:
		e.base = rec
		e.provisional = false
	default:
		s.entries = append(s.entries, &entry{base: rec})
	}

	s.succeedLocked(m, rec)
}

func (s *Store) update(ctx context.Context, id record.ID, patch record.Fields) *Mutation {
	if id.IsZero() {
		return s.reject(OpUpdate, id, adapter.NewValidationError(s.key, id, "update requires an id", nil))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.registry.begin() {
		return failed(OpUpdate, s.key, id, s.logger, ErrClosed)
	}

	m := newMutation(OpUpdate, s.key, id, s.logger)
	ly := &layer{patch: patch.Clone()}
	if i := s.indexLocked(s.resolveLocked(id)); i >= 0 {
		s.entries[i].layers = append(s.entries[i].layers, ly)
		s.publishLocked()
	}

	s.enqueueLocked(id, func() {
		defer s.registry.end()
		target, ok := s.target(id)
		if !ok {
			s.settleUpdate(m, ly, record.Record{}, adapter.NewNotFoundError(s.key, id))
			return
		}
		rec, err := s.adapter.Update(ctx, s.key, target, ly.patch)
		s.settleUpdate(m, ly, rec, err)
	})
	return m
}

func (s *Store) settleUpdate(m *Mutation, ly *layer, rec record.Record, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range s.entries {
		if e.dropLayer(ly) {
			break
		}
	}
	if err != nil {
		s.failLocked(m, err)
		return
	}

	if i := s.indexLocked(rec.ID); i >= 0 {
		s.entries[i].base = rec
	} else {
		s.entries = append(s.entries, &entry{base: rec})
	}
	s.succeedLocked(m, rec)
}

func (s *Store) remove(ctx context.Context, id record.ID) *Mutation {
	if id.IsZero() {
		return s.reject(OpRemove, id, adapter.NewValidationError(s.key, id, "remove requires an id", nil))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.registry.begin() {
		return failed(OpRemove, s.key, id, s.logger, ErrClosed)
	}

	m := newMutation(OpRemove, s.key, id, s.logger)
	var hidden *entry
	if i := s.indexLocked(s.resolveLocked(id)); i >= 0 {
		hidden = s.entries[i]
		hidden.hidden++
		s.publishLocked()
	}

	s.enqueueLocked(id, func() {
		defer s.registry.end()
		target, ok := s.target(id)
		var err error
		if ok {
			err = s.adapter.Remove(ctx, s.key, target)
			if adapter.IsNotFound(err) {
				err = nil
			}
		}
		s.settleRemove(m, hidden, target, err)
	})
	return m
}

func (s *Store) settleRemove(m *Mutation, hidden *entry, target record.ID, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err != nil {
		if hidden != nil && s.indexOfEntryLocked(hidden) >= 0 {
			hidden.hidden--
		}
		s.failLocked(m, err)
		return
	}

	i := s.indexLocked(target)
	if i < 0 && s.lastErr == nil {
		// Nothing to remove: keep the current snapshot.
		m.complete(record.Record{}, nil)
		return
	}
	if i >= 0 {
		s.entries = append(s.entries[:i], s.entries[i+1:]...)
	}
	s.succeedLocked(m, record.Record{})
}

// reject settles a mutation that failed before any optimistic change.
func (s *Store) reject(op Op, id record.ID, err error) *Mutation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rejectLocked(op, id, err)
}

func (s *Store) rejectLocked(op Op, id record.ID, err error) *Mutation {
	m := newMutation(op, s.key, id, s.logger)
	s.failLocked(m, err)
	return m
}

func (s *Store) failLocked(m *Mutation, err error) {
	s.logger.Debug("mutation failed", "op", string(m.op), "id", m.id.String(), "error", err)
	s.lastErr = err
	s.publishLocked()
	m.complete(record.Record{}, err)
}

func (s *Store) succeedLocked(m *Mutation, rec record.Record) {
	s.epoch++
	s.lastErr = nil
	s.publishLocked()
	m.complete(rec, nil)
}

// target resolves id at execution time. It reports false for a
// provisional id whose create failed, which the backend never saw.
func (s *Store) target(id record.ID) (record.ID, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	resolved := s.resolveLocked(id)
	return resolved, !s.abandoned[resolved]
}

// addAliasLocked records pid as resolving to canonical, evicting the
// oldest alias beyond maxAliases.
func (s *Store) addAliasLocked(pid, canonical record.ID) {
	if _, ok := s.aliases[pid]; !ok {
		s.aliasOrder = append(s.aliasOrder, pid)
	}
	s.aliases[pid] = canonical
	for len(s.aliasOrder) > maxAliases {
		delete(s.aliases, s.aliasOrder[0])
		s.aliasOrder = s.aliasOrder[1:]
	}
}

// pruneAliasesLocked drops aliases whose canonical record left the cache
// and whose lane has drained.
func (s *Store) pruneAliasesLocked() {
	if len(s.aliases) == 0 {
		return
	}
	kept := s.aliasOrder[:0]
	for _, pid := range s.aliasOrder {
		canonical, ok := s.aliases[pid]
		if !ok {
			continue
		}
		if s.indexLocked(canonical) < 0 && s.canonicalLanes[canonical] == nil && s.lanes[canonical] == nil {
			delete(s.aliases, pid)
			continue
		}
		kept = append(kept, pid)
	}
	clear(s.aliasOrder[len(kept):])
	s.aliasOrder = kept
}

// dropAliasesToLocked forgets the aliases of canonical once its record
// has left the cache and no lane still serves it.
func (s *Store) dropAliasesToLocked(canonical record.ID) {
	if len(s.aliases) == 0 || s.indexLocked(canonical) >= 0 {
		return
	}
	if s.lanes[canonical] != nil || s.canonicalLanes[canonical] != nil {
		return
	}
	kept := s.aliasOrder[:0]
	for _, pid := range s.aliasOrder {
		c, ok := s.aliases[pid]
		if ok && c == canonical {
			delete(s.aliases, pid)
			continue
		}
		if ok {
			kept = append(kept, pid)
		}
	}
	clear(s.aliasOrder[len(kept):])
	s.aliasOrder = kept
}

func (s *Store) resolveLocked(id record.ID) record.ID {
	if canonical, ok := s.aliases[id]; ok {
		return canonical
	}
	return id
}

func (s *Store) indexLocked(id record.ID) int {
	for i, e := range s.entries {
		if e.base.ID == id {
			return i
		}
	}
	return -1
}

func (s *Store) indexOfEntryLocked(e *entry) int {
	for i, x := range s.entries {
		if x == e {
			return i
		}
	}
	return -1
}

// enqueueLocked appends t to id's lane, starting a drainer if the lane
// was idle.
func (s *Store) enqueueLocked(id record.ID, t task) {
	id = s.resolveLocked(id)
	l := s.canonicalLanes[id]
	if l == nil {
		l = s.lanes[id]
	}
	if l != nil {
		l.push(t)
		return
	}

	l = newLane(id)
	l.push(t)
	s.lanes[id] = l
	go s.drain(l)
}

func (s *Store) drain(l *lane) {
	for {
		s.mu.Lock()
		t := l.pop()
		if t == nil {
			delete(s.lanes, l.key)
			delete(s.abandoned, l.key)
			if !l.canonical.IsZero() && s.canonicalLanes[l.canonical] == l {
				delete(s.canonicalLanes, l.canonical)
			}
			s.dropAliasesToLocked(l.key)
			if !l.canonical.IsZero() {
				s.dropAliasesToLocked(l.canonical)
			}
			s.mu.Unlock()
			return
		}
		s.mu.Unlock()
		t()
	}
}

func (s *Store) loadingLocked() bool {
	return s.starting || s.fetchers > 0
}

// publishLocked stamps and delivers a snapshot of the current state.
func (s *Store) publishLocked() {
	records := make([]record.Record, 0, len(s.entries))
	for _, e := range s.entries {
		if e.hidden > 0 {
			continue
		}
		records = append(records, e.view())
	}
	snap := &Snapshot{
		Resource:   s.key,
		Records:    records,
		Loading:    s.loadingLocked(),
		Err:        s.lastErr,
		Generation: s.clock.Next(),
	}
	s.current = snap
	s.broker.publish(snap)
}

// close ends every subscription. Late completions still update the cache
// but reach no one.
func (s *Store) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.broker.closeAll()
}
