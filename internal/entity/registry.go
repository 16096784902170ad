package entity

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/roach88/entitystore/internal/adapter"
	"github.com/roach88/entitystore/internal/record"
)

// ProvisionalPrefix starts every locally synthesized record id.
const ProvisionalPrefix = "tmp-"

// Registry owns one Store per resource key.
//
// The application root creates a Registry, injects it where consumers need
// it, and shuts it down at teardown. There is no package-level registry.
type Registry struct {
	adapter adapter.Adapter
	logger  *slog.Logger
	ids     record.IDGenerator

	mu       sync.Mutex
	stores   map[string]*Store
	closed   bool
	inflight sync.WaitGroup
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) {
		r.logger = logger
	}
}

// WithIDGenerator sets the provisional id generator.
// Default: UUIDv7 ids prefixed with ProvisionalPrefix.
func WithIDGenerator(g record.IDGenerator) Option {
	return func(r *Registry) {
		r.ids = g
	}
}

// NewRegistry creates a registry whose stores persist through a.
func NewRegistry(a adapter.Adapter, opts ...Option) *Registry {
	r := &Registry{
		adapter: a,
		logger:  slog.Default(),
		ids:     record.UUIDv7Generator{Prefix: ProvisionalPrefix},
		stores:  map[string]*Store{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Acquire returns the store for key, creating it on first use.
//
// Every call with the same key returns the same *Store. The first call
// starts the initial list in the background; until it resolves the
// store's snapshot reports Loading.
func (r *Registry) Acquire(key string) (*Store, error) {
	if err := record.CheckResource(key); err != nil {
		return nil, adapter.NewValidationError(key, record.ID{}, "invalid resource key", err)
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrClosed
	}
	if s, ok := r.stores[key]; ok {
		r.mu.Unlock()
		return s, nil
	}
	s := newStore(r, key)
	r.stores[key] = s
	r.inflight.Add(1)
	r.mu.Unlock()

	r.logger.Debug("store acquired", "resource", key)
	s.launchFetch()
	return s, nil
}

// Keys returns the acquired resource keys in sorted order.
func (r *Registry) Keys() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	keys := make([]string, 0, len(r.stores))
	for k := range r.stores {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Shutdown rejects new work, waits for in-flight mutations and fetches to
// settle (or ctx to end), then closes every subscription.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	stores := make([]*Store, 0, len(r.stores))
	for _, s := range r.stores {
		stores = append(stores, s)
	}
	r.mu.Unlock()

	settled := make(chan struct{})
	go func() {
		r.inflight.Wait()
		close(settled)
	}()

	var err error
	select {
	case <-settled:
	case <-ctx.Done():
		err = fmt.Errorf("shutdown: %w", ctx.Err())
	}

	for _, s := range stores {
		s.close()
	}
	return err
}

// begin counts one unit of in-flight work. It reports false after Shutdown.
func (r *Registry) begin() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return false
	}
	r.inflight.Add(1)
	return true
}

func (r *Registry) end() {
	r.inflight.Done()
}
