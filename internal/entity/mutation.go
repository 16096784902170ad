package entity

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/roach88/entitystore/internal/record"
)

// Op names a mutating operation.
type Op string

const (
	OpCreate Op = "create"
	OpUpdate Op = "update"
	OpRemove Op = "remove"
)

// Mutation is the handle of one optimistic mutation.
//
// The optimistic change is visible in the store's snapshot as soon as the
// handle is returned. Done closes once persistence responds and the store
// has either reconciled or rolled back.
//
// Detach drops the caller's interest: the write already issued is never
// aborted, and a failure of a detached mutation is only logged.
type Mutation struct {
	op       Op
	resource string
	id       record.ID
	logger   *slog.Logger

	done     chan struct{}
	rec      record.Record
	err      error
	detached atomic.Bool
}

func newMutation(op Op, resource string, id record.ID, logger *slog.Logger) *Mutation {
	return &Mutation{
		op:       op,
		resource: resource,
		id:       id,
		logger:   logger,
		done:     make(chan struct{}),
	}
}

// Op returns the kind of mutation.
func (m *Mutation) Op() Op {
	return m.op
}

// Provisional returns the id the mutation was applied under: the
// provisional id for a create, the addressed id otherwise.
func (m *Mutation) Provisional() record.ID {
	return m.id
}

// Done is closed when the mutation settles.
func (m *Mutation) Done() <-chan struct{} {
	return m.done
}

// Result returns the settled outcome, or ErrPending before Done closes.
// Creates and updates return the canonical record; removes return a zero
// record.
func (m *Mutation) Result() (record.Record, error) {
	select {
	case <-m.done:
		return m.rec, m.err
	default:
		return record.Record{}, ErrPending
	}
}

// Wait blocks until the mutation settles or ctx is done. When ctx ends
// first the mutation is detached and ctx.Err() is returned; the write
// itself keeps going.
func (m *Mutation) Wait(ctx context.Context) (record.Record, error) {
	select {
	case <-m.done:
		return m.rec, m.err
	case <-ctx.Done():
		m.Detach()
		return record.Record{}, ctx.Err()
	}
}

// Detach marks the caller as gone.
func (m *Mutation) Detach() {
	m.detached.Store(true)
}

// Detached reports whether Detach was called.
func (m *Mutation) Detached() bool {
	return m.detached.Load()
}

// complete settles the mutation. Called exactly once.
func (m *Mutation) complete(rec record.Record, err error) {
	m.rec, m.err = rec, err
	close(m.done)

	if err != nil && m.detached.Load() {
		m.logger.Debug("detached mutation failed",
			"resource", m.resource, "op", string(m.op), "id", m.id.String(), "error", err)
	}
}

// failed returns an already-settled mutation.
func failed(op Op, resource string, id record.ID, logger *slog.Logger, err error) *Mutation {
	m := newMutation(op, resource, id, logger)
	m.complete(record.Record{}, err)
	return m
}
