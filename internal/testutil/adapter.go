package testutil

import (
	"context"
	"sync"

	"github.com/roach88/entitystore/internal/adapter"
	"github.com/roach88/entitystore/internal/record"
)

// Op names an adapter operation.
type Op string

const (
	OpList   Op = "list"
	OpCreate Op = "create"
	OpUpdate Op = "update"
	OpRemove Op = "remove"
)

// Call records one adapter invocation, in the order calls started.
type Call struct {
	Op       Op
	Resource string
	ID       record.ID
}

type injected struct {
	op       Op
	resource string
	err      error
}

// FakeAdapter is an in-memory adapter.Adapter for tests.
//
// Records keep insertion order per resource. Created records without an id
// get sequential numeric ids starting at 1. Failures are injected with
// FailNext, and Hold/Release gate every call so tests can observe the
// optimistic state before persistence responds.
// HoldOp gates a single operation.
//
// Thread-safety: safe for concurrent use.
type FakeAdapter struct {
	mu       sync.Mutex
	data     map[string][]record.Record
	nextID   int64
	failures []injected
	calls    []Call
	gates    map[Op]chan struct{}
}

// NewFakeAdapter creates an empty fake.
func NewFakeAdapter() *FakeAdapter {
	return &FakeAdapter{
		data:  map[string][]record.Record{},
		gates: map[Op]chan struct{}{},
	}
}

// Seed appends records to resource.
func (f *FakeAdapter) Seed(resource string, records ...record.Record) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data[resource] = append(f.data[resource], records...)
	for _, r := range records {
		if n, ok := r.ID.Int(); ok && n > f.nextID {
			f.nextID = n
		}
	}
}

// Records returns a copy of resource's backend state.
func (f *FakeAdapter) Records(resource string) []record.Record {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]record.Record{}, f.data[resource]...)
}

// FailNext makes the next op call on resource fail with an error of kind.
// An empty resource matches any resource. Injected failures queue up and are
// consumed first-match in the order they were added.
func (f *FakeAdapter) FailNext(op Op, resource string, kind adapter.Kind) {
	f.FailNextWith(op, resource, &adapter.Error{
		Kind:     kind,
		Resource: resource,
		Message:  "injected " + string(op) + " failure",
	})
}

// FailNextWith is FailNext with an arbitrary error.
func (f *FakeAdapter) FailNextWith(op Op, resource string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures = append(f.failures, injected{op: op, resource: resource, err: err})
}

// Hold makes every subsequent call block after it is recorded, until Release.
func (f *FakeAdapter) Hold() {
	f.HoldOp(OpList, OpCreate, OpUpdate, OpRemove)
}

// HoldOp is Hold for the given operations only.
func (f *FakeAdapter) HoldOp(ops ...Op) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, op := range ops {
		if f.gates[op] == nil {
			f.gates[op] = make(chan struct{})
		}
	}
}

// Release unblocks every held call.
func (f *FakeAdapter) Release() {
	f.ReleaseOp(OpList, OpCreate, OpUpdate, OpRemove)
}

// ReleaseOp unblocks held calls of the given operations.
func (f *FakeAdapter) ReleaseOp(ops ...Op) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, op := range ops {
		if gate := f.gates[op]; gate != nil {
			close(gate)
			delete(f.gates, op)
		}
	}
}

// Calls returns the calls started so far.
func (f *FakeAdapter) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Call{}, f.calls...)
}

// CallCount returns how many calls of op have started.
func (f *FakeAdapter) CallCount(op Op) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c.Op == op {
			n++
		}
	}
	return n
}

// begin records the call, waits on the gate, and returns any injected failure.
func (f *FakeAdapter) begin(ctx context.Context, op Op, resource string, id record.ID) error {
	f.mu.Lock()
	f.calls = append(f.calls, Call{Op: op, Resource: resource, ID: id})
	gate := f.gates[op]
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return adapter.NewConnectivityError(resource, "call cancelled", ctx.Err())
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	for i, inj := range f.failures {
		if inj.op == op && (inj.resource == "" || inj.resource == resource) {
			f.failures = append(f.failures[:i], f.failures[i+1:]...)
			return inj.err
		}
	}
	return nil
}

func (f *FakeAdapter) indexOf(resource string, id record.ID) int {
	for i, r := range f.data[resource] {
		if r.ID == id {
			return i
		}
	}
	return -1
}

// List returns resource's records in insertion order.
func (f *FakeAdapter) List(ctx context.Context, resource string) ([]record.Record, error) {
	if err := f.begin(ctx, OpList, resource, record.ID{}); err != nil {
		return nil, err
	}
	return f.Records(resource), nil
}

// Create appends partial, assigning the next numeric id when absent.
func (f *FakeAdapter) Create(ctx context.Context, resource string, partial record.Fields) (record.Record, error) {
	if err := f.begin(ctx, OpCreate, resource, record.ID{}); err != nil {
		return record.Record{}, err
	}
	id, fields, err := record.Split(partial)
	if err != nil {
		return record.Record{}, adapter.NewValidationError(resource, record.ID{}, "invalid id", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if id.IsZero() {
		f.nextID++
		id = record.IntID(f.nextID)
	} else if f.indexOf(resource, id) >= 0 {
		return record.Record{}, adapter.NewValidationError(resource, id, "duplicate id", nil)
	}
	rec := record.Record{ID: id, Fields: fields}
	f.data[resource] = append(f.data[resource], rec)
	return rec, nil
}

// Update shallow-merges patch into id.
func (f *FakeAdapter) Update(ctx context.Context, resource string, id record.ID, patch record.Fields) (record.Record, error) {
	if err := f.begin(ctx, OpUpdate, resource, id); err != nil {
		return record.Record{}, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.indexOf(resource, id)
	if i < 0 {
		return record.Record{}, adapter.NewNotFoundError(resource, id)
	}
	rec := record.Merge(f.data[resource][i], patch)
	f.data[resource][i] = rec
	return rec, nil
}

// Remove deletes id. Absent ids are a no-op.
func (f *FakeAdapter) Remove(ctx context.Context, resource string, id record.ID) error {
	if err := f.begin(ctx, OpRemove, resource, id); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if i := f.indexOf(resource, id); i >= 0 {
		records := f.data[resource]
		f.data[resource] = append(records[:i:i], records[i+1:]...)
	}
	return nil
}

var _ adapter.Adapter = (*FakeAdapter)(nil)
