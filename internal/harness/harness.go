package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"time"

	"github.com/roach88/entitystore/internal/adapter"
	"github.com/roach88/entitystore/internal/entity"
	"github.com/roach88/entitystore/internal/record"
	"github.com/roach88/entitystore/internal/testutil"
)

// DefaultStepTimeout bounds how long one flow step may take to settle.
const DefaultStepTimeout = 5 * time.Second

// Harness is the scenario execution engine.
// It runs scenarios against a fresh fake backend with deterministic ids.
type Harness struct {
	adapter     *testutil.FakeAdapter
	registry    *entity.Registry
	ids         *testutil.SequenceGenerator
	logger      *slog.Logger
	stepTimeout time.Duration
	stores      map[string]*entity.Store
	observers   map[string]*observer
}

// observer is a named subscription and the latest snapshot it received.
type observer struct {
	resource string
	sub      *entity.Subscription
	last     *entity.Snapshot
	received int
}

// Option configures a scenario run.
type Option func(*Harness)

// WithLogger routes store logs to logger. Logs are discarded by default.
func WithLogger(logger *slog.Logger) Option {
	return func(h *Harness) {
		h.logger = logger
	}
}

// WithStepTimeout overrides DefaultStepTimeout.
func WithStepTimeout(d time.Duration) Option {
	return func(h *Harness) {
		h.stepTimeout = d
	}
}

// Run executes a scenario and returns the result.
//
// Each scenario runs against its own FakeAdapter and Registry, so runs are
// isolated. Provisional ids come from a SequenceGenerator and backend ids
// are sequential, so the trace is identical on every run.
//
// Execution flow:
// 1. Seed the fake backend
// 2. Execute flow steps, waiting for each to settle
// 3. Check expect clauses and record one trace event per step
// 4. Evaluate assertions
// 5. Shut the registry down
//
// The returned error reports a scenario that could not be executed;
// failed expectations are reported through Result.
func Run(scenario *Scenario, opts ...Option) (*Result, error) {
	h := &Harness{
		adapter:     testutil.NewFakeAdapter(),
		ids:         testutil.NewSequenceGenerator(entity.ProvisionalPrefix),
		logger:      slog.New(slog.NewTextHandler(io.Discard, nil)), // Suppress logs in tests
		stepTimeout: DefaultStepTimeout,
		stores:      map[string]*entity.Store{},
		observers:   map[string]*observer{},
	}
	for _, opt := range opts {
		opt(h)
	}
	h.registry = entity.NewRegistry(h.adapter,
		entity.WithLogger(h.logger),
		entity.WithIDGenerator(h.ids),
	)

	if err := h.seed(scenario.Seed); err != nil {
		return nil, fmt.Errorf("failed to seed backend: %w", err)
	}

	result := NewResult()
	runErr := h.executeFlow(scenario.Flow, result)
	if runErr == nil {
		for _, msg := range EvaluateAssertions(result, scenario.Assertions, &AssertionContext{Harness: h}) {
			result.AddError(msg)
		}
	}

	if err := h.shutdown(); err != nil && runErr == nil {
		runErr = err
	}
	if runErr != nil {
		return nil, runErr
	}
	return result, nil
}

func (h *Harness) seed(seed map[string][]map[string]any) error {
	resources := make([]string, 0, len(seed))
	for resource := range seed {
		resources = append(resources, resource)
	}
	sort.Strings(resources)

	for _, resource := range resources {
		records := make([]record.Record, 0, len(seed[resource]))
		for i, m := range seed[resource] {
			fields, err := normalize(m)
			if err != nil {
				return fmt.Errorf("seed.%s[%d]: %w", resource, i, err)
			}
			rec, err := record.FromMap(fields)
			if err != nil {
				return fmt.Errorf("seed.%s[%d]: %w", resource, i, err)
			}
			records = append(records, rec)
		}
		h.adapter.Seed(resource, records...)
	}
	return nil
}

// executeFlow runs all flow steps and validates expect clauses.
func (h *Harness) executeFlow(flow []FlowStep, result *Result) error {
	for i, step := range flow {
		ev, err := h.executeStep(i, step)
		if err != nil {
			return fmt.Errorf("flow[%d]: %w", i, err)
		}
		result.AddEvent(ev)
		checkExpect(i, step.Expect, ev, result)

		h.logger.Debug("flow step completed",
			"step", i,
			"op", step.Op,
			"resource", step.Resource,
			"outcome", ev.Outcome,
			"generation", ev.Generation,
		)
	}
	return nil
}

func (h *Harness) executeStep(i int, step FlowStep) (TraceEvent, error) {
	ctx, cancel := context.WithTimeout(context.Background(), h.stepTimeout)
	defer cancel()

	ev := TraceEvent{Step: i, Op: step.Op, Resource: step.Resource}

	if step.Op == StepAcquire {
		h.inject(step)
	}
	store, err := h.acquire(ctx, step.Resource)
	if err != nil {
		return ev, err
	}

	var opErr error
	switch step.Op {
	case StepAcquire:
		opErr = store.Snapshot().Err

	case StepSubscribe:
		h.observers[step.Subscriber] = &observer{resource: step.Resource, sub: store.Subscribe()}

	case StepCreate:
		fields, err := normalize(step.Fields)
		if err != nil {
			return ev, fmt.Errorf("fields: %w", err)
		}
		h.inject(step)
		var rec record.Record
		rec, opErr = store.Create(ctx, fields)
		ev.ID = rec.ID

	case StepUpdate:
		id, err := record.ParseID(step.ID)
		if err != nil {
			return ev, fmt.Errorf("id: %w", err)
		}
		patch, err := normalize(step.Fields)
		if err != nil {
			return ev, fmt.Errorf("fields: %w", err)
		}
		h.inject(step)
		ev.ID = id
		_, opErr = store.Update(ctx, id, patch)

	case StepRemove:
		id, err := record.ParseID(step.ID)
		if err != nil {
			return ev, fmt.Errorf("id: %w", err)
		}
		h.inject(step)
		ev.ID = id
		opErr = store.Remove(ctx, id)

	case StepRefresh:
		h.inject(step)
		opErr = store.Refresh(ctx)

	default:
		return ev, fmt.Errorf("unknown op %q", step.Op)
	}

	if errors.Is(opErr, context.DeadlineExceeded) {
		return ev, fmt.Errorf("%s %s did not settle within %s", step.Op, step.Resource, h.stepTimeout)
	}
	ev.Outcome = outcomeOf(opErr)

	snap := store.Snapshot()
	ev.Generation = snap.Generation
	ev.Records = snap.Records
	h.drainObservers()
	return ev, nil
}

// acquire returns the loaded store for resource.
func (h *Harness) acquire(ctx context.Context, resource string) (*entity.Store, error) {
	store, err := h.registry.Acquire(resource)
	if err != nil {
		return nil, fmt.Errorf("acquire %s: %w", resource, err)
	}
	select {
	case <-store.Loaded():
	case <-ctx.Done():
		return nil, fmt.Errorf("acquire %s: initial fetch did not settle within %s", resource, h.stepTimeout)
	}
	h.stores[resource] = store
	return store, nil
}

// inject queues the step's failure on the adapter call it will make.
func (h *Harness) inject(step FlowStep) {
	if step.Fail == "" {
		return
	}
	h.adapter.FailNext(callOf(step.Op), step.Resource, adapter.Kind(step.Fail))
}

// drainObservers records the newest snapshot waiting on each subscription.
// Stores publish before a mutation settles, so by the time a step returns
// its snapshots are already buffered.
func (h *Harness) drainObservers() {
	for _, o := range h.observers {
		select {
		case snap, ok := <-o.sub.C():
			if ok {
				o.last = snap
				o.received++
			}
		default:
		}
	}
}

func (h *Harness) shutdown() error {
	for _, o := range h.observers {
		o.sub.Close()
	}
	ctx, cancel := context.WithTimeout(context.Background(), h.stepTimeout)
	defer cancel()
	if err := h.registry.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shut down registry: %w", err)
	}
	return nil
}

func callOf(op string) testutil.Op {
	switch op {
	case StepCreate:
		return testutil.OpCreate
	case StepUpdate:
		return testutil.OpUpdate
	case StepRemove:
		return testutil.OpRemove
	default:
		return testutil.OpList
	}
}

func outcomeOf(err error) string {
	if err == nil {
		return OutcomeOK
	}
	if kind := adapter.KindOf(err); kind != "" {
		return string(kind)
	}
	return string(adapter.KindUnexpected)
}

// normalize converts YAML-decoded values into plain JSON values.
func normalize(m map[string]any) (record.Fields, error) {
	if m == nil {
		return record.Fields{}, nil
	}
	return record.Normalize(m)
}

// checkExpect compares a step's event against its expect clause.
func checkExpect(i int, exp *ExpectClause, ev TraceEvent, result *Result) {
	if exp == nil {
		return
	}

	want := exp.Outcome
	if want == "" {
		want = OutcomeOK
	}
	if ev.Outcome != want {
		result.AddError(fmt.Sprintf("flow[%d]: expected outcome %s, got %s", i, want, ev.Outcome))
	}

	if exp.Count != nil && len(ev.Records) != *exp.Count {
		result.AddError(fmt.Sprintf("flow[%d]: expected %d records, got %d", i, *exp.Count, len(ev.Records)))
	}

	if exp.IDs != nil {
		wantIDs, err := parseIDs(exp.IDs)
		if err != nil {
			result.AddError(fmt.Sprintf("flow[%d].expect: %v", i, err))
			return
		}
		if got := idsOf(ev.Records); !sameIDs(got, wantIDs) {
			result.AddError(fmt.Sprintf("flow[%d]: expected ids %s, got %s", i, formatIDs(wantIDs), formatIDs(got)))
		}
	}
}
