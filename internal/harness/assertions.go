package harness

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/roach88/entitystore/internal/record"
	"github.com/roach88/entitystore/internal/testutil"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for _, ev := range e.Trace {
			fmt.Fprintf(&buf, "  [%d] %s %s -> %s gen=%d ids=%s\n",
				ev.Step, ev.Op, ev.Resource, ev.Outcome, ev.Generation, formatIDs(idsOf(ev.Records)))
		}
	}
	return buf.String()
}

// AssertionContext provides the run's state for evaluating assertions.
type AssertionContext struct {
	Harness *Harness
}

// assertFinalRecords checks the visible ids of a resource, in order.
func assertFinalRecords(trace []TraceEvent, h *Harness, a Assertion) error {
	want, err := parseIDs(a.IDs)
	if err != nil {
		return err
	}
	store, ok := h.stores[a.Resource]
	if !ok {
		return fmt.Errorf("final_records: resource %q was never acquired", a.Resource)
	}

	got := idsOf(store.Snapshot().Records)
	if !sameIDs(got, want) {
		return &AssertionError{
			Type:     AssertFinalRecords,
			Expected: fmt.Sprintf("%s ids %s", a.Resource, formatIDs(want)),
			Actual:   formatIDs(got),
			Trace:    trace,
		}
	}
	return nil
}

// assertRecordFields checks a record's fields with subset semantics.
// Extra fields on the record are ignored.
func assertRecordFields(trace []TraceEvent, h *Harness, a Assertion) error {
	id, err := record.ParseID(a.ID)
	if err != nil {
		return fmt.Errorf("record_fields: id: %w", err)
	}
	want, err := normalize(a.Fields)
	if err != nil {
		return fmt.Errorf("record_fields: fields: %w", err)
	}
	store, ok := h.stores[a.Resource]
	if !ok {
		return fmt.Errorf("record_fields: resource %q was never acquired", a.Resource)
	}

	rec, ok := store.Snapshot().Find(id)
	if !ok {
		return &AssertionError{
			Type:     AssertRecordFields,
			Expected: fmt.Sprintf("%s record %s", a.Resource, id),
			Actual:   "not found",
			Trace:    trace,
		}
	}
	for key, wantVal := range want {
		gotVal, exists := rec.Fields[key]
		if !exists || !reflect.DeepEqual(gotVal, wantVal) {
			return &AssertionError{
				Type:     AssertRecordFields,
				Expected: fmt.Sprintf("%s record %s field %s = %v", a.Resource, id, key, wantVal),
				Actual:   fmt.Sprintf("%v", gotVal),
				Trace:    trace,
			}
		}
	}
	return nil
}

// assertCallCount checks how many backend calls the run made.
func assertCallCount(trace []TraceEvent, h *Harness, a Assertion) error {
	count := 0
	for _, c := range h.adapter.Calls() {
		if c.Op == testutil.Op(a.Call) && (a.Resource == "" || c.Resource == a.Resource) {
			count++
		}
	}
	if count != a.Count {
		return &AssertionError{
			Type:     AssertCallCount,
			Expected: fmt.Sprintf("%d %s calls", a.Count, a.Call),
			Actual:   fmt.Sprintf("%d calls", count),
			Trace:    trace,
		}
	}
	return nil
}

// assertObserved checks the latest snapshot a named subscriber received.
func assertObserved(trace []TraceEvent, h *Harness, a Assertion) error {
	want, err := parseIDs(a.IDs)
	if err != nil {
		return err
	}
	o, ok := h.observers[a.Subscriber]
	if !ok || o.last == nil {
		return &AssertionError{
			Type:     AssertObserved,
			Expected: fmt.Sprintf("%s observed ids %s", a.Subscriber, formatIDs(want)),
			Actual:   "no snapshot received",
			Trace:    trace,
		}
	}
	if got := idsOf(o.last.Records); !sameIDs(got, want) {
		return &AssertionError{
			Type:     AssertObserved,
			Expected: fmt.Sprintf("%s observed ids %s", a.Subscriber, formatIDs(want)),
			Actual:   fmt.Sprintf("%s at generation %d", formatIDs(got), o.last.Generation),
			Trace:    trace,
		}
	}
	return nil
}

// EvaluateAssertions evaluates all assertions against the result.
// Returns a slice of error messages for failed assertions.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var errs []string

	for i, assertion := range assertions {
		var err error

		if actx == nil || actx.Harness == nil {
			err = fmt.Errorf("assertion[%d]: %s requires a harness context", i, assertion.Type)
		} else {
			switch assertion.Type {
			case AssertFinalRecords:
				err = assertFinalRecords(result.Trace, actx.Harness, assertion)
			case AssertRecordFields:
				err = assertRecordFields(result.Trace, actx.Harness, assertion)
			case AssertCallCount:
				err = assertCallCount(result.Trace, actx.Harness, assertion)
			case AssertObserved:
				err = assertObserved(result.Trace, actx.Harness, assertion)
			default:
				err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, assertion.Type)
			}
		}

		if err != nil {
			errs = append(errs, err.Error())
		}
	}
	return errs
}

func parseIDs(raw []any) ([]record.ID, error) {
	out := make([]record.ID, len(raw))
	for i, v := range raw {
		id, err := record.ParseID(v)
		if err != nil {
			return nil, fmt.Errorf("ids[%d]: %w", i, err)
		}
		out[i] = id
	}
	return out, nil
}

func idsOf(records []record.Record) []record.ID {
	out := make([]record.ID, len(records))
	for i, r := range records {
		out[i] = r.ID
	}
	return out
}

func sameIDs(a, b []record.ID) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func formatIDs(ids []record.ID) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = id.String()
	}
	return "[" + strings.Join(parts, " ") + "]"
}
