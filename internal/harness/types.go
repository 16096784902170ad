package harness

import "github.com/roach88/entitystore/internal/record"

// TraceEvent records the store state after one flow step settled.
type TraceEvent struct {
	Step     int
	Op       string
	Resource string

	// ID is the record the step touched. Zero for list-level steps and
	// for creates that failed.
	ID record.ID

	// Outcome is "ok" or the error kind.
	Outcome string

	Generation int64
	Records    []record.Record
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass indicates overall success.
	// True if every expect clause and assertion matched.
	Pass bool

	// Trace contains one event per flow step, in order.
	Trace []TraceEvent

	// Errors contains expectation and assertion failures.
	// Empty if Pass is true.
	Errors []string
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError adds a failure message and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// AddEvent appends a trace event.
func (r *Result) AddEvent(ev TraceEvent) {
	r.Trace = append(r.Trace, ev)
}
