// Package harness runs store behaviour scenarios described in YAML.
//
// A scenario seeds an in-memory backend (testutil.FakeAdapter), drives a
// flow of store operations through an entity.Registry and checks the
// outcome of every step. Each step waits for its operation to settle, and
// provisional ids come from a deterministic sequence, so the trace of a
// scenario is byte-identical across runs and can be compared against a
// golden file.
//
// # Scenario Format
//
//	name: create_rolls_back
//	description: "A rejected create leaves the list as it was"
//	seed:
//	  tasks:
//	    - { id: 1, title: "water plants" }
//	flow:
//	  - op: acquire
//	    resource: tasks
//	    expect: { count: 1 }
//	  - op: create
//	    resource: tasks
//	    fields: { title: "" }
//	    fail: VALIDATION
//	    expect: { outcome: VALIDATION, ids: [1] }
//	assertions:
//	  - type: final_records
//	    resource: tasks
//	    ids: [1]
//	  - type: call_count
//	    call: create
//	    count: 1
//
// Steps: acquire, subscribe, create, update, remove, refresh. A step's
// fail field injects a backend error of that kind into the adapter call
// the step makes. Assertions: final_records, record_fields, call_count,
// observed.
//
// # Trace
//
// Each step contributes one event holding the step's outcome, the store
// generation after it settled and the visible records. The trace is
// serialized with record.MarshalCanonical for golden comparison.
package harness
