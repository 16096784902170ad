package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/roach88/entitystore/internal/adapter"
	"github.com/roach88/entitystore/internal/record"
)

// Scenario defines a store behaviour scenario.
// A scenario seeds the fake backend, drives a flow of store operations and
// asserts on the resulting trace, backend calls and final state.
type Scenario struct {
	// Name uniquely identifies this scenario. Also names the golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Seed lists backend records per resource before the flow starts.
	// Each record must carry an id.
	Seed map[string][]map[string]any `yaml:"seed,omitempty"`

	// Flow contains the operations to run, in order. Each step waits for
	// its operation to settle before the next one starts.
	Flow []FlowStep `yaml:"flow"`

	// Assertions validate the final state.
	// Supported types: final_records, record_fields, call_count, observed
	Assertions []Assertion `yaml:"assertions"`
}

// Flow step operations.
const (
	StepAcquire   = "acquire"
	StepSubscribe = "subscribe"
	StepCreate    = "create"
	StepUpdate    = "update"
	StepRemove    = "remove"
	StepRefresh   = "refresh"
)

// FlowStep is one store operation.
type FlowStep struct {
	// Op is one of acquire, subscribe, create, update, remove, refresh.
	Op string `yaml:"op"`

	// Resource is the resource key the step targets.
	Resource string `yaml:"resource"`

	// ID is the record id for update and remove. YAML integers become
	// numeric ids, strings become string ids.
	ID any `yaml:"id,omitempty"`

	// Fields is the create payload or update patch.
	Fields map[string]any `yaml:"fields,omitempty"`

	// Subscriber names the consumer registered by a subscribe step.
	Subscriber string `yaml:"subscriber,omitempty"`

	// Fail injects a backend failure of this kind into the step's adapter call.
	Fail string `yaml:"fail,omitempty"`

	// Expect checks the step's outcome. If nil, any outcome is accepted.
	Expect *ExpectClause `yaml:"expect,omitempty"`
}

// ExpectClause specifies the expected result of a step.
type ExpectClause struct {
	// Outcome is "ok" or an error kind such as VALIDATION. Defaults to "ok".
	Outcome string `yaml:"outcome,omitempty"`

	// Count is the expected number of visible records after the step.
	Count *int `yaml:"count,omitempty"`

	// IDs is the expected visible id list, in order.
	IDs []any `yaml:"ids,omitempty"`
}

// Assertion validates final state.
type Assertion struct {
	// Type specifies the assertion type:
	// - "final_records": visible ids of Resource, in order
	// - "record_fields": fields of record ID in Resource (subset match)
	// - "call_count": number of backend calls of Call on Resource
	// - "observed": ids in the latest snapshot Subscriber received
	Type string `yaml:"type"`

	Resource string `yaml:"resource,omitempty"`

	// ID selects the record for record_fields.
	ID any `yaml:"id,omitempty"`

	// IDs is the expected id list for final_records and observed.
	IDs []any `yaml:"ids,omitempty"`

	// Fields are the expected values for record_fields.
	Fields map[string]any `yaml:"fields,omitempty"`

	// Call is the adapter operation counted by call_count.
	Call string `yaml:"call,omitempty"`

	// Count is the expected number of calls.
	Count int `yaml:"count,omitempty"`

	// Subscriber names the consumer checked by observed.
	Subscriber string `yaml:"subscriber,omitempty"`
}

// Assertion type constants.
const (
	AssertFinalRecords = "final_records"
	AssertRecordFields = "record_fields"
	AssertCallCount    = "call_count"
	AssertObserved     = "observed"
)

// OutcomeOK is the outcome of a step that succeeded.
const OutcomeOK = "ok"

var knownKinds = map[string]bool{
	string(adapter.KindValidation):   true,
	string(adapter.KindNotFound):     true,
	string(adapter.KindConnectivity): true,
	string(adapter.KindUnexpected):   true,
	string(adapter.KindConflict):     true,
}

var knownCalls = map[string]bool{"list": true, "create": true, "update": true, "remove": true}

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	// Reject unknown fields (catches typos like "assertion:" vs "assertions:")
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// LoadDir loads every *.yaml scenario in dir, sorted by file name.
func LoadDir(dir string) ([]*Scenario, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.yaml"))
	if err != nil {
		return nil, fmt.Errorf("glob scenarios: %w", err)
	}
	sort.Strings(paths)

	out := make([]*Scenario, 0, len(paths))
	for _, p := range paths {
		s, err := LoadScenario(p)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", filepath.Base(p), err)
		}
		out = append(out, s)
	}
	return out, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Flow) == 0 {
		return fmt.Errorf("flow list is required and must be non-empty")
	}

	for resource, records := range s.Seed {
		if err := record.CheckResource(resource); err != nil {
			return fmt.Errorf("seed: %w", err)
		}
		for i, m := range records {
			if _, ok := m[record.IDField]; !ok {
				return fmt.Errorf("seed.%s[%d]: id is required", resource, i)
			}
		}
	}

	subscribers := map[string]bool{}
	for i, step := range s.Flow {
		if err := validateStep(i, &step); err != nil {
			return err
		}
		if step.Op == StepSubscribe {
			if subscribers[step.Subscriber] {
				return fmt.Errorf("flow[%d]: subscriber %q already defined", i, step.Subscriber)
			}
			subscribers[step.Subscriber] = true
		}
	}

	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
		if assertion.Type == AssertObserved && !subscribers[assertion.Subscriber] {
			return fmt.Errorf("assertions[%d]: unknown subscriber %q", i, assertion.Subscriber)
		}
	}
	return nil
}

func validateStep(i int, step *FlowStep) error {
	if step.Resource == "" {
		return fmt.Errorf("flow[%d]: resource is required", i)
	}
	if err := record.CheckResource(step.Resource); err != nil {
		return fmt.Errorf("flow[%d]: %w", i, err)
	}
	switch step.Op {
	case StepAcquire, StepRefresh:
	case StepSubscribe:
		if step.Subscriber == "" {
			return fmt.Errorf("flow[%d]: subscriber is required for subscribe", i)
		}
	case StepCreate:
	case StepUpdate:
		if step.ID == nil {
			return fmt.Errorf("flow[%d]: id is required for update", i)
		}
		if len(step.Fields) == 0 {
			return fmt.Errorf("flow[%d]: fields are required for update", i)
		}
	case StepRemove:
		if step.ID == nil {
			return fmt.Errorf("flow[%d]: id is required for remove", i)
		}
	case "":
		return fmt.Errorf("flow[%d]: op is required", i)
	default:
		return fmt.Errorf("flow[%d]: unknown op %q", i, step.Op)
	}

	if step.Fail != "" {
		if !knownKinds[step.Fail] {
			return fmt.Errorf("flow[%d]: unknown failure kind %q", i, step.Fail)
		}
		if step.Op == StepSubscribe {
			return fmt.Errorf("flow[%d]: subscribe makes no backend call to fail", i)
		}
	}
	if step.Expect != nil && step.Expect.Outcome != "" &&
		step.Expect.Outcome != OutcomeOK && !knownKinds[step.Expect.Outcome] {
		return fmt.Errorf("flow[%d].expect: unknown outcome %q", i, step.Expect.Outcome)
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertFinalRecords:
		if a.Resource == "" {
			return fmt.Errorf("assertions[%d]: resource is required for final_records", index)
		}
	case AssertRecordFields:
		if a.Resource == "" || a.ID == nil {
			return fmt.Errorf("assertions[%d]: resource and id are required for record_fields", index)
		}
		if len(a.Fields) == 0 {
			return fmt.Errorf("assertions[%d]: fields are required for record_fields", index)
		}
	case AssertCallCount:
		if !knownCalls[a.Call] {
			return fmt.Errorf("assertions[%d]: call must be one of list, create, update, remove", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for call_count", index)
		}
	case AssertObserved:
		if a.Subscriber == "" {
			return fmt.Errorf("assertions[%d]: subscriber is required for observed", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
