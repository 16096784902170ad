package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScenarios_Golden(t *testing.T) {
	scenarios, err := LoadDir("testdata/scenarios")
	require.NoError(t, err)
	require.NotEmpty(t, scenarios)

	for _, s := range scenarios {
		t.Run(s.Name, func(t *testing.T) {
			result, err := RunWithGolden(t, s)
			require.NoError(t, err)
			assert.True(t, result.Pass, "errors: %v", result.Errors)
			assert.Len(t, result.Trace, len(s.Flow))
		})
	}
}

func TestRun_Deterministic(t *testing.T) {
	scenarios, err := LoadDir("testdata/scenarios")
	require.NoError(t, err)

	for _, s := range scenarios {
		first, err := Run(s)
		require.NoError(t, err)
		second, err := Run(s)
		require.NoError(t, err)

		a, err := MarshalTrace(s.Name, first.Trace)
		require.NoError(t, err)
		b, err := MarshalTrace(s.Name, second.Trace)
		require.NoError(t, err)
		assert.Equal(t, string(a), string(b), s.Name)
	}
}

func TestRun_ExpectMismatchFails(t *testing.T) {
	count := 3
	s := &Scenario{
		Name:        "mismatch",
		Description: "expectations that cannot hold",
		Flow: []FlowStep{
			{Op: StepAcquire, Resource: "tasks", Expect: &ExpectClause{Count: &count}},
			{Op: StepCreate, Resource: "tasks", Fields: map[string]any{"title": "x"},
				Expect: &ExpectClause{Outcome: "VALIDATION"}},
		},
	}

	result, err := Run(s)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 2)
	assert.Contains(t, result.Errors[0], "flow[0]: expected 3 records, got 0")
	assert.Contains(t, result.Errors[1], "flow[1]: expected outcome VALIDATION, got ok")
}

func TestRun_CallerSuppliedIDs(t *testing.T) {
	s := &Scenario{
		Name:        "caller_ids",
		Description: "caller-supplied string ids",
		Flow: []FlowStep{
			{Op: StepCreate, Resource: "notes", Fields: map[string]any{"id": "n-1", "body": "hi"}},
			{Op: StepCreate, Resource: "notes", Fields: map[string]any{"id": "n-1", "body": "again"},
				Expect: &ExpectClause{Outcome: "VALIDATION", IDs: []any{"n-1"}}},
		},
	}

	result, err := Run(s)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
	assert.Equal(t, "n-1", result.Trace[0].ID.String())
}

func TestRun_InitialFetchFailure(t *testing.T) {
	s := &Scenario{
		Name:        "offline",
		Description: "initial list fails",
		Flow: []FlowStep{
			{Op: StepAcquire, Resource: "tasks", Fail: "CONNECTIVITY",
				Expect: &ExpectClause{Outcome: "CONNECTIVITY"}},
			{Op: StepRefresh, Resource: "tasks", Expect: &ExpectClause{}},
		},
	}

	result, err := Run(s)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
	assert.Equal(t, int64(2), result.Trace[0].Generation)
	assert.Equal(t, int64(4), result.Trace[1].Generation)
}

func TestRun_BadIDIsExecutionError(t *testing.T) {
	s := &Scenario{
		Name:        "bad_id",
		Description: "fractional id",
		Flow: []FlowStep{
			{Op: StepRemove, Resource: "tasks", ID: 1.5},
		},
	}

	_, err := Run(s)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "flow[0]: id:")
}

func TestResult_AddError(t *testing.T) {
	r := NewResult()
	assert.True(t, r.Pass)

	r.AddError("boom")
	assert.False(t, r.Pass)
	assert.Equal(t, []string{"boom"}, r.Errors)
}
