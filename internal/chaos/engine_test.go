// internal/chaos/engine_test.go
package chaos

import (
	"bytes"
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func constant(name string, v float64) Metric {
	return Metric{
		Name:      name,
		Query:     func(context.Context) (float64, error) { return v, nil },
		Threshold: Threshold{Operator: "==", Value: 0},
	}
}

func TestThreshold_Holds(t *testing.T) {
	tests := []struct {
		op   string
		v    float64
		want bool
	}{
		{">", 2, true},
		{">", 1, false},
		{"<", 0, true},
		{">=", 1, true},
		{"<=", 2, false},
		{"==", 1, true},
		{"!=", 1, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Threshold{Operator: tt.op, Value: 1}.Holds(tt.v), "%v %s 1", tt.v, tt.op)
	}
}

func TestEngineRun_HypothesisHeld(t *testing.T) {
	e := NewEngine(nil)
	var executed, rolledBack bool
	exp := Experiment{
		Name:        "noop",
		SteadyState: []Metric{constant("errors", 0)},
		Method:      []Action{{Type: "act", Execute: func(context.Context) error { executed = true; return nil }}},
		Rollback:    []Action{{Type: "undo", Execute: func(context.Context) error { rolledBack = true; return nil }}},
		Validation:  []Assertion{{Metric: "errors", Condition: equals(0), Message: "no errors"}},
	}

	result, err := e.Run(context.Background(), exp)

	require.NoError(t, err)
	assert.True(t, executed)
	assert.True(t, rolledBack)
	assert.True(t, result.SteadyStateValid)
	assert.True(t, result.HypothesisHeld)
	assert.NotEmpty(t, result.Observations["errors"], "a zero window still samples once")
	assert.Len(t, e.Results(), 1)
}

func TestEngineRun_AbortsOnInvalidSteadyState(t *testing.T) {
	e := NewEngine(nil)
	executed := false
	exp := Experiment{
		Name:        "broken",
		SteadyState: []Metric{constant("errors", 3)},
		Method:      []Action{{Execute: func(context.Context) error { executed = true; return nil }}},
	}

	result, err := e.Run(context.Background(), exp)

	assert.ErrorIs(t, err, ErrSteadyState)
	assert.False(t, executed)
	require.Len(t, result.Violations, 1)
	assert.Equal(t, float64(3), result.Violations[0].Actual)
}

func TestEngineRun_FailedAssertionAndActionErrors(t *testing.T) {
	e := NewEngine(nil)
	exp := Experiment{
		Name:       "failing",
		Observe:    []Metric{constant("payments", 2)},
		Method:     []Action{{Type: "act", Target: "view", Execute: func(context.Context) error { return errors.New("refused") }}},
		Validation: []Assertion{{Metric: "payments", Condition: equals(1), Message: "exactly one payment"}, {Metric: "missing", Condition: equals(0), Message: "missing metric"}},
	}

	result, err := e.Run(context.Background(), exp)

	require.NoError(t, err)
	assert.False(t, result.HypothesisHeld)
	assert.Equal(t, []string{"exactly one payment", "missing metric (no observations)"}, result.FailedAssertions)
	require.Len(t, result.ErrorEvents, 1)
	assert.Equal(t, "view", result.ErrorEvents[0].Component)
}

func TestEngineRun_MeasuresRecovery(t *testing.T) {
	e := NewEngine(nil)
	var broken atomic.Bool
	exp := Experiment{
		Name: "recovering",
		SteadyState: []Metric{{
			Name: "divergence",
			Query: func(context.Context) (float64, error) {
				if broken.Load() {
					return 1, nil
				}
				return 0, nil
			},
			Threshold: Threshold{Operator: "==", Value: 0},
		}},
		Method: []Action{{Type: "break", Execute: func(context.Context) error {
			broken.Store(true)
			time.AfterFunc(20*time.Millisecond, func() { broken.Store(false) })
			return nil
		}}},
		Duration:    100 * time.Millisecond,
		SampleEvery: 5 * time.Millisecond,
	}

	result, err := e.Run(context.Background(), exp)

	require.NoError(t, err)
	assert.NotEmpty(t, result.Violations)
	require.NotNil(t, result.MTTR)
	assert.Greater(t, *result.MTTR, time.Duration(0))
}

func TestExecuteGameDay_Report(t *testing.T) {
	e := NewEngine(nil)
	pass := Experiment{Name: "pass", Hypothesis: "holds", Observe: []Metric{constant("x", 0)}, Validation: []Assertion{{Metric: "x", Condition: equals(0), Message: "x is zero"}}}
	fail := Experiment{Name: "fail", Hypothesis: "breaks", Observe: []Metric{constant("x", 1)}, Validation: []Assertion{{Metric: "x", Condition: equals(0), Message: "x is zero"}}}

	var out bytes.Buffer
	err := e.ExecuteGameDay(context.Background(), GameDay{Name: "drill", Date: time.Now(), Scenarios: []Experiment{pass, fail}}, &out)

	assert.EqualError(t, err, "1 of 2 experiments failed")
	report := out.String()
	assert.Contains(t, report, "Game Day: drill")
	assert.Contains(t, report, "Experiment 1/2: pass")
	assert.Contains(t, report, "PASS: hypothesis held")
	assert.Contains(t, report, "FAIL: hypothesis violated")
	assert.Contains(t, report, "- x is zero")
}
