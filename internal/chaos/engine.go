// internal/chaos/engine.go
package chaos

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"memberdesk/internal/log"
)

// Experiment is one chaos test: check the steady state, inject faults,
// observe, roll back, then check the hypothesis.
type Experiment struct {
	Name        string
	Hypothesis  string
	SteadyState []Metric
	// Observe lists metrics sampled alongside the steady state that only
	// assertions look at.
	Observe    []Metric
	Method     []Action
	Rollback   []Action
	Validation []Assertion
	// Duration is the observation window; SampleEvery its sampling period.
	Duration    time.Duration
	SampleEvery time.Duration
}

// Metric is a measurable property of the system.
type Metric struct {
	Name      string
	Query     func(context.Context) (float64, error)
	Threshold Threshold
}

type Threshold struct {
	Operator string // >, <, >=, <=, ==
	Value    float64
}

// Holds reports whether v satisfies the threshold.
func (t Threshold) Holds(v float64) bool {
	switch t.Operator {
	case ">":
		return v > t.Value
	case "<":
		return v < t.Value
	case ">=":
		return v >= t.Value
	case "<=":
		return v <= t.Value
	case "==":
		return v == t.Value
	default:
		return false
	}
}

// Action injects or removes a fault, or drives load.
type Action struct {
	Type    string
	Target  string
	Execute func(context.Context) error
}

// Assertion checks the last observed value of a metric.
type Assertion struct {
	Metric    string
	Condition func(float64) bool
	Message   string
}

type Result struct {
	ExperimentName   string                 `json:"experiment_name"`
	StartTime        time.Time              `json:"start_time"`
	EndTime          time.Time              `json:"end_time"`
	Duration         time.Duration          `json:"duration"`
	HypothesisHeld   bool                   `json:"hypothesis_held"`
	SteadyStateValid bool                   `json:"steady_state_valid"`
	Violations       []MetricViolation      `json:"violations"`
	Observations     map[string][]DataPoint `json:"observations"`
	ErrorEvents      []ErrorEvent           `json:"error_events"`
	FailedAssertions []string               `json:"failed_assertions,omitempty"`
	MTTR             *time.Duration         `json:"mttr,omitempty"`
}

type MetricViolation struct {
	MetricName string    `json:"metric_name"`
	Expected   float64   `json:"expected"`
	Actual     float64   `json:"actual"`
	Timestamp  time.Time `json:"timestamp"`
}

type DataPoint struct {
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
}

type ErrorEvent struct {
	Timestamp time.Time `json:"timestamp"`
	Error     string    `json:"error"`
	Component string    `json:"component"`
}

// ErrSteadyState aborts an experiment whose preconditions do not hold.
var ErrSteadyState = errors.New("steady state invalid - aborting experiment")

// Engine runs experiments and keeps their results.
type Engine struct {
	tracer trace.Tracer
	logger *log.Logger

	mu          sync.Mutex
	experiments []Experiment
	results     []Result
}

func NewEngine(logger *log.Logger) *Engine {
	if logger == nil {
		logger = log.Discard()
	}
	return &Engine{
		tracer: otel.Tracer("memberdesk/internal/chaos"),
		logger: logger.WithComponent(log.ComponentChaos),
	}
}

func (e *Engine) Register(exp ...Experiment) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.experiments = append(e.experiments, exp...)
}

func (e *Engine) Experiments() []Experiment {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Experiment(nil), e.experiments...)
}

func (e *Engine) Results() []Result {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Result(nil), e.results...)
}

// Run executes one experiment. The returned error is only for experiments
// that could not start; a violated hypothesis is reported in the result.
func (e *Engine) Run(ctx context.Context, exp Experiment) (*Result, error) {
	ctx, span := e.tracer.Start(ctx, "chaos.run_experiment",
		trace.WithAttributes(attribute.String("experiment.name", exp.Name)))
	defer span.End()

	logger := e.logger.With("experiment", exp.Name)
	result := &Result{
		ExperimentName: exp.Name,
		StartTime:      time.Now(),
		Observations:   make(map[string][]DataPoint),
	}

	span.AddEvent("validating_steady_state")
	if violations := e.checkSteadyState(ctx, exp.SteadyState); len(violations) > 0 {
		result.Violations = violations
		result.EndTime = time.Now()
		return result, ErrSteadyState
	}
	result.SteadyStateValid = true

	span.AddEvent("injecting_chaos")
	for _, action := range exp.Method {
		if err := action.Execute(ctx); err != nil {
			logger.DebugContext(ctx, "action reported error", "action", action.Type, log.FieldError, err)
			result.ErrorEvents = append(result.ErrorEvents, ErrorEvent{
				Timestamp: time.Now(),
				Error:     err.Error(),
				Component: action.Target,
			})
			span.RecordError(err)
		}
	}

	span.AddEvent("observing_system")
	e.observe(ctx, exp, result)

	span.AddEvent("rolling_back")
	for _, action := range exp.Rollback {
		if err := action.Execute(ctx); err != nil {
			logger.WarnContext(ctx, "rollback failed", "action", action.Type, log.FieldError, err)
			span.RecordError(err)
		}
	}

	span.AddEvent("validating_assertions")
	result.FailedAssertions = validate(exp.Validation, result)
	result.HypothesisHeld = len(result.FailedAssertions) == 0
	result.EndTime = time.Now()
	result.Duration = result.EndTime.Sub(result.StartTime)

	e.mu.Lock()
	e.results = append(e.results, *result)
	e.mu.Unlock()

	span.SetAttributes(
		attribute.Bool("hypothesis_held", result.HypothesisHeld),
		attribute.Int("violations", len(result.Violations)),
	)
	logger.InfoContext(ctx, "experiment finished",
		"hypothesis_held", result.HypothesisHeld, "violations", len(result.Violations))
	return result, nil
}

// observe samples every metric each period until the window closes, and
// once more at the end so short windows still produce observations.
func (e *Engine) observe(ctx context.Context, exp Experiment, result *Result) {
	every := exp.SampleEvery
	if every <= 0 {
		every = time.Second
	}
	window, cancel := context.WithTimeout(ctx, exp.Duration)
	defer cancel()

	ticker := time.NewTicker(every)
	defer ticker.Stop()

	var recoveryStart time.Time
	recovered := false
	sample := func() {
		for _, m := range exp.SteadyState {
			v, ok := e.sampleMetric(ctx, m, result)
			if !ok {
				continue
			}
			if !m.Threshold.Holds(v) {
				if recoveryStart.IsZero() {
					recoveryStart = time.Now()
				}
				result.Violations = append(result.Violations, MetricViolation{
					MetricName: m.Name,
					Expected:   m.Threshold.Value,
					Actual:     v,
					Timestamp:  time.Now(),
				})
			} else if !recoveryStart.IsZero() && !recovered {
				mttr := time.Since(recoveryStart)
				result.MTTR = &mttr
				recovered = true
			}
		}
		for _, m := range exp.Observe {
			e.sampleMetric(ctx, m, result)
		}
	}

	for {
		select {
		case <-window.Done():
			sample()
			return
		case <-ticker.C:
			sample()
		}
	}
}

func (e *Engine) sampleMetric(ctx context.Context, m Metric, result *Result) (float64, bool) {
	v, err := m.Query(ctx)
	if err != nil {
		result.ErrorEvents = append(result.ErrorEvents, ErrorEvent{
			Timestamp: time.Now(),
			Error:     err.Error(),
			Component: m.Name,
		})
		return 0, false
	}
	result.Observations[m.Name] = append(result.Observations[m.Name], DataPoint{Timestamp: time.Now(), Value: v})
	return v, true
}

func (e *Engine) checkSteadyState(ctx context.Context, metrics []Metric) []MetricViolation {
	var violations []MetricViolation
	for _, m := range metrics {
		v, err := m.Query(ctx)
		if err != nil {
			v = -1
		}
		if err != nil || !m.Threshold.Holds(v) {
			violations = append(violations, MetricViolation{
				MetricName: m.Name,
				Expected:   m.Threshold.Value,
				Actual:     v,
				Timestamp:  time.Now(),
			})
		}
	}
	return violations
}

func validate(assertions []Assertion, result *Result) []string {
	var failed []string
	for _, a := range assertions {
		obs := result.Observations[a.Metric]
		if len(obs) == 0 {
			failed = append(failed, a.Message+" (no observations)")
			continue
		}
		if !a.Condition(obs[len(obs)-1].Value) {
			failed = append(failed, a.Message)
		}
	}
	return failed
}

// GameDay is a series of experiments run back to back.
type GameDay struct {
	Name         string
	Date         time.Time
	Scenarios    []Experiment
	Participants []string
	// Pause is the wait between experiments.
	Pause time.Duration
}

// ExecuteGameDay runs every scenario and writes a report to w. It returns
// an error when any hypothesis was violated or any experiment could not run.
func (e *Engine) ExecuteGameDay(ctx context.Context, gd GameDay, w io.Writer) error {
	ctx, span := e.tracer.Start(ctx, "chaos.game_day",
		trace.WithAttributes(attribute.String("gameday.name", gd.Name)))
	defer span.End()

	fmt.Fprintf(w, "Game Day: %s\n", gd.Name)
	fmt.Fprintf(w, "Date: %s\n", gd.Date.Format(time.RFC1123))
	if len(gd.Participants) > 0 {
		fmt.Fprintf(w, "Participants: %v\n", gd.Participants)
	}

	failures := 0
	for i, scenario := range gd.Scenarios {
		fmt.Fprintf(w, "\nExperiment %d/%d: %s\n", i+1, len(gd.Scenarios), scenario.Name)
		fmt.Fprintf(w, "Hypothesis: %s\n", scenario.Hypothesis)

		result, err := e.Run(ctx, scenario)
		if err != nil {
			fmt.Fprintf(w, "  FAILED to run: %v\n", err)
			failures++
			continue
		}
		printResult(w, result)
		if !result.HypothesisHeld {
			failures++
		}

		if gd.Pause > 0 && i < len(gd.Scenarios)-1 {
			if err := sleep(ctx, gd.Pause); err != nil {
				return err
			}
		}
	}

	if failures > 0 {
		return fmt.Errorf("%d of %d experiments failed", failures, len(gd.Scenarios))
	}
	return nil
}

func printResult(w io.Writer, result *Result) {
	if result.HypothesisHeld {
		fmt.Fprintln(w, "  PASS: hypothesis held")
	} else {
		fmt.Fprintln(w, "  FAIL: hypothesis violated")
		for _, msg := range result.FailedAssertions {
			fmt.Fprintf(w, "    - %s\n", msg)
		}
	}
	if len(result.Violations) > 0 {
		fmt.Fprintf(w, "  Steady-state violations: %d\n", len(result.Violations))
		for _, v := range result.Violations {
			fmt.Fprintf(w, "    - %s: expected %.2f, got %.2f\n", v.MetricName, v.Expected, v.Actual)
		}
	}
	if result.MTTR != nil {
		fmt.Fprintf(w, "  MTTR: %s\n", *result.MTTR)
	}
	fmt.Fprintf(w, "  Duration: %s\n", result.Duration)
}
