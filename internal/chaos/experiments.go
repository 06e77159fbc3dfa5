// internal/chaos/experiments.go
package chaos

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"memberdesk/internal/ledger"
	"memberdesk/internal/ledgerview"
	"memberdesk/internal/membership"
)

const (
	observeFor  = 50 * time.Millisecond
	sampleEvery = 10 * time.Millisecond
)

// Experiments seeds one member per experiment and returns the standard
// ledger experiments.
func (t *Target) Experiments(ctx context.Context) ([]Experiment, error) {
	builders := []func(context.Context) (Experiment, error){
		t.BalanceUpdateFailureExperiment,
		t.ConcurrentPayExperiment,
		t.MemberAPITimeoutExperiment,
		t.CreatePaymentFailureExperiment,
		t.LostCreateResponseExperiment,
	}
	out := make([]Experiment, 0, len(builders))
	for _, build := range builders {
		exp, err := build(ctx)
		if err != nil {
			return nil, err
		}
		out = append(out, exp)
	}
	return out, nil
}

// subject is a seeded member and the dashboard view of it.
type subject struct {
	id         int64
	view       *ledgerview.View
	monthKey   string
	unexpected atomic.Int64
}

func (t *Target) seed(ctx context.Context, name string, balance, rate int64) (*subject, error) {
	b := decimal.NewFromInt(balance)
	m, err := t.Backend.CreateMember(ctx, membership.NewMember{
		FirstName:        "Chaos",
		LastName:         name,
		MoneyPaidMonthly: decimal.NewFromInt(rate),
		WalletBalance:    &b,
		StartDate:        membership.DateOf(t.now()),
	})
	if err != nil {
		return nil, fmt.Errorf("seed member %s: %w", name, err)
	}

	view, err := ledgerview.Open(ctx, t.Ledger, m.ID,
		ledgerview.WithJournal(t.Journal),
		ledgerview.WithNotifier(t.Notifier),
		ledgerview.WithLogger(t.Logger),
		ledgerview.WithClock(t.now),
	)
	if err != nil {
		return nil, fmt.Errorf("open view for %s: %w", name, err)
	}
	now := t.now()
	return &subject{id: m.ID, view: view, monthKey: ledger.MonthKey(now.Year(), int(now.Month())-1)}, nil
}

func (t *Target) now() time.Time {
	if t.Now != nil {
		return t.Now()
	}
	return time.Now()
}

// expect counts an outcome other than want as unexpected.
func (s *subject) expect(res ledgerview.Result, want ledgerview.Outcome) {
	if res.Outcome != want {
		s.unexpected.Add(1)
	}
}

func (t *Target) truth(ctx context.Context, id int64) (*membership.Member, error) {
	return t.Backend.GetMember(ctx, id)
}

func (t *Target) divergence(s *subject) Metric {
	return Metric{
		Name: "balance_divergence",
		Query: func(ctx context.Context) (float64, error) {
			m, err := t.truth(ctx, s.id)
			if err != nil {
				return 0, err
			}
			return s.view.Snapshot().Balance().Sub(m.Wallet.Balance).Abs().InexactFloat64(), nil
		},
		Threshold: Threshold{Operator: "==", Value: 0},
	}
}

func (t *Target) negativeBalance(s *subject) Metric {
	return Metric{
		Name: "negative_balance",
		Query: func(ctx context.Context) (float64, error) {
			m, err := t.truth(ctx, s.id)
			if err != nil {
				return 0, err
			}
			if m.Wallet.Balance.IsNegative() {
				return 1, nil
			}
			return 0, nil
		},
		Threshold: Threshold{Operator: "==", Value: 0},
	}
}

func (t *Target) monthPayments(s *subject) Metric {
	return Metric{
		Name: "month_payments",
		Query: func(ctx context.Context) (float64, error) {
			m, err := t.truth(ctx, s.id)
			if err != nil {
				return 0, err
			}
			n := 0
			for _, p := range m.Paids {
				if p.PaymentDate.YearMonth() == s.monthKey {
					n++
				}
			}
			return float64(n), nil
		},
	}
}

func (t *Target) backendBalance(s *subject) Metric {
	return Metric{
		Name: "backend_balance",
		Query: func(ctx context.Context) (float64, error) {
			m, err := t.truth(ctx, s.id)
			if err != nil {
				return 0, err
			}
			return m.Wallet.Balance.InexactFloat64(), nil
		},
	}
}

func (t *Target) openPartials(s *subject) Metric {
	return Metric{
		Name: "open_partial_payments",
		Query: func(ctx context.Context) (float64, error) {
			entries, err := t.Journal.Unreconciled(ctx)
			if err != nil {
				return 0, err
			}
			n := 0
			for _, e := range entries {
				if e.MemberID == s.id {
					n++
				}
			}
			return float64(n), nil
		},
	}
}

func gateBusy(s *subject) Metric {
	return Metric{
		Name: "gate_busy",
		Query: func(ctx context.Context) (float64, error) {
			if s.view.Snapshot().Busy {
				return 1, nil
			}
			return 0, nil
		},
	}
}

func unexpected(s *subject) Metric {
	return Metric{
		Name: "unexpected_outcomes",
		Query: func(ctx context.Context) (float64, error) {
			return float64(s.unexpected.Load()), nil
		},
	}
}

func equals(want float64) func(float64) bool {
	return func(v float64) bool { return v == want }
}

func (t *Target) clearFaults() Action {
	return Action{
		Type:   "clear-faults",
		Target: "member-api-transport",
		Execute: func(ctx context.Context) error {
			t.Faults.Clear()
			return nil
		},
	}
}

func (t *Target) inject(f Fault) Action {
	return Action{
		Type:   "inject-" + f.Name,
		Target: "member-api-transport",
		Execute: func(ctx context.Context) error {
			t.Faults.Add(f)
			return nil
		},
	}
}

func pay(s *subject, want ledgerview.Outcome) Action {
	return Action{
		Type:   "pay-month",
		Target: "ledger-view",
		Execute: func(ctx context.Context) error {
			res, err := s.view.PayMonth(ctx, s.monthKey)
			s.expect(res, want)
			return err
		},
	}
}

func refresh(s *subject) Action {
	return Action{
		Type:   "refresh",
		Target: "ledger-view",
		Execute: func(ctx context.Context) error {
			return s.view.Refresh(ctx)
		},
	}
}

// BalanceUpdateFailureExperiment fails the balance write after the payment
// record was created.
func (t *Target) BalanceUpdateFailureExperiment(ctx context.Context) (Experiment, error) {
	s, err := t.seed(ctx, "PartialPayment", 150, 50)
	if err != nil {
		return Experiment{}, err
	}
	return Experiment{
		Name:        "balance-update-failure",
		Hypothesis:  "A failed balance write after a created payment is reported as a partial success, journaled, and reconciled by refresh",
		SteadyState: []Metric{t.divergence(s), t.negativeBalance(s)},
		Observe:     []Metric{t.openPartials(s), t.monthPayments(s), unexpected(s)},
		Method: []Action{
			t.inject(Fault{Name: "balance-500", Method: http.MethodPut, PathContains: "update-balance", FailureRate: 1, StatusCode: http.StatusInternalServerError, Remaining: 1}),
			pay(s, ledgerview.OutcomePartialSuccess),
			refresh(s),
		},
		Rollback: []Action{t.clearFaults()},
		Validation: []Assertion{
			{Metric: "unexpected_outcomes", Condition: equals(0), Message: "Pay month should end in a partial success"},
			{Metric: "open_partial_payments", Condition: equals(1), Message: "The partial payment should be journaled for reconciliation"},
			{Metric: "month_payments", Condition: equals(1), Message: "The month should be recorded exactly once"},
			{Metric: "balance_divergence", Condition: equals(0), Message: "Refresh should reconcile the local balance"},
		},
		Duration:    observeFor,
		SampleEvery: sampleEvery,
	}, nil
}

// ConcurrentPayExperiment fires many pay requests for one month at once
// while payment creation is slowed down.
func (t *Target) ConcurrentPayExperiment(ctx context.Context) (Experiment, error) {
	s, err := t.seed(ctx, "Concurrent", 500, 50)
	if err != nil {
		return Experiment{}, err
	}
	const concurrency = 20
	return Experiment{
		Name:        "concurrent-pay-same-month",
		Hypothesis:  "Concurrent pay requests for one month create exactly one payment and debit the wallet once",
		SteadyState: []Metric{t.divergence(s), t.negativeBalance(s)},
		Observe:     []Metric{t.monthPayments(s), t.backendBalance(s), unexpected(s)},
		Method: []Action{
			t.inject(Fault{Name: "slow-payments", Method: http.MethodPost, PathContains: "api/payments", Latency: 30 * time.Millisecond}),
			{
				Type:   "concurrent-requests",
				Target: "ledger-view",
				Execute: func(ctx context.Context) error {
					var g errgroup.Group
					var succeeded atomic.Int64
					for i := 0; i < concurrency; i++ {
						g.Go(func() error {
							res, err := s.view.PayMonth(ctx, s.monthKey)
							if res.Outcome == ledgerview.OutcomeSucceeded {
								succeeded.Add(1)
								return nil
							}
							if errors.Is(err, ledgerview.ErrBusy) || errors.Is(err, ledgerview.ErrAlreadyPaid) {
								return nil
							}
							return err
						})
					}
					err := g.Wait()
					if succeeded.Load() != 1 {
						s.unexpected.Add(1)
					}
					return err
				},
			},
		},
		Rollback: []Action{t.clearFaults()},
		Validation: []Assertion{
			{Metric: "unexpected_outcomes", Condition: equals(0), Message: "Exactly one request should succeed"},
			{Metric: "month_payments", Condition: equals(1), Message: "The month should be recorded exactly once"},
			{Metric: "backend_balance", Condition: equals(450), Message: "The wallet should be debited once"},
		},
		Duration:    observeFor,
		SampleEvery: sampleEvery,
	}, nil
}

// MemberAPITimeoutExperiment makes payment creation outlive the request
// deadline.
func (t *Target) MemberAPITimeoutExperiment(ctx context.Context) (Experiment, error) {
	s, err := t.seed(ctx, "Timeout", 150, 50)
	if err != nil {
		return Experiment{}, err
	}
	return Experiment{
		Name:        "member-api-timeout",
		Hypothesis:  "A hung Member API call fails the payment without holding the gate, and a retry after recovery succeeds",
		SteadyState: []Metric{t.divergence(s), t.negativeBalance(s)},
		Observe:     []Metric{gateBusy(s), t.monthPayments(s), unexpected(s)},
		Method: []Action{
			t.inject(Fault{Name: "hung-payments", Method: http.MethodPost, PathContains: "api/payments", Latency: 2 * time.Second}),
			{
				Type:   "pay-with-deadline",
				Target: "ledger-view",
				Execute: func(ctx context.Context) error {
					ctx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
					defer cancel()
					res, err := s.view.PayMonth(ctx, s.monthKey)
					s.expect(res, ledgerview.OutcomeFailed)
					if s.view.Snapshot().Busy {
						s.unexpected.Add(1)
					}
					return err
				},
			},
			t.clearFaults(),
			pay(s, ledgerview.OutcomeSucceeded),
		},
		Rollback: []Action{t.clearFaults()},
		Validation: []Assertion{
			{Metric: "unexpected_outcomes", Condition: equals(0), Message: "The timed-out payment should fail and the retry succeed"},
			{Metric: "gate_busy", Condition: equals(0), Message: "The gate should be free"},
			{Metric: "month_payments", Condition: equals(1), Message: "The month should be recorded exactly once"},
			{Metric: "balance_divergence", Condition: equals(0), Message: "Local and remote balance should agree"},
		},
		Duration:    observeFor,
		SampleEvery: sampleEvery,
	}, nil
}

// CreatePaymentFailureExperiment drops the connection on payment creation.
func (t *Target) CreatePaymentFailureExperiment(ctx context.Context) (Experiment, error) {
	s, err := t.seed(ctx, "CreateFailure", 150, 50)
	if err != nil {
		return Experiment{}, err
	}
	return Experiment{
		Name:        "payment-create-network-failure",
		Hypothesis:  "When payment creation fails nothing changes locally or remotely",
		SteadyState: []Metric{t.divergence(s), t.negativeBalance(s)},
		Observe:     []Metric{t.monthPayments(s), t.backendBalance(s), unexpected(s)},
		Method: []Action{
			t.inject(Fault{Name: "payments-down", Method: http.MethodPost, PathContains: "api/payments", FailureRate: 1, Remaining: 1}),
			pay(s, ledgerview.OutcomeFailed),
		},
		Rollback: []Action{t.clearFaults()},
		Validation: []Assertion{
			{Metric: "unexpected_outcomes", Condition: equals(0), Message: "Pay month should fail"},
			{Metric: "month_payments", Condition: equals(0), Message: "No payment should be recorded"},
			{Metric: "backend_balance", Condition: equals(150), Message: "The wallet should be untouched"},
			{Metric: "balance_divergence", Condition: equals(0), Message: "Local and remote balance should agree"},
		},
		Duration:    observeFor,
		SampleEvery: sampleEvery,
	}, nil
}

// LostCreateResponseExperiment lets the Member API create the payment but
// loses the response on the way back.
func (t *Target) LostCreateResponseExperiment(ctx context.Context) (Experiment, error) {
	s, err := t.seed(ctx, "LostResponse", 150, 50)
	if err != nil {
		return Experiment{}, err
	}
	return Experiment{
		Name:        "lost-create-response",
		Hypothesis:  "A payment created remotely whose response was lost shows up after refresh and is never paid twice",
		SteadyState: []Metric{t.divergence(s), t.negativeBalance(s)},
		Observe:     []Metric{t.monthPayments(s), unexpected(s)},
		Method: []Action{
			t.inject(Fault{Name: "lost-response", Method: http.MethodPost, PathContains: "api/payments", FailureRate: 1, DropResponse: true, Remaining: 1}),
			pay(s, ledgerview.OutcomeFailed),
			refresh(s),
			{
				Type:   "pay-again",
				Target: "ledger-view",
				Execute: func(ctx context.Context) error {
					_, err := s.view.PayMonth(ctx, s.monthKey)
					if !errors.Is(err, ledgerview.ErrAlreadyPaid) {
						s.unexpected.Add(1)
					}
					return nil
				},
			},
		},
		Rollback: []Action{t.clearFaults()},
		Validation: []Assertion{
			{Metric: "unexpected_outcomes", Condition: equals(0), Message: "The second attempt should be refused as already paid"},
			{Metric: "month_payments", Condition: equals(1), Message: "The month should be recorded exactly once"},
			{Metric: "balance_divergence", Condition: equals(0), Message: "Refresh should show the remote balance"},
		},
		Duration:    observeFor,
		SampleEvery: sampleEvery,
	}, nil
}
