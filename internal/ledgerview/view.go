// internal/ledgerview/view.go

// Package ledgerview keeps one member's payment ledger in sync with the
// Member API and runs the balance-affecting workflows against it.
package ledgerview

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"

	"memberdesk/internal/journal"
	"memberdesk/internal/ledger"
	"memberdesk/internal/log"
	"memberdesk/internal/membership"
	"memberdesk/internal/notify"
)

// RecentPaymentsShown is how many payments a snapshot lists.
const RecentPaymentsShown = 5

// View is the dashboard's copy of one member's ledger. Reads are served from
// the last fetched member; mutations go through the gate one at a time.
type View struct {
	api      membership.Ledger
	memberID int64
	gate     *Gate

	mu         sync.RWMutex
	member     membership.Member
	processing string
	loadedAt   time.Time
	stale      atomic.Bool

	notifier notify.Sink
	journal  journal.Store
	logger   *log.Logger
	now      func() time.Time

	tracer      trace.Tracer
	payments    metric.Int64Counter
	adjustments metric.Int64Counter
}

// Option configures a View.
type Option func(*View)

// WithNotifier sets where success and error messages go.
func WithNotifier(s notify.Sink) Option {
	return func(v *View) { v.notifier = s }
}

// WithJournal records every balance-affecting attempt in j.
func WithJournal(j journal.Store) Option {
	return func(v *View) { v.journal = j }
}

// WithLogger sets the logger; the view adds its component and member id.
func WithLogger(l *log.Logger) Option {
	return func(v *View) { v.logger = l }
}

// WithClock overrides the clock that decides the current year and month.
func WithClock(now func() time.Time) Option {
	return func(v *View) { v.now = now }
}

func newView(api membership.Ledger, memberID int64, opts ...Option) *View {
	v := &View{
		api:      api,
		memberID: memberID,
		gate:     NewGate(),
		notifier: notify.Discard{},
		journal:  journal.NewMemoryStore(),
		logger:   log.Discard(),
		now:      time.Now,
		tracer:   otel.Tracer("memberdesk/internal/ledgerview"),
	}
	for _, opt := range opts {
		opt(v)
	}
	v.logger = v.logger.WithComponent(log.ComponentLedger).With(log.FieldMemberID, memberID)

	meter := otel.Meter("memberdesk/internal/ledgerview")
	var err error
	if v.payments, err = meter.Int64Counter("ledger.payments",
		metric.WithDescription("Pay-month attempts by outcome")); err != nil {
		v.payments = noop.Int64Counter{}
	}
	if v.adjustments, err = meter.Int64Counter("ledger.balance_adjustments",
		metric.WithDescription("Balance adjustments by outcome")); err != nil {
		v.adjustments = noop.Int64Counter{}
	}
	return v
}

// Open fetches the member and returns a ready view.
func Open(ctx context.Context, api membership.Ledger, memberID int64, opts ...Option) (*View, error) {
	v := newView(api, memberID, opts...)
	if err := v.load(ctx); err != nil {
		return nil, err
	}
	return v, nil
}

// MemberID returns the member this view tracks.
func (v *View) MemberID() int64 {
	return v.memberID
}

// Refresh refetches the member and replaces the local copy. It is refused
// while a mutation is in flight. On failure the previous copy is kept.
func (v *View) Refresh(ctx context.Context) error {
	if !v.gate.TryAcquire() {
		return ErrBusy
	}
	defer v.gate.Release()
	return v.load(ctx)
}

// Invalidate marks the local copy out of date. The next Refresh, or the next
// mutation once it holds the gate, refetches the member first.
func (v *View) Invalidate() {
	v.stale.Store(true)
}

// Stale reports whether the view was invalidated and not yet refetched.
func (v *View) Stale() bool {
	return v.stale.Load()
}

// syncStale refetches an invalidated view. Callers hold the gate.
func (v *View) syncStale(ctx context.Context) error {
	if !v.stale.Load() {
		return nil
	}
	return v.load(ctx)
}

func (v *View) load(ctx context.Context) error {
	wasStale := v.stale.Swap(false)

	ctx, span := v.tracer.Start(ctx, "ledgerview.load",
		trace.WithAttributes(attribute.Int64("member.id", v.memberID)))
	defer span.End()

	m, err := v.api.GetMember(ctx, v.memberID)
	if err != nil {
		span.RecordError(err)
		if wasStale {
			v.stale.Store(true)
		}
		v.logger.WarnContext(ctx, "failed to load member", log.FieldOperation, log.OpLoad, log.FieldError, err)
		v.publish(ctx, notify.Error(v.memberID, MsgLoadFailed))
		return fmt.Errorf("load member %d: %w", v.memberID, err)
	}
	m.FillDefaults()

	v.mu.Lock()
	v.member = m.Clone()
	v.loadedAt = v.now()
	v.mu.Unlock()
	return nil
}

// Snapshot is a consistent read of the view at one instant.
type Snapshot struct {
	Member       membership.Member
	Year         int
	CurrentMonth int // 0-based
	Statuses     [ledger.MonthsPerYear]ledger.MonthStatus
	Summary      ledger.Summary
	Recent       []membership.PaymentRecord
	Processing   string // month key being paid, if any
	Busy         bool
	LoadedAt     time.Time
}

// Balance is the wallet balance as last known.
func (s Snapshot) Balance() decimal.Decimal {
	return s.Member.Wallet.Balance
}

// Rate is the monthly payment amount.
func (s Snapshot) Rate() decimal.Decimal {
	return s.Member.MoneyPaidMonthly
}

// Payable reports whether month index i can be paid right now.
func (s Snapshot) Payable(i int) bool {
	if i < 0 || i >= ledger.MonthsPerYear || s.Busy {
		return false
	}
	return ledger.CanPay(s.Statuses[i], s.Balance(), s.Rate())
}

// Snapshot derives statuses and summary from the current member copy.
func (v *View) Snapshot() Snapshot {
	now := v.now()

	v.mu.RLock()
	member := v.member.Clone()
	processing := v.processing
	loadedAt := v.loadedAt
	v.mu.RUnlock()

	year, month := now.Year(), int(now.Month())-1
	statuses := ledger.DeriveMonthStatuses(member.Paids, year, month)
	return Snapshot{
		Member:       member,
		Year:         year,
		CurrentMonth: month,
		Statuses:     statuses,
		Summary:      ledger.Summarize(statuses, member.Wallet.Balance, member.MoneyPaidMonthly),
		Recent:       ledger.RecentPayments(member.Paids, RecentPaymentsShown),
		Processing:   processing,
		Busy:         v.gate.Busy(),
		LoadedAt:     loadedAt,
	}
}

func (v *View) current() (balance, rate decimal.Decimal, paids []membership.PaymentRecord) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	m := v.member.Clone()
	return m.Wallet.Balance, m.MoneyPaidMonthly, m.Paids
}

func (v *View) setProcessing(key string) {
	v.mu.Lock()
	v.processing = key
	v.mu.Unlock()
}

func (v *View) appendRecord(r membership.PaymentRecord) {
	v.mu.Lock()
	v.member.Paids = append(v.member.Paids, r)
	v.mu.Unlock()
}

func (v *View) setBalance(b decimal.Decimal) {
	v.mu.Lock()
	v.member.Wallet.Balance = b
	v.mu.Unlock()
}

func (v *View) publish(ctx context.Context, n notify.Notification) {
	if err := v.notifier.Publish(ctx, n); err != nil {
		v.logger.WarnContext(ctx, "failed to publish notification", log.FieldError, err)
	}
}

func (v *View) record(ctx context.Context, e journal.Entry) {
	e.MemberID = v.memberID
	if _, err := v.journal.Append(ctx, e); err != nil {
		v.logger.ErrorContext(ctx, "failed to journal ledger action",
			log.FieldOperation, string(e.Type), log.FieldError, err)
	}
}
