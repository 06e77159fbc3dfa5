// internal/ledgerview/view_test.go
package ledgerview

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
	"pgregory.net/rapid"

	"memberdesk/internal/journal"
	"memberdesk/internal/membership"
	"memberdesk/internal/notify"
)

var (
	march15  = time.Date(2026, time.March, 15, 10, 0, 0, 0, time.UTC)
	errBoom  = errors.New("boom")
	memberID = int64(42)
)

// fakeLedger is an in-memory Member API with switchable failures.
type fakeLedger struct {
	mu        sync.Mutex
	member    membership.Member
	nextID    int64
	getErr    error
	createErr error
	updateErr error
	// block, when set, holds CreatePayment until closed or ctx is done.
	block chan struct{}
	// afterCreate runs once CreatePayment has stored the record.
	afterCreate func()

	gets, creates, updates int
}

func newFakeLedger(balance, rate string, paid ...membership.Date) *fakeLedger {
	f := &fakeLedger{
		member: membership.Member{
			ID:               memberID,
			FirstName:        "Ada",
			LastName:         "Lovelace",
			MoneyPaidMonthly: decimal.RequireFromString(rate),
			Wallet:           membership.Wallet{Balance: decimal.RequireFromString(balance)},
		},
		nextID: 100,
	}
	for _, d := range paid {
		f.member.Paids = append(f.member.Paids, membership.PaymentRecord{ID: f.nextID, MemberID: memberID, PaymentDate: d, Amount: f.member.MoneyPaidMonthly})
		f.nextID++
	}
	return f
}

func (f *fakeLedger) GetMember(ctx context.Context, id int64) (*membership.Member, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gets++
	if f.getErr != nil {
		return nil, f.getErr
	}
	m := f.member.Clone()
	return &m, nil
}

func (f *fakeLedger) CreatePayment(ctx context.Context, id int64, date membership.Date, amount decimal.Decimal) (*membership.PaymentRecord, error) {
	f.mu.Lock()
	block := f.block
	f.mu.Unlock()
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	f.creates++
	if f.createErr != nil {
		f.mu.Unlock()
		return nil, f.createErr
	}
	r := membership.PaymentRecord{ID: f.nextID, MemberID: id, PaymentDate: date, Amount: amount}
	f.nextID++
	f.member.Paids = append(f.member.Paids, r)
	after := f.afterCreate
	f.mu.Unlock()

	if after != nil {
		after()
	}
	return &r, nil
}

func (f *fakeLedger) UpdateBalance(ctx context.Context, id int64, balance decimal.Decimal) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates++
	if f.updateErr != nil {
		return f.updateErr
	}
	f.member.Wallet.Balance = balance
	return nil
}

func (f *fakeLedger) balance() decimal.Decimal {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.member.Wallet.Balance
}

type fixture struct {
	api     *fakeLedger
	view    *View
	feed    *notify.Feed
	journal *journal.MemoryStore
}

func open(t *testing.T, api *fakeLedger) fixture {
	t.Helper()
	feed := notify.NewFeed(time.Minute)
	store := journal.NewMemoryStore()
	v, err := Open(context.Background(), api, memberID,
		WithNotifier(feed),
		WithJournal(store),
		WithClock(func() time.Time { return march15 }),
	)
	require.NoError(t, err)
	return fixture{api: api, view: v, feed: feed, journal: store}
}

func (fx fixture) lastNotification(t *testing.T) notify.Notification {
	t.Helper()
	active := fx.feed.Active(memberID)
	require.NotEmpty(t, active)
	return active[len(active)-1]
}

func TestPayMonth_Succeeds(t *testing.T) {
	fx := open(t, newFakeLedger("150", "50"))

	res, err := fx.view.PayMonth(context.Background(), "2026-03")

	require.NoError(t, err)
	assert.Equal(t, OutcomeSucceeded, res.Outcome)
	assert.Equal(t, "Payment for March processed successfully", res.Message)
	require.NotNil(t, res.Record)
	assert.Equal(t, "2026-03-01", res.Record.PaymentDate.String())
	assert.True(t, decimal.NewFromInt(100).Equal(res.Balance))
	assert.True(t, decimal.NewFromInt(100).Equal(fx.api.balance()))

	snap := fx.view.Snapshot()
	assert.True(t, snap.Statuses[2].IsPaid)
	assert.True(t, decimal.NewFromInt(100).Equal(snap.Balance()))
	assert.Equal(t, 1, snap.Summary.Paid)
	assert.Equal(t, int64(2), snap.Summary.MonthsCovered)
	assert.False(t, snap.Busy)
	assert.Empty(t, snap.Processing)
	assert.Len(t, snap.Recent, 1)

	n := fx.lastNotification(t)
	assert.Equal(t, notify.LevelSuccess, n.Level)
	assert.Equal(t, res.Message, n.Message)

	entries, err := fx.journal.ForMember(context.Background(), memberID, 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, journal.PaymentApplied, entries[0].Type)
	assert.Equal(t, res.Record.ID, entries[0].PaymentID)
}

func TestPayMonth_Refusals(t *testing.T) {
	tests := []struct {
		name     string
		balance  string
		month    string
		wantErr  error
		wantMsg  string
		notified bool
	}{
		{"insufficient balance", "30", "2026-03", ErrInsufficientBalance, MsgInsufficientForMonth, true},
		{"already paid", "150", "2026-01", ErrAlreadyPaid, MsgAlreadyPaid, false},
		{"future month", "150", "2026-04", ErrFutureMonth, MsgFutureMonth, false},
		{"other year", "150", "2025-03", ErrInvalidMonth, MsgInvalidMonth, false},
		{"malformed key", "150", "march", ErrInvalidMonth, MsgInvalidMonth, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fx := open(t, newFakeLedger(tt.balance, "50", membership.NewDate(2026, 1, 10)))

			res, err := fx.view.PayMonth(context.Background(), tt.month)

			require.ErrorIs(t, err, tt.wantErr)
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.wantMsg, verr.Message)
			assert.Equal(t, OutcomeRefused, res.Outcome)
			assert.Zero(t, fx.api.creates, "no payment is created")
			assert.Zero(t, fx.api.updates)
			assert.Equal(t, tt.notified, len(fx.feed.Active(memberID)) > 0)
			assert.False(t, fx.view.Snapshot().Busy)
		})
	}
}

func TestPayMonth_PartialSuccess(t *testing.T) {
	api := newFakeLedger("150", "50")
	fx := open(t, api)
	api.updateErr = errBoom

	res, err := fx.view.PayMonth(context.Background(), "2026-03")

	require.ErrorIs(t, err, ErrPartialPayment)
	assert.ErrorIs(t, err, errBoom)
	assert.Equal(t, OutcomePartialSuccess, res.Outcome)
	require.NotNil(t, res.Record)

	snap := fx.view.Snapshot()
	assert.True(t, snap.Statuses[2].IsPaid, "created record stays in the local list")
	assert.True(t, decimal.NewFromInt(150).Equal(snap.Balance()), "balance is not touched")
	assert.False(t, snap.Busy)
	assert.Equal(t, MsgUpdateBalanceFailed, fx.lastNotification(t).Message)

	pending, err := fx.journal.Unreconciled(context.Background())
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "2026-03", pending[0].MonthKey)
	assert.Equal(t, res.Record.ID, pending[0].PaymentID)

	// The month cannot be paid twice while the view shows the record.
	_, err = fx.view.PayMonth(context.Background(), "2026-03")
	assert.ErrorIs(t, err, ErrAlreadyPaid)
	assert.Equal(t, 1, api.creates)

	api.updateErr = nil
	require.NoError(t, fx.view.Refresh(context.Background()))
	snap = fx.view.Snapshot()
	assert.True(t, snap.Statuses[2].IsPaid)
	assert.True(t, decimal.NewFromInt(150).Equal(snap.Balance()), "refresh shows the API's balance")
}

func TestPayMonth_CreateFails(t *testing.T) {
	api := newFakeLedger("150", "50")
	fx := open(t, api)
	api.createErr = errBoom

	res, err := fx.view.PayMonth(context.Background(), "2026-03")

	require.ErrorIs(t, err, errBoom)
	assert.NotErrorIs(t, err, ErrPartialPayment)
	assert.Equal(t, OutcomeFailed, res.Outcome)
	assert.Zero(t, api.updates, "balance is never written without a payment")

	snap := fx.view.Snapshot()
	assert.False(t, snap.Statuses[2].IsPaid)
	assert.True(t, decimal.NewFromInt(150).Equal(snap.Balance()))
	assert.Equal(t, MsgCreatePaymentFailed, fx.lastNotification(t).Message)
	assert.False(t, snap.Busy)
}

func TestPayMonth_BlocksConcurrentMutations(t *testing.T) {
	api := newFakeLedger("150", "50")
	fx := open(t, api)
	api.block = make(chan struct{})

	done := make(chan error, 1)
	go func() {
		_, err := fx.view.PayMonth(context.Background(), "2026-03")
		done <- err
	}()
	require.Eventually(t, func() bool { return fx.view.Snapshot().Busy }, time.Second, time.Millisecond)

	snap := fx.view.Snapshot()
	assert.Equal(t, "2026-03", snap.Processing)
	assert.False(t, snap.Payable(1), "nothing is payable while busy")

	_, err := fx.view.PayMonth(context.Background(), "2026-02")
	assert.ErrorIs(t, err, ErrBusy)
	_, err = fx.view.SubtractBalance(context.Background(), decimal.NewFromInt(10))
	assert.ErrorIs(t, err, ErrBusy)
	assert.ErrorIs(t, fx.view.Refresh(context.Background()), ErrBusy)

	close(api.block)
	require.NoError(t, <-done)
	assert.False(t, fx.view.Snapshot().Busy)
	assert.Equal(t, 1, api.creates)
	assert.Equal(t, 1, api.updates)
}

func TestPayMonth_BalanceWriteSurvivesCancellation(t *testing.T) {
	api := newFakeLedger("150", "50")
	fx := open(t, api)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	api.afterCreate = cancel

	res, err := fx.view.PayMonth(ctx, "2026-03")

	require.NoError(t, err)
	assert.Equal(t, OutcomeSucceeded, res.Outcome)
	assert.Equal(t, 1, api.creates)
	assert.Equal(t, 1, api.updates)
	assert.True(t, decimal.NewFromInt(100).Equal(api.balance()))
}

func TestMutations_RefetchInvalidatedView(t *testing.T) {
	api := newFakeLedger("150", "50")
	fx := open(t, api)

	api.mu.Lock()
	api.member.Wallet.Balance = decimal.NewFromInt(40)
	api.mu.Unlock()
	fx.view.Invalidate()

	res, err := fx.view.PayMonth(context.Background(), "2026-03")

	require.ErrorIs(t, err, ErrInsufficientBalance)
	assert.Equal(t, OutcomeRefused, res.Outcome)
	assert.Equal(t, 2, api.gets)
	assert.False(t, fx.view.Stale())
	assert.Zero(t, api.creates)
}

func TestInvalidate_FailedRefetchStaysStale(t *testing.T) {
	api := newFakeLedger("150", "50")
	fx := open(t, api)
	fx.view.Invalidate()
	api.getErr = errBoom

	res, err := fx.view.AddBalance(context.Background(), decimal.NewFromInt(10))

	require.ErrorIs(t, err, errBoom)
	assert.Equal(t, OutcomeFailed, res.Outcome)
	assert.True(t, fx.view.Stale())
	assert.Zero(t, api.updates)
	assert.False(t, fx.view.Snapshot().Busy)
}

func TestPayMonth_TimeoutReleasesGate(t *testing.T) {
	api := newFakeLedger("150", "50")
	fx := open(t, api)
	api.block = make(chan struct{})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	res, err := fx.view.PayMonth(ctx, "2026-03")

	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, OutcomeFailed, res.Outcome)
	assert.False(t, fx.view.Snapshot().Busy)

	close(api.block)
	_, err = fx.view.PayMonth(context.Background(), "2026-03")
	assert.NoError(t, err)
}

func TestConcurrentPayments_OneWins(t *testing.T) {
	api := newFakeLedger("1000", "50")
	fx := open(t, api)

	var g errgroup.Group
	var mu sync.Mutex
	outcomes := map[Outcome]int{}
	for i := 0; i < 8; i++ {
		g.Go(func() error {
			res, _ := fx.view.PayMonth(context.Background(), "2026-03")
			mu.Lock()
			outcomes[res.Outcome]++
			mu.Unlock()
			return nil
		})
	}
	require.NoError(t, g.Wait())

	assert.Equal(t, 1, outcomes[OutcomeSucceeded])
	assert.Equal(t, 7, outcomes[OutcomeRefused])
	assert.Equal(t, 1, api.creates, "a month is paid at most once")
}

func TestOpen_FailureNotifies(t *testing.T) {
	api := newFakeLedger("0", "50")
	api.getErr = errBoom
	feed := notify.NewFeed(time.Minute)

	_, err := Open(context.Background(), api, memberID, WithNotifier(feed))

	require.ErrorIs(t, err, errBoom)
	active := feed.Active(memberID)
	require.Len(t, active, 1)
	assert.Equal(t, MsgLoadFailed, active[0].Message)
}

func TestRefresh_KeepsSnapshotOnFailure(t *testing.T) {
	api := newFakeLedger("150", "50")
	fx := open(t, api)
	api.getErr = errBoom

	require.ErrorIs(t, fx.view.Refresh(context.Background()), errBoom)
	assert.True(t, decimal.NewFromInt(150).Equal(fx.view.Snapshot().Balance()))
	assert.False(t, fx.view.Snapshot().Busy)
}

func TestSnapshot_Payable(t *testing.T) {
	fx := open(t, newFakeLedger("60", "50", membership.NewDate(2026, 1, 1)))
	snap := fx.view.Snapshot()

	assert.Equal(t, 2026, snap.Year)
	assert.Equal(t, 2, snap.CurrentMonth)
	assert.False(t, snap.Payable(0), "paid")
	assert.True(t, snap.Payable(1))
	assert.True(t, snap.Payable(2))
	assert.False(t, snap.Payable(3), "future")
	assert.False(t, snap.Payable(12))
}

func TestLedgerInvariants(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		api := newFakeLedger(rapid.SampledFrom([]string{"0", "49.99", "50", "120", "500"}).Draw(t, "balance"), "50")
		feed := notify.NewFeed(time.Minute)
		v, err := Open(context.Background(), api, memberID, WithNotifier(feed), WithClock(func() time.Time { return march15 }))
		if err != nil {
			t.Fatalf("open: %v", err)
		}

		inSync := true
		steps := rapid.IntRange(1, 20).Draw(t, "steps")
		for i := 0; i < steps; i++ {
			api.updateErr = nil
			if rapid.Bool().Draw(t, "failUpdate") && rapid.Bool().Draw(t, "reallyFail") {
				api.updateErr = errBoom
			}
			amount := decimal.NewFromInt(int64(rapid.IntRange(0, 80).Draw(t, "amount")))

			var res Result
			switch rapid.IntRange(0, 2).Draw(t, "op") {
			case 0:
				month := rapid.SampledFrom([]string{"2026-01", "2026-02", "2026-03", "2026-04"}).Draw(t, "month")
				res, _ = v.PayMonth(context.Background(), month)
			case 1:
				res, _ = v.AddBalance(context.Background(), amount)
			case 2:
				res, _ = v.SubtractBalance(context.Background(), amount)
			}
			if res.Outcome == OutcomePartialSuccess || res.Outcome == OutcomeFailed {
				inSync = false
			}

			snap := v.Snapshot()
			if snap.Balance().IsNegative() {
				t.Fatalf("local balance went negative: %s", snap.Balance())
			}
			if api.balance().IsNegative() {
				t.Fatalf("API balance went negative: %s", api.balance())
			}
			if inSync && !snap.Balance().Equal(api.balance()) {
				t.Fatalf("local balance %s diverged from API %s without a failure", snap.Balance(), api.balance())
			}
			if snap.Statuses[3].IsPaid {
				t.Fatalf("future month was paid")
			}
			if snap.Busy {
				t.Fatalf("gate left held after %s", res.Outcome)
			}
		}
	})
}
