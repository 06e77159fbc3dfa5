// internal/dashboard/server_test.go
package dashboard

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"memberdesk/internal/clients"
	"memberdesk/internal/journal"
	"memberdesk/internal/ledgerview"
	"memberdesk/internal/membership"
	"memberdesk/internal/notify"
)

var fixedNow = time.Date(2026, time.March, 15, 10, 0, 0, 0, time.UTC)

// flakyBackend fails balance writes while failBalance is set.
type flakyBackend struct {
	*membership.MemoryService
	failBalance atomic.Bool
}

func (b *flakyBackend) UpdateBalance(ctx context.Context, id int64, balance decimal.Decimal) error {
	if b.failBalance.Load() {
		return &clients.RemoteError{Op: "update balance", StatusCode: http.StatusInternalServerError, Err: errors.New("boom")}
	}
	return b.MemoryService.UpdateBalance(ctx, id, balance)
}

type fixture struct {
	backend *flakyBackend
	journal *journal.MemoryStore
	feed    *notify.Feed
	handler http.Handler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	now := func() time.Time { return fixedNow }
	backend := &flakyBackend{MemoryService: membership.NewMemoryService(membership.WithClock(now))}
	require.NoError(t, backend.RegisterOperator("desk@example.com", "s3cret-pass"))

	store := journal.NewMemoryStore()
	feed := notify.NewFeed(time.Minute)
	views := ledgerview.NewRegistry(backend,
		ledgerview.WithJournal(store),
		ledgerview.WithNotifier(feed),
		ledgerview.WithClock(now),
	)
	srv := NewServer(":0", Deps{
		Members: backend,
		Views:   views,
		Feed:    feed,
		Journal: store,
		Now:     now,
	})
	return &fixture{backend: backend, journal: store, feed: feed, handler: srv.Handler}
}

func (f *fixture) do(t *testing.T, method, path string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)

	var out map[string]any
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	}
	return rec, out
}

func (f *fixture) member(t *testing.T, balance, rate int64) int64 {
	t.Helper()
	b := decimal.NewFromInt(balance)
	m, err := f.backend.CreateMember(context.Background(), membership.NewMember{
		FirstName:        "Grace",
		LastName:         "Hopper",
		MoneyPaidMonthly: decimal.NewFromInt(rate),
		WalletBalance:    &b,
		StartDate:        membership.NewDate(2026, 1, 1),
	})
	require.NoError(t, err)
	return m.ID
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	rec, body := f.do(t, http.MethodGet, "/healthz", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", body["status"])
	assert.NotEmpty(t, rec.Header().Get("Content-Type"))
}

func TestSignIn(t *testing.T) {
	f := newFixture(t)

	rec, body := f.do(t, http.MethodPost, "/session", signInRequest{})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "The email field is required. The password field is required.", body["message"])

	rec, body = f.do(t, http.MethodPost, "/session", signInRequest{Email: "desk@example.com", Password: "wrong"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Invalid email or password.", body["message"])

	rec, _ = f.do(t, http.MethodPost, "/session", signInRequest{Email: "desk@example.com", Password: "s3cret-pass"})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, _ = f.do(t, http.MethodDelete, "/session", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestSignInMessage(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"field errors", &clients.RemoteError{StatusCode: 422, Fields: map[string][]string{"email": {"The email must be a valid email address."}}}, "The email must be a valid email address."},
		{"remote 401 message", &clients.RemoteError{StatusCode: 401, Message: "These credentials do not match our records."}, "These credentials do not match our records."},
		{"remote 401 without message", &clients.RemoteError{StatusCode: 401}, msgBadCredential},
		{"network", &clients.RemoteError{Err: errors.New("connection refused")}, msgNetwork},
		{"server", &clients.RemoteError{StatusCode: 500}, msgUnexpected},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, signInMessage(tt.err))
		})
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{ledgerview.ErrBusy, http.StatusConflict},
		{fmt.Errorf("pay: %w", ledgerview.ErrPartialPayment), http.StatusBadGateway},
		{&ledgerview.ValidationError{Err: ledgerview.ErrAlreadyPaid}, http.StatusUnprocessableEntity},
		{membership.FieldErrors{"x": "y"}, http.StatusUnprocessableEntity},
		{&clients.RemoteError{StatusCode: 401}, http.StatusUnauthorized},
		{&clients.RemoteError{StatusCode: 403}, http.StatusForbidden},
		{&clients.RemoteError{StatusCode: 404}, http.StatusNotFound},
		{&clients.RemoteError{StatusCode: 503}, http.StatusBadGateway},
		{membership.ErrNotFound, http.StatusNotFound},
		{journal.ErrNotResolvable, http.StatusConflict},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(tt.err), "%v", tt.err)
	}
}

func TestCreateAndListMembers(t *testing.T) {
	f := newFixture(t)

	rec, body := f.do(t, http.MethodPost, "/members/", membership.NewMemberForm{FirstName: "A", MoneyPaidMonthly: "-1"})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, msgCreateFieldErrors, body["message"])
	errs := body["errors"].(map[string]any)
	assert.Contains(t, errs, "first_name")
	assert.Contains(t, errs, "last_name")
	assert.Contains(t, errs, "start_date")

	for _, form := range []membership.NewMemberForm{
		{FirstName: "Zoe", LastName: "Quinn", MoneyPaidMonthly: "120", StartDate: "2026-01-01"},
		{FirstName: "Ada", LastName: "Byron", MoneyPaidMonthly: "20", WalletBalance: "40", StartDate: "2026-02-01"},
	} {
		rec, body := f.do(t, http.MethodPost, "/members/", form)
		require.Equal(t, http.StatusCreated, rec.Code, body)
		assert.Equal(t, msgMemberCreated, body["message"])
	}

	rec, body = f.do(t, http.MethodGet, "/members/", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rows := body["members"].([]any)
	require.Len(t, rows, 2)
	first := rows[0].(map[string]any)
	assert.Equal(t, "Ada", first["first_name"])
	assert.Equal(t, "Basic", first["tier_label"])

	rec, body = f.do(t, http.MethodGet, "/members/?sort_field=first_name&sort_direction=asc&toggle_sort=first_name", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rows = body["members"].([]any)
	assert.Equal(t, "Zoe", rows[0].(map[string]any)["first_name"])

	rec, body = f.do(t, http.MethodGet, "/members/?payment_filter=premium&page=9", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, body["members"], 1)
	assert.Equal(t, float64(1), body["current_page"])
}

func TestLedger(t *testing.T) {
	f := newFixture(t)
	id := f.member(t, 120, 50)

	rec, body := f.do(t, http.MethodGet, fmt.Sprintf("/members/%d/ledger", id), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	months := body["months"].([]any)
	require.Len(t, months, 12)
	march := months[2].(map[string]any)
	assert.Equal(t, "2026-03", march["key"])
	assert.Equal(t, true, march["payable"])
	assert.Equal(t, false, months[3].(map[string]any)["payable"], "future months are not payable")
	assert.Equal(t, float64(2), body["current_month"])
	assert.Equal(t, float64(2), body["summary"].(map[string]any)["months_covered"])

	rec, _ = f.do(t, http.MethodGet, "/members/999/ledger", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, _ = f.do(t, http.MethodGet, "/members/abc/ledger", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPayMonth(t *testing.T) {
	f := newFixture(t)
	id := f.member(t, 120, 50)
	pay := func(key string) (*httptest.ResponseRecorder, map[string]any) {
		return f.do(t, http.MethodPost, fmt.Sprintf("/members/%d/months/%s/pay", id, key), nil)
	}

	rec, body := pay("2026-03")
	require.Equal(t, http.StatusOK, rec.Code, body)
	result := body["result"].(map[string]any)
	assert.Equal(t, "succeeded", result["outcome"])
	assert.Equal(t, "Payment for March processed successfully", result["message"])
	assert.Equal(t, "70", body["ledger"].(map[string]any)["balance"])

	rec, body = pay("2026-03")
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, ledgerview.MsgAlreadyPaid, body["message"])

	rec, body = pay("2026-05")
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, ledgerview.MsgFutureMonth, body["message"])

	rec, _ = pay("2026-01")
	require.Equal(t, http.StatusOK, rec.Code)
	rec, body = pay("2026-02")
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, ledgerview.MsgInsufficientForMonth, body["message"])

	_, body = f.do(t, http.MethodGet, fmt.Sprintf("/notifications?member_id=%d", id), nil)
	var messages []string
	for _, n := range body["notifications"].([]any) {
		messages = append(messages, n.(map[string]any)["message"].(string))
	}
	assert.Contains(t, messages, "Payment for March processed successfully")
	assert.Contains(t, messages, ledgerview.MsgInsufficientForMonth)
}

func TestPayMonth_PartialSuccessAndReconciliation(t *testing.T) {
	f := newFixture(t)
	id := f.member(t, 120, 50)
	f.backend.failBalance.Store(true)

	rec, body := f.do(t, http.MethodPost, fmt.Sprintf("/members/%d/months/2026-03/pay", id), nil)
	require.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, "partial_success", body["result"].(map[string]any)["outcome"])
	assert.Equal(t, "120", body["ledger"].(map[string]any)["balance"], "balance is not reduced locally")

	rec, body = f.do(t, http.MethodGet, "/reconciliation", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	entries := body["entries"].([]any)
	require.Len(t, entries, 1)
	entry := entries[0].(map[string]any)
	assert.Equal(t, float64(id), entry["member_id"])

	rec, _ = f.do(t, http.MethodPost, fmt.Sprintf("/reconciliation/%s/resolve", entry["id"]), nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	_, body = f.do(t, http.MethodGet, "/reconciliation", nil)
	assert.Empty(t, body["entries"])

	rec, _ = f.do(t, http.MethodPost, "/reconciliation/6f1c1a9e-7d6b-4f0e-9d59-3f1f3b4f8a10/resolve", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec, _ = f.do(t, http.MethodPost, "/reconciliation/not-a-uuid/resolve", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	f.backend.failBalance.Store(false)
	rec, body = f.do(t, http.MethodPost, fmt.Sprintf("/members/%d/ledger/refresh", id), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["months"].([]any)[2].(map[string]any)["is_paid"])
}

func TestAdjustBalance(t *testing.T) {
	f := newFixture(t)
	id := f.member(t, 100, 50)
	adjust := func(op, amount string) (*httptest.ResponseRecorder, map[string]any) {
		return f.do(t, http.MethodPost, fmt.Sprintf("/members/%d/balance", id), balanceRequest{Operation: op, Amount: amountInput(amount)})
	}

	rec, body := adjust("add", "25.50")
	require.Equal(t, http.StatusOK, rec.Code, body)
	assert.Equal(t, ledgerview.MsgBalanceAdded, body["result"].(map[string]any)["message"])
	assert.Equal(t, "125.5", body["ledger"].(map[string]any)["balance"])

	rec, body = adjust("subtract", "500")
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, ledgerview.MsgInsufficientForOperation, body["message"])

	rec, body = adjust("multiply", "5")
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, ledgerview.MsgInvalidOperation, body["message"])

	rec, body = adjust("add", "abc")
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, ledgerview.MsgInvalidAmount, body["message"])

	path := fmt.Sprintf("/members/%d/balance", id)
	rec, body = f.do(t, http.MethodPost, path, map[string]any{"operation": "add", "amount": 25})
	require.Equal(t, http.StatusOK, rec.Code, body)
	assert.Equal(t, "150.5", body["ledger"].(map[string]any)["balance"])

	rec, body = f.do(t, http.MethodPost, path, map[string]any{"operation": "subtract", "amount": -5})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, ledgerview.MsgInvalidAmount, body["message"])

	rec, body = f.do(t, http.MethodPost, path, map[string]any{"operation": "add"})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, ledgerview.MsgInvalidAmount, body["message"])

	m, err := f.backend.GetMember(context.Background(), id)
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("150.50").Equal(m.Wallet.Balance))
}

func TestDeleteMembers(t *testing.T) {
	f := newFixture(t)
	a, b, c := f.member(t, 0, 10), f.member(t, 0, 10), f.member(t, 0, 10)

	rec, _ := f.do(t, http.MethodGet, fmt.Sprintf("/members/%d/ledger", a), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec, body := f.do(t, http.MethodDelete, fmt.Sprintf("/members/%d", a), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Member deleted successfully", body["message"])

	rec, _ = f.do(t, http.MethodGet, fmt.Sprintf("/members/%d/ledger", a), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code, "deleted members are reported gone")

	rec, body = f.do(t, http.MethodDelete, fmt.Sprintf("/members/%d", a), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, body = f.do(t, http.MethodPost, "/members/bulk-delete", map[string]any{"member_ids": []int64{b, c}})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "2 members deleted successfully", body["message"])

	rec, _ = f.do(t, http.MethodPost, "/members/bulk-delete", map[string]any{"member_ids": []int64{}})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	active := f.feed.Active(0)
	require.NotEmpty(t, active)
	assert.Equal(t, notify.LevelSuccess, active[0].Level)
}
