// internal/journal/journal.go
package journal

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	ErrEntryNotFound  = errors.New("journal entry not found")
	ErrDuplicateEntry = errors.New("journal entry already exists")
	ErrNotResolvable  = errors.New("only partial payments can be resolved")
)

// EntryType names a balance-affecting action.
type EntryType string

const (
	PaymentApplied          EntryType = "PaymentApplied"
	PaymentPartiallyApplied EntryType = "PaymentPartiallyApplied"
	PaymentFailed           EntryType = "PaymentFailed"
	BalanceAdjusted         EntryType = "BalanceAdjusted"
	BalanceAdjustFailed     EntryType = "BalanceAdjustFailed"
)

// Entry records one attempted balance-affecting action and what the
// dashboard knew about the wallet at that point. PaymentID is 0 when no
// payment record was created.
type Entry struct {
	ID            uuid.UUID       `json:"id" db:"id"`
	MemberID      int64           `json:"member_id" db:"member_id"`
	Type          EntryType       `json:"type" db:"entry_type"`
	MonthKey      string          `json:"month_key,omitempty" db:"month_key"`
	Amount        decimal.Decimal `json:"amount" db:"amount"`
	BalanceBefore decimal.Decimal `json:"balance_before" db:"balance_before"`
	BalanceAfter  decimal.Decimal `json:"balance_after" db:"balance_after"`
	PaymentID     int64           `json:"payment_id,omitempty" db:"payment_id"`
	Detail        string          `json:"detail,omitempty" db:"detail"`
	CreatedAt     time.Time       `json:"created_at" db:"created_at"`
	ResolvedAt    *time.Time      `json:"resolved_at,omitempty" db:"resolved_at"`
}

// NeedsReconciliation reports whether the entry marks a payment record whose
// balance update never landed.
func (e Entry) NeedsReconciliation() bool {
	return e.Type == PaymentPartiallyApplied && e.ResolvedAt == nil
}

// Store is an append-only activity journal.
type Store interface {
	// Append stores e, assigning ID and CreatedAt when unset.
	Append(ctx context.Context, e Entry) (Entry, error)
	// ForMember returns a member's entries, newest first. limit <= 0 means all.
	ForMember(ctx context.Context, memberID int64, limit int) ([]Entry, error)
	// Unreconciled returns unresolved partial payments, oldest first.
	Unreconciled(ctx context.Context) ([]Entry, error)
	// Resolve marks a partial payment as reconciled.
	Resolve(ctx context.Context, id uuid.UUID, at time.Time) error
}

func stamp(e Entry) Entry {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	return e
}
