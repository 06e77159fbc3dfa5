// internal/membership/service.go
package membership

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

var (
	ErrNotFound           = errors.New("member not found")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrRateLimited        = errors.New("rate limit exceeded")
	ErrNegativeBalance    = errors.New("balance cannot be negative")
)

// Sessions signs the dashboard operator in and out of the Member API.
type Sessions interface {
	Authenticate(ctx context.Context, email, password string, remember bool) error
	Logout(ctx context.Context) error
}

// Directory manages the member list.
type Directory interface {
	ListMembers(ctx context.Context, q ListQuery) (*Page, error)
	CreateMember(ctx context.Context, m NewMember) (*Member, error)
	DeleteMember(ctx context.Context, id int64) (string, error)
	BulkDeleteMembers(ctx context.Context, ids []int64) (string, error)
}

// Ledger reads a member with its payments and mutates payments and balance.
type Ledger interface {
	GetMember(ctx context.Context, id int64) (*Member, error)
	CreatePayment(ctx context.Context, memberID int64, paymentDate Date, amount decimal.Decimal) (*PaymentRecord, error)
	UpdateBalance(ctx context.Context, memberID int64, balance decimal.Decimal) error
}

// Service is the full Member API surface the dashboard consumes.
type Service interface {
	Sessions
	Directory
	Ledger
}
