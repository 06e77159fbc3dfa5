// internal/membership/implementation.go
package membership

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"
)

// MemoryService is an in-process Member API. It backs local development
// and the HTTP handler that tests and game days run against.
type MemoryService struct {
	mu            sync.Mutex
	members       map[int64]*Member
	credentials   map[string]*Credential
	nextMemberID  int64
	nextPaymentID int64
	rateLimiter   *rate.Limiter
	now           func() time.Time
}

// MemoryOption configures a MemoryService.
type MemoryOption func(*MemoryService)

// WithClock overrides the time source used for created_at stamps.
func WithClock(now func() time.Time) MemoryOption {
	return func(s *MemoryService) { s.now = now }
}

// WithLoginLimit overrides the login throttle.
func WithLoginLimit(limit rate.Limit, burst int) MemoryOption {
	return func(s *MemoryService) { s.rateLimiter = rate.NewLimiter(limit, burst) }
}

// NewMemoryService creates an empty in-memory Member API.
func NewMemoryService(opts ...MemoryOption) *MemoryService {
	s := &MemoryService{
		members:       make(map[int64]*Member),
		credentials:   make(map[string]*Credential),
		nextMemberID:  1,
		nextPaymentID: 1,
		rateLimiter:   rate.NewLimiter(rate.Every(1*time.Minute), 5), // 5 logins per minute
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var _ Service = (*MemoryService)(nil)

// RegisterOperator stores dashboard login credentials.
func (s *MemoryService) RegisterOperator(email, password string) error {
	passwordHash, salt, err := hashPassword(password)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.credentials[strings.ToLower(email)] = &Credential{
		Email:        email,
		PasswordHash: passwordHash,
		Salt:         salt,
	}
	return nil
}

// Authenticate verifies operator credentials.
func (s *MemoryService) Authenticate(ctx context.Context, email, password string, remember bool) error {
	if !s.rateLimiter.Allow() {
		return ErrRateLimited
	}

	s.mu.Lock()
	credential, ok := s.credentials[strings.ToLower(email)]
	s.mu.Unlock()
	if !ok {
		return ErrInvalidCredentials
	}

	ok, err := verifyPassword(password, credential.Salt, credential.PasswordHash)
	if err != nil {
		return fmt.Errorf("authentication failed: %w", err)
	}
	if !ok {
		return ErrInvalidCredentials
	}
	return nil
}

// Logout is a no-op for the in-process service; sessions live in the handler.
func (s *MemoryService) Logout(ctx context.Context) error {
	return nil
}

// CreateMember adds a member with an optional opening balance.
func (s *MemoryService) CreateMember(ctx context.Context, nm NewMember) (*Member, error) {
	if nm.MoneyPaidMonthly.IsNegative() {
		return nil, FieldErrors{"money_paid_monthly": "The money paid monthly field must be at least 0."}
	}
	balance := decimal.Zero
	if nm.WalletBalance != nil {
		if nm.WalletBalance.IsNegative() {
			return nil, FieldErrors{"wallet_balance": "The wallet balance field must be at least 0."}
		}
		balance = *nm.WalletBalance
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	member := &Member{
		ID:               s.nextMemberID,
		FirstName:        nm.FirstName,
		LastName:         nm.LastName,
		Email:            nm.Email,
		Phone:            nm.Phone,
		StartDate:        nm.StartDate,
		MoneyPaidMonthly: nm.MoneyPaidMonthly,
		Wallet:           Wallet{Balance: balance},
		Paids:            []PaymentRecord{},
		CreatedAt:        DateOf(s.now()),
	}
	s.nextMemberID++
	s.members[member.ID] = member

	out := member.Clone()
	return &out, nil
}

// GetMember retrieves a member with wallet and payments.
func (s *MemoryService) GetMember(ctx context.Context, id int64) (*Member, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	member, ok := s.members[id]
	if !ok {
		return nil, fmt.Errorf("member with ID %d: %w", id, ErrNotFound)
	}
	out := member.Clone()
	return &out, nil
}

// CreatePayment records a payment. The wallet is not touched; the balance
// endpoint is a separate call.
func (s *MemoryService) CreatePayment(ctx context.Context, memberID int64, paymentDate Date, amount decimal.Decimal) (*PaymentRecord, error) {
	if paymentDate.IsZero() {
		return nil, FieldErrors{"payment_date": "The payment date field is required."}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	member, ok := s.members[memberID]
	if !ok {
		return nil, fmt.Errorf("member with ID %d: %w", memberID, ErrNotFound)
	}

	record := PaymentRecord{
		ID:          s.nextPaymentID,
		MemberID:    memberID,
		PaymentDate: paymentDate,
		Amount:      amount,
	}
	s.nextPaymentID++
	member.Paids = append(member.Paids, record)
	return &record, nil
}

// UpdateBalance overwrites the wallet balance.
func (s *MemoryService) UpdateBalance(ctx context.Context, memberID int64, balance decimal.Decimal) error {
	if balance.IsNegative() {
		return FieldErrors{"balance": ErrNegativeBalance.Error()}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	member, ok := s.members[memberID]
	if !ok {
		return fmt.Errorf("member with ID %d: %w", memberID, ErrNotFound)
	}
	member.Wallet.Balance = balance
	return nil
}

// DeleteMember removes a member and its payments.
func (s *MemoryService) DeleteMember(ctx context.Context, id int64) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.members[id]; !ok {
		return "", fmt.Errorf("member with ID %d: %w", id, ErrNotFound)
	}
	delete(s.members, id)
	return "Member deleted successfully", nil
}

// BulkDeleteMembers removes every listed member that exists.
func (s *MemoryService) BulkDeleteMembers(ctx context.Context, ids []int64) (string, error) {
	if len(ids) == 0 {
		return "", FieldErrors{"member_ids": "The member ids field is required."}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	deleted := 0
	for _, id := range ids {
		if _, ok := s.members[id]; ok {
			delete(s.members, id)
			deleted++
		}
	}
	return fmt.Sprintf("%d members deleted successfully", deleted), nil
}

// ListMembers filters, sorts and paginates the directory.
func (s *MemoryService) ListMembers(ctx context.Context, q ListQuery) (*Page, error) {
	q = q.Normalize()

	s.mu.Lock()
	matched := make([]Member, 0, len(s.members))
	for _, m := range s.members {
		if !matchesSearch(m, q.Search) {
			continue
		}
		if q.PaymentFilter != FilterAll && PaymentFilter(m.Tier()) != q.PaymentFilter {
			continue
		}
		matched = append(matched, m.Clone())
	}
	s.mu.Unlock()

	sort.Slice(matched, func(i, j int) bool { return matched[i].ID < matched[j].ID })
	sortMembers(matched, q.SortField, q.SortDirection)

	total := len(matched)
	lastPage := int(math.Ceil(float64(total) / float64(q.PerPage)))
	if lastPage < 1 {
		lastPage = 1
	}
	page := q.Page
	if page > lastPage {
		page = lastPage
	}

	start := (page - 1) * q.PerPage
	end := start + q.PerPage
	if start > total {
		start = total
	}
	if end > total {
		end = total
	}

	return &Page{
		Data:        matched[start:end],
		CurrentPage: page,
		LastPage:    lastPage,
		PerPage:     q.PerPage,
		Total:       total,
	}, nil
}

func matchesSearch(m *Member, search string) bool {
	if search == "" {
		return true
	}
	needle := strings.ToLower(search)
	for _, field := range []string{m.FirstName, m.LastName, m.Email, m.Phone, m.FullName()} {
		if strings.Contains(strings.ToLower(field), needle) {
			return true
		}
	}
	return false
}

func sortMembers(members []Member, field string, dir SortDirection) {
	less := func(a, b Member) bool {
		switch field {
		case "email":
			return strings.ToLower(a.Email) < strings.ToLower(b.Email)
		case "money_paid_monthly":
			return a.MoneyPaidMonthly.LessThan(b.MoneyPaidMonthly)
		case "created_at":
			return a.CreatedAt.Before(b.CreatedAt.Time)
		case "name":
			return strings.ToLower(a.FullName()) < strings.ToLower(b.FullName())
		default:
			return strings.ToLower(a.FirstName) < strings.ToLower(b.FirstName)
		}
	}
	sort.SliceStable(members, func(i, j int) bool {
		if dir == SortDesc {
			return less(members[j], members[i])
		}
		return less(members[i], members[j])
	})
}
