// internal/membership/domain.go
package membership

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Member represents a gym member as served by the Member API.
type Member struct {
	ID               int64           `json:"id"`
	FirstName        string          `json:"first_name"`
	LastName         string          `json:"last_name"`
	Email            string          `json:"email,omitempty"`
	Phone            string          `json:"phone,omitempty"`
	StartDate        Date            `json:"start_date"`
	MoneyPaidMonthly decimal.Decimal `json:"money_paid_monthly"`
	Wallet           Wallet          `json:"wallet"`
	Paids            []PaymentRecord `json:"paids"`
	CreatedAt        Date            `json:"created_at"`
}

// Wallet holds a member's prepaid balance.
type Wallet struct {
	Balance decimal.Decimal `json:"balance"`
}

// PaymentRecord is one monthly payment. Only the year-month of PaymentDate
// is meaningful.
type PaymentRecord struct {
	ID          int64           `json:"id"`
	MemberID    int64           `json:"member_id"`
	PaymentDate Date            `json:"payment_date"`
	Amount      decimal.Decimal `json:"amount"`

	// AmountDefaulted is set when the wire record carried no amount.
	AmountDefaulted bool `json:"-"`
}

// UnmarshalJSON accepts the amount under either "amount" or "balance"; the
// payments endpoint uses the latter.
func (p *PaymentRecord) UnmarshalJSON(data []byte) error {
	var aux struct {
		ID          int64            `json:"id"`
		MemberID    json.Number      `json:"member_id"`
		PaymentDate Date             `json:"payment_date"`
		Amount      *decimal.Decimal `json:"amount"`
		Balance     *decimal.Decimal `json:"balance"`
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&aux); err != nil {
		return err
	}

	*p = PaymentRecord{
		ID:          aux.ID,
		PaymentDate: aux.PaymentDate,
	}
	if aux.MemberID != "" {
		id, err := aux.MemberID.Int64()
		if err != nil {
			return fmt.Errorf("invalid member_id %q: %w", aux.MemberID, err)
		}
		p.MemberID = id
	}
	switch {
	case aux.Amount != nil:
		p.Amount = *aux.Amount
	case aux.Balance != nil:
		p.Amount = *aux.Balance
	default:
		p.AmountDefaulted = true
	}
	return nil
}

// FullName joins first and last name.
func (m Member) FullName() string {
	return strings.TrimSpace(m.FirstName + " " + m.LastName)
}

// Tier returns the membership tier implied by the monthly rate.
func (m Member) Tier() Tier {
	return TierFor(m.MoneyPaidMonthly)
}

// FillDefaults applies the defaults the Member API leaves implicit: records
// without an amount are worth the monthly rate and belong to the member.
func (m *Member) FillDefaults() {
	for i := range m.Paids {
		if m.Paids[i].AmountDefaulted {
			m.Paids[i].Amount = m.MoneyPaidMonthly
			m.Paids[i].AmountDefaulted = false
		}
		if m.Paids[i].MemberID == 0 {
			m.Paids[i].MemberID = m.ID
		}
	}
}

// Clone returns a deep copy so snapshots never share the payment slice.
func (m Member) Clone() Member {
	c := m
	if m.Paids != nil {
		c.Paids = make([]PaymentRecord, len(m.Paids))
		copy(c.Paids, m.Paids)
	}
	return c
}

// Credential represents a dashboard operator's login credentials.
type Credential struct {
	Email        string `json:"email"`
	PasswordHash string `json:"-"`
	Salt         string `json:"-"`
}

// NewMember is the validated input for creating a member.
type NewMember struct {
	FirstName        string           `json:"first_name"`
	LastName         string           `json:"last_name"`
	MoneyPaidMonthly decimal.Decimal  `json:"money_paid_monthly"`
	WalletBalance    *decimal.Decimal `json:"wallet_balance,omitempty"`
	Email            string           `json:"email,omitempty"`
	Phone            string           `json:"phone,omitempty"`
	StartDate        Date             `json:"start_date"`
}

// Page is one page of the member directory.
type Page struct {
	Data        []Member `json:"data"`
	CurrentPage int      `json:"current_page"`
	LastPage    int      `json:"last_page"`
	PerPage     int      `json:"per_page"`
	Total       int      `json:"total"`
}

// ClampPage keeps a requested page number inside [1, LastPage].
func (p Page) ClampPage(page int) int {
	last := p.LastPage
	if last < 1 {
		last = 1
	}
	if page < 1 {
		return 1
	}
	if page > last {
		return last
	}
	return page
}
