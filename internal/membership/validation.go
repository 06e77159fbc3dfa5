// internal/membership/validation.go
package membership

import (
	"regexp"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/shopspring/decimal"
)

var (
	emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
	phonePattern = regexp.MustCompile(`^\+?[\d\s]{10,}$`)

	maxMonthlyRate    = decimal.NewFromInt(10000)
	maxWalletBalance  = decimal.NewFromInt(100000)
	earliestStartDate = NewDate(2000, 1, 1)
)

// FieldErrors maps a form field to its validation message.
type FieldErrors map[string]string

func (e FieldErrors) Error() string {
	keys := make([]string, 0, len(e))
	for k := range e {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e[k])
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// NewMemberForm is the raw member creation form as typed by the operator.
type NewMemberForm struct {
	FirstName        string `json:"first_name"`
	LastName         string `json:"last_name"`
	MoneyPaidMonthly string `json:"money_paid_monthly"`
	WalletBalance    string `json:"wallet_balance"`
	Email            string `json:"email"`
	Phone            string `json:"phone"`
	StartDate        string `json:"start_date"`
}

// Parse validates the form against today's date and converts it.
func (f NewMemberForm) Parse(today time.Time) (NewMember, error) {
	errs := FieldErrors{}
	var m NewMember

	m.FirstName = strings.TrimSpace(f.FirstName)
	if msg := validateName("First name", m.FirstName); msg != "" {
		errs["first_name"] = msg
	}
	m.LastName = strings.TrimSpace(f.LastName)
	if msg := validateName("Last name", m.LastName); msg != "" {
		errs["last_name"] = msg
	}

	if strings.TrimSpace(f.MoneyPaidMonthly) == "" {
		errs["money_paid_monthly"] = "Monthly payment is required"
	} else if rate, err := decimal.NewFromString(strings.TrimSpace(f.MoneyPaidMonthly)); err != nil || rate.IsNegative() {
		errs["money_paid_monthly"] = "Please enter a valid payment amount (non-negative)"
	} else if rate.GreaterThan(maxMonthlyRate) {
		errs["money_paid_monthly"] = "Payment amount cannot exceed $10,000"
	} else {
		m.MoneyPaidMonthly = rate
	}

	if s := strings.TrimSpace(f.WalletBalance); s != "" {
		if balance, err := decimal.NewFromString(s); err != nil || balance.IsNegative() {
			errs["wallet_balance"] = "Please enter a valid non-negative balance amount"
		} else if balance.GreaterThan(maxWalletBalance) {
			errs["wallet_balance"] = "Balance amount cannot exceed $100,000"
		} else {
			m.WalletBalance = &balance
		}
	}

	if s := strings.TrimSpace(f.Email); s != "" {
		if !emailPattern.MatchString(s) {
			errs["email"] = "Please enter a valid email address"
		}
		m.Email = s
	}
	if s := strings.TrimSpace(f.Phone); s != "" {
		if !phonePattern.MatchString(s) {
			errs["phone"] = "Please enter a valid phone number"
		}
		m.Phone = s
	}

	if strings.TrimSpace(f.StartDate) == "" {
		errs["start_date"] = "Start date is required"
	} else if start, err := ParseDate(f.StartDate); err != nil {
		errs["start_date"] = "Start date is required"
	} else {
		limit := DateOf(today).AddDate(1, 0, 0)
		switch {
		case start.After(limit):
			errs["start_date"] = "Start date cannot be more than one year in the future"
		case start.Before(earliestStartDate.Time):
			errs["start_date"] = "Start date cannot be before 2000"
		default:
			m.StartDate = DateOf(start.Time)
		}
	}

	if len(errs) > 0 {
		return NewMember{}, errs
	}
	return m, nil
}

func validateName(label, name string) string {
	n := utf8.RuneCountInString(name)
	switch {
	case n == 0:
		return label + " is required"
	case n < 2:
		return label + " must be at least 2 characters"
	case n > 50:
		return label + " cannot exceed 50 characters"
	}
	return ""
}

// SanitizeAmount strips everything but digits and a single decimal point and
// keeps at most two decimals, mirroring the amount inputs of the dashboard.
func SanitizeAmount(s string) string {
	var b strings.Builder
	for _, r := range s {
		if (r >= '0' && r <= '9') || r == '.' {
			b.WriteRune(r)
		}
	}
	cleaned := b.String()

	parts := strings.Split(cleaned, ".")
	if len(parts) == 1 {
		return cleaned
	}
	frac := strings.Join(parts[1:], "")
	if len(frac) > 2 {
		frac = frac[:2]
	}
	return parts[0] + "." + frac
}
