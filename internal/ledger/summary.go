// internal/ledger/summary.go
package ledger

import "github.com/shopspring/decimal"

// Summary totals the statuses of one year.
type Summary struct {
	Paid                  int   `json:"paid"`
	Unpaid                int   `json:"unpaid"`
	UnpaidIncludingFuture int   `json:"unpaid_including_future"`
	MonthsCovered         int64 `json:"months_covered"`
}

// Summarize counts paid and unpaid months. Future months are neither owed
// nor settled, so Paid and Unpaid skip them.
func Summarize(statuses [MonthsPerYear]MonthStatus, balance, rate decimal.Decimal) Summary {
	var s Summary
	for _, m := range statuses {
		if !m.IsPaid {
			s.UnpaidIncludingFuture++
		}
		if m.IsFuture {
			continue
		}
		if m.IsPaid {
			s.Paid++
		} else {
			s.Unpaid++
		}
	}
	s.MonthsCovered = MonthsCovered(balance, rate)
	return s
}

// MonthsCovered is how many whole months the balance pays for. Partial
// months do not count.
func MonthsCovered(balance, rate decimal.Decimal) int64 {
	if !rate.IsPositive() {
		return 0
	}
	return balance.Div(rate).Floor().IntPart()
}

// CanPay reports whether the month may be paid from the balance.
func CanPay(m MonthStatus, balance, rate decimal.Decimal) bool {
	return !m.IsFuture && !m.IsPaid && balance.GreaterThanOrEqual(rate)
}
