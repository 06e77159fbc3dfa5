// internal/ledger/status.go

// Package ledger derives month-by-month payment status from a member's
// payment records. Everything here is a pure function of its inputs.
package ledger

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"memberdesk/internal/membership"
)

// MonthsPerYear is the number of statuses derived for a year.
const MonthsPerYear = 12

// ErrInvalidMonthKey is returned for keys not of the form YYYY-MM.
var ErrInvalidMonthKey = errors.New("invalid month key")

// MonthStatus is the derived state of one calendar month.
type MonthStatus struct {
	Index    int    `json:"index"` // 0-based, January is 0
	Label    string `json:"label"`
	Key      string `json:"key"` // "YYYY-MM"
	IsPaid   bool   `json:"is_paid"`
	IsFuture bool   `json:"is_future"`
}

// MonthKey builds the "YYYY-MM" key of a 0-based month index.
func MonthKey(year, index int) string {
	return fmt.Sprintf("%04d-%02d", year, index+1)
}

// ParseMonthKey splits a "YYYY-MM" key into year and 0-based month index.
func ParseMonthKey(key string) (year, index int, err error) {
	t, err := time.Parse("2006-01", key)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %q", ErrInvalidMonthKey, key)
	}
	return t.Year(), int(t.Month()) - 1, nil
}

// PaymentDate is the date a payment for the given month is recorded on.
func PaymentDate(year, index int) membership.Date {
	return membership.NewDate(year, index+1, 1)
}

// DeriveMonthStatuses returns January..December of year. A month is paid when
// any record falls in it; it is future when its index is after currentMonthIndex.
func DeriveMonthStatuses(records []membership.PaymentRecord, year, currentMonthIndex int) [MonthsPerYear]MonthStatus {
	paid := make(map[string]struct{}, len(records))
	for _, r := range records {
		paid[r.PaymentDate.YearMonth()] = struct{}{}
	}

	var statuses [MonthsPerYear]MonthStatus
	for i := range statuses {
		key := MonthKey(year, i)
		_, isPaid := paid[key]
		statuses[i] = MonthStatus{
			Index:    i,
			Label:    time.Month(i + 1).String(),
			Key:      key,
			IsPaid:   isPaid,
			IsFuture: i > currentMonthIndex,
		}
	}
	return statuses
}

// RecentPayments returns up to n records, newest payment date first.
func RecentPayments(records []membership.PaymentRecord, n int) []membership.PaymentRecord {
	if n <= 0 || len(records) == 0 {
		return []membership.PaymentRecord{}
	}
	sorted := make([]membership.PaymentRecord, len(records))
	copy(sorted, records)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].PaymentDate.After(sorted[j].PaymentDate.Time)
	})
	if len(sorted) > n {
		sorted = sorted[:n]
	}
	return sorted
}
