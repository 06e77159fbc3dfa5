package ledger

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"memberdesk/internal/membership"
)

func record(year, month, day int) membership.PaymentRecord {
	return membership.PaymentRecord{PaymentDate: membership.NewDate(year, month, day), Amount: decimal.NewFromInt(50)}
}

func TestDeriveMonthStatuses(t *testing.T) {
	records := []membership.PaymentRecord{
		record(2026, 3, 1),
		record(2026, 1, 15),
		record(2026, 1, 20), // second record in January
		record(2025, 2, 1),  // other year
		record(2026, 11, 1), // paid in advance
	}

	statuses := DeriveMonthStatuses(records, 2026, 4) // May

	require.Len(t, statuses, 12)
	assert.Equal(t, "2026-01", statuses[0].Key)
	assert.Equal(t, "January", statuses[0].Label)
	assert.Equal(t, "2026-12", statuses[11].Key)

	assert.True(t, statuses[0].IsPaid)
	assert.False(t, statuses[1].IsPaid, "February 2025 must not mark February 2026")
	assert.True(t, statuses[2].IsPaid)
	assert.True(t, statuses[10].IsPaid)
	assert.True(t, statuses[10].IsFuture)

	for i, s := range statuses {
		assert.Equal(t, i, s.Index)
		assert.Equal(t, i > 4, s.IsFuture, "month %d", i)
	}
}

func TestDeriveMonthStatuses_TimestampRecords(t *testing.T) {
	date, err := membership.ParseDate("2026-03-01T00:00:00.000000Z")
	require.NoError(t, err)

	statuses := DeriveMonthStatuses([]membership.PaymentRecord{{PaymentDate: date}}, 2026, 11)
	assert.True(t, statuses[2].IsPaid)
}

func TestDeriveMonthStatuses_Properties(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		year := rapid.IntRange(2000, 2100).Draw(t, "year")
		current := rapid.IntRange(0, 11).Draw(t, "current")
		months := rapid.SliceOf(rapid.IntRange(1, 12)).Draw(t, "months")
		years := rapid.SliceOfN(rapid.IntRange(year-1, year+1), len(months), len(months)).Draw(t, "years")

		records := make([]membership.PaymentRecord, len(months))
		paid := map[int]bool{}
		for i, m := range months {
			records[i] = record(years[i], m, 1)
			if years[i] == year {
				paid[m-1] = true
			}
		}

		statuses := DeriveMonthStatuses(records, year, current)
		reversed := make([]membership.PaymentRecord, len(records))
		for i := range records {
			reversed[len(records)-1-i] = records[i]
		}
		if DeriveMonthStatuses(reversed, year, current) != statuses {
			t.Fatalf("result depends on record order")
		}

		future := 0
		for i, s := range statuses {
			if s.Index != i || s.Key != MonthKey(year, i) {
				t.Fatalf("month %d out of calendar order: %+v", i, s)
			}
			if s.IsFuture != (i > current) {
				t.Fatalf("month %d: IsFuture = %v with current %d", i, s.IsFuture, current)
			}
			if s.IsPaid != paid[i] {
				t.Fatalf("month %d: IsPaid = %v, want %v", i, s.IsPaid, paid[i])
			}
			if s.IsFuture {
				future++
			}
		}

		sum := Summarize(statuses, decimal.NewFromInt(100), decimal.NewFromInt(50))
		if sum.Paid+sum.Unpaid != MonthsPerYear-future {
			t.Fatalf("paid %d + unpaid %d != %d non-future months", sum.Paid, sum.Unpaid, MonthsPerYear-future)
		}
	})
}

func TestMonthKeyRoundTrip(t *testing.T) {
	year, index, err := ParseMonthKey(MonthKey(2026, 2))
	require.NoError(t, err)
	assert.Equal(t, 2026, year)
	assert.Equal(t, 2, index)

	for _, bad := range []string{"", "2026-13", "2026-3", "March", "2026-03-01"} {
		_, _, err := ParseMonthKey(bad)
		assert.ErrorIs(t, err, ErrInvalidMonthKey, bad)
	}
}

func TestPaymentDate(t *testing.T) {
	assert.Equal(t, "2026-03-01", PaymentDate(2026, 2).String())
	assert.Equal(t, "2026-12-01", PaymentDate(2026, 11).String())
}

func TestRecentPayments(t *testing.T) {
	records := []membership.PaymentRecord{
		record(2026, 1, 1), record(2026, 4, 1), record(2025, 12, 1),
		record(2026, 2, 1), record(2026, 3, 1), record(2026, 5, 1),
	}

	recent := RecentPayments(records, 5)
	require.Len(t, recent, 5)
	assert.Equal(t, "2026-05-01", recent[0].PaymentDate.String())
	assert.Equal(t, "2026-01-01", recent[4].PaymentDate.String())
	assert.Equal(t, "2026-01-01", records[0].PaymentDate.String(), "input must not be reordered")

	assert.Empty(t, RecentPayments(nil, 5))
}
