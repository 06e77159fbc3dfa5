// internal/membership/list.go
package membership

import (
	"net/url"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// Tier is the membership tier derived from the monthly rate.
type Tier string

const (
	TierPremium  Tier = "premium"
	TierStandard Tier = "standard"
	TierBasic    Tier = "basic"
	TierUnpaid   Tier = "unpaid"
)

var (
	premiumFloor  = decimal.NewFromInt(100)
	standardFloor = decimal.NewFromInt(50)
)

// TierFor maps a monthly rate to its tier.
func TierFor(rate decimal.Decimal) Tier {
	switch {
	case rate.GreaterThanOrEqual(premiumFloor):
		return TierPremium
	case rate.GreaterThanOrEqual(standardFloor):
		return TierStandard
	case rate.IsPositive():
		return TierBasic
	default:
		return TierUnpaid
	}
}

// Label is the display name of the tier.
func (t Tier) Label() string {
	switch t {
	case TierPremium:
		return "Premium"
	case TierStandard:
		return "Standard"
	case TierBasic:
		return "Basic"
	default:
		return "Unpaid"
	}
}

type SortDirection string

const (
	SortAsc  SortDirection = "asc"
	SortDesc SortDirection = "desc"
)

// PaymentFilter restricts the member list to one tier.
type PaymentFilter string

const FilterAll PaymentFilter = "all"

const (
	DefaultSortField = "first_name"
	DefaultPerPage   = 10
)

// PerPageOptions are the page sizes the directory offers.
var PerPageOptions = []int{10, 25, 50, 100}

var sortFields = map[string]bool{
	"first_name":         true,
	"name":               true,
	"email":              true,
	"money_paid_monthly": true,
	"created_at":         true,
}

// ListQuery is the member directory request.
type ListQuery struct {
	Page          int
	PerPage       int
	Search        string
	SortField     string
	SortDirection SortDirection
	PaymentFilter PaymentFilter
}

// DefaultListQuery is the first page sorted by first name.
func DefaultListQuery() ListQuery {
	return ListQuery{
		Page:          1,
		PerPage:       DefaultPerPage,
		SortField:     DefaultSortField,
		SortDirection: SortAsc,
		PaymentFilter: FilterAll,
	}
}

// ToggleSort flips the direction when sorting by the same field again and
// resets to ascending for a new field. Changing sort goes back to page 1.
func (q ListQuery) ToggleSort(field string) ListQuery {
	if q.SortField == field {
		if q.SortDirection == SortAsc {
			q.SortDirection = SortDesc
		} else {
			q.SortDirection = SortAsc
		}
	} else {
		q.SortField = field
		q.SortDirection = SortAsc
	}
	q.Page = 1
	return q
}

// Normalize replaces unsupported values with defaults.
func (q ListQuery) Normalize() ListQuery {
	if q.Page < 1 {
		q.Page = 1
	}
	validPerPage := false
	for _, n := range PerPageOptions {
		if q.PerPage == n {
			validPerPage = true
			break
		}
	}
	if !validPerPage {
		q.PerPage = DefaultPerPage
	}
	if !sortFields[q.SortField] {
		q.SortField = DefaultSortField
	}
	if q.SortDirection != SortDesc {
		q.SortDirection = SortAsc
	}
	switch q.PaymentFilter {
	case PaymentFilter(TierPremium), PaymentFilter(TierStandard), PaymentFilter(TierBasic), PaymentFilter(TierUnpaid):
	default:
		q.PaymentFilter = FilterAll
	}
	q.Search = strings.TrimSpace(q.Search)
	return q
}

// Values encodes the query the way the Member API expects it.
func (q ListQuery) Values() url.Values {
	q = q.Normalize()
	v := url.Values{}
	v.Set("page", strconv.Itoa(q.Page))
	v.Set("per_page", strconv.Itoa(q.PerPage))
	v.Set("search", q.Search)
	v.Set("sort_field", q.SortField)
	v.Set("sort_direction", string(q.SortDirection))
	v.Set("payment_filter", string(q.PaymentFilter))
	return v
}

// ParseListQuery reads a ListQuery from URL values, falling back to defaults.
func ParseListQuery(v url.Values) ListQuery {
	q := DefaultListQuery()
	if n, err := strconv.Atoi(v.Get("page")); err == nil {
		q.Page = n
	}
	if n, err := strconv.Atoi(v.Get("per_page")); err == nil {
		q.PerPage = n
	}
	q.Search = v.Get("search")
	if f := v.Get("sort_field"); f != "" {
		q.SortField = f
	}
	if d := v.Get("sort_direction"); d != "" {
		q.SortDirection = SortDirection(strings.ToLower(d))
	}
	if f := v.Get("payment_filter"); f != "" {
		q.PaymentFilter = PaymentFilter(strings.ToLower(f))
	}
	return q.Normalize()
}
