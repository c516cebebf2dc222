package adjustment

import "github.com/shopspring/decimal"

// Filter selects adjustments.
type Filter func(a *Adjustment) bool

var (
	IsOpen       Filter = func(a *Adjustment) bool { return a.State == StateOpen }
	IsClosed     Filter = func(a *Adjustment) bool { return a.State == StateClosed }
	IsTax        Filter = func(a *Adjustment) bool { return a.Tax() }
	IsPromotion  Filter = func(a *Adjustment) bool { return a.Promotion() }
	IsPrice      Filter = func(a *Adjustment) bool { return a.AdjustableKind() == KindLineItem }
	IsShipping   Filter = func(a *Adjustment) bool { return a.AdjustableKind() == KindShipment }
	IsOptional   Filter = func(a *Adjustment) bool { return !a.Mandatory }
	IsEligible   Filter = func(a *Adjustment) bool { return a.Eligible }
	IsCharge     Filter = func(a *Adjustment) bool { return !a.Amount.IsNegative() }
	IsCredit     Filter = func(a *Adjustment) bool { return a.Amount.IsNegative() }
	IsIncluded   Filter = func(a *Adjustment) bool { return a.Included }
	IsAdditional Filter = func(a *Adjustment) bool { return !a.Included }
)

// BelongsTo selects adjustments applied to exactly this adjustable.
func BelongsTo(target Adjustable) Filter {
	return func(a *Adjustment) bool {
		return a.Adjustable != nil && a.Adjustable == target
	}
}

// Select returns the adjustments matching every filter, in order.
func Select(list []*Adjustment, filters ...Filter) []*Adjustment {
	var out []*Adjustment
next:
	for _, a := range list {
		for _, f := range filters {
			if !f(a) {
				continue next
			}
		}
		out = append(out, a)
	}
	return out
}

// Any reports whether at least one adjustment matches every filter.
func Any(list []*Adjustment, filters ...Filter) bool {
	return len(Select(list, filters...)) > 0
}

// Sum adds up the amounts.
func Sum(list []*Adjustment) decimal.Decimal {
	total := decimal.Zero
	for _, a := range list {
		total = total.Add(a.Amount)
	}
	return total
}
