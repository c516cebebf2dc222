package adjustment

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// Totals are the adjustment-derived totals of a single adjustable.
type Totals struct {
	PromoTotal         decimal.Decimal
	IncludedTaxTotal   decimal.Decimal
	AdditionalTaxTotal decimal.Decimal
	AdjustmentTotal    decimal.Decimal
}

// Recalculate updates every adjustment in list against target and returns
// the target's new totals. list must only hold adjustments of target.
//
// Promotion adjustments are updated first. When they add up to something
// non-zero only the best (lowest amount, newest on ties) eligible promotion
// adjustment stays eligible; the others are marked ineligible. Tax
// adjustments are updated afterwards, so tax is charged on the discounted
// amount. Included tax does not count towards the adjustment total.
func Recalculate(list []*Adjustment, target Adjustable, sources Sources, now time.Time) Totals {
	var t Totals

	promos := Select(list, IsPromotion)
	promoSum := decimal.Zero
	for _, a := range promos {
		promoSum = promoSum.Add(update(a, target, sources, now))
	}
	if !promoSum.IsZero() {
		if best := chooseBestPromotion(promos); best != nil {
			t.PromoTotal = best.Amount
		}
	}

	for _, a := range Select(list, IsTax) {
		amount := update(a, target, sources, now)
		if a.Included {
			t.IncludedTaxTotal = t.IncludedTaxTotal.Add(amount)
		} else {
			t.AdditionalTaxTotal = t.AdditionalTaxTotal.Add(amount)
		}
	}

	t.AdjustmentTotal = t.PromoTotal.Add(t.AdditionalTaxTotal)
	return t
}

func update(a *Adjustment, target Adjustable, sources Sources, now time.Time) decimal.Decimal {
	var src Source
	if sources != nil && !a.Source.IsZero() {
		src, _ = sources.Lookup(a.Source)
	}
	return a.Update(src, target, now)
}

// chooseBestPromotion keeps a single promotion adjustment eligible.
func chooseBestPromotion(promos []*Adjustment) *Adjustment {
	candidates := Select(promos, IsEligible)
	if len(candidates) == 0 {
		return nil
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		ai, aj := candidates[i], candidates[j]
		if !ai.Amount.Equal(aj.Amount) {
			return ai.Amount.LessThan(aj.Amount)
		}
		return ai.CreatedAt.After(aj.CreatedAt)
	})

	best := candidates[0]
	for _, a := range promos {
		a.Eligible = a == best
	}
	return best
}
