package tax

import (
	"github.com/shopspring/decimal"

	"github.com/dotandbo/spree/internal/domain/adjustment"
	"github.com/dotandbo/spree/internal/domain/order"
)

var _ order.TaxAdjuster = (*Adjuster)(nil)

// Adjuster charges the rates of one tax zone.
type Adjuster struct {
	rates []Rate
}

// NewAdjuster returns an Adjuster for the given rates.
func NewAdjuster(rates []Rate) *Adjuster {
	return &Adjuster{rates: rates}
}

// Adjust replaces the tax adjustments of items with one adjustment per rate
// matching the item's tax category.
func (a *Adjuster) Adjust(o *order.Order, items ...*order.LineItem) {
	for _, li := range items {
		o.RemoveAdjustments(adjustment.BelongsTo(li), adjustment.IsTax)

		for i := range a.rates {
			r := &a.rates[i]
			if r.TaxCategoryID != li.TaxCategoryID {
				continue
			}
			adj := adjustment.New(li, r.Ref(), r.Compute(o, li), r.Label())
			adj.Included = r.IncludedInPrice
			o.AddAdjustment(adj)
		}
	}
}

// Register adds a source for every rate, bound to o, to sources.
func (a *Adjuster) Register(sources adjustment.SourceMap, o *order.Order) {
	for i := range a.rates {
		r := &a.rates[i]
		sources.Add(r.Ref(), &calculator{rate: r, order: o})
	}
}

// calculator recomputes tax adjustments of line items of one order.
type calculator struct {
	rate  *Rate
	order *order.Order
}

func (c *calculator) ComputeAmount(target adjustment.Adjustable) decimal.Decimal {
	li, ok := target.(*order.LineItem)
	if !ok {
		return decimal.Zero
	}
	return c.rate.Compute(c.order, li)
}
