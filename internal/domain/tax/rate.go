// Package tax charges sales tax on line items as adjustments.
package tax

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/dotandbo/spree/internal/domain/adjustment"
	"github.com/dotandbo/spree/internal/domain/order"
)

var (
	one     = decimal.NewFromInt(1)
	hundred = decimal.NewFromInt(100)
)

// Rate is a tax rate for one tax category within a zone.
type Rate struct {
	ID              int64
	Name            string
	ZoneID          int64
	TaxCategoryID   int64
	Amount          decimal.Decimal
	IncludedInPrice bool
}

// Ref is the adjustment source reference of the rate.
func (r *Rate) Ref() adjustment.SourceRef {
	return adjustment.SourceRef{Kind: adjustment.SourceTaxRate, ID: r.ID}
}

// Label describes the rate, e.g. "Sales Tax 8.25%".
func (r *Rate) Label() string {
	label := r.Name + " " + r.Amount.Mul(hundred).String() + "%"
	if r.IncludedInPrice {
		label += " (Included in Price)"
	}
	return label
}

// Compute returns the tax owed on the line item's discounted amount. For
// rates included in the price this is the share of the amount that is tax.
func (r *Rate) Compute(o *order.Order, li *order.LineItem) decimal.Decimal {
	base := li.DiscountedAmount(o)
	if r.IncludedInPrice {
		return base.Sub(base.Div(one.Add(r.Amount))).Round(2)
	}
	return base.Mul(r.Amount).Round(2)
}

// Repository lists tax rates.
type Repository interface {
	ListByZone(ctx context.Context, zoneID int64) ([]Rate, error)
}
