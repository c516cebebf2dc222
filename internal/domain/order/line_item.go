package order

import (
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"

	"github.com/dotandbo/spree/internal/domain/adjustment"
	"github.com/dotandbo/spree/internal/domain/money"
	"github.com/dotandbo/spree/internal/domain/variant"
)

var _ adjustment.Adjustable = (*LineItem)(nil)

// MaxQuantity is the largest storable line item quantity.
const MaxQuantity = math.MaxInt32

// MaxAmount is the largest storable money amount, NUMERIC(10, 2).
var MaxAmount = decimal.RequireFromString("99999999.99")

// LineItem is a quantity of a variant within an order.
type LineItem struct {
	ID                int64
	OrderID           int64
	VariantID         int64
	TaxCategoryID     int64
	Quantity          int
	Price             *decimal.Decimal
	CostPrice         *decimal.Decimal
	Currency          string
	GiftCard          bool
	EstimatedShipDate *time.Time

	AdjustmentTotal    decimal.Decimal
	PromoTotal         decimal.Decimal
	AdditionalTaxTotal decimal.Decimal
	IncludedTaxTotal   decimal.Decimal
	PreTaxAmount       decimal.Decimal

	CreatedAt time.Time
	UpdatedAt time.Time
}

// AdjustableKind implements adjustment.Adjustable.
func (li *LineItem) AdjustableKind() adjustment.AdjustableKind { return adjustment.KindLineItem }

// AdjustableID implements adjustment.Adjustable.
func (li *LineItem) AdjustableID() int64 { return li.ID }

// AdjustableCurrency implements adjustment.Adjustable.
func (li *LineItem) AdjustableCurrency() string { return li.Currency }

// UnitPrice returns the price, zero when unset.
func (li *LineItem) UnitPrice() decimal.Decimal {
	if li.Price == nil {
		return decimal.Zero
	}
	return *li.Price
}

// Amount is price × quantity.
func (li *LineItem) Amount() decimal.Decimal {
	return li.UnitPrice().Mul(decimal.NewFromInt(int64(li.Quantity)))
}

// Subtotal is an alias of Amount.
func (li *LineItem) Subtotal() decimal.Decimal {
	return li.Amount()
}

// FinalAmount is the amount including adjustments.
func (li *LineItem) FinalAmount() decimal.Decimal {
	return li.Amount().Add(li.AdjustmentTotal)
}

// Total is an alias of FinalAmount.
func (li *LineItem) Total() decimal.Decimal {
	return li.FinalAmount()
}

// PromoAmount spreads the order's promotion total across line items,
// weighted by each item's share of the order's non-gift-card subtotal.
// An order without attached promotions has no order-level credit to spread,
// so the item's own promotion total is returned instead.
func (li *LineItem) PromoAmount(o *Order) decimal.Decimal {
	if o == nil || !o.HasPromotions() {
		return li.PromoTotal
	}
	orderTotal := o.LineItemsTotalWithoutGiftCards()
	if orderTotal.IsZero() {
		return decimal.Zero
	}
	return o.PromoTotal.Mul(li.Amount()).Div(orderTotal)
}

// DiscountedAmount is the amount after promotions. Gift cards are never
// discounted.
func (li *LineItem) DiscountedAmount(o *Order) decimal.Decimal {
	if li.GiftCard {
		return li.Amount()
	}
	return li.Amount().Add(li.PromoAmount(o))
}

// SingleDisplayAmount renders the unit price.
func (li *LineItem) SingleDisplayAmount() string {
	return money.Format(li.UnitPrice(), li.Currency)
}

// DisplayAmount renders the amount.
func (li *LineItem) DisplayAmount() string {
	return money.Format(li.Amount(), li.Currency)
}

// AdjustQuantity clamps a negative quantity to zero.
func (li *LineItem) AdjustQuantity() {
	if li.Quantity < 0 {
		li.Quantity = 0
	}
}

// CopyPrice fills price, cost price and currency from the variant when unset.
func (li *LineItem) CopyPrice(v *variant.Variant) {
	if v == nil {
		return
	}
	if li.Price == nil {
		p := v.Price
		li.Price = &p
	}
	if li.CostPrice == nil {
		c := v.CostPrice
		li.CostPrice = &c
	}
	if li.Currency == "" {
		li.Currency = v.Currency
	}
}

// CopyTaxCategory takes the variant's tax category.
func (li *LineItem) CopyTaxCategory(v *variant.Variant) {
	if v != nil {
		li.TaxCategoryID = v.TaxCategoryID
	}
}

// Validate checks the line item against its order and variant. v is nil
// when the variant does not exist.
func (li *LineItem) Validate(o *Order, v *variant.Variant) error {
	var verr ValidationError

	if v == nil {
		verr.Add("variant", "can't be blank")
	}
	if li.Quantity < 0 {
		verr.Add("quantity", "must be an integer")
	}
	if li.Quantity > MaxQuantity {
		verr.Add("quantity", fmt.Sprintf("must be less than or equal to %d", MaxQuantity))
	}
	switch {
	case li.Price == nil:
		verr.Add("price", "is not a number")
	case li.Price.Abs().GreaterThan(MaxAmount):
		verr.Add("price", "must be less than or equal to "+MaxAmount.String())
	case li.Amount().GreaterThan(MaxAmount):
		verr.Add("amount", "must be less than or equal to "+MaxAmount.String())
	}
	if v != nil && !o.CanShip() && !v.CanSupply(li.Quantity) {
		verr.Add("quantity", fmt.Sprintf("selected of %q is not available.", v.Name))
	}
	if li.Currency != o.Currency {
		verr.Add("currency", "must match order currency")
	}

	return verr.Err()
}

// applyTotals stores recalculated adjustment totals.
func (li *LineItem) applyTotals(t adjustment.Totals, o *Order) {
	li.PromoTotal = t.PromoTotal
	li.AdditionalTaxTotal = t.AdditionalTaxTotal
	li.IncludedTaxTotal = t.IncludedTaxTotal
	li.AdjustmentTotal = t.AdjustmentTotal
	li.PreTaxAmount = li.DiscountedAmount(o).Sub(t.IncludedTaxTotal)
}
