package order

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/dotandbo/spree/internal/domain/adjustment"
)

// Recalculate refreshes every open adjustment of the order, its shipments
// and its line items, then the order totals:
//
//	total = item_total + shipment_total + adjustment_total
//
// Line item tax is charged on each item's share of the order promotion
// total, so shipment and order adjustments are refreshed and the promotion
// total settled before line items. Calling Recalculate again changes
// nothing.
func (o *Order) Recalculate(sources adjustment.Sources, now time.Time) {
	// Promotion rules read the item total.
	o.updateItemTotals()

	for _, s := range o.Shipments {
		t := adjustment.Recalculate(o.AdjustmentsFor(s), s, sources, now)
		s.PromoTotal = t.PromoTotal
		s.AdjustmentTotal = t.AdjustmentTotal
	}
	adjustment.Recalculate(o.AdjustmentsFor(o), o, sources, now)
	o.updateTotals()

	// Line item promotions feed the order promotion total; a second pass
	// settles tax when they moved it.
	for range 2 {
		promo := o.PromoTotal
		for _, li := range o.LineItems {
			t := adjustment.Recalculate(o.AdjustmentsFor(li), li, sources, now)
			li.applyTotals(t, o)
		}
		o.updateTotals()
		if o.PromoTotal.Equal(promo) {
			return
		}
	}
}

func (o *Order) updateItemTotals() {
	itemTotal := decimal.Zero
	itemCount := 0
	for _, li := range o.LineItems {
		itemTotal = itemTotal.Add(li.Amount())
		itemCount += li.Quantity
	}
	o.ItemTotal = itemTotal
	o.ItemCount = itemCount
}

func (o *Order) updateTotals() {
	var (
		itemTotal     = decimal.Zero
		itemCount     = 0
		shipmentTotal = decimal.Zero
		promoTotal    = decimal.Zero
		additionalTax = decimal.Zero
		includedTax   = decimal.Zero
		adjTotal      = decimal.Zero
	)

	for _, li := range o.LineItems {
		itemTotal = itemTotal.Add(li.Amount())
		itemCount += li.Quantity
		promoTotal = promoTotal.Add(li.PromoTotal)
		additionalTax = additionalTax.Add(li.AdditionalTaxTotal)
		includedTax = includedTax.Add(li.IncludedTaxTotal)
		adjTotal = adjTotal.Add(li.AdjustmentTotal)
	}
	for _, s := range o.Shipments {
		shipmentTotal = shipmentTotal.Add(s.Cost)
		promoTotal = promoTotal.Add(s.PromoTotal)
		adjTotal = adjTotal.Add(s.AdjustmentTotal)
	}

	own := o.AdjustmentsFor(o, adjustment.IsEligible)
	adjTotal = adjTotal.Add(adjustment.Sum(own))
	promoTotal = promoTotal.Add(adjustment.Sum(adjustment.Select(own, adjustment.IsPromotion)))

	o.ItemTotal = itemTotal
	o.ItemCount = itemCount
	o.ShipmentTotal = shipmentTotal
	o.PromoTotal = promoTotal
	o.AdditionalTaxTotal = additionalTax
	o.IncludedTaxTotal = includedTax
	o.AdjustmentTotal = adjTotal
	o.Total = itemTotal.Add(shipmentTotal).Add(adjTotal)
}

// ValidateTotals reports order totals that cannot be stored.
func (o *Order) ValidateTotals() error {
	var verr ValidationError
	for _, f := range []struct {
		name  string
		value decimal.Decimal
	}{
		{"item_total", o.ItemTotal},
		{"shipment_total", o.ShipmentTotal},
		{"adjustment_total", o.AdjustmentTotal},
		{"total", o.Total},
	} {
		if f.value.Abs().GreaterThan(MaxAmount) {
			verr.Add(f.name, "must be less than or equal to "+MaxAmount.String())
		}
	}
	if o.ItemCount > MaxQuantity {
		verr.Add("item_count", fmt.Sprintf("must be less than or equal to %d", MaxQuantity))
	}
	return verr.Err()
}
