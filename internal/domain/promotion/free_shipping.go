package promotion

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/dotandbo/spree/internal/domain/adjustment"
	"github.com/dotandbo/spree/internal/domain/order"
)

// FreeShipping credits the cost of an order's first shipment.
type FreeShipping struct {
	ID        int64
	Promotion *Promotion
}

var _ Action = (*FreeShipping)(nil)

// ActionID implements Action.
func (a *FreeShipping) ActionID() int64 { return a.ID }

// Ref is the adjustment source reference of the action.
func (a *FreeShipping) Ref() adjustment.SourceRef {
	return adjustment.SourceRef{Kind: adjustment.SourcePromotionAction, ID: a.ID}
}

// Label names the credit on the order.
func (a *FreeShipping) Label() string {
	if a.Promotion.Code != "" {
		return "Promotion: Free Shipping (" + a.Promotion.Code + ")"
	}
	return "Promotion: " + a.Promotion.Name
}

// Perform credits the first shipment's cost on o unless the promotion already
// credited o. It never creates a second credit for the same promotion.
func (a *FreeShipping) Perform(o *order.Order, now time.Time) bool {
	if len(o.Shipments) == 0 || a.creditExists(o) {
		return true
	}

	adj := adjustment.New(o, a.Ref(), a.ComputeAmount(o), a.Label())
	adj.PromotionID = a.Promotion.ID
	adj.CreatedAt = now
	adj.UpdatedAt = now
	o.AddAdjustment(adj)
	return true
}

func (a *FreeShipping) creditExists(o *order.Order) bool {
	return adjustment.Any(o.Adjustments, func(adj *adjustment.Adjustment) bool {
		return adj.PromotionID == a.Promotion.ID
	})
}

// ComputeAmount returns the negated cost of the first shipment of the order.
func (a *FreeShipping) ComputeAmount(target adjustment.Adjustable) decimal.Decimal {
	o, ok := target.(*order.Order)
	if !ok {
		return decimal.Zero
	}
	s, ok := o.FirstShipment()
	if !ok {
		return decimal.Zero
	}
	return s.Cost.Neg()
}

// source binds the action to the activation time so that recalculation can
// re-check promotion eligibility.
type source struct {
	*FreeShipping
	now time.Time
}

func (s source) EligibleFor(target adjustment.Adjustable) bool {
	o, ok := target.(*order.Order)
	if !ok {
		return false
	}
	return s.Promotion.Eligible(o, s.now)
}

// Register adds the sources of every free shipping action of promos to
// sources.
func Register(sources adjustment.SourceMap, promos []*Promotion, now time.Time) {
	for _, p := range promos {
		for _, a := range p.Actions {
			fs, ok := a.(*FreeShipping)
			if !ok {
				continue
			}
			sources.Add(fs.Ref(), source{FreeShipping: fs, now: now})
		}
	}
}
