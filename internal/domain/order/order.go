package order

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/dotandbo/spree/internal/domain/adjustment"
)

// State is the checkout state of an order.
type State string

const (
	StateCart           State = "cart"
	StateAddress        State = "address"
	StateDelivery       State = "delivery"
	StatePayment        State = "payment"
	StateConfirm        State = "confirm"
	StateComplete       State = "complete"
	StateCanceled       State = "canceled"
	StateAwaitingReturn State = "awaiting_return"
	StateReturned       State = "returned"
	StateResumed        State = "resumed"
)

var _ adjustment.Adjustable = (*Order)(nil)

// Order is the aggregate root owning line items, shipments, adjustments and
// attached promotions.
type Order struct {
	ID         int64
	Number     string
	Token      string
	UserID     int64
	State      State
	Currency   string
	TaxZoneID  int64
	CouponCode string

	ItemTotal          decimal.Decimal
	ItemCount          int
	ShipmentTotal      decimal.Decimal
	PromoTotal         decimal.Decimal
	AdditionalTaxTotal decimal.Decimal
	IncludedTaxTotal   decimal.Decimal
	AdjustmentTotal    decimal.Decimal
	Total              decimal.Decimal

	// LockVersion is compared on save to detect concurrent modification.
	LockVersion int

	LineItems []*LineItem
	Shipments []*Shipment

	// Adjustments holds every adjustment of the order, its shipments and its
	// line items.
	Adjustments []*adjustment.Adjustment

	// PromotionIDs lists the promotions attached to the order.
	PromotionIDs []int64

	CreatedAt time.Time
	UpdatedAt time.Time

	removed Removals
}

// Removals lists persisted records dropped from the aggregate since load.
type Removals struct {
	LineItemIDs   []int64
	ShipmentIDs   []int64
	AdjustmentIDs []int64
}

// Empty reports whether nothing was removed.
func (r Removals) Empty() bool {
	return len(r.LineItemIDs) == 0 && len(r.ShipmentIDs) == 0 && len(r.AdjustmentIDs) == 0
}

// AdjustableKind implements adjustment.Adjustable.
func (o *Order) AdjustableKind() adjustment.AdjustableKind { return adjustment.KindOrder }

// AdjustableID implements adjustment.Adjustable.
func (o *Order) AdjustableID() int64 { return o.ID }

// AdjustableCurrency implements adjustment.Adjustable.
func (o *Order) AdjustableCurrency() string { return o.Currency }

// Completed reports whether checkout finished.
func (o *Order) Completed() bool {
	return o.State == StateComplete
}

// CanShip reports whether the order is in a state that allows shipping.
func (o *Order) CanShip() bool {
	switch o.State {
	case StateComplete, StateResumed, StateAwaitingReturn, StateReturned:
		return true
	default:
		return false
	}
}

// HasPromotions reports whether any promotion is attached.
func (o *Order) HasPromotions() bool {
	return len(o.PromotionIDs) > 0
}

// HasPromotion reports whether the promotion is attached.
func (o *Order) HasPromotion(id int64) bool {
	for _, p := range o.PromotionIDs {
		if p == id {
			return true
		}
	}
	return false
}

// AttachPromotion attaches the promotion once.
func (o *Order) AttachPromotion(id int64) {
	if !o.HasPromotion(id) {
		o.PromotionIDs = append(o.PromotionIDs, id)
	}
}

// LineItemsTotalWithoutGiftCards sums the amount of every line item that is
// not a gift card.
func (o *Order) LineItemsTotalWithoutGiftCards() decimal.Decimal {
	total := decimal.Zero
	for _, li := range o.LineItems {
		if li.GiftCard {
			continue
		}
		total = total.Add(li.Amount())
	}
	return total
}

// FindLineItem returns the line item with the given id.
func (o *Order) FindLineItem(id int64) (*LineItem, bool) {
	for _, li := range o.LineItems {
		if li.ID == id {
			return li, true
		}
	}
	return nil, false
}

// FindLineItemByVariant returns the line item holding the variant.
func (o *Order) FindLineItemByVariant(variantID int64) (*LineItem, bool) {
	for _, li := range o.LineItems {
		if li.VariantID == variantID {
			return li, true
		}
	}
	return nil, false
}

// FirstShipment returns the first shipment, if any.
func (o *Order) FirstShipment() (*Shipment, bool) {
	if len(o.Shipments) == 0 {
		return nil, false
	}
	return o.Shipments[0], true
}

// AdjustmentsFor returns the adjustments applied to target.
func (o *Order) AdjustmentsFor(target adjustment.Adjustable, filters ...adjustment.Filter) []*adjustment.Adjustment {
	return adjustment.Select(o.Adjustments, append([]adjustment.Filter{adjustment.BelongsTo(target)}, filters...)...)
}

// AddAdjustment appends a to the order.
func (o *Order) AddAdjustment(a *adjustment.Adjustment) {
	a.OrderID = o.ID
	o.Adjustments = append(o.Adjustments, a)
}

// RemoveAdjustments drops every adjustment matching all filters.
func (o *Order) RemoveAdjustments(filters ...adjustment.Filter) {
	kept := o.Adjustments[:0]
	for _, a := range o.Adjustments {
		match := true
		for _, f := range filters {
			if !f(a) {
				match = false
				break
			}
		}
		if !match {
			kept = append(kept, a)
			continue
		}
		if a.ID != 0 {
			o.removed.AdjustmentIDs = append(o.removed.AdjustmentIDs, a.ID)
		}
	}
	o.Adjustments = kept
}

// AddShipment appends a shipment.
func (o *Order) AddShipment(s *Shipment) {
	s.OrderID = o.ID
	o.Shipments = append(o.Shipments, s)
}

// ClearShipments drops every shipment together with its adjustments and
// zeroes the shipment total.
func (o *Order) ClearShipments() {
	for _, s := range o.Shipments {
		o.RemoveAdjustments(adjustment.BelongsTo(s))
		if s.ID != 0 {
			o.removed.ShipmentIDs = append(o.removed.ShipmentIDs, s.ID)
		}
	}
	o.Shipments = nil
	o.ShipmentTotal = decimal.Zero
}

// EnsureUpdatedShipments discards proposed shipments of an incomplete order
// after its contents changed, and restarts checkout.
func (o *Order) EnsureUpdatedShipments() {
	if len(o.Shipments) == 0 || o.Completed() {
		return
	}
	o.ClearShipments()
	o.restartCheckoutFlow()
}

func (o *Order) restartCheckoutFlow() {
	o.State = StateCart
	if len(o.LineItems) > 0 {
		o.State = StateAddress
	}
}

// removeLineItem drops li and its adjustments.
func (o *Order) removeLineItem(li *LineItem) {
	o.RemoveAdjustments(adjustment.BelongsTo(li))
	kept := o.LineItems[:0]
	for _, x := range o.LineItems {
		if x != li {
			kept = append(kept, x)
		}
	}
	o.LineItems = kept
	if li.ID != 0 {
		o.removed.LineItemIDs = append(o.removed.LineItemIDs, li.ID)
	}
}

// Removed returns what was dropped since load.
func (o *Order) Removed() Removals {
	return o.removed
}

// MarkPersisted forgets removals after they were written.
func (o *Order) MarkPersisted() {
	o.removed = Removals{}
}

// Repository persists order aggregates.
type Repository interface {
	// GetByNumber loads the order with its line items, shipments,
	// adjustments and attached promotions.
	GetByNumber(ctx context.Context, number string) (*Order, error)
	// Save writes the whole aggregate atomically. It returns ErrConflict when
	// the order changed since it was loaded.
	Save(ctx context.Context, o *Order) error
}
