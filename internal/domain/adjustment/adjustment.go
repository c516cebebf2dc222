// Package adjustment models signed monetary deltas applied to an order, one
// of its shipments or one of its line items.
//
// Adjustments can be open or closed. A closed adjustment is never
// recalculated; its amount stays whatever it was when it was closed.
//
// Only eligible adjustments count towards the adjustable's totals. An
// adjustment that becomes ineligible is kept so that it can be reinstated.
package adjustment

import (
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// AdjustableKind identifies what an adjustment is applied to.
type AdjustableKind string

const (
	KindOrder    AdjustableKind = "order"
	KindShipment AdjustableKind = "shipment"
	KindLineItem AdjustableKind = "line_item"
)

// SourceKind identifies what produced an adjustment.
type SourceKind string

const (
	// SourceNone marks a manually created adjustment.
	SourceNone            SourceKind = ""
	SourcePromotionAction SourceKind = "promotion_action"
	SourceTaxRate         SourceKind = "tax_rate"
)

// State is the open/closed lifecycle state of an adjustment.
type State string

const (
	StateOpen   State = "open"
	StateClosed State = "closed"
)

// ErrInvalidTransition is returned by Open and Close when the adjustment is
// not in the state the event transitions from.
var ErrInvalidTransition = errors.New("invalid adjustment state transition")

// Adjustable is anything an adjustment can be applied to.
type Adjustable interface {
	AdjustableKind() AdjustableKind
	AdjustableID() int64
	AdjustableCurrency() string
}

// SourceRef points at the record that produced an adjustment.
type SourceRef struct {
	Kind SourceKind
	ID   int64
}

// IsZero reports whether the reference points at nothing.
func (r SourceRef) IsZero() bool {
	return r.Kind == SourceNone && r.ID == 0
}

// Adjustment is a signed monetary delta against an adjustable.
type Adjustment struct {
	ID      int64
	OrderID int64

	// Adjustable is the order, shipment or line item this adjustment is
	// applied to. It is nil for a detached adjustment.
	Adjustable Adjustable
	Source     SourceRef

	// PromotionID is the promotion credited by this adjustment, 0 when the
	// source is not a promotion action.
	PromotionID int64

	Amount    decimal.Decimal
	Label     string
	Eligible  bool
	Mandatory bool
	Included  bool
	State     State
	CreatedAt time.Time
	UpdatedAt time.Time
}

// New creates an open, eligible adjustment.
func New(adjustable Adjustable, source SourceRef, amount decimal.Decimal, label string) *Adjustment {
	return &Adjustment{
		Adjustable: adjustable,
		Source:     source,
		Amount:     amount,
		Label:      label,
		Eligible:   true,
		State:      StateOpen,
	}
}

// Closed reports whether the adjustment is locked against recalculation.
func (a *Adjustment) Closed() bool {
	return a.State == StateClosed
}

// Close locks the adjustment.
func (a *Adjustment) Close() error {
	if a.State != StateOpen {
		return errors.Wrapf(ErrInvalidTransition, "close from %q", a.State)
	}
	a.State = StateClosed
	return nil
}

// Open unlocks a closed adjustment.
func (a *Adjustment) Open() error {
	if a.State != StateClosed {
		return errors.Wrapf(ErrInvalidTransition, "open from %q", a.State)
	}
	a.State = StateOpen
	return nil
}

// Promotion reports whether the adjustment was produced by a promotion action.
func (a *Adjustment) Promotion() bool {
	return a.Source.Kind == SourcePromotionAction
}

// Tax reports whether the adjustment was produced by a tax rate.
func (a *Adjustment) Tax() bool {
	return a.Source.Kind == SourceTaxRate
}

// Currency returns the adjustable's currency, or fallback when detached.
func (a *Adjustment) Currency(fallback string) string {
	if a.Adjustable == nil {
		return fallback
	}
	return a.Adjustable.AdjustableCurrency()
}

// AdjustableKind returns the kind of the adjustable, empty when detached.
func (a *Adjustment) AdjustableKind() AdjustableKind {
	if a.Adjustable == nil {
		return ""
	}
	return a.Adjustable.AdjustableKind()
}

// Update recalculates the amount given a target (an order, shipment or line
// item). When target is nil the adjustable itself is used.
//
// Closed adjustments are left untouched and their current amount is
// returned. Adjustments without a source are manual and are also left
// untouched. For promotion sources eligibility is re-evaluated against the
// adjustable, and ineligible adjustments are zeroed.
func (a *Adjustment) Update(src Source, target Adjustable, now time.Time) decimal.Decimal {
	if a.Closed() {
		return a.Amount
	}
	if target == nil {
		target = a.Adjustable
	}
	if src == nil || target == nil {
		return a.Amount
	}

	eligible := true
	if a.Promotion() {
		if ps, ok := src.(PromotionSource); ok {
			eligible = ps.EligibleFor(a.Adjustable)
		}
	}

	amount := decimal.Zero
	if eligible {
		amount = src.ComputeAmount(target)
	}

	a.Eligible = eligible
	a.Amount = amount
	a.UpdatedAt = now
	return amount
}
