package order

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/dotandbo/spree/internal/domain/adjustment"
)

// ShipmentState is the fulfilment state of a shipment.
type ShipmentState string

const (
	ShipmentPending ShipmentState = "pending"
	ShipmentReady   ShipmentState = "ready"
	ShipmentShipped ShipmentState = "shipped"
)

var _ adjustment.Adjustable = (*Shipment)(nil)

// Shipment is a package of an order's items with its shipping cost.
type Shipment struct {
	ID       int64
	OrderID  int64
	Number   string
	Cost     decimal.Decimal
	State    ShipmentState
	Currency string

	AdjustmentTotal decimal.Decimal
	PromoTotal      decimal.Decimal

	CreatedAt time.Time
	UpdatedAt time.Time
}

// AdjustableKind implements adjustment.Adjustable.
func (s *Shipment) AdjustableKind() adjustment.AdjustableKind { return adjustment.KindShipment }

// AdjustableID implements adjustment.Adjustable.
func (s *Shipment) AdjustableID() int64 { return s.ID }

// AdjustableCurrency implements adjustment.Adjustable.
func (s *Shipment) AdjustableCurrency() string { return s.Currency }

// FinalCost is the cost including shipment adjustments.
func (s *Shipment) FinalCost() decimal.Decimal {
	return s.Cost.Add(s.AdjustmentTotal)
}
