package variant

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// ErrNotFound is returned when a requested variant does not exist.
var ErrNotFound = errors.New("variant not found")

// Variant is a purchasable SKU.
type Variant struct {
	ID             int64
	SKU            string
	Name           string
	Price          decimal.Decimal
	CostPrice      decimal.Decimal
	Currency       string
	TaxCategoryID  int64
	GiftCard       bool
	TrackInventory bool
	Backorderable  bool
	CountOnHand    int
	DeletedAt      *time.Time
}

// CanSupply reports whether stock can cover qty units.
func (v *Variant) CanSupply(qty int) bool {
	if !v.TrackInventory || v.Backorderable {
		return true
	}
	return v.CountOnHand >= qty
}

// Repository looks variants up. Lookups include soft-deleted variants so
// that existing line items keep resolving.
type Repository interface {
	GetByID(ctx context.Context, id int64) (*Variant, error)
}
