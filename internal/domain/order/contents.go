package order

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/dotandbo/spree/internal/domain/adjustment"
	"github.com/dotandbo/spree/internal/domain/variant"
)

// TaxAdjuster charges tax on line items of an order.
type TaxAdjuster interface {
	Adjust(o *Order, items ...*LineItem)
}

// LineItemAttrs are the updatable attributes of a line item. Nil fields are
// left unchanged.
type LineItemAttrs struct {
	Quantity          *int
	VariantID         *int64
	Price             *decimal.Decimal
	EstimatedShipDate *time.Time
}

// Contents changes what an order holds and keeps its adjustments and totals
// in step.
type Contents struct {
	order   *Order
	tax     TaxAdjuster
	sources adjustment.Sources
	now     func() time.Time
}

// NewContents binds contents operations to o.
func NewContents(o *Order, tax TaxAdjuster, sources adjustment.Sources, now func() time.Time) *Contents {
	if now == nil {
		now = time.Now
	}
	return &Contents{order: o, tax: tax, sources: sources, now: now}
}

// Add puts qty units of v into the order, merging with an existing line item
// for the same variant.
func (c *Contents) Add(v *variant.Variant, qty int) *LineItem {
	li, ok := c.order.FindLineItemByVariant(v.ID)
	if ok {
		li.Quantity += qty
	} else {
		li = &LineItem{
			OrderID:   c.order.ID,
			VariantID: v.ID,
			Quantity:  qty,
			GiftCard:  v.GiftCard,
		}
		c.order.LineItems = append(c.order.LineItems, li)
	}
	li.AdjustQuantity()
	li.CopyPrice(v)
	li.CopyTaxCategory(v)

	c.reload()
	c.chargeTax(li)
	c.reload()
	return li
}

// Remove takes qty units of v out of the order. The line item is dropped,
// together with its adjustments, once its quantity reaches zero.
func (c *Contents) Remove(v *variant.Variant, qty int) (*LineItem, error) {
	li, ok := c.order.FindLineItemByVariant(v.ID)
	if !ok {
		return nil, ErrLineItemNotFound
	}

	li.Quantity -= qty
	if li.Quantity <= 0 {
		li.Quantity = 0
		c.order.removeLineItem(li)
	} else {
		c.chargeTax(li)
	}

	c.reload()
	return li, nil
}

// Update applies attrs to li. v is the variant the line item points at
// after the update, nil when it does not exist. Tax and adjustments are
// recalculated when the quantity changed.
func (c *Contents) Update(li *LineItem, attrs LineItemAttrs, v *variant.Variant) error {
	before := li.Quantity

	if attrs.Quantity != nil {
		li.Quantity = *attrs.Quantity
	}
	if attrs.VariantID != nil {
		li.VariantID = *attrs.VariantID
	}
	if attrs.Price != nil {
		p := *attrs.Price
		li.Price = &p
	}
	if attrs.EstimatedShipDate != nil {
		d := *attrs.EstimatedShipDate
		li.EstimatedShipDate = &d
	}

	li.AdjustQuantity()
	li.CopyPrice(v)
	li.CopyTaxCategory(v)

	if err := li.Validate(c.order, v); err != nil {
		return err
	}

	if li.Quantity != before {
		c.chargeTax(li)
	}
	c.reload()
	return nil
}

func (c *Contents) chargeTax(li *LineItem) {
	if c.tax != nil {
		c.tax.Adjust(c.order, li)
	}
}

func (c *Contents) reload() {
	c.order.Recalculate(c.sources, c.now())
}
