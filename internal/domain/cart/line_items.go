package cart

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/dotandbo/spree/internal/domain/order"
	"github.com/dotandbo/spree/internal/domain/variant"
	"github.com/dotandbo/spree/internal/event"
)

// CreateLineItemRequest holds the input for adding a variant to an order.
type CreateLineItemRequest struct {
	VariantID int64
	// Quantity defaults to 1 when nil.
	Quantity *int
}

// UpdateLineItemRequest holds the input for changing a line item.
type UpdateLineItemRequest struct {
	ID    int64
	Attrs order.LineItemAttrs
}

// LineItemResult is a changed line item together with its order.
type LineItemResult struct {
	Order    *order.Order
	LineItem *order.LineItem
}

// CreateLineItem adds a variant to the order, merging with an existing line
// item of the same variant.
func (s *Service) CreateLineItem(ctx context.Context, number string, creds Credentials, req CreateLineItemRequest) (_ *LineItemResult, rerr error) {
	ctx, span := s.start(ctx, "CreateLineItem", number)
	defer func() { finish(span, rerr) }()

	o, err := s.load(ctx, number, creds)
	if err != nil {
		return nil, err
	}
	v, err := s.variants.GetByID(ctx, req.VariantID)
	if err != nil {
		if errors.Is(err, variant.ErrNotFound) {
			return nil, err
		}
		return nil, errors.Wrapf(err, "get variant %d", req.VariantID)
	}

	qty := 1
	if req.Quantity != nil {
		qty = *req.Quantity
	}

	ss, err := s.session(ctx, o)
	if err != nil {
		return nil, err
	}
	li := ss.contents.Add(v, qty)
	if err := li.Validate(o, v); err != nil {
		return nil, err
	}
	o.EnsureUpdatedShipments()
	ss.recalculate()

	if err := s.save(ctx, ss); err != nil {
		return nil, err
	}

	s.changes.Add(ctx, 1, metric.WithAttributes(attribute.String("action", "create")))
	zctx.From(ctx).Info("Line item added",
		zap.String("order", o.Number),
		zap.Int64("line_item_id", li.ID),
		zap.Int64("variant_id", v.ID),
		zap.Int("quantity", li.Quantity),
	)
	s.publish(ctx, event.LineItem(event.LineItemCreated, o, li, ss.now))

	return &LineItemResult{Order: o, LineItem: li}, nil
}

// UpdateLineItem changes quantity, variant and, for admins, price and
// estimated ship date of a line item.
func (s *Service) UpdateLineItem(ctx context.Context, number string, creds Credentials, req UpdateLineItemRequest) (_ *LineItemResult, rerr error) {
	ctx, span := s.start(ctx, "UpdateLineItem", number)
	defer func() { finish(span, rerr) }()

	o, err := s.load(ctx, number, creds)
	if err != nil {
		return nil, err
	}
	li, ok := o.FindLineItem(req.ID)
	if !ok {
		return nil, order.ErrLineItemNotFound
	}

	attrs := req.Attrs
	if !creds.Admin() {
		attrs.Price = nil
		attrs.EstimatedShipDate = nil
	}

	variantID := li.VariantID
	if attrs.VariantID != nil {
		variantID = *attrs.VariantID
	}
	v, err := s.variants.GetByID(ctx, variantID)
	switch {
	case errors.Is(err, variant.ErrNotFound):
		// Reported as a validation failure of the line item.
		v = nil
	case err != nil:
		return nil, errors.Wrapf(err, "get variant %d", variantID)
	}

	ss, err := s.session(ctx, o)
	if err != nil {
		return nil, err
	}
	if err := ss.contents.Update(li, attrs, v); err != nil {
		return nil, err
	}
	o.EnsureUpdatedShipments()
	ss.recalculate()

	if err := s.save(ctx, ss); err != nil {
		return nil, err
	}

	s.changes.Add(ctx, 1, metric.WithAttributes(attribute.String("action", "update")))
	zctx.From(ctx).Info("Line item updated",
		zap.String("order", o.Number),
		zap.Int64("line_item_id", li.ID),
		zap.Int("quantity", li.Quantity),
	)
	s.publish(ctx, event.LineItem(event.LineItemUpdated, o, li, ss.now))

	return &LineItemResult{Order: o, LineItem: li}, nil
}

// DestroyLineItem removes a line item and its adjustments from the order.
func (s *Service) DestroyLineItem(ctx context.Context, number string, creds Credentials, id int64) (rerr error) {
	ctx, span := s.start(ctx, "DestroyLineItem", number)
	defer func() { finish(span, rerr) }()

	o, err := s.load(ctx, number, creds)
	if err != nil {
		return err
	}
	li, ok := o.FindLineItem(id)
	if !ok {
		return order.ErrLineItemNotFound
	}

	ss, err := s.session(ctx, o)
	if err != nil {
		return err
	}
	if _, err := ss.contents.Remove(&variant.Variant{ID: li.VariantID}, li.Quantity); err != nil {
		return err
	}
	o.EnsureUpdatedShipments()
	ss.recalculate()

	if err := s.save(ctx, ss); err != nil {
		return err
	}

	s.changes.Add(ctx, 1, metric.WithAttributes(attribute.String("action", "destroy")))
	zctx.From(ctx).Info("Line item removed",
		zap.String("order", o.Number),
		zap.Int64("line_item_id", id),
	)
	s.publish(ctx, event.LineItem(event.LineItemDestroyed, o, li, ss.now))

	return nil
}
