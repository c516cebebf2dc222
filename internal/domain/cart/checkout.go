package cart

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strings"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/dotandbo/spree/internal/domain/order"
	"github.com/dotandbo/spree/internal/domain/promotion"
	"github.com/dotandbo/spree/internal/event"
)

// createAttempts bounds retries on order number collisions.
const createAttempts = 3

func orderNumber() string {
	return fmt.Sprintf("R%09d", rand.IntN(1_000_000_000))
}

func shipmentNumber() string {
	return fmt.Sprintf("H%011d", rand.Int64N(100_000_000_000))
}

// CreateOrder starts an empty cart owned by the caller. Anonymous callers
// use the returned order's token to authorize later requests.
func (s *Service) CreateOrder(ctx context.Context, creds Credentials) (_ *order.Order, rerr error) {
	ctx, span := s.start(ctx, "CreateOrder", "")
	defer func() { finish(span, rerr) }()

	var userID int64
	if creds.User != nil {
		userID = creds.User.UserID
	}

	for attempt := 1; ; attempt++ {
		now := s.now()
		o := &order.Order{
			Number:    orderNumber(),
			Token:     uuid.New().String(),
			UserID:    userID,
			State:     order.StateCart,
			Currency:  s.cfg.Currency,
			TaxZoneID: s.cfg.TaxZoneID,
		}
		touch(o, now)

		err := s.orders.Save(ctx, o)
		if err == nil {
			span.SetAttributes(attribute.String("order.number", o.Number))
			zctx.From(ctx).Info("Order created", zap.String("order", o.Number), zap.Int64("user_id", userID))
			return o, nil
		}
		if !errors.Is(err, order.ErrConflict) || attempt == createAttempts {
			return nil, errors.Wrap(err, "create order")
		}
	}
}

// Show returns the order with its line items, shipments and adjustments.
func (s *Service) Show(ctx context.Context, number string, creds Credentials) (_ *order.Order, rerr error) {
	ctx, span := s.start(ctx, "Show", number)
	defer func() { finish(span, rerr) }()

	return s.load(ctx, number, creds)
}

// ProposeShipments replaces the order's shipments with a single flat-rate
// shipment and activates free shipping promotions.
func (s *Service) ProposeShipments(ctx context.Context, number string, creds Credentials) (_ *order.Order, rerr error) {
	ctx, span := s.start(ctx, "ProposeShipments", number)
	defer func() { finish(span, rerr) }()

	o, err := s.load(ctx, number, creds)
	if err != nil {
		return nil, err
	}
	if len(o.LineItems) == 0 {
		var verr order.ValidationError
		verr.Add("line_items", "can't be blank")
		return nil, verr.Err()
	}

	ss, err := s.session(ctx, o)
	if err != nil {
		return nil, err
	}
	o.ClearShipments()
	o.AddShipment(&order.Shipment{
		Number:   shipmentNumber(),
		Cost:     s.cfg.ShippingFlatRate,
		State:    order.ShipmentPending,
		Currency: o.Currency,
	})
	if o.State == order.StateCart || o.State == order.StateAddress {
		o.State = order.StateDelivery
	}
	ss.recalculate()

	activated, err := s.activate(ctx, ss)
	if err != nil {
		return nil, err
	}
	if err := s.save(ctx, ss); err != nil {
		return nil, err
	}

	zctx.From(ctx).Info("Shipments proposed",
		zap.String("order", o.Number),
		zap.Int("activated_promotions", len(activated)),
	)
	s.publishActivations(ctx, ss, activated)
	return o, nil
}

// ApplyCouponCode stores code, upper cased, on the order and activates the
// free shipping promotions it unlocks. It returns ErrCouponNotFound unless a
// promotion with that code was activated; the order is left unchanged in
// that case. Only the promotions carrying the code are returned.
func (s *Service) ApplyCouponCode(ctx context.Context, number string, creds Credentials, code string) (_ *order.Order, _ []*promotion.Promotion, rerr error) {
	ctx, span := s.start(ctx, "ApplyCouponCode", number)
	defer func() { finish(span, rerr) }()

	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return nil, nil, ErrCouponNotFound
	}

	o, err := s.load(ctx, number, creds)
	if err != nil {
		return nil, nil, err
	}
	ss, err := s.session(ctx, o)
	if err != nil {
		return nil, nil, err
	}
	o.CouponCode = code

	activated, err := s.activate(ctx, ss)
	if err != nil {
		return nil, nil, err
	}
	var applied []*promotion.Promotion
	for _, p := range activated {
		if p.Code != "" && strings.EqualFold(p.Code, code) {
			applied = append(applied, p)
		}
	}
	if len(applied) == 0 {
		return nil, nil, ErrCouponNotFound
	}
	if err := s.save(ctx, ss); err != nil {
		return nil, nil, err
	}

	zctx.From(ctx).Info("Coupon applied",
		zap.String("order", o.Number),
		zap.String("code", code),
		zap.Int("activated_promotions", len(activated)),
	)
	s.publishActivations(ctx, ss, activated)
	return o, applied, nil
}

func (s *Service) publishActivations(ctx context.Context, ss *session, activated []*promotion.Promotion) {
	if len(activated) == 0 {
		return
	}
	events := make([]event.Event, 0, len(activated))
	for _, p := range activated {
		events = append(events, event.Activated(ss.order, p, ss.now))
		s.activations.Add(ctx, 1, metric.WithAttributes(attribute.Int64("promotion.id", p.ID)))
	}
	s.publish(ctx, events...)
}
