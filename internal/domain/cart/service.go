// Package cart implements the line item and checkout operations of orders.
//
// Every operation loads the order aggregate, authorizes the caller, changes
// the aggregate in memory, recalculates it and saves it in one transaction.
// Events are published after the save; publishing failures are logged and
// never fail the operation.
package cart

import (
	"context"
	"crypto/subtle"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/dotandbo/spree/internal/domain/adjustment"
	"github.com/dotandbo/spree/internal/domain/auth"
	"github.com/dotandbo/spree/internal/domain/order"
	"github.com/dotandbo/spree/internal/domain/promotion"
	"github.com/dotandbo/spree/internal/domain/tax"
	"github.com/dotandbo/spree/internal/domain/variant"
	"github.com/dotandbo/spree/internal/event"
)

// ErrCouponNotFound is returned when a coupon code activates no promotion.
var ErrCouponNotFound = errors.New("coupon code not found")

// Credentials identify the caller of an operation.
type Credentials struct {
	// User is the owner of the API key, nil for anonymous callers.
	User *auth.APIUser
	// OrderToken is the guest token presented with the request.
	OrderToken string
}

// Admin reports whether the caller has admin rights.
func (c Credentials) Admin() bool {
	return c.User != nil && c.User.Admin
}

// Config holds the tunables of the service.
type Config struct {
	// ShippingFlatRate is the cost of every proposed shipment.
	ShippingFlatRate decimal.Decimal
	// Currency of new orders.
	Currency string
	// TaxZoneID of new orders.
	TaxZoneID int64
}

// Service implements cart operations.
type Service struct {
	orders     order.Repository
	variants   variant.Repository
	promotions promotion.Repository
	rates      tax.Repository
	freeShip   *promotion.FreeShippingHandler
	events     event.Publisher
	cfg        Config
	now        func() time.Time

	tracer      trace.Tracer
	changes     metric.Int64Counter
	activations metric.Int64Counter
}

// Option configures a Service.
type Option func(*Service)

// WithPublisher sets the event publisher.
func WithPublisher(p event.Publisher) Option {
	return func(s *Service) { s.events = p }
}

// WithClock sets the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithTracerProvider sets the tracer provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(s *Service) { s.tracer = tp.Tracer("github.com/dotandbo/spree/internal/domain/cart") }
}

// WithMeterProvider sets the meter provider.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(s *Service) { s.meter(mp) }
}

// NewService creates a cart Service.
func NewService(
	orders order.Repository,
	variants variant.Repository,
	promotions promotion.Repository,
	rates tax.Repository,
	cfg Config,
	opts ...Option,
) *Service {
	s := &Service{
		orders:     orders,
		variants:   variants,
		promotions: promotions,
		rates:      rates,
		freeShip:   promotion.NewFreeShippingHandler(promotions),
		events:     event.Nop{},
		cfg:        cfg,
		now:        time.Now,
		tracer:     tracenoop.NewTracerProvider().Tracer(""),
	}
	s.meter(metricnoop.NewMeterProvider())
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Service) meter(mp metric.MeterProvider) {
	m := mp.Meter("github.com/dotandbo/spree/internal/domain/cart")
	// Instrument creation only fails on invalid names, which are constant.
	s.changes, _ = m.Int64Counter("spree.line_item.changes",
		metric.WithDescription("Line item changes by action"),
	)
	s.activations, _ = m.Int64Counter("spree.promotion.activations",
		metric.WithDescription("Promotions activated on orders"),
	)
}

func (s *Service) start(ctx context.Context, name, number string) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, "cart."+name, trace.WithAttributes(attribute.String("order.number", number)))
}

func finish(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// load fetches the order and authorizes creds against it.
func (s *Service) load(ctx context.Context, number string, creds Credentials) (*order.Order, error) {
	o, err := s.orders.GetByNumber(ctx, number)
	if err != nil {
		if errors.Is(err, order.ErrNotFound) {
			return nil, err
		}
		return nil, errors.Wrapf(err, "load order %q", number)
	}
	if err := authorize(o, creds); err != nil {
		return nil, err
	}
	return o, nil
}

// authorize allows admins, the owner of the order and holders of the
// order's guest token.
func authorize(o *order.Order, creds Credentials) error {
	if creds.Admin() {
		return nil
	}
	if creds.User != nil && creds.User.UserID != 0 && creds.User.UserID == o.UserID {
		return nil
	}
	if creds.OrderToken != "" && subtle.ConstantTimeCompare([]byte(creds.OrderToken), []byte(o.Token)) == 1 {
		return nil
	}
	return order.ErrUnauthorized
}

// session holds the collaborators bound to one loaded order.
type session struct {
	order    *order.Order
	sources  adjustment.SourceMap
	contents *order.Contents
	now      time.Time
}

func (s *Service) session(ctx context.Context, o *order.Order) (*session, error) {
	now := s.now()

	rates, err := s.rates.ListByZone(ctx, o.TaxZoneID)
	if err != nil {
		return nil, errors.Wrap(err, "list tax rates")
	}
	promos, err := s.promotions.ListByIDs(ctx, o.PromotionIDs)
	if err != nil {
		return nil, errors.Wrap(err, "list order promotions")
	}

	adjuster := tax.NewAdjuster(rates)
	sources := adjustment.SourceMap{}
	adjuster.Register(sources, o)
	promotion.Register(sources, promos, now)

	return &session{
		order:    o,
		sources:  sources,
		contents: order.NewContents(o, adjuster, sources, func() time.Time { return now }),
		now:      now,
	}, nil
}

func (ss *session) recalculate() {
	ss.order.Recalculate(ss.sources, ss.now)
}

// activate runs the free shipping handler and makes the activated
// promotions' sources known to the session.
func (s *Service) activate(ctx context.Context, ss *session) ([]*promotion.Promotion, error) {
	activated, err := s.freeShip.Activate(ctx, ss.order, ss.now)
	if err != nil {
		return nil, errors.Wrap(err, "activate promotions")
	}
	promotion.Register(ss.sources, activated, ss.now)
	ss.recalculate()
	return activated, nil
}

// save stamps and persists the aggregate.
func (s *Service) save(ctx context.Context, ss *session) error {
	if err := ss.order.ValidateTotals(); err != nil {
		return err
	}
	touch(ss.order, ss.now)
	if err := s.orders.Save(ctx, ss.order); err != nil {
		if errors.Is(err, order.ErrConflict) {
			return err
		}
		return errors.Wrapf(err, "save order %q", ss.order.Number)
	}
	return nil
}

func (s *Service) publish(ctx context.Context, events ...event.Event) {
	if err := s.events.Publish(ctx, events...); err != nil {
		zctx.From(ctx).Warn("Publish events failed", zap.Int("count", len(events)), zap.Error(err))
	}
}

// touch sets timestamps of new records and the update time of the order.
func touch(o *order.Order, now time.Time) {
	if o.CreatedAt.IsZero() {
		o.CreatedAt = now
	}
	o.UpdatedAt = now
	for _, li := range o.LineItems {
		if li.CreatedAt.IsZero() {
			li.CreatedAt = now
		}
		li.UpdatedAt = now
	}
	for _, sh := range o.Shipments {
		if sh.CreatedAt.IsZero() {
			sh.CreatedAt = now
		}
		sh.UpdatedAt = now
	}
	for _, a := range o.Adjustments {
		if a.CreatedAt.IsZero() {
			a.CreatedAt = now
		}
		if a.UpdatedAt.IsZero() {
			a.UpdatedAt = now
		}
	}
}
