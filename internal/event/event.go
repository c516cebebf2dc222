// Package event publishes domain events of orders.
package event

import (
	"context"
	"time"

	"github.com/go-faster/jx"
	"github.com/google/uuid"

	"github.com/dotandbo/spree/internal/domain/order"
	"github.com/dotandbo/spree/internal/domain/promotion"
)

// Source identifies this service in event envelopes.
const Source = "spree-api"

// Event types.
const (
	LineItemCreated    = "line_item.created"
	LineItemUpdated    = "line_item.updated"
	LineItemDestroyed  = "line_item.destroyed"
	PromotionActivated = "promotion.activated"
)

// Event is the envelope of a published event.
type Event struct {
	ID            string
	Type          string
	AggregateID   string
	AggregateType string
	Version       int
	Timestamp     time.Time
	Source        string
	CorrelationID string
	// Data is the JSON encoded payload.
	Data []byte
}

// Topic is the topic the event is published to.
func (e Event) Topic() string {
	return "spree." + e.Type
}

// Publisher publishes events.
type Publisher interface {
	Publish(ctx context.Context, events ...Event) error
}

// Nop discards every event.
type Nop struct{}

// Publish implements Publisher.
func (Nop) Publish(context.Context, ...Event) error { return nil }

func newEvent(typ string, o *order.Order, now time.Time, data []byte) Event {
	return Event{
		ID:            uuid.New().String(),
		Type:          typ,
		AggregateID:   o.Number,
		AggregateType: "order",
		Version:       1,
		Timestamp:     now.UTC(),
		Source:        Source,
		Data:          data,
	}
}

// LineItem returns a line item event of the given type.
func LineItem(typ string, o *order.Order, li *order.LineItem, now time.Time) Event {
	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("order_number")
	e.Str(o.Number)
	e.FieldStart("line_item_id")
	e.Int64(li.ID)
	e.FieldStart("variant_id")
	e.Int64(li.VariantID)
	e.FieldStart("quantity")
	e.Int(li.Quantity)
	e.FieldStart("price")
	e.Str(li.UnitPrice().StringFixed(2))
	e.FieldStart("currency")
	e.Str(li.Currency)
	e.FieldStart("order_total")
	e.Str(o.Total.StringFixed(2))
	e.FieldStart("item_count")
	e.Int(o.ItemCount)
	e.ObjEnd()
	return newEvent(typ, o, now, e.Bytes())
}

// Activated returns a promotion activation event.
func Activated(o *order.Order, p *promotion.Promotion, now time.Time) Event {
	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("order_number")
	e.Str(o.Number)
	e.FieldStart("promotion_id")
	e.Int64(p.ID)
	e.FieldStart("promotion_name")
	e.Str(p.Name)
	e.FieldStart("code")
	e.Str(p.Code)
	e.FieldStart("promo_total")
	e.Str(o.PromoTotal.StringFixed(2))
	e.ObjEnd()
	return newEvent(PromotionActivated, o, now, e.Bytes())
}

// Marshal encodes the envelope as JSON.
func (e Event) Marshal() []byte {
	var enc jx.Encoder
	enc.ObjStart()
	enc.FieldStart("event_id")
	enc.Str(e.ID)
	enc.FieldStart("event_type")
	enc.Str(e.Type)
	enc.FieldStart("aggregate_id")
	enc.Str(e.AggregateID)
	enc.FieldStart("aggregate_type")
	enc.Str(e.AggregateType)
	enc.FieldStart("version")
	enc.Int(e.Version)
	enc.FieldStart("timestamp")
	enc.Str(e.Timestamp.Format(time.RFC3339Nano))
	enc.FieldStart("source")
	enc.Str(e.Source)
	if e.CorrelationID != "" {
		enc.FieldStart("correlation_id")
		enc.Str(e.CorrelationID)
	}
	enc.FieldStart("data")
	if len(e.Data) == 0 {
		enc.Null()
	} else {
		enc.Raw(e.Data)
	}
	enc.ObjEnd()
	return enc.Bytes()
}

// Unmarshal decodes an envelope produced by Marshal.
func Unmarshal(data []byte) (Event, error) {
	var e Event
	err := jx.DecodeBytes(data).Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "event_id":
			e.ID, err = d.Str()
		case "event_type":
			e.Type, err = d.Str()
		case "aggregate_id":
			e.AggregateID, err = d.Str()
		case "aggregate_type":
			e.AggregateType, err = d.Str()
		case "version":
			e.Version, err = d.Int()
		case "timestamp":
			var s string
			if s, err = d.Str(); err == nil {
				e.Timestamp, err = time.Parse(time.RFC3339Nano, s)
			}
		case "source":
			e.Source, err = d.Str()
		case "correlation_id":
			e.CorrelationID, err = d.Str()
		case "data":
			var raw jx.Raw
			if raw, err = d.Raw(); err == nil {
				e.Data = append([]byte(nil), raw...)
			}
		default:
			err = d.Skip()
		}
		return err
	})
	return e, err
}
