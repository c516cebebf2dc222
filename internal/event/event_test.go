package event

import (
	"context"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dotandbo/spree/internal/domain/order"
)

var testNow = time.Date(2024, 5, 4, 12, 30, 0, 0, time.UTC)

func sampleOrder() (*order.Order, *order.LineItem) {
	price := decimal.RequireFromString("10.00")
	li := &order.LineItem{ID: 11, VariantID: 3, Quantity: 2, Price: &price, Currency: "USD"}
	o := &order.Order{
		ID:        1,
		Number:    "R123456789",
		Currency:  "USD",
		Total:     decimal.RequireFromString("20.00"),
		ItemCount: 2,
		LineItems: []*order.LineItem{li},
	}
	return o, li
}

func TestLineItem(t *testing.T) {
	o, li := sampleOrder()
	e := LineItem(LineItemCreated, o, li, testNow)

	assert.NotEmpty(t, e.ID)
	assert.Equal(t, "spree.line_item.created", e.Topic())
	assert.Equal(t, "R123456789", e.AggregateID)
	assert.Equal(t, "order", e.AggregateType)
	assert.Equal(t, Source, e.Source)
	assert.Equal(t, 1, e.Version)
	assert.True(t, testNow.Equal(e.Timestamp))

	fields := map[string]string{}
	require.NoError(t, jx.DecodeBytes(e.Data).Obj(func(d *jx.Decoder, key string) error {
		raw, err := d.Raw()
		fields[key] = string(raw)
		return err
	}))
	assert.Equal(t, `"R123456789"`, fields["order_number"])
	assert.Equal(t, "11", fields["line_item_id"])
	assert.Equal(t, "2", fields["quantity"])
	assert.Equal(t, `"10.00"`, fields["price"])
	assert.Equal(t, `"20.00"`, fields["order_total"])
}

func TestMarshalUnmarshal(t *testing.T) {
	o, li := sampleOrder()
	original := LineItem(LineItemUpdated, o, li, testNow)
	original.CorrelationID = "req-1"

	restored, err := Unmarshal(original.Marshal())
	require.NoError(t, err)

	assert.Equal(t, original.ID, restored.ID)
	assert.Equal(t, original.Type, restored.Type)
	assert.Equal(t, original.AggregateID, restored.AggregateID)
	assert.Equal(t, original.CorrelationID, restored.CorrelationID)
	assert.True(t, original.Timestamp.Equal(restored.Timestamp))
	assert.JSONEq(t, string(original.Data), string(restored.Data))
}

type fakeWriter struct {
	msgs []kafka.Message
	err  error
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

func TestProducer_Publish(t *testing.T) {
	o, li := sampleOrder()
	w := &fakeWriter{}
	p := &Producer{w: w}

	e := LineItem(LineItemDestroyed, o, li, testNow)
	require.NoError(t, p.Publish(context.Background(), e))

	require.Len(t, w.msgs, 1)
	msg := w.msgs[0]
	assert.Equal(t, "spree.line_item.destroyed", msg.Topic)
	assert.Equal(t, []byte("R123456789"), msg.Key)

	headers := map[string]string{}
	for _, h := range msg.Headers {
		headers[h.Key] = string(h.Value)
	}
	assert.Equal(t, LineItemDestroyed, headers["event_type"])
	assert.Equal(t, Source, headers["source"])
	assert.Equal(t, "1", headers["version"])
}

func TestProducer_PublishError(t *testing.T) {
	o, li := sampleOrder()
	p := &Producer{w: &fakeWriter{err: errors.New("broker down")}}

	err := p.Publish(context.Background(), LineItem(LineItemCreated, o, li, testNow))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broker down")
}

func TestProducer_PublishNothing(t *testing.T) {
	w := &fakeWriter{err: errors.New("must not be called")}
	require.NoError(t, (&Producer{w: w}).Publish(context.Background()))
}
