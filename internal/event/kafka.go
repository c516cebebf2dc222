package event

import (
	"context"
	"strconv"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// KafkaConfig configures the Kafka producer.
type KafkaConfig struct {
	Brokers      []string
	BatchSize    int
	BatchTimeout time.Duration
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

var _ Publisher = (*Producer)(nil)

// Producer publishes events to Kafka, keyed by aggregate so that events of
// one order stay ordered.
type Producer struct {
	w messageWriter
}

// NewProducer returns a Producer writing to cfg.Brokers.
func NewProducer(cfg KafkaConfig) *Producer {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.BatchTimeout <= 0 {
		cfg.BatchTimeout = 10 * time.Millisecond
	}
	return &Producer{w: &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Balancer:               &kafka.Hash{},
		BatchSize:              cfg.BatchSize,
		BatchTimeout:           cfg.BatchTimeout,
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
	}}
}

// Publish implements Publisher.
func (p *Producer) Publish(ctx context.Context, events ...Event) error {
	if len(events) == 0 {
		return nil
	}

	msgs := make([]kafka.Message, 0, len(events))
	for _, e := range events {
		msgs = append(msgs, message(e))
	}
	if err := p.w.WriteMessages(ctx, msgs...); err != nil {
		return errors.Wrapf(err, "publish %d events", len(events))
	}

	lg := zctx.From(ctx)
	for _, e := range events {
		lg.Debug("Event published",
			zap.String("topic", e.Topic()),
			zap.String("event_id", e.ID),
			zap.String("aggregate_id", e.AggregateID),
		)
	}
	return nil
}

// Close flushes pending messages.
func (p *Producer) Close() error {
	return p.w.Close()
}

func message(e Event) kafka.Message {
	msg := kafka.Message{
		Topic: e.Topic(),
		Key:   []byte(e.AggregateID),
		Value: e.Marshal(),
		Time:  e.Timestamp,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(e.Type)},
			{Key: "source", Value: []byte(e.Source)},
			{Key: "version", Value: []byte(strconv.Itoa(e.Version))},
		},
	}
	if e.CorrelationID != "" {
		msg.Headers = append(msg.Headers, kafka.Header{Key: "correlation_id", Value: []byte(e.CorrelationID)})
	}
	return msg
}
