package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dreadwing5/Restore/internal/domain"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("events/publisher")

const EventTypeBasketChanged = "basket.changed"

// BasketChanged is emitted after a basket mutation has been committed.
type BasketChanged struct {
	BasketID   string        `json:"basket_id"`
	Version    int64         `json:"version"`
	Operation  string        `json:"operation"`
	ProductID  int64         `json:"product_id"`
	Quantity   int           `json:"quantity"`
	Lines      []domain.Line `json:"lines"`
	OccurredAt time.Time     `json:"occurred_at"`
}

type Publisher interface {
	BasketChanged(ctx context.Context, basket domain.Basket, op domain.Operation) error
	Close() error
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type KafkaPublisher struct {
	writer messageWriter
	topic  string
}

func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	return &KafkaPublisher{
		topic: topic,
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Topic:                  topic,
			Balancer:               &kafka.Hash{},
			AllowAutoTopicCreation: true,
			BatchTimeout:           10 * time.Millisecond,
			RequiredAcks:           kafka.RequireOne,
		},
	}
}

// BasketChanged keys messages by basket id so one basket's events stay ordered
// within a partition.
func (p *KafkaPublisher) BasketChanged(ctx context.Context, basket domain.Basket, op domain.Operation) error {
	data, err := json.Marshal(BasketChanged{
		BasketID:   basket.ID,
		Version:    basket.Version,
		Operation:  string(op.Kind),
		ProductID:  op.ProductID,
		Quantity:   op.Quantity,
		Lines:      basket.Lines,
		OccurredAt: basket.UpdatedAt,
	})
	if err != nil {
		return fmt.Errorf("marshal basket event: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(basket.ID),
		Value: data,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(EventTypeBasketChanged)},
		},
	}

	ctx, span := tracer.Start(ctx, "send "+p.topic, trace.WithSpanKind(trace.SpanKindProducer))
	defer span.End()

	otel.GetTextMapPropagator().Inject(ctx, NewMessageCarrier(&msg))

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("publish basket event: %w", err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// NoopPublisher is used when no brokers are configured.
type NoopPublisher struct{}

func (NoopPublisher) BasketChanged(context.Context, domain.Basket, domain.Operation) error {
	return nil
}

func (NoopPublisher) Close() error { return nil }
