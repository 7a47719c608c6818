package vectorsync

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/SongHyeonJin/gift-recommendation-service-sub000/internal/models"
)

// MessageWriter is the subset of *kafka.Writer used by the publisher.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// Publisher writes outbox events keyed by product id, so changes to one
// product stay ordered within a partition.
type Publisher struct {
	writer MessageWriter
	now    func() time.Time
}

// NewPublisher wraps a Kafka writer.
func NewPublisher(w MessageWriter) *Publisher {
	return &Publisher{writer: w, now: time.Now}
}

// NewWriter builds the Kafka writer for the sync topic.
func NewWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		MaxAttempts:  3,
		RequiredAcks: kafka.RequireAll,
	}
}

// PublishSaved announces committed products.
func (p *Publisher) PublishSaved(ctx context.Context, products ...models.Product) error {
	events := make([]Event, 0, len(products))
	for _, prod := range products {
		events = append(events, SavedEvent(prod, p.now()))
	}
	return p.Publish(ctx, events...)
}

// PublishDeleted announces a committed delete.
func (p *Publisher) PublishDeleted(ctx context.Context, productID int64) error {
	return p.Publish(ctx, DeletedEvent(productID, p.now()))
}

// Publish writes events in one batch.
func (p *Publisher) Publish(ctx context.Context, events ...Event) error {
	if len(events) == 0 {
		return nil
	}
	msgs := make([]kafka.Message, 0, len(events))
	for _, e := range events {
		body, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("marshal event %s: %w", e.ID, err)
		}
		msgs = append(msgs, kafka.Message{
			Key:   []byte(strconv.FormatInt(e.ProductID, 10)),
			Value: body,
			Headers: []kafka.Header{
				{Key: "event_id", Value: []byte(e.ID)},
				{Key: "op", Value: []byte(e.Op)},
			},
		})
	}
	if err := p.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("publish %d events: %w", len(msgs), err)
	}
	return nil
}
