package publisher

import (
	"context"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/otpless/usage-ingestion/internal/ingest/domain"
)

// Message header names on the primary topic.
const (
	HeaderIdempotencyKey = "idempotency-key"
	HeaderEventType      = "event-type"
)

// KafkaPublisher implements Publisher using segmentio/kafka-go.
//
// The writer is configured for reliable delivery: acks from all replicas,
// bounded retries, compressed payloads, and a short linger so single-event
// sends still batch under load. The Hash balancer partitions by message key
// (accountID|eventID), which keeps each account's events ordered.
type KafkaPublisher struct {
	writer *kafka.Writer
}

// NewKafkaPublisher creates a publisher that writes usage events to topic.
// Call Close when shutting down.
func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		MaxAttempts:  3,
		BatchTimeout: 10 * time.Millisecond,
		Compression:  kafka.Snappy,
	}
	return &KafkaPublisher{writer: writer}
}

// Publish sends one event to the primary topic.
func (p *KafkaPublisher) Publish(ctx context.Context, ev *domain.Event, idempotencyKey string) error {
	msg, err := toMessage(ev, idempotencyKey)
	if err != nil {
		return err
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return &domain.PublishError{Err: err}
	}
	return nil
}

// PublishBatch sends all events as one write. kafka-go surfaces a single
// error for the whole call, matching the coarse-grained batch semantics: a
// failed batch send counts every event in it as failed.
func (p *KafkaPublisher) PublishBatch(ctx context.Context, evs []*domain.Event) error {
	if len(evs) == 0 {
		return nil
	}
	msgs := make([]kafka.Message, 0, len(evs))
	for _, ev := range evs {
		msg, err := toMessage(ev, "")
		if err != nil {
			return err
		}
		msgs = append(msgs, msg)
	}
	if err := p.writer.WriteMessages(ctx, msgs...); err != nil {
		return &domain.PublishError{Err: err}
	}
	return nil
}

// Close flushes pending messages and closes the writer.
func (p *KafkaPublisher) Close() error { return p.writer.Close() }

func toMessage(ev *domain.Event, idempotencyKey string) (kafka.Message, error) {
	value, err := ev.MarshalValue()
	if err != nil {
		return kafka.Message{}, err
	}
	headers := []kafka.Header{
		{Key: HeaderEventType, Value: []byte(ev.Type)},
	}
	if idempotencyKey != "" {
		headers = append(headers, kafka.Header{Key: HeaderIdempotencyKey, Value: []byte(idempotencyKey)})
	}
	return kafka.Message{
		Key:     []byte(ev.PartitionKey()),
		Value:   value,
		Headers: headers,
	}, nil
}
