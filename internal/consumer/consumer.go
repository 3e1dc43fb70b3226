// Package consumer reads canonical events from the usage-events topic and
// hands them to a Handler (the billing sink). Messages whose processing
// crashes are forwarded once to the dead-letter topic so the consumer keeps
// making progress without losing the offending record.
package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/otpless/usage-ingestion/internal/ingest/domain"
	"github.com/otpless/usage-ingestion/internal/metrics"
)

// Headers added to dead-letter messages, on top of the original message's own
// headers.
const (
	HeaderDLQError         = "error"
	HeaderDLQOriginalTopic = "originalTopic"
	HeaderDLQTimestamp     = "timestamp"
)

// Handler processes one canonical event. A returned error, or a panic, counts
// as a processing crash and routes the message to the DLQ.
type Handler interface {
	Handle(ctx context.Context, ev *domain.Event) error
}

// fetcher abstracts kafka.Reader so tests can drive the loop without a
// broker.
type fetcher interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// dlqWriter abstracts the dead-letter kafka.Writer.
type dlqWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Consumer is the usage-events consumer loop with DLQ routing.
type Consumer struct {
	reader  fetcher
	dlq     dlqWriter
	handler Handler
	topic   string
	metrics *metrics.Metrics
	nowFn   func() time.Time
}

// New creates a Consumer in the given consumer group. Offsets are committed
// explicitly after each message is either handled or dead-lettered, which
// gives at-least-once semantics: a crash between handling and commit results
// in redelivery, never loss.
func New(brokers []string, topic, dlqTopic, groupID string, h Handler, m *metrics.Metrics) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		Topic:          topic,
		GroupID:        groupID,
		MinBytes:       1,
		MaxBytes:       10e6, // 10MB
		MaxWait:        1 * time.Second,
		CommitInterval: 0, // explicit commits only
	})
	dlq := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        dlqTopic,
		Balancer:     &kafka.LeastBytes{},
		RequiredAcks: kafka.RequireOne,
	}
	return &Consumer{
		reader:  reader,
		dlq:     dlq,
		handler: h,
		topic:   topic,
		metrics: m,
		nowFn:   time.Now,
	}
}

// Run blocks, consuming messages until ctx is cancelled.
func (c *Consumer) Run(ctx context.Context) error {
	log.Printf("consumer: consuming from topic %q", c.topic)
	for {
		m, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("consumer: fetch: %w", err)
		}

		if err := c.process(ctx, m); err != nil {
			c.forwardToDLQ(ctx, m, err)
		}

		// Commit regardless of outcome so a poison message cannot wedge the
		// partition; the failed copy lives on the DLQ.
		if err := c.reader.CommitMessages(ctx, m); err != nil {
			log.Printf("consumer: commit failed (message may be redelivered): %v", err)
		}
	}
}

// process decodes and handles one message, converting handler panics into
// errors so a crash on one message never takes the loop down.
func (c *Consumer) process(ctx context.Context, m kafka.Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("consumer: handler panic: %v", r)
		}
	}()
	var ev domain.Event
	if err := json.Unmarshal(m.Value, &ev); err != nil {
		return fmt.Errorf("consumer: unmarshal event: %w", err)
	}
	return c.handler.Handle(ctx, &ev)
}

// forwardToDLQ writes the exact message (key, value, original headers) to the
// dead-letter topic with added error, originalTopic, and timestamp headers.
// A failed forward is logged and not retried; this is the accepted loss
// point.
func (c *Consumer) forwardToDLQ(ctx context.Context, m kafka.Message, cause error) {
	headers := append([]kafka.Header(nil), m.Headers...)
	headers = append(headers,
		kafka.Header{Key: HeaderDLQError, Value: []byte(cause.Error())},
		kafka.Header{Key: HeaderDLQOriginalTopic, Value: []byte(c.topic)},
		kafka.Header{Key: HeaderDLQTimestamp, Value: []byte(c.nowFn().UTC().Format(time.RFC3339Nano))},
	)
	out := kafka.Message{Key: m.Key, Value: m.Value, Headers: headers}
	if err := c.dlq.WriteMessages(ctx, out); err != nil {
		log.Printf("consumer: DLQ forward failed for key %s, message dropped: %v", string(m.Key), err)
		return
	}
	if c.metrics != nil {
		c.metrics.DLQMessages.Inc()
	}
	log.Printf("consumer: routed message key=%s to DLQ: %v", string(m.Key), cause)
}

// Close releases the reader and DLQ writer.
func (c *Consumer) Close() error {
	rerr := c.reader.Close()
	werr := c.dlq.Close()
	if rerr != nil {
		return rerr
	}
	return werr
}
