// Package publisher sends canonical events to the durable usage-events log.
package publisher

import (
	"context"

	"github.com/otpless/usage-ingestion/internal/ingest/domain"
)

// Publisher delivers canonical events to the primary topic. Implementations
// provide at-least-once delivery; downstream consumers dedup by event id.
type Publisher interface {
	// Publish sends one event keyed accountID|eventID. idempotencyKey, when
	// non-empty, is carried as a message header for downstream dedup.
	Publish(ctx context.Context, ev *domain.Event, idempotencyKey string) error
	// PublishBatch sends all events as a single batch write. The write either
	// lands as a whole or fails as a whole from the caller's point of view.
	PublishBatch(ctx context.Context, evs []*domain.Event) error
	// Close flushes and releases the underlying writer.
	Close() error
}
