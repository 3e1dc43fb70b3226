// Package service orchestrates the ingestion pipeline: validation,
// normalization, and circuit-breaker-wrapped publishing, for both the
// single-event and batch paths.
package service

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/otpless/usage-ingestion/internal/breaker"
	"github.com/otpless/usage-ingestion/internal/ingest/domain"
	"github.com/otpless/usage-ingestion/internal/ingest/normalizer"
	"github.com/otpless/usage-ingestion/internal/ingest/validator"
	"github.com/otpless/usage-ingestion/internal/publisher"
)

// Pipeline wires the validator, normalizer, publisher, and breaker together.
// One instance serves all requests; all shared state lives in the injected
// collaborators.
type Pipeline struct {
	validator  *validator.Validator
	normalizer *normalizer.Normalizer
	pub        publisher.Publisher
	breaker    *breaker.Breaker

	maxBatchSize     int
	batchConcurrency int
	maxRetries       int
	baseDelay        time.Duration

	sleepFn func(ctx context.Context, d time.Duration) error
}

// Options bound the pipeline's batching and retry behavior.
type Options struct {
	// MaxBatchSize rejects larger batch calls before any event is touched.
	MaxBatchSize int
	// BatchConcurrency bounds the validate/transform fan-out within a batch.
	BatchConcurrency int
	// MaxRetries is the single-event publish retry budget.
	MaxRetries int
	// BaseDelay seeds the exponential backoff between publish retries.
	BaseDelay time.Duration
}

// New returns a Pipeline. Zero option fields fall back to safe defaults.
func New(v *validator.Validator, n *normalizer.Normalizer, pub publisher.Publisher, br *breaker.Breaker, opts Options) *Pipeline {
	if opts.MaxBatchSize <= 0 {
		opts.MaxBatchSize = 100
	}
	if opts.BatchConcurrency <= 0 {
		opts.BatchConcurrency = 16
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = 100 * time.Millisecond
	}
	return &Pipeline{
		validator:        v,
		normalizer:       n,
		pub:              pub,
		breaker:          br,
		maxBatchSize:     opts.MaxBatchSize,
		batchConcurrency: opts.BatchConcurrency,
		maxRetries:       opts.MaxRetries,
		baseDelay:        opts.BaseDelay,
		sleepFn:          sleepCtx,
	}
}

// ProcessEvent runs one raw event through validate → transform → publish.
// Validation failures are terminal and returned as *domain.ValidationError.
// Publish failures are retried up to the retry budget with exponential
// backoff, except when the circuit breaker is open, in which case the call
// fails immediately. The returned event is the canonical record that was
// published.
func (p *Pipeline) ProcessEvent(ctx context.Context, raw *domain.RawEvent, idempotencyKey string) (*domain.Event, error) {
	start := time.Now()
	if verr := p.validator.Validate(raw); verr != nil {
		return nil, verr
	}
	ev := p.normalizer.Transform(raw, time.Since(start))

	if err := p.publishWithRetry(ctx, ev, idempotencyKey); err != nil {
		return nil, err
	}
	return ev, nil
}

// publishWithRetry sends ev through the breaker, backing off baseDelay*2^n
// between attempts. A breaker-open rejection aborts the retry loop: retrying
// against an open breaker only burns the caller's latency budget.
func (p *Pipeline) publishWithRetry(ctx context.Context, ev *domain.Event, idempotencyKey string) error {
	var lastErr error
	for attempt := 0; attempt <= p.maxRetries; attempt++ {
		lastErr = p.breaker.Execute(ctx, func(ctx context.Context) error {
			return p.pub.Publish(ctx, ev, idempotencyKey)
		})
		if lastErr == nil {
			return nil
		}
		var open *domain.CircuitOpenError
		if errors.As(lastErr, &open) {
			return lastErr
		}
		if attempt == p.maxRetries {
			break
		}
		delay := p.baseDelay << uint(attempt)
		log.Printf("pipeline: publish attempt %d for event %s failed, retrying in %s: %v",
			attempt+1, ev.ID, delay, lastErr)
		if err := p.sleepFn(ctx, delay); err != nil {
			return lastErr
		}
	}
	log.Printf("pipeline: abandoning event %s after %d attempts: %v", ev.ID, p.maxRetries+1, lastErr)
	return lastErr
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
