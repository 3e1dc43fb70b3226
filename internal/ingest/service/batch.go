package service

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/otpless/usage-ingestion/internal/ingest/domain"
)

// itemOutcome is the per-event result of the scatter phase, indexed by the
// event's position in the input so aggregation is deterministic regardless of
// completion order.
type itemOutcome struct {
	event   *domain.Event
	invalid *domain.ValidationError
}

// ProcessBatch validates and transforms all events concurrently, then
// publishes the survivors as a single batch send.
//
// The call is rejected outright with *domain.BatchSizeError when the input
// exceeds the batch cap, before any event is touched. Each event's validation
// outcome is independent; one invalid event never aborts the batch. The batch
// publish is coarse-grained: if it fails, every transformed event in the
// batch counts as failed, with no per-event retry or split at this layer.
//
// Invariant: SuccessCount + FailureCount == len(raws).
func (p *Pipeline) ProcessBatch(ctx context.Context, raws []*domain.RawEvent) (*domain.ProcessingResult, error) {
	if len(raws) > p.maxBatchSize {
		return nil, &domain.BatchSizeError{Size: len(raws), Max: p.maxBatchSize}
	}
	start := time.Now()
	result := &domain.ProcessingResult{Errors: []domain.EventError{}}
	if len(raws) == 0 {
		result.ProcessingTimeMs = time.Since(start).Milliseconds()
		return result, nil
	}

	// Scatter: validate and transform every event with bounded concurrency.
	// Outcomes land in a positional slice, so no locking is needed and
	// aggregation below is deterministic.
	outcomes := make([]itemOutcome, len(raws))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.batchConcurrency)
	for i, raw := range raws {
		g.Go(func() error {
			if gctx.Err() != nil {
				outcomes[i].invalid = &domain.ValidationError{
					Code:    domain.CodeInvalidSchema,
					Field:   "event",
					Details: "batch cancelled before validation",
				}
				return nil
			}
			itemStart := time.Now()
			if verr := p.validator.Validate(raw); verr != nil {
				outcomes[i].invalid = verr
				return nil
			}
			outcomes[i].event = p.normalizer.Transform(raw, time.Since(itemStart))
			return nil
		})
	}
	_ = g.Wait() // tasks record outcomes instead of returning errors

	// Gather: split valid from invalid, preserving input positions.
	var (
		events  []*domain.Event
		indices []int
	)
	for i, out := range outcomes {
		if out.invalid != nil {
			result.FailureCount++
			result.Errors = append(result.Errors, domain.EventError{Index: i, Error: out.invalid.Error()})
			continue
		}
		events = append(events, out.event)
		indices = append(indices, i)
	}

	if len(events) > 0 {
		err := p.breaker.Execute(ctx, func(ctx context.Context) error {
			return p.pub.PublishBatch(ctx, events)
		})
		if err != nil {
			// The whole transformed sub-batch fails together.
			result.FailureCount += len(events)
			for _, idx := range indices {
				result.Errors = append(result.Errors, domain.EventError{Index: idx, Error: err.Error()})
			}
		} else {
			result.SuccessCount = len(events)
		}
	}

	result.ProcessingTimeMs = time.Since(start).Milliseconds()
	return result, nil
}

// MaxBatchSize exposes the configured batch cap for handler error messages.
func (p *Pipeline) MaxBatchSize() int { return p.maxBatchSize }

// BreakerOpen reports whether the pipeline's breaker is open. Used by the
// health endpoint.
func (p *Pipeline) BreakerOpen() bool { return p.breaker.IsOpen() }
