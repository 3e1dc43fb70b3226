// Package breaker provides the circuit breaker that wraps every publisher
// call. It fails fast once the downstream broker's failure ratio crosses a
// threshold, instead of letting every request wait out a broker timeout.
package breaker

import (
	"context"
	"sync"
	"time"

	"github.com/otpless/usage-ingestion/internal/ingest/domain"
)

// State labels for observability.
const (
	StateClosed = "CLOSED"
	StateOpen   = "OPEN"
)

// Breaker tracks cumulative failure/total counts for publisher calls and
// flips between CLOSED and OPEN. A single process-wide instance is created at
// startup and injected into the pipeline; it is never persisted.
//
// The failure ratio is cumulative over the breaker's lifetime, not a rolling
// window. Counters reset only on the OPEN→CLOSED transition.
type Breaker struct {
	mu          sync.Mutex
	failures    int64
	total       int64
	isOpen      bool
	lastCheckAt time.Time

	ratio       float64
	cooldown    time.Duration
	callTimeout time.Duration
	nowFn       func() time.Time
}

// Option configures a Breaker.
type Option func(*Breaker)

// WithClock overrides the clock, for tests.
func WithClock(now func() time.Time) Option {
	return func(b *Breaker) { b.nowFn = now }
}

// New returns a closed Breaker. ratio is the failure fraction (0..1] above
// which the breaker opens; cooldown is how long the breaker stays open before
// the next call is allowed to reset it; callTimeout bounds each wrapped call.
func New(ratio float64, cooldown, callTimeout time.Duration, opts ...Option) *Breaker {
	b := &Breaker{
		ratio:       ratio,
		cooldown:    cooldown,
		callTimeout: callTimeout,
		nowFn:       time.Now,
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Execute runs fn under the breaker. When the breaker is OPEN and the
// cooldown has not elapsed, Execute returns *domain.CircuitOpenError without
// invoking fn. When the cooldown has elapsed, the breaker resets to CLOSED
// and that single call proceeds; there is no half-open trial state.
//
// fn runs with a context bounded by the configured call timeout. Every
// invocation outcome is recorded; callers must only route transport-level
// work through Execute, never business validation.
func (b *Breaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := b.allow(); err != nil {
		return err
	}

	callCtx := ctx
	if b.callTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, b.callTimeout)
		defer cancel()
	}

	err := fn(callCtx)
	b.record(err)
	return err
}

func (b *Breaker) allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.isOpen {
		return nil
	}
	now := b.nowFn()
	elapsed := now.Sub(b.lastCheckAt)
	if elapsed < b.cooldown {
		return &domain.CircuitOpenError{RetryAfter: b.cooldown - elapsed}
	}
	// Cooldown elapsed: reset and let this call through.
	b.isOpen = false
	b.failures = 0
	b.total = 0
	return nil
}

func (b *Breaker) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.total++
	if err != nil {
		b.failures++
	}
	if b.total > 0 && float64(b.failures)/float64(b.total) > b.ratio {
		b.isOpen = true
		b.lastCheckAt = b.nowFn()
	}
}

// IsOpen reports whether the breaker is currently OPEN. Used by the health
// endpoint and the breaker state gauge.
func (b *Breaker) IsOpen() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.isOpen
}

// State returns CLOSED or OPEN.
func (b *Breaker) State() string {
	if b.IsOpen() {
		return StateOpen
	}
	return StateClosed
}

// Counts returns the cumulative failure and total call counts.
func (b *Breaker) Counts() (failures, total int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures, b.total
}
