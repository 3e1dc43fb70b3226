package domain

import (
	"fmt"
	"time"
)

// Validation error codes, one per rule in the validator's rule table.
const (
	CodeInvalidSchema    = "INVALID_SCHEMA"
	CodeInvalidAccount   = "INVALID_ACCOUNT"
	CodeInvalidTimestamp = "INVALID_TIMESTAMP"
	CodeInvalidType      = "INVALID_TYPE"
	CodeInvalidQuantity  = "INVALID_QUANTITY"
)

// ValidationError is a terminal, client-fault error. It is never retried and
// in batch mode is isolated to the offending event.
type ValidationError struct {
	Code    string `json:"code"`
	Field   string `json:"field"`
	Details string `json:"details"`
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %s (%s): %s", e.Code, e.Field, e.Details)
}

// CircuitOpenError is returned when the breaker rejects a call without
// invoking the publisher. Callers should back off until the cooldown elapses.
type CircuitOpenError struct {
	RetryAfter time.Duration
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("circuit breaker open, retry after %s", e.RetryAfter)
}

// PublishError wraps a transport/broker failure. Retryable by the caller up
// to the configured retry budget.
type PublishError struct {
	Err error
}

func (e *PublishError) Error() string { return "publish failed: " + e.Err.Error() }
func (e *PublishError) Unwrap() error { return e.Err }

// RateLimitError is returned when a caller exceeds its per-window budget.
type RateLimitError struct {
	AccountID string
}

func (e *RateLimitError) Error() string {
	return "rate limit exceeded for " + e.AccountID
}

// BatchSizeError rejects an oversized batch before any event is touched.
type BatchSizeError struct {
	Size int
	Max  int
}

func (e *BatchSizeError) Error() string {
	return fmt.Sprintf("Invalid batch size. Maximum allowed: %d", e.Max)
}
