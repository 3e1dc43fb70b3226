// Package idempotency deduplicates client retries. Results of successfully
// processed requests are stored under the caller-supplied idempotency key and
// replayed verbatim, without re-validating or re-publishing, for the TTL.
package idempotency

import (
	"context"
	"time"
)

// CachedResult is the previously computed response for an idempotency key.
// Body is replayed byte-for-byte so retried clients observe an identical
// response.
type CachedResult struct {
	Status   int       `json:"status"`
	Body     []byte    `json:"body"`
	StoredAt time.Time `json:"storedAt"`
}

// Store persists idempotency results with a TTL.
//
// Known gap: Lookup followed by Put is not atomic across truly concurrent
// callers sharing a key — two requests can both miss and both publish. The
// TTL-bounded replay guarantee holds only when no second request with the
// same key is mid-flight.
type Store interface {
	// Lookup returns the cached result for key, or (nil, nil) on a miss.
	Lookup(ctx context.Context, key string) (*CachedResult, error)
	// Put stores the result for key with the store's configured TTL. Called
	// only after successful processing.
	Put(ctx context.Context, key string, res *CachedResult) error
}
