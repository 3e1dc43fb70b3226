// Package normalizer turns validated raw payloads into canonical events.
// It must only be called on payloads that already passed the validator; it
// does not re-validate.
package normalizer

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/otpless/usage-ingestion/internal/ingest/domain"
)

// createdBy is stamped into AuditInfo for events normalized by this service.
const createdBy = "usage-ingestion"

// Normalizer builds canonical events from validated raw payloads.
type Normalizer struct {
	nowFn func() time.Time
	idFn  func() string
}

// New returns a Normalizer using the real clock and uuid generator.
func New() *Normalizer {
	return &Normalizer{
		nowFn: time.Now,
		idFn:  func() string { return uuid.New().String() },
	}
}

// Transform produces the canonical Event for raw: sanitized accountId,
// uppercased type, RFC 3339 UTC timestamp, coerced quantity, a fresh
// identity, and stamped audit/performance metadata. validationTime is
// recorded in the event's Performance block.
func (n *Normalizer) Transform(raw *domain.RawEvent, validationTime time.Duration) *domain.Event {
	start := n.nowFn()

	// The validator guarantees this parses.
	ts, _ := time.Parse(time.RFC3339, strings.TrimSpace(raw.Timestamp))

	ev := &domain.Event{
		ID:        n.idFn(),
		AccountID: SanitizeAccountID(raw.AccountID),
		Type:      strings.ToUpper(strings.TrimSpace(raw.Type)),
		Timestamp: ts.UTC(),
		Quantity:  raw.Quantity,
		Metadata:  raw.Metadata,
		AuditInfo: domain.AuditInfo{
			CreatedAt: start.UTC(),
			CreatedBy: createdBy,
			Version:   domain.SchemaVersion,
		},
	}
	ev.Performance = domain.Performance{
		ValidationTimeMs: validationTime.Milliseconds(),
		ProcessingTimeMs: n.nowFn().Sub(start).Milliseconds(),
	}
	return ev
}

// SanitizeAccountID trims whitespace and strips characters outside the UUID
// alphabet before the account id is stored or used as a partition key.
func SanitizeAccountID(s string) string {
	s = strings.TrimSpace(s)
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9', r >= 'a' && r <= 'f', r >= 'A' && r <= 'F', r == '-':
			b.WriteRune(r)
		}
	}
	return strings.ToLower(b.String())
}
