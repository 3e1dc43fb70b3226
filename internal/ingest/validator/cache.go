package validator

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/otpless/usage-ingestion/internal/ingest/domain"
)

// Fingerprint derives a stable digest of the normalized request content.
// Identical submissions (after trimming and case folding) map to the same
// fingerprint regardless of metadata, which is opaque to validation.
func Fingerprint(raw *domain.RawEvent) string {
	if raw == nil {
		return ""
	}
	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|%s|%d",
		strings.TrimSpace(raw.AccountID),
		strings.ToUpper(strings.TrimSpace(raw.Type)),
		strings.TrimSpace(raw.Timestamp),
		raw.Quantity,
	)
	return hex.EncodeToString(h.Sum(nil))
}

type verdictEntry struct {
	verdict   *domain.ValidationError // nil means the event validated cleanly
	expiresAt time.Time
}

// verdictCache memoizes validation outcomes for a short TTL. Process-local:
// a stale verdict can only live for the TTL and validation rules are pure,
// except for the now-bound timestamp check, which the short TTL bounds.
type verdictCache struct {
	mu    sync.RWMutex
	m     map[string]verdictEntry
	ttl   time.Duration
	nowFn func() time.Time
}

func newVerdictCache(ttl time.Duration) *verdictCache {
	return &verdictCache{
		m:     make(map[string]verdictEntry),
		ttl:   ttl,
		nowFn: time.Now,
	}
}

func (c *verdictCache) get(fp string) (*domain.ValidationError, bool) {
	if c.ttl <= 0 || fp == "" {
		return nil, false
	}
	c.mu.RLock()
	e, ok := c.m[fp]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if !e.expiresAt.After(c.nowFn()) {
		c.mu.Lock()
		delete(c.m, fp)
		c.mu.Unlock()
		return nil, false
	}
	return e.verdict, true
}

func (c *verdictCache) put(fp string, verdict *domain.ValidationError) {
	if c.ttl <= 0 || fp == "" {
		return
	}
	now := c.nowFn()
	c.mu.Lock()
	// Opportunistic sweep so the map does not grow without bound between
	// bursts; entries are few and short-lived.
	if len(c.m) > 4096 {
		for k, e := range c.m {
			if !e.expiresAt.After(now) {
				delete(c.m, k)
			}
		}
	}
	c.m[fp] = verdictEntry{verdict: verdict, expiresAt: now.Add(c.ttl)}
	c.mu.Unlock()
}
