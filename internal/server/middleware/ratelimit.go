package middleware

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter applies a token-bucket budget per caller. Buckets refill at
// eventsPerMinute/60 tokens a second and are keyed by client IP; callers that
// exhaust their bucket get 429 until tokens refill.
type RateLimiter struct {
	mu       sync.Mutex
	buckets  map[string]*bucket
	limit    rate.Limit
	burst    int
	onReject func()
	nowFn    func() time.Time
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter returns a limiter allowing eventsPerMinute requests per
// caller per minute. onReject, when non-nil, is called for each rejected
// request (metrics hook). Idle caller buckets are evicted lazily after ten
// minutes.
func NewRateLimiter(eventsPerMinute int, onReject func()) *RateLimiter {
	if eventsPerMinute <= 0 {
		eventsPerMinute = 1200
	}
	burst := eventsPerMinute / 10
	if burst < 1 {
		burst = 1
	}
	return &RateLimiter{
		buckets:  make(map[string]*bucket),
		limit:    rate.Limit(float64(eventsPerMinute) / 60.0),
		burst:    burst,
		onReject: onReject,
		nowFn:    time.Now,
	}
}

// Handler wraps next with the per-caller budget check.
func (rl *RateLimiter) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.Allow(ClientIP(r)) {
			if rl.onReject != nil {
				rl.onReject()
			}
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			_ = json.NewEncoder(w).Encode(map[string]string{
				"code":    "RATE_LIMITED",
				"details": "rate limit exceeded, slow down",
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Allow reports whether the caller identified by key has budget for one more
// request.
func (rl *RateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	b, ok := rl.buckets[key]
	if !ok {
		if len(rl.buckets) > 10000 {
			rl.evictIdleLocked()
		}
		b = &bucket{limiter: rate.NewLimiter(rl.limit, rl.burst)}
		rl.buckets[key] = b
	}
	b.lastSeen = rl.nowFn()
	rl.mu.Unlock()
	return b.limiter.Allow()
}

func (rl *RateLimiter) evictIdleLocked() {
	cutoff := rl.nowFn().Add(-10 * time.Minute)
	for k, b := range rl.buckets {
		if b.lastSeen.Before(cutoff) {
			delete(rl.buckets, k)
		}
	}
}
