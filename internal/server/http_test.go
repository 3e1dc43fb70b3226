package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/otpless/usage-ingestion/internal/breaker"
	"github.com/otpless/usage-ingestion/internal/idempotency"
	"github.com/otpless/usage-ingestion/internal/ingest/domain"
	"github.com/otpless/usage-ingestion/internal/ingest/handler"
	"github.com/otpless/usage-ingestion/internal/ingest/normalizer"
	"github.com/otpless/usage-ingestion/internal/ingest/service"
	"github.com/otpless/usage-ingestion/internal/ingest/validator"
	"github.com/otpless/usage-ingestion/internal/metrics"
	"github.com/otpless/usage-ingestion/internal/server/middleware"
)

type nopPublisher struct{}

func (nopPublisher) Publish(ctx context.Context, ev *domain.Event, idempotencyKey string) error {
	return nil
}
func (nopPublisher) PublishBatch(ctx context.Context, evs []*domain.Event) error { return nil }
func (nopPublisher) Close() error                                                { return nil }

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()
	br := breaker.New(0.5, 30*time.Second, 0)
	pipe := service.New(validator.New(0), normalizer.New(), nopPublisher{}, br, service.Options{MaxBatchSize: 100})
	m := metrics.New(br.IsOpen)
	h := handler.New(pipe, idempotency.NewMemoryStore(time.Minute), m, false)
	return NewRouter(Deps{
		Handler:     h,
		Metrics:     m,
		RateLimiter: middleware.NewRateLimiter(6000, m.RateLimited.Inc),
		MaxBody:     1 << 20,
	})
}

func postEvent(t *testing.T, router http.Handler) *httptest.ResponseRecorder {
	t.Helper()
	body, _ := json.Marshal(map[string]any{
		"accountId": uuid.New().String(),
		"type":      "sms",
		"timestamp": "2025-05-01T10:00:00Z",
		"quantity":  1,
	})
	req := httptest.NewRequest(http.MethodPost, "/event", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestRouter_PostEvent(t *testing.T) {
	rec := postEvent(t, newTestRouter(t))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if rec.Header().Get(middleware.HeaderRequestID) == "" {
		t.Error("response must carry x-request-id")
	}
}

func TestRouter_Health(t *testing.T) {
	router := newTestRouter(t)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestRouter_MetricsExposition(t *testing.T) {
	router := newTestRouter(t)
	postEvent(t, router)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "usage_ingestion_events_total") {
		t.Error("exposition should include the events counter")
	}
	if !strings.Contains(body, "usage_ingestion_breaker_open 0") {
		t.Error("exposition should include the breaker gauge at 0")
	}
}

func TestRouter_BodyCap(t *testing.T) {
	br := breaker.New(0.5, 30*time.Second, 0)
	pipe := service.New(validator.New(0), normalizer.New(), nopPublisher{}, br, service.Options{})
	h := handler.New(pipe, nil, nil, false)
	router := NewRouter(Deps{Handler: h, MaxBody: 64})

	big := `{"accountId":"` + strings.Repeat("a", 256) + `"}`
	req := httptest.NewRequest(http.MethodPost, "/event", strings.NewReader(big))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400 for an oversized body", rec.Code)
	}
}

func TestRouter_RateLimited(t *testing.T) {
	br := breaker.New(0.5, 30*time.Second, 0)
	pipe := service.New(validator.New(0), normalizer.New(), nopPublisher{}, br, service.Options{})
	h := handler.New(pipe, nil, nil, false)
	router := NewRouter(Deps{
		Handler:     h,
		RateLimiter: middleware.NewRateLimiter(10, nil), // burst 1
	})

	req := httptest.NewRequest(http.MethodPost, "/event", strings.NewReader("{}"))
	req.RemoteAddr = "10.0.0.9:1111"
	router.ServeHTTP(httptest.NewRecorder(), req)

	req = httptest.NewRequest(http.MethodPost, "/event", strings.NewReader("{}"))
	req.RemoteAddr = "10.0.0.9:2222"
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rec.Code)
	}
}

func TestRouter_HealthBypassesAuth(t *testing.T) {
	// An auth key on the group must not guard /health.
	br := breaker.New(0.5, 30*time.Second, 0)
	pipe := service.New(validator.New(0), normalizer.New(), nopPublisher{}, br, service.Options{})
	h := handler.New(pipe, nil, nil, false)

	key, err := middleware.ParsePublicKey(testPublicKeyPEM)
	if err != nil {
		t.Fatal(err)
	}
	router := NewRouter(Deps{Handler: h, AuthKey: key})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("health status = %d, want 200 without a token", rec.Code)
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/event", strings.NewReader("{}")))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("event status = %d, want 401 without a token", rec.Code)
	}
}

// testPublicKeyPEM is a throwaway 2048-bit RSA public key.
const testPublicKeyPEM = `-----BEGIN PUBLIC KEY-----
MIIBIjANBgkqhkiG9w0BAQEFAAOCAQ8AMIIBCgKCAQEA2FKqJGgNeSzWL5RanGoA
3kNt3DtW+086FIKGcSfbvAhBwo+cfyRts7iG4m0TKWmK9jjuQWAsH/v5+z9jRQ2F
FgUqhUBPPMqolgFvzzn627UUKd0OrLVZ0HAaw4XVwG0xbItyQzj43kpCwr/0ccwc
lABjmTd4p/CKPG2YR5bzCV+njjas5LRyIoKvwkCX5CyZzdXJ1GW4IilxOVEkC2/s
6RI86xpQ1cd037QJMf8tN0wWVpizsgCjnkMP/GrzTeNfh4UTIfKzZ/Bm3uTbJ8Kb
nYZqBIgH9+cyrpPo9Vf2Wid7fRRxWx7OqJLBkoW1UmY9ZL/SfsJtLbXhYapRk/N5
MQIDAQAB
-----END PUBLIC KEY-----`
