package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/otpless/usage-ingestion/internal/breaker"
	"github.com/otpless/usage-ingestion/internal/idempotency"
	"github.com/otpless/usage-ingestion/internal/ingest/domain"
	"github.com/otpless/usage-ingestion/internal/ingest/normalizer"
	"github.com/otpless/usage-ingestion/internal/ingest/service"
	"github.com/otpless/usage-ingestion/internal/ingest/validator"
)

type stubPublisher struct {
	mu         sync.Mutex
	publishes  int
	batches    int
	publishErr error
}

func (s *stubPublisher) Publish(ctx context.Context, ev *domain.Event, idempotencyKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.publishErr != nil {
		return s.publishErr
	}
	s.publishes++
	return nil
}

func (s *stubPublisher) PublishBatch(ctx context.Context, evs []*domain.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.publishErr != nil {
		return s.publishErr
	}
	s.batches++
	return nil
}

func (s *stubPublisher) Close() error { return nil }

type testEnv struct {
	handler *Handler
	pub     *stubPublisher
	breaker *breaker.Breaker
	idem    *idempotency.MemoryStore
}

func newTestEnv(production bool) *testEnv {
	pub := &stubPublisher{}
	br := breaker.New(1, 30*time.Second, 0)
	pipe := service.New(validator.New(0), normalizer.New(), pub, br, service.Options{MaxBatchSize: 100})
	idem := idempotency.NewMemoryStore(5 * time.Minute)
	return &testEnv{
		handler: New(pipe, idem, nil, production),
		pub:     pub,
		breaker: br,
		idem:    idem,
	}
}

func eventBody(t *testing.T) []byte {
	t.Helper()
	body, err := json.Marshal(map[string]any{
		"accountId": uuid.New().String(),
		"type":      "sms",
		"timestamp": "2025-05-01T10:00:00Z",
		"quantity":  3,
	})
	if err != nil {
		t.Fatal(err)
	}
	return body
}

func TestProcessEvent_Accepted(t *testing.T) {
	env := newTestEnv(false)

	req := httptest.NewRequest(http.MethodPost, "/event", bytes.NewReader(eventBody(t)))
	rec := httptest.NewRecorder()
	env.handler.ProcessEvent(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var ack domain.Ack
	if err := json.Unmarshal(rec.Body.Bytes(), &ack); err != nil {
		t.Fatalf("decode ack: %v", err)
	}
	if ack.Status != "accepted" {
		t.Errorf("status = %q, want accepted", ack.Status)
	}
	if _, err := uuid.Parse(ack.EventID); err != nil {
		t.Errorf("eventId = %q, want UUID", ack.EventID)
	}
	if env.pub.publishes != 1 {
		t.Errorf("publishes = %d, want 1", env.pub.publishes)
	}
}

func TestProcessEvent_InvalidBody(t *testing.T) {
	env := newTestEnv(false)

	req := httptest.NewRequest(http.MethodPost, "/event", strings.NewReader("{not json"))
	rec := httptest.NewRecorder()
	env.handler.ProcessEvent(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	var verr domain.ValidationError
	if err := json.Unmarshal(rec.Body.Bytes(), &verr); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if verr.Code != domain.CodeInvalidSchema {
		t.Errorf("code = %q, want %q", verr.Code, domain.CodeInvalidSchema)
	}
}

func TestProcessEvent_ValidationError(t *testing.T) {
	env := newTestEnv(false)

	body, _ := json.Marshal(map[string]any{
		"accountId": uuid.New().String(),
		"type":      "sms",
		"timestamp": "2025-05-01T10:00:00Z",
		"quantity":  0,
	})
	req := httptest.NewRequest(http.MethodPost, "/event", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	env.handler.ProcessEvent(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	var verr domain.ValidationError
	_ = json.Unmarshal(rec.Body.Bytes(), &verr)
	if verr.Code != domain.CodeInvalidQuantity {
		t.Errorf("code = %q, want %q", verr.Code, domain.CodeInvalidQuantity)
	}
	if env.pub.publishes != 0 {
		t.Error("invalid event must not publish")
	}
}

func TestProcessEvent_IdempotentReplay(t *testing.T) {
	env := newTestEnv(false)
	body := eventBody(t)

	first := httptest.NewRequest(http.MethodPost, "/event", bytes.NewReader(body))
	first.Header.Set(HeaderIdempotencyKey, "key-1")
	rec1 := httptest.NewRecorder()
	env.handler.ProcessEvent(rec1, first)
	if rec1.Code != http.StatusOK {
		t.Fatalf("first status = %d", rec1.Code)
	}

	second := httptest.NewRequest(http.MethodPost, "/event", bytes.NewReader(body))
	second.Header.Set(HeaderIdempotencyKey, "key-1")
	rec2 := httptest.NewRecorder()
	env.handler.ProcessEvent(rec2, second)

	if rec2.Code != http.StatusOK {
		t.Fatalf("replay status = %d", rec2.Code)
	}
	if !bytes.Equal(rec1.Body.Bytes(), rec2.Body.Bytes()) {
		t.Error("replay must return the stored response byte-for-byte")
	}
	if env.pub.publishes != 1 {
		t.Errorf("publishes = %d, want 1 (replay must not re-publish)", env.pub.publishes)
	}
}

func TestProcessEvent_FailureNotCached(t *testing.T) {
	env := newTestEnv(false)
	env.pub.publishErr = &domain.PublishError{Err: errors.New("broker down")}

	req := httptest.NewRequest(http.MethodPost, "/event", bytes.NewReader(eventBody(t)))
	req.Header.Set(HeaderIdempotencyKey, "key-1")
	rec := httptest.NewRecorder()
	env.handler.ProcessEvent(rec, req)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}

	// The same key retried after the broker recovers must process normally.
	env.pub.publishErr = nil
	retry := httptest.NewRequest(http.MethodPost, "/event", bytes.NewReader(eventBody(t)))
	retry.Header.Set(HeaderIdempotencyKey, "key-1")
	rec2 := httptest.NewRecorder()
	env.handler.ProcessEvent(rec2, retry)
	if rec2.Code != http.StatusOK {
		t.Errorf("retry status = %d, want 200", rec2.Code)
	}
	if env.pub.publishes != 1 {
		t.Errorf("publishes = %d, want 1", env.pub.publishes)
	}
}

func TestProcessEvent_CircuitOpen(t *testing.T) {
	pub := &stubPublisher{}
	br := breaker.New(0.5, 30*time.Second, 0)
	pipe := service.New(validator.New(0), normalizer.New(), pub, br, service.Options{})
	h := New(pipe, nil, nil, false)
	_ = br.Execute(context.Background(), func(ctx context.Context) error {
		return errors.New("broker down")
	})

	req := httptest.NewRequest(http.MethodPost, "/event", bytes.NewReader(eventBody(t)))
	rec := httptest.NewRecorder()
	h.ProcessEvent(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("503 must carry Retry-After")
	}
	var resp map[string]string
	_ = json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp["code"] != "CIRCUIT_OPEN" {
		t.Errorf("code = %q, want CIRCUIT_OPEN", resp["code"])
	}
}

func TestProcessEvent_ProductionRedacts500(t *testing.T) {
	env := newTestEnv(true)
	env.pub.publishErr = &domain.PublishError{Err: errors.New("broker secret detail")}

	req := httptest.NewRequest(http.MethodPost, "/event", bytes.NewReader(eventBody(t)))
	rec := httptest.NewRecorder()
	env.handler.ProcessEvent(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "secret") {
		t.Error("production 500 body must not leak error details")
	}
}

func TestProcessBatch_OK(t *testing.T) {
	env := newTestEnv(false)

	events := make([]map[string]any, 5)
	for i := range events {
		events[i] = map[string]any{
			"accountId": uuid.New().String(),
			"type":      "Email",
			"timestamp": "2025-05-01T10:00:00Z",
			"quantity":  i + 1,
		}
	}
	events[2]["quantity"] = 0
	body, _ := json.Marshal(map[string]any{"events": events})

	req := httptest.NewRequest(http.MethodPost, "/events/batch", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	env.handler.ProcessBatch(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Success        int      `json:"success"`
		Failures       int      `json:"failures"`
		Errors         []string `json:"errors"`
		ProcessingTime int64    `json:"processingTime"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Success != 4 || resp.Failures != 1 {
		t.Errorf("success/failures = %d/%d, want 4/1", resp.Success, resp.Failures)
	}
	if len(resp.Errors) != 1 || !strings.HasPrefix(resp.Errors[0], "event 2:") {
		t.Errorf("errors = %v, want one entry for event 2", resp.Errors)
	}
}

func TestProcessBatch_Oversized(t *testing.T) {
	env := newTestEnv(false)

	events := make([]map[string]any, 150)
	for i := range events {
		events[i] = map[string]any{
			"accountId": uuid.New().String(),
			"type":      "sms",
			"timestamp": "2025-05-01T10:00:00Z",
			"quantity":  1,
		}
	}
	body, _ := json.Marshal(map[string]any{"events": events})

	req := httptest.NewRequest(http.MethodPost, "/events/batch", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	env.handler.ProcessBatch(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	var resp map[string]string
	_ = json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp["code"] != "BATCH_SIZE_EXCEEDED" {
		t.Errorf("code = %q, want BATCH_SIZE_EXCEEDED", resp["code"])
	}
	if resp["details"] != "Invalid batch size. Maximum allowed: 100" {
		t.Errorf("details = %q", resp["details"])
	}
	if env.pub.batches != 0 {
		t.Error("oversized batch must not publish")
	}
}

func TestHealth(t *testing.T) {
	env := newTestEnv(false)

	rec := httptest.NewRecorder()
	env.handler.Health(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestHealth_BreakerOpen(t *testing.T) {
	pub := &stubPublisher{}
	br := breaker.New(0.5, 30*time.Second, 0)
	pipe := service.New(validator.New(0), normalizer.New(), pub, br, service.Options{})
	h := New(pipe, nil, nil, false)

	_ = br.Execute(context.Background(), func(ctx context.Context) error {
		return fmt.Errorf("broker down")
	})

	rec := httptest.NewRecorder()
	h.Health(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503 while the breaker is open", rec.Code)
	}
}
