// Package handler exposes the ingestion HTTP operations and maps pipeline
// errors to wire-level responses.
package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/otpless/usage-ingestion/internal/idempotency"
	"github.com/otpless/usage-ingestion/internal/ingest/domain"
	"github.com/otpless/usage-ingestion/internal/ingest/normalizer"
	"github.com/otpless/usage-ingestion/internal/ingest/service"
	"github.com/otpless/usage-ingestion/internal/metrics"
	"github.com/otpless/usage-ingestion/internal/server/middleware"
)

// HeaderIdempotencyKey is the caller-supplied dedup key.
const HeaderIdempotencyKey = "x-idempotency-key"

// Handler holds dependencies for the ingestion endpoints.
type Handler struct {
	pipeline   *service.Pipeline
	idem       idempotency.Store
	metrics    *metrics.Metrics
	production bool
}

// New creates a Handler. idem may be nil to disable idempotency lookups
// (tests); metrics may be nil. production controls whether 5xx bodies are
// redacted.
func New(p *service.Pipeline, idem idempotency.Store, m *metrics.Metrics, production bool) *Handler {
	return &Handler{pipeline: p, idem: idem, metrics: m, production: production}
}

// batchRequest is the wire shape of POST /events/batch.
type batchRequest struct {
	Events []*domain.RawEvent `json:"events"`
}

// batchResponse is the wire shape returned by POST /events/batch.
type batchResponse struct {
	Success        int      `json:"success"`
	Failures       int      `json:"failures"`
	Errors         []string `json:"errors"`
	ProcessingTime int64    `json:"processingTime"`
}

// ProcessEvent handles POST /event. With an x-idempotency-key header, a cache
// hit replays the stored response verbatim without re-validating or
// re-publishing; otherwise the event runs through the full pipeline and the
// response is cached on success.
func (h *Handler) ProcessEvent(w http.ResponseWriter, r *http.Request) {
	idemKey := strings.TrimSpace(r.Header.Get(HeaderIdempotencyKey))
	if idemKey != "" && h.idem != nil {
		cached, err := h.idem.Lookup(r.Context(), idemKey)
		if err != nil {
			log.Printf("handler: idempotency lookup failed, processing anyway: %v", err)
		} else if cached != nil {
			if h.metrics != nil {
				h.metrics.IdempotencyHits.Inc()
			}
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(cached.Status)
			_, _ = w.Write(cached.Body)
			return
		}
	}

	var raw domain.RawEvent
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		h.writeError(w, &domain.ValidationError{
			Code:    domain.CodeInvalidSchema,
			Field:   "body",
			Details: "request body must be a valid event JSON object",
		})
		return
	}
	middleware.SetAuditAccount(r.Context(), normalizer.SanitizeAccountID(raw.AccountID))

	ev, err := h.pipeline.ProcessEvent(r.Context(), &raw, idemKey)
	if err != nil {
		h.countEvent(raw.Type, "failure")
		h.writeError(w, err)
		return
	}
	h.countEvent(ev.Type, "success")

	ack := domain.Ack{
		EventID:   ev.ID,
		Status:    "accepted",
		Timestamp: ev.AuditInfo.CreatedAt.Format(time.RFC3339Nano),
	}
	body, _ := json.Marshal(ack)

	if idemKey != "" && h.idem != nil {
		// Stored only on success so failed requests can be retried with the
		// same key.
		res := &idempotency.CachedResult{Status: http.StatusOK, Body: body, StoredAt: time.Now().UTC()}
		if err := h.idem.Put(r.Context(), idemKey, res); err != nil {
			log.Printf("handler: idempotency store failed for key %q: %v", idemKey, err)
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

// ProcessBatch handles POST /events/batch.
func (h *Handler) ProcessBatch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, &domain.ValidationError{
			Code:    domain.CodeInvalidSchema,
			Field:   "body",
			Details: "request body must be {\"events\": [...]}",
		})
		return
	}
	if len(req.Events) > 0 {
		middleware.SetAuditAccount(r.Context(), normalizer.SanitizeAccountID(req.Events[0].AccountID))
	}

	result, err := h.pipeline.ProcessBatch(r.Context(), req.Events)
	if err != nil {
		h.writeError(w, err)
		return
	}

	if h.metrics != nil {
		h.metrics.EventsIngested.WithLabelValues("batch", "success").Add(float64(result.SuccessCount))
		h.metrics.EventsIngested.WithLabelValues("batch", "failure").Add(float64(result.FailureCount))
	}

	resp := batchResponse{
		Success:        result.SuccessCount,
		Failures:       result.FailureCount,
		Errors:         make([]string, 0, len(result.Errors)),
		ProcessingTime: result.ProcessingTimeMs,
	}
	for _, e := range result.Errors {
		resp.Errors = append(resp.Errors, fmt.Sprintf("event %d: %s", e.Index, e.Error))
	}
	writeJSON(w, http.StatusOK, resp)
}

// Health handles GET /health: 200 while the circuit breaker is CLOSED, 503
// once it opens.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if h.pipeline.BreakerOpen() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "unavailable",
			"reason": "circuit breaker open",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) countEvent(eventType, result string) {
	if h.metrics == nil {
		return
	}
	t := strings.ToUpper(strings.TrimSpace(eventType))
	if t == "" {
		t = "UNKNOWN"
	}
	h.metrics.EventsIngested.WithLabelValues(t, result).Inc()
}

// writeError maps the error taxonomy to wire responses. Validation and batch
// size errors are client faults (400); an open breaker maps to 503; publish
// and unexpected failures map to 500, with the body redacted in production.
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	var (
		verr *domain.ValidationError
		berr *domain.BatchSizeError
		oerr *domain.CircuitOpenError
		perr *domain.PublishError
	)
	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, verr)
	case errors.As(err, &berr):
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"code":    "BATCH_SIZE_EXCEEDED",
			"field":   "events",
			"details": berr.Error(),
		})
	case errors.As(err, &oerr):
		if h.metrics != nil {
			h.metrics.PublishFailures.Inc()
		}
		w.Header().Set("Retry-After", fmt.Sprintf("%d", int(oerr.RetryAfter.Seconds())+1))
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"code":    "CIRCUIT_OPEN",
			"details": "service temporarily unavailable, back off and retry",
		})
	case errors.As(err, &perr):
		if h.metrics != nil {
			h.metrics.PublishFailures.Inc()
		}
		h.writeInternal(w, perr)
	default:
		h.writeInternal(w, err)
	}
}

func (h *Handler) writeInternal(w http.ResponseWriter, err error) {
	log.Printf("handler: internal error: %v", err)
	if h.production {
		// Codes and fields stay stable for 4xx; 5xx bodies leak nothing.
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusInternalServerError, map[string]string{
		"code":    "PUBLISH_FAILED",
		"details": err.Error(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
