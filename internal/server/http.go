// Package server assembles the chi router for the ingestion API.
package server

import (
	"crypto"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/otpless/usage-ingestion/internal/audit"
	"github.com/otpless/usage-ingestion/internal/ingest/handler"
	"github.com/otpless/usage-ingestion/internal/metrics"
	"github.com/otpless/usage-ingestion/internal/server/middleware"
)

// Deps holds everything the router needs. Optional fields may be nil/zero and
// the corresponding middleware becomes a pass-through.
type Deps struct {
	Handler     *handler.Handler
	Metrics     *metrics.Metrics
	AuditLogger *audit.Logger
	RateLimiter *middleware.RateLimiter
	AuthKey     crypto.PublicKey
	MaxBody     int64
}

// NewRouter builds the HTTP router with the cross-cutting middleware applied
// in a fixed order: request-id → tracing → body cap → auth → rate limit →
// metrics → audit → handler. The order is part of the contract: the body cap must
// precede any decode, the limiter must see authenticated traffic, and metrics
// must observe limiter rejections' downstream effects but not produce them.
func NewRouter(d Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.Tracing)
	if d.MaxBody > 0 {
		r.Use(middleware.BodyLimit(d.MaxBody))
	}

	r.Get("/health", d.Handler.Health)
	if d.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", d.Metrics.Handler())
	}

	r.Group(func(r chi.Router) {
		r.Use(middleware.Auth(d.AuthKey))
		if d.RateLimiter != nil {
			r.Use(d.RateLimiter.Handler)
		}
		if d.Metrics != nil {
			r.Use(middleware.Metrics(d.Metrics))
		}
		r.Use(middleware.Audit(d.AuditLogger))

		r.Post("/event", d.Handler.ProcessEvent)
		r.Post("/events/batch", d.Handler.ProcessBatch)
	})

	return r
}
