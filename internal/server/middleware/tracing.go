package middleware

import (
	"fmt"
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// Tracing opens a span per request on the global tracer provider. With no
// OTLP endpoint configured the provider is a no-op and this costs nothing.
func Tracing(next http.Handler) http.Handler {
	tracer := otel.Tracer("usage-ingestion/http")
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), r.Method+" "+r.URL.Path)
		defer span.End()

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r.WithContext(ctx))

		span.SetAttributes(
			attribute.String("http.method", r.Method),
			attribute.String("http.target", r.URL.Path),
			attribute.Int("http.status_code", rec.status),
			attribute.String("request.id", GetRequestID(ctx)),
		)
		if rec.status >= 500 {
			span.SetStatus(codes.Error, fmt.Sprintf("status %d", rec.status))
		}
	})
}
