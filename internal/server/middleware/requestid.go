// Package middleware holds the HTTP cross-cutting wrappers (request id, body
// cap, auth, rate limiting, metrics, audit). They are explicit, composable
// handlers; internal/server registers them in a fixed, documented order.
package middleware

import (
	"context"
	"net"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

// HeaderRequestID is echoed on every response.
const HeaderRequestID = "x-request-id"

type ctxKey int

const requestIDKey ctxKey = iota

// RequestID ensures every request carries an id: the caller's x-request-id
// when present, a fresh uuid otherwise. The id is echoed in the response
// header and stored in the request context.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(HeaderRequestID))
		if id == "" {
			id = uuid.New().String()
		}
		w.Header().Set(HeaderRequestID, id)
		ctx := context.WithValue(r.Context(), requestIDKey, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetRequestID returns the request id stored by RequestID, or "".
func GetRequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// ClientIP returns the caller's IP, honoring x-forwarded-for and x-real-ip
// set by the load balancer, falling back to the connection's remote address.
func ClientIP(r *http.Request) string {
	if v := strings.TrimSpace(r.Header.Get("x-forwarded-for")); v != "" {
		if i := strings.Index(v, ","); i > 0 {
			v = strings.TrimSpace(v[:i])
		}
		if v != "" {
			return v
		}
	}
	if v := strings.TrimSpace(r.Header.Get("x-real-ip")); v != "" {
		return v
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
