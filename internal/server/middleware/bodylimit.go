package middleware

import "net/http"

// BodyLimit caps request bodies at maxBytes. Oversized bodies surface as a
// decode error in the handler, which maps them to 400. This is the first
// backpressure stage: a runaway client cannot buffer unbounded payloads into
// the process.
func BodyLimit(maxBytes int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Body != nil {
				r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			}
			next.ServeHTTP(w, r)
		})
	}
}
