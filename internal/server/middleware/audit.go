package middleware

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/otpless/usage-ingestion/internal/audit"
)

// auditAccountKey carries a per-request slot the handler fills with the
// sanitized account id once the payload has been parsed, so the audit entry
// can be attributed without re-reading the body here.
type auditAccountKey struct{}

// SetAuditAccount records the account id for the current request's audit
// entry. No-op when the audit middleware is not installed.
func SetAuditAccount(ctx context.Context, accountID string) {
	if slot, ok := ctx.Value(auditAccountKey{}).(*string); ok {
		*slot = accountID
	}
}

// auditWriteTimeout bounds the asynchronous audit write so a slow database
// cannot pile up goroutines.
const auditWriteTimeout = 5 * time.Second

// Audit records one audit entry per POST ingest request after the handler
// finishes. Writes happen in a goroutine with their own timeout; request
// cancellation does not abort an in-flight write.
func Audit(logger *audit.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if logger == nil || r.Method != http.MethodPost {
				next.ServeHTTP(w, r)
				return
			}
			var accountID string
			ctx := context.WithValue(r.Context(), auditAccountKey{}, &accountID)
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r.WithContext(ctx))

			action := audit.ActionIngestEvent
			if strings.HasSuffix(r.URL.Path, "/batch") {
				action = audit.ActionIngestBatch
			}
			requestID := GetRequestID(ctx)
			ip := ClientIP(r)
			status := rec.status
			go func() {
				writeCtx, cancel := context.WithTimeout(context.Background(), auditWriteTimeout)
				defer cancel()
				logger.LogRequest(writeCtx, accountID, action, status, ip, requestID)
			}()
		})
	}
}
