// Package audit records one entry per ingest request, best-effort. Writes
// never affect the request outcome; when no repository is configured the
// logger is a no-op.
package audit

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/otpless/usage-ingestion/internal/audit/domain"
	auditrepo "github.com/otpless/usage-ingestion/internal/audit/repository"
)

// Actions recorded by the ingest API.
const (
	ActionIngestEvent = "ingest.event"
	ActionIngestBatch = "ingest.batch"
)

// Logger persists audit entries through the repository. LogRequest is
// best-effort: failures are logged and not returned.
type Logger struct {
	repo  auditrepo.Repository
	nowFn func() time.Time
}

// NewLogger returns a Logger persisting to repo. repo may be nil, in which
// case every call is a no-op.
func NewLogger(repo auditrepo.Repository) *Logger {
	return &Logger{repo: repo, nowFn: time.Now}
}

// LogRequest writes one audit entry for a completed ingest request.
// accountID may be empty when the payload never parsed.
func (l *Logger) LogRequest(ctx context.Context, accountID, action string, status int, ip, requestID string) {
	if l == nil || l.repo == nil {
		return
	}
	entry := &domain.AuditLog{
		ID:        uuid.New().String(),
		AccountID: accountID,
		Action:    action,
		Status:    status,
		IP:        ip,
		RequestID: requestID,
		CreatedAt: l.nowFn().UTC(),
	}
	if err := l.repo.Create(ctx, entry); err != nil {
		log.Printf("audit: failed to log %s (request %s): %v", action, requestID, err)
	}
}
