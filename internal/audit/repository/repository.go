package repository

import (
	"context"

	"github.com/otpless/usage-ingestion/internal/audit/domain"
)

// Repository defines persistence for ingest audit logs.
type Repository interface {
	Create(ctx context.Context, a *domain.AuditLog) error
	ListByAccount(ctx context.Context, accountID string, limit, offset int32) ([]*domain.AuditLog, error)
}
