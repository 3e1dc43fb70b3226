// Package domain defines the audit log entry recorded per ingest request.
package domain

import "time"

// AuditLog is one recorded ingest request. AccountID is the sanitized account
// from the payload when known, empty otherwise (e.g. schema-invalid bodies).
type AuditLog struct {
	ID        string
	AccountID string
	Action    string // e.g. "ingest.event", "ingest.batch"
	Status    int    // HTTP status returned to the caller
	IP        string
	RequestID string
	CreatedAt time.Time
}
