// Package domain defines the canonical usage-event model and the error
// taxonomy shared by the validator, normalizer, pipeline, and HTTP handlers.
package domain

import (
	"encoding/json"
	"time"
)

// Event types accepted on the wire. Canonical form is uppercase; the wire
// accepts SMS/WhatsApp/Email case-insensitively.
const (
	TypeSMS      = "SMS"
	TypeWhatsApp = "WHATSAPP"
	TypeEmail    = "EMAIL"
)

// MinTimestamp is the epoch floor for event timestamps. Events dated before
// the platform existed are rejected.
var MinTimestamp = time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)

// MaxQuantity is the largest quantity a single event may carry (inclusive).
const MaxQuantity = 10000

// SchemaVersion is stamped into AuditInfo at normalization time.
const SchemaVersion = "1.0"

// RawEvent is the wire shape of an incoming usage event, before validation.
// All fields are kept as submitted; Timestamp stays a string until the
// normalizer canonicalizes it.
type RawEvent struct {
	ID        string         `json:"id,omitempty"`
	AccountID string         `json:"accountId"`
	Type      string         `json:"type"`
	Timestamp string         `json:"timestamp"`
	Quantity  int64          `json:"quantity"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// AuditInfo records when and by whom a canonical event was created.
type AuditInfo struct {
	CreatedAt time.Time `json:"createdAt"`
	CreatedBy string    `json:"createdBy"`
	Version   string    `json:"version"`
}

// Performance holds observability-only timings. It never affects control flow.
type Performance struct {
	ValidationTimeMs int64 `json:"validationTimeMs"`
	ProcessingTimeMs int64 `json:"processingTimeMs"`
}

// Event is the canonical, fully validated usage event published to the log.
// Instances are created only by the normalizer and are immutable afterwards.
type Event struct {
	ID          string         `json:"id"`
	AccountID   string         `json:"accountId"`
	Type        string         `json:"type"`
	Timestamp   time.Time      `json:"timestamp"`
	Quantity    int64          `json:"quantity"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	AuditInfo   AuditInfo      `json:"auditInfo"`
	Performance Performance    `json:"performance"`
}

// PartitionKey returns the Kafka message key for the event. Keying by
// accountID|eventID gives per-account ordering on the primary topic.
func (e *Event) PartitionKey() string {
	return e.AccountID + "|" + e.ID
}

// MarshalValue returns the canonical JSON encoding used as the Kafka message
// value and for the dead-letter copy.
func (e *Event) MarshalValue() ([]byte, error) {
	return json.Marshal(e)
}
