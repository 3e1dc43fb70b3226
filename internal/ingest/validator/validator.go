// Package validator checks raw usage events against a statically defined rule
// table before they are allowed to enter the pipeline. Rules run in a fixed
// order and the first failure wins.
package validator

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/otpless/usage-ingestion/internal/ingest/domain"
)

// rule is one row of the validation table: the field it guards and the
// predicate that checks it. A nil return means the rule passed.
type rule struct {
	field string
	check func(v *Validator, raw *domain.RawEvent) *domain.ValidationError
}

// rules is the ordered rule table. Order matters: first failure wins, so
// schema shape is checked before any field-level rule.
var rules = []rule{
	{field: "event", check: (*Validator).checkSchema},
	{field: "accountId", check: (*Validator).checkAccountID},
	{field: "timestamp", check: (*Validator).checkTimestamp},
	{field: "type", check: (*Validator).checkType},
	{field: "quantity", check: (*Validator).checkQuantity},
}

// Validator validates raw events. Recent verdicts are memoized by content
// fingerprint so bursts of duplicate submissions skip the rule table.
type Validator struct {
	cache *verdictCache
	nowFn func() time.Time
}

// New returns a Validator whose verdict cache holds entries for cacheTTL.
func New(cacheTTL time.Duration) *Validator {
	return &Validator{
		cache: newVerdictCache(cacheTTL),
		nowFn: time.Now,
	}
}

// Validate runs the rule table against raw. It returns nil when the event is
// acceptable and a *domain.ValidationError describing the first failed rule
// otherwise. Outcomes, including failures, are cached by fingerprint; a cache
// hit short-circuits the rule table and returns the memoized verdict.
func (v *Validator) Validate(raw *domain.RawEvent) *domain.ValidationError {
	fp := Fingerprint(raw)
	if verdict, ok := v.cache.get(fp); ok {
		return verdict
	}
	verdict := v.run(raw)
	v.cache.put(fp, verdict)
	return verdict
}

func (v *Validator) run(raw *domain.RawEvent) *domain.ValidationError {
	for _, r := range rules {
		if err := r.check(v, raw); err != nil {
			return err
		}
	}
	return nil
}

func (v *Validator) checkSchema(raw *domain.RawEvent) *domain.ValidationError {
	if raw == nil {
		return &domain.ValidationError{Code: domain.CodeInvalidSchema, Field: "event", Details: "event payload is required"}
	}
	switch {
	case strings.TrimSpace(raw.AccountID) == "":
		return &domain.ValidationError{Code: domain.CodeInvalidSchema, Field: "accountId", Details: "accountId is required"}
	case strings.TrimSpace(raw.Type) == "":
		return &domain.ValidationError{Code: domain.CodeInvalidSchema, Field: "type", Details: "type is required"}
	case strings.TrimSpace(raw.Timestamp) == "":
		return &domain.ValidationError{Code: domain.CodeInvalidSchema, Field: "timestamp", Details: "timestamp is required"}
	}
	return nil
}

func (v *Validator) checkAccountID(raw *domain.RawEvent) *domain.ValidationError {
	id, err := uuid.Parse(strings.TrimSpace(raw.AccountID))
	if err != nil || id.Version() != 4 {
		return &domain.ValidationError{
			Code:    domain.CodeInvalidAccount,
			Field:   "accountId",
			Details: "accountId must be a valid v4 UUID",
		}
	}
	return nil
}

func (v *Validator) checkTimestamp(raw *domain.RawEvent) *domain.ValidationError {
	ts, err := time.Parse(time.RFC3339, strings.TrimSpace(raw.Timestamp))
	if err != nil {
		return &domain.ValidationError{
			Code:    domain.CodeInvalidTimestamp,
			Field:   "timestamp",
			Details: "timestamp must be ISO-8601 (RFC 3339)",
		}
	}
	now := v.nowFn()
	if ts.Before(domain.MinTimestamp) {
		return &domain.ValidationError{
			Code:    domain.CodeInvalidTimestamp,
			Field:   "timestamp",
			Details: fmt.Sprintf("timestamp must not predate %s", domain.MinTimestamp.Format(time.RFC3339)),
		}
	}
	if ts.After(now) {
		return &domain.ValidationError{
			Code:    domain.CodeInvalidTimestamp,
			Field:   "timestamp",
			Details: "timestamp must not be in the future",
		}
	}
	return nil
}

func (v *Validator) checkType(raw *domain.RawEvent) *domain.ValidationError {
	switch strings.ToUpper(strings.TrimSpace(raw.Type)) {
	case domain.TypeSMS, domain.TypeWhatsApp, domain.TypeEmail:
		return nil
	}
	return &domain.ValidationError{
		Code:    domain.CodeInvalidType,
		Field:   "type",
		Details: "type must be one of SMS, WhatsApp, Email",
	}
}

func (v *Validator) checkQuantity(raw *domain.RawEvent) *domain.ValidationError {
	if raw.Quantity < 1 || raw.Quantity > domain.MaxQuantity {
		return &domain.ValidationError{
			Code:    domain.CodeInvalidQuantity,
			Field:   "quantity",
			Details: fmt.Sprintf("quantity must be between 1 and %d", domain.MaxQuantity),
		}
	}
	return nil
}
