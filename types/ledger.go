package types

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Severity tiers drive the remediation decision
type Severity string

const (
	SeverityLow    Severity = "LOW"
	SeverityMedium Severity = "MEDIUM"
	SeverityHigh   Severity = "HIGH"
)

// ParseSeverity parses a severity name, case-insensitive
func ParseSeverity(s string) (Severity, error) {
	switch Severity(strings.ToUpper(strings.TrimSpace(s))) {
	case SeverityLow:
		return SeverityLow, nil
	case SeverityMedium:
		return SeverityMedium, nil
	case SeverityHigh:
		return SeverityHigh, nil
	}
	return "", fmt.Errorf("unknown severity %q", s)
}

// Action is what the engine did with a compliance transition
type Action string

const (
	ActionRemediated       Action = "REMEDIATED"
	ActionNotified         Action = "NOTIFIED"
	ActionLogged           Action = "LOGGED"
	ActionSkippedException Action = "SKIPPED_EXCEPTION"
)

// LedgerKey is the composite key of a ledger record
type LedgerKey struct {
	PK string `json:"pk"` // accountId#resourceId
	SK string `json:"sk"` // occurredAt#ruleName
}

const keySeparator = "#"

// NewLedgerKey builds the composite key for a compliance transition
func NewLedgerKey(accountID, resourceID, ruleName string, occurredAt time.Time) LedgerKey {
	return LedgerKey{
		PK: ResourcePartition(accountID, resourceID),
		SK: FormatTimestamp(occurredAt) + keySeparator + ruleName,
	}
}

// ResourcePartition returns the partition key for an account/resource pair
func ResourcePartition(accountID, resourceID string) string {
	return accountID + keySeparator + resourceID
}

// String renders the key as pk|sk
func (k LedgerKey) String() string {
	return k.PK + "|" + k.SK
}

// LedgerRecord is the immutable audit entry written once per transition
type LedgerRecord struct {
	PK              string              `json:"pk"`
	SK              string              `json:"sk"`
	EventID         string              `json:"event_id,omitempty"`
	AccountID       string              `json:"account_id"`
	Region          string              `json:"region"`
	ResourceType    string              `json:"resource_type"`
	ResourceID      string              `json:"resource_id"`
	RuleName        string              `json:"rule_name"`
	ComplianceType  ComplianceType      `json:"compliance_type"`
	Severity        Severity            `json:"severity"`
	Action          Action              `json:"action"`
	Outcome         *RemediationOutcome `json:"outcome,omitempty"`
	ExceptionID     string              `json:"exception_id,omitempty"`
	ExceptionReason string              `json:"exception_reason,omitempty"`
	Notification    string              `json:"notification,omitempty"`
	Annotation      string              `json:"annotation,omitempty"`
	OccurredAt      time.Time           `json:"occurred_at"`
	ProcessedAt     time.Time           `json:"processed_at"`
	ExpiresAt       *time.Time          `json:"expires_at,omitempty"`
	RawPayload      json.RawMessage     `json:"raw_payload,omitempty"`
}

// NewLedgerRecord seeds a record from the event it audits
func NewLedgerRecord(ev ComplianceEvent, severity Severity, action Action) LedgerRecord {
	key := ev.Key()
	return LedgerRecord{
		PK:             key.PK,
		SK:             key.SK,
		EventID:        ev.EventID,
		AccountID:      ev.AccountID,
		Region:         ev.Region,
		ResourceType:   ev.ResourceType,
		ResourceID:     ev.ResourceID,
		RuleName:       ev.RuleName,
		ComplianceType: ev.ComplianceType,
		Severity:       severity,
		Action:         action,
		Annotation:     ev.Annotation,
		OccurredAt:     ev.OccurredAt.UTC(),
		RawPayload:     ev.RawPayload,
	}
}

// Key returns the record's composite key
func (r LedgerRecord) Key() LedgerKey {
	return LedgerKey{PK: r.PK, SK: r.SK}
}

// Expired reports whether the record's retention has lapsed at now
func (r LedgerRecord) Expired(now time.Time) bool {
	return r.ExpiresAt != nil && now.After(*r.ExpiresAt)
}

// TimeRange bounds ledger queries on OccurredAt. Zero values are open ends.
type TimeRange struct {
	From time.Time
	To   time.Time
}

// Contains reports whether t falls inside the range (inclusive)
func (r TimeRange) Contains(t time.Time) bool {
	if !r.From.IsZero() && t.Before(r.From) {
		return false
	}
	if !r.To.IsZero() && t.After(r.To) {
		return false
	}
	return true
}
