package types

import (
	"encoding/json"
	"fmt"
	"time"
)

// ComplianceType is the evaluation result reported by AWS Config
type ComplianceType string

const (
	Compliant     ComplianceType = "COMPLIANT"
	NonCompliant  ComplianceType = "NON_COMPLIANT"
	NotApplicable ComplianceType = "NOT_APPLICABLE"
)

// Valid reports whether the compliance type is one the engine understands
func (c ComplianceType) Valid() bool {
	switch c {
	case Compliant, NonCompliant, NotApplicable:
		return true
	}
	return false
}

// Actionable reports whether the transition can require remediation or notification
func (c ComplianceType) Actionable() bool {
	return c == NonCompliant
}

// ComplianceEvent is a single normalized compliance state transition.
// (AccountID, ResourceID, RuleName, OccurredAt) identifies it uniquely.
type ComplianceEvent struct {
	EventID        string          `json:"event_id,omitempty"`
	AccountID      string          `json:"account_id"`
	Region         string          `json:"region"`
	ResourceType   string          `json:"resource_type"`
	ResourceID     string          `json:"resource_id"`
	RuleName       string          `json:"rule_name"`
	ComplianceType ComplianceType  `json:"compliance_type"`
	Annotation     string          `json:"annotation,omitempty"`
	OccurredAt     time.Time       `json:"occurred_at"`
	RawPayload     json.RawMessage `json:"raw_payload,omitempty"`
}

// Key returns the ledger key identifying this transition
func (e ComplianceEvent) Key() LedgerKey {
	return NewLedgerKey(e.AccountID, e.ResourceID, e.RuleName, e.OccurredAt)
}

// ExceptionKey returns the exception key for the resource/rule pair
func (e ComplianceEvent) ExceptionKey() ExceptionKey {
	return ExceptionKey{AccountID: e.AccountID, ResourceID: e.ResourceID, RuleName: e.RuleName}
}

// String renders a short identifier for logs
func (e ComplianceEvent) String() string {
	return fmt.Sprintf("%s/%s/%s@%s", e.AccountID, e.ResourceID, e.RuleName, FormatTimestamp(e.OccurredAt))
}
