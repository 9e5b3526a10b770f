package types

import "time"

// ExceptionStatus is the lifecycle state of a whitelist exception
type ExceptionStatus string

const (
	ExceptionPending  ExceptionStatus = "PENDING"
	ExceptionApproved ExceptionStatus = "APPROVED"
	ExceptionRejected ExceptionStatus = "REJECTED"
	ExceptionExpired  ExceptionStatus = "EXPIRED"
)

// Terminal reports whether no transition leaves this status
func (s ExceptionStatus) Terminal() bool {
	return s == ExceptionRejected || s == ExceptionExpired
}

// Valid reports whether s is a known status
func (s ExceptionStatus) Valid() bool {
	switch s {
	case ExceptionPending, ExceptionApproved, ExceptionRejected, ExceptionExpired:
		return true
	}
	return false
}

// ExceptionKey identifies the exception for one resource under one rule
type ExceptionKey struct {
	AccountID  string `json:"account_id"`
	ResourceID string `json:"resource_id"`
	RuleName   string `json:"rule_name"`
}

// Partition returns accountId#resourceId
func (k ExceptionKey) Partition() string {
	return ResourcePartition(k.AccountID, k.ResourceID)
}

// String renders the key for logs and errors
func (k ExceptionKey) String() string {
	return k.Partition() + "/" + k.RuleName
}

// ExceptionRecord is a whitelist entry suppressing action for a resource/rule pair
type ExceptionRecord struct {
	ID             string          `json:"id"`
	AccountID      string          `json:"account_id"`
	ResourceID     string          `json:"resource_id"`
	RuleName       string          `json:"rule_name"`
	Status         ExceptionStatus `json:"status"`
	RequestedBy    string          `json:"requested_by"`
	Justification  string          `json:"justification"`
	DecidedBy      string          `json:"decided_by,omitempty"`
	DecisionReason string          `json:"decision_reason,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
	DecidedAt      *time.Time      `json:"decided_at,omitempty"`
	ExpiresAt      *time.Time      `json:"expires_at,omitempty"`
}

// Key returns the record's identity
func (r ExceptionRecord) Key() ExceptionKey {
	return ExceptionKey{AccountID: r.AccountID, ResourceID: r.ResourceID, RuleName: r.RuleName}
}

// EffectiveStatus computes expiry at read time: an approved exception
// past its expiry reads as EXPIRED even before anything persists that.
func (r ExceptionRecord) EffectiveStatus(now time.Time) ExceptionStatus {
	if r.Status == ExceptionApproved && r.ExpiresAt != nil && now.After(*r.ExpiresAt) {
		return ExceptionExpired
	}
	return r.Status
}

// Suppresses reports whether the exception blocks action at now
func (r ExceptionRecord) Suppresses(now time.Time) bool {
	return r.EffectiveStatus(now) == ExceptionApproved
}
