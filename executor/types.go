package executor

import (
	"context"
	"time"

	"github.com/evansosei0707/Enterprise-Grade-Cloud-Governance-Platform-on-AWS/types"
)

// DefaultTimeout bounds a single remediation API call sequence
const DefaultTimeout = 5 * time.Second

// DefaultPartition is the commercial AWS partition
const DefaultPartition = "aws"

// Request identifies the resource to remediate
type Request struct {
	EventID      string `json:"event_id,omitempty"`
	AccountID    string `json:"account_id"`
	Region       string `json:"region"`
	ResourceType string `json:"resource_type"`
	ResourceID   string `json:"resource_id"`
	RuleName     string `json:"rule_name"`

	// Partition is filled from the engine options when empty
	Partition string `json:"partition,omitempty"`
}

// RequestFromEvent builds a remediation request for a compliance event
func RequestFromEvent(ev types.ComplianceEvent) Request {
	return Request{
		EventID:      ev.EventID,
		AccountID:    ev.AccountID,
		Region:       ev.Region,
		ResourceType: ev.ResourceType,
		ResourceID:   ev.ResourceID,
		RuleName:     ev.RuleName,
	}
}

// ExecutorOptions configures the engine
type ExecutorOptions struct {
	Timeout              time.Duration
	Partition            string
	RestrictedCategories []types.ActionCategory
}

// DefaultRestrictedCategories are never remediated in production accounts
func DefaultRestrictedCategories() []types.ActionCategory {
	return []types.ActionCategory{types.CategoryNetworkIngress, types.CategoryNetworkExposure}
}

// AccountClassifier tells production accounts apart
type AccountClassifier interface {
	IsProduction(accountID string) bool
}

// SafetyChecker validates a remediation before the engine federates
type SafetyChecker interface {
	CheckSafety(ctx context.Context, req Request, action Action) []SafetyCheck
}

// SafetyCheck represents a pre-execution validation
type SafetyCheck struct {
	Name        string        `json:"name"`
	Description string        `json:"description"`
	Severity    BlockSeverity `json:"severity"`
	Passed      bool          `json:"passed"`
	Message     string        `json:"message,omitempty"`

	// Err is the typed cause recorded on the outcome when the check blocks
	Err error `json:"-"`
}

// BlockSeverity represents how serious a failed check is
type BlockSeverity string

const (
	// SeverityWarning is informational; execution continues
	SeverityWarning BlockSeverity = "warning"
	// SeverityError fails the remediation
	SeverityError BlockSeverity = "error"
	// SeverityCritical withholds the remediation without attempting it
	SeverityCritical BlockSeverity = "critical"
)

// journalEntry is the payload written to the remediation journal
type journalEntry struct {
	Request
	Action   string               `json:"action,omitempty"`
	Category types.ActionCategory `json:"category,omitempty"`
	Detail   string               `json:"detail,omitempty"`
	Duration string               `json:"duration,omitempty"`
}
