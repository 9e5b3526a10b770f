package orchestrator

import (
	"context"
	"time"

	"github.com/evansosei0707/Enterprise-Grade-Cloud-Governance-Platform-on-AWS/executor"
	"github.com/evansosei0707/Enterprise-Grade-Cloud-Governance-Platform-on-AWS/notify"
	"github.com/evansosei0707/Enterprise-Grade-Cloud-Governance-Platform-on-AWS/types"
)

const (
	// DefaultClaimLease covers one remediation plus notification with margin
	DefaultClaimLease = 2 * time.Minute
	// DefaultRetention is the ledger TTL
	DefaultRetention = 730 * 24 * time.Hour
)

// Delivery describes how the event source handed over an event
type Delivery struct {
	// Redeliverable is true when a retryable failure will be delivered again
	Redeliverable bool
	ReceiveCount  int
}

// Result reports what Process did with one event
type Result struct {
	Key       types.LedgerKey     `json:"key"`
	Duplicate bool                `json:"duplicate"`
	Record    *types.LedgerRecord `json:"record,omitempty"`
	Duration  time.Duration       `json:"duration"`
}

// Classifier decides severity and route for an event
type Classifier interface {
	Classify(ctx context.Context, ev types.ComplianceEvent) (types.Decision, error)
}

// Remediator runs catalog remediations
type Remediator interface {
	Remediate(ctx context.Context, req executor.Request) types.RemediationOutcome
}

// Dispatcher delivers notifications and reports the delivery status
type Dispatcher interface {
	Dispatch(ctx context.Context, n notify.Notification) string
}

// Parser turns raw notifications into events
type Parser interface {
	Parse(raw []byte) (types.ComplianceEvent, error)
}
