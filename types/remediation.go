package types

import "time"

// OutcomeStatus is the result of one remediation attempt
type OutcomeStatus string

const (
	OutcomeSuccess          OutcomeStatus = "SUCCESS"
	OutcomeSkippedProdGuard OutcomeStatus = "SKIPPED_PROD_GUARD"
	OutcomeFailed           OutcomeStatus = "FAILED"
)

// ActionCategory groups remediation actions for guard decisions
type ActionCategory string

const (
	CategoryStorageAccess   ActionCategory = "storage-access"
	CategoryTagging         ActionCategory = "tagging"
	CategoryNetworkIngress  ActionCategory = "network-ingress"
	CategoryNetworkExposure ActionCategory = "network-exposure"
	CategoryEncryption      ActionCategory = "encryption"
)

// RemediationOutcome records what the executor did for one event
type RemediationOutcome struct {
	Status     OutcomeStatus  `json:"status"`
	Action     string         `json:"action,omitempty"`
	Category   ActionCategory `json:"category,omitempty"`
	Reason     string         `json:"reason,omitempty"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`

	// Err carries the typed cause of a failure; not persisted.
	Err error `json:"-"`
}

// Succeeded reports whether the remediation changed (or confirmed) the resource
func (o RemediationOutcome) Succeeded() bool {
	return o.Status == OutcomeSuccess
}
