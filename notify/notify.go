// Package notify delivers violation notices to humans and downstream systems.
package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/evansosei0707/Enterprise-Grade-Cloud-Governance-Platform-on-AWS/types"
)

// Notification is one message about a compliance event
type Notification struct {
	Severity types.Severity
	Event    types.ComplianceEvent
	Action   types.Action
	// Outcome is set when a remediation was attempted
	Outcome *types.RemediationOutcome
}

// Notifier delivers notifications to one channel
type Notifier interface {
	Name() string
	Notify(ctx context.Context, n Notification) error
}

// Multi fans a notification out to every notifier
type Multi []Notifier

// Name implements Notifier
func (m Multi) Name() string {
	names := make([]string, 0, len(m))
	for _, n := range m {
		names = append(names, n.Name())
	}
	return strings.Join(names, "+")
}

// Notify sends to every notifier; one failing channel does not stop the rest
func (m Multi) Notify(ctx context.Context, n Notification) error {
	var errs []error
	for _, notifier := range m {
		if err := notifier.Notify(ctx, n); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", notifier.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// Message is the structured form published to machine consumers
type Message struct {
	Severity       types.Severity            `json:"severity"`
	AccountID      string                    `json:"account_id"`
	Region         string                    `json:"region"`
	ResourceType   string                    `json:"resource_type"`
	ResourceID     string                    `json:"resource_id"`
	RuleName       string                    `json:"rule_name"`
	ComplianceType types.ComplianceType      `json:"compliance_type"`
	Annotation     string                    `json:"annotation,omitempty"`
	Action         types.Action              `json:"action"`
	OccurredAt     time.Time                 `json:"occurred_at"`
	Remediation    *types.RemediationOutcome `json:"remediation,omitempty"`
	Subject        string                    `json:"subject"`
}

// NewMessage flattens a notification
func NewMessage(n Notification) Message {
	return Message{
		Severity:       n.Severity,
		AccountID:      n.Event.AccountID,
		Region:         n.Event.Region,
		ResourceType:   n.Event.ResourceType,
		ResourceID:     n.Event.ResourceID,
		RuleName:       n.Event.RuleName,
		ComplianceType: n.Event.ComplianceType,
		Annotation:     n.Event.Annotation,
		Action:         n.Action,
		OccurredAt:     n.Event.OccurredAt,
		Remediation:    n.Outcome,
		Subject:        Subject(n),
	}
}
