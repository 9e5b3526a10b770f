package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/evansosei0707/Enterprise-Grade-Cloud-Governance-Platform-on-AWS/types"
)

func eventAttributes(ev types.ComplianceEvent) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("account.id", ev.AccountID),
		attribute.String("region", ev.Region),
		attribute.String("resource.id", ev.ResourceID),
		attribute.String("resource.type", ev.ResourceType),
		attribute.String("rule.name", ev.RuleName),
	}
}

// RecordDecisionEvent emits a structured span event for a classification
func RecordDecisionEvent(span trace.Span, ev types.ComplianceEvent, d types.Decision) {
	if span == nil {
		return
	}

	attrs := append(eventAttributes(ev),
		attribute.String("event.type", "governance.decision.made"),
		attribute.String("compliance.type", string(ev.ComplianceType)),
		attribute.String("severity", string(d.Severity)),
		attribute.String("route", string(d.Route)),
		attribute.String("reason", d.Reason),
	)
	if d.Exception != nil {
		attrs = append(attrs, attribute.String("exception.id", d.Exception.ID))
	}

	span.AddEvent("governance.decision.made", trace.WithAttributes(attrs...))
}

// RecordRemediationEvent emits a structured span event for a remediation attempt
func RecordRemediationEvent(span trace.Span, ev types.ComplianceEvent, outcome types.RemediationOutcome) {
	if span == nil {
		return
	}

	attrs := append(eventAttributes(ev),
		attribute.String("event.type", "governance.remediation.executed"),
		attribute.String("action.name", outcome.Action),
		attribute.String("action.category", string(outcome.Category)),
		attribute.String("status", string(outcome.Status)),
		attribute.Float64("duration.seconds", outcome.FinishedAt.Sub(outcome.StartedAt).Seconds()),
	)
	if outcome.Reason != "" {
		attrs = append(attrs, attribute.String("reason", outcome.Reason))
	}

	span.AddEvent("governance.remediation.executed", trace.WithAttributes(attrs...))
}

// RecordNotificationEvent emits a structured span event for a notification
func RecordNotificationEvent(span trace.Span, ev types.ComplianceEvent, severity types.Severity, status string) {
	if span == nil {
		return
	}

	attrs := append(eventAttributes(ev),
		attribute.String("event.type", "governance.notification.sent"),
		attribute.String("severity", string(severity)),
		attribute.String("status", status),
	)

	span.AddEvent("governance.notification.sent", trace.WithAttributes(attrs...))
}

// RecordExceptionTransitionEvent emits a structured span event for a workflow transition
func RecordExceptionTransitionEvent(span trace.Span, rec types.ExceptionRecord, from types.ExceptionStatus, actor string) {
	if span == nil {
		return
	}

	span.AddEvent("governance.exception.transition", trace.WithAttributes(
		attribute.String("event.type", "governance.exception.transition"),
		attribute.String("exception.id", rec.ID),
		attribute.String("account.id", rec.AccountID),
		attribute.String("resource.id", rec.ResourceID),
		attribute.String("rule.name", rec.RuleName),
		attribute.String("status.from", string(from)),
		attribute.String("status.to", string(rec.Status)),
		attribute.String("actor", actor),
	))
}
