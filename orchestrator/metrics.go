package orchestrator

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/evansosei0707/Enterprise-Grade-Cloud-Governance-Platform-on-AWS/types"
)

// Metrics holds pipeline metrics using OTEL instruments
type Metrics struct {
	eventsProcessed      metric.Int64Counter
	duplicates           metric.Int64Counter
	remediations         metric.Int64Counter
	notificationFailures metric.Int64Counter
	rejected             metric.Int64Counter
	processingDuration   metric.Float64Histogram
}

// NewMetrics creates the pipeline instruments on meter
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	eventsProcessed, err := meter.Int64Counter(
		"governor.events.processed",
		metric.WithDescription("Compliance events recorded in the ledger"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create counter: %w", err)
	}

	duplicates, err := meter.Int64Counter(
		"governor.events.duplicate",
		metric.WithDescription("Redelivered events skipped by the idempotency check"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create counter: %w", err)
	}

	remediations, err := meter.Int64Counter(
		"governor.remediations",
		metric.WithDescription("Remediation attempts by outcome"),
		metric.WithUnit("{remediation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create counter: %w", err)
	}

	notificationFailures, err := meter.Int64Counter(
		"governor.notifications.failed",
		metric.WithDescription("Notifications that were not confirmed as sent"),
		metric.WithUnit("{notification}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create counter: %w", err)
	}

	rejected, err := meter.Int64Counter(
		"governor.events.rejected",
		metric.WithDescription("Events that could not be processed"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create counter: %w", err)
	}

	processingDuration, err := meter.Float64Histogram(
		"governor.event.duration",
		metric.WithDescription("Time from receipt to ledger write"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create histogram: %w", err)
	}

	return &Metrics{
		eventsProcessed:      eventsProcessed,
		duplicates:           duplicates,
		remediations:         remediations,
		notificationFailures: notificationFailures,
		rejected:             rejected,
		processingDuration:   processingDuration,
	}, nil
}

// RecordProcessed records a ledger write
func (m *Metrics) RecordProcessed(ctx context.Context, rec types.LedgerRecord, elapsed time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("action", string(rec.Action)),
		attribute.String("severity", string(rec.Severity)),
	)
	m.eventsProcessed.Add(ctx, 1, attrs)
	m.processingDuration.Record(ctx, elapsed.Seconds(), attrs)
}

// RecordDuplicate records an event skipped as already processed
func (m *Metrics) RecordDuplicate(ctx context.Context) {
	if m == nil {
		return
	}
	m.duplicates.Add(ctx, 1)
}

// RecordRemediation records one executor outcome
func (m *Metrics) RecordRemediation(ctx context.Context, outcome types.RemediationOutcome) {
	if m == nil {
		return
	}
	m.remediations.Add(ctx, 1, metric.WithAttributes(
		attribute.String("action", outcome.Action),
		attribute.String("status", string(outcome.Status)),
	))
}

// RecordNotificationFailure records a notification that was not sent
func (m *Metrics) RecordNotificationFailure(ctx context.Context, severity types.Severity) {
	if m == nil {
		return
	}
	m.notificationFailures.Add(ctx, 1, metric.WithAttributes(
		attribute.String("severity", string(severity)),
	))
}

// RecordRejected records an event that failed, by reason class
func (m *Metrics) RecordRejected(ctx context.Context, reason string) {
	if m == nil {
		return
	}
	m.rejected.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}
