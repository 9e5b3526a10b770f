package daemon

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// DaemonMetrics holds operational metrics using OTEL semantic conventions
type DaemonMetrics struct {
	maintenanceRuns     metric.Int64Counter
	maintenanceDuration metric.Float64Histogram
	exceptionsExpired   metric.Int64Counter
	ledgerPruned        metric.Int64Counter
	journalFilesRemoved metric.Int64Counter
	storageOperations   metric.Int64Counter
}

// NewDaemonMetrics creates daemon metrics on the global meter provider
func NewDaemonMetrics() (*DaemonMetrics, error) {
	return newDaemonMetrics(otel.Meter("governor.daemon"))
}

func newDaemonMetricsWithProvider(provider metric.MeterProvider) (*DaemonMetrics, error) {
	return newDaemonMetrics(provider.Meter("governor.daemon"))
}

func newDaemonMetrics(meter metric.Meter) (*DaemonMetrics, error) {
	maintenanceRuns, err := meter.Int64Counter(
		"governor.daemon.maintenance",
		metric.WithDescription("Number of maintenance runs"),
		metric.WithUnit("{run}"),
	)
	if err != nil {
		return nil, err
	}

	maintenanceDuration, err := meter.Float64Histogram(
		"governor.daemon.maintenance.duration",
		metric.WithDescription("Duration of maintenance runs"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	exceptionsExpired, err := meter.Int64Counter(
		"governor.exceptions.expired",
		metric.WithDescription("Approved exceptions moved to EXPIRED"),
		metric.WithUnit("{exception}"),
	)
	if err != nil {
		return nil, err
	}

	ledgerPruned, err := meter.Int64Counter(
		"governor.ledger.pruned",
		metric.WithDescription("Ledger records removed after their retention"),
		metric.WithUnit("{record}"),
	)
	if err != nil {
		return nil, err
	}

	journalFilesRemoved, err := meter.Int64Counter(
		"governor.journal.files_removed",
		metric.WithDescription("Remediation journal files removed by retention"),
		metric.WithUnit("{file}"),
	)
	if err != nil {
		return nil, err
	}

	storageOperations, err := meter.Int64Counter(
		"governor.storage.operations",
		metric.WithDescription("Number of maintenance storage operations"),
		metric.WithUnit("{operation}"),
	)
	if err != nil {
		return nil, err
	}

	return &DaemonMetrics{
		maintenanceRuns:     maintenanceRuns,
		maintenanceDuration: maintenanceDuration,
		exceptionsExpired:   exceptionsExpired,
		ledgerPruned:        ledgerPruned,
		journalFilesRemoved: journalFilesRemoved,
		storageOperations:   storageOperations,
	}, nil
}

// RecordMaintenance records a maintenance run with status
func (m *DaemonMetrics) RecordMaintenance(ctx context.Context, status string, durationSeconds float64) {
	attrs := metric.WithAttributes(attribute.String("status", status))
	m.maintenanceRuns.Add(ctx, 1, attrs)
	m.maintenanceDuration.Record(ctx, durationSeconds, attrs)
}

// RecordExceptionsExpired records exceptions materialized as EXPIRED
func (m *DaemonMetrics) RecordExceptionsExpired(ctx context.Context, count int) {
	if count > 0 {
		m.exceptionsExpired.Add(ctx, int64(count))
	}
}

// RecordLedgerPruned records ledger records removed
func (m *DaemonMetrics) RecordLedgerPruned(ctx context.Context, count int) {
	if count > 0 {
		m.ledgerPruned.Add(ctx, int64(count))
	}
}

// RecordJournalCleanup records journal files removed
func (m *DaemonMetrics) RecordJournalCleanup(ctx context.Context, files int) {
	if files > 0 {
		m.journalFilesRemoved.Add(ctx, int64(files))
	}
}

// RecordStorageOperation records a storage operation
func (m *DaemonMetrics) RecordStorageOperation(ctx context.Context, operation string, status string, errorType string) {
	attrs := []attribute.KeyValue{
		attribute.String("operation", operation),
		attribute.String("status", status),
	}
	if errorType != "" {
		attrs = append(attrs, attribute.String("error.type", errorType))
	}

	m.storageOperations.Add(ctx, 1, metric.WithAttributes(attrs...))
}
