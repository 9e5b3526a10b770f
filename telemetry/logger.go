package telemetry

import (
	"context"
	"io"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/evansosei0707/Enterprise-Grade-Cloud-Governance-Platform-on-AWS/types"
)

var (
	outputMu sync.RWMutex
	output   io.Writer = os.Stdout
)

// SetOutput redirects loggers created afterwards (console format, tests)
func SetOutput(w io.Writer) {
	outputMu.Lock()
	defer outputMu.Unlock()
	output = w
}

func currentOutput() io.Writer {
	outputMu.RLock()
	defer outputMu.RUnlock()
	return output
}

// OTELHook adds trace and span IDs to every log entry
type OTELHook struct{}

func (h OTELHook) Run(e *zerolog.Event, level zerolog.Level, msg string) {
	ctx := e.GetCtx()
	if ctx == nil {
		return
	}

	span := trace.SpanFromContext(ctx)
	if !span.SpanContext().IsValid() {
		return
	}

	e.Str("trace_id", span.SpanContext().TraceID().String())
	e.Str("span_id", span.SpanContext().SpanID().String())

	if level == zerolog.ErrorLevel {
		span.SetStatus(codes.Error, msg)
	}
}

// Logger wraps zerolog with OTEL integration
type Logger struct {
	zerolog.Logger
}

// NewLogger creates a new logger with OTEL hooks
func NewLogger(service string) *Logger {
	return NewLoggerTo(currentOutput(), service)
}

// NewLoggerTo creates a logger writing to w
func NewLoggerTo(w io.Writer, service string) *Logger {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMs

	logger := zerolog.New(w).
		With().
		Timestamp().
		Str("service", service).
		Logger().
		Hook(OTELHook{})

	return &Logger{Logger: logger}
}

// WithContext returns a logger with context (for trace propagation)
func (l *Logger) WithContext(ctx context.Context) *zerolog.Logger {
	logger := l.Logger.With().Ctx(ctx).Logger()
	return &logger
}

// LogSpanStart logs the start of a span with attributes
func (l *Logger) LogSpanStart(ctx context.Context, spanName string, attrs ...attribute.KeyValue) {
	event := l.WithContext(ctx).Debug().Str("span_name", spanName)
	for _, attr := range attrs {
		event = addAttributeToEvent(event, attr)
	}
	event.Msg("span started")
}

// LogSpanEnd logs the end of a span with results
func (l *Logger) LogSpanEnd(ctx context.Context, spanName string, err error) {
	logger := l.WithContext(ctx)

	if err != nil {
		logger.Error().
			Err(err).
			Str("span_name", spanName).
			Msg("span failed")
	} else {
		logger.Debug().
			Str("span_name", spanName).
			Msg("span completed")
	}
}

// Helper to convert OTEL attributes to zerolog fields
func addAttributeToEvent(event *zerolog.Event, attr attribute.KeyValue) *zerolog.Event {
	key := string(attr.Key)

	switch attr.Value.Type() {
	case attribute.STRING:
		return event.Str(key, attr.Value.AsString())
	case attribute.INT64:
		return event.Int64(key, attr.Value.AsInt64())
	case attribute.FLOAT64:
		return event.Float64(key, attr.Value.AsFloat64())
	case attribute.BOOL:
		return event.Bool(key, attr.Value.AsBool())
	default:
		return event.Str(key, attr.Value.AsString())
	}
}

// Convenience methods for the event pipeline

// EventFields stamps the identifying fields of ev onto a log event
func EventFields(e *zerolog.Event, ev types.ComplianceEvent) *zerolog.Event {
	return e.
		Str("account_id", ev.AccountID).
		Str("region", ev.Region).
		Str("resource_id", ev.ResourceID).
		Str("resource_type", ev.ResourceType).
		Str("rule_name", ev.RuleName).
		Str("compliance_type", string(ev.ComplianceType))
}

func (l *Logger) LogDecision(ctx context.Context, ev types.ComplianceEvent, d types.Decision) {
	EventFields(l.WithContext(ctx).Info(), ev).
		Str("severity", string(d.Severity)).
		Str("route", string(d.Route)).
		Str("reason", d.Reason).
		Msg("event classified")
}

func (l *Logger) LogRemediation(ctx context.Context, ev types.ComplianceEvent, outcome types.RemediationOutcome) {
	logger := l.WithContext(ctx)
	var event *zerolog.Event
	if outcome.Status == types.OutcomeFailed {
		event = logger.Warn().Err(outcome.Err)
	} else {
		event = logger.Info()
	}
	EventFields(event, ev).
		Str("action", outcome.Action).
		Str("category", string(outcome.Category)).
		Str("outcome", string(outcome.Status)).
		Str("reason", outcome.Reason).
		Dur("duration", outcome.FinishedAt.Sub(outcome.StartedAt)).
		Msg("remediation finished")
}

func (l *Logger) LogDuplicate(ctx context.Context, key types.LedgerKey) {
	l.WithContext(ctx).Debug().
		Str("pk", key.PK).
		Str("sk", key.SK).
		Msg("transition already processed")
}

func (l *Logger) LogRecorded(ctx context.Context, rec types.LedgerRecord, elapsed time.Duration) {
	l.WithContext(ctx).Info().
		Str("pk", rec.PK).
		Str("sk", rec.SK).
		Str("severity", string(rec.Severity)).
		Str("action", string(rec.Action)).
		Str("notification", rec.Notification).
		Dur("elapsed", elapsed).
		Msg("ledger record written")
}

func (l *Logger) LogNotificationFailure(ctx context.Context, ev types.ComplianceEvent, err error) {
	EventFields(l.WithContext(ctx).Warn().Err(err), ev).
		Msg("notification delivery failed")
}

func (l *Logger) LogStorageError(ctx context.Context, operation string, err error) {
	l.WithContext(ctx).Error().
		Err(err).
		Str("operation", operation).
		Msg("storage operation failed")
}
