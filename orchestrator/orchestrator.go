// Package orchestrator runs one compliance event through the pipeline:
// idempotency check, claim, classify, act, notify, ledger write.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/evansosei0707/Enterprise-Grade-Cloud-Governance-Platform-on-AWS/executor"
	"github.com/evansosei0707/Enterprise-Grade-Cloud-Governance-Platform-on-AWS/ingest"
	"github.com/evansosei0707/Enterprise-Grade-Cloud-Governance-Platform-on-AWS/notify"
	"github.com/evansosei0707/Enterprise-Grade-Cloud-Governance-Platform-on-AWS/storage"
	"github.com/evansosei0707/Enterprise-Grade-Cloud-Governance-Platform-on-AWS/telemetry"
	"github.com/evansosei0707/Enterprise-Grade-Cloud-Governance-Platform-on-AWS/types"
)

// Orchestrator coordinates classify → act → record for each event
type Orchestrator struct {
	parser     Parser
	classifier Classifier
	ledger     storage.LedgerStore
	remediator Remediator
	dispatcher Dispatcher
	metrics    *Metrics
	claimLease time.Duration
	retention  time.Duration
	now        func() time.Time
	logger     *telemetry.Logger
	tracer     trace.Tracer
}

// Option configures an Orchestrator
type Option func(*Orchestrator)

// WithMetrics records pipeline metrics
func WithMetrics(m *Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithClock overrides the clock
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// WithClaimLease sets how long a worker holds a key while acting
func WithClaimLease(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.claimLease = d
		}
	}
}

// WithRetention sets the ledger TTL; zero keeps records forever
func WithRetention(d time.Duration) Option {
	return func(o *Orchestrator) { o.retention = d }
}

// WithParser replaces the notification parser
func WithParser(p Parser) Option {
	return func(o *Orchestrator) { o.parser = p }
}

// NewOrchestrator creates a new orchestrator. dispatcher may be nil, in
// which case notifications are recorded as disabled.
func NewOrchestrator(
	classifier Classifier,
	ledger storage.LedgerStore,
	remediator Remediator,
	dispatcher Dispatcher,
	opts ...Option,
) *Orchestrator {
	o := &Orchestrator{
		parser:     ingest.New(),
		classifier: classifier,
		ledger:     ledger,
		remediator: remediator,
		dispatcher: dispatcher,
		claimLease: DefaultClaimLease,
		retention:  DefaultRetention,
		now:        time.Now,
		logger:     telemetry.NewLogger("orchestrator"),
		tracer:     otel.Tracer("orchestrator"),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// ProcessRaw parses a raw notification and processes it. Parse failures
// are returned as MalformedEventError and are terminal.
func (o *Orchestrator) ProcessRaw(ctx context.Context, raw []byte, delivery Delivery) (*Result, error) {
	ev, err := o.parser.Parse(raw)
	if err != nil {
		o.metrics.RecordRejected(ctx, "malformed")
		o.logger.WithContext(ctx).Error().
			Err(err).
			Int("bytes", len(raw)).
			Msg("rejecting malformed compliance event")
		return nil, err
	}
	return o.Process(ctx, ev, delivery)
}

// Process runs one event through the pipeline. It returns a
// RetryableError when redelivery may succeed; any other error is terminal.
func (o *Orchestrator) Process(ctx context.Context, ev types.ComplianceEvent, delivery Delivery) (*Result, error) {
	start := o.now()
	key := ev.Key()

	ctx, span := o.tracer.Start(ctx, "orchestrator.process",
		trace.WithAttributes(
			attribute.String("ledger.pk", key.PK),
			attribute.String("ledger.sk", key.SK),
			attribute.Int("delivery.receive_count", delivery.ReceiveCount),
		))
	defer span.End()

	duplicate, err := o.alreadyRecorded(ctx, key)
	if err != nil {
		return nil, o.fail(ctx, span, "ledger_read", err)
	}
	if duplicate {
		return o.duplicate(ctx, key), nil
	}

	claimed, err := o.ledger.Claim(ctx, key, o.claimLease)
	if err != nil {
		o.logger.LogStorageError(ctx, "claim", err)
		return nil, o.fail(ctx, span, "ledger_claim", types.Retryable(fmt.Errorf("claim %s: %w", key, err)))
	}
	if !claimed {
		return o.duplicate(ctx, key), nil
	}
	defer o.release(ctx, key)

	decision, err := o.classifier.Classify(ctx, ev)
	if err != nil {
		return nil, o.fail(ctx, span, "classify", err)
	}

	rec := types.NewLedgerRecord(ev, decision.Severity, "")
	if err := o.act(ctx, span, ev, decision, delivery, &rec); err != nil {
		return nil, o.fail(ctx, span, "remediate", err)
	}

	rec.ProcessedAt = o.now().UTC()
	if o.retention > 0 {
		expires := rec.ProcessedAt.Add(o.retention)
		rec.ExpiresAt = &expires
	}

	// The action already happened: the record must land even if the
	// caller is shutting down.
	if err := o.ledger.Put(context.WithoutCancel(ctx), rec); err != nil {
		if errors.Is(err, storage.ErrRecordExists) {
			return o.duplicate(ctx, key), nil
		}
		o.logger.LogStorageError(ctx, "ledger_put", err)
		return nil, o.fail(ctx, span, "ledger_write", types.Retryable(fmt.Errorf("write %s: %w", key, err)))
	}

	elapsed := o.now().Sub(start)
	o.logger.LogRecorded(ctx, rec, elapsed)
	o.metrics.RecordProcessed(ctx, rec, elapsed)
	span.SetAttributes(attribute.String("ledger.action", string(rec.Action)))
	span.SetStatus(codes.Ok, string(rec.Action))

	return &Result{Key: key, Record: &rec, Duration: elapsed}, nil
}

func (o *Orchestrator) alreadyRecorded(ctx context.Context, key types.LedgerKey) (bool, error) {
	_, err := o.ledger.Get(ctx, key)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, storage.ErrNotFound):
		return false, nil
	}
	o.logger.LogStorageError(ctx, "get", err)
	return false, types.Retryable(fmt.Errorf("read %s: %w", key, err))
}

// act performs the route's side effects and fills in rec
func (o *Orchestrator) act(ctx context.Context, span trace.Span, ev types.ComplianceEvent, decision types.Decision, delivery Delivery, rec *types.LedgerRecord) error {
	if action, ok := decision.TerminalAction(); ok {
		rec.Action = action
		if decision.Exception != nil {
			rec.ExceptionID = decision.Exception.ID
			rec.ExceptionReason = decision.Exception.Justification
		}
		return nil
	}

	if decision.Route == types.RouteNotify {
		rec.Action = types.ActionNotified
		rec.Notification = o.notify(ctx, span, ev, decision.Severity, rec.Action, nil)
		return nil
	}

	outcome := o.remediator.Remediate(ctx, executor.RequestFromEvent(ev))
	rec.Outcome = &outcome
	o.metrics.RecordRemediation(ctx, outcome)
	telemetry.RecordRemediationEvent(span, ev, outcome)
	o.logger.LogRemediation(ctx, ev, outcome)

	switch outcome.Status {
	case types.OutcomeSuccess:
		rec.Action = types.ActionRemediated
		return nil
	case types.OutcomeSkippedProdGuard:
		rec.Action = types.ActionNotified
		rec.Notification = o.notify(ctx, span, ev, decision.Severity, rec.Action, &outcome)
		return nil
	}

	var unknown *types.UnknownRemediationError
	if errors.As(outcome.Err, &unknown) {
		rec.Action = types.ActionLogged
		return nil
	}

	if delivery.Redeliverable {
		cause := outcome.Err
		if cause == nil {
			cause = errors.New(outcome.Reason)
		}
		return types.Retryable(fmt.Errorf("remediation of %s: %w", ev, cause))
	}

	// Out of redeliveries: a human takes over.
	rec.Action = types.ActionNotified
	rec.Notification = o.notify(ctx, span, ev, decision.Severity, rec.Action, &outcome)
	return nil
}

func (o *Orchestrator) notify(
	ctx context.Context,
	span trace.Span,
	ev types.ComplianceEvent,
	severity types.Severity,
	action types.Action,
	outcome *types.RemediationOutcome,
) string {
	status := notify.StatusDisabled
	if o.dispatcher != nil {
		status = o.dispatcher.Dispatch(ctx, notify.Notification{
			Severity: severity,
			Event:    ev,
			Action:   action,
			Outcome:  outcome,
		})
	}

	telemetry.RecordNotificationEvent(span, ev, severity, status)
	if status != notify.StatusSent && status != notify.StatusDisabled {
		o.metrics.RecordNotificationFailure(ctx, severity)
	}
	return status
}

func (o *Orchestrator) duplicate(ctx context.Context, key types.LedgerKey) *Result {
	o.logger.LogDuplicate(ctx, key)
	o.metrics.RecordDuplicate(ctx)
	return &Result{Key: key, Duplicate: true}
}

func (o *Orchestrator) release(ctx context.Context, key types.LedgerKey) {
	if err := o.ledger.Release(context.WithoutCancel(ctx), key); err != nil {
		o.logger.LogStorageError(ctx, "release", err)
	}
}

func (o *Orchestrator) fail(ctx context.Context, span trace.Span, stage string, err error) error {
	reason := "terminal"
	if types.IsRetryable(err) {
		reason = "retryable"
	}
	o.metrics.RecordRejected(ctx, reason)
	span.RecordError(err)
	span.SetStatus(codes.Error, stage)
	return err
}
