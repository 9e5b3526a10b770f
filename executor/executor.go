// Package executor applies catalog remediations inside member accounts.
//
// A remediation is a single scoped, idempotent API operation. The engine
// never retries: a failed attempt is reported and redelivery of the event
// decides whether it runs again.
package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/evansosei0707/Enterprise-Grade-Cloud-Governance-Platform-on-AWS/federation"
	"github.com/evansosei0707/Enterprise-Grade-Cloud-Governance-Platform-on-AWS/telemetry"
	"github.com/evansosei0707/Enterprise-Grade-Cloud-Governance-Platform-on-AWS/types"
	"github.com/evansosei0707/Enterprise-Grade-Cloud-Governance-Platform-on-AWS/wal"
)

// Engine executes remediations with safety checks and journaling
type Engine struct {
	catalog       *Catalog
	federator     federation.Federator
	clients       ClientFactory
	wal           *wal.WAL
	options       ExecutorOptions
	safetyChecker SafetyChecker
	now           func() time.Time
	logger        *telemetry.Logger
	tracer        trace.Tracer
}

// NewEngine creates a new executor engine. walInstance may be nil, in
// which case attempts are only logged.
func NewEngine(
	catalog *Catalog,
	federator federation.Federator,
	clients ClientFactory,
	accounts AccountClassifier,
	walInstance *wal.WAL,
	options ExecutorOptions,
) *Engine {
	if options.Timeout <= 0 {
		options.Timeout = DefaultTimeout
	}
	if options.Partition == "" {
		options.Partition = DefaultPartition
	}
	if options.RestrictedCategories == nil {
		options.RestrictedCategories = DefaultRestrictedCategories()
	}
	if clients == nil {
		clients = AWSClientFactory{}
	}

	return &Engine{
		catalog:       catalog,
		federator:     federator,
		clients:       clients,
		wal:           walInstance,
		options:       options,
		safetyChecker: NewDefaultSafetyChecker(accounts, options.RestrictedCategories),
		now:           time.Now,
		logger:        telemetry.NewLogger("executor"),
		tracer:        otel.Tracer("executor"),
	}
}

// SetSafetyChecker replaces the default safety checks
func (e *Engine) SetSafetyChecker(checker SafetyChecker) {
	e.safetyChecker = checker
}

// Catalog returns the engine's action catalog
func (e *Engine) Catalog() *Catalog {
	return e.catalog
}

// Remediate runs the catalog action for req and reports what happened.
// It resolves the action, applies the safety checks, federates into the
// account and performs one operation under the configured timeout.
func (e *Engine) Remediate(ctx context.Context, req Request) types.RemediationOutcome {
	ctx, span := e.tracer.Start(ctx, "executor.remediate",
		trace.WithAttributes(
			attribute.String("account.id", req.AccountID),
			attribute.String("resource.id", req.ResourceID),
			attribute.String("rule.name", req.RuleName),
		))
	defer span.End()

	outcome := types.RemediationOutcome{StartedAt: e.now().UTC()}
	if req.Partition == "" {
		req.Partition = e.options.Partition
	}

	action, ok := e.catalog.Lookup(req.RuleName)
	if !ok {
		return e.failOutcome(ctx, span, req, outcome, "no catalog action", &types.UnknownRemediationError{RuleName: req.RuleName})
	}
	outcome.Action = action.Name
	outcome.Category = action.Category
	span.SetAttributes(attribute.String("action.name", action.Name))

	if blocked, check := e.blockingCheck(ctx, req, action); blocked {
		if check.Severity == SeverityCritical {
			return e.skipOutcome(ctx, span, req, outcome, check)
		}
		err := check.Err
		if err == nil {
			err = errors.New(check.Message)
		}
		return e.failOutcome(ctx, span, req, outcome, check.Name, err)
	}

	// An attempt that cannot be journaled is not attempted.
	if err := e.journal(wal.EntryRemediating, req, outcome, "", nil); err != nil {
		return e.failOutcome(ctx, span, req, outcome, "journal unavailable", err)
	}

	// The timeout bounds the whole round trip, federation included.
	execCtx, cancel := context.WithTimeout(ctx, e.options.Timeout)
	defer cancel()

	cfg, err := e.federator.Federate(execCtx, req.AccountID, req.Region)
	if err != nil {
		if errors.Is(execCtx.Err(), context.DeadlineExceeded) {
			return e.failOutcome(ctx, span, req, outcome, "timeout",
				fmt.Errorf("federation into %s timed out after %s: %w", req.AccountID, e.options.Timeout, err))
		}
		return e.failOutcome(ctx, span, req, outcome, "federation failed", err)
	}

	detail, err := action.Apply(execCtx, e.clients.NewClients(cfg), req)
	if err != nil {
		if errors.Is(execCtx.Err(), context.DeadlineExceeded) {
			return e.failOutcome(ctx, span, req, outcome, "timeout",
				fmt.Errorf("%s timed out after %s: %w", action.Name, e.options.Timeout, err))
		}
		return e.failOutcome(ctx, span, req, outcome, "remediation failed", err)
	}

	outcome.Status = types.OutcomeSuccess
	outcome.Reason = detail
	outcome.FinishedAt = e.now().UTC()
	e.journalAfter(ctx, wal.EntryRemediated, req, outcome, nil)
	span.SetStatus(codes.Ok, detail)
	return outcome
}

// blockingCheck returns the most severe failed check, critical first
func (e *Engine) blockingCheck(ctx context.Context, req Request, action Action) (bool, SafetyCheck) {
	var blocking *SafetyCheck
	for _, check := range e.safetyChecker.CheckSafety(ctx, req, action) {
		if check.Passed {
			continue
		}
		if check.Severity == SeverityWarning {
			e.logger.WithContext(ctx).Warn().
				Str("check", check.Name).
				Str("resource_id", req.ResourceID).
				Msg(check.Message)
			continue
		}
		if blocking == nil || (check.Severity == SeverityCritical && blocking.Severity != SeverityCritical) {
			c := check
			blocking = &c
		}
	}
	if blocking == nil {
		return false, SafetyCheck{}
	}
	return true, *blocking
}

func (e *Engine) skipOutcome(ctx context.Context, span trace.Span, req Request, outcome types.RemediationOutcome, check SafetyCheck) types.RemediationOutcome {
	outcome.Status = types.OutcomeSkippedProdGuard
	outcome.Reason = check.Message
	outcome.Err = check.Err
	outcome.FinishedAt = e.now().UTC()

	e.journalAfter(ctx, wal.EntrySkipped, req, outcome, check.Err)
	span.SetAttributes(attribute.String("skip.reason", check.Name))
	return outcome
}

func (e *Engine) failOutcome(ctx context.Context, span trace.Span, req Request, outcome types.RemediationOutcome, stage string, err error) types.RemediationOutcome {
	outcome.Status = types.OutcomeFailed
	outcome.Reason = fmt.Sprintf("%s: %v", stage, err)
	outcome.Err = err
	outcome.FinishedAt = e.now().UTC()

	e.journalAfter(ctx, wal.EntryFailed, req, outcome, err)
	span.RecordError(err)
	span.SetStatus(codes.Error, stage)
	return outcome
}

func (e *Engine) journal(entryType wal.EntryType, req Request, outcome types.RemediationOutcome, detail string, cause error) error {
	if e.wal == nil {
		return nil
	}

	entry := journalEntry{
		Request:  req,
		Action:   outcome.Action,
		Category: outcome.Category,
		Detail:   detail,
	}
	if !outcome.FinishedAt.IsZero() {
		entry.Duration = outcome.FinishedAt.Sub(outcome.StartedAt).String()
	}

	if cause != nil {
		return e.wal.AppendError(entryType, req.ResourceID, entry, cause)
	}
	return e.wal.Append(entryType, req.ResourceID, entry)
}

// journalAfter records a finished attempt; the outcome stands even if the
// journal write fails
func (e *Engine) journalAfter(ctx context.Context, entryType wal.EntryType, req Request, outcome types.RemediationOutcome, cause error) {
	if err := e.journal(entryType, req, outcome, outcome.Reason, cause); err != nil {
		e.logger.WithContext(ctx).Error().
			Err(err).
			Str("entry_type", string(entryType)).
			Str("resource_id", req.ResourceID).
			Msg("failed to journal remediation")
	}
}
