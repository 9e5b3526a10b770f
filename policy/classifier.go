package policy

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/evansosei0707/Enterprise-Grade-Cloud-Governance-Platform-on-AWS/telemetry"
	"github.com/evansosei0707/Enterprise-Grade-Cloud-Governance-Platform-on-AWS/types"
)

// ExceptionLookup returns the exception suppressing key right now, or nil
type ExceptionLookup interface {
	Active(ctx context.Context, key types.ExceptionKey) (*types.ExceptionRecord, error)
}

// Classifier turns a compliance event into a routing decision.
// It reads the exception store but never writes anything.
type Classifier struct {
	severity   SeverityResolver
	exceptions ExceptionLookup
	logger     *telemetry.Logger
	tracer     trace.Tracer
}

// NewClassifier creates a classifier. A nil lookup means no exceptions exist.
func NewClassifier(severity SeverityResolver, exceptions ExceptionLookup) *Classifier {
	if severity == nil {
		severity = DefaultSeverityTable()
	}
	if exceptions == nil {
		exceptions = noExceptions{}
	}
	return &Classifier{
		severity:   severity,
		exceptions: exceptions,
		logger:     telemetry.NewLogger("policy-classifier"),
		tracer:     otel.Tracer("policy-classifier"),
	}
}

// Classify resolves severity, then applies compliance state, exceptions and
// the severity tier in that order. An exception lookup failure is retryable:
// a resource with unknown whitelist status is never routed to remediation.
func (c *Classifier) Classify(ctx context.Context, ev types.ComplianceEvent) (types.Decision, error) {
	ctx, span := c.tracer.Start(ctx, "policy.classify",
		trace.WithAttributes(
			attribute.String("rule.name", ev.RuleName),
			attribute.String("account.id", ev.AccountID),
		))
	defer span.End()

	decision := types.Decision{Severity: c.resolveSeverity(ctx, ev)}

	switch {
	case !ev.ComplianceType.Actionable():
		decision.Route = types.RouteLog
		decision.Reason = fmt.Sprintf("resource is %s", ev.ComplianceType)
	default:
		exception, err := c.exceptions.Active(ctx, ev.ExceptionKey())
		if err != nil {
			c.logger.LogStorageError(ctx, "exception_lookup", err)
			return types.Decision{}, types.Retryable(fmt.Errorf("exception lookup for %s: %w", ev.ExceptionKey(), err))
		}
		if exception != nil {
			decision.Route = types.RouteSkipException
			decision.Exception = exception
			decision.Reason = "approved exception " + exception.ID
			break
		}
		decision.Route, decision.Reason = routeForSeverity(decision.Severity)
	}

	telemetry.RecordDecisionEvent(span, ev, decision)
	c.logger.LogDecision(ctx, ev, decision)
	return decision, nil
}

func (c *Classifier) resolveSeverity(ctx context.Context, ev types.ComplianceEvent) types.Severity {
	sev, err := c.severity.Resolve(ctx, ev)
	if err != nil {
		var unknown *types.UnknownRuleError
		if errors.As(err, &unknown) {
			c.logger.WithContext(ctx).Warn().
				Err(err).
				Str("rule_name", ev.RuleName).
				Msg("unknown rule, treating as HIGH")
		} else {
			c.logger.WithContext(ctx).Warn().
				Err(err).
				Str("rule_name", ev.RuleName).
				Msg("severity resolution failed")
		}
	}
	if sev == "" {
		sev = types.SeverityHigh
	}
	return sev
}

func routeForSeverity(sev types.Severity) (types.Route, string) {
	switch sev {
	case types.SeverityLow:
		return types.RouteRemediate, "low severity, auto-remediate"
	case types.SeverityMedium:
		return types.RouteNotify, "medium severity, notify owners"
	default:
		return types.RouteLog, "high severity, manual review"
	}
}

type noExceptions struct{}

func (noExceptions) Active(context.Context, types.ExceptionKey) (*types.ExceptionRecord, error) {
	return nil, nil
}
