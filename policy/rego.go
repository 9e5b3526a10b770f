package policy

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/open-policy-agent/opa/v1/rego"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/evansosei0707/Enterprise-Grade-Cloud-Governance-Platform-on-AWS/telemetry"
	"github.com/evansosei0707/Enterprise-Grade-Cloud-Governance-Platform-on-AWS/types"
)

// SeverityQuery is the Rego rule consulted for overrides
const SeverityQuery = "data.governance.severity"

// AccountClassifier reports whether an account is production
type AccountClassifier interface {
	IsProduction(accountID string) bool
}

// RegoInput is the document handed to the Rego module
type RegoInput struct {
	RuleName       string `json:"rule_name"`
	ResourceType   string `json:"resource_type"`
	ResourceID     string `json:"resource_id"`
	AccountID      string `json:"account_id"`
	Region         string `json:"region"`
	ComplianceType string `json:"compliance_type"`
	Production     bool   `json:"production"`
}

// RegoResolver lets operators override table severities with a Rego module.
// Undefined, non-string or unknown results fall through to the fallback.
type RegoResolver struct {
	query    rego.PreparedEvalQuery
	fallback SeverityResolver
	accounts AccountClassifier
	logger   *telemetry.Logger
	tracer   trace.Tracer
}

// NewRegoResolver compiles module and wraps fallback
func NewRegoResolver(ctx context.Context, name, module string, fallback SeverityResolver, accounts AccountClassifier) (*RegoResolver, error) {
	if fallback == nil {
		return nil, fmt.Errorf("rego resolver requires a fallback resolver")
	}

	query, err := rego.New(
		rego.Query(SeverityQuery),
		rego.Module(name, module),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile policy %s: %w", name, err)
	}

	return &RegoResolver{
		query:    query,
		fallback: fallback,
		accounts: accounts,
		logger:   telemetry.NewLogger("policy-rego"),
		tracer:   otel.Tracer("policy-rego"),
	}, nil
}

// LoadRegoResolver reads a .rego file from disk
func LoadRegoResolver(ctx context.Context, path string, fallback SeverityResolver, accounts AccountClassifier) (*RegoResolver, error) {
	clean := filepath.Clean(path)
	if !strings.HasSuffix(clean, ".rego") {
		return nil, fmt.Errorf("policy file %s must have a .rego extension", path)
	}

	content, err := os.ReadFile(clean)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy file %s: %w", path, err)
	}

	return NewRegoResolver(ctx, filepath.Base(clean), string(content), fallback, accounts)
}

// Resolve evaluates the module and falls back when it has no opinion
func (r *RegoResolver) Resolve(ctx context.Context, ev types.ComplianceEvent) (types.Severity, error) {
	ctx, span := r.tracer.Start(ctx, "policy.rego.resolve",
		trace.WithAttributes(attribute.String("rule.name", ev.RuleName)))
	defer span.End()

	input := RegoInput{
		RuleName:       ev.RuleName,
		ResourceType:   ev.ResourceType,
		ResourceID:     ev.ResourceID,
		AccountID:      ev.AccountID,
		Region:         ev.Region,
		ComplianceType: string(ev.ComplianceType),
		Production:     r.accounts != nil && r.accounts.IsProduction(ev.AccountID),
	}

	results, err := r.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		r.logger.WithContext(ctx).Warn().
			Err(err).
			Str("rule_name", ev.RuleName).
			Msg("rego evaluation failed, using severity table")
		return r.fallback.Resolve(ctx, ev)
	}

	sev, ok := severityFromResults(results)
	if !ok {
		return r.fallback.Resolve(ctx, ev)
	}

	span.SetAttributes(attribute.String("severity", string(sev)))
	r.logger.WithContext(ctx).Debug().
		Str("rule_name", ev.RuleName).
		Str("severity", string(sev)).
		Msg("severity overridden by policy")
	return sev, nil
}

func severityFromResults(results rego.ResultSet) (types.Severity, bool) {
	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return "", false
	}

	value, ok := results[0].Expressions[0].Value.(string)
	if !ok {
		return "", false
	}

	sev, err := types.ParseSeverity(value)
	if err != nil {
		return "", false
	}
	return sev, true
}
