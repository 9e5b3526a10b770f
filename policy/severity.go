// Package policy decides what the engine should do with a compliance event.
//
// Severity comes from an immutable rule table, optionally overridden by an
// operator-supplied Rego module. The Classifier combines severity, compliance
// state and the whitelist into a routing Decision. It never acts on AWS.
package policy

import (
	"context"
	"sort"

	"github.com/evansosei0707/Enterprise-Grade-Cloud-Governance-Platform-on-AWS/types"
)

// SeverityResolver maps an event to its severity tier.
// A non-nil error alongside a severity is advisory: callers use the severity.
type SeverityResolver interface {
	Resolve(ctx context.Context, ev types.ComplianceEvent) (types.Severity, error)
}

// SeverityTable is a read-only rule → severity lookup
type SeverityTable struct {
	entries map[string]types.Severity
}

// NewSeverityTable copies entries into a new table
func NewSeverityTable(entries map[string]types.Severity) SeverityTable {
	copied := make(map[string]types.Severity, len(entries))
	for rule, sev := range entries {
		copied[rule] = sev
	}
	return SeverityTable{entries: copied}
}

// DefaultSeverityTable returns the built-in rule mapping
func DefaultSeverityTable() SeverityTable {
	return NewSeverityTable(map[string]types.Severity{
		"required-tags":                            types.SeverityLow,
		"s3-bucket-public-read-prohibited":         types.SeverityLow,
		"s3-bucket-level-public-access-prohibited": types.SeverityLow,
		"restricted-ssh":                           types.SeverityLow,
		"restricted-rdp":                           types.SeverityLow,
		"rds-instance-public-access-check":         types.SeverityLow,
		"ec2-ebs-encryption-by-default":            types.SeverityLow,
		"s3-bucket-public-write-prohibited":        types.SeverityMedium,
		"restricted-common-ports":                  types.SeverityMedium,
		"ec2-instance-managed-by-ssm":              types.SeverityHigh,
		"iam-user-mfa-enabled":                     types.SeverityHigh,
		"root-account-mfa-enabled":                 types.SeverityHigh,
	})
}

// With returns a new table with overrides applied on top of t
func (t SeverityTable) With(overrides map[string]types.Severity) SeverityTable {
	merged := make(map[string]types.Severity, len(t.entries)+len(overrides))
	for rule, sev := range t.entries {
		merged[rule] = sev
	}
	for rule, sev := range overrides {
		merged[rule] = sev
	}
	return SeverityTable{entries: merged}
}

// Lookup returns the configured severity for rule
func (t SeverityTable) Lookup(rule string) (types.Severity, bool) {
	sev, ok := t.entries[rule]
	return sev, ok
}

// Rules lists the configured rule names in order
func (t SeverityTable) Rules() []string {
	rules := make([]string, 0, len(t.entries))
	for rule := range t.entries {
		rules = append(rules, rule)
	}
	sort.Strings(rules)
	return rules
}

// Resolve returns HIGH with an UnknownRuleError for rules not in the table
func (t SeverityTable) Resolve(_ context.Context, ev types.ComplianceEvent) (types.Severity, error) {
	if sev, ok := t.entries[ev.RuleName]; ok {
		return sev, nil
	}
	return types.SeverityHigh, &types.UnknownRuleError{RuleName: ev.RuleName}
}
