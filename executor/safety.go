package executor

import (
	"context"
	"fmt"
	"strings"

	"github.com/evansosei0707/Enterprise-Grade-Cloud-Governance-Platform-on-AWS/types"
)

// DefaultSafetyChecker runs the pre-federation checks
type DefaultSafetyChecker struct {
	checks []SafetyCheckFunc
}

// SafetyCheckFunc represents a single safety check function
type SafetyCheckFunc func(ctx context.Context, req Request, action Action) SafetyCheck

// NewDefaultSafetyChecker creates a checker with the standard checks.
// accounts may be nil when no account is production.
func NewDefaultSafetyChecker(accounts AccountClassifier, restricted []types.ActionCategory) *DefaultSafetyChecker {
	return &DefaultSafetyChecker{
		checks: []SafetyCheckFunc{
			checkTarget,
			checkResourceType,
			productionGuard(accounts, restricted),
		},
	}
}

// CheckSafety runs all safety checks on a request
func (sc *DefaultSafetyChecker) CheckSafety(ctx context.Context, req Request, action Action) []SafetyCheck {
	results := make([]SafetyCheck, 0, len(sc.checks))
	for _, checkFunc := range sc.checks {
		results = append(results, checkFunc(ctx, req, action))
	}
	return results
}

func checkTarget(_ context.Context, req Request, _ Action) SafetyCheck {
	check := SafetyCheck{
		Name:        "target_check",
		Description: "Verify the request names an account, region and resource",
		Passed:      true,
		Severity:    SeverityError,
	}

	var missing []string
	if req.AccountID == "" {
		missing = append(missing, "account")
	}
	if req.Region == "" {
		missing = append(missing, "region")
	}
	if req.ResourceID == "" {
		missing = append(missing, "resource")
	}
	if len(missing) > 0 {
		check.Passed = false
		check.Message = "request is missing " + strings.Join(missing, ", ")
	}
	return check
}

func checkResourceType(_ context.Context, req Request, action Action) SafetyCheck {
	check := SafetyCheck{
		Name:        "resource_type_check",
		Description: "Verify the action handles this resource type",
		Passed:      true,
		Severity:    SeverityError,
	}

	if !action.Supports(req.ResourceType) {
		check.Passed = false
		check.Message = fmt.Sprintf("%s does not handle %s", action.Name, req.ResourceType)
		check.Err = &types.UnknownRemediationError{RuleName: req.RuleName, ResourceType: req.ResourceType}
	}
	return check
}

// productionGuard withholds restricted categories from production accounts
func productionGuard(accounts AccountClassifier, restricted []types.ActionCategory) SafetyCheckFunc {
	blocked := make(map[types.ActionCategory]bool, len(restricted))
	for _, category := range restricted {
		blocked[category] = true
	}

	return func(_ context.Context, req Request, action Action) SafetyCheck {
		check := SafetyCheck{
			Name:        "production_guard",
			Description: "Keep network changes out of production accounts",
			Passed:      true,
			Severity:    SeverityCritical,
		}

		if accounts == nil || !blocked[action.Category] || !accounts.IsProduction(req.AccountID) {
			return check
		}

		check.Passed = false
		check.Err = &types.ProductionGuardError{
			AccountID: req.AccountID,
			Action:    action.Name,
			Category:  action.Category,
		}
		check.Message = check.Err.Error()
		return check
	}
}
