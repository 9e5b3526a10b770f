package types

import (
	"errors"
	"fmt"
)

// MalformedEventError rejects an inbound event that cannot be trusted
type MalformedEventError struct {
	Reason string
	Err    error
}

func (e *MalformedEventError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("malformed compliance event: %s: %v", e.Reason, e.Err)
	}
	return "malformed compliance event: " + e.Reason
}

func (e *MalformedEventError) Unwrap() error { return e.Err }

// UnknownRuleError marks a rule missing from the severity table
type UnknownRuleError struct {
	RuleName string
}

func (e *UnknownRuleError) Error() string {
	return fmt.Sprintf("rule %q has no severity mapping", e.RuleName)
}

// AccessDeniedError reports a failed role assumption into a member account
type AccessDeniedError struct {
	AccountID string
	RoleARN   string
	Err       error
}

func (e *AccessDeniedError) Error() string {
	return fmt.Sprintf("cannot assume %s in account %s: %v", e.RoleARN, e.AccountID, e.Err)
}

func (e *AccessDeniedError) Unwrap() error { return e.Err }

// UnknownRemediationError reports a rule, or a rule/resource type pair,
// with no catalog action
type UnknownRemediationError struct {
	RuleName     string
	ResourceType string
}

func (e *UnknownRemediationError) Error() string {
	if e.ResourceType != "" {
		return fmt.Sprintf("no remediation action for rule %q on resource type %s", e.RuleName, e.ResourceType)
	}
	return fmt.Sprintf("no remediation action registered for rule %q", e.RuleName)
}

// ProductionGuardError reports an action withheld from a production account
type ProductionGuardError struct {
	AccountID string
	Action    string
	Category  ActionCategory
}

func (e *ProductionGuardError) Error() string {
	return fmt.Sprintf("action %s (%s) is not allowed in production account %s", e.Action, e.Category, e.AccountID)
}

// RetryableError wraps a failure the event source should redeliver
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string { return "retryable: " + e.Err.Error() }

func (e *RetryableError) Unwrap() error { return e.Err }

// Retryable wraps err so callers can tell redelivery may succeed
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return &RetryableError{Err: err}
}

// IsRetryable reports whether err, or anything it wraps, is retryable
func IsRetryable(err error) bool {
	var re *RetryableError
	return errors.As(err, &re)
}

// IsMalformed reports whether err is a validation failure
func IsMalformed(err error) bool {
	var me *MalformedEventError
	return errors.As(err, &me)
}
