package notify

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/evansosei0707/Enterprise-Grade-Cloud-Governance-Platform-on-AWS/types"
)

const (
	maxSubjectLength = 100
	footer           = "Cloud Governance Platform"
)

var severityColors = map[types.Severity]string{
	types.SeverityLow:    "#36a64f",
	types.SeverityMedium: "#ff9800",
	types.SeverityHigh:   "#ff0000",
}

var severityEmoji = map[types.Severity]string{
	types.SeverityLow:    "🟢",
	types.SeverityMedium: "🟠",
	types.SeverityHigh:   "🔴",
}

// Subject renders the email subject, capped at the SNS limit
func Subject(n Notification) string {
	subject := fmt.Sprintf("[%s] Config Rule Violation: %s", n.Severity, n.Event.RuleName)
	if len(subject) <= maxSubjectLength {
		return subject
	}
	// cut on a rune boundary
	cut := maxSubjectLength
	for cut > 0 && !utf8.RuneStart(subject[cut]) {
		cut--
	}
	return subject[:cut]
}

// Body renders the plain-text message
func Body(n Notification) string {
	var b strings.Builder
	ev := n.Event
	b.WriteString("AWS Config Rule Violation Detected\n")
	b.WriteString("----------------------------------\n")
	fmt.Fprintf(&b, "Severity: %s\n", n.Severity)
	fmt.Fprintf(&b, "Rule: %s\n", ev.RuleName)
	fmt.Fprintf(&b, "Account: %s\n", ev.AccountID)
	fmt.Fprintf(&b, "Region: %s\n", ev.Region)
	fmt.Fprintf(&b, "Resource Type: %s\n", ev.ResourceType)
	fmt.Fprintf(&b, "Resource: %s\n", ev.ResourceID)

	if ev.Annotation != "" {
		fmt.Fprintf(&b, "\nDetails: %s\n", ev.Annotation)
	}

	fmt.Fprintf(&b, "\n%s", guidanceFor(n).text)
	b.WriteString("\n\n--\n" + footer)
	return b.String()
}

// guidance is what the reader is asked to do, in plain and chat form
type guidance struct {
	text string
	chat string
}

func guidanceFor(n Notification) guidance {
	if n.Outcome != nil {
		switch n.Outcome.Status {
		case types.OutcomeSkippedProdGuard:
			return guidance{
				text: "Action Required: Auto-remediation is not allowed in this production account. Review and remediate manually.",
				chat: "⚠️ Auto-remediation withheld in production account",
			}
		case types.OutcomeFailed:
			return guidance{
				text: fmt.Sprintf("Action Required: Auto-remediation failed (%s). Review and remediate manually.", n.Outcome.Reason),
				chat: "🚨 Auto-remediation failed: " + n.Outcome.Reason,
			}
		}
	}

	switch n.Severity {
	case types.SeverityLow:
		return guidance{text: "Action: Auto-remediation was attempted.", chat: "✅ Auto-remediation was attempted"}
	case types.SeverityMedium:
		return guidance{text: "Action Required: Review and remediate manually if needed.", chat: "⚠️ Manual review recommended"}
	}
	return guidance{text: "Action Required: Immediate manual review required.", chat: "🚨 Immediate manual intervention required"}
}
