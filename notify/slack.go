package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/evansosei0707/Enterprise-Grade-Cloud-Governance-Platform-on-AWS/types"
)

const (
	slackTimeout    = 10 * time.Second
	slackFooterIcon = "https://a.slack-edge.com/80588/img/services/outgoing-webhook_48.png"
	defaultColor    = "#808080"
	defaultEmoji    = "⚪"
)

// SlackNotifier posts an attachment to an incoming webhook
type SlackNotifier struct {
	webhookURL string
	channel    string
	client     *http.Client
}

// NewSlackNotifier creates a Slack notifier. channel may be empty to use
// the webhook's default.
func NewSlackNotifier(webhookURL, channel string) *SlackNotifier {
	return &SlackNotifier{
		webhookURL: webhookURL,
		channel:    channel,
		client:     &http.Client{Timeout: slackTimeout},
	}
}

type slackPayload struct {
	Channel     string            `json:"channel,omitempty"`
	Attachments []slackAttachment `json:"attachments"`
}

type slackAttachment struct {
	Color      string       `json:"color"`
	Pretext    string       `json:"pretext"`
	Title      string       `json:"title"`
	Fields     []slackField `json:"fields"`
	Footer     string       `json:"footer"`
	FooterIcon string       `json:"footer_icon"`
}

type slackField struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}

// Name implements Notifier
func (s *SlackNotifier) Name() string { return "slack" }

// Notify implements Notifier
func (s *SlackNotifier) Notify(ctx context.Context, n Notification) error {
	body, err := json.Marshal(buildSlackPayload(n, s.channel))
	if err != nil {
		return fmt.Errorf("failed to marshal slack payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create slack request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to post to slack: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("slack returned HTTP %d", resp.StatusCode)
	}
	return nil
}

func buildSlackPayload(n Notification, channel string) slackPayload {
	ev := n.Event
	fields := []slackField{
		{Title: "Severity", Value: string(n.Severity), Short: true},
		{Title: "Account", Value: ev.AccountID, Short: true},
		{Title: "Region", Value: ev.Region, Short: true},
		{Title: "Resource Type", Value: ev.ResourceType, Short: true},
		{Title: "Resource ID", Value: "`" + ev.ResourceID + "`"},
	}
	if ev.Annotation != "" {
		fields = append(fields, slackField{Title: "Details", Value: ev.Annotation})
	}
	fields = append(fields, slackField{Title: "Action", Value: guidanceFor(n).chat})

	return slackPayload{
		Channel: channel,
		Attachments: []slackAttachment{{
			Color:      lookup(severityColors, n.Severity, defaultColor),
			Pretext:    lookup(severityEmoji, n.Severity, defaultEmoji) + " *AWS Config Rule Violation Detected*",
			Title:      "Rule: " + ev.RuleName,
			Fields:     fields,
			Footer:     footer,
			FooterIcon: slackFooterIcon,
		}},
	}
}

func lookup(m map[types.Severity]string, sev types.Severity, fallback string) string {
	if v, ok := m[sev]; ok {
		return v
	}
	return fallback
}
