// Package ingest turns AWS Config compliance-change notifications into
// normalized compliance events. Anything it cannot fully trust is rejected.
package ingest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/evansosei0707/Enterprise-Grade-Cloud-Governance-Platform-on-AWS/types"
)

const (
	// MessageType is the only detail.messageType the engine accepts
	MessageType = "ComplianceChangeNotification"
	// DetailType is the EventBridge detail-type for compliance changes
	DetailType = "Config Rules Compliance Change"
)

// envelope is the EventBridge event wrapping a Config notification
type envelope struct {
	ID         string          `json:"id"`
	DetailType string          `json:"detail-type"`
	Source     string          `json:"source"`
	Account    string          `json:"account"`
	Region     string          `json:"region"`
	Time       string          `json:"time"`
	Detail     json.RawMessage `json:"detail"`
}

type detail struct {
	MessageType              string           `json:"messageType"`
	AWSAccountID             string           `json:"awsAccountId"`
	AWSRegion                string           `json:"awsRegion"`
	ConfigRuleName           string           `json:"configRuleName"`
	ResourceType             string           `json:"resourceType"`
	ResourceID               string           `json:"resourceId"`
	NotificationCreationTime string           `json:"notificationCreationTime"`
	NewEvaluationResult      evaluationResult `json:"newEvaluationResult"`
}

type evaluationResult struct {
	ComplianceType string `json:"complianceType"`
	Annotation     string `json:"annotation"`
}

// Ingestor validates raw notifications
type Ingestor struct{}

// New creates an ingestor
func New() *Ingestor {
	return &Ingestor{}
}

// Parse validates raw and returns the normalized event.
// Every rejection is a *types.MalformedEventError naming the reason.
func (i *Ingestor) Parse(raw []byte) (types.ComplianceEvent, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return types.ComplianceEvent{}, malformed("empty payload", nil)
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return types.ComplianceEvent{}, malformed("payload is not valid JSON", err)
	}
	if len(env.Detail) == 0 || string(env.Detail) == "null" {
		return types.ComplianceEvent{}, malformed("missing detail", nil)
	}
	if env.DetailType != "" && env.DetailType != DetailType {
		return types.ComplianceEvent{}, malformed(fmt.Sprintf("unsupported detail-type %q", env.DetailType), nil)
	}

	var d detail
	if err := json.Unmarshal(env.Detail, &d); err != nil {
		return types.ComplianceEvent{}, malformed("detail has unexpected shape", err)
	}
	if d.MessageType != MessageType {
		return types.ComplianceEvent{}, malformed(fmt.Sprintf("unsupported messageType %q", d.MessageType), nil)
	}

	ev := types.ComplianceEvent{
		EventID:        env.ID,
		AccountID:      firstNonEmpty(d.AWSAccountID, env.Account),
		Region:         firstNonEmpty(d.AWSRegion, env.Region),
		ResourceType:   strings.TrimSpace(d.ResourceType),
		ResourceID:     strings.TrimSpace(d.ResourceID),
		RuleName:       strings.TrimSpace(d.ConfigRuleName),
		ComplianceType: types.ComplianceType(strings.TrimSpace(d.NewEvaluationResult.ComplianceType)),
		Annotation:     d.NewEvaluationResult.Annotation,
		RawPayload:     append(json.RawMessage(nil), raw...),
	}

	if err := validate(ev); err != nil {
		return types.ComplianceEvent{}, err
	}

	occurredAt, err := occurrence(d.NotificationCreationTime, env.Time)
	if err != nil {
		return types.ComplianceEvent{}, err
	}
	ev.OccurredAt = occurredAt

	return ev, nil
}

func validate(ev types.ComplianceEvent) error {
	switch {
	case ev.AccountID == "":
		return malformed("missing awsAccountId", nil)
	case ev.Region == "":
		return malformed("missing awsRegion", nil)
	case ev.ResourceID == "":
		return malformed("missing resourceId", nil)
	case ev.RuleName == "":
		return malformed("missing configRuleName", nil)
	case ev.ComplianceType == "":
		return malformed("missing newEvaluationResult.complianceType", nil)
	case !ev.ComplianceType.Valid():
		return malformed(fmt.Sprintf("unsupported complianceType %q", ev.ComplianceType), nil)
	}
	return nil
}

// occurrence prefers the notification's own timestamp over the envelope's
func occurrence(notificationTime, envelopeTime string) (time.Time, error) {
	for _, candidate := range []string{notificationTime, envelopeTime} {
		if candidate == "" {
			continue
		}
		t, err := types.ParseTimestamp(candidate)
		if err != nil {
			return time.Time{}, malformed("unparseable notificationCreationTime", err)
		}
		return t, nil
	}
	return time.Time{}, malformed("missing notificationCreationTime", nil)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

func malformed(reason string, err error) error {
	return &types.MalformedEventError{Reason: reason, Err: err}
}
