package executor

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/evansosei0707/Enterprise-Grade-Cloud-Governance-Platform-on-AWS/types"
	"github.com/evansosei0707/Enterprise-Grade-Cloud-Governance-Platform-on-AWS/wal"
)

// Attempt is one journaled remediation step
type Attempt struct {
	Sequence  int64         `json:"sequence"`
	Timestamp time.Time     `json:"timestamp"`
	Type      wal.EntryType `json:"type"`
	Request
	Action   string               `json:"action,omitempty"`
	Category types.ActionCategory `json:"category,omitempty"`
	Detail   string               `json:"detail,omitempty"`
	Duration string               `json:"duration,omitempty"`
	Error    string               `json:"error,omitempty"`
}

// attemptKey identifies one remediation across its journal entries
func (a Attempt) attemptKey() string {
	return a.EventID + "|" + a.AccountID + "|" + a.ResourceID + "|" + a.RuleName
}

// ReadJournal decodes every journal entry in dir written after since
func ReadJournal(dir string, config wal.Config, since time.Time) ([]Attempt, error) {
	var attempts []Attempt
	err := wal.ReplayWithConfig(dir, config, since, func(entry *wal.Entry) error {
		var payload journalEntry
		if err := json.Unmarshal(entry.Data, &payload); err != nil {
			return fmt.Errorf("entry %d: %w", entry.Sequence, err)
		}
		attempts = append(attempts, Attempt{
			Sequence:  entry.Sequence,
			Timestamp: entry.Timestamp,
			Type:      entry.Type,
			Request:   payload.Request,
			Action:    payload.Action,
			Category:  payload.Category,
			Detail:    payload.Detail,
			Duration:  payload.Duration,
			Error:     entry.Error,
		})
		return nil
	})
	return attempts, err
}

// Unfinished returns the attempts that were started but never reached a
// terminal entry, typically because the process died mid-call. Their
// effect on the member account is unknown.
func Unfinished(attempts []Attempt) []Attempt {
	open := make(map[string]int)
	var started []Attempt
	var finished []bool
	for _, a := range attempts {
		switch a.Type {
		case wal.EntryRemediating:
			open[a.attemptKey()] = len(started)
			started = append(started, a)
			finished = append(finished, false)
		case wal.EntryRemediated, wal.EntryFailed, wal.EntrySkipped:
			if i, ok := open[a.attemptKey()]; ok {
				finished[i] = true
				delete(open, a.attemptKey())
			}
		}
	}

	var out []Attempt
	for i, a := range started {
		if !finished[i] {
			out = append(out, a)
		}
	}
	return out
}
