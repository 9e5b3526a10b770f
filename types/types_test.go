package types

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLedgerKey(t *testing.T) {
	at := time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)
	key := NewLedgerKey("111111111111", "my-bucket", "s3-bucket-public-read-prohibited", at)

	assert.Equal(t, "111111111111#my-bucket", key.PK)
	assert.Equal(t, "2024-01-15T10:30:00.000000000Z#s3-bucket-public-read-prohibited", key.SK)
}

func TestLedgerKey_SortsChronologically(t *testing.T) {
	base := time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)
	earlier := NewLedgerKey("a", "r", "rule", base)
	later := NewLedgerKey("a", "r", "rule", base.Add(500*time.Millisecond))

	assert.Less(t, earlier.SK, later.SK)
}

func TestLedgerKey_NormalizesTimezone(t *testing.T) {
	utc := time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)
	local := utc.In(time.FixedZone("CET", 3600))

	assert.Equal(t, NewLedgerKey("a", "r", "rule", utc), NewLedgerKey("a", "r", "rule", local))
}

func TestParseTimestamp(t *testing.T) {
	got, err := ParseTimestamp("2024-01-15T10:30:00.123Z")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 1, 15, 10, 30, 0, 123000000, time.UTC), got)

	_, err = ParseTimestamp("yesterday")
	assert.Error(t, err)
}

func TestParseSeverity(t *testing.T) {
	sev, err := ParseSeverity(" medium ")
	require.NoError(t, err)
	assert.Equal(t, SeverityMedium, sev)

	_, err = ParseSeverity("CRITICAL")
	assert.Error(t, err)
}

func TestExceptionRecord_EffectiveStatus(t *testing.T) {
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	tests := []struct {
		name       string
		record     ExceptionRecord
		want       ExceptionStatus
		suppresses bool
	}{
		{"approved without expiry", ExceptionRecord{Status: ExceptionApproved}, ExceptionApproved, true},
		{"approved before expiry", ExceptionRecord{Status: ExceptionApproved, ExpiresAt: &future}, ExceptionApproved, true},
		{"approved after expiry", ExceptionRecord{Status: ExceptionApproved, ExpiresAt: &past}, ExceptionExpired, false},
		{"pending", ExceptionRecord{Status: ExceptionPending}, ExceptionPending, false},
		{"rejected", ExceptionRecord{Status: ExceptionRejected}, ExceptionRejected, false},
		{"pending past expiry stays pending", ExceptionRecord{Status: ExceptionPending, ExpiresAt: &past}, ExceptionPending, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.record.EffectiveStatus(now))
			assert.Equal(t, tt.suppresses, tt.record.Suppresses(now))
		})
	}
}

func TestExceptionRecord_ExpiryBoundary(t *testing.T) {
	expires := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	rec := ExceptionRecord{Status: ExceptionApproved, ExpiresAt: &expires}

	assert.True(t, rec.Suppresses(expires), "expiry is exclusive: now == expiresAt still suppresses")
	assert.False(t, rec.Suppresses(expires.Add(time.Nanosecond)))
}

func TestRequiredTags_Missing(t *testing.T) {
	required := DefaultRequiredTags()
	existing := map[string]string{"Owner": "team-data", "Name": "orders"}

	missing := required.Missing(existing)

	assert.Equal(t, map[string]string{
		"CostCenter":  "0000",
		"Project":     "GovernanceRemediation",
		"Environment": "Production",
	}, missing)
}

func TestRequiredTags_NothingMissing(t *testing.T) {
	required := RequiredTags{Owner: "ops"}
	assert.Empty(t, required.Missing(map[string]string{"Owner": ""}))
}

func TestTimeRange_Contains(t *testing.T) {
	at := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)

	assert.True(t, TimeRange{}.Contains(at))
	assert.True(t, TimeRange{From: at, To: at}.Contains(at))
	assert.False(t, TimeRange{From: at.Add(time.Second)}.Contains(at))
	assert.False(t, TimeRange{To: at.Add(-time.Second)}.Contains(at))
}

func TestRetryable(t *testing.T) {
	base := errors.New("throttled")
	err := fmt.Errorf("ledger write: %w", Retryable(base))

	assert.True(t, IsRetryable(err))
	assert.ErrorIs(t, err, base)
	assert.Nil(t, Retryable(nil))
	assert.False(t, IsRetryable(base))
}

func TestTypedErrors(t *testing.T) {
	err := fmt.Errorf("parse: %w", &MalformedEventError{Reason: "missing resourceId"})
	assert.True(t, IsMalformed(err))

	var denied *AccessDeniedError
	wrapped := fmt.Errorf("federate: %w", &AccessDeniedError{AccountID: "1", RoleARN: "arn", Err: errors.New("AccessDenied")})
	require.ErrorAs(t, wrapped, &denied)
	assert.Equal(t, "1", denied.AccountID)
}

func TestDecision_TerminalAction(t *testing.T) {
	d := Decision{Severity: SeverityHigh, Route: RouteLog}
	action, ok := d.TerminalAction()
	assert.True(t, ok)
	assert.Equal(t, ActionLogged, action)

	d = Decision{Severity: SeverityLow, Route: RouteRemediate}
	_, ok = d.TerminalAction()
	assert.False(t, ok)
	assert.True(t, d.IsMutating())

	d = Decision{Severity: SeverityLow, Route: RouteSkipException}
	assert.Error(t, d.Validate())
}
