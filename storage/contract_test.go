package storage

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evansosei0707/Enterprise-Grade-Cloud-Governance-Platform-on-AWS/types"
)

var baseTime = time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)

func testRecord(account, resource, rule string, ct types.ComplianceType, offset time.Duration) types.LedgerRecord {
	ev := types.ComplianceEvent{
		AccountID:      account,
		Region:         "us-east-1",
		ResourceType:   "AWS::S3::Bucket",
		ResourceID:     resource,
		RuleName:       rule,
		ComplianceType: ct,
		OccurredAt:     baseTime.Add(offset),
	}
	rec := types.NewLedgerRecord(ev, types.SeverityLow, types.ActionRemediated)
	rec.ProcessedAt = baseTime.Add(offset + time.Second)
	rec.Outcome = &types.RemediationOutcome{Status: types.OutcomeSuccess, Action: "block-s3-public-access"}
	return rec
}

// testLedgerContract exercises the behaviour every LedgerStore backend shares
func testLedgerContract(t *testing.T, newStore func(t *testing.T) LedgerStore) {
	ctx := context.Background()

	t.Run("put then get", func(t *testing.T) {
		store := newStore(t)
		rec := testRecord("111111111111", "bucket-a", "s3-bucket-public-read-prohibited", types.NonCompliant, 0)

		require.NoError(t, store.Put(ctx, rec))

		got, err := store.Get(ctx, rec.Key())
		require.NoError(t, err)
		assert.Equal(t, rec.Action, got.Action)
		assert.Equal(t, rec.Severity, got.Severity)
		assert.True(t, rec.OccurredAt.Equal(got.OccurredAt))
		require.NotNil(t, got.Outcome)
		assert.Equal(t, types.OutcomeSuccess, got.Outcome.Status)
	})

	t.Run("second put is rejected and first record survives", func(t *testing.T) {
		store := newStore(t)
		first := testRecord("111111111111", "bucket-a", "required-tags", types.NonCompliant, 0)
		second := first
		second.Action = types.ActionNotified

		require.NoError(t, store.Put(ctx, first))
		assert.ErrorIs(t, store.Put(ctx, second), ErrRecordExists)

		got, err := store.Get(ctx, first.Key())
		require.NoError(t, err)
		assert.Equal(t, types.ActionRemediated, got.Action)
	})

	t.Run("missing key", func(t *testing.T) {
		store := newStore(t)
		_, err := store.Get(ctx, types.LedgerKey{PK: "nope#nope", SK: "x"})
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("query by resource is chronological and windowed", func(t *testing.T) {
		store := newStore(t)
		for _, offset := range []time.Duration{2 * time.Hour, 0, time.Hour} {
			require.NoError(t, store.Put(ctx, testRecord("111111111111", "bucket-a", "required-tags", types.NonCompliant, offset)))
		}
		require.NoError(t, store.Put(ctx, testRecord("111111111111", "bucket-b", "required-tags", types.NonCompliant, 0)))

		all, err := store.QueryByResource(ctx, "111111111111", "bucket-a", types.TimeRange{})
		require.NoError(t, err)
		require.Len(t, all, 3)
		assert.True(t, all[0].OccurredAt.Equal(baseTime))
		assert.True(t, all[2].OccurredAt.Equal(baseTime.Add(2*time.Hour)))

		windowed, err := store.QueryByResource(ctx, "111111111111", "bucket-a", types.TimeRange{From: baseTime.Add(30 * time.Minute)})
		require.NoError(t, err)
		assert.Len(t, windowed, 2)
	})

	t.Run("query by rule and compliance type", func(t *testing.T) {
		store := newStore(t)
		require.NoError(t, store.Put(ctx, testRecord("111111111111", "bucket-a", "required-tags", types.NonCompliant, time.Hour)))
		require.NoError(t, store.Put(ctx, testRecord("222222222222", "bucket-c", "required-tags", types.Compliant, 0)))
		require.NoError(t, store.Put(ctx, testRecord("111111111111", "bucket-a", "restricted-ssh", types.NonCompliant, 0)))

		byRule, err := store.QueryByRule(ctx, "required-tags", types.TimeRange{})
		require.NoError(t, err)
		require.Len(t, byRule, 2)
		assert.Equal(t, "222222222222", byRule[0].AccountID, "oldest first")

		nonCompliant, err := store.QueryByCompliance(ctx, types.NonCompliant, types.TimeRange{To: baseTime.Add(30 * time.Minute)})
		require.NoError(t, err)
		require.Len(t, nonCompliant, 1)
		assert.Equal(t, "restricted-ssh", nonCompliant[0].RuleName)
	})

	t.Run("claim is exclusive until released", func(t *testing.T) {
		store := newStore(t)
		key := types.NewLedgerKey("111111111111", "bucket-a", "required-tags", baseTime)

		won, err := store.Claim(ctx, key, time.Minute)
		require.NoError(t, err)
		assert.True(t, won)

		won, err = store.Claim(ctx, key, time.Minute)
		require.NoError(t, err)
		assert.False(t, won)

		require.NoError(t, store.Release(ctx, key))
		won, err = store.Claim(ctx, key, time.Minute)
		require.NoError(t, err)
		assert.True(t, won)
	})

	t.Run("claim fails once the record exists", func(t *testing.T) {
		store := newStore(t)
		rec := testRecord("111111111111", "bucket-a", "required-tags", types.NonCompliant, 0)
		require.NoError(t, store.Put(ctx, rec))

		won, err := store.Claim(ctx, rec.Key(), time.Minute)
		require.NoError(t, err)
		assert.False(t, won)
	})

	t.Run("concurrent claims have one winner", func(t *testing.T) {
		store := newStore(t)
		key := types.NewLedgerKey("111111111111", "bucket-a", "required-tags", baseTime)

		var winners atomic.Int32
		var wg sync.WaitGroup
		for i := 0; i < 16; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				won, err := store.Claim(ctx, key, time.Minute)
				assert.NoError(t, err)
				if won {
					winners.Add(1)
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, int32(1), winners.Load())
	})

	t.Run("concurrent puts have one winner", func(t *testing.T) {
		store := newStore(t)
		rec := testRecord("111111111111", "bucket-a", "required-tags", types.NonCompliant, 0)

		var stored, conflicts atomic.Int32
		var wg sync.WaitGroup
		for i := 0; i < 16; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				switch err := store.Put(ctx, rec); err {
				case nil:
					stored.Add(1)
				case ErrRecordExists:
					conflicts.Add(1)
				default:
					t.Errorf("unexpected error: %v", err)
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, int32(1), stored.Load())
		assert.Equal(t, int32(15), conflicts.Load())
	})
}

// testExceptionContract exercises the behaviour every ExceptionStore backend shares
func testExceptionContract(t *testing.T, newStore func(t *testing.T) ExceptionStore) {
	ctx := context.Background()
	key := types.ExceptionKey{AccountID: "111111111111", ResourceID: "legacy-bucket", RuleName: "s3-bucket-public-read-prohibited"}

	pending := func() types.ExceptionRecord {
		return types.ExceptionRecord{
			ID:            "exc-1",
			AccountID:     key.AccountID,
			ResourceID:    key.ResourceID,
			RuleName:      key.RuleName,
			Status:        types.ExceptionPending,
			RequestedBy:   "alice@example.com",
			Justification: "static website",
			CreatedAt:     baseTime,
			UpdatedAt:     baseTime,
		}
	}

	t.Run("put get delete", func(t *testing.T) {
		store := newStore(t)
		require.NoError(t, store.PutException(ctx, pending()))

		got, err := store.GetException(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, "exc-1", got.ID)
		assert.Equal(t, types.ExceptionPending, got.Status)

		require.NoError(t, store.DeleteException(ctx, key))
		_, err = store.GetException(ctx, key)
		assert.ErrorIs(t, err, ErrNotFound)
		assert.ErrorIs(t, store.DeleteException(ctx, key), ErrNotFound)
	})

	t.Run("update is conditional on status", func(t *testing.T) {
		store := newStore(t)
		require.NoError(t, store.PutException(ctx, pending()))

		approved := pending()
		approved.Status = types.ExceptionApproved
		approved.DecidedBy = "bob@example.com"
		expires := baseTime.Add(30 * 24 * time.Hour)
		approved.ExpiresAt = &expires

		assert.ErrorIs(t, store.UpdateException(ctx, approved, types.ExceptionApproved), ErrConflict)
		require.NoError(t, store.UpdateException(ctx, approved, types.ExceptionPending))

		got, err := store.GetException(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, types.ExceptionApproved, got.Status)
		require.NotNil(t, got.ExpiresAt)
		assert.True(t, expires.Equal(*got.ExpiresAt))
	})

	t.Run("create only claims a free key", func(t *testing.T) {
		store := newStore(t)
		require.NoError(t, store.CreateException(ctx, pending()))

		second := pending()
		second.ID = "exc-2"
		second.RequestedBy = "bob@example.com"
		assert.ErrorIs(t, store.CreateException(ctx, second), ErrRecordExists)

		got, err := store.GetException(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, "exc-1", got.ID)
		assert.Equal(t, "alice@example.com", got.RequestedBy)
	})

	t.Run("concurrent creates have one winner", func(t *testing.T) {
		store := newStore(t)

		var wins atomic.Int32
		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				rec := pending()
				if err := store.CreateException(ctx, rec); err == nil {
					wins.Add(1)
				} else {
					assert.ErrorIs(t, err, ErrRecordExists)
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, int32(1), wins.Load())
	})

	t.Run("update of missing exception", func(t *testing.T) {
		store := newStore(t)
		assert.ErrorIs(t, store.UpdateException(ctx, pending(), types.ExceptionPending), ErrNotFound)
	})

	t.Run("list by stored status", func(t *testing.T) {
		store := newStore(t)
		require.NoError(t, store.PutException(ctx, pending()))

		other := pending()
		other.ResourceID = "other-bucket"
		other.Status = types.ExceptionRejected
		require.NoError(t, store.PutException(ctx, other))

		all, err := store.ListExceptions(ctx, "")
		require.NoError(t, err)
		assert.Len(t, all, 2)

		rejected, err := store.ListExceptions(ctx, types.ExceptionRejected)
		require.NoError(t, err)
		require.Len(t, rejected, 1)
		assert.Equal(t, "other-bucket", rejected[0].ResourceID)
	})
}
