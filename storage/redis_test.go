package storage

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evansosei0707/Enterprise-Grade-Cloud-Governance-Platform-on-AWS/telemetry"
	"github.com/evansosei0707/Enterprise-Grade-Cloud-Governance-Platform-on-AWS/types"
)

func newTestRedis(t *testing.T) (*RedisLedger, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := NewRedisLedgerFromClient(client, "test")
	t.Cleanup(func() { _ = store.Close() })
	return store, mr
}

func TestRedisLedger_Contract(t *testing.T) {
	testLedgerContract(t, func(t *testing.T) LedgerStore {
		store, _ := newTestRedis(t)
		return store
	})
}

func TestRedisLedger_RecordExpiresNatively(t *testing.T) {
	ctx := context.Background()
	store, mr := newTestRedis(t)
	mr.SetTime(baseTime)

	rec := testRecord("111111111111", "bucket-a", "required-tags", types.NonCompliant, 0)
	expires := baseTime.Add(time.Hour)
	rec.ExpiresAt = &expires
	require.NoError(t, store.Put(ctx, rec))
	assert.True(t, mr.Exists("test:ledger:"+rec.Key().String()))

	mr.FastForward(2 * time.Hour)

	_, err := store.Get(ctx, rec.Key())
	assert.ErrorIs(t, err, ErrNotFound)

	records, err := store.QueryByRule(ctx, "required-tags", types.TimeRange{})
	require.NoError(t, err)
	assert.Empty(t, records)

	assert.False(t, mr.Exists("test:idx:rule:required-tags"), "dangling index entries are pruned on read")
}

// failCommand fails every command with the given name
type failCommand string

func (f failCommand) DialHook(next redis.DialHook) redis.DialHook { return next }

func (f failCommand) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		if strings.EqualFold(cmd.Name(), string(f)) {
			err := errors.New("READONLY replica")
			cmd.SetErr(err)
			return err
		}
		return next(ctx, cmd)
	}
}

func (f failCommand) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return next
}

func TestRedisLedger_PruneFailureIsLogged(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	client.AddHook(failCommand("zrem"))
	store := NewRedisLedgerFromClient(client, "test")
	t.Cleanup(func() { _ = store.Close() })

	var buf bytes.Buffer
	store.logger = telemetry.NewLoggerTo(&buf, "storage")
	mr.SetTime(baseTime)

	rec := testRecord("111111111111", "bucket-a", "required-tags", types.NonCompliant, 0)
	expires := baseTime.Add(time.Hour)
	rec.ExpiresAt = &expires
	require.NoError(t, store.Put(ctx, rec))
	mr.FastForward(2 * time.Hour)

	records, err := store.QueryByRule(ctx, "required-tags", types.TimeRange{})
	require.NoError(t, err)
	assert.Empty(t, records)

	assert.Contains(t, buf.String(), "storage operation failed")
	assert.Contains(t, buf.String(), "READONLY replica")
	assert.True(t, mr.Exists("test:idx:rule:required-tags"))
}

func TestRedisLedger_ClaimLeaseExpires(t *testing.T) {
	ctx := context.Background()
	store, mr := newTestRedis(t)
	key := types.NewLedgerKey("111111111111", "bucket-a", "required-tags", baseTime)

	won, err := store.Claim(ctx, key, time.Minute)
	require.NoError(t, err)
	require.True(t, won)

	mr.FastForward(2 * time.Minute)

	won, err = store.Claim(ctx, key, time.Minute)
	require.NoError(t, err)
	assert.True(t, won)
}

func TestRedisLedger_PutClearsClaim(t *testing.T) {
	ctx := context.Background()
	store, mr := newTestRedis(t)
	rec := testRecord("111111111111", "bucket-a", "required-tags", types.NonCompliant, 0)

	won, err := store.Claim(ctx, rec.Key(), time.Minute)
	require.NoError(t, err)
	require.True(t, won)

	require.NoError(t, store.Put(ctx, rec))
	assert.False(t, mr.Exists("test:claim:"+rec.Key().String()))
}

func TestNewRedisLedger_BadURL(t *testing.T) {
	_, err := NewRedisLedger(context.Background(), "not a url", "")
	assert.Error(t, err)
}
