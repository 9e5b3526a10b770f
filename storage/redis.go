package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/evansosei0707/Enterprise-Grade-Cloud-Governance-Platform-on-AWS/telemetry"
	"github.com/evansosei0707/Enterprise-Grade-Cloud-Governance-Platform-on-AWS/types"
)

// putIfAbsentScript stores the record, its expiry and index entries
// atomically. KEYS: record, claim, indexes...; ARGV: payload, expireat, score.
var putIfAbsentScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
  return 0
end
redis.call('SET', KEYS[1], ARGV[1])
if tonumber(ARGV[2]) > 0 then
  redis.call('EXPIREAT', KEYS[1], ARGV[2])
end
redis.call('DEL', KEYS[2])
for i = 3, #KEYS do
  redis.call('ZADD', KEYS[i], ARGV[3], KEYS[1])
end
return 1
`)

// claimScript leases KEYS[2] for ARGV[1] ms unless record KEYS[1] exists
var claimScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
  return 0
end
if redis.call('SET', KEYS[2], '1', 'NX', 'PX', ARGV[1]) then
  return 1
end
return 0
`)

// RedisLedger keeps ledger records as JSON strings with native expiry and
// sorted-set indexes scored by occurrence time.
type RedisLedger struct {
	client *redis.Client
	prefix string
	logger *telemetry.Logger
}

// NewRedisLedger connects to the Redis URL and verifies the connection
func NewRedisLedger(ctx context.Context, url, prefix string) (*RedisLedger, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return NewRedisLedgerFromClient(client, prefix), nil
}

// NewRedisLedgerFromClient wraps an existing client
func NewRedisLedgerFromClient(client *redis.Client, prefix string) *RedisLedger {
	if prefix == "" {
		prefix = "governor"
	}
	return &RedisLedger{client: client, prefix: prefix, logger: telemetry.NewLogger("storage")}
}

// Put stores rec unless its key exists
func (r *RedisLedger) Put(ctx context.Context, rec types.LedgerRecord) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode ledger record: %w", err)
	}

	var expireAt int64
	if rec.ExpiresAt != nil {
		expireAt = rec.ExpiresAt.Unix()
	}

	keys := []string{
		r.recordKey(rec.Key()),
		r.claimKey(rec.Key()),
		r.resourceIndex(rec.PK),
		r.ruleIndex(rec.RuleName),
		r.complianceIndex(rec.ComplianceType),
	}
	stored, err := putIfAbsentScript.Run(ctx, r.client, keys, payload, expireAt, score(rec.OccurredAt)).Int()
	if err != nil {
		return fmt.Errorf("put ledger record %s: %w", rec.Key(), err)
	}
	if stored == 0 {
		return ErrRecordExists
	}
	return nil
}

// Get returns the record stored under key
func (r *RedisLedger) Get(ctx context.Context, key types.LedgerKey) (*types.LedgerRecord, error) {
	data, err := r.client.Get(ctx, r.recordKey(key)).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get ledger record %s: %w", key, err)
	}

	var rec types.LedgerRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("corrupt ledger record %s: %w", key, err)
	}
	return &rec, nil
}

// QueryByResource reads the resource index, oldest first
func (r *RedisLedger) QueryByResource(ctx context.Context, accountID, resourceID string, window types.TimeRange) ([]types.LedgerRecord, error) {
	return r.queryIndex(ctx, r.resourceIndex(types.ResourcePartition(accountID, resourceID)), window)
}

// QueryByRule reads the rule index, oldest first
func (r *RedisLedger) QueryByRule(ctx context.Context, ruleName string, window types.TimeRange) ([]types.LedgerRecord, error) {
	return r.queryIndex(ctx, r.ruleIndex(ruleName), window)
}

// QueryByCompliance reads the compliance-type index, oldest first
func (r *RedisLedger) QueryByCompliance(ctx context.Context, complianceType types.ComplianceType, window types.TimeRange) ([]types.LedgerRecord, error) {
	return r.queryIndex(ctx, r.complianceIndex(complianceType), window)
}

func (r *RedisLedger) queryIndex(ctx context.Context, index string, window types.TimeRange) ([]types.LedgerRecord, error) {
	bounds := &redis.ZRangeBy{Min: "-inf", Max: "+inf"}
	if !window.From.IsZero() {
		bounds.Min = strconv.FormatInt(score(window.From), 10)
	}
	if !window.To.IsZero() {
		bounds.Max = strconv.FormatInt(score(window.To), 10)
	}

	members, err := r.client.ZRangeByScore(ctx, index, bounds).Result()
	if err != nil {
		return nil, fmt.Errorf("query index %s: %w", index, err)
	}
	if len(members) == 0 {
		return nil, nil
	}

	values, err := r.client.MGet(ctx, members...).Result()
	if err != nil {
		return nil, fmt.Errorf("load records from %s: %w", index, err)
	}

	var out []types.LedgerRecord
	var stale []interface{}
	for i, v := range values {
		s, ok := v.(string)
		if !ok {
			// expired record; drop the dangling index entry
			stale = append(stale, members[i])
			continue
		}
		var rec types.LedgerRecord
		if err := json.Unmarshal([]byte(s), &rec); err != nil {
			return nil, fmt.Errorf("corrupt ledger record %s: %w", members[i], err)
		}
		if window.Contains(rec.OccurredAt) {
			out = append(out, rec)
		}
	}
	if len(stale) > 0 {
		// the read still succeeds; the next query retries the prune
		if err := r.client.ZRem(ctx, index, stale...).Err(); err != nil {
			r.logger.LogStorageError(ctx, "prune "+index, err)
		}
	}
	sortChronologically(out)
	return out, nil
}

// Claim leases key unless a live lease or the record exists
func (r *RedisLedger) Claim(ctx context.Context, key types.LedgerKey, lease time.Duration) (bool, error) {
	won, err := claimScript.Run(ctx, r.client, []string{r.recordKey(key), r.claimKey(key)}, lease.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("claim %s: %w", key, err)
	}
	return won == 1, nil
}

// Release drops the lease on key
func (r *RedisLedger) Release(ctx context.Context, key types.LedgerKey) error {
	if err := r.client.Del(ctx, r.claimKey(key)).Err(); err != nil {
		return fmt.Errorf("release %s: %w", key, err)
	}
	return nil
}

// Close closes the client
func (r *RedisLedger) Close() error {
	return r.client.Close()
}

func (r *RedisLedger) recordKey(key types.LedgerKey) string {
	return r.prefix + ":ledger:" + key.String()
}

func (r *RedisLedger) claimKey(key types.LedgerKey) string {
	return r.prefix + ":claim:" + key.String()
}

func (r *RedisLedger) resourceIndex(pk string) string {
	return r.prefix + ":idx:resource:" + pk
}

func (r *RedisLedger) ruleIndex(rule string) string {
	return r.prefix + ":idx:rule:" + rule
}

func (r *RedisLedger) complianceIndex(ct types.ComplianceType) string {
	return r.prefix + ":idx:compliance:" + string(ct)
}

// score fits microsecond timestamps inside a float64 mantissa
func score(t time.Time) int64 {
	return t.UnixMicro()
}
