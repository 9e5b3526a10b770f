package storage

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"

	"github.com/evansosei0707/Enterprise-Grade-Cloud-Governance-Platform-on-AWS/types"
)

// Bucket names in bbolt
var (
	bucketLedger          = []byte("ledger")
	bucketClaims          = []byte("claims")
	bucketRuleIndex       = []byte("idx_rule")
	bucketComplianceIndex = []byte("idx_compliance")
	bucketExceptions      = []byte("exceptions")
)

// keySep joins key parts; it cannot occur in account ids, ARNs or rule names
const keySep = "\x00"

// BoltStore keeps the ledger and the exception table in one bbolt file.
// bbolt serializes write transactions, which makes every conditional
// write here a compare-and-set.
type BoltStore struct {
	db  *bbolt.DB
	now func() time.Time
}

// OpenBolt opens (or creates) governor.db in dir
func OpenBolt(dir string) (*BoltStore, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}

	db, err := bbolt.Open(filepath.Join(dir, "governor.db"), 0o600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, bucket := range [][]byte{bucketLedger, bucketClaims, bucketRuleIndex, bucketComplianceIndex, bucketExceptions} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	return &BoltStore{db: db, now: time.Now}, nil
}

// Close closes the database
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// Put writes rec and its index entries unless the key already holds a live record
func (s *BoltStore) Put(ctx context.Context, rec types.LedgerRecord) error {
	value, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode ledger record: %w", err)
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		ledger := tx.Bucket(bucketLedger)
		primary := makeLedgerKey(rec.Key())

		if existing := ledger.Get(primary); existing != nil {
			var current types.LedgerRecord
			if err := json.Unmarshal(existing, &current); err == nil && !current.Expired(s.now()) {
				return ErrRecordExists
			}
		}

		if err := ledger.Put(primary, value); err != nil {
			return err
		}
		if err := tx.Bucket(bucketRuleIndex).Put(makeIndexKey(rec.RuleName, rec), primary); err != nil {
			return err
		}
		if err := tx.Bucket(bucketComplianceIndex).Put(makeIndexKey(string(rec.ComplianceType), rec), primary); err != nil {
			return err
		}
		return tx.Bucket(bucketClaims).Delete(primary)
	})
}

// Get returns the record stored under key
func (s *BoltStore) Get(ctx context.Context, key types.LedgerKey) (*types.LedgerRecord, error) {
	var rec *types.LedgerRecord
	err := s.db.View(func(tx *bbolt.Tx) error {
		found, err := s.loadLedger(tx, makeLedgerKey(key))
		rec = found
		return err
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// QueryByResource scans the resource's partition in sort-key order
func (s *BoltStore) QueryByResource(ctx context.Context, accountID, resourceID string, window types.TimeRange) ([]types.LedgerRecord, error) {
	prefix := []byte(types.ResourcePartition(accountID, resourceID) + keySep)

	var out []types.LedgerRecord
	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(bucketLedger).Cursor()
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			var rec types.LedgerRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("corrupt ledger record %q: %w", k, err)
			}
			if !rec.Expired(s.now()) && window.Contains(rec.OccurredAt) {
				out = append(out, rec)
			}
		}
		return nil
	})
	return out, err
}

// QueryByRule walks the rule index
func (s *BoltStore) QueryByRule(ctx context.Context, ruleName string, window types.TimeRange) ([]types.LedgerRecord, error) {
	return s.queryIndex(bucketRuleIndex, ruleName, window)
}

// QueryByCompliance walks the compliance-type index
func (s *BoltStore) QueryByCompliance(ctx context.Context, complianceType types.ComplianceType, window types.TimeRange) ([]types.LedgerRecord, error) {
	return s.queryIndex(bucketComplianceIndex, string(complianceType), window)
}

func (s *BoltStore) queryIndex(bucket []byte, value string, window types.TimeRange) ([]types.LedgerRecord, error) {
	prefix := []byte(value + keySep)
	seek := prefix
	if !window.From.IsZero() {
		seek = []byte(value + keySep + types.FormatTimestamp(window.From))
	}

	var out []types.LedgerRecord
	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(bucket).Cursor()
		for k, primary := c.Seek(seek); k != nil && bytes.HasPrefix(k, prefix); k, primary = c.Next() {
			rec, err := s.loadLedger(tx, primary)
			if errors.Is(err, ErrNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			if !window.To.IsZero() && rec.OccurredAt.After(window.To) {
				break
			}
			if window.Contains(rec.OccurredAt) {
				out = append(out, *rec)
			}
		}
		return nil
	})
	return out, err
}

func (s *BoltStore) loadLedger(tx *bbolt.Tx, primary []byte) (*types.LedgerRecord, error) {
	data := tx.Bucket(bucketLedger).Get(primary)
	if data == nil {
		return nil, ErrNotFound
	}
	var rec types.LedgerRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("corrupt ledger record %q: %w", primary, err)
	}
	if rec.Expired(s.now()) {
		return nil, ErrNotFound
	}
	return &rec, nil
}

// Claim stores a lease deadline for key unless a live lease or record exists
func (s *BoltStore) Claim(ctx context.Context, key types.LedgerKey, lease time.Duration) (bool, error) {
	won := false
	err := s.db.Update(func(tx *bbolt.Tx) error {
		primary := makeLedgerKey(key)
		now := s.now()

		if _, err := s.loadLedger(tx, primary); err == nil {
			return nil
		} else if !errors.Is(err, ErrNotFound) {
			return err
		}

		claims := tx.Bucket(bucketClaims)
		if until := claims.Get(primary); until != nil && now.UnixNano() < decodeNanos(until) {
			return nil
		}
		won = true
		return claims.Put(primary, encodeNanos(now.Add(lease).UnixNano()))
	})
	return won, err
}

// Release drops the lease on key
func (s *BoltStore) Release(ctx context.Context, key types.LedgerKey) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketClaims).Delete(makeLedgerKey(key))
	})
}

// Prune deletes ledger records whose retention has lapsed
func (s *BoltStore) Prune(ctx context.Context) (int, error) {
	removed := 0
	err := s.db.Update(func(tx *bbolt.Tx) error {
		ledger := tx.Bucket(bucketLedger)
		c := ledger.Cursor()
		now := s.now()
		for k, v := c.First(); k != nil; {
			var rec types.LedgerRecord
			if err := json.Unmarshal(v, &rec); err != nil || !rec.Expired(now) {
				k, v = c.Next()
				continue
			}
			if err := tx.Bucket(bucketRuleIndex).Delete(makeIndexKey(rec.RuleName, rec)); err != nil {
				return err
			}
			if err := tx.Bucket(bucketComplianceIndex).Delete(makeIndexKey(string(rec.ComplianceType), rec)); err != nil {
				return err
			}
			next := append([]byte(nil), k...)
			if err := c.Delete(); err != nil {
				return err
			}
			removed++
			k, v = c.Seek(next)
		}
		return nil
	})
	return removed, err
}

// GetException returns the exception stored under key
func (s *BoltStore) GetException(ctx context.Context, key types.ExceptionKey) (*types.ExceptionRecord, error) {
	var rec *types.ExceptionRecord
	err := s.db.View(func(tx *bbolt.Tx) error {
		found, err := loadException(tx, key)
		rec = found
		return err
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// ListExceptions returns exceptions with the stored status, newest first
func (s *BoltStore) ListExceptions(ctx context.Context, status types.ExceptionStatus) ([]types.ExceptionRecord, error) {
	var out []types.ExceptionRecord
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketExceptions).ForEach(func(k, v []byte) error {
			var rec types.ExceptionRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("corrupt exception record %q: %w", k, err)
			}
			if status == "" || rec.Status == status {
				out = append(out, rec)
			}
			return nil
		})
	})
	sortExceptions(out)
	return out, err
}

// PutException stores rec unconditionally
func (s *BoltStore) PutException(ctx context.Context, rec types.ExceptionRecord) error {
	value, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode exception: %w", err)
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketExceptions).Put(makeExceptionKey(rec.Key()), value)
	})
}

// CreateException stores rec if no exception exists under its key
func (s *BoltStore) CreateException(ctx context.Context, rec types.ExceptionRecord) error {
	value, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode exception: %w", err)
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketExceptions)
		k := makeExceptionKey(rec.Key())
		if bucket.Get(k) != nil {
			return ErrRecordExists
		}
		return bucket.Put(k, value)
	})
}

// UpdateException replaces rec when the stored status matches expected
func (s *BoltStore) UpdateException(ctx context.Context, rec types.ExceptionRecord, expected types.ExceptionStatus) error {
	value, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode exception: %w", err)
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		current, err := loadException(tx, rec.Key())
		if err != nil {
			return err
		}
		if current.Status != expected {
			return ErrConflict
		}
		return tx.Bucket(bucketExceptions).Put(makeExceptionKey(rec.Key()), value)
	})
}

// DeleteException removes the exception under key
func (s *BoltStore) DeleteException(ctx context.Context, key types.ExceptionKey) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketExceptions)
		k := makeExceptionKey(key)
		if bucket.Get(k) == nil {
			return ErrNotFound
		}
		return bucket.Delete(k)
	})
}

func loadException(tx *bbolt.Tx, key types.ExceptionKey) (*types.ExceptionRecord, error) {
	data := tx.Bucket(bucketExceptions).Get(makeExceptionKey(key))
	if data == nil {
		return nil, ErrNotFound
	}
	var rec types.ExceptionRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("corrupt exception record %s: %w", key, err)
	}
	return &rec, nil
}

// Helper functions

func makeLedgerKey(key types.LedgerKey) []byte {
	return []byte(key.PK + keySep + key.SK)
}

// makeIndexKey sorts index entries by occurrence time within an attribute value
func makeIndexKey(value string, rec types.LedgerRecord) []byte {
	return []byte(value + keySep + types.FormatTimestamp(rec.OccurredAt) + keySep + rec.PK + keySep + rec.SK)
}

func makeExceptionKey(key types.ExceptionKey) []byte {
	return []byte(key.Partition() + keySep + key.RuleName)
}

func encodeNanos(n int64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(n))
	return buf
}

func decodeNanos(b []byte) int64 {
	if len(b) != 8 {
		return 0
	}
	return int64(binary.BigEndian.Uint64(b))
}
