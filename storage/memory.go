package storage

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/btree"

	"github.com/evansosei0707/Enterprise-Grade-Cloud-Governance-Platform-on-AWS/types"
)

// ledgerItem orders records by partition then sort key
type ledgerItem struct {
	key    types.LedgerKey
	record types.LedgerRecord
}

func lessLedgerItem(a, b ledgerItem) bool {
	if a.key.PK != b.key.PK {
		return a.key.PK < b.key.PK
	}
	return a.key.SK < b.key.SK
}

// MemoryLedger is an in-process ledger backed by a btree.
// Used by tests and one-shot CLI runs.
type MemoryLedger struct {
	mu     sync.Mutex
	index  *btree.BTreeG[ledgerItem]
	claims map[types.LedgerKey]time.Time
	now    func() time.Time
}

// NewMemoryLedger creates an empty in-memory ledger
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		index:  btree.NewG[ledgerItem](32, lessLedgerItem),
		claims: make(map[types.LedgerKey]time.Time),
		now:    time.Now,
	}
}

// Put stores rec unless its key is already present
func (m *MemoryLedger) Put(ctx context.Context, rec types.LedgerRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	item := ledgerItem{key: rec.Key(), record: rec}
	if existing, ok := m.index.Get(item); ok && !existing.record.Expired(m.now()) {
		return ErrRecordExists
	}
	m.index.ReplaceOrInsert(item)
	delete(m.claims, item.key)
	return nil
}

// Get returns the record stored under key
func (m *MemoryLedger) Get(ctx context.Context, key types.LedgerKey) (*types.LedgerRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	item, ok := m.index.Get(ledgerItem{key: key})
	if !ok || item.record.Expired(m.now()) {
		return nil, ErrNotFound
	}
	rec := item.record
	return &rec, nil
}

// QueryByResource walks the resource's partition in sort-key order
func (m *MemoryLedger) QueryByResource(ctx context.Context, accountID, resourceID string, window types.TimeRange) ([]types.LedgerRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	pk := types.ResourcePartition(accountID, resourceID)
	now := m.now()
	var out []types.LedgerRecord
	m.index.AscendGreaterOrEqual(ledgerItem{key: types.LedgerKey{PK: pk}}, func(item ledgerItem) bool {
		if item.key.PK != pk {
			return false
		}
		if !item.record.Expired(now) && window.Contains(item.record.OccurredAt) {
			out = append(out, item.record)
		}
		return true
	})
	return out, nil
}

// QueryByRule returns every record for ruleName, oldest first
func (m *MemoryLedger) QueryByRule(ctx context.Context, ruleName string, window types.TimeRange) ([]types.LedgerRecord, error) {
	return m.scan(func(rec types.LedgerRecord) bool {
		return rec.RuleName == ruleName && window.Contains(rec.OccurredAt)
	}), nil
}

// QueryByCompliance returns every record with the compliance type, oldest first
func (m *MemoryLedger) QueryByCompliance(ctx context.Context, complianceType types.ComplianceType, window types.TimeRange) ([]types.LedgerRecord, error) {
	return m.scan(func(rec types.LedgerRecord) bool {
		return rec.ComplianceType == complianceType && window.Contains(rec.OccurredAt)
	}), nil
}

func (m *MemoryLedger) scan(match func(types.LedgerRecord) bool) []types.LedgerRecord {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	var out []types.LedgerRecord
	m.index.Ascend(func(item ledgerItem) bool {
		if !item.record.Expired(now) && match(item.record) {
			out = append(out, item.record)
		}
		return true
	})
	sortChronologically(out)
	return out
}

// Claim takes a lease on key unless a live lease or a record exists
func (m *MemoryLedger) Claim(ctx context.Context, key types.LedgerKey, lease time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if item, ok := m.index.Get(ledgerItem{key: key}); ok && !item.record.Expired(now) {
		return false, nil
	}
	if until, ok := m.claims[key]; ok && now.Before(until) {
		return false, nil
	}
	m.claims[key] = now.Add(lease)
	return true, nil
}

// Release drops the lease on key
func (m *MemoryLedger) Release(ctx context.Context, key types.LedgerKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.claims, key)
	return nil
}

// Len returns the number of stored records, expired included
func (m *MemoryLedger) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.index.Len()
}

// Close is a no-op
func (m *MemoryLedger) Close() error {
	return nil
}

// sortChronologically orders records by OccurredAt, then key
func sortChronologically(records []types.LedgerRecord) {
	slices.SortStableFunc(records, func(a, b types.LedgerRecord) int {
		if c := a.OccurredAt.Compare(b.OccurredAt); c != 0 {
			return c
		}
		return strings.Compare(a.Key().String(), b.Key().String())
	})
}

// MemoryExceptions is an in-process exception store
type MemoryExceptions struct {
	mu      sync.RWMutex
	records map[types.ExceptionKey]types.ExceptionRecord
}

// NewMemoryExceptions creates an empty in-memory exception store
func NewMemoryExceptions() *MemoryExceptions {
	return &MemoryExceptions{records: make(map[types.ExceptionKey]types.ExceptionRecord)}
}

// GetException returns the exception stored under key
func (m *MemoryExceptions) GetException(ctx context.Context, key types.ExceptionKey) (*types.ExceptionRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.records[key]
	if !ok {
		return nil, ErrNotFound
	}
	return &rec, nil
}

// ListExceptions returns exceptions with the stored status, newest first
func (m *MemoryExceptions) ListExceptions(ctx context.Context, status types.ExceptionStatus) ([]types.ExceptionRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []types.ExceptionRecord
	for _, rec := range m.records {
		if status == "" || rec.Status == status {
			out = append(out, rec)
		}
	}
	sortExceptions(out)
	return out, nil
}

// PutException stores rec unconditionally
func (m *MemoryExceptions) PutException(ctx context.Context, rec types.ExceptionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.records[rec.Key()] = rec
	return nil
}

// CreateException stores rec if no exception exists under its key
func (m *MemoryExceptions) CreateException(ctx context.Context, rec types.ExceptionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.records[rec.Key()]; ok {
		return ErrRecordExists
	}
	m.records[rec.Key()] = rec
	return nil
}

// UpdateException replaces rec when the stored status matches expected
func (m *MemoryExceptions) UpdateException(ctx context.Context, rec types.ExceptionRecord, expected types.ExceptionStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, ok := m.records[rec.Key()]
	if !ok {
		return ErrNotFound
	}
	if current.Status != expected {
		return ErrConflict
	}
	m.records[rec.Key()] = rec
	return nil
}

// DeleteException removes the exception under key
func (m *MemoryExceptions) DeleteException(ctx context.Context, key types.ExceptionKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.records[key]; !ok {
		return ErrNotFound
	}
	delete(m.records, key)
	return nil
}

// Close is a no-op
func (m *MemoryExceptions) Close() error {
	return nil
}

// sortExceptions orders exceptions newest first
func sortExceptions(records []types.ExceptionRecord) {
	slices.SortStableFunc(records, func(a, b types.ExceptionRecord) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.Key().String(), b.Key().String())
	})
}
