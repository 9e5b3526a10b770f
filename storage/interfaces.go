package storage

import (
	"context"
	"errors"
	"time"

	"github.com/evansosei0707/Enterprise-Grade-Cloud-Governance-Platform-on-AWS/types"
)

var (
	// ErrRecordExists is returned by conditional writes when the key is taken
	ErrRecordExists = errors.New("record already exists")
	// ErrNotFound is returned when a key has no record
	ErrNotFound = errors.New("record not found")
	// ErrConflict is returned when a conditional update loses a race
	ErrConflict = errors.New("conditional update failed")
)

// LedgerWriter persists ledger records. Put is a conditional
// put-if-absent and the sole mutual-exclusion point of the engine.
type LedgerWriter interface {
	Put(ctx context.Context, rec types.LedgerRecord) error
}

// LedgerReader looks up single ledger records
type LedgerReader interface {
	Get(ctx context.Context, key types.LedgerKey) (*types.LedgerRecord, error)
}

// LedgerQuerier serves the ledger's secondary access paths, oldest first
type LedgerQuerier interface {
	QueryByResource(ctx context.Context, accountID, resourceID string, window types.TimeRange) ([]types.LedgerRecord, error)
	QueryByRule(ctx context.Context, ruleName string, window types.TimeRange) ([]types.LedgerRecord, error)
	QueryByCompliance(ctx context.Context, complianceType types.ComplianceType, window types.TimeRange) ([]types.LedgerRecord, error)
}

// Claimer reserves a ledger key while one worker acts on it.
// Claim returns false when another live lease holds the key.
type Claimer interface {
	Claim(ctx context.Context, key types.LedgerKey, lease time.Duration) (bool, error)
	Release(ctx context.Context, key types.LedgerKey) error
}

// LedgerStore is the complete ledger contract
type LedgerStore interface {
	LedgerWriter
	LedgerReader
	LedgerQuerier
	Claimer
	Lifecycle
}

// ExceptionReader queries whitelist exceptions
type ExceptionReader interface {
	GetException(ctx context.Context, key types.ExceptionKey) (*types.ExceptionRecord, error)
	// ListExceptions filters on the stored status; empty status lists all.
	ListExceptions(ctx context.Context, status types.ExceptionStatus) ([]types.ExceptionRecord, error)
}

// ExceptionWriter mutates whitelist exceptions
type ExceptionWriter interface {
	PutException(ctx context.Context, rec types.ExceptionRecord) error
	// CreateException stores rec only if its key is free, else ErrRecordExists.
	CreateException(ctx context.Context, rec types.ExceptionRecord) error
	// UpdateException replaces rec only while the stored status equals expected.
	UpdateException(ctx context.Context, rec types.ExceptionRecord, expected types.ExceptionStatus) error
	DeleteException(ctx context.Context, key types.ExceptionKey) error
}

// ExceptionStore is the complete exception contract
type ExceptionStore interface {
	ExceptionReader
	ExceptionWriter
	Lifecycle
}

// Lifecycle manages storage lifecycle
type Lifecycle interface {
	Close() error
}
