package queue

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrTransactionNotFound = errors.New("pending transaction not found")
	ErrDuplicateID         = errors.New("pending transaction id already exists")
)

// Status tracks a pending transaction through its lifecycle. Records are
// never deleted; even synced and dead ones stay as an audit trail.
type Status string

const (
	StatusPending Status = "PENDING"
	StatusSynced  Status = "SYNCED"
	StatusDead    Status = "DEAD"
)

// PendingTransaction is one trade submission awaiting confirmed delivery.
// Data holds the payload byte-for-byte as the user submitted it.
type PendingTransaction struct {
	ID            string          `json:"id" db:"id"`
	Data          json.RawMessage `json:"data" db:"data"`
	Timestamp     time.Time       `json:"timestamp" db:"created_at"`
	Synced        bool            `json:"synced" db:"synced"`
	Type          string          `json:"type,omitempty" db:"type"`
	Status        Status          `json:"status" db:"status"`
	Attempts      int             `json:"attempts" db:"attempts"`
	LastError     *string         `json:"last_error,omitempty" db:"last_error"`
	LastAttemptAt *time.Time      `json:"last_attempt_at,omitempty" db:"last_attempt_at"`
}

// DeliveryAttempt is the audit record of a single delivery try.
type DeliveryAttempt struct {
	ID            uuid.UUID `db:"id"`
	TransactionID string    `db:"transaction_id"`
	Attempt       int       `db:"attempt"`
	Success       bool      `db:"success"`
	Error         *string   `db:"error"`
	AttemptedAt   time.Time `db:"attempted_at"`
}

// Store is the durable pending-transaction list. Implementations must keep
// insertion order in List and Unsynced, and must persist every mutation
// before returning so partial sync progress survives a crash.
type Store interface {
	Append(ctx context.Context, tx PendingTransaction) error
	List(ctx context.Context) ([]PendingTransaction, error)
	// Unsynced returns records still awaiting delivery, oldest first. Dead
	// records are excluded.
	Unsynced(ctx context.Context) ([]PendingTransaction, error)
	// MarkSynced flips synced to true exactly once. Marking an already
	// synced record is a no-op.
	MarkSynced(ctx context.Context, id string, at time.Time) error
	// RecordFailure bumps the attempt counter and, when dead is set, parks
	// the record so further drains skip it.
	RecordFailure(ctx context.Context, id string, attempts int, lastError string, at time.Time, dead bool) error
}

// HistoryRecorder persists per-attempt audit rows. Deployments without a
// database run with a nil recorder.
type HistoryRecorder interface {
	RecordAttempt(ctx context.Context, attempt DeliveryAttempt) error
}

// FailureRecorder is an optional Store upgrade: the failure update and its
// delivery-history row are persisted as one unit, so a crash between the two
// writes cannot record a failed attempt without its audit row. Stores that
// implement it take over history recording for failures.
type FailureRecorder interface {
	RecordFailureWithAttempt(ctx context.Context, id string, attempts int, lastError string, at time.Time, dead bool, attempt DeliveryAttempt) error
}
