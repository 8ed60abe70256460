package postgresql

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"

	"github.com/agrisync/agent/internal/db"
	"github.com/agrisync/agent/internal/queue"
)

// execer is the write surface shared by db.DB and db.Tx, so the same
// statement helpers run standalone or inside a transaction.
type execer interface {
	Exec(ctx context.Context, query string, args ...interface{}) (pgconn.CommandTag, error)
}

// PendingTransactionRepo is the Postgres-backed pending queue. Updates are
// per record, so two agent instances sharing one database cannot lose each
// other's synced flags the way whole-list rewrites can.
type PendingTransactionRepo struct {
	db db.DB
}

func NewPendingTransactionRepo(database db.DB) *PendingTransactionRepo {
	return &PendingTransactionRepo{db: database}
}

var (
	_ queue.Store           = (*PendingTransactionRepo)(nil)
	_ queue.FailureRecorder = (*PendingTransactionRepo)(nil)
)

const pendingColumns = `id, data, created_at, synced, "type", status, attempts, last_error, last_attempt_at`

func (r *PendingTransactionRepo) Append(ctx context.Context, tx queue.PendingTransaction) error {
	_, err := r.db.Exec(ctx, `
        INSERT INTO pending_transactions (id, data, created_at, synced, "type", status, attempts)
        VALUES ($1, $2, $3, $4, $5, $6, $7)
    `, tx.ID, tx.Data, tx.Timestamp, tx.Synced, tx.Type, tx.Status, tx.Attempts)
	if err != nil {
		if isUniqueViolation(err) {
			return queue.ErrDuplicateID
		}
		return fmt.Errorf("failed to insert pending transaction: %w", err)
	}
	return nil
}

func (r *PendingTransactionRepo) List(ctx context.Context) ([]queue.PendingTransaction, error) {
	var out []queue.PendingTransaction
	err := r.db.Select(ctx, &out, `
        SELECT `+pendingColumns+`
        FROM pending_transactions
        ORDER BY created_at ASC, id ASC
    `)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending transactions: %w", err)
	}
	return out, nil
}

func (r *PendingTransactionRepo) Unsynced(ctx context.Context) ([]queue.PendingTransaction, error) {
	var out []queue.PendingTransaction
	err := r.db.Select(ctx, &out, `
        SELECT `+pendingColumns+`
        FROM pending_transactions
        WHERE synced = FALSE AND status <> $1
        ORDER BY created_at ASC, id ASC
    `, queue.StatusDead)
	if err != nil {
		return nil, fmt.Errorf("failed to list unsynced transactions: %w", err)
	}
	return out, nil
}

func (r *PendingTransactionRepo) MarkSynced(ctx context.Context, id string, at time.Time) error {
	cmdTag, err := r.db.Exec(ctx, `
        UPDATE pending_transactions
        SET synced = TRUE, status = $2, last_error = NULL, last_attempt_at = $3
        WHERE id = $1 AND synced = FALSE
    `, id, queue.StatusSynced, at)
	if err != nil {
		return fmt.Errorf("failed to mark transaction %s synced: %w", id, err)
	}
	if cmdTag.RowsAffected() > 0 {
		return nil
	}

	// Zero rows: either already synced (fine) or genuinely absent.
	var tx queue.PendingTransaction
	err = r.db.Get(ctx, &tx, `SELECT `+pendingColumns+` FROM pending_transactions WHERE id = $1`, id)
	if errors.Is(err, pgx.ErrNoRows) {
		return queue.ErrTransactionNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to check transaction %s: %w", id, err)
	}
	return nil
}

func (r *PendingTransactionRepo) RecordFailure(ctx context.Context, id string, attempts int, lastError string, at time.Time, dead bool) error {
	return recordFailure(ctx, r.db, id, attempts, lastError, at, dead)
}

// RecordFailureWithAttempt persists the failure update and its audit row in
// one transaction, so the queue and delivery_history cannot diverge on a
// crash between the two writes.
func (r *PendingTransactionRepo) RecordFailureWithAttempt(ctx context.Context, id string, attempts int, lastError string, at time.Time, dead bool, attempt queue.DeliveryAttempt) error {
	tx, err := r.db.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := recordFailure(ctx, tx, id, attempts, lastError, at, dead); err != nil {
		return err
	}
	if err := insertAttempt(ctx, tx, attempt); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit delivery failure for %s: %w", id, err)
	}
	return nil
}

func recordFailure(ctx context.Context, ex execer, id string, attempts int, lastError string, at time.Time, dead bool) error {
	status := queue.StatusPending
	if dead {
		status = queue.StatusDead
	}
	cmdTag, err := ex.Exec(ctx, `
        UPDATE pending_transactions
        SET attempts = $2, last_error = $3, last_attempt_at = $4, status = $5
        WHERE id = $1
    `, id, attempts, lastError, at, status)
	if err != nil {
		return fmt.Errorf("failed to record delivery failure for %s: %w", id, err)
	}
	if cmdTag.RowsAffected() == 0 {
		return queue.ErrTransactionNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr interface{ SQLState() string }
	if errors.As(err, &pgErr) {
		return pgErr.SQLState() == "23505"
	}
	return false
}
