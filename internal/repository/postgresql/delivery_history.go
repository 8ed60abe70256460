package postgresql

import (
	"context"
	"fmt"

	"github.com/agrisync/agent/internal/db"
	"github.com/agrisync/agent/internal/queue"
)

// DeliveryHistoryRepo keeps one row per delivery attempt as an audit trail
// alongside the queue itself.
type DeliveryHistoryRepo struct {
	db db.DB
}

func NewDeliveryHistoryRepo(database db.DB) *DeliveryHistoryRepo {
	return &DeliveryHistoryRepo{db: database}
}

var _ queue.HistoryRecorder = (*DeliveryHistoryRepo)(nil)

func (r *DeliveryHistoryRepo) RecordAttempt(ctx context.Context, attempt queue.DeliveryAttempt) error {
	return insertAttempt(ctx, r.db, attempt)
}

func insertAttempt(ctx context.Context, ex execer, attempt queue.DeliveryAttempt) error {
	_, err := ex.Exec(ctx, `
        INSERT INTO delivery_history (id, transaction_id, attempt, success, error, attempted_at)
        VALUES ($1, $2, $3, $4, $5, $6)
    `, attempt.ID, attempt.TransactionID, attempt.Attempt, attempt.Success, attempt.Error, attempt.AttemptedAt)
	if err != nil {
		return fmt.Errorf("failed to insert delivery attempt: %w", err)
	}
	return nil
}

func (r *DeliveryHistoryRepo) GetByTransactionID(ctx context.Context, transactionID string) ([]queue.DeliveryAttempt, error) {
	var out []queue.DeliveryAttempt
	err := r.db.Select(ctx, &out, `
        SELECT id, transaction_id, attempt, success, error, attempted_at
        FROM delivery_history
        WHERE transaction_id = $1
        ORDER BY attempted_at ASC
    `, transactionID)
	if err != nil {
		return nil, fmt.Errorf("failed to get delivery history for %s: %w", transactionID, err)
	}
	return out, nil
}
