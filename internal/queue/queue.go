package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/agrisync/agent/internal/client"
	"github.com/agrisync/agent/internal/config"
	"github.com/agrisync/agent/internal/metrics"
)

type OutcomeStatus string

const (
	OutcomeDelivered OutcomeStatus = "delivered"
	OutcomeQueued    OutcomeStatus = "offline-queued"
)

// Outcome is what the UI-facing layer renders after a submission.
type Outcome struct {
	Status        OutcomeStatus `json:"status"`
	Message       string        `json:"message,omitempty"`
	TransactionID string        `json:"transaction_id,omitempty"`
}

// Deliverer is the single transport primitive shared by the submit path and
// the sync drain.
type Deliverer interface {
	Deliver(ctx context.Context, payload json.RawMessage) (*client.Ack, error)
}

// ConnectivitySource answers the submit-path online check.
type ConnectivitySource interface {
	Online() bool
}

// Queue buffers trade submissions that cannot reach the backend and drains
// them once connectivity returns. Every mutation of the durable list runs
// under one mutex, so a submit-append can never race a sync-update.
type Queue struct {
	store       Store
	history     HistoryRecorder
	deliverer   Deliverer
	conn        ConnectivitySource
	requestSync func()
	policy      config.SubmitPolicy
	maxAttempts int
	backoffBase time.Duration
	logger      *zap.Logger

	mu      sync.Mutex
	timeNow func() time.Time
}

// New wires the queue. history and requestSync may be nil.
func New(
	store Store,
	history HistoryRecorder,
	deliverer Deliverer,
	conn ConnectivitySource,
	policy config.SubmitPolicy,
	maxAttempts int,
	backoffBase time.Duration,
	logger *zap.Logger,
) *Queue {
	return &Queue{
		store:       store,
		history:     history,
		deliverer:   deliverer,
		conn:        conn,
		policy:      policy,
		maxAttempts: maxAttempts,
		backoffBase: backoffBase,
		logger:      logger,
		timeNow:     time.Now,
	}
}

// OnSyncRequested registers the deferred-sync trigger, typically the sync
// worker's wake-up channel. Best effort: queueing works without it.
func (q *Queue) OnSyncRequested(fn func()) {
	q.requestSync = fn
}

// Submit delivers the payload immediately when online, otherwise appends it
// to the durable queue and requests a deferred sync. What happens when an
// online delivery fails is policy: fail fast to the caller, or queue like
// the offline path.
func (q *Queue) Submit(ctx context.Context, payload json.RawMessage) (*Outcome, error) {
	if !q.conn.Online() {
		return q.enqueue(ctx, payload)
	}

	ack, err := q.deliverer.Deliver(ctx, payload)
	if err != nil {
		if q.policy == config.SubmitQueueOnFailure && errors.Is(err, client.ErrDeliveryFailed) {
			q.logger.Warn("Immediate delivery failed, queueing per policy", zap.Error(err))
			return q.enqueue(ctx, payload)
		}
		metrics.TransactionsSubmittedTotal.WithLabelValues("failed").Inc()
		return nil, err
	}

	metrics.TransactionsSubmittedTotal.WithLabelValues("delivered").Inc()
	return &Outcome{Status: OutcomeDelivered, Message: ack.Message}, nil
}

func (q *Queue) enqueue(ctx context.Context, payload json.RawMessage) (*Outcome, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var tx PendingTransaction
	for attempt := 0; ; attempt++ {
		tx = PendingTransaction{
			ID:        q.newID(),
			Data:      payload,
			Timestamp: q.timeNow().UTC(),
			Synced:    false,
			Type:      "transaction",
			Status:    StatusPending,
		}
		err := q.store.Append(ctx, tx)
		if err == nil {
			break
		}
		// Nanosecond ids can collide under rapid submission; take the next
		// tick instead of reusing one.
		if errors.Is(err, ErrDuplicateID) && attempt < 3 {
			continue
		}
		metrics.TransactionsSubmittedTotal.WithLabelValues("failed").Inc()
		return nil, fmt.Errorf("failed to queue transaction: %w", err)
	}

	metrics.TransactionsSubmittedTotal.WithLabelValues("queued").Inc()
	q.refreshGauges(ctx)
	q.logger.Info("Transaction queued for later delivery", zap.String("transaction_id", tx.ID))

	if q.requestSync != nil {
		q.requestSync()
	}
	return &Outcome{Status: OutcomeQueued, TransactionID: tx.ID}, nil
}

func (q *Queue) newID() string {
	return strconv.FormatInt(q.timeNow().UnixNano(), 10)
}

// Sync attempts delivery for every unsynced transaction in insertion order.
// Each attempt is independent: a failure is recorded and the pass moves on.
// Success is persisted per record, so a crash between two deliveries loses
// nothing already confirmed. force skips the backoff eligibility check.
func (q *Queue) Sync(ctx context.Context, force bool) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	pending, err := q.store.Unsynced(ctx)
	if err != nil {
		return fmt.Errorf("failed to read pending transactions: %w", err)
	}
	if len(pending) == 0 {
		q.refreshGauges(ctx)
		return nil
	}

	q.logger.Info("Sync pass starting", zap.Int("pending", len(pending)), zap.Bool("force", force))

	for _, tx := range pending {
		if ctx.Err() != nil {
			q.logger.Warn("Sync pass interrupted", zap.Error(ctx.Err()))
			break
		}
		if !force && !q.eligible(tx) {
			continue
		}
		q.attemptOne(ctx, tx)
	}

	q.refreshGauges(ctx)
	return nil
}

func (q *Queue) attemptOne(ctx context.Context, tx PendingTransaction) {
	ack, err := q.deliverer.Deliver(ctx, tx.Data)
	attemptedAt := q.timeNow().UTC()
	attempts := tx.Attempts + 1

	if err != nil {
		metrics.SyncAttemptsTotal.WithLabelValues("failure").Inc()
		dead := attempts >= q.maxAttempts
		if dead {
			q.logger.Error("Transaction exhausted delivery attempts, parking as dead",
				zap.String("transaction_id", tx.ID), zap.Int("attempts", attempts))
		} else {
			q.logger.Warn("Delivery attempt failed",
				zap.String("transaction_id", tx.ID), zap.Int("attempts", attempts), zap.Error(err))
		}
		if recorder, ok := q.store.(FailureRecorder); ok {
			record := q.newAttempt(tx.ID, attempts, false, err, attemptedAt)
			if storeErr := recorder.RecordFailureWithAttempt(ctx, tx.ID, attempts, err.Error(), attemptedAt, dead, record); storeErr != nil {
				metrics.OperationErrorsTotal.WithLabelValues("record_failure").Inc()
				q.logger.Error("Failed to persist delivery failure",
					zap.String("transaction_id", tx.ID), zap.Error(storeErr))
			}
			return
		}
		if storeErr := q.store.RecordFailure(ctx, tx.ID, attempts, err.Error(), attemptedAt, dead); storeErr != nil {
			metrics.OperationErrorsTotal.WithLabelValues("record_failure").Inc()
			q.logger.Error("Failed to persist delivery failure",
				zap.String("transaction_id", tx.ID), zap.Error(storeErr))
		}
		q.recordHistory(ctx, tx.ID, attempts, false, err, attemptedAt)
		return
	}

	if err := q.store.MarkSynced(ctx, tx.ID, attemptedAt); err != nil {
		metrics.OperationErrorsTotal.WithLabelValues("mark_synced").Inc()
		q.logger.Error("Delivered but failed to persist synced flag; record will be retried",
			zap.String("transaction_id", tx.ID), zap.Error(err))
		return
	}

	metrics.SyncAttemptsTotal.WithLabelValues("success").Inc()
	metrics.TransactionsSyncedTotal.Inc()
	q.logger.Info("Synced queued transaction",
		zap.String("transaction_id", tx.ID), zap.String("ack", ack.Message))
	q.recordHistory(ctx, tx.ID, attempts, true, nil, attemptedAt)
}

func (q *Queue) eligible(tx PendingTransaction) bool {
	if tx.LastAttemptAt == nil {
		return true
	}
	shift := tx.Attempts
	if shift > 10 {
		shift = 10
	}
	wait := q.backoffBase << shift
	return !q.timeNow().Before(tx.LastAttemptAt.Add(wait))
}

func (q *Queue) newAttempt(txID string, attempt int, success bool, attemptErr error, at time.Time) DeliveryAttempt {
	var errText *string
	if attemptErr != nil {
		s := attemptErr.Error()
		errText = &s
	}
	return DeliveryAttempt{
		ID:            uuid.New(),
		TransactionID: txID,
		Attempt:       attempt,
		Success:       success,
		Error:         errText,
		AttemptedAt:   at,
	}
}

func (q *Queue) recordHistory(ctx context.Context, txID string, attempt int, success bool, attemptErr error, at time.Time) {
	if q.history == nil {
		return
	}
	if err := q.history.RecordAttempt(ctx, q.newAttempt(txID, attempt, success, attemptErr, at)); err != nil {
		q.logger.Warn("Failed to record delivery attempt", zap.Error(err))
	}
}

func (q *Queue) refreshGauges(ctx context.Context) {
	all, err := q.store.List(ctx)
	if err != nil {
		return
	}
	var pending, dead float64
	for _, tx := range all {
		switch {
		case tx.Status == StatusDead:
			dead++
		case !tx.Synced:
			pending++
		}
	}
	metrics.PendingTransactions.Set(pending)
	metrics.DeadTransactions.Set(dead)
}

// All returns every record in the durable store, including synced and dead
// ones.
func (q *Queue) All(ctx context.Context) ([]PendingTransaction, error) {
	return q.store.List(ctx)
}

// Dead returns the records parked after exhausting their attempts.
func (q *Queue) Dead(ctx context.Context) ([]PendingTransaction, error) {
	all, err := q.store.List(ctx)
	if err != nil {
		return nil, err
	}
	var out []PendingTransaction
	for _, tx := range all {
		if tx.Status == StatusDead {
			out = append(out, tx)
		}
	}
	return out, nil
}
