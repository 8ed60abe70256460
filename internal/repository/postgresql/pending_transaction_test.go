package postgresql_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	mock_database "github.com/agrisync/agent/internal/db/mocks"
	"github.com/agrisync/agent/internal/queue"
	"github.com/agrisync/agent/internal/repository/postgresql"
)

func testTx() queue.PendingTransaction {
	return queue.PendingTransaction{
		ID:        "1709284000000000000",
		Data:      json.RawMessage(`{"crop_type":"turmeric","quantity":50}`),
		Timestamp: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC),
		Synced:    false,
		Type:      "transaction",
		Status:    queue.StatusPending,
	}
}

func TestPendingTransactionRepo_Append(t *testing.T) {
	ctx := context.Background()

	t.Run("success", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		mockDB := mock_database.NewMockDB(ctrl)
		repo := postgresql.NewPendingTransactionRepo(mockDB)
		tx := testTx()

		mockDB.EXPECT().Exec(
			gomock.Any(),
			gomock.Any(),
			gomock.Eq(tx.ID),
			gomock.Eq(tx.Data),
			gomock.Eq(tx.Timestamp),
			gomock.Eq(tx.Synced),
			gomock.Eq(tx.Type),
			gomock.Eq(tx.Status),
			gomock.Eq(tx.Attempts),
		).Return(pgconn.CommandTag("INSERT 0 1"), nil)

		require.NoError(t, repo.Append(ctx, tx))
	})

	t.Run("duplicate id", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		mockDB := mock_database.NewMockDB(ctrl)
		repo := postgresql.NewPendingTransactionRepo(mockDB)

		mockDB.EXPECT().
			Exec(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
			Return(nil, &pgconn.PgError{Code: "23505"})

		err := repo.Append(ctx, testTx())
		assert.ErrorIs(t, err, queue.ErrDuplicateID)
	})

	t.Run("database error", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		mockDB := mock_database.NewMockDB(ctrl)
		repo := postgresql.NewPendingTransactionRepo(mockDB)

		expectedErr := errors.New("database error")
		mockDB.EXPECT().
			Exec(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
			Return(nil, expectedErr)

		err := repo.Append(ctx, testTx())
		assert.ErrorIs(t, err, expectedErr)
	})
}

func TestPendingTransactionRepo_Unsynced(t *testing.T) {
	ctx := context.Background()
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockDB := mock_database.NewMockDB(ctrl)
	repo := postgresql.NewPendingTransactionRepo(mockDB)

	expected := []queue.PendingTransaction{testTx()}
	mockDB.EXPECT().
		Select(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Eq(queue.StatusDead)).
		DoAndReturn(func(_ context.Context, dest interface{}, _ string, _ ...interface{}) error {
			*dest.(*[]queue.PendingTransaction) = expected
			return nil
		})

	got, err := repo.Unsynced(ctx)
	require.NoError(t, err)
	assert.Equal(t, expected, got)
}

func TestPendingTransactionRepo_MarkSynced(t *testing.T) {
	ctx := context.Background()
	at := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("updates the unsynced row", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		mockDB := mock_database.NewMockDB(ctrl)
		repo := postgresql.NewPendingTransactionRepo(mockDB)

		mockDB.EXPECT().
			Exec(gomock.Any(), gomock.Any(), gomock.Eq("tx-1"), gomock.Eq(queue.StatusSynced), gomock.Eq(at)).
			Return(pgconn.CommandTag("UPDATE 1"), nil)

		require.NoError(t, repo.MarkSynced(ctx, "tx-1", at))
	})

	t.Run("already synced is a no-op", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		mockDB := mock_database.NewMockDB(ctrl)
		repo := postgresql.NewPendingTransactionRepo(mockDB)

		mockDB.EXPECT().
			Exec(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
			Return(pgconn.CommandTag("UPDATE 0"), nil)
		mockDB.EXPECT().
			Get(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Eq("tx-1")).
			Return(nil)

		require.NoError(t, repo.MarkSynced(ctx, "tx-1", at))
	})

	t.Run("missing row", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		mockDB := mock_database.NewMockDB(ctrl)
		repo := postgresql.NewPendingTransactionRepo(mockDB)

		mockDB.EXPECT().
			Exec(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
			Return(pgconn.CommandTag("UPDATE 0"), nil)
		mockDB.EXPECT().
			Get(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
			Return(pgx.ErrNoRows)

		err := repo.MarkSynced(ctx, "missing", at)
		assert.ErrorIs(t, err, queue.ErrTransactionNotFound)
	})
}

func TestPendingTransactionRepo_RecordFailure(t *testing.T) {
	ctx := context.Background()
	at := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("records a retryable failure", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		mockDB := mock_database.NewMockDB(ctrl)
		repo := postgresql.NewPendingTransactionRepo(mockDB)

		mockDB.EXPECT().
			Exec(gomock.Any(), gomock.Any(),
				gomock.Eq("tx-1"), gomock.Eq(3), gomock.Eq("connection refused"), gomock.Eq(at), gomock.Eq(queue.StatusPending)).
			Return(pgconn.CommandTag("UPDATE 1"), nil)

		require.NoError(t, repo.RecordFailure(ctx, "tx-1", 3, "connection refused", at, false))
	})

	t.Run("parks a dead record", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		mockDB := mock_database.NewMockDB(ctrl)
		repo := postgresql.NewPendingTransactionRepo(mockDB)

		mockDB.EXPECT().
			Exec(gomock.Any(), gomock.Any(),
				gomock.Eq("tx-1"), gomock.Eq(8), gomock.Eq("connection refused"), gomock.Eq(at), gomock.Eq(queue.StatusDead)).
			Return(pgconn.CommandTag("UPDATE 1"), nil)

		require.NoError(t, repo.RecordFailure(ctx, "tx-1", 8, "connection refused", at, true))
	})

	t.Run("missing row", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		mockDB := mock_database.NewMockDB(ctrl)
		repo := postgresql.NewPendingTransactionRepo(mockDB)

		mockDB.EXPECT().
			Exec(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
			Return(pgconn.CommandTag("UPDATE 0"), nil)

		err := repo.RecordFailure(ctx, "missing", 1, "x", at, false)
		assert.ErrorIs(t, err, queue.ErrTransactionNotFound)
	})
}

func TestPendingTransactionRepo_RecordFailureWithAttempt(t *testing.T) {
	ctx := context.Background()
	at := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	errText := "connection refused"
	attempt := queue.DeliveryAttempt{
		ID:            uuid.New(),
		TransactionID: "tx-1",
		Attempt:       3,
		Success:       false,
		Error:         &errText,
		AttemptedAt:   at,
	}

	t.Run("commits the update and the audit row together", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		mockDB := mock_database.NewMockDB(ctrl)
		mockTx := mock_database.NewMockTx(ctrl)
		repo := postgresql.NewPendingTransactionRepo(mockDB)

		mockDB.EXPECT().BeginTx(gomock.Any()).Return(mockTx, nil)
		mockTx.EXPECT().
			Exec(gomock.Any(), gomock.Any(),
				gomock.Eq("tx-1"), gomock.Eq(3), gomock.Eq(errText), gomock.Eq(at), gomock.Eq(queue.StatusPending)).
			Return(pgconn.CommandTag("UPDATE 1"), nil)
		mockTx.EXPECT().
			Exec(gomock.Any(), gomock.Any(),
				gomock.Eq(attempt.ID), gomock.Eq("tx-1"), gomock.Eq(3), gomock.Eq(false), gomock.Eq(&errText), gomock.Eq(at)).
			Return(pgconn.CommandTag("INSERT 0 1"), nil)
		mockTx.EXPECT().Commit(gomock.Any()).Return(nil)
		mockTx.EXPECT().Rollback(gomock.Any()).Return(nil).AnyTimes()

		require.NoError(t, repo.RecordFailureWithAttempt(ctx, "tx-1", 3, errText, at, false, attempt))
	})

	t.Run("missing row rolls back without inserting history", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		mockDB := mock_database.NewMockDB(ctrl)
		mockTx := mock_database.NewMockTx(ctrl)
		repo := postgresql.NewPendingTransactionRepo(mockDB)

		mockDB.EXPECT().BeginTx(gomock.Any()).Return(mockTx, nil)
		mockTx.EXPECT().
			Exec(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
			Return(pgconn.CommandTag("UPDATE 0"), nil)
		mockTx.EXPECT().Rollback(gomock.Any()).Return(nil)

		err := repo.RecordFailureWithAttempt(ctx, "missing", 1, "x", at, false, attempt)
		assert.ErrorIs(t, err, queue.ErrTransactionNotFound)
	})

	t.Run("history insert failure rolls back the update", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		mockDB := mock_database.NewMockDB(ctrl)
		mockTx := mock_database.NewMockTx(ctrl)
		repo := postgresql.NewPendingTransactionRepo(mockDB)

		expectedErr := errors.New("database error")
		mockDB.EXPECT().BeginTx(gomock.Any()).Return(mockTx, nil)
		mockTx.EXPECT().
			Exec(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
			Return(pgconn.CommandTag("UPDATE 1"), nil)
		mockTx.EXPECT().
			Exec(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
			Return(nil, expectedErr)
		mockTx.EXPECT().Rollback(gomock.Any()).Return(nil)

		err := repo.RecordFailureWithAttempt(ctx, "tx-1", 3, errText, at, false, attempt)
		assert.ErrorIs(t, err, expectedErr)
	})

	t.Run("begin failure", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		mockDB := mock_database.NewMockDB(ctrl)
		repo := postgresql.NewPendingTransactionRepo(mockDB)

		expectedErr := errors.New("pool exhausted")
		mockDB.EXPECT().BeginTx(gomock.Any()).Return(nil, expectedErr)

		err := repo.RecordFailureWithAttempt(ctx, "tx-1", 3, errText, at, false, attempt)
		assert.ErrorIs(t, err, expectedErr)
	})
}
