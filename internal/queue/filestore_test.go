package queue

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) (*FileStore, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "queue.json")
	fs, err := NewFileStore(path)
	require.NoError(t, err)
	return fs, path
}

func pendingTx(id, payload string) PendingTransaction {
	return PendingTransaction{
		ID:        id,
		Data:      json.RawMessage(payload),
		Timestamp: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC),
		Synced:    false,
		Type:      "transaction",
		Status:    StatusPending,
	}
}

func TestFileStore_AppendAndList(t *testing.T) {
	ctx := context.Background()
	fs, _ := newTestStore(t)

	require.NoError(t, fs.Append(ctx, pendingTx("1", `{"crop_type":"turmeric"}`)))
	require.NoError(t, fs.Append(ctx, pendingTx("2", `{"crop_type":"rice"}`)))

	err := fs.Append(ctx, pendingTx("1", `{}`))
	assert.ErrorIs(t, err, ErrDuplicateID)

	all, err := fs.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "1", all[0].ID, "insertion order preserved")
	assert.Equal(t, "2", all[1].ID)
}

func TestFileStore_PayloadRoundTripAcrossReopen(t *testing.T) {
	ctx := context.Background()
	fs, path := newTestStore(t)

	// Key order and spacing must survive exactly as submitted.
	raw := `{"sender":"farmer_1709284000000","recipient":"buyer-7","amount":5000,"crop_type":"turmeric","quantity":50}`
	require.NoError(t, fs.Append(ctx, pendingTx("tx-1", raw)))

	reopened, err := NewFileStore(path)
	require.NoError(t, err)

	all, err := reopened.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.JSONEq(t, raw, string(all[0].Data))
	assert.Equal(t, raw, string(all[0].Data), "payload bytes must round-trip untouched")
	assert.False(t, all[0].Synced)
}

func TestFileStore_MarkSynced(t *testing.T) {
	ctx := context.Background()
	fs, _ := newTestStore(t)
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, fs.Append(ctx, pendingTx("tx-1", `{}`)))
	require.NoError(t, fs.MarkSynced(ctx, "tx-1", now))

	all, _ := fs.List(ctx)
	assert.True(t, all[0].Synced)
	assert.Equal(t, StatusSynced, all[0].Status)

	// Second mark is a no-op, not an error.
	require.NoError(t, fs.MarkSynced(ctx, "tx-1", now.Add(time.Hour)))
	all, _ = fs.List(ctx)
	assert.True(t, now.Equal(*all[0].LastAttemptAt))

	assert.ErrorIs(t, fs.MarkSynced(ctx, "missing", now), ErrTransactionNotFound)
}

func TestFileStore_RecordFailureAndUnsynced(t *testing.T) {
	ctx := context.Background()
	fs, _ := newTestStore(t)
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, fs.Append(ctx, pendingTx("tx-1", `{}`)))
	require.NoError(t, fs.Append(ctx, pendingTx("tx-2", `{}`)))
	require.NoError(t, fs.Append(ctx, pendingTx("tx-3", `{}`)))

	require.NoError(t, fs.MarkSynced(ctx, "tx-2", now))
	require.NoError(t, fs.RecordFailure(ctx, "tx-1", 3, "connection refused", now, false))
	require.NoError(t, fs.RecordFailure(ctx, "tx-3", 8, "connection refused", now, true))

	unsynced, err := fs.Unsynced(ctx)
	require.NoError(t, err)
	require.Len(t, unsynced, 1, "synced and dead records are excluded")
	assert.Equal(t, "tx-1", unsynced[0].ID)
	assert.Equal(t, 3, unsynced[0].Attempts)
	require.NotNil(t, unsynced[0].LastError)
	assert.Equal(t, "connection refused", *unsynced[0].LastError)

	// Nothing is ever deleted.
	all, _ := fs.List(ctx)
	assert.Len(t, all, 3)
	assert.Equal(t, StatusDead, all[2].Status)
}
