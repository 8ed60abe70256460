package cache

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testEntry(body string, storedAt time.Time) Entry {
	return Entry{
		Status:   200,
		Header:   map[string][]string{"Content-Type": {"application/json"}},
		Body:     []byte(body),
		StoredAt: storedAt,
	}
}

func TestFileStore_PutGet(t *testing.T) {
	ctx := context.Background()
	fs, err := NewFileStore(filepath.Join(t.TempDir(), "cache.json"), nil)
	require.NoError(t, err)

	entry := testEntry(`{"ok":true}`, time.Now().UTC())
	require.NoError(t, fs.Put(ctx, "static-v1", "GET http://backend/", entry))

	got, err := fs.Get(ctx, "static-v1", "GET http://backend/")
	require.NoError(t, err)
	assert.Equal(t, entry.Status, got.Status)
	assert.Equal(t, entry.Body, got.Body)
	assert.Equal(t, entry.Header, got.Header)

	_, err = fs.Get(ctx, "static-v1", "GET http://backend/missing")
	assert.ErrorIs(t, err, ErrEntryNotFound)

	_, err = fs.Get(ctx, "no-such-partition", "GET http://backend/")
	assert.ErrorIs(t, err, ErrEntryNotFound)
}

func TestFileStore_PersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "cache.json")

	fs, err := NewFileStore(path, nil)
	require.NoError(t, err)

	entry := testEntry("cached body", time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC))
	require.NoError(t, fs.Put(ctx, "dynamic-v1", "GET http://backend/market_prices", entry))

	reopened, err := NewFileStore(path, nil)
	require.NoError(t, err)

	got, err := reopened.Get(ctx, "dynamic-v1", "GET http://backend/market_prices")
	require.NoError(t, err)
	assert.Equal(t, entry.Body, got.Body)
	assert.True(t, entry.StoredAt.Equal(got.StoredAt))
}

func TestFileStore_CapEvictsOldest(t *testing.T) {
	ctx := context.Background()
	fs, err := NewFileStore(filepath.Join(t.TempDir(), "cache.json"), map[string]int{"dynamic-v1": 2})
	require.NoError(t, err)

	base := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, fs.Put(ctx, "dynamic-v1", "GET /a", testEntry("a", base)))
	require.NoError(t, fs.Put(ctx, "dynamic-v1", "GET /b", testEntry("b", base.Add(time.Minute))))
	require.NoError(t, fs.Put(ctx, "dynamic-v1", "GET /c", testEntry("c", base.Add(2*time.Minute))))

	_, err = fs.Get(ctx, "dynamic-v1", "GET /a")
	assert.ErrorIs(t, err, ErrEntryNotFound, "oldest entry should have been evicted")

	keys, err := fs.Keys(ctx, "dynamic-v1")
	require.NoError(t, err)
	assert.Len(t, keys, 2)

	// Overwriting an existing key must not trigger eviction.
	require.NoError(t, fs.Put(ctx, "dynamic-v1", "GET /b", testEntry("b2", base.Add(3*time.Minute))))
	keys, err = fs.Keys(ctx, "dynamic-v1")
	require.NoError(t, err)
	assert.Len(t, keys, 2)
}

func TestFileStore_DeletePartition(t *testing.T) {
	ctx := context.Background()
	fs, err := NewFileStore(filepath.Join(t.TempDir(), "cache.json"), nil)
	require.NoError(t, err)

	require.NoError(t, fs.Put(ctx, "static-v1", "GET /", testEntry("home", time.Now())))
	require.NoError(t, fs.Put(ctx, "static-v0", "GET /", testEntry("old home", time.Now())))

	require.NoError(t, fs.DeletePartition(ctx, "static-v0"))
	require.NoError(t, fs.DeletePartition(ctx, "never-existed"))

	names, err := fs.Partitions(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"static-v1"}, names)
}
