package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/agrisync/agent/internal/metrics"
)

// FileStore keeps every partition in a single JSON document on disk so
// cached responses survive agent restarts. All access is serialized through
// one mutex and every mutation rewrites the full document.
type FileStore struct {
	filePath string
	caps     map[string]int
	mu       sync.Mutex
	data     map[string]map[string]Entry
}

// NewFileStore opens (or creates) the backing file. caps limits the number
// of entries per partition; partitions without a cap grow unbounded.
func NewFileStore(filePath string, caps map[string]int) (*FileStore, error) {
	fs := &FileStore{
		filePath: filePath,
		caps:     caps,
		data:     make(map[string]map[string]Entry),
	}
	if err := fs.load(); err != nil {
		return nil, fmt.Errorf("failed to load cache file %s: %w", filePath, err)
	}
	return fs, nil
}

func (fs *FileStore) load() error {
	file, err := os.Open(fs.filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer file.Close()

	return json.NewDecoder(file).Decode(&fs.data)
}

func (fs *FileStore) save() error {
	file, err := os.Create(fs.filePath)
	if err != nil {
		return err
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	return encoder.Encode(fs.data)
}

func (fs *FileStore) Put(_ context.Context, partition, key string, entry Entry) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	part, ok := fs.data[partition]
	if !ok {
		part = make(map[string]Entry)
		fs.data[partition] = part
	}

	if _, exists := part[key]; !exists {
		if limit, capped := fs.caps[partition]; capped && len(part) >= limit {
			fs.evictOldest(partition, part)
		}
	}
	part[key] = entry

	return fs.save()
}

// evictOldest drops the entry with the earliest StoredAt. Caller holds the
// mutex.
func (fs *FileStore) evictOldest(partition string, part map[string]Entry) {
	var oldestKey string
	var oldest time.Time
	for k, e := range part {
		if oldestKey == "" || e.StoredAt.Before(oldest) {
			oldestKey = k
			oldest = e.StoredAt
		}
	}
	if oldestKey != "" {
		delete(part, oldestKey)
		metrics.CacheEvictionsTotal.WithLabelValues(partition).Inc()
	}
}

func (fs *FileStore) Get(_ context.Context, partition, key string) (*Entry, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	part, ok := fs.data[partition]
	if !ok {
		return nil, ErrEntryNotFound
	}
	entry, ok := part[key]
	if !ok {
		return nil, ErrEntryNotFound
	}
	return &entry, nil
}

func (fs *FileStore) Keys(_ context.Context, partition string) ([]string, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	part, ok := fs.data[partition]
	if !ok {
		return nil, nil
	}
	keys := make([]string, 0, len(part))
	for k := range part {
		keys = append(keys, k)
	}
	return keys, nil
}

func (fs *FileStore) Partitions(_ context.Context) ([]string, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	names := make([]string, 0, len(fs.data))
	for name := range fs.data {
		names = append(names, name)
	}
	return names, nil
}

func (fs *FileStore) DeletePartition(_ context.Context, partition string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if _, ok := fs.data[partition]; !ok {
		return nil
	}
	delete(fs.data, partition)
	return fs.save()
}
