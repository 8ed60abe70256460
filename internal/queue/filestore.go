package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"
)

// FileStore persists the pending list as a single JSON array, the layout the
// web client used for its durable key. The mutex makes it a single-writer
// store: submit-appends and sync-updates can never interleave their writes.
type FileStore struct {
	filePath string
	mu       sync.Mutex
	data     []PendingTransaction
}

func NewFileStore(filePath string) (*FileStore, error) {
	fs := &FileStore{filePath: filePath}
	if err := fs.load(); err != nil {
		return nil, fmt.Errorf("failed to load queue file %s: %w", filePath, err)
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

// save rewrites the whole list. Caller holds the mutex.
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

func (fs *FileStore) Append(_ context.Context, tx PendingTransaction) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	for _, existing := range fs.data {
		if existing.ID == tx.ID {
			return ErrDuplicateID
		}
	}

	fs.data = append(fs.data, tx)
	return fs.save()
}

func (fs *FileStore) List(_ context.Context) ([]PendingTransaction, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	out := make([]PendingTransaction, len(fs.data))
	copy(out, fs.data)
	return out, nil
}

func (fs *FileStore) Unsynced(_ context.Context) ([]PendingTransaction, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	var out []PendingTransaction
	for _, tx := range fs.data {
		if !tx.Synced && tx.Status != StatusDead {
			out = append(out, tx)
		}
	}
	return out, nil
}

func (fs *FileStore) MarkSynced(_ context.Context, id string, at time.Time) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	for i := range fs.data {
		if fs.data[i].ID != id {
			continue
		}
		if fs.data[i].Synced {
			return nil
		}
		fs.data[i].Synced = true
		fs.data[i].Status = StatusSynced
		fs.data[i].LastError = nil
		fs.data[i].LastAttemptAt = &at
		return fs.save()
	}
	return ErrTransactionNotFound
}

func (fs *FileStore) RecordFailure(_ context.Context, id string, attempts int, lastError string, at time.Time, dead bool) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	for i := range fs.data {
		if fs.data[i].ID != id {
			continue
		}
		fs.data[i].Attempts = attempts
		fs.data[i].LastError = &lastError
		fs.data[i].LastAttemptAt = &at
		if dead {
			fs.data[i].Status = StatusDead
		}
		return fs.save()
	}
	return ErrTransactionNotFound
}
