package cache

import (
	"context"
	"errors"
	"net/http"
	"time"
)

var ErrEntryNotFound = errors.New("cache entry not found")

// Entry is one stored response. Header is kept as a plain map so the file
// backend can round-trip it through JSON.
type Entry struct {
	Status   int                 `json:"status"`
	Header   map[string][]string `json:"header"`
	Body     []byte              `json:"body"`
	StoredAt time.Time           `json:"stored_at"`
}

// Key builds the cache key from the full request identity: method plus the
// path-and-query the client asked for.
func Key(r *http.Request) string {
	return r.Method + " " + r.URL.RequestURI()
}

// PartitionStore is a set of named partitions, each mapping a request
// identity to a stored response. Put creates the partition if it does not
// exist yet.
type PartitionStore interface {
	Put(ctx context.Context, partition, key string, entry Entry) error
	Get(ctx context.Context, partition, key string) (*Entry, error)
	Keys(ctx context.Context, partition string) ([]string, error)
	Partitions(ctx context.Context) ([]string, error)
	DeletePartition(ctx context.Context, partition string) error
}
