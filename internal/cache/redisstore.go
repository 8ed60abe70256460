package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/agrisync/agent/internal/metrics"
)

const (
	entryKeyPrefix   = "agrisync:cache:"
	partitionsSetKey = "agrisync:cache:partitions"
)

// RedisStore is a Redis-backed partition store for deployments where several
// agent instances share one cache. Each partition keeps a sorted-set index
// scored by store time, which makes oldest-first eviction a range query.
type RedisStore struct {
	client *redis.Client
	caps   map[string]int
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(ctx context.Context, addr string, caps map[string]int) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return &RedisStore{client: client, caps: caps}, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func entryKey(partition, key string) string {
	return entryKeyPrefix + partition + ":" + key
}

func indexKey(partition string) string {
	return entryKeyPrefix + partition + ":index"
}

func (s *RedisStore) Put(ctx context.Context, partition, key string, entry Entry) error {
	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal cache entry: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, entryKey(partition, key), raw, 0)
	pipe.ZAdd(ctx, indexKey(partition), redis.Z{
		Score:  float64(entry.StoredAt.UnixNano()),
		Member: key,
	})
	pipe.SAdd(ctx, partitionsSetKey, partition)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to store cache entry: %w", err)
	}

	if limit, capped := s.caps[partition]; capped {
		if err := s.enforceCap(ctx, partition, limit); err != nil {
			return err
		}
	}
	return nil
}

func (s *RedisStore) enforceCap(ctx context.Context, partition string, limit int) error {
	size, err := s.client.ZCard(ctx, indexKey(partition)).Result()
	if err != nil {
		return fmt.Errorf("failed to size partition %s: %w", partition, err)
	}
	excess := size - int64(limit)
	if excess <= 0 {
		return nil
	}

	victims, err := s.client.ZRange(ctx, indexKey(partition), 0, excess-1).Result()
	if err != nil {
		return fmt.Errorf("failed to pick eviction victims: %w", err)
	}
	for _, victim := range victims {
		pipe := s.client.TxPipeline()
		pipe.Del(ctx, entryKey(partition, victim))
		pipe.ZRem(ctx, indexKey(partition), victim)
		if _, err := pipe.Exec(ctx); err != nil {
			return fmt.Errorf("failed to evict %q from %s: %w", victim, partition, err)
		}
		metrics.CacheEvictionsTotal.WithLabelValues(partition).Inc()
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, partition, key string) (*Entry, error) {
	raw, err := s.client.Get(ctx, entryKey(partition, key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrEntryNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read cache entry: %w", err)
	}

	var entry Entry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cache entry: %w", err)
	}
	return &entry, nil
}

func (s *RedisStore) Keys(ctx context.Context, partition string) ([]string, error) {
	keys, err := s.client.ZRange(ctx, indexKey(partition), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list partition %s: %w", partition, err)
	}
	return keys, nil
}

func (s *RedisStore) Partitions(ctx context.Context) ([]string, error) {
	names, err := s.client.SMembers(ctx, partitionsSetKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list partitions: %w", err)
	}
	return names, nil
}

func (s *RedisStore) DeletePartition(ctx context.Context, partition string) error {
	keys, err := s.Keys(ctx, partition)
	if err != nil {
		return err
	}

	pipe := s.client.TxPipeline()
	for _, key := range keys {
		pipe.Del(ctx, entryKey(partition, key))
	}
	pipe.Del(ctx, indexKey(partition))
	pipe.SRem(ctx, partitionsSetKey, partition)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to delete partition %s: %w", partition, err)
	}
	return nil
}
