package dialer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// ============================================
// REDIS STORAGE
// Single key holding the serialized call log
// ============================================

// DefaultHistoryKey is the storage key for the serialized call log.
const DefaultHistoryKey = "dialer:call-history"

// RedisStorage persists the call log as one serialized array under a single
// key, matching the persisted-state layout the dashboard expects.
type RedisStorage struct {
	client *redis.Client
	key    string
}

// NewRedisStorage creates a Redis-backed storage. key falls back to
// DefaultHistoryKey when empty.
func NewRedisStorage(client *redis.Client, key string) *RedisStorage {
	if key == "" {
		key = DefaultHistoryKey
	}
	return &RedisStorage{client: client, key: key}
}

// Load reads and decodes the call log. A missing key is an empty log.
func (s *RedisStorage) Load(ctx context.Context) ([]HistoryEntry, error) {
	data, err := s.client.Get(ctx, s.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load call history: %w", err)
	}

	var entries []HistoryEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("failed to decode call history: %w", err)
	}
	return entries, nil
}

// Save serializes and writes the full log under the storage key.
func (s *RedisStorage) Save(ctx context.Context, entries []HistoryEntry) error {
	data, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("failed to encode call history: %w", err)
	}
	if err := s.client.Set(ctx, s.key, data, 0).Err(); err != nil {
		return fmt.Errorf("failed to save call history: %w", err)
	}
	return nil
}
