// Package cache persists solver warm-start state between batches in Redis,
// so a restarted daemon does not have to cold-start its next solve.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/flowtrade/engine/internal/qp"
)

// WarmStart caches a qp.WarmStart between batch ticks, keyed by a caller
// chosen problem key (e.g. a stable hash of the active portfolio set). The
// cached state is opaque to callers, matching spec.md's allowance that
// implementations may represent warm-start state however they like.
type WarmStart struct {
	client *redis.Client
	ttl    time.Duration
}

// NewWarmStart constructs a warm-start cache over an existing Redis client.
// ttl bounds how long a stale warm start is trusted; zero means no
// expiration.
func NewWarmStart(client *redis.Client, ttl time.Duration) *WarmStart {
	return &WarmStart{client: client, ttl: ttl}
}

// Put stores the warm-start state for key, overwriting any previous value.
func (w *WarmStart) Put(ctx context.Context, key string, warm qp.WarmStart) error {
	data, err := json.Marshal(warm)
	if err != nil {
		return fmt.Errorf("cache: failed to marshal warm start: %w", err)
	}
	if err := w.client.Set(ctx, redisKey(key), data, w.ttl).Err(); err != nil {
		return fmt.Errorf("cache: failed to store warm start: %w", err)
	}
	return nil
}

// Get retrieves the warm-start state for key. ok is false if no cached
// state exists (a cold start), not an error.
func (w *WarmStart) Get(ctx context.Context, key string) (warm qp.WarmStart, ok bool, err error) {
	data, err := w.client.Get(ctx, redisKey(key)).Bytes()
	if err == redis.Nil {
		return qp.WarmStart{}, false, nil
	}
	if err != nil {
		return qp.WarmStart{}, false, fmt.Errorf("cache: failed to fetch warm start: %w", err)
	}
	if err := json.Unmarshal(data, &warm); err != nil {
		return qp.WarmStart{}, false, fmt.Errorf("cache: corrupt warm start: %w", err)
	}
	return warm, true, nil
}

// Delete removes any cached warm-start state for key.
func (w *WarmStart) Delete(ctx context.Context, key string) error {
	if err := w.client.Del(ctx, redisKey(key)).Err(); err != nil {
		return fmt.Errorf("cache: failed to delete warm start: %w", err)
	}
	return nil
}

func redisKey(key string) string {
	return "flowtrade:warmstart:" + key
}
