package redis

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// KV is the narrow key-value surface the domain packages depend on.
// Missing keys are reported as ok=false rather than errors.
type KV struct {
	db            redis.UniversalClient
	scanBatchSize int64
}

// NewKV wraps a client. batch is the SCAN COUNT hint used by Keys; zero means 500.
func NewKV(client redis.UniversalClient, batch int64) *KV {
	if batch <= 0 {
		batch = 500
	}
	return &KV{db: client, scanBatchSize: batch}
}

// Client exposes the underlying client for scripts and pub/sub.
func (s *KV) Client() redis.UniversalClient {
	return s.db
}

func (s *KV) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := s.db.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}

// MGet returns values in key order; missing keys map to nil entries.
func (s *KV) MGet(ctx context.Context, keys ...string) ([]*string, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	raw, err := s.db.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}
	out := make([]*string, len(raw))
	for i, v := range raw {
		if str, ok := v.(string); ok {
			out[i] = &str
		}
	}
	return out, nil
}

// Set stores a value. ttl of zero keeps the key forever.
func (s *KV) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return s.db.Set(ctx, key, value, ttl).Err()
}

// MSet writes all pairs in one MULTI/EXEC; ttl applies to every key when non-zero.
func (s *KV) MSet(ctx context.Context, values map[string]string, ttl time.Duration) error {
	if len(values) == 0 {
		return nil
	}
	return s.Batch(ctx, func(p redis.Pipeliner) error {
		for k, v := range values {
			p.Set(ctx, k, v, ttl)
		}
		return nil
	})
}

func (s *KV) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return s.db.Del(ctx, keys...).Err()
}

func (s *KV) Exists(ctx context.Context, key string) (bool, error) {
	n, err := s.db.Exists(ctx, key).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Keys lists keys matching a glob pattern using SCAN, never KEYS.
func (s *KV) Keys(ctx context.Context, pattern string) ([]string, error) {
	var (
		cursor uint64
		keys   []string
	)
	for {
		batch, next, err := s.db.Scan(ctx, cursor, pattern, s.scanBatchSize).Result()
		if err != nil {
			return nil, err
		}
		keys = append(keys, batch...)
		if next == 0 {
			return keys, nil
		}
		cursor = next
	}
}

// Batch queues commands in a transactional pipeline. The batch is applied as a
// unit but offers no compare-and-swap across keys; use scripts for that.
func (s *KV) Batch(ctx context.Context, fn func(redis.Pipeliner) error) error {
	_, err := s.db.TxPipelined(ctx, fn)
	if err != nil {
		return errors.Join(ErrBatchFailed, err)
	}
	return nil
}
