package data

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/redis/go-redis/v9"
)

var (
	// ErrKeyNotFound is returned when a key does not exist or has expired.
	ErrKeyNotFound = errors.New("store: key not found")
	// ErrNoClient is returned when the store was built without a redis client.
	ErrNoClient = errors.New("store: redis client unavailable")
)

// HealthStore is the redis-backed shared store for health snapshots and
// the rolling history list.
type HealthStore struct {
	rdb    *redis.Client
	logger *log.Helper
}

// NewHealthStore creates a store on the data layer's redis client.
func NewHealthStore(d *Data, logger log.Logger) *HealthStore {
	return &HealthStore{
		rdb:    d.GetRedisClient(),
		logger: log.NewHelper(logger),
	}
}

// SetWithTTL stores value under key with an expiry.
func (s *HealthStore) SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if s.rdb == nil {
		return ErrNoClient
	}
	if err := s.rdb.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("store set %s: %w", key, err)
	}
	return nil
}

// Get returns the raw value under key or ErrKeyNotFound.
func (s *HealthStore) Get(ctx context.Context, key string) ([]byte, error) {
	if s.rdb == nil {
		return nil, ErrNoClient
	}
	val, err := s.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrKeyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store get %s: %w", key, err)
	}
	return val, nil
}

// PushCapped prepends value and trims the list to maxLen newest entries in
// one round trip.
func (s *HealthStore) PushCapped(ctx context.Context, key string, value []byte, maxLen int64) error {
	if s.rdb == nil {
		return ErrNoClient
	}
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LPush(ctx, key, value)
		if maxLen > 0 {
			pipe.LTrim(ctx, key, 0, maxLen-1)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("store push %s: %w", key, err)
	}
	return nil
}

// Range returns up to limit newest entries of the list at key.
func (s *HealthStore) Range(ctx context.Context, key string, limit int64) ([][]byte, error) {
	if s.rdb == nil {
		return nil, ErrNoClient
	}
	if limit <= 0 {
		return [][]byte{}, nil
	}
	vals, err := s.rdb.LRange(ctx, key, 0, limit-1).Result()
	if err != nil {
		return nil, fmt.Errorf("store range %s: %w", key, err)
	}
	out := make([][]byte, 0, len(vals))
	for _, v := range vals {
		out = append(out, []byte(v))
	}
	return out, nil
}

// BuildKey joins a prefix and parts with ":", e.g. BuildKey("system", "health").
func BuildKey(prefix string, parts ...string) string {
	if len(parts) == 0 {
		return prefix
	}
	return prefix + ":" + strings.Join(parts, ":")
}
