package biz

import (
	"context"
	"time"

	"github.com/destuar/Serplexity-sub003/internal/model"
)

// ComponentProbe is implemented by every subsystem the aggregator polls.
// Check must not panic; if it does, or exceeds its time box, the component
// is reported unhealthy.
type ComponentProbe interface {
	Name() string
	Check(ctx context.Context) model.ComponentHealth
}

// HealthRepo is the shared store contract used for snapshots and history.
type HealthRepo interface {
	// SetWithTTL stores value under key, expiring after ttl.
	SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Get returns ErrHealthSnapshotNotFound when key is missing or expired.
	Get(ctx context.Context, key string) ([]byte, error)
	// PushCapped prepends value to the list at key and trims it to maxLen entries.
	PushCapped(ctx context.Context, key string, value []byte, maxLen int64) error
	// Range returns up to limit newest entries of the list at key.
	Range(ctx context.Context, key string, limit int64) ([][]byte, error)
}

// HealthProbes is the fixed probe set of the aggregator.
type HealthProbes []ComponentProbe
