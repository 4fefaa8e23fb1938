// Package data provides the shared store and the backing-store probes.
package data

import (
	"github.com/destuar/Serplexity-sub003/internal/conf"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/wire"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// ProviderSet is data providers.
var ProviderSet = wire.NewSet(
	NewData,
	NewRedisClient,
	NewMySQLClient,
	NewHealthStore,
	NewDatabaseProbe,
	NewCacheProbe,
	NewQueueProbe,
	NewProcessSampler,
	NewLoggingEventNotifier,
	NewAuditLogWriter,
)

// Data contains all data layer dependencies.
type Data struct {
	// redisClient backs the health snapshot store and is the cache probe target.
	redisClient *redis.Client
	// db is only used for reachability probes; nil when no DSN is configured.
	db *gorm.DB
}

// NewData creates a new Data instance with all data layer dependencies.
// Unavailable stores do not prevent startup; the probes report them instead.
func NewData(_ *conf.Data, logger log.Logger, rdb *redis.Client, db *gorm.DB) (*Data, func(), error) {
	helper := log.NewHelper(logger)

	if rdb == nil {
		helper.Warn("Redis client is nil, health snapshots will not be persisted")
	}
	if db == nil {
		helper.Warn("database client is nil, database probe will report unhealthy")
	}

	d := &Data{
		redisClient: rdb,
		db:          db,
	}

	cleanup := func() {
		helper.Info("closing the data resources")
	}

	return d, cleanup, nil
}

// GetRedisClient returns the Redis client.
func (d *Data) GetRedisClient() *redis.Client {
	return d.redisClient
}

// GetDB returns the GORM handle.
func (d *Data) GetDB() *gorm.DB {
	return d.db
}
