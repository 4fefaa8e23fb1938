package data

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/destuar/Serplexity-sub003/internal/conf"
	"github.com/destuar/Serplexity-sub003/internal/model"
	probeerrors "github.com/destuar/Serplexity-sub003/pkg/errors"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/redis/go-redis/v9"
)

// Probe component names.
const (
	ComponentDatabase = "database"
	ComponentCache    = "cache"
	ComponentQueue    = "queue"
)

// slowProbe is the response time above which a reachable store is degraded.
const slowProbe = time.Second

// cacheMemoryDegraded is the used_memory/maxmemory percentage above which
// the cache is degraded.
const cacheMemoryDegraded = 90.0

// sqlPinger is the subset of *sql.DB the database probe needs.
type sqlPinger interface {
	PingContext(ctx context.Context) error
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	Stats() sql.DBStats
}

// DatabaseProbe checks database reachability and connection pool pressure.
type DatabaseProbe struct {
	pinger sqlPinger
	query  string
	logger *log.Helper
}

// NewDatabaseProbe creates the database probe on the data layer's handle.
func NewDatabaseProbe(c *conf.Data, d *Data, logger log.Logger) *DatabaseProbe {
	p := &DatabaseProbe{
		query:  "SELECT 1",
		logger: log.NewHelper(logger),
	}
	if c != nil && c.Database != nil && c.Database.ProbeQuery != "" {
		p.query = c.Database.ProbeQuery
	}
	if db := d.GetDB(); db != nil {
		sqlDB, err := db.DB()
		if err != nil {
			p.logger.Warnw("msg", "database handle has no sql.DB, probe will report unhealthy", "error", err)
		} else {
			p.pinger = sqlDB
		}
	}
	return p
}

// Name implements biz.ComponentProbe.
func (p *DatabaseProbe) Name() string {
	return ComponentDatabase
}

// Check pings the database, runs the probe query and inspects pool stats.
func (p *DatabaseProbe) Check(ctx context.Context) model.ComponentHealth {
	start := time.Now()
	if p.pinger == nil {
		return componentResult(model.HealthUnhealthy, "database client not configured", nil, start)
	}

	if err := p.pinger.PingContext(ctx); err != nil {
		return p.failure(err, start)
	}
	if _, err := p.pinger.ExecContext(ctx, p.query); err != nil {
		return p.failure(err, start)
	}

	stats := p.pinger.Stats()
	elapsed := time.Since(start)
	metrics := map[string]float64{
		"open_connections": float64(stats.OpenConnections),
		"in_use":           float64(stats.InUse),
		"idle":             float64(stats.Idle),
		"wait_count":       float64(stats.WaitCount),
		"wait_duration_ms": float64(stats.WaitDuration.Milliseconds()),
	}

	switch {
	case stats.MaxOpenConnections > 0 && stats.InUse >= stats.MaxOpenConnections:
		return componentResult(model.HealthDegraded, fmt.Sprintf("connection pool exhausted (%d/%d in use)", stats.InUse, stats.MaxOpenConnections), metrics, start)
	case elapsed > slowProbe:
		return componentResult(model.HealthDegraded, fmt.Sprintf("slow response: %s", elapsed), metrics, start)
	}
	return componentResult(model.HealthHealthy, "database reachable", metrics, start)
}

func (p *DatabaseProbe) failure(err error, start time.Time) model.ComponentHealth {
	pe := probeerrors.ClassifyProbeError(err)
	p.logger.Warnw("msg", "database probe failed", "class", pe.Type.String(), "error", err)
	status := model.HealthUnhealthy
	if pe.Degraded() {
		status = model.HealthDegraded
	}
	return componentResult(status, pe.Error(), nil, start)
}

// CacheProbe checks the redis instance used as cache and shared store.
type CacheProbe struct {
	rdb    *redis.Client
	logger *log.Helper
}

// NewCacheProbe creates the cache probe.
func NewCacheProbe(d *Data, logger log.Logger) *CacheProbe {
	return &CacheProbe{
		rdb:    d.GetRedisClient(),
		logger: log.NewHelper(logger),
	}
}

// Name implements biz.ComponentProbe.
func (p *CacheProbe) Name() string {
	return ComponentCache
}

// Check runs PING and a write/read round trip, then collects key count and
// memory figures. INFO is best effort.
func (p *CacheProbe) Check(ctx context.Context) model.ComponentHealth {
	start := time.Now()
	if p.rdb == nil {
		return componentResult(model.HealthUnhealthy, "redis client not configured", nil, start)
	}

	if err := p.rdb.Ping(ctx).Err(); err != nil {
		return p.failure(err, start)
	}

	key := BuildKey("system", "health", "probe")
	stamp := strconv.FormatInt(start.UnixNano(), 10)
	if err := p.rdb.Set(ctx, key, stamp, time.Minute).Err(); err != nil {
		return p.failure(err, start)
	}
	got, err := p.rdb.Get(ctx, key).Result()
	if err != nil {
		return p.failure(err, start)
	}
	if got != stamp {
		return componentResult(model.HealthDegraded, "round trip returned a stale value", nil, start)
	}

	metrics := map[string]float64{}
	if n, err := p.rdb.DBSize(ctx).Result(); err == nil {
		metrics["keys"] = float64(n)
	}
	if info, err := p.rdb.Info(ctx, "memory").Result(); err == nil {
		used, maxMem := parseMemoryInfo(info)
		metrics["used_memory_bytes"] = float64(used)
		if maxMem > 0 {
			pct := float64(used) / float64(maxMem) * 100
			metrics["memory_percent"] = pct
			if pct > cacheMemoryDegraded {
				return componentResult(model.HealthDegraded, fmt.Sprintf("redis memory at %.1f%% of maxmemory", pct), metrics, start)
			}
		}
	}

	if elapsed := time.Since(start); elapsed > slowProbe {
		return componentResult(model.HealthDegraded, fmt.Sprintf("slow response: %s", elapsed), metrics, start)
	}
	return componentResult(model.HealthHealthy, "redis reachable", metrics, start)
}

func (p *CacheProbe) failure(err error, start time.Time) model.ComponentHealth {
	pe := probeerrors.ClassifyProbeError(err)
	p.logger.Warnw("msg", "cache probe failed", "class", pe.Type.String(), "error", err)
	status := model.HealthUnhealthy
	if pe.Degraded() {
		status = model.HealthDegraded
	}
	return componentResult(status, pe.Error(), nil, start)
}

// parseMemoryInfo extracts used_memory and maxmemory from an INFO memory reply.
func parseMemoryInfo(info string) (used, maxMem int64) {
	for _, line := range strings.Split(info, "\n") {
		k, v, ok := strings.Cut(strings.TrimSpace(line), ":")
		if !ok {
			continue
		}
		switch k {
		case "used_memory":
			used, _ = strconv.ParseInt(v, 10, 64)
		case "maxmemory":
			maxMem, _ = strconv.ParseInt(v, 10, 64)
		}
	}
	return used, maxMem
}

// QueueProbe measures the report job backlog held in redis lists and
// delayed sorted sets.
type QueueProbe struct {
	rdb         *redis.Client
	listKeys    []string
	delayedKeys []string
	degraded    int64
	unhealthy   int64
	logger      *log.Helper
}

// NewQueueProbe creates the queue probe.
func NewQueueProbe(c *conf.Data, d *Data, logger log.Logger) *QueueProbe {
	p := &QueueProbe{
		rdb:    d.GetRedisClient(),
		logger: log.NewHelper(logger),
	}
	if c != nil && c.Queue != nil {
		p.listKeys = c.Queue.ListKeys
		p.delayedKeys = c.Queue.DelayedKeys
		p.degraded = c.Queue.BacklogDegraded
		p.unhealthy = c.Queue.BacklogUnhealthy
	}
	return p
}

// Name implements biz.ComponentProbe.
func (p *QueueProbe) Name() string {
	return ComponentQueue
}

// Check sums LLEN and ZCARD over the configured keys in one pipeline.
func (p *QueueProbe) Check(ctx context.Context) model.ComponentHealth {
	start := time.Now()
	if p.rdb == nil {
		return componentResult(model.HealthUnhealthy, "redis client not configured", nil, start)
	}
	if len(p.listKeys)+len(p.delayedKeys) == 0 {
		return componentResult(model.HealthHealthy, "no queues configured", nil, start)
	}

	pending := make([]*redis.IntCmd, 0, len(p.listKeys))
	delayed := make([]*redis.IntCmd, 0, len(p.delayedKeys))
	_, err := p.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, k := range p.listKeys {
			pending = append(pending, pipe.LLen(ctx, k))
		}
		for _, k := range p.delayedKeys {
			delayed = append(delayed, pipe.ZCard(ctx, k))
		}
		return nil
	})
	if err != nil {
		pe := probeerrors.ClassifyProbeError(err)
		p.logger.Warnw("msg", "queue probe failed", "class", pe.Type.String(), "error", err)
		return componentResult(model.HealthUnhealthy, pe.Error(), nil, start)
	}

	var pendingTotal, delayedTotal int64
	for _, cmd := range pending {
		pendingTotal += cmd.Val()
	}
	for _, cmd := range delayed {
		delayedTotal += cmd.Val()
	}
	backlog := pendingTotal + delayedTotal
	metrics := map[string]float64{
		"pending": float64(pendingTotal),
		"delayed": float64(delayedTotal),
		"backlog": float64(backlog),
	}

	switch {
	case p.unhealthy > 0 && backlog >= p.unhealthy:
		return componentResult(model.HealthUnhealthy, fmt.Sprintf("backlog %d exceeds %d", backlog, p.unhealthy), metrics, start)
	case p.degraded > 0 && backlog >= p.degraded:
		return componentResult(model.HealthDegraded, fmt.Sprintf("backlog %d exceeds %d", backlog, p.degraded), metrics, start)
	}
	return componentResult(model.HealthHealthy, fmt.Sprintf("backlog %d", backlog), metrics, start)
}

func componentResult(status model.HealthStatus, message string, metrics map[string]float64, start time.Time) model.ComponentHealth {
	return model.ComponentHealth{
		Status:         status,
		Message:        message,
		Metrics:        metrics,
		LastCheckedAt:  time.Now(),
		ResponseTimeMs: time.Since(start).Milliseconds(),
	}
}
