package biz

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"sync"
	"time"

	"github.com/destuar/Serplexity-sub003/internal/conf"
	"github.com/destuar/Serplexity-sub003/internal/model"
	pkglog "github.com/destuar/Serplexity-sub003/pkg/log"
	"github.com/destuar/Serplexity-sub003/pkg/metrics"
	"github.com/destuar/Serplexity-sub003/pkg/schedule"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// ComponentAggregator names the synthetic component reported when no
// aggregation result is available.
const ComponentAggregator = "aggregator"

// Cycle results recorded in metrics.
const (
	cycleOK            = "ok"
	cyclePersistFailed = "persist_failed"
	cyclePanicked      = "panicked"
)

// HealthAggregator periodically probes every component, derives system
// metrics and alerts, and publishes a snapshot to the shared store.
type HealthAggregator struct {
	probes    HealthProbes
	repo      HealthRepo
	executor  *ResilientExecutor
	monitor   *ResourceMonitor
	scheduler *schedule.Scheduler

	interval      time.Duration
	probeTimeout  time.Duration
	snapshotKey   string
	snapshotTTL   time.Duration
	historyKey    string
	historyMaxLen int64
	thresholds    alertThresholds

	// cycleMu serialises cycles and acknowledgements so snapshots are
	// published in order.
	cycleMu sync.Mutex

	mu        sync.Mutex
	alerts    map[string]*model.Alert
	last      *model.SystemHealthSnapshot
	entry     schedule.EntryID
	running   bool
	hydrated  bool
	startedAt time.Time

	metrics *metrics.Metrics
	logger  *log.Helper
	events  *pkglog.LogHelper
	now     func() time.Time
}

// NewHealthAggregator creates an aggregator. It does not schedule anything
// until Start is called.
func NewHealthAggregator(
	c *conf.Health,
	probes HealthProbes,
	repo HealthRepo,
	executor *ResilientExecutor,
	monitor *ResourceMonitor,
	scheduler *schedule.Scheduler,
	m *metrics.Metrics,
	logger log.Logger,
) *HealthAggregator {
	return &HealthAggregator{
		probes:        probes,
		repo:          repo,
		executor:      executor,
		monitor:       monitor,
		scheduler:     scheduler,
		interval:      c.Interval,
		probeTimeout:  c.ProbeTimeout,
		snapshotKey:   c.SnapshotKey,
		snapshotTTL:   c.SnapshotTTL,
		historyKey:    c.HistoryKey,
		historyMaxLen: c.HistoryMaxLen,
		thresholds: alertThresholds{
			errorRate:      c.ErrorRateAlert,
			memoryWarning:  c.MemoryWarning,
			memoryCritical: c.MemoryCritical,
		},
		alerts:    make(map[string]*model.Alert),
		startedAt: time.Now(),
		metrics:   m,
		logger:    log.NewHelper(logger),
		events:    pkglog.NewLogHelper(logger),
		now:       time.Now,
	}
}

// Start schedules the periodic cycle and runs the first one in the
// background. Calling Start twice is a no-op.
func (a *HealthAggregator) Start(ctx context.Context) {
	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		return
	}
	a.running = true
	a.entry = a.scheduler.Every("health-aggregation", a.interval, a.tick)
	a.mu.Unlock()

	a.hydrate(ctx)
	a.scheduler.Start()
	a.logger.Infow("msg", "health aggregation started", "interval", a.interval, "probes", len(a.probes))

	go a.tick()
}

// Stop cancels the periodic cycle and waits for an in-flight cycle to end.
func (a *HealthAggregator) Stop(ctx context.Context) error {
	a.mu.Lock()
	if !a.running {
		a.mu.Unlock()
		return nil
	}
	a.running = false
	a.scheduler.Cancel(a.entry)
	a.mu.Unlock()

	done := make(chan struct{})
	go func() {
		a.cycleMu.Lock()
		close(done)
		a.cycleMu.Unlock()
	}()

	select {
	case <-done:
		a.logger.Info("health aggregation stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// tick is the scheduled entry point and never propagates failures.
func (a *HealthAggregator) tick() {
	ctx, cancel := context.WithTimeout(context.Background(), a.interval)
	defer cancel()
	a.RunCycle(ctx)
}

// RunCycle performs one aggregation cycle and returns the published
// snapshot. It never returns nil.
func (a *HealthAggregator) RunCycle(ctx context.Context) (snapshot *model.SystemHealthSnapshot) {
	a.cycleMu.Lock()
	defer a.cycleMu.Unlock()

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			a.logger.Errorw("msg", "health cycle panicked", "panic", r)
			a.metrics.ObserveCycle(time.Since(start), cyclePanicked, 0)
			snapshot = a.synthetic(fmt.Sprintf("cycle panicked: %v", r))
		}
	}()

	a.hydrate(ctx)
	cycleID := uuid.NewString()
	components := a.probeAll(ctx)
	for name, c := range components {
		a.metrics.SetComponentStatus(name, c.Status.Severity())
	}
	metricsNow := a.collectMetrics(ctx)
	now := a.now()

	a.mu.Lock()
	previous := a.alerts
	a.alerts = mergeAlerts(previous, detectAlerts(components, metricsNow, a.thresholds), now)
	open, all := splitAlerts(a.alerts)
	snapshot = &model.SystemHealthSnapshot{
		CycleID:    cycleID,
		Status:     overallStatus(components),
		Timestamp:  now,
		Uptime:     now.Sub(a.startedAt),
		Components: components,
		Metrics:    metricsNow,
		Alerts:     open,
		AllAlerts:  all,
	}
	a.last = snapshot
	a.mu.Unlock()

	result := cycleOK
	if err := a.publish(ctx, snapshot, true); err != nil {
		result = cyclePersistFailed
		a.logger.Warnw("msg", "failed to persist health snapshot", "cycle_id", cycleID, "error", err)
	}

	for _, alert := range open {
		if _, seen := previous[alert.ID]; !seen {
			a.events.Alert(alert.ID, string(alert.Severity), alert.Message, "component", alert.Component)
		}
	}

	a.metrics.ObserveCycle(time.Since(start), result, len(open))
	a.events.Health(cycleID, string(snapshot.Status), time.Since(start).Milliseconds(), "open_alerts", len(open))
	return snapshot
}

// probeAll fans out to every probe. Each probe is time-boxed and a probe
// that panics or overruns is reported unhealthy without affecting the others.
func (a *HealthAggregator) probeAll(ctx context.Context) map[string]model.ComponentHealth {
	results := make([]model.ComponentHealth, len(a.probes))

	g, gctx := errgroup.WithContext(ctx)
	for i, p := range a.probes {
		// runProbe turns every failure into an unhealthy result, so a task
		// never fails the group.
		g.Go(func() error {
			results[i] = a.runProbe(gctx, p)
			return nil
		})
	}
	_ = g.Wait()

	components := make(map[string]model.ComponentHealth, len(a.probes))
	for i, p := range a.probes {
		components[p.Name()] = results[i]
	}
	return components
}

func (a *HealthAggregator) runProbe(ctx context.Context, p ComponentProbe) model.ComponentHealth {
	ctx, cancel := context.WithTimeout(ctx, a.probeTimeout)
	defer cancel()

	start := time.Now()
	done := make(chan model.ComponentHealth, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				failure := &ProbeFailure{Component: p.Name(), Err: fmt.Errorf("panic: %v", r)}
				a.logger.Errorw("msg", "health probe panicked", "component", p.Name(), "panic", r)
				done <- unhealthy(failure.Error(), start)
			}
		}()
		done <- p.Check(ctx)
	}()

	select {
	case h := <-done:
		if h.LastCheckedAt.IsZero() {
			h.LastCheckedAt = time.Now()
		}
		if h.Status == "" {
			h.Status = model.HealthUnhealthy
		}
		return h
	case <-ctx.Done():
		failure := &ProbeFailure{Component: p.Name(), Err: fmt.Errorf("probe timed out after %s", a.probeTimeout)}
		a.logger.Warnw("msg", "health probe timed out", "component", p.Name(), "timeout", a.probeTimeout)
		return unhealthy(failure.Error(), start)
	}
}

func unhealthy(message string, start time.Time) model.ComponentHealth {
	return model.ComponentHealth{
		Status:         model.HealthUnhealthy,
		Message:        message,
		LastCheckedAt:  time.Now(),
		ResponseTimeMs: time.Since(start).Milliseconds(),
	}
}

func (a *HealthAggregator) collectMetrics(ctx context.Context) model.HealthMetrics {
	var m model.HealthMetrics
	if a.executor != nil {
		total, failed := a.executor.RequestTotals()
		m.TotalRequests = total
		m.FailedRequests = failed
		if total > 0 {
			m.ErrorRate = float64(failed) / float64(total) * 100
		}
		m.OpenCircuits = a.executor.GetHealthStatus().Failed
	}
	if a.monitor != nil {
		m.MemoryUtilization = a.monitor.MemoryUtilization(ctx)
		m.ActiveJobs = a.monitor.ActiveJobs()
	}
	return m
}

// publish writes the snapshot and optionally appends a history entry.
func (a *HealthAggregator) publish(ctx context.Context, s *model.SystemHealthSnapshot, withHistory bool) error {
	if a.repo == nil {
		return ErrStoreUnavailable
	}

	payload, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	if err := a.repo.SetWithTTL(ctx, a.snapshotKey, payload, a.snapshotTTL); err != nil {
		return fmt.Errorf("store snapshot: %w", err)
	}
	if !withHistory {
		return nil
	}

	entry, err := json.Marshal(model.HealthHistoryEntry{
		Status:    s.Status,
		Timestamp: s.Timestamp,
		Metrics:   s.Metrics,
	})
	if err != nil {
		return fmt.Errorf("marshal history entry: %w", err)
	}
	if err := a.repo.PushCapped(ctx, a.historyKey, entry, a.historyMaxLen); err != nil {
		return fmt.Errorf("append history: %w", err)
	}
	return nil
}

// load reads the persisted snapshot.
func (a *HealthAggregator) load(ctx context.Context) (*model.SystemHealthSnapshot, error) {
	if a.repo == nil {
		return nil, ErrStoreUnavailable
	}
	payload, err := a.repo.Get(ctx, a.snapshotKey)
	if err != nil {
		return nil, err
	}
	var s model.SystemHealthSnapshot
	if err := json.Unmarshal(payload, &s); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return &s, nil
}

// hydrate seeds the alert map from the persisted snapshot, so
// acknowledgements made before a restart are kept. A failed read is retried
// on the next call; a missing snapshot or an unconfigured store counts as done.
func (a *HealthAggregator) hydrate(ctx context.Context) {
	a.mu.Lock()
	done := a.hydrated
	a.mu.Unlock()
	if done {
		return
	}

	s, err := a.load(ctx)
	if err != nil {
		if stderrors.Is(err, ErrHealthSnapshotNotFound) || stderrors.Is(err, ErrStoreUnavailable) {
			a.mu.Lock()
			a.hydrated = true
			a.mu.Unlock()
			return
		}
		a.logger.Warnw("msg", "failed to hydrate alerts from store", "error", err)
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.hydrated {
		return
	}
	a.hydrated = true
	// Cycles that ran while the store was unreachable already own the map;
	// only their acknowledgements are restored.
	seed := len(a.alerts) == 0
	for _, alert := range s.AllAlerts {
		alert := alert
		if current, ok := a.alerts[alert.ID]; ok {
			current.Acknowledged = current.Acknowledged || alert.Acknowledged
			continue
		}
		if seed {
			a.alerts[alert.ID] = &alert
		}
	}
	if a.last == nil {
		a.last = s
	}
}

// GetSystemHealth serves the persisted snapshot, running a cycle when it is
// missing or expired. It always returns a snapshot.
func (a *HealthAggregator) GetSystemHealth(ctx context.Context) (snapshot *model.SystemHealthSnapshot) {
	defer func() {
		if r := recover(); r != nil {
			a.logger.Errorw("msg", "health read panicked", "panic", r)
			snapshot = a.synthetic(fmt.Sprintf("read panicked: %v", r))
		}
	}()

	s, err := a.load(ctx)
	if err == nil {
		return s
	}
	if !stderrors.Is(err, ErrHealthSnapshotNotFound) {
		a.logger.Warnw("msg", "failed to read health snapshot, aggregating synchronously", "error", err)
	}
	return a.RunCycle(ctx)
}

// TriggerHealthCheck runs a cycle immediately.
func (a *HealthAggregator) TriggerHealthCheck(ctx context.Context) *model.SystemHealthSnapshot {
	a.logger.Infow("msg", "manual health check triggered")
	return a.RunCycle(ctx)
}

// AcknowledgeAlert marks the alert as acknowledged and republishes the
// snapshot. It returns false when no active alert has that id. It waits for
// an in-flight cycle so the cycle cannot overwrite the acknowledgement.
func (a *HealthAggregator) AcknowledgeAlert(ctx context.Context, alertID string) (bool, error) {
	a.cycleMu.Lock()
	defer a.cycleMu.Unlock()

	a.hydrate(ctx)

	a.mu.Lock()
	alert, ok := a.alerts[alertID]
	if !ok {
		a.mu.Unlock()
		return false, nil
	}
	alert.Acknowledged = true
	component := alert.Component
	open, all := splitAlerts(a.alerts)

	var updated *model.SystemHealthSnapshot
	if a.last != nil {
		cp := *a.last
		cp.Alerts = open
		cp.AllAlerts = all
		a.last = &cp
		updated = &cp
	}
	a.mu.Unlock()

	a.logger.Infow("msg", "alert acknowledged", "alert_id", alertID, "component", component)
	if updated == nil {
		return true, nil
	}
	if err := a.publish(ctx, updated, false); err != nil {
		return true, err
	}
	return true, nil
}

// History returns up to limit history entries, newest first.
func (a *HealthAggregator) History(ctx context.Context, limit int64) ([]model.HealthHistoryEntry, error) {
	if a.repo == nil {
		return nil, ErrStoreUnavailable
	}
	if limit <= 0 || limit > a.historyMaxLen {
		limit = a.historyMaxLen
	}

	raw, err := a.repo.Range(ctx, a.historyKey, limit)
	if err != nil {
		return nil, err
	}
	entries := make([]model.HealthHistoryEntry, 0, len(raw))
	for _, payload := range raw {
		var e model.HealthHistoryEntry
		if err := json.Unmarshal(payload, &e); err != nil {
			a.logger.Warnw("msg", "skipping malformed history entry", "error", err)
			continue
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// LastSnapshot returns the most recent in-process snapshot, if any.
func (a *HealthAggregator) LastSnapshot() (*model.SystemHealthSnapshot, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.last, a.last != nil
}

func (a *HealthAggregator) synthetic(reason string) *model.SystemHealthSnapshot {
	now := a.now()
	return &model.SystemHealthSnapshot{
		CycleID:   uuid.NewString(),
		Status:    model.HealthUnhealthy,
		Timestamp: now,
		Uptime:    now.Sub(a.startedAt),
		Components: map[string]model.ComponentHealth{
			ComponentAggregator: {
				Status:        model.HealthUnhealthy,
				Message:       "unknown: health aggregation unavailable: " + reason,
				LastCheckedAt: now,
			},
		},
		Alerts:    []model.Alert{},
		AllAlerts: []model.Alert{},
	}
}
