package biz

import (
	"context"
	"fmt"
	"runtime"
	"runtime/debug"
	"sync"
	"time"

	"github.com/destuar/Serplexity-sub003/internal/conf"
	"github.com/destuar/Serplexity-sub003/internal/model"
	"github.com/destuar/Serplexity-sub003/pkg/metrics"
	"github.com/destuar/Serplexity-sub003/pkg/schedule"

	"github.com/go-kratos/kratos/v2/log"
	lru "github.com/hashicorp/golang-lru/v2"
)

// ComponentResources is the probe name of the local resource check.
const ComponentResources = "resources"

const bytesPerMB = 1024 * 1024

// MemorySampler reads memory figures of the running process and host.
type MemorySampler interface {
	// ProcessRSS returns the resident set size of this process in bytes.
	ProcessRSS(ctx context.Context) (uint64, error)
	// HostMemoryPercent returns used host memory as a percentage.
	HostMemoryPercent(ctx context.Context) (float64, error)
}

// ResourceCallback receives the result of every poll of a job.
type ResourceCallback func(check model.ResourceCheck)

type monitorSession struct {
	jobID    string
	start    time.Time
	limits   model.ResourceLimits
	callback ResourceCallback
	entry    schedule.EntryID

	ticks        int
	peakMemoryMB float64
	breaches     []string
}

// ResourceMonitor enforces per-job memory and wall-clock budgets by polling.
// Breaches are reported to callbacks; only MonitorAsyncFunction turns them
// into errors.
type ResourceMonitor struct {
	mu       sync.Mutex
	sessions map[string]*monitorSession

	scheduler    *schedule.Scheduler
	sampler      MemorySampler
	interval     time.Duration
	defaults     model.ResourceLimits
	warningRatio float64
	history      *lru.Cache[string, model.JobUsageReport]

	metrics *metrics.Metrics
	logger  *log.Helper
	now     func() time.Time
}

// NewResourceMonitor creates a monitor polling on scheduler.
func NewResourceMonitor(c *conf.Monitor, scheduler *schedule.Scheduler, sampler MemorySampler, m *metrics.Metrics, logger log.Logger) (*ResourceMonitor, error) {
	interval := 10 * time.Second
	warningRatio := 0.8
	historySize := 128
	var defaults model.ResourceLimits
	if c != nil {
		if c.PollInterval > 0 {
			interval = c.PollInterval
		}
		if c.WarningRatio > 0 && c.WarningRatio < 1 {
			warningRatio = c.WarningRatio
		}
		if c.HistorySize > 0 {
			historySize = c.HistorySize
		}
		defaults = model.ResourceLimits{
			MaxMemoryMB:      c.MaxMemoryMB,
			MaxExecutionTime: c.MaxExecutionTime,
		}
	}

	history, err := lru.New[string, model.JobUsageReport](historySize)
	if err != nil {
		return nil, fmt.Errorf("failed to create job history: %w", err)
	}

	return &ResourceMonitor{
		sessions:     make(map[string]*monitorSession),
		scheduler:    scheduler,
		sampler:      sampler,
		interval:     interval,
		defaults:     defaults,
		warningRatio: warningRatio,
		history:      history,
		metrics:      m,
		logger:       log.NewHelper(logger),
		now:          time.Now,
	}, nil
}

// DefaultLimits returns the configured default budget.
func (m *ResourceMonitor) DefaultLimits() model.ResourceLimits {
	return m.defaults
}

// StartMonitoring begins polling jobID every interval. Each call must be
// paired with exactly one StopMonitoring.
func (m *ResourceMonitor) StartMonitoring(jobID string, limits model.ResourceLimits, callback ResourceCallback) error {
	m.mu.Lock()
	if _, exists := m.sessions[jobID]; exists {
		m.mu.Unlock()
		return fmt.Errorf("job %s is already monitored", jobID)
	}
	sess := &monitorSession{
		jobID:    jobID,
		start:    m.now(),
		limits:   limits,
		callback: callback,
	}
	sess.entry = m.scheduler.Every("monitor:"+jobID, m.interval, func() {
		m.poll(jobID)
	})
	m.sessions[jobID] = sess
	active := len(m.sessions)
	m.mu.Unlock()

	m.scheduler.Start()

	m.metrics.SetActiveJobs(active)
	m.logger.Debugw("msg", "resource monitoring started", "job_id", jobID,
		"max_memory_mb", limits.MaxMemoryMB, "max_execution_time", limits.MaxExecutionTime.String())
	return nil
}

// StopMonitoring stops polling jobID. Unknown or already stopped ids are ignored.
func (m *ResourceMonitor) StopMonitoring(jobID string) {
	m.finish(jobID)
}

// finish removes the session and returns the error-level breaches it saw.
func (m *ResourceMonitor) finish(jobID string) []string {
	m.mu.Lock()
	sess, ok := m.sessions[jobID]
	if !ok {
		m.mu.Unlock()
		return nil
	}
	delete(m.sessions, jobID)
	active := len(m.sessions)
	report := model.JobUsageReport{
		JobID:        jobID,
		PeakMemoryMB: sess.peakMemoryMB,
		Duration:     m.now().Sub(sess.start),
		Ticks:        sess.ticks,
		Breached:     len(sess.breaches) > 0,
		EndedAt:      m.now(),
	}
	breaches := sess.breaches
	entry := sess.entry
	m.mu.Unlock()

	m.scheduler.Cancel(entry)
	m.history.Add(jobID, report)
	m.metrics.SetActiveJobs(active)
	m.logger.Debugw("msg", "resource monitoring stopped", "job_id", jobID,
		"peak_memory_mb", report.PeakMemoryMB, "duration", report.Duration.String(), "breached", report.Breached)
	return breaches
}

// poll samples jobID once and notifies its callback.
func (m *ResourceMonitor) poll(jobID string) {
	m.mu.Lock()
	sess, ok := m.sessions[jobID]
	if !ok {
		m.mu.Unlock()
		return
	}
	start, limits := sess.start, sess.limits
	m.mu.Unlock()

	check := m.evaluate(context.Background(), jobID, start, limits)

	m.mu.Lock()
	sess, ok = m.sessions[jobID]
	if !ok {
		m.mu.Unlock()
		return
	}
	sess.ticks++
	if check.Usage.MemoryMB > sess.peakMemoryMB {
		sess.peakMemoryMB = check.Usage.MemoryMB
	}
	sess.breaches = append(sess.breaches, check.Errors...)
	callback := sess.callback
	m.mu.Unlock()

	for range check.Warnings {
		m.metrics.ObserveBreach("warning")
	}
	for range check.Errors {
		m.metrics.ObserveBreach("error")
	}
	if len(check.Errors) > 0 {
		m.logger.Warnw("msg", "job exceeded resource budget", "job_id", jobID, "errors", check.Errors,
			"memory_mb", check.Usage.MemoryMB, "elapsed", check.Usage.Elapsed.String())
	}

	if callback != nil {
		func() {
			defer func() {
				if p := recover(); p != nil {
					m.logger.Errorw("msg", "resource callback panicked", "job_id", jobID, "panic", p)
				}
			}()
			callback(check)
		}()
	}
}

// evaluate compares a fresh sample against limits.
func (m *ResourceMonitor) evaluate(ctx context.Context, jobID string, start time.Time, limits model.ResourceLimits) model.ResourceCheck {
	now := m.now()
	check := model.ResourceCheck{
		JobID: jobID,
		Usage: model.ResourceUsage{
			Elapsed:   now.Sub(start),
			SampledAt: now,
		},
		Warnings: []string{},
		Errors:   []string{},
	}

	rss, err := m.sampler.ProcessRSS(ctx)
	if err != nil {
		m.logger.Warnw("msg", "failed to sample process memory", "job_id", jobID, "error", err)
	} else {
		check.Usage.MemoryMB = float64(rss) / bytesPerMB
		if limits.MaxMemoryMB > 0 {
			warnAt := limits.WarningMemoryMB
			if warnAt <= 0 {
				warnAt = limits.MaxMemoryMB * m.warningRatio
			}
			switch {
			case check.Usage.MemoryMB > limits.MaxMemoryMB:
				check.Errors = append(check.Errors, fmt.Sprintf("memory usage %.1fMB exceeds limit %.1fMB", check.Usage.MemoryMB, limits.MaxMemoryMB))
			case check.Usage.MemoryMB > warnAt:
				check.Warnings = append(check.Warnings, fmt.Sprintf("memory usage %.1fMB above warning threshold %.1fMB", check.Usage.MemoryMB, warnAt))
			}
		}
	}

	if limits.MaxExecutionTime > 0 {
		warnAfter := limits.WarningElapsedTime
		if warnAfter <= 0 {
			warnAfter = time.Duration(float64(limits.MaxExecutionTime) * m.warningRatio)
		}
		switch {
		case check.Usage.Elapsed > limits.MaxExecutionTime:
			check.Errors = append(check.Errors, fmt.Sprintf("execution time %s exceeds limit %s", check.Usage.Elapsed.Round(time.Millisecond), limits.MaxExecutionTime))
		case check.Usage.Elapsed > warnAfter:
			check.Warnings = append(check.Warnings, fmt.Sprintf("execution time %s above warning threshold %s", check.Usage.Elapsed.Round(time.Millisecond), warnAfter))
		}
	}

	check.WithinLimits = len(check.Errors) == 0
	return check
}

// CheckLimits samples once against limits without registering a session.
func (m *ResourceMonitor) CheckLimits(ctx context.Context, jobID string, limits model.ResourceLimits) model.ResourceCheck {
	return m.evaluate(ctx, jobID, m.now(), limits)
}

// MonitorAsyncFunction runs fn under monitoring. It fails fast when the
// process is already over budget, always stops monitoring, and returns
// *ResourceBudgetExceededError instead of fn's result if any poll reported
// an error-level breach.
func (m *ResourceMonitor) MonitorAsyncFunction(ctx context.Context, jobID string, fn func(ctx context.Context) (any, error), limits model.ResourceLimits) (any, error) {
	pre := m.CheckLimits(ctx, jobID, limits)
	if !pre.WithinLimits {
		return nil, &ResourceBudgetExceededError{JobID: jobID, Errors: pre.Errors}
	}

	if err := m.StartMonitoring(jobID, limits, nil); err != nil {
		return nil, err
	}

	var (
		result   any
		err      error
		breaches []string
	)
	func() {
		defer func() {
			if p := recover(); p != nil {
				err = fmt.Errorf("job %s panicked: %v", jobID, p)
			}
			breaches = m.finish(jobID)
		}()
		result, err = fn(ctx)
	}()

	if len(breaches) > 0 {
		return nil, &ResourceBudgetExceededError{JobID: jobID, Errors: breaches}
	}
	return result, err
}

// ForceGarbageCollection runs a full collection and returns freed memory to
// the OS. It is best-effort and not scoped to the job.
func (m *ResourceMonitor) ForceGarbageCollection(jobID string) {
	var before, after runtime.MemStats
	runtime.ReadMemStats(&before)
	runtime.GC()
	debug.FreeOSMemory()
	runtime.ReadMemStats(&after)

	m.logger.Infow("msg", "forced garbage collection", "job_id", jobID,
		"heap_before_mb", float64(before.HeapAlloc)/bytesPerMB,
		"heap_after_mb", float64(after.HeapAlloc)/bytesPerMB)
}

// ActiveJobs returns the number of monitored jobs.
func (m *ResourceMonitor) ActiveJobs() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// RecentReports returns finished job reports, oldest first.
func (m *ResourceMonitor) RecentReports() []model.JobUsageReport {
	return m.history.Values()
}

// MemoryUtilization returns host memory usage as a percentage, falling back
// to process RSS against the default memory budget.
func (m *ResourceMonitor) MemoryUtilization(ctx context.Context) float64 {
	if pct, err := m.sampler.HostMemoryPercent(ctx); err == nil {
		return pct
	}
	rss, err := m.sampler.ProcessRSS(ctx)
	if err != nil || m.defaults.MaxMemoryMB <= 0 {
		return 0
	}
	return float64(rss) / bytesPerMB / m.defaults.MaxMemoryMB * 100
}

// Name implements ComponentProbe.
func (m *ResourceMonitor) Name() string {
	return ComponentResources
}

// Check implements ComponentProbe: process memory against the default budget
// plus breaches among recently finished jobs.
func (m *ResourceMonitor) Check(ctx context.Context) model.ComponentHealth {
	start := time.Now()
	health := model.ComponentHealth{
		Status:  model.HealthHealthy,
		Message: "resource usage within limits",
		Metrics: map[string]float64{},
	}

	rss, err := m.sampler.ProcessRSS(ctx)
	if err != nil {
		health.Status = model.HealthDegraded
		health.Message = fmt.Sprintf("memory sample unavailable: %v", err)
	} else {
		rssMB := float64(rss) / bytesPerMB
		health.Metrics["rss_mb"] = rssMB
		if limit := m.defaults.MaxMemoryMB; limit > 0 {
			health.Metrics["rss_limit_mb"] = limit
			switch {
			case rssMB > limit:
				health.Status = model.HealthUnhealthy
				health.Message = fmt.Sprintf("process memory %.1fMB exceeds %.1fMB", rssMB, limit)
			case rssMB > limit*m.warningRatio:
				health.Status = model.HealthDegraded
				health.Message = fmt.Sprintf("process memory %.1fMB near limit %.1fMB", rssMB, limit)
			}
		}
	}

	breached := 0
	for _, r := range m.RecentReports() {
		if r.Breached {
			breached++
		}
	}
	health.Metrics["active_jobs"] = float64(m.ActiveJobs())
	health.Metrics["recent_jobs"] = float64(m.history.Len())
	health.Metrics["recent_breaches"] = float64(breached)
	if breached > 0 && health.Status == model.HealthHealthy {
		health.Status = model.HealthDegraded
		health.Message = fmt.Sprintf("%d recent jobs exceeded their budget", breached)
	}

	health.LastCheckedAt = time.Now()
	health.ResponseTimeMs = time.Since(start).Milliseconds()
	return health
}
