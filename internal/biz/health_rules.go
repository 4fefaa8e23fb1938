package biz

import (
	"fmt"
	"sort"
	"time"

	"github.com/destuar/Serplexity-sub003/internal/model"
)

// Stable alert ids for system-wide conditions.
const (
	AlertHighFailureRate = "high-failure-rate"
	AlertHighMemoryUsage = "high-memory-usage"
)

type alertThresholds struct {
	errorRate      float64
	memoryWarning  float64
	memoryCritical float64
}

// overallStatus reduces component statuses by max severity.
func overallStatus(components map[string]model.ComponentHealth) model.HealthStatus {
	overall := model.HealthHealthy
	for _, c := range components {
		if c.Status.Severity() > overall.Severity() {
			overall = c.Status
		}
	}
	return overall
}

// detectAlerts evaluates the rule set. Returned alerts carry no timestamp
// or acknowledgement; mergeAlerts assigns those.
func detectAlerts(components map[string]model.ComponentHealth, m model.HealthMetrics, th alertThresholds) []model.Alert {
	var detected []model.Alert

	for name, c := range components {
		switch c.Status {
		case model.HealthUnhealthy:
			detected = append(detected, model.Alert{
				ID:        name + "-unhealthy",
				Severity:  model.AlertCritical,
				Component: name,
				Message:   fmt.Sprintf("%s is unhealthy: %s", name, c.Message),
			})
		case model.HealthDegraded:
			detected = append(detected, model.Alert{
				ID:        name + "-degraded",
				Severity:  model.AlertWarning,
				Component: name,
				Message:   fmt.Sprintf("%s is degraded: %s", name, c.Message),
			})
		}
	}

	if m.TotalRequests > 0 && m.ErrorRate > th.errorRate {
		detected = append(detected, model.Alert{
			ID:        AlertHighFailureRate,
			Severity:  model.AlertWarning,
			Component: ComponentCircuits,
			Message:   fmt.Sprintf("error rate %.1f%% exceeds %.1f%% (%d of %d requests)", m.ErrorRate, th.errorRate, m.FailedRequests, m.TotalRequests),
		})
	}

	switch {
	case m.MemoryUtilization > th.memoryCritical:
		detected = append(detected, model.Alert{
			ID:        AlertHighMemoryUsage,
			Severity:  model.AlertCritical,
			Component: ComponentResources,
			Message:   fmt.Sprintf("memory utilization %.1f%% exceeds %.1f%%", m.MemoryUtilization, th.memoryCritical),
		})
	case m.MemoryUtilization > th.memoryWarning:
		detected = append(detected, model.Alert{
			ID:        AlertHighMemoryUsage,
			Severity:  model.AlertWarning,
			Component: ComponentResources,
			Message:   fmt.Sprintf("memory utilization %.1f%% exceeds %.1f%%", m.MemoryUtilization, th.memoryWarning),
		})
	}

	return detected
}

// mergeAlerts applies detected conditions to the current alert map. A
// recurring id keeps its acknowledged flag and gets a fresh timestamp;
// conditions that are no longer detected are dropped.
func mergeAlerts(current map[string]*model.Alert, detected []model.Alert, now time.Time) map[string]*model.Alert {
	next := make(map[string]*model.Alert, len(detected))
	for _, d := range detected {
		a := d
		a.Timestamp = now
		if prev, ok := current[d.ID]; ok {
			a.Acknowledged = prev.Acknowledged
		}
		next[d.ID] = &a
	}
	return next
}

// splitAlerts returns unacknowledged and all alerts, sorted by id.
func splitAlerts(alerts map[string]*model.Alert) (open []model.Alert, all []model.Alert) {
	open = []model.Alert{}
	all = make([]model.Alert, 0, len(alerts))
	for _, a := range alerts {
		all = append(all, *a)
		if !a.Acknowledged {
			open = append(open, *a)
		}
	}
	sort.Slice(open, func(i, j int) bool { return open[i].ID < open[j].ID })
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })
	return open, all
}
