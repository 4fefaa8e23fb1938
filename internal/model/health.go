package model

import "time"

// HealthStatus is the status of a component or of the whole system.
type HealthStatus string

const (
	HealthHealthy   HealthStatus = "healthy"
	HealthDegraded  HealthStatus = "degraded"
	HealthUnhealthy HealthStatus = "unhealthy"
)

// Severity orders statuses: unhealthy > degraded > healthy.
func (s HealthStatus) Severity() int {
	switch s {
	case HealthHealthy:
		return 0
	case HealthDegraded:
		return 1
	default:
		return 2
	}
}

// ComponentHealth is the result of a single probe.
type ComponentHealth struct {
	Status         HealthStatus       `json:"status"`
	Message        string             `json:"message"`
	Metrics        map[string]float64 `json:"metrics,omitempty"`
	LastCheckedAt  time.Time          `json:"last_checked_at"`
	ResponseTimeMs int64              `json:"response_time_ms"`
}

// HealthMetrics are the derived figures of a cycle. Request figures cover
// each circuit's monitoring window.
type HealthMetrics struct {
	ErrorRate         float64 `json:"error_rate"`
	TotalRequests     int64   `json:"total_requests"`
	FailedRequests    int64   `json:"failed_requests"`
	MemoryUtilization float64 `json:"memory_utilization"`
	ActiveJobs        int     `json:"active_jobs"`
	OpenCircuits      int     `json:"open_circuits"`
}

// SystemHealthSnapshot is the persisted read model of one aggregation cycle.
type SystemHealthSnapshot struct {
	CycleID    string                     `json:"cycle_id"`
	Status     HealthStatus               `json:"status"`
	Timestamp  time.Time                  `json:"timestamp"`
	Uptime     time.Duration              `json:"uptime"`
	Components map[string]ComponentHealth `json:"components"`
	Metrics    HealthMetrics              `json:"metrics"`
	// Alerts lists unacknowledged alerts only.
	Alerts []Alert `json:"alerts"`
	// AllAlerts keeps acknowledged alerts so acknowledgement survives restarts of the read path.
	AllAlerts []Alert `json:"all_alerts"`
}

// HealthHistoryEntry is the metrics-only record appended to the rolling history.
type HealthHistoryEntry struct {
	Status    HealthStatus  `json:"status"`
	Timestamp time.Time     `json:"timestamp"`
	Metrics   HealthMetrics `json:"metrics"`
}

// AlertSeverity is the severity of an alert.
type AlertSeverity string

const (
	AlertCritical AlertSeverity = "critical"
	AlertWarning  AlertSeverity = "warning"
	AlertInfo     AlertSeverity = "info"
)

// Alert is keyed by a stable condition id, e.g. "database-unhealthy".
type Alert struct {
	ID           string        `json:"id"`
	Severity     AlertSeverity `json:"severity"`
	Component    string        `json:"component"`
	Message      string        `json:"message"`
	Timestamp    time.Time     `json:"timestamp"`
	Acknowledged bool          `json:"acknowledged"`
}
