package model

import "time"

// ResourceLimits is the budget of a monitored job. Zero values disable a check.
type ResourceLimits struct {
	MaxMemoryMB        float64       `json:"max_memory_mb"`
	MaxExecutionTime   time.Duration `json:"max_execution_time"`
	WarningMemoryMB    float64       `json:"warning_memory_mb,omitempty"`
	WarningElapsedTime time.Duration `json:"warning_elapsed_time,omitempty"`
}

// ResourceUsage is one sample of a running job.
type ResourceUsage struct {
	MemoryMB  float64       `json:"memory_mb"`
	Elapsed   time.Duration `json:"elapsed"`
	SampledAt time.Time     `json:"sampled_at"`
}

// ResourceCheck is delivered to monitor callbacks.
type ResourceCheck struct {
	JobID        string        `json:"job_id"`
	Usage        ResourceUsage `json:"usage"`
	WithinLimits bool          `json:"within_limits"`
	Warnings     []string      `json:"warnings"`
	Errors       []string      `json:"errors"`
}

// JobUsageReport summarises a finished monitoring session.
type JobUsageReport struct {
	JobID        string        `json:"job_id"`
	PeakMemoryMB float64       `json:"peak_memory_mb"`
	Duration     time.Duration `json:"duration"`
	Ticks        int           `json:"ticks"`
	Breached     bool          `json:"breached"`
	EndedAt      time.Time     `json:"ended_at"`
}
