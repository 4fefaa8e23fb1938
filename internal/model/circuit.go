package model

import "time"

// CircuitState is the breaker state of a circuit.
type CircuitState string

const (
	CircuitClosed   CircuitState = "CLOSED"
	CircuitOpen     CircuitState = "OPEN"
	CircuitHalfOpen CircuitState = "HALF_OPEN"
)

// CircuitConfig tunes a single circuit.
type CircuitConfig struct {
	// FailureThreshold is the number of in-window failures that trips the circuit.
	FailureThreshold int `json:"failure_threshold"`
	// RecoveryTimeout is how long an OPEN circuit waits before a trial call.
	RecoveryTimeout time.Duration `json:"recovery_timeout"`
	// MonitoringWindow bounds the failure log.
	MonitoringWindow time.Duration `json:"monitoring_window"`
	// SuccessThreshold is the number of HALF_OPEN successes needed to close.
	SuccessThreshold int `json:"success_threshold"`
	// CallTimeout caps a single protected call.
	CallTimeout time.Duration `json:"call_timeout"`
}

// Merge returns a copy of c with every non-zero field of override applied.
func (c CircuitConfig) Merge(override CircuitConfig) CircuitConfig {
	merged := c
	if override.FailureThreshold > 0 {
		merged.FailureThreshold = override.FailureThreshold
	}
	if override.RecoveryTimeout > 0 {
		merged.RecoveryTimeout = override.RecoveryTimeout
	}
	if override.MonitoringWindow > 0 {
		merged.MonitoringWindow = override.MonitoringWindow
	}
	if override.SuccessThreshold > 0 {
		merged.SuccessThreshold = override.SuccessThreshold
	}
	if override.CallTimeout > 0 {
		merged.CallTimeout = override.CallTimeout
	}
	return merged
}

// CircuitStats is a read-only view of a circuit.
type CircuitStats struct {
	Name              string        `json:"name"`
	State             CircuitState  `json:"state"`
	FailureCount      int           `json:"failure_count"`
	SuccessCount      int           `json:"success_count"`
	TotalRequests     int64         `json:"total_requests"`
	WindowRequests    int           `json:"window_requests"`
	LastFailureAt     *time.Time    `json:"last_failure_at,omitempty"`
	LastSuccessAt     *time.Time    `json:"last_success_at,omitempty"`
	LastStateChangeAt time.Time     `json:"last_state_change_at"`
	Config            CircuitConfig `json:"config"`
}

// ExecutionResult is the envelope returned by the resilient executor.
// A short-circuited call with fallback enabled yields Success=false and
// FallbackUsed=true with nil Data.
type ExecutionResult struct {
	Data         any    `json:"data"`
	Success      bool   `json:"success"`
	FallbackUsed bool   `json:"fallback_used"`
	Circuit      string `json:"circuit"`
}

// ExecutorHealth summarises every circuit known to the executor.
type ExecutorHealth struct {
	Healthy  int                     `json:"healthy"`
	Degraded int                     `json:"degraded"`
	Failed   int                     `json:"failed"`
	Circuits map[string]CircuitStats `json:"circuits"`
}
