package biz

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/destuar/Serplexity-sub003/internal/conf"
	"github.com/destuar/Serplexity-sub003/internal/model"
	"github.com/destuar/Serplexity-sub003/pkg/metrics"

	"github.com/go-kratos/kratos/v2/log"
)

// ComponentCircuits is the probe name of the executor summary.
const ComponentCircuits = "circuit_breakers"

// ExecuteOption customises a single executor call.
type ExecuteOption func(*executeOptions)

type executeOptions struct {
	circuitConfig *model.CircuitConfig
	fallback      bool
}

// WithCircuitConfig merges cfg into the category's circuit before the call.
func WithCircuitConfig(cfg model.CircuitConfig) ExecuteOption {
	return func(o *executeOptions) {
		o.circuitConfig = &cfg
	}
}

// WithFallback turns a circuit-open rejection into an unsuccessful envelope
// instead of an error. Callers must check ExecutionResult.Success.
func WithFallback() ExecuteOption {
	return func(o *executeOptions) {
		o.fallback = true
	}
}

// ResilientExecutor routes logical operation categories through dedicated circuits.
type ResilientExecutor struct {
	registry *CircuitBreakerRegistry

	mu         sync.RWMutex
	categories map[string]string

	metrics *metrics.Metrics
	logger  *log.Helper
}

// NewResilientExecutor creates an executor and registers every mapped circuit.
func NewResilientExecutor(c *conf.Resilience, registry *CircuitBreakerRegistry, m *metrics.Metrics, logger log.Logger) *ResilientExecutor {
	categories := make(map[string]string)
	if c != nil {
		for category, circuit := range c.Categories {
			categories[category] = circuit
		}
	}

	for _, circuit := range categories {
		if strings.HasPrefix(circuit, agentCircuitPrefix) {
			registry.CreateCircuitFrom(circuit, AgentCircuitConfig())
			continue
		}
		registry.CreateCircuit(circuit, model.CircuitConfig{})
	}

	return &ResilientExecutor{
		registry:   registry,
		categories: categories,
		metrics:    m,
		logger:     log.NewHelper(logger),
	}
}

// CircuitFor returns the circuit backing category, mapping unknown
// categories to a generic per-category circuit.
func (e *ResilientExecutor) CircuitFor(category string) string {
	e.mu.RLock()
	name, ok := e.categories[category]
	e.mu.RUnlock()
	if ok {
		return name
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if name, ok := e.categories[category]; ok {
		return name
	}
	name = fmt.Sprintf("category:%s", category)
	e.categories[category] = name
	e.logger.Infow("msg", "auto-registering circuit for unmapped category", "category", category, "circuit", name)
	return name
}

// Execute runs op under category's circuit.
func (e *ResilientExecutor) Execute(ctx context.Context, category string, op Operation, opts ...ExecuteOption) (*model.ExecutionResult, error) {
	options := executeOptions{}
	for _, opt := range opts {
		opt(&options)
	}

	name := e.CircuitFor(category)
	switch {
	case options.circuitConfig != nil:
		e.registry.CreateCircuit(name, *options.circuitConfig)
	case !e.registry.Has(name):
		e.registry.CreateCircuit(name, model.CircuitConfig{})
	}

	v, err := e.registry.Execute(ctx, name, op)
	if err != nil {
		if options.fallback && IsCircuitOpen(err) {
			e.logger.Warnw("msg", "circuit open, returning fallback", "category", category, "circuit", name)
			e.metrics.ObserveFallback(category)
			return &model.ExecutionResult{
				Data:         nil,
				Success:      false,
				FallbackUsed: true,
				Circuit:      name,
			}, nil
		}
		return nil, err
	}

	return &model.ExecutionResult{
		Data:    v,
		Success: true,
		Circuit: name,
	}, nil
}

// GetHealthStatus counts circuits by health: CLOSED is healthy, HALF_OPEN
// degraded and OPEN failed.
func (e *ResilientExecutor) GetHealthStatus() model.ExecutorHealth {
	stats := e.registry.GetAllStats()
	health := model.ExecutorHealth{Circuits: stats}
	for _, s := range stats {
		switch s.State {
		case model.CircuitClosed:
			health.Healthy++
		case model.CircuitHalfOpen:
			health.Degraded++
		case model.CircuitOpen:
			health.Failed++
		}
	}
	return health
}

// RequestTotals sums requests and failures inside each circuit's monitoring
// window. A failure can outlive the admission it belongs to by up to one call
// timeout, so per-circuit failures are capped at that circuit's requests.
func (e *ResilientExecutor) RequestTotals() (total, failed int64) {
	for _, s := range e.registry.GetAllStats() {
		total += int64(s.WindowRequests)
		failed += int64(min(s.FailureCount, s.WindowRequests))
	}
	return total, failed
}

// ForceRecovery force-closes every registered circuit. It returns true when
// all of them were closed.
func (e *ResilientExecutor) ForceRecovery() bool {
	ok := true
	for _, name := range e.registry.Names() {
		if !e.registry.ForceClose(name) {
			ok = false
		}
	}
	e.logger.Warnw("msg", "forced recovery of all circuits", "success", ok)
	return ok
}

// Name implements ComponentProbe.
func (e *ResilientExecutor) Name() string {
	return ComponentCircuits
}

// Check implements ComponentProbe. Any non-closed circuit degrades the
// component; it is unhealthy only when every circuit is open.
func (e *ResilientExecutor) Check(_ context.Context) model.ComponentHealth {
	start := time.Now()
	h := e.GetHealthStatus()
	total := h.Healthy + h.Degraded + h.Failed
	requests, failures := e.RequestTotals()

	status := model.HealthHealthy
	message := fmt.Sprintf("%d circuits closed", h.Healthy)
	switch {
	case total > 0 && h.Failed == total:
		status = model.HealthUnhealthy
		message = "all circuits open"
	case h.Failed > 0 || h.Degraded > 0:
		status = model.HealthDegraded
		message = fmt.Sprintf("open: %v, half-open: %v", circuitsIn(h, model.CircuitOpen), circuitsIn(h, model.CircuitHalfOpen))
	}

	return model.ComponentHealth{
		Status:  status,
		Message: message,
		Metrics: map[string]float64{
			"healthy":        float64(h.Healthy),
			"degraded":       float64(h.Degraded),
			"failed":         float64(h.Failed),
			"total_requests": float64(requests),
			"failures":       float64(failures),
		},
		LastCheckedAt:  time.Now(),
		ResponseTimeMs: time.Since(start).Milliseconds(),
	}
}

func circuitsIn(h model.ExecutorHealth, state model.CircuitState) []string {
	var names []string
	for name, s := range h.Circuits {
		if s.State == state {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}
