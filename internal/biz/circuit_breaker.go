package biz

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/destuar/Serplexity-sub003/internal/conf"
	"github.com/destuar/Serplexity-sub003/internal/model"
	pkglog "github.com/destuar/Serplexity-sub003/pkg/log"
	"github.com/destuar/Serplexity-sub003/pkg/metrics"

	"github.com/go-kratos/kratos/v2/log"
)

// Operation is a protected call. The context is cancelled once the
// registry stops waiting for it (timeout, settle or caller cancellation).
type Operation func(ctx context.Context) (any, error)

// CircuitListener receives every state transition. It runs outside the
// registry lock and must not block for long.
type CircuitListener func(event model.CircuitStateChangedEvent)

// DefaultCircuitConfig is used when no configuration is supplied.
func DefaultCircuitConfig() model.CircuitConfig {
	return model.CircuitConfig{
		FailureThreshold: 5,
		RecoveryTimeout:  60 * time.Second,
		MonitoringWindow: 5 * time.Minute,
		SuccessThreshold: 3,
		CallTimeout:      30 * time.Second,
	}
}

// AgentCircuitConfig suits long-running agent calls.
func AgentCircuitConfig() model.CircuitConfig {
	return DefaultCircuitConfig().Merge(model.CircuitConfig{
		FailureThreshold: 3,
		RecoveryTimeout:  2 * time.Minute,
		CallTimeout:      2 * time.Minute,
		SuccessThreshold: 2,
	})
}

// CircuitConfigFromConf converts a config section; nil yields a zero override.
func CircuitConfigFromConf(c *conf.Circuit) model.CircuitConfig {
	if c == nil {
		return model.CircuitConfig{}
	}
	return model.CircuitConfig{
		FailureThreshold: c.FailureThreshold,
		RecoveryTimeout:  c.RecoveryTimeout,
		MonitoringWindow: c.MonitoringWindow,
		SuccessThreshold: c.SuccessThreshold,
		CallTimeout:      c.CallTimeout,
	}
}

type circuitRecord struct {
	name              string
	cfg               model.CircuitConfig
	state             model.CircuitState
	failureLog        []time.Time
	requestLog        []time.Time
	successCount      int
	totalRequests     int64
	lastFailureAt     *time.Time
	lastSuccessAt     *time.Time
	lastStateChangeAt time.Time
	// leftClosedAt marks the start of the current outage.
	leftClosedAt time.Time
	trials       int
}

// CircuitBreakerRegistry owns named circuit state machines. failureLog and
// requestLog are both pruned to the monitoring window.
//
// Concurrent calls on the same circuit are not serialised: two callers may
// both observe CLOSED (or HALF_OPEN) and both run. Their outcomes are still
// recorded under the lock once they settle.
type CircuitBreakerRegistry struct {
	mu        sync.Mutex
	circuits  map[string]*circuitRecord
	defaults  model.CircuitConfig
	overrides map[string]model.CircuitConfig
	listeners []CircuitListener

	metrics *metrics.Metrics
	logger  *log.Helper
	events  *pkglog.LogHelper
	now     func() time.Time
}

// NewCircuitBreakerRegistry creates an empty registry. Defaults and per-circuit
// overrides come from the resilience section when present.
func NewCircuitBreakerRegistry(c *conf.Resilience, m *metrics.Metrics, logger log.Logger) *CircuitBreakerRegistry {
	defaults := DefaultCircuitConfig()
	overrides := make(map[string]model.CircuitConfig)
	if c != nil {
		defaults = defaults.Merge(CircuitConfigFromConf(c.Default))
		for name, o := range c.Circuits {
			overrides[name] = CircuitConfigFromConf(o)
		}
	}

	return &CircuitBreakerRegistry{
		circuits:  make(map[string]*circuitRecord),
		defaults:  defaults,
		overrides: overrides,
		metrics:   m,
		logger:    log.NewHelper(logger),
		events:    pkglog.NewLogHelper(logger),
		now:       time.Now,
	}
}

// AddListener registers a state transition listener.
func (r *CircuitBreakerRegistry) AddListener(l CircuitListener) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners = append(r.listeners, l)
}

// CreateCircuit registers name, or reconfigures it if it already exists.
// Reconfiguration merges non-zero fields of cfg and keeps all counters.
func (r *CircuitBreakerRegistry) CreateCircuit(name string, cfg model.CircuitConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if rec, ok := r.circuits[name]; ok {
		rec.cfg = rec.cfg.Merge(cfg)
		return
	}
	r.register(name, r.defaults, cfg)
}

// CreateCircuitFrom registers name with preset in place of the registry
// defaults. Configured overrides for name still apply on top. An existing
// circuit is left untouched.
func (r *CircuitBreakerRegistry) CreateCircuitFrom(name string, preset model.CircuitConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.circuits[name]; ok {
		return
	}
	r.register(name, preset, model.CircuitConfig{})
}

// register must be called with r.mu held.
func (r *CircuitBreakerRegistry) register(name string, base, cfg model.CircuitConfig) {
	if o, ok := r.overrides[name]; ok {
		base = base.Merge(o)
	}
	r.circuits[name] = &circuitRecord{
		name:              name,
		cfg:               base.Merge(cfg),
		state:             model.CircuitClosed,
		lastStateChangeAt: r.now(),
	}
	r.metrics.SetCircuitState(name, stateValue(model.CircuitClosed))
	r.logger.Debugw("msg", "circuit registered", "circuit", name)
}

// Has reports whether name is registered.
func (r *CircuitBreakerRegistry) Has(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.circuits[name]
	return ok
}

// Names returns the registered circuit names in sorted order.
func (r *CircuitBreakerRegistry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.circuits))
	for name := range r.circuits {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

type callResult struct {
	value any
	err   error
}

// Execute runs op through the named circuit.
//
// An OPEN circuit rejects with *CircuitOpenError without calling op and
// without counting the request. Otherwise op races against the circuit's
// call timeout; losing the race yields *OperationTimeoutError and counts as
// a failure. Errors returned by op are recorded and returned unchanged.
func (r *CircuitBreakerRegistry) Execute(ctx context.Context, name string, op Operation) (any, error) {
	cfg, err := r.admit(name)
	if err != nil {
		return nil, err
	}

	callCtx, cancel := context.WithTimeout(ctx, cfg.CallTimeout)
	defer cancel()

	done := make(chan callResult, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- callResult{err: fmt.Errorf("operation panicked: %v", p)}
			}
		}()
		v, err := op(callCtx)
		done <- callResult{value: v, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			r.recordFailure(name, res.err)
			r.metrics.ObserveCall(name, metrics.OutcomeFailure)
			return nil, res.err
		}
		r.recordSuccess(name)
		r.metrics.ObserveCall(name, metrics.OutcomeSuccess)
		return res.value, nil
	case <-callCtx.Done():
		err := ctx.Err()
		if err == nil {
			err = &OperationTimeoutError{Circuit: name, Timeout: cfg.CallTimeout}
			r.metrics.ObserveCall(name, metrics.OutcomeTimeout)
		} else {
			r.metrics.ObserveCall(name, metrics.OutcomeFailure)
		}
		r.recordFailure(name, err)
		return nil, err
	}
}

// ExecuteTyped is Execute with a typed result.
func ExecuteTyped[T any](ctx context.Context, r *CircuitBreakerRegistry, name string, op func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	v, err := r.Execute(ctx, name, func(ctx context.Context) (any, error) {
		return op(ctx)
	})
	if err != nil {
		return zero, err
	}
	typed, ok := v.(T)
	if !ok {
		return zero, nil
	}
	return typed, nil
}

// admit evaluates the circuit and, when the call may proceed, counts it.
func (r *CircuitBreakerRegistry) admit(name string) (model.CircuitConfig, error) {
	r.mu.Lock()
	rec, ok := r.circuits[name]
	if !ok {
		r.mu.Unlock()
		return model.CircuitConfig{}, &CircuitNotRegisteredError{Circuit: name}
	}

	now := r.now()
	r.prune(rec, now)

	var events []model.CircuitStateChangedEvent
	switch rec.state {
	case model.CircuitClosed:
		if len(rec.failureLog) >= rec.cfg.FailureThreshold {
			events = append(events, r.transition(rec, model.CircuitOpen, "failure threshold reached", now))
		}
	case model.CircuitOpen:
		if now.Sub(rec.lastStateChangeAt) >= rec.cfg.RecoveryTimeout {
			rec.successCount = 0
			events = append(events, r.transition(rec, model.CircuitHalfOpen, "recovery timeout elapsed", now))
		}
	}

	if rec.state == model.CircuitOpen {
		openErr := &CircuitOpenError{
			Circuit:  name,
			OpenedAt: rec.lastStateChangeAt,
			RetryAt:  rec.lastStateChangeAt.Add(rec.cfg.RecoveryTimeout),
		}
		listeners := r.listeners
		r.mu.Unlock()
		r.dispatch(listeners, events)
		r.metrics.ObserveCall(name, metrics.OutcomeRejected)
		return model.CircuitConfig{}, openErr
	}

	if rec.state == model.CircuitHalfOpen {
		rec.trials++
	}
	rec.totalRequests++
	rec.requestLog = append(rec.requestLog, now)
	cfg := rec.cfg
	listeners := r.listeners
	r.mu.Unlock()

	r.dispatch(listeners, events)
	return cfg, nil
}

func (r *CircuitBreakerRegistry) recordSuccess(name string) {
	r.mu.Lock()
	rec, ok := r.circuits[name]
	if !ok {
		r.mu.Unlock()
		return
	}

	now := r.now()
	rec.lastSuccessAt = &now

	var events []model.CircuitStateChangedEvent
	if rec.state == model.CircuitHalfOpen {
		rec.successCount++
		if rec.successCount >= rec.cfg.SuccessThreshold {
			events = append(events, r.transition(rec, model.CircuitClosed, "success threshold reached", now))
			resetTotals(rec)
		}
	}
	listeners := r.listeners
	r.mu.Unlock()

	r.dispatch(listeners, events)
}

func (r *CircuitBreakerRegistry) recordFailure(name string, cause error) {
	r.mu.Lock()
	rec, ok := r.circuits[name]
	if !ok {
		r.mu.Unlock()
		return
	}

	now := r.now()
	r.prune(rec, now)
	rec.failureLog = append(rec.failureLog, now)
	rec.lastFailureAt = &now

	var events []model.CircuitStateChangedEvent
	switch rec.state {
	case model.CircuitHalfOpen:
		rec.successCount = 0
		events = append(events, r.transition(rec, model.CircuitOpen, "trial call failed", now))
	case model.CircuitClosed:
		if len(rec.failureLog) >= rec.cfg.FailureThreshold {
			events = append(events, r.transition(rec, model.CircuitOpen, "failure threshold reached", now))
		}
	}
	listeners := r.listeners
	failures := len(rec.failureLog)
	r.mu.Unlock()

	r.logger.Debugw("msg", "circuit call failed", "circuit", name, "failure_count", failures, "error", cause)
	r.dispatch(listeners, events)
}

// prune drops failures and requests older than the monitoring window.
// Calling it twice with the same now yields the same logs.
func (r *CircuitBreakerRegistry) prune(rec *circuitRecord, now time.Time) {
	if rec.cfg.MonitoringWindow <= 0 {
		return
	}
	cutoff := now.Add(-rec.cfg.MonitoringWindow)
	rec.failureLog = pruneBefore(rec.failureLog, cutoff)
	rec.requestLog = pruneBefore(rec.requestLog, cutoff)
}

func pruneBefore(entries []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(entries) && !entries[i].After(cutoff) {
		i++
	}
	if i == 0 {
		return entries
	}
	return append(entries[:0], entries[i:]...)
}

// transition must be called with r.mu held.
func (r *CircuitBreakerRegistry) transition(rec *circuitRecord, to model.CircuitState, reason string, now time.Time) model.CircuitStateChangedEvent {
	from := rec.state
	if from == model.CircuitClosed && to != model.CircuitClosed {
		rec.leftClosedAt = now
		rec.trials = 0
	}
	if to == model.CircuitClosed {
		rec.failureLog = nil
		rec.successCount = 0
	}
	rec.state = to
	rec.lastStateChangeAt = now
	r.metrics.SetCircuitState(rec.name, stateValue(to))

	return model.CircuitStateChangedEvent{
		Circuit:      rec.name,
		From:         from,
		To:           to,
		Reason:       reason,
		FailureCount: len(rec.failureLog),
		At:           now,
	}
}

func (r *CircuitBreakerRegistry) dispatch(listeners []CircuitListener, events []model.CircuitStateChangedEvent) {
	for _, ev := range events {
		r.events.Circuit(ev.Circuit, string(ev.From), string(ev.To), "reason", ev.Reason, "failure_count", ev.FailureCount)
		for _, l := range listeners {
			r.safeNotify(l, ev)
		}
	}
}

func (r *CircuitBreakerRegistry) safeNotify(l CircuitListener, ev model.CircuitStateChangedEvent) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Errorw("msg", "circuit listener panicked", "circuit", ev.Circuit, "panic", p)
		}
	}()
	l(ev)
}

// GetStats returns a view of name after pruning its failure log.
func (r *CircuitBreakerRegistry) GetStats(name string) (model.CircuitStats, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.circuits[name]
	if !ok {
		return model.CircuitStats{}, false
	}
	r.prune(rec, r.now())
	return snapshot(rec), true
}

// GetAllStats returns a view of every circuit after pruning.
func (r *CircuitBreakerRegistry) GetAllStats() map[string]model.CircuitStats {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	out := make(map[string]model.CircuitStats, len(r.circuits))
	for name, rec := range r.circuits {
		r.prune(rec, now)
		out[name] = snapshot(rec)
	}
	return out
}

// ForceOpen opens name immediately. It returns false for unknown names.
func (r *CircuitBreakerRegistry) ForceOpen(name string) bool {
	return r.force(name, model.CircuitOpen, "forced open", false)
}

// ForceClose closes name immediately and clears its failure and success
// counts. The request totals are kept. It returns false for unknown names.
func (r *CircuitBreakerRegistry) ForceClose(name string) bool {
	return r.force(name, model.CircuitClosed, "forced closed", false)
}

// ResetCircuit returns name to a fresh CLOSED state, request totals included.
func (r *CircuitBreakerRegistry) ResetCircuit(name string) bool {
	return r.force(name, model.CircuitClosed, "reset", true)
}

func (r *CircuitBreakerRegistry) force(name string, to model.CircuitState, reason string, clearTotals bool) bool {
	r.mu.Lock()
	rec, ok := r.circuits[name]
	if !ok {
		r.mu.Unlock()
		return false
	}

	now := r.now()
	if to == model.CircuitOpen {
		rec.successCount = 0
	}
	ev := r.transition(rec, to, reason, now)
	if clearTotals {
		resetTotals(rec)
	}
	listeners := r.listeners
	r.mu.Unlock()

	r.dispatch(listeners, []model.CircuitStateChangedEvent{ev})
	return true
}

// outage reports how long name has been away from CLOSED and how many trial
// calls were let through; used when emitting recovery events.
func (r *CircuitBreakerRegistry) outage(name string, closedAt time.Time) (time.Duration, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.circuits[name]
	if !ok || rec.leftClosedAt.IsZero() {
		return 0, 0
	}
	return closedAt.Sub(rec.leftClosedAt), rec.trials
}

func resetTotals(rec *circuitRecord) {
	rec.totalRequests = 0
	rec.requestLog = nil
}

func snapshot(rec *circuitRecord) model.CircuitStats {
	return model.CircuitStats{
		Name:              rec.name,
		State:             rec.state,
		FailureCount:      len(rec.failureLog),
		SuccessCount:      rec.successCount,
		TotalRequests:     rec.totalRequests,
		WindowRequests:    len(rec.requestLog),
		LastFailureAt:     rec.lastFailureAt,
		LastSuccessAt:     rec.lastSuccessAt,
		LastStateChangeAt: rec.lastStateChangeAt,
		Config:            rec.cfg,
	}
}

func stateValue(s model.CircuitState) float64 {
	switch s {
	case model.CircuitHalfOpen:
		return 1
	case model.CircuitOpen:
		return 2
	default:
		return 0
	}
}
