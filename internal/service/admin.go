package service

import (
	"context"
	"sort"
	"time"

	"github.com/destuar/Serplexity-sub003/internal/biz"
	"github.com/destuar/Serplexity-sub003/internal/model"
	pkglog "github.com/destuar/Serplexity-sub003/pkg/log"

	"github.com/go-kratos/kratos/v2/errors"
	"github.com/go-kratos/kratos/v2/log"
)

// Reasons for admin-only failures.
const (
	ReasonCircuitNotFound = "CIRCUIT_NOT_FOUND"
	ReasonInvalidAction   = "INVALID_ACTION"
)

// CircuitAction is an administrative override applied to one circuit.
type CircuitAction string

const (
	CircuitActionOpen  CircuitAction = "open"
	CircuitActionClose CircuitAction = "close"
	CircuitActionReset CircuitAction = "reset"
)

// AlertAckReply is returned by AcknowledgeAlert.
type AlertAckReply struct {
	ID           string `json:"id"`
	Acknowledged bool   `json:"acknowledged"`
	// Persisted is false when the shared store rejected the updated snapshot.
	Persisted bool `json:"persisted"`
}

// CircuitsReply lists every registered circuit.
type CircuitsReply struct {
	Circuits []model.CircuitStats `json:"circuits"`
	Healthy  int                  `json:"healthy"`
	Degraded int                  `json:"degraded"`
	Failed   int                  `json:"failed"`
}

// CircuitActionReply is returned by the circuit override endpoints.
type CircuitActionReply struct {
	Circuit string              `json:"circuit"`
	Action  CircuitAction       `json:"action"`
	Stats   *model.CircuitStats `json:"stats,omitempty"`
}

// RecoveryReply is returned by ForceRecovery.
type RecoveryReply struct {
	Recovered bool `json:"recovered"`
}

// HistoryReply carries the newest-first health history.
type HistoryReply struct {
	Entries []model.HealthHistoryEntry `json:"entries"`
}

// JobsReply lists active jobs and recently finished usage reports.
type JobsReply struct {
	ActiveJobs int                    `json:"active_jobs"`
	Recent     []model.JobUsageReport `json:"recent"`
}

// AdminService is the administrative surface over the resilience layer.
type AdminService struct {
	aggregator *biz.HealthAggregator
	registry   *biz.CircuitBreakerRegistry
	executor   *biz.ResilientExecutor
	monitor    *biz.ResourceMonitor
	audit      biz.AuditLogger
	logger     *log.Helper
}

// NewAdminService creates an AdminService.
func NewAdminService(
	aggregator *biz.HealthAggregator,
	registry *biz.CircuitBreakerRegistry,
	executor *biz.ResilientExecutor,
	monitor *biz.ResourceMonitor,
	audit biz.AuditLogger,
	logger log.Logger,
) *AdminService {
	return &AdminService{
		aggregator: aggregator,
		registry:   registry,
		executor:   executor,
		monitor:    monitor,
		audit:      audit,
		logger:     log.NewHelper(logger),
	}
}

// GetSystemHealth returns the latest published snapshot, aggregating
// synchronously when none is available.
func (s *AdminService) GetSystemHealth(ctx context.Context) (*model.SystemHealthSnapshot, error) {
	return s.aggregator.GetSystemHealth(ctx), nil
}

// TriggerHealthCheck runs one cycle now.
func (s *AdminService) TriggerHealthCheck(ctx context.Context) (*model.SystemHealthSnapshot, error) {
	return s.aggregator.TriggerHealthCheck(ctx), nil
}

// AcknowledgeAlert acknowledges an active alert by id.
func (s *AdminService) AcknowledgeAlert(ctx context.Context, id string) (*AlertAckReply, error) {
	ok, err := s.aggregator.AcknowledgeAlert(ctx, id)
	if !ok {
		return nil, biz.ToKratos(biz.ErrAlertNotFound).WithMetadata(map[string]string{"alert_id": id})
	}
	reply := &AlertAckReply{ID: id, Acknowledged: true, Persisted: err == nil}
	s.record(ctx, model.AuditEventAlertAcknowledged, id, map[string]any{"persisted": reply.Persisted})
	if err != nil {
		s.logger.Warnw("msg", "alert acknowledged but snapshot not persisted", "alert_id", id, "error", err)
	}
	return reply, nil
}

// ListCircuits returns every circuit sorted by name.
func (s *AdminService) ListCircuits(_ context.Context) (*CircuitsReply, error) {
	health := s.executor.GetHealthStatus()
	all := s.registry.GetAllStats()

	reply := &CircuitsReply{
		Circuits: make([]model.CircuitStats, 0, len(all)),
		Healthy:  health.Healthy,
		Degraded: health.Degraded,
		Failed:   health.Failed,
	}
	for _, st := range all {
		reply.Circuits = append(reply.Circuits, st)
	}
	sort.Slice(reply.Circuits, func(i, j int) bool { return reply.Circuits[i].Name < reply.Circuits[j].Name })
	return reply, nil
}

// ApplyCircuitAction forces a circuit open or closed, or resets it.
func (s *AdminService) ApplyCircuitAction(ctx context.Context, name string, action CircuitAction) (*CircuitActionReply, error) {
	var ok bool
	switch action {
	case CircuitActionOpen:
		ok = s.registry.ForceOpen(name)
	case CircuitActionClose:
		ok = s.registry.ForceClose(name)
	case CircuitActionReset:
		ok = s.registry.ResetCircuit(name)
	default:
		return nil, errors.BadRequest(ReasonInvalidAction, "unknown circuit action: "+string(action))
	}
	if !ok {
		return nil, errors.NotFound(ReasonCircuitNotFound, "circuit not found: "+name)
	}

	s.logger.Infow("msg", "circuit override applied", "circuit", name, "action", action, "operator", pkglog.GetOperator(ctx))
	s.record(ctx, model.AuditEventCircuitOverride, name, map[string]any{"action": string(action)})
	reply := &CircuitActionReply{Circuit: name, Action: action}
	if st, found := s.registry.GetStats(name); found {
		reply.Stats = &st
	}
	return reply, nil
}

// ForceRecovery closes every executor circuit.
func (s *AdminService) ForceRecovery(ctx context.Context) (*RecoveryReply, error) {
	recovered := s.executor.ForceRecovery()
	s.record(ctx, model.AuditEventForceRecovery, "*", map[string]any{"recovered": recovered})
	return &RecoveryReply{Recovered: recovered}, nil
}

// History returns up to limit entries of health history, newest first.
func (s *AdminService) History(ctx context.Context, limit int64) (*HistoryReply, error) {
	entries, err := s.aggregator.History(ctx, limit)
	if err != nil {
		if errors.Is(err, biz.ErrStoreUnavailable) {
			return nil, errors.ServiceUnavailable("STORE_UNAVAILABLE", err.Error())
		}
		return nil, biz.ToKratos(err)
	}
	if entries == nil {
		entries = []model.HealthHistoryEntry{}
	}
	return &HistoryReply{Entries: entries}, nil
}

// Jobs reports monitored jobs.
func (s *AdminService) Jobs(_ context.Context) (*JobsReply, error) {
	recent := s.monitor.RecentReports()
	if recent == nil {
		recent = []model.JobUsageReport{}
	}
	sort.Slice(recent, func(i, j int) bool { return recent[i].EndedAt.After(recent[j].EndedAt) })
	return &JobsReply{ActiveJobs: s.monitor.ActiveJobs(), Recent: recent}, nil
}

// record writes an audit entry attributed to the request's operator.
func (s *AdminService) record(ctx context.Context, t model.AuditEventType, subject string, details map[string]any) {
	if s.audit == nil {
		return
	}
	operator := pkglog.GetOperator(ctx)
	if operator == "" {
		operator = model.AuditOperatorSystem
	}
	s.audit.Record(ctx, &model.AuditEvent{
		Type:     t,
		Subject:  subject,
		Operator: operator,
		Details:  details,
		At:       time.Now(),
	})
}
