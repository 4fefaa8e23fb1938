package biz

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/destuar/Serplexity-sub003/internal/model"

	"github.com/go-kratos/kratos/v2/log"
)

// ComponentAgent is the probe name of the external agent process.
const ComponentAgent = "agent"

// agentCircuitPrefix marks circuits that guard agent calls.
const agentCircuitPrefix = "agent-"

// AgentInvoker is the contract with the external agent process. Invoke must
// return an error on transport or protocol failure so breakers can count it;
// an unsuccessful AgentResponse is a normal result.
type AgentInvoker interface {
	Invoke(ctx context.Context, operation string, payload any) (*model.AgentResponse, error)
	Ping(ctx context.Context) error
}

// AgentUsecase runs agent operations through the resilient executor.
type AgentUsecase struct {
	invoker  AgentInvoker
	executor *ResilientExecutor
	monitor  *ResourceMonitor
	logger   *log.Helper
}

// NewAgentUsecase creates an agent usecase.
func NewAgentUsecase(invoker AgentInvoker, executor *ResilientExecutor, monitor *ResourceMonitor, logger log.Logger) *AgentUsecase {
	return &AgentUsecase{
		invoker:  invoker,
		executor: executor,
		monitor:  monitor,
		logger:   log.NewHelper(logger),
	}
}

// Invoke calls operation on the agent under category's circuit. The
// envelope's Data holds the *model.AgentResponse.
func (uc *AgentUsecase) Invoke(ctx context.Context, category, operation string, payload any, opts ...ExecuteOption) (*model.ExecutionResult, error) {
	result, err := uc.executor.Execute(ctx, category, func(ctx context.Context) (any, error) {
		return uc.invoker.Invoke(ctx, operation, payload)
	}, opts...)
	if err != nil {
		uc.logger.Warnw("msg", "agent invocation failed", "category", category, "operation", operation, "error", err)
		return nil, err
	}
	return result, nil
}

// RunJob invokes the agent under a resource budget for jobID. Zero limits
// select the monitor's configured default budget.
func (uc *AgentUsecase) RunJob(ctx context.Context, jobID, category, operation string, payload any, limits model.ResourceLimits, opts ...ExecuteOption) (*model.ExecutionResult, error) {
	if limits == (model.ResourceLimits{}) {
		limits = uc.monitor.DefaultLimits()
	}
	v, err := uc.monitor.MonitorAsyncFunction(ctx, jobID, func(ctx context.Context) (any, error) {
		return uc.Invoke(ctx, category, operation, payload, opts...)
	}, limits)
	if err != nil {
		return nil, err
	}
	result, ok := v.(*model.ExecutionResult)
	if !ok {
		return nil, fmt.Errorf("job %s returned %T", jobID, v)
	}
	return result, nil
}

// Name implements ComponentProbe.
func (uc *AgentUsecase) Name() string {
	return ComponentAgent
}

// Check pings the agent and folds in the state of the agent circuits.
func (uc *AgentUsecase) Check(ctx context.Context) model.ComponentHealth {
	start := time.Now()

	var notClosed []string
	for name, s := range uc.executor.GetHealthStatus().Circuits {
		if strings.HasPrefix(name, agentCircuitPrefix) && s.State != model.CircuitClosed {
			notClosed = append(notClosed, name)
		}
	}
	metrics := map[string]float64{"circuits_not_closed": float64(len(notClosed))}

	if err := uc.invoker.Ping(ctx); err != nil {
		return model.ComponentHealth{
			Status:         model.HealthUnhealthy,
			Message:        fmt.Sprintf("agent process unreachable: %v", err),
			Metrics:        metrics,
			LastCheckedAt:  time.Now(),
			ResponseTimeMs: time.Since(start).Milliseconds(),
		}
	}
	latency := time.Since(start)
	metrics["ping_ms"] = float64(latency.Milliseconds())

	status := model.HealthHealthy
	message := "agent process reachable"
	if len(notClosed) > 0 {
		status = model.HealthDegraded
		message = fmt.Sprintf("agent reachable, circuits not closed: %s", strings.Join(notClosed, ", "))
	}
	return model.ComponentHealth{
		Status:         status,
		Message:        message,
		Metrics:        metrics,
		LastCheckedAt:  time.Now(),
		ResponseTimeMs: latency.Milliseconds(),
	}
}
