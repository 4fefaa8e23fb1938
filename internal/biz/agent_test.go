package biz

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/destuar/Serplexity-sub003/internal/conf"
	"github.com/destuar/Serplexity-sub003/internal/model"
	"github.com/destuar/Serplexity-sub003/pkg/schedule"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeInvoker struct {
	mu      sync.Mutex
	err     error
	pingErr error
	calls   []string
	onCall  func()
}

func (f *fakeInvoker) Invoke(_ context.Context, operation string, _ any) (*model.AgentResponse, error) {
	f.mu.Lock()
	f.calls = append(f.calls, operation)
	err, onCall := f.err, f.onCall
	f.mu.Unlock()

	if onCall != nil {
		onCall()
	}
	if err != nil {
		return nil, err
	}
	return &model.AgentResponse{Data: operation, Success: true}, nil
}

func (f *fakeInvoker) Ping(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pingErr
}

func newTestAgentUsecase(t *testing.T, invoker AgentInvoker) (*AgentUsecase, *CircuitBreakerRegistry, *ResourceMonitor, *fakeSampler) {
	t.Helper()
	logger := newTestLogger()

	registry := NewCircuitBreakerRegistry(nil, nil, logger)
	executor := NewResilientExecutor(&conf.Resilience{
		Categories: map[string]string{"analysis": "agent-analysis"},
	}, registry, nil, logger)

	sched := schedule.New(logger)
	t.Cleanup(func() { _ = sched.Stop(context.Background()) })
	sampler := &fakeSampler{}
	sampler.setRSSMB(20)
	monitor, err := NewResourceMonitor(&conf.Monitor{
		PollInterval:     time.Hour,
		MaxMemoryMB:      512,
		MaxExecutionTime: time.Minute,
		WarningRatio:     0.8,
		HistorySize:      4,
	}, sched, sampler, nil, logger)
	require.NoError(t, err)

	return NewAgentUsecase(invoker, executor, monitor, logger), registry, monitor, sampler
}

func TestAgentUsecase_Invoke(t *testing.T) {
	invoker := &fakeInvoker{}
	uc, _, _, _ := newTestAgentUsecase(t, invoker)

	result, err := uc.Invoke(context.Background(), "analysis", "analyze-visibility", nil)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, "agent-analysis", result.Circuit)

	resp, ok := result.Data.(*model.AgentResponse)
	require.True(t, ok)
	assert.Equal(t, "analyze-visibility", resp.Data)
}

func TestAgentUsecase_InvokeFailuresTripCircuit(t *testing.T) {
	invoker := &fakeInvoker{err: errors.New("agent: connection reset")}
	uc, registry, _, _ := newTestAgentUsecase(t, invoker)
	ctx := context.Background()

	// Agent circuits trip after three failures.
	for i := 0; i < 3; i++ {
		_, err := uc.Invoke(ctx, "analysis", "op", nil)
		require.Error(t, err)
	}

	_, err := uc.Invoke(ctx, "analysis", "op", nil)
	assert.True(t, IsCircuitOpen(err))
	assert.Len(t, invoker.calls, 3, "open circuit must not reach the agent")

	stats, ok := registry.GetStats("agent-analysis")
	require.True(t, ok)
	assert.Equal(t, model.CircuitOpen, stats.State)

	result, err := uc.Invoke(ctx, "analysis", "op", nil, WithFallback())
	require.NoError(t, err)
	assert.True(t, result.FallbackUsed)
}

func TestAgentUsecase_RunJob(t *testing.T) {
	invoker := &fakeInvoker{}
	uc, _, monitor, sampler := newTestAgentUsecase(t, invoker)

	result, err := uc.RunJob(context.Background(), "report-1", "analysis", "op", nil, model.ResourceLimits{MaxMemoryMB: 100})
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, 0, monitor.ActiveJobs())

	invoker.mu.Lock()
	invoker.onCall = func() {
		sampler.setRSSMB(200)
		monitor.poll("report-2")
	}
	invoker.mu.Unlock()

	_, err = uc.RunJob(context.Background(), "report-2", "analysis", "op", nil, model.ResourceLimits{MaxMemoryMB: 100})
	var budgetErr *ResourceBudgetExceededError
	assert.ErrorAs(t, err, &budgetErr)
}

func TestAgentUsecase_RunJobFallsBackToDefaultLimits(t *testing.T) {
	invoker := &fakeInvoker{}
	uc, _, monitor, sampler := newTestAgentUsecase(t, invoker)
	require.Equal(t, 512.0, monitor.DefaultLimits().MaxMemoryMB)

	invoker.mu.Lock()
	invoker.onCall = func() {
		sampler.setRSSMB(600)
		monitor.poll("report-3")
	}
	invoker.mu.Unlock()

	_, err := uc.RunJob(context.Background(), "report-3", "analysis", "op", nil, model.ResourceLimits{})
	var budgetErr *ResourceBudgetExceededError
	require.ErrorAs(t, err, &budgetErr)
	assert.Contains(t, budgetErr.Errors[0], "512.0MB")
}

func TestAgentUsecase_Check(t *testing.T) {
	invoker := &fakeInvoker{}
	uc, registry, _, _ := newTestAgentUsecase(t, invoker)
	ctx := context.Background()

	assert.Equal(t, ComponentAgent, uc.Name())
	assert.Equal(t, model.HealthHealthy, uc.Check(ctx).Status)

	registry.ForceOpen("agent-analysis")
	h := uc.Check(ctx)
	assert.Equal(t, model.HealthDegraded, h.Status)
	assert.Contains(t, h.Message, "agent-analysis")

	invoker.mu.Lock()
	invoker.pingErr = errors.New("connection refused")
	invoker.mu.Unlock()
	assert.Equal(t, model.HealthUnhealthy, uc.Check(ctx).Status)
}
