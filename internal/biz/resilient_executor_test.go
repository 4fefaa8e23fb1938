package biz

import (
	"context"
	"testing"
	"time"

	"github.com/destuar/Serplexity-sub003/internal/conf"
	"github.com/destuar/Serplexity-sub003/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestExecutor(t *testing.T) (*ResilientExecutor, *CircuitBreakerRegistry, *fakeClock) {
	t.Helper()
	registry, clock := newTestRegistry(t)
	exec := NewResilientExecutor(&conf.Resilience{
		Categories: map[string]string{"analysis": "agent-analysis"},
	}, registry, nil, newTestLogger())
	return exec, registry, clock
}

func openCircuit(t *testing.T, exec *ResilientExecutor, category string) {
	t.Helper()
	var calls int32
	for i := 0; i < 3; i++ {
		_, err := exec.Execute(context.Background(), category, failingOp(&calls),
			WithCircuitConfig(scenarioConfig()))
		require.Error(t, err)
	}
}

func TestResilientExecutor_MappedCategory(t *testing.T) {
	exec, registry, _ := newTestExecutor(t)
	assert.True(t, registry.Has("agent-analysis"))

	var calls int32
	res, err := exec.Execute(context.Background(), "analysis", okOp(&calls))
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.False(t, res.FallbackUsed)
	assert.Equal(t, "ok", res.Data)
	assert.Equal(t, "agent-analysis", res.Circuit)
}

func TestResilientExecutor_AgentCircuitsUsePreset(t *testing.T) {
	c := &conf.Resilience{
		Categories: map[string]string{
			"analysis":       "agent-analysis",
			"generation":     "agent-generation",
			"secret_refresh": "secret-refresh",
		},
		Circuits: map[string]*conf.Circuit{
			"agent-generation": {CallTimeout: 3 * time.Minute},
		},
	}
	registry := NewCircuitBreakerRegistry(c, nil, newTestLogger())
	NewResilientExecutor(c, registry, nil, newTestLogger())

	analysis, ok := registry.GetStats("agent-analysis")
	require.True(t, ok)
	assert.Equal(t, 2*time.Minute, analysis.Config.CallTimeout)
	assert.Equal(t, 3, analysis.Config.FailureThreshold)

	generation, _ := registry.GetStats("agent-generation")
	assert.Equal(t, 3*time.Minute, generation.Config.CallTimeout, "configured override wins over the preset")
	assert.Equal(t, 2, generation.Config.SuccessThreshold)

	secret, _ := registry.GetStats("secret-refresh")
	assert.Equal(t, DefaultCircuitConfig(), secret.Config)
}

func TestResilientExecutor_RequestTotalsCapFailuresAtWindowRequests(t *testing.T) {
	exec, registry, clock := newTestExecutor(t)
	registry.CreateCircuit("slow", scenarioConfig())

	started := make(chan struct{})
	release := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = registry.Execute(context.Background(), "slow", func(ctx context.Context) (any, error) {
			close(started)
			<-release
			return nil, errAgentDown
		})
	}()
	<-started

	// The admission ages out of the window before the failure is recorded.
	clock.Advance(61 * time.Second)
	close(release)
	<-done

	total, failed := exec.RequestTotals()
	assert.Equal(t, int64(0), total)
	assert.Equal(t, int64(0), failed)
}

func TestResilientExecutor_AutoRegistersUnmappedCategory(t *testing.T) {
	exec, registry, _ := newTestExecutor(t)

	var calls int32
	res, err := exec.Execute(context.Background(), "billing", okOp(&calls))
	require.NoError(t, err)
	assert.Equal(t, "category:billing", res.Circuit)
	assert.True(t, registry.Has("category:billing"))
	assert.Equal(t, "category:billing", exec.CircuitFor("billing"))
}

func TestResilientExecutor_FallbackOnOpen(t *testing.T) {
	exec, _, _ := newTestExecutor(t)
	openCircuit(t, exec, "analysis")

	var calls int32
	res, err := exec.Execute(context.Background(), "analysis", okOp(&calls), WithFallback())
	require.NoError(t, err)
	assert.Nil(t, res.Data)
	assert.False(t, res.Success)
	assert.True(t, res.FallbackUsed)
	assert.Equal(t, int32(0), calls)
}

func TestResilientExecutor_RethrowsOpenWithoutFallback(t *testing.T) {
	exec, _, _ := newTestExecutor(t)
	openCircuit(t, exec, "analysis")

	var calls int32
	res, err := exec.Execute(context.Background(), "analysis", okOp(&calls))
	assert.Nil(t, res)
	assert.True(t, IsCircuitOpen(err))
}

func TestResilientExecutor_FallbackDoesNotHideDomainErrors(t *testing.T) {
	exec, _, _ := newTestExecutor(t)

	var calls int32
	res, err := exec.Execute(context.Background(), "analysis", failingOp(&calls), WithFallback())
	assert.Nil(t, res)
	assert.ErrorIs(t, err, errAgentDown)
}

func TestResilientExecutor_PerCallConfigOverride(t *testing.T) {
	exec, registry, _ := newTestExecutor(t)

	var calls int32
	_, err := exec.Execute(context.Background(), "analysis", okOp(&calls),
		WithCircuitConfig(model.CircuitConfig{CallTimeout: 5 * time.Second}))
	require.NoError(t, err)

	stats, _ := registry.GetStats("agent-analysis")
	assert.Equal(t, 5*time.Second, stats.Config.CallTimeout)
}

func TestResilientExecutor_HealthStatusAndRecovery(t *testing.T) {
	exec, registry, clock := newTestExecutor(t)
	registry.CreateCircuit("scraper", scenarioConfig())
	registry.CreateCircuit("generation", scenarioConfig())

	openCircuit(t, exec, "analysis")
	registry.ForceOpen("generation")
	clock.Advance(5 * time.Second)
	var calls int32
	_, err := registry.Execute(context.Background(), "generation", okOp(&calls))
	require.NoError(t, err)

	h := exec.GetHealthStatus()
	assert.Equal(t, 1, h.Healthy)
	assert.Equal(t, 1, h.Degraded)
	assert.Equal(t, 1, h.Failed, "stats do not evaluate pending OPEN->HALF_OPEN transitions")

	health := exec.Check(context.Background())
	assert.Equal(t, model.HealthDegraded, health.Status)
	assert.Equal(t, 1.0, health.Metrics["degraded"])

	assert.True(t, exec.ForceRecovery())
	h = exec.GetHealthStatus()
	assert.Equal(t, 3, h.Healthy)
	assert.Equal(t, model.HealthHealthy, exec.Check(context.Background()).Status)
}

func TestResilientExecutor_AllOpenIsUnhealthy(t *testing.T) {
	exec, registry, _ := newTestExecutor(t)
	registry.ForceOpen("agent-analysis")

	health := exec.Check(context.Background())
	assert.Equal(t, model.HealthUnhealthy, health.Status)
	assert.Equal(t, ComponentCircuits, exec.Name())
}
