package biz

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/destuar/Serplexity-sub003/internal/conf"
	"github.com/destuar/Serplexity-sub003/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errAgentDown = errors.New("agent unreachable")

func newTestRegistry(t *testing.T) (*CircuitBreakerRegistry, *fakeClock) {
	t.Helper()
	clock := newFakeClock()
	r := NewCircuitBreakerRegistry(nil, nil, newTestLogger())
	r.now = clock.Now
	return r, clock
}

func scenarioConfig() model.CircuitConfig {
	return model.CircuitConfig{
		FailureThreshold: 3,
		MonitoringWindow: 60 * time.Second,
		RecoveryTimeout:  5 * time.Second,
		SuccessThreshold: 2,
		CallTimeout:      time.Second,
	}
}

func failingOp(calls *int32) Operation {
	return func(ctx context.Context) (any, error) {
		atomic.AddInt32(calls, 1)
		return nil, errAgentDown
	}
}

func okOp(calls *int32) Operation {
	return func(ctx context.Context) (any, error) {
		atomic.AddInt32(calls, 1)
		return "ok", nil
	}
}

func TestExecute_NotRegistered(t *testing.T) {
	r, _ := newTestRegistry(t)

	var calls int32
	_, err := r.Execute(context.Background(), "missing", okOp(&calls))

	var notReg *CircuitNotRegisteredError
	require.ErrorAs(t, err, &notReg)
	assert.Equal(t, "missing", notReg.Circuit)
	assert.Equal(t, int32(0), calls)
}

func TestExecute_SuccessWhileClosed(t *testing.T) {
	r, _ := newTestRegistry(t)
	r.CreateCircuit("agent", scenarioConfig())

	var calls int32
	v, err := r.Execute(context.Background(), "agent", okOp(&calls))
	require.NoError(t, err)
	assert.Equal(t, "ok", v)

	stats, ok := r.GetStats("agent")
	require.True(t, ok)
	assert.Equal(t, model.CircuitClosed, stats.State)
	assert.Equal(t, int64(1), stats.TotalRequests)
	assert.Equal(t, 0, stats.SuccessCount)
	assert.NotNil(t, stats.LastSuccessAt)
}

func TestExecute_ErrorsArePropagatedUnchanged(t *testing.T) {
	r, _ := newTestRegistry(t)
	r.CreateCircuit("agent", scenarioConfig())

	var calls int32
	_, err := r.Execute(context.Background(), "agent", failingOp(&calls))
	assert.ErrorIs(t, err, errAgentDown)

	stats, _ := r.GetStats("agent")
	assert.Equal(t, 1, stats.FailureCount)
	assert.Equal(t, model.CircuitClosed, stats.State)
}

// Three failures within 10s open the circuit; a call at 11s is rejected; a
// call 5s after the OPEN transition is a HALF_OPEN trial.
func TestExecute_OpensOnThresholdThenAdmitsTrialAfterRecovery(t *testing.T) {
	r, clock := newTestRegistry(t)
	r.CreateCircuit("agent", scenarioConfig())
	ctx := context.Background()

	var calls int32
	clock.Advance(2 * time.Second)
	_, _ = r.Execute(ctx, "agent", failingOp(&calls))
	clock.Advance(4 * time.Second)
	_, _ = r.Execute(ctx, "agent", failingOp(&calls))
	clock.Advance(4 * time.Second)
	_, _ = r.Execute(ctx, "agent", failingOp(&calls))
	require.Equal(t, int32(3), calls)

	stats, _ := r.GetStats("agent")
	require.Equal(t, model.CircuitOpen, stats.State)
	openedAt := stats.LastStateChangeAt

	clock.Advance(1 * time.Second)
	_, err := r.Execute(ctx, "agent", okOp(&calls))
	var openErr *CircuitOpenError
	require.ErrorAs(t, err, &openErr)
	assert.Equal(t, int32(3), calls, "operation must not run while open")
	assert.Equal(t, openedAt.Add(5*time.Second), openErr.RetryAt)

	stats, _ = r.GetStats("agent")
	assert.Equal(t, int64(3), stats.TotalRequests, "rejections are not counted")

	clock.Advance(4 * time.Second)
	_, err = r.Execute(ctx, "agent", okOp(&calls))
	require.NoError(t, err)
	assert.Equal(t, int32(4), calls, "trial runs exactly once")

	stats, _ = r.GetStats("agent")
	assert.Equal(t, model.CircuitHalfOpen, stats.State)
	assert.Equal(t, 1, stats.SuccessCount)
}

func TestExecute_NoTrialBeforeRecoveryTimeout(t *testing.T) {
	r, clock := newTestRegistry(t)
	r.CreateCircuit("agent", scenarioConfig())
	ctx := context.Background()

	var calls int32
	for i := 0; i < 3; i++ {
		_, _ = r.Execute(ctx, "agent", failingOp(&calls))
	}

	clock.Advance(5*time.Second - time.Millisecond)
	_, err := r.Execute(ctx, "agent", okOp(&calls))
	assert.True(t, IsCircuitOpen(err))
	assert.Equal(t, int32(3), calls)
}

func TestExecute_HalfOpenClosesAfterSuccessThreshold(t *testing.T) {
	r, clock := newTestRegistry(t)
	r.CreateCircuit("agent", scenarioConfig())
	ctx := context.Background()

	var calls int32
	for i := 0; i < 3; i++ {
		_, _ = r.Execute(ctx, "agent", failingOp(&calls))
	}
	clock.Advance(5 * time.Second)

	_, err := r.Execute(ctx, "agent", okOp(&calls))
	require.NoError(t, err)
	_, err = r.Execute(ctx, "agent", okOp(&calls))
	require.NoError(t, err)

	stats, _ := r.GetStats("agent")
	assert.Equal(t, model.CircuitClosed, stats.State)
	assert.Equal(t, 0, stats.FailureCount)
	assert.Equal(t, 0, stats.SuccessCount)
	assert.Equal(t, int64(0), stats.TotalRequests)
	assert.Equal(t, 0, stats.WindowRequests)
}

func TestExecute_HalfOpenFailureReopensAndResetsTimer(t *testing.T) {
	r, clock := newTestRegistry(t)
	r.CreateCircuit("agent", scenarioConfig())
	ctx := context.Background()

	var calls int32
	for i := 0; i < 3; i++ {
		_, _ = r.Execute(ctx, "agent", failingOp(&calls))
	}
	clock.Advance(5 * time.Second)

	_, err := r.Execute(ctx, "agent", okOp(&calls))
	require.NoError(t, err)
	_, err = r.Execute(ctx, "agent", failingOp(&calls))
	require.ErrorIs(t, err, errAgentDown)

	stats, _ := r.GetStats("agent")
	assert.Equal(t, model.CircuitOpen, stats.State)
	assert.Equal(t, 0, stats.SuccessCount)
	assert.Equal(t, clock.Now(), stats.LastStateChangeAt)

	clock.Advance(4 * time.Second)
	_, err = r.Execute(ctx, "agent", okOp(&calls))
	assert.True(t, IsCircuitOpen(err), "recovery timer restarts from the trial failure")
}

func TestPrune_OldFailuresDoNotCount(t *testing.T) {
	r, clock := newTestRegistry(t)
	r.CreateCircuit("agent", scenarioConfig())
	ctx := context.Background()

	var calls int32
	_, _ = r.Execute(ctx, "agent", failingOp(&calls))
	_, _ = r.Execute(ctx, "agent", failingOp(&calls))
	clock.Advance(61 * time.Second)
	_, _ = r.Execute(ctx, "agent", failingOp(&calls))

	stats, _ := r.GetStats("agent")
	assert.Equal(t, model.CircuitClosed, stats.State)
	assert.Equal(t, 1, stats.FailureCount)
}

func TestPrune_Idempotent(t *testing.T) {
	r, clock := newTestRegistry(t)
	r.CreateCircuit("agent", scenarioConfig())
	ctx := context.Background()

	var calls int32
	_, _ = r.Execute(ctx, "agent", failingOp(&calls))
	clock.Advance(30 * time.Second)
	_, _ = r.Execute(ctx, "agent", failingOp(&calls))
	clock.Advance(31 * time.Second)

	first, _ := r.GetStats("agent")
	second, _ := r.GetStats("agent")
	assert.Equal(t, 1, first.FailureCount)
	assert.Equal(t, first.FailureCount, second.FailureCount)
}

func TestPrune_RequestsAgeOutWithFailures(t *testing.T) {
	r, clock := newTestRegistry(t)
	r.CreateCircuit("agent", scenarioConfig())
	ctx := context.Background()

	var calls int32
	for i := 0; i < 10; i++ {
		_, _ = r.Execute(ctx, "agent", okOp(&calls))
	}
	clock.Advance(61 * time.Second)
	_, _ = r.Execute(ctx, "agent", failingOp(&calls))

	stats, _ := r.GetStats("agent")
	assert.Equal(t, int64(11), stats.TotalRequests)
	assert.Equal(t, 1, stats.WindowRequests)
	assert.Equal(t, 1, stats.FailureCount)
}

func TestExecute_ConcurrentFailuresAreAllCounted(t *testing.T) {
	r, _ := newTestRegistry(t)
	cfg := scenarioConfig()
	cfg.FailureThreshold = 100
	r.CreateCircuit("agent", cfg)

	var (
		calls int32
		wg    sync.WaitGroup
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := r.Execute(context.Background(), "agent", failingOp(&calls))
			assert.ErrorIs(t, err, errAgentDown)
		}()
	}
	wg.Wait()

	stats, _ := r.GetStats("agent")
	assert.Equal(t, int32(20), atomic.LoadInt32(&calls))
	assert.Equal(t, 20, stats.FailureCount)
	assert.Equal(t, int64(20), stats.TotalRequests)
	assert.Equal(t, 20, stats.WindowRequests)
	assert.Equal(t, model.CircuitClosed, stats.State)
}

func TestExecute_ConcurrentHalfOpenTrials(t *testing.T) {
	tests := []struct {
		name string
		op   func(calls *int32) Operation
		want model.CircuitState
	}{
		{"successes close once", okOp, model.CircuitClosed},
		{"failures reopen once", failingOp, model.CircuitOpen},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, clock := newTestRegistry(t)
			r.CreateCircuit("agent", scenarioConfig())
			ctx := context.Background()

			var calls int32
			for i := 0; i < 3; i++ {
				_, _ = r.Execute(ctx, "agent", failingOp(&calls))
			}
			clock.Advance(5 * time.Second)

			var mu sync.Mutex
			var transitions []model.CircuitStateChangedEvent
			r.AddListener(func(ev model.CircuitStateChangedEvent) {
				mu.Lock()
				defer mu.Unlock()
				transitions = append(transitions, ev)
			})

			const trials = 5
			var started, wg sync.WaitGroup
			release := make(chan struct{})
			started.Add(trials)
			for i := 0; i < trials; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					inner := tt.op(&calls)
					_, _ = r.Execute(ctx, "agent", func(ctx context.Context) (any, error) {
						started.Done()
						<-release
						return inner(ctx)
					})
				}()
			}
			started.Wait()

			stats, _ := r.GetStats("agent")
			assert.Equal(t, model.CircuitHalfOpen, stats.State, "every trial was admitted before any settled")

			close(release)
			wg.Wait()

			stats, _ = r.GetStats("agent")
			assert.Equal(t, tt.want, stats.State)
			assert.Equal(t, int32(3+trials), atomic.LoadInt32(&calls))

			mu.Lock()
			defer mu.Unlock()
			require.Len(t, transitions, 2)
			assert.Equal(t, model.CircuitHalfOpen, transitions[0].To)
			assert.Equal(t, model.CircuitHalfOpen, transitions[1].From)
			assert.Equal(t, tt.want, transitions[1].To)
		})
	}
}

func TestExecute_Timeout(t *testing.T) {
	r := NewCircuitBreakerRegistry(nil, nil, newTestLogger())
	r.CreateCircuit("slow", model.CircuitConfig{CallTimeout: 20 * time.Millisecond})

	cancelled := make(chan struct{})
	_, err := r.Execute(context.Background(), "slow", func(ctx context.Context) (any, error) {
		<-ctx.Done()
		close(cancelled)
		time.Sleep(10 * time.Millisecond)
		return "late", nil
	})

	var timeoutErr *OperationTimeoutError
	require.ErrorAs(t, err, &timeoutErr)
	assert.Equal(t, 20*time.Millisecond, timeoutErr.Timeout)

	select {
	case <-cancelled:
	case <-time.After(time.Second):
		t.Fatal("operation context was not cancelled")
	}

	stats, _ := r.GetStats("slow")
	assert.Equal(t, 1, stats.FailureCount)
}

func TestExecute_PanicIsRecordedAsFailure(t *testing.T) {
	r, _ := newTestRegistry(t)
	r.CreateCircuit("agent", scenarioConfig())

	_, err := r.Execute(context.Background(), "agent", func(ctx context.Context) (any, error) {
		panic("boom")
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")

	stats, _ := r.GetStats("agent")
	assert.Equal(t, 1, stats.FailureCount)
}

func TestCreateCircuit_MergeKeepsCounters(t *testing.T) {
	r, _ := newTestRegistry(t)
	r.CreateCircuit("agent", scenarioConfig())

	var calls int32
	_, _ = r.Execute(context.Background(), "agent", failingOp(&calls))

	r.CreateCircuit("agent", model.CircuitConfig{FailureThreshold: 10})

	stats, _ := r.GetStats("agent")
	assert.Equal(t, 1, stats.FailureCount)
	assert.Equal(t, int64(1), stats.TotalRequests)
	assert.Equal(t, 10, stats.Config.FailureThreshold)
	assert.Equal(t, 5*time.Second, stats.Config.RecoveryTimeout)
}

func TestCreateCircuit_AppliesConfiguredOverrides(t *testing.T) {
	r := NewCircuitBreakerRegistry(&conf.Resilience{
		Default: &conf.Circuit{FailureThreshold: 7},
		Circuits: map[string]*conf.Circuit{
			"agent-analysis": {CallTimeout: 90 * time.Second},
		},
	}, nil, newTestLogger())

	r.CreateCircuit("agent-analysis", model.CircuitConfig{})
	r.CreateCircuit("other", model.CircuitConfig{})

	analysis, _ := r.GetStats("agent-analysis")
	assert.Equal(t, 7, analysis.Config.FailureThreshold)
	assert.Equal(t, 90*time.Second, analysis.Config.CallTimeout)

	other, _ := r.GetStats("other")
	assert.Equal(t, 30*time.Second, other.Config.CallTimeout)
}

func TestCreateCircuitFrom_PresetUnderOverrides(t *testing.T) {
	r := NewCircuitBreakerRegistry(&conf.Resilience{
		Default: &conf.Circuit{FailureThreshold: 7},
		Circuits: map[string]*conf.Circuit{
			"agent-generation": {CallTimeout: 5 * time.Minute},
		},
	}, nil, newTestLogger())

	r.CreateCircuitFrom("agent-analysis", AgentCircuitConfig())
	r.CreateCircuitFrom("agent-generation", AgentCircuitConfig())

	analysis, _ := r.GetStats("agent-analysis")
	assert.Equal(t, AgentCircuitConfig(), analysis.Config)

	generation, _ := r.GetStats("agent-generation")
	assert.Equal(t, 5*time.Minute, generation.Config.CallTimeout)
	assert.Equal(t, 3, generation.Config.FailureThreshold)

	// Existing circuits keep their config.
	r.CreateCircuitFrom("agent-analysis", DefaultCircuitConfig())
	analysis, _ = r.GetStats("agent-analysis")
	assert.Equal(t, 2*time.Minute, analysis.Config.CallTimeout)
}

func TestForceOpenAndClose(t *testing.T) {
	r, _ := newTestRegistry(t)
	r.CreateCircuit("agent", scenarioConfig())

	assert.False(t, r.ForceOpen("unknown"))
	assert.False(t, r.ForceClose("unknown"))

	require.True(t, r.ForceOpen("agent"))
	var calls int32
	_, err := r.Execute(context.Background(), "agent", okOp(&calls))
	assert.True(t, IsCircuitOpen(err))
	assert.Equal(t, int32(0), calls)

	require.True(t, r.ForceClose("agent"))
	_, err = r.Execute(context.Background(), "agent", okOp(&calls))
	assert.NoError(t, err)

	stats, _ := r.GetStats("agent")
	assert.Equal(t, model.CircuitClosed, stats.State)
}

func TestForceCloseKeepsTotalsResetClearsThem(t *testing.T) {
	r, _ := newTestRegistry(t)
	r.CreateCircuit("agent", scenarioConfig())
	ctx := context.Background()

	var calls int32
	_, _ = r.Execute(ctx, "agent", okOp(&calls))
	for i := 0; i < 3; i++ {
		_, _ = r.Execute(ctx, "agent", failingOp(&calls))
	}

	require.True(t, r.ForceClose("agent"))
	stats, _ := r.GetStats("agent")
	assert.Equal(t, model.CircuitClosed, stats.State)
	assert.Equal(t, 0, stats.FailureCount)
	assert.Equal(t, int64(4), stats.TotalRequests)
	assert.Equal(t, 4, stats.WindowRequests)

	assert.False(t, r.ResetCircuit("unknown"))
	require.True(t, r.ResetCircuit("agent"))
	stats, _ = r.GetStats("agent")
	assert.Equal(t, model.CircuitClosed, stats.State)
	assert.Equal(t, 0, stats.FailureCount)
	assert.Equal(t, int64(0), stats.TotalRequests)
	assert.Equal(t, 0, stats.WindowRequests)
}

func TestListenersReceiveTransitions(t *testing.T) {
	r, clock := newTestRegistry(t)
	r.CreateCircuit("agent", scenarioConfig())

	var mu sync.Mutex
	var events []model.CircuitStateChangedEvent
	r.AddListener(func(ev model.CircuitStateChangedEvent) {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, ev)
	})
	r.AddListener(func(ev model.CircuitStateChangedEvent) {
		panic("listener bug")
	})

	var calls int32
	for i := 0; i < 3; i++ {
		_, _ = r.Execute(context.Background(), "agent", failingOp(&calls))
	}
	clock.Advance(5 * time.Second)
	_, _ = r.Execute(context.Background(), "agent", okOp(&calls))
	_, _ = r.Execute(context.Background(), "agent", okOp(&calls))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, events, 3)
	assert.Equal(t, model.CircuitOpen, events[0].To)
	assert.Equal(t, 3, events[0].FailureCount)
	assert.Equal(t, model.CircuitHalfOpen, events[1].To)
	assert.Equal(t, model.CircuitClosed, events[2].To)
}

func TestGetAllStatsAndNames(t *testing.T) {
	r, _ := newTestRegistry(t)
	r.CreateCircuit("b", model.CircuitConfig{})
	r.CreateCircuit("a", model.CircuitConfig{})

	assert.Equal(t, []string{"a", "b"}, r.Names())
	all := r.GetAllStats()
	assert.Len(t, all, 2)
	assert.Equal(t, model.CircuitClosed, all["a"].State)

	_, ok := r.GetStats("c")
	assert.False(t, ok)
}

func TestExecuteTyped(t *testing.T) {
	r, _ := newTestRegistry(t)
	r.CreateCircuit("agent", scenarioConfig())

	n, err := ExecuteTyped(context.Background(), r, "agent", func(ctx context.Context) (int, error) {
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, n)
}
