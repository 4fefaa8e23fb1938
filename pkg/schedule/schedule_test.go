package schedule

import (
	"context"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestScheduler() *Scheduler {
	return New(log.NewStdLogger(os.Stdout))
}

func TestScheduler_EveryRunsTask(t *testing.T) {
	s := newTestScheduler()
	var runs int32
	s.Every("tick", time.Second, func() { atomic.AddInt32(&runs, 1) })
	s.Start()
	defer func() { _ = s.Stop(context.Background()) }()

	assert.Eventually(t, func() bool {
		return atomic.LoadInt32(&runs) >= 1
	}, 3*time.Second, 50*time.Millisecond)
}

func TestScheduler_CancelStopsFutureRuns(t *testing.T) {
	s := newTestScheduler()
	var runs int32
	id := s.Every("tick", time.Second, func() { atomic.AddInt32(&runs, 1) })
	require.Equal(t, 1, s.Len())

	s.Cancel(id)
	s.Start()
	defer func() { _ = s.Stop(context.Background()) }()

	time.Sleep(1500 * time.Millisecond)
	assert.Equal(t, int32(0), atomic.LoadInt32(&runs))
	assert.Equal(t, 0, s.Len())
}

func TestScheduler_SkipsOverlappingTicks(t *testing.T) {
	s := newTestScheduler()
	var running, maxRunning int32
	s.Every("slow", time.Second, func() {
		n := atomic.AddInt32(&running, 1)
		if n > atomic.LoadInt32(&maxRunning) {
			atomic.StoreInt32(&maxRunning, n)
		}
		time.Sleep(2500 * time.Millisecond)
		atomic.AddInt32(&running, -1)
	})
	s.Start()

	time.Sleep(3500 * time.Millisecond)
	require.NoError(t, s.Stop(context.Background()))
	assert.Equal(t, int32(1), atomic.LoadInt32(&maxRunning))
}

func TestScheduler_StopIsIdempotent(t *testing.T) {
	s := newTestScheduler()
	assert.NoError(t, s.Stop(context.Background()))

	s.Start()
	s.Start()
	assert.NoError(t, s.Stop(context.Background()))
	assert.NoError(t, s.Stop(context.Background()))
}
