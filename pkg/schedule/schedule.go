// Package schedule provides cancellable repeating tasks on top of robfig/cron.
//
// Every entry is wrapped with SkipIfStillRunning, so a slow task never has
// more than one pending tick, and with Recover, so a panicking task does not
// take the scheduler down. Stop cancels every entry with a single call and
// waits for running tasks.
package schedule

import (
	"context"
	"sync"
	"time"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/robfig/cron/v3"
)

// EntryID identifies a scheduled task.
type EntryID = cron.EntryID

// Scheduler runs repeating tasks.
type Scheduler struct {
	cron   *cron.Cron
	logger *log.Helper

	mu      sync.Mutex
	running bool
}

// New creates a stopped scheduler.
func New(logger log.Logger) *Scheduler {
	helper := log.NewHelper(logger)
	cl := cronLogger{helper: helper}

	return &Scheduler{
		cron: cron.New(
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		logger: helper,
	}
}

// Every runs fn at a fixed interval. Intervals are rounded down to whole
// seconds with a minimum of one second.
func (s *Scheduler) Every(name string, interval time.Duration, fn func()) EntryID {
	id := s.cron.Schedule(cron.Every(interval), cron.FuncJob(fn))
	s.logger.Debugw("msg", "task scheduled", "task", name, "entry_id", id, "interval", interval.String())
	return id
}

// Cancel removes a task. Unknown ids are ignored; a running invocation finishes.
func (s *Scheduler) Cancel(id EntryID) {
	s.cron.Remove(id)
}

// Len returns the number of scheduled tasks.
func (s *Scheduler) Len() int {
	return len(s.cron.Entries())
}

// Start begins running tasks. It is a no-op when already running.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.cron.Start()
	s.running = true
}

// Stop halts the scheduler and waits for running tasks or ctx, whichever comes first.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.mu.Unlock()

	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// cronLogger adapts a kratos helper to cron.Logger.
type cronLogger struct {
	helper *log.Helper
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.helper.Debugw(append([]interface{}{"msg", "cron: " + msg}, keysAndValues...)...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.helper.Errorw(append([]interface{}{"msg", "cron: " + msg, "error", err}, keysAndValues...)...)
}
