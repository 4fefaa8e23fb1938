package biz

import (
	"os"
	"sync"
	"time"

	"github.com/go-kratos/kratos/v2/log"
)

// fakeClock is a manually advanced clock shared by the registry tests.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestLogger() log.Logger {
	return log.NewStdLogger(os.Stdout)
}
