package server

import (
	"context"

	"github.com/destuar/Serplexity-sub003/internal/biz"
	"github.com/destuar/Serplexity-sub003/internal/conf"
	pkglog "github.com/destuar/Serplexity-sub003/pkg/log"
	"github.com/destuar/Serplexity-sub003/pkg/schedule"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/go-kratos/kratos/v2/transport"
)

var _ transport.Server = (*CronServer)(nil)

// CronServer runs the background loops: periodic health aggregation and the
// per-job resource polls that share its scheduler.
type CronServer struct {
	aggregator *biz.HealthAggregator
	scheduler  *schedule.Scheduler
	enabled    bool
	interval   string
	logger     *pkglog.LogHelper
}

// NewCronServer creates the background server. The circuit event bridge is
// taken so that circuit notifications are subscribed before anything runs.
func NewCronServer(
	c *conf.Health,
	aggregator *biz.HealthAggregator,
	scheduler *schedule.Scheduler,
	_ *biz.CircuitEventBridge,
	logger log.Logger,
) *CronServer {
	s := &CronServer{
		aggregator: aggregator,
		scheduler:  scheduler,
		logger:     pkglog.NewLogHelper(logger),
	}
	if c != nil {
		s.enabled = c.Enabled
		s.interval = c.Interval.String()
	}
	return s
}

// Start 启动调度器；健康聚合开启时同时调度聚合周期
func (s *CronServer) Start(ctx context.Context) error {
	if !s.enabled {
		s.scheduler.Start()
		s.logger.Scheduler("health aggregation disabled, only job monitoring is scheduled")
		return nil
	}
	s.aggregator.Start(ctx)
	s.logger.Scheduler("health aggregation scheduled", "interval", s.interval)
	return nil
}

// Stop 停止聚合周期并等待调度器中正在执行的任务结束
func (s *CronServer) Stop(ctx context.Context) error {
	if err := s.aggregator.Stop(ctx); err != nil {
		s.logger.Warnw("msg", "health aggregator stop failed", "error", err)
	}
	return s.scheduler.Stop(ctx)
}
