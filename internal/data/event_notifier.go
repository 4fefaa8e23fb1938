package data

import (
	"context"

	"github.com/destuar/Serplexity-sub003/internal/model"

	"github.com/go-kratos/kratos/v2/log"
)

// LoggingEventNotifier records circuit events in the log stream.
// An HTTP notifier can replace it behind biz.CircuitEventNotifier.
type LoggingEventNotifier struct {
	logger *log.Helper
}

// NewLoggingEventNotifier creates a new logging notifier.
func NewLoggingEventNotifier(logger log.Logger) *LoggingEventNotifier {
	return &LoggingEventNotifier{
		logger: log.NewHelper(logger),
	}
}

// NotifyCircuitOpened logs a circuit tripping.
func (s *LoggingEventNotifier) NotifyCircuitOpened(_ context.Context, event *model.CircuitOpenedEvent) error {
	s.logger.Warnw("msg", "circuit opened",
		"circuit", event.Circuit,
		"failure_count", event.FailureCount,
		"reason", event.Reason,
		"opened_at", event.OpenedAt)
	return nil
}

// NotifyCircuitRecovered logs a circuit returning to CLOSED.
func (s *LoggingEventNotifier) NotifyCircuitRecovered(_ context.Context, event *model.CircuitRecoveredEvent) error {
	s.logger.Infow("msg", "circuit recovered",
		"circuit", event.Circuit,
		"probe_count", event.ProbeCount,
		"recover_time", event.RecoverTime)
	return nil
}
