package biz

import (
	"context"
	"time"

	"github.com/destuar/Serplexity-sub003/internal/model"

	"github.com/go-kratos/kratos/v2/log"
)

// notifyTimeout bounds a single notifier call.
const notifyTimeout = 5 * time.Second

// CircuitEventNotifier defines the interface for circuit notifications
type CircuitEventNotifier interface {
	// NotifyCircuitOpened is sent when a circuit trips into OPEN
	NotifyCircuitOpened(ctx context.Context, event *model.CircuitOpenedEvent) error

	// NotifyCircuitRecovered is sent when a circuit returns to CLOSED
	NotifyCircuitRecovered(ctx context.Context, event *model.CircuitRecoveredEvent) error
}

// CircuitEventBridge forwards registry transitions to a CircuitEventNotifier.
type CircuitEventBridge struct {
	registry *CircuitBreakerRegistry
	notifier CircuitEventNotifier
	logger   *log.Helper
}

// NewCircuitEventBridge subscribes the notifier to every circuit transition.
func NewCircuitEventBridge(registry *CircuitBreakerRegistry, notifier CircuitEventNotifier, logger log.Logger) *CircuitEventBridge {
	b := &CircuitEventBridge{
		registry: registry,
		notifier: notifier,
		logger:   log.NewHelper(logger),
	}
	registry.AddListener(b.handle)
	return b
}

func (b *CircuitEventBridge) handle(ev model.CircuitStateChangedEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
	defer cancel()

	var err error
	switch {
	case ev.To == model.CircuitOpen:
		err = b.notifier.NotifyCircuitOpened(ctx, &model.CircuitOpenedEvent{
			Circuit:      ev.Circuit,
			FailureCount: ev.FailureCount,
			Reason:       ev.Reason,
			OpenedAt:     ev.At,
		})
	case ev.To == model.CircuitClosed && ev.From != model.CircuitClosed:
		recoverTime, trials := b.registry.outage(ev.Circuit, ev.At)
		err = b.notifier.NotifyCircuitRecovered(ctx, &model.CircuitRecoveredEvent{
			Circuit:     ev.Circuit,
			ProbeCount:  trials,
			RecoverTime: recoverTime,
		})
	default:
		return
	}

	if err != nil {
		b.logger.Warnw("msg", "circuit notification failed", "circuit", ev.Circuit, "to", ev.To, "error", err)
	}
}
