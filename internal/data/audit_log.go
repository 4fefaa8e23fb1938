package data

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/destuar/Serplexity-sub003/internal/model"

	"github.com/go-kratos/kratos/v2/log"
	"gorm.io/gorm"
)

// auditBufferSize bounds queued audit rows; further events are dropped.
const auditBufferSize = 1000

// AuditLog is the GORM model for the resilience_audit_logs table
type AuditLog struct {
	ID         int64     `gorm:"primaryKey;column:id"`
	ActionType string    `gorm:"column:action_type;type:varchar(50);not null;index"`
	Subject    string    `gorm:"column:subject;type:varchar(128);not null;index"`
	Details    string    `gorm:"column:details;type:json"`                   // JSON string
	Operator   string    `gorm:"column:operator;type:varchar(128);not null"` // "system" or the admin caller
	CreatedAt  time.Time `gorm:"column:created_at"`
}

// TableName specifies the table name for GORM
func (AuditLog) TableName() string {
	return "resilience_audit_logs"
}

// AuditLogWriter persists audit events asynchronously and doubles as the
// circuit event notifier: every transition is both logged and audited.
type AuditLogWriter struct {
	db       *gorm.DB
	notifier *LoggingEventNotifier
	logger   *log.Helper

	mu      sync.Mutex
	closed  bool
	logChan chan *AuditLog
	done    chan struct{}
}

// NewAuditLogWriter creates the writer. Without a database handle events
// are only logged.
func NewAuditLogWriter(d *Data, notifier *LoggingEventNotifier, logger log.Logger) (*AuditLogWriter, func()) {
	w := &AuditLogWriter{
		notifier: notifier,
		logger:   log.NewHelper(logger),
		done:     make(chan struct{}),
	}
	if d != nil {
		w.db = d.GetDB()
	}
	if w.db == nil {
		close(w.done)
		return w, func() {}
	}

	w.logChan = make(chan *AuditLog, auditBufferSize)
	go w.start()
	return w, w.Close
}

// start processes audit rows until the channel is closed
func (w *AuditLogWriter) start() {
	defer close(w.done)
	for row := range w.logChan {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := w.db.WithContext(ctx).Create(row).Error; err != nil {
			w.logger.Errorw("msg", "failed to write audit log",
				"subject", row.Subject,
				"action_type", row.ActionType,
				"error", err)
		} else {
			w.logger.Debugw("msg", "audit log written",
				"subject", row.Subject,
				"action_type", row.ActionType)
		}
		cancel()
	}
}

// Close stops accepting events and waits for queued rows to be written.
func (w *AuditLogWriter) Close() {
	w.mu.Lock()
	if !w.closed && w.logChan != nil {
		close(w.logChan)
	}
	w.closed = true
	w.mu.Unlock()
	<-w.done
}

// Record queues an audit event (non-blocking).
func (w *AuditLogWriter) Record(_ context.Context, event *model.AuditEvent) {
	if event == nil {
		return
	}
	if w.db == nil {
		w.logger.Debugw("msg", "audit event (no database)",
			"action_type", event.Type,
			"subject", event.Subject,
			"operator", event.Operator)
		return
	}

	details := "{}"
	if len(event.Details) > 0 {
		b, err := json.Marshal(event.Details)
		if err != nil {
			w.logger.Errorw("msg", "failed to marshal audit log details", "error", err)
			return
		}
		details = string(b)
	}
	operator := event.Operator
	if operator == "" {
		operator = model.AuditOperatorSystem
	}
	at := event.At
	if at.IsZero() {
		at = time.Now()
	}
	row := &AuditLog{
		ActionType: string(event.Type),
		Subject:    event.Subject,
		Details:    details,
		Operator:   operator,
		CreatedAt:  at,
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	select {
	case w.logChan <- row:
	default:
		w.logger.Warnw("msg", "audit log channel full, dropping event",
			"subject", row.Subject,
			"action_type", row.ActionType)
	}
}

// NotifyCircuitOpened logs and audits a circuit tripping.
func (w *AuditLogWriter) NotifyCircuitOpened(ctx context.Context, event *model.CircuitOpenedEvent) error {
	w.Record(ctx, &model.AuditEvent{
		Type:    model.AuditEventCircuitOpened,
		Subject: event.Circuit,
		Details: map[string]any{
			"failure_count": event.FailureCount,
			"reason":        event.Reason,
		},
		At: event.OpenedAt,
	})
	return w.notifier.NotifyCircuitOpened(ctx, event)
}

// NotifyCircuitRecovered logs and audits a circuit returning to CLOSED.
func (w *AuditLogWriter) NotifyCircuitRecovered(ctx context.Context, event *model.CircuitRecoveredEvent) error {
	w.Record(ctx, &model.AuditEvent{
		Type:    model.AuditEventCircuitRecovered,
		Subject: event.Circuit,
		Details: map[string]any{
			"recover_time_seconds": event.RecoverTime.Seconds(),
			"probe_count":          event.ProbeCount,
		},
	})
	return w.notifier.NotifyCircuitRecovered(ctx, event)
}
