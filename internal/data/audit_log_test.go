package data

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/destuar/Serplexity-sub003/internal/conf"
	"github.com/destuar/Serplexity-sub003/internal/model"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
)

const insertAudit = "INSERT INTO `resilience_audit_logs`"

// setupAuditTestDB creates a GORM handle backed by sqlmock
func setupAuditTestDB(t *testing.T) (*Data, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	gormDB, err := gorm.Open(mysql.New(mysql.Config{
		Conn:                      sqlDB,
		SkipInitializeWithVersion: true,
	}), &gorm.Config{SkipDefaultTransaction: true})
	require.NoError(t, err)

	d, _, err := NewData(&conf.Data{}, log.DefaultLogger, nil, gormDB)
	require.NoError(t, err)
	return d, mock
}

func TestAuditLogWriter_PersistsEvents(t *testing.T) {
	d, mock := setupAuditTestDB(t)
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectExec(regexp.QuoteMeta(insertAudit)).
		WithArgs(string(model.AuditEventCircuitOverride), "agent-analysis", `{"action":"open"}`, "oncall", at).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta(insertAudit)).
		WithArgs(string(model.AuditEventForceRecovery), "*", "{}", model.AuditOperatorSystem, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(2, 1))

	w, cleanup := NewAuditLogWriter(d, NewLoggingEventNotifier(log.DefaultLogger), log.DefaultLogger)
	w.Record(context.Background(), &model.AuditEvent{
		Type:     model.AuditEventCircuitOverride,
		Subject:  "agent-analysis",
		Operator: "oncall",
		Details:  map[string]any{"action": "open"},
		At:       at,
	})
	w.Record(context.Background(), &model.AuditEvent{Type: model.AuditEventForceRecovery, Subject: "*"})
	cleanup()

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAuditLogWriter_WriteFailureIsLogged(t *testing.T) {
	d, mock := setupAuditTestDB(t)
	mock.ExpectExec(regexp.QuoteMeta(insertAudit)).WillReturnError(errors.New("table missing"))

	w, cleanup := NewAuditLogWriter(d, NewLoggingEventNotifier(log.DefaultLogger), log.DefaultLogger)
	w.Record(context.Background(), &model.AuditEvent{Type: model.AuditEventAlertAcknowledged, Subject: "queue-degraded"})
	cleanup()

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAuditLogWriter_NotifierAuditsTransitions(t *testing.T) {
	d, mock := setupAuditTestDB(t)
	mock.ExpectExec(regexp.QuoteMeta(insertAudit)).
		WithArgs(string(model.AuditEventCircuitOpened), "agent-scraper", sqlmock.AnyArg(), model.AuditOperatorSystem, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta(insertAudit)).
		WithArgs(string(model.AuditEventCircuitRecovered), "agent-scraper", sqlmock.AnyArg(), model.AuditOperatorSystem, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(2, 1))

	w, cleanup := NewAuditLogWriter(d, NewLoggingEventNotifier(log.DefaultLogger), log.DefaultLogger)
	ctx := context.Background()
	require.NoError(t, w.NotifyCircuitOpened(ctx, &model.CircuitOpenedEvent{
		Circuit: "agent-scraper", FailureCount: 5, Reason: "timeout", OpenedAt: time.Now(),
	}))
	require.NoError(t, w.NotifyCircuitRecovered(ctx, &model.CircuitRecoveredEvent{
		Circuit: "agent-scraper", ProbeCount: 3, RecoverTime: time.Minute,
	}))
	cleanup()

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAuditLogWriter_NoDatabase(t *testing.T) {
	d, _, err := NewData(&conf.Data{}, log.DefaultLogger, nil, nil)
	require.NoError(t, err)

	w, cleanup := NewAuditLogWriter(d, NewLoggingEventNotifier(log.DefaultLogger), log.DefaultLogger)
	w.Record(context.Background(), &model.AuditEvent{Type: model.AuditEventForceRecovery, Subject: "*"})
	require.NoError(t, w.NotifyCircuitOpened(context.Background(), &model.CircuitOpenedEvent{Circuit: "secret-refresh"}))
	cleanup()
	cleanup()
}

func TestAuditLogWriter_RecordAfterCloseIsDropped(t *testing.T) {
	d, mock := setupAuditTestDB(t)

	w, cleanup := NewAuditLogWriter(d, NewLoggingEventNotifier(log.DefaultLogger), log.DefaultLogger)
	cleanup()
	w.Record(context.Background(), &model.AuditEvent{Type: model.AuditEventForceRecovery, Subject: "*"})

	assert.NoError(t, mock.ExpectationsWereMet())
}
