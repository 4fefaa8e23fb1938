package model

import "time"

// AuditEventType classifies an entry in the resilience audit trail.
type AuditEventType string

// Audit event type constants
const (
	AuditEventCircuitOpened     AuditEventType = "CIRCUIT_OPENED"
	AuditEventCircuitRecovered  AuditEventType = "CIRCUIT_RECOVERED"
	AuditEventCircuitOverride   AuditEventType = "CIRCUIT_OVERRIDE"
	AuditEventForceRecovery     AuditEventType = "FORCE_RECOVERY"
	AuditEventAlertAcknowledged AuditEventType = "ALERT_ACKNOWLEDGED"
)

// AuditOperatorSystem marks entries produced without an admin request.
const AuditOperatorSystem = "system"

// AuditEvent is one audit trail entry.
type AuditEvent struct {
	Type AuditEventType
	// Subject is the circuit name or alert id the event is about.
	Subject  string
	Operator string
	Details  map[string]any
	At       time.Time
}
