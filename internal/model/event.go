package model

import "time"

// CircuitStateChangedEvent is emitted on every circuit transition.
type CircuitStateChangedEvent struct {
	Circuit      string
	From         CircuitState
	To           CircuitState
	Reason       string
	FailureCount int
	At           time.Time
}

// CircuitOpenedEvent represents a circuit tripping into OPEN.
type CircuitOpenedEvent struct {
	Circuit      string
	FailureCount int
	Reason       string
	OpenedAt     time.Time
}

// CircuitRecoveredEvent represents a circuit returning to CLOSED.
type CircuitRecoveredEvent struct {
	Circuit     string
	ProbeCount  int
	RecoverTime time.Duration // time spent away from CLOSED
}
