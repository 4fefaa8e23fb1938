package biz

import (
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	"github.com/destuar/Serplexity-sub003/internal/data"

	"github.com/go-kratos/kratos/v2/errors"
)

// Error reasons exposed on the admin surface.
const (
	ReasonCircuitOpen            = "CIRCUIT_OPEN"
	ReasonOperationTimeout       = "OPERATION_TIMEOUT"
	ReasonCircuitNotRegistered   = "CIRCUIT_NOT_REGISTERED"
	ReasonResourceBudgetExceeded = "RESOURCE_BUDGET_EXCEEDED"
	ReasonAlertNotFound          = "ALERT_NOT_FOUND"
)

var (
	// ErrHealthSnapshotNotFound is returned by a HealthRepo when the snapshot key is missing or expired.
	ErrHealthSnapshotNotFound = data.ErrKeyNotFound
	// ErrStoreUnavailable is returned when the shared store has no client.
	ErrStoreUnavailable = data.ErrNoClient
	// ErrAlertNotFound is returned when acknowledging an unknown alert id.
	ErrAlertNotFound = stderrors.New("alert not found")
)

// CircuitOpenError is returned when a call is rejected without running the operation.
type CircuitOpenError struct {
	Circuit  string
	OpenedAt time.Time
	RetryAt  time.Time
}

// Error implements the error interface.
func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("circuit %q is open (retry after %s)", e.Circuit, e.RetryAt.Format(time.RFC3339))
}

// Kratos converts the error into a kratos error with code and reason.
func (e *CircuitOpenError) Kratos() *errors.Error {
	return errors.New(503, ReasonCircuitOpen, e.Error()).
		WithMetadata(map[string]string{"circuit": e.Circuit})
}

// OperationTimeoutError is returned when a protected call loses the race against its timeout.
type OperationTimeoutError struct {
	Circuit string
	Timeout time.Duration
}

// Error implements the error interface.
func (e *OperationTimeoutError) Error() string {
	return fmt.Sprintf("operation on circuit %q timed out after %s", e.Circuit, e.Timeout)
}

// Kratos converts the error into a kratos error with code and reason.
func (e *OperationTimeoutError) Kratos() *errors.Error {
	return errors.New(504, ReasonOperationTimeout, e.Error()).
		WithMetadata(map[string]string{"circuit": e.Circuit})
}

// CircuitNotRegisteredError is a programming error: Execute was called with an unknown name.
type CircuitNotRegisteredError struct {
	Circuit string
}

// Error implements the error interface.
func (e *CircuitNotRegisteredError) Error() string {
	return fmt.Sprintf("circuit %q is not registered", e.Circuit)
}

// Kratos converts the error into a kratos error with code and reason.
func (e *CircuitNotRegisteredError) Kratos() *errors.Error {
	return errors.New(500, ReasonCircuitNotRegistered, e.Error())
}

// ResourceBudgetExceededError is raised after a monitored function settles
// if any poll reported an error-level breach. The function result must not be trusted.
type ResourceBudgetExceededError struct {
	JobID  string
	Errors []string
}

// Error implements the error interface.
func (e *ResourceBudgetExceededError) Error() string {
	return fmt.Sprintf("job %s exceeded its resource budget: %s", e.JobID, strings.Join(e.Errors, "; "))
}

// Kratos converts the error into a kratos error with code and reason.
func (e *ResourceBudgetExceededError) Kratos() *errors.Error {
	return errors.New(507, ReasonResourceBudgetExceeded, e.Error()).
		WithMetadata(map[string]string{"job_id": e.JobID})
}

// ProbeFailure wraps an error raised by a component probe. It never leaves
// the aggregator; it is converted into an unhealthy ComponentHealth.
type ProbeFailure struct {
	Component string
	Err       error
}

// Error implements the error interface.
func (e *ProbeFailure) Error() string {
	return fmt.Sprintf("probe %s failed: %v", e.Component, e.Err)
}

// Unwrap returns the underlying probe error.
func (e *ProbeFailure) Unwrap() error {
	return e.Err
}

// IsCircuitOpen reports whether err is, or wraps, a CircuitOpenError.
func IsCircuitOpen(err error) bool {
	var openErr *CircuitOpenError
	return stderrors.As(err, &openErr)
}

// ToKratos maps a domain error onto a kratos error; unknown errors become 500 INTERNAL.
func ToKratos(err error) *errors.Error {
	if err == nil {
		return nil
	}
	type kratosError interface{ Kratos() *errors.Error }
	var ke kratosError
	if stderrors.As(err, &ke) {
		return ke.Kratos()
	}
	if stderrors.Is(err, ErrAlertNotFound) {
		return errors.NotFound(ReasonAlertNotFound, err.Error())
	}
	return errors.FromError(err)
}
