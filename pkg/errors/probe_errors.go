// Package errors classifies failures raised while probing backing stores.
package errors

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/go-sql-driver/mysql"
	"gorm.io/gorm"
)

// ProbeErrorType is the class of a probe failure.
type ProbeErrorType int

const (
	// ErrorTypeUnknown is an unclassified failure.
	ErrorTypeUnknown ProbeErrorType = iota
	// ErrorTypeTimeout is a deadline or network timeout.
	ErrorTypeTimeout
	// ErrorTypeConnection means the store could not be reached.
	ErrorTypeConnection
	// ErrorTypeAuth is an access-denied response (MySQL 1044, 1045; redis NOAUTH/WRONGPASS).
	ErrorTypeAuth
	// ErrorTypeSaturated means the store answered but is overloaded
	// (MySQL 1040, 1203, 1205, 1213; redis LOADING/BUSY).
	ErrorTypeSaturated
	// ErrorTypeReadOnly means the store rejects writes (MySQL 1290, 1836; redis READONLY).
	ErrorTypeReadOnly
)

func (t ProbeErrorType) String() string {
	switch t {
	case ErrorTypeTimeout:
		return "timeout"
	case ErrorTypeConnection:
		return "connection"
	case ErrorTypeAuth:
		return "auth"
	case ErrorTypeSaturated:
		return "saturated"
	case ErrorTypeReadOnly:
		return "read_only"
	default:
		return "unknown"
	}
}

// ProbeError wraps a probe failure with its classification.
type ProbeError struct {
	Type         ProbeErrorType
	OriginalErr  error
	MySQLErrCode uint16
	Message      string
}

// Error implements the error interface.
func (e *ProbeError) Error() string {
	if e.MySQLErrCode > 0 {
		return fmt.Sprintf("%s (MySQL error %d): %v", e.Message, e.MySQLErrCode, e.OriginalErr)
	}
	return fmt.Sprintf("%s: %v", e.Message, e.OriginalErr)
}

// Unwrap returns the underlying error.
func (e *ProbeError) Unwrap() error {
	return e.OriginalErr
}

// Degraded reports whether the store is reachable but impaired. Every
// other class means the component is down.
func (e *ProbeError) Degraded() bool {
	return e.Type == ErrorTypeSaturated || e.Type == ErrorTypeReadOnly
}

// ClassifyProbeError classifies an error returned by a database or redis probe.
func ClassifyProbeError(err error) *ProbeError {
	if err == nil {
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return &ProbeError{Type: ErrorTypeTimeout, OriginalErr: err, Message: "probe deadline exceeded"}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &ProbeError{Type: ErrorTypeTimeout, OriginalErr: err, Message: "network timeout"}
	}

	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) {
		return classifyMySQLError(mysqlErr)
	}
	if errors.Is(err, mysql.ErrInvalidConn) || errors.Is(err, gorm.ErrInvalidDB) {
		return &ProbeError{Type: ErrorTypeConnection, OriginalErr: err, Message: "invalid database connection"}
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return &ProbeError{Type: ErrorTypeConnection, OriginalErr: err, Message: "store unreachable"}
	}

	if t, msg, ok := classifyRedisReply(err.Error()); ok {
		return &ProbeError{Type: t, OriginalErr: err, Message: msg}
	}

	if isConnectionError(err.Error()) {
		return &ProbeError{Type: ErrorTypeConnection, OriginalErr: err, Message: "store connection error"}
	}

	return &ProbeError{Type: ErrorTypeUnknown, OriginalErr: err, Message: "probe failed"}
}

func classifyMySQLError(err *mysql.MySQLError) *ProbeError {
	pe := &ProbeError{OriginalErr: err, MySQLErrCode: err.Number}
	switch err.Number {
	case 1044, 1045: // ER_DBACCESS_DENIED_ERROR, ER_ACCESS_DENIED_ERROR
		pe.Type, pe.Message = ErrorTypeAuth, "database access denied"
	case 1040, 1203: // ER_CON_COUNT_ERROR, ER_TOO_MANY_USER_CONNECTIONS
		pe.Type, pe.Message = ErrorTypeSaturated, "too many connections"
	case 1205, 1213: // ER_LOCK_WAIT_TIMEOUT, ER_LOCK_DEADLOCK
		pe.Type, pe.Message = ErrorTypeSaturated, "lock contention"
	case 1290, 1836: // ER_OPTION_PREVENTS_STATEMENT, ER_READ_ONLY_MODE
		pe.Type, pe.Message = ErrorTypeReadOnly, "database is read-only"
	case 1053, 2006, 2013: // ER_SERVER_SHUTDOWN, CR_SERVER_GONE_ERROR, CR_SERVER_LOST
		pe.Type, pe.Message = ErrorTypeConnection, "database server gone"
	default:
		pe.Type, pe.Message = ErrorTypeUnknown, "MySQL error"
	}
	return pe
}

// classifyRedisReply matches the error prefixes redis puts on replies.
func classifyRedisReply(msg string) (ProbeErrorType, string, bool) {
	switch {
	case strings.HasPrefix(msg, "NOAUTH"), strings.HasPrefix(msg, "WRONGPASS"):
		return ErrorTypeAuth, "redis authentication failed", true
	case strings.HasPrefix(msg, "LOADING"):
		return ErrorTypeSaturated, "redis is loading the dataset", true
	case strings.HasPrefix(msg, "BUSY"):
		return ErrorTypeSaturated, "redis is busy running a script", true
	case strings.HasPrefix(msg, "READONLY"):
		return ErrorTypeReadOnly, "redis replica is read-only", true
	case strings.HasPrefix(msg, "MASTERDOWN"):
		return ErrorTypeConnection, "redis master link is down", true
	}
	return ErrorTypeUnknown, "", false
}

func isConnectionError(errMsg string) bool {
	msg := strings.ToLower(errMsg)
	for _, keyword := range []string{
		"connection refused",
		"connection reset",
		"broken pipe",
		"no such host",
		"connection lost",
		"can't connect",
		"dial tcp",
		"client is closed",
		"pool timeout",
	} {
		if strings.Contains(msg, keyword) {
			return true
		}
	}
	return false
}
