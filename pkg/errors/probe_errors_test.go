package errors

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"

	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"gorm.io/gorm"
)

func TestClassifyProbeError_Nil(t *testing.T) {
	assert.Nil(t, ClassifyProbeError(nil))
}

func TestClassifyProbeError_MySQL(t *testing.T) {
	tests := []struct {
		name     string
		code     uint16
		expected ProbeErrorType
		degraded bool
	}{
		{"access denied (1045)", 1045, ErrorTypeAuth, false},
		{"too many connections (1040)", 1040, ErrorTypeSaturated, true},
		{"lock wait timeout (1205)", 1205, ErrorTypeSaturated, true},
		{"deadlock (1213)", 1213, ErrorTypeSaturated, true},
		{"read only (1290)", 1290, ErrorTypeReadOnly, true},
		{"server gone (2006)", 2006, ErrorTypeConnection, false},
		{"duplicate entry (1062)", 1062, ErrorTypeUnknown, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pe := ClassifyProbeError(&mysql.MySQLError{Number: tt.code, Message: "boom"})
			assert.Equal(t, tt.expected, pe.Type)
			assert.Equal(t, tt.code, pe.MySQLErrCode)
			assert.Equal(t, tt.degraded, pe.Degraded())
			assert.Contains(t, pe.Error(), fmt.Sprintf("MySQL error %d", tt.code))
		})
	}
}

func TestClassifyProbeError_Timeout(t *testing.T) {
	pe := ClassifyProbeError(fmt.Errorf("ping: %w", context.DeadlineExceeded))
	assert.Equal(t, ErrorTypeTimeout, pe.Type)
	assert.True(t, errors.Is(pe, context.DeadlineExceeded))
}

func TestClassifyProbeError_Connection(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"invalid conn", mysql.ErrInvalidConn},
		{"invalid gorm db", gorm.ErrInvalidDB},
		{"net op error", &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("refused")}},
		{"refused message", errors.New("dial tcp 127.0.0.1:3306: connect: connection refused")},
		{"closed client", errors.New("redis: client is closed")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pe := ClassifyProbeError(tt.err)
			assert.Equal(t, ErrorTypeConnection, pe.Type)
			assert.False(t, pe.Degraded())
		})
	}
}

func TestClassifyProbeError_RedisReplies(t *testing.T) {
	tests := []struct {
		reply    string
		expected ProbeErrorType
	}{
		{"NOAUTH Authentication required.", ErrorTypeAuth},
		{"WRONGPASS invalid username-password pair", ErrorTypeAuth},
		{"LOADING Redis is loading the dataset in memory", ErrorTypeSaturated},
		{"BUSY Redis is busy running a script", ErrorTypeSaturated},
		{"READONLY You can't write against a read only replica.", ErrorTypeReadOnly},
		{"MASTERDOWN Link with MASTER is down", ErrorTypeConnection},
	}

	for _, tt := range tests {
		t.Run(tt.expected.String(), func(t *testing.T) {
			assert.Equal(t, tt.expected, ClassifyProbeError(errors.New(tt.reply)).Type)
		})
	}
}

func TestClassifyProbeError_Unknown(t *testing.T) {
	pe := ClassifyProbeError(errors.New("something odd"))
	assert.Equal(t, ErrorTypeUnknown, pe.Type)
	assert.Equal(t, "unknown", pe.Type.String())
	assert.Equal(t, "probe failed: something odd", pe.Error())
}
