package log

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGenerateRequestID(t *testing.T) {
	seen := make(map[string]struct{})
	for i := 0; i < 100; i++ {
		id := GenerateRequestID()
		assert.Len(t, id, 10)
		seen[id] = struct{}{}
	}
	assert.Greater(t, len(seen), 95)
}

func TestRequestContext(t *testing.T) {
	ctx := WithRequestContext(context.Background(), "req-1", "ops", "POST /admin/circuits/recover")

	assert.Equal(t, "req-1", GetRequestID(ctx))
	assert.Equal(t, "ops", GetOperator(ctx))
	assert.Equal(t, "POST /admin/circuits/recover", GetRequestContext(ctx).Operation)

	SetMetadata(ctx, "circuit", "agent-analysis")
	v, ok := GetMetadata(ctx, "circuit")
	assert.True(t, ok)
	assert.Equal(t, "agent-analysis", v)
	assert.GreaterOrEqual(t, GetElapsedTime(ctx), int64(0))
}

func TestRequestContext_Missing(t *testing.T) {
	assert.Equal(t, "unknown", GetRequestID(context.Background()))
	assert.Equal(t, "", GetOperator(context.Background()))

	_, ok := GetMetadata(context.Background(), "circuit")
	assert.False(t, ok)
	assert.Equal(t, int64(0), GetElapsedTime(context.Background()))
}
