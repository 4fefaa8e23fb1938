package log

import (
	"context"
	"math/rand"
	"sync"
	"time"
)

// contextKey 是用于存储 RequestContext 的私有 key 类型
type contextKey string

const requestContextKey contextKey = "serplexity_request_context"

// RequestContext 存储请求追踪信息
// 管理接口和健康检查周期都会注入，日志辅助方法从中读取
type RequestContext struct {
	RequestID string         // 10位短ID，如 mgrn0zfqda
	Operator  string         // 调用管理接口的来源（remote addr 或 X-Operator）
	Operation string         // 路由或周期名，如 "POST /admin/circuits/{name}/open"
	StartTime time.Time      // 请求开始时间
	Metadata  map[string]any // 扩展元数据
}

var (
	randSource = rand.NewSource(time.Now().UnixNano())
	randMutex  sync.Mutex
	// base36 字符集（小写字母 + 数字）
	base36Chars = "0123456789abcdefghijklmnopqrstuvwxyz"
)

// GenerateRequestID 生成10位随机请求ID
func GenerateRequestID() string {
	randMutex.Lock()
	defer randMutex.Unlock()

	b := make([]byte, 10)
	for i := range b {
		b[i] = base36Chars[randSource.Int63()%36]
	}
	return string(b)
}

// WithRequestContext 将 RequestContext 注入到 Context 中
func WithRequestContext(ctx context.Context, requestID, operator, operation string) context.Context {
	reqCtx := &RequestContext{
		RequestID: requestID,
		Operator:  operator,
		Operation: operation,
		StartTime: time.Now(),
		Metadata:  make(map[string]any),
	}
	return context.WithValue(ctx, requestContextKey, reqCtx)
}

// GetRequestContext 从 Context 中提取 RequestContext
// 如果不存在，返回一个默认的空 RequestContext
func GetRequestContext(ctx context.Context) *RequestContext {
	if ctx != nil {
		if reqCtx, ok := ctx.Value(requestContextKey).(*RequestContext); ok {
			return reqCtx
		}
	}
	return &RequestContext{
		RequestID: "unknown",
		Metadata:  make(map[string]any),
	}
}

// GetRequestID 从 Context 中提取 Request ID
func GetRequestID(ctx context.Context) string {
	return GetRequestContext(ctx).RequestID
}

// GetOperator 从 Context 中提取调用方
func GetOperator(ctx context.Context) string {
	return GetRequestContext(ctx).Operator
}

// SetMetadata 设置 RequestContext 的元数据
// 对未注入 RequestContext 的 ctx 无效
func SetMetadata(ctx context.Context, key string, value any) {
	reqCtx := GetRequestContext(ctx)
	if reqCtx.Metadata == nil {
		reqCtx.Metadata = make(map[string]any)
	}
	reqCtx.Metadata[key] = value
}

// GetMetadata 获取 RequestContext 的元数据
func GetMetadata(ctx context.Context, key string) (any, bool) {
	value, ok := GetRequestContext(ctx).Metadata[key]
	return value, ok
}

// GetElapsedTime 获取请求已执行时间（毫秒）
func GetElapsedTime(ctx context.Context) int64 {
	reqCtx := GetRequestContext(ctx)
	if reqCtx.StartTime.IsZero() {
		return 0
	}
	return time.Since(reqCtx.StartTime).Milliseconds()
}
