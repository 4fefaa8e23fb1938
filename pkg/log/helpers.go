package log

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-kratos/kratos/v2/log"
)

// SlowRequestThresholdMs 超过该耗时的管理请求额外记录一条慢请求警告
const SlowRequestThresholdMs = 1000

// LogHelper 扩展 Kratos log.Helper，提供便捷的日志方法
// 通过在日志调用时自动添加 "type" 字段，触发 EmojiConsoleEncoder 的表情符号映射
type LogHelper struct {
	*log.Helper
}

// NewLogHelper 创建增强的日志辅助器
func NewLogHelper(logger log.Logger) *LogHelper {
	return &LogHelper{
		Helper: log.NewHelper(logger),
	}
}

func withType(msg, logType string, kvs []any) []any {
	allKvs := make([]any, 0, len(kvs)+4)
	allKvs = append(allKvs, "msg", msg)
	allKvs = append(allKvs, kvs...)
	return append(allKvs, "type", logType)
}

// API 记录管理接口日志（表情符号: 🔗）
func (h *LogHelper) API(msg string, kvs ...any) {
	h.Infow(withType(msg, "api", kvs)...)
}

// Request 记录 HTTP 请求日志（表情符号根据状态码）
func (h *LogHelper) Request(method, url string, status int, durationMs int64, kvs ...any) {
	msg := fmt.Sprintf("%s %s - %d (%dms)", method, url, status, durationMs)
	kvs = append(kvs, "method", method, "url", url, "status", status, "duration_ms", durationMs)
	h.Infow(withType(msg, "request", kvs)...)
}

// Success 记录成功操作日志（表情符号: ✅）
func (h *LogHelper) Success(msg string, kvs ...any) {
	h.Infow(withType(msg, "success", kvs)...)
}

// Database 记录数据库探测日志（表情符号: 💾）
func (h *LogHelper) Database(msg string, kvs ...any) {
	h.Debugw(withType(msg, "database", kvs)...)
}

// Redis 记录 Redis 操作日志（表情符号: 📦）
func (h *LogHelper) Redis(msg string, kvs ...any) {
	h.Debugw(withType(msg, "redis", kvs)...)
}

// Scheduler 记录调度器相关日志（表情符号: 🎯）
func (h *LogHelper) Scheduler(msg string, kvs ...any) {
	h.Infow(withType(msg, "scheduler", kvs)...)
}

// Startup 记录启动相关日志（表情符号: 🚀）
func (h *LogHelper) Startup(msg string, kvs ...any) {
	h.Infow(withType(msg, "startup", kvs)...)
}

// Security 记录安全相关日志（表情符号: 🔒）
func (h *LogHelper) Security(msg string, kvs ...any) {
	h.Warnw(withType(msg, "security", kvs)...)
}

// Circuit 记录熔断器状态变化（表情符号按 to 状态: 🟥 open, 🟨 half_open, 🟩 closed）
func (h *LogHelper) Circuit(name, from, to string, kvs ...any) {
	msg := fmt.Sprintf("circuit %s: %s -> %s", name, from, to)
	state := strings.ToLower(to)
	kvs = append(kvs, "circuit", name, "from", from, "state", state)
	if state == "open" {
		h.Warnw(withType(msg, "circuit", kvs)...)
		return
	}
	h.Infow(withType(msg, "circuit", kvs)...)
}

// Health 记录一次健康聚合结果（表情符号按 health 字段）
func (h *LogHelper) Health(cycleID, overall string, durationMs int64, kvs ...any) {
	msg := fmt.Sprintf("health cycle %s: %s (%s)", cycleID, overall, formatDuration(durationMs))
	kvs = append(kvs, "cycle_id", cycleID, "health", overall, "duration_ms", durationMs)
	h.Infow(withType(msg, "health", kvs)...)
}

// Alert 记录告警（表情符号: 🚨 critical, 🔔 warning）
func (h *LogHelper) Alert(id, severity, message string, kvs ...any) {
	kvs = append(kvs, "alert_id", id, "severity", severity)
	logType := "alert"
	if severity == "critical" {
		logType = "alert_critical"
		h.Errorw(withType(message, logType, kvs)...)
		return
	}
	h.Warnw(withType(message, logType, kvs)...)
}

// Resource 记录资源使用日志（表情符号: 🧠）
func (h *LogHelper) Resource(jobID string, memoryMB float64, kvs ...any) {
	msg := fmt.Sprintf("job %s using %.1fMB", jobID, memoryMB)
	kvs = append(kvs, "job_id", jobID, "memory_mb", memoryMB)
	h.Infow(withType(msg, "resource", kvs)...)
}

// Agent 记录 agent 调用日志（表情符号: 🤖）
func (h *LogHelper) Agent(operation string, durationMs int64, kvs ...any) {
	msg := fmt.Sprintf("agent %s (%s)", operation, formatDuration(durationMs))
	kvs = append(kvs, "operation", operation, "duration_ms", durationMs)
	h.Infow(withType(msg, "agent", kvs)...)
}

// ========== Context-Aware 日志方法 ==========
// 以下方法自动从 Context 提取 Request ID 和调用方

// SlowRequest 记录慢请求警告（表情符号: 🐌）
func (h *LogHelper) SlowRequest(ctx context.Context, method, url string, duration, threshold int64, kvs ...any) {
	reqCtx := GetRequestContext(ctx)
	msg := fmt.Sprintf("[%s] Slow request detected | %s %s | %dms (threshold: %dms)",
		reqCtx.RequestID, method, url, duration, threshold)
	kvs = append(kvs,
		"request_id", reqCtx.RequestID,
		"operator", reqCtx.Operator,
		"method", method,
		"url", url,
		"duration_ms", duration,
		"threshold_ms", threshold,
	)
	h.Warnw(withType(msg, "slow_request", kvs)...)
}

// RequestWithContext 记录带 Context 的 HTTP 请求日志并检测慢请求
func (h *LogHelper) RequestWithContext(ctx context.Context, method, url string, status int, durationMs int64, kvs ...any) {
	reqCtx := GetRequestContext(ctx)
	msg := fmt.Sprintf("%s %s - %d (%dms) | RequestID: %s", method, url, status, durationMs, reqCtx.RequestID)
	kvs = append(kvs,
		"request_id", reqCtx.RequestID,
		"operator", reqCtx.Operator,
		"method", method,
		"url", url,
		"status", status,
		"duration_ms", durationMs,
	)
	h.Infow(withType(msg, "request", kvs)...)

	if durationMs > SlowRequestThresholdMs {
		h.SlowRequest(ctx, method, url, durationMs, SlowRequestThresholdMs)
	}
}

// ErrorCount 记录错误计数（表情符号: ⚠️）
func (h *LogHelper) ErrorCount(ctx context.Context, errorType string, count int64, kvs ...any) {
	reqCtx := GetRequestContext(ctx)
	msg := fmt.Sprintf("[%s] Error count - Type: %s, Count: %d", reqCtx.RequestID, errorType, count)
	kvs = append(kvs, "request_id", reqCtx.RequestID, "error_type", errorType, "count", count)
	h.Warnw(withType(msg, "error_count", kvs)...)
}

// APIWithContext 记录带 Context 的管理接口日志
func (h *LogHelper) APIWithContext(ctx context.Context, msg string, kvs ...any) {
	reqCtx := GetRequestContext(ctx)
	kvs = append(kvs, "request_id", reqCtx.RequestID, "operator", reqCtx.Operator)
	h.Infow(withType(fmt.Sprintf("[%s] %s", reqCtx.RequestID, msg), "api", kvs)...)
}
