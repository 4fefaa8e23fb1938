// Package middleware provides HTTP middleware for admin authentication and request logging.
package middleware

import (
	"context"
	"crypto/subtle"
	"strings"

	pkglog "github.com/destuar/Serplexity-sub003/pkg/log"

	"github.com/go-kratos/kratos/v2/errors"
	"github.com/go-kratos/kratos/v2/middleware"
	"github.com/go-kratos/kratos/v2/transport"
	"github.com/go-kratos/kratos/v2/transport/http"
)

// ReasonUnauthorized is returned when the admin token is missing or wrong.
const ReasonUnauthorized = "ADMIN_UNAUTHORIZED"

// AdminTokenHeader is accepted in place of an Authorization bearer token.
const AdminTokenHeader = "X-Admin-Token"

// AdminAuth 返回管理接口认证中间件
// token 为空时不做校验（本地开发）；否则要求 "Authorization: Bearer <token>" 或 X-Admin-Token
//
// 日志输出示例:
//
//	🔒 admin token rejected | {"type":"security","operation":"/admin/circuits/action","ip":"10.0.0.7"}
func AdminAuth(token string, logger *pkglog.LogHelper) middleware.Middleware {
	return func(handler middleware.Handler) middleware.Handler {
		if token == "" {
			return handler
		}
		return func(ctx context.Context, req interface{}) (interface{}, error) {
			var (
				presented string
				operation string
				ip        string
			)
			if tr, ok := transport.FromServerContext(ctx); ok {
				operation = tr.Operation()
				if ht, ok := tr.(http.Transporter); ok {
					presented = extractToken(ht.Request())
					ip = extractClientIP(ht.Request())
				}
			}

			if presented == "" || subtle.ConstantTimeCompare([]byte(presented), []byte(token)) != 1 {
				logger.Security("admin token rejected",
					"operation", operation,
					"ip", ip,
					"request_id", pkglog.GetRequestID(ctx),
					"token_present", presented != "",
				)
				return nil, errors.Unauthorized(ReasonUnauthorized, "missing or invalid admin token")
			}
			return handler(ctx, req)
		}
	}
}

// extractToken 优先读取 Authorization: Bearer，其次 X-Admin-Token
func extractToken(req *http.Request) string {
	if authHeader := req.Header.Get("Authorization"); authHeader != "" {
		if t := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer ")); t != authHeader {
			return t
		}
	}
	return strings.TrimSpace(req.Header.Get(AdminTokenHeader))
}
