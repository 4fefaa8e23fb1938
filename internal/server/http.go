package server

import (
	"github.com/destuar/Serplexity-sub003/internal/conf"
	"github.com/destuar/Serplexity-sub003/internal/server/middleware"
	"github.com/destuar/Serplexity-sub003/internal/service"
	pkglog "github.com/destuar/Serplexity-sub003/pkg/log"
	"github.com/destuar/Serplexity-sub003/pkg/metrics"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/go-kratos/kratos/v2/middleware/recovery"
	"github.com/go-kratos/kratos/v2/transport/http"
)

// MetricsPath exposes the prometheus registry. It sits outside the
// middleware chain, so the admin token does not apply.
const MetricsPath = "/metrics"

// NewHTTPServer new an HTTP server.
func NewHTTPServer(c *conf.Server, admin *service.AdminService, m *metrics.Metrics, logger log.Logger) *http.Server {
	// 创建增强的日志辅助器
	logHelper := pkglog.NewLogHelper(logger)

	var token string
	var opts []http.ServerOption
	if c != nil && c.HTTP != nil {
		token = c.HTTP.AdminToken
		if c.HTTP.Network != "" {
			opts = append(opts, http.Network(c.HTTP.Network))
		}
		if c.HTTP.Addr != "" {
			opts = append(opts, http.Address(c.HTTP.Addr))
		}
		if c.HTTP.Timeout > 0 {
			opts = append(opts, http.Timeout(c.HTTP.Timeout))
		}
	}
	opts = append(opts, http.Middleware(
		recovery.Recovery(),
		middleware.Logging(logHelper),          // 请求日志中间件：记录请求方法、路径、耗时
		middleware.AdminAuth(token, logHelper), // 管理令牌校验，拒绝也会被上面记录为 401
	))
	if token == "" {
		logHelper.Security("admin token not configured, /admin routes are unauthenticated")
	}

	srv := http.NewServer(opts...)
	srv.Handle(MetricsPath, m.Handler())

	service.RegisterAdminHTTPServer(srv, admin)

	return srv
}
