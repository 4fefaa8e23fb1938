package service

import (
	"context"
	"strconv"

	"github.com/go-kratos/kratos/v2/errors"
	"github.com/go-kratos/kratos/v2/transport/http"
)

// Operation names used by middleware and logs.
const (
	OperationGetSystemHealth    = "/admin/health"
	OperationTriggerHealthCheck = "/admin/health/check"
	OperationHealthHistory      = "/admin/health/history"
	OperationAcknowledgeAlert   = "/admin/alerts/ack"
	OperationListCircuits       = "/admin/circuits"
	OperationCircuitAction      = "/admin/circuits/action"
	OperationForceRecovery      = "/admin/circuits/recover"
	OperationJobs               = "/admin/jobs"
)

type circuitActionRequest struct {
	Name   string
	Action CircuitAction
}

// RegisterAdminHTTPServer mounts the admin routes on srv. Handlers run
// through the server middleware chain like generated bindings do.
func RegisterAdminHTTPServer(srv *http.Server, s *AdminService) {
	r := srv.Route("/admin")
	r.GET("/health", adminGetSystemHealthHandler(s))
	r.POST("/health/check", adminTriggerHealthCheckHandler(s))
	r.GET("/health/history", adminHistoryHandler(s))
	r.POST("/alerts/{id}/ack", adminAcknowledgeAlertHandler(s))
	r.GET("/circuits", adminListCircuitsHandler(s))
	r.POST("/circuits/recover", adminForceRecoveryHandler(s))
	r.POST("/circuits/{name}/{action}", adminCircuitActionHandler(s))
	r.GET("/jobs", adminJobsHandler(s))
}

func adminGetSystemHealthHandler(s *AdminService) func(ctx http.Context) error {
	return func(ctx http.Context) error {
		http.SetOperation(ctx, OperationGetSystemHealth)
		h := ctx.Middleware(func(ctx context.Context, _ interface{}) (interface{}, error) {
			return s.GetSystemHealth(ctx)
		})
		out, err := h(ctx, nil)
		if err != nil {
			return err
		}
		return ctx.Result(200, out)
	}
}

func adminTriggerHealthCheckHandler(s *AdminService) func(ctx http.Context) error {
	return func(ctx http.Context) error {
		http.SetOperation(ctx, OperationTriggerHealthCheck)
		h := ctx.Middleware(func(ctx context.Context, _ interface{}) (interface{}, error) {
			return s.TriggerHealthCheck(ctx)
		})
		out, err := h(ctx, nil)
		if err != nil {
			return err
		}
		return ctx.Result(200, out)
	}
}

func adminHistoryHandler(s *AdminService) func(ctx http.Context) error {
	return func(ctx http.Context) error {
		var limit int64
		if raw := ctx.Query().Get("limit"); raw != "" {
			n, err := strconv.ParseInt(raw, 10, 64)
			if err != nil {
				return errors.BadRequest("INVALID_LIMIT", "limit must be an integer")
			}
			limit = n
		}

		http.SetOperation(ctx, OperationHealthHistory)
		h := ctx.Middleware(func(ctx context.Context, req interface{}) (interface{}, error) {
			return s.History(ctx, req.(int64))
		})
		out, err := h(ctx, limit)
		if err != nil {
			return err
		}
		return ctx.Result(200, out)
	}
}

func adminAcknowledgeAlertHandler(s *AdminService) func(ctx http.Context) error {
	return func(ctx http.Context) error {
		id := ctx.Vars().Get("id")

		http.SetOperation(ctx, OperationAcknowledgeAlert)
		h := ctx.Middleware(func(ctx context.Context, req interface{}) (interface{}, error) {
			return s.AcknowledgeAlert(ctx, req.(string))
		})
		out, err := h(ctx, id)
		if err != nil {
			return err
		}
		return ctx.Result(200, out)
	}
}

func adminListCircuitsHandler(s *AdminService) func(ctx http.Context) error {
	return func(ctx http.Context) error {
		http.SetOperation(ctx, OperationListCircuits)
		h := ctx.Middleware(func(ctx context.Context, _ interface{}) (interface{}, error) {
			return s.ListCircuits(ctx)
		})
		out, err := h(ctx, nil)
		if err != nil {
			return err
		}
		return ctx.Result(200, out)
	}
}

func adminCircuitActionHandler(s *AdminService) func(ctx http.Context) error {
	return func(ctx http.Context) error {
		in := &circuitActionRequest{
			Name:   ctx.Vars().Get("name"),
			Action: CircuitAction(ctx.Vars().Get("action")),
		}

		http.SetOperation(ctx, OperationCircuitAction)
		h := ctx.Middleware(func(ctx context.Context, req interface{}) (interface{}, error) {
			r := req.(*circuitActionRequest)
			return s.ApplyCircuitAction(ctx, r.Name, r.Action)
		})
		out, err := h(ctx, in)
		if err != nil {
			return err
		}
		return ctx.Result(200, out)
	}
}

func adminForceRecoveryHandler(s *AdminService) func(ctx http.Context) error {
	return func(ctx http.Context) error {
		http.SetOperation(ctx, OperationForceRecovery)
		h := ctx.Middleware(func(ctx context.Context, _ interface{}) (interface{}, error) {
			return s.ForceRecovery(ctx)
		})
		out, err := h(ctx, nil)
		if err != nil {
			return err
		}
		return ctx.Result(200, out)
	}
}

func adminJobsHandler(s *AdminService) func(ctx http.Context) error {
	return func(ctx http.Context) error {
		http.SetOperation(ctx, OperationJobs)
		h := ctx.Middleware(func(ctx context.Context, _ interface{}) (interface{}, error) {
			return s.Jobs(ctx)
		})
		out, err := h(ctx, nil)
		if err != nil {
			return err
		}
		return ctx.Result(200, out)
	}
}
