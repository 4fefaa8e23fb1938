//go:build wireinject
// +build wireinject

// The build tag makes sure the stub is not built in the final build.

package main

import (
	"github.com/destuar/Serplexity-sub003/internal/biz"
	"github.com/destuar/Serplexity-sub003/internal/conf"
	"github.com/destuar/Serplexity-sub003/internal/data"
	"github.com/destuar/Serplexity-sub003/internal/server"
	"github.com/destuar/Serplexity-sub003/internal/service"
	"github.com/destuar/Serplexity-sub003/pkg/agent"
	"github.com/destuar/Serplexity-sub003/pkg/metrics"
	"github.com/destuar/Serplexity-sub003/pkg/schedule"

	"github.com/go-kratos/kratos/v2"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/wire"
)

// wireApp init kratos application.
func wireApp(*conf.Server, *conf.Data, *conf.Agent, *conf.Resilience, *conf.Monitor, *conf.Health, log.Logger) (*kratos.App, func(), error) {
	panic(wire.Build(
		data.ProviderSet,
		biz.ProviderSet,
		service.ProviderSet,
		server.ProviderSet,
		metrics.New,
		schedule.New,
		agent.NewClient,
		newApp,
	))
}
