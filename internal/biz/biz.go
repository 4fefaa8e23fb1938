// Package biz contains the resilience and health orchestration logic.
package biz

import (
	"github.com/destuar/Serplexity-sub003/internal/data"
	"github.com/destuar/Serplexity-sub003/pkg/agent"

	"github.com/google/wire"
)

// ProviderSet is biz providers.
var ProviderSet = wire.NewSet(
	NewCircuitBreakerRegistry,
	NewResilientExecutor,
	NewResourceMonitor,
	NewAgentUsecase,
	NewCircuitEventBridge,
	NewHealthProbes,
	NewHealthAggregator,
	// Bind data layer implementations to biz layer interfaces
	wire.Bind(new(HealthRepo), new(*data.HealthStore)),
	wire.Bind(new(MemorySampler), new(*data.ProcessSampler)),
	wire.Bind(new(CircuitEventNotifier), new(*data.AuditLogWriter)),
	wire.Bind(new(AuditLogger), new(*data.AuditLogWriter)),
	wire.Bind(new(AgentInvoker), new(*agent.Client)),
)

// NewHealthProbes assembles the probe set polled by the aggregator.
func NewHealthProbes(
	db *data.DatabaseProbe,
	cache *data.CacheProbe,
	queue *data.QueueProbe,
	agentUC *AgentUsecase,
	monitor *ResourceMonitor,
	executor *ResilientExecutor,
) HealthProbes {
	return HealthProbes{db, cache, queue, agentUC, monitor, executor}
}
