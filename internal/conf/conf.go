package conf

import "time"

// Bootstrap is the root configuration of the service.
type Bootstrap struct {
	Server     *Server
	Data       *Data
	Agent      *Agent
	Resilience *Resilience
	Monitor    *Monitor
	Health     *Health
	Log        *Log
}

// Server holds transport settings.
type Server struct {
	HTTP *HTTP
}

// HTTP is the admin HTTP listener.
type HTTP struct {
	Network string
	Addr    string
	Timeout time.Duration
	// AdminToken protects /admin routes when set. Empty disables the check.
	AdminToken string
}

// Data holds the backing stores probed and written by the health layer.
type Data struct {
	Database *Database
	Redis    *Redis
	Queue    *Queue
}

// Database is the MySQL connection used for reachability probes.
type Database struct {
	Driver     string
	Source     string
	ProbeQuery string
}

// Redis is the shared store for health snapshots and the cache probe target.
type Redis struct {
	Network      string
	Addr         string
	Password     string
	DB           int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Queue describes the redis-backed job queues whose backlog is probed.
type Queue struct {
	// ListKeys are pending-job lists measured with LLEN.
	ListKeys []string
	// DelayedKeys are sorted sets of scheduled jobs measured with ZCARD.
	DelayedKeys      []string
	BacklogDegraded  int64
	BacklogUnhealthy int64
}

// Agent is the external agent process reached over HTTP.
type Agent struct {
	BaseURL    string
	ProxyURL   string
	Timeout    time.Duration
	HealthPath string
	InvokePath string
	// MaxAttempts bounds retries of transient failures inside one call.
	MaxAttempts int
}

// Circuit mirrors the circuit breaker tuning knobs. Zero fields inherit
// from the defaults they are merged into.
type Circuit struct {
	FailureThreshold int           `mapstructure:"failure_threshold"`
	RecoveryTimeout  time.Duration `mapstructure:"recovery_timeout"`
	MonitoringWindow time.Duration `mapstructure:"monitoring_window"`
	SuccessThreshold int           `mapstructure:"success_threshold"`
	CallTimeout      time.Duration `mapstructure:"call_timeout"`
}

// Resilience configures the circuit registry and the executor's category map.
type Resilience struct {
	Default *Circuit
	// Circuits overrides tuning per circuit name.
	Circuits map[string]*Circuit
	// Categories maps a logical operation category to a circuit name.
	Categories map[string]string
}

// Monitor configures per-job resource budgets.
type Monitor struct {
	PollInterval     time.Duration
	MaxMemoryMB      float64
	MaxExecutionTime time.Duration
	// WarningRatio is the fraction of a limit at which warnings start.
	WarningRatio float64
	HistorySize  int
}

// Health configures the aggregator loop and its persistence.
type Health struct {
	Enabled        bool
	Interval       time.Duration
	ProbeTimeout   time.Duration
	SnapshotKey    string
	SnapshotTTL    time.Duration
	HistoryKey     string
	HistoryMaxLen  int64
	ErrorRateAlert float64
	MemoryWarning  float64
	MemoryCritical float64
}

// Log configures the zap logger.
type Log struct {
	Level      string
	Format     string
	Env        string
	OutputFile string
}
