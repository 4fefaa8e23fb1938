// Package conf provides configuration management using Viper.
// It supports loading configuration from YAML files and environment variables.
package conf

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// NewBootstrap creates and initializes a Bootstrap configuration.
// It loads configuration from the specified config file path, applies defaults,
// and allows overrides from environment variables prefixed with SERPLEXITY_.
//
// Configuration priority: Environment variables > Config file > Defaults
//
// Required settings:
//   - REDIS_ADDR or SERPLEXITY_DATA_REDIS_ADDR: shared store for health snapshots
//
// Optional settings with well-known aliases:
//   - DATABASE_URL: MySQL DSN probed by the database health check
//   - AGENT_BASE_URL: base URL of the agent process
func NewBootstrap(configPath string) (*Bootstrap, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("SERPLEXITY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	_ = v.BindEnv("data.database.source", "DATABASE_URL", "SERPLEXITY_DATA_DATABASE_SOURCE")
	_ = v.BindEnv("data.redis.addr", "REDIS_ADDR", "SERPLEXITY_DATA_REDIS_ADDR")
	_ = v.BindEnv("data.redis.password", "REDIS_PASSWORD", "SERPLEXITY_DATA_REDIS_PASSWORD")
	_ = v.BindEnv("agent.base_url", "AGENT_BASE_URL", "SERPLEXITY_AGENT_BASE_URL")

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
		}
	}

	resilience, err := loadResilience(v)
	if err != nil {
		return nil, err
	}

	bc := &Bootstrap{
		Server: &Server{
			HTTP: &HTTP{
				Network: v.GetString("server.http.network"),
				Addr:    v.GetString("server.http.addr"),
				Timeout: v.GetDuration("server.http.timeout"),

				AdminToken: v.GetString("server.http.admin_token"),
			},
		},
		Data: &Data{
			Database: &Database{
				Driver:     v.GetString("data.database.driver"),
				Source:     v.GetString("data.database.source"),
				ProbeQuery: v.GetString("data.database.probe_query"),
			},
			Redis: &Redis{
				Network:      v.GetString("data.redis.network"),
				Addr:         v.GetString("data.redis.addr"),
				Password:     v.GetString("data.redis.password"),
				DB:           v.GetInt("data.redis.db"),
				ReadTimeout:  v.GetDuration("data.redis.read_timeout"),
				WriteTimeout: v.GetDuration("data.redis.write_timeout"),
			},
			Queue: &Queue{
				ListKeys:         v.GetStringSlice("data.queue.list_keys"),
				DelayedKeys:      v.GetStringSlice("data.queue.delayed_keys"),
				BacklogDegraded:  v.GetInt64("data.queue.backlog_degraded"),
				BacklogUnhealthy: v.GetInt64("data.queue.backlog_unhealthy"),
			},
		},
		Agent: &Agent{
			BaseURL:     v.GetString("agent.base_url"),
			ProxyURL:    v.GetString("agent.proxy_url"),
			Timeout:     v.GetDuration("agent.timeout"),
			HealthPath:  v.GetString("agent.health_path"),
			InvokePath:  v.GetString("agent.invoke_path"),
			MaxAttempts: v.GetInt("agent.max_attempts"),
		},
		Resilience: resilience,
		Monitor: &Monitor{
			PollInterval:     v.GetDuration("monitor.poll_interval"),
			MaxMemoryMB:      v.GetFloat64("monitor.max_memory_mb"),
			MaxExecutionTime: v.GetDuration("monitor.max_execution_time"),
			WarningRatio:     v.GetFloat64("monitor.warning_ratio"),
			HistorySize:      v.GetInt("monitor.history_size"),
		},
		Health: &Health{
			Enabled:        v.GetBool("health.enabled"),
			Interval:       v.GetDuration("health.interval"),
			ProbeTimeout:   v.GetDuration("health.probe_timeout"),
			SnapshotKey:    v.GetString("health.snapshot_key"),
			SnapshotTTL:    v.GetDuration("health.snapshot_ttl"),
			HistoryKey:     v.GetString("health.history_key"),
			HistoryMaxLen:  v.GetInt64("health.history_max_len"),
			ErrorRateAlert: v.GetFloat64("health.error_rate_alert"),
			MemoryWarning:  v.GetFloat64("health.memory_warning"),
			MemoryCritical: v.GetFloat64("health.memory_critical"),
		},
		Log: &Log{
			Level:      v.GetString("log.level"),
			Format:     v.GetString("log.format"),
			Env:        v.GetString("log.env"),
			OutputFile: v.GetString("log.output_file"),
		},
	}

	if err := Validate(bc); err != nil {
		return nil, err
	}

	return bc, nil
}

func loadResilience(v *viper.Viper) (*Resilience, error) {
	r := &Resilience{
		Default: &Circuit{
			FailureThreshold: v.GetInt("resilience.default.failure_threshold"),
			RecoveryTimeout:  v.GetDuration("resilience.default.recovery_timeout"),
			MonitoringWindow: v.GetDuration("resilience.default.monitoring_window"),
			SuccessThreshold: v.GetInt("resilience.default.success_threshold"),
			CallTimeout:      v.GetDuration("resilience.default.call_timeout"),
		},
		Categories: v.GetStringMapString("resilience.categories"),
	}

	if v.IsSet("resilience.circuits") {
		if err := v.UnmarshalKey("resilience.circuits", &r.Circuits); err != nil {
			return nil, fmt.Errorf("failed to parse resilience.circuits: %w", err)
		}
	}
	return r, nil
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.http.network", "tcp")
	v.SetDefault("server.http.addr", ":8080")
	v.SetDefault("server.http.timeout", 30*time.Second)

	v.SetDefault("data.database.driver", "mysql")
	v.SetDefault("data.database.probe_query", "SELECT 1")

	v.SetDefault("data.redis.network", "tcp")
	v.SetDefault("data.redis.addr", "127.0.0.1:6379")
	v.SetDefault("data.redis.db", 0)
	v.SetDefault("data.redis.read_timeout", 200*time.Millisecond)
	v.SetDefault("data.redis.write_timeout", 200*time.Millisecond)

	v.SetDefault("data.queue.list_keys", []string{"queue:reports:pending"})
	v.SetDefault("data.queue.delayed_keys", []string{"queue:reports:delayed"})
	v.SetDefault("data.queue.backlog_degraded", 500)
	v.SetDefault("data.queue.backlog_unhealthy", 5000)

	v.SetDefault("agent.base_url", "http://127.0.0.1:8000")
	v.SetDefault("agent.timeout", 60*time.Second)
	v.SetDefault("agent.max_attempts", 1)
	v.SetDefault("agent.health_path", "/health")
	v.SetDefault("agent.invoke_path", "/v1/invoke")

	v.SetDefault("resilience.default.failure_threshold", 5)
	v.SetDefault("resilience.default.recovery_timeout", 60*time.Second)
	v.SetDefault("resilience.default.monitoring_window", 5*time.Minute)
	v.SetDefault("resilience.default.success_threshold", 3)
	v.SetDefault("resilience.default.call_timeout", 30*time.Second)
	v.SetDefault("resilience.categories", map[string]string{
		"analysis":       "agent-analysis",
		"generation":     "agent-generation",
		"scraping":       "agent-scraper",
		"secret_refresh": "secret-refresh",
	})

	v.SetDefault("monitor.poll_interval", 10*time.Second)
	v.SetDefault("monitor.max_memory_mb", 1024)
	v.SetDefault("monitor.max_execution_time", 30*time.Minute)
	v.SetDefault("monitor.warning_ratio", 0.8)
	v.SetDefault("monitor.history_size", 128)

	v.SetDefault("health.enabled", true)
	v.SetDefault("health.interval", 30*time.Second)
	v.SetDefault("health.probe_timeout", 5*time.Second)
	v.SetDefault("health.snapshot_key", "system:health")
	v.SetDefault("health.snapshot_ttl", 2*time.Minute)
	v.SetDefault("health.history_key", "system:health:history")
	v.SetDefault("health.history_max_len", 100)
	v.SetDefault("health.error_rate_alert", 10.0)
	v.SetDefault("health.memory_warning", 85.0)
	v.SetDefault("health.memory_critical", 95.0)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

// Validate checks that all required configuration fields are present and valid.
// It returns an error listing every problem found.
func Validate(bc *Bootstrap) error {
	var problems []string

	if bc.Data == nil || bc.Data.Redis == nil || bc.Data.Redis.Addr == "" {
		problems = append(problems, "data.redis.addr (REDIS_ADDR) is required")
	}

	if bc.Monitor == nil || bc.Monitor.PollInterval <= 0 {
		problems = append(problems, "monitor.poll_interval must be positive")
	}

	if bc.Health == nil {
		problems = append(problems, "health section is required")
	} else {
		if bc.Health.Interval <= 0 {
			problems = append(problems, "health.interval must be positive")
		}
		if bc.Health.SnapshotTTL <= 0 {
			problems = append(problems, "health.snapshot_ttl must be positive")
		}
		if bc.Health.HistoryMaxLen < 1 {
			problems = append(problems, "health.history_max_len must be at least 1")
		}
	}

	if bc.Resilience == nil || bc.Resilience.Default == nil || bc.Resilience.Default.FailureThreshold < 1 {
		problems = append(problems, "resilience.default.failure_threshold must be at least 1")
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, ", "))
	}

	return nil
}
