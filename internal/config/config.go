package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config is the root configuration object. Field names map to the
// dotted keys enumerated in spec.md §6.4.
type Config struct {
	Root      RootConfig
	Pool      PoolConfig
	Task      TaskConfig
	Breaker   BreakerConfig
	Retry     RetryConfig
	Budget    BudgetConfig
	Gates     GatesConfig
	Consensus ConsensusConfig
	Recovery  RecoveryConfig
	Server    ServerConfig
	Auth      AuthConfig
	Metrics   MetricsConfig
	LogLevel  string
}

// RootConfig locates the filesystem layout described in spec.md §6.1.
type RootConfig struct {
	Dir string
}

func (r RootConfig) TasksDir() string     { return r.Dir + "/tasks" }
func (r RootConfig) QueueDir() string     { return r.Dir + "/tasks/queue" }
func (r RootConfig) RunningDir() string   { return r.Dir + "/tasks/running" }
func (r RootConfig) ReviewDir() string    { return r.Dir + "/tasks/review" }
func (r RootConfig) CompletedDir() string { return r.Dir + "/tasks/completed" }
func (r RootConfig) RejectedDir() string  { return r.Dir + "/tasks/rejected" }
func (r RootConfig) StateDir() string     { return r.Dir + "/state" }
func (r RootConfig) StoreFile() string    { return r.Dir + "/state/store.db" }
func (r RootConfig) LocksDir() string     { return r.Dir + "/state/locks" }
func (r RootConfig) CostsDir() string     { return r.Dir + "/state/costs" }
func (r RootConfig) LogsDir() string      { return r.Dir + "/logs" }
func (r RootConfig) EventLogFile() string { return r.Dir + "/logs/events.log" }

// PoolConfig governs the Worker Pool (C10).
type PoolConfig struct {
	Size            int
	MinPoll         time.Duration
	MaxPoll         time.Duration
	ShutdownGrace   time.Duration
	QueuePollPeriod time.Duration
}

// TaskConfig governs task-wide retry ceilings and per-type timeouts.
type TaskConfig struct {
	MaxRetries          int
	MaxRejectionRetries int
	TimeoutShort        time.Duration // LINT, FORMAT, REVIEW_CODE
	TimeoutDefault      time.Duration // IMPLEMENTATION, BUGFIX, GENERAL, RESEARCH, DESIGN
	TimeoutLong         time.Duration // TEST_SUITE, SECURITY_AUDIT, COVERAGE
	HeartbeatGrace      time.Duration
	HeartbeatInterval   time.Duration
}

// BreakerConfig governs the Circuit Breaker (C4).
type BreakerConfig struct {
	FailureThreshold int
	CooldownSeconds  int
}

// RetryConfig governs Retry & Fallback backoff (C8).
type RetryConfig struct {
	BaseSeconds   float64
	MaxSeconds    float64
	JitterPct     float64
	FallbackChain []string
}

// BudgetConfig governs the Budget Watchdog (C6).
type BudgetConfig struct {
	SoftPausePerMin float64
	KillPerMin      float64
	WatchdogTick    time.Duration
	DrainTimeout    time.Duration
}

// GatesConfig governs the Quality Gate Engine (C11).
type GatesConfig struct {
	CoverageThresholdPct int
	MissingToolPolicy    string
}

// ConsensusConfig governs the Consensus Engine (C12).
type ConsensusConfig struct {
	QuorumK int
	Mode    string
	Weights map[string]float64
}

// RecoveryConfig governs the recovery sweeper (part of C15).
type RecoveryConfig struct {
	StaleTimeout  time.Duration
	ZombieTimeout time.Duration
	SweepInterval time.Duration
}

// ServerConfig governs the admin/observability HTTP API (§6.6).
type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	RateLimitRPS int
}

// AuthConfig governs the admin API's auth middleware.
type AuthConfig struct {
	Enabled   bool
	JWTSecret string
	APIKeys   []string
}

// MetricsConfig governs Prometheus metrics exposition.
type MetricsConfig struct {
	Enabled bool
	Path    string
}

// Load reads configuration from ./config.yaml (or /etc/orchestrator),
// environment variables prefixed ORCHESTRATOR_, and built-in defaults.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/orchestrator")

	setDefaults(v)

	v.SetEnvPrefix("ORCHESTRATOR")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("root.dir", "./orchestrator-data")

	v.SetDefault("pool.size", 3)
	v.SetDefault("pool.minpoll", 500*time.Millisecond)
	v.SetDefault("pool.maxpoll", 5*time.Second)
	v.SetDefault("pool.shutdowngrace", 30*time.Second)
	v.SetDefault("pool.queuepollperiod", 5*time.Second)

	v.SetDefault("task.maxretries", 3)
	v.SetDefault("task.maxrejectionretries", 2)
	v.SetDefault("task.timeoutshort", 300*time.Second)
	v.SetDefault("task.timeoutdefault", 900*time.Second)
	v.SetDefault("task.timeoutlong", 1800*time.Second)
	v.SetDefault("task.heartbeatgrace", 15*time.Second)
	v.SetDefault("task.heartbeatinterval", 10*time.Second)

	v.SetDefault("breaker.failurethreshold", 5)
	v.SetDefault("breaker.cooldownseconds", 60)

	v.SetDefault("retry.baseseconds", 5.0)
	v.SetDefault("retry.maxseconds", 300.0)
	v.SetDefault("retry.jitterpct", 0.20)
	v.SetDefault("retry.fallbackchain", []string{"claude", "codex", "gemini"})

	v.SetDefault("budget.softpauseperminute", 0.50)
	v.SetDefault("budget.killperminute", 1.00)
	v.SetDefault("budget.watchdogtick", 30*time.Second)
	v.SetDefault("budget.draintimeout", 20*time.Second)

	v.SetDefault("gates.coveragethresholdpct", 80)
	v.SetDefault("gates.missingtoolpolicy", "skip_non_blocking_fail_blocking")

	v.SetDefault("consensus.quorumk", 2)
	v.SetDefault("consensus.mode", "quorum")
	v.SetDefault("consensus.weights", map[string]interface{}{})

	v.SetDefault("recovery.staletimeout", 10*time.Minute)
	v.SetDefault("recovery.zombietimeout", 20*time.Minute)
	v.SetDefault("recovery.sweepinterval", 30*time.Second)

	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 8081)
	v.SetDefault("server.readtimeout", 15*time.Second)
	v.SetDefault("server.writetimeout", 15*time.Second)
	v.SetDefault("server.idletimeout", 60*time.Second)
	v.SetDefault("server.ratelimitrps", 50)

	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.jwtsecret", "")
	v.SetDefault("auth.apikeys", []string{})

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")

	v.SetDefault("loglevel", "info")
}
