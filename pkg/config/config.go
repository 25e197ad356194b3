package config

import (
	"fmt"
	"time"

	"github.com/chainindexor/blockindexer/internal/types"
)

// Duration wraps time.Duration so it parses uniformly from YAML, JSON, and TOML
// config files, each of which spells durations differently.
type Duration struct {
	time.Duration
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(text), err)
	}
	d.Duration = parsed
	return nil
}

// Config is the root configuration for the block indexer process.
type Config struct {
	Chain       ChainConfig         `yaml:"chain" json:"chain" toml:"chain"`
	DB          DatabaseConfig      `yaml:"db" json:"db" toml:"db"`
	RPC         RPCConfig           `yaml:"rpc" json:"rpc" toml:"rpc"`
	Sync        SyncConfig          `yaml:"sync" json:"sync" toml:"sync"`
	RateLimit   RateLimitConfig     `yaml:"rate_limit" json:"rate_limit" toml:"rate_limit"`
	Retry       RetryConfig         `yaml:"retry" json:"retry" toml:"retry"`
	Breaker     BreakerConfig       `yaml:"circuit_breaker" json:"circuit_breaker" toml:"circuit_breaker"`
	Lock        LockConfig          `yaml:"lock" json:"lock" toml:"lock"`
	Gap         GapConfig           `yaml:"gap" json:"gap" toml:"gap"`
	Shutdown    ShutdownConfig      `yaml:"shutdown" json:"shutdown" toml:"shutdown"`
	Logging     LoggingConfig       `yaml:"logging" json:"logging" toml:"logging"`
	Metrics     MetricsConfig       `yaml:"metrics" json:"metrics" toml:"metrics"`
	API         APIConfig           `yaml:"api" json:"api" toml:"api"`
	Maintenance MaintenanceConfig   `yaml:"maintenance" json:"maintenance" toml:"maintenance"`
	Notify      NotifyConfig        `yaml:"notify" json:"notify" toml:"notify"`
	InstanceID  string              `yaml:"instance_id" json:"instance_id" toml:"instance_id"`
}

// ChainConfig identifies the chain being indexed.
type ChainConfig struct {
	ChainID uint64 `yaml:"chain_id" json:"chain_id" toml:"chain_id"`
}

// DatabaseConfig configures the Postgres connection pool.
type DatabaseConfig struct {
	// DatabaseURL is a postgres:// connection string; required.
	DatabaseURL string `yaml:"database_url" json:"database_url" toml:"database_url"`

	MaxOpenConnections int      `yaml:"max_open_connections" json:"max_open_connections" toml:"max_open_connections"`
	MaxIdleConnections int      `yaml:"max_idle_connections" json:"max_idle_connections" toml:"max_idle_connections"`
	ConnMaxLifetime    Duration `yaml:"conn_max_lifetime" json:"conn_max_lifetime" toml:"conn_max_lifetime"`
}

func (d *DatabaseConfig) ApplyDefaults() {
	if d.MaxOpenConnections == 0 {
		d.MaxOpenConnections = 25
	}
	if d.MaxIdleConnections == 0 {
		d.MaxIdleConnections = 5
	}
	if d.ConnMaxLifetime.Duration == 0 {
		d.ConnMaxLifetime = Duration{30 * time.Minute}
	}
}

// RPCConfig configures the upstream JSON-RPC endpoint pool.
type RPCConfig struct {
	// URLs holds one or more endpoints; the first is primary, the rest failover.
	URLs []string `yaml:"rpc_urls" json:"rpc_urls" toml:"rpc_urls"`

	TimeoutMs uint64 `yaml:"rpc_timeout_ms" json:"rpc_timeout_ms" toml:"rpc_timeout_ms"`

	// Finality selects which tag is used to compute the chain tip: "finalized", "safe", "latest".
	Finality string `yaml:"finality" json:"finality" toml:"finality"`

	// FinalizedLag only applies when Finality is "latest".
	FinalizedLag uint64 `yaml:"finalized_lag" json:"finalized_lag" toml:"finalized_lag"`
}

func (r *RPCConfig) ApplyDefaults() {
	if r.TimeoutMs == 0 {
		r.TimeoutMs = 30000
	}
	if r.Finality == "" {
		r.Finality = string(types.FinalityFinalized)
	}
}

// FinalityMode parses Finality into the typed enum the sync engine consumes.
func (r *RPCConfig) FinalityMode() (types.BlockFinality, error) {
	return types.ParseBlockFinality(r.Finality)
}

// SyncConfig controls the batch synchronization engine.
type SyncConfig struct {
	PollIntervalMs    uint64 `yaml:"poll_interval_ms" json:"poll_interval_ms" toml:"poll_interval_ms"`
	BatchSize         uint64 `yaml:"batch_size" json:"batch_size" toml:"batch_size"`
	Concurrency       int    `yaml:"concurrency" json:"concurrency" toml:"concurrency"`
	ConfirmationDepth uint64 `yaml:"confirmation_depth" json:"confirmation_depth" toml:"confirmation_depth"`
	MaxReorgDepth     uint64 `yaml:"max_reorg_depth" json:"max_reorg_depth" toml:"max_reorg_depth"`

	// AllowDeepReorgs, when true (default), permits a reorg to rewrite blocks at or
	// below ConfirmationDepth as long as its depth stays within MaxReorgDepth.
	// Operators that want confirmed blocks treated as immutable set this false, in
	// which case such a reorg is surfaced as a fatal error instead of being applied.
	// A nil pointer means "unset"; ApplyDefaults resolves it to true.
	AllowDeepReorgs *bool `yaml:"allow_deep_reorgs" json:"allow_deep_reorgs" toml:"allow_deep_reorgs"`

	// CheckpointName identifies the checkpoint record this engine instance advances.
	CheckpointName string `yaml:"checkpoint_name" json:"checkpoint_name" toml:"checkpoint_name"`

	// CheckpointRetention is how many most-recent checkpoints per name are kept.
	CheckpointRetention int `yaml:"checkpoint_retention" json:"checkpoint_retention" toml:"checkpoint_retention"`
}

func (s *SyncConfig) ApplyDefaults() {
	if s.PollIntervalMs == 0 {
		s.PollIntervalMs = 2000
	}
	if s.BatchSize == 0 {
		s.BatchSize = 50
	}
	if s.Concurrency == 0 {
		s.Concurrency = 10
	}
	if s.MaxReorgDepth == 0 {
		s.MaxReorgDepth = 1000
	}
	if s.CheckpointName == "" {
		s.CheckpointName = "default"
	}
	if s.CheckpointRetention == 0 {
		s.CheckpointRetention = 10
	}
}

// RateLimitConfig configures the token-bucket rate limiter guarding RPC calls.
type RateLimitConfig struct {
	TokensPerInterval uint64 `yaml:"rate_limit_tokens" json:"rate_limit_tokens" toml:"rate_limit_tokens"`
	IntervalMs        uint64 `yaml:"rate_limit_interval" json:"rate_limit_interval" toml:"rate_limit_interval"`
	MaxBurstTokens    uint64 `yaml:"rate_limit_burst" json:"rate_limit_burst" toml:"rate_limit_burst"`
}

func (r *RateLimitConfig) ApplyDefaults() {
	if r.TokensPerInterval == 0 {
		r.TokensPerInterval = 10
	}
	if r.IntervalMs == 0 {
		r.IntervalMs = 1000
	}
	if r.MaxBurstTokens == 0 {
		r.MaxBurstTokens = 2 * r.TokensPerInterval
	}
}

// RetryConfig configures per-RPC-call retry with exponential backoff and jitter.
type RetryConfig struct {
	MaxRetries   int     `yaml:"max_retries" json:"max_retries" toml:"max_retries"`
	BaseDelayMs  uint64  `yaml:"retry_delay_ms" json:"retry_delay_ms" toml:"retry_delay_ms"`
	MaxDelayMs   uint64  `yaml:"retry_max_delay_ms" json:"retry_max_delay_ms" toml:"retry_max_delay_ms"`
	JitterFactor float64 `yaml:"retry_jitter_factor" json:"retry_jitter_factor" toml:"retry_jitter_factor"`
}

func (r *RetryConfig) ApplyDefaults() {
	if r.MaxRetries == 0 {
		r.MaxRetries = 5
	}
	if r.BaseDelayMs == 0 {
		r.BaseDelayMs = 100
	}
	if r.MaxDelayMs == 0 {
		r.MaxDelayMs = 10000
	}
	if r.JitterFactor == 0 {
		r.JitterFactor = 0.5
	}
}

// BreakerConfig configures the circuit breaker wrapping RPC calls.
type BreakerConfig struct {
	FailureThreshold uint32 `yaml:"failure_threshold" json:"failure_threshold" toml:"failure_threshold"`
	ResetTimeoutMs   uint64 `yaml:"reset_timeout_ms" json:"reset_timeout_ms" toml:"reset_timeout_ms"`
	HalfOpenMaxCalls uint32 `yaml:"half_open_max_calls" json:"half_open_max_calls" toml:"half_open_max_calls"`
}

func (b *BreakerConfig) ApplyDefaults() {
	if b.FailureThreshold == 0 {
		b.FailureThreshold = 5
	}
	if b.ResetTimeoutMs == 0 {
		b.ResetTimeoutMs = 60000
	}
	if b.HalfOpenMaxCalls == 0 {
		b.HalfOpenMaxCalls = 3
	}
}

// LockConfig configures the distributed advisory lock.
type LockConfig struct {
	Name          string   `yaml:"name" json:"name" toml:"name"`
	LeaseDuration Duration `yaml:"lease_duration" json:"lease_duration" toml:"lease_duration"`
	SweepInterval Duration `yaml:"sweep_interval" json:"sweep_interval" toml:"sweep_interval"`
}

func (l *LockConfig) ApplyDefaults() {
	if l.Name == "" {
		l.Name = "blockindexer-sync"
	}
	if l.LeaseDuration.Duration == 0 {
		l.LeaseDuration = Duration{5 * time.Minute}
	}
	if l.SweepInterval.Duration == 0 {
		l.SweepInterval = Duration{1 * time.Minute}
	}
}

// GapConfig configures the gap detector and repair loop.
type GapConfig struct {
	CheckInterval   Duration `yaml:"check_interval" json:"check_interval" toml:"check_interval"`
	RetentionPeriod Duration `yaml:"retention_period" json:"retention_period" toml:"retention_period"`
	MaxRetries      int      `yaml:"max_retries" json:"max_retries" toml:"max_retries"`
}

func (g *GapConfig) ApplyDefaults() {
	if g.CheckInterval.Duration == 0 {
		g.CheckInterval = Duration{5 * time.Minute}
	}
	if g.RetentionPeriod.Duration == 0 {
		g.RetentionPeriod = Duration{7 * 24 * time.Hour}
	}
	if g.MaxRetries == 0 {
		g.MaxRetries = 10
	}
}

// ShutdownConfig configures the graceful shutdown sequencer.
type ShutdownConfig struct {
	DrainGracePeriod Duration `yaml:"drain_grace_period" json:"drain_grace_period" toml:"drain_grace_period"`
}

func (s *ShutdownConfig) ApplyDefaults() {
	if s.DrainGracePeriod.Duration == 0 {
		s.DrainGracePeriod = Duration{1 * time.Second}
	}
}

// LoggingConfig configures the zap-backed structured logger.
type LoggingConfig struct {
	Level       string `yaml:"log_level" json:"log_level" toml:"log_level"`
	Development bool   `yaml:"development" json:"development" toml:"development"`
}

func (l *LoggingConfig) ApplyDefaults() {
	if l.Level == "" {
		l.Level = "info"
	}
}

// MetricsConfig configures the Prometheus metrics HTTP exporter.
type MetricsConfig struct {
	Enabled       bool   `yaml:"enabled" json:"enabled" toml:"enabled"`
	ListenAddress string `yaml:"listen_address" json:"listen_address" toml:"listen_address"`
	Path          string `yaml:"path" json:"path" toml:"path"`
}

func (m *MetricsConfig) ApplyDefaults() {
	if m.ListenAddress == "" {
		m.ListenAddress = ":9090"
	}
	if m.Path == "" {
		m.Path = "/metrics"
	}
}

// CORSConfig configures cross-origin access to the health/status API.
type CORSConfig struct {
	Enabled        bool     `yaml:"enabled" json:"enabled" toml:"enabled"`
	AllowedOrigins []string `yaml:"allowed_origins" json:"allowed_origins" toml:"allowed_origins"`
}

// APIConfig configures the health/status HTTP surface.
type APIConfig struct {
	Enabled       bool       `yaml:"enabled" json:"enabled" toml:"enabled"`
	ListenAddress string     `yaml:"health_check_port" json:"health_check_port" toml:"health_check_port"`
	ReadTimeout   Duration   `yaml:"read_timeout" json:"read_timeout" toml:"read_timeout"`
	WriteTimeout  Duration   `yaml:"write_timeout" json:"write_timeout" toml:"write_timeout"`
	IdleTimeout   Duration   `yaml:"idle_timeout" json:"idle_timeout" toml:"idle_timeout"`
	CORS          CORSConfig `yaml:"cors" json:"cors" toml:"cors"`
}

func (a *APIConfig) ApplyDefaults() {
	if a.ListenAddress == "" {
		a.ListenAddress = ":8080"
	}
	if a.ReadTimeout.Duration == 0 {
		a.ReadTimeout = Duration{10 * time.Second}
	}
	if a.WriteTimeout.Duration == 0 {
		a.WriteTimeout = Duration{10 * time.Second}
	}
	if a.IdleTimeout.Duration == 0 {
		a.IdleTimeout = Duration{60 * time.Second}
	}
}

// MaintenanceConfig controls the periodic Postgres maintenance coordinator.
type MaintenanceConfig struct {
	Enabled       bool     `yaml:"enabled" json:"enabled" toml:"enabled"`
	CheckInterval Duration `yaml:"check_interval" json:"check_interval" toml:"check_interval"`
	RunOnStartup  bool     `yaml:"run_on_startup" json:"run_on_startup" toml:"run_on_startup"`
}

func (m *MaintenanceConfig) ApplyDefaults() {
	if m.CheckInterval.Duration == 0 {
		m.CheckInterval = Duration{1 * time.Hour}
	}
}

// NotifyConfig controls the optional NATS lifecycle-event publisher.
type NotifyConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled" toml:"enabled"`
	URL     string `yaml:"url" json:"url" toml:"url"`
	Subject string `yaml:"subject" json:"subject" toml:"subject"`
}

func (n *NotifyConfig) ApplyDefaults() {
	if n.Subject == "" {
		n.Subject = "blockindexer.events"
	}
}

// ApplyDefaults fills in every optional field across the configuration tree.
func (c *Config) ApplyDefaults() {
	c.DB.ApplyDefaults()
	c.RPC.ApplyDefaults()
	c.Sync.ApplyDefaults()
	c.RateLimit.ApplyDefaults()
	c.Retry.ApplyDefaults()
	c.Breaker.ApplyDefaults()
	c.Lock.ApplyDefaults()
	c.Gap.ApplyDefaults()
	c.Shutdown.ApplyDefaults()
	c.Logging.ApplyDefaults()
	c.Metrics.ApplyDefaults()
	c.API.ApplyDefaults()
	c.Maintenance.ApplyDefaults()
	c.Notify.ApplyDefaults()
	if c.Sync.AllowDeepReorgs == nil {
		allow := true
		c.Sync.AllowDeepReorgs = &allow
	}
}

// AllowsDeepReorgs reports the effective allow-deep-reorgs setting, defaulting
// to true when ApplyDefaults has not yet been called.
func (s *SyncConfig) AllowsDeepReorgs() bool {
	return s.AllowDeepReorgs == nil || *s.AllowDeepReorgs
}

// Validate checks the configuration for required fields and valid enum values.
func (c *Config) Validate() error {
	if c.DB.DatabaseURL == "" {
		return fmt.Errorf("db.database_url is required")
	}
	if len(c.RPC.URLs) == 0 {
		return fmt.Errorf("rpc.rpc_urls must contain at least one endpoint")
	}
	if _, err := c.RPC.FinalityMode(); err != nil {
		return fmt.Errorf("rpc.finality: %w", err)
	}
	if c.Sync.Concurrency <= 0 {
		return fmt.Errorf("sync.concurrency must be positive")
	}
	if c.Sync.BatchSize == 0 {
		return fmt.Errorf("sync.batch_size must be positive")
	}
	if c.RateLimit.TokensPerInterval == 0 {
		return fmt.Errorf("rate_limit.rate_limit_tokens must be positive")
	}
	if c.RateLimit.IntervalMs == 0 {
		return fmt.Errorf("rate_limit.rate_limit_interval must be positive")
	}
	if c.Chain.ChainID == 0 {
		return fmt.Errorf("chain.chain_id is required")
	}
	return nil
}
