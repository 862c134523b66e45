package config

import (
	"fmt"
	"time"

	"github.com/goran-ethernal/BlockHarvester/internal/common"
	"github.com/goran-ethernal/BlockHarvester/internal/logger"
	"github.com/goran-ethernal/BlockHarvester/internal/types"
)

// Config represents the complete configuration for the BlockHarvester.
type Config struct {
	// Networks contains one entry per chain to sync
	Networks []NetworkConfig `yaml:"networks" json:"networks" toml:"networks"`

	// Historical contains the historical sync orchestration settings
	Historical HistoricalConfig `yaml:"historical" json:"historical" toml:"historical"`

	// DB contains the sync store database configuration
	DB DatabaseConfig `yaml:"db" json:"db" toml:"db"`

	// Retry contains RPC retry configuration with exponential backoff
	Retry *RetryConfig `yaml:"retry,omitempty" json:"retry,omitempty" toml:"retry,omitempty"`

	// Logging contains logging configuration
	Logging *LoggingConfig `yaml:"logging,omitempty" json:"logging,omitempty" toml:"logging,omitempty"`

	// Metrics contains Prometheus metrics configuration
	Metrics *MetricsConfig `yaml:"metrics,omitempty" json:"metrics,omitempty" toml:"metrics,omitempty"`
}

// NetworkConfig represents a single chain and the event sources declared on it.
type NetworkConfig struct {
	// Name is a unique identifier for this network, used in logs and metrics
	Name string `yaml:"name" json:"name" toml:"name"`

	// ChainID is the numeric chain identifier
	ChainID uint64 `yaml:"chain_id" json:"chain_id" toml:"chain_id"`

	// RPCURL is the Ethereum RPC endpoint URL
	RPCURL string `yaml:"rpc_url" json:"rpc_url" toml:"rpc_url"`

	// RPCRequestsPerSecond caps the request rate against the RPC endpoint
	// (0 = unlimited)
	RPCRequestsPerSecond int `yaml:"rpc_requests_per_second" json:"rpc_requests_per_second" toml:"rpc_requests_per_second"` //nolint:lll

	// DefaultMaxBlockRange is the block span per eth_getLogs call for
	// sources that do not set their own limit
	DefaultMaxBlockRange uint64 `yaml:"default_max_block_range" json:"default_max_block_range" toml:"default_max_block_range"` //nolint:lll

	// Finality is the chain head that caps historical sync ranges:
	// "finalized", "safe", or "latest"
	Finality string `yaml:"finality" json:"finality" toml:"finality"`

	// Sources contains the event sources declared on this network
	Sources SourcesConfig `yaml:"sources" json:"sources" toml:"sources"`
}

// ApplyDefaults sets default values for optional network configuration fields.
func (n *NetworkConfig) ApplyDefaults() {
	if n.DefaultMaxBlockRange == 0 {
		n.DefaultMaxBlockRange = 5000
	}
	if n.Finality == "" {
		n.Finality = types.FinalityFinalized.String()
	}
}

// BlockFinality returns the parsed finality tag for this network.
func (n *NetworkConfig) BlockFinality() (types.BlockFinality, error) {
	return types.ParseBlockFinality(n.Finality)
}

// HistoricalConfig represents the historical sync orchestration settings.
type HistoricalConfig struct {
	// Concurrency is the number of fetch tasks processed in parallel per
	// network
	Concurrency int `yaml:"concurrency" json:"concurrency" toml:"concurrency"`

	// CheckpointDebounce is the minimum spacing between checkpoint
	// emissions (e.g., "500ms")
	CheckpointDebounce common.Duration `yaml:"checkpoint_debounce" json:"checkpoint_debounce" toml:"checkpoint_debounce"` //nolint:lll

	// ProgressLogInterval is how often sync progress is logged
	ProgressLogInterval common.Duration `yaml:"progress_log_interval" json:"progress_log_interval" toml:"progress_log_interval"` //nolint:lll

	// ChildAddressBatchSize is the number of child addresses per
	// eth_getLogs call for factory sources
	ChildAddressBatchSize int `yaml:"child_address_batch_size" json:"child_address_batch_size" toml:"child_address_batch_size"` //nolint:lll
}

// ApplyDefaults sets default values for optional historical sync fields.
func (h *HistoricalConfig) ApplyDefaults() {
	if h.Concurrency == 0 {
		h.Concurrency = 10
	}
	if h.CheckpointDebounce.Duration == 0 {
		h.CheckpointDebounce = common.NewDuration(500 * time.Millisecond) //nolint:mnd
	}
	if h.ProgressLogInterval.Duration == 0 {
		h.ProgressLogInterval = common.NewDuration(10 * time.Second) //nolint:mnd
	}
	if h.ChildAddressBatchSize == 0 {
		h.ChildAddressBatchSize = 500
	}
}

// RetryConfig represents RPC retry configuration with exponential backoff.
type RetryConfig struct {
	// MaxAttempts is the maximum number of attempts (including initial request)
	MaxAttempts int `yaml:"max_attempts" json:"max_attempts" toml:"max_attempts"`

	// InitialBackoff is the initial backoff duration before first retry
	InitialBackoff common.Duration `yaml:"initial_backoff" json:"initial_backoff" toml:"initial_backoff"`

	// MaxBackoff is the maximum backoff duration
	MaxBackoff common.Duration `yaml:"max_backoff" json:"max_backoff" toml:"max_backoff"`

	// BackoffMultiplier is the multiplier for exponential backoff
	BackoffMultiplier float64 `yaml:"backoff_multiplier" json:"backoff_multiplier" toml:"backoff_multiplier"`
}

// ApplyDefaults sets default values for retry configuration.
func (r *RetryConfig) ApplyDefaults() {
	if r.MaxAttempts == 0 {
		r.MaxAttempts = 5
	}
	if r.InitialBackoff.Duration == 0 {
		r.InitialBackoff = common.NewDuration(1 * time.Second)
	}
	if r.MaxBackoff.Duration == 0 {
		r.MaxBackoff = common.NewDuration(30 * time.Second) //nolint:mnd
	}
	if r.BackoffMultiplier == 0 {
		r.BackoffMultiplier = 2.0
	}
}

// DatabaseConfig represents database configuration.
type DatabaseConfig struct {
	// Path is the file path to the SQLite database
	Path string `yaml:"path" json:"path" toml:"path"`

	// JournalMode sets the SQLite journal mode (e.g., "WAL", "DELETE")
	// WAL mode is recommended for better concurrency
	JournalMode string `yaml:"journal_mode" json:"journal_mode" toml:"journal_mode"`

	// Synchronous sets the synchronization level ("FULL", "NORMAL", "OFF")
	// NORMAL provides a good balance between safety and performance
	Synchronous string `yaml:"synchronous" json:"synchronous" toml:"synchronous"`

	// BusyTimeout is the time in milliseconds to wait when the database is locked
	BusyTimeout int `yaml:"busy_timeout" json:"busy_timeout" toml:"busy_timeout"`

	// CacheSize is the size of the page cache (negative = KB, positive = pages)
	CacheSize int `yaml:"cache_size" json:"cache_size" toml:"cache_size"`

	// MaxOpenConnections is the maximum number of open database connections
	MaxOpenConnections int `yaml:"max_open_connections" json:"max_open_connections" toml:"max_open_connections"`

	// MaxIdleConnections is the maximum number of idle connections in the pool
	MaxIdleConnections int `yaml:"max_idle_connections" json:"max_idle_connections" toml:"max_idle_connections"`

	// EnableForeignKeys enables foreign key constraint enforcement
	EnableForeignKeys bool `yaml:"enable_foreign_keys" json:"enable_foreign_keys" toml:"enable_foreign_keys"`
}

// ApplyDefaults sets default values for optional database configuration fields.
func (d *DatabaseConfig) ApplyDefaults() {
	if d.JournalMode == "" {
		d.JournalMode = "WAL"
	}
	if d.Synchronous == "" {
		d.Synchronous = "NORMAL"
	}
	if d.BusyTimeout == 0 {
		d.BusyTimeout = 5000
	}
	if d.CacheSize == 0 {
		d.CacheSize = 10000
	}
	if d.MaxOpenConnections == 0 {
		d.MaxOpenConnections = 25
	}
	if d.MaxIdleConnections == 0 {
		d.MaxIdleConnections = 5
	}
	// EnableForeignKeys defaults to false (zero value)
}

// Validate checks if the database configuration is valid.
func (d *DatabaseConfig) Validate() error {
	if d.Path == "" {
		return fmt.Errorf("path is required")
	}

	switch d.JournalMode {
	case "", "WAL", "DELETE", "TRUNCATE", "PERSIST", "MEMORY":
	default:
		return fmt.Errorf("journal_mode must be one of: WAL, DELETE, TRUNCATE, PERSIST, MEMORY")
	}

	switch d.Synchronous {
	case "", "FULL", "NORMAL", "OFF":
	default:
		return fmt.Errorf("synchronous must be one of: FULL, NORMAL, OFF")
	}

	return nil
}

// LoggingConfig configures logging behavior with per-component log levels.
type LoggingConfig struct {
	// DefaultLevel is the default log level for all components
	// Options: "debug", "info", "warn", "error"
	DefaultLevel string `yaml:"default_level" json:"default_level" toml:"default_level"`

	// Development enables development mode (stack traces, console encoder)
	Development bool `yaml:"development" json:"development" toml:"development"`

	// ComponentLevels sets log levels for specific components
	// Available components:
	//   - historical: Historical sync orchestration
	//   - request-queue: RPC request handling
	//   - sync-store: Sync store persistence
	//   - task-queue: Fetch task scheduling
	ComponentLevels map[string]string `yaml:"component_levels,omitempty" json:"component_levels,omitempty" toml:"component_levels,omitempty"` //nolint:lll
}

// ApplyDefaults sets default values for optional logging configuration fields.
func (l *LoggingConfig) ApplyDefaults() {
	if l.DefaultLevel == "" {
		l.DefaultLevel = "info"
	}
	// Development defaults to false (zero value)
	if l.ComponentLevels == nil {
		l.ComponentLevels = make(map[string]string)
	}
}

// Validate checks if the logging configuration is valid.
func (l *LoggingConfig) Validate() error {
	if l.DefaultLevel != "" {
		if _, valid := logger.ValidLogLevels[common.ToLowerWithTrim(l.DefaultLevel)]; !valid {
			return fmt.Errorf("logging.default_level: must be one of: debug, info, warn, error")
		}
	}

	for component, level := range l.ComponentLevels {
		if _, validComponent := common.AllComponents[common.ToLowerWithTrim(component)]; !validComponent {
			return fmt.Errorf("logging.component_levels: unknown component '%s'", component)
		}

		if _, valid := logger.ValidLogLevels[common.ToLowerWithTrim(level)]; !valid {
			return fmt.Errorf("logging.component_levels[%s]: must be one of: debug, info, warn, error", component)
		}
	}

	return nil
}

// GetComponentLevel returns the log level for a specific component.
// Falls back to DefaultLevel if no component-specific level is set.
func (l *LoggingConfig) GetComponentLevel(component string) string {
	if level, ok := l.ComponentLevels[component]; ok {
		return level
	}
	return common.ToLowerWithTrim(l.DefaultLevel)
}

// GetDefaultLevel returns the default log level.
func (l *LoggingConfig) GetDefaultLevel() string {
	return common.ToLowerWithTrim(l.DefaultLevel)
}

// IsDevelopment returns whether development mode is enabled.
func (l *LoggingConfig) IsDevelopment() bool {
	return l.Development
}

// MetricsConfig configures Prometheus metrics exposition.
type MetricsConfig struct {
	// Enabled controls whether metrics collection and HTTP endpoint are active
	Enabled bool `yaml:"enabled" json:"enabled" toml:"enabled"`

	// ListenAddress is the address to bind the metrics HTTP server to
	// Format: "host:port" or ":port"
	ListenAddress string `yaml:"listen_address" json:"listen_address" toml:"listen_address"`

	// Path is the HTTP path where metrics are exposed
	Path string `yaml:"path" json:"path" toml:"path"`
}

// ApplyDefaults sets default values for optional metrics configuration fields.
func (m *MetricsConfig) ApplyDefaults() {
	if m.ListenAddress == "" {
		m.ListenAddress = ":9090"
	}
	if m.Path == "" {
		m.Path = "/metrics"
	}
	// Enabled defaults to false (zero value)
}

// Validate checks if the metrics configuration is valid.
func (m *MetricsConfig) Validate() error {
	if m.Enabled {
		if m.ListenAddress == "" {
			return fmt.Errorf("listen_address is required when metrics are enabled")
		}
		if m.Path == "" {
			return fmt.Errorf("path is required when metrics are enabled")
		}
		if m.Path[0] != '/' {
			return fmt.Errorf("path must start with '/'")
		}
	}
	return nil
}

// ApplyDefaults sets default values for optional configuration fields.
func (c *Config) ApplyDefaults() {
	for i := range c.Networks {
		c.Networks[i].ApplyDefaults()
	}

	c.Historical.ApplyDefaults()
	c.DB.ApplyDefaults()

	if c.Retry != nil {
		c.Retry.ApplyDefaults()
	}
	if c.Logging != nil {
		c.Logging.ApplyDefaults()
	}
	if c.Metrics != nil {
		c.Metrics.ApplyDefaults()
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if len(c.Networks) == 0 {
		return fmt.Errorf("at least one network must be configured")
	}

	networkNames := make(map[string]bool)
	chainIDs := make(map[uint64]bool)
	for i, network := range c.Networks {
		if network.Name == "" {
			return fmt.Errorf("networks[%d]: name is required", i)
		}
		if networkNames[network.Name] {
			return fmt.Errorf("networks[%d]: duplicate network name '%s'", i, network.Name)
		}
		networkNames[network.Name] = true

		if network.ChainID == 0 {
			return fmt.Errorf("networks[%d] (%s): chain_id is required", i, network.Name)
		}
		if chainIDs[network.ChainID] {
			return fmt.Errorf("networks[%d] (%s): duplicate chain_id %d", i, network.Name, network.ChainID)
		}
		chainIDs[network.ChainID] = true

		if network.RPCURL == "" {
			return fmt.Errorf("networks[%d] (%s): rpc_url is required", i, network.Name)
		}

		if _, err := network.BlockFinality(); err != nil {
			return fmt.Errorf("networks[%d] (%s): %w", i, network.Name, err)
		}

		if err := network.Sources.Validate(); err != nil {
			return fmt.Errorf("networks[%d] (%s): %w", i, network.Name, err)
		}
	}

	if err := c.DB.Validate(); err != nil {
		return fmt.Errorf("db: %w", err)
	}

	if c.Logging != nil {
		if err := c.Logging.Validate(); err != nil {
			return err
		}
	}

	if c.Metrics != nil {
		if err := c.Metrics.Validate(); err != nil {
			return fmt.Errorf("metrics: %w", err)
		}
	}

	return nil
}
