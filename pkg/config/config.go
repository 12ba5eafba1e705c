// Package config loads planesync settings from flags, PLANESYNC_* environment
// variables and an optional YAML file.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/viper"

	"github.com/cuemby/planesync/pkg/log"
	"github.com/cuemby/planesync/pkg/persister"
	"github.com/cuemby/planesync/pkg/serializer"
)

// EnvPrefix is prepended to every environment variable, with dots in keys
// replaced by underscores: store.driver is read from PLANESYNC_STORE_DRIVER.
const EnvPrefix = "PLANESYNC"

// Store drivers
const (
	DriverBolt   = "bolt"
	DriverFile   = "file"
	DriverMemory = "memory"
)

// Config keys
const (
	KeyNodeID                = "node_id"
	KeyNodeURI               = "node_uri"
	KeyNodePriority          = "node_priority"
	KeyStoreDriver           = "store.driver"
	KeyStorePath             = "store.path"
	KeyStoreRoot             = "store.root"
	KeySyncWriteTimeout      = "sync_write_timeout"
	KeyShutdownTimeout       = "shutdown_timeout"
	KeyHeartbeatInterval     = "heartbeat_interval"
	KeyPreferRecordTimestamp = "prefer_record_timestamp"
	KeyClaimMaster           = "claim_master"
	KeySerializerMaxAttempts = "serializer.max_attempts"
	KeyLogLevel              = "log.level"
	KeyLogJSON               = "log.json"
	KeyMetricsAddr           = "metrics.addr"
)

// ErrInvalidConfig is wrapped by every Validate failure
var ErrInvalidConfig = errors.New("invalid configuration")

// Config is the complete planesync configuration
type Config struct {
	NodeID   string `mapstructure:"node_id"`
	NodeURI  string `mapstructure:"node_uri"`
	Priority int    `mapstructure:"node_priority"`

	Store StoreConfig `mapstructure:"store"`

	SyncWriteTimeout      time.Duration `mapstructure:"sync_write_timeout"`
	ShutdownTimeout       time.Duration `mapstructure:"shutdown_timeout"`
	HeartbeatInterval     time.Duration `mapstructure:"heartbeat_interval"`
	PreferRecordTimestamp bool          `mapstructure:"prefer_record_timestamp"`
	ClaimMaster           bool          `mapstructure:"claim_master"`

	Serializer SerializerConfig `mapstructure:"serializer"`
	Log        LogConfig        `mapstructure:"log"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
}

// StoreConfig selects and locates the object store
type StoreConfig struct {
	Driver string `mapstructure:"driver"`
	// Path is the data directory for bolt and the base directory for file
	Path string `mapstructure:"path"`
	// Root prefixes every key in a bolt store, so several planes can share one file
	Root string `mapstructure:"root"`
}

// SerializerConfig tunes record encoding
type SerializerConfig struct {
	MaxAttempts int `mapstructure:"max_attempts"`
}

// LogConfig configures pkg/log
type LogConfig struct {
	Level string `mapstructure:"level"`
	JSON  bool   `mapstructure:"json"`
}

// MetricsConfig configures the HTTP endpoint for metrics and health
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// SetDefaults registers the default value of every key on v. Keys without a
// default are not picked up from the environment by Unmarshal.
func SetDefaults(v *viper.Viper) {
	v.SetDefault(KeyNodeID, "")
	v.SetDefault(KeyNodeURI, "")
	v.SetDefault(KeyNodePriority, 0)
	v.SetDefault(KeyStoreDriver, DriverBolt)
	v.SetDefault(KeyStorePath, "./planesync-data")
	v.SetDefault(KeyStoreRoot, "")
	v.SetDefault(KeySyncWriteTimeout, persister.DefaultSyncWriteTimeout)
	v.SetDefault(KeyShutdownTimeout, persister.DefaultShutdownTimeout)
	v.SetDefault(KeyHeartbeatInterval, 5*time.Second)
	v.SetDefault(KeyPreferRecordTimestamp, false)
	v.SetDefault(KeyClaimMaster, false)
	v.SetDefault(KeySerializerMaxAttempts, serializer.DefaultMaxAttempts)
	v.SetDefault(KeyLogLevel, string(log.InfoLevel))
	v.SetDefault(KeyLogJSON, false)
	v.SetDefault(KeyMetricsAddr, "127.0.0.1:9090")
}

// Load reads the configuration from v. When path is set the YAML file is
// merged below flags and environment variables. A missing node id is replaced
// with a random one.
func Load(v *viper.Viper, path string) (*Config, error) {
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode configuration: %w", err)
	}

	cfg.NodeID = strings.TrimSpace(cfg.NodeID)
	if cfg.NodeID == "" {
		cfg.NodeID = uuid.New().String()
	}
	return cfg, nil
}

// Validate checks the configuration for values the persister cannot run with
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case DriverBolt, DriverFile:
		if c.Store.Path == "" {
			return fmt.Errorf("%w: store.path is required for the %s driver", ErrInvalidConfig, c.Store.Driver)
		}
	case DriverMemory:
	default:
		return fmt.Errorf("%w: unknown store driver %q (want bolt, file or memory)", ErrInvalidConfig, c.Store.Driver)
	}

	if c.SyncWriteTimeout <= 0 {
		return fmt.Errorf("%w: sync_write_timeout must be positive", ErrInvalidConfig)
	}
	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("%w: shutdown_timeout must be positive", ErrInvalidConfig)
	}
	if c.HeartbeatInterval <= 0 {
		return fmt.Errorf("%w: heartbeat_interval must be positive", ErrInvalidConfig)
	}
	if c.Serializer.MaxAttempts < 1 {
		return fmt.Errorf("%w: serializer.max_attempts must be at least 1", ErrInvalidConfig)
	}
	if err := persister.ValidateNodeID(c.NodeID); err != nil {
		return fmt.Errorf("%w: node_id: %v", ErrInvalidConfig, err)
	}
	if _, err := log.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

// LoggerConfig returns the pkg/log settings
func (c *Config) LoggerConfig() log.Config {
	level, _ := log.ParseLevel(c.Log.Level)
	return log.Config{Level: level, JSONOutput: c.Log.JSON}
}

// PersisterConfig returns the persister settings
func (c *Config) PersisterConfig() persister.Config {
	cfg := persister.DefaultConfig()
	cfg.SyncWriteTimeout = c.SyncWriteTimeout
	cfg.ShutdownTimeout = c.ShutdownTimeout
	cfg.PreferRecordTimestamp = c.PreferRecordTimestamp
	cfg.Serializer = serializer.New(nil, serializer.WithMaxAttempts(c.Serializer.MaxAttempts))
	return cfg
}
