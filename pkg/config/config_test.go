package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/planesync/pkg/log"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(viper.New(), "")
	require.NoError(t, err)

	assert.NotEmpty(t, cfg.NodeID, "a node id is generated when none is configured")
	assert.Equal(t, DriverBolt, cfg.Store.Driver)
	assert.Equal(t, 10*time.Second, cfg.SyncWriteTimeout)
	assert.Equal(t, 5*time.Second, cfg.ShutdownTimeout)
	assert.Equal(t, 5*time.Second, cfg.HeartbeatInterval)
	assert.Equal(t, 3, cfg.Serializer.MaxAttempts)
	assert.False(t, cfg.ClaimMaster)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_GeneratedNodeIDsDiffer(t *testing.T) {
	a, err := Load(viper.New(), "")
	require.NoError(t, err)
	b, err := Load(viper.New(), "")
	require.NoError(t, err)
	assert.NotEqual(t, a.NodeID, b.NodeID)
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "planesync.yaml")
	content := `node_id: node-1
node_uri: https://node-1:8443
claim_master: true
store:
  driver: file
  path: /shared/plane
sync_write_timeout: 3s
heartbeat_interval: 500ms
serializer:
  max_attempts: 5
log:
  level: debug
  json: true
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(viper.New(), path)
	require.NoError(t, err)

	assert.Equal(t, "node-1", cfg.NodeID)
	assert.Equal(t, "https://node-1:8443", cfg.NodeURI)
	assert.True(t, cfg.ClaimMaster)
	assert.Equal(t, StoreConfig{Driver: DriverFile, Path: "/shared/plane"}, cfg.Store)
	assert.Equal(t, 3*time.Second, cfg.SyncWriteTimeout)
	assert.Equal(t, 500*time.Millisecond, cfg.HeartbeatInterval)
	assert.Equal(t, 5, cfg.Serializer.MaxAttempts)
	assert.Equal(t, log.Config{Level: log.DebugLevel, JSONOutput: true}, cfg.LoggerConfig())
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(viper.New(), filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "planesync.yaml")
	require.NoError(t, os.WriteFile(path, []byte("store:\n  driver: file\n  path: /from/file\n"), 0o600))

	t.Setenv("PLANESYNC_STORE_DRIVER", "memory")
	t.Setenv("PLANESYNC_SHUTDOWN_TIMEOUT", "750ms")
	t.Setenv("PLANESYNC_NODE_ID", "  node-env ")

	cfg, err := Load(viper.New(), path)
	require.NoError(t, err)

	assert.Equal(t, DriverMemory, cfg.Store.Driver)
	assert.Equal(t, "/from/file", cfg.Store.Path)
	assert.Equal(t, 750*time.Millisecond, cfg.ShutdownTimeout)
	assert.Equal(t, "node-env", cfg.NodeID)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{name: "defaults", mutate: func(c *Config) {}},
		{name: "memory without path", mutate: func(c *Config) { c.Store = StoreConfig{Driver: DriverMemory} }},
		{name: "unknown driver", mutate: func(c *Config) { c.Store.Driver = "s3" }, wantErr: true},
		{name: "file without path", mutate: func(c *Config) { c.Store = StoreConfig{Driver: DriverFile} }, wantErr: true},
		{name: "zero sync timeout", mutate: func(c *Config) { c.SyncWriteTimeout = 0 }, wantErr: true},
		{name: "negative shutdown timeout", mutate: func(c *Config) { c.ShutdownTimeout = -time.Second }, wantErr: true},
		{name: "zero heartbeat", mutate: func(c *Config) { c.HeartbeatInterval = 0 }, wantErr: true},
		{name: "zero attempts", mutate: func(c *Config) { c.Serializer.MaxAttempts = 0 }, wantErr: true},
		{name: "slash in node id", mutate: func(c *Config) { c.NodeID = "a/b" }, wantErr: true},
		{name: "dot-prefixed node id", mutate: func(c *Config) { c.NodeID = ".hidden" }, wantErr: true},
		{name: "bad log level", mutate: func(c *Config) { c.Log.Level = "loud" }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load(viper.New(), "")
			require.NoError(t, err)
			tt.mutate(cfg)

			err = cfg.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidConfig)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestPersisterConfig(t *testing.T) {
	cfg, err := Load(viper.New(), "")
	require.NoError(t, err)
	cfg.SyncWriteTimeout = time.Second
	cfg.ShutdownTimeout = 2 * time.Second
	cfg.PreferRecordTimestamp = true

	pcfg := cfg.PersisterConfig()
	assert.Equal(t, time.Second, pcfg.SyncWriteTimeout)
	assert.Equal(t, 2*time.Second, pcfg.ShutdownTimeout)
	assert.True(t, pcfg.PreferRecordTimestamp)
	assert.NotNil(t, pcfg.Serializer)
}
