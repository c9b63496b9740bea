package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eventfold/eventfold/internal/config"
)

func TestDefaultConfig(t *testing.T) {
	cfg := config.DefaultConfig()

	assert.NotNil(t, cfg)

	// App defaults
	assert.Equal(t, config.AppModeReal, cfg.App.Mode)
	assert.Equal(t, "eventfold", cfg.App.Name)
	assert.Equal(t, "development", cfg.App.Environment)
	assert.Equal(t, config.DefaultShutdownTimeout, cfg.App.ShutdownTimeout)

	// MongoDB defaults
	assert.Equal(t, "mongodb://localhost:27017", cfg.MongoDB.URI)
	assert.Equal(t, "eventfold", cfg.MongoDB.Database)
	assert.Equal(t, config.DefaultMongoDBTimeout, cfg.MongoDB.Timeout)
	assert.Equal(t, uint64(config.DefaultMongoDBMaxPoolSize), cfg.MongoDB.MaxPoolSize)

	// Redis defaults
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Empty(t, cfg.Redis.Password)
	assert.Equal(t, 0, cfg.Redis.DB)
	assert.Equal(t, config.DefaultRedisPoolSize, cfg.Redis.PoolSize)

	// EventStore defaults
	assert.Equal(t, "events", cfg.EventStore.EventsCollection)
	assert.Equal(t, "snapshots", cfg.EventStore.SnapshotsCollection)
	assert.Equal(t, config.DefaultSnapshotThreshold, cfg.EventStore.SnapshotThreshold)

	// EventBus defaults
	assert.Equal(t, "events:", cfg.EventBus.RedisChannelPrefix)
	assert.Equal(t, "events:dead_letter", cfg.EventBus.DeadLetterQueueKey)

	// Outbox defaults
	assert.True(t, cfg.Outbox.Enabled)
	assert.Equal(t, "outbox", cfg.Outbox.Collection)
	assert.Equal(t, config.DefaultOutboxPollInterval, cfg.Outbox.PollInterval)
	assert.Equal(t, config.DefaultOutboxBatchSize, cfg.Outbox.BatchSize)
	assert.Equal(t, config.DefaultOutboxMaxRetries, cfg.Outbox.MaxRetries)

	// Log defaults
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestConfig_Validate_Valid(t *testing.T) {
	cfg := config.DefaultConfig()
	err := cfg.Validate()
	assert.NoError(t, err)
}

func TestConfig_Validate_MissingRequiredFields(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*config.Config)
		errMsg string
	}{
		{
			name: "missing mongodb uri",
			modify: func(c *config.Config) {
				c.MongoDB.URI = ""
			},
			errMsg: "mongodb.uri is required",
		},
		{
			name: "missing mongodb database",
			modify: func(c *config.Config) {
				c.MongoDB.Database = ""
			},
			errMsg: "mongodb.database is required",
		},
		{
			name: "missing redis addr",
			modify: func(c *config.Config) {
				c.Redis.Addr = ""
			},
			errMsg: "redis.addr is required",
		},
		{
			name: "missing events collection",
			modify: func(c *config.Config) {
				c.EventStore.EventsCollection = ""
			},
			errMsg: "eventstore.events_collection is required",
		},
		{
			name: "missing snapshots collection",
			modify: func(c *config.Config) {
				c.EventStore.SnapshotsCollection = ""
			},
			errMsg: "eventstore.snapshots_collection is required",
		},
		{
			name: "missing outbox collection",
			modify: func(c *config.Config) {
				c.Outbox.Collection = ""
			},
			errMsg: "outbox.collection is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.DefaultConfig()
			tt.modify(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestConfig_Validate_OutboxSettings(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*config.Config)
		errMsg string
	}{
		{
			name: "zero poll interval",
			modify: func(c *config.Config) {
				c.Outbox.PollInterval = 0
			},
			errMsg: "outbox.poll_interval must be positive",
		},
		{
			name: "negative batch size",
			modify: func(c *config.Config) {
				c.Outbox.BatchSize = -1
			},
			errMsg: "outbox.batch_size must be positive",
		},
		{
			name: "zero max retries",
			modify: func(c *config.Config) {
				c.Outbox.MaxRetries = 0
			},
			errMsg: "outbox.max_retries must be positive",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.DefaultConfig()
			tt.modify(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestConfig_Validate_DisabledOutboxSkipsChecks(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Outbox.Enabled = false
	cfg.Outbox.PollInterval = 0
	cfg.Outbox.BatchSize = 0

	assert.NoError(t, cfg.Validate())
}

func TestConfig_Validate_NegativeSnapshotThreshold(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.EventStore.SnapshotThreshold = -1
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "eventstore.snapshot_threshold")
}

func TestConfig_Validate_InvalidLogLevel(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Log.Level = "invalid"
	err := cfg.Validate()
	require.Error(t, err)
	assert.ErrorIs(t, err, config.ErrConfigInvalid)
}

func TestConfig_Validate_InvalidLogFormat(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Log.Format = "xml"
	err := cfg.Validate()
	require.Error(t, err)
	assert.ErrorIs(t, err, config.ErrConfigInvalid)
}

func TestConfig_Validate_InvalidAppMode(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.App.Mode = "mock"
	err := cfg.Validate()
	require.Error(t, err)
	assert.ErrorIs(t, err, config.ErrInvalidAppMode)
}

func TestConfig_Validate_InMemoryModeInProduction(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.App.Mode = config.AppModeInMemory
	cfg.App.Environment = "production"
	err := cfg.Validate()
	require.Error(t, err)
	assert.ErrorIs(t, err, config.ErrInMemoryModeInProd)
}

func TestConfig_Validate_ValidLogLevels(t *testing.T) {
	validLevels := []string{"debug", "info", "warn", "error", "DEBUG", "INFO", "WARN", "ERROR"}

	for _, level := range validLevels {
		t.Run(level, func(t *testing.T) {
			cfg := config.DefaultConfig()
			cfg.Log.Level = level
			err := cfg.Validate()
			assert.NoError(t, err)
		})
	}
}

func TestConfig_Environments(t *testing.T) {
	cfg := config.DefaultConfig()
	assert.True(t, cfg.IsDevelopment())
	assert.False(t, cfg.IsProduction())

	cfg.App.Environment = "production"
	assert.False(t, cfg.IsDevelopment())
	assert.True(t, cfg.IsProduction())
}

func TestLoadFromPath_ValidYAML(t *testing.T) {
	// Create a temporary config file
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
app:
  name: "eventfold-worker"
  environment: "development"
  shutdown_timeout: 15s

mongodb:
  uri: "mongodb://testhost:27017"
  database: "testdb"
  timeout: 5s
  max_pool_size: 50

redis:
  addr: "redis:6379"
  password: "testpass"
  db: 1
  pool_size: 20

eventstore:
  events_collection: "domain_events"
  snapshots_collection: "domain_snapshots"
  snapshot_threshold: 50

eventbus:
  redis_channel_prefix: "test:"

outbox:
  enabled: true
  collection: "relay_outbox"
  poll_interval: 250ms
  batch_size: 25
  max_retries: 3

log:
  level: "debug"
  format: "text"
`
	err := os.WriteFile(configPath, []byte(configContent), 0o644)
	require.NoError(t, err)

	cfg, err := config.LoadFromPath(configPath)
	require.NoError(t, err)
	require.NotNil(t, cfg)

	// Verify loaded values
	assert.Equal(t, "eventfold-worker", cfg.App.Name)
	assert.Equal(t, 15*time.Second, cfg.App.ShutdownTimeout)

	assert.Equal(t, "mongodb://testhost:27017", cfg.MongoDB.URI)
	assert.Equal(t, "testdb", cfg.MongoDB.Database)
	assert.Equal(t, uint64(50), cfg.MongoDB.MaxPoolSize)

	assert.Equal(t, "redis:6379", cfg.Redis.Addr)
	assert.Equal(t, "testpass", cfg.Redis.Password)
	assert.Equal(t, 1, cfg.Redis.DB)
	assert.Equal(t, 20, cfg.Redis.PoolSize)

	assert.Equal(t, "domain_events", cfg.EventStore.EventsCollection)
	assert.Equal(t, "domain_snapshots", cfg.EventStore.SnapshotsCollection)
	assert.Equal(t, 50, cfg.EventStore.SnapshotThreshold)

	assert.Equal(t, "test:", cfg.EventBus.RedisChannelPrefix)

	assert.Equal(t, "relay_outbox", cfg.Outbox.Collection)
	assert.Equal(t, 250*time.Millisecond, cfg.Outbox.PollInterval)
	assert.Equal(t, 25, cfg.Outbox.BatchSize)
	assert.Equal(t, 3, cfg.Outbox.MaxRetries)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format)
}

func TestLoadFromPath_NonExistent(t *testing.T) {
	cfg, err := config.LoadFromPath("/non/existent/path/config.yaml")
	require.Error(t, err)
	assert.Nil(t, cfg)
	assert.Contains(t, err.Error(), "configuration file not found")
}

func TestLoadFromPath_InvalidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "invalid.yaml")

	invalidContent := `
redis:
  addr: "localhost:6379"
  db: this-is-not-a-number
`
	err := os.WriteFile(configPath, []byte(invalidContent), 0o644)
	require.NoError(t, err)

	cfg, err := config.LoadFromPath(configPath)
	require.Error(t, err)
	assert.Nil(t, cfg)
	assert.Contains(t, err.Error(), "failed to parse config file")
}

func TestLoader_LoadFromEnv(t *testing.T) {
	// Set test environment variables using t.Setenv (auto-cleanup)
	t.Setenv("APP_NAME", "env-app")
	t.Setenv("MONGODB_URI", "mongodb://env-mongo:27017")
	t.Setenv("REDIS_ADDR", "env-redis:6379")
	t.Setenv("EVENTSTORE_SNAPSHOT_THRESHOLD", "42")
	t.Setenv("OUTBOX_BATCH_SIZE", "17")
	t.Setenv("LOG_LEVEL", "warn")

	// Create a minimal config file
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	minimalConfig := `
app:
  name: "file-app"
`
	err := os.WriteFile(configPath, []byte(minimalConfig), 0o644)
	require.NoError(t, err)

	cfg, err := config.LoadFromPath(configPath)
	require.NoError(t, err)

	// Env vars should override file values
	assert.Equal(t, "env-app", cfg.App.Name)
	assert.Equal(t, "mongodb://env-mongo:27017", cfg.MongoDB.URI)
	assert.Equal(t, "env-redis:6379", cfg.Redis.Addr)
	assert.Equal(t, 42, cfg.EventStore.SnapshotThreshold)
	assert.Equal(t, 17, cfg.Outbox.BatchSize)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoader_LoadFromEnv_Duration(t *testing.T) {
	t.Setenv("OUTBOX_POLL_INTERVAL", "2m30s")

	cfg, err := config.Load()
	require.NoError(t, err)
	assert.Equal(t, 2*time.Minute+30*time.Second, cfg.Outbox.PollInterval)
}

func TestLoader_LoadFromEnv_InvalidDuration(t *testing.T) {
	t.Setenv("OUTBOX_POLL_INTERVAL", "not-a-duration")

	cfg, err := config.Load()
	require.Error(t, err)
	assert.Nil(t, cfg)
	assert.Contains(t, err.Error(), "invalid duration")
}

func TestLoader_ConfigPathEnvVar(t *testing.T) {
	// Create a config file
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "custom-config.yaml")
	configContent := `
app:
  name: "config-path-app"
mongodb:
  uri: "mongodb://localhost:27017"
  database: "testdb"
redis:
  addr: "localhost:6379"
log:
  level: "info"
  format: "json"
eventbus:
  redis_channel_prefix: "configured:"
`
	err := os.WriteFile(configPath, []byte(configContent), 0o644)
	require.NoError(t, err)

	t.Setenv("CONFIG_PATH", configPath)

	cfg, err := config.Load()
	require.NoError(t, err)
	assert.Equal(t, "config-path-app", cfg.App.Name)
	assert.Equal(t, "testdb", cfg.MongoDB.Database)
	assert.Equal(t, "configured:", cfg.EventBus.RedisChannelPrefix)
}

func TestLoader_WithConfigPaths(t *testing.T) {
	loader := config.NewLoader()
	customPaths := []string{"/custom/path1.yaml", "/custom/path2.yaml"}
	loader.WithConfigPaths(customPaths)

	// We can't directly check the paths since they are private,
	// but we can verify the method doesn't panic
	assert.NotNil(t, loader)
}

func TestNewLoader(t *testing.T) {
	loader := config.NewLoader()
	assert.NotNil(t, loader)
}
