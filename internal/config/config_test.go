package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/carbonplane/internal/config"
)

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := config.LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, config.StorageMemory, cfg.Storage.Backend)
	assert.Equal(t, "carbon", cfg.Bus.SubjectPrefix)
	assert.True(t, cfg.Scheduler.Enabled)
	assert.Equal(t, "UTC", cfg.Scheduler.Timezone)
	assert.Equal(t, 30*time.Minute, cfg.Scheduler.JobTimeout)
	assert.Equal(t, 24*time.Hour, cfg.Scheduler.AlertThreshold)
	assert.Equal(t, "file", cfg.Backup.Sink)
	assert.Equal(t, "gzip", cfg.Backup.Compression)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, "/metrics", cfg.Metrics.Path)
}

func TestLoadConfig_FromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: 9090
storage:
  backend: postgres
  dsn: postgres://localhost/carbon
scheduler:
  timezone: Asia/Kolkata
`), 0o644))

	cfg, err := config.LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, config.StoragePostgres, cfg.Storage.Backend)
	assert.Equal(t, "postgres://localhost/carbon", cfg.Storage.DSN)
	assert.Equal(t, "Asia/Kolkata", cfg.Scheduler.Timezone)
	assert.Equal(t, "Asia/Kolkata", cfg.Location().String())

	// File values only override what they name.
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
}

func TestLoadConfig_EnvOverride(t *testing.T) {
	t.Setenv("CARBONPLANE_SERVER_PORT", "7070")

	cfg, err := config.LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, 7070, cfg.Server.Port)
}

func TestLoadConfig_MissingExplicitFile(t *testing.T) {
	_, err := config.LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	t.Parallel()

	base := func() *config.Config {
		return &config.Config{
			Server:    config.ServerConfig{Port: 8080},
			Storage:   config.StorageConfig{Backend: config.StorageMemory},
			Scheduler: config.SchedulerConfig{Timezone: "UTC"},
			Backup:    config.BackupConfig{Sink: "file"},
		}
	}

	assert.NoError(t, base().Validate())

	bad := base()
	bad.Server.Port = 0
	assert.ErrorIs(t, bad.Validate(), config.ErrInvalidPort)

	bad = base()
	bad.Server.Port = 70000
	assert.ErrorIs(t, bad.Validate(), config.ErrInvalidPort)

	bad = base()
	bad.Storage.Backend = "mongo"
	assert.ErrorIs(t, bad.Validate(), config.ErrInvalidStorage)

	bad = base()
	bad.Scheduler.Timezone = "Mars/Olympus"
	assert.ErrorIs(t, bad.Validate(), config.ErrInvalidTimezone)

	bad = base()
	bad.Backup.Sink = "s3"
	assert.ErrorIs(t, bad.Validate(), config.ErrMissingBucket)

	ok := base()
	ok.Backup.Sink = "s3"
	ok.Backup.S3Bucket = "carbon-backups"
	assert.NoError(t, ok.Validate())
}

func TestLocation_FallsBackToUTC(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{Scheduler: config.SchedulerConfig{Timezone: "nowhere"}}
	assert.Equal(t, time.UTC, cfg.Location())
}
