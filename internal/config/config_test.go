package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	// Create a temporary config file
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
server:
  port: 9090
  host: "127.0.0.1"
  public_url: "https://mail.leadmap.io"

scheduler:
  batch_size: 25
  max_attempts: 3
  budget_seconds: 30

suppression:
  signing_key: "from-file"
  soft_bounce_limit: 3

ses:
  enabled: true
  region: "us-east-1"
  configuration_set: "leadmap"

backup:
  s3_bucket: "leadmap-backups"
`
	err := os.WriteFile(configPath, []byte(configContent), 0644)
	require.NoError(t, err)

	cfg, err := Load(configPath)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "127.0.0.1:9090", cfg.Server.Addr())
	assert.Equal(t, "https://mail.leadmap.io", cfg.Server.PublicURL)

	assert.Equal(t, 25, cfg.Scheduler.BatchSize)
	assert.Equal(t, 3, cfg.Scheduler.MaxAttempts)
	assert.Equal(t, 30*time.Second, cfg.Scheduler.Budget())

	assert.Equal(t, "from-file", cfg.Suppression.SigningKey)
	assert.Equal(t, 3, cfg.Suppression.SoftBounceLimit)
	assert.Equal(t, 72, cfg.Suppression.SoftBounceWindowHr)

	assert.True(t, cfg.SES.Enabled)
	assert.Equal(t, "us-east-1", cfg.SES.Region)
	assert.Equal(t, "leadmap-backups", cfg.Backup.S3Bucket)
	assert.Equal(t, "backups/", cfg.Backup.S3Prefix)
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, []string{"*"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, 100, cfg.Scheduler.BatchSize)
	assert.Equal(t, 5, cfg.Scheduler.MaxAttempts)
	assert.Equal(t, 60*time.Second, cfg.Scheduler.Budget())
	assert.Equal(t, 5*time.Minute, cfg.Scheduler.ClaimTimeout())
	assert.Equal(t, "log", cfg.Scheduler.DefaultTransport)
	assert.Equal(t, 3, cfg.Webhooks.MaxRetries)
	assert.Equal(t, 10*time.Second, cfg.Webhooks.Timeout())
	assert.Equal(t, "us-west-2", cfg.SES.Region)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Empty(t, cfg.Database.URL)
}

func TestLoadInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server: [unclosed"), 0644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://mail:mail@db/mailflow?sslmode=disable")
	t.Setenv("REDIS_URL", "redis://cache:6379/0")
	t.Setenv("CRON_SECRET", "tick-tock")
	t.Setenv("SCHEDULER_BATCH_SIZE", "250")
	t.Setenv("UNSUBSCRIBE_SIGNING_KEY", "k")
	t.Setenv("AWS_SES_ACCESS_KEY", "AKIA")
	t.Setenv("AWS_SES_SECRET_KEY", "shh")
	t.Setenv("AWS_SES_REGION", "eu-west-1")
	t.Setenv("BACKUP_S3_BUCKET", "bkt")
	t.Setenv("ADMIN_API_KEY", "ops-key")

	cfg, err := LoadFromEnv("")
	require.NoError(t, err)

	assert.Equal(t, "postgres://mail:mail@db/mailflow?sslmode=disable", cfg.Database.URL)
	assert.Equal(t, "redis://cache:6379/0", cfg.Redis.URL)
	assert.Equal(t, "tick-tock", cfg.Scheduler.CronSecret)
	assert.Equal(t, 250, cfg.Scheduler.BatchSize)
	assert.Equal(t, "k", cfg.Suppression.SigningKey)
	assert.True(t, cfg.SES.Enabled)
	assert.Equal(t, "AKIA", cfg.SES.AccessKey)
	assert.Equal(t, "eu-west-1", cfg.SES.Region)
	assert.Equal(t, "bkt", cfg.Backup.S3Bucket)
	assert.Equal(t, "ops-key", cfg.Server.AdminAPIKey)
}

func TestLoadFromEnv_RejectsBadBatchSize(t *testing.T) {
	t.Setenv("SCHEDULER_BATCH_SIZE", "lots")
	_, err := LoadFromEnv("")
	assert.Error(t, err)
}
