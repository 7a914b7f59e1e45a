package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Database    DatabaseConfig    `yaml:"database"`
	Redis       RedisConfig       `yaml:"redis"`
	Scheduler   SchedulerConfig   `yaml:"scheduler"`
	Suppression SuppressionConfig `yaml:"suppression"`
	Webhooks    WebhookConfig     `yaml:"webhooks"`
	SES         SESConfig         `yaml:"ses"`
	Backup      BackupConfig      `yaml:"backup"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	Port           int      `yaml:"port"`
	Host           string   `yaml:"host"`
	PublicURL      string   `yaml:"public_url"`
	AllowedOrigins []string `yaml:"allowed_origins"`
	AdminAPIKey    string   `yaml:"admin_api_key"` // bearer secret for the management API
}

// Addr returns host:port for net/http.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// DatabaseConfig holds PostgreSQL settings. An empty URL selects the
// in-memory repositories.
type DatabaseConfig struct {
	URL             string `yaml:"url"`
	MaxOpenConns    int    `yaml:"max_open_conns"`
	MaxIdleConns    int    `yaml:"max_idle_conns"`
	ConnMaxLifetime int    `yaml:"conn_max_lifetime_seconds"`
}

// RedisConfig holds the distributed lock backend. Optional.
type RedisConfig struct {
	URL string `yaml:"url"`
}

// SchedulerConfig holds scheduled-send settings
type SchedulerConfig struct {
	CronSecret          string `yaml:"cron_secret"`
	BatchSize           int    `yaml:"batch_size"`
	MaxAttempts         int    `yaml:"max_attempts"`
	BudgetSeconds       int    `yaml:"budget_seconds"`
	ClaimTimeoutSeconds int    `yaml:"claim_timeout_seconds"`
	BackoffBaseSeconds  int    `yaml:"backoff_base_seconds"`
	BackoffMaxSeconds   int    `yaml:"backoff_max_seconds"`
	DefaultTransport    string `yaml:"default_transport"`
}

// Budget is the time allowed for one cron-triggered processing run.
func (c SchedulerConfig) Budget() time.Duration {
	return time.Duration(c.BudgetSeconds) * time.Second
}

// ClaimTimeout is how long a claim may be held before it is swept.
func (c SchedulerConfig) ClaimTimeout() time.Duration {
	return time.Duration(c.ClaimTimeoutSeconds) * time.Second
}

// SuppressionConfig holds unsubscribe link and escalation settings
type SuppressionConfig struct {
	SigningKey         string `yaml:"signing_key"`
	TokenMaxAgeHours   int    `yaml:"token_max_age_hours"`
	SoftBounceLimit    int    `yaml:"soft_bounce_limit"` // 0 disables escalation
	SoftBounceWindowHr int    `yaml:"soft_bounce_window_hours"`
}

// TokenMaxAge is how long an unsubscribe link stays valid. Zero means
// forever.
func (c SuppressionConfig) TokenMaxAge() time.Duration {
	return time.Duration(c.TokenMaxAgeHours) * time.Hour
}

// WebhookConfig holds outbound webhook delivery settings
type WebhookConfig struct {
	MaxRetries       int    `yaml:"max_retries"`
	TimeoutSeconds   int    `yaml:"timeout_seconds"`
	AttemptsTable    string `yaml:"attempts_table"` // DynamoDB; empty keeps attempts in memory
	AttemptsRegion   string `yaml:"attempts_region"`
	AttemptsTTLHours int    `yaml:"attempts_ttl_hours"`
}

// Timeout bounds a single webhook POST.
func (c WebhookConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// SESConfig holds AWS SES API configuration
type SESConfig struct {
	Enabled          bool   `yaml:"enabled"`
	AccessKey        string `yaml:"access_key"`
	SecretKey        string `yaml:"secret_key"`
	Region           string `yaml:"region"`
	ConfigurationSet string `yaml:"configuration_set"`
}

// BackupConfig selects where backups are stored. An empty bucket keeps
// them in memory.
type BackupConfig struct {
	S3Bucket string `yaml:"s3_bucket"`
	S3Region string `yaml:"s3_region"`
	S3Prefix string `yaml:"s3_prefix"`
}

// LoggingConfig controls the structured logger
type LoggingConfig struct {
	Level     string `yaml:"level"`
	RedactPII bool   `yaml:"redact_pii"`
}

// Load reads the YAML file at path and applies defaults. A missing file
// yields the defaults.
func Load(path string) (*Config, error) {
	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return nil, fmt.Errorf("parse %s: %w", path, err)
			}
		case !os.IsNotExist(err):
			return nil, err
		}
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func (cfg *Config) applyDefaults() {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.PublicURL == "" {
		cfg.Server.PublicURL = fmt.Sprintf("http://localhost:%d", cfg.Server.Port)
	}
	if len(cfg.Server.AllowedOrigins) == 0 {
		cfg.Server.AllowedOrigins = []string{"*"}
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 20
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.Database.ConnMaxLifetime == 0 {
		cfg.Database.ConnMaxLifetime = 300
	}
	if cfg.Scheduler.BatchSize == 0 {
		cfg.Scheduler.BatchSize = 100
	}
	if cfg.Scheduler.MaxAttempts == 0 {
		cfg.Scheduler.MaxAttempts = 5
	}
	if cfg.Scheduler.BudgetSeconds == 0 {
		cfg.Scheduler.BudgetSeconds = 60
	}
	if cfg.Scheduler.ClaimTimeoutSeconds == 0 {
		cfg.Scheduler.ClaimTimeoutSeconds = 300
	}
	if cfg.Scheduler.BackoffBaseSeconds == 0 {
		cfg.Scheduler.BackoffBaseSeconds = 60
	}
	if cfg.Scheduler.BackoffMaxSeconds == 0 {
		cfg.Scheduler.BackoffMaxSeconds = 3600
	}
	if cfg.Scheduler.DefaultTransport == "" {
		cfg.Scheduler.DefaultTransport = "log"
	}
	if cfg.Suppression.TokenMaxAgeHours == 0 {
		cfg.Suppression.TokenMaxAgeHours = 24 * 90
	}
	if cfg.Suppression.SoftBounceWindowHr == 0 {
		cfg.Suppression.SoftBounceWindowHr = 72
	}
	if cfg.Webhooks.MaxRetries == 0 {
		cfg.Webhooks.MaxRetries = 3
	}
	if cfg.Webhooks.TimeoutSeconds == 0 {
		cfg.Webhooks.TimeoutSeconds = 10
	}
	if cfg.Webhooks.AttemptsTTLHours == 0 {
		cfg.Webhooks.AttemptsTTLHours = 24 * 30
	}
	if cfg.SES.Region == "" {
		cfg.SES.Region = "us-west-2"
	}
	if cfg.Backup.S3Prefix == "" {
		cfg.Backup.S3Prefix = "backups/"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
}

// LoadFromEnv loads .env (when present), then the YAML file, then applies
// environment overrides.
func LoadFromEnv(path string) (*Config, error) {
	// Load .env file if it exists (no error if missing)
	_ = godotenv.Load()

	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	if v := os.Getenv("PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = n
		}
	}
	if v := os.Getenv("PUBLIC_URL"); v != "" {
		cfg.Server.PublicURL = v
	}
	if v := os.Getenv("ADMIN_API_KEY"); v != "" {
		cfg.Server.AdminAPIKey = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Redis.URL = v
	}
	if v := os.Getenv("CRON_SECRET"); v != "" {
		cfg.Scheduler.CronSecret = v
	}
	if v := os.Getenv("SCHEDULER_BATCH_SIZE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("SCHEDULER_BATCH_SIZE must be a positive integer, got %q", v)
		}
		cfg.Scheduler.BatchSize = n
	}
	if v := os.Getenv("UNSUBSCRIBE_SIGNING_KEY"); v != "" {
		cfg.Suppression.SigningKey = v
	}
	if v := os.Getenv("AWS_SES_ACCESS_KEY"); v != "" {
		cfg.SES.AccessKey = v
		cfg.SES.Enabled = true
	}
	if v := os.Getenv("AWS_SES_SECRET_KEY"); v != "" {
		cfg.SES.SecretKey = v
	}
	if v := os.Getenv("AWS_SES_REGION"); v != "" {
		cfg.SES.Region = v
	}
	if v := os.Getenv("AWS_SES_CONFIGURATION_SET"); v != "" {
		cfg.SES.ConfigurationSet = v
	}
	if v := os.Getenv("BACKUP_S3_BUCKET"); v != "" {
		cfg.Backup.S3Bucket = v
	}
	if v := os.Getenv("WEBHOOK_ATTEMPTS_TABLE"); v != "" {
		cfg.Webhooks.AttemptsTable = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	return cfg, nil
}
