// Package config loads relay settings from a JSON file, a .env file and
// the environment, and watches the file for routing changes.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"signalrelay/internal/constants"
	"signalrelay/internal/models"
	"signalrelay/internal/routing"
	"signalrelay/internal/tracing"
	"signalrelay/internal/validation"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// Environment variables read in addition to the SIGNALRELAY_ prefixed keys
const (
	EnvPrefix          = "SIGNALRELAY"
	EnvEnvironment     = "SIGNALRELAY_ENV"
	EnvWorkerToken     = "SIGNALRELAY_WORKER_TOKEN"
	EnvWorkerJWTSecret = "SIGNALRELAY_WORKER_JWT_SECRET"
	EnvIngestToken     = "SIGNALRELAY_INGEST_TOKEN"
	EnvWebhookToken    = "SIGNALRELAY_WEBHOOK_TOKEN"
	EnvDatabaseDSN     = "DATABASE_DSN"
)

// MinSecretLength is enforced on credentials in production
const MinSecretLength = 32

var cronParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// LoadDotEnv loads variables from path when it exists. Variables already
// set in the environment win.
func LoadDotEnv(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

// Load reads the config file at path (optional when empty) and applies
// environment overrides, defaults and validation.
func Load(path string) (*models.Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindSecrets(v)

	if path != "" {
		if err := ValidatePath(path); err != nil {
			return nil, fmt.Errorf("invalid config path: %w", err)
		}
		v.SetConfigFile(path)
		v.SetConfigType("json")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg models.Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}
	if err := validateSecurity(&cfg, os.Getenv(EnvEnvironment) == "production"); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", constants.DefaultServerPort)
	v.SetDefault("server.read_timeout_sec", constants.DefaultServerReadTimeoutSec)
	v.SetDefault("server.write_timeout_sec", constants.DefaultServerWriteTimeoutSec)
	v.SetDefault("server.idle_timeout_sec", constants.DefaultServerIdleTimeoutSec)
	v.SetDefault("database.dsn", constants.DefaultSQLiteDSN)
	v.SetDefault("database.encrypt_payloads", false)
	v.SetDefault("database.op_timeout_sec", constants.DefaultDatabaseOpTimeoutSec)
	v.SetDefault("auth.worker_token", "")
	v.SetDefault("auth.worker_jwt_secret", "")
	v.SetDefault("auth.ingest_token", "")
	v.SetDefault("auth.webhook_token", "")
	v.SetDefault("queue.max_attempts", constants.DefaultJobMaxAttempts)
	v.SetDefault("maintenance.enabled", true)
	v.SetDefault("maintenance.schedule", constants.DefaultMaintenanceSchedule)
	v.SetDefault("maintenance.completed_retention_days", constants.DefaultCompletedRetentionDays)
	v.SetDefault("maintenance.stale_processing_minutes", constants.DefaultStaleProcessingMinutes)

	tc := tracing.DefaultConfig()
	v.SetDefault("tracing.enabled", tc.Enabled)
	v.SetDefault("tracing.service_name", tc.ServiceName)
	v.SetDefault("tracing.service_version", tc.ServiceVersion)
	v.SetDefault("tracing.environment", tc.Environment)
	v.SetDefault("tracing.otlp_endpoint", tc.OTLPEndpoint)
	v.SetDefault("tracing.sample_rate", tc.SampleRate)
	v.SetDefault("tracing.use_stdout", tc.UseStdout)
	v.SetDefault("log_level", "info")
}

// bindSecrets maps the short secret names onto their config keys. The
// prefixed long form (SIGNALRELAY_AUTH_WORKER_TOKEN) keeps working.
func bindSecrets(v *viper.Viper) {
	_ = v.BindEnv("auth.worker_token", EnvWorkerToken, EnvPrefix+"_AUTH_WORKER_TOKEN")
	_ = v.BindEnv("auth.worker_jwt_secret", EnvWorkerJWTSecret, EnvPrefix+"_AUTH_WORKER_JWT_SECRET")
	_ = v.BindEnv("auth.ingest_token", EnvIngestToken, EnvPrefix+"_AUTH_INGEST_TOKEN")
	_ = v.BindEnv("auth.webhook_token", EnvWebhookToken, EnvPrefix+"_AUTH_WEBHOOK_TOKEN")
	_ = v.BindEnv("database.dsn", EnvPrefix+"_DATABASE_DSN", EnvDatabaseDSN)
}

func validate(c *models.Config) error {
	if err := validation.ValidateNumericRange(c.Server.Port, "server port", 1, 65535); err != nil {
		return models.ConfigError{Message: fmt.Sprintf("invalid server port: %v", err)}
	}
	if strings.TrimSpace(c.Database.DSN) == "" {
		return models.ConfigError{Message: "missing database dsn"}
	}
	if c.Queue.MaxAttempts < 1 {
		return models.ConfigError{Message: "queue max_attempts must be at least 1"}
	}
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return models.ConfigError{Message: fmt.Sprintf("invalid log_level: %s", c.LogLevel)}
	}

	if c.Maintenance.Enabled {
		if _, err := cronParser.Parse(c.Maintenance.Schedule); err != nil {
			return models.ConfigError{Message: fmt.Sprintf("invalid maintenance schedule %q: %v", c.Maintenance.Schedule, err)}
		}
		if err := validation.ValidateRetentionDays(c.Maintenance.CompletedRetentionDays); err != nil {
			return models.ConfigError{Message: fmt.Sprintf("maintenance completed_retention_days: %v", err)}
		}
		if c.Maintenance.StaleProcessingMinutes < 1 {
			return models.ConfigError{Message: "maintenance stale_processing_minutes must be at least 1"}
		}
	}

	if err := tracing.Validate(c.Tracing); err != nil {
		return models.ConfigError{Message: err.Error()}
	}
	if _, err := routing.NewTable(c.Connectors, c.Roles); err != nil {
		return models.ConfigError{Message: err.Error()}
	}
	return nil
}

// validateSecurity requires strong credentials in production. Elsewhere a
// missing credential only disables its endpoints.
func validateSecurity(c *models.Config, production bool) error {
	if !production {
		return nil
	}
	if c.Auth.WorkerToken == "" && c.Auth.WorkerJWTSecret == "" {
		return models.ConfigError{Message: fmt.Sprintf("a worker credential is required in production (set %s or %s)", EnvWorkerToken, EnvWorkerJWTSecret)}
	}
	secrets := map[string]string{
		"worker token":      c.Auth.WorkerToken,
		"worker jwt secret": c.Auth.WorkerJWTSecret,
		"ingest token":      c.Auth.IngestToken,
		"webhook token":     c.Auth.WebhookToken,
	}
	for name, secret := range secrets {
		if secret != "" && len(secret) < MinSecretLength {
			return models.ConfigError{Message: fmt.Sprintf("%s must be at least %d characters long", name, MinSecretLength)}
		}
	}
	if c.LogLevel == "debug" || c.LogLevel == "trace" {
		return models.ConfigError{Message: "debug logging should not be used in production"}
	}
	return nil
}

// ValidatePath rejects config paths that climb out of their directory
func ValidatePath(path string) error {
	if strings.TrimSpace(path) == "" {
		return fmt.Errorf("file path cannot be empty")
	}
	for _, part := range strings.Split(filepath.ToSlash(path), "/") {
		if part == ".." {
			return fmt.Errorf("path contains directory traversal: %s", path)
		}
	}
	return nil
}
