package models

// Config holds the application configuration
type Config struct {
	Server      ServerConfig      `json:"server" mapstructure:"server"`
	Database    DatabaseConfig    `json:"database" mapstructure:"database"`
	Auth        AuthConfig        `json:"auth" mapstructure:"auth"`
	Queue       QueueConfig       `json:"queue" mapstructure:"queue"`
	Maintenance MaintenanceConfig `json:"maintenance" mapstructure:"maintenance"`
	Tracing     TracingConfig     `json:"tracing" mapstructure:"tracing"`
	Connectors  []ConnectorConfig `json:"connectors" mapstructure:"connectors"`
	Roles       []TierRoleConfig  `json:"roles" mapstructure:"roles"`
	LogLevel    string            `json:"log_level" mapstructure:"log_level"`
}

// ServerConfig holds HTTP listener settings
type ServerConfig struct {
	Port            int `json:"port" mapstructure:"port"`
	ReadTimeoutSec  int `json:"read_timeout_sec" mapstructure:"read_timeout_sec"`
	WriteTimeoutSec int `json:"write_timeout_sec" mapstructure:"write_timeout_sec"`
	IdleTimeoutSec  int `json:"idle_timeout_sec" mapstructure:"idle_timeout_sec"`
}

// DatabaseConfig selects the store. A DSN starting with postgres:// or
// postgresql:// uses Postgres; anything else is treated as a sqlite path or file: URI.
type DatabaseConfig struct {
	DSN             string `json:"dsn" mapstructure:"dsn"`
	EncryptPayloads bool   `json:"encrypt_payloads" mapstructure:"encrypt_payloads"`
	OpTimeoutSec    int    `json:"op_timeout_sec" mapstructure:"op_timeout_sec"`
}

// AuthConfig holds the shared credentials. Secrets are normally supplied
// through the environment rather than the config file.
type AuthConfig struct {
	WorkerToken     string `json:"worker_token" mapstructure:"worker_token"`
	WorkerJWTSecret string `json:"worker_jwt_secret" mapstructure:"worker_jwt_secret"`
	IngestToken     string `json:"ingest_token" mapstructure:"ingest_token"`
	WebhookToken    string `json:"webhook_token" mapstructure:"webhook_token"`
}

// QueueConfig tunes the lease job queue
type QueueConfig struct {
	MaxAttempts int `json:"max_attempts" mapstructure:"max_attempts"`
}

// MaintenanceConfig controls the cron-driven housekeeping
type MaintenanceConfig struct {
	Enabled                bool   `json:"enabled" mapstructure:"enabled"`
	Schedule               string `json:"schedule" mapstructure:"schedule"`
	CompletedRetentionDays int    `json:"completed_retention_days" mapstructure:"completed_retention_days"`
	StaleProcessingMinutes int    `json:"stale_processing_minutes" mapstructure:"stale_processing_minutes"`
}

// TracingConfig holds OpenTelemetry settings
type TracingConfig struct {
	Enabled        bool    `json:"enabled" mapstructure:"enabled"`
	ServiceName    string  `json:"service_name" mapstructure:"service_name"`
	ServiceVersion string  `json:"service_version" mapstructure:"service_version"`
	Environment    string  `json:"environment" mapstructure:"environment"`
	OTLPEndpoint   string  `json:"otlp_endpoint" mapstructure:"otlp_endpoint"`
	SampleRate     float64 `json:"sample_rate" mapstructure:"sample_rate"`
	UseStdout      bool    `json:"use_stdout" mapstructure:"use_stdout"`
}

// ConnectorConfig is the per-connector forwarding setup
type ConnectorConfig struct {
	TenantKey         string        `json:"tenant_key" mapstructure:"tenant_key"`
	ConnectorID       string        `json:"connector_id" mapstructure:"connector_id"`
	ForwardingEnabled bool          `json:"forwarding_enabled" mapstructure:"forwarding_enabled"`
	Routes            []RouteConfig `json:"routes" mapstructure:"routes"`
}

// RouteConfig maps one source channel to its mirror destinations
type RouteConfig struct {
	SourceChannelID  string   `json:"source_channel_id" mapstructure:"source_channel_id"`
	TargetChannelIDs []string `json:"target_channel_ids" mapstructure:"target_channel_ids"`
}

// TierRoleConfig binds a subscription tier to a managed guild role
type TierRoleConfig struct {
	Tier    string `json:"tier" mapstructure:"tier"`
	GuildID string `json:"guild_id" mapstructure:"guild_id"`
	RoleID  string `json:"role_id" mapstructure:"role_id"`
}

type ConfigError struct {
	Message string
}

func (e ConfigError) Error() string {
	return e.Message
}
