// Package config defines the global configuration structure for the
// TenderWatch notification queue. Configuration is loaded once at process
// initialization (Lambda cold start) and is immutable thereafter. It follows
// 12-Factor App principles by strictly separating code from configuration.
//
// Values are resolved via a priority chain:
//
//	OS Environment (Highest) -> Dotenv File -> AWS SSM Parameter Store (Lowest)
//
// Any missing required value or invalid format causes the application to fail
// immediately on startup.
package config

import (
	"time"

	"tenderwatch/internal/types"
)

// SecretString is an alias for types.SecretString, the redacted secret type
// used throughout configuration to prevent accidental logging of sensitive
// values.
type SecretString = types.SecretString

// Config is the top-level configuration struct for the notification queue.
// It is populated once during process initialization and never modified.
// Sub-components receive only the specific config subsets they require.
type Config struct {
	// System Metadata
	Environment string `envconfig:"APP_ENV" validate:"required,oneof=local dev staging prod"`
	Service     string `envconfig:"OTEL_SERVICE_NAME" default:"tenderwatch-queue"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`
	IsTestMode  bool   `envconfig:"IS_TEST_MODE" default:"false"`

	// Domain Configurations
	Server        ServerConfig
	Database      DatabaseConfig
	AWS           AWSConfig
	Queue         QueueConfig
	Email         EmailConfig
	Security      SecurityConfig
	Observability ObservabilityConfig

	// Build Metadata (Injected via ldflags, not Env)
	Build BuildInfo
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port string `envconfig:"PORT" default:"8080"`
	// Public dashboard URL used in notification email bodies (no trailing slash).
	DashboardURL string `envconfig:"DASHBOARD_URL" validate:"required,url"` // e.g., https://app.tenderwatch.io
}

// DatabaseConfig holds database connection and pool tuning parameters.
type DatabaseConfig struct {
	// Resolved from SSM or Env
	URL SecretString `envconfig:"DATABASE_URL" validate:"required,url"`

	// Tuning Parameters
	MaxConns          int           `envconfig:"DB_MAX_CONNS" default:"10"`
	MinConns          int           `envconfig:"DB_MIN_CONNS" default:"2"`
	MaxConnLifetime   time.Duration `envconfig:"DB_MAX_CONN_LIFETIME" default:"30m"`
	AcquireTimeout    time.Duration `envconfig:"DB_ACQUIRE_TIMEOUT" default:"2s"`
	HealthCheckPeriod time.Duration `envconfig:"DB_HEALTH_CHECK_PERIOD" default:"1m"`
}

// AWSConfig holds AWS resource identifiers and regional configuration.
type AWSConfig struct {
	Region string `envconfig:"AWS_REGION" default:"us-east-1"`

	// DispatchQueue is the SQS queue that wakes dispatch workers.
	DispatchQueue string `envconfig:"SQS_DISPATCH" validate:"required,url"`
	DlqURL        string `envconfig:"SQS_DLQ" validate:"required,url"`

	// LocalStack Support (Empty in Prod)
	EndpointURL string `envconfig:"AWS_ENDPOINT_URL"`
}

// QueueConfig holds delivery pipeline tuning parameters.
type QueueConfig struct {
	// BatchSize is the number of jobs claimed per dispatch tick.
	BatchSize int `envconfig:"QUEUE_BATCH_SIZE" default:"25" validate:"min=1,max=100"`
	// Concurrency is the number of jobs sent in parallel within a tick.
	Concurrency int           `envconfig:"QUEUE_CONCURRENCY" default:"4" validate:"min=1"`
	SendTimeout time.Duration `envconfig:"QUEUE_SEND_TIMEOUT" default:"30s"`

	// DefaultMaxRetries applies when an enqueue request omits max_retries.
	DefaultMaxRetries int `envconfig:"QUEUE_DEFAULT_MAX_RETRIES" default:"3" validate:"min=0"`
	// RetryBaseDelay seeds the doubling backoff; RetryMaxDelay caps it.
	RetryBaseDelay time.Duration `envconfig:"QUEUE_RETRY_BASE_DELAY" default:"1m"`
	RetryMaxDelay  time.Duration `envconfig:"QUEUE_RETRY_MAX_DELAY" default:"6h"`

	// StaleThreshold is how long a job may sit in processing before its
	// claim is considered abandoned.
	StaleThreshold time.Duration `envconfig:"QUEUE_STALE_THRESHOLD" default:"10m"`

	// Retention bounds how long terminal jobs stay queryable before purge.
	Retention time.Duration `envconfig:"QUEUE_RETENTION" default:"2160h"` // 90 days
	// ArchiveDir receives compressed snapshots of purged jobs. Empty
	// disables archival (purge deletes directly).
	ArchiveDir string `envconfig:"QUEUE_ARCHIVE_DIR"`
}

// EmailConfig holds email delivery provider credentials.
type EmailConfig struct {
	SendGridAPIKey SecretString `envconfig:"SENDGRID_API_KEY" validate:"required"`
	FromAddress    string       `envconfig:"EMAIL_FROM_ADDRESS" default:"alerts@tenderwatch.io"`
	FromName       string       `envconfig:"EMAIL_FROM_NAME" default:"TenderWatch Alerts"`
	Provider       string       `envconfig:"EMAIL_PROVIDER" default:"sendgrid"`
}

// SecurityConfig holds admin access and CORS settings.
type SecurityConfig struct {
	AdminAPIKey        SecretString `envconfig:"ADMIN_API_KEY" validate:"required"`
	CorsAllowedOrigins []string     `envconfig:"CORS_ALLOWED_ORIGINS" default:"*"`
}

// ObservabilityConfig holds telemetry and monitoring settings.
type ObservabilityConfig struct {
	MetricNamespace string `envconfig:"METRIC_NAMESPACE" default:"TenderWatch/Queue"`
	EnableMetrics   bool   `envconfig:"ENABLE_METRICS" default:"true"`
}

// BuildInfo holds build-time metadata injected via ldflags.
// These values are NOT populated from environment variables.
type BuildInfo struct {
	Version   string
	Commit    string
	BuildTime string
}

// ConfigErrorType categorizes configuration loading failures to aid debugging.
type ConfigErrorType string

const (
	// ErrMissingEnv indicates a required environment variable was not found.
	ErrMissingEnv ConfigErrorType = "MISSING_ENV"
	// ErrSSMResolution indicates a failure when fetching secrets from AWS SSM.
	ErrSSMResolution ConfigErrorType = "SSM_FAILURE"
	// ErrValidation indicates the configuration failed struct validation rules.
	ErrValidation ConfigErrorType = "VALIDATION_FAILED"
	// ErrParsing indicates a failure when parsing environment variable values
	// into their target types.
	ErrParsing ConfigErrorType = "PARSING_FAILED"
)
