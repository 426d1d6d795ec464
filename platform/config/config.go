// Package config provides application configuration loading.
// This is part of the platform layer and contains no business logic.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
)

// =============================================================================
// Module-Specific Config Interfaces (Principle of Least Privilege)
// =============================================================================

// DatabaseConfig provides database connection settings.
type DatabaseConfig interface {
	GetDatabaseURL() string
}

// JWTConfig provides JWT validation settings for middleware.
type JWTConfig interface {
	GetJWTAccessSecret() string
}

// HTTPConfig provides settings for the HTTP server.
type HTTPConfig interface {
	GetHTTPAddr() string
	GetCORSAllowAll() bool
	GetCORSOrigins() []string
	GetCORSAllowCreds() bool
}

// WebhookConfig provides settings for inbound telephony webhooks.
type WebhookConfig interface {
	GetWebhookRateLimit() float64
	GetWebhookRateBurst() int
	GetNormalizerAliasesFile() string
}

// SchedulerConfig provides settings for the asynq scheduler and worker.
type SchedulerConfig interface {
	GetRedisURL() string
	GetRedisTLSInsecure() bool
	GetAsynqQueueName() string
	GetAsynqConcurrency() int
}

// TranscriptConfig provides settings for the transcript retrieval worker.
type TranscriptConfig interface {
	GetTranscriptStoreURL() string
	GetTranscriptSweepInterval() time.Duration
	GetTranscriptBatchSize() int
	GetTranscriptWorkers() int
	GetTranscriptLookupTimeout() time.Duration
	GetTranscriptMatchWindow() time.Duration
	GetExtractionTimeout() time.Duration
}

// CaptureConfig provides settings for the audio-capture control API.
type CaptureConfig interface {
	GetCaptureAPIURL() string
	GetCaptureAPIKey() string
}

// ExtractionConfig provides settings for the Gemini extraction client.
type ExtractionConfig interface {
	GetGeminiAPIKey() string
	GetGeminiModel() string
	IsExtractionEnabled() bool
}

// ReconciliationConfig provides settings for the nightly auditor.
type ReconciliationConfig interface {
	GetReconciliationCron() string
	GetReconciliationSampleSize() int
	GetPendingCorrelationRetention() time.Duration
}

// SlackConfig provides settings for the Slack digest messenger.
type SlackConfig interface {
	GetSlackBotToken() string
	GetSlackDigestChannel() string
	IsSlackEnabled() bool
}

// SMTPConfig provides settings for the e-mail digest messenger.
type SMTPConfig interface {
	GetSMTPHost() string
	GetSMTPPort() int
	GetSMTPUsername() string
	GetSMTPPassword() string
	GetDigestEmailFrom() string
	GetDigestEmailTo() []string
	IsSMTPEnabled() bool
}

// MinIOConfig provides settings for MinIO S3-compatible storage.
type MinIOConfig interface {
	GetMinIOEndpoint() string
	GetMinIOAccessKey() string
	GetMinIOSecretKey() string
	GetMinIOUseSSL() bool
	GetMinioBucketCallTranscripts() string
	IsMinIOEnabled() bool
}

// =============================================================================
// Main Config Struct
// =============================================================================

// Config holds all application configuration values.
type Config struct {
	Env                         string
	HTTPAddr                    string
	DatabaseURL                 string
	JWTAccessSecret             string
	CORSAllowAll                bool
	CORSOrigins                 []string
	CORSAllowCreds              bool
	WebhookRateLimit            float64
	WebhookRateBurst            int
	NormalizerAliasesFile       string
	RedisURL                    string
	RedisTLSInsecure            bool
	AsynqQueueName              string
	AsynqConcurrency            int
	TranscriptStoreURL          string
	TranscriptSweepInterval     time.Duration
	TranscriptBatchSize         int
	TranscriptWorkers           int
	TranscriptLookupTimeout     time.Duration
	TranscriptMatchWindow       time.Duration
	ExtractionTimeout           time.Duration
	CaptureAPIURL               string
	CaptureAPIKey               string
	GeminiAPIKey                string
	GeminiModel                 string
	ReconciliationCron          string
	ReconciliationSampleSize    int
	PendingCorrelationRetention time.Duration
	SlackBotToken               string
	SlackDigestChannel          string
	SMTPHost                    string
	SMTPPort                    int
	SMTPUsername                string
	SMTPPassword                string
	DigestEmailFrom             string
	DigestEmailTo               []string
	MinIOEndpoint               string
	MinIOAccessKey              string
	MinIOSecretKey              string
	MinIOUseSSL                 bool
	MinioBucketCallTranscripts  string
}

// =============================================================================
// Interface Implementations
// =============================================================================

// DatabaseConfig implementation
func (c *Config) GetDatabaseURL() string { return c.DatabaseURL }

// JWTConfig implementation
func (c *Config) GetJWTAccessSecret() string { return c.JWTAccessSecret }

// HTTPConfig implementation
func (c *Config) GetHTTPAddr() string      { return c.HTTPAddr }
func (c *Config) GetCORSAllowAll() bool    { return c.CORSAllowAll }
func (c *Config) GetCORSOrigins() []string { return c.CORSOrigins }
func (c *Config) GetCORSAllowCreds() bool  { return c.CORSAllowCreds }

// WebhookConfig implementation
func (c *Config) GetWebhookRateLimit() float64     { return c.WebhookRateLimit }
func (c *Config) GetWebhookRateBurst() int         { return c.WebhookRateBurst }
func (c *Config) GetNormalizerAliasesFile() string { return c.NormalizerAliasesFile }

// SchedulerConfig implementation
func (c *Config) GetRedisURL() string        { return c.RedisURL }
func (c *Config) GetRedisTLSInsecure() bool  { return c.RedisTLSInsecure }
func (c *Config) GetAsynqQueueName() string  { return c.AsynqQueueName }
func (c *Config) GetAsynqConcurrency() int   { return c.AsynqConcurrency }

// TranscriptConfig implementation
func (c *Config) GetTranscriptStoreURL() string              { return c.TranscriptStoreURL }
func (c *Config) GetTranscriptSweepInterval() time.Duration  { return c.TranscriptSweepInterval }
func (c *Config) GetTranscriptBatchSize() int                { return c.TranscriptBatchSize }
func (c *Config) GetTranscriptWorkers() int                  { return c.TranscriptWorkers }
func (c *Config) GetTranscriptLookupTimeout() time.Duration  { return c.TranscriptLookupTimeout }
func (c *Config) GetTranscriptMatchWindow() time.Duration    { return c.TranscriptMatchWindow }
func (c *Config) GetExtractionTimeout() time.Duration        { return c.ExtractionTimeout }

// CaptureConfig implementation
func (c *Config) GetCaptureAPIURL() string { return c.CaptureAPIURL }
func (c *Config) GetCaptureAPIKey() string { return c.CaptureAPIKey }

// ExtractionConfig implementation
func (c *Config) GetGeminiAPIKey() string  { return c.GeminiAPIKey }
func (c *Config) GetGeminiModel() string   { return c.GeminiModel }
func (c *Config) IsExtractionEnabled() bool { return c.GeminiAPIKey != "" }

// ReconciliationConfig implementation
func (c *Config) GetReconciliationCron() string     { return c.ReconciliationCron }
func (c *Config) GetReconciliationSampleSize() int  { return c.ReconciliationSampleSize }
func (c *Config) GetPendingCorrelationRetention() time.Duration {
	return c.PendingCorrelationRetention
}

// SlackConfig implementation
func (c *Config) GetSlackBotToken() string      { return c.SlackBotToken }
func (c *Config) GetSlackDigestChannel() string { return c.SlackDigestChannel }
func (c *Config) IsSlackEnabled() bool {
	return c.SlackBotToken != "" && c.SlackDigestChannel != ""
}

// SMTPConfig implementation
func (c *Config) GetSMTPHost() string         { return c.SMTPHost }
func (c *Config) GetSMTPPort() int            { return c.SMTPPort }
func (c *Config) GetSMTPUsername() string     { return c.SMTPUsername }
func (c *Config) GetSMTPPassword() string     { return c.SMTPPassword }
func (c *Config) GetDigestEmailFrom() string  { return c.DigestEmailFrom }
func (c *Config) GetDigestEmailTo() []string  { return c.DigestEmailTo }
func (c *Config) IsSMTPEnabled() bool {
	return c.SMTPHost != "" && c.DigestEmailFrom != "" && len(c.DigestEmailTo) > 0
}

// MinIOConfig implementation
func (c *Config) GetMinIOEndpoint() string  { return c.MinIOEndpoint }
func (c *Config) GetMinIOAccessKey() string { return c.MinIOAccessKey }
func (c *Config) GetMinIOSecretKey() string { return c.MinIOSecretKey }
func (c *Config) GetMinIOUseSSL() bool      { return c.MinIOUseSSL }
func (c *Config) GetMinioBucketCallTranscripts() string {
	return c.MinioBucketCallTranscripts
}
func (c *Config) IsMinIOEnabled() bool { return c.MinIOEndpoint != "" }

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	_ = godotenv.Load()
	return FromLookup(os.LookupEnv)
}

// FromLookup builds a Config from an arbitrary key lookup. Load uses the
// process environment; tests pass a map.
func FromLookup(lookup func(string) (string, bool)) (*Config, error) {
	getEnv := func(key, fallback string) string {
		if val, ok := lookup(key); ok {
			return val
		}
		return fallback
	}

	corsOrigins := splitCSV(getEnv("CORS_ORIGINS", "http://localhost:4200"))
	corsAllowAll := strings.EqualFold(getEnv("CORS_ALLOW_ALL", "false"), "true")
	if containsWildcard(corsOrigins) {
		corsAllowAll = true
	}

	cfg := &Config{
		Env:                         getEnv("APP_ENV", "development"),
		HTTPAddr:                    getEnv("HTTP_ADDR", ":8080"),
		DatabaseURL:                 getEnv("DATABASE_URL", ""),
		JWTAccessSecret:             getEnv("JWT_ACCESS_SECRET", ""),
		CORSAllowAll:                corsAllowAll,
		CORSOrigins:                 corsOrigins,
		CORSAllowCreds:              strings.EqualFold(getEnv("CORS_ALLOW_CREDENTIALS", "true"), "true"),
		WebhookRateLimit:            mustFloat(getEnv("WEBHOOK_RATE_LIMIT", "50")),
		WebhookRateBurst:            mustInt(getEnv("WEBHOOK_RATE_BURST", "100")),
		NormalizerAliasesFile:       getEnv("NORMALIZER_ALIASES_FILE", ""),
		RedisURL:                    getEnv("REDIS_URL", ""),
		RedisTLSInsecure:            strings.EqualFold(getEnv("REDIS_TLS_INSECURE", "false"), "true"),
		AsynqQueueName:              getEnv("ASYNQ_QUEUE", "calls"),
		AsynqConcurrency:            mustInt(getEnv("ASYNQ_CONCURRENCY", "4")),
		TranscriptStoreURL:          getEnv("TRANSCRIPT_STORE_URL", ""),
		TranscriptSweepInterval:     mustDuration(getEnv("TRANSCRIPT_SWEEP_INTERVAL", "30s")),
		TranscriptBatchSize:         mustInt(getEnv("TRANSCRIPT_BATCH_SIZE", "25")),
		TranscriptWorkers:           mustInt(getEnv("TRANSCRIPT_WORKERS", "4")),
		TranscriptLookupTimeout:     mustDuration(getEnv("TRANSCRIPT_LOOKUP_TIMEOUT", "15s")),
		TranscriptMatchWindow:       mustDuration(getEnv("TRANSCRIPT_MATCH_WINDOW", "2m")),
		ExtractionTimeout:           mustDuration(getEnv("EXTRACTION_TIMEOUT", "45s")),
		CaptureAPIURL:               getEnv("CAPTURE_API_URL", ""),
		CaptureAPIKey:               getEnv("CAPTURE_API_KEY", ""),
		GeminiAPIKey:                getEnv("GEMINI_API_KEY", ""),
		GeminiModel:                 getEnv("GEMINI_MODEL", "gemini-2.5-flash"),
		ReconciliationCron:          getEnv("RECONCILIATION_CRON", "0 6 * * *"),
		ReconciliationSampleSize:    mustInt(getEnv("RECONCILIATION_SAMPLE_SIZE", "10")),
		PendingCorrelationRetention: mustDuration(getEnv("PENDING_CORRELATION_RETENTION", "24h")),
		SlackBotToken:               getEnv("SLACK_BOT_TOKEN", ""),
		SlackDigestChannel:          getEnv("SLACK_DIGEST_CHANNEL", ""),
		SMTPHost:                    getEnv("SMTP_HOST", ""),
		SMTPPort:                    mustInt(getEnv("SMTP_PORT", "587")),
		SMTPUsername:                getEnv("SMTP_USERNAME", ""),
		SMTPPassword:                getEnv("SMTP_PASSWORD", ""),
		DigestEmailFrom:             getEnv("DIGEST_EMAIL_FROM", ""),
		DigestEmailTo:               splitCSV(getEnv("DIGEST_EMAIL_TO", "")),
		MinIOEndpoint:               getEnv("MINIO_ENDPOINT", ""),
		MinIOAccessKey:              getEnv("MINIO_ACCESS_KEY", ""),
		MinIOSecretKey:              getEnv("MINIO_SECRET_KEY", ""),
		MinIOUseSSL:                 strings.EqualFold(getEnv("MINIO_USE_SSL", "false"), "true"),
		MinioBucketCallTranscripts:  getEnv("MINIO_BUCKET_CALL_TRANSCRIPTS", "call-transcripts"),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.JWTAccessSecret == "" {
		return nil, fmt.Errorf("JWT_ACCESS_SECRET is required")
	}
	if cfg.CORSAllowAll && cfg.CORSAllowCreds {
		return nil, fmt.Errorf("CORS_ALLOW_CREDENTIALS cannot be true when CORS_ALLOW_ALL is true")
	}
	if _, err := cron.ParseStandard(cfg.ReconciliationCron); err != nil {
		return nil, fmt.Errorf("RECONCILIATION_CRON is invalid: %w", err)
	}
	if cfg.TranscriptSweepInterval <= 0 {
		return nil, fmt.Errorf("TRANSCRIPT_SWEEP_INTERVAL must be a positive duration")
	}
	if cfg.TranscriptBatchSize < 1 {
		cfg.TranscriptBatchSize = 25
	}
	if cfg.TranscriptWorkers < 1 {
		cfg.TranscriptWorkers = 1
	}
	if cfg.ReconciliationSampleSize < 1 {
		cfg.ReconciliationSampleSize = 10
	}

	return cfg, nil
}

func mustDuration(value string) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0
	}
	return d
}

func mustInt(value string) int {
	result, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return 0
	}
	return result
}

func mustFloat(value string) float64 {
	result, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return 0
	}
	return result
}

func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	results := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			results = append(results, trimmed)
		}
	}
	return results
}

func containsWildcard(values []string) bool {
	for _, value := range values {
		if value == "*" {
			return true
		}
	}
	return false
}
