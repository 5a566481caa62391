package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Environment string `envconfig:"ENVIRONMENT" default:"local"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	DatabaseURL string `envconfig:"DATABASE_URL" default:""`
	DBMinConns  int32  `envconfig:"CURATOR_DB_MIN_CONNS" default:"1"`
	DBMaxConns  int32  `envconfig:"CURATOR_DB_MAX_CONNS" default:"8"`

	EmbeddingEndpoint       string        `envconfig:"EMBEDDING_ENDPOINT" default:""`
	EmbeddingAPIKeys        string        `envconfig:"EMBEDDING_API_KEYS" default:""`
	EmbeddingModel          string        `envconfig:"EMBEDDING_MODEL" default:"mistral-embed"`
	EmbeddingBatchSize      int           `envconfig:"EMBEDDING_BATCH_SIZE" default:"5"`
	EmbeddingMaxLength      int           `envconfig:"EMBEDDING_MAX_LENGTH" default:"512"`
	EmbeddingMinInterval    time.Duration `envconfig:"EMBEDDING_MIN_INTERVAL" default:"1s"`
	EmbeddingRequestTimeout time.Duration `envconfig:"EMBEDDING_REQUEST_TIMEOUT" default:"45s"`

	ProviderTimeout time.Duration `envconfig:"CURATOR_PROVIDER_TIMEOUT" default:"60s"`
	ScoringConfig   string        `envconfig:"CURATOR_SCORING_CONFIG" default:""`
	Workers         int           `envconfig:"CURATOR_WORKERS" default:"0"`
	Languages       string        `envconfig:"CURATOR_LANGUAGES" default:"ru,en"`
	FeedDir         string        `envconfig:"CURATOR_FEED_DIR" default:""`
	APITokenHash    string        `envconfig:"CURATOR_API_TOKEN_HASH" default:""`

	S3Bucket       string `envconfig:"S3_BUCKET" default:""`
	S3Region       string `envconfig:"S3_REGION" default:"us-east-1"`
	S3Endpoint     string `envconfig:"S3_ENDPOINT" default:""`
	S3AccessKey    string `envconfig:"S3_ACCESS_KEY_ID" default:""`
	S3SecretKey    string `envconfig:"S3_SECRET_ACCESS_KEY" default:""`
	S3UsePathStyle bool   `envconfig:"S3_USE_PATH_STYLE" default:"false"`
	S3Prefix       string `envconfig:"S3_PREFIX" default:"feeds"`

	CollectorBaseURL     string        `envconfig:"COLLECTOR_BASE_URL" default:"https://t.me"`
	CollectorConcurrency int           `envconfig:"COLLECTOR_CONCURRENCY" default:"4"`
	CollectorTimeout     time.Duration `envconfig:"COLLECTOR_TIMEOUT" default:"20s"`
	CollectorUserAgent   string        `envconfig:"COLLECTOR_USER_AGENT" default:"Mozilla/5.0 (compatible; curator/1.0)"`

	CORSAllowedOrigins string `envconfig:"CORS_ALLOWED_ORIGINS" default:""`
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.DBMinConns < 0 {
		return fmt.Errorf("CURATOR_DB_MIN_CONNS must be >= 0")
	}
	if c.DBMaxConns < 1 {
		return fmt.Errorf("CURATOR_DB_MAX_CONNS must be >= 1")
	}
	if c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("CURATOR_DB_MIN_CONNS (%d) cannot exceed CURATOR_DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
	}
	if c.EmbeddingBatchSize < 1 {
		return fmt.Errorf("EMBEDDING_BATCH_SIZE must be >= 1")
	}
	if c.EmbeddingMaxLength < 1 {
		return fmt.Errorf("EMBEDDING_MAX_LENGTH must be >= 1")
	}
	if c.EmbeddingMinInterval < 0 {
		return fmt.Errorf("EMBEDDING_MIN_INTERVAL must be >= 0")
	}
	if c.EmbeddingRequestTimeout <= 0 {
		return fmt.Errorf("EMBEDDING_REQUEST_TIMEOUT must be > 0")
	}
	if c.ProviderTimeout <= 0 {
		return fmt.Errorf("CURATOR_PROVIDER_TIMEOUT must be > 0")
	}
	if c.Workers < 0 {
		return fmt.Errorf("CURATOR_WORKERS must be >= 0")
	}
	if c.CollectorConcurrency < 1 {
		return fmt.Errorf("COLLECTOR_CONCURRENCY must be >= 1")
	}
	if c.CollectorTimeout <= 0 {
		return fmt.Errorf("COLLECTOR_TIMEOUT must be > 0")
	}
	if strings.TrimSpace(c.CollectorBaseURL) == "" {
		return fmt.Errorf("COLLECTOR_BASE_URL is required")
	}
	if (strings.TrimSpace(c.S3AccessKey) == "") != (strings.TrimSpace(c.S3SecretKey) == "") {
		return fmt.Errorf("S3_ACCESS_KEY_ID and S3_SECRET_ACCESS_KEY must be set together")
	}
	return nil
}

func (c *Config) HasDatabase() bool {
	return c != nil && strings.TrimSpace(c.DatabaseURL) != ""
}

func (c *Config) HasS3() bool {
	return c != nil && strings.TrimSpace(c.S3Bucket) != ""
}

func (c *Config) EmbeddingAPIKeyList() []string {
	if c == nil {
		return nil
	}
	return splitList(c.EmbeddingAPIKeys)
}

// LanguageList returns lowercased language codes, "" entries dropped.
func (c *Config) LanguageList() []string {
	if c == nil {
		return nil
	}
	codes := splitList(strings.ToLower(c.Languages))
	if len(codes) == 0 {
		return nil
	}
	return codes
}

func (c *Config) CORSAllowedOriginsList() []string {
	if c == nil {
		return nil
	}
	return splitList(c.CORSAllowedOrigins)
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	values := make([]string, 0, len(parts))
	seen := make(map[string]struct{}, len(parts))
	for _, part := range parts {
		value := strings.TrimSpace(part)
		if value == "" {
			continue
		}
		if _, exists := seen[value]; exists {
			continue
		}
		seen[value] = struct{}{}
		values = append(values, value)
	}
	return values
}
