// internal/config/config.go
package config

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"commitsaga/internal/model"
)

// Config holds all configuration for the application.
type Config struct {
	LogLevel  string `mapstructure:"LOG_LEVEL"`
	LogFormat string `mapstructure:"LOG_FORMAT"`
	DBURL     string `mapstructure:"DB_URL"`
	HTTPAddr  string `mapstructure:"HTTP_ADDR"`

	GithubToken           string `mapstructure:"GITHUB_TOKEN"`
	GithubRequestsPerHour int    `mapstructure:"GITHUB_REQUESTS_PER_HOUR"`

	WorkerConcurrency  int               `mapstructure:"WORKER_CONCURRENCY"`
	RetryBackoff       time.Duration     `mapstructure:"RETRY_BACKOFF"`
	MaxAttempts        int               `mapstructure:"MAX_ATTEMPTS"`
	SyncInterval       time.Duration     `mapstructure:"SYNC_INTERVAL"`
	ReposToSync        []string          `mapstructure:"REPOS_TO_SYNC"`
	DefaultGranularity string            `mapstructure:"DEFAULT_GRANULARITY"`
	Granularity        model.Granularity `mapstructure:"-"`

	AIProvider          string `mapstructure:"AI_PROVIDER"`
	AnthropicAPIKey     string `mapstructure:"ANTHROPIC_API_KEY"`
	OpenAIAPIKey        string `mapstructure:"OPENAI_API_KEY"`
	OpenAIBaseURL       string `mapstructure:"OPENAI_BASE_URL"`
	GeminiAPIKey        string `mapstructure:"GEMINI_API_KEY"`
	AIFastModel         string `mapstructure:"AI_FAST_MODEL"`
	AIQualityModel      string `mapstructure:"AI_QUALITY_MODEL"`
	AIRequestsPerMinute int    `mapstructure:"AI_REQUESTS_PER_MINUTE"`

	AWSSecretID string `mapstructure:"AWS_SECRET_ID"`
	OtelEnabled bool   `mapstructure:"OTEL_ENABLED"`
	ServiceName string `mapstructure:"OTEL_SERVICE_NAME"`
}

// Every key needs a default so that AutomaticEnv picks it up during Unmarshal.
var defaults = map[string]any{
	"LOG_LEVEL":                "info",
	"LOG_FORMAT":               "json",
	"DB_URL":                   "",
	"HTTP_ADDR":                ":8080",
	"GITHUB_TOKEN":             "",
	"GITHUB_REQUESTS_PER_HOUR": 5000,
	"WORKER_CONCURRENCY":       5,
	"RETRY_BACKOFF":            "60s",
	"MAX_ATTEMPTS":             3,
	"SYNC_INTERVAL":            "1h",
	"REPOS_TO_SYNC":            []string{},
	"DEFAULT_GRANULARITY":      string(model.Weekly),
	"AI_PROVIDER":              "",
	"ANTHROPIC_API_KEY":        "",
	"OPENAI_API_KEY":           "",
	"OPENAI_BASE_URL":          "",
	"GEMINI_API_KEY":           "",
	"AI_FAST_MODEL":            "",
	"AI_QUALITY_MODEL":         "",
	"AI_REQUESTS_PER_MINUTE":   50,
	"AWS_SECRET_ID":            "",
	"OTEL_ENABLED":             false,
	"OTEL_SERVICE_NAME":        "commitsaga",
}

// LoadConfig reads configuration from file and/or environment variables. When
// AWS_SECRET_ID is set, tokens missing from the environment are read from AWS
// Secrets Manager.
func LoadConfig(ctx context.Context) (*Config, error) {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	// Load from .env file if it exists
	v.SetConfigName(".env")
	v.SetConfigType("env")
	v.AddConfigPath(".")
	_ = v.ReadInConfig() // Ignore error if file not found

	// Bind environment variables
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if cfg.AWSSecretID != "" {
		if err := applySecrets(ctx, &cfg); err != nil {
			return nil, err
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (cfg *Config) validate() error {
	if cfg.DBURL == "" {
		return errors.New("DB_URL is a required configuration field")
	}
	if cfg.GithubToken == "" {
		return errors.New("GITHUB_TOKEN is a required configuration field")
	}

	granularity, err := model.ParseGranularity(cfg.DefaultGranularity)
	if err != nil {
		return fmt.Errorf("DEFAULT_GRANULARITY: %w", err)
	}
	cfg.Granularity = granularity

	cfg.AIProvider = strings.ToLower(strings.TrimSpace(cfg.AIProvider))
	switch cfg.AIProvider {
	case "", "none", "anthropic", "openai", "gemini":
	default:
		return fmt.Errorf("AI_PROVIDER must be one of anthropic, openai, gemini or none, got %q", cfg.AIProvider)
	}

	if cfg.WorkerConcurrency <= 0 {
		return errors.New("WORKER_CONCURRENCY must be positive")
	}
	if cfg.MaxAttempts <= 0 {
		return errors.New("MAX_ATTEMPTS must be positive")
	}
	return nil
}

// AIAPIKey returns the API key of the configured generator provider.
func (cfg *Config) AIAPIKey() string {
	switch cfg.AIProvider {
	case "anthropic":
		return cfg.AnthropicAPIKey
	case "openai":
		return cfg.OpenAIAPIKey
	case "gemini":
		return cfg.GeminiAPIKey
	default:
		return ""
	}
}
