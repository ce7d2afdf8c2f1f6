// Package narrative wraps the text-generation providers used to summarize commit history.
package narrative

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/time/rate"

	custom_errors "commitsaga/internal/errors"
)

// Tier selects between the cheaper model used per bucket and the higher-quality
// model used for the repository-level summary.
type Tier int

const (
	TierFast Tier = iota
	TierQuality
)

func (t Tier) String() string {
	if t == TierQuality {
		return "quality"
	}
	return "fast"
}

// Generator is a text-in, text-out completion service.
type Generator interface {
	Complete(ctx context.Context, prompt string, maxOutputTokens int, tier Tier) (string, error)
}

// Provider names accepted by New.
const (
	ProviderNone      = "none"
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
	ProviderGemini    = "gemini"
)

// Config selects and configures a provider.
type Config struct {
	Provider          string
	APIKey            string
	BaseURL           string
	FastModel         string
	QualityModel      string
	RequestsPerMinute int
	Timeout           time.Duration
}

type models struct {
	fast    string
	quality string
}

func (m models) forTier(t Tier) string {
	if t == TierQuality {
		return m.quality
	}
	return m.fast
}

var defaultModels = map[string]models{
	ProviderAnthropic: {fast: "claude-haiku-4-5-20251001", quality: "claude-sonnet-4-5-20250929"},
	ProviderOpenAI:    {fast: "gpt-4o-mini", quality: "gpt-4o"},
	ProviderGemini:    {fast: "gemini-2.5-flash", quality: "gemini-2.5-pro"},
}

func resolveModels(cfg Config) models {
	m := defaultModels[cfg.Provider]
	if cfg.FastModel != "" {
		m.fast = cfg.FastModel
	}
	if cfg.QualityModel != "" {
		m.quality = cfg.QualityModel
	}
	return m
}

// New builds a generator for the configured provider. An empty provider or "none"
// yields Noop. A missing API key or unknown provider is an error; callers may fall
// back to Noop and continue without generated text.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (Generator, error) {
	provider := strings.ToLower(strings.TrimSpace(cfg.Provider))
	cfg.Provider = provider
	if provider == "" || provider == ProviderNone {
		return Noop{}, nil
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%s API key is required: %w", provider, custom_errors.ErrGeneratorUnavailable)
	}

	var (
		g   Generator
		err error
	)
	switch provider {
	case ProviderAnthropic:
		g = NewAnthropic(cfg.APIKey, resolveModels(cfg), WithAnthropicBaseURL(cfg.BaseURL), WithAnthropicTimeout(cfg.Timeout))
	case ProviderOpenAI:
		g = NewOpenAI(cfg.APIKey, cfg.BaseURL, resolveModels(cfg))
	case ProviderGemini:
		g, err = NewGemini(ctx, cfg.APIKey, cfg.BaseURL, resolveModels(cfg))
	default:
		return nil, fmt.Errorf("unknown narrative provider %q: %w", provider, custom_errors.ErrGeneratorUnavailable)
	}
	if err != nil {
		return nil, err
	}

	if cfg.RequestsPerMinute > 0 {
		g = NewLimited(g, NewLimiter(cfg.RequestsPerMinute))
	}
	logger.Info("Narrative generator configured", "provider", provider, "requests_per_minute", cfg.RequestsPerMinute)
	return g, nil
}

// Noop is the generator used when no provider is available. Every call fails with
// ErrGeneratorUnavailable so callers fall back to placeholder text.
type Noop struct{}

func (Noop) Complete(context.Context, string, int, Tier) (string, error) {
	return "", custom_errors.ErrGeneratorUnavailable
}

// NewLimiter allows perMinute requests per minute with a burst of one tenth of that.
// A non-positive rate means no limit.
func NewLimiter(perMinute int) *rate.Limiter {
	if perMinute <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	burst := perMinute / 10
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), burst)
}

// Limited throttles an underlying generator with a token bucket.
type Limited struct {
	next    Generator
	limiter *rate.Limiter
}

func NewLimited(next Generator, limiter *rate.Limiter) *Limited {
	return &Limited{next: next, limiter: limiter}
}

func (l *Limited) Complete(ctx context.Context, prompt string, maxOutputTokens int, tier Tier) (string, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limiter wait failed: %w", err)
	}
	return l.next.Complete(ctx, prompt, maxOutputTokens, tier)
}
