package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config contains all runtime settings for the memory vault service.
type Config struct {
	BindAddr         string        `env:"APP_BIND_ADDR" envDefault:":8080"`
	ShutdownTimeout  time.Duration `env:"APP_SHUTDOWN_TIMEOUT" envDefault:"15s"`
	MetricsNamespace string        `env:"APP_METRICS_NAMESPACE" envDefault:"memvault"`
	AllowAnyOrigin   bool          `env:"APP_ALLOW_ANY_ORIGIN" envDefault:"false"`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`

	DatabaseURL string `env:"DATABASE_URL"`
	SQLitePath  string `env:"SQLITE_PATH"`

	EmbeddingProvider     string  `env:"EMBEDDING_PROVIDER" envDefault:"hash"`
	EmbeddingModel        string  `env:"EMBEDDING_MODEL"`
	EmbeddingBaseURL      string  `env:"EMBEDDING_BASE_URL"`
	OpenAIAPIKey          string  `env:"OPENAI_API_KEY"`
	EmbeddingDim          int     `env:"EMBEDDING_DIM" envDefault:"1536"`
	EmbeddingCacheMaxCost int64   `env:"EMBEDDING_CACHE_MAX_COST" envDefault:"67108864"`
	EmbeddingRateLimit    float64 `env:"EMBEDDING_RATE_LIMIT" envDefault:"0"`
	EmbeddingMaxRetries   int     `env:"EMBEDDING_MAX_RETRIES" envDefault:"2"`

	ExtractorProvider string `env:"EXTRACTOR_PROVIDER" envDefault:"passthrough"`
	ExtractorModel    string `env:"EXTRACTOR_MODEL"`
	ExtractorBaseURL  string `env:"EXTRACTOR_BASE_URL"`
	AnthropicAPIKey   string `env:"ANTHROPIC_API_KEY"`

	SimilarityThreshold    float64       `env:"VAULT_SIMILARITY_THRESHOLD" envDefault:"0.80"`
	SummaryAppendThreshold float64       `env:"VAULT_SUMMARY_APPEND_THRESHOLD" envDefault:"0.95"`
	CandidateWindow        int           `env:"VAULT_CANDIDATE_WINDOW" envDefault:"200"`
	RetentionPeriod        time.Duration `env:"VAULT_RETENTION_PERIOD" envDefault:"2160h"`
	RetentionInterval      time.Duration `env:"VAULT_RETENTION_INTERVAL" envDefault:"1h"`
	RedactPII              bool          `env:"VAULT_REDACT_PII" envDefault:"false"`

	ContextMaxHistory        int           `env:"CONTEXT_MAX_HISTORY" envDefault:"5"`
	ContextInactivityTimeout time.Duration `env:"CONTEXT_INACTIVITY_TIMEOUT" envDefault:"30m"`
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	return load(env.Options{})
}

// LoadFrom reads settings from environ instead of the process environment.
func LoadFrom(environ map[string]string) (Config, error) {
	return load(env.Options{Environment: environ})
}

func load(opts env.Options) (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) normalize() {
	for _, s := range []*string{
		&c.BindAddr, &c.MetricsNamespace, &c.DatabaseURL, &c.SQLitePath,
		&c.EmbeddingModel, &c.EmbeddingBaseURL, &c.OpenAIAPIKey,
		&c.ExtractorModel, &c.ExtractorBaseURL, &c.AnthropicAPIKey,
	} {
		*s = strings.TrimSpace(*s)
	}
	c.LogLevel = strings.ToLower(strings.TrimSpace(c.LogLevel))
	c.LogFormat = strings.ToLower(strings.TrimSpace(c.LogFormat))
	c.EmbeddingProvider = strings.ToLower(strings.TrimSpace(c.EmbeddingProvider))
	c.ExtractorProvider = strings.ToLower(strings.TrimSpace(c.ExtractorProvider))
}

// Validate reports every invalid setting, naming its key.
func (c Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	check(c.SimilarityThreshold > 0 && c.SimilarityThreshold <= 1,
		"VAULT_SIMILARITY_THRESHOLD must be in (0,1], got %v", c.SimilarityThreshold)
	check(c.SummaryAppendThreshold > 0 && c.SummaryAppendThreshold <= 1,
		"VAULT_SUMMARY_APPEND_THRESHOLD must be in (0,1], got %v", c.SummaryAppendThreshold)
	check(c.CandidateWindow > 0, "VAULT_CANDIDATE_WINDOW must be positive")
	check(c.RetentionPeriod > 0, "VAULT_RETENTION_PERIOD must be positive")
	check(c.RetentionInterval > 0, "VAULT_RETENTION_INTERVAL must be positive")
	check(c.EmbeddingDim > 0, "EMBEDDING_DIM must be positive")
	check(c.EmbeddingCacheMaxCost > 0, "EMBEDDING_CACHE_MAX_COST must be positive")
	check(c.EmbeddingRateLimit >= 0, "EMBEDDING_RATE_LIMIT must be >= 0")
	check(c.EmbeddingMaxRetries >= 0, "EMBEDDING_MAX_RETRIES must be >= 0")
	check(c.ContextMaxHistory > 0, "CONTEXT_MAX_HISTORY must be positive")
	check(c.ContextInactivityTimeout >= time.Second, "CONTEXT_INACTIVITY_TIMEOUT must be at least 1s")
	check(c.ShutdownTimeout > 0, "APP_SHUTDOWN_TIMEOUT must be positive")
	check(c.LogFormat == "json" || c.LogFormat == "text", "LOG_FORMAT must be json or text, got %q", c.LogFormat)

	switch c.EmbeddingProvider {
	case "hash", "ollama":
	case "openai":
		check(c.OpenAIAPIKey != "", "OPENAI_API_KEY is required when EMBEDDING_PROVIDER=openai")
	default:
		errs = append(errs, fmt.Errorf("EMBEDDING_PROVIDER must be hash, openai or ollama, got %q", c.EmbeddingProvider))
	}

	switch c.ExtractorProvider {
	case "passthrough":
	case "openai":
		check(c.OpenAIAPIKey != "", "OPENAI_API_KEY is required when EXTRACTOR_PROVIDER=openai")
	case "anthropic":
		check(c.AnthropicAPIKey != "", "ANTHROPIC_API_KEY is required when EXTRACTOR_PROVIDER=anthropic")
	default:
		errs = append(errs, fmt.Errorf("EXTRACTOR_PROVIDER must be passthrough, openai or anthropic, got %q", c.ExtractorProvider))
	}

	return errors.Join(errs...)
}

// StoreMode names the persistence backend the settings select.
func (c Config) StoreMode() string {
	switch {
	case c.DatabaseURL != "":
		return "postgres"
	case c.SQLitePath != "":
		return "sqlite"
	default:
		return "in-memory"
	}
}
