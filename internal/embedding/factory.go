package embedding

import (
	"fmt"
	"strings"
)

// Options selects and configures a Provider.
type Options struct {
	Kind         string // hash | openai | ollama
	Model        string
	BaseURL      string
	APIKey       string
	Dimensions   int
	CacheMaxCost int64
	RateLimit    float64
	MaxRetries   int
}

// NewProvider builds the configured backend. Remote backends are wrapped in a
// CachedProvider; the returned cleanup releases the cache.
func NewProvider(opts Options) (Provider, func(), error) {
	kind := strings.ToLower(strings.TrimSpace(opts.Kind))
	var base Provider
	switch kind {
	case "", "hash":
		return NewHashProvider(opts.Dimensions), func() {}, nil
	case "openai":
		base = NewOpenAIProvider(OpenAIConfig{
			APIKey:     opts.APIKey,
			BaseURL:    opts.BaseURL,
			Model:      opts.Model,
			Dimensions: opts.Dimensions,
			RateLimit:  opts.RateLimit,
			MaxRetries: opts.MaxRetries,
		})
	case "ollama":
		base = NewOllamaProvider(opts.Model, opts.BaseURL, opts.Dimensions)
	default:
		return nil, nil, fmt.Errorf("unknown embedding provider %q", opts.Kind)
	}

	cached, err := NewCachedProvider(base, opts.CacheMaxCost)
	if err != nil {
		return nil, nil, err
	}
	return cached, cached.Close, nil
}
