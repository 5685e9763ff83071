package embedding

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/antoniostano/memvault/internal/reliability"
	openai "github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"
)

type OpenAIConfig struct {
	APIKey     string
	BaseURL    string
	Model      string
	Dimensions int
	// RateLimit is requests per second; 0 disables limiting.
	RateLimit  float64
	MaxRetries int
}

// OpenAIProvider calls an OpenAI-compatible /embeddings endpoint.
type OpenAIProvider struct {
	client  *openai.Client
	model   string
	dims    int
	limiter *rate.Limiter
	backoff reliability.Backoff
}

func NewOpenAIProvider(cfg OpenAIConfig) *OpenAIProvider {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if base := strings.TrimSpace(cfg.BaseURL); base != "" {
		clientCfg.BaseURL = base
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = string(openai.SmallEmbedding3)
	}
	p := &OpenAIProvider{
		client: openai.NewClientWithConfig(clientCfg),
		model:  model,
		dims:   cfg.Dimensions,
		backoff: reliability.Backoff{
			Attempts: cfg.MaxRetries + 1,
			Base:     250 * time.Millisecond,
			Cap:      4 * time.Second,
		},
	}
	if cfg.RateLimit > 0 {
		burst := int(cfg.RateLimit)
		if burst < 1 {
			burst = 1
		}
		p.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	return p
}

func (p *OpenAIProvider) Dimensions() int { return p.dims }

func (p *OpenAIProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmbeddingUnavailable
	}

	req := openai.EmbeddingRequest{
		Input: []string{text},
		Model: openai.EmbeddingModel(p.model),
	}
	// Only the text-embedding-3 family accepts a requested size.
	if p.dims > 0 && strings.HasPrefix(p.model, "text-embedding-3") {
		req.Dimensions = p.dims
	}

	var vec []float32
	err := p.backoff.Do(ctx, func(ctx context.Context) error {
		if p.limiter != nil {
			if err := p.limiter.Wait(ctx); err != nil {
				return err
			}
		}
		resp, err := p.client.CreateEmbeddings(ctx, req)
		if err != nil {
			return err
		}
		if len(resp.Data) == 0 || len(resp.Data[0].Embedding) == 0 {
			return errors.New("empty embedding response")
		}
		vec = resp.Data[0].Embedding
		return nil
	}, isRetryableOpenAIError)
	if err != nil {
		return nil, fmt.Errorf("%w: openai embed: %w", ErrEmbeddingUnavailable, err)
	}
	if p.dims > 0 && len(vec) != p.dims {
		return nil, fmt.Errorf("%w: openai embed: got %d dimensions, want %d", ErrEmbeddingUnavailable, len(vec), p.dims)
	}
	return vec, nil
}

func isRetryableOpenAIError(err error) bool {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return reliability.IsRetryableHTTPStatus(apiErr.HTTPStatusCode)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reliability.IsRetryableHTTPStatus(reqErr.HTTPStatusCode)
	}
	return false
}
