package embedding

import (
	"context"
	"fmt"
	"strings"

	"github.com/philippgille/chromem-go"
)

// OllamaProvider embeds through a local Ollama server.
type OllamaProvider struct {
	embed chromem.EmbeddingFunc
	dims  int
}

// NewOllamaProvider uses baseURL, or the Ollama default when empty.
// chromem expects the API root, e.g. http://localhost:11434/api.
func NewOllamaProvider(model, baseURL string, dims int) *OllamaProvider {
	if model == "" {
		model = "nomic-embed-text"
	}
	return &OllamaProvider{
		embed: chromem.NewEmbeddingFuncOllama(model, strings.TrimSpace(baseURL)),
		dims:  dims,
	}
}

func (p *OllamaProvider) Dimensions() int { return p.dims }

func (p *OllamaProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmbeddingUnavailable
	}
	vec, err := p.embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("%w: ollama embed: %w", ErrEmbeddingUnavailable, err)
	}
	if len(vec) == 0 {
		return nil, fmt.Errorf("%w: ollama embed: empty vector", ErrEmbeddingUnavailable)
	}
	if p.dims > 0 && len(vec) != p.dims {
		return nil, fmt.Errorf("%w: ollama embed: got %d dimensions, want %d", ErrEmbeddingUnavailable, len(vec), p.dims)
	}
	return vec, nil
}
