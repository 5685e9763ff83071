package extract

import (
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go/option"
)

type Options struct {
	Kind            string // passthrough | openai | anthropic
	Model           string
	OpenAIAPIKey    string
	AnthropicAPIKey string
	// BaseURL points the remote extractor at a compatible endpoint.
	BaseURL         string
}

func New(opts Options) (Extractor, error) {
	switch strings.ToLower(strings.TrimSpace(opts.Kind)) {
	case "", "passthrough":
		return NewPassthroughExtractor(), nil
	case "openai":
		return NewOpenAIExtractor(opts.OpenAIAPIKey, opts.BaseURL, opts.Model), nil
	case "anthropic":
		var reqOpts []option.RequestOption
		if base := strings.TrimSpace(opts.BaseURL); base != "" {
			reqOpts = append(reqOpts, option.WithBaseURL(base))
		}
		return NewAnthropicExtractor(opts.AnthropicAPIKey, opts.Model, reqOpts...), nil
	default:
		return nil, fmt.Errorf("unknown extractor provider %q", opts.Kind)
	}
}
