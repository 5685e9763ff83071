package extract

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const defaultAnthropicModel = "claude-3-5-haiku-latest"

// AnthropicExtractor asks Claude for the record fields through the Messages API.
type AnthropicExtractor struct {
	client    anthropic.Client
	model     string
	maxTokens int64
}

func NewAnthropicExtractor(apiKey, model string, opts ...option.RequestOption) *AnthropicExtractor {
	if model == "" {
		model = defaultAnthropicModel
	}
	reqOpts := append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)
	return &AnthropicExtractor{
		client:    anthropic.NewClient(reqOpts...),
		model:     model,
		maxTokens: 600,
	}
}

func (e *AnthropicExtractor) Extract(ctx context.Context, req Request) (*Extraction, error) {
	if strings.TrimSpace(req.RawText) == "" {
		return nil, fmt.Errorf("%w: empty text", ErrExtractionFailed)
	}
	resp, err := e.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(e.model),
		MaxTokens: e.maxTokens,
		System: []anthropic.TextBlockParam{
			{Text: systemPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(userPrompt(req))),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: anthropic: %w", ErrExtractionFailed, err)
	}
	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	out, err := parseExtraction(text.String())
	if err != nil {
		return nil, err
	}
	return finish(out, req), nil
}
