package inference

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// AnthropicConfig configures the Anthropic Messages provider
type AnthropicConfig struct {
	APIKey      string
	Model       string
	Temperature float64
	MaxTokens   int64
}

// AnthropicProvider generates text with the Anthropic Messages API
type AnthropicProvider struct {
	client *anthropic.Client
	cfg    AnthropicConfig
}

// NewAnthropicProvider builds a provider from cfg; an empty APIKey falls back to ANTHROPIC_API_KEY
func NewAnthropicProvider(cfg AnthropicConfig) *AnthropicProvider {
	var opts []option.RequestOption
	if cfg.APIKey != "" {
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
	}
	client := anthropic.NewClient(opts...)

	if cfg.Model == "" {
		cfg.Model = string(anthropic.ModelClaude3_5Sonnet20241022)
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = 0.7
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 1024
	}
	return &AnthropicProvider{client: &client, cfg: cfg}
}

// Generate implements Provider
func (p *AnthropicProvider) Generate(ctx context.Context, prompt string, opts GenerateOptions) (*Generation, error) {
	start := time.Now()

	temperature := p.cfg.Temperature
	if opts.Temperature > 0 {
		temperature = opts.Temperature
	}
	maxTokens := p.cfg.MaxTokens
	if opts.MaxTokens > 0 {
		maxTokens = int64(opts.MaxTokens)
	}

	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(p.cfg.Model),
		Messages:    []anthropic.MessageParam{anthropic.NewUserMessage(anthropic.NewTextBlock(prompt))},
		MaxTokens:   maxTokens,
		Temperature: anthropic.Float(temperature),
	}
	if opts.SystemPrompt != "" {
		params.System = []anthropic.TextBlockParam{{Text: opts.SystemPrompt}}
	}

	resp, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return nil, providerError("anthropic messages", err)
	}

	var sb strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			sb.WriteString(block.AsText().Text)
		}
	}
	if sb.Len() == 0 {
		return nil, providerError("anthropic messages", fmt.Errorf("response contained no text"))
	}

	return &Generation{
		Content: sb.String(),
		Model:   string(resp.Model),
		Latency: time.Since(start),
		Usage: &Usage{
			PromptTokens:     int(resp.Usage.InputTokens),
			CompletionTokens: int(resp.Usage.OutputTokens),
		},
	}, nil
}
