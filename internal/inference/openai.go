package inference

import (
	"context"
	"fmt"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// OpenAIConfig configures the OpenAI chat completions provider
type OpenAIConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float64
	MaxTokens   int64
}

// OpenAIProvider generates text with the OpenAI Chat Completions API
type OpenAIProvider struct {
	client *openai.Client
	cfg    OpenAIConfig
}

// NewOpenAIProvider builds a provider from cfg; an empty APIKey falls back to OPENAI_API_KEY
func NewOpenAIProvider(cfg OpenAIConfig) *OpenAIProvider {
	var opts []option.RequestOption
	if cfg.APIKey != "" {
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	client := openai.NewClient(opts...)
	return NewOpenAIProviderFromClient(&client, cfg)
}

// NewOpenAIProviderFromClient wraps an existing client
func NewOpenAIProviderFromClient(client *openai.Client, cfg OpenAIConfig) *OpenAIProvider {
	if cfg.Model == "" {
		cfg.Model = openai.ChatModelGPT4oMini
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = 0.7
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 1024
	}
	return &OpenAIProvider{client: client, cfg: cfg}
}

// Generate implements Provider
func (p *OpenAIProvider) Generate(ctx context.Context, prompt string, opts GenerateOptions) (*Generation, error) {
	start := time.Now()

	messages := []openai.ChatCompletionMessageParamUnion{}
	if opts.SystemPrompt != "" {
		messages = append(messages, openai.SystemMessage(opts.SystemPrompt))
	}
	messages = append(messages, openai.UserMessage(prompt))

	temperature := p.cfg.Temperature
	if opts.Temperature > 0 {
		temperature = opts.Temperature
	}
	maxTokens := p.cfg.MaxTokens
	if opts.MaxTokens > 0 {
		maxTokens = int64(opts.MaxTokens)
	}

	resp, err := p.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Messages:            messages,
		Model:               p.cfg.Model,
		Temperature:         openai.Float(temperature),
		MaxCompletionTokens: openai.Int(maxTokens),
	})
	if err != nil {
		return nil, providerError("openai chat completion", err)
	}
	if len(resp.Choices) == 0 {
		return nil, providerError("openai chat completion", fmt.Errorf("no choices returned"))
	}

	return &Generation{
		Content: resp.Choices[0].Message.Content,
		Model:   resp.Model,
		Latency: time.Since(start),
		Usage: &Usage{
			PromptTokens:     int(resp.Usage.PromptTokens),
			CompletionTokens: int(resp.Usage.CompletionTokens),
		},
	}, nil
}
