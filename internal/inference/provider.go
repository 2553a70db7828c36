package inference

import (
	"context"
	"fmt"
	"time"

	"github.com/quantumflow/scribe/internal/models"
)

// Provider is the text-generation backend consumed by agents.
// Every error returned is treated as recoverable by callers.
type Provider interface {
	Generate(ctx context.Context, prompt string, opts GenerateOptions) (*Generation, error)
}

// GenerateOptions tunes a single generation call
type GenerateOptions struct {
	SystemPrompt string
	Temperature  float64 // 0 means provider default
	MaxTokens    int     // 0 means provider default
}

// Usage reports token accounting when the backend provides it
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

// Generation is the result of one provider call
type Generation struct {
	Content string        `json:"content"`
	Usage   *Usage        `json:"usage,omitempty"`
	Model   string        `json:"model"`
	Latency time.Duration `json:"latency"`
}

// ProviderFunc adapts a function to the Provider interface
type ProviderFunc func(ctx context.Context, prompt string, opts GenerateOptions) (*Generation, error)

// Generate calls f
func (f ProviderFunc) Generate(ctx context.Context, prompt string, opts GenerateOptions) (*Generation, error) {
	return f(ctx, prompt, opts)
}

// providerError tags err as a provider failure unless it already carries a kind
func providerError(op string, err error) error {
	if models.ClassifyError(err) != models.ErrorKindUnknown {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %w", op, models.ErrProvider, err)
}
