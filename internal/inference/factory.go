package inference

import (
	"fmt"
	"strings"
	"time"

	"github.com/quantumflow/scribe/internal/models"
)

// Backend names accepted by NewProvider
const (
	BackendOllama    = "ollama"
	BackendOpenAI    = "openai"
	BackendAnthropic = "anthropic"
	BackendMock      = "mock"
)

// ProviderConfig selects and configures the generation backend
type ProviderConfig struct {
	Backend            string
	Ollama             *Config
	OpenAI             OpenAIConfig
	Anthropic          AnthropicConfig
	RateLimitPerMinute int // 0 disables rate limiting
	Pool               *PoolConfig
}

// DefaultProviderConfig returns a pooled local Ollama setup
func DefaultProviderConfig() ProviderConfig {
	return ProviderConfig{
		Backend: BackendOllama,
		Ollama:  DefaultConfig(),
		Pool:    DefaultPoolConfig(),
	}
}

// Stack is a built provider chain plus its shutdown hook
type Stack struct {
	Provider Provider
	Pool     *Pool
}

// Close drains the worker pool, if any
func (s *Stack) Close() error {
	if s.Pool == nil {
		return nil
	}
	return s.Pool.Shutdown(10 * time.Second)
}

// NewProvider builds backend → rate limiter → pool according to cfg
func NewProvider(cfg ProviderConfig) (*Stack, error) {
	var base Provider
	switch strings.ToLower(cfg.Backend) {
	case "", BackendOllama:
		base = NewClient(cfg.Ollama)
	case BackendOpenAI:
		base = NewOpenAIProvider(cfg.OpenAI)
	case BackendAnthropic:
		base = NewAnthropicProvider(cfg.Anthropic)
	case BackendMock:
		base = NewMockProvider("Mock draft: the story continues.")
	default:
		return nil, fmt.Errorf("%w: unknown provider backend %q", models.ErrConfiguration, cfg.Backend)
	}

	if cfg.RateLimitPerMinute > 0 {
		base = NewRateLimitedProvider(base, cfg.RateLimitPerMinute)
	}

	stack := &Stack{Provider: base}
	if cfg.Pool != nil {
		stack.Pool = NewPool(base, cfg.Pool)
		stack.Provider = stack.Pool
	}
	return stack, nil
}
