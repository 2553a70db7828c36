package inference

import (
	"context"
	"sync"
	"time"
)

// MockProvider is an in-memory Provider for tests and offline runs.
// Responses are served in order; the last one repeats once exhausted.
type MockProvider struct {
	mu        sync.Mutex
	responses []string
	errs      []error
	delay     time.Duration
	calls     int
	prompts   []string
	onGen     func(prompt string, opts GenerateOptions) (string, error)
}

// NewMockProvider returns a provider that replies with responses in order
func NewMockProvider(responses ...string) *MockProvider {
	if len(responses) == 0 {
		responses = []string{"mock response"}
	}
	return &MockProvider{responses: responses}
}

// WithErrors makes the first len(errs) calls fail with the given errors; nil entries succeed
func (m *MockProvider) WithErrors(errs ...error) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errs = errs
	return m
}

// WithDelay makes every call block for d or until ctx is done
func (m *MockProvider) WithDelay(d time.Duration) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay = d
	return m
}

// WithFunc replaces canned responses with fn
func (m *MockProvider) WithFunc(fn func(prompt string, opts GenerateOptions) (string, error)) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onGen = fn
	return m
}

// Generate implements Provider
func (m *MockProvider) Generate(ctx context.Context, prompt string, opts GenerateOptions) (*Generation, error) {
	m.mu.Lock()
	idx := m.calls
	m.calls++
	m.prompts = append(m.prompts, prompt)
	delay := m.delay
	fn := m.onGen
	var err error
	if idx < len(m.errs) {
		err = m.errs[idx]
	}
	content := m.responses[min(idx, len(m.responses)-1)]
	m.mu.Unlock()

	start := time.Now()
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, providerError("mock", err)
	}
	if fn != nil {
		content, err = fn(prompt, opts)
		if err != nil {
			return nil, providerError("mock", err)
		}
	}

	return &Generation{
		Content: content,
		Model:   "mock",
		Latency: time.Since(start),
		Usage:   &Usage{PromptTokens: len(prompt) / 4, CompletionTokens: len(content) / 4},
	}, nil
}

// Calls returns how many times Generate was invoked
func (m *MockProvider) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Prompts returns every prompt received so far
func (m *MockProvider) Prompts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.prompts))
	copy(out, m.prompts)
	return out
}
