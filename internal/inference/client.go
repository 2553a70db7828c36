package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Config holds the Ollama client configuration
type Config struct {
	OllamaURL   string  // Default: http://localhost:11434
	Model       string  // Default: llama3.1:8b
	ContextSize int     // Default: 8192
	Temperature float64 // Default: 0.7
	Timeout     time.Duration
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		OllamaURL:   "http://localhost:11434",
		Model:       "llama3.1:8b",
		ContextSize: 8192,
		Temperature: 0.7,
		Timeout:     2 * time.Minute,
	}
}

// OllamaClient talks to a local Ollama server
type OllamaClient struct {
	config     *Config
	httpClient *http.Client
}

// NewClient creates a new Ollama client
func NewClient(config *Config) *OllamaClient {
	if config == nil {
		config = DefaultConfig()
	}

	return &OllamaClient{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
	}
}

// generateRequest is the body of Ollama's /api/generate
type generateRequest struct {
	Model   string         `json:"model"`
	Prompt  string         `json:"prompt"`
	System  string         `json:"system,omitempty"`
	Stream  bool           `json:"stream"`
	Options map[string]any `json:"options,omitempty"`
}

// generateResponse is the non-streaming reply of /api/generate
type generateResponse struct {
	Model           string `json:"model"`
	Response        string `json:"response"`
	Done            bool   `json:"done"`
	PromptEvalCount int    `json:"prompt_eval_count,omitempty"`
	EvalCount       int    `json:"eval_count,omitempty"`
	EvalDuration    int64  `json:"eval_duration,omitempty"`
}

// Generate performs a synchronous (non-streaming) generation
func (c *OllamaClient) Generate(ctx context.Context, prompt string, opts GenerateOptions) (*Generation, error) {
	startTime := time.Now()

	temperature := c.config.Temperature
	if opts.Temperature > 0 {
		temperature = opts.Temperature
	}
	options := map[string]any{
		"num_ctx":     c.config.ContextSize,
		"temperature": temperature,
	}
	if opts.MaxTokens > 0 {
		options["num_predict"] = opts.MaxTokens
	}

	body, err := json.Marshal(generateRequest{
		Model:   c.config.Model,
		Prompt:  prompt,
		System:  opts.SystemPrompt,
		Stream:  false,
		Options: options,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.OllamaURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, providerError("ollama request", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return nil, providerError("ollama generate", fmt.Errorf("unexpected status code %d: %s", resp.StatusCode, string(bodyBytes)))
	}

	var genResp generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&genResp); err != nil {
		return nil, providerError("ollama decode", err)
	}

	return &Generation{
		Content: genResp.Response,
		Model:   genResp.Model,
		Latency: time.Since(startTime),
		Usage: &Usage{
			PromptTokens:     genResp.PromptEvalCount,
			CompletionTokens: genResp.EvalCount,
		},
	}, nil
}

// ListModels lists available models
func (c *OllamaClient) ListModels(ctx context.Context) ([]string, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.config.OllamaURL+"/api/tags", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, providerError("ollama tags", err)
	}
	defer resp.Body.Close()

	var result struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}

	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	names := make([]string, len(result.Models))
	for i, m := range result.Models {
		names[i] = m.Name
	}

	return names, nil
}
