// Package config loads scribe settings from an optional config file,
// SCRIBE_* environment variables and built-in defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/quantumflow/scribe/internal/agent"
	"github.com/quantumflow/scribe/internal/doctor"
	"github.com/quantumflow/scribe/internal/inference"
	"github.com/quantumflow/scribe/internal/logging"
	"github.com/quantumflow/scribe/internal/memory"
	"github.com/quantumflow/scribe/internal/orchestrator"
)

const (
	configName = "scribe"
	envPrefix  = "SCRIBE"
	configDir  = ".scribe"
)

// Config is the full scribe configuration
type Config struct {
	Log          LogConfig          `mapstructure:"log"`
	Provider     ProviderConfig     `mapstructure:"provider"`
	Container    ContainerConfig    `mapstructure:"container"`
	Memory       MemoryConfig       `mapstructure:"memory"`
	Compression  CompressionConfig  `mapstructure:"compression"`
	Storage      StorageConfig      `mapstructure:"storage"`
	Orchestrator OrchestratorConfig `mapstructure:"orchestrator"`
	Doctor       DoctorConfig       `mapstructure:"doctor"`
	Audit        AuditConfig        `mapstructure:"audit"`
	StrategyPath string             `mapstructure:"strategy_path"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type ProviderConfig struct {
	Backend            string  `mapstructure:"backend"`
	OllamaURL          string  `mapstructure:"ollama_url"`
	OllamaModel        string  `mapstructure:"ollama_model"`
	OpenAIKey          string  `mapstructure:"openai_api_key"`
	OpenAIBaseURL      string  `mapstructure:"openai_base_url"`
	OpenAIModel        string  `mapstructure:"openai_model"`
	AnthropicKey       string  `mapstructure:"anthropic_api_key"`
	AnthropicModel     string  `mapstructure:"anthropic_model"`
	Temperature        float64 `mapstructure:"temperature"`
	MaxTokens          int64   `mapstructure:"max_tokens"`
	RateLimitPerMinute int     `mapstructure:"rate_limit_per_minute"`
	Workers            int     `mapstructure:"workers"`
	MaxConcurrent      int     `mapstructure:"max_concurrent"`
	QueueSize          int     `mapstructure:"queue_size"`
	LLMJudge           bool    `mapstructure:"llm_judge"`
	LLMSummaries       bool    `mapstructure:"llm_summaries"`
	LLMRouting         bool    `mapstructure:"llm_routing"`
}

type ContainerConfig struct {
	MaxDuration      time.Duration `mapstructure:"max_duration"`
	MaxRetries       int           `mapstructure:"max_retries"`
	FailureThreshold int           `mapstructure:"failure_threshold"`
	AutoRestart      bool          `mapstructure:"auto_restart"`
	RestartCooldown  time.Duration `mapstructure:"restart_cooldown"`
	BackoffBase      time.Duration `mapstructure:"backoff_base"`
	BackoffMax       time.Duration `mapstructure:"backoff_max"`
}

type MemoryConfig struct {
	Capacity     int `mapstructure:"capacity"`
	InsightLimit int `mapstructure:"insight_limit"`
}

type CompressionConfig struct {
	Interval      time.Duration `mapstructure:"interval"`
	KeepRecentRaw int           `mapstructure:"keep_recent_raw"`
	Similarity    string        `mapstructure:"similarity"` // token or embedding
	Threshold     float64       `mapstructure:"threshold"`
}

type StorageConfig struct {
	BadgerPath    string        `mapstructure:"badger_path"`
	RedisAddr     string        `mapstructure:"redis_addr"`
	RedisPassword string        `mapstructure:"redis_password"`
	RedisDB       int           `mapstructure:"redis_db"`
	RedisKey      string        `mapstructure:"redis_key"`
	RedisTTL      time.Duration `mapstructure:"redis_ttl"`
	DgraphAddr    string        `mapstructure:"dgraph_addr"`
}

type OrchestratorConfig struct {
	SuccessWindow int `mapstructure:"success_window"`
	TrendLimit    int `mapstructure:"trend_limit"`
}

type DoctorConfig struct {
	Interval time.Duration `mapstructure:"interval"`
	AutoHeal bool          `mapstructure:"auto_heal"`
}

type AuditConfig struct {
	Path string `mapstructure:"path"` // "" disables the audit log
}

func setDefaults(v *viper.Viper) {
	ollama := inference.DefaultConfig()
	pool := inference.DefaultPoolConfig()
	container := agent.DefaultContainerConfig()
	mem := memory.DefaultConfig()
	comp := memory.DefaultCompressionConfig()
	orch := orchestrator.DefaultConfig()
	doc := doctor.DefaultConfig()

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	v.SetDefault("provider.backend", inference.BackendOllama)
	v.SetDefault("provider.ollama_url", ollama.OllamaURL)
	v.SetDefault("provider.ollama_model", ollama.Model)
	v.SetDefault("provider.openai_api_key", "")
	v.SetDefault("provider.openai_base_url", "")
	v.SetDefault("provider.openai_model", "gpt-4o-mini")
	v.SetDefault("provider.anthropic_api_key", "")
	v.SetDefault("provider.anthropic_model", "claude-3-5-haiku-latest")
	v.SetDefault("provider.temperature", ollama.Temperature)
	v.SetDefault("provider.max_tokens", 1024)
	v.SetDefault("provider.rate_limit_per_minute", 0)
	v.SetDefault("provider.workers", pool.Workers)
	v.SetDefault("provider.max_concurrent", pool.MaxConcurrent)
	v.SetDefault("provider.queue_size", pool.QueueSize)
	v.SetDefault("provider.llm_judge", false)
	v.SetDefault("provider.llm_summaries", false)
	v.SetDefault("provider.llm_routing", false)

	v.SetDefault("container.max_duration", container.MaxDuration)
	v.SetDefault("container.max_retries", container.MaxRetries)
	v.SetDefault("container.failure_threshold", container.FailureThreshold)
	v.SetDefault("container.auto_restart", container.AutoRestart)
	v.SetDefault("container.restart_cooldown", container.RestartCooldown)
	v.SetDefault("container.backoff_base", container.RetryBackoff.Base)
	v.SetDefault("container.backoff_max", container.RetryBackoff.Max)

	v.SetDefault("memory.capacity", mem.Capacity)
	v.SetDefault("memory.insight_limit", mem.InsightLimit)

	v.SetDefault("compression.interval", comp.Interval)
	v.SetDefault("compression.keep_recent_raw", comp.KeepRecentRaw)
	v.SetDefault("compression.similarity", "token")
	v.SetDefault("compression.threshold", comp.SimilarityThreshold)

	v.SetDefault("storage.badger_path", "")
	v.SetDefault("storage.redis_addr", "")
	v.SetDefault("storage.redis_password", "")
	v.SetDefault("storage.redis_db", 0)
	v.SetDefault("storage.redis_key", "scribe:actions")
	v.SetDefault("storage.redis_ttl", time.Duration(0))
	v.SetDefault("storage.dgraph_addr", "")

	v.SetDefault("orchestrator.success_window", orch.SuccessWindow)
	v.SetDefault("orchestrator.trend_limit", orch.TrendLimit)

	v.SetDefault("doctor.interval", doc.Interval)
	v.SetDefault("doctor.auto_heal", doc.AutoHeal)

	v.SetDefault("audit.path", "")
	v.SetDefault("strategy_path", "")
}

// Load reads configuration. An empty configFile searches for scribe.{yaml,toml}
// in the working directory and ~/.scribe; a missing file is not an error.
func Load(v *viper.Viper, configFile string) (*Config, error) {
	if v == nil {
		v = viper.New()
	}
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName(configName)
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, configDir))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings no component can run with
func (c *Config) Validate() error {
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return err
	}
	switch c.Log.Format {
	case "json", "text":
	default:
		return fmt.Errorf("unknown log format %q", c.Log.Format)
	}
	switch strings.ToLower(c.Provider.Backend) {
	case inference.BackendOllama, inference.BackendOpenAI, inference.BackendAnthropic, inference.BackendMock:
	default:
		return fmt.Errorf("unknown provider backend %q", c.Provider.Backend)
	}
	switch c.Compression.Similarity {
	case "token", "embedding":
	default:
		return fmt.Errorf("unknown similarity strategy %q", c.Compression.Similarity)
	}
	if c.Memory.Capacity <= 0 {
		return fmt.Errorf("memory capacity must be positive, got %d", c.Memory.Capacity)
	}
	if c.Container.FailureThreshold <= 0 {
		return fmt.Errorf("container failure threshold must be positive, got %d", c.Container.FailureThreshold)
	}
	return nil
}

// LoggingConfig maps log settings onto logging.Config
func (c *Config) LoggingConfig() logging.Config {
	level, _ := logging.ParseLevel(c.Log.Level)
	out := logging.DefaultConfig()
	out.Level = level
	out.Format = c.Log.Format
	return out
}

// ProviderStack maps provider settings onto inference.ProviderConfig
func (c *Config) ProviderStack() inference.ProviderConfig {
	p := c.Provider
	ollama := inference.DefaultConfig()
	ollama.OllamaURL = p.OllamaURL
	ollama.Model = p.OllamaModel
	ollama.Temperature = p.Temperature

	return inference.ProviderConfig{
		Backend: p.Backend,
		Ollama:  ollama,
		OpenAI: inference.OpenAIConfig{
			APIKey:      p.OpenAIKey,
			BaseURL:     p.OpenAIBaseURL,
			Model:       p.OpenAIModel,
			Temperature: p.Temperature,
			MaxTokens:   p.MaxTokens,
		},
		Anthropic: inference.AnthropicConfig{
			APIKey:      p.AnthropicKey,
			Model:       p.AnthropicModel,
			Temperature: p.Temperature,
			MaxTokens:   p.MaxTokens,
		},
		RateLimitPerMinute: p.RateLimitPerMinute,
		Pool: &inference.PoolConfig{
			Workers:       p.Workers,
			QueueSize:     p.QueueSize,
			MaxConcurrent: p.MaxConcurrent,
		},
	}
}

// ContainerBudget maps container settings onto agent.ContainerConfig
func (c *Config) ContainerBudget() agent.ContainerConfig {
	out := agent.DefaultContainerConfig()
	out.MaxDuration = c.Container.MaxDuration
	out.MaxRetries = c.Container.MaxRetries
	out.FailureThreshold = c.Container.FailureThreshold
	out.AutoRestart = c.Container.AutoRestart
	out.RestartCooldown = c.Container.RestartCooldown
	out.RetryBackoff = agent.Backoff{Base: c.Container.BackoffBase, Max: c.Container.BackoffMax}
	return out
}

// PoolConfig maps memory settings onto memory.Config
func (c *Config) PoolConfig() memory.Config {
	out := memory.DefaultConfig()
	out.Capacity = c.Memory.Capacity
	out.InsightLimit = c.Memory.InsightLimit
	return out
}

// CompressionSettings maps compression settings onto memory.CompressionConfig
func (c *Config) CompressionSettings() memory.CompressionConfig {
	out := memory.DefaultCompressionConfig()
	out.Interval = c.Compression.Interval
	out.KeepRecentRaw = c.Compression.KeepRecentRaw
	out.SimilarityThreshold = c.Compression.Threshold
	return out
}

// Similarity returns the configured clustering strategy
func (c *Config) Similarity() memory.Similarity {
	if c.Compression.Similarity == "embedding" {
		return memory.NewEmbeddingSimilarity(0)
	}
	return memory.TokenOverlap{}
}

// StoreConfig maps storage settings onto memory.StoreConfig
func (c *Config) StoreConfig() memory.StoreConfig {
	s := c.Storage
	return memory.StoreConfig{
		BadgerPath: s.BadgerPath,
		Redis: memory.RedisConfig{
			Addr:     s.RedisAddr,
			Password: s.RedisPassword,
			DB:       s.RedisDB,
			Key:      s.RedisKey,
			MaxLen:   c.Memory.Capacity,
			TTL:      s.RedisTTL,
		},
		DgraphAddr: s.DgraphAddr,
	}
}

// OrchestratorSettings maps orchestrator settings onto orchestrator.Config
func (c *Config) OrchestratorSettings() orchestrator.Config {
	return orchestrator.Config{
		SuccessWindow: c.Orchestrator.SuccessWindow,
		TrendLimit:    c.Orchestrator.TrendLimit,
	}
}

// DoctorSettings maps doctor settings onto doctor.Config
func (c *Config) DoctorSettings() doctor.Config {
	out := doctor.DefaultConfig()
	out.Interval = c.Doctor.Interval
	out.AutoHeal = c.Doctor.AutoHeal
	return out
}
