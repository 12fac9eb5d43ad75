package config

import (
	"fmt"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config holds all configuration for applykit-engine.
// Configuration can come from YAML file (config.yaml) or environment variables.
// Environment variables always override YAML values for fields that support both.
// Secrets (API keys) must only come from environment variables.
type Config struct {
	// Server configuration
	BindAddr string `yaml:"bind_addr" env:"BIND_ADDR" env-default:"127.0.0.1"`
	Port     string `yaml:"port" env:"PORT" env-default:"8090"`
	Env      string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`
	LogLevel string `yaml:"log_level" env:"LOG_LEVEL" env-default:"info"`
	Version  string `yaml:"-"` // Set at load time, not from config

	// Inference provider configuration
	Inference InferenceConfig `yaml:"inference"`

	// Response cache configuration
	Cache CacheConfig `yaml:"cache"`

	// Metrics and system telemetry configuration
	Metrics MetricsConfig `yaml:"metrics"`
}

// InferenceConfig holds settings for the model provider and retry policy.
type InferenceConfig struct {
	// Provider selects the provider implementation: "openai" (any
	// OpenAI-compatible endpoint, including local vLLM/Ollama) or "anthropic".
	Provider string `yaml:"provider" env:"INFERENCE_PROVIDER" env-default:"openai"`

	// Endpoint is the base URL of the completion endpoint.
	// Only used by the openai provider.
	Endpoint string `yaml:"endpoint" env:"INFERENCE_ENDPOINT" env-default:"http://localhost:11434/v1"`

	// Model is the primary model name.
	Model string `yaml:"model" env:"INFERENCE_MODEL" env-default:"qwen2.5:7b"`

	// FallbackModel is substituted for the remainder of a single call after
	// the primary model fails. Empty disables fallback.
	FallbackModel string `yaml:"fallback_model" env:"INFERENCE_FALLBACK_MODEL" env-default:""`

	// APIKey is optional for local endpoints.
	APIKey string `yaml:"-" env:"INFERENCE_API_KEY"` // Secret - not in YAML

	// MaxRetries is the number of provider attempts per call.
	MaxRetries int `yaml:"max_retries" env:"INFERENCE_MAX_RETRIES" env-default:"3"`

	// TimeoutSeconds is the per-attempt provider timeout.
	TimeoutSeconds int `yaml:"timeout_seconds" env:"INFERENCE_TIMEOUT_SECONDS" env-default:"120"`
}

// Timeout returns the per-attempt timeout as a duration.
func (c *InferenceConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// CacheConfig holds response cache settings.
type CacheConfig struct {
	// Dir is the directory for the file tier. One JSON file per key.
	Dir string `yaml:"dir" env:"CACHE_DIR" env-default:"data/cache"`

	// TTLHours is the default time-to-live for cached responses.
	TTLHours int `yaml:"ttl_hours" env:"CACHE_TTL_HOURS" env-default:"24"`

	// MemoryCapacity bounds the in-memory LRU tier by entry count.
	MemoryCapacity int `yaml:"memory_capacity" env:"CACHE_MEMORY_CAPACITY" env-default:"100"`
}

// TTL returns the default entry TTL as a duration.
func (c *CacheConfig) TTL() time.Duration {
	return time.Duration(c.TTLHours) * time.Hour
}

// MetricsConfig holds telemetry persistence and sampler settings.
type MetricsConfig struct {
	// Dir is the directory for monthly shard files and the archive/ subdir.
	Dir string `yaml:"dir" env:"METRICS_DIR" env-default:"data/metrics"`

	// RetentionDays is how long entries stay in the active month files
	// before being moved to the archive.
	RetentionDays int `yaml:"retention_days" env:"METRICS_RETENTION_DAYS" env-default:"30"`

	// SampleIntervalSeconds is the system sampler period.
	SampleIntervalSeconds int `yaml:"sample_interval_seconds" env:"METRICS_SAMPLE_INTERVAL_SECONDS" env-default:"10"`

	// SystemWindowMinutes bounds the rolling system-metrics series by age.
	SystemWindowMinutes int `yaml:"system_window_minutes" env:"METRICS_SYSTEM_WINDOW_MINUTES" env-default:"60"`
}

// SampleInterval returns the sampler period as a duration.
func (c *MetricsConfig) SampleInterval() time.Duration {
	return time.Duration(c.SampleIntervalSeconds) * time.Second
}

// SystemWindow returns the rolling window for system points as a duration.
func (c *MetricsConfig) SystemWindow() time.Duration {
	return time.Duration(c.SystemWindowMinutes) * time.Minute
}

// Load reads configuration from config.yaml (if present) and environment
// variables, validates it, and returns the result.
func Load(version string) (*Config, error) {
	cfg := &Config{
		Version: version,
	}

	if _, err := os.Stat("config.yaml"); err == nil {
		if err := cleanenv.ReadConfig("config.yaml", cfg); err != nil {
			return nil, fmt.Errorf("failed to read config.yaml: %w", err)
		}
	} else {
		if err := cleanenv.ReadEnv(cfg); err != nil {
			return nil, fmt.Errorf("failed to read environment: %w", err)
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Inference.Provider {
	case "openai", "anthropic":
	default:
		return fmt.Errorf("unknown inference provider %q", c.Inference.Provider)
	}
	if c.Inference.Provider == "openai" && c.Inference.Endpoint == "" {
		return fmt.Errorf("inference endpoint is required")
	}
	if c.Inference.Model == "" {
		return fmt.Errorf("inference model is required")
	}
	if c.Inference.MaxRetries < 1 {
		return fmt.Errorf("max_retries must be at least 1")
	}
	if c.Cache.MemoryCapacity < 1 {
		return fmt.Errorf("cache memory_capacity must be at least 1")
	}
	if c.Metrics.RetentionDays < 1 {
		return fmt.Errorf("metrics retention_days must be at least 1")
	}
	if c.Metrics.SampleIntervalSeconds < 1 {
		return fmt.Errorf("metrics sample_interval_seconds must be at least 1")
	}
	return nil
}
