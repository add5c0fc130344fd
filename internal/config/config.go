package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Providers understood by the CLI.
const (
	ProviderGemini = "gemini"
	ProviderOpenAI = "openai"
	ProviderNAP    = "nap"
	ProviderStub   = "stub"
)

const (
	// DefaultListenAddr is used when the adapter runner does not inject an explicit address.
	DefaultListenAddr     = "127.0.0.1:50051"
	DefaultProvider       = ProviderGemini
	DefaultGeminiModel    = "gemini-2.5-flash-preview-tts"
	DefaultOpenAIModel    = "tts-1"
	DefaultLogLevel       = "info"
	DefaultInterval       = 1500 * time.Millisecond
	DefaultCacheMaxSizeMB = 100
	DefaultSubject        = "ttsbatch.progress"
	DefaultMaxRuns        = 200

	maxConcurrency = 16
	maxRetries     = 5
)

// Config captures the CLI and adapter configuration. Sources are merged by
// Loader: defaults, config file, injected JSON payload, environment, flags.
type Config struct {
	Provider  string          `mapstructure:"provider"`
	LogLevel  string          `mapstructure:"log_level"`
	Gemini    GeminiConfig    `mapstructure:"gemini"`
	OpenAI    OpenAIConfig    `mapstructure:"openai"`
	NAP       NAPConfig       `mapstructure:"nap"`
	Batch     BatchConfig     `mapstructure:"batch"`
	Archive   ArchiveConfig   `mapstructure:"archive"`
	Cache     CacheConfig     `mapstructure:"cache"`
	History   HistoryConfig   `mapstructure:"history"`
	Progress  ProgressConfig  `mapstructure:"progress"`
	Server    ServerConfig    `mapstructure:"server"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

type GeminiConfig struct {
	APIKey      string        `mapstructure:"api_key"`
	Model       string        `mapstructure:"model"`
	BaseURL     string        `mapstructure:"base_url"`
	Temperature float64       `mapstructure:"temperature"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

type OpenAIConfig struct {
	APIKey  string  `mapstructure:"api_key"`
	Model   string  `mapstructure:"model"`
	Speed   float64 `mapstructure:"speed"`
	BaseURL string  `mapstructure:"base_url"`
}

type NAPConfig struct {
	Addr string `mapstructure:"addr"`
}

// BatchConfig holds the orchestrator settings.
type BatchConfig struct {
	Voice       string        `mapstructure:"voice"`
	Instruction string        `mapstructure:"instruction"`
	Concurrency int           `mapstructure:"concurrency"`
	Interval    time.Duration `mapstructure:"interval"`
	Timeout     time.Duration `mapstructure:"timeout"`
	Retries     int           `mapstructure:"retries"`
}

type ArchiveConfig struct {
	AlwaysManifest bool `mapstructure:"always_manifest"`
	Store          bool `mapstructure:"store"`
}

type CacheConfig struct {
	Dir       string `mapstructure:"dir"`
	MaxSizeMB int    `mapstructure:"max_size_mb"`
}

type HistoryConfig struct {
	Path     string `mapstructure:"path"`
	MaxRuns  int    `mapstructure:"max_runs"`
	Disabled bool   `mapstructure:"disabled"`
}

type ProgressConfig struct {
	NATSURL   string `mapstructure:"nats_url"`
	NATSToken string `mapstructure:"nats_token"`
	Subject   string `mapstructure:"subject"`
	NoColor   bool   `mapstructure:"no_color"`
}

type ServerConfig struct {
	ListenAddr  string `mapstructure:"listen_addr"`
	MetricsAddr string `mapstructure:"metrics_addr"`
}

type TelemetryConfig struct {
	Traces       string `mapstructure:"traces"`
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`
	OTLPInsecure bool   `mapstructure:"otlp_insecure"`
	Environment  string `mapstructure:"environment"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() Config {
	return Config{
		Provider: DefaultProvider,
		LogLevel: DefaultLogLevel,
		Gemini: GeminiConfig{
			Model:       DefaultGeminiModel,
			Temperature: 1.0,
			Timeout:     2 * time.Minute,
		},
		OpenAI: OpenAIConfig{
			Model: DefaultOpenAIModel,
			Speed: 1.0,
		},
		Batch: BatchConfig{
			Concurrency: 1,
			Interval:    DefaultInterval,
		},
		Cache: CacheConfig{
			MaxSizeMB: DefaultCacheMaxSizeMB,
		},
		History: HistoryConfig{
			Path:    defaultHistoryPath(),
			MaxRuns: DefaultMaxRuns,
		},
		Progress: ProgressConfig{
			Subject: DefaultSubject,
		},
		Server: ServerConfig{
			ListenAddr: DefaultListenAddr,
		},
		Telemetry: TelemetryConfig{
			Traces:      "none",
			Environment: "local",
		},
	}
}

func defaultHistoryPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = "."
	}
	return filepath.Join(dir, "ttsbatch", "history.db")
}

// Validate applies defaults and raises an error when required fields are missing.
func (c *Config) Validate() error {
	return c.validate(true)
}

// ValidateOffline is Validate without the provider credential and address
// checks, for commands that never call a provider.
func (c *Config) ValidateOffline() error {
	return c.validate(false)
}

func (c *Config) validate(online bool) error {
	c.Provider = strings.ToLower(strings.TrimSpace(c.Provider))
	if c.Provider == "" {
		c.Provider = DefaultProvider
	}
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("config: unknown log_level %q", c.LogLevel)
	}

	switch c.Provider {
	case ProviderGemini:
		if online && c.Gemini.APIKey == "" {
			return fmt.Errorf("config: gemini.api_key is required (set GEMINI_API_KEY)")
		}
		if c.Gemini.Model == "" {
			c.Gemini.Model = DefaultGeminiModel
		}
		if c.Gemini.Temperature < 0.0 || c.Gemini.Temperature > 2.0 {
			return fmt.Errorf("config: gemini.temperature must be between 0.0 and 2.0, got %f", c.Gemini.Temperature)
		}
	case ProviderOpenAI:
		if online && c.OpenAI.APIKey == "" {
			return fmt.Errorf("config: openai.api_key is required (set OPENAI_API_KEY)")
		}
		if c.OpenAI.Model == "" {
			c.OpenAI.Model = DefaultOpenAIModel
		}
		if c.OpenAI.Speed < 0.25 || c.OpenAI.Speed > 4.0 {
			return fmt.Errorf("config: openai.speed must be between 0.25 and 4.0, got %f", c.OpenAI.Speed)
		}
	case ProviderNAP:
		if online && c.NAP.Addr == "" {
			return fmt.Errorf("config: nap.addr is required for the nap provider")
		}
	case ProviderStub:
	default:
		return fmt.Errorf("config: unknown provider %q", c.Provider)
	}

	if c.Batch.Concurrency <= 0 {
		c.Batch.Concurrency = 1
	}
	if c.Batch.Concurrency > maxConcurrency {
		return fmt.Errorf("config: batch.concurrency must be at most %d, got %d", maxConcurrency, c.Batch.Concurrency)
	}
	if c.Batch.Retries < 0 || c.Batch.Retries > maxRetries {
		return fmt.Errorf("config: batch.retries must be between 0 and %d, got %d", maxRetries, c.Batch.Retries)
	}
	if c.Batch.Interval < 0 {
		return fmt.Errorf("config: batch.interval must not be negative")
	}
	if c.Batch.Timeout < 0 {
		return fmt.Errorf("config: batch.timeout must not be negative")
	}
	if c.Cache.MaxSizeMB < 0 {
		return fmt.Errorf("config: cache.max_size_mb must not be negative")
	}
	if c.Server.ListenAddr == "" {
		c.Server.ListenAddr = DefaultListenAddr
	}
	if c.Progress.Subject == "" {
		c.Progress.Subject = DefaultSubject
	}
	return nil
}

// ProviderNamespace identifies the provider and model for cache keys.
func (c Config) ProviderNamespace() string {
	switch c.Provider {
	case ProviderGemini:
		return fmt.Sprintf("%s/%s/t=%g", c.Provider, c.Gemini.Model, c.Gemini.Temperature)
	case ProviderOpenAI:
		return fmt.Sprintf("%s/%s/s=%g", c.Provider, c.OpenAI.Model, c.OpenAI.Speed)
	case ProviderNAP:
		return c.Provider + "/" + c.NAP.Addr
	default:
		return c.Provider
	}
}
