package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Environment variables read outside the TTSBATCH_ prefix.
const (
	EnvPayload        = "TTSBATCH_CONFIG"
	EnvAdapterPayload = "NUPI_ADAPTER_CONFIG"
	EnvListenAddr     = "NUPI_ADAPTER_LISTEN_ADDR"
	EnvDataDir        = "NUPI_ADAPTER_DATA_DIR"
	EnvLogLevel       = "NUPI_LOG_LEVEL"
	EnvGeminiAPIKey   = "GEMINI_API_KEY"
	EnvOpenAIAPIKey   = "OPENAI_API_KEY"

	envPrefix = "TTSBATCH_"
)

type option struct {
	key   string
	flag  string
	usage string
}

// options maps config keys to CLI flags. Environment names are derived from
// the key: batch.concurrency becomes TTSBATCH_BATCH_CONCURRENCY.
var options = []option{
	{"provider", "provider", "Synthesis provider: gemini, openai, nap or stub"},
	{"log_level", "log-level", "Log level: debug, info, warn or error"},
	{"gemini.api_key", "gemini-api-key", "Gemini API key"},
	{"gemini.model", "gemini-model", "Gemini TTS model"},
	{"gemini.base_url", "gemini-base-url", "Gemini API base URL"},
	{"gemini.temperature", "temperature", "Gemini sampling temperature (0.0-2.0)"},
	{"gemini.timeout", "gemini-timeout", "Per-request Gemini timeout"},
	{"openai.api_key", "openai-api-key", "OpenAI API key"},
	{"openai.model", "openai-model", "OpenAI speech model"},
	{"openai.speed", "openai-speed", "OpenAI speech speed (0.25-4.0)"},
	{"openai.base_url", "openai-base-url", "OpenAI API base URL"},
	{"nap.addr", "nap-addr", "Address of a NAP TTS adapter"},
	{"batch.voice", "voice", "Default voice for rows without one"},
	{"batch.instruction", "instruction", "Instruction applied to every row"},
	{"batch.concurrency", "concurrency", "Parallel provider calls (1 = sequential)"},
	{"batch.interval", "interval", "Pause between sequential provider calls"},
	{"batch.timeout", "timeout", "Deadline for the whole batch (0 = none)"},
	{"batch.retries", "retries", "Extra attempts for a failed row"},
	{"archive.always_manifest", "always-manifest", "Write failures.csv even when every row succeeded"},
	{"archive.store", "store", "Store WAV entries without compression"},
	{"cache.dir", "cache-dir", "Directory for the synthesis cache (empty disables it)"},
	{"cache.max_size_mb", "cache-max-size-mb", "Synthesis cache size limit in MB"},
	{"history.path", "history-path", "SQLite run history database"},
	{"history.max_runs", "history-max-runs", "Number of runs kept in history (0 = all)"},
	{"history.disabled", "no-history", "Do not record runs"},
	{"progress.nats_url", "nats-url", "Publish progress events to this NATS server"},
	{"progress.nats_token", "nats-token", "NATS authentication token"},
	{"progress.subject", "nats-subject", "NATS subject for progress events"},
	{"progress.no_color", "no-color", "Disable colored output"},
	{"server.listen_addr", "listen-addr", "gRPC listen address for serve"},
	{"server.metrics_addr", "metrics-addr", "HTTP address for Prometheus metrics (empty disables it)"},
	{"telemetry.traces", "traces", "Trace exporter: none, stdout or otlp"},
	{"telemetry.otlp_endpoint", "otlp-endpoint", "OTLP gRPC endpoint for traces"},
	{"telemetry.otlp_insecure", "otlp-insecure", "Disable TLS for the OTLP exporter"},
	{"telemetry.environment", "environment", "deployment.environment resource attribute"},
}

// RegisterFlags adds every configuration flag to flags with defaults as values.
func RegisterFlags(flags *pflag.FlagSet, defaults Config) {
	values := flatten(defaults)
	for _, o := range options {
		switch v := values[o.key].(type) {
		case string:
			flags.String(o.flag, v, o.usage)
		case int:
			flags.Int(o.flag, v, o.usage)
		case float64:
			flags.Float64(o.flag, v, o.usage)
		case bool:
			flags.Bool(o.flag, v, o.usage)
		case time.Duration:
			flags.Duration(o.flag, v, o.usage)
		}
	}
}

type flagBinder interface {
	Flags() *pflag.FlagSet
}

// Loader merges configuration sources. Tests can override Lookup to inject
// deterministic environments.
type Loader struct {
	Lookup     func(string) (string, bool)
	Cmd        flagBinder
	ConfigFile string
	// DotEnv is loaded into the process environment first when set.
	DotEnv   string
	Defaults *Config
	// Offline skips provider credential checks.
	Offline bool
}

// Load resolves and validates the configuration.
func (l Loader) Load() (Config, error) {
	if l.DotEnv != "" {
		if err := godotenv.Load(l.DotEnv); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("config: load %s: %w", l.DotEnv, err)
		}
	}
	if l.Lookup == nil {
		l.Lookup = os.LookupEnv
	}
	defaults := DefaultConfig()
	if l.Defaults != nil {
		defaults = *l.Defaults
	}

	v := viper.New()
	for key, value := range flatten(defaults) {
		v.SetDefault(key, value)
	}

	if err := l.readConfigFile(v); err != nil {
		return Config{}, err
	}

	if raw, ok := firstNonEmpty(l.Lookup, EnvPayload, EnvAdapterPayload); ok {
		v.SetConfigType("json")
		if err := v.MergeConfig(strings.NewReader(raw)); err != nil {
			return Config{}, fmt.Errorf("config: decode injected payload: %w", err)
		}
	}

	if env := l.envLayer(); len(env) > 0 {
		if err := v.MergeConfigMap(env); err != nil {
			return Config{}, fmt.Errorf("config: merge environment: %w", err)
		}
	}

	if l.Cmd != nil {
		flags := l.Cmd.Flags()
		for _, o := range options {
			if f := flags.Lookup(o.flag); f != nil {
				if err := v.BindPFlag(o.key, f); err != nil {
					return Config{}, fmt.Errorf("config: bind flag %s: %w", o.flag, err)
				}
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: decode: %w", err)
	}

	if cfg.Gemini.APIKey == "" {
		overrideString(l.Lookup, EnvGeminiAPIKey, &cfg.Gemini.APIKey)
	}
	if cfg.OpenAI.APIKey == "" {
		overrideString(l.Lookup, EnvOpenAIAPIKey, &cfg.OpenAI.APIKey)
	}
	if cfg.Cache.Dir == "" {
		if dataDir, ok := l.Lookup(EnvDataDir); ok && dataDir != "" {
			cfg.Cache.Dir = filepath.Join(dataDir, "cache")
		}
	}

	validate := cfg.Validate
	if l.Offline {
		validate = cfg.ValidateOffline
	}
	if err := validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (l Loader) readConfigFile(v *viper.Viper) error {
	if l.ConfigFile != "" {
		v.SetConfigFile(l.ConfigFile)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("config: read config file: %w", err)
		}
		return nil
	}
	v.SetConfigName("ttsbatch")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("config: read config file: %w", err)
		}
	}
	return nil
}

// envLayer collects TTSBATCH_* variables and the adapter runner's
// overrides into a nested map.
func (l Loader) envLayer() map[string]any {
	layer := map[string]any{}
	for _, o := range options {
		name := envPrefix + strings.ToUpper(strings.ReplaceAll(o.key, ".", "_"))
		if value, ok := l.Lookup(name); ok && strings.TrimSpace(value) != "" {
			setNested(layer, o.key, strings.TrimSpace(value))
		}
	}
	if value, ok := l.Lookup(EnvListenAddr); ok && strings.TrimSpace(value) != "" {
		setNested(layer, "server.listen_addr", strings.TrimSpace(value))
	}
	if value, ok := l.Lookup(EnvLogLevel); ok && strings.TrimSpace(value) != "" {
		if _, set := l.Lookup(envPrefix + "LOG_LEVEL"); !set {
			setNested(layer, "log_level", strings.TrimSpace(value))
		}
	}
	return layer
}

func setNested(m map[string]any, key string, value any) {
	parts := strings.Split(key, ".")
	for _, p := range parts[:len(parts)-1] {
		child, ok := m[p].(map[string]any)
		if !ok {
			child = map[string]any{}
			m[p] = child
		}
		m = child
	}
	m[parts[len(parts)-1]] = value
}

// flatten returns the value of every option key in c.
func flatten(c Config) map[string]any {
	return map[string]any{
		"provider":                c.Provider,
		"log_level":               c.LogLevel,
		"gemini.api_key":          c.Gemini.APIKey,
		"gemini.model":            c.Gemini.Model,
		"gemini.base_url":         c.Gemini.BaseURL,
		"gemini.temperature":      c.Gemini.Temperature,
		"gemini.timeout":          c.Gemini.Timeout,
		"openai.api_key":          c.OpenAI.APIKey,
		"openai.model":            c.OpenAI.Model,
		"openai.speed":            c.OpenAI.Speed,
		"openai.base_url":         c.OpenAI.BaseURL,
		"nap.addr":                c.NAP.Addr,
		"batch.voice":             c.Batch.Voice,
		"batch.instruction":       c.Batch.Instruction,
		"batch.concurrency":       c.Batch.Concurrency,
		"batch.interval":          c.Batch.Interval,
		"batch.timeout":           c.Batch.Timeout,
		"batch.retries":           c.Batch.Retries,
		"archive.always_manifest": c.Archive.AlwaysManifest,
		"archive.store":           c.Archive.Store,
		"cache.dir":               c.Cache.Dir,
		"cache.max_size_mb":       c.Cache.MaxSizeMB,
		"history.path":            c.History.Path,
		"history.max_runs":        c.History.MaxRuns,
		"history.disabled":        c.History.Disabled,
		"progress.nats_url":       c.Progress.NATSURL,
		"progress.nats_token":     c.Progress.NATSToken,
		"progress.subject":        c.Progress.Subject,
		"progress.no_color":       c.Progress.NoColor,
		"server.listen_addr":      c.Server.ListenAddr,
		"server.metrics_addr":     c.Server.MetricsAddr,
		"telemetry.traces":        c.Telemetry.Traces,
		"telemetry.otlp_endpoint": c.Telemetry.OTLPEndpoint,
		"telemetry.otlp_insecure": c.Telemetry.OTLPInsecure,
		"telemetry.environment":   c.Telemetry.Environment,
	}
}

func firstNonEmpty(lookup func(string) (string, bool), keys ...string) (string, bool) {
	for _, key := range keys {
		if value, ok := lookup(key); ok && strings.TrimSpace(value) != "" {
			return value, true
		}
	}
	return "", false
}

func overrideString(lookup func(string) (string, bool), key string, target *string) {
	if lookup == nil || target == nil {
		return
	}
	if value, ok := lookup(key); ok && strings.TrimSpace(value) != "" {
		*target = strings.TrimSpace(value)
	}
}
