package main

import (
	"fmt"
	"log/slog"

	"github.com/nupi-ai/plugin-tts-batch/internal/cache"
	"github.com/nupi-ai/plugin-tts-batch/internal/config"
	"github.com/nupi-ai/plugin-tts-batch/internal/gemini"
	"github.com/nupi-ai/plugin-tts-batch/internal/napclient"
	"github.com/nupi-ai/plugin-tts-batch/internal/openaitts"
	"github.com/nupi-ai/plugin-tts-batch/internal/tts"
	"github.com/nupi-ai/plugin-tts-batch/internal/voice"
)

// newSynthesizer builds the configured provider, wrapped in the audio cache
// when one is configured. The returned close function is never nil.
func newSynthesizer(cfg config.Config, logger *slog.Logger) (tts.Synthesizer, func() error, error) {
	noop := func() error { return nil }

	var (
		synth   tts.Synthesizer
		closeFn = noop
	)
	switch cfg.Provider {
	case config.ProviderGemini:
		temperature := cfg.Gemini.Temperature
		synth = gemini.NewClient(gemini.Config{
			APIKey:      cfg.Gemini.APIKey,
			Model:       cfg.Gemini.Model,
			BaseURL:     cfg.Gemini.BaseURL,
			Temperature: &temperature,
			Timeout:     cfg.Gemini.Timeout,
		}, logger)
		logger.Info("gemini client initialized", "model", cfg.Gemini.Model, "temperature", temperature)
	case config.ProviderOpenAI:
		synth = openaitts.NewClient(openaitts.Config{
			APIKey:  cfg.OpenAI.APIKey,
			Model:   cfg.OpenAI.Model,
			Speed:   cfg.OpenAI.Speed,
			BaseURL: cfg.OpenAI.BaseURL,
		}, logger)
		logger.Info("openai client initialized", "model", cfg.OpenAI.Model)
	case config.ProviderNAP:
		client, err := napclient.NewClient(napclient.Config{Addr: cfg.NAP.Addr}, logger)
		if err != nil {
			return nil, noop, err
		}
		synth = client
		closeFn = client.Close
		logger.Info("nap client initialized", "addr", cfg.NAP.Addr)
	case config.ProviderStub:
		synth = tts.NewStubSynthesizer(logger)
		logger.Info("using STUB synthesizer, audio is generated locally")
	default:
		return nil, noop, fmt.Errorf("unknown provider %q", cfg.Provider)
	}

	if cfg.Cache.Dir == "" || cfg.Cache.MaxSizeMB <= 0 {
		return synth, closeFn, nil
	}
	audioCache, err := cache.New(cfg.Cache.Dir, int64(cfg.Cache.MaxSizeMB)*1024*1024, logger)
	if err != nil {
		logger.Warn("failed to initialize cache, continuing without", "error", err)
		return synth, closeFn, nil
	}
	logger.Info("audio cache initialized", "dir", cfg.Cache.Dir, "max_size_mb", cfg.Cache.MaxSizeMB)
	closeWithStats := func() error {
		st := audioCache.Stats()
		logger.Info("audio cache usage", "hits", st.Hits, "misses", st.Misses, "entries", st.Entries, "bytes", st.Bytes)
		return closeFn()
	}
	return cache.NewSynthesizer(synth, audioCache, cfg.ProviderNamespace(), logger), closeWithStats, nil
}

func newResolver(cfg config.Config) (*voice.Resolver, error) {
	catalog, err := voice.CatalogFor(cfg.Provider)
	if err != nil {
		return nil, err
	}
	return voice.NewResolver(catalog, cfg.Batch.Voice, cfg.Batch.Instruction)
}
