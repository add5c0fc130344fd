package cache

import (
	"context"
	"log/slog"

	"github.com/nupi-ai/plugin-tts-batch/internal/audio"
	"github.com/nupi-ai/plugin-tts-batch/internal/tts"
)

// Synthesizer serves repeated requests from the cache so re-running a batch
// does not pay for rows that already succeeded.
type Synthesizer struct {
	next      tts.Synthesizer
	cache     *Cache
	namespace string
	log       *slog.Logger
}

// NewSynthesizer wraps next with c. namespace separates provider configurations.
func NewSynthesizer(next tts.Synthesizer, c *Cache, namespace string, logger *slog.Logger) *Synthesizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Synthesizer{
		next:      next,
		cache:     c,
		namespace: namespace,
		log:       logger.With("component", "cache"),
	}
}

// Synthesize implements tts.Synthesizer.
func (s *Synthesizer) Synthesize(ctx context.Context, text string, params tts.Params) (tts.Audio, error) {
	key := Key(s.namespace, text, params)

	if data, ok := s.cache.Get(key); ok {
		decoded, err := audio.DecodeWAV(data)
		if err == nil {
			s.log.Debug("cache hit", "key", key)
			return decoded, nil
		}
		s.log.Warn("corrupt cache entry, synthesizing again", "key", key, "error", err)
	}

	result, err := s.next.Synthesize(ctx, text, params)
	if err != nil {
		return tts.Audio{}, err
	}

	encoded, err := audio.EncodeWAV(result)
	if err != nil {
		s.log.Warn("failed to encode cache entry", "key", key, "error", err)
		return result, nil
	}
	if err := s.cache.Put(key, encoded); err != nil {
		s.log.Warn("failed to store in cache", "key", key, "error", err)
	}
	return result, nil
}
