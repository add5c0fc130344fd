package tts

import (
	"context"
	"errors"
	"log/slog"
)

// bytesPerRune is 10 ms of 24 kHz mono PCM16.
const bytesPerRune = 480

// StubSynthesizer implements the Synthesizer interface with deterministic
// PCM output (silence). It is intended for CI and dry runs where no provider
// credentials are available.
type StubSynthesizer struct {
	log *slog.Logger
}

// NewStubSynthesizer returns a stub that generates silent PCM data
// proportional to the input text length.
func NewStubSynthesizer(logger *slog.Logger) *StubSynthesizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &StubSynthesizer{log: logger.With("component", "stub")}
}

// Synthesize returns len([]rune(text)) * 480 bytes of silence at 24 kHz.
func (s *StubSynthesizer) Synthesize(ctx context.Context, text string, params Params) (Audio, error) {
	if err := ctx.Err(); err != nil {
		return Audio{}, NewProviderError("stub", err)
	}
	if params.Voice == "" {
		return Audio{}, NewProviderError("stub", errors.New("voice is required"))
	}
	if text == "" {
		return Audio{}, NewProviderError("stub", errors.New("text is required"))
	}

	pcm := make([]byte, len([]rune(text))*bytesPerRune)

	s.log.Debug("stub synthesis",
		"text_length", len(text),
		"voice", params.Voice,
		"bytes", len(pcm),
	)

	return Audio{Data: pcm, SampleRate: DefaultSampleRate, Channels: 1}, nil
}
