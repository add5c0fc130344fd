package tts

import (
	"context"
	"fmt"
	"time"
)

// DefaultSampleRate is the PCM rate produced by the Gemini and OpenAI speech
// endpoints (16-bit mono).
const DefaultSampleRate = 24000

// Params are the resolved synthesis parameters for one request.
type Params struct {
	Voice       string
	Instruction string
}

// Audio is raw PCM16 little-endian audio returned by a provider.
type Audio struct {
	Data       []byte
	SampleRate int
	Channels   int
}

// Duration returns the playback length of the PCM payload.
func (a Audio) Duration() time.Duration {
	channels := a.Channels
	if channels < 1 {
		channels = 1
	}
	if a.SampleRate < 1 {
		return 0
	}
	samples := len(a.Data) / (2 * channels)
	return time.Duration(samples) * time.Second / time.Duration(a.SampleRate)
}

// Synthesizer abstracts a text-to-speech provider so the batch pipeline can
// be driven by a deterministic fake in tests. Implementations perform no
// retries and report every failure as a *ProviderError.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string, params Params) (Audio, error)
}

// ProviderError reports a failed provider call: non-2xx status, network
// fault, exhausted quota, empty audio or cancellation.
type ProviderError struct {
	Provider   string
	StatusCode int
	Message    string
	Err        error
}

func (e *ProviderError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: provider error (status %d): %s", e.Provider, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s: provider error: %s", e.Provider, e.Message)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// NewProviderError wraps err as a ProviderError for provider.
func NewProviderError(provider string, err error) *ProviderError {
	return &ProviderError{Provider: provider, Message: err.Error(), Err: err}
}
