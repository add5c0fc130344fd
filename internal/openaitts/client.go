// Package openaitts synthesizes speech with the OpenAI audio API.
package openaitts

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/sashabaranov/go-openai"

	"github.com/nupi-ai/plugin-tts-batch/internal/tts"
)

const (
	DefaultModel = string(openai.TTSModel1HD)
	DefaultSpeed = 1.0

	providerName = "openai"
)

// Config holds OpenAI speech settings.
type Config struct {
	APIKey  string
	Model   string
	Speed   float64
	BaseURL string
	// HTTPClient overrides the transport, mainly for tests.
	HTTPClient *http.Client
}

// Client implements tts.Synthesizer for OpenAI's speech endpoint. Audio is
// requested as raw PCM (24 kHz, 16-bit mono).
type Client struct {
	client *openai.Client
	model  string
	speed  float64
	log    *slog.Logger
}

// NewClient creates an OpenAI speech client.
func NewClient(cfg Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	if cfg.HTTPClient != nil {
		clientCfg.HTTPClient = cfg.HTTPClient
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Speed == 0 {
		cfg.Speed = DefaultSpeed
	}
	return &Client{
		client: openai.NewClientWithConfig(clientCfg),
		model:  cfg.Model,
		speed:  cfg.Speed,
		log:    logger.With("component", "openai", "model", cfg.Model),
	}
}

// Synthesize converts text to PCM audio.
func (c *Client) Synthesize(ctx context.Context, text string, params tts.Params) (tts.Audio, error) {
	if params.Voice == "" {
		return tts.Audio{}, tts.NewProviderError(providerName, errors.New("voice is required"))
	}
	if text == "" {
		return tts.Audio{}, tts.NewProviderError(providerName, errors.New("text is required"))
	}
	if params.Instruction != "" {
		c.log.Debug("instructions are not supported by this model, ignoring", "voice", params.Voice)
	}

	response, err := c.client.CreateSpeech(ctx, openai.CreateSpeechRequest{
		Model:          openai.SpeechModel(c.model),
		Input:          text,
		Voice:          openai.SpeechVoice(params.Voice),
		Speed:          c.speed,
		ResponseFormat: openai.SpeechResponseFormatPcm,
	})
	if err != nil {
		return tts.Audio{}, providerError(err)
	}
	defer response.Close()

	pcm, err := io.ReadAll(response)
	if err != nil {
		return tts.Audio{}, tts.NewProviderError(providerName, fmt.Errorf("read audio: %w", err))
	}
	if len(pcm) == 0 {
		return tts.Audio{}, tts.NewProviderError(providerName, errors.New("empty audio"))
	}
	if len(pcm)%2 != 0 {
		pcm = pcm[:len(pcm)-1]
	}

	c.log.Debug("speech generated", "voice", params.Voice, "bytes", len(pcm))
	return tts.Audio{Data: pcm, SampleRate: tts.DefaultSampleRate, Channels: 1}, nil
}

func providerError(err error) *tts.ProviderError {
	perr := tts.NewProviderError(providerName, err)
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		perr.StatusCode = apiErr.HTTPStatusCode
		perr.Message = apiErr.Message
		return perr
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		perr.StatusCode = reqErr.HTTPStatusCode
	}
	return perr
}
