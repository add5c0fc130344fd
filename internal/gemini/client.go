package gemini

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/nupi-ai/plugin-tts-batch/internal/tts"
)

const (
	// BaseURL is the Gemini API base URL.
	BaseURL = "https://generativelanguage.googleapis.com/v1beta"

	// DefaultTimeout for HTTP requests.
	DefaultTimeout = 60 * time.Second

	ModelFlash = "gemini-2.5-flash-preview-tts"
	ModelPro   = "gemini-2.5-pro-preview-tts"

	DefaultTemperature = 1.0

	providerName = "gemini"
)

// Config holds client settings. Zero values select the defaults above.
type Config struct {
	APIKey      string
	Model       string
	BaseURL     string
	Temperature *float64
	Timeout     time.Duration
}

// Client wraps HTTP calls to the Gemini generateContent endpoint with audio
// output.
type Client struct {
	httpClient  *http.Client
	apiKey      string
	baseURL     string
	model       string
	temperature float64
	log         *slog.Logger
}

// NewClient constructs a Gemini speech client.
func NewClient(cfg Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = BaseURL
	}
	model := cfg.Model
	if model == "" {
		model = ModelFlash
	}
	temperature := DefaultTemperature
	if cfg.Temperature != nil {
		temperature = *cfg.Temperature
	}
	return &Client{
		httpClient:  &http.Client{Timeout: timeout},
		apiKey:      cfg.APIKey,
		baseURL:     baseURL,
		model:       model,
		temperature: temperature,
		log:         logger.With("component", "gemini", "model", model),
	}
}

type generateRequest struct {
	Contents         []content        `json:"contents"`
	GenerationConfig generationConfig `json:"generationConfig"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inlineData,omitempty"`
}

type inlineData struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

type generationConfig struct {
	Temperature        float64      `json:"temperature"`
	ResponseModalities []string     `json:"responseModalities"`
	SpeechConfig       speechConfig `json:"speechConfig"`
}

type speechConfig struct {
	VoiceConfig voiceConfig `json:"voiceConfig"`
}

type voiceConfig struct {
	PrebuiltVoiceConfig prebuiltVoiceConfig `json:"prebuiltVoiceConfig"`
}

type prebuiltVoiceConfig struct {
	VoiceName string `json:"voiceName"`
}

type generateResponse struct {
	Candidates []struct {
		Content      content `json:"content"`
		FinishReason string  `json:"finishReason"`
	} `json:"candidates"`
	PromptFeedback *struct {
		BlockReason string `json:"blockReason"`
	} `json:"promptFeedback"`
}

type apiError struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

// Synthesize calls generateContent with an AUDIO response modality and
// returns the PCM payload (16-bit mono, 24 kHz unless the response says
// otherwise).
func (c *Client) Synthesize(ctx context.Context, text string, params tts.Params) (tts.Audio, error) {
	if params.Voice == "" {
		return tts.Audio{}, fail(errors.New("voice is required"))
	}
	if text == "" {
		return tts.Audio{}, fail(errors.New("text is required"))
	}

	body, err := json.Marshal(generateRequest{
		Contents: []content{{Role: "user", Parts: []part{{Text: Prompt(text, params.Instruction)}}}},
		GenerationConfig: generationConfig{
			Temperature:        c.temperature,
			ResponseModalities: []string{"AUDIO"},
			SpeechConfig: speechConfig{
				VoiceConfig: voiceConfig{
					PrebuiltVoiceConfig: prebuiltVoiceConfig{VoiceName: params.Voice},
				},
			},
		},
	})
	if err != nil {
		return tts.Audio{}, fail(fmt.Errorf("marshal request: %w", err))
	}

	url := fmt.Sprintf("%s/models/%s:generateContent", c.baseURL, c.model)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return tts.Audio{}, fail(fmt.Errorf("create request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", c.apiKey)

	c.log.Debug("calling generateContent", "voice", params.Voice, "text_length", len(text))

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return tts.Audio{}, fail(fmt.Errorf("http request: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return tts.Audio{}, &tts.ProviderError{
			Provider:   providerName,
			StatusCode: resp.StatusCode,
			Message:    errorMessage(errBody),
		}
	}

	var decoded generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return tts.Audio{}, fail(fmt.Errorf("decode response: %w", err))
	}
	return extractAudio(decoded)
}

// Prompt wraps text with a performance instruction the way the model expects
// free-form direction to be phrased.
func Prompt(text, instruction string) string {
	if instruction == "" {
		return text
	}
	return fmt.Sprintf("Instructions: %s\n\nPlease read the following lines according to the instructions above:\n\"%s\"", instruction, text)
}

func extractAudio(resp generateResponse) (tts.Audio, error) {
	if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
		return tts.Audio{}, fail(fmt.Errorf("prompt blocked: %s", resp.PromptFeedback.BlockReason))
	}
	for _, cand := range resp.Candidates {
		for _, p := range cand.Content.Parts {
			if p.InlineData == nil || p.InlineData.Data == "" {
				continue
			}
			pcm, err := base64.StdEncoding.DecodeString(p.InlineData.Data)
			if err != nil {
				return tts.Audio{}, fail(fmt.Errorf("decode audio: %w", err))
			}
			if len(pcm) == 0 {
				continue
			}
			return tts.Audio{
				Data:       pcm,
				SampleRate: sampleRate(p.InlineData.MimeType),
				Channels:   1,
			}, nil
		}
		if cand.FinishReason != "" && cand.FinishReason != "STOP" {
			return tts.Audio{}, fail(fmt.Errorf("no audio returned (finish reason %s)", cand.FinishReason))
		}
	}
	return tts.Audio{}, fail(errors.New("empty response from API"))
}

// sampleRate reads the rate parameter of e.g. "audio/L16;codec=pcm;rate=24000".
func sampleRate(mimeType string) int {
	_, params, err := mime.ParseMediaType(mimeType)
	if err != nil {
		return tts.DefaultSampleRate
	}
	rate, err := strconv.Atoi(params["rate"])
	if err != nil || rate <= 0 {
		return tts.DefaultSampleRate
	}
	return rate
}

func errorMessage(body []byte) string {
	var decoded apiError
	if err := json.Unmarshal(body, &decoded); err == nil && decoded.Error.Message != "" {
		if decoded.Error.Status != "" {
			return decoded.Error.Status + ": " + decoded.Error.Message
		}
		return decoded.Error.Message
	}
	return strings.TrimSpace(string(body))
}

func fail(err error) *tts.ProviderError {
	return tts.NewProviderError(providerName, err)
}
