// Package napclient synthesizes speech through a remote NAP TTS adapter.
package napclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	napv1 "github.com/nupi-ai/nupi/api/nap/v1"

	"github.com/nupi-ai/plugin-tts-batch/internal/adapterinfo"
	"github.com/nupi-ai/plugin-tts-batch/internal/tts"
)

const provider = "nap"

// Config describes how to reach the adapter.
type Config struct {
	Addr      string
	SessionID string
	// DialOptions replace the default insecure transport when set.
	DialOptions []grpc.DialOption
}

// Client implements tts.Synthesizer over the NAP TextToSpeechService.
type Client struct {
	conn      *grpc.ClientConn
	tts       napv1.TextToSpeechServiceClient
	sessionID string
	log       *slog.Logger
}

// NewClient creates a client for the adapter at cfg.Addr. The connection is
// established lazily on the first call.
func NewClient(cfg Config, logger *slog.Logger) (*Client, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("napclient: address is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	opts := cfg.DialOptions
	if len(opts) == 0 {
		opts = []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}
	}
	conn, err := grpc.NewClient(cfg.Addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("napclient: dial %s: %w", cfg.Addr, err)
	}
	sessionID := cfg.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	return &Client{
		conn:      conn,
		tts:       napv1.NewTextToSpeechServiceClient(conn),
		sessionID: sessionID,
		log:       logger.With("component", "napclient", "addr", cfg.Addr),
	}, nil
}

// Close releases the underlying connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// Synthesize streams one request and concatenates the returned chunks.
func (c *Client) Synthesize(ctx context.Context, text string, params tts.Params) (tts.Audio, error) {
	md := map[string]string{}
	if params.Voice != "" {
		md[adapterinfo.MetaVoice] = params.Voice
	}
	if params.Instruction != "" {
		md[adapterinfo.MetaInstruction] = params.Instruction
	}
	streamID := uuid.NewString()

	stream, err := c.tts.StreamSynthesis(ctx, &napv1.StreamSynthesisRequest{
		SessionId: c.sessionID,
		StreamId:  streamID,
		Text:      text,
		Metadata:  md,
	})
	if err != nil {
		return tts.Audio{}, tts.NewProviderError(provider, err)
	}

	audio := tts.Audio{Channels: 1}
	var adapterErr error
	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if adapterErr != nil {
				// The adapter closes the stream with an error after reporting it.
				break
			}
			return tts.Audio{}, tts.NewProviderError(provider, err)
		}

		if chunk := resp.GetChunk(); chunk != nil {
			audio.Data = append(audio.Data, chunk.GetData()...)
			applyFormat(&audio, chunk.GetMetadata())
		}

		switch resp.GetStatus() {
		case napv1.SynthesisStatus_SYNTHESIS_STATUS_ERROR:
			adapterErr = &tts.ProviderError{Provider: provider, Message: resp.GetErrorMessage()}
		case napv1.SynthesisStatus_SYNTHESIS_STATUS_INTERRUPTED:
			return tts.Audio{}, &tts.ProviderError{
				Provider: provider,
				Message:  "synthesis interrupted: " + resp.GetMetadata()["reason"],
			}
		case napv1.SynthesisStatus_SYNTHESIS_STATUS_FINISHED:
			applyFormat(&audio, resp.GetMetadata())
		}
	}
	if adapterErr != nil {
		return tts.Audio{}, adapterErr
	}
	if len(audio.Data) == 0 {
		return tts.Audio{}, &tts.ProviderError{Provider: provider, Message: "adapter returned no audio"}
	}
	if audio.SampleRate == 0 {
		audio.SampleRate = tts.DefaultSampleRate
	}

	c.log.Debug("synthesis completed",
		"stream_id", streamID,
		"bytes", len(audio.Data),
		"sample_rate", audio.SampleRate,
	)
	return audio, nil
}

func applyFormat(audio *tts.Audio, md map[string]string) {
	if v, err := strconv.Atoi(md[adapterinfo.MetaSampleRate]); err == nil && v > 0 {
		audio.SampleRate = v
	}
	if v, err := strconv.Atoi(md[adapterinfo.MetaChannels]); err == nil && v > 0 {
		audio.Channels = v
	}
}
