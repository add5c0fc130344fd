package server

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	napv1 "github.com/nupi-ai/nupi/api/nap/v1"

	"github.com/nupi-ai/plugin-tts-batch/internal/adapterinfo"
	"github.com/nupi-ai/plugin-tts-batch/internal/script"
	"github.com/nupi-ai/plugin-tts-batch/internal/telemetry"
	"github.com/nupi-ai/plugin-tts-batch/internal/tts"
	"github.com/nupi-ai/plugin-tts-batch/internal/voice"
)

// DefaultChunkSize is the number of PCM bytes per streamed chunk.
const DefaultChunkSize = 4096

// Options configures the adapter server.
type Options struct {
	Provider  string
	ChunkSize int
}

// Server implements the NAP TextToSpeechService on top of any tts.Synthesizer.
type Server struct {
	napv1.UnimplementedTextToSpeechServiceServer

	opts     Options
	log      *slog.Logger
	synth    tts.Synthesizer
	resolver *voice.Resolver
	metrics  *telemetry.Recorder
}

// New returns a new Server instance.
func New(opts Options, logger *slog.Logger, synth tts.Synthesizer, resolver *voice.Resolver, metrics *telemetry.Recorder) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if synth == nil {
		panic("server: synthesizer must not be nil")
	}
	if resolver == nil {
		panic("server: voice resolver must not be nil")
	}
	if metrics == nil {
		metrics = telemetry.NewRecorder(logger)
	}
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = DefaultChunkSize
	}
	return &Server{
		opts: opts,
		log: logger.With(
			"component", "server",
			"provider", opts.Provider,
		),
		synth:    synth,
		resolver: resolver,
		metrics:  metrics,
	}
}

// StreamSynthesis synthesizes the request text and streams the PCM back in chunks.
// Voice and instruction are read from request metadata.
func (s *Server) StreamSynthesis(req *napv1.StreamSynthesisRequest, stream napv1.TextToSpeechService_StreamSynthesisServer) error {
	if req == nil {
		return fmt.Errorf("server: request is nil")
	}

	text := strings.TrimSpace(req.GetText())
	md := req.GetMetadata()

	logEntry := s.log.With(
		"session_id", req.GetSessionId(),
		"stream_id", req.GetStreamId(),
		"text_length", len(text),
	)

	if text == "" {
		logEntry.Warn("empty text in synthesis request")
		return s.sendError(stream, "text is required")
	}

	params, warning := s.resolver.Resolve(script.Request{
		Text:        text,
		Voice:       md[adapterinfo.MetaVoice],
		Instruction: md[adapterinfo.MetaInstruction],
	})
	if warning != nil {
		logEntry.Warn("voice fallback", "requested", md[adapterinfo.MetaVoice], "voice", params.Voice)
	}
	logEntry = logEntry.With("voice", params.Voice)
	logEntry.Info("synthesis request received")

	if err := s.sendStatus(stream, napv1.SynthesisStatus_SYNTHESIS_STATUS_STARTED, nil); err != nil {
		logEntry.Error("failed to send started status", "error", err)
		return err
	}

	ctx := stream.Context()
	start := time.Now()

	audio, err := s.synth.Synthesize(ctx, text, params)
	if err != nil {
		if ctx.Err() != nil {
			logEntry.Info("synthesis interrupted", "reason", ctx.Err())
			s.metrics.SynthesisServed(ctx, "interrupted")
			return s.sendStatus(stream, napv1.SynthesisStatus_SYNTHESIS_STATUS_INTERRUPTED, map[string]string{
				"reason": ctx.Err().Error(),
			})
		}
		logEntry.Error("synthesis failed", "error", err)
		return s.sendError(stream, fmt.Sprintf("synthesis failed: %v", err))
	}
	if audio.SampleRate <= 0 {
		audio.SampleRate = tts.DefaultSampleRate
	}
	if audio.Channels <= 0 {
		audio.Channels = 1
	}

	if err := s.sendStatus(stream, napv1.SynthesisStatus_SYNTHESIS_STATUS_PLAYING, nil); err != nil {
		logEntry.Error("failed to send playing status", "error", err)
		return err
	}

	chunks, err := s.streamChunks(audio, params.Voice, stream, logEntry)
	if err != nil {
		return err
	}
	if chunks < 0 {
		s.metrics.SynthesisServed(ctx, "interrupted")
		return s.sendStatus(stream, napv1.SynthesisStatus_SYNTHESIS_STATUS_INTERRUPTED, map[string]string{
			"reason": ctx.Err().Error(),
		})
	}

	duration := time.Since(start)
	logEntry.Info("synthesis completed",
		"total_bytes", len(audio.Data),
		"chunks", chunks,
		"duration_sec", duration.Seconds(),
	)
	s.metrics.SynthesisServed(ctx, "finished")

	metadata := map[string]string{
		"total_bytes":              strconv.Itoa(len(audio.Data)),
		"total_chunks":             strconv.Itoa(chunks),
		"duration_sec":             fmt.Sprintf("%.2f", duration.Seconds()),
		"text_length":              strconv.Itoa(len(text)),
		adapterinfo.MetaVoice:      params.Voice,
		adapterinfo.MetaSampleRate: strconv.Itoa(audio.SampleRate),
		adapterinfo.MetaChannels:   strconv.Itoa(audio.Channels),
	}
	return s.sendStatus(stream, napv1.SynthesisStatus_SYNTHESIS_STATUS_FINISHED, metadata)
}

// streamChunks sends audio in fixed-size chunks. It returns -1 when the
// stream context ends before the last chunk.
func (s *Server) streamChunks(audio tts.Audio, voiceName string, stream napv1.TextToSpeechService_StreamSynthesisServer, logEntry *slog.Logger) (int, error) {
	ctx := stream.Context()
	bytesPerSec := audio.SampleRate * audio.Channels * 2
	data := audio.Data

	var sequence uint64
	for offset := 0; offset < len(data); offset += s.opts.ChunkSize {
		if ctx.Err() != nil {
			logEntry.Info("synthesis interrupted", "reason", ctx.Err(), "sequence", sequence)
			return -1, nil
		}

		end := min(offset+s.opts.ChunkSize, len(data))
		sequence++

		chunk := &napv1.AudioChunk{
			Data:       data[offset:end],
			Sequence:   sequence,
			First:      sequence == 1,
			Last:       end == len(data),
			DurationMs: uint32((end - offset) * 1000 / bytesPerSec),
			Metadata:   adapterinfo.SynthesisMetadata(s.opts.Provider, voiceName, audio.SampleRate),
		}
		resp := &napv1.SynthesisResponse{
			Status: napv1.SynthesisStatus_SYNTHESIS_STATUS_PLAYING,
			Chunk:  chunk,
		}
		if err := stream.Send(resp); err != nil {
			logEntry.Error("failed to send audio chunk", "error", err, "sequence", sequence)
			return 0, err
		}
		logEntry.Debug("sent audio chunk",
			"sequence", sequence,
			"bytes", end-offset,
			"duration_ms", chunk.DurationMs,
		)
	}
	return int(sequence), nil
}

func (s *Server) sendStatus(stream napv1.TextToSpeechService_StreamSynthesisServer, status napv1.SynthesisStatus, metadata map[string]string) error {
	resp := &napv1.SynthesisResponse{
		Status:   status,
		Metadata: metadata,
	}
	return stream.Send(resp)
}

func (s *Server) sendError(stream napv1.TextToSpeechService_StreamSynthesisServer, message string) error {
	s.metrics.SynthesisServed(stream.Context(), "error")
	resp := &napv1.SynthesisResponse{
		Status:       napv1.SynthesisStatus_SYNTHESIS_STATUS_ERROR,
		ErrorMessage: message,
	}
	if err := stream.Send(resp); err != nil {
		return err
	}
	return fmt.Errorf("synthesis error: %s", message)
}
