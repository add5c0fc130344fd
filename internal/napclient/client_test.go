package napclient

import (
	"context"
	"errors"
	"net"
	"testing"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"

	napv1 "github.com/nupi-ai/nupi/api/nap/v1"

	"github.com/nupi-ai/plugin-tts-batch/internal/server"
	"github.com/nupi-ai/plugin-tts-batch/internal/tts"
	"github.com/nupi-ai/plugin-tts-batch/internal/voice"
)

type fixedSynth struct {
	audio  tts.Audio
	err    error
	params tts.Params
}

func (f *fixedSynth) Synthesize(_ context.Context, _ string, params tts.Params) (tts.Audio, error) {
	f.params = params
	return f.audio, f.err
}

// startAdapter serves synth as a NAP adapter over bufconn and returns a client for it.
func startAdapter(t *testing.T, synth tts.Synthesizer) *Client {
	t.Helper()
	buf := bufconn.Listen(1024 * 1024)

	resolver, err := voice.NewResolver(voice.NAP, "", "")
	if err != nil {
		t.Fatalf("NewResolver: %v", err)
	}
	srv := grpc.NewServer()
	napv1.RegisterTextToSpeechServiceServer(srv, server.New(server.Options{Provider: "fake", ChunkSize: 1000}, nil, synth, resolver, nil))
	go func() {
		_ = srv.Serve(buf)
	}()

	client, err := NewClient(Config{
		Addr: "passthrough:///bufconn",
		DialOptions: []grpc.DialOption{
			grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
				return buf.DialContext(ctx)
			}),
			grpc.WithTransportCredentials(insecure.NewCredentials()),
		},
	}, nil)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	t.Cleanup(func() {
		client.Close()
		srv.Stop()
	})
	return client
}

func TestSynthesizeConcatenatesChunks(t *testing.T) {
	data := make([]byte, 4500)
	for i := range data {
		data[i] = byte(i % 251)
	}
	synth := &fixedSynth{audio: tts.Audio{Data: data, SampleRate: 22050, Channels: 1}}
	client := startAdapter(t, synth)

	audio, err := client.Synthesize(context.Background(), "hello", tts.Params{Voice: "Rachel", Instruction: "calm"})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if len(audio.Data) != len(data) {
		t.Fatalf("got %d bytes, want %d", len(audio.Data), len(data))
	}
	for i := range data {
		if audio.Data[i] != data[i] {
			t.Fatalf("byte %d differs", i)
		}
	}
	if audio.SampleRate != 22050 {
		t.Errorf("SampleRate = %d, want 22050", audio.SampleRate)
	}
	if synth.params.Voice != "Rachel" || synth.params.Instruction != "calm" {
		t.Errorf("adapter received params %+v", synth.params)
	}
}

func TestSynthesizeAdapterError(t *testing.T) {
	synth := &fixedSynth{err: errors.New("upstream down")}
	client := startAdapter(t, synth)

	_, err := client.Synthesize(context.Background(), "hello", tts.Params{Voice: "Rachel"})
	var perr *tts.ProviderError
	if !errors.As(err, &perr) {
		t.Fatalf("error = %v, want *tts.ProviderError", err)
	}
	if perr.Provider != "nap" || perr.Message == "" {
		t.Errorf("unexpected provider error: %+v", perr)
	}
}

func TestSynthesizeCanceledContext(t *testing.T) {
	client := startAdapter(t, &fixedSynth{audio: tts.Audio{Data: make([]byte, 10), SampleRate: 24000}})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := client.Synthesize(ctx, "hello", tts.Params{Voice: "Rachel"})
	var perr *tts.ProviderError
	if !errors.As(err, &perr) {
		t.Fatalf("error = %v, want *tts.ProviderError", err)
	}
}

func TestNewClientRequiresAddress(t *testing.T) {
	if _, err := NewClient(Config{}, nil); err == nil {
		t.Fatal("expected error")
	}
}
