package cache

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/nupi-ai/plugin-tts-batch/internal/tts"
)

type countingSynth struct {
	calls int
	err   error
}

func (c *countingSynth) Synthesize(_ context.Context, text string, _ tts.Params) (tts.Audio, error) {
	c.calls++
	if c.err != nil {
		return tts.Audio{}, c.err
	}
	return tts.Audio{Data: bytes.Repeat([]byte{0x10, 0x00}, len(text)), SampleRate: 24000, Channels: 1}, nil
}

func TestSynthesizerCachesResults(t *testing.T) {
	c, err := New(t.TempDir(), 1024*1024, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	next := &countingSynth{}
	s := NewSynthesizer(next, c, "stub", nil)
	params := tts.Params{Voice: "Zephyr"}

	first, err := s.Synthesize(context.Background(), "hello", params)
	if err != nil {
		t.Fatalf("first call: %v", err)
	}
	second, err := s.Synthesize(context.Background(), "hello", params)
	if err != nil {
		t.Fatalf("second call: %v", err)
	}

	if next.calls != 1 {
		t.Errorf("provider called %d times, want 1", next.calls)
	}
	if !bytes.Equal(first.Data, second.Data) || second.SampleRate != 24000 {
		t.Error("cached audio differs from the original")
	}
	if c.Stats().Entries != 1 {
		t.Errorf("cache holds %d entries, want 1", c.Stats().Entries)
	}

	if _, err := s.Synthesize(context.Background(), "hello", tts.Params{Voice: "Kore"}); err != nil {
		t.Fatalf("third call: %v", err)
	}
	if next.calls != 2 {
		t.Errorf("different voice should miss the cache, calls = %d", next.calls)
	}
}

func TestSynthesizerDoesNotCacheFailures(t *testing.T) {
	c, err := New(t.TempDir(), 1024*1024, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	next := &countingSynth{err: &tts.ProviderError{Provider: "stub", Message: "boom"}}
	s := NewSynthesizer(next, c, "stub", nil)

	for i := 0; i < 2; i++ {
		_, err := s.Synthesize(context.Background(), "hello", tts.Params{Voice: "Zephyr"})
		var perr *tts.ProviderError
		if !errors.As(err, &perr) {
			t.Fatalf("call %d: error = %v, want *tts.ProviderError", i, err)
		}
	}
	if next.calls != 2 {
		t.Errorf("provider called %d times, want 2", next.calls)
	}
	if c.Stats().Entries != 0 {
		t.Errorf("cache holds %d entries, want 0", c.Stats().Entries)
	}
}

func TestSynthesizerRecoversFromCorruptEntry(t *testing.T) {
	c, err := New(t.TempDir(), 1024*1024, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	params := tts.Params{Voice: "Zephyr"}
	if err := c.Put(Key("stub", "hello", params), []byte("garbage")); err != nil {
		t.Fatalf("Put: %v", err)
	}

	next := &countingSynth{}
	s := NewSynthesizer(next, c, "stub", nil)
	if _, err := s.Synthesize(context.Background(), "hello", params); err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if next.calls != 1 {
		t.Errorf("provider called %d times, want 1", next.calls)
	}
}
