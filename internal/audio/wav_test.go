package audio

import (
	"bytes"
	"encoding/binary"
	"io"
	"testing"

	"github.com/nupi-ai/plugin-tts-batch/internal/tts"
)

func pcmRamp(n int) []byte {
	pcm := make([]byte, n*2)
	for i := 0; i < n; i++ {
		binary.LittleEndian.PutUint16(pcm[2*i:], uint16(int16(i*37-1000)))
	}
	return pcm
}

func TestEncodeWAVHeader(t *testing.T) {
	pcm := pcmRamp(100)
	out, err := EncodeWAV(tts.Audio{Data: pcm, SampleRate: 24000, Channels: 1})
	if err != nil {
		t.Fatalf("EncodeWAV: %v", err)
	}
	if string(out[0:4]) != "RIFF" || string(out[8:12]) != "WAVE" {
		t.Fatalf("missing RIFF/WAVE header: %q", out[:12])
	}
	if got := binary.LittleEndian.Uint32(out[24:28]); got != 24000 {
		t.Errorf("sample rate = %d, want 24000", got)
	}
	if got := binary.LittleEndian.Uint32(out[4:8]); int(got) != len(out)-8 {
		t.Errorf("riff size = %d, want %d", got, len(out)-8)
	}
}

func TestWAVRoundTrip(t *testing.T) {
	in := tts.Audio{Data: pcmRamp(480), SampleRate: 24000, Channels: 1}
	encoded, err := EncodeWAV(in)
	if err != nil {
		t.Fatalf("EncodeWAV: %v", err)
	}
	out, err := DecodeWAV(encoded)
	if err != nil {
		t.Fatalf("DecodeWAV: %v", err)
	}
	if out.SampleRate != in.SampleRate || out.Channels != 1 {
		t.Errorf("format = %d Hz/%d ch", out.SampleRate, out.Channels)
	}
	if !bytes.Equal(out.Data, in.Data) {
		t.Error("decoded pcm differs from input")
	}
}

func TestEncodeWAVRejectsInvalid(t *testing.T) {
	tests := []struct {
		name  string
		audio tts.Audio
	}{
		{"empty", tts.Audio{SampleRate: 24000}},
		{"odd length", tts.Audio{Data: []byte{1, 2, 3}, SampleRate: 24000}},
		{"no sample rate", tts.Audio{Data: []byte{1, 2}}},
		{"negative channels", tts.Audio{Data: []byte{1, 2}, SampleRate: 24000, Channels: -1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := Validate(tt.audio); err == nil {
				t.Fatal("Validate: expected error")
			}
			if _, err := EncodeWAV(tt.audio); err == nil {
				t.Fatal("EncodeWAV: expected error")
			}
		})
	}
	if err := Validate(tts.Audio{Data: []byte{1, 2}, SampleRate: 24000}); err != nil {
		t.Fatalf("Validate(valid) = %v", err)
	}
}

func TestDecodeWAVRejectsGarbage(t *testing.T) {
	if _, err := DecodeWAV([]byte("definitely not a wav file")); err == nil {
		t.Fatal("expected error")
	}
}

func TestSeekBuffer(t *testing.T) {
	sb := &seekBuffer{}
	sb.Write([]byte("hello world"))
	if _, err := sb.Seek(6, io.SeekStart); err != nil {
		t.Fatalf("Seek: %v", err)
	}
	sb.Write([]byte("WORLD!!"))
	if got := string(sb.Bytes()); got != "hello WORLD!!" {
		t.Errorf("buffer = %q", got)
	}
	if _, err := sb.Seek(-100, io.SeekCurrent); err == nil {
		t.Error("expected error seeking before start")
	}
	if pos, _ := sb.Seek(-2, io.SeekEnd); pos != 11 {
		t.Errorf("SeekEnd pos = %d, want 11", pos)
	}
}
