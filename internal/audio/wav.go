// Package audio wraps provider PCM into WAV containers and back.
package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/nupi-ai/plugin-tts-batch/internal/tts"
)

const (
	bitDepth  = 16
	formatPCM = 1
)

// Validate reports whether a can be wrapped by EncodeWAV.
func Validate(a tts.Audio) error {
	if len(a.Data) == 0 {
		return errors.New("audio: empty pcm payload")
	}
	if len(a.Data)%2 != 0 {
		return fmt.Errorf("audio: pcm16 payload has odd length %d", len(a.Data))
	}
	if a.SampleRate < 1 {
		return fmt.Errorf("audio: invalid sample rate %d", a.SampleRate)
	}
	if a.Channels < 0 {
		return fmt.Errorf("audio: invalid channel count %d", a.Channels)
	}
	return nil
}

// EncodeWAV wraps 16-bit little-endian PCM in a RIFF/WAVE container.
func EncodeWAV(a tts.Audio) ([]byte, error) {
	if err := Validate(a); err != nil {
		return nil, err
	}
	channels := a.Channels
	if channels < 1 {
		channels = 1
	}

	samples := make([]int, len(a.Data)/2)
	for i := range samples {
		samples[i] = int(int16(binary.LittleEndian.Uint16(a.Data[2*i:])))
	}

	// wav.NewEncoder needs an io.WriteSeeker to patch chunk sizes on Close.
	sw := &seekBuffer{}
	enc := wav.NewEncoder(sw, a.SampleRate, bitDepth, channels, formatPCM)
	buf := &goaudio.IntBuffer{
		Data:           samples,
		Format:         &goaudio.Format{SampleRate: a.SampleRate, NumChannels: channels},
		SourceBitDepth: bitDepth,
	}
	if err := enc.Write(buf); err != nil {
		return nil, fmt.Errorf("audio: write pcm: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("audio: close encoder: %w", err)
	}
	return sw.Bytes(), nil
}

// DecodeWAV extracts the PCM16 payload of a WAV file.
func DecodeWAV(data []byte) (tts.Audio, error) {
	dec := wav.NewDecoder(bytes.NewReader(data))
	if !dec.IsValidFile() {
		return tts.Audio{}, errors.New("audio: not a valid wav file")
	}
	if dec.BitDepth != bitDepth {
		return tts.Audio{}, fmt.Errorf("audio: unsupported bit depth %d", dec.BitDepth)
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return tts.Audio{}, fmt.Errorf("audio: read pcm: %w", err)
	}

	pcm := make([]byte, len(buf.Data)*2)
	for i, s := range buf.Data {
		binary.LittleEndian.PutUint16(pcm[2*i:], uint16(int16(s)))
	}
	return tts.Audio{
		Data:       pcm,
		SampleRate: int(dec.SampleRate),
		Channels:   int(dec.NumChans),
	}, nil
}

// seekBuffer is an in-memory io.WriteSeeker.
type seekBuffer struct {
	buf []byte
	pos int
}

func (s *seekBuffer) Write(p []byte) (int, error) {
	end := s.pos + len(p)
	if end > len(s.buf) {
		grown := make([]byte, end)
		copy(grown, s.buf)
		s.buf = grown
	}
	copy(s.buf[s.pos:], p)
	s.pos = end
	return len(p), nil
}

func (s *seekBuffer) Seek(offset int64, whence int) (int64, error) {
	var next int64
	switch whence {
	case io.SeekStart:
		next = offset
	case io.SeekCurrent:
		next = int64(s.pos) + offset
	case io.SeekEnd:
		next = int64(len(s.buf)) + offset
	default:
		return 0, fmt.Errorf("audio: invalid whence %d", whence)
	}
	if next < 0 {
		return 0, errors.New("audio: seek before start")
	}
	s.pos = int(next)
	return next, nil
}

func (s *seekBuffer) Bytes() []byte {
	return s.buf
}
