// Package audio opens microphone-like sources of mono, little-endian,
// 16-bit PCM frames for the recognizer.
package audio

import (
	"errors"
	"fmt"
	"time"

	"github.com/loqalabs/mg-assistant/internal/config"
)

// ErrSourceUnavailable reports that a capture backend is not compiled in or
// cannot run on this host.
var ErrSourceUnavailable = errors.New("audio source unavailable")

// Format describes how a stream must be opened.
type Format struct {
	SampleRate int
	// FrameSize is the number of samples returned by each Read.
	FrameSize int
	// BufferFrames sizes the device-side buffer. It is larger than
	// FrameSize so a slow consumer does not overrun the device.
	BufferFrames int
}

// FrameBytes is the size of one frame in bytes.
func (f Format) FrameBytes() int {
	return f.FrameSize * 2
}

// BufferLatency is how much audio the device-side buffer holds. It never
// drops below one frame.
func (f Format) BufferLatency() time.Duration {
	if f.SampleRate <= 0 {
		return 0
	}
	n := max(f.BufferFrames, f.FrameSize)
	return time.Duration(n) * time.Second / time.Duration(f.SampleRate)
}

// Source opens capture streams.
type Source interface {
	Name() string
	// Available reports whether Open can be expected to succeed.
	Available() error
	Open(format Format) (Stream, error)
}

// Stream yields fixed-size PCM frames. Read fills buf completely or returns
// an error; io.EOF marks the end of a finite source.
type Stream interface {
	Read(buf []byte) error
	Close() error
}

// FromConfig builds the Source named by recognizer.source.
func FromConfig(cfg config.RecognizerConfig) (Source, error) {
	switch cfg.Source {
	case "portaudio":
		return NewPortAudioSource(), nil
	case "exec":
		return NewExecSource(cfg.Command)
	case "wav":
		return NewWavSource(cfg.WavPath), nil
	default:
		return nil, fmt.Errorf("unknown audio source %q", cfg.Source)
	}
}
