package stt

import "errors"

var (
	// ErrEngineUnavailable means no speech engine is compiled into this binary
	// or its native library cannot be used.
	ErrEngineUnavailable = errors.New("speech engine unavailable")
	// ErrModelMissing means the configured model directory does not exist.
	ErrModelMissing = errors.New("speech model missing")
	// ErrAlreadyRunning is returned by Start while a capture worker is alive.
	ErrAlreadyRunning = errors.New("recognizer already running")
)

// AcceptWaveform return codes, matching the Vosk/Kaldi convention.
const (
	DecodeError     = -1
	DecodeContinue  = 0
	DecodeUtterance = 1
)

// Decoder incrementally decodes PCM frames. It is used from a single
// goroutine at a time.
type Decoder interface {
	// AcceptWaveform feeds one frame and returns DecodeUtterance when an
	// utterance boundary was reached.
	AcceptWaveform(pcm []byte) int
	// Result returns the JSON record for the last completed utterance.
	Result() string
	// FinalResult flushes whatever is pending as a JSON record.
	FinalResult() string
	Close()
}

// Engine loads decoders from a model on disk.
type Engine interface {
	Name() string
	Available() error
	Load(modelPath string, sampleRate int) (Decoder, error)
}
