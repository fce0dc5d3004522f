//go:build !portaudio

package audio

import "fmt"

// PortAudioSource is a placeholder used when the binary is built without
// the portaudio tag (no cgo dependency on libportaudio).
type PortAudioSource struct{}

func NewPortAudioSource() *PortAudioSource { return &PortAudioSource{} }

func (s *PortAudioSource) Name() string { return "portaudio" }

func (s *PortAudioSource) Available() error {
	return fmt.Errorf("%w: built without portaudio tag", ErrSourceUnavailable)
}

func (s *PortAudioSource) Open(Format) (Stream, error) {
	return nil, s.Available()
}
