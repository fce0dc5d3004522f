//go:build portaudio

package audio

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/gordonklaus/portaudio"
)

// PortAudioSource reads from the default input device.
type PortAudioSource struct{}

func NewPortAudioSource() *PortAudioSource { return &PortAudioSource{} }

func (s *PortAudioSource) Name() string { return "portaudio" }

func (s *PortAudioSource) Available() error {
	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}
	defer portaudio.Terminate()
	if _, err := portaudio.DefaultInputDevice(); err != nil {
		return fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}
	return nil
}

func (s *PortAudioSource) Open(format Format) (Stream, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("initialize portaudio: %w", err)
	}
	dev, err := portaudio.DefaultInputDevice()
	if err != nil {
		portaudio.Terminate()
		return nil, fmt.Errorf("default input device: %w", err)
	}
	samples := make([]int16, format.FrameSize)
	params := portaudio.HighLatencyParameters(dev, nil)
	params.Input.Channels = 1
	params.Input.Latency = format.BufferLatency()
	params.SampleRate = float64(format.SampleRate)
	params.FramesPerBuffer = len(samples)
	stream, err := portaudio.OpenStream(params, samples)
	if err != nil {
		portaudio.Terminate()
		return nil, fmt.Errorf("open input stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		portaudio.Terminate()
		return nil, fmt.Errorf("start input stream: %w", err)
	}
	return &portAudioStream{stream: stream, samples: samples}, nil
}

type portAudioStream struct {
	stream    *portaudio.Stream
	samples   []int16
	closeOnce sync.Once
}

func (s *portAudioStream) Read(buf []byte) error {
	if err := s.stream.Read(); err != nil {
		// Overflow only means we were late; the frame is still usable.
		if err != portaudio.InputOverflowed {
			return err
		}
	}
	for i, v := range s.samples {
		if i*2+1 >= len(buf) {
			break
		}
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(v))
	}
	return nil
}

func (s *portAudioStream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		_ = s.stream.Stop()
		err = s.stream.Close()
		portaudio.Terminate()
	})
	return err
}
