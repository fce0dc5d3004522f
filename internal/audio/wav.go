package audio

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// WavSource replays a 16-bit mono WAV file as if it were a microphone.
// The stream ends with io.EOF once the file is exhausted.
type WavSource struct {
	path string
}

func NewWavSource(path string) *WavSource {
	return &WavSource{path: path}
}

func (s *WavSource) Name() string { return "wav" }

func (s *WavSource) Available() error {
	if _, err := os.Stat(s.path); err != nil {
		return fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}
	return nil
}

func (s *WavSource) Open(format Format) (Stream, error) {
	file, err := os.Open(s.path)
	if err != nil {
		return nil, fmt.Errorf("open wav: %w", err)
	}
	dec := wav.NewDecoder(file)
	if !dec.IsValidFile() {
		file.Close()
		return nil, fmt.Errorf("%s is not a valid wav file", s.path)
	}
	if dec.NumChans != 1 || dec.BitDepth != 16 {
		file.Close()
		return nil, fmt.Errorf("wav must be mono 16-bit, got %d channels at %d bits", dec.NumChans, dec.BitDepth)
	}
	if int(dec.SampleRate) != format.SampleRate {
		file.Close()
		return nil, fmt.Errorf("wav sample rate %d does not match %d", dec.SampleRate, format.SampleRate)
	}
	return &wavStream{
		file: file,
		dec:  dec,
		buf: &goaudio.IntBuffer{
			Format: &goaudio.Format{NumChannels: 1, SampleRate: format.SampleRate},
			Data:   make([]int, format.FrameSize),
		},
	}, nil
}

type wavStream struct {
	file *os.File
	dec  *wav.Decoder
	buf  *goaudio.IntBuffer
	done bool
}

func (s *wavStream) Read(out []byte) error {
	if s.done {
		return io.EOF
	}
	samples := len(out) / 2
	if len(s.buf.Data) != samples {
		s.buf.Data = make([]int, samples)
	}
	n, err := s.dec.PCMBuffer(s.buf)
	if err != nil && err != io.EOF {
		return fmt.Errorf("decode wav: %w", err)
	}
	if n == 0 {
		s.done = true
		return io.EOF
	}
	if n < samples {
		// Short tail: pad with silence and end on the next read.
		s.done = true
	}
	for i := 0; i < samples; i++ {
		var v int
		if i < n {
			v = s.buf.Data[i]
		}
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(v)))
	}
	return nil
}

func (s *wavStream) Close() error {
	return s.file.Close()
}
