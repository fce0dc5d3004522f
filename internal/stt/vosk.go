//go:build vosk

package stt

import (
	"fmt"

	vosk "github.com/alphacep/vosk-api/go"
)

// VoskEngine decodes speech with libvosk.
type VoskEngine struct{}

func NewVoskEngine() *VoskEngine {
	vosk.SetLogLevel(-1)
	return &VoskEngine{}
}

func (VoskEngine) Name() string { return "vosk" }

func (VoskEngine) Available() error { return nil }

func (VoskEngine) Load(modelPath string, sampleRate int) (Decoder, error) {
	model, err := vosk.NewModel(modelPath)
	if err != nil {
		return nil, fmt.Errorf("load vosk model: %w", err)
	}
	rec, err := vosk.NewRecognizer(model, float64(sampleRate))
	if err != nil {
		model.Free()
		return nil, fmt.Errorf("create vosk recognizer: %w", err)
	}
	return &voskDecoder{model: model, rec: rec}, nil
}

type voskDecoder struct {
	model *vosk.VoskModel
	rec   *vosk.VoskRecognizer
}

func (d *voskDecoder) AcceptWaveform(pcm []byte) int { return d.rec.AcceptWaveform(pcm) }
func (d *voskDecoder) Result() string                { return d.rec.Result() }
func (d *voskDecoder) FinalResult() string           { return d.rec.FinalResult() }

func (d *voskDecoder) Close() {
	if d.rec != nil {
		d.rec.Free()
		d.rec = nil
	}
	if d.model != nil {
		d.model.Free()
		d.model = nil
	}
}
