//go:build !vosk

package stt

import "fmt"

// VoskEngine is the placeholder compiled when the vosk tag is absent, so
// the binary builds without libvosk and reports the engine as missing.
type VoskEngine struct{}

func NewVoskEngine() *VoskEngine { return &VoskEngine{} }

func (VoskEngine) Name() string { return "vosk" }

func (VoskEngine) Available() error {
	return fmt.Errorf("%w: built without vosk tag", ErrEngineUnavailable)
}

func (e VoskEngine) Load(string, int) (Decoder, error) {
	return nil, e.Available()
}
