//go:build !vosk

package stt

import (
	"errors"
	"testing"
)

func TestVoskStubReportsUnavailable(t *testing.T) {
	engine := NewVoskEngine()
	if err := engine.Available(); !errors.Is(err, ErrEngineUnavailable) {
		t.Fatalf("expected ErrEngineUnavailable, got %v", err)
	}
	if _, err := engine.Load(t.TempDir(), 16000); !errors.Is(err, ErrEngineUnavailable) {
		t.Fatalf("expected ErrEngineUnavailable from Load, got %v", err)
	}
}
