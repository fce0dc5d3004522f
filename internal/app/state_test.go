package app

import (
	"testing"
	"time"
)

func TestAppendTranscript(t *testing.T) {
	var s State
	for _, piece := range []string{"hello", "  world ", "again"} {
		s.appendTranscript(piece)
	}
	if s.Transcript != "hello world again" {
		t.Fatalf("unexpected transcript %q", s.Transcript)
	}
}

func TestNoticesBounded(t *testing.T) {
	var s State
	now := time.Now()
	for i := 0; i < maxNotices+10; i++ {
		s.notify(now, LevelInfo, "n")
	}
	s.notify(now, LevelError, "last")
	if len(s.Notices) != maxNotices {
		t.Fatalf("expected %d notices, got %d", maxNotices, len(s.Notices))
	}
	if s.Notices[maxNotices-1].Text != "last" {
		t.Fatalf("newest notice should be kept")
	}
	s.notify(now, LevelInfo, "")
	if s.Notices[maxNotices-1].Text != "last" {
		t.Fatalf("empty notice should be ignored")
	}
}

func TestSnapshotCopies(t *testing.T) {
	s := State{Notices: []Notice{{Text: "a"}}}
	snap := s.snapshot("MG", true, 20)
	snap.Notices[0].Text = "changed"
	if s.Notices[0].Text != "a" {
		t.Fatal("snapshot must not alias state")
	}
	if !snap.LocalOnly || snap.AppName != "MG" || snap.Messages == nil {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
}
