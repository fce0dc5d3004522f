package eventstore

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/loqalabs/mg-assistant/internal/config"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestOpenEphemeral(t *testing.T) {
	ctx := context.Background()
	es, err := Open(ctx, config.EventStoreConfig{RetentionMode: "ephemeral"}, newLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	t.Cleanup(func() { _ = es.Close() })
	if err := es.Append(ctx, Event{Kind: "reply", Body: "x"}); err != nil {
		t.Fatalf("append on ephemeral store: %v", err)
	}
	events, err := es.List(ctx, "", 10)
	if err != nil || events != nil {
		t.Fatalf("expected nothing stored, got %v %v", events, err)
	}
}

func TestAppendAndList(t *testing.T) {
	ctx := context.Background()
	cfg := config.EventStoreConfig{Path: filepath.Join(t.TempDir(), "events.db"), RetentionMode: "persistent"}
	es, err := Open(ctx, cfg, newLogger())
	if err != nil {
		t.Fatalf("open event store: %v", err)
	}
	t.Cleanup(func() { _ = es.Close() })

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	for i, kind := range []string{"transcript", "reply", "transcript"} {
		evt := Event{Kind: kind, Body: fmt.Sprintf("body-%d", i), CreatedAt: base.Add(time.Duration(i) * time.Second)}
		if err := es.Append(ctx, evt); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	all, err := es.List(ctx, "", 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 3 || all[0].Body != "body-0" || all[2].Body != "body-2" {
		t.Fatalf("unexpected events %+v", all)
	}

	transcripts, err := es.List(ctx, "transcript", 1)
	if err != nil {
		t.Fatalf("list transcripts: %v", err)
	}
	if len(transcripts) != 1 || transcripts[0].Body != "body-2" {
		t.Fatalf("expected most recent transcript, got %+v", transcripts)
	}
	if !transcripts[0].CreatedAt.Equal(base.Add(2 * time.Second)) {
		t.Fatalf("unexpected timestamp %s", transcripts[0].CreatedAt)
	}
}

func TestPruneByDaysAndCount(t *testing.T) {
	ctx := context.Background()
	cfg := config.EventStoreConfig{Path: filepath.Join(t.TempDir(), "events.db"), RetentionMode: "persistent", RetentionDays: 1, MaxEvents: 2}
	es, err := Open(ctx, cfg, newLogger())
	if err != nil {
		t.Fatalf("open event store: %v", err)
	}
	t.Cleanup(func() { _ = es.Close() })

	es.clock = func() time.Time { return time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC) }
	if err := es.Append(ctx, Event{Kind: "reply", Body: "old"}); err != nil {
		t.Fatalf("append: %v", err)
	}

	es.clock = func() time.Time { return time.Date(2025, 1, 3, 0, 0, 0, 0, time.UTC) }
	for _, body := range []string{"a", "b", "c"} {
		if err := es.Append(ctx, Event{Kind: "reply", Body: body}); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	if err := es.Prune(ctx); err != nil {
		t.Fatalf("prune: %v", err)
	}

	events, err := es.List(ctx, "", 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(events) != 2 || events[0].Body != "b" || events[1].Body != "c" {
		t.Fatalf("expected only the two newest events, got %+v", events)
	}
}
