package responder

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

type staticChecker struct {
	online bool
	calls  int
}

func (c *staticChecker) Check(context.Context) bool {
	c.calls++
	return c.online
}

type failingGenerator struct{}

func (failingGenerator) Generate(context.Context, string) (string, error) {
	return "", errors.New("upstream down")
}

func TestProcessTextOffline(t *testing.T) {
	r := New(&staticChecker{online: false}, nil, false, newLogger())
	if got := r.ProcessText(context.Background(), "hello"); got != "Offline response: hello" {
		t.Fatalf("unexpected reply %q", got)
	}
}

func TestProcessTextOnline(t *testing.T) {
	r := New(&staticChecker{online: true}, nil, false, newLogger())
	if got := r.ProcessText(context.Background(), "hello"); got != "Online AI reply: hello" {
		t.Fatalf("unexpected reply %q", got)
	}
}

func TestProcessTextLocalOnlyStillFollowsReachability(t *testing.T) {
	checker := &staticChecker{online: true}
	r := New(checker, nil, true, newLogger())
	if got := r.ProcessText(context.Background(), "lights"); got != "Online AI reply: lights" {
		t.Fatalf("unexpected reply %q", got)
	}
	if checker.calls != 1 {
		t.Fatalf("reachability should be checked once, checked %d times", checker.calls)
	}
	if !r.LocalOnly() {
		t.Fatal("local_only flag should still be reported")
	}

	checker.online = false
	if got := r.ProcessText(context.Background(), "lights"); got != "Offline response: lights" {
		t.Fatalf("unexpected reply %q", got)
	}
}

func TestProcessTextGeneratorFailureFallsBack(t *testing.T) {
	r := New(&staticChecker{online: true}, failingGenerator{}, false, newLogger())
	if got := r.ProcessText(context.Background(), "hi"); got != "Offline response: hi" {
		t.Fatalf("unexpected reply %q", got)
	}
}
