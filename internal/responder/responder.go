package responder

import (
	"context"
	"log/slog"
	"strings"
)

const offlinePrefix = "Offline response: "

// Checker reports network reachability; *connectivity.Probe satisfies it.
type Checker interface {
	Check(ctx context.Context) bool
}

// Generator produces the online reply for a prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// EchoGenerator stands in for a hosted assistant.
type EchoGenerator struct{}

func (EchoGenerator) Generate(_ context.Context, prompt string) (string, error) {
	return "Online AI reply: " + prompt, nil
}

// Responder picks between the online generator and the offline echo.
type Responder struct {
	checker   Checker
	online    Generator
	localOnly bool
	logger    *slog.Logger
}

func New(checker Checker, online Generator, localOnly bool, logger *slog.Logger) *Responder {
	if online == nil {
		online = EchoGenerator{}
	}
	return &Responder{
		checker:   checker,
		online:    online,
		localOnly: localOnly,
		logger:    logger.With(slog.String("component", "responder")),
	}
}

// ProcessText answers text. Reachability alone picks the path: a failed
// check or a failing generator falls back to the offline echo.
func (r *Responder) ProcessText(ctx context.Context, text string) string {
	if !r.checker.Check(ctx) {
		return offlinePrefix + text
	}
	reply, err := r.online.Generate(ctx, text)
	if err != nil || strings.TrimSpace(reply) == "" {
		if err != nil {
			r.logger.Warn("online responder failed", slog.String("error", err.Error()))
		}
		return offlinePrefix + text
	}
	return reply
}

// LocalOnly reports the configured local_only flag. It is surfaced in status
// only and does not gate ProcessText.
func (r *Responder) LocalOnly() bool {
	return r.localOnly
}
