package cook

import (
	"context"
	"log/slog"
	"os"
)

// NewLogger returns the structured logger the scheduler accepts as its Log
// field. meter and silent are the OptionStack flags of the same name: meter
// lowers the threshold from Warn to Info so per-recipe progress lines are
// emitted; silent drops everything below Error.
func NewLogger(meter, silent bool) *slog.Logger {
	level := slog.LevelWarn
	switch {
	case silent:
		level = slog.LevelError
	case meter:
		level = slog.LevelInfo
	}
	h := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	return slog.New(h)
}

// DiscardLogger is the logger used by components constructed without an
// explicit one (tests, or callers that don't care about diagnostics).
func DiscardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}

// logRecipeStart/logRecipeDone are small helpers so callers don't repeat
// the same attribute set at every call site.
func logRecipeStart(ctx context.Context, log *slog.Logger, targets []string) {
	log.LogAttrs(ctx, slog.LevelInfo, "building",
		slog.String("target", joinTargets(targets)))
}

func logRecipeDone(ctx context.Context, log *slog.Logger, targets []string, reason string, err error) {
	if err != nil {
		log.LogAttrs(ctx, slog.LevelError, "recipe failed",
			slog.String("target", joinTargets(targets)),
			slog.String("error", err.Error()))
		return
	}
	log.LogAttrs(ctx, slog.LevelInfo, "recipe complete",
		slog.String("target", joinTargets(targets)),
		slog.String("reason", reason))
}

func joinTargets(targets []string) string {
	switch len(targets) {
	case 0:
		return ""
	case 1:
		return targets[0]
	default:
		out := targets[0]
		for _, t := range targets[1:] {
			out += " " + t
		}
		return out
	}
}
