package utils

import (
	"context"
	"log/slog"

	copilot "github.com/github/copilot-sdk/go"
)

// SessionEventLogger returns a copilot session handler that mirrors events to slog at debug
// level, tagged with the backend role (executor, judge, generator).
func SessionEventLogger(role string) copilot.SessionEventHandler {
	return func(event copilot.SessionEvent) {
		if !slog.Default().Enabled(context.Background(), slog.LevelDebug) {
			return
		}

		attrs := []any{
			"role", role,
			"type", event.Type,
		}
		attrs = addIf(attrs, "content", event.Data.Content)
		attrs = addIf(attrs, "deltaContent", event.Data.DeltaContent)
		attrs = addIf(attrs, "reasoningText", event.Data.ReasoningText)

		slog.Debug("Copilot event", attrs...)
	}
}

// Truncate shortens s to at most n runes.
func Truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

func addIf[T any](attrs []any, name string, v *T) []any {
	if v != nil {
		attrs = append(attrs, name, *v)
	}
	return attrs
}
