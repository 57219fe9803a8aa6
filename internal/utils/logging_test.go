package utils

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	copilot "github.com/github/copilot-sdk/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func withLogger(t *testing.T, level slog.Level) *bytes.Buffer {
	old := slog.Default()
	t.Cleanup(func() {
		slog.SetDefault(old)
	})

	var buf bytes.Buffer
	slog.SetDefault(slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: level})))
	return &buf
}

func TestSessionEventLoggerDebugDisabled(t *testing.T) {
	buf := withLogger(t, slog.LevelInfo)

	SessionEventLogger("judge")(copilot.SessionEvent{Type: copilot.SessionEventType("message")})
	assert.Equal(t, 0, buf.Len())
}

func TestSessionEventLoggerDebugEnabled(t *testing.T) {
	buf := withLogger(t, slog.LevelDebug)

	content := `{"overall": 0.8}`
	SessionEventLogger("judge")(copilot.SessionEvent{
		Type: copilot.SessionEventType("assistant.message"),
		Data: copilot.Data{Content: &content},
	})

	var logEntry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &logEntry))
	assert.Equal(t, "Copilot event", logEntry["msg"])
	assert.Equal(t, "judge", logEntry["role"])
	assert.Equal(t, content, logEntry["content"])
	assert.NotContains(t, logEntry, "deltaContent")
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "héll", Truncate("héllo", 4))
	assert.Equal(t, "abc", Truncate("abc", 10))
	assert.Equal(t, "", Truncate("abc", 0))
}

func TestAddIf(t *testing.T) {
	attrs := []any{"existing", "value"}

	result := addIf(attrs, "missing", (*int)(nil))
	assert.Equal(t, attrs, result)

	v := 7
	result = addIf(attrs, "number", &v)
	assert.Equal(t, []any{"existing", "value", "number", 7}, result)
}
