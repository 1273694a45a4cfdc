package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestJSONFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, "info", "json")
	logger.Info("task created", "task_hash", "abc", "height", 7)
	logger.Debug("hidden")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	require.Equal(t, "task created", line["msg"])
	require.Equal(t, "abc", line["task_hash"])
	require.Equal(t, float64(7), line["height"])
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"WARNING": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"bogus":   slog.LevelInfo,
	}
	for in, want := range cases {
		require.Equal(t, want, parseLevel(in).Level(), in)
	}
}

func TestTextFormatIsDefault(t *testing.T) {
	var buf bytes.Buffer
	NewWithWriter(&buf, "debug", "").Debug("hello", "agent", "croncat1bob")
	require.Contains(t, buf.String(), "msg=hello")
	require.Contains(t, buf.String(), "agent=croncat1bob")
}
