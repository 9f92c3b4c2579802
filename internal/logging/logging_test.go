package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_JSONIncludesFields(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, "json", "info")

	l.Info("request assigned", "request_id", "r1", "shelter_id", "s1")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "request assigned", entry["msg"])
	assert.Equal(t, "r1", entry["request_id"])
	assert.Equal(t, "s1", entry["shelter_id"])
}

func TestNew_LevelFilters(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, "text", "warn")

	l.Debug("hidden")
	l.Info("hidden")
	assert.Empty(t, buf.String())

	l.Warn("shown")
	assert.Contains(t, buf.String(), "shown")
}

func TestWith(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, "text", "debug").With("component", "ledger")
	l.Debug("locked")
	assert.Contains(t, buf.String(), "component=ledger")
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	assert.Equal(t, slog.LevelError, ParseLevel(" error "))
	assert.Equal(t, slog.LevelInfo, ParseLevel("bogus"))
}

func TestNopAndOrNop(t *testing.T) {
	require.NotPanics(t, func() {
		OrNop(nil).Error("dropped", "k", "v")
	})
	var buf bytes.Buffer
	l := New(&buf, "text", "info")
	assert.Same(t, l, OrNop(l))
}
