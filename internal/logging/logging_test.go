package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/go-kit/kit/log/level"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kevinxiao27/wavesync/internal/config"
)

func TestJSONLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, config.LogConfig{Level: "debug", Format: "json"})
	require.NoError(t, level.Debug(logger).Log("msg", "hello", "n", 3))

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "hello", line["msg"])
	assert.Equal(t, "debug", line["level"])
	assert.Contains(t, line, "ts")
	assert.Contains(t, line, "caller")
}

func TestLevelFilter(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, config.LogConfig{Level: "warn", Format: "logfmt"})
	level.Info(logger).Log("msg", "dropped")
	level.Error(logger).Log("msg", "kept")

	out := buf.String()
	assert.NotContains(t, out, "dropped")
	assert.Contains(t, out, "msg=kept")
	assert.Equal(t, 1, strings.Count(out, "\n"))
}
