package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestJSONLogger(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(Config{Level: zapcore.DebugLevel, Format: "json"}, &buf)
	require.NoError(t, err)
	logger.Debug("grid search", zap.Float64("criterion", 0.5))

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "grid search", entry["msg"])
	assert.Equal(t, "debug", entry["level"])
	assert.Equal(t, 0.5, entry["criterion"])
	assert.Contains(t, entry, "ts")
}

func TestLevelFilters(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(DefaultConfig(), &buf)
	require.NoError(t, err)
	logger.Info("hidden")
	assert.Zero(t, buf.Len())
	logger.Warn("shown")
	assert.Contains(t, buf.String(), "WARN")
	assert.Contains(t, buf.String(), "shown")
}

func TestInvalidFormat(t *testing.T) {
	_, err := New(Config{Format: "xml"}, nil)
	assert.Error(t, err)
}
