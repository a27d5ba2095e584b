package config_test

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrz1836/tessera/internal/config"
)

func readLogFile(t *testing.T, path string) []byte {
	t.Helper()
	// #nosec G304 -- test file path
	content, err := os.ReadFile(path)
	require.NoError(t, err)
	return content
}

func TestParseLogLevel(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		input    string
		expected config.LogLevel
	}{
		{"off lowercase", "off", config.LogLevelOff},
		{"off uppercase", "OFF", config.LogLevelOff},
		{"none", "none", config.LogLevelOff},
		{"error", "error", config.LogLevelError},
		{"warn", "warn", config.LogLevelWarn},
		{"warning", "WARNING", config.LogLevelWarn},
		{"info", "info", config.LogLevelInfo},
		{"debug uppercase", "DEBUG", config.LogLevelDebug},
		{"with whitespace", "  debug  ", config.LogLevelDebug},
		{"invalid returns error", "invalid", config.LogLevelError},
		{"empty returns error", "", config.LogLevelError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.expected, config.ParseLogLevel(tt.input))
		})
	}
}

func TestLogLevel_String(t *testing.T) {
	t.Parallel()
	tests := []struct {
		level    config.LogLevel
		expected string
	}{
		{config.LogLevelOff, "off"},
		{config.LogLevelError, "error"},
		{config.LogLevelWarn, "warn"},
		{config.LogLevelInfo, "info"},
		{config.LogLevelDebug, "debug"},
		{config.LogLevel(99), "error"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.expected, tt.level.String())
		})
	}
}

func TestNewLogger_LevelOff(t *testing.T) {
	t.Parallel()
	logger, err := config.NewLogger(config.LogLevelOff, "")
	require.NoError(t, err)
	defer func() { _ = logger.Close() }()

	assert.Equal(t, config.LogLevelOff, logger.Level())
}

func TestNewLogger_EmptyPath(t *testing.T) {
	t.Parallel()
	logger, err := config.NewLogger(config.LogLevelDebug, "")
	require.NoError(t, err)
	defer func() { _ = logger.Close() }()

	// Should not panic when logging with no file
	logger.Debug("test message")
	logger.Error("test error")
}

func TestNewLogger_ValidPath(t *testing.T) {
	t.Parallel()
	logPath := filepath.Join(t.TempDir(), "test.log")

	logger, err := config.NewLogger(config.LogLevelDebug, logPath)
	require.NoError(t, err)
	defer func() { _ = logger.Close() }()

	logger.Debug("debug message")
	logger.Info("info message")
	logger.Warn("warn message")
	logger.Error("error message")

	content := string(readLogFile(t, logPath))
	assert.Contains(t, content, "debug message")
	assert.Contains(t, content, "info message")
	assert.Contains(t, content, "warn message")
	assert.Contains(t, content, "error message")
	assert.Contains(t, content, `"level":"warn"`)
}

func TestNewLogger_CreatesDirectory(t *testing.T) {
	t.Parallel()
	logPath := filepath.Join(t.TempDir(), "subdir", "deep", "test.log")

	logger, err := config.NewLogger(config.LogLevelDebug, logPath)
	require.NoError(t, err)
	defer func() { _ = logger.Close() }()

	info, err := os.Stat(filepath.Dir(logPath))
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestNewLogger_InvalidPath(t *testing.T) {
	t.Parallel()
	_, err := config.NewLogger(config.LogLevelDebug, "/proc/nonexistent/test.log")
	assert.Error(t, err)
}

func TestNullLogger(t *testing.T) {
	t.Parallel()
	logger := config.NullLogger()
	assert.Equal(t, config.LogLevelOff, logger.Level())

	logger.Debug("test debug")
	logger.Error("test error")
	logger.Critical("test critical")

	assert.NoError(t, logger.Close())
}

func TestLogger_NilReceiver(t *testing.T) {
	t.Parallel()
	var logger *config.Logger
	logger.Debug("ignored")
	logger.Critical("ignored")
}

func TestLogger_SetLevel_Level(t *testing.T) {
	t.Parallel()
	logger := config.NullLogger()

	logger.SetLevel(config.LogLevelDebug)
	assert.Equal(t, config.LogLevelDebug, logger.Level())

	logger.SetLevel(config.LogLevelOff)
	assert.Equal(t, config.LogLevelOff, logger.Level())
}

func TestLogger_LevelFiltering(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	logger := config.NewWriterLogger(config.LogLevelWarn, &buf)

	logger.Debug("debug message")
	logger.Info("info message")
	logger.Warn("warn message")
	logger.Error("error message")

	out := buf.String()
	assert.NotContains(t, out, "debug message")
	assert.NotContains(t, out, "info message")
	assert.Contains(t, out, "warn message")
	assert.Contains(t, out, "error message")
}

func TestLogger_WithArgs(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	logger := config.NewWriterLogger(config.LogLevelDebug, &buf)

	logger.Debug("value: %d, string: %s", 42, "hello")
	assert.Contains(t, buf.String(), "value: 42, string: hello")
}

func TestLogger_Critical(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	logger := config.NewWriterLogger(config.LogLevelError, &buf)

	logger.Critical("token missing after %s login", "email")

	out := buf.String()
	assert.Contains(t, out, "token missing after email login")
	assert.Contains(t, out, `"critical":true`)
}

func TestLogger_With(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	logger := config.NewWriterLogger(config.LogLevelInfo, &buf).With("mwa")

	logger.Info("associated")
	assert.Contains(t, buf.String(), `"component":"mwa"`)
}

func TestLogger_Writer(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	logger := config.NewWriterLogger(config.LogLevelDebug, &buf)

	writer := logger.Writer(config.LogLevelDebug)
	n, err := writer.Write([]byte("written via io.Writer\n"))
	require.NoError(t, err)
	assert.Equal(t, len("written via io.Writer\n"), n)
	assert.Contains(t, buf.String(), "written via io.Writer")
}

func TestLogger_Writer_LevelFiltering(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	logger := config.NewWriterLogger(config.LogLevelError, &buf)

	_, err := logger.Writer(config.LogLevelDebug).Write([]byte("debug via writer"))
	require.NoError(t, err)
	assert.NotContains(t, buf.String(), "debug via writer")
}
