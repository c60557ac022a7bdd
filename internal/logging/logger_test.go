package logging

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"cagent/internal/config"
)

// TestColorLineWriter_HighlightsLevelAndTokens verifies level and token coloring.
// Params: testing.T for assertions.
// Returns: none.
func TestColorLineWriter_HighlightsLevelAndTokens(t *testing.T) {
	var dst bytes.Buffer
	writer := &colorLineWriter{dst: &dst}

	line := `level=INFO msg="hello" peer=10.20.30.40 retries=3`
	if _, err := writer.Write([]byte(line)); err != nil {
		t.Fatalf("write: %v", err)
	}

	rendered := dst.String()
	if !strings.HasPrefix(rendered, ansiBlue) {
		t.Fatalf("expected INFO line base color")
	}
	if !strings.Contains(rendered, ansiGreen+`"hello"`+ansiReset+ansiBlue) {
		t.Fatalf("expected quoted string token color")
	}
	if !strings.Contains(rendered, ansiCyan+`10.20.30.40`+ansiReset+ansiBlue) {
		t.Fatalf("expected IP token color")
	}
	if !strings.Contains(rendered, ansiYellow+`3`+ansiReset+ansiBlue) {
		t.Fatalf("expected number token color")
	}
	if !strings.HasSuffix(rendered, ansiReset) {
		t.Fatalf("expected trailing reset sequence")
	}
}

// TestColorLineWriter_NoLevelColor verifies passthrough for unknown levels.
// Params: testing.T for assertions.
// Returns: none.
func TestColorLineWriter_NoLevelColor(t *testing.T) {
	var dst bytes.Buffer
	writer := &colorLineWriter{dst: &dst}

	line := `msg="plain" value=42`
	if _, err := writer.Write([]byte(line)); err != nil {
		t.Fatalf("write: %v", err)
	}

	if got := dst.String(); got != line {
		t.Fatalf("expected passthrough line, got %q", got)
	}
}

// TestNew_FileSinkWritesJSON verifies the file sink emits JSON records.
// Params: testing.T for assertions.
// Returns: none.
func TestNew_FileSinkWritesJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agent.log")
	logger, closeFn, err := New(config.LogConfig{
		File: config.LogSinkConfig{Enabled: true, Level: "info", Format: "json", Path: path},
	})
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}

	logger.Info("cycle finished", slog.String("site", "red-ce"))
	closeFn()

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(raw), `"msg":"cycle finished"`) {
		t.Fatalf("unexpected log content: %s", raw)
	}
	if !strings.Contains(string(raw), `"site":"red-ce"`) {
		t.Fatalf("missing attribute: %s", raw)
	}
}

// TestNew_FileSinkLevelFilter verifies records below the sink level are dropped.
// Params: testing.T for assertions.
// Returns: none.
func TestNew_FileSinkLevelFilter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agent.log")
	logger, closeFn, err := New(config.LogConfig{
		File: config.LogSinkConfig{Enabled: true, Level: "error", Format: "line", Path: path},
	})
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}

	logger.Info("quiet")
	logger.Error("loud")
	closeFn()

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if strings.Contains(string(raw), "quiet") {
		t.Fatalf("info record should be filtered: %s", raw)
	}
	if !strings.Contains(string(raw), "loud") {
		t.Fatalf("error record missing: %s", raw)
	}
}

// TestNew_UnsupportedLevel verifies unknown levels fail sink setup.
// Params: testing.T for assertions.
// Returns: none.
func TestNew_UnsupportedLevel(t *testing.T) {
	_, _, err := New(config.LogConfig{
		Console: config.LogSinkConfig{Enabled: true, Level: "verbose", Format: "line"},
	})
	if err == nil {
		t.Fatalf("expected unsupported level error")
	}
	if !strings.Contains(err.Error(), "verbose") {
		t.Fatalf("unexpected error: %v", err)
	}
}

// TestMultiHandler_FanOut verifies records reach every enabled sink.
// Params: testing.T for assertions.
// Returns: none.
func TestMultiHandler_FanOut(t *testing.T) {
	var lineOut, jsonOut bytes.Buffer
	handler := mergeHandlers([]slog.Handler{
		slog.NewTextHandler(&lineOut, &slog.HandlerOptions{Level: slog.LevelInfo}),
		slog.NewJSONHandler(&jsonOut, &slog.HandlerOptions{Level: slog.LevelWarn}),
	})

	logger := slog.New(handler)
	logger.Info("first")
	logger.Warn("second")

	if !strings.Contains(lineOut.String(), "first") || !strings.Contains(lineOut.String(), "second") {
		t.Fatalf("text sink missing records: %s", lineOut.String())
	}
	if strings.Contains(jsonOut.String(), "first") {
		t.Fatalf("json sink should filter info records: %s", jsonOut.String())
	}
	if !strings.Contains(jsonOut.String(), "second") {
		t.Fatalf("json sink missing warn record: %s", jsonOut.String())
	}
}

// TestParseLevel_Panic verifies the panic level sits above error.
// Params: testing.T for assertions.
// Returns: none.
func TestParseLevel_Panic(t *testing.T) {
	level, err := parseLevel("panic")
	if err != nil {
		t.Fatalf("parse level: %v", err)
	}
	if level <= slog.LevelError {
		t.Fatalf("panic level should exceed error, got %v", level)
	}
}
