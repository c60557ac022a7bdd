// Package logging builds slog loggers from configuration with console
// and file sinks. Console output goes to stderr so stdout stays free
// for rendered reports.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"regexp"
	"strings"

	"cagent/internal/config"
)

const (
	ansiReset   = "\x1b[0m"
	ansiRed     = "\x1b[31m"
	ansiGreen   = "\x1b[32m"
	ansiYellow  = "\x1b[33m"
	ansiBlue    = "\x1b[34m"
	ansiMagenta = "\x1b[35m"
	ansiCyan    = "\x1b[36m"
)

// levelPanic sits above error for failures that abort the process.
const levelPanic = slog.LevelError + 4

// New builds a logger from the log configuration.
// Params: cfg holds console and file sink settings.
// Returns: logger, close function for file sinks, or setup error.
func New(cfg config.LogConfig) (*slog.Logger, func(), error) {
	var handlers []slog.Handler
	var closers []io.Closer

	closeSinks := func() {
		for _, closer := range closers {
			_ = closer.Close()
		}
	}

	if cfg.Console.Enabled {
		handler, err := newSinkHandler(consoleWriter(cfg.Console), cfg.Console)
		if err != nil {
			return nil, nil, fmt.Errorf("log.console: %w", err)
		}
		handlers = append(handlers, handler)
	}

	if cfg.File.Enabled {
		file, err := os.OpenFile(cfg.File.Path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file %q: %w", cfg.File.Path, err)
		}
		closers = append(closers, file)

		handler, handlerErr := newSinkHandler(file, cfg.File)
		if handlerErr != nil {
			closeSinks()
			return nil, nil, fmt.Errorf("log.file: %w", handlerErr)
		}
		handlers = append(handlers, handler)
	}

	if len(handlers) == 0 {
		handlers = append(handlers, slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}

	return slog.New(mergeHandlers(handlers)), closeSinks, nil
}

// newSinkHandler builds one slog handler for a sink.
// Params: dst is the sink writer; sink holds level and format.
// Returns: handler or error for unknown level/format values.
func newSinkHandler(dst io.Writer, sink config.LogSinkConfig) (slog.Handler, error) {
	level, err := parseLevel(sink.Level)
	if err != nil {
		return nil, err
	}

	opts := &slog.HandlerOptions{Level: level}
	switch sink.Format {
	case "json":
		return slog.NewJSONHandler(dst, opts), nil
	case "line":
		return slog.NewTextHandler(dst, opts), nil
	default:
		return nil, fmt.Errorf("unsupported log format %q", sink.Format)
	}
}

// consoleWriter returns the console sink writer. Line format gets ANSI
// colors when stderr is a terminal.
// Params: sink is the console sink configuration.
// Returns: writer for the console handler.
func consoleWriter(sink config.LogSinkConfig) io.Writer {
	if sink.Format == "line" && writerIsTerminal(os.Stderr) {
		return &colorLineWriter{dst: os.Stderr}
	}
	return os.Stderr
}

// writerIsTerminal reports whether the file is a character device.
// Params: f is the candidate console file.
// Returns: true when attached to a terminal.
func writerIsTerminal(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeCharDevice != 0
}

// parseLevel maps configured level names to slog levels.
// Params: level is a level name from config.
// Returns: slog level or error for unknown names.
func parseLevel(level string) (slog.Level, error) {
	switch strings.TrimSpace(strings.ToLower(level)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	case "panic":
		return levelPanic, nil
	default:
		return 0, fmt.Errorf("unsupported log level %q", level)
	}
}

// mergeHandlers returns one handler fanning out to all sinks.
// Params: handlers is a non-empty handler list.
// Returns: single handler or fan-out wrapper.
func mergeHandlers(handlers []slog.Handler) slog.Handler {
	if len(handlers) == 1 {
		return handlers[0]
	}
	return multiHandler(handlers)
}

type multiHandler []slog.Handler

func (m multiHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, handler := range m {
		if handler.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (m multiHandler) Handle(ctx context.Context, record slog.Record) error {
	var firstErr error
	for _, handler := range m {
		if !handler.Enabled(ctx, record.Level) {
			continue
		}
		if err := handler.Handle(ctx, record.Clone()); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (m multiHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := make(multiHandler, len(m))
	for i, handler := range m {
		next[i] = handler.WithAttrs(attrs)
	}
	return next
}

func (m multiHandler) WithGroup(name string) slog.Handler {
	next := make(multiHandler, len(m))
	for i, handler := range m {
		next[i] = handler.WithGroup(name)
	}
	return next
}

// colorLineWriter adds ANSI colors to text-format log lines. Each Write
// call carries one complete record from the text handler.
type colorLineWriter struct {
	dst io.Writer
}

var (
	levelToken = regexp.MustCompile(`\blevel=([A-Z]+)`)
	valueToken = regexp.MustCompile(`"(?:[^"\\]|\\.)*"|\b\d{1,3}(?:\.\d{1,3}){3}\b|\b\d+(?:\.\d+)?\b`)
)

// Write renders one log line with level-based coloring. Lines without
// a recognized level token pass through unchanged.
// Params: p is one text-format log line.
// Returns: length of p on success or the underlying write error.
func (w *colorLineWriter) Write(p []byte) (int, error) {
	base := lineBaseColor(p)
	if base == "" {
		if _, err := w.dst.Write(p); err != nil {
			return 0, err
		}
		return len(p), nil
	}

	line := string(p)
	newline := strings.HasSuffix(line, "\n")
	line = strings.TrimSuffix(line, "\n")

	var out strings.Builder
	out.Grow(len(line) + 32)
	out.WriteString(base)
	out.WriteString(valueToken.ReplaceAllStringFunc(line, func(token string) string {
		return tokenColor(token) + token + ansiReset + base
	}))
	out.WriteString(ansiReset)
	if newline {
		out.WriteByte('\n')
	}

	if _, err := io.WriteString(w.dst, out.String()); err != nil {
		return 0, err
	}
	return len(p), nil
}

// lineBaseColor picks the base color from the line's level token.
// Params: p is the raw log line.
// Returns: ANSI color for the level or empty string when absent.
func lineBaseColor(p []byte) string {
	match := levelToken.FindSubmatch(p)
	if match == nil {
		return ""
	}
	switch string(match[1]) {
	case "DEBUG":
		return ansiMagenta
	case "INFO":
		return ansiBlue
	case "WARN":
		return ansiYellow
	case "ERROR":
		return ansiRed
	default:
		return ""
	}
}

// tokenColor picks the highlight color for one matched token.
// Params: token is a quoted string, IP address, or number.
// Returns: ANSI color for the token class.
func tokenColor(token string) string {
	switch {
	case strings.HasPrefix(token, `"`):
		return ansiGreen
	case strings.Count(token, ".") == 3:
		return ansiCyan
	default:
		return ansiYellow
	}
}
