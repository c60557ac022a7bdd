package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"cagent/internal/report"
)

// Sink consumes one rendered pool report.
// Params: context, pool payload, and rendered report bytes.
// Returns: error if sink cannot deliver the report.
type Sink interface {
	Consume(ctx context.Context, pool report.Pool, rendered []byte) error
}

// StreamSink writes rendered reports to one stream, usually stdout.
// Params: destination writer.
// Returns: stream sink instance.
type StreamSink struct {
	dst io.Writer
}

// NewStreamSink creates a stream sink.
// Params: dst destination writer.
// Returns: report sink implementation.
func NewStreamSink(dst io.Writer) *StreamSink {
	return &StreamSink{dst: dst}
}

// Consume writes the rendered report to the stream.
// Params: ctx and pool are unused; rendered report bytes.
// Returns: write error.
func (s *StreamSink) Consume(_ context.Context, _ report.Pool, rendered []byte) error {
	if _, err := s.dst.Write(rendered); err != nil {
		return fmt.Errorf("write report stream: %w", err)
	}
	return nil
}

// FileSink replaces the report file atomically on every cycle so
// readers never observe a partial report.
// Params: target file path.
// Returns: file sink instance.
type FileSink struct {
	path string
}

// NewFileSink creates a file sink.
// Params: path target report file.
// Returns: report sink implementation.
func NewFileSink(path string) *FileSink {
	return &FileSink{path: path}
}

// Consume writes the rendered report to a temp file in the target
// directory and renames it over the destination.
// Params: ctx and pool are unused; rendered report bytes.
// Returns: write or rename error.
func (s *FileSink) Consume(_ context.Context, _ report.Pool, rendered []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".pool-*")
	if err != nil {
		return fmt.Errorf("create report temp file: %w", err)
	}

	if _, err := tmp.Write(rendered); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write report file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close report file: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("chmod report file: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("replace report file %q: %w", s.path, err)
	}
	return nil
}

// LogSink writes pool snapshots into debug logs.
// Params: logger used for output.
// Returns: debug sink instance.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink creates a debug sink.
// Params: logger instance.
// Returns: report sink implementation.
func NewLogSink(logger *slog.Logger) *LogSink {
	return &LogSink{logger: logger}
}

// Consume logs one pool snapshot as compact JSON.
// Params: ctx for level check; pool payload to log; rendered is unused.
// Returns: marshal error when payload cannot be encoded.
func (s *LogSink) Consume(ctx context.Context, pool report.Pool, _ []byte) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if !s.logger.Enabled(ctx, slog.LevelDebug) {
		return nil
	}

	payload, err := json.Marshal(pool)
	if err != nil {
		return fmt.Errorf("marshal pool: %w", err)
	}

	s.logger.Debug(
		"pool snapshot",
		slog.String("cycle", pool.CycleID),
		slog.String("payload", string(payload)),
	)

	return nil
}

// MultiSink dispatches one report to multiple sink implementations.
// Params: sink list.
// Returns: composite sink.
type MultiSink struct {
	sinks []Sink
}

// NewMultiSink builds composite sink from sink list.
// Params: sinks target list.
// Returns: multi sink implementation.
func NewMultiSink(sinks ...Sink) *MultiSink {
	out := make([]Sink, 0, len(sinks))
	for _, sink := range sinks {
		if sink == nil {
			continue
		}
		out = append(out, sink)
	}
	return &MultiSink{sinks: out}
}

// Consume forwards the report to each child sink.
// Params: ctx consume context; pool payload; rendered report bytes.
// Returns: first error from downstream sinks, if any.
func (s *MultiSink) Consume(ctx context.Context, pool report.Pool, rendered []byte) error {
	var firstErr error
	for _, sink := range s.sinks {
		if err := sink.Consume(ctx, pool, rendered); err != nil {
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
