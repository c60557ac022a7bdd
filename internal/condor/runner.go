// Package condor invokes the HTCondor command-line status tools and
// folds their output into per-VO pool summaries.
package condor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sort"
	"strings"
	"time"
)

// Runner executes one templated pool-status command and exposes its
// standard output as a stream. Close on the returned stream reaps the
// process and reports its exit status. Implementations must not retry.
type Runner interface {
	Run(ctx context.Context, command string, params map[string]string) (io.ReadCloser, error)
}

// ExpandCommand substitutes {name} placeholders in a command template
// with the given parameter values.
// Params: command template text; params placeholder values.
// Returns: expanded command line.
func ExpandCommand(command string, params map[string]string) string {
	if len(params) == 0 {
		return command
	}

	pairs := make([]string, 0, len(params)*2)
	for key, value := range params {
		pairs = append(pairs, "{"+key+"}", value)
	}
	return strings.NewReplacer(pairs...).Replace(command)
}

type cappedBuffer struct {
	buffer bytes.Buffer
	max    int
}

// Write appends data up to the configured cap and silently drops the
// rest, keeping the writer contract for command pipes.
// Params: payload chunk bytes.
// Returns: consumed input size.
func (b *cappedBuffer) Write(payload []byte) (int, error) {
	if b.max <= 0 || b.buffer.Len() >= b.max {
		return len(payload), nil
	}

	remaining := b.max - b.buffer.Len()
	if len(payload) > remaining {
		_, _ = b.buffer.Write(payload[:remaining])
		return len(payload), nil
	}

	_, _ = b.buffer.Write(payload)
	return len(payload), nil
}

// String returns buffered text.
// Params: none.
// Returns: current buffer content.
func (b *cappedBuffer) String() string {
	return b.buffer.String()
}

// ShellRunner runs condor commands through the shell with a
// per-command timeout and optional environment overrides.
type ShellRunner struct {
	timeout    time.Duration
	commandEnv []string
}

// NewShellRunner creates the production command runner.
// Params: timeout per-command execution bound (0 disables); env extra
// environment variables for every command.
// Returns: configured runner.
func NewShellRunner(timeout time.Duration, env map[string]string) *ShellRunner {
	return &ShellRunner{
		timeout:    timeout,
		commandEnv: mergeEnvironment(env),
	}
}

// Run starts the expanded command and returns its stdout stream.
// Stdout is piped, not buffered, so callers may parse while the
// command is still producing.
// Params: ctx for cancellation; command template; params placeholder values.
// Returns: stdout stream or start error.
func (r *ShellRunner) Run(ctx context.Context, command string, params map[string]string) (io.ReadCloser, error) {
	expanded := ExpandCommand(command, params)

	var (
		runCtx context.Context
		cancel context.CancelFunc
	)
	if r.timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, r.timeout)
	} else {
		runCtx, cancel = context.WithCancel(ctx)
	}

	cmd := exec.CommandContext(runCtx, "/bin/sh", "-c", expanded)
	cmd.Env = r.commandEnv

	stderr := &cappedBuffer{max: 8 * 1024}
	cmd.Stderr = stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("pipe command %q: %w", expanded, err)
	}
	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("start command %q: %w", expanded, err)
	}

	return &commandStream{
		cmd:     cmd,
		stdout:  stdout,
		stderr:  stderr,
		command: expanded,
		timeout: r.timeout,
		ctx:     runCtx,
		cancel:  cancel,
	}, nil
}

// commandStream is a running command's stdout plus the bookkeeping
// needed to reap it on Close.
type commandStream struct {
	cmd     *exec.Cmd
	stdout  io.ReadCloser
	stderr  *cappedBuffer
	command string
	timeout time.Duration
	ctx     context.Context
	cancel  context.CancelFunc
	closed  bool
	err     error
}

// Read streams command stdout.
// Params: p destination buffer.
// Returns: bytes read or stream error.
func (s *commandStream) Read(p []byte) (int, error) {
	return s.stdout.Read(p)
}

// Close drains remaining stdout, waits for the command, and reports
// its exit status. Timeouts and non-zero exits become errors carrying
// the command line and captured stderr. Close is idempotent.
// Params: none.
// Returns: command completion error, nil on clean exit.
func (s *commandStream) Close() error {
	if s.closed {
		return s.err
	}
	s.closed = true
	defer s.cancel()

	// Unblock the child if the caller stopped reading early.
	_, _ = io.Copy(io.Discard, s.stdout)

	if err := s.cmd.Wait(); err != nil {
		if errors.Is(s.ctx.Err(), context.DeadlineExceeded) {
			s.err = fmt.Errorf("command %q timed out after %s", s.command, s.timeout)
			return s.err
		}

		stderrText := strings.TrimSpace(s.stderr.String())
		if stderrText == "" {
			s.err = fmt.Errorf("run command %q: %w", s.command, err)
		} else {
			s.err = fmt.Errorf("run command %q: %w (stderr: %s)", s.command, err, stderrText)
		}
	}
	return s.err
}

// mergeEnvironment builds the command environment with overrides from
// config applied in sorted key order.
// Params: overrides key-value map.
// Returns: process environment slice.
func mergeEnvironment(overrides map[string]string) []string {
	out := make([]string, 0, len(os.Environ())+len(overrides))
	out = append(out, os.Environ()...)

	keys := make([]string, 0, len(overrides))
	for key := range overrides {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		out = append(out, key+"="+overrides[key])
	}

	return out
}
