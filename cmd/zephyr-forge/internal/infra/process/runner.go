// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package process

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/parazeeknova/zephyr-forge/cmd/zephyr-forge/internal/util"
)

// =============================================================================
// Types
// =============================================================================

// Stream identifies which output stream a line came from.
type Stream int

const (
	// Stdout is the standard output stream.
	Stdout Stream = iota

	// Stderr is the standard error stream.
	Stderr
)

// String returns "stdout" or "stderr".
func (s Stream) String() string {
	if s == Stderr {
		return "stderr"
	}
	return "stdout"
}

// LineSink receives output one complete line at a time, without the trailing
// newline. Calls for one command are serialized.
type LineSink func(stream Stream, line string)

// RunOptions controls a single Run call.
type RunOptions struct {
	// Silent suppresses streaming to Sink; output is still captured.
	Silent bool

	// Timeout bounds the command. Zero uses the runner's default.
	Timeout time.Duration

	// Dir is the working directory. Empty uses the current directory.
	Dir string

	// Env is appended to the current environment ("KEY=value" entries).
	Env []string

	// Sink receives output lines when Silent is false.
	Sink LineSink
}

// Result is the captured outcome of a command.
type Result struct {
	// Command is the program and arguments joined for display.
	Command string

	// Stdout is everything the process wrote to standard output.
	Stdout string

	// Stderr is everything the process wrote to standard error.
	Stderr string

	// ExitCode is the process exit status.
	ExitCode int

	// Duration is the wall-clock runtime.
	Duration time.Duration
}

// =============================================================================
// Interface
// =============================================================================

// Runner executes external programs.
//
// # Description
//
// Runner spawns exactly one process per Run call and never retries. A non-zero
// exit or a spawn failure is returned as *ProcessError alongside the partial
// Result, so callers can still read what the process printed.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use.
type Runner interface {
	// Run executes name with args and waits for it to exit or time out.
	Run(ctx context.Context, name string, args []string, opts RunOptions) (*Result, error)

	// Stream executes a long-running command (e.g. "docker logs -f") and
	// delivers its output to sink until the process exits or ctx is done.
	// Cancellation through ctx is not an error.
	Stream(ctx context.Context, name string, args []string, sink LineSink) error

	// LookPath reports the resolved path of an executable.
	LookPath(name string) (string, error)
}

// =============================================================================
// Default Implementation
// =============================================================================

// RunnerConfig configures DefaultRunner.
type RunnerConfig struct {
	// DefaultTimeout applies when RunOptions.Timeout is zero.
	// Default: util.DefaultProcessTimeout.
	DefaultTimeout time.Duration
}

// waitDelay bounds how long Wait blocks on output pipes after the process is
// killed; a grandchild that inherited stdout would otherwise hold it open.
const waitDelay = 2 * time.Second

// DefaultRunner implements Runner with os/exec.
type DefaultRunner struct {
	defaultTimeout time.Duration
}

// NewDefaultRunner creates a Runner backed by os/exec.
func NewDefaultRunner(cfg RunnerConfig) *DefaultRunner {
	return &DefaultRunner{
		defaultTimeout: util.EnforceDefaultTimeout(cfg.DefaultTimeout, util.DefaultProcessTimeout),
	}
}

// Run executes name with args.
//
// # Description
//
// The command runs under a context deadline of opts.Timeout (floored at
// util.MinProcessTimeout). When not silent and a sink is given, stdout and
// stderr are forwarded line by line while also being captured.
//
// # Outputs
//
//   - *Result: always non-nil, even on failure
//   - error: *ProcessError on non-zero exit, timeout, or spawn failure
func (r *DefaultRunner) Run(ctx context.Context, name string, args []string, opts RunOptions) (*Result, error) {
	timeout := util.EnforceMinTimeout(util.EnforceDefaultTimeout(opts.Timeout, r.defaultTimeout), util.MinProcessTimeout)
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, name, args...)
	cmd.WaitDelay = waitDelay
	cmd.Dir = opts.Dir
	if len(opts.Env) > 0 {
		cmd.Env = append(os.Environ(), opts.Env...)
	}

	var stdout, stderr bytes.Buffer
	var outW, errW *lineWriter
	if !opts.Silent && opts.Sink != nil {
		var mu sync.Mutex
		outW = newLineWriter(&stdout, Stdout, opts.Sink, &mu)
		errW = newLineWriter(&stderr, Stderr, opts.Sink, &mu)
		cmd.Stdout = outW
		cmd.Stderr = errW
	} else {
		cmd.Stdout = &stdout
		cmd.Stderr = &stderr
	}

	start := time.Now()
	err := cmd.Run()
	if outW != nil {
		outW.Flush()
		errW.Flush()
	}

	res := &Result{
		Command:  formatCommand(name, args),
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}
	if err == nil {
		return res, nil
	}

	res.ExitCode = exitCodeOf(err)
	pe := NewProcessError(res.Command, res.ExitCode, res.Stderr, err)
	switch {
	case errors.Is(err, exec.ErrNotFound):
		pe.NotFound = true
	case errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil:
		pe.TimedOut = true
		pe.ExitCode = -1
		res.ExitCode = -1
	}
	return res, pe
}

// Stream executes a long-running command until it exits or ctx is done.
func (r *DefaultRunner) Stream(ctx context.Context, name string, args []string, sink LineSink) error {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.WaitDelay = waitDelay

	var mu sync.Mutex
	var stderr bytes.Buffer
	outW := newLineWriter(nil, Stdout, sink, &mu)
	errW := newLineWriter(&stderr, Stderr, sink, &mu)
	cmd.Stdout = outW
	cmd.Stderr = errW

	err := cmd.Run()
	outW.Flush()
	errW.Flush()

	if err == nil || ctx.Err() != nil {
		return nil
	}

	pe := NewProcessError(formatCommand(name, args), exitCodeOf(err), stderr.String(), err)
	pe.NotFound = errors.Is(err, exec.ErrNotFound)
	return pe
}

// LookPath wraps exec.LookPath.
func (r *DefaultRunner) LookPath(name string) (string, error) {
	path, err := exec.LookPath(name)
	if err != nil {
		return "", &ProcessError{Command: name, ExitCode: 127, NotFound: true, Err: err}
	}
	return path, nil
}

// exitCodeOf extracts the exit status from an os/exec error.
func exitCodeOf(err error) int {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	if errors.Is(err, exec.ErrNotFound) {
		return 127
	}
	return -1
}

// =============================================================================
// Line Writer
// =============================================================================

// lineWriter captures output into buf and forwards each complete line to sink.
type lineWriter struct {
	buf     *bytes.Buffer
	stream  Stream
	sink    LineSink
	mu      *sync.Mutex
	pending []byte
}

func newLineWriter(buf *bytes.Buffer, stream Stream, sink LineSink, mu *sync.Mutex) *lineWriter {
	return &lineWriter{buf: buf, stream: stream, sink: sink, mu: mu}
}

// Write implements io.Writer.
func (w *lineWriter) Write(p []byte) (int, error) {
	if w.buf != nil {
		w.buf.Write(p)
	}
	w.pending = append(w.pending, p...)
	for {
		i := bytes.IndexByte(w.pending, '\n')
		if i < 0 {
			break
		}
		w.emit(string(bytes.TrimRight(w.pending[:i], "\r")))
		w.pending = w.pending[i+1:]
	}
	return len(p), nil
}

// Flush emits a trailing line that had no newline.
func (w *lineWriter) Flush() {
	if len(w.pending) > 0 {
		w.emit(string(bytes.TrimRight(w.pending, "\r")))
		w.pending = nil
	}
}

func (w *lineWriter) emit(line string) {
	if w.sink == nil {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.sink(w.stream, line)
}

// =============================================================================
// Mock Implementation
// =============================================================================

// RunnerCall records one invocation on MockRunner.
type RunnerCall struct {
	Method  string
	Name    string
	Args    []string
	Options RunOptions
}

// MockRunner implements Runner for testing.
//
// Unset Func fields fall back to a successful empty result, so tests only
// stub the commands they care about.
type MockRunner struct {
	RunFunc      func(ctx context.Context, name string, args []string, opts RunOptions) (*Result, error)
	StreamFunc   func(ctx context.Context, name string, args []string, sink LineSink) error
	LookPathFunc func(name string) (string, error)

	Calls []RunnerCall
	mu    sync.Mutex
}

func (m *MockRunner) record(call RunnerCall) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = append(m.Calls, call)
}

// Run records the call and delegates to RunFunc.
func (m *MockRunner) Run(ctx context.Context, name string, args []string, opts RunOptions) (*Result, error) {
	m.record(RunnerCall{Method: "Run", Name: name, Args: args, Options: opts})
	if m.RunFunc == nil {
		return &Result{Command: formatCommand(name, args)}, nil
	}
	return m.RunFunc(ctx, name, args, opts)
}

// Stream records the call and delegates to StreamFunc.
func (m *MockRunner) Stream(ctx context.Context, name string, args []string, sink LineSink) error {
	m.record(RunnerCall{Method: "Stream", Name: name, Args: args})
	if m.StreamFunc == nil {
		return nil
	}
	return m.StreamFunc(ctx, name, args, sink)
}

// LookPath records the call and delegates to LookPathFunc.
func (m *MockRunner) LookPath(name string) (string, error) {
	m.record(RunnerCall{Method: "LookPath", Name: name})
	if m.LookPathFunc == nil {
		return "/usr/bin/" + name, nil
	}
	return m.LookPathFunc(name)
}

// GetCalls returns a copy of the recorded calls.
func (m *MockRunner) GetCalls() []RunnerCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]RunnerCall, len(m.Calls))
	copy(result, m.Calls)
	return result
}

// Reset clears recorded calls.
func (m *MockRunner) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = nil
}

var (
	_ Runner = (*DefaultRunner)(nil)
	_ Runner = (*MockRunner)(nil)
)
