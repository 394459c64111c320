// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package shell runs one-shot external commands (usually through su) and
// captures their output.
package shell

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"time"

	"github.com/ManuGH/rootcap/internal/log"
	"github.com/ManuGH/rootcap/internal/metrics"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// ErrSpawn is returned when the child process could not be created.
var ErrSpawn = errors.New("shell: spawn failed")

// ExitCodeUnknown is reported while the process has not exited.
const ExitCodeUnknown = -1

// Command describes one execution.
type Command struct {
	Argv []string
	// Stdin is written fully and then closed. Nil leaves stdin on /dev/null.
	Stdin []byte
	// Timeout bounds the wait for exit. Zero waits until the process exits or
	// ctx is done.
	Timeout time.Duration
}

// Result is the captured outcome of a Command.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
	// Completed is false when the timeout elapsed (or ctx ended) before the
	// process exited. The process is not killed; it is reaped in the background.
	Completed bool
}

// Success reports a completed run with exit code 0.
func (r Result) Success() bool {
	return r.Completed && r.ExitCode == 0
}

// Runner is the capability consumed by the native command fallback and the
// audio driver installer.
type Runner interface {
	Run(ctx context.Context, cmd Command) (Result, error)
}

// Executor is the os/exec backed Runner.
type Executor struct {
	Logger zerolog.Logger
}

// NewExecutor creates an Executor logging under the "shell" component.
func NewExecutor() *Executor {
	return &Executor{Logger: log.WithComponent("shell")}
}

var _ Runner = (*Executor)(nil)

// Run spawns cmd.Argv, pipes cmd.Stdin, drains stdout and stderr concurrently
// and waits for the exit code. I/O failures while piping are logged and the
// partial output is still returned.
func (e *Executor) Run(ctx context.Context, cmd Command) (Result, error) {
	res := Result{ExitCode: ExitCodeUnknown}
	if len(cmd.Argv) == 0 {
		return res, fmt.Errorf("%w: empty argv", ErrSpawn)
	}
	logger := log.WithContext(ctx, e.Logger)

	// #nosec G204 -- argv is assembled from configured binary paths
	c := exec.Command(cmd.Argv[0], cmd.Argv[1:]...)

	var stdin io.WriteCloser
	if cmd.Stdin != nil {
		var err error
		if stdin, err = c.StdinPipe(); err != nil {
			metrics.IncShellExec("spawn_error")
			return res, fmt.Errorf("%w: stdin pipe: %v", ErrSpawn, err)
		}
	}
	stdout, err := c.StdoutPipe()
	if err != nil {
		metrics.IncShellExec("spawn_error")
		return res, fmt.Errorf("%w: stdout pipe: %v", ErrSpawn, err)
	}
	stderr, err := c.StderrPipe()
	if err != nil {
		metrics.IncShellExec("spawn_error")
		return res, fmt.Errorf("%w: stderr pipe: %v", ErrSpawn, err)
	}

	if err := c.Start(); err != nil {
		metrics.IncShellExec("spawn_error")
		logger.Warn().Err(err).Strs("argv", cmd.Argv).Msg("failed to spawn command")
		return res, fmt.Errorf("%w: %v", ErrSpawn, err)
	}

	var outBuf, errBuf lockedBuffer
	var g errgroup.Group
	if stdin != nil {
		g.Go(func() error {
			defer func() { _ = stdin.Close() }()
			if _, err := stdin.Write(cmd.Stdin); err != nil {
				logger.Warn().Err(err).Msg("failed to write stdin payload")
			}
			return nil
		})
	}
	g.Go(func() error { return drain(logger, "stdout", stdout, &outBuf) })
	g.Go(func() error { return drain(logger, "stderr", stderr, &errBuf) })

	done := make(chan error, 1)
	go func() {
		_ = g.Wait()
		done <- c.Wait()
	}()

	var timeout <-chan time.Time
	if cmd.Timeout > 0 {
		timer := time.NewTimer(cmd.Timeout)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case waitErr := <-done:
		res.Completed = true
		res.ExitCode = exitCode(waitErr)
		if waitErr != nil && res.ExitCode == ExitCodeUnknown {
			logger.Warn().Err(waitErr).Msg("wait failed")
		}
	case <-timeout:
		logger.Warn().Strs("argv", cmd.Argv).Dur("timeout", cmd.Timeout).Msg("command did not finish in time")
	case <-ctx.Done():
		logger.Debug().Err(ctx.Err()).Strs("argv", cmd.Argv).Msg("stopped waiting for command")
	}

	res.Stdout = outBuf.String()
	res.Stderr = errBuf.String()

	switch {
	case !res.Completed:
		metrics.IncShellExec("timeout")
	case res.ExitCode != 0:
		metrics.IncShellExec("nonzero")
	default:
		metrics.IncShellExec("ok")
	}
	return res, nil
}

func drain(logger zerolog.Logger, stream string, r io.Reader, dst *lockedBuffer) error {
	if _, err := io.Copy(dst, r); err != nil && !errors.Is(err, io.ErrClosedPipe) {
		logger.Warn().Err(err).Str("stream", stream).Msg("failed to read command output")
	}
	return nil
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return ExitCodeUnknown
}

// lockedBuffer lets the caller snapshot output while the drain goroutine may
// still be writing after a timeout.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
