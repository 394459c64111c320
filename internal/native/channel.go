// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package native

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/ManuGH/rootcap/internal/log"
	"github.com/ManuGH/rootcap/internal/metrics"
	"github.com/ManuGH/rootcap/internal/shell"
	"github.com/ManuGH/rootcap/internal/telemetry"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// Sentinel results returned by RunAsync instead of a native result code.
const (
	ResultTimeout     = -10
	ResultCancelled   = -20
	ResultWriteFailed = -30
)

// Correlated commands understood by the native process.
const (
	CommandKill               = "kill"
	CommandMountAudio         = "mount_audio"
	CommandUnmountAudio       = "unmount_audio"
	CommandMountAudioMaster   = "mount_audio_master"
	CommandUnmountAudioMaster = "unmount_audio_master"
	CommandLogcat             = "logcat"
)

const defaultCommandTimeout = 5 * time.Second

// CommandRequest is the request currently awaiting its result.
type CommandRequest struct {
	ID          int
	Command     string
	Args        string
	SubmittedAt time.Time
	Timeout     time.Duration
}

// CommandResult is a "command result" line reported by the native process.
type CommandResult struct {
	ID   int
	Code int
}

// lineWriter is implemented by the Supervisor.
type lineWriter interface {
	writeLine(line string) error
}

type pendingCommand struct {
	req  CommandRequest
	done chan int
}

// FallbackConfig enables running mount-master commands through a separate
// root shell while the native process cannot exec.
type FallbackConfig struct {
	Shell      shell.Runner
	SuPath     string
	BinaryPath string
	Timeout    time.Duration
	// ExecBlocked is polled on every mount-master command.
	ExecBlocked func() bool
}

// CommandChannel correlates native commands with their result lines. Calls
// are serialised: a second caller waits until the first one has its result
// or gave up.
type CommandChannel struct {
	w        lineWriter
	fallback FallbackConfig
	logger   zerolog.Logger

	sem chan struct{}

	mu      sync.Mutex
	nextID  int
	pending *pendingCommand
}

func newCommandChannel(w lineWriter, fallback FallbackConfig, logger zerolog.Logger) *CommandChannel {
	return &CommandChannel{
		w:        w,
		fallback: fallback,
		logger:   logger,
		sem:      make(chan struct{}, 1),
	}
}

// RunAsync writes "command id args" to the native process and waits for the
// matching result. It returns ResultTimeout when no result arrived within
// timeout, ResultCancelled when ctx ended first and ResultWriteFailed when
// the line could not be written.
func (c *CommandChannel) RunAsync(ctx context.Context, command, args string, timeout time.Duration) int {
	if timeout <= 0 {
		timeout = defaultCommandTimeout
	}
	select {
	case c.sem <- struct{}{}:
	case <-ctx.Done():
		return ResultCancelled
	}
	defer func() { <-c.sem }()

	start := time.Now()
	c.mu.Lock()
	c.nextID++
	p := &pendingCommand{
		req: CommandRequest{
			ID:          c.nextID,
			Command:     command,
			Args:        args,
			SubmittedAt: start,
			Timeout:     timeout,
		},
		done: make(chan int, 1),
	}
	c.pending = p
	c.mu.Unlock()

	ctx, span := telemetry.Tracer("rootcap.native").Start(ctx, "native.command")
	span.SetAttributes(telemetry.NativeCommandAttributes(command, p.req.ID)...)
	defer span.End()

	logger := log.WithContext(ctx, c.logger).With().
		Int(log.FieldCommandID, p.req.ID).
		Str(log.FieldCommand, command).
		Logger()

	code, outcome := c.await(ctx, p)
	c.clear(p.req.ID)

	span.SetAttributes(attribute.Int(telemetry.NativeResultKey, code))
	if outcome != "ok" {
		span.SetStatus(codes.Error, outcome)
	}
	metrics.ObserveNativeCommand(command, outcome, time.Since(start))
	logger.Debug().Int("result", code).Str("outcome", outcome).Dur("elapsed", time.Since(start)).Msg("native command finished")
	return code
}

func (c *CommandChannel) await(ctx context.Context, p *pendingCommand) (int, string) {
	if err := c.w.writeLine(formatCommand(p.req.Command, p.req.ID, p.req.Args)); err != nil {
		c.logger.Warn().Err(err).Int(log.FieldCommandID, p.req.ID).Msg("failed to write native command")
		return ResultWriteFailed, "write_failed"
	}

	timer := time.NewTimer(p.req.Timeout)
	defer timer.Stop()

	select {
	case code := <-p.done:
		return code, "ok"
	case <-timer.C:
		c.logger.Warn().Int(log.FieldCommandID, p.req.ID).Str(log.FieldCommand, p.req.Command).
			Dur("timeout", p.req.Timeout).Msg("native command timed out")
		return ResultTimeout, "timeout"
	case <-ctx.Done():
		return ResultCancelled, "cancelled"
	}
}

func (c *CommandChannel) clear(id int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending != nil && c.pending.req.ID == id {
		c.pending = nil
	}
}

// NotifyResult completes the outstanding request when its id matches.
// Anything else is stale and dropped.
func (c *CommandChannel) NotifyResult(id, code int) {
	c.mu.Lock()
	p := c.pending
	if p == nil || p.req.ID != id {
		c.mu.Unlock()
		metrics.IncStaleResult()
		ev := c.logger.Debug().Int(log.FieldCommandID, id).Int("result", code)
		if p != nil {
			ev = ev.Int("pending_id", p.req.ID)
		}
		ev.Msg("dropping stale native command result")
		return
	}
	c.pending = nil
	c.mu.Unlock()
	p.done <- code
}

// Pending returns the request awaiting a result, if any.
func (c *CommandChannel) Pending() (CommandRequest, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending == nil {
		return CommandRequest{}, false
	}
	return c.pending.req, true
}

// KillSignal asks the native process to send sig to pid.
func (c *CommandChannel) KillSignal(ctx context.Context, pid, sig int, timeout time.Duration) int {
	return c.RunAsync(ctx, CommandKill, strconv.Itoa(pid)+" "+strconv.Itoa(sig), timeout)
}

// MountAudio asks the native process to bind the staged HAL directory.
func (c *CommandChannel) MountAudio(ctx context.Context, stagingDir string, timeout time.Duration) int {
	return c.RunAsync(ctx, CommandMountAudio, stagingDir, timeout)
}

// UnmountAudio reverses MountAudio.
func (c *CommandChannel) UnmountAudio(ctx context.Context, timeout time.Duration) int {
	return c.RunAsync(ctx, CommandUnmountAudio, "", timeout)
}

// MountAudioMaster mounts in the global namespace.
func (c *CommandChannel) MountAudioMaster(ctx context.Context, timeout time.Duration) int {
	return c.runMaster(ctx, CommandMountAudioMaster, timeout)
}

// UnmountAudioMaster reverses MountAudioMaster.
func (c *CommandChannel) UnmountAudioMaster(ctx context.Context, timeout time.Duration) int {
	return c.runMaster(ctx, CommandUnmountAudioMaster, timeout)
}

// Logcat asks the native process to dump the system log into path.
func (c *CommandChannel) Logcat(ctx context.Context, path string, timeout time.Duration) int {
	return c.RunAsync(ctx, CommandLogcat, path, timeout)
}

func (c *CommandChannel) runMaster(ctx context.Context, command string, timeout time.Duration) int {
	fb := c.fallback
	if fb.Shell == nil || fb.ExecBlocked == nil || !fb.ExecBlocked() {
		return c.RunAsync(ctx, command, "", timeout)
	}

	if timeout <= 0 {
		timeout = fb.Timeout
	}
	argv := shell.Su(fb.SuPath, true, fmt.Sprintf("%s %s", fb.BinaryPath, command))
	start := time.Now()
	// nil Stdin leaves the child reading /dev/null
	res, err := fb.Shell.Run(ctx, shell.Command{Argv: argv, Timeout: timeout})
	switch {
	case err != nil:
		c.logger.Warn().Err(err).Str(log.FieldCommand, command).Msg("mount-master fallback failed to spawn")
		metrics.ObserveNativeCommand(command, "fallback_spawn_error", time.Since(start))
		return ResultWriteFailed
	case !res.Completed:
		metrics.ObserveNativeCommand(command, "fallback_timeout", time.Since(start))
		return ResultTimeout
	}
	c.logger.Info().Str(log.FieldCommand, command).Int(log.FieldExitCode, res.ExitCode).
		Str("stderr", res.Stderr).Msg("ran mount-master command through su fallback")
	metrics.ObserveNativeCommand(command, "fallback", time.Since(start))
	return res.ExitCode
}
