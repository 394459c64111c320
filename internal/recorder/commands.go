// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package recorder

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ManuGH/rootcap/internal/config"
	"github.com/ManuGH/rootcap/internal/log"
	"github.com/ManuGH/rootcap/internal/native"
)

// ErrUnknownCommand is returned by RunCommand for commands it does not relay.
var ErrUnknownCommand = errors.New("recorder: unknown native command")

// CommandOutcome is the result of one correlated native command.
type CommandOutcome struct {
	Command string `json:"command"`
	Code    int    `json:"code"`
	Result  string `json:"result"`
	Path    string `json:"path,omitempty"`
}

// CommandView is the JSON form of the command awaiting its result.
type CommandView struct {
	ID          int       `json:"id"`
	Command     string    `json:"command"`
	Args        string    `json:"args,omitempty"`
	SubmittedAt time.Time `json:"submittedAt"`
}

// RunCommand sends a logcat or audio mount command to the native process and waits for its
// result. A running process is reused, including one that is recording;
// otherwise a new one is spawned and awaited first.
func (c *Controller) RunCommand(ctx context.Context, command string) (CommandOutcome, error) {
	cfg := c.settings.Get()
	out := CommandOutcome{Command: command}

	run, err := c.commandFunc(cfg, &out)
	if err != nil {
		return out, err
	}

	c.opMu.Lock()
	if c.closed {
		c.opMu.Unlock()
		return out, ErrClosed
	}
	sup := c.current()
	if sup == nil || exited(sup) || sup.State().IsTerminal() {
		sup, err = c.readyLocked(ctx, cfg)
	}
	c.opMu.Unlock()
	if err != nil {
		return out, err
	}

	out.Code = run(ctx, sup.Commands(), cfg.Native.CommandTimeout)
	out.Result = resultName(out.Code)

	logger := log.WithContext(ctx, c.logger)
	ev := logger.Info()
	if out.Code != 0 {
		ev = logger.Warn()
	}
	ev.Str(log.FieldCommand, command).
		Int(log.FieldExitCode, out.Code).
		Str("result", out.Result).
		Msg("native command completed")
	return out, nil
}

type commandRun func(ctx context.Context, ch *native.CommandChannel, timeout time.Duration) int

func (c *Controller) commandFunc(cfg config.AppConfig, out *CommandOutcome) (commandRun, error) {
	switch out.Command {
	case native.CommandLogcat:
		dir := filepath.Join(cfg.DataDir, "logcat")
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create logcat dir: %w", err)
		}
		out.Path = filepath.Join(dir, "logcat_"+c.deps.Now().Format(fileTimeLayout)+".txt")
		path := out.Path
		return func(ctx context.Context, ch *native.CommandChannel, t time.Duration) int {
			return ch.Logcat(ctx, path, t)
		}, nil
	case native.CommandMountAudio:
		staging := cfg.Audio.StagingDir
		return func(ctx context.Context, ch *native.CommandChannel, t time.Duration) int {
			return ch.MountAudio(ctx, staging, t)
		}, nil
	case native.CommandUnmountAudio:
		return func(ctx context.Context, ch *native.CommandChannel, t time.Duration) int {
			return ch.UnmountAudio(ctx, t)
		}, nil
	case native.CommandMountAudioMaster:
		return func(ctx context.Context, ch *native.CommandChannel, t time.Duration) int {
			return ch.MountAudioMaster(ctx, t)
		}, nil
	case native.CommandUnmountAudioMaster:
		return func(ctx context.Context, ch *native.CommandChannel, t time.Duration) int {
			return ch.UnmountAudioMaster(ctx, t)
		}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownCommand, out.Command)
	}
}

func resultName(code int) string {
	switch code {
	case 0:
		return "ok"
	case native.ResultTimeout:
		return "timeout"
	case native.ResultCancelled:
		return "cancelled"
	case native.ResultWriteFailed:
		return "write_failed"
	default:
		return "failed"
	}
}

func newCommandView(r native.CommandRequest) *CommandView {
	return &CommandView{ID: r.ID, Command: r.Command, Args: r.Args, SubmittedAt: r.SubmittedAt}
}
