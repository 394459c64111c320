// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package procgroup

import (
	"errors"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/ManuGH/rootcap/internal/metrics"
)

// Terminate stops a process group that was asked to exit and did not.
// It sends SIGTERM, waits for the process to exit (via the provided wait channel),
// and if it doesn't exit within grace, sends SIGKILL and waits another grace.
// Signals to a root-owned group can fail with EPERM; in that case the wait
// channel is still consumed until the deadline and ErrKillFailed is returned.
// It is safe to call on nil commands (returns nil).
func Terminate(cmd *exec.Cmd, waitCh <-chan error, grace time.Duration) error {
	if cmd == nil || cmd.Process == nil {
		return nil
	}

	metrics.IncProcTerminate("SIGTERM", signalOutcome(Kill(cmd, syscall.SIGTERM)))

	select {
	case err := <-waitCh:
		if err == nil {
			metrics.IncProcWait("exit0")
		} else {
			metrics.IncProcWait("exit_nonzero")
		}
		return err
	case <-time.After(grace):
	}

	metrics.IncProcTerminate("SIGKILL", signalOutcome(Kill(cmd, syscall.SIGKILL)))

	select {
	case err := <-waitCh:
		if err == nil {
			metrics.IncProcWait("forced_exit0")
		} else {
			metrics.IncProcWait("forced_error")
		}
		return err
	case <-time.After(grace):
		metrics.IncProcWait("abandoned")
		return ErrKillFailed
	}
}

func signalOutcome(err error) string {
	switch {
	case err == nil:
		return "sent"
	case errors.Is(err, os.ErrProcessDone), errors.Is(err, syscall.ESRCH):
		return "esrch"
	case errors.Is(err, ErrNotPermitted):
		return "eperm"
	default:
		return "error"
	}
}
