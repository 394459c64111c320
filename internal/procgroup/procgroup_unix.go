// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

//go:build unix

package procgroup

import (
	"errors"
	"fmt"
	"os/exec"
	"syscall"

	"github.com/ManuGH/rootcap/internal/log"
)

func set(cmd *exec.Cmd) {
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	cmd.SysProcAttr.Setpgid = true
}

// Kill signals the group led by cmd. A group that already vanished is not
// an error.
func Kill(cmd *exec.Cmd, sig syscall.Signal) error {
	if cmd == nil || cmd.Process == nil {
		return nil
	}
	return signalGroup(cmd.Process.Pid, sig)
}

// signalGroup tries the whole group first and falls back to the leader when
// the group refuses (su keeps root-owned children in it).
func signalGroup(pid int, sig syscall.Signal) error {
	pgid, err := syscall.Getpgid(pid)
	switch {
	case errors.Is(err, syscall.ESRCH):
		return nil
	case err != nil:
		pgid = pid
	}

	err = syscall.Kill(-pgid, sig)
	switch {
	case err == nil, errors.Is(err, syscall.ESRCH):
		return nil
	case !errors.Is(err, syscall.EPERM):
		return err
	}

	logger := log.WithComponent("procgroup")
	logger.Debug().Int(log.FieldPID, pid).Int("pgid", pgid).Str("signal", sig.String()).
		Msg("group signal refused, signalling leader")
	if lerr := syscall.Kill(pid, sig); lerr == nil || errors.Is(lerr, syscall.ESRCH) {
		return nil
	}
	return fmt.Errorf("%w: %s to group %d", ErrNotPermitted, sig, pgid)
}
