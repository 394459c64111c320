// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

//go:build linux

package procgroup

import (
	"errors"
	"fmt"
	"os/exec"
	"syscall"
	"testing"
	"time"

	"github.com/prometheus/procfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// liveMembers counts group members that are not zombies. Reparented
// children are not reaped where pid 1 is not an init, so their zombies keep
// the group id alive after the kill.
func liveMembers(t *testing.T, pgid int) int {
	t.Helper()
	procs, err := procfs.AllProcs()
	require.NoError(t, err)
	n := 0
	for _, p := range procs {
		st, err := p.Stat()
		if err != nil {
			continue
		}
		if st.PGRP == pgid && st.State != "Z" && st.State != "X" {
			n++
		}
	}
	return n
}

func TestProcessGroupKill(t *testing.T) {
	cmd := exec.Command("sh", "-c", "sleep 10 & sleep 10")
	Set(cmd)
	require.NoError(t, cmd.Start())
	pid := cmd.Process.Pid

	pgid, err := syscall.Getpgid(pid)
	require.NoError(t, err)
	assert.Equal(t, pid, pgid, "shell should lead its own group")
	require.Eventually(t, func() bool { return liveMembers(t, pgid) >= 2 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, Kill(cmd, syscall.SIGKILL))

	err = cmd.Wait()
	require.Error(t, err)
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if status, ok := exitErr.Sys().(syscall.WaitStatus); ok {
			assert.True(t, status.Signaled())
			assert.Equal(t, syscall.SIGKILL, status.Signal())
		}
	}

	assert.Eventually(t, func() bool { return liveMembers(t, pgid) == 0 }, 2*time.Second, 10*time.Millisecond,
		"background sleep should die with the group")
}

func TestKillNilCommand(t *testing.T) {
	assert.NoError(t, Kill(nil, syscall.SIGTERM))
	assert.NoError(t, Kill(&exec.Cmd{}, syscall.SIGTERM))
}

func TestKillAlreadyReaped(t *testing.T) {
	cmd := exec.Command("true")
	Set(cmd)
	require.NoError(t, cmd.Start())
	require.NoError(t, cmd.Wait())
	assert.NoError(t, Kill(cmd, syscall.SIGTERM))
}

func TestSignalOutcome(t *testing.T) {
	assert.Equal(t, "sent", signalOutcome(nil))
	assert.Equal(t, "esrch", signalOutcome(syscall.ESRCH))
	assert.Equal(t, "eperm", signalOutcome(fmt.Errorf("%w: SIGTERM", ErrNotPermitted)))
	assert.Equal(t, "error", signalOutcome(syscall.EINVAL))
}

func TestTerminate_GracefulExit(t *testing.T) {
	cmd := exec.Command("sh", "-c", "trap 'exit 0' TERM; while true; do sleep 0.05; done")
	Set(cmd)
	require.NoError(t, cmd.Start())

	waitCh := make(chan error, 1)
	go func() { waitCh <- cmd.Wait() }()

	time.Sleep(100 * time.Millisecond)
	err := Terminate(cmd, waitCh, 2*time.Second)
	// sh may report the trap exit or the signal depending on timing; either way it is reaped
	_ = err
	assert.NotNil(t, cmd.ProcessState)
}

func TestTerminate_ForcesKill(t *testing.T) {
	cmd := exec.Command("sh", "-c", "trap '' TERM; while true; do sleep 0.05; done")
	Set(cmd)
	require.NoError(t, cmd.Start())

	waitCh := make(chan error, 1)
	go func() { waitCh <- cmd.Wait() }()

	time.Sleep(100 * time.Millisecond)
	err := Terminate(cmd, waitCh, 200*time.Millisecond)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrKillFailed)
	require.NotNil(t, cmd.ProcessState)
}
