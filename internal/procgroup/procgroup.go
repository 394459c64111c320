// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package procgroup spawns root shells in their own process group and reaps
// the whole group on teardown.
package procgroup

import (
	"errors"
	"os/exec"
)

var (
	// ErrKillFailed means the group was signalled but never reaped.
	ErrKillFailed = errors.New("procgroup: process did not exit after SIGKILL")
	// ErrNotPermitted means neither the group nor its leader accepted the
	// signal, the usual case for a su shell owned by root.
	ErrNotPermitted = errors.New("procgroup: signal not permitted")
)

// Set makes cmd lead a new process group, so the capture binary forked by
// su is reached by Kill as well.
func Set(cmd *exec.Cmd) {
	set(cmd)
}
