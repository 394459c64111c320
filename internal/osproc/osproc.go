// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package osproc is the OS capability used to find system processes by
// command name, check their liveness, signal them and read mount tables.
package osproc

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"syscall"

	"github.com/prometheus/procfs"
)

// ErrNotFound is returned when no process matches the requested name.
var ErrNotFound = errors.New("osproc: process not found")

// Processes is the capability consumed by the supervisor and the stability
// monitor.
type Processes interface {
	// FindByName returns the lowest pid whose command name equals one of names.
	FindByName(names ...string) (int, error)
	// Alive reports whether pid still exists.
	Alive(pid int) bool
	// Signal delivers sig to pid directly. Delivery to root-owned processes
	// needs privileges the caller may not have; the native "kill" command is
	// the primary path and this is the fallback.
	Signal(pid int, sig syscall.Signal) error
}

// FS reads /proc (or a test fixture laid out like it).
type FS struct {
	fs procfs.FS
}

var _ Processes = (*FS)(nil)

// New opens the proc filesystem mounted at mountPoint. An empty mountPoint
// means /proc.
func New(mountPoint string) (*FS, error) {
	if mountPoint == "" {
		mountPoint = procfs.DefaultMountPoint
	}
	fs, err := procfs.NewFS(mountPoint)
	if err != nil {
		return nil, fmt.Errorf("open procfs %s: %w", mountPoint, err)
	}
	return &FS{fs: fs}, nil
}

func (p *FS) FindByName(names ...string) (int, error) {
	procs, err := p.fs.AllProcs()
	if err != nil {
		return 0, fmt.Errorf("list processes: %w", err)
	}
	found := 0
	for _, proc := range procs {
		comm, err := proc.Comm()
		if err != nil {
			// raced with exit
			continue
		}
		comm = strings.TrimSpace(comm)
		for _, name := range names {
			if comm == name && (found == 0 || proc.PID < found) {
				found = proc.PID
			}
		}
	}
	if found == 0 {
		return 0, fmt.Errorf("%w: %s", ErrNotFound, strings.Join(names, ","))
	}
	return found, nil
}

func (p *FS) Alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := p.fs.Proc(pid)
	if err != nil {
		return false
	}
	stat, err := proc.Stat()
	if err != nil {
		// comm-only fixtures and kernels hiding stat still count as present
		return !errors.Is(err, os.ErrNotExist)
	}
	// zombies are gone as far as a restart check is concerned
	return stat.State != "Z" && stat.State != "X"
}

func (p *FS) Signal(pid int, sig syscall.Signal) error {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("find pid %d: %w", pid, err)
	}
	if err := proc.Signal(sig); err != nil {
		return fmt.Errorf("signal pid %d: %w", pid, err)
	}
	return nil
}
