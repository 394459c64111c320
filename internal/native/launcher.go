// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package native

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"time"

	"github.com/ManuGH/rootcap/internal/procgroup"
	"github.com/ManuGH/rootcap/internal/shell"
)

// Process is a running native process.
type Process interface {
	Pid() int
	Stdin() io.WriteCloser
	Stdout() io.Reader
	Stderr() io.Reader
	// Wait blocks until the process exited. It is called once, after both
	// output streams reached EOF.
	Wait() error
	// Terminate signals the process group and waits up to grace per signal
	// for Wait to return.
	Terminate(grace time.Duration) error
}

// Launcher spawns the native process.
type Launcher interface {
	Launch(ctx context.Context) (Process, error)
}

// SuLauncher runs the native binary through "su -c".
type SuLauncher struct {
	SuPath     string
	BinaryPath string
}

var _ Launcher = SuLauncher{}

func (l SuLauncher) Launch(_ context.Context) (Process, error) {
	argv := shell.Su(l.SuPath, false, l.BinaryPath)
	// The process outlives the launching request; teardown goes through
	// Terminate rather than context cancellation.
	cmd := exec.Command(argv[0], argv[1:]...) // #nosec G204 -- configured binary
	procgroup.Set(cmd)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: stdin pipe: %v", shell.ErrSpawn, err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: stdout pipe: %v", shell.ErrSpawn, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: stderr pipe: %v", shell.ErrSpawn, err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: %v", shell.ErrSpawn, err)
	}
	return &osProcess{
		cmd:    cmd,
		stdin:  stdin,
		stdout: stdout,
		stderr: stderr,
		exited: make(chan struct{}),
	}, nil
}

type osProcess struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.Reader
	stderr io.Reader

	waitOnce sync.Once
	exited   chan struct{}
	waitErr  error
}

func (p *osProcess) Pid() int              { return p.cmd.Process.Pid }
func (p *osProcess) Stdin() io.WriteCloser { return p.stdin }
func (p *osProcess) Stdout() io.Reader     { return p.stdout }
func (p *osProcess) Stderr() io.Reader     { return p.stderr }

func (p *osProcess) Wait() error {
	p.waitOnce.Do(func() {
		p.waitErr = p.cmd.Wait()
		close(p.exited)
	})
	<-p.exited
	return p.waitErr
}

func (p *osProcess) Terminate(grace time.Duration) error {
	select {
	case <-p.exited:
		return nil
	default:
	}

	waitCh := make(chan error, 1)
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-p.exited:
			waitCh <- p.waitErr
		case <-stop:
		}
	}()

	err := procgroup.Terminate(p.cmd, waitCh, grace)
	if errors.Is(err, procgroup.ErrKillFailed) {
		return err
	}
	// a non-zero exit after SIGTERM is the expected outcome
	return nil
}
