// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package native

import (
	"bufio"
	"context"
	"io"
	"sync"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/ManuGH/rootcap/internal/osproc"
	"github.com/ManuGH/rootcap/internal/shell"
	"github.com/stretchr/testify/require"
)

const testWait = 2 * time.Second

// fakeProcess speaks the native protocol from the test side. It exits when
// it reads "quit" or its stdin is closed.
type fakeProcess struct {
	stdinR  *io.PipeReader
	stdinW  *io.PipeWriter
	stdoutR *io.PipeReader
	stdoutW *io.PipeWriter
	stderrR *io.PipeReader
	stderrW *io.PipeWriter

	lines chan string

	exitOnce   sync.Once
	exited     chan struct{}
	terminated atomic.Bool
	// ignoreQuit keeps the process alive until Terminate.
	ignoreQuit atomic.Bool
}

func newFakeProcess() *fakeProcess {
	p := &fakeProcess{
		lines:  make(chan string, 64),
		exited: make(chan struct{}),
	}
	p.stdinR, p.stdinW = io.Pipe()
	p.stdoutR, p.stdoutW = io.Pipe()
	p.stderrR, p.stderrW = io.Pipe()
	go p.readStdin()
	return p
}

func (p *fakeProcess) readStdin() {
	sc := bufio.NewScanner(p.stdinR)
	for sc.Scan() {
		line := sc.Text()
		p.lines <- line
		if line == "quit" && !p.ignoreQuit.Load() {
			p.exit()
		}
	}
	close(p.lines)
	if !p.ignoreQuit.Load() {
		p.exit()
	}
}

func (p *fakeProcess) exit() {
	p.exitOnce.Do(func() {
		_ = p.stdoutW.Close()
		_ = p.stderrW.Close()
		_ = p.stdinR.Close()
		close(p.exited)
	})
}

func (p *fakeProcess) emit(t *testing.T, lines ...string) {
	t.Helper()
	for _, l := range lines {
		_, err := io.WriteString(p.stdoutW, l+"\n")
		require.NoError(t, err)
	}
}

func (p *fakeProcess) nextLine(t *testing.T) string {
	t.Helper()
	select {
	case l, ok := <-p.lines:
		require.True(t, ok, "stdin closed")
		return l
	case <-time.After(testWait):
		t.Fatal("timed out waiting for a command from the supervisor")
		return ""
	}
}

func (p *fakeProcess) Pid() int              { return 4100 }
func (p *fakeProcess) Stdin() io.WriteCloser { return p.stdinW }
func (p *fakeProcess) Stdout() io.Reader     { return p.stdoutR }
func (p *fakeProcess) Stderr() io.Reader     { return p.stderrR }

func (p *fakeProcess) Wait() error {
	<-p.exited
	return nil
}

func (p *fakeProcess) Terminate(time.Duration) error {
	p.terminated.Store(true)
	p.exit()
	return nil
}

type fakeLauncher struct {
	proc *fakeProcess
	err  error
}

func (l fakeLauncher) Launch(context.Context) (Process, error) {
	if l.err != nil {
		return nil, l.err
	}
	return l.proc, nil
}

type fakeProcs struct {
	mu      sync.Mutex
	pid     int
	dead    bool
	finds   int
	signals []syscall.Signal
}

func (f *fakeProcs) FindByName(...string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.finds++
	if f.pid == 0 {
		return 0, osproc.ErrNotFound
	}
	return f.pid, nil
}

func (f *fakeProcs) Alive(int) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return !f.dead
}

func (f *fakeProcs) Signal(_ int, sig syscall.Signal) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.signals = append(f.signals, sig)
	f.dead = true
	return nil
}

func (f *fakeProcs) kill() {
	f.mu.Lock()
	f.dead = true
	f.mu.Unlock()
}

func (f *fakeProcs) findCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.finds
}

type fakeOverlay struct {
	calls chan string
}

func (o *fakeOverlay) ReleaseCamera()   { o.calls <- "release" }
func (o *fakeOverlay) ReconnectCamera() { o.calls <- "reconnect" }

type fakeShell struct {
	mu    sync.Mutex
	argv  [][]string
	stdin [][]byte
	res   shell.Result
	err   error
}

func (f *fakeShell) Run(_ context.Context, cmd shell.Command) (shell.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.argv = append(f.argv, cmd.Argv)
	f.stdin = append(f.stdin, cmd.Stdin)
	return f.res, f.err
}

func (f *fakeShell) calls() [][]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]string(nil), f.argv...)
}

func waitState(t *testing.T, s *Supervisor, want State) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), testWait)
	defer cancel()
	got, err := s.WaitFor(ctx, func(st State) bool { return st == want })
	require.NoError(t, err, "state stuck at %s, want %s", got, want)
}
