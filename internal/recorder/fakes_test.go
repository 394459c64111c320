// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package recorder

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/ManuGH/rootcap/internal/config"
	"github.com/ManuGH/rootcap/internal/native"
)

// scriptedProcess answers start, stop and quit the way a healthy capture
// binary does. startReply overrides the lines emitted after "start".
type scriptedProcess struct {
	stdinR  *io.PipeReader
	stdinW  *io.PipeWriter
	stdoutR *io.PipeReader
	stdoutW *io.PipeWriter
	stderrR *io.PipeReader
	stderrW *io.PipeWriter

	startReply []string
	// commandCode answers correlated commands; ok false leaves them pending.
	commandCode func(command string) (code int, ok bool)

	mu       sync.Mutex
	received []string

	exitOnce sync.Once
	exited   chan struct{}
}

func newScriptedProcess(startReply ...string) *scriptedProcess {
	p := &scriptedProcess{
		startReply: startReply,
		exited:     make(chan struct{}),
	}
	if len(p.startReply) == 0 {
		p.startReply = []string{"state STARTING", "state RECORDING", "fps 30"}
	}
	p.stdinR, p.stdinW = io.Pipe()
	p.stdoutR, p.stdoutW = io.Pipe()
	p.stderrR, p.stderrW = io.Pipe()
	go p.serve()
	return p
}

func (p *scriptedProcess) serve() {
	p.emit("su version 26.1:MAGISK", "state READY")
	sc := bufio.NewScanner(p.stdinR)
	for sc.Scan() {
		line := sc.Text()
		p.mu.Lock()
		p.received = append(p.received, line)
		p.mu.Unlock()
		switch {
		case strings.HasPrefix(line, "start "):
			p.emit(p.startReply...)
		case line == "stop":
			p.emit("state STOPPING", "state FINISHED")
		case line == "quit":
			p.exit()
			return
		default:
			p.answerCommand(line)
		}
	}
	p.exit()
}

func (p *scriptedProcess) answerCommand(line string) {
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return
	}
	switch fields[0] {
	case native.CommandLogcat, native.CommandMountAudio, native.CommandUnmountAudio,
		native.CommandMountAudioMaster, native.CommandUnmountAudioMaster:
	default:
		return
	}
	code, ok := 0, true
	if p.commandCode != nil {
		code, ok = p.commandCode(fields[0])
	}
	if ok {
		p.emit(fmt.Sprintf("command result|%s|%d|", fields[1], code))
	}
}

func (p *scriptedProcess) emit(lines ...string) {
	for _, l := range lines {
		if _, err := io.WriteString(p.stdoutW, l+"\n"); err != nil {
			return
		}
	}
}

func (p *scriptedProcess) exit() {
	p.exitOnce.Do(func() {
		_ = p.stdoutW.Close()
		_ = p.stderrW.Close()
		_ = p.stdinR.Close()
		close(p.exited)
	})
}

func (p *scriptedProcess) lines() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.received...)
}

func (p *scriptedProcess) Pid() int              { return 5200 }
func (p *scriptedProcess) Stdin() io.WriteCloser { return p.stdinW }
func (p *scriptedProcess) Stdout() io.Reader     { return p.stdoutR }
func (p *scriptedProcess) Stderr() io.Reader     { return p.stderrR }

func (p *scriptedProcess) Wait() error {
	<-p.exited
	return nil
}

func (p *scriptedProcess) Terminate(time.Duration) error {
	p.exit()
	return nil
}

// queueLauncher hands out one process per launch.
type queueLauncher struct {
	mu       sync.Mutex
	procs    []*scriptedProcess
	launched int
	err      error
}

func (l *queueLauncher) Launch(context.Context) (native.Process, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return nil, l.err
	}
	if l.launched >= len(l.procs) {
		return nil, errors.New("no more processes")
	}
	p := l.procs[l.launched]
	l.launched++
	return p, nil
}

func (l *queueLauncher) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.launched
}

type staticSettings struct {
	mu  sync.Mutex
	cfg config.AppConfig
}

func (s *staticSettings) Get() config.AppConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

func (s *staticSettings) update(fn func(*config.AppConfig)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.cfg)
}

func testSettings() *staticSettings {
	cfg := config.Defaults()
	cfg.Native.CommandTimeout = time.Second
	cfg.Native.KillWait = time.Second
	cfg.Native.QuitGrace = time.Second
	cfg.Native.PollInterval = 5 * time.Millisecond
	cfg.Native.ReadyTimeout = 2 * time.Second
	return &staticSettings{cfg: cfg}
}
