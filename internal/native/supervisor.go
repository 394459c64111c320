// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package native supervises the privileged capture process: it speaks the
// line protocol over the process's standard streams, tracks its lifecycle
// state machine, correlates native commands with their results and recovers
// the system media service when it takes the recording down.
package native

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/ManuGH/rootcap/internal/bus"
	"github.com/ManuGH/rootcap/internal/log"
	"github.com/ManuGH/rootcap/internal/metrics"
	"github.com/ManuGH/rootcap/internal/osproc"
	"github.com/ManuGH/rootcap/internal/shell"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

var (
	// ErrNotRunning is returned when writing to a process that was never
	// launched or whose stdin is closed.
	ErrNotRunning = errors.New("native: process not running")
	// ErrAlreadyInitialized is returned by Init on a used supervisor.
	ErrAlreadyInitialized = errors.New("native: supervisor already initialized")
)

// Defaults for Config.
const (
	DefaultEmulatedPrefix = "/storage/emulated/"
	DefaultEmulatedTarget = "/data/media/"
	DefaultCommandTimeout = 5 * time.Second
	DefaultKillWait       = 7 * time.Second
	DefaultQuitGrace      = 5 * time.Second
	DefaultPollInterval   = 100 * time.Millisecond
)

// DefaultMediaServiceNames are the command names of the system media
// service across platform releases.
var DefaultMediaServiceNames = []string{"mediaserver", "media.codec", "media.swcodec"}

const maxLineSize = 64 * 1024

// Config for a Supervisor.
type Config struct {
	BinaryPath string
	SuPath     string

	EmulatedPrefix string
	EmulatedTarget string

	MediaServiceNames []string

	CommandTimeout time.Duration
	// KillWait bounds the wait for the media service to disappear.
	KillWait time.Duration
	// QuitGrace is how long Destroy waits after "quit" before terminating
	// the process group, and again per signal.
	QuitGrace    time.Duration
	PollInterval time.Duration
	StderrLines  int
}

func (c *Config) applyDefaults() {
	if c.EmulatedPrefix == "" {
		c.EmulatedPrefix = DefaultEmulatedPrefix
	}
	if c.EmulatedTarget == "" {
		c.EmulatedTarget = DefaultEmulatedTarget
	}
	if len(c.MediaServiceNames) == 0 {
		c.MediaServiceNames = DefaultMediaServiceNames
	}
	if c.CommandTimeout <= 0 {
		c.CommandTimeout = DefaultCommandTimeout
	}
	if c.KillWait <= 0 {
		c.KillWait = DefaultKillWait
	}
	if c.QuitGrace <= 0 {
		c.QuitGrace = DefaultQuitGrace
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.StderrLines <= 0 {
		c.StderrLines = 128
	}
}

// CameraOverlay is the collaborator holding the camera while recording. It
// must let go before the media service is killed.
type CameraOverlay interface {
	ReleaseCamera()
	ReconnectCamera()
}

// Deps are the collaborators of a Supervisor. Launcher is required.
type Deps struct {
	Launcher  Launcher
	Shell     shell.Runner
	Processes osproc.Processes
	Overlay   CameraOverlay
	Events    *bus.Dispatcher[Event]
}

// Supervisor owns one native process.
type Supervisor struct {
	cfg        Config
	launcher   Launcher
	shell      shell.Runner
	procs      osproc.Processes
	overlay    CameraOverlay
	events     *bus.Dispatcher[Event]
	logger     zerolog.Logger
	commands   *CommandChannel
	stderr     *LineRing
	unexpected rate.Sometimes

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// lifeMu serialises Init and Destroy.
	lifeMu   sync.Mutex
	exitOnce sync.Once

	writeMu sync.Mutex
	stdin   io.WriteCloser

	// pubMu keeps events in mutation order.
	pubMu sync.Mutex

	mu          sync.Mutex
	state       State
	changed     chan struct{}
	proc        Process
	exited      chan struct{}
	session     *Session
	params      StartParams
	lastErr     *ErrorInfo
	startIssued bool
	stopIssued  bool
	destroying  bool
	execBlocked bool
	suVersion   string
}

// NewSupervisor creates a supervisor in state NEW.
func NewSupervisor(cfg Config, deps Deps) *Supervisor {
	cfg.applyDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	s := &Supervisor{
		cfg:        cfg,
		launcher:   deps.Launcher,
		shell:      deps.Shell,
		procs:      deps.Processes,
		overlay:    deps.Overlay,
		events:     deps.Events,
		logger:     log.WithComponent("native"),
		stderr:     NewLineRing(cfg.StderrLines),
		unexpected: rate.Sometimes{First: 5, Interval: 30 * time.Second},
		ctx:        ctx,
		cancel:     cancel,
		state:      StateNew,
		changed:    make(chan struct{}),
		exited:     make(chan struct{}),
	}
	if s.launcher == nil {
		s.launcher = SuLauncher{SuPath: cfg.SuPath, BinaryPath: cfg.BinaryPath}
	}
	s.commands = newCommandChannel(s, FallbackConfig{
		Shell:       deps.Shell,
		SuPath:      cfg.SuPath,
		BinaryPath:  cfg.BinaryPath,
		Timeout:     cfg.CommandTimeout,
		ExecBlocked: s.ExecBlocked,
	}, s.logger)
	return s
}

// Commands returns the channel for correlated native commands.
func (s *Supervisor) Commands() *CommandChannel { return s.commands }

// Init spawns the native process. A spawn failure moves the supervisor to
// ERROR with CodeShellDead.
func (s *Supervisor) Init(ctx context.Context) error {
	s.lifeMu.Lock()
	defer s.lifeMu.Unlock()

	s.mu.Lock()
	if s.state != StateNew || s.destroying {
		s.mu.Unlock()
		return ErrAlreadyInitialized
	}
	s.mu.Unlock()

	proc, err := s.launcher.Launch(ctx)
	if err != nil {
		metrics.IncNativeStart("spawn_error")
		s.logger.Error().Err(err).Str(log.FieldPath, s.cfg.BinaryPath).Msg("failed to spawn native process")
		s.recordError(CodeShellDead)
		s.markExited()
		return fmt.Errorf("launch native process: %w", err)
	}

	s.writeMu.Lock()
	s.stdin = proc.Stdin()
	s.writeMu.Unlock()

	s.mutate(func() []Event {
		s.proc = proc
		return s.transitionLocked(StateInitializing)
	})
	s.logger.Info().Int(log.FieldPID, proc.Pid()).Msg("native process started")

	s.wg.Add(1)
	go s.run(proc)
	return nil
}

func (s *Supervisor) run(proc Process) {
	defer s.wg.Done()
	defer s.markExited()

	var g errgroup.Group
	g.Go(func() error {
		_, err := io.Copy(s.stderr, proc.Stderr())
		return err
	})

	readErr := s.readLoop(proc.Stdout())
	s.handleEOF(readErr)

	if err := g.Wait(); err != nil {
		s.logger.Debug().Err(err).Msg("native stderr drain ended with error")
	}
	waitErr := proc.Wait()
	ev := s.logger.Info().Int(log.FieldPID, proc.Pid())
	if waitErr != nil {
		ev = ev.Err(waitErr).Strs("stderr", s.stderr.LastN(20))
	}
	ev.Msg("native process exited")
}

func (s *Supervisor) markExited() {
	s.exitOnce.Do(func() { close(s.exited) })
}

func (s *Supervisor) readLoop(r io.Reader) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 4096), maxLineSize)
	for sc.Scan() {
		s.handleLine(sc.Text())
	}
	return sc.Err()
}

func (s *Supervisor) handleLine(raw string) {
	l, err := ParseLine(raw)
	metrics.IncProtocolLine(l.Kind.String())

	switch l.Kind {
	case LineEmpty:
		return

	case LineState:
		if err != nil {
			s.logger.Warn().Str(log.FieldLine, raw).Msg("ignoring unknown native state")
			return
		}
		s.onState(l.State)

	case LineRotateView:
		if err != nil {
			if !s.isDestroying() {
				s.logger.Warn().Str(log.FieldLine, raw).Msg("malformed rotateView line")
			}
			return
		}
		s.updateSession(func(sess *Session) {
			sess.HasRotation = true
			sess.RotateView = l.RotateView
			sess.RotateDisplay = l.RotateDisplay
			sess.RotateAdjusted = l.RotateAdjusted
		})

	case LineFPS:
		if l.FPS == FPSUnknown {
			s.logger.Debug().Str(log.FieldLine, raw).Msg("native reported non-numeric fps")
		}
		s.updateSession(func(sess *Session) { sess.FPS = l.FPS })

	case LineError:
		if err != nil {
			s.logger.Warn().Str(log.FieldLine, raw).Msg("malformed error line")
			return
		}
		s.recordError(l.Code)

	case LineSuVersion:
		s.onSuVersion(l.SuVersion)

	case LineCommandResult:
		if err != nil {
			s.logger.Warn().Str(log.FieldLine, raw).Msg("malformed command result")
			return
		}
		s.commands.NotifyResult(l.Result.ID, l.Result.Code)

	default:
		s.unexpected.Do(func() {
			s.logger.Warn().Str(log.FieldLine, raw).Msg("unexpected line from native process")
		})
	}
}

func (s *Supervisor) onState(st State) {
	if st == StateError {
		s.mu.Lock()
		recorded := s.lastErr != nil
		s.mu.Unlock()
		if !recorded {
			s.recordError(CodeUnspecified)
			return
		}
	}
	s.mutate(func() []Event { return s.transitionLocked(st) })
}

func (s *Supervisor) updateSession(fn func(*Session)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session == nil || s.session.Final {
		return
	}
	fn(s.session)
}

func (s *Supervisor) onSuVersion(v string) {
	if v != ExecBlockedMarker {
		s.mu.Lock()
		s.suVersion = v
		s.mu.Unlock()
		return
	}

	s.mu.Lock()
	s.execBlocked = true
	s.mu.Unlock()
	s.logger.Warn().Msg("root provider blocks exec from the native process, using su fallback")
	if s.shell == nil {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		res, err := s.shell.Run(s.ctx, shell.Command{
			Argv:    []string{suPath(s.cfg.SuPath), "-v"},
			Timeout: s.cfg.CommandTimeout,
		})
		if err != nil || !res.Completed {
			s.logger.Warn().Err(err).Msg("failed to query su version")
			return
		}
		s.mu.Lock()
		s.suVersion = strings.TrimSpace(res.Stdout)
		s.mu.Unlock()
	}()
}

// recordError stores the first error of the process and moves to ERROR.
// Later codes are only logged.
func (s *Supervisor) recordError(code int) {
	var (
		info     ErrorInfo
		recovery bool
		first    bool
	)
	s.mutate(func() []Event {
		if s.lastErr != nil {
			if s.lastErr.Code != code {
				s.logger.Warn().Int(log.FieldExitCode, code).Int("recorded_code", s.lastErr.Code).
					Msg("ignoring error code, another one was recorded first")
			}
			return nil
		}
		if s.state == StateDead {
			return nil
		}
		prev := s.state
		info = ErrorInfo{Code: code, Phase: PhaseStartup}
		if prev.recordingPhase() {
			info.Phase = PhaseRecording
		}
		info.MediaService = IsMediaServiceError(code, s.startIssued && s.params.SoftwareEncoder())
		s.lastErr = &info
		first = true
		recovery = info.MediaService && prev.passedInitialization() && !s.destroying

		if s.session != nil && !s.session.Final {
			s.session.HasError = true
			s.session.ExitCode = code
			s.session.Phase = info.Phase
			s.session.MediaServiceError = info.MediaService
		}
		return s.transitionLocked(StateError)
	})
	if !first {
		return
	}

	metrics.IncNativeError(info.Phase.String(), info.MediaService)
	s.logger.Error().
		Int(log.FieldExitCode, code).
		Str(log.FieldPhase, info.Phase.String()).
		Bool("media_service", info.MediaService).
		Str("category", info.Category().String()).
		Msg("native process reported error")

	if recovery {
		s.wg.Add(1)
		go s.recoverMediaService()
	}
}

func (s *Supervisor) handleEOF(readErr error) {
	if readErr != nil {
		s.logger.Warn().Err(readErr).Msg("reading native stdout failed")
	}
	s.mu.Lock()
	destroying := s.destroying
	done := s.state.IsTerminal() || s.lastErr != nil
	s.mu.Unlock()

	switch {
	case destroying:
		s.mutate(func() []Event { return s.transitionLocked(StateDead) })
	case done:
		s.logger.Debug().Msg("native stdout closed")
	default:
		s.recordError(CodeStdoutClosed)
	}
}

func (s *Supervisor) mutate(fn func() []Event) {
	s.pubMu.Lock()
	defer s.pubMu.Unlock()
	s.mu.Lock()
	evs := fn()
	s.mu.Unlock()
	if s.events == nil {
		return
	}
	for _, ev := range evs {
		if err := s.events.Publish(s.ctx, ev); err != nil {
			s.logger.Debug().Err(err).Str(log.FieldEvent, ev.Kind.String()).Msg("event not delivered")
		}
	}
}

func allowedTransition(from, to State) bool {
	switch from {
	case StateDead:
		return false
	case StateError:
		return to == StateDead
	case StateFinished:
		return to == StateReady || to == StateError || to == StateDead
	}
	return to != StateNew
}

// transitionLocked moves to next and returns the events to publish.
// Callers hold s.mu.
func (s *Supervisor) transitionLocked(next State) []Event {
	prev := s.state
	if prev == next {
		return nil
	}
	if !allowedTransition(prev, next) {
		s.logger.Warn().Str(log.FieldOldState, prev.String()).Str(log.FieldNewState, next.String()).
			Msg("rejecting state transition")
		return nil
	}
	s.state = next
	close(s.changed)
	s.changed = make(chan struct{})
	metrics.IncStateTransition(next.String())
	s.logger.Info().Str(log.FieldOldState, prev.String()).Str(log.FieldNewState, next.String()).Msg("native state changed")

	if next == StateReady {
		s.startIssued = false
		s.stopIssued = false
	}
	if next.IsTerminal() && s.session != nil && !s.session.Final {
		s.session.Final = true
		s.session.FinishedAt = time.Now()
	}
	if s.destroying {
		return nil
	}

	var sess Session
	if s.session != nil {
		sess = *s.session
	}
	evs := []Event{{Kind: EventStateChanged, State: next, Session: sess}}
	switch next {
	case StateReady:
		evs = append(evs, Event{Kind: EventReady, State: next})
	case StateRecording:
		evs = append(evs, Event{Kind: EventRecordingStarted, State: next, Session: sess})
	case StateFinished:
		evs = append(evs, Event{Kind: EventRecordingFinished, State: next, Session: sess})
	case StateError:
		if s.lastErr != nil {
			info := *s.lastErr
			evs = append(evs, Event{Kind: EventError, State: next, Session: sess, Error: &info})
		}
	}
	return evs
}

func (s *Supervisor) writeLine(line string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if s.stdin == nil {
		return ErrNotRunning
	}
	if _, err := io.WriteString(s.stdin, line+"\n"); err != nil {
		return fmt.Errorf("write %q: %w", strings.Fields(line)[0], err)
	}
	return nil
}

// Start asks the native process to record. It only acts in READY; in any
// other state the call is logged and ignored, and false is returned.
func (s *Supervisor) Start(ctx context.Context, params StartParams) (Session, bool) {
	logger := log.WithContext(ctx, s.logger)

	s.mu.Lock()
	if s.state != StateReady || s.startIssued || s.destroying {
		st := s.state
		s.mu.Unlock()
		logger.Warn().Str("state", st.String()).Msg("ignoring start, native process is not ready")
		return Session{}, false
	}
	devicePath := RewriteEmulatedPath(params.Path, s.cfg.EmulatedPrefix, s.cfg.EmulatedTarget)
	s.session = &Session{
		ID:         uuid.NewString(),
		Path:       params.Path,
		DevicePath: devicePath,
		Rotation:   params.Rotation,
		StartedAt:  time.Now(),
	}
	s.params = params
	s.startIssued = true
	s.stopIssued = false
	sess := *s.session
	s.mu.Unlock()

	logger.Info().
		Str(log.FieldSessionID, sess.ID).
		Str(log.FieldPath, devicePath).
		Int(log.FieldRotation, params.Rotation).
		Int(log.FieldEncoder, params.Encoder).
		Float64(log.FieldFPS, params.EffectiveFrameRate()).
		Msg("starting recording")

	if err := s.writeLine(params.commandLine(devicePath)); err != nil {
		metrics.IncNativeStart("write_failed")
		logger.Error().Err(err).Msg("failed to send start command")
		s.recordError(CodeCommandWriteFailed)
		return s.snapshotSession(), false
	}
	metrics.IncNativeStart("ok")
	return sess, true
}

// Stop asks the native process to finish the recording. It only acts in
// RECORDING; otherwise the call is logged and ignored.
func (s *Supervisor) Stop(ctx context.Context) bool {
	logger := log.WithContext(ctx, s.logger)

	s.mu.Lock()
	if s.state != StateRecording || s.stopIssued {
		st := s.state
		s.mu.Unlock()
		logger.Warn().Str("state", st.String()).Msg("ignoring stop, native process is not recording")
		return false
	}
	s.stopIssued = true
	s.mu.Unlock()

	if err := s.writeLine("stop"); err != nil {
		logger.Error().Err(err).Msg("failed to send stop command")
		s.recordError(CodeCommandWriteFailed)
		return false
	}
	return true
}

// Destroy stops a running recording, asks the process to quit and reaps it.
// No events are published once Destroy has begun.
func (s *Supervisor) Destroy(ctx context.Context) error {
	s.lifeMu.Lock()
	defer s.lifeMu.Unlock()

	s.mu.Lock()
	if s.destroying {
		s.mu.Unlock()
		s.wg.Wait()
		return nil
	}
	recording := s.state == StateRecording && !s.stopIssued
	s.mu.Unlock()

	if recording {
		s.Stop(ctx)
	}

	var (
		proc Process
		dead bool
	)
	s.mutate(func() []Event {
		s.destroying = true
		proc = s.proc
		dead = s.state == StateDead
		if proc == nil {
			return s.transitionLocked(StateDead)
		}
		return nil
	})

	if proc == nil {
		s.markExited()
		s.cancel()
		s.wg.Wait()
		return nil
	}

	if !dead {
		if err := s.writeLine("quit"); err != nil {
			s.logger.Debug().Err(err).Msg("quit not delivered")
		}
	}
	s.writeMu.Lock()
	if s.stdin != nil {
		_ = s.stdin.Close()
		s.stdin = nil
	}
	s.writeMu.Unlock()

	timer := time.NewTimer(s.cfg.QuitGrace)
	defer timer.Stop()
	terminate := false
	select {
	case <-s.exited:
	case <-timer.C:
		s.logger.Warn().Int(log.FieldPID, proc.Pid()).Msg("native process ignored quit, terminating")
		terminate = true
	case <-ctx.Done():
		terminate = true
	}
	s.cancel()
	if terminate {
		if err := proc.Terminate(s.cfg.QuitGrace); err != nil {
			s.logger.Error().Err(err).Int(log.FieldPID, proc.Pid()).Msg("native process group survived termination")
			return fmt.Errorf("terminate native process: %w", err)
		}
	}

	s.wg.Wait()
	s.mutate(func() []Event { return s.transitionLocked(StateDead) })
	return nil
}

// State returns the current state.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Session returns a copy of the current or last session.
func (s *Supervisor) Session() (Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session == nil {
		return Session{}, false
	}
	return *s.session, true
}

func (s *Supervisor) snapshotSession() Session {
	sess, _ := s.Session()
	return sess
}

// Err returns the error recorded for the process, if any.
func (s *Supervisor) Err() (ErrorInfo, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastErr == nil {
		return ErrorInfo{}, false
	}
	return *s.lastErr, true
}

// ExecBlocked reports whether the native process cannot exec as root.
func (s *Supervisor) ExecBlocked() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.execBlocked
}

// SuVersion returns the su version reported by or queried for the process.
func (s *Supervisor) SuVersion() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.suVersion
}

// StderrTail returns the last n lines the native process wrote to stderr.
func (s *Supervisor) StderrTail(n int) []string {
	return s.stderr.LastN(n)
}

// Exited is closed once the process exited and its streams are drained.
func (s *Supervisor) Exited() <-chan struct{} {
	return s.exited
}

// WaitFor blocks until pred accepts the current state or ctx is done.
func (s *Supervisor) WaitFor(ctx context.Context, pred func(State) bool) (State, error) {
	for {
		s.mu.Lock()
		st, ch := s.state, s.changed
		s.mu.Unlock()
		if pred(st) {
			return st, nil
		}
		select {
		case <-ch:
		case <-ctx.Done():
			return st, ctx.Err()
		}
	}
}

func (s *Supervisor) isDestroying() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.destroying
}

func suPath(p string) string {
	if p == "" {
		return "su"
	}
	return p
}
