// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package recorder drives the native capture process on behalf of the API and
// the daemon. It spawns a supervisor lazily, waits for it to become ready,
// and replaces it once it has finished, failed or exited.
package recorder

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/ManuGH/rootcap/internal/bus"
	"github.com/ManuGH/rootcap/internal/config"
	"github.com/ManuGH/rootcap/internal/log"
	"github.com/ManuGH/rootcap/internal/metrics"
	"github.com/ManuGH/rootcap/internal/native"
	"github.com/ManuGH/rootcap/internal/osproc"
	"github.com/ManuGH/rootcap/internal/shell"
	"github.com/rs/zerolog"
)

var (
	ErrBusy          = errors.New("recorder: recording in progress")
	ErrNotRecording  = errors.New("recorder: not recording")
	ErrNotReady      = errors.New("recorder: native process did not become ready")
	ErrStartRejected = errors.New("recorder: start rejected by native process")
	ErrClosed        = errors.New("recorder: closed")
)

const fileTimeLayout = "20060102_150405"

// Settings supplies the current configuration. *config.Holder satisfies it.
type Settings interface {
	Get() config.AppConfig
}

// Deps are the collaborators handed to every supervisor. A nil Launcher
// selects the su launcher built from the current native config.
type Deps struct {
	Launcher  native.Launcher
	Shell     shell.Runner
	Processes osproc.Processes
	Overlay   native.CameraOverlay
	Now       func() time.Time
}

// Controller owns at most one supervisor at a time.
type Controller struct {
	settings    Settings
	deps        Deps
	events      *bus.Dispatcher[native.Event]
	unsubscribe func()
	logger      zerolog.Logger

	// opMu serialises Start, Stop, Prepare and Shutdown.
	opMu   sync.Mutex
	closed bool

	supMu sync.RWMutex
	sup   *native.Supervisor

	lastMu      sync.Mutex
	lastSession *native.Session
	lastErr     *native.ErrorInfo
}

// New creates a controller. No process is spawned until the first call that
// needs one.
func New(settings Settings, deps Deps) *Controller {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	c := &Controller{
		settings: settings,
		deps:     deps,
		events:   bus.New[native.Event]("native", 0),
		logger:   log.WithComponent("recorder"),
	}
	c.unsubscribe = c.events.Subscribe(c.onEvent)
	return c
}

// Events exposes the supervisor event stream. Subscribers survive supervisor
// replacement.
func (c *Controller) Events() *bus.Dispatcher[native.Event] {
	return c.events
}

// Prepare spawns the native process if needed and waits until it is ready.
func (c *Controller) Prepare(ctx context.Context) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()
	if c.closed {
		return ErrClosed
	}
	_, err := c.readyLocked(ctx, c.settings.Get())
	return err
}

// Start begins a recording with the recording settings current at the time
// of the call.
func (c *Controller) Start(ctx context.Context) (native.Session, error) {
	c.opMu.Lock()
	defer c.opMu.Unlock()
	if c.closed {
		return native.Session{}, ErrClosed
	}

	cfg := c.settings.Get()
	sup, err := c.readyLocked(ctx, cfg)
	if err != nil {
		metrics.IncRecordingRequest("start", "not_ready")
		return native.Session{}, err
	}

	params := BuildParams(cfg.Recording, c.deps.Now())
	sess, ok := sup.Start(ctx, params)
	if !ok {
		metrics.IncRecordingRequest("start", "rejected")
		if info, has := sup.Err(); has {
			return sess, fmt.Errorf("%w: code %d (%s)", ErrStartRejected, info.Code, info.Category())
		}
		return sess, ErrStartRejected
	}
	metrics.IncRecordingRequest("start", "ok")
	logger := log.WithContext(log.ContextWithSessionID(ctx, sess.ID), c.logger)
	logger.Info().
		Str(log.FieldPath, sess.Path).
		Str("device_path", sess.DevicePath).
		Msg("recording start accepted")
	return sess, nil
}

// Stop asks the running recording to finish and waits until the native
// process reports the outcome.
func (c *Controller) Stop(ctx context.Context) (native.Session, error) {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	sup := c.current()
	if sup == nil || !sup.Stop(ctx) {
		metrics.IncRecordingRequest("stop", "not_recording")
		return native.Session{}, ErrNotRecording
	}

	timeout := c.settings.Get().Native.ReadyTimeout
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	st, err := sup.WaitFor(waitCtx, func(s native.State) bool {
		return s.IsTerminal() || s == native.StateReady
	})
	sess, _ := sup.Session()
	logger := log.WithContext(log.ContextWithSessionID(ctx, sess.ID), c.logger)
	if err != nil {
		metrics.IncRecordingRequest("stop", "timeout")
		logger.Warn().Str("state", st.String()).Err(err).Msg("recording did not finish in time")
		return sess, fmt.Errorf("wait for recording to finish (state %s): %w", st, err)
	}
	metrics.IncRecordingRequest("stop", "ok")
	logger.Info().Str("state", st.String()).Msg("recording stop completed")
	return sess, nil
}

// Shutdown destroys the supervisor and stops event delivery. Later calls
// fail with ErrClosed.
func (c *Controller) Shutdown(ctx context.Context) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true

	var err error
	if sup := c.current(); sup != nil {
		err = sup.Destroy(ctx)
	}
	c.unsubscribe()
	c.events.Close()
	return err
}

// readyLocked returns a supervisor in READY, replacing a spent one first.
func (c *Controller) readyLocked(ctx context.Context, cfg config.AppConfig) (*native.Supervisor, error) {
	sup, err := c.ensureLocked(ctx, cfg)
	if err != nil {
		return nil, err
	}

	waitCtx, cancel := context.WithTimeout(ctx, cfg.Native.ReadyTimeout)
	defer cancel()
	st, err := sup.WaitFor(waitCtx, func(s native.State) bool {
		return s == native.StateReady || s.IsTerminal()
	})
	if err != nil {
		return nil, fmt.Errorf("%w: still %s: %w", ErrNotReady, st, err)
	}
	if st != native.StateReady {
		if info, ok := sup.Err(); ok {
			return nil, fmt.Errorf("%w: %s with code %d (%s)", ErrNotReady, st, info.Code, info.Category())
		}
		return nil, fmt.Errorf("%w: %s", ErrNotReady, st)
	}
	return sup, nil
}

func (c *Controller) ensureLocked(ctx context.Context, cfg config.AppConfig) (*native.Supervisor, error) {
	if sup := c.current(); sup != nil {
		st := sup.State()
		switch {
		case exited(sup):
		case st == native.StateStarting, st == native.StateRecording, st == native.StateStopping:
			return nil, ErrBusy
		case !st.IsTerminal():
			return sup, nil
		}
		c.logger.Info().Str("state", st.String()).Msg("replacing spent native process")
		if err := sup.Destroy(ctx); err != nil {
			return nil, fmt.Errorf("destroy previous native process: %w", err)
		}
	}

	sup := native.NewSupervisor(nativeConfig(cfg.Native), native.Deps{
		Launcher:  c.deps.Launcher,
		Shell:     c.deps.Shell,
		Processes: c.deps.Processes,
		Overlay:   c.deps.Overlay,
		Events:    c.events,
	})
	metrics.IncSupervisorSpawn()

	c.supMu.Lock()
	c.sup = sup
	c.supMu.Unlock()

	if err := sup.Init(ctx); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNotReady, err)
	}
	return sup, nil
}

func (c *Controller) current() *native.Supervisor {
	c.supMu.RLock()
	defer c.supMu.RUnlock()
	return c.sup
}

func exited(sup *native.Supervisor) bool {
	select {
	case <-sup.Exited():
		return true
	default:
		return false
	}
}

func (c *Controller) onEvent(ev native.Event) {
	switch ev.Kind {
	case native.EventRecordingStarted:
		c.logger.Info().
			Str(log.FieldSessionID, ev.Session.ID).
			Str(log.FieldPath, ev.Session.Path).
			Msg("recording started")
	case native.EventRecordingFinished:
		sess := ev.Session
		c.lastMu.Lock()
		c.lastSession = &sess
		c.lastMu.Unlock()
		c.logger.Info().
			Str(log.FieldSessionID, sess.ID).
			Str(log.FieldPath, sess.Path).
			Float64(log.FieldFPS, sess.FPS).
			Dur("duration", sess.FinishedAt.Sub(sess.StartedAt)).
			Msg("recording finished")
	case native.EventError:
		if ev.Error == nil {
			return
		}
		info := *ev.Error
		category := info.Category().String()
		metrics.IncRecordingExit(category)
		c.lastMu.Lock()
		c.lastErr = &info
		if ev.Session.ID != "" {
			sess := ev.Session
			c.lastSession = &sess
		}
		c.lastMu.Unlock()
		c.logger.Error().
			Int(log.FieldExitCode, info.Code).
			Str("category", category).
			Str(log.FieldPhase, info.Phase.String()).
			Bool("media_service", info.MediaService).
			Str(log.FieldSessionID, ev.Session.ID).
			Msg("native process reported an error")
	}
}

// BuildParams derives the start parameters for a recording that begins at now.
func BuildParams(rec config.RecordingConfig, now time.Time) native.StartParams {
	prefix := rec.FilePrefix
	if prefix == "" {
		prefix = "rootcap"
	}
	name := fmt.Sprintf("%s_%s.mp4", prefix, now.Format(fileTimeLayout))
	return native.StartParams{
		Path:           filepath.Join(rec.OutputDir, name),
		Rotation:       rec.Rotation,
		AudioSource:    rec.AudioSource,
		Width:          rec.Width,
		Height:         rec.Height,
		PaddingWidth:   rec.PaddingWidth,
		PaddingHeight:  rec.PaddingHeight,
		FrameRate:      rec.FrameRate,
		TimeLapse:      rec.TimeLapse,
		ColorFix:       rec.ColorFix,
		Bitrate:        rec.Bitrate(),
		SampleRate:     rec.SampleRate,
		Stereo:         rec.Stereo,
		Encoder:        rec.Encoder,
		VerticalFrames: rec.VerticalFrames,
	}
}

func nativeConfig(n config.NativeConfig) native.Config {
	return native.Config{
		BinaryPath:        n.BinaryPath,
		SuPath:            n.SuPath,
		EmulatedPrefix:    n.EmulatedPrefix,
		EmulatedTarget:    n.EmulatedTarget,
		MediaServiceNames: n.MediaServiceNames,
		CommandTimeout:    n.CommandTimeout,
		KillWait:          n.KillWait,
		QuitGrace:         n.QuitGrace,
		PollInterval:      n.PollInterval,
		StderrLines:       n.StderrLines,
	}
}
