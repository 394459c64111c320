// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package stability watches the system media service after an audio driver
// install and reports whether it settles or keeps crashing.
package stability

import (
	"context"
	"errors"
	"time"

	"github.com/ManuGH/rootcap/internal/log"
	"github.com/ManuGH/rootcap/internal/metrics"
	"github.com/ManuGH/rootcap/internal/osproc"
	"github.com/rs/zerolog"
)

// Outcome of a monitoring window.
type Outcome int

const (
	Stable Outcome = iota
	Unstable
)

func (o Outcome) String() string {
	if o == Unstable {
		return "unstable"
	}
	return "stable"
}

const (
	DefaultWindow       = 20 * time.Second
	DefaultMaxRestarts  = 2
	DefaultPollInterval = 250 * time.Millisecond
)

type clock interface {
	After(d time.Duration) <-chan time.Time
	NewTicker(d time.Duration) ticker
}

type ticker interface {
	C() <-chan time.Time
	Stop()
}

type realClock struct{}

func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }
func (realClock) NewTicker(d time.Duration) ticker       { return &realTicker{time.NewTicker(d)} }

type realTicker struct {
	*time.Ticker
}

func (rt *realTicker) C() <-chan time.Time { return rt.Ticker.C }

// Config for a Monitor. Zero durations and a negative MaxRestarts select the
// defaults. MaxRestarts 0 makes the first restart fatal.
type Config struct {
	Names        []string
	Window       time.Duration
	MaxRestarts  int
	PollInterval time.Duration
}

// Monitor counts media service restarts within a window.
type Monitor struct {
	procs  osproc.Processes
	cfg    Config
	clock  clock
	logger zerolog.Logger
}

// New creates a Monitor.
func New(procs osproc.Processes, cfg Config) *Monitor {
	if cfg.Window <= 0 {
		cfg.Window = DefaultWindow
	}
	if cfg.MaxRestarts < 0 {
		cfg.MaxRestarts = DefaultMaxRestarts
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	return &Monitor{
		procs:  procs,
		cfg:    cfg,
		clock:  realClock{},
		logger: log.WithComponent("stability"),
	}
}

// Run blocks until the window elapsed (Stable), the restart count exceeded
// the maximum (Unstable) or ctx is done (ctx.Err()).
func (m *Monitor) Run(ctx context.Context) (Outcome, error) {
	deadline := m.clock.After(m.cfg.Window)
	tick := m.clock.NewTicker(m.cfg.PollInterval)
	defer tick.Stop()

	pid := m.find()
	restarts := 0
	m.logger.Debug().Int(log.FieldPID, pid).Dur("window", m.cfg.Window).Msg("watching media service")

	for {
		select {
		case <-ctx.Done():
			return Stable, ctx.Err()
		case <-deadline:
			m.logger.Info().Int("restarts", restarts).Msg("media service stable")
			metrics.IncStabilityOutcome(Stable.String())
			return Stable, nil
		case <-tick.C():
		}

		if pid == 0 {
			pid = m.find()
			continue
		}
		if m.procs.Alive(pid) {
			continue
		}
		restarts++
		m.logger.Warn().Int(log.FieldPID, pid).Int("restarts", restarts).Msg("media service exited")
		if restarts > m.cfg.MaxRestarts {
			metrics.IncStabilityOutcome(Unstable.String())
			return Unstable, nil
		}
		pid = m.find()
	}
}

// Start runs the monitor in the background and calls fn with the outcome.
// fn is not called when ctx ends first.
func (m *Monitor) Start(ctx context.Context, fn func(Outcome)) {
	go func() {
		outcome, err := m.Run(ctx)
		if err != nil {
			m.logger.Debug().Err(err).Msg("stability monitor cancelled")
			return
		}
		fn(outcome)
	}()
}

func (m *Monitor) find() int {
	pid, err := m.procs.FindByName(m.cfg.Names...)
	if err != nil {
		if !errors.Is(err, osproc.ErrNotFound) {
			m.logger.Warn().Err(err).Msg("media service lookup failed")
		}
		return 0
	}
	return pid
}
