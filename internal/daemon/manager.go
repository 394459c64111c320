// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package daemon runs the rootcap service: control API, configuration
// reloads and ordered shutdown of the capture and audio components.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/ManuGH/rootcap/internal/config"
	xglog "github.com/ManuGH/rootcap/internal/log"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

const defaultShutdownTimeout = 30 * time.Second

// ShutdownHook is a function that performs cleanup during graceful shutdown.
// Hooks are executed in reverse registration order (LIFO).
type ShutdownHook func(ctx context.Context) error

// Manager manages the daemon lifecycle.
type Manager interface {
	// Start runs all components and blocks until ctx is cancelled or one of
	// them fails, then shuts down.
	Start(ctx context.Context) error

	// Shutdown runs the shutdown hooks once.
	Shutdown(ctx context.Context) error

	// RegisterShutdownHook registers a function to be called during shutdown
	RegisterShutdownHook(name string, hook ShutdownHook)
}

type manager struct {
	deps Deps

	shutdownHooks []namedHook

	started  bool
	stopping bool
	mu       sync.Mutex

	logger zerolog.Logger
}

type namedHook struct {
	name string
	hook ShutdownHook
}

// NewManager creates a new daemon manager with the given dependencies.
func NewManager(deps Deps) (Manager, error) {
	if err := deps.Validate(); err != nil {
		return nil, fmt.Errorf("invalid dependencies: %w", err)
	}
	return &manager{
		deps:   deps,
		logger: deps.Logger.With().Str("component", "manager").Logger(),
	}, nil
}

func (m *manager) Start(ctx context.Context) error {
	if ctx == nil {
		return fmt.Errorf("start context is nil")
	}

	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return ErrManagerStarted
	}
	m.started = true
	m.mu.Unlock()

	cfg := m.deps.Config.Get()
	m.logger.Info().
		Bool("api", m.deps.API != nil).
		Str("listen", cfg.API.ListenAddr).
		Msg("starting daemon manager")

	reloads := make(chan config.AppConfig, 1)
	m.deps.Config.RegisterListener(reloads)

	g, gctx := errgroup.WithContext(ctx)

	if err := m.deps.Config.StartWatcher(gctx); err != nil {
		m.logger.Warn().Err(err).Msg("config watcher unavailable, reload with SIGHUP only")
	}

	if m.deps.API != nil {
		g.Go(func() error { return m.deps.API.ListenAndServe(gctx) })
	}
	g.Go(func() error { return m.hangUpLoop(gctx) })
	g.Go(func() error { return m.applyReloads(gctx, reloads) })

	runErr := g.Wait()
	if errors.Is(runErr, context.Canceled) && ctx.Err() != nil {
		runErr = nil
	}
	if runErr != nil {
		m.logger.Error().Err(runErr).Msg("component failed, initiating shutdown")
	} else {
		m.logger.Info().Msg("shutdown signal received")
	}

	// Detached but bounded so shutdown completes after the parent is cancelled.
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), defaultShutdownTimeout)
	defer cancel()
	if err := m.Shutdown(shutdownCtx); err != nil {
		return errors.Join(runErr, err)
	}
	return runErr
}

func (m *manager) hangUpLoop(ctx context.Context) error {
	hup := m.deps.HangUp
	if hup == nil {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGHUP)
		defer signal.Stop(ch)
		hup = ch
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case _, ok := <-hup:
			if !ok {
				return nil
			}
			m.logger.Info().Str("event", "config.sighup").Msg("reload requested")
			if err := m.deps.Config.Reload(ctx); err != nil {
				m.logger.Error().Err(err).Msg("reload failed, keeping current configuration")
			}
		}
	}
}

// applyReloads re-applies settings that are owned by the process itself.
// Component settings are read from the config source on use.
func (m *manager) applyReloads(ctx context.Context, reloads <-chan config.AppConfig) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case cfg := <-reloads:
			xglog.Reconfigure(xglog.Config{
				Level:   cfg.LogLevel,
				Service: cfg.LogService,
				Version: cfg.Version,
			})
			m.logger.Debug().Str("level", cfg.LogLevel).Msg("logger reconfigured")
		}
	}
}

func (m *manager) Shutdown(ctx context.Context) error {
	if ctx == nil {
		return fmt.Errorf("shutdown context is nil")
	}

	m.mu.Lock()
	if m.stopping {
		m.mu.Unlock()
		return nil
	}
	if !m.started {
		m.mu.Unlock()
		return ErrManagerNotStarted
	}
	m.stopping = true
	hooks := append([]namedHook(nil), m.shutdownHooks...)
	m.mu.Unlock()

	m.logger.Info().Int("hooks", len(hooks)).Msg("shutting down daemon manager")

	var errs []error
	for i := len(hooks) - 1; i >= 0; i-- {
		hook := hooks[i]
		hookStart := time.Now()
		if err := hook.hook(ctx); err != nil {
			m.logger.Error().
				Err(err).
				Str("hook", hook.name).
				Dur("duration", time.Since(hookStart)).
				Msg("shutdown hook failed")
			errs = append(errs, fmt.Errorf("hook %s: %w", hook.name, err))
			continue
		}
		m.logger.Debug().
			Str("hook", hook.name).
			Dur("duration", time.Since(hookStart)).
			Msg("shutdown hook completed")
	}

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %w", errors.Join(errs...))
	}
	m.logger.Info().Msg("daemon manager stopped cleanly")
	return nil
}

func (m *manager) RegisterShutdownHook(name string, hook ShutdownHook) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.shutdownHooks = append(m.shutdownHooks, namedHook{name: name, hook: hook})
	m.logger.Debug().Str("hook", name).Msg("registered shutdown hook")
}
