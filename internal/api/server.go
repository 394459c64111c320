// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package api serves the local control API of the daemon.
package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/ManuGH/rootcap/internal/api/middleware"
	"github.com/ManuGH/rootcap/internal/audiodriver"
	"github.com/ManuGH/rootcap/internal/config"
	"github.com/ManuGH/rootcap/internal/log"
	"github.com/ManuGH/rootcap/internal/native"
	"github.com/ManuGH/rootcap/internal/recorder"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Recorder is the part of the recorder controller the API drives.
type Recorder interface {
	Start(ctx context.Context) (native.Session, error)
	Stop(ctx context.Context) (native.Session, error)
	Status() recorder.Status
}

// AudioDriver is the part of the driver status machine the API drives.
type AudioDriver interface {
	Status() audiodriver.Status
	LastError() error
	RequestInstall() audiodriver.Decision
	RequestUninstall() audiodriver.Decision
}

// Diagnoser reports install diagnostics. Optional.
type Diagnoser interface {
	Diagnose() audiodriver.Diagnostics
}

// Commander relays correlated commands to the native process. Optional.
type Commander interface {
	RunCommand(ctx context.Context, command string) (recorder.CommandOutcome, error)
}

// Readiness serves /readyz. Optional.
type Readiness interface {
	ServeReady(w http.ResponseWriter, r *http.Request)
}

// Deps are the collaborators of a Server.
type Deps struct {
	Recorder  Recorder
	Driver    AudioDriver
	Diagnoser Diagnoser
	Commands  Commander
	Readiness Readiness
	Version   string
}

// Server is the control API.
type Server struct {
	cfg     config.APIConfig
	tracing string
	deps    Deps
	started time.Time
	logger  zerolog.Logger

	httpSrv *http.Server
}

// New creates a server. tracingService enables otelhttp when non-empty.
func New(cfg config.APIConfig, tracingService string, deps Deps) *Server {
	return &Server{
		cfg:     cfg,
		tracing: tracingService,
		deps:    deps,
		started: time.Now(),
		logger:  log.WithComponent("api"),
	}
}

// Handler builds the router with the full middleware stack.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	// Health checks and scrapes bypass rate limiting.
	r.Group(func(r chi.Router) {
		middleware.ApplyStack(r, middleware.StackConfig{EnableMetrics: true})
		r.Get("/healthz", s.handleHealth)
		if s.deps.Readiness != nil {
			r.Get("/readyz", s.deps.Readiness.ServeReady)
		}
		r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	})

	r.Route("/api", func(r chi.Router) {
		middleware.ApplyStack(r, middleware.StackConfig{
			EnableMetrics:  true,
			TracingService: s.tracing,
			EnableLogging:  true,
			RateLimit:      s.cfg.RateLimit,
			RateWindow:     s.cfg.RateWindow,
		})
		r.Get("/status", s.handleStatus)
		r.Post("/recording/start", s.handleRecordingStart)
		r.Post("/recording/stop", s.handleRecordingStop)
		r.Group(func(r chi.Router) {
			r.Use(middleware.RateLimit(middleware.RateClass{
				Name:   "audio",
				Limit:  s.cfg.AudioRateLimit,
				Window: s.cfg.RateWindow,
			}))
			r.Post("/audio/install", s.handleAudioInstall)
			r.Post("/audio/uninstall", s.handleAudioUninstall)
			r.Post("/native/commands/{command}", s.handleNativeCommand)
		})
		r.Get("/audio/diagnostics", s.handleAudioDiagnostics)
	})

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) { writeNotFound(w) })
	return r
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.cfg.ListenAddr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.httpSrv = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", ln.Addr().String()).Msg("control api listening")
		errCh <- s.httpSrv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve control api: %w", err)
	case <-ctx.Done():
	}

	timeout := s.cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()
	if err := s.httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown control api: %w", err)
	}
	<-errCh
	s.logger.Info().Msg("control api stopped")
	return nil
}
