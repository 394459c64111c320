// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package daemon

import (
	"context"
	"fmt"
	"os"

	"github.com/ManuGH/rootcap/internal/config"
	"github.com/rs/zerolog"
)

// Server is a long-running listener that stops when ctx is cancelled.
type Server interface {
	ListenAndServe(ctx context.Context) error
}

// ConfigSource is the reloadable configuration. *config.Holder satisfies it.
type ConfigSource interface {
	Get() config.AppConfig
	Reload(ctx context.Context) error
	StartWatcher(ctx context.Context) error
	RegisterListener(ch chan<- config.AppConfig)
}

// Deps contains all dependencies needed by the daemon manager.
type Deps struct {
	Logger zerolog.Logger
	Config ConfigSource

	// API is nil when the control API is disabled.
	API Server

	// HangUp delivers reload requests. Nil subscribes to SIGHUP.
	HangUp <-chan os.Signal
}

// Validate checks that all required dependencies are present.
func (d Deps) Validate() error {
	if d.Config == nil {
		return fmt.Errorf("%w: config source", ErrMissingDependency)
	}
	return nil
}
