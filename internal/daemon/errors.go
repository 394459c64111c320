// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package daemon

import "errors"

var (
	// ErrManagerNotStarted is returned by Shutdown before Start.
	ErrManagerNotStarted = errors.New("daemon manager not started")
	// ErrManagerStarted is returned by a second Start.
	ErrManagerStarted = errors.New("daemon manager already started")
	// ErrMissingDependency is returned by Deps.Validate.
	ErrMissingDependency = errors.New("missing dependency")
)
