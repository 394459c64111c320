// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package native

import "time"

// FPSUnknown is stored when the native process reported a non-numeric fps.
const FPSUnknown = -1.0

// Session accumulates what the native process reports about one recording.
// The supervisor hands out copies; a session is frozen once its state
// reaches FINISHED, ERROR or DEAD.
type Session struct {
	ID         string
	Path       string // destination as requested
	DevicePath string // destination as seen by the root shell
	Rotation   int
	StartedAt  time.Time
	FinishedAt time.Time

	FPS float64

	// Rotation diagnostics from "rotateView <view> x <display> adjusted <adjusted>".
	HasRotation    bool
	RotateView     int
	RotateDisplay  int
	RotateAdjusted int

	HasError          bool
	ExitCode          int
	Phase             Phase
	MediaServiceError bool

	Final bool
}

// ErrorInfo describes the error that ended a session or a process.
type ErrorInfo struct {
	Code         int
	Phase        Phase
	MediaService bool
}

// Category returns the coarse category of the error code.
func (e ErrorInfo) Category() Category {
	return Categorize(e.Code)
}
