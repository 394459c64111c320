// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package native

// EventKind enumerates supervisor notifications.
type EventKind int

const (
	EventStateChanged EventKind = iota
	EventReady
	EventRecordingStarted
	EventRecordingFinished
	EventError
)

func (k EventKind) String() string {
	switch k {
	case EventStateChanged:
		return "state_changed"
	case EventReady:
		return "ready"
	case EventRecordingStarted:
		return "recording_started"
	case EventRecordingFinished:
		return "recording_finished"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// Event is published on the supervisor's dispatcher.
type Event struct {
	Kind    EventKind
	State   State
	Session Session
	// Error is set for EventError.
	Error *ErrorInfo
}
