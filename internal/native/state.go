// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package native

// State is the lifecycle state of the supervised native process.
type State int

const (
	StateNew State = iota
	StateInitializing
	StateReady
	StateStarting
	StateRecording
	StateStopping
	StateFinished
	StateError
	StateDead
)

var stateNames = [...]string{
	StateNew:          "NEW",
	StateInitializing: "INITIALIZING",
	StateReady:        "READY",
	StateStarting:     "STARTING",
	StateRecording:    "RECORDING",
	StateStopping:     "STOPPING",
	StateFinished:     "FINISHED",
	StateError:        "ERROR",
	StateDead:         "DEAD",
}

// String returns the protocol name of the state.
func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "UNKNOWN"
	}
	return stateNames[s]
}

// ParseState maps a protocol state name to a State.
func ParseState(name string) (State, bool) {
	for i, n := range stateNames {
		if n == name {
			return State(i), true
		}
	}
	return StateNew, false
}

// IsTerminal reports whether no further recording can happen in this state
// without a new start.
func (s State) IsTerminal() bool {
	return s == StateFinished || s == StateError || s == StateDead
}

// passedInitialization reports whether the native process got past its
// startup handshake.
func (s State) passedInitialization() bool {
	return s >= StateReady
}

// recordingPhase reports whether an error in this state belongs to the
// recording rather than the startup phase.
func (s State) recordingPhase() bool {
	return s == StateRecording || s == StateStopping || s == StateFinished
}
