// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package log

// Canonical field name constants for structured logging.
const (
	// Identity fields
	FieldSessionID = "session_id"
	FieldRequestID = "request_id"
	FieldCommandID = "command_id"

	// Process fields
	FieldEvent     = "event"
	FieldComponent = "component"
	FieldPID       = "pid"
	FieldCommand   = "command"
	FieldExitCode  = "exit_code"
	FieldPhase     = "phase"
	FieldLine      = "line"

	// State fields
	FieldOldState = "old_state"
	FieldNewState = "new_state"

	// Recording fields
	FieldFPS      = "fps"
	FieldRotation = "rotation"
	FieldEncoder  = "encoder"

	// Driver fields
	FieldStage  = "stage"
	FieldStatus = "status"

	// Path fields
	FieldPath = "path"
)
