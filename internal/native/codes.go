// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package native

// Exit codes reported by the native process that have a meaning independent
// of the system media service.
const (
	CodeMicrophoneBusy      = 213
	CodeOutputFile          = 222
	CodeEncoderRejected     = 237
	CodeAudioConfigRejected = 240
	CodeStorageFull         = 248
)

// Codes assigned by the supervisor itself. They sit outside the 0-255 exit
// code range so they never collide with a native exit status.
const (
	CodeUnspecified        = 300 // "state ERROR" without an error line
	CodeShellDead          = 301 // su could not be spawned or died
	CodeCommandWriteFailed = 302 // writing to the native stdin failed
	CodeStdoutClosed       = 303 // protocol stream ended unexpectedly
)

// mediaServiceDenylist holds the codes that never indicate a media service
// crash.
var mediaServiceDenylist = map[int]struct{}{
	CodeMicrophoneBusy:      {},
	CodeShellDead:           {},
	CodeCommandWriteFailed:  {},
	CodeOutputFile:          {},
	CodeEncoderRejected:     {},
	CodeAudioConfigRejected: {},
	CodeStorageFull:         {},
}

// IsMediaServiceError reports whether an error code is attributed to the
// system media service. Software encoders never touch the media service.
func IsMediaServiceError(code int, softwareEncoder bool) bool {
	if softwareEncoder {
		return false
	}
	_, denied := mediaServiceDenylist[code]
	return !denied
}

// Phase says when an error happened relative to recording.
type Phase int

const (
	PhaseStartup Phase = iota
	PhaseRecording
)

func (p Phase) String() string {
	if p == PhaseRecording {
		return "recording"
	}
	return "startup"
}

// Category is the coarse family of an exit code, used by the presentation
// layer to pick a message.
type Category int

const (
	CategoryUnknown Category = iota
	CategorySignal
	CategoryApplication
	CategorySupervisor
)

func (c Category) String() string {
	switch c {
	case CategorySignal:
		return "signal"
	case CategoryApplication:
		return "application"
	case CategorySupervisor:
		return "supervisor"
	default:
		return "unknown"
	}
}

// Categorize maps a raw exit code to its Category. Codes 129-192 are
// 128+signal terminations, 200-255 are native application errors and 300+
// are assigned by the supervisor.
func Categorize(code int) Category {
	switch {
	case code > 128 && code <= 192:
		return CategorySignal
	case code >= 200 && code <= 255:
		return CategoryApplication
	case code >= CodeUnspecified && code <= CodeStdoutClosed:
		return CategorySupervisor
	default:
		return CategoryUnknown
	}
}
