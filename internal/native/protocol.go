// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package native

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	// ErrMalformedLine is returned for a known prefix with an unparsable payload.
	ErrMalformedLine = errors.New("native: malformed protocol line")
	// ErrUnknownState is returned for "state" lines naming no known state.
	ErrUnknownState = errors.New("native: unknown state")
)

// ExecBlockedMarker is the "su version" payload the native process reports
// when the root provider refuses exec from its context.
const ExecBlockedMarker = "exec_blocked"

// Protocol prefixes written by the native process.
const (
	prefixState         = "state "
	prefixRotateView    = "rotateView "
	prefixFPS           = "fps "
	prefixError         = "error "
	prefixSuVersion     = "su version "
	prefixCommandResult = "command result|"
)

// LineKind classifies a line read from the native stdout.
type LineKind int

const (
	LineEmpty LineKind = iota
	LineState
	LineRotateView
	LineFPS
	LineError
	LineSuVersion
	LineCommandResult
	LineUnexpected
)

func (k LineKind) String() string {
	switch k {
	case LineEmpty:
		return "empty"
	case LineState:
		return "state"
	case LineRotateView:
		return "rotate_view"
	case LineFPS:
		return "fps"
	case LineError:
		return "error"
	case LineSuVersion:
		return "su_version"
	case LineCommandResult:
		return "command_result"
	default:
		return "unexpected"
	}
}

// Line is one parsed protocol line. Only the fields matching Kind are set.
type Line struct {
	Kind LineKind
	Raw  string

	State     State
	StateName string

	RotateView     int
	RotateDisplay  int
	RotateAdjusted int

	FPS       float64
	Code      int
	SuVersion string
	Result    CommandResult
}

// ParseLine classifies raw. The returned Line has its Kind set even when err
// is non-nil, so callers can decide how loudly to report the problem.
func ParseLine(raw string) (Line, error) {
	raw = strings.TrimRight(raw, "\r\n")
	l := Line{Raw: raw}
	switch {
	case strings.TrimSpace(raw) == "":
		l.Kind = LineEmpty
		return l, nil

	case strings.HasPrefix(raw, prefixState):
		l.Kind = LineState
		l.StateName = strings.TrimSpace(raw[len(prefixState):])
		st, ok := ParseState(l.StateName)
		if !ok {
			return l, fmt.Errorf("%w: %q", ErrUnknownState, l.StateName)
		}
		l.State = st
		return l, nil

	case strings.HasPrefix(raw, prefixRotateView):
		l.Kind = LineRotateView
		// rotateView <view> x <display> adjusted <adjusted>
		f := strings.Fields(raw)
		if len(f) != 6 || f[2] != "x" || f[4] != "adjusted" {
			return l, fmt.Errorf("%w: %q", ErrMalformedLine, raw)
		}
		var err error
		if l.RotateView, err = strconv.Atoi(f[1]); err != nil {
			return l, fmt.Errorf("%w: %q", ErrMalformedLine, raw)
		}
		if l.RotateDisplay, err = strconv.Atoi(f[3]); err != nil {
			return l, fmt.Errorf("%w: %q", ErrMalformedLine, raw)
		}
		if l.RotateAdjusted, err = strconv.Atoi(f[5]); err != nil {
			return l, fmt.Errorf("%w: %q", ErrMalformedLine, raw)
		}
		return l, nil

	case strings.HasPrefix(raw, prefixFPS):
		l.Kind = LineFPS
		fps, err := strconv.ParseFloat(strings.TrimSpace(raw[len(prefixFPS):]), 64)
		if err != nil {
			fps = FPSUnknown
		}
		l.FPS = fps
		return l, nil

	case strings.HasPrefix(raw, prefixError):
		l.Kind = LineError
		code, err := strconv.Atoi(strings.TrimSpace(raw[len(prefixError):]))
		if err != nil {
			return l, fmt.Errorf("%w: %q", ErrMalformedLine, raw)
		}
		l.Code = code
		return l, nil

	case strings.HasPrefix(raw, prefixSuVersion):
		l.Kind = LineSuVersion
		l.SuVersion = strings.TrimSpace(raw[len(prefixSuVersion):])
		return l, nil

	case strings.HasPrefix(raw, prefixCommandResult):
		l.Kind = LineCommandResult
		// command result|<id>|<code>|<free text>...
		f := strings.Split(raw[len(prefixCommandResult):], "|")
		if len(f) < 2 {
			return l, fmt.Errorf("%w: %q", ErrMalformedLine, raw)
		}
		id, err := strconv.Atoi(strings.TrimSpace(f[0]))
		if err != nil {
			return l, fmt.Errorf("%w: %q", ErrMalformedLine, raw)
		}
		code, err := strconv.Atoi(strings.TrimSpace(f[1]))
		if err != nil {
			return l, fmt.Errorf("%w: %q", ErrMalformedLine, raw)
		}
		l.Result = CommandResult{ID: id, Code: code}
		return l, nil
	}

	l.Kind = LineUnexpected
	return l, nil
}

// StartParams are the recording settings encoded into the start command.
type StartParams struct {
	Path           string
	Rotation       int
	AudioSource    string
	Width          int
	Height         int
	PaddingWidth   int
	PaddingHeight  int
	FrameRate      int
	TimeLapse      int
	ColorFix       bool
	Bitrate        int
	SampleRate     int
	Stereo         bool
	Encoder        int
	VerticalFrames bool
}

// SoftwareEncoder reports whether the native process encodes without the
// system media service. Software encoders use negative ids.
func (p StartParams) SoftwareEncoder() bool {
	return p.Encoder < 0
}

// EffectiveFrameRate is the capture rate after applying the time-lapse factor.
func (p StartParams) EffectiveFrameRate() float64 {
	if p.TimeLapse <= 1 {
		return float64(p.FrameRate)
	}
	return float64(p.FrameRate) / float64(p.TimeLapse)
}

// Channels is the audio channel count.
func (p StartParams) Channels() int {
	if p.Stereo {
		return 2
	}
	return 1
}

// commandLine renders the start command. path must already be rewritten.
func (p StartParams) commandLine(path string) string {
	return strings.Join([]string{
		"start",
		strconv.Itoa(p.Rotation),
		p.AudioSource,
		strconv.Itoa(p.Width),
		strconv.Itoa(p.Height),
		strconv.Itoa(p.PaddingWidth),
		strconv.Itoa(p.PaddingHeight),
		strconv.FormatFloat(p.EffectiveFrameRate(), 'f', -1, 64),
		strconv.FormatBool(p.ColorFix),
		strconv.Itoa(p.Bitrate),
		strconv.Itoa(p.SampleRate),
		strconv.Itoa(p.Channels()),
		strconv.Itoa(p.Encoder),
		strconv.FormatBool(p.VerticalFrames),
		path,
	}, " ")
}

// RewriteEmulatedPath maps a path under the user-visible emulated storage
// prefix onto the backing directory a root shell sees. Other paths are
// returned unchanged.
func RewriteEmulatedPath(path, prefix, target string) string {
	if prefix == "" || target == "" || !strings.HasPrefix(path, prefix) {
		return path
	}
	return target + strings.TrimPrefix(path, prefix)
}

// formatCommand renders a correlated command line.
func formatCommand(command string, id int, args string) string {
	if args == "" {
		return fmt.Sprintf("%s %d", command, id)
	}
	return fmt.Sprintf("%s %d %s", command, id, args)
}
