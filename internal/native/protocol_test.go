// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package native

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLine(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    Line
		wantErr error
	}{
		{name: "empty", raw: "  ", want: Line{Kind: LineEmpty, Raw: "  "}},
		{name: "state", raw: "state RECORDING", want: Line{Kind: LineState, Raw: "state RECORDING", State: StateRecording, StateName: "RECORDING"}},
		{name: "unknown state", raw: "state PAUSED", want: Line{Kind: LineState, Raw: "state PAUSED", StateName: "PAUSED"}, wantErr: ErrUnknownState},
		{name: "rotate", raw: "rotateView 90 x 0 adjusted 270", want: Line{Kind: LineRotateView, Raw: "rotateView 90 x 0 adjusted 270", RotateView: 90, RotateAdjusted: 270}},
		{name: "rotate malformed", raw: "rotateView 90 by 0", want: Line{Kind: LineRotateView, Raw: "rotateView 90 by 0"}, wantErr: ErrMalformedLine},
		{name: "fps", raw: "fps 29.7", want: Line{Kind: LineFPS, Raw: "fps 29.7", FPS: 29.7}},
		{name: "fps not a number", raw: "fps NaNish", want: Line{Kind: LineFPS, Raw: "fps NaNish", FPS: FPSUnknown}},
		{name: "error", raw: "error 237", want: Line{Kind: LineError, Raw: "error 237", Code: 237}},
		{name: "error malformed", raw: "error boom", want: Line{Kind: LineError, Raw: "error boom"}, wantErr: ErrMalformedLine},
		{name: "su version", raw: "su version 26.1:MAGISK", want: Line{Kind: LineSuVersion, Raw: "su version 26.1:MAGISK", SuVersion: "26.1:MAGISK"}},
		{name: "command result", raw: "command result|7|0|mounted", want: Line{Kind: LineCommandResult, Raw: "command result|7|0|mounted", Result: CommandResult{ID: 7, Code: 0}}},
		{name: "command result short", raw: "command result|7", want: Line{Kind: LineCommandResult, Raw: "command result|7"}, wantErr: ErrMalformedLine},
		{name: "carriage return", raw: "state READY\r", want: Line{Kind: LineState, Raw: "state READY", State: StateReady, StateName: "READY"}},
		{name: "unexpected", raw: "hello", want: Line{Kind: LineUnexpected, Raw: "hello"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseLine(tt.raw)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestStartParams_CommandLine(t *testing.T) {
	p := StartParams{
		Path:          "/storage/emulated/0/Movies/clip.mp4",
		Rotation:      1,
		AudioSource:   "mic",
		Width:         1080,
		Height:        2340,
		PaddingWidth:  8,
		PaddingHeight: 4,
		FrameRate:     30,
		TimeLapse:     4,
		ColorFix:      true,
		Bitrate:       10000000,
		SampleRate:    44100,
		Stereo:        true,
		Encoder:       2,
	}
	path := RewriteEmulatedPath(p.Path, DefaultEmulatedPrefix, DefaultEmulatedTarget)
	assert.Equal(t, "/data/media/0/Movies/clip.mp4", path)
	assert.Equal(t,
		"start 1 mic 1080 2340 8 4 7.5 true 10000000 44100 2 2 false /data/media/0/Movies/clip.mp4",
		p.commandLine(path))
	assert.False(t, p.SoftwareEncoder())

	p.TimeLapse = 0
	p.Encoder = -1
	assert.InDelta(t, 30.0, p.EffectiveFrameRate(), 1e-9)
	assert.True(t, p.SoftwareEncoder())
}

func TestRewriteEmulatedPath_Untouched(t *testing.T) {
	assert.Equal(t, "/sdcard/x.mp4", RewriteEmulatedPath("/sdcard/x.mp4", DefaultEmulatedPrefix, DefaultEmulatedTarget))
	assert.Equal(t, "/storage/emulated/0/x.mp4", RewriteEmulatedPath("/storage/emulated/0/x.mp4", "", ""))
}

func TestIsMediaServiceError(t *testing.T) {
	for _, code := range []int{CodeMicrophoneBusy, CodeShellDead, CodeCommandWriteFailed, CodeOutputFile,
		CodeEncoderRejected, CodeAudioConfigRejected, CodeStorageFull} {
		assert.False(t, IsMediaServiceError(code, false), "code %d", code)
	}
	assert.True(t, IsMediaServiceError(100, false))
	assert.True(t, IsMediaServiceError(CodeStdoutClosed, false))
	assert.False(t, IsMediaServiceError(100, true))
}

func TestCategorize(t *testing.T) {
	assert.Equal(t, CategorySignal, Categorize(137))
	assert.Equal(t, CategoryApplication, Categorize(237))
	assert.Equal(t, CategorySupervisor, Categorize(CodeShellDead))
	assert.Equal(t, CategoryUnknown, Categorize(1))
	assert.Equal(t, CategoryUnknown, Categorize(195))
}

func TestState_String(t *testing.T) {
	for st := StateNew; st <= StateDead; st++ {
		got, ok := ParseState(st.String())
		require.True(t, ok)
		assert.Equal(t, st, got)
	}
	assert.Equal(t, "UNKNOWN", State(42).String())
}

func TestLineRing(t *testing.T) {
	r := NewLineRing(3)

	_, _ = r.Write([]byte("line1\n"))
	_, _ = r.Write([]byte("line2\n"))
	assert.Equal(t, []string{"line1", "line2"}, r.LastN(10))

	_, _ = r.Write([]byte("line3\nline4\n"))
	assert.Equal(t, []string{"line2", "line3", "line4"}, r.LastN(10))
	assert.Equal(t, []string{"line3", "line4"}, r.LastN(2))
}

func TestLineRing_Partial(t *testing.T) {
	r := NewLineRing(5)
	_, _ = r.Write([]byte("foo\nba"))
	assert.Equal(t, []string{"foo", "ba"}, r.LastN(10))

	_, _ = r.Write([]byte("r\n"))
	assert.Equal(t, []string{"foo", "bar"}, r.LastN(10))
}
