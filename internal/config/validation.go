// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"net"
	"strconv"
	"time"

	"github.com/ManuGH/rootcap/internal/validate"
)

// Validate reports every impossible value in cfg at once.
func Validate(cfg AppConfig) error {
	v := validate.New()

	if _, err := validate.ParseLogLevel(cfg.LogLevel); err != nil {
		v.AddError("LogLevel", "must be one of trace, debug, info, warn, error", cfg.LogLevel)
	}
	v.AbsPath("DataDir", cfg.DataDir)

	// Native process
	n := cfg.Native
	v.AbsPath("Native.BinaryPath", n.BinaryPath)
	v.NotEmpty("Native.SuPath", n.SuPath)
	if n.EmulatedPrefix != "" || n.EmulatedTarget != "" {
		v.AbsPath("Native.EmulatedPrefix", n.EmulatedPrefix)
		v.AbsPath("Native.EmulatedTarget", n.EmulatedTarget)
	}
	v.DurationRange("Native.CommandTimeout", n.CommandTimeout, 100*time.Millisecond, time.Minute)
	v.DurationRange("Native.KillWait", n.KillWait, 100*time.Millisecond, time.Minute)
	v.DurationRange("Native.QuitGrace", n.QuitGrace, 0, time.Minute)
	v.DurationRange("Native.PollInterval", n.PollInterval, time.Millisecond, 10*time.Second)
	v.DurationRange("Native.ReadyTimeout", n.ReadyTimeout, time.Second, 5*time.Minute)
	v.NonNegative("Native.StderrLines", n.StderrLines)

	// Recording
	r := cfg.Recording
	v.AbsPath("Recording.OutputDir", r.OutputDir)
	v.NoWhitespace("Recording.OutputDir", r.OutputDir)
	v.NoWhitespace("Recording.FilePrefix", r.FilePrefix)
	v.OneOf("Recording.Rotation", strconv.Itoa(r.Rotation), []string{"0", "90", "180", "270"})
	v.NotEmpty("Recording.AudioSource", r.AudioSource)
	v.NoWhitespace("Recording.AudioSource", r.AudioSource)
	v.Range("Recording.Width", r.Width, 16, 8192)
	v.Range("Recording.Height", r.Height, 16, 8192)
	v.NonNegative("Recording.PaddingWidth", r.PaddingWidth)
	v.NonNegative("Recording.PaddingHeight", r.PaddingHeight)
	v.Range("Recording.FrameRate", r.FrameRate, 1, 240)
	v.Range("Recording.TimeLapse", r.TimeLapse, 1, 100)
	v.FloatRange("Recording.BitrateMbps", r.BitrateMbps, 0.1, 200)
	v.OneOf("Recording.SampleRate", strconv.Itoa(r.SampleRate), []string{"8000", "16000", "22050", "44100", "48000"})

	// Audio driver
	a := cfg.Audio
	v.AbsPath("Audio.StagingDir", a.StagingDir)
	v.AbsPath("Audio.LiveHALDir", a.LiveHALDir)
	v.AbsPath("Audio.SystemPolicyConfig", a.SystemPolicyConfig)
	if a.VendorPolicyConfig != "" {
		v.AbsPath("Audio.VendorPolicyConfig", a.VendorPolicyConfig)
	}
	v.AbsPath("Audio.ShimModule", a.ShimModule)
	v.DurationRange("Audio.Timeout", a.Timeout, time.Second, 10*time.Minute)
	if len(a.ServerNames) == 0 {
		v.AddError("Audio.ServerNames", "at least one process name is required", a.ServerNames)
	}
	v.DurationRange("Audio.StabilityWindow", a.StabilityWindow, time.Second, 10*time.Minute)
	v.Range("Audio.MaxRestarts", a.MaxRestarts, 0, 100)
	v.DurationRange("Audio.StabilityPoll", a.StabilityPoll, 10*time.Millisecond, 10*time.Second)

	// API
	if cfg.API.Enabled {
		_, port, err := net.SplitHostPort(cfg.API.ListenAddr)
		if err != nil {
			v.AddError("API.ListenAddr", err.Error(), cfg.API.ListenAddr)
		} else {
			p, perr := strconv.Atoi(port)
			if perr != nil {
				v.AddError("API.ListenAddr", "port must be numeric", cfg.API.ListenAddr)
			} else {
				v.Port("API.ListenAddr", p)
			}
		}
		v.Positive("API.RateLimit", cfg.API.RateLimit)
		v.DurationRange("API.RateWindow", cfg.API.RateWindow, time.Second, time.Hour)
		v.NonNegative("API.AudioRateLimit", cfg.API.AudioRateLimit)
	}

	// Telemetry
	if cfg.Telemetry.Enabled {
		v.OneOf("Telemetry.Exporter", cfg.Telemetry.Exporter, []string{"grpc", "http"})
		v.NotEmpty("Telemetry.Endpoint", cfg.Telemetry.Endpoint)
		v.FloatRange("Telemetry.SamplingRate", cfg.Telemetry.SamplingRate, 0, 1)
	}

	return v.Err()
}
