// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package config loads and hot-reloads the rootcap daemon configuration.
package config

import "time"

// AppConfig is the fully resolved configuration. Zero values are never
// meaningful at runtime; Loader.Load always starts from Defaults.
type AppConfig struct {
	Version    string `yaml:"-"`
	DataDir    string `yaml:"dataDir"`
	LogLevel   string `yaml:"logLevel"`
	LogService string `yaml:"logService"`

	Native    NativeConfig    `yaml:"native"`
	Recording RecordingConfig `yaml:"recording"`
	Audio     AudioConfig     `yaml:"audio"`
	API       APIConfig       `yaml:"api"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// NativeConfig describes how the privileged capture process is spawned and
// supervised.
type NativeConfig struct {
	BinaryPath        string        `yaml:"binaryPath"`
	SuPath            string        `yaml:"suPath"`
	EmulatedPrefix    string        `yaml:"emulatedPrefix"`
	EmulatedTarget    string        `yaml:"emulatedTarget"`
	MediaServiceNames []string      `yaml:"mediaServiceNames"`
	CommandTimeout    time.Duration `yaml:"commandTimeout"`
	KillWait          time.Duration `yaml:"killWait"`
	QuitGrace         time.Duration `yaml:"quitGrace"`
	PollInterval      time.Duration `yaml:"pollInterval"`
	ReadyTimeout      time.Duration `yaml:"readyTimeout"`
	StderrLines       int           `yaml:"stderrLines"`
}

// RecordingConfig holds the capture parameters sent with every start command.
// They are re-read on each start so settings changes apply to the next
// recording without a restart.
type RecordingConfig struct {
	OutputDir      string  `yaml:"outputDir"`
	FilePrefix     string  `yaml:"filePrefix"`
	Rotation       int     `yaml:"rotation"`
	AudioSource    string  `yaml:"audioSource"`
	Width          int     `yaml:"width"`
	Height         int     `yaml:"height"`
	PaddingWidth   int     `yaml:"paddingWidth"`
	PaddingHeight  int     `yaml:"paddingHeight"`
	FrameRate      int     `yaml:"frameRate"`
	TimeLapse      int     `yaml:"timeLapse"`
	ColorFix       bool    `yaml:"colorFix"`
	BitrateMbps    float64 `yaml:"bitrateMbps"`
	SampleRate     int     `yaml:"sampleRate"`
	Stereo         bool    `yaml:"stereo"`
	Encoder        int     `yaml:"encoder"`
	VerticalFrames bool    `yaml:"verticalFrames"`
}

// AudioConfig covers the audio HAL shim installer and the stability monitor
// that runs after installation.
type AudioConfig struct {
	StagingDir         string        `yaml:"stagingDir"`
	LiveHALDir         string        `yaml:"liveHalDir"`
	SystemPolicyConfig string        `yaml:"systemPolicyConfig"`
	VendorPolicyConfig string        `yaml:"vendorPolicyConfig"`
	ShimModule         string        `yaml:"shimModule"`
	Timeout            time.Duration `yaml:"timeout"`
	ServerNames        []string      `yaml:"serverNames"`
	StabilityWindow    time.Duration `yaml:"stabilityWindow"`
	MaxRestarts        int           `yaml:"maxRestarts"`
	StabilityPoll      time.Duration `yaml:"stabilityPoll"`
}

// APIConfig configures the local control API.
type APIConfig struct {
	Enabled         bool          `yaml:"enabled"`
	ListenAddr      string        `yaml:"listenAddr"`
	RateLimit       int           `yaml:"rateLimit"`
	RateWindow      time.Duration `yaml:"rateWindow"`
	// AudioRateLimit caps install/uninstall requests per RateWindow; each one
	// triggers a root mount.
	AudioRateLimit  int           `yaml:"audioRateLimit"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
}

// TelemetryConfig configures OTLP tracing.
type TelemetryConfig struct {
	Enabled      bool    `yaml:"enabled"`
	Exporter     string  `yaml:"exporter"`
	Endpoint     string  `yaml:"endpoint"`
	ServiceName  string  `yaml:"serviceName"`
	SamplingRate float64 `yaml:"samplingRate"`
}

// Bitrate returns the encoder bitrate in bits per second.
func (r RecordingConfig) Bitrate() int {
	return int(r.BitrateMbps * 1_000_000)
}

// Defaults returns the built-in configuration.
func Defaults() AppConfig {
	return AppConfig{
		DataDir:    "/data/local/tmp/rootcap",
		LogLevel:   "info",
		LogService: "rootcapd",
		Native: NativeConfig{
			BinaryPath:        "/data/local/tmp/rootcap/bin/capture",
			SuPath:            "su",
			EmulatedPrefix:    "/storage/emulated/",
			EmulatedTarget:    "/data/media/",
			MediaServiceNames: []string{"mediaserver", "media.codec", "media.swcodec"},
			CommandTimeout:    5 * time.Second,
			KillWait:          7 * time.Second,
			QuitGrace:         5 * time.Second,
			PollInterval:      100 * time.Millisecond,
			ReadyTimeout:      15 * time.Second,
			StderrLines:       200,
		},
		Recording: RecordingConfig{
			OutputDir:   "/storage/emulated/0/Movies",
			FilePrefix:  "rootcap",
			AudioSource: "mic",
			Width:       720,
			Height:      1280,
			FrameRate:   30,
			TimeLapse:   1,
			BitrateMbps: 8,
			SampleRate:  48000,
			Encoder:     1,
		},
		Audio: AudioConfig{
			StagingDir:         "/data/local/tmp/rootcap/audio",
			LiveHALDir:         "/system/lib/hw",
			SystemPolicyConfig: "/system/etc/audio_policy.conf",
			VendorPolicyConfig: "/vendor/etc/audio_policy.conf",
			ShimModule:         "/data/local/tmp/rootcap/lib/rootcap_audio_shim.so",
			Timeout:            30 * time.Second,
			ServerNames:        []string{"audioserver", "mediaserver"},
			StabilityWindow:    20 * time.Second,
			MaxRestarts:        2,
			StabilityPoll:      250 * time.Millisecond,
		},
		API: APIConfig{
			Enabled:         true,
			ListenAddr:      "127.0.0.1:8787",
			RateLimit:       60,
			RateWindow:      time.Minute,
			AudioRateLimit:  6,
			ShutdownTimeout: 10 * time.Second,
		},
		Telemetry: TelemetryConfig{
			Exporter:     "grpc",
			Endpoint:     "localhost:4317",
			ServiceName:  "rootcapd",
			SamplingRate: 1.0,
		},
	}
}
