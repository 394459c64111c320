// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "ROOTCAP_"

// Loader handles configuration loading with precedence
type Loader struct {
	configPath      string
	version         string
	ConsumedEnvKeys map[string]struct{}
}

// NewLoader creates a new configuration loader. An empty configPath skips the
// file layer.
func NewLoader(configPath, version string) *Loader {
	return &Loader{
		configPath:      configPath,
		version:         version,
		ConsumedEnvKeys: make(map[string]struct{}),
	}
}

// Path returns the config file path, possibly empty.
func (l *Loader) Path() string {
	return l.configPath
}

func (l *Loader) envString(key, defaultVal string) string {
	key = EnvPrefix + key
	l.ConsumedEnvKeys[key] = struct{}{}
	return ParseString(key, defaultVal)
}

func (l *Loader) envBool(key string, defaultVal bool) bool {
	key = EnvPrefix + key
	l.ConsumedEnvKeys[key] = struct{}{}
	return ParseBool(key, defaultVal)
}

func (l *Loader) envInt(key string, defaultVal int) int {
	key = EnvPrefix + key
	l.ConsumedEnvKeys[key] = struct{}{}
	return ParseInt(key, defaultVal)
}

func (l *Loader) envDuration(key string, defaultVal time.Duration) time.Duration {
	key = EnvPrefix + key
	l.ConsumedEnvKeys[key] = struct{}{}
	return ParseDuration(key, defaultVal)
}

func (l *Loader) envFloat(key string, defaultVal float64) float64 {
	key = EnvPrefix + key
	l.ConsumedEnvKeys[key] = struct{}{}
	return ParseFloat(key, defaultVal)
}

func (l *Loader) envList(key string, defaultVal []string) []string {
	key = EnvPrefix + key
	l.ConsumedEnvKeys[key] = struct{}{}
	return ParseList(key, defaultVal)
}

// Load loads configuration with precedence: ENV > File > Defaults, then
// validates the result.
func (l *Loader) Load() (AppConfig, error) {
	cfg := Defaults()

	if l.configPath != "" {
		if err := l.loadFile(l.configPath, &cfg); err != nil {
			return cfg, fmt.Errorf("load config file: %w", err)
		}
	}

	l.mergeEnvConfig(&cfg)

	if cfg.DataDir != "" {
		if abs, err := filepath.Abs(cfg.DataDir); err == nil {
			cfg.DataDir = abs
		}
	}
	cfg.Version = l.version

	if err := Validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// loadFile decodes the YAML file over cfg. Keys absent from the file keep the
// values already in cfg.
func (l *Loader) loadFile(path string, cfg *AppConfig) error {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return err
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		if strings.Contains(err.Error(), "field") && strings.Contains(err.Error(), "not found") {
			return fmt.Errorf("strict config parse error: %w: %w", ErrUnknownConfigField, err)
		}
		return fmt.Errorf("strict config parse error: %w", err)
	}

	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return ErrMultipleDocuments
	}
	return nil
}

func (l *Loader) mergeEnvConfig(cfg *AppConfig) {
	cfg.DataDir = l.envString("DATA_DIR", cfg.DataDir)
	cfg.LogLevel = l.envString("LOG_LEVEL", cfg.LogLevel)
	cfg.LogService = l.envString("LOG_SERVICE", cfg.LogService)

	n := &cfg.Native
	n.BinaryPath = l.envString("NATIVE_BINARY", n.BinaryPath)
	n.SuPath = l.envString("NATIVE_SU", n.SuPath)
	n.EmulatedPrefix = l.envString("NATIVE_EMULATED_PREFIX", n.EmulatedPrefix)
	n.EmulatedTarget = l.envString("NATIVE_EMULATED_TARGET", n.EmulatedTarget)
	n.MediaServiceNames = l.envList("NATIVE_MEDIA_SERVICES", n.MediaServiceNames)
	n.CommandTimeout = l.envDuration("NATIVE_COMMAND_TIMEOUT", n.CommandTimeout)
	n.KillWait = l.envDuration("NATIVE_KILL_WAIT", n.KillWait)
	n.QuitGrace = l.envDuration("NATIVE_QUIT_GRACE", n.QuitGrace)
	n.PollInterval = l.envDuration("NATIVE_POLL_INTERVAL", n.PollInterval)
	n.ReadyTimeout = l.envDuration("NATIVE_READY_TIMEOUT", n.ReadyTimeout)
	n.StderrLines = l.envInt("NATIVE_STDERR_LINES", n.StderrLines)

	r := &cfg.Recording
	r.OutputDir = l.envString("RECORDING_OUTPUT_DIR", r.OutputDir)
	r.FilePrefix = l.envString("RECORDING_FILE_PREFIX", r.FilePrefix)
	r.Rotation = l.envInt("RECORDING_ROTATION", r.Rotation)
	r.AudioSource = l.envString("RECORDING_AUDIO_SOURCE", r.AudioSource)
	r.Width = l.envInt("RECORDING_WIDTH", r.Width)
	r.Height = l.envInt("RECORDING_HEIGHT", r.Height)
	r.PaddingWidth = l.envInt("RECORDING_PADDING_WIDTH", r.PaddingWidth)
	r.PaddingHeight = l.envInt("RECORDING_PADDING_HEIGHT", r.PaddingHeight)
	r.FrameRate = l.envInt("RECORDING_FRAME_RATE", r.FrameRate)
	r.TimeLapse = l.envInt("RECORDING_TIME_LAPSE", r.TimeLapse)
	r.ColorFix = l.envBool("RECORDING_COLOR_FIX", r.ColorFix)
	r.BitrateMbps = l.envFloat("RECORDING_BITRATE_MBPS", r.BitrateMbps)
	r.SampleRate = l.envInt("RECORDING_SAMPLE_RATE", r.SampleRate)
	r.Stereo = l.envBool("RECORDING_STEREO", r.Stereo)
	r.Encoder = l.envInt("RECORDING_ENCODER", r.Encoder)
	r.VerticalFrames = l.envBool("RECORDING_VERTICAL_FRAMES", r.VerticalFrames)

	a := &cfg.Audio
	a.StagingDir = l.envString("AUDIO_STAGING_DIR", a.StagingDir)
	a.LiveHALDir = l.envString("AUDIO_LIVE_HAL_DIR", a.LiveHALDir)
	a.SystemPolicyConfig = l.envString("AUDIO_SYSTEM_POLICY", a.SystemPolicyConfig)
	a.VendorPolicyConfig = l.envString("AUDIO_VENDOR_POLICY", a.VendorPolicyConfig)
	a.ShimModule = l.envString("AUDIO_SHIM_MODULE", a.ShimModule)
	a.Timeout = l.envDuration("AUDIO_TIMEOUT", a.Timeout)
	a.ServerNames = l.envList("AUDIO_SERVER_NAMES", a.ServerNames)
	a.StabilityWindow = l.envDuration("AUDIO_STABILITY_WINDOW", a.StabilityWindow)
	a.MaxRestarts = l.envInt("AUDIO_MAX_RESTARTS", a.MaxRestarts)
	a.StabilityPoll = l.envDuration("AUDIO_STABILITY_POLL", a.StabilityPoll)

	api := &cfg.API
	api.Enabled = l.envBool("API_ENABLED", api.Enabled)
	api.ListenAddr = l.envString("API_LISTEN", api.ListenAddr)
	api.RateLimit = l.envInt("API_RATE_LIMIT", api.RateLimit)
	api.RateWindow = l.envDuration("API_RATE_WINDOW", api.RateWindow)
	api.AudioRateLimit = l.envInt("API_AUDIO_RATE_LIMIT", api.AudioRateLimit)
	api.ShutdownTimeout = l.envDuration("API_SHUTDOWN_TIMEOUT", api.ShutdownTimeout)

	tel := &cfg.Telemetry
	tel.Enabled = l.envBool("TELEMETRY_ENABLED", tel.Enabled)
	tel.Exporter = l.envString("TELEMETRY_EXPORTER", tel.Exporter)
	tel.Endpoint = l.envString("TELEMETRY_ENDPOINT", tel.Endpoint)
	tel.ServiceName = l.envString("TELEMETRY_SERVICE_NAME", tel.ServiceName)
	tel.SamplingRate = l.envFloat("TELEMETRY_SAMPLING_RATE", tel.SamplingRate)
}
