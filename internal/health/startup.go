// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package health

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ManuGH/rootcap/internal/config"
	"github.com/ManuGH/rootcap/internal/log"
	"github.com/rs/zerolog"
)

// PerformStartupChecks validates the environment before the daemon starts.
// Missing native artefacts are logged, not fatal: the engine may be pushed
// after the daemon comes up and readiness reports them.
func PerformStartupChecks(_ context.Context, cfg config.AppConfig) error {
	logger := log.WithComponent("startup-check")

	if err := checkDataDir(logger, cfg.DataDir); err != nil {
		return fmt.Errorf("data directory check failed: %w", err)
	}
	if err := os.MkdirAll(cfg.Audio.StagingDir, 0o750); err != nil {
		return fmt.Errorf("audio staging directory %s: %w", cfg.Audio.StagingDir, err)
	}

	for name, path := range map[string]string{
		"native_binary": cfg.Native.BinaryPath,
		"audio_shim":    cfg.Audio.ShimModule,
	} {
		if res := NewFileChecker(name, path).Check(context.Background()); res.Status != StatusHealthy {
			logger.Warn().
				Str("check", name).
				Str("path", path).
				Str("error", res.Error).
				Msg("startup artefact missing")
		}
	}

	logger.Info().Str("data_dir", cfg.DataDir).Msg("startup checks passed")
	return nil
}

func checkDataDir(logger zerolog.Logger, path string) error {
	if err := os.MkdirAll(path, 0o750); err != nil {
		return err
	}
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("path is not a directory: %s", path)
	}

	testFile := filepath.Join(path, ".write_test")
	if err := os.WriteFile(testFile, []byte("ok"), 0o600); err != nil {
		return fmt.Errorf("directory is not writable: %s: %w", path, err)
	}
	_ = os.Remove(testFile)

	logger.Debug().Str("path", path).Msg("data directory is writable")
	return nil
}
