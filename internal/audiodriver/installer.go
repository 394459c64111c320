// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package audiodriver installs and removes the audio HAL shim. The live HAL
// directory is never written directly: a staging copy is prepared, patched
// and bind-mounted over it by the native binary running as root.
package audiodriver

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ManuGH/rootcap/internal/log"
	"github.com/ManuGH/rootcap/internal/metrics"
	"github.com/ManuGH/rootcap/internal/osproc"
	"github.com/ManuGH/rootcap/internal/shell"
	"github.com/ManuGH/rootcap/internal/telemetry"
	"github.com/google/renameio/v2"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/codes"
)

// Staging layout.
const (
	MarkerCopied  = "rootcap_copied"
	MarkerMounted = "rootcap_mounted"
	ShimFileName  = "rootcap_audio_shim.so"

	primaryPrefix         = "audio.primary."
	originalPrimaryPrefix = "audio.original_primary."
	originalConfigPrefix  = "original_"
	shimConfigPrefix      = "shim_"
)

// Installer stages.
const (
	StageInitialize = "initialize"
	StageSwitch     = "switch"
	StageMount      = "mount"
	StageValidate   = "validate"
	StageUnmount    = "unmount"
	StageRestore    = "restore"
)

var (
	ErrNotInstalled   = errors.New("audiodriver: not installed")
	ErrAlreadyMounted = errors.New("audiodriver: live directory already carries the shim")
	ErrNotReady       = errors.New("audiodriver: installer did not report ready")
	ErrValidation     = errors.New("audiodriver: validation failed")
)

// InstallError wraps the failure of one stage.
type InstallError struct {
	Stage string
	Err   error
}

func (e *InstallError) Error() string {
	return fmt.Sprintf("audio driver %s: %v", e.Stage, e.Err)
}

func (e *InstallError) Unwrap() error { return e.Err }

// MountReader reads the mount table of a process.
type MountReader interface {
	Mounts(pid int) ([]osproc.Mount, error)
}

// Config for an Installer.
type Config struct {
	BinaryPath string
	SuPath     string
	StagingDir string
	LiveHALDir string
	// Policy configs. The vendor one is preferred when present.
	SystemPolicyConfig string
	VendorPolicyConfig string
	// ShimModule is the bundled shim shared object.
	ShimModule string
	Timeout    time.Duration
}

// Installer performs the privileged install and uninstall sequences. It is
// not safe for concurrent use; the Driver serialises operations.
type Installer struct {
	cfg    Config
	shell  shell.Runner
	mounts MountReader
	logger zerolog.Logger
}

// NewInstaller creates an Installer. mounts may be nil, which skips the
// global mount check.
func NewInstaller(cfg Config, runner shell.Runner, mounts MountReader) *Installer {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Installer{
		cfg:    cfg,
		shell:  runner,
		mounts: mounts,
		logger: log.WithComponent("audiodriver"),
	}
}

func (i *Installer) policyConfig() string {
	if i.cfg.VendorPolicyConfig != "" && exists(i.cfg.VendorPolicyConfig) {
		return i.cfg.VendorPolicyConfig
	}
	return i.cfg.SystemPolicyConfig
}

func (i *Installer) staged(name string) string {
	return filepath.Join(i.cfg.StagingDir, name)
}

func (i *Installer) liveMarker() string {
	return filepath.Join(i.cfg.LiveHALDir, MarkerMounted)
}

// Mounted reports whether the live HAL directory shows the staging copy.
func (i *Installer) Mounted() bool {
	return exists(i.liveMarker())
}

// installed: shim mounted, the staged shim matches the bundled one and the
// live policy config is the shim one.
func (i *Installer) installed() bool {
	if !i.Mounted() || !i.shimCurrent() {
		return false
	}
	cfg := i.policyConfig()
	return cfg == "" || sameContent(cfg, i.staged(shimConfigPrefix+filepath.Base(cfg)))
}

func (i *Installer) shimCurrent() bool {
	return sameContent(i.cfg.ShimModule, i.staged(ShimFileName))
}

// Check inspects the filesystem and reports the current status.
func (i *Installer) Check(_ context.Context) (Status, error) {
	if !i.Mounted() {
		return StatusNotInstalled, nil
	}
	if _, err := os.Stat(i.cfg.ShimModule); err != nil {
		return StatusUnspecified, fmt.Errorf("bundled shim: %w", err)
	}
	if !i.shimCurrent() {
		return StatusOutdated, nil
	}
	return StatusInstalled, nil
}

// Install stages the shim, mounts it and validates the result. Calling it
// on an installed system does nothing.
func (i *Installer) Install(ctx context.Context) (err error) {
	ctx, span := telemetry.Tracer("rootcap.audiodriver").Start(ctx, "audiodriver.install")
	span.SetAttributes(telemetry.DriverAttributes("install", i.cfg.StagingDir)...)
	start := time.Now()
	defer func() {
		result := "ok"
		if err != nil {
			result = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		metrics.ObserveDriverOperation("install", result, time.Since(start))
		span.End()
	}()
	logger := log.WithContext(ctx, i.logger)

	if i.installed() {
		logger.Info().Msg("audio shim already installed")
		return nil
	}

	copied := exists(i.staged(MarkerCopied))
	if copied && i.Mounted() {
		// outdated shim or policy config: unmount before restaging
		logger.Info().Str(log.FieldPath, i.cfg.LiveHALDir).Msg("remounting outdated audio shim")
		if err := i.unmount(ctx); err != nil {
			return i.fail(ctx, StageUnmount, err)
		}
		if i.Mounted() {
			return i.fail(ctx, StageUnmount, fmt.Errorf("%w: %s still present", ErrValidation, i.liveMarker()))
		}
	}

	if !copied {
		if err := i.initialize(ctx); err != nil {
			return i.fail(ctx, StageInitialize, err)
		}
	} else {
		logger.Debug().Str(log.FieldPath, i.cfg.StagingDir).Msg("staging already initialised")
		if err := i.refreshShim(ctx); err != nil {
			return i.fail(ctx, StageSwitch, err)
		}
	}
	if err := i.switchToShim(); err != nil {
		return i.fail(ctx, StageSwitch, err)
	}
	if err := i.mount(ctx); err != nil {
		return i.fail(ctx, StageMount, err)
	}
	if err := i.validateMounted(); err != nil {
		return i.fail(ctx, StageValidate, err)
	}
	logger.Info().Str(log.FieldPath, i.cfg.LiveHALDir).Msg("audio shim installed")
	return nil
}

// Uninstall unmounts the shim and restores the original modules and policy
// config in staging. Every stage runs even when an earlier one failed; the
// first failure is returned.
func (i *Installer) Uninstall(ctx context.Context) (err error) {
	ctx, span := telemetry.Tracer("rootcap.audiodriver").Start(ctx, "audiodriver.uninstall")
	span.SetAttributes(telemetry.DriverAttributes("uninstall", i.cfg.StagingDir)...)
	start := time.Now()
	defer func() {
		result := "ok"
		if err != nil {
			result = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		metrics.ObserveDriverOperation("uninstall", result, time.Since(start))
		span.End()
	}()
	logger := log.WithContext(ctx, i.logger)

	if !exists(i.staged(MarkerCopied)) && !i.Mounted() {
		logger.Info().Msg("audio shim was never installed")
		return ErrNotInstalled
	}
	if !i.Mounted() {
		// A failed install can leave staging switched; put the originals back.
		if err := i.restore(); err != nil {
			return i.fail(ctx, StageRestore, err)
		}
		logger.Info().Msg("audio shim already uninstalled")
		return nil
	}

	var first error
	note := func(stage string, err error) {
		if err == nil {
			return
		}
		failed := i.fail(ctx, stage, err)
		if first == nil {
			first = failed
		}
	}
	note(StageUnmount, i.unmount(ctx))
	if i.Mounted() {
		note(StageValidate, fmt.Errorf("%w: %s still present", ErrValidation, i.liveMarker()))
	}
	note(StageRestore, i.restore())
	if first == nil {
		logger.Info().Str(log.FieldPath, i.cfg.LiveHALDir).Msg("audio shim uninstalled")
	}
	return first
}

func (i *Installer) fail(ctx context.Context, stage string, err error) error {
	i.dumpDiagnostics(ctx, stage, err)
	return &InstallError{Stage: stage, Err: err}
}

func (i *Installer) initialize(ctx context.Context) error {
	logger := log.WithContext(ctx, i.logger)
	if i.Mounted() {
		return ErrAlreadyMounted
	}
	staging := i.cfg.StagingDir
	if err := os.RemoveAll(staging); err != nil {
		return fmt.Errorf("wipe staging: %w", err)
	}
	if err := os.MkdirAll(staging, dirPerm); err != nil {
		return fmt.Errorf("create staging: %w", err)
	}
	if err := copyTree(i.cfg.LiveHALDir, staging); err != nil {
		return fmt.Errorf("copy %s: %w", i.cfg.LiveHALDir, err)
	}

	cfg := i.policyConfig()
	var original []byte
	if cfg != "" {
		data, err := os.ReadFile(cfg) // #nosec G304 -- configured system path
		if err != nil {
			return fmt.Errorf("read policy config: %w", err)
		}
		original = data
		base := filepath.Base(cfg)
		if err := renameio.WriteFile(i.staged(originalConfigPrefix+base), data, filePerm); err != nil {
			return fmt.Errorf("back up policy config: %w", err)
		}
	}

	primaries, err := matchModules(staging, primaryPrefix)
	if err != nil {
		return err
	}
	if len(primaries) == 0 {
		return fmt.Errorf("no %s*.so module in %s", primaryPrefix, i.cfg.LiveHALDir)
	}
	for _, name := range primaries {
		dst := originalPrimaryPrefix + strings.TrimPrefix(name, primaryPrefix)
		if err := os.Rename(i.staged(name), i.staged(dst)); err != nil {
			return fmt.Errorf("back up %s: %w", name, err)
		}
	}

	if err := renameio.WriteFile(i.staged(MarkerCopied), []byte(time.Now().UTC().Format(time.RFC3339)+"\n"), filePerm); err != nil {
		return fmt.Errorf("write copied marker: %w", err)
	}
	if err := copyFile(i.cfg.ShimModule, i.staged(ShimFileName)); err != nil {
		return fmt.Errorf("extract shim: %w", err)
	}
	if cfg != "" {
		base := filepath.Base(cfg)
		if err := renameio.WriteFile(i.staged(shimConfigPrefix+base), PatchPolicyConfig(original), filePerm); err != nil {
			return fmt.Errorf("write shim policy config: %w", err)
		}
	}
	if err := fixPermissions(staging); err != nil {
		return fmt.Errorf("fix permissions: %w", err)
	}
	logger.Info().Str(log.FieldPath, staging).Strs("primary", primaries).Msg("staging initialised")
	return nil
}

func (i *Installer) switchToShim() error {
	current, err := matchModules(i.cfg.StagingDir, primaryPrefix)
	if err != nil {
		return err
	}
	for _, name := range current {
		if err := os.Remove(i.staged(name)); err != nil {
			return fmt.Errorf("remove %s: %w", name, err)
		}
	}
	originals, err := matchModules(i.cfg.StagingDir, originalPrimaryPrefix)
	if err != nil {
		return err
	}
	for _, name := range originals {
		primary := primaryPrefix + strings.TrimPrefix(name, originalPrimaryPrefix)
		if err := copyFile(i.staged(ShimFileName), i.staged(primary)); err != nil {
			return err
		}
	}
	if cfg := i.policyConfig(); cfg != "" {
		base := filepath.Base(cfg)
		if err := copyFile(i.staged(shimConfigPrefix+base), i.staged(base)); err != nil {
			return err
		}
	}
	return renameio.WriteFile(i.staged(MarkerMounted), nil, filePerm)
}

// refreshShim re-extracts the bundled shim into staging when it changed.
func (i *Installer) refreshShim(ctx context.Context) error {
	if i.shimCurrent() {
		return nil
	}
	if err := copyFile(i.cfg.ShimModule, i.staged(ShimFileName)); err != nil {
		return fmt.Errorf("extract shim: %w", err)
	}
	logger := log.WithContext(ctx, i.logger)
	logger.Info().Str(log.FieldPath, i.cfg.ShimModule).Msg("staged shim updated")
	return nil
}

func (i *Installer) restore() error {
	current, err := matchModules(i.cfg.StagingDir, primaryPrefix)
	if err != nil {
		return err
	}
	for _, name := range current {
		if err := os.Remove(i.staged(name)); err != nil {
			return fmt.Errorf("remove %s: %w", name, err)
		}
	}
	originals, err := matchModules(i.cfg.StagingDir, originalPrimaryPrefix)
	if err != nil {
		return err
	}
	for _, name := range originals {
		primary := primaryPrefix + strings.TrimPrefix(name, originalPrimaryPrefix)
		if err := copyFile(i.staged(name), i.staged(primary)); err != nil {
			return err
		}
	}
	if cfg := i.policyConfig(); cfg != "" {
		base := filepath.Base(cfg)
		if err := copyFile(i.staged(originalConfigPrefix+base), i.staged(base)); err != nil {
			return err
		}
	}
	// The staged marker is what the bind mount exposes; keep it while mounted.
	if !i.Mounted() {
		if err := os.Remove(i.staged(MarkerMounted)); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("remove %s: %w", MarkerMounted, err)
		}
	}
	return nil
}

// mount runs the installer sub-mode. The mount-master form is tried first
// because only it makes the mount visible outside the su namespace.
func (i *Installer) mount(ctx context.Context) error {
	stdin := []byte(fmt.Sprintf("%s\n%s\n", "mount_audio", i.cfg.StagingDir))
	res, err := i.runInstaller(ctx, true, stdin)
	if err != nil {
		return err
	}
	if !reportsReady(res.Stdout) {
		i.logger.Warn().Int(log.FieldExitCode, res.ExitCode).Str("stderr", res.Stderr).
			Msg("mount-master did not report ready, retrying with plain su")
		if res, err = i.runInstaller(ctx, false, stdin); err != nil {
			return err
		}
	}
	if !res.Completed {
		return fmt.Errorf("%w: timed out after %s", ErrNotReady, i.cfg.Timeout)
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("%w: exit code %d: %s", ErrNotReady, res.ExitCode, strings.TrimSpace(res.Stderr))
	}
	return nil
}

func (i *Installer) unmount(ctx context.Context) error {
	stdin := []byte("unmount_audio\n")
	res, err := i.runInstaller(ctx, true, stdin)
	if err != nil {
		return err
	}
	if !res.Success() {
		i.logger.Warn().Int(log.FieldExitCode, res.ExitCode).Msg("mount-master unmount failed, retrying with plain su")
		if res, err = i.runInstaller(ctx, false, stdin); err != nil {
			return err
		}
	}
	if !res.Success() {
		return fmt.Errorf("unmount exit code %d: %s", res.ExitCode, strings.TrimSpace(res.Stderr))
	}
	return nil
}

func (i *Installer) runInstaller(ctx context.Context, mountMaster bool, stdin []byte) (shell.Result, error) {
	argv := shell.Su(i.cfg.SuPath, mountMaster, i.cfg.BinaryPath)
	res, err := i.shell.Run(ctx, shell.Command{Argv: argv, Stdin: stdin, Timeout: i.cfg.Timeout})
	if err != nil {
		return res, fmt.Errorf("run installer: %w", err)
	}
	i.logger.Debug().Strs("argv", argv).Int(log.FieldExitCode, res.ExitCode).Bool("completed", res.Completed).
		Str("stdout", res.Stdout).Msg("installer finished")
	return res, nil
}

func reportsReady(stdout string) bool {
	for _, line := range strings.Split(stdout, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "ready") {
			return true
		}
	}
	return false
}

func (i *Installer) validateMounted() error {
	if !i.Mounted() {
		return fmt.Errorf("%w: %s missing", ErrValidation, i.liveMarker())
	}
	if i.mounts == nil {
		return nil
	}
	mounts, err := i.mounts.Mounts(1)
	if err != nil {
		// init's mount table is not readable everywhere; the marker is enough then
		i.logger.Debug().Err(err).Msg("skipping global mount check")
		return nil
	}
	if !osproc.IsMountPoint(mounts, i.cfg.LiveHALDir) {
		return fmt.Errorf("%w: %s not in the global mount table", ErrValidation, i.cfg.LiveHALDir)
	}
	return nil
}
