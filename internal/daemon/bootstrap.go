// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package daemon

import (
	"context"
	"fmt"

	"github.com/ManuGH/rootcap/internal/api"
	"github.com/ManuGH/rootcap/internal/audiodriver"
	"github.com/ManuGH/rootcap/internal/bus"
	"github.com/ManuGH/rootcap/internal/config"
	"github.com/ManuGH/rootcap/internal/health"
	xglog "github.com/ManuGH/rootcap/internal/log"
	"github.com/ManuGH/rootcap/internal/osproc"
	"github.com/ManuGH/rootcap/internal/recorder"
	"github.com/ManuGH/rootcap/internal/shell"
	"github.com/ManuGH/rootcap/internal/stability"
	"github.com/ManuGH/rootcap/internal/telemetry"
	"github.com/ManuGH/rootcap/internal/version"
)

// App is the wired daemon.
type App struct {
	Manager   Manager
	Recorder  *recorder.Controller
	Driver    *audiodriver.Driver
	Installer *audiodriver.Installer
}

// NewInstaller builds the audio installer from configuration. The one-shot
// CLI commands use it without the rest of the daemon.
func NewInstaller(cfg config.AppConfig, runner shell.Runner, mounts audiodriver.MountReader) *audiodriver.Installer {
	return audiodriver.NewInstaller(audiodriver.Config{
		BinaryPath:         cfg.Native.BinaryPath,
		SuPath:             cfg.Native.SuPath,
		StagingDir:         cfg.Audio.StagingDir,
		LiveHALDir:         cfg.Audio.LiveHALDir,
		SystemPolicyConfig: cfg.Audio.SystemPolicyConfig,
		VendorPolicyConfig: cfg.Audio.VendorPolicyConfig,
		ShimModule:         cfg.Audio.ShimModule,
		Timeout:            cfg.Audio.Timeout,
	}, runner, mounts)
}

// Bootstrap wires every component against the real system and registers
// their shutdown hooks. Nothing is spawned until Start or the first request.
func Bootstrap(ctx context.Context, holder *config.Holder) (*App, error) {
	cfg := holder.Get()
	logger := xglog.WithComponent("daemon")

	procs, err := osproc.New("")
	if err != nil {
		return nil, fmt.Errorf("open process table: %w", err)
	}
	runner := shell.NewExecutor()

	tp, err := telemetry.NewProvider(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: cfg.Version,
		Commit:         version.Commit,
		NativeBinary:   cfg.Native.BinaryPath,
		ExporterType:   cfg.Telemetry.Exporter,
		Endpoint:       cfg.Telemetry.Endpoint,
		SamplingRate:   cfg.Telemetry.SamplingRate,
	})
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}

	rec := recorder.New(holder, recorder.Deps{
		Shell:     runner,
		Processes: procs,
	})

	installer := NewInstaller(cfg, runner, procs)
	monitor := stability.New(procs, stability.Config{
		Names:        cfg.Audio.ServerNames,
		Window:       cfg.Audio.StabilityWindow,
		MaxRestarts:  cfg.Audio.MaxRestarts,
		PollInterval: cfg.Audio.StabilityPoll,
	})
	driverEvents := bus.New[audiodriver.StatusChange]("audiodriver", 0)
	driverEvents.Subscribe(func(ch audiodriver.StatusChange) {
		logger.Info().
			Str(xglog.FieldOldState, ch.Old.String()).
			Str(xglog.FieldNewState, ch.New.String()).
			Msg("audio driver status changed")
	})
	driver := audiodriver.NewDriver(installer, monitor, driverEvents)

	readiness := newReadiness(cfg, rec, driver)

	deps := Deps{
		Logger: logger,
		Config: holder,
	}
	if cfg.API.Enabled {
		tracing := ""
		if cfg.Telemetry.Enabled {
			tracing = cfg.Telemetry.ServiceName
		}
		deps.API = api.New(cfg.API, tracing, api.Deps{
			Recorder:  rec,
			Driver:    driver,
			Diagnoser: installer,
			Readiness: readiness,
			Commands:  rec,
			Version:   cfg.Version,
		})
	}

	mgr, err := NewManager(deps)
	if err != nil {
		return nil, err
	}

	// LIFO: the recorder goes first so the capture process is gone before
	// telemetry stops exporting.
	mgr.RegisterShutdownHook("telemetry", tp.Shutdown)
	mgr.RegisterShutdownHook("audio-events", func(context.Context) error {
		driverEvents.Close()
		return nil
	})
	mgr.RegisterShutdownHook("audio-driver", func(context.Context) error {
		driver.Close()
		return nil
	})
	mgr.RegisterShutdownHook("config-watcher", func(context.Context) error {
		holder.Stop()
		return nil
	})
	mgr.RegisterShutdownHook("recorder", rec.Shutdown)

	driver.Check()

	return &App{
		Manager:   mgr,
		Recorder:  rec,
		Driver:    driver,
		Installer: installer,
	}, nil
}

func newReadiness(cfg config.AppConfig, rec *recorder.Controller, driver *audiodriver.Driver) *health.Manager {
	m := health.NewManager(cfg.Version)
	m.RegisterChecker(health.NewFileChecker("native_binary", cfg.Native.BinaryPath))
	m.RegisterChecker(health.NewCheckFunc("recorder", func(context.Context) health.CheckResult {
		st := rec.Status()
		if st.ExecBlocked {
			return health.CheckResult{Status: health.StatusUnhealthy, Message: st.State, Error: "native binary cannot be executed"}
		}
		if st.Error != nil {
			return health.CheckResult{Status: health.StatusDegraded, Message: st.State, Error: st.Error.Category}
		}
		return health.CheckResult{Status: health.StatusHealthy, Message: st.State}
	}))
	m.RegisterChecker(health.NewCheckFunc("audio_driver", func(context.Context) health.CheckResult {
		res := health.CheckResult{Status: health.StatusHealthy, Message: driver.Status().String()}
		switch driver.Status() {
		case audiodriver.StatusInstallationFailure, audiodriver.StatusUnstable, audiodriver.StatusUnspecified:
			res.Status = health.StatusDegraded
			if err := driver.LastError(); err != nil {
				res.Error = err.Error()
			}
		}
		return res
	}))
	return m
}
