// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Command rootcapd supervises the privileged capture engine and manages the
// audio HAL shim.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/ManuGH/rootcap/internal/config"
	"github.com/ManuGH/rootcap/internal/daemon"
	"github.com/ManuGH/rootcap/internal/health"
	xglog "github.com/ManuGH/rootcap/internal/log"
	"github.com/ManuGH/rootcap/internal/version"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("rootcapd", flag.ContinueOnError)
	fs.SetOutput(stderr)
	showVersion := fs.Bool("version", false, "print version and exit")
	configPath := fs.String("config", "", "path to config file (YAML)")
	fs.Usage = func() {
		fmt.Fprintf(stderr, "usage: rootcapd [flags] [serve|install-audio|uninstall-audio|check-audio]\n")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return 2
	}

	if *showVersion {
		fmt.Fprintln(stdout, version.String())
		return 0
	}

	// Configure logger with safe defaults until config is loaded
	xglog.Configure(xglog.Config{
		Level:   "info",
		Service: "rootcapd",
		Version: version.Version,
	})
	logger := xglog.WithComponent("main")

	loader := config.NewLoader(*configPath, version.Version)
	cfg, err := loader.Load()
	if err != nil {
		logger.Error().
			Err(err).
			Str("event", "config.load_failed").
			Str("config_path", *configPath).
			Msg("failed to load configuration")
		return 1
	}
	xglog.Reconfigure(xglog.Config{
		Level:   cfg.LogLevel,
		Service: cfg.LogService,
		Version: cfg.Version,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cmd := "serve"
	if fs.NArg() > 0 {
		cmd = fs.Arg(0)
	}

	switch cmd {
	case "serve":
		return serve(ctx, config.NewHolder(cfg, loader))
	case "install-audio", "uninstall-audio", "check-audio":
		return audioCommand(ctx, cmd, cfg, stdout)
	default:
		fmt.Fprintf(stderr, "unknown command %q\n", cmd)
		fs.Usage()
		return 2
	}
}

func serve(ctx context.Context, holder *config.Holder) int {
	logger := xglog.WithComponent("main")

	if err := health.PerformStartupChecks(ctx, holder.Get()); err != nil {
		logger.Error().Err(err).Msg("startup checks failed")
		return 1
	}
	app, err := daemon.Bootstrap(ctx, holder)
	if err != nil {
		logger.Error().Err(err).Msg("failed to start daemon")
		return 1
	}
	if err := app.Manager.Start(ctx); err != nil {
		logger.Error().Err(err).Msg("daemon exited with error")
		return 1
	}
	return 0
}
