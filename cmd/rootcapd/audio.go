// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"

	"github.com/ManuGH/rootcap/internal/audiodriver"
	"github.com/ManuGH/rootcap/internal/config"
	"github.com/ManuGH/rootcap/internal/daemon"
	xglog "github.com/ManuGH/rootcap/internal/log"
	"github.com/ManuGH/rootcap/internal/osproc"
	"github.com/ManuGH/rootcap/internal/shell"
)

type audioResult struct {
	Command     string                   `json:"command"`
	Status      string                   `json:"status"`
	Error       string                   `json:"error,omitempty"`
	Stage       string                   `json:"stage,omitempty"`
	Diagnostics *audiodriver.Diagnostics `json:"diagnostics,omitempty"`
}

// audioCommand runs one installer operation synchronously and prints the
// outcome as JSON on stdout.
func audioCommand(ctx context.Context, cmd string, cfg config.AppConfig, stdout io.Writer) int {
	logger := xglog.WithComponent("main")

	procs, err := osproc.New("")
	if err != nil {
		logger.Error().Err(err).Msg("failed to open process table")
		return 1
	}
	inst := daemon.NewInstaller(cfg, shell.NewExecutor(), procs)

	res := audioResult{Command: cmd}
	var opErr error
	switch cmd {
	case "install-audio":
		opErr = inst.Install(ctx)
	case "uninstall-audio":
		opErr = inst.Uninstall(ctx)
	}

	status, err := inst.Check(ctx)
	if err != nil && opErr == nil {
		opErr = err
	}
	res.Status = status.String()

	if opErr != nil {
		res.Error = opErr.Error()
		var ie *audiodriver.InstallError
		if errors.As(opErr, &ie) {
			res.Stage = ie.Stage
		}
		d := inst.Diagnose()
		res.Diagnostics = &d
	}

	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(res); err != nil {
		logger.Error().Err(err).Msg("failed to write result")
		return 1
	}
	if opErr != nil {
		return 1
	}
	return 0
}
