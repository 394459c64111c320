// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package audiodriver

import (
	"context"
	"fmt"

	"github.com/ManuGH/rootcap/internal/log"
	"github.com/ManuGH/rootcap/internal/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Diagnostics is a snapshot of everything needed to debug a failed stage.
type Diagnostics struct {
	Staging []string `json:"staging"`
	Live    []string `json:"live"`
	Mounts  []string `json:"mounts"`
	Mounted bool     `json:"mounted"`
}

// Diagnose collects directory listings and the global mount table.
func (i *Installer) Diagnose() Diagnostics {
	d := Diagnostics{
		Staging: listTree(i.cfg.StagingDir),
		Live:    listTree(i.cfg.LiveHALDir),
		Mounted: i.Mounted(),
	}
	if i.mounts == nil {
		return d
	}
	mounts, err := i.mounts.Mounts(1)
	if err != nil {
		d.Mounts = []string{"unreadable: " + err.Error()}
		return d
	}
	for _, m := range mounts {
		d.Mounts = append(d.Mounts, fmt.Sprintf("%s %s %s %s", m.Source, m.Root, m.MountPoint, m.FSType))
	}
	return d
}

func (i *Installer) dumpDiagnostics(ctx context.Context, stage string, err error) {
	d := i.Diagnose()
	trace.SpanFromContext(ctx).AddEvent("stage failed", trace.WithAttributes(
		attribute.String(telemetry.DriverStageKey, stage),
		attribute.String("error.message", err.Error()),
	))
	logger := log.WithContext(ctx, i.logger)
	logger.Error().
		Err(err).
		Str(log.FieldStage, stage).
		Strs("staging", d.Staging).
		Strs("live", d.Live).
		Strs("mounts", d.Mounts).
		Bool("mounted", d.Mounted).
		Msg("audio driver stage failed")
}
