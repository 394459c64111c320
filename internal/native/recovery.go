// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package native

import (
	"context"
	"errors"
	"syscall"
	"time"

	"github.com/ManuGH/rootcap/internal/log"
	"github.com/ManuGH/rootcap/internal/metrics"
	"github.com/ManuGH/rootcap/internal/osproc"
)

const sigKill = 9

// recoverMediaService kills the crashed media service so the platform
// restarts it, then lets the camera overlay reconnect.
func (s *Supervisor) recoverMediaService() {
	defer s.wg.Done()

	if s.overlay != nil {
		s.overlay.ReleaseCamera()
	}
	outcome := s.killMediaService(s.ctx)
	metrics.IncMediaServiceRecovery(outcome)
	if outcome == "cancelled" {
		return
	}
	if s.overlay != nil {
		s.overlay.ReconnectCamera()
	}
}

func (s *Supervisor) killMediaService(ctx context.Context) string {
	if s.procs == nil {
		s.logger.Warn().Msg("no process capability, skipping media service recovery")
		return "unsupported"
	}
	pid, err := s.procs.FindByName(s.cfg.MediaServiceNames...)
	if err != nil {
		if errors.Is(err, osproc.ErrNotFound) {
			s.logger.Info().Strs("names", s.cfg.MediaServiceNames).Msg("media service not running")
			return "not_found"
		}
		s.logger.Warn().Err(err).Msg("failed to look up media service")
		return "lookup_failed"
	}

	logger := s.logger.With().Int(log.FieldPID, pid).Logger()
	if code := s.commands.KillSignal(ctx, pid, sigKill, s.cfg.CommandTimeout); code != 0 {
		logger.Warn().Int("result", code).Msg("native kill failed, signalling directly")
		if err := s.procs.Signal(pid, syscall.SIGKILL); err != nil {
			logger.Warn().Err(err).Msg("direct kill of media service failed")
		}
	}

	deadline := time.NewTimer(s.cfg.KillWait)
	defer deadline.Stop()
	tick := time.NewTicker(s.cfg.PollInterval)
	defer tick.Stop()
	for s.procs.Alive(pid) {
		select {
		case <-tick.C:
		case <-deadline.C:
			logger.Warn().Dur("wait", s.cfg.KillWait).Msg("media service still alive after kill")
			return "timeout"
		case <-ctx.Done():
			return "cancelled"
		}
	}
	logger.Info().Msg("media service killed")
	return "killed"
}
