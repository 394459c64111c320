// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/ManuGH/rootcap/internal/audiodriver"
	"github.com/ManuGH/rootcap/internal/log"
	"github.com/ManuGH/rootcap/internal/native"
	"github.com/ManuGH/rootcap/internal/recorder"
	"github.com/go-chi/chi/v5"
)

type healthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version,omitempty"`
	Uptime  string `json:"uptime"`
}

type audioStatus struct {
	Status    string `json:"status"`
	LastError string `json:"lastError,omitempty"`
}

type statusResponse struct {
	Recorder *recorder.Status `json:"recorder,omitempty"`
	Audio    *audioStatus     `json:"audio,omitempty"`
}

type decisionResponse struct {
	Decision string `json:"decision"`
	Status   string `json:"status"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:  "ok",
		Version: s.deps.Version,
		Uptime:  time.Since(s.started).Truncate(time.Second).String(),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	var resp statusResponse
	if s.deps.Recorder != nil {
		st := s.deps.Recorder.Status()
		resp.Recorder = &st
	}
	if s.deps.Driver != nil {
		resp.Audio = s.audioStatus()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) audioStatus() *audioStatus {
	st := &audioStatus{Status: s.deps.Driver.Status().String()}
	if err := s.deps.Driver.LastError(); err != nil {
		st.LastError = err.Error()
	}
	return st
}

func (s *Server) handleRecordingStart(w http.ResponseWriter, r *http.Request) {
	if s.deps.Recorder == nil {
		writeProblem(w, http.StatusServiceUnavailable, "recorder_unavailable", nil)
		return
	}
	sess, err := s.deps.Recorder.Start(r.Context())
	if err != nil {
		s.recordingError(w, r, "start", err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"sessionId":  sess.ID,
		"path":       sess.Path,
		"devicePath": sess.DevicePath,
	})
}

func (s *Server) handleRecordingStop(w http.ResponseWriter, r *http.Request) {
	if s.deps.Recorder == nil {
		writeProblem(w, http.StatusServiceUnavailable, "recorder_unavailable", nil)
		return
	}
	if _, err := s.deps.Recorder.Stop(r.Context()); err != nil {
		s.recordingError(w, r, "stop", err)
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Recorder.Status())
}

func (s *Server) recordingError(w http.ResponseWriter, r *http.Request, op string, err error) {
	logger := log.WithContext(r.Context(), s.logger)
	switch {
	case errors.Is(err, recorder.ErrBusy):
		writeProblem(w, http.StatusConflict, "recording_in_progress", err)
	case errors.Is(err, recorder.ErrNotRecording):
		writeProblem(w, http.StatusConflict, "not_recording", err)
	case errors.Is(err, recorder.ErrClosed):
		writeProblem(w, http.StatusServiceUnavailable, "shutting_down", err)
	case errors.Is(err, recorder.ErrNotReady), errors.Is(err, recorder.ErrStartRejected):
		logger.Warn().Err(err).Str("op", op).Msg("recording request failed")
		writeProblem(w, http.StatusServiceUnavailable, "native_unavailable", err)
	default:
		logger.Error().Err(err).Str("op", op).Msg("recording request failed")
		writeProblem(w, http.StatusInternalServerError, "internal_error", err)
	}
}

func (s *Server) handleAudioInstall(w http.ResponseWriter, _ *http.Request) {
	s.audioRequest(w, AudioDriver.RequestInstall)
}

func (s *Server) handleAudioUninstall(w http.ResponseWriter, _ *http.Request) {
	s.audioRequest(w, AudioDriver.RequestUninstall)
}

func (s *Server) audioRequest(w http.ResponseWriter, fn func(AudioDriver) audiodriver.Decision) {
	if s.deps.Driver == nil {
		writeProblem(w, http.StatusServiceUnavailable, "audio_unavailable", nil)
		return
	}
	d := fn(s.deps.Driver)
	code := http.StatusAccepted
	if d == audiodriver.Rejected {
		code = http.StatusConflict
	}
	writeJSON(w, code, decisionResponse{Decision: d.String(), Status: s.deps.Driver.Status().String()})
}

func (s *Server) handleAudioDiagnostics(w http.ResponseWriter, _ *http.Request) {
	if s.deps.Diagnoser == nil {
		writeProblem(w, http.StatusServiceUnavailable, "audio_unavailable", nil)
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Diagnoser.Diagnose())
}

func (s *Server) handleNativeCommand(w http.ResponseWriter, r *http.Request) {
	if s.deps.Commands == nil {
		writeProblem(w, http.StatusServiceUnavailable, "recorder_unavailable", nil)
		return
	}
	out, err := s.deps.Commands.RunCommand(r.Context(), chi.URLParam(r, "command"))
	switch {
	case errors.Is(err, recorder.ErrUnknownCommand):
		writeProblem(w, http.StatusNotFound, "unknown_command", err)
	case err != nil:
		s.recordingError(w, r, "command", err)
	case out.Code == native.ResultTimeout:
		writeJSON(w, http.StatusGatewayTimeout, out)
	default:
		writeJSON(w, http.StatusOK, out)
	}
}
