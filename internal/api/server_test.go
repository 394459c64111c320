// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ManuGH/rootcap/internal/audiodriver"
	"github.com/ManuGH/rootcap/internal/config"
	"github.com/ManuGH/rootcap/internal/native"
	"github.com/ManuGH/rootcap/internal/recorder"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRecorder struct {
	startErr error
	stopErr  error
	status   recorder.Status
}

func (f *fakeRecorder) Start(context.Context) (native.Session, error) {
	if f.startErr != nil {
		return native.Session{}, f.startErr
	}
	return native.Session{ID: "s-1", Path: "/storage/emulated/0/Movies/a.mp4", DevicePath: "/data/media/0/Movies/a.mp4"}, nil
}

func (f *fakeRecorder) Stop(context.Context) (native.Session, error) {
	return native.Session{ID: "s-1", Final: true}, f.stopErr
}

func (f *fakeRecorder) Status() recorder.Status { return f.status }

type fakeDriver struct {
	status   audiodriver.Status
	decision audiodriver.Decision
	err      error
}

func (f *fakeDriver) Status() audiodriver.Status             { return f.status }
func (f *fakeDriver) LastError() error                       { return f.err }
func (f *fakeDriver) RequestInstall() audiodriver.Decision   { return f.decision }
func (f *fakeDriver) RequestUninstall() audiodriver.Decision { return f.decision }

func newTestServer(deps Deps) *Server {
	cfg := config.Defaults().API
	cfg.RateLimit = 1000
	cfg.AudioRateLimit = 1000
	return New(cfg, "", deps)
}

func do(t *testing.T, h http.Handler, method, path string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	req.RemoteAddr = "127.0.0.1:5000"
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	var body map[string]any
	if strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	}
	return w, body
}

func TestHealthz(t *testing.T) {
	h := newTestServer(Deps{Version: "1.0.0"}).Handler()
	w, body := do(t, h, http.MethodGet, "/healthz")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "1.0.0", body["version"])
}

func TestStatus_CombinesRecorderAndAudio(t *testing.T) {
	rec := &fakeRecorder{status: recorder.Status{
		State: "ERROR",
		Error: &recorder.ErrorView{Code: 237, Category: "application", Phase: "startup"},
	}}
	drv := &fakeDriver{status: audiodriver.StatusInstallationFailure, err: errors.New("mount failed")}
	h := newTestServer(Deps{Recorder: rec, Driver: drv}).Handler()

	w, body := do(t, h, http.MethodGet, "/api/status")
	require.Equal(t, http.StatusOK, w.Code)

	recBody := body["recorder"].(map[string]any)
	assert.Equal(t, "ERROR", recBody["state"])
	assert.Equal(t, "application", recBody["error"].(map[string]any)["category"])

	audio := body["audio"].(map[string]any)
	assert.Equal(t, "installation_failure", audio["status"])
	assert.Equal(t, "mount failed", audio["lastError"])
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestRecordingStart(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
		wantErr  string
	}{
		{"accepted", nil, http.StatusAccepted, ""},
		{"busy", recorder.ErrBusy, http.StatusConflict, "recording_in_progress"},
		{"not ready", recorder.ErrNotReady, http.StatusServiceUnavailable, "native_unavailable"},
		{"closed", recorder.ErrClosed, http.StatusServiceUnavailable, "shutting_down"},
		{"unexpected", errors.New("boom"), http.StatusInternalServerError, "internal_error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestServer(Deps{Recorder: &fakeRecorder{startErr: tt.err}}).Handler()
			w, body := do(t, h, http.MethodPost, "/api/recording/start")
			assert.Equal(t, tt.wantCode, w.Code)
			if tt.wantErr == "" {
				assert.Equal(t, "s-1", body["sessionId"])
				assert.Equal(t, "/data/media/0/Movies/a.mp4", body["devicePath"])
				return
			}
			assert.Equal(t, tt.wantErr, body["error"])
		})
	}
}

func TestRecordingStop_NotRecording(t *testing.T) {
	h := newTestServer(Deps{Recorder: &fakeRecorder{stopErr: recorder.ErrNotRecording}}).Handler()
	w, body := do(t, h, http.MethodPost, "/api/recording/stop")
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "not_recording", body["error"])
}

func TestAudioRequests_ReturnDecision(t *testing.T) {
	drv := &fakeDriver{status: audiodriver.StatusInstalling, decision: audiodriver.Scheduled}
	h := newTestServer(Deps{Driver: drv}).Handler()

	w, body := do(t, h, http.MethodPost, "/api/audio/uninstall")
	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, "scheduled", body["decision"])
	assert.Equal(t, "installing", body["status"])

	drv.decision = audiodriver.Rejected
	w, body = do(t, h, http.MethodPost, "/api/audio/install")
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "rejected", body["decision"])
}

func TestAudioRequests_HaveTheirOwnRateClass(t *testing.T) {
	cfg := config.Defaults().API
	cfg.RateLimit = 1000
	cfg.AudioRateLimit = 2
	drv := &fakeDriver{status: audiodriver.StatusInstalled, decision: audiodriver.Scheduled}
	h := New(cfg, "", Deps{Driver: drv}).Handler()

	w, _ := do(t, h, http.MethodPost, "/api/audio/install")
	require.Equal(t, http.StatusAccepted, w.Code)
	w, _ = do(t, h, http.MethodPost, "/api/audio/uninstall")
	require.Equal(t, http.StatusAccepted, w.Code)

	w, body := do(t, h, http.MethodPost, "/api/audio/install")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "audio", body["class"])

	w, _ = do(t, h, http.MethodGet, "/api/status")
	assert.Equal(t, http.StatusOK, w.Code, "status polling is not charged to the audio class")
}

func TestMissingCollaboratorsAreUnavailable(t *testing.T) {
	h := newTestServer(Deps{}).Handler()
	for _, path := range []string{"/api/recording/start", "/api/audio/install", "/api/native/commands/logcat"} {
		w, _ := do(t, h, http.MethodPost, path)
		assert.Equal(t, http.StatusServiceUnavailable, w.Code, path)
	}
	w, _ := do(t, h, http.MethodGet, "/api/audio/diagnostics")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

type fakeCommander struct {
	got  []string
	code int
	err  error
}

func (f *fakeCommander) RunCommand(_ context.Context, command string) (recorder.CommandOutcome, error) {
	f.got = append(f.got, command)
	if f.err != nil {
		return recorder.CommandOutcome{Command: command}, f.err
	}
	out := recorder.CommandOutcome{Command: command, Code: f.code, Result: "ok"}
	if command == native.CommandLogcat {
		out.Path = "/data/local/tmp/rootcap/logcat/logcat_1.txt"
	}
	return out, nil
}

func TestNativeCommand(t *testing.T) {
	cmds := &fakeCommander{}
	h := newTestServer(Deps{Commands: cmds}).Handler()

	w, body := do(t, h, http.MethodPost, "/api/native/commands/logcat")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "logcat", body["command"])
	assert.Equal(t, "/data/local/tmp/rootcap/logcat/logcat_1.txt", body["path"])
	assert.Equal(t, []string{"logcat"}, cmds.got)

	cmds.code = native.ResultTimeout
	w, _ = do(t, h, http.MethodPost, "/api/native/commands/mount_audio_master")
	assert.Equal(t, http.StatusGatewayTimeout, w.Code)

	cmds.err = fmt.Errorf("%w: %q", recorder.ErrUnknownCommand, "reboot")
	w, body = do(t, h, http.MethodPost, "/api/native/commands/reboot")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "unknown_command", body["error"])

	cmds.err = recorder.ErrNotReady
	w, body = do(t, h, http.MethodPost, "/api/native/commands/logcat")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "native_unavailable", body["error"])
}

type fakeReadiness struct{ code int }

func (f fakeReadiness) ServeReady(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(f.code)
}

func TestReadyz(t *testing.T) {
	h := newTestServer(Deps{Readiness: fakeReadiness{code: http.StatusServiceUnavailable}}).Handler()
	w, _ := do(t, h, http.MethodGet, "/readyz")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	h = newTestServer(Deps{}).Handler()
	w, _ = do(t, h, http.MethodGet, "/readyz")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	h := newTestServer(Deps{}).Handler()
	do(t, h, http.MethodGet, "/healthz")

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "rootcap_http_request_duration_seconds")
}

func TestUnknownRoute(t *testing.T) {
	h := newTestServer(Deps{}).Handler()
	w, body := do(t, h, http.MethodGet, "/nope")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "not_found", body["error"])
}

func TestServe_ShutsDownOnCancel(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	srv := newTestServer(Deps{})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + ln.Addr().String() + "/healthz")
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
