// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package native

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ManuGH/rootcap/internal/shell"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

type fakeWriter struct {
	lines chan string
	err   error
}

func newFakeWriter() *fakeWriter {
	return &fakeWriter{lines: make(chan string, 16)}
}

func (w *fakeWriter) writeLine(l string) error {
	if w.err != nil {
		return w.err
	}
	w.lines <- l
	return nil
}

func (w *fakeWriter) next(t *testing.T) string {
	t.Helper()
	select {
	case l := <-w.lines:
		return l
	case <-time.After(testWait):
		t.Fatal("no command written")
		return ""
	}
}

func TestCommandChannel_MatchingResult(t *testing.T) {
	defer goleak.VerifyNone(t)
	w := newFakeWriter()
	c := newCommandChannel(w, FallbackConfig{}, zerolog.Nop())

	got := make(chan int, 1)
	go func() { got <- c.MountAudio(context.Background(), "/data/local/stage", time.Second) }()

	assert.Equal(t, "mount_audio 1 /data/local/stage", w.next(t))
	req, ok := c.Pending()
	require.True(t, ok)
	assert.Equal(t, 1, req.ID)
	assert.Equal(t, CommandMountAudio, req.Command)

	c.NotifyResult(1, 0)
	assert.Equal(t, 0, <-got)
	_, ok = c.Pending()
	assert.False(t, ok)
}

func TestCommandChannel_StaleResultAfterTimeout(t *testing.T) {
	defer goleak.VerifyNone(t)
	w := newFakeWriter()
	c := newCommandChannel(w, FallbackConfig{}, zerolog.Nop())
	ctx := context.Background()

	for want := 1; want <= 3; want++ {
		assert.Equal(t, ResultTimeout, c.RunAsync(ctx, CommandKill, "10 9", 10*time.Millisecond))
		assert.Equal(t, formatCommand(CommandKill, want, "10 9"), w.next(t))
	}

	got := make(chan int, 1)
	go func() { got <- c.RunAsync(ctx, CommandKill, "10 9", testWait) }()
	assert.Equal(t, "kill 4 10 9", w.next(t))

	// late result for the timed out request 3
	c.NotifyResult(3, 0)
	select {
	case code := <-got:
		t.Fatalf("stale result unblocked request 4 with %d", code)
	case <-time.After(50 * time.Millisecond):
	}

	c.NotifyResult(4, 5)
	assert.Equal(t, 5, <-got)
}

func TestCommandChannel_NoRequestPending(t *testing.T) {
	c := newCommandChannel(newFakeWriter(), FallbackConfig{}, zerolog.Nop())
	c.NotifyResult(1, 0)
	_, ok := c.Pending()
	assert.False(t, ok)
}

func TestCommandChannel_Cancelled(t *testing.T) {
	defer goleak.VerifyNone(t)
	w := newFakeWriter()
	c := newCommandChannel(w, FallbackConfig{}, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())

	got := make(chan int, 1)
	go func() { got <- c.Logcat(ctx, "/data/local/tmp/log.txt", testWait) }()
	w.next(t)
	cancel()
	assert.Equal(t, ResultCancelled, <-got)

	// the slot is free again and ids keep counting
	go func() { got <- c.UnmountAudio(context.Background(), testWait) }()
	assert.Equal(t, "unmount_audio 2", w.next(t))
	c.NotifyResult(2, 0)
	assert.Equal(t, 0, <-got)
}

func TestCommandChannel_WriteFailed(t *testing.T) {
	w := newFakeWriter()
	w.err = errors.New("broken pipe")
	c := newCommandChannel(w, FallbackConfig{}, zerolog.Nop())
	assert.Equal(t, ResultWriteFailed, c.KillSignal(context.Background(), 10, 9, time.Second))
	_, ok := c.Pending()
	assert.False(t, ok)
}

func TestCommandChannel_SerialisesCallers(t *testing.T) {
	defer goleak.VerifyNone(t)
	w := newFakeWriter()
	c := newCommandChannel(w, FallbackConfig{}, zerolog.Nop())
	ctx := context.Background()

	first := make(chan int, 1)
	second := make(chan int, 1)
	go func() { first <- c.RunAsync(ctx, "a", "", testWait) }()
	assert.Equal(t, "a 1", w.next(t))
	go func() { second <- c.RunAsync(ctx, "b", "", testWait) }()

	select {
	case l := <-w.lines:
		t.Fatalf("second command %q written while the first is outstanding", l)
	case <-time.After(50 * time.Millisecond):
	}

	c.NotifyResult(1, 0)
	assert.Equal(t, 0, <-first)
	assert.Equal(t, "b 2", w.next(t))
	c.NotifyResult(2, 1)
	assert.Equal(t, 1, <-second)
}

func TestCommandChannel_MountMasterFallback(t *testing.T) {
	sh := &fakeShell{res: shell.Result{Completed: true, ExitCode: 0}}
	blocked := true
	w := newFakeWriter()
	c := newCommandChannel(w, FallbackConfig{
		Shell:       sh,
		BinaryPath:  "/data/app/rootcap",
		ExecBlocked: func() bool { return blocked },
	}, zerolog.Nop())

	assert.Equal(t, 0, c.MountAudioMaster(context.Background(), time.Second))
	require.Len(t, sh.calls(), 1)
	assert.Equal(t, []string{"su", "--mount-master", "-c", "/data/app/rootcap mount_audio_master"}, sh.calls()[0])
	assert.Nil(t, sh.stdin[0])
	assert.Empty(t, w.lines)

	sh.res = shell.Result{Completed: false, ExitCode: shell.ExitCodeUnknown}
	assert.Equal(t, ResultTimeout, c.UnmountAudioMaster(context.Background(), time.Second))

	sh.err = shell.ErrSpawn
	assert.Equal(t, ResultWriteFailed, c.UnmountAudioMaster(context.Background(), time.Second))
}

func TestCommandChannel_MountMasterThroughProcess(t *testing.T) {
	defer goleak.VerifyNone(t)
	sh := &fakeShell{}
	w := newFakeWriter()
	c := newCommandChannel(w, FallbackConfig{Shell: sh, ExecBlocked: func() bool { return false }}, zerolog.Nop())

	got := make(chan int, 1)
	go func() { got <- c.MountAudioMaster(context.Background(), testWait) }()
	assert.Equal(t, "mount_audio_master 1", w.next(t))
	c.NotifyResult(1, 0)
	assert.Equal(t, 0, <-got)
	assert.Empty(t, sh.calls())
}
