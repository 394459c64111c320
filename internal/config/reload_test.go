// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHolder_ReloadNotifiesListeners(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "recording:\n  frameRate: 24\n")

	loader := NewLoader(path, "")
	initial, err := loader.Load()
	require.NoError(t, err)

	h := NewHolder(initial, loader)
	ch := make(chan AppConfig, 1)
	h.RegisterListener(ch)

	writeConfig(t, dir, "recording:\n  frameRate: 48\n")
	require.NoError(t, h.Reload(context.Background()))

	assert.Equal(t, 48, h.Get().Recording.FrameRate)
	select {
	case got := <-ch:
		assert.Equal(t, 48, got.Recording.FrameRate)
	default:
		t.Fatal("listener not notified")
	}
}

func TestHolder_InvalidReloadKeepsOldConfig(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "recording:\n  frameRate: 24\n")

	loader := NewLoader(path, "")
	initial, err := loader.Load()
	require.NoError(t, err)
	h := NewHolder(initial, loader)

	writeConfig(t, dir, "recording:\n  frameRate: 0\n")
	require.Error(t, h.Reload(context.Background()))
	assert.Equal(t, 24, h.Get().Recording.FrameRate)
}

func TestHolder_FullListenerDoesNotBlock(t *testing.T) {
	loader := NewLoader("", "")
	h := NewHolder(Defaults(), loader)
	ch := make(chan AppConfig) // unbuffered, nobody reading
	h.RegisterListener(ch)

	done := make(chan error, 1)
	go func() { done <- h.Reload(context.Background()) }()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("reload blocked on listener")
	}
}

func TestHolder_WatcherReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "recording:\n  frameRate: 24\n")

	loader := NewLoader(path, "")
	initial, err := loader.Load()
	require.NoError(t, err)
	h := NewHolder(initial, loader)
	h.debounce = 20 * time.Millisecond

	ch := make(chan AppConfig, 4)
	h.RegisterListener(ch)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, h.StartWatcher(ctx))

	require.NoError(t, os.WriteFile(path, []byte("recording:\n  frameRate: 50\n"), 0o600))

	select {
	case got := <-ch:
		assert.Equal(t, 50, got.Recording.FrameRate)
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not reload")
	}
}

func TestHolder_WatcherDisabledWithoutFile(t *testing.T) {
	h := NewHolder(Defaults(), NewLoader("", ""))
	require.NoError(t, h.StartWatcher(context.Background()))
	h.Stop()
}
