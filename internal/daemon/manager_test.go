// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package daemon

import (
	"context"
	"errors"
	"os"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/ManuGH/rootcap/internal/config"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConfig struct {
	mu        sync.Mutex
	cfg       config.AppConfig
	reloads   int
	listeners []chan<- config.AppConfig
}

func (f *fakeConfig) Get() config.AppConfig {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cfg
}

func (f *fakeConfig) Reload(context.Context) error {
	f.mu.Lock()
	f.reloads++
	cfg := f.cfg
	ls := append([]chan<- config.AppConfig(nil), f.listeners...)
	f.mu.Unlock()
	for _, ch := range ls {
		select {
		case ch <- cfg:
		default:
		}
	}
	return nil
}

func (f *fakeConfig) StartWatcher(context.Context) error { return nil }

func (f *fakeConfig) RegisterListener(ch chan<- config.AppConfig) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listeners = append(f.listeners, ch)
}

func (f *fakeConfig) reloadCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reloads
}

type fakeServer struct {
	err error
}

func (s fakeServer) ListenAndServe(ctx context.Context) error {
	if s.err != nil {
		return s.err
	}
	<-ctx.Done()
	return nil
}

func newTestManager(t *testing.T, deps Deps) Manager {
	t.Helper()
	deps.Logger = zerolog.Nop()
	if deps.HangUp == nil {
		deps.HangUp = make(chan os.Signal)
	}
	m, err := NewManager(deps)
	require.NoError(t, err)
	return m
}

func TestNewManager_RequiresConfig(t *testing.T) {
	_, err := NewManager(Deps{})
	assert.ErrorIs(t, err, ErrMissingDependency)
}

func TestManager_ShutdownHooksRunLIFO(t *testing.T) {
	m := newTestManager(t, Deps{Config: &fakeConfig{cfg: config.Defaults()}, API: fakeServer{}})

	var order []string
	for _, name := range []string{"first", "second", "third"} {
		name := name
		m.RegisterShutdownHook(name, func(context.Context) error {
			order = append(order, name)
			return nil
		})
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Start(ctx) }()
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("manager did not stop")
	}
	assert.Equal(t, []string{"third", "second", "first"}, order)

	// second shutdown is a no-op
	assert.NoError(t, m.Shutdown(context.Background()))
}

func TestManager_ServerFailureShutsDown(t *testing.T) {
	boom := errors.New("address in use")
	m := newTestManager(t, Deps{Config: &fakeConfig{cfg: config.Defaults()}, API: fakeServer{err: boom}})

	hookRan := false
	m.RegisterShutdownHook("recorder", func(context.Context) error {
		hookRan = true
		return nil
	})

	err := m.Start(context.Background())
	assert.ErrorIs(t, err, boom)
	assert.True(t, hookRan)
}

func TestManager_HookErrorsAreJoined(t *testing.T) {
	m := newTestManager(t, Deps{Config: &fakeConfig{cfg: config.Defaults()}})
	hookErr := errors.New("destroy failed")
	m.RegisterShutdownHook("recorder", func(context.Context) error { return hookErr })

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := m.Start(ctx)
	assert.ErrorIs(t, err, hookErr)
}

func TestManager_HangUpReloads(t *testing.T) {
	cfg := &fakeConfig{cfg: config.Defaults()}
	hup := make(chan os.Signal, 1)
	m := newTestManager(t, Deps{Config: cfg, HangUp: hup})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Start(ctx) }()

	hup <- syscall.SIGHUP
	require.Eventually(t, func() bool { return cfg.reloadCount() == 1 }, 2*time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}

func TestManager_ShutdownBeforeStart(t *testing.T) {
	m := newTestManager(t, Deps{Config: &fakeConfig{cfg: config.Defaults()}})
	assert.ErrorIs(t, m.Shutdown(context.Background()), ErrManagerNotStarted)
}

func TestManager_StartTwice(t *testing.T) {
	m := newTestManager(t, Deps{Config: &fakeConfig{cfg: config.Defaults()}})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, m.Start(ctx))
	assert.ErrorIs(t, m.Start(ctx), ErrManagerStarted)
}
