// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package audiodriver

import (
	"context"
	"errors"
	"sync"

	"github.com/ManuGH/rootcap/internal/bus"
	"github.com/ManuGH/rootcap/internal/log"
	"github.com/ManuGH/rootcap/internal/metrics"
	"github.com/ManuGH/rootcap/internal/stability"
	"github.com/rs/zerolog"
)

// Backend is what the Driver drives. *Installer implements it.
type Backend interface {
	Check(ctx context.Context) (Status, error)
	Install(ctx context.Context) error
	Uninstall(ctx context.Context) error
}

// StabilityWatcher is started after every successful install. fn must be
// called from a goroutine other than the one calling Start.
type StabilityWatcher interface {
	Start(ctx context.Context, fn func(stability.Outcome))
}

var _ Backend = (*Installer)(nil)

// Decision tells the caller what became of a request.
type Decision int

const (
	Rejected Decision = iota
	Started
	Scheduled
)

func (d Decision) String() string {
	switch d {
	case Started:
		return "started"
	case Scheduled:
		return "scheduled"
	default:
		return "rejected"
	}
}

// work is idle (current == OpNone), busy(current) or busy(current)+pending.
type work struct {
	current Operation
	pending Operation
}

// Driver owns the installation status. Every mutation goes through it; at
// most one operation runs and at most one more is remembered.
type Driver struct {
	backend Backend
	monitor StabilityWatcher
	events  *bus.Dispatcher[StatusChange]
	logger  zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// pubMu keeps published changes in mutation order.
	pubMu sync.Mutex

	mu            sync.Mutex
	status        Status
	work          work
	lastErr       error
	changed       chan struct{}
	cancelMonitor context.CancelFunc
}

// NewDriver creates a Driver in status New. monitor and events may be nil.
func NewDriver(backend Backend, monitor StabilityWatcher, events *bus.Dispatcher[StatusChange]) *Driver {
	ctx, cancel := context.WithCancel(context.Background())
	d := &Driver{
		backend: backend,
		monitor: monitor,
		events:  events,
		logger:  log.WithComponent("audiodriver"),
		ctx:     ctx,
		cancel:  cancel,
		status:  StatusNew,
		changed: make(chan struct{}),
	}
	metrics.SetDriverStatus(StatusNew.String(), StatusNames())
	return d
}

// Status returns the current status.
func (d *Driver) Status() Status {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.status
}

// LastError returns the error of the most recent failed operation.
func (d *Driver) LastError() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastErr
}

// Check recomputes the status from the filesystem.
func (d *Driver) Check() Decision { return d.request(OpCheck) }

// RequestInstall installs the shim, or schedules the install when another
// operation is running.
func (d *Driver) RequestInstall() Decision { return d.request(OpInstall) }

// RequestUninstall is the mirror of RequestInstall.
func (d *Driver) RequestUninstall() Decision { return d.request(OpUninstall) }

func (d *Driver) request(op Operation) Decision {
	d.pubMu.Lock()
	defer d.pubMu.Unlock()
	d.mu.Lock()
	if d.ctx.Err() != nil {
		d.mu.Unlock()
		return Rejected
	}
	if d.work.current != OpNone {
		if d.work.pending != OpNone && d.work.pending != op {
			d.logger.Info().Str("dropped", d.work.pending.String()).Str("scheduled", op.String()).
				Msg("replacing scheduled audio driver operation")
		}
		d.work.pending = op
		running := d.work.current
		d.mu.Unlock()
		metrics.IncDriverCoalesced(op.String())
		d.logger.Info().Str("operation", op.String()).Str("running", running.String()).
			Msg("audio driver busy, operation scheduled")
		return Scheduled
	}
	if !op.allowedFrom(d.status) {
		st := d.status
		d.mu.Unlock()
		d.logger.Warn().Str("operation", op.String()).Str(log.FieldStatus, st.String()).
			Msg("rejecting audio driver operation")
		return Rejected
	}
	change := d.beginLocked(op)
	d.mu.Unlock()
	d.publish(change)
	return Started
}

// beginLocked marks op as running and launches it. Callers hold d.mu.
func (d *Driver) beginLocked(op Operation) StatusChange {
	if d.cancelMonitor != nil {
		d.cancelMonitor()
		d.cancelMonitor = nil
	}
	d.work = work{current: op}
	change := d.setStatusLocked(op.busyStatus())
	d.wg.Add(1)
	go d.run(op)
	return change
}

func (d *Driver) run(op Operation) {
	defer d.wg.Done()
	// installer work is not interrupted once begun
	ctx := context.WithoutCancel(d.ctx)
	logger := d.logger.With().Str("operation", op.String()).Logger()

	var (
		next Status
		err  error
	)
	switch op {
	case OpCheck:
		next, err = d.backend.Check(ctx)
		if err != nil {
			next = StatusUnspecified
		}
	case OpInstall:
		if err = d.backend.Install(ctx); err != nil {
			next = StatusInstallationFailure
		} else {
			next = StatusInstalled
		}
	case OpUninstall:
		err = d.backend.Uninstall(ctx)
		switch {
		case err == nil, errors.Is(err, ErrNotInstalled):
			next = StatusNotInstalled
		default:
			next = StatusInstallationFailure
		}
	}
	if err != nil {
		logger.Warn().Err(err).Str(log.FieldStatus, next.String()).Msg("audio driver operation failed")
	}

	d.pubMu.Lock()
	defer d.pubMu.Unlock()
	d.publish(d.finish(next, err)...)
}

// finish records the result and dispatches the scheduled operation, if any.
func (d *Driver) finish(next Status, err error) []StatusChange {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.lastErr = err
	changes := []StatusChange{d.setStatusLocked(next)}
	pending := d.work.pending
	d.work = work{}

	if next == StatusInstalled && d.monitor != nil && pending == OpNone {
		d.startMonitorLocked()
	}
	if pending == OpNone || d.ctx.Err() != nil {
		return changes
	}
	if !pending.allowedFrom(next) {
		d.logger.Info().Str("operation", pending.String()).Str(log.FieldStatus, next.String()).
			Msg("scheduled audio driver operation no longer applies")
		return changes
	}
	return append(changes, d.beginLocked(pending))
}

func (d *Driver) startMonitorLocked() {
	ctx, cancel := context.WithCancel(d.ctx)
	d.cancelMonitor = cancel
	d.monitor.Start(ctx, func(outcome stability.Outcome) {
		if outcome != stability.Unstable {
			return
		}
		d.pubMu.Lock()
		defer d.pubMu.Unlock()
		d.mu.Lock()
		if ctx.Err() != nil || d.status != StatusInstalled {
			d.mu.Unlock()
			return
		}
		change := d.setStatusLocked(StatusUnstable)
		d.mu.Unlock()
		d.logger.Warn().Msg("media service unstable after audio shim install")
		d.publish(change)
	})
}

func (d *Driver) setStatusLocked(next Status) StatusChange {
	change := StatusChange{Old: d.status, New: next}
	if next == d.status {
		return change
	}
	d.status = next
	close(d.changed)
	d.changed = make(chan struct{})
	metrics.SetDriverStatus(next.String(), StatusNames())
	d.logger.Info().Str(log.FieldOldState, change.Old.String()).Str(log.FieldNewState, next.String()).
		Msg("audio driver status changed")
	return change
}

func (d *Driver) publish(changes ...StatusChange) {
	if d.events == nil {
		return
	}
	for _, c := range changes {
		if c.Old == c.New {
			continue
		}
		if err := d.events.Publish(d.ctx, c); err != nil {
			d.logger.Debug().Err(err).Msg("status change not delivered")
		}
	}
}

// Wait blocks until no operation is running or scheduled.
func (d *Driver) Wait(ctx context.Context) (Status, error) {
	for {
		d.mu.Lock()
		st, idle, ch := d.status, d.work.current == OpNone, d.changed
		d.mu.Unlock()
		if idle {
			return st, nil
		}
		select {
		case <-ch:
		case <-ctx.Done():
			return st, ctx.Err()
		}
	}
}

// Close stops the stability monitor, drops scheduled work and waits for the
// running operation.
func (d *Driver) Close() {
	d.mu.Lock()
	d.work.pending = OpNone
	if d.cancelMonitor != nil {
		d.cancelMonitor()
		d.cancelMonitor = nil
	}
	d.mu.Unlock()
	d.cancel()
	d.wg.Wait()
}
