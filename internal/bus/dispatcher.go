// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package bus delivers lifecycle events to subscribers on one dedicated
// goroutine, in publish order, never concurrently with each other.
package bus

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ManuGH/rootcap/internal/log"
	"github.com/rs/zerolog"
)

// ErrClosed is returned by Publish after Close.
var ErrClosed = errors.New("bus: dispatcher closed")

const defaultBuffer = 64

type subscription[T any] struct {
	id int
	fn func(T)
}

// Dispatcher is an in-memory single-consumer pub/sub.
type Dispatcher[T any] struct {
	name   string
	logger zerolog.Logger

	// closeMu guards closed and the send on queue; handler bookkeeping uses
	// subMu so the delivery loop never waits behind a blocked publisher.
	closeMu sync.RWMutex
	closed  bool
	queue   chan T

	subMu  sync.RWMutex
	subs   []subscription[T]
	nextID int

	done chan struct{}
}

// New starts a dispatcher. buffer <= 0 selects the default queue size.
func New[T any](name string, buffer int) *Dispatcher[T] {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	d := &Dispatcher[T]{
		name:   name,
		logger: log.WithComponent("bus").With().Str("dispatcher", name).Logger(),
		queue:  make(chan T, buffer),
		done:   make(chan struct{}),
	}
	go d.loop()
	return d
}

// Subscribe registers fn and returns a function that removes it again.
// fn runs on the dispatcher goroutine and must not call Close.
func (d *Dispatcher[T]) Subscribe(fn func(T)) (unsubscribe func()) {
	d.subMu.Lock()
	d.nextID++
	id := d.nextID
	d.subs = append(d.subs, subscription[T]{id: id, fn: fn})
	d.subMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			d.subMu.Lock()
			defer d.subMu.Unlock()
			out := d.subs[:0]
			for _, s := range d.subs {
				if s.id != id {
					out = append(out, s)
				}
			}
			d.subs = out
		})
	}
}

// Publish queues ev for delivery. It blocks while the queue is full until
// ctx is done.
func (d *Dispatcher[T]) Publish(ctx context.Context, ev T) error {
	if ctx == nil {
		return fmt.Errorf("publish context is nil")
	}
	d.closeMu.RLock()
	defer d.closeMu.RUnlock()
	if d.closed {
		return ErrClosed
	}
	select {
	case d.queue <- ev:
		return nil
	case <-ctx.Done():
		d.logger.Warn().Err(ctx.Err()).Msg("dropped event, queue full")
		return fmt.Errorf("publish on %q: %w", d.name, ctx.Err())
	}
}

// Close stops accepting events, delivers everything already queued and waits
// for the delivery goroutine to exit.
func (d *Dispatcher[T]) Close() {
	d.closeMu.Lock()
	if d.closed {
		d.closeMu.Unlock()
		<-d.done
		return
	}
	d.closed = true
	close(d.queue)
	d.closeMu.Unlock()
	<-d.done
}

func (d *Dispatcher[T]) loop() {
	defer close(d.done)
	for ev := range d.queue {
		d.subMu.RLock()
		subs := append([]subscription[T](nil), d.subs...)
		d.subMu.RUnlock()
		for _, s := range subs {
			d.deliver(s.fn, ev)
		}
	}
}

func (d *Dispatcher[T]) deliver(fn func(T), ev T) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error().Interface("panic", r).Msg("event subscriber panicked")
		}
	}()
	fn(ev)
}
