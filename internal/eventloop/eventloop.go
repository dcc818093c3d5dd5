// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of iiot-gateway-core.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package eventloop implements the per-driver-adapter timer and I/O
// readiness multiplexer. Every timer and every I/O watcher runs on its own
// goroutine, so a slow callback cannot stall reads or other timers sharing
// the loop; callbacks of different timers and watchers may therefore run
// concurrently. A blocking-mode timer runs its callback inline and skips
// ticks while it is still running; a non-blocking-mode timer dispatches
// each firing on a fresh goroutine, so its firings may overlap.
package eventloop

import (
	"sync"
	"time"

	"github.com/edgehaus/iiot-gateway-core/pkg/log"
	"github.com/google/uuid"
)

// TimerMode controls whether consecutive firings of a Timer may overlap.
type TimerMode int

const (
	// ModeBlocking serializes firings: the next tick is skipped if the
	// previous callback is still running, mirroring a group's read timer
	// that must not race its own previous read.
	ModeBlocking TimerMode = iota
	// ModeNonBlocking allows overlapping firings, each dispatched on its
	// own goroutine.
	ModeNonBlocking
)

// IOEventKind is the set of readiness conditions an I/O watcher receives.
type IOEventKind int

const (
	IORead IOEventKind = 1 << iota
	IOClosed
	IOHup
)

// TimerID identifies a registered timer for cancellation.
type TimerID string

// IOWatchID identifies a registered I/O watcher for cancellation.
type IOWatchID string

type timerEntry struct {
	id       TimerID
	period   time.Duration
	mode     TimerMode
	callback func()
	ticker   *time.Ticker
	stop     chan struct{}
	running  sync.Mutex     // held for the duration of a blocking-mode callback
	inflight sync.WaitGroup // non-blocking-mode callbacks still running
	done     chan struct{}
}

type ioEntry struct {
	id       IOWatchID
	notifyCh <-chan IOEventKind
	callback func(IOEventKind)
	stop     chan struct{}
	done     chan struct{}
}

// Loop is one reactor instance. Callers register timers and I/O watchers
// against it; per-fd
// readiness is fed in by the caller (typically internal/transport) rather
// than the loop performing its own polling, since Go's net package already
// multiplexes sockets onto the runtime's poller.
type Loop struct {
	mu      sync.Mutex
	timers  map[TimerID]*timerEntry
	ioWatch map[IOWatchID]*ioEntry
	closed  bool
}

// New creates an idle Loop. Timers and I/O watchers registered before or
// after the loop starts take effect immediately; there is no separate
// Run/start step because each timer and watcher already drives its own
// goroutine rather than being polled by a central one.
func New() *Loop {
	return &Loop{
		timers:  make(map[TimerID]*timerEntry),
		ioWatch: make(map[IOWatchID]*ioEntry),
	}
}

// AddTimer registers a periodic callback. period must be positive.
// Non-blocking timers may invoke callback concurrently with itself;
// blocking timers drop a tick if the prior invocation has not returned:
// skew is tolerated, missed ticks are not caught up.
func (l *Loop) AddTimer(period time.Duration, mode TimerMode, callback func()) TimerID {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return ""
	}

	id := TimerID(uuid.NewString())
	e := &timerEntry{
		id:       id,
		period:   period,
		mode:     mode,
		callback: callback,
		ticker:   time.NewTicker(period),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	l.timers[id] = e

	go l.runTimer(e)
	return id
}

func (l *Loop) runTimer(e *timerEntry) {
	defer close(e.done)
	for {
		select {
		case <-e.stop:
			e.ticker.Stop()
			return
		case <-e.ticker.C:
			l.fireTimer(e)
		}
	}
}

func (l *Loop) fireTimer(e *timerEntry) {
	if e.mode == ModeBlocking {
		if !e.running.TryLock() {
			return // previous firing still in flight, skip this tick
		}
		defer e.running.Unlock()
		l.invoke(e.callback)
		return
	}

	e.inflight.Add(1)
	go func() {
		defer e.inflight.Done()
		l.invoke(e.callback)
	}()
}

func (l *Loop) invoke(callback func()) {
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("eventloop: timer callback panicked: %v", r)
		}
	}()
	callback()
}

// DelTimer cancels a timer and blocks until any in-flight callback has
// completed.
func (l *Loop) DelTimer(id TimerID) {
	l.mu.Lock()
	e, ok := l.timers[id]
	if ok {
		delete(l.timers, id)
	}
	l.mu.Unlock()

	if !ok {
		return
	}

	close(e.stop)
	<-e.done
	e.inflight.Wait()

	// Ensure a blocking-mode callback that was mid-flight when stop was
	// requested has also returned before DelTimer unblocks the caller.
	e.running.Lock()
	e.running.Unlock() //nolint:staticcheck // intentional lock/unlock to wait for drain
}

// AddIOWatch registers a level-triggered callback for readiness events
// delivered on notifyCh. The caller (internal/transport) is responsible
// for producing readiness events from the underlying socket/fd; the loop
// only serializes dispatch.
func (l *Loop) AddIOWatch(notifyCh <-chan IOEventKind, callback func(IOEventKind)) IOWatchID {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return ""
	}

	id := IOWatchID(uuid.NewString())
	e := &ioEntry{
		id:       id,
		notifyCh: notifyCh,
		callback: callback,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	l.ioWatch[id] = e

	go l.runIOWatch(e)
	return id
}

func (l *Loop) runIOWatch(e *ioEntry) {
	defer close(e.done)
	for {
		select {
		case <-e.stop:
			return
		case kind, ok := <-e.notifyCh:
			if !ok {
				return
			}
			l.invoke(func() { e.callback(kind) })
		}
	}
}

// DelIOWatch cancels an I/O watcher and waits for its dispatch goroutine
// to exit.
func (l *Loop) DelIOWatch(id IOWatchID) {
	l.mu.Lock()
	e, ok := l.ioWatch[id]
	if ok {
		delete(l.ioWatch, id)
	}
	l.mu.Unlock()

	if !ok {
		return
	}
	close(e.stop)
	<-e.done
}

// Close cancels every timer and I/O watcher registered on the loop and
// waits for their goroutines to exit.
func (l *Loop) Close() {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.closed = true
	timers := make([]*timerEntry, 0, len(l.timers))
	for _, e := range l.timers {
		timers = append(timers, e)
	}
	ioWatches := make([]*ioEntry, 0, len(l.ioWatch))
	for _, e := range l.ioWatch {
		ioWatches = append(ioWatches, e)
	}
	l.timers = make(map[TimerID]*timerEntry)
	l.ioWatch = make(map[IOWatchID]*ioEntry)
	l.mu.Unlock()

	for _, e := range timers {
		close(e.stop)
		<-e.done
		e.inflight.Wait()
	}
	for _, e := range ioWatches {
		close(e.stop)
		<-e.done
	}
}
