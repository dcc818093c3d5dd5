// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of iiot-gateway-core.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package tracectx is the per-request trace context registry: it hands out
// W3C-shaped trace/span identifiers for in-flight requests, keeps their
// spans until the request is done with them, and reaps entries whose
// owners are done or who have gone stale.
//
// Lifetime is tracked with a ref-counted handle and an explicit Seal, so
// the reaper is a plain sweep over entries whose refcount has reached
// zero, with no expected-span-count bookkeeping for callers to get wrong.
package tracectx

import (
	"crypto/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/edgehaus/iiot-gateway-core/pkg/log"
	"go.opentelemetry.io/otel/trace"
)

// SpanKind mirrors the subset of OTel span kinds the registry uses; it
// only ever creates SERVER spans for inbound requests.
type SpanKind string

const SpanKindServer SpanKind = "SERVER"

// StatusCode is a span's terminal status.
type StatusCode int

const (
	StatusOK StatusCode = iota
	StatusError
)

// Span is one owned scope within a Context's trace.
type Span struct {
	SpanID       trace.SpanID
	ParentSpanID trace.SpanID
	Kind         SpanKind
	Attributes   map[string]any
	StartNS      int64
	EndNS        int64
	Status       StatusCode
	StatusDetail int // e.g. a plugin error code when Status == StatusError
}

// Context is one in-flight request's trace handle. Acquire/Release track
// how many spans still intend to attach to this trace; Seal marks that no
// further spans will be added, so once the refcount drains to zero the
// context becomes eligible for export and reaping.
type Context struct {
	ID    trace.TraceID
	Flags byte // W3C traceparent flags byte

	mu         sync.Mutex
	spans      []Span
	refcount   int32
	sealed     bool
	createdAt  time.Time
	lastUpdate time.Time
}

// NewSpanID generates a random 8-byte span id.
func NewSpanID() trace.SpanID {
	var id trace.SpanID
	_, _ = rand.Read(id[:])
	return id
}

func newTraceID() trace.TraceID {
	var id trace.TraceID
	_, _ = rand.Read(id[:])
	return id
}

// Acquire increments the context's refcount, claiming that one more span
// intends to be added via AddSpan before Release.
func (c *Context) Acquire() {
	atomic.AddInt32(&c.refcount, 1)
}

// Release decrements the refcount. It is the caller's responsibility to
// pair every Acquire with exactly one Release once that span has been
// recorded (or abandoned).
func (c *Context) Release() {
	atomic.AddInt32(&c.refcount, -1)
}

// AddSpan appends a completed span and touches lastUpdate.
func (c *Context) AddSpan(s Span) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.spans = append(c.spans, s)
	c.lastUpdate = time.Now()
}

// Seal marks that no further spans will be added to this context. After
// Seal, once Refcount() reaches zero the context is eligible for export.
func (c *Context) Seal() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sealed = true
}

// Sealed reports whether Seal has been called.
func (c *Context) Sealed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sealed
}

// Refcount returns the current outstanding-span count.
func (c *Context) Refcount() int32 {
	return atomic.LoadInt32(&c.refcount)
}

// Spans returns a snapshot of the spans recorded so far.
func (c *Context) Spans() []Span {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Span, len(c.spans))
	copy(out, c.spans)
	return out
}

// readyForExport reports whether the context is sealed with no
// outstanding spans.
func (c *Context) readyForExport() bool {
	return c.Sealed() && c.Refcount() <= 0
}

func (c *Context) idleFor(now time.Time) time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return now.Sub(c.lastUpdate)
}

// Exporter ships a completed trace context to wherever spans are
// collected. It returns the transport-level status code the reaper uses
// to decide whether to drop the entry.
type Exporter interface {
	Export(ctx *Context) (status int, err error)
}

// NoopExporter discards every context; used when no OTel collector is
// configured (otel_config.action has never been "start").
type NoopExporter struct{}

func (NoopExporter) Export(*Context) (int, error) { return 200, nil }

// Registry holds every in-flight trace context keyed by its trace id
// and reaps them on a fixed period.
type Registry struct {
	mu       sync.Mutex
	entries  map[trace.TraceID]*Context
	timeout  time.Duration
	exporter Exporter

	stop chan struct{}
	done chan struct{}
}

// New creates a Registry. timeout is TRACE_TIME_OUT: an entry older than
// this is unconditionally reaped regardless of seal/refcount state.
func New(timeout time.Duration, exporter Exporter) *Registry {
	if exporter == nil {
		exporter = NoopExporter{}
	}
	return &Registry{
		entries:  make(map[trace.TraceID]*Context),
		timeout:  timeout,
		exporter: exporter,
	}
}

// Begin creates and registers a new trace context.
func (r *Registry) Begin() *Context {
	now := time.Now()
	c := &Context{
		ID:         newTraceID(),
		createdAt:  now,
		lastUpdate: now,
	}

	r.mu.Lock()
	r.entries[c.ID] = c
	r.mu.Unlock()
	return c
}

// Get retrieves an existing trace context by id.
func (r *Registry) Get(id trace.TraceID) (*Context, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.entries[id]
	return c, ok
}

// Len reports the number of currently tracked contexts.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Reap runs one sweep over the registry: sealed+drained entries are
// exported and, on a 200 or 400 status, removed; entries older than the
// configured timeout are unconditionally removed regardless of seal
// state, so every context is freed within timeout + reaper period of its
// last update.
func (r *Registry) Reap() {
	now := time.Now()

	r.mu.Lock()
	candidates := make([]*Context, 0, len(r.entries))
	for _, c := range r.entries {
		candidates = append(candidates, c)
	}
	r.mu.Unlock()

	for _, c := range candidates {
		if c.idleFor(now) > r.timeout {
			r.remove(c.ID)
			continue
		}

		if !c.readyForExport() {
			continue
		}

		status, err := r.exporter.Export(c)
		if err != nil {
			log.Warnf("tracectx: export of trace %x failed: %v", c.ID, err)
			continue
		}
		if status == 200 || status == 400 {
			r.remove(c.ID)
		}
	}
}

func (r *Registry) remove(id trace.TraceID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, id)
}

// StartReaper launches a goroutine that calls Reap every period until
// Stop is called. The period is the caller's to pass; this package does
// not hard-code one so tests can drive Reap synchronously instead.
func (r *Registry) StartReaper(period time.Duration) {
	r.stop = make(chan struct{})
	r.done = make(chan struct{})

	go func() {
		defer close(r.done)
		ticker := time.NewTicker(period)
		defer ticker.Stop()
		for {
			select {
			case <-r.stop:
				return
			case <-ticker.C:
				r.Reap()
			}
		}
	}()
}

// Stop halts the reaper goroutine started by StartReaper, waiting for its
// current sweep (if any) to finish.
func (r *Registry) Stop() {
	if r.stop == nil {
		return
	}
	close(r.stop)
	<-r.done
}
