// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of iiot-gateway-core.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package tagcache is the process-wide concurrent map from (group, tag) to
// its current typed value, keeping enough history (the last non-error
// value, a changed flag, and per-meta slots) to drive change-of-state
// subscriber delivery. A single mutex serializes every mutator and
// reader: coarse-grained but correct. Sharding per group is a scalability
// option this package does not need yet.
package tagcache

import (
	"sync"
	"time"

	"github.com/edgehaus/iiot-gateway-core/pkg/tagmodel"
)

// NumMetaSlots is the fixed meta-array width carried by every cache
// element and by the TRANS_DATA wire body.
const NumMetaSlots = 8

// Key identifies one cache element.
type Key struct {
	Group string
	Tag   string
}

type element struct {
	value    tagmodel.Value
	valueOld tagmodel.Value // last non-error value, used for error-filtered comparisons
	ts       time.Time
	changed  bool
	metas    [NumMetaSlots][]byte
}

// Cache is the tag value cache. The error-filtering flag is fixed at
// construction time rather than read from a package global, so a test can
// exercise both modes in one process without a data race on shared
// state.
type Cache struct {
	mu           sync.Mutex
	data         map[Key]*element
	subFilterErr bool
	traces       map[string]TraceHandle // per-group opaque trace slot
}

// TraceHandle is the opaque trace-context reference a group's slot holds;
// internal/tracectx supplies the concrete type via UpdateTrace/GetTrace.
type TraceHandle interface{}

// New creates an empty Cache. subFilterErr fixes the error-filtering
// behavior of the change-detection algorithm for
// the lifetime of this Cache.
func New(subFilterErr bool) *Cache {
	return &Cache{
		data:         make(map[Key]*element),
		traces:       make(map[string]TraceHandle),
		subFilterErr: subFilterErr,
	}
}

// Add inserts a tag if missing with a zero timestamp and changed=false.
// An existing entry for the key is left untouched.
func (c *Cache) Add(group, tag string, value tagmodel.Value) {
	c.mu.Lock()
	defer c.mu.Unlock()

	k := Key{group, tag}
	if _, ok := c.data[k]; ok {
		return
	}
	c.data[k] = &element{value: value}
}

// Del removes a tag's cache entry.
func (c *Cache) Del(group, tag string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, Key{group, tag})
}

// Update upserts a tag's value without running change detection (changed
// is left at whatever it already was). It is the primitive used by group
// resets (e.g. marking a group ERROR(NOT_READY) on tag-set edits) where no
// subscriber notification should be derived from the transition.
func (c *Cache) Update(group, tag string, ts time.Time, value tagmodel.Value, metas [NumMetaSlots][]byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.upsert(group, tag, ts, value, metas, false, false)
}

// UpdateChange upserts a tag's value, running the full change-detection
// algorithm. precision is the tag's configured decimal precision, used
// for float/double tolerance comparisons.
func (c *Cache) UpdateChange(group, tag string, ts time.Time, value tagmodel.Value, metas [NumMetaSlots][]byte, precision uint8, forceChange bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.upsert(group, tag, ts, value, metas, true, forceChange, precision)
}

func (c *Cache) upsert(group, tag string, ts time.Time, newValue tagmodel.Value, metas [NumMetaSlots][]byte, detectChange, forceChange bool, precision ...uint8) {
	k := Key{group, tag}
	e, ok := c.data[k]
	if !ok {
		e = &element{}
		c.data[k] = e
	}

	prec := uint8(0)
	if len(precision) > 0 {
		prec = precision[0]
	}

	if detectChange {
		e.changed = c.detectChange(e, newValue, prec)
	}
	if forceChange {
		e.changed = true
	}

	// Step 5: snapshot the new value as the last-known-good one when
	// filtering is on and the new value is not itself an error.
	if c.subFilterErr && newValue != nil && newValue.Type() != tagmodel.TypeError {
		e.valueOld = newValue.Clone()
	}

	e.value = newValue
	e.ts = ts
	e.metas = metas
}

// detectChange runs the change-detection steps and returns the changed
// flag to store. It assumes e is non-nil; e.value may be nil for a
// freshly-inserted element (old.type is then treated as absent, which
// forces changed=true on the first real value exactly like an old-type
// mismatch would).
func (c *Cache) detectChange(e *element, newValue tagmodel.Value, precision uint8) bool {
	isErr := newValue != nil && newValue.Type() == tagmodel.TypeError

	// Step 1.
	if c.subFilterErr && isErr {
		return false
	}

	oldIsErr := e.value != nil && e.value.Type() == tagmodel.TypeError
	typeChanged := e.value == nil || newValue == nil || e.value.Type() != newValue.Type()

	// Step 2.
	if typeChanged && (!c.subFilterErr || !oldIsErr) {
		return true
	}

	// Step 3: filtering, old was error, new is not -> compare against the
	// last known-good value.
	if c.subFilterErr && oldIsErr && !isErr {
		return !tagmodel.Equal(e.valueOld, newValue, precision)
	}

	// Step 4: same type, compare against the current value.
	return !tagmodel.Equal(e.value, newValue, precision)
}

// MetaGet deep-copies a tag's current value and metas to the caller,
// unconditionally.
func (c *Cache) MetaGet(group, tag string) (value tagmodel.Value, metas [NumMetaSlots][]byte, ts time.Time, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, found := c.data[Key{group, tag}]
	if !found {
		return nil, metas, time.Time{}, false
	}
	return cloneValue(e.value), cloneMetas(e.metas), e.ts, true
}

// MetaGetChanged behaves like MetaGet but only returns a value when
// changed is set; it then clears changed unless the value is itself an
// ERROR.
func (c *Cache) MetaGetChanged(group, tag string) (value tagmodel.Value, metas [NumMetaSlots][]byte, ts time.Time, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, found := c.data[Key{group, tag}]
	if !found || !e.changed {
		return nil, metas, time.Time{}, false
	}
	if e.value == nil || e.value.Type() != tagmodel.TypeError {
		e.changed = false
	}
	return cloneValue(e.value), cloneMetas(e.metas), e.ts, true
}

// UpdateTrace stores the opaque trace handle for a group's shared slot.
func (c *Cache) UpdateTrace(group string, handle TraceHandle) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.traces[group] = handle
}

// GetTrace retrieves the opaque trace handle for a group's shared slot.
func (c *Cache) GetTrace(group string) (TraceHandle, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	h, ok := c.traces[group]
	return h, ok
}

// Len reports the number of cache entries, for metrics (TAGS_TOTAL).
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.data)
}

// DelGroup removes every cache entry and trace slot belonging to a group,
// used when a group's tag set is rebuilt or the driver unloads.
func (c *Cache) DelGroup(group string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k := range c.data {
		if k.Group == group {
			delete(c.data, k)
		}
	}
	delete(c.traces, group)
}

func cloneValue(v tagmodel.Value) tagmodel.Value {
	if v == nil {
		return nil
	}
	return v.Clone()
}

func cloneMetas(metas [NumMetaSlots][]byte) [NumMetaSlots][]byte {
	var out [NumMetaSlots][]byte
	for i, m := range metas {
		if m == nil {
			continue
		}
		cp := make([]byte, len(m))
		copy(cp, m)
		out[i] = cp
	}
	return out
}
