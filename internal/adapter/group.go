// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of iiot-gateway-core.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package adapter

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/edgehaus/iiot-gateway-core/internal/repository"
	"github.com/edgehaus/iiot-gateway-core/pkg/driver"
	"github.com/edgehaus/iiot-gateway-core/pkg/tagmodel"
	"github.com/google/uuid"
)

// Subscriber is one app subscribed to a group's reports. Addr is either a
// local UNIX datagram address (TRANS_DATA) or, when Remote is
// set, a NATS subject the same payload is published on instead.
type Subscriber struct {
	AppName    string
	Addr       string
	Remote     bool
	Params     json.RawMessage
	StaticTags string
}

// writeItem is one queued write awaiting the group's write timer.
type writeItem struct {
	id    uuid.UUID
	req   driver.Request
	tag   tagmodel.Tag
	value tagmodel.Value
	wire  []byte
	// batch groups items submitted by one write_tags/write_gtags request
	// so the drain can hand them to the plugin in a single call.
	batch uuid.UUID
}

// Group is the runtime state of one (driver, group): its ordered tag set,
// subscriber list and pending-write queue, each guarded by its own
// mutex.
type Group struct {
	name       string
	intervalMs int

	mu       sync.Mutex
	tags     []tagmodel.Tag
	tagIndex map[string]int
	changeTS int64 // bumped on every tag-set edit
	seenTS   int64 // last changeTS the read timer acted on

	appsMu sync.Mutex
	apps   []Subscriber

	wtMu   sync.Mutex
	writes []writeItem

	readJob   uuid.UUID
	reportJob uuid.UUID
	writeJob  uuid.UUID
	timersOn  bool
}

func newGroup(name string, intervalMs int) *Group {
	return &Group{
		name:       name,
		intervalMs: intervalMs,
		tagIndex:   map[string]int{},
	}
}

// Interval is the group's polling period.
func (g *Group) Interval() time.Duration {
	g.mu.Lock()
	defer g.mu.Unlock()
	return time.Duration(g.intervalMs) * time.Millisecond
}

func (g *Group) setInterval(ms int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if ms < repository.IntervalLimit {
		return
	}
	g.intervalMs = ms
}

// Tags returns a copy of the group's ordered tag set.
func (g *Group) Tags() []tagmodel.Tag {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]tagmodel.Tag, len(g.tags))
	copy(out, g.tags)
	return out
}

func (g *Group) findTag(name string) (tagmodel.Tag, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	i, ok := g.tagIndex[name]
	if !ok {
		return tagmodel.Tag{}, false
	}
	return g.tags[i], true
}

func (g *Group) addTag(t tagmodel.Tag) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.tagIndex[t.Name]; ok {
		return fmt.Errorf("adapter: tag %q already in group %q", t.Name, g.name)
	}
	g.tagIndex[t.Name] = len(g.tags)
	g.tags = append(g.tags, t)
	g.changeTS++
	return nil
}

func (g *Group) updateTag(t tagmodel.Tag) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	i, ok := g.tagIndex[t.Name]
	if !ok {
		return fmt.Errorf("adapter: tag %q not in group %q", t.Name, g.name)
	}
	g.tags[i] = t
	g.changeTS++
	return nil
}

func (g *Group) delTag(name string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	i, ok := g.tagIndex[name]
	if !ok {
		return false
	}
	g.tags = append(g.tags[:i], g.tags[i+1:]...)
	delete(g.tagIndex, name)
	for n, j := range g.tagIndex {
		if j > i {
			g.tagIndex[n] = j - 1
		}
	}
	g.changeTS++
	return true
}

// tagSetEdited reports whether the tag set changed since the read timer
// last looked, and records the current edit stamp as seen.
func (g *Group) tagSetEdited() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.changeTS == g.seenTS {
		return false
	}
	g.seenTS = g.changeTS
	return true
}

func (g *Group) addSubscriber(s Subscriber) error {
	g.appsMu.Lock()
	defer g.appsMu.Unlock()
	for _, a := range g.apps {
		if a.AppName == s.AppName {
			return fmt.Errorf("adapter: app %q already subscribed to group %q", s.AppName, g.name)
		}
	}
	g.apps = append(g.apps, s)
	return nil
}

func (g *Group) delSubscriber(appName string) bool {
	g.appsMu.Lock()
	defer g.appsMu.Unlock()
	for i, a := range g.apps {
		if a.AppName == appName {
			g.apps = append(g.apps[:i], g.apps[i+1:]...)
			return true
		}
	}
	return false
}

func (g *Group) subscribers() []Subscriber {
	g.appsMu.Lock()
	defer g.appsMu.Unlock()
	out := make([]Subscriber, len(g.apps))
	copy(out, g.apps)
	return out
}

func (g *Group) enqueueWrites(items []writeItem) {
	g.wtMu.Lock()
	defer g.wtMu.Unlock()
	g.writes = append(g.writes, items...)
}

func (g *Group) drainWrites() []writeItem {
	g.wtMu.Lock()
	defer g.wtMu.Unlock()
	out := g.writes
	g.writes = nil
	return out
}

// pluginGroup builds the read-only view handed to the plugin's group_timer
// and group_sync.
func (g *Group) pluginGroup(driverName string) driver.PluginGroup {
	g.mu.Lock()
	defer g.mu.Unlock()
	tags := make([]tagmodel.Tag, len(g.tags))
	copy(tags, g.tags)
	return driver.PluginGroup{
		DriverName: driverName,
		GroupName:  g.name,
		IntervalMs: g.intervalMs,
		Tags:       tags,
	}
}
