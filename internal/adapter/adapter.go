// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of iiot-gateway-core.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package adapter is the driver-adapter runtime: it owns a
// driver's groups, schedules their read/report/write timers, validates and
// stores tags, serves synchronous reads, manages subscribers and dispatches
// queued writes to the protocol plugin. One Adapter instance serves one
// loaded driver plugin; each runs its own gocron scheduler so timers of
// independent drivers never contend on a shared job table.
package adapter

import (
	"fmt"
	"sync"
	"time"

	"github.com/edgehaus/iiot-gateway-core/internal/adapter/metrics"
	"github.com/edgehaus/iiot-gateway-core/internal/adapter/queue"
	"github.com/edgehaus/iiot-gateway-core/internal/eventloop"
	"github.com/edgehaus/iiot-gateway-core/internal/repository"
	"github.com/edgehaus/iiot-gateway-core/internal/tagcache"
	"github.com/edgehaus/iiot-gateway-core/internal/tracectx"
	"github.com/edgehaus/iiot-gateway-core/pkg/driver"
	"github.com/edgehaus/iiot-gateway-core/pkg/log"
	"github.com/edgehaus/iiot-gateway-core/pkg/tagmodel"
	"github.com/go-co-op/gocron/v2"
	"github.com/google/uuid"
)

// State is the adapter lifecycle state.
type State int

const (
	StateIdle State = iota
	StateInit
	StateReady
	StateRunning
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateInit:
		return "INIT"
	case StateReady:
		return "READY"
	case StateRunning:
		return "RUNNING"
	case StateStopped:
		return "STOPPED"
	}
	return "UNKNOWN"
}

const (
	// writeTimerPeriod is the fixed drain period of every group's write
	// queue.
	writeTimerPeriod = 3 * time.Millisecond

	// reportStagger delays a group's report timer behind its read timer so
	// the two do not co-phase on creation.
	reportStagger = 20 * time.Millisecond

	// cacheExpireFactor scales a group's interval into the staleness bound
	// past which a report emits ERROR(VALUE_EXPIRED) instead of the cached
	// value (unless the plugin declared cache_type NEVER).
	cacheExpireFactor = 3
)

// Options configures an Adapter beyond its plugin.
type Options struct {
	// SubFilterErr is handed to the tag cache's change detector.
	SubFilterErr bool
	// QueueCapacity bounds the adapter message queue; 0 means the default.
	QueueCapacity int
	// Sender delivers report payloads; nil selects the UNIX-datagram/NATS
	// DatagramSender.
	Sender ReportSender
	// Traces is the trace context registry spans are recorded into; nil
	// creates a registry with the default 3 minute timeout and no exporter.
	Traces *tracectx.Registry
	// CacheType overrides the plugin module's declared cache policy, for
	// tests; empty keeps the plugin's declaration.
	CacheType driver.CacheType
}

// Adapter drives one plugin. All state transitions happen under mu; timer
// callbacks run on the scheduler's goroutines and take the narrower group
// and cache locks only.
type Adapter struct {
	name   string
	plugin driver.Plugin
	module driver.Module

	mu     sync.Mutex
	state  State
	groups map[string]*Group

	cache        *tagcache.Cache
	loop         *eventloop.Loop
	msgq         *queue.Queue
	queueCap     int
	sched        gocron.Scheduler
	schedStarted bool
	traces       *tracectx.Registry
	sender       ReportSender

	cacheType driver.CacheType

	consumerDone chan struct{}
}

// New creates an Adapter in IDLE for the named driver node.
func New(name string, plugin driver.Plugin, module driver.Module, opts Options) *Adapter {
	sender := opts.Sender
	if sender == nil {
		sender = DatagramSender{}
	}
	traces := opts.Traces
	if traces == nil {
		traces = tracectx.New(3*time.Minute, nil)
	}
	cacheType := module.CacheType
	if opts.CacheType != "" {
		cacheType = opts.CacheType
	}

	return &Adapter{
		name:      name,
		plugin:    plugin,
		module:    module,
		state:     StateIdle,
		groups:    map[string]*Group{},
		cache:     tagcache.New(opts.SubFilterErr),
		queueCap:  opts.QueueCapacity,
		traces:    traces,
		sender:    sender,
		cacheType: cacheType,
	}
}

// State reports the adapter's lifecycle state.
func (a *Adapter) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Cache exposes the adapter's tag value cache to the plugin callback
// implementation and tests.
func (a *Adapter) Cache() *tagcache.Cache { return a.cache }

// Loop exposes the adapter's I/O event loop so a plugin's connections can
// register readiness watchers and blocking timers against it.
func (a *Adapter) Loop() *eventloop.Loop {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.loop
}

// Name is the driver node name this adapter serves.
func (a *Adapter) Name() string { return a.name }

// Init allocates the adapter's event loop, scheduler, message queue and
// consumer goroutine; no timers run yet.
func (a *Adapter) Init() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.state != StateIdle {
		return fmt.Errorf("adapter %s: init from state %s", a.name, a.state)
	}
	a.state = StateInit

	sched, err := gocron.NewScheduler()
	if err != nil {
		return fmt.Errorf("adapter %s: scheduler: %w", a.name, err)
	}
	a.sched = sched
	a.schedStarted = false
	a.loop = eventloop.New()

	a.msgq = queue.New(a.queueCap)
	a.consumerDone = make(chan struct{})
	go a.consume(a.msgq)

	a.state = StateReady
	log.Infof("adapter %s: initialized", a.name)
	return nil
}

// Start begins periodic scheduling for every group; legal from READY or
// STOPPED.
func (a *Adapter) Start() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.state != StateReady && a.state != StateStopped {
		return fmt.Errorf("adapter %s: start from state %s", a.name, a.state)
	}

	for _, g := range a.groups {
		if err := a.startGroupTimers(g); err != nil {
			return err
		}
	}
	if !a.schedStarted {
		a.sched.Start()
		a.schedStarted = true
	}
	a.state = StateRunning

	total := 0
	for _, g := range a.groups {
		total += len(g.Tags())
	}
	metrics.TagsTotal.WithLabelValues(a.name).Set(float64(total))
	log.Infof("adapter %s: running with %d groups, %d tags", a.name, len(a.groups), total)
	return nil
}

// Stop cancels every group's timers.
func (a *Adapter) Stop() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.state != StateRunning {
		return fmt.Errorf("adapter %s: stop from state %s", a.name, a.state)
	}
	for _, g := range a.groups {
		a.stopGroupTimers(g)
	}
	a.state = StateStopped
	log.Infof("adapter %s: stopped", a.name)
	return nil
}

// Uninit stops the adapter if running and cascade-destroys groups, their
// tags, queues and subscribers, then the cache and loop.
func (a *Adapter) Uninit() error {
	a.mu.Lock()
	if a.state == StateRunning {
		for _, g := range a.groups {
			a.stopGroupTimers(g)
		}
	}

	if a.sched != nil {
		if err := a.sched.Shutdown(); err != nil {
			log.Warnf("adapter %s: scheduler shutdown: %v", a.name, err)
		}
		a.sched = nil
	}

	for name, g := range a.groups {
		g.drainWrites()
		a.cache.DelGroup(name)
	}
	a.groups = map[string]*Group{}

	if a.loop != nil {
		a.loop.Close()
		a.loop = nil
	}

	msgq := a.msgq
	a.msgq = nil
	a.state = StateIdle
	a.mu.Unlock()

	if msgq != nil && a.consumerDone != nil {
		msgq.Shutdown()
		<-a.consumerDone
	}
	log.Infof("adapter %s: uninitialized", a.name)
	return nil
}

// AddGroup creates a group; its timers start immediately when the adapter
// is already RUNNING.
func (a *Adapter) AddGroup(name string, intervalMs int) error {
	if intervalMs < repository.IntervalLimit {
		return tagmodel.CodedError{Code: tagmodel.ErrInternal,
			Msg: fmt.Sprintf("adapter %s: group interval %dms below %dms", a.name, intervalMs, repository.IntervalLimit)}
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if _, ok := a.groups[name]; ok {
		return tagmodel.CodedError{Code: tagmodel.ErrGroupExist, Msg: fmt.Sprintf("group %q exists", name)}
	}
	g := newGroup(name, intervalMs)
	a.groups[name] = g

	if a.state == StateRunning {
		return a.startGroupTimers(g)
	}
	return nil
}

// UpdateGroup changes a group's polling interval; values below the limit
// are ignored. When the adapter is running, the group's timers are rebuilt
// on the new period.
func (a *Adapter) UpdateGroup(name string, intervalMs int) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	g, ok := a.groups[name]
	if !ok {
		return tagmodel.CodedError{Code: tagmodel.ErrGroupNotExist, Msg: fmt.Sprintf("group %q not found", name)}
	}
	if intervalMs < repository.IntervalLimit {
		return nil
	}
	g.setInterval(intervalMs)

	if a.state == StateRunning && g.timersOn {
		a.stopGroupTimers(g)
		return a.startGroupTimers(g)
	}
	return nil
}

// DelGroup destroys a group, its timers, queued writes, cache entries and
// subscriber records.
func (a *Adapter) DelGroup(name string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	g, ok := a.groups[name]
	if !ok {
		return tagmodel.CodedError{Code: tagmodel.ErrGroupNotExist, Msg: fmt.Sprintf("group %q not found", name)}
	}
	if g.timersOn {
		a.stopGroupTimers(g)
	}
	g.drainWrites()
	a.cache.DelGroup(name)
	delete(a.groups, name)
	return nil
}

// Group looks a group up by name.
func (a *Adapter) Group(name string) (*Group, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	g, ok := a.groups[name]
	return g, ok
}

// AddTag validates a tag (generic invariants plus the plugin's own
// validator when it has one) and adds it to a group. The cache entry is
// seeded by the next read cycle's NOT_READY reset rather than here, so a
// subscriber never sees a half-initialized value.
func (a *Adapter) AddTag(groupName string, t tagmodel.Tag) error {
	if err := tagmodel.ValidateTag(&t); err != nil {
		return err
	}
	if v, ok := a.plugin.(driver.TagValidator); ok {
		if err := v.ValidateTag(t); err != nil {
			return err
		}
	}

	g, ok := a.Group(groupName)
	if !ok {
		return tagmodel.CodedError{Code: tagmodel.ErrGroupNotExist, Msg: fmt.Sprintf("group %q not found", groupName)}
	}
	return g.addTag(t)
}

// UpdateTag replaces a tag's definition in place.
func (a *Adapter) UpdateTag(groupName string, t tagmodel.Tag) error {
	if err := tagmodel.ValidateTag(&t); err != nil {
		return err
	}
	g, ok := a.Group(groupName)
	if !ok {
		return tagmodel.CodedError{Code: tagmodel.ErrGroupNotExist, Msg: fmt.Sprintf("group %q not found", groupName)}
	}
	return g.updateTag(t)
}

// DelTag removes a tag from a group and drops its cache entry.
func (a *Adapter) DelTag(groupName, tagName string) error {
	g, ok := a.Group(groupName)
	if !ok {
		return tagmodel.CodedError{Code: tagmodel.ErrGroupNotExist, Msg: fmt.Sprintf("group %q not found", groupName)}
	}
	if !g.delTag(tagName) {
		return tagmodel.CodedError{Code: tagmodel.ErrTagNotExist, Msg: fmt.Sprintf("tag %q not found", tagName)}
	}
	a.cache.Del(groupName, tagName)
	return nil
}

// Subscribe registers an app for a group's reports.
func (a *Adapter) Subscribe(groupName string, sub Subscriber) error {
	g, ok := a.Group(groupName)
	if !ok {
		return tagmodel.CodedError{Code: tagmodel.ErrGroupNotExist, Msg: fmt.Sprintf("group %q not found", groupName)}
	}
	return g.addSubscriber(sub)
}

// Unsubscribe removes an app's subscription.
func (a *Adapter) Unsubscribe(groupName, appName string) error {
	g, ok := a.Group(groupName)
	if !ok {
		return tagmodel.CodedError{Code: tagmodel.ErrGroupNotExist, Msg: fmt.Sprintf("group %q not found", groupName)}
	}
	if !g.delSubscriber(appName) {
		return tagmodel.CodedError{Code: tagmodel.ErrInternal, Msg: fmt.Sprintf("app %q not subscribed", appName)}
	}
	return nil
}

// startGroupTimers registers the group's read, report (staggered) and
// write jobs. Caller holds a.mu.
func (a *Adapter) startGroupTimers(g *Group) error {
	interval := g.Interval()

	readJob, err := a.sched.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(func() { a.readCycle(g) }),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return fmt.Errorf("adapter %s: read timer for %q: %w", a.name, g.name, err)
	}

	reportJob, err := a.sched.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(func() { a.reportCycle(g) }),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithStartAt(gocron.WithStartDateTime(time.Now().Add(reportStagger))),
	)
	if err != nil {
		return fmt.Errorf("adapter %s: report timer for %q: %w", a.name, g.name, err)
	}

	writeJob, err := a.sched.NewJob(
		gocron.DurationJob(writeTimerPeriod),
		gocron.NewTask(func() { a.writeCycle(g) }),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return fmt.Errorf("adapter %s: write timer for %q: %w", a.name, g.name, err)
	}

	g.readJob = readJob.ID()
	g.reportJob = reportJob.ID()
	g.writeJob = writeJob.ID()
	g.timersOn = true
	return nil
}

// stopGroupTimers removes the group's jobs from the scheduler. Caller
// holds a.mu.
func (a *Adapter) stopGroupTimers(g *Group) {
	for _, id := range []uuid.UUID{g.readJob, g.reportJob, g.writeJob} {
		if id == uuid.Nil {
			continue
		}
		if err := a.sched.RemoveJob(id); err != nil {
			log.Debugf("adapter %s: remove job for %q: %v", a.name, g.name, err)
		}
	}
	g.readJob, g.reportJob, g.writeJob = uuid.Nil, uuid.Nil, uuid.Nil
	g.timersOn = false
}

// readCycle is the read-timer body: on tag-set edits the
// group's cache entries are reset to ERROR(NOT_READY) before handing the
// rebuilt plugin_group to the plugin's group_timer.
func (a *Adapter) readCycle(g *Group) {
	if a.State() != StateRunning {
		return
	}
	tags := g.Tags()
	if len(tags) == 0 {
		return
	}

	start := time.Now()

	if g.tagSetEdited() {
		for _, t := range tags {
			var metas [tagcache.NumMetaSlots][]byte
			a.cache.Update(g.name, t.Name, time.Now(),
				tagmodel.ErrorValue{Code: tagmodel.ErrTagNotReady}, metas)
		}
	}

	pt, ok := a.plugin.(driver.DriverCapabilities)
	if !ok {
		return
	}
	if err := pt.GroupTimer(g.pluginGroup(a.name)); err != nil {
		log.Warnf("adapter %s: group_timer %q: %v", a.name, g.name, err)
	}

	metrics.LastTimerMs.WithLabelValues(a.name, g.name).
		Set(float64(time.Since(start).Milliseconds()))
}

// consume drains the adapter message queue on the consumer goroutine,
// dispatching each message until Shutdown closes the queue.
func (a *Adapter) consume(msgq *queue.Queue) {
	defer close(a.consumerDone)
	for {
		msg, _, ok := msgq.Pop()
		if !ok {
			return
		}
		a.dispatch(msg)
	}
}
