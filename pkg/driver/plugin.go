// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of iiot-gateway-core.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package driver defines the plugin ABI: the fixed contract
// between the driver-adapter runtime (internal/adapter) and the southbound
// protocol plugins (Modbus, OPC-UA, MQTT, ...) it treats as black boxes.
// The contract is a Go interface a plugin implements, with optional
// capability interfaces checked via type assertion for the
// driver-specific methods not every plugin supports.
package driver

import (
	"encoding/json"

	"github.com/edgehaus/iiot-gateway-core/pkg/tagmodel"
)

// Kind distinguishes a driver plugin (talks to field devices) from an app
// plugin (consumes data), per the GLOSSARY's Driver/App roles.
type Kind string

const (
	KindDriver Kind = "driver"
	KindApp    Kind = "app"
)

// TimerType selects whether the adapter drives a plugin's group on its own
// read/report/write timers or the plugin manages its own
// scheduling and only calls back through Callbacks.Update.
type TimerType string

const (
	TimerNative TimerType = "native" // adapter owns read/report/write timers
	TimerCustom TimerType = "custom" // plugin drives its own timing
)

// CacheType controls whether a report may surface a stale cache value
// past its expiry window.
type CacheType string

const (
	CacheInterval CacheType = "interval" // stale values expire per CACHE_EXPIRE_FACTOR
	CacheNever    CacheType = "never"    // stale values are never expired out
)

// Module is the static metadata a plugin publishes about itself; the
// adapter reads these fields but never introspects beyond them.
type Module struct {
	Version    string
	Schema     string
	Name       string
	Descr      string
	DescrZH    string
	Type       Kind
	Kind       Kind
	Display    string
	Single     bool   // true if only one instance of this plugin may be loaded
	SingleName string // node name to use when Single is true
	TimerType  TimerType
	CacheType  CacheType
}

// PluginGroup is the read-only view of a group handed to GroupTimer and
// GroupSync: its name, polling interval and the tags to read this cycle.
// It carries no mutation methods; plugins report values back exclusively
// through Callbacks.
type PluginGroup struct {
	DriverName string
	GroupName  string
	IntervalMs int
	Tags       []tagmodel.Tag
}

// WriteItem pairs a tag name with the value to write to it, already
// range-checked, decimal-divided and endian-fixed-up by the adapter.
// WireBytes is the storage value encoded in the tag's
// configured byte order, ready for the plugin to splice into its PDU
// without re-deriving the endian option; it is nil for non-scalar values.
type WriteItem struct {
	TagName   string
	Value     tagmodel.Value
	WireBytes []byte
}

// Request is the opaque request/response envelope passed to Plugin.Request
// and to the write-response callbacks; Header carries routing and trace
// information the plugin must echo back unmodified.
type Request struct {
	ID     string
	Header json.RawMessage
	Body   json.RawMessage
}

// Plugin is the ABI every driver/app plugin implements: the fixed set of
// lifecycle methods the adapter calls, regardless of protocol.
type Plugin interface {
	Open() error
	Close() error
	Init(loadFromDB bool) error
	Uninit() error
	Start() error
	Stop() error
	Setting(settingJSON string) error
	Request(req Request) error
}

// DriverCapabilities groups the driver-specific, optional methods
// (group_timer, group_sync, write_tag, write_tags, ...). A Plugin
// implements whichever subset applies to it; the adapter uses a
// type assertion against this interface (and the narrower single-method
// interfaces below) to discover what is supported, reporting
// PLUGIN_NOT_SUPPORT_* for the rest instead of failing to compile a plugin
// that only needs a read-only group_timer.
type DriverCapabilities interface {
	GroupTimer(g PluginGroup) error
}

// GroupSyncer is implemented by plugins that support synchronous
// client-initiated reads.
type GroupSyncer interface {
	GroupSync(g PluginGroup) error
}

// TagWriter is implemented by plugins that accept single-tag writes.
type TagWriter interface {
	WriteTag(req Request, tag tagmodel.Tag, value tagmodel.Value) error
}

// TagsWriter is implemented by plugins that accept batched writes; a
// writer capability is also the precondition for any write path to
// proceed at all.
type TagsWriter interface {
	WriteTags(req Request, items []WriteItem) error
}

// TagValidator is implemented by plugins with protocol-specific address
// validation beyond pkg/tagmodel.ValidateTag's generic invariants (e.g. a
// Modbus plugin rejecting an address string that isn't a valid register
// reference).
type TagValidator interface {
	ValidateTag(tag tagmodel.Tag) error
}

// TagLoader is implemented by plugins that manage their own tag
// definitions outside the persister's generic tags table (e.g. a plugin
// that scans a device's object dictionary at startup).
type TagLoader interface {
	LoadTags() ([]tagmodel.Tag, error)
	AddTags(tags []tagmodel.Tag) error
	DelTags(names []string) error
}

// TagScanner is implemented by plugins that can enumerate addressable
// points on the device.
type TagScanner interface {
	ScanTags() ([]tagmodel.Tag, error)
}

// TagTester is implemented by plugins that support an ad-hoc read of one
// tag address without adding it to a group.
type TagTester interface {
	TestReadTag(tag tagmodel.Tag) (tagmodel.Value, error)
}

// ActionRunner is implemented by plugins that expose an arbitrary named
// action beyond the read/write model.
type ActionRunner interface {
	Action(name string, params json.RawMessage) (json.RawMessage, error)
}

// FileTransferer is implemented by plugins supporting the directory/
// upload/download capability surface: the minimal set of methods the
// adapter can dispatch to and report PLUGIN_NOT_SUPPORT_* for when
// absent.
type FileTransferer interface {
	Directory(path string) ([]string, error)
	FupOpen(path string, size int64) (handle string, err error)
	FupData(handle string, offset int64, data []byte) error
	FdownOpen(path string) (handle string, size int64, err error)
	FdownData(handle string, offset int64, length int) ([]byte, error)
}

// Callbacks is the reverse interface the adapter hands a plugin so the
// plugin can report values and responses back without holding a pointer
// into the adapter's internals.
type Callbacks interface {
	// Update stores a new value for (group, tag); tag == "" applies value
	// (typically an ERROR) to every tag currently in group, the group-wide
	// error broadcast.
	Update(group, tag string, value tagmodel.Value)

	// UpdateWithMeta is Update plus the per-meta-slot byte blobs.
	UpdateWithMeta(group, tag string, value tagmodel.Value, metas [8][]byte)

	// UpdateIm bypasses the periodic report timer and fans the tag's
	// current value out to subscribers immediately.
	UpdateIm(group, tag string, value tagmodel.Value)

	// UpdateWithTrace is Update plus an opaque trace context handle
	// attached to the group's shared trace slot (internal/tagcache.
	// UpdateTrace).
	UpdateWithTrace(group, tag string, value tagmodel.Value, traceHandle any)

	// WriteResponse reports the outcome of a single-tag write back to the
	// originating request.
	WriteResponse(req Request, errCode tagmodel.ErrorCode)

	// WriteResponses reports per-tag outcomes for a batched write.
	WriteResponses(req Request, errCodes []tagmodel.ErrorCode)

	DirectoryResponse(req Request, entries []string, err error)
	FupOpenResponse(req Request, handle string, err error)
	FdownOpenResponse(req Request, handle string, size int64, err error)
	FupDataResponse(req Request, handle string, err error)
	ScanTagsResponse(req Request, tags []tagmodel.Tag, err error)
	TestReadTagResponse(req Request, value tagmodel.Value, err error)

	// RegisterMetric declares a plugin-defined metric name so it shows up
	// under the adapter's Prometheus registry (internal/adapter/metrics).
	RegisterMetric(name, help string)
	// UpdateMetric sets a previously registered metric's value.
	UpdateMetric(name string, value float64, labels map[string]string)
}
