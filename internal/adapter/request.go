// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of iiot-gateway-core.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package adapter

import (
	"encoding/json"

	"github.com/edgehaus/iiot-gateway-core/internal/adapter/metrics"
	"github.com/edgehaus/iiot-gateway-core/internal/adapter/queue"
	"github.com/edgehaus/iiot-gateway-core/pkg/driver"
	"github.com/edgehaus/iiot-gateway-core/pkg/log"
	"github.com/edgehaus/iiot-gateway-core/pkg/tagmodel"
)

// Control requests are typed messages on the adapter message queue,
// matched by the consumer goroutine, each carrying its own response
// channel so the handler can answer without threading a raw
// request-header pointer through callbacks.

// ReadGroupMsg asks for a group's current values; Sync selects the
// in-line device poll over the cached values.
type ReadGroupMsg struct {
	GroupName string
	Sync      bool
	Resp      chan ReadGroupResult
}

// ReadGroupResult is the body and error for one ReadGroupMsg.
type ReadGroupResult struct {
	Body *TransData
	Err  error
}

func (m *ReadGroupMsg) Destroy() {}

// WriteMsg submits writes; MultiGroup selects write_gtags semantics.
type WriteMsg struct {
	Req        driver.Request
	Writes     []WriteRequest
	MultiGroup bool
	Resp       chan []tagmodel.ErrorCode
}

func (m *WriteMsg) Destroy() {}

// SubscribeMsg adds or removes (when Remove is set) a subscriber.
type SubscribeMsg struct {
	GroupName string
	Sub       Subscriber
	Remove    bool
	Resp      chan error
}

func (m *SubscribeMsg) Destroy() {}

// ScanTagsMsg asks the plugin to enumerate addressable device points.
type ScanTagsMsg struct {
	Req  driver.Request
	Resp chan ScanTagsResult
}

// ScanTagsResult carries the scan outcome.
type ScanTagsResult struct {
	Tags []tagmodel.Tag
	Code tagmodel.ErrorCode
}

func (m *ScanTagsMsg) Destroy() {}

// TestReadTagMsg asks the plugin for an ad-hoc read of one unconfigured
// tag address.
type TestReadTagMsg struct {
	Req  driver.Request
	Tag  tagmodel.Tag
	Resp chan TestReadTagResult
}

// TestReadTagResult carries the probe outcome.
type TestReadTagResult struct {
	Value tagmodel.Value
	Code  tagmodel.ErrorCode
}

func (m *TestReadTagMsg) Destroy() {}

// ActionMsg invokes a plugin-defined named action.
type ActionMsg struct {
	Req    driver.Request
	Name   string
	Params json.RawMessage
	Resp   chan ActionResult
}

// ActionResult carries the action outcome.
type ActionResult struct {
	Out  json.RawMessage
	Code tagmodel.ErrorCode
}

func (m *ActionMsg) Destroy() {}

// FileOp names one of the file-transfer capability operations of the
// plugin ABI. The adapter routes them to the plugin when it implements
// FileTransferer and answers PLUGIN_NOT_SUPPORT_* otherwise.
type FileOp int

const (
	FileOpDirectory FileOp = iota
	FileOpFupOpen
	FileOpFupData
	FileOpFdownOpen
	FileOpFdownData
)

// FileMsg carries one file-transfer operation.
type FileMsg struct {
	Req    driver.Request
	Op     FileOp
	Path   string
	Handle string
	Offset int64
	Size   int64
	Length int
	Data   []byte
	Resp   chan FileResult
}

// FileResult carries a file-transfer outcome; the populated fields depend
// on Op.
type FileResult struct {
	Entries []string
	Handle  string
	Size    int64
	Data    []byte
	Code    tagmodel.ErrorCode
}

func (m *FileMsg) Destroy() {}

// Submit places a control message on the adapter queue for the consumer
// goroutine. It reports false when the queue is full, in which case the
// caller still owns the message and no response will arrive.
func (a *Adapter) Submit(msg queue.Message) bool {
	a.mu.Lock()
	msgq := a.msgq
	a.mu.Unlock()
	if msgq == nil {
		return false
	}
	if msgq.Push(msg) {
		return true
	}
	metrics.QueueOverflowTotal.WithLabelValues(a.name).Inc()
	log.Warnf("adapter %s: message queue full, dropping %T", a.name, msg)
	return false
}

// dispatch runs on the consumer goroutine and matches one control message.
func (a *Adapter) dispatch(msg queue.Message) {
	switch m := msg.(type) {
	case *ReadGroupMsg:
		a.handleReadGroup(m)
	case *WriteMsg:
		if m.MultiGroup {
			m.Resp <- a.WriteGTags(m.Req, m.Writes)
		} else {
			m.Resp <- a.WriteTags(m.Req, m.Writes)
		}
	case *SubscribeMsg:
		if m.Remove {
			m.Resp <- a.Unsubscribe(m.GroupName, m.Sub.AppName)
		} else {
			m.Resp <- a.Subscribe(m.GroupName, m.Sub)
		}
	case *ScanTagsMsg:
		a.handleScanTags(m)
	case *TestReadTagMsg:
		a.handleTestReadTag(m)
	case *ActionMsg:
		a.handleAction(m)
	case *FileMsg:
		a.handleFile(m)
	default:
		log.Warnf("adapter %s: unknown message %T", a.name, msg)
		msg.Destroy()
	}
}

func (a *Adapter) handleReadGroup(m *ReadGroupMsg) {
	if m.Sync {
		body, err := a.ReadGroupSync(m.GroupName)
		m.Resp <- ReadGroupResult{Body: body, Err: err}
		return
	}

	g, ok := a.Group(m.GroupName)
	if !ok {
		m.Resp <- ReadGroupResult{Err: tagmodel.CodedError{Code: tagmodel.ErrGroupNotExist}}
		return
	}
	body := a.buildReportAll(g)
	m.Resp <- ReadGroupResult{Body: body}
}

// buildReportAll is the non-sync read_group body: every read-enabled tag's
// cached value unconditionally (change gating applies only to the
// periodic subscriber path).
func (a *Adapter) buildReportAll(g *Group) *TransData {
	body := &TransData{DriverName: a.name, GroupName: g.name}
	for _, t := range g.Tags() {
		if !t.Attribute.Has(tagmodel.AttrRead) {
			continue
		}
		value, metas, _, ok := a.cache.MetaGet(g.name, t.Name)
		if !ok {
			body.Tags = append(body.Tags, ReportTag{
				Name:      t.Name,
				Value:     tagmodel.ErrorValue{Code: tagmodel.ErrTagNotReady},
				ErrorCode: tagmodel.ErrTagNotReady,
			})
			continue
		}
		body.Tags = append(body.Tags, a.emitTag(t, value, metas))
	}
	return body
}

func (a *Adapter) handleScanTags(m *ScanTagsMsg) {
	scanner, ok := a.plugin.(driver.TagScanner)
	if !ok {
		m.Resp <- ScanTagsResult{Code: tagmodel.ErrPluginNotSupportScanTags}
		return
	}
	tags, err := scanner.ScanTags()
	if err != nil {
		m.Resp <- ScanTagsResult{Code: tagmodel.ErrInternal}
		return
	}
	m.Resp <- ScanTagsResult{Tags: tags}
}

func (a *Adapter) handleTestReadTag(m *TestReadTagMsg) {
	tester, ok := a.plugin.(driver.TagTester)
	if !ok {
		m.Resp <- TestReadTagResult{Code: tagmodel.ErrPluginNotSupportTestReadTag}
		return
	}
	v, err := tester.TestReadTag(m.Tag)
	if err != nil {
		m.Resp <- TestReadTagResult{Code: tagmodel.ErrInternal}
		return
	}
	m.Resp <- TestReadTagResult{Value: v}
}

func (a *Adapter) handleAction(m *ActionMsg) {
	runner, ok := a.plugin.(driver.ActionRunner)
	if !ok {
		m.Resp <- ActionResult{Code: tagmodel.ErrPluginNotSupportExeAction}
		return
	}
	out, err := runner.Action(m.Name, m.Params)
	if err != nil {
		m.Resp <- ActionResult{Code: tagmodel.ErrInternal}
		return
	}
	m.Resp <- ActionResult{Out: out}
}

func (a *Adapter) handleFile(m *FileMsg) {
	ft, ok := a.plugin.(driver.FileTransferer)
	if !ok {
		m.Resp <- FileResult{Code: fileOpUnsupported(m.Op)}
		return
	}

	switch m.Op {
	case FileOpDirectory:
		entries, err := ft.Directory(m.Path)
		if err != nil {
			m.Resp <- FileResult{Code: tagmodel.ErrInternal}
			return
		}
		m.Resp <- FileResult{Entries: entries}
	case FileOpFupOpen:
		handle, err := ft.FupOpen(m.Path, m.Size)
		if err != nil {
			m.Resp <- FileResult{Code: tagmodel.ErrInternal}
			return
		}
		m.Resp <- FileResult{Handle: handle}
	case FileOpFupData:
		if err := ft.FupData(m.Handle, m.Offset, m.Data); err != nil {
			m.Resp <- FileResult{Code: tagmodel.ErrInternal}
			return
		}
		m.Resp <- FileResult{}
	case FileOpFdownOpen:
		handle, size, err := ft.FdownOpen(m.Path)
		if err != nil {
			m.Resp <- FileResult{Code: tagmodel.ErrInternal}
			return
		}
		m.Resp <- FileResult{Handle: handle, Size: size}
	case FileOpFdownData:
		data, err := ft.FdownData(m.Handle, m.Offset, m.Length)
		if err != nil {
			m.Resp <- FileResult{Code: tagmodel.ErrInternal}
			return
		}
		m.Resp <- FileResult{Data: data}
	}
}

func fileOpUnsupported(op FileOp) tagmodel.ErrorCode {
	switch op {
	case FileOpDirectory:
		return tagmodel.ErrPluginNotSupportDirectory
	case FileOpFupOpen:
		return tagmodel.ErrPluginNotSupportFupOpen
	case FileOpFupData:
		return tagmodel.ErrPluginNotSupportFupData
	case FileOpFdownOpen:
		return tagmodel.ErrPluginNotSupportFdownOpen
	default:
		return tagmodel.ErrPluginNotSupportFdownData
	}
}
