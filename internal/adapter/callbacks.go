// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of iiot-gateway-core.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package adapter

import (
	"time"

	"github.com/edgehaus/iiot-gateway-core/internal/adapter/metrics"
	"github.com/edgehaus/iiot-gateway-core/internal/tagcache"
	"github.com/edgehaus/iiot-gateway-core/pkg/driver"
	"github.com/edgehaus/iiot-gateway-core/pkg/log"
	"github.com/edgehaus/iiot-gateway-core/pkg/tagmodel"
)

// Callbacks returns the adapter_callbacks record handed to the plugin at
// init: the only surface through which a plugin reports values, write
// outcomes and metrics back into the runtime.
func (a *Adapter) Callbacks() driver.Callbacks {
	return adapterCallbacks{a}
}

type adapterCallbacks struct {
	a *Adapter
}

// Update stores a new value. tag == "" broadcasts value (typically an
// ERROR) to every read-enabled tag in the group and bumps the group error
// metrics.
func (c adapterCallbacks) Update(group, tag string, value tagmodel.Value) {
	var metas [tagcache.NumMetaSlots][]byte
	c.UpdateWithMeta(group, tag, value, metas)
}

func (c adapterCallbacks) UpdateWithMeta(group, tag string, value tagmodel.Value, metas [tagcache.NumMetaSlots][]byte) {
	a := c.a
	now := time.Now()

	if tag == "" {
		g, ok := a.Group(group)
		if !ok {
			log.Warnf("adapter %s: update for unknown group %q", a.name, group)
			return
		}
		for _, t := range g.Tags() {
			if !t.Attribute.Has(tagmodel.AttrRead) {
				continue
			}
			a.cache.UpdateChange(group, t.Name, now, value.Clone(), metas, t.Precision, false)
		}
		if ev, isErr := value.(tagmodel.ErrorValue); isErr {
			metrics.GroupLastErrorCode.WithLabelValues(a.name, group).Set(float64(ev.Code))
			metrics.GroupLastErrorTS.WithLabelValues(a.name, group).Set(float64(now.Unix()))
		}
		return
	}

	precision := uint8(0)
	if g, ok := a.Group(group); ok {
		if t, ok := g.findTag(tag); ok {
			precision = t.Precision
		}
	}
	a.cache.UpdateChange(group, tag, now, value, metas, precision, false)
}

// UpdateIm bypasses the periodic report and fans the tag's value out to
// subscribers immediately.
func (c adapterCallbacks) UpdateIm(group, tag string, value tagmodel.Value) {
	a := c.a
	c.Update(group, tag, value)

	g, ok := a.Group(group)
	if !ok {
		return
	}
	t, ok := g.findTag(tag)
	if !ok {
		return
	}

	value2, metas, _, ok := a.cache.MetaGet(group, tag)
	if !ok {
		return
	}
	body := &TransData{
		DriverName: a.name,
		GroupName:  group,
		Tags:       []ReportTag{a.emitTag(t, value2, metas)},
	}
	a.dispatchReport(g, body)
}

func (c adapterCallbacks) UpdateWithTrace(group, tag string, value tagmodel.Value, traceHandle any) {
	c.Update(group, tag, value)
	c.a.cache.UpdateTrace(group, traceHandle)
}

// WriteResponse handles a single-tag write outcome the same way as
// WriteResponses: a non-zero code is logged.
func (c adapterCallbacks) WriteResponse(req driver.Request, errCode tagmodel.ErrorCode) {
	c.WriteResponses(req, []tagmodel.ErrorCode{errCode})
}

func (c adapterCallbacks) WriteResponses(req driver.Request, errCodes []tagmodel.ErrorCode) {
	// The write path answers the client synchronously at validation time;
	// plugin-side outcomes arriving later are surfaced via the trace span
	// status and the log, since the reply channel is gone by then.
	for _, code := range errCodes {
		if code != 0 {
			log.Warnf("adapter %s: plugin write response for request %s: %s", c.a.name, req.ID, code)
		}
	}
}

func (c adapterCallbacks) DirectoryResponse(req driver.Request, entries []string, err error) {
	logAsyncResponse(c.a.name, "directory", req, err)
}

func (c adapterCallbacks) FupOpenResponse(req driver.Request, handle string, err error) {
	logAsyncResponse(c.a.name, "fup_open", req, err)
}

func (c adapterCallbacks) FdownOpenResponse(req driver.Request, handle string, size int64, err error) {
	logAsyncResponse(c.a.name, "fdown_open", req, err)
}

func (c adapterCallbacks) FupDataResponse(req driver.Request, handle string, err error) {
	logAsyncResponse(c.a.name, "fup_data", req, err)
}

func (c adapterCallbacks) ScanTagsResponse(req driver.Request, tags []tagmodel.Tag, err error) {
	logAsyncResponse(c.a.name, "scan_tags", req, err)
}

func (c adapterCallbacks) TestReadTagResponse(req driver.Request, value tagmodel.Value, err error) {
	logAsyncResponse(c.a.name, "test_read_tag", req, err)
}

func logAsyncResponse(name, op string, req driver.Request, err error) {
	if err != nil {
		log.Warnf("adapter %s: async %s response for request %s: %v", name, op, req.ID, err)
		return
	}
	log.Debugf("adapter %s: async %s response for request %s", name, op, req.ID)
}

func (c adapterCallbacks) RegisterMetric(name, help string) {
	metrics.RegisterPlugin(name, help)
}

func (c adapterCallbacks) UpdateMetric(name string, value float64, labels map[string]string) {
	metrics.UpdatePlugin(name, value, labels)
}
