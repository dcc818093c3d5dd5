// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of iiot-gateway-core.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package adapter

import (
	"time"

	"github.com/edgehaus/iiot-gateway-core/internal/adapter/metrics"
	"github.com/edgehaus/iiot-gateway-core/internal/tagcache"
	"github.com/edgehaus/iiot-gateway-core/internal/tracectx"
	"github.com/edgehaus/iiot-gateway-core/pkg/driver"
	"github.com/edgehaus/iiot-gateway-core/pkg/log"
	"github.com/edgehaus/iiot-gateway-core/pkg/tagmodel"
)

// reportCycle is the report-timer body: it builds a TRANS_DATA payload via
// the fan-out walk and dispatches one deep-cloned copy per subscriber.
func (a *Adapter) reportCycle(g *Group) {
	if a.State() != StateRunning {
		return
	}

	body := a.buildReport(g, time.Now())
	if body == nil {
		return
	}
	a.dispatchReport(g, body)
}

// buildReport walks the group's read-enabled tags and assembles the report
// body, or nil when no tag survived the walk. now is passed in so tests
// can drive the expiry check without sleeping.
func (a *Adapter) buildReport(g *Group, now time.Time) *TransData {
	tags := g.Tags()
	expireAfter := time.Duration(cacheExpireFactor) * g.Interval()

	var out []ReportTag
	for _, t := range tags {
		if !t.Attribute.Has(tagmodel.AttrRead) {
			continue
		}

		var (
			value tagmodel.Value
			metas [tagcache.NumMetaSlots][]byte
			ts    time.Time
			ok    bool
		)
		if t.Attribute.Has(tagmodel.AttrSubscribe) {
			value, metas, ts, ok = a.cache.MetaGetChanged(g.name, t.Name)
			if !ok {
				continue // unchanged since the last report
			}
		} else {
			value, metas, ts, ok = a.cache.MetaGet(g.name, t.Name)
			if !ok {
				out = append(out, ReportTag{
					Name:      t.Name,
					Value:     tagmodel.ErrorValue{Code: tagmodel.ErrTagNotReady},
					ErrorCode: tagmodel.ErrTagNotReady,
				})
				continue
			}
		}

		if a.cacheType != driver.CacheNever && !ts.IsZero() && now.Sub(ts) > expireAfter {
			out = append(out, ReportTag{
				Name:      t.Name,
				Value:     tagmodel.ErrorValue{Code: tagmodel.ErrTagValueExpired},
				ErrorCode: tagmodel.ErrTagValueExpired,
			})
			continue
		}

		out = append(out, a.emitTag(t, value, metas))
	}

	if len(out) == 0 {
		return nil
	}

	body := &TransData{DriverName: a.name, GroupName: g.name, Tags: out}
	if h, ok := a.cache.GetTrace(g.name); ok {
		if tc, ok := h.(*tracectx.Context); ok {
			body.TraceCtx = tc.ID.String()
		}
	}
	return body
}

// emitTag applies the wire transforms to one cached value: endian byte
// image for scalars, decimal/bias promotion to DOUBLE, and the
// decimal-compaction pass for unscaled doubles.
func (a *Adapter) emitTag(t tagmodel.Tag, value tagmodel.Value, metas [tagcache.NumMetaSlots][]byte) ReportTag {
	rt := ReportTag{Name: t.Name, Value: value, Bias: t.Bias, Metas: metas}

	if ev, isErr := value.(tagmodel.ErrorValue); isErr {
		rt.ErrorCode = ev.Code
		return rt
	}

	if t.Decimal != 0 || t.Bias != 0 {
		rt.Value = applyScaling(value, t.Decimal, t.Bias)
		return rt
	}

	if d, ok := rt.Value.(tagmodel.Scalar[float64]); ok && t.Precision == 0 && t.Bias == 0 {
		rt.Value = tagmodel.NewDouble(compactDouble(d.V))
	}

	if t.AddrOpt.Order != tagmodel.OrderNative {
		rt.WireBytes = EncodeScalar(rt.Value, t.AddrOpt.Order)
	}
	return rt
}

// dispatchReport sends body to each subscriber in a snapshot of the
// group's subscriber list taken under its apps mutex, deep-cloning body
// once per additional subscriber after the lock is released; a failed
// send only loses that subscriber's own clone.
func (a *Adapter) dispatchReport(g *Group, body *TransData) {
	subs := g.subscribers()
	if len(subs) == 0 {
		return
	}

	for i, sub := range subs {
		payload := body
		if i > 0 {
			payload = body.cloneForFanout()
		}
		if err := a.sender.Send(sub, payload); err != nil {
			log.Warnf("adapter %s: report to %q failed: %v", a.name, sub.AppName, err)
			continue
		}
		metrics.ReportsSentTotal.WithLabelValues(a.name, g.name, sub.AppName).Inc()
	}
}

// ReadGroupSync serves a client's read_group(sync=true) request: the
// group's timers are paused, the plugin polls the device
// in-line into the cache, and the same fan-out walk builds the response
// body. A plugin without group_sync gets every tag answered with
// ERROR(PLUGIN_NOT_SUPPORT_READ_SYNC) and the timers are never paused.
func (a *Adapter) ReadGroupSync(groupName string) (*TransData, error) {
	g, ok := a.Group(groupName)
	if !ok {
		return nil, tagmodel.CodedError{Code: tagmodel.ErrGroupNotExist}
	}

	syncer, ok := a.plugin.(driver.GroupSyncer)
	if !ok {
		body := &TransData{DriverName: a.name, GroupName: groupName}
		for _, t := range g.Tags() {
			if !t.Attribute.Has(tagmodel.AttrRead) {
				continue
			}
			body.Tags = append(body.Tags, ReportTag{
				Name:      t.Name,
				Value:     tagmodel.ErrorValue{Code: tagmodel.ErrPluginNotSupportReadSync},
				ErrorCode: tagmodel.ErrPluginNotSupportReadSync,
			})
		}
		return body, nil
	}

	a.mu.Lock()
	paused := g.timersOn
	if paused {
		a.stopGroupTimers(g)
	}
	a.mu.Unlock()

	err := syncer.GroupSync(g.pluginGroup(a.name))

	a.mu.Lock()
	if paused && a.state == StateRunning {
		if rerr := a.startGroupTimers(g); rerr != nil {
			log.Errorf("adapter %s: restart timers for %q: %v", a.name, groupName, rerr)
		}
	}
	a.mu.Unlock()

	if err != nil {
		return nil, err
	}

	body := a.buildReport(g, time.Now())
	if body == nil {
		body = &TransData{DriverName: a.name, GroupName: groupName}
	}
	return body, nil
}
