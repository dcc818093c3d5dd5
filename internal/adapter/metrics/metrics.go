// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of iiot-gateway-core.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package metrics holds the Prometheus collectors the driver adapter
// publishes (TAGS_TOTAL, LAST_TIMER_MS, GROUP_LAST_ERROR_CODE,
// GROUP_LAST_ERROR_TS, the queue overflow counter) and the dynamic
// registration surface plugins reach through the adapter's
// register_metric/update_metric callbacks.
package metrics

import (
	"sort"
	"strings"
	"sync"

	"github.com/edgehaus/iiot-gateway-core/pkg/log"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	registry = prometheus.NewRegistry()

	// TagsTotal is the number of tags a driver currently serves, published
	// on adapter start.
	TagsTotal = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "gateway_tags_total",
		Help: "Number of configured tags per driver.",
	}, []string{"driver"})

	// LastTimerMs records the duration of a group's most recent read-timer
	// cycle.
	LastTimerMs = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "gateway_group_last_timer_ms",
		Help: "Duration of the last read-timer cycle per group, in milliseconds.",
	}, []string{"driver", "group"})

	// GroupLastErrorCode holds the most recent group-wide plugin error code.
	GroupLastErrorCode = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "gateway_group_last_error_code",
		Help: "Most recent group-wide error code reported by the plugin.",
	}, []string{"driver", "group"})

	// GroupLastErrorTS holds the unix timestamp of the most recent
	// group-wide plugin error.
	GroupLastErrorTS = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "gateway_group_last_error_timestamp_seconds",
		Help: "Unix timestamp of the most recent group-wide error.",
	}, []string{"driver", "group"})

	// QueueOverflowTotal counts messages dropped because the adapter
	// message queue was full.
	QueueOverflowTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_adapter_queue_overflow_total",
		Help: "Messages dropped on a full adapter message queue.",
	}, []string{"driver"})

	// ReportsSentTotal counts TRANS_DATA payloads dispatched to subscribers.
	ReportsSentTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_reports_sent_total",
		Help: "TRANS_DATA payloads dispatched, per driver/group/app.",
	}, []string{"driver", "group", "app"})
)

func init() {
	registry.MustRegister(TagsTotal, LastTimerMs, GroupLastErrorCode,
		GroupLastErrorTS, QueueOverflowTotal, ReportsSentTotal)
}

// Registry exposes the adapter registry for the promhttp handler wired in
// cmd/gateway.
func Registry() *prometheus.Registry { return registry }

type pluginMetric struct {
	help   string
	gauge  prometheus.Gauge
	vecs   map[string]*prometheus.GaugeVec // keyed by sorted label-name signature
	labels map[string][]string
}

var (
	pluginMu      sync.Mutex
	pluginMetrics = map[string]*pluginMetric{}
)

// RegisterPlugin records a plugin-defined metric name. The concrete
// collector is created lazily on the first UpdatePlugin call, since the
// label set is only known then.
func RegisterPlugin(name, help string) {
	pluginMu.Lock()
	defer pluginMu.Unlock()
	if _, ok := pluginMetrics[name]; ok {
		return
	}
	pluginMetrics[name] = &pluginMetric{
		help:   help,
		vecs:   map[string]*prometheus.GaugeVec{},
		labels: map[string][]string{},
	}
}

// UpdatePlugin sets a registered plugin metric. Unregistered names are
// registered implicitly with an empty help string so a plugin that skips
// register_metric still gets its value exported.
func UpdatePlugin(name string, value float64, labels map[string]string) {
	pluginMu.Lock()
	defer pluginMu.Unlock()

	m, ok := pluginMetrics[name]
	if !ok {
		m = &pluginMetric{vecs: map[string]*prometheus.GaugeVec{}, labels: map[string][]string{}}
		pluginMetrics[name] = m
	}

	if len(labels) == 0 {
		if m.gauge == nil {
			m.gauge = prometheus.NewGauge(prometheus.GaugeOpts{Name: name, Help: m.help})
			if err := registry.Register(m.gauge); err != nil {
				log.Warnf("metrics: plugin metric %q: %v", name, err)
			}
		}
		m.gauge.Set(value)
		return
	}

	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	sig := strings.Join(keys, ",")

	vec, ok := m.vecs[sig]
	if !ok {
		vec = prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: name, Help: m.help}, keys)
		if err := registry.Register(vec); err != nil {
			log.Warnf("metrics: plugin metric %q: %v", name, err)
		}
		m.vecs[sig] = vec
		m.labels[sig] = keys
	}
	vec.With(labels).Set(value)
}
