// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of iiot-gateway-core.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package tracectx

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/edgehaus/iiot-gateway-core/pkg/nats"
)

// NATSExporter ships completed trace contexts as JSON documents to a NATS
// subject, used when otel_config.action == "start" configures a collector
// reachable over the optional remote-subscriber transport rather than a
// direct OTLP endpoint (OTLP wire encoding itself stays out of scope).
type NATSExporter struct {
	Client  *nats.Client
	Subject string
	Timeout time.Duration
}

type exportedSpan struct {
	SpanID       string         `json:"span_id"`
	ParentSpanID string         `json:"parent_span_id,omitempty"`
	Kind         SpanKind       `json:"kind"`
	Attributes   map[string]any `json:"attributes,omitempty"`
	StartNS      int64          `json:"start_ns"`
	EndNS        int64          `json:"end_ns"`
	Status       StatusCode     `json:"status"`
}

type exportedTrace struct {
	TraceID string         `json:"trace_id"`
	Flags   byte           `json:"flags"`
	Spans   []exportedSpan `json:"spans"`
}

// Export serializes ctx and requests a response from e.Subject, mapping a
// NATS timeout to HTTP 400 (treat as a permanently undeliverable export so
// the reaper still frees the entry) and any other transport error to a
// retryable non-200/400 status.
func (e *NATSExporter) Export(ctx *Context) (int, error) {
	doc := exportedTrace{
		TraceID: ctx.ID.String(),
		Flags:   ctx.Flags,
	}
	for _, s := range ctx.Spans() {
		doc.Spans = append(doc.Spans, exportedSpan{
			SpanID:       s.SpanID.String(),
			ParentSpanID: s.ParentSpanID.String(),
			Kind:         s.Kind,
			Attributes:   s.Attributes,
			StartNS:      s.StartNS,
			EndNS:        s.EndNS,
			Status:       s.Status,
		})
	}

	body, err := json.Marshal(doc)
	if err != nil {
		return 0, err
	}

	timeout := e.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	cctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	resp, err := e.Client.Request(cctx, e.Subject, body)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return 400, nil
		}
		return 0, err
	}

	var ack struct {
		Status int `json:"status"`
	}
	if err := json.Unmarshal(resp, &ack); err != nil {
		return 0, err
	}
	return ack.Status, nil
}
