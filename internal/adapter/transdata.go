// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of iiot-gateway-core.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package adapter

import (
	"encoding/json"
	"fmt"
	"net"

	"github.com/edgehaus/iiot-gateway-core/internal/tagcache"
	natstransport "github.com/edgehaus/iiot-gateway-core/pkg/nats"
	"github.com/edgehaus/iiot-gateway-core/pkg/tagmodel"
)

// ReportTag is one tag entry in a TRANS_DATA body. WireBytes
// is the endian-applied byte image of a scalar value (nil when the tag's
// byte order is native or the value is not a scalar); Bias echoes the tag's
// configured bias so consumers can recover the raw device value.
type ReportTag struct {
	Name      string                        `json:"tag_name"`
	Value     tagmodel.Value                `json:"-"`
	WireBytes []byte                        `json:"value_bytes,omitempty"`
	ErrorCode tagmodel.ErrorCode            `json:"error,omitempty"`
	Bias      float64                       `json:"bias,omitempty"`
	Metas     [tagcache.NumMetaSlots][]byte `json:"metas,omitempty"`
}

// MarshalJSON flattens the tagged-union Value into {type, value} the way
// the wire body carries it.
func (r ReportTag) MarshalJSON() ([]byte, error) {
	type alias ReportTag
	return json.Marshal(struct {
		alias
		Type  string         `json:"type"`
		Value tagmodel.Value `json:"value,omitempty"`
	}{alias(r), r.valueType(), r.Value})
}

func (r ReportTag) valueType() string {
	if r.Value == nil {
		return tagmodel.TypeError.String()
	}
	return r.Value.Type().String()
}

// TransData is one report payload fanned out to every subscriber of a
// group. Each subscriber receives its own deep clone (see cloneForFanout),
// so a failed send frees exactly its own copy.
type TransData struct {
	DriverName string      `json:"driver_name"`
	GroupName  string      `json:"group_name"`
	TraceCtx   string      `json:"trace_ctx,omitempty"`
	Tags       []ReportTag `json:"tags"`
}

// cloneForFanout deep-copies the body for one additional subscriber: every
// value payload and meta slot is duplicated so no two subscribers alias
// the same buffers.
func (t *TransData) cloneForFanout() *TransData {
	cp := &TransData{
		DriverName: t.DriverName,
		GroupName:  t.GroupName,
		TraceCtx:   t.TraceCtx,
		Tags:       make([]ReportTag, len(t.Tags)),
	}
	for i, rt := range t.Tags {
		c := rt
		if rt.Value != nil {
			c.Value = rt.Value.Clone()
		}
		if rt.WireBytes != nil {
			c.WireBytes = append([]byte(nil), rt.WireBytes...)
		}
		for j, m := range rt.Metas {
			if m != nil {
				c.Metas[j] = append([]byte(nil), m...)
			}
		}
		cp.Tags[i] = c
	}
	return cp
}

// ReportSender delivers one TRANS_DATA body to one subscriber.
type ReportSender interface {
	Send(sub Subscriber, body *TransData) error
}

// DatagramSender is the default local transport: a UNIX datagram socket in
// the abstract namespace at \0neuron-<port>. Remote
// subscribers are instead published over NATS when a client is connected.
type DatagramSender struct{}

func (DatagramSender) Send(sub Subscriber, body *TransData) error {
	if sub.Remote {
		client := natstransport.GetClient()
		if client == nil {
			return fmt.Errorf("adapter: remote subscriber %q but NATS is not connected", sub.AppName)
		}
		payload, err := json.Marshal(body)
		if err != nil {
			return err
		}
		return client.PublishReport(sub.Addr, payload)
	}

	raddr := &net.UnixAddr{Name: "\x00" + sub.Addr, Net: "unixgram"}
	conn, err := net.DialUnix("unixgram", nil, raddr)
	if err != nil {
		return fmt.Errorf("adapter: dial subscriber %q: %w", sub.AppName, err)
	}
	defer conn.Close()

	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	if _, err := conn.Write(payload); err != nil {
		return fmt.Errorf("adapter: send to subscriber %q: %w", sub.AppName, err)
	}
	return nil
}
