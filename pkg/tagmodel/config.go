// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of iiot-gateway-core.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package tagmodel

import (
	"fmt"
	"net"
)

// ConnectionType names one of the five transport kinds a plugin's group can
// bind to (see internal/transport).
type ConnectionType string

const (
	ConnTCPServer ConnectionType = "tcp_server"
	ConnTCPClient ConnectionType = "tcp_client"
	ConnUDP       ConnectionType = "udp"
	ConnUDPTo     ConnectionType = "udp_to"
	ConnTTYClient ConnectionType = "tty_client"
)

// Parity is the serial parity mode.
type Parity string

const (
	ParityNone  Parity = "none"
	ParityOdd   Parity = "odd"
	ParityEven  Parity = "even"
	ParityMark  Parity = "mark"
	ParitySpace Parity = "space"
)

// ConnectionParam is the union of per-transport connection parameters a
// group's configuration carries. Only the fields that apply to Type are
// populated; internal/transport.NewDialer/Listen switch on Type to pick them.
type ConnectionParam struct {
	Type ConnectionType `json:"type"`

	// tcp_server
	IP            string `json:"ip,omitempty"`
	Port          int    `json:"port,omitempty"`
	MaxLink       int    `json:"max_link,omitempty"` // bounded listener backlog; oldest connection evicted past this
	StartListenCB string `json:"start_listen_cb,omitempty"`
	StopListenCB  string `json:"stop_listen_cb,omitempty"`

	// tcp_client / tcp_server / udp / udp_to / tty_client (shared)
	TimeoutMs int `json:"timeout_ms,omitempty"`

	// udp / udp_to
	SrcIP   string `json:"src_ip,omitempty"`
	SrcPort int    `json:"src_port,omitempty"`
	DstIP   string `json:"dst_ip,omitempty"`
	DstPort int    `json:"dst_port,omitempty"`

	// tty_client
	Device   string `json:"device,omitempty"`
	Baud     int    `json:"baud,omitempty"`
	DataBits int    `json:"data_bits,omitempty"`
	StopBits int    `json:"stop_bits,omitempty"`
	Parity   Parity `json:"parity,omitempty"`
	Flow     bool   `json:"flow,omitempty"`
}

var validBauds = map[int]bool{
	150: true, 300: true, 600: true, 1200: true, 2400: true, 4800: true,
	9600: true, 19200: true, 38400: true, 57600: true, 115200: true,
}

// Validate enforces the field-presence and range rules attached to each
// connection_param.Type.
func (c ConnectionParam) Validate() error {
	switch c.Type {
	case ConnTCPServer:
		if c.IP == "" || c.Port <= 0 {
			return fmt.Errorf("tcp_server: ip and port are required")
		}
		if net.ParseIP(c.IP) == nil {
			return fmt.Errorf("tcp_server: ip %q is not a valid IPv4 or IPv6 address", c.IP)
		}
		if c.MaxLink < 0 {
			return fmt.Errorf("tcp_server: max_link must be >= 0")
		}
	case ConnTCPClient:
		if c.IP == "" || c.Port <= 0 {
			return fmt.Errorf("tcp_client: ip and port are required")
		}
		if net.ParseIP(c.IP) == nil {
			return fmt.Errorf("tcp_client: ip %q is not a valid IPv4 or IPv6 address", c.IP)
		}
	case ConnUDP:
		if c.SrcIP == "" || c.DstIP == "" || c.DstPort <= 0 {
			return fmt.Errorf("udp: src_ip, dst_ip and dst_port are required")
		}
		if net.ParseIP(c.SrcIP) == nil {
			return fmt.Errorf("udp: src_ip %q is not a valid IPv4 or IPv6 address", c.SrcIP)
		}
		if net.ParseIP(c.DstIP) == nil {
			return fmt.Errorf("udp: dst_ip %q is not a valid IPv4 or IPv6 address", c.DstIP)
		}
	case ConnUDPTo:
		if c.SrcIP == "" || c.SrcPort <= 0 {
			return fmt.Errorf("udp_to: src_ip and src_port are required")
		}
		if net.ParseIP(c.SrcIP) == nil {
			return fmt.Errorf("udp_to: src_ip %q is not a valid IPv4 or IPv6 address", c.SrcIP)
		}
	case ConnTTYClient:
		if c.Device == "" {
			return fmt.Errorf("tty_client: device is required")
		}
		if !validBauds[c.Baud] {
			return fmt.Errorf("tty_client: unsupported baud rate %d", c.Baud)
		}
		if c.DataBits < 5 || c.DataBits > 8 {
			return fmt.Errorf("tty_client: data_bits must be 5..8, got %d", c.DataBits)
		}
		if c.StopBits != 1 && c.StopBits != 2 {
			return fmt.Errorf("tty_client: stop_bits must be 1 or 2, got %d", c.StopBits)
		}
		switch c.Parity {
		case ParityNone, ParityOdd, ParityEven, ParityMark, ParitySpace:
		default:
			return fmt.Errorf("tty_client: invalid parity %q", c.Parity)
		}
	default:
		return fmt.Errorf("unknown connection_param type %q", c.Type)
	}
	return nil
}

// OTelAction is the control verb of an OTelConfig request.
type OTelAction string

const (
	OTelActionStart OTelAction = "start"
	OTelActionStop  OTelAction = "stop"
)

// OTelConfig controls the trace context registry's optional span export
// (see internal/tracectx). data_sample_rate throttles which traces are
// exported with full tag-value data versus span metadata only; it does
// not affect whether a trace ID is assigned, since trace_ctx plumbing is
// always present.
type OTelConfig struct {
	Action         OTelAction `json:"action"`
	CollectorURL   string     `json:"collector_url,omitempty"`
	ServiceName    string     `json:"service_name,omitempty"`
	DataSampleRate float64    `json:"data_sample_rate"`
	ControlFlag    bool       `json:"control_flag"`
	DataFlag       bool       `json:"data_flag"`
}

func (c OTelConfig) Validate() error {
	switch c.Action {
	case OTelActionStart, OTelActionStop:
	default:
		return fmt.Errorf("otel_config: invalid action %q", c.Action)
	}
	if c.DataSampleRate < 0 || c.DataSampleRate > 1 {
		return fmt.Errorf("otel_config: data_sample_rate must be in [0,1], got %f", c.DataSampleRate)
	}
	return nil
}
