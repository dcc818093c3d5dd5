// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of iiot-gateway-core.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package transport

import (
	"fmt"
	"net"
	"time"

	"github.com/edgehaus/iiot-gateway-core/pkg/log"
	"github.com/edgehaus/iiot-gateway-core/pkg/tagmodel"
	"golang.org/x/sys/unix"
)

// addrFamily classifies a textual IP as unix.AF_INET or unix.AF_INET6,
// or unix.AF_UNSPEC when it parses as neither.
func addrFamily(s string) int {
	ip := net.ParseIP(s)
	if ip == nil {
		return unix.AF_UNSPEC
	}
	if ip.To4() != nil {
		return unix.AF_INET
	}
	return unix.AF_INET6
}

// validateFamily checks, before any bind, that every IP the param names is
// IPv4 or IPv6 and that addresses sharing one socket (a udp src/dst pair)
// agree on family. A violation is a fatal config error: it is logged and
// returned, never thrown.
func validateFamily(param tagmodel.ConnectionParam) error {
	check := func(field, v string) (int, error) {
		fam := addrFamily(v)
		if fam == unix.AF_UNSPEC {
			err := fmt.Errorf("transport: %s: %s %q is neither IPv4 nor IPv6", param.Type, field, v)
			log.Errorf("%v", err)
			return fam, err
		}
		return fam, nil
	}

	switch param.Type {
	case tagmodel.ConnTCPServer, tagmodel.ConnTCPClient:
		_, err := check("ip", param.IP)
		return err
	case tagmodel.ConnUDP:
		src, err := check("src_ip", param.SrcIP)
		if err != nil {
			return err
		}
		dst, err := check("dst_ip", param.DstIP)
		if err != nil {
			return err
		}
		if src != dst {
			err := fmt.Errorf("transport: udp: src_ip %q and dst_ip %q are of mismatched address families", param.SrcIP, param.DstIP)
			log.Errorf("%v", err)
			return err
		}
	case tagmodel.ConnUDPTo:
		_, err := check("src_ip", param.SrcIP)
		return err
	}
	return nil
}

// NewDialer builds the Dialer appropriate for param.Type. tcp_server is
// handled separately by Listener since it accepts rather than dials.
func NewDialer(param tagmodel.ConnectionParam) (Dialer, error) {
	if err := param.Validate(); err != nil {
		return nil, err
	}
	if err := validateFamily(param); err != nil {
		return nil, err
	}

	timeout := time.Duration(param.TimeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	switch param.Type {
	case tagmodel.ConnTCPClient:
		addr := net.JoinHostPort(param.IP, portStr(param.Port))
		return func() (netConn, error) {
			conn, err := net.DialTimeout("tcp", addr, timeout)
			if err != nil {
				return nil, err
			}
			return conn.(*net.TCPConn), nil
		}, nil

	case tagmodel.ConnUDP:
		laddr := &net.UDPAddr{IP: net.ParseIP(param.SrcIP), Port: param.SrcPort}
		raddr := &net.UDPAddr{IP: net.ParseIP(param.DstIP), Port: param.DstPort}
		return func() (netConn, error) {
			return net.DialUDP("udp", laddr, raddr)
		}, nil

	case tagmodel.ConnUDPTo:
		laddr := &net.UDPAddr{IP: net.ParseIP(param.SrcIP), Port: param.SrcPort}
		return func() (netConn, error) {
			pc, err := net.ListenUDP("udp", laddr)
			if err != nil {
				return nil, err
			}
			return &sendtoRecvfromConn{pc: pc}, nil
		}, nil

	case tagmodel.ConnTTYClient:
		return func() (netConn, error) {
			return dialSerial(param)
		}, nil

	default:
		return nil, fmt.Errorf("transport: %q cannot be dialed, use Listener", param.Type)
	}
}

func portStr(p int) string {
	return fmt.Sprintf("%d", p)
}

// sendtoRecvfromConn adapts net.PacketConn (as returned by ListenUDP for
// udp_to, the "sendto/recvfrom" style group) to Connection's netConn
// interface. A udp_to connection has no fixed peer until the first packet
// is received from one, so Write returns an error until then; afterwards
// Write sends to the peer the most recent Read came from.
type sendtoRecvfromConn struct {
	pc   net.PacketConn
	peer net.Addr
}

func (s *sendtoRecvfromConn) Read(b []byte) (int, error) {
	n, addr, err := s.pc.ReadFrom(b)
	if err == nil {
		s.peer = addr
	}
	return n, err
}

func (s *sendtoRecvfromConn) Write(b []byte) (int, error) {
	if s.peer == nil {
		return 0, fmt.Errorf("transport: udp_to has no known peer yet")
	}
	return s.pc.WriteTo(b, s.peer)
}

func (s *sendtoRecvfromConn) Close() error { return s.pc.Close() }

func (s *sendtoRecvfromConn) SetReadDeadline(t time.Time) error  { return s.pc.SetReadDeadline(t) }
func (s *sendtoRecvfromConn) SetWriteDeadline(t time.Time) error { return s.pc.SetWriteDeadline(t) }
