// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of iiot-gateway-core.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package transport

import (
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/edgehaus/iiot-gateway-core/pkg/protobuf"
	"github.com/edgehaus/iiot-gateway-core/pkg/tagmodel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

// loopbackServer starts a plain TCP echo-ish server the test can write
// framed bytes into, returning its address.
func loopbackServer(t *testing.T, handle func(net.Conn)) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go handle(conn)
		}
	}()
	return ln.Addr().String()
}

func splitHostPort(t *testing.T, addr string) (string, int) {
	t.Helper()
	host, portStr, err := net.SplitHostPort(addr)
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	return host, port
}

func TestConnection_RunStreamConsume_ParsesFramedMessages(t *testing.T) {
	addr := loopbackServer(t, func(conn net.Conn) {
		defer conn.Close()
		// A trivial framing: one length byte followed by that many bytes.
		_, _ = conn.Write([]byte{3, 'a', 'b', 'c'})
		time.Sleep(50 * time.Millisecond)
	})
	host, port := splitHostPort(t, addr)

	param := tagmodel.ConnectionParam{Type: tagmodel.ConnTCPClient, IP: host, Port: port, TimeoutMs: 1000}
	dial, err := NewDialer(param)
	require.NoError(t, err)

	var connectedCalls, disconnectedCalls int32
	c := New(param, dial, func() { atomic.AddInt32(&connectedCalls, 1) }, func(error) { atomic.AddInt32(&disconnectedCalls, 1) })

	var gotFrame []byte
	for i := 0; i < 20 && gotFrame == nil; i++ {
		err := c.RunStreamConsume(200, func(cursor *protobuf.UnpackCursor) int {
			lenByte := cursor.Get(1)
			if lenByte == nil {
				return 0
			}
			n := int(lenByte[0])
			if cursor.UnusedSize() < 1+n {
				return 0
			}
			cursor.Unpack(1)
			body := cursor.Unpack(n)
			gotFrame = append([]byte(nil), body...)
			return 1 + n
		})
		require.NoError(t, err)
	}

	require.NotNil(t, gotFrame)
	assert.Equal(t, []byte("abc"), gotFrame)
	assert.Equal(t, int32(1), atomic.LoadInt32(&connectedCalls))
	assert.Zero(t, atomic.LoadInt32(&disconnectedCalls))

	sent, recv := c.ByteCounts()
	assert.Zero(t, sent)
	assert.Equal(t, int64(4), recv)
}

func TestConnection_RunWaitMsg_ReadsExactNeed(t *testing.T) {
	addr := loopbackServer(t, func(conn net.Conn) {
		defer conn.Close()
		_, _ = conn.Write([]byte{0, 4}) // 2-byte length header, then body
		time.Sleep(20 * time.Millisecond)
		_, _ = conn.Write([]byte("data"))
		time.Sleep(50 * time.Millisecond)
	})
	host, port := splitHostPort(t, addr)

	param := tagmodel.ConnectionParam{Type: tagmodel.ConnTCPClient, IP: host, Port: port, TimeoutMs: 2000}
	dial, err := NewDialer(param)
	require.NoError(t, err)
	c := New(param, dial, nil, nil)

	var body []byte
	stage := 0
	err = c.RunWaitMsg(2000, func(cursor *protobuf.UnpackCursor) (int, int) {
		switch stage {
		case 0:
			stage = 1
			return 0, 2
		case 1:
			hdr := cursor.Unpack(2)
			n := int(hdr[0])<<8 | int(hdr[1])
			stage = 2
			return 2, n
		default:
			body = cursor.UseAll()
			return len(body), 0
		}
	})
	require.NoError(t, err)
	assert.Equal(t, []byte("data"), body)
}

func TestConnection_Send_FailsWithoutServer(t *testing.T) {
	param := tagmodel.ConnectionParam{Type: tagmodel.ConnTCPClient, IP: "127.0.0.1", Port: 1, TimeoutMs: 50}
	dial, err := NewDialer(param)
	require.NoError(t, err)
	c := New(param, dial, nil, nil)

	err = c.Send([]byte("hi"), 50)
	assert.Error(t, err)
	assert.False(t, c.IsConnected())
}

func TestListener_EvictsOldestClientPastMaxLink(t *testing.T) {
	var accepted []*Connection
	var mu sync.Mutex

	// Listen rejects port 0, so borrow a free port from the OS first.
	probe, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := probe.Addr().(*net.TCPAddr).Port
	require.NoError(t, probe.Close())

	ln, err := Listen(tagmodel.ConnectionParam{Type: tagmodel.ConnTCPServer, IP: "127.0.0.1", Port: port, MaxLink: 1}, func(client *Connection) {
		mu.Lock()
		accepted = append(accepted, client)
		mu.Unlock()
	})
	require.NoError(t, err)
	defer ln.Close()

	addr := ln.ln.Addr().(*net.TCPAddr)

	c1, err := net.Dial("tcp", addr.String())
	require.NoError(t, err)
	defer c1.Close()
	waitForCount(t, ln, 1)

	c2, err := net.Dial("tcp", addr.String())
	require.NoError(t, err)
	defer c2.Close()
	waitForCount(t, ln, 1)

	assert.Equal(t, 1, ln.ClientCount(), "max_link=1 must keep only the newest client")
}

func waitForCount(t *testing.T, ln *Listener, want int) {
	t.Helper()
	for i := 0; i < 50; i++ {
		if ln.ClientCount() == want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestNewDialer_RejectsMismatchedUDPFamily(t *testing.T) {
	// A udp src/dst pair must agree on address family before anything
	// binds; a mismatch is a config error, not a panic.
	param := tagmodel.ConnectionParam{
		Type:    tagmodel.ConnUDP,
		SrcIP:   "127.0.0.1",
		SrcPort: 0,
		DstIP:   "::1",
		DstPort: 9999,
	}
	_, err := NewDialer(param)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mismatched address families")
}

func TestNewDialer_AcceptsMatchedUDPFamily(t *testing.T) {
	for _, tc := range []struct{ src, dst string }{
		{"127.0.0.1", "127.0.0.2"},
		{"::1", "::1"},
	} {
		param := tagmodel.ConnectionParam{
			Type:    tagmodel.ConnUDP,
			SrcIP:   tc.src,
			DstIP:   tc.dst,
			DstPort: 9999,
		}
		_, err := NewDialer(param)
		assert.NoError(t, err, "src %s dst %s", tc.src, tc.dst)
	}
}

func TestNewDialer_RejectsUnparseableIP(t *testing.T) {
	param := tagmodel.ConnectionParam{
		Type: tagmodel.ConnTCPClient,
		IP:   "device.local",
		Port: 502,
	}
	_, err := NewDialer(param)
	require.Error(t, err, "a hostname is not a valid IPv4 or IPv6 address")

	param = tagmodel.ConnectionParam{
		Type:    tagmodel.ConnUDPTo,
		SrcIP:   "999.1.1.1",
		SrcPort: 7000,
	}
	_, err = NewDialer(param)
	require.Error(t, err)
}

func TestAddrFamilyClassification(t *testing.T) {
	assert.Equal(t, unix.AF_INET, addrFamily("192.168.0.1"))
	assert.Equal(t, unix.AF_INET6, addrFamily("fe80::1"))
	assert.Equal(t, unix.AF_UNSPEC, addrFamily("not-an-ip"))
}
