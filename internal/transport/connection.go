// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of iiot-gateway-core.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package transport implements the framed connection abstraction: a
// uniform byte-oriented endpoint over TCP client/server, UDP (connected or
// sendto/recvfrom) and serial, with reconnect-on-next-use semantics, byte
// counting and a caller-supplied frame parser. Protocol plugins drive it
// through StreamConsume or WaitMsg rather than reading raw bytes.
package transport

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/edgehaus/iiot-gateway-core/pkg/log"
	"github.com/edgehaus/iiot-gateway-core/pkg/protobuf"
	"github.com/edgehaus/iiot-gateway-core/pkg/tagmodel"
)

const (
	rollingBufferSize = 8192
	eagainRetries     = 10
	eagainBackoff     = 50 * time.Millisecond
)

// ConsumeFunc inspects the bytes accumulated so far via cursor and reports
// how many it consumed: 0 means "need more data", a negative value means
// the frame is protocol-fatal and the connection should disconnect, and a
// positive value advances the rolling buffer by that many bytes.
type ConsumeFunc func(cursor *protobuf.UnpackCursor) int

// WaitMsgFunc is the alternative consumption mode: it reports both how
// many bytes were consumed and how many more are needed before it should
// be called again. need == 0 signals the message is complete.
type WaitMsgFunc func(cursor *protobuf.UnpackCursor) (used int, need int)

// ConnectedCallback and DisconnectedCallback fire on state transitions.
// The disconnected callback fires at most once per
// connected-to-disconnected transition.
type ConnectedCallback func()
type DisconnectedCallback func(err error)

// netConn is satisfied by net.Conn and used so TCP/UDP/serial connections
// can share the I/O and framing logic below.
type netConn interface {
	Read(b []byte) (int, error)
	Write(b []byte) (int, error)
	Close() error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
}

// Dialer produces a fresh netConn on each reconnect attempt. Each transport
// kind (tcp_client, udp, tty_client, ...) supplies its own Dialer.
type Dialer func() (netConn, error)

// Connection is one framed endpoint. It is safe for concurrent use: Send
// may be called from any goroutine while a read loop runs in the
// background (or StreamConsume/WaitMsg are driven synchronously by the
// caller — see RunStreamConsume/RunWaitMsg below).
type Connection struct {
	mu        sync.Mutex
	conn      netConn
	dial      Dialer
	param     tagmodel.ConnectionParam
	onConn    ConnectedCallback
	onDisc    DisconnectedCallback
	connected bool

	bytesSent int64
	bytesRecv int64

	buf    []byte // rolling buffer for StreamConsume
	bufLen int
}

// New creates a Connection around a Dialer. The connection starts
// disconnected; the first Send or Run call triggers a dial attempt.
func New(param tagmodel.ConnectionParam, dial Dialer, onConn ConnectedCallback, onDisc DisconnectedCallback) *Connection {
	return &Connection{
		dial:   dial,
		param:  param,
		onConn: onConn,
		onDisc: onDisc,
		buf:    make([]byte, rollingBufferSize),
	}
}

// ensureConnected dials if not currently connected. Caller must hold mu.
func (c *Connection) ensureConnected() error {
	if c.connected {
		return nil
	}
	conn, err := c.dial()
	if err != nil {
		return err
	}
	c.conn = conn
	c.connected = true
	c.bufLen = 0
	if c.onConn != nil {
		c.onConn()
	}
	return nil
}

// disconnect tears the connection down and fires the disconnected callback
// exactly once per connected→disconnected transition. Caller must hold mu.
func (c *Connection) disconnect(cause error) {
	if !c.connected {
		return
	}
	if c.conn != nil {
		_ = c.conn.Close()
	}
	c.conn = nil
	c.connected = false
	if c.onDisc != nil {
		c.onDisc(cause)
	}
}

// Send writes a frame. If timeoutMs is zero the write is attempted once
// without a deadline (non-blocking intent honored by the caller not
// waiting); otherwise writes retry up to eagainRetries times with
// eagainBackoff between attempts on a transient timeout/EAGAIN-equivalent
// error.
func (c *Connection) Send(data []byte, timeoutMs int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.ensureConnected(); err != nil {
		return fmt.Errorf("transport: dial: %w", err)
	}

	deadline := time.Time{}
	if timeoutMs > 0 {
		deadline = time.Now().Add(time.Duration(timeoutMs) * time.Millisecond)
	}

	remaining := data
	for attempt := 0; attempt <= eagainRetries; attempt++ {
		if err := c.conn.SetWriteDeadline(deadline); err != nil {
			c.disconnect(err)
			return fmt.Errorf("transport: set write deadline: %w", err)
		}

		n, err := c.conn.Write(remaining)
		if n > 0 {
			remaining = remaining[n:]
			c.bytesSent += int64(n)
		}
		if err == nil {
			if len(remaining) == 0 {
				return nil
			}
			continue
		}

		if isTransient(err) && attempt < eagainRetries {
			time.Sleep(eagainBackoff)
			continue
		}

		c.disconnect(err)
		return fmt.Errorf("transport: write: %w", err)
	}

	err := fmt.Errorf("transport: write: exhausted %d retries", eagainRetries)
	c.disconnect(err)
	return err
}

func isTransient(err error) bool {
	var ne net.Error
	if errors.As(err, &ne) {
		return ne.Timeout()
	}
	return false
}

// RunStreamConsume reads available bytes into the rolling buffer and
// invokes fn in a loop until fn reports 0 (need more) or the buffer is
// full, compacting consumed bytes each iteration. It blocks for up to
// readTimeoutMs waiting for the first byte of a read cycle. A fn return of
// -1 disconnects the connection (closing the per-client socket in server
// mode is the caller's responsibility when param.Type is tcp_server).
func (c *Connection) RunStreamConsume(readTimeoutMs int, fn ConsumeFunc) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.ensureConnected(); err != nil {
		return fmt.Errorf("transport: dial: %w", err)
	}

	deadline := time.Time{}
	if readTimeoutMs > 0 {
		deadline = time.Now().Add(time.Duration(readTimeoutMs) * time.Millisecond)
	}
	if err := c.conn.SetReadDeadline(deadline); err != nil {
		c.disconnect(err)
		return fmt.Errorf("transport: set read deadline: %w", err)
	}

	if c.bufLen == len(c.buf) {
		err := errors.New("transport: rolling buffer full with no frame boundary")
		c.disconnect(err)
		return err
	}

	n, err := c.conn.Read(c.buf[c.bufLen:])
	if n > 0 {
		c.bufLen += n
		c.bytesRecv += int64(n)
	}
	if err != nil {
		if isTransient(err) && n == 0 {
			return nil // no data this cycle, not fatal
		}
		c.disconnect(err)
		return fmt.Errorf("transport: read: %w", err)
	}

	for {
		cursor := protobuf.NewUnpackCursor(c.buf[:c.bufLen])
		used := fn(cursor)
		if used == 0 {
			break
		}
		if used < 0 {
			err := errors.New("transport: protocol-fatal frame")
			c.disconnect(err)
			return err
		}
		copy(c.buf, c.buf[used:c.bufLen])
		c.bufLen -= used
	}

	return nil
}

// RunWaitMsg reads exactly the bytes fn asks for, one chunk at a time,
// until fn reports need == 0 (message complete). It fails if the
// requested need exceeds the connection's rolling buffer capacity.
func (c *Connection) RunWaitMsg(readTimeoutMs int, fn WaitMsgFunc) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.ensureConnected(); err != nil {
		return fmt.Errorf("transport: dial: %w", err)
	}

	deadline := time.Time{}
	if readTimeoutMs > 0 {
		deadline = time.Now().Add(time.Duration(readTimeoutMs) * time.Millisecond)
	}

	have := 0
	for {
		cursor := protobuf.NewUnpackCursor(c.buf[:have])
		used, need := fn(cursor)
		if used > 0 {
			copy(c.buf, c.buf[used:have])
			have -= used
		}
		if need == 0 {
			return nil
		}
		if have+need > len(c.buf) {
			err := fmt.Errorf("transport: wait-msg needs %d bytes, buffer capacity %d", have+need, len(c.buf))
			c.disconnect(err)
			return err
		}

		if err := c.conn.SetReadDeadline(deadline); err != nil {
			c.disconnect(err)
			return fmt.Errorf("transport: set read deadline: %w", err)
		}

		n, err := c.conn.Read(c.buf[have : have+need])
		if n > 0 {
			have += n
			c.bytesRecv += int64(n)
		}
		if err != nil {
			c.disconnect(err)
			return fmt.Errorf("transport: read: %w", err)
		}
	}
}

// Close tears the connection down without attempting to reconnect until
// the next Send/Run call.
func (c *Connection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnect(nil)
	return nil
}

// IsConnected reports the current connected state: true iff the
// connected callback fired without a matching disconnected one.
func (c *Connection) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// ByteCounts returns the cumulative bytes sent and received since the
// connection was created or last Reconfigure.
func (c *Connection) ByteCounts() (sent, recv int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.bytesSent, c.bytesRecv
}

// Reconfigure tears down the current connection (if any), swaps in a new
// dial target and parameters, and resets byte counters, all under the
// connection's own mutex so concurrent Send/Run calls see either the old
// or the new configuration atomically, never a half-applied one.
func (c *Connection) Reconfigure(param tagmodel.ConnectionParam, dial Dialer) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.disconnect(nil)
	c.param = param
	c.dial = dial
	c.bytesSent = 0
	c.bytesRecv = 0
	c.bufLen = 0
	log.Infof("transport: reconfigured connection to type=%s", param.Type)
}
