// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of iiot-gateway-core.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package transport

import (
	"container/list"
	"fmt"
	"net"
	"sync"

	"github.com/edgehaus/iiot-gateway-core/pkg/log"
	"github.com/edgehaus/iiot-gateway-core/pkg/tagmodel"
)

// AcceptCallback is invoked once per accepted client with a *Connection
// already wired to fire onConn/onDisc for that client's own lifecycle.
type AcceptCallback func(client *Connection)

// Listener is a tcp_server endpoint: it accepts up to param.MaxLink
// concurrent clients, evicting the oldest accepted client (closing its
// socket and firing its disconnected callback) once the bound is
// reached.
type Listener struct {
	mu       sync.Mutex
	ln       net.Listener
	param    tagmodel.ConnectionParam
	order    *list.List // oldest-first list of *Connection
	elems    map[*Connection]*list.Element
	closed   bool
	onAccept AcceptCallback
}

// Listen starts accepting connections on param.IP:param.Port. The
// StartListenCB/StopListenCB configuration hooks are opaque identifiers
// in this configuration model; invoking them is a concern of
// whatever higher-level orchestration wires a driver adapter to its
// transport (out of this package's scope, see internal/adapter).
func Listen(param tagmodel.ConnectionParam, onAccept AcceptCallback) (*Listener, error) {
	if param.Type != tagmodel.ConnTCPServer {
		return nil, fmt.Errorf("transport: Listen only supports tcp_server, got %q", param.Type)
	}
	if err := param.Validate(); err != nil {
		return nil, err
	}
	if err := validateFamily(param); err != nil {
		return nil, err
	}

	addr := net.JoinHostPort(param.IP, portStr(param.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("transport: listen %s: %w", addr, err)
	}

	l := &Listener{
		ln:       ln,
		param:    param,
		order:    list.New(),
		elems:    make(map[*Connection]*list.Element),
		onAccept: onAccept,
	}

	go l.acceptLoop()
	return l, nil
}

func (l *Listener) acceptLoop() {
	for {
		conn, err := l.ln.Accept()
		if err != nil {
			l.mu.Lock()
			closed := l.closed
			l.mu.Unlock()
			if closed {
				return
			}
			log.Warnf("transport: accept on %s:%d failed: %v", l.param.IP, l.param.Port, err)
			continue
		}

		tcpConn := conn.(*net.TCPConn)
		client := New(l.param, func() (netConn, error) {
			return nil, fmt.Errorf("transport: accepted client does not reconnect")
		}, nil, nil)
		client.mu.Lock()
		client.conn = tcpConn
		client.connected = true
		client.onDisc = func(error) { l.remove(client) }
		client.mu.Unlock()

		l.admit(client)

		if l.onAccept != nil {
			l.onAccept(client)
		}
	}
}

func (l *Listener) admit(client *Connection) {
	l.mu.Lock()

	// Evicted clients are closed only after l.mu is released: closing one
	// fires its disconnected callback, which calls l.remove.
	var toClose []*Connection
	maxLink := l.param.MaxLink
	if maxLink > 0 {
		for l.order.Len() >= maxLink {
			oldest := l.order.Front()
			if oldest == nil {
				break
			}
			evicted := oldest.Value.(*Connection)
			l.order.Remove(oldest)
			delete(l.elems, evicted)
			log.Warnf("transport: max_link=%d reached on %s:%d, evicting oldest client", maxLink, l.param.IP, l.param.Port)
			toClose = append(toClose, evicted)
		}
	}

	elem := l.order.PushBack(client)
	l.elems[client] = elem
	l.mu.Unlock()

	for _, c := range toClose {
		_ = c.Close()
	}
}

func (l *Listener) remove(client *Connection) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if elem, ok := l.elems[client]; ok {
		l.order.Remove(elem)
		delete(l.elems, client)
	}
}

// ClientCount returns the number of currently accepted clients.
func (l *Listener) ClientCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.order.Len()
}

// Close stops accepting new connections and closes every currently
// accepted client.
func (l *Listener) Close() error {
	l.mu.Lock()
	l.closed = true
	clients := make([]*Connection, 0, l.order.Len())
	for e := l.order.Front(); e != nil; e = e.Next() {
		clients = append(clients, e.Value.(*Connection))
	}
	l.order.Init()
	l.elems = make(map[*Connection]*list.Element)
	l.mu.Unlock()

	err := l.ln.Close()
	for _, c := range clients {
		_ = c.Close()
	}
	return err
}
