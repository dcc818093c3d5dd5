// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of iiot-gateway-core.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package queue is the bounded producer/consumer FIFO between a driver
// adapter's I/O-side goroutines (connection callbacks, write requests) and
// its single consumer goroutine. Push never blocks: a
// full queue drops the message and bumps an overflow counter, leaving the
// caller to free it; Pop blocks until a message is available or the queue
// is shut down.
package queue

import "sync/atomic"

// DefaultCapacity is the default bounded slot count.
const DefaultCapacity = 1024

// Message is anything the adapter consumer thread can dispatch. Ownership
// transfers to the queue on Push and back to the caller on Pop; Shutdown
// calls Destroy on every message still queued so nothing leaks.
type Message interface {
	// Destroy releases any resources the message owns. Most message types
	// carry only plain Go values and use a no-op Destroy.
	Destroy()
}

// Queue is a bounded FIFO of Message, backed by a buffered channel so Push
// and Pop both reduce to channel operations instead of a hand-rolled ring
// buffer plus condition variable.
type Queue struct {
	ch       chan Message
	overflow int64
}

// New creates a Queue with the given capacity. A capacity <= 0 uses
// DefaultCapacity.
func New(capacity int) *Queue {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Queue{ch: make(chan Message, capacity)}
}

// Push enqueues msg without blocking. It returns false if the queue is
// full, in which case the overflow counter is incremented and the caller
// remains responsible for the message.
func (q *Queue) Push(msg Message) bool {
	select {
	case q.ch <- msg:
		return true
	default:
		atomic.AddInt64(&q.overflow, 1)
		return false
	}
}

// Pop blocks until a message is available or the queue is shut down (ok
// reports which), also reporting the approximate remaining depth right
// after the receive.
func (q *Queue) Pop() (msg Message, remaining int, ok bool) {
	m, open := <-q.ch
	if !open {
		return nil, 0, false
	}
	return m, len(q.ch), true
}

// Len reports the number of messages currently queued.
func (q *Queue) Len() int { return len(q.ch) }

// Overflow reports the cumulative number of dropped Push calls.
func (q *Queue) Overflow() int64 { return atomic.LoadInt64(&q.overflow) }

// Shutdown closes the queue and drains any remaining messages, calling
// Destroy on each so nothing queued at shutdown time leaks.
func (q *Queue) Shutdown() {
	close(q.ch)
	for m := range q.ch {
		m.Destroy()
	}
}
