// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of iiot-gateway-core.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package eventloop

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoop_BlockingTimerSkipsOverlap(t *testing.T) {
	l := New()
	defer l.Close()

	var running int32
	var overlapped int32
	var calls int32

	id := l.AddTimer(5*time.Millisecond, ModeBlocking, func() {
		if !atomic.CompareAndSwapInt32(&running, 0, 1) {
			atomic.StoreInt32(&overlapped, 1)
			return
		}
		defer atomic.StoreInt32(&running, 0)
		atomic.AddInt32(&calls, 1)
		time.Sleep(20 * time.Millisecond)
	})

	time.Sleep(120 * time.Millisecond)
	l.DelTimer(id)

	assert.Zero(t, atomic.LoadInt32(&overlapped), "blocking timer must never run its callback concurrently with itself")
	assert.Greater(t, atomic.LoadInt32(&calls), int32(0))
}

func TestLoop_NonBlockingTimerMayOverlap(t *testing.T) {
	l := New()
	defer l.Close()

	var inFlight int32
	var sawOverlap int32

	id := l.AddTimer(5*time.Millisecond, ModeNonBlocking, func() {
		n := atomic.AddInt32(&inFlight, 1)
		if n > 1 {
			atomic.StoreInt32(&sawOverlap, 1)
		}
		time.Sleep(20 * time.Millisecond)
		atomic.AddInt32(&inFlight, -1)
	})

	time.Sleep(120 * time.Millisecond)
	l.DelTimer(id)

	assert.Equal(t, int32(1), atomic.LoadInt32(&sawOverlap), "non-blocking timer is expected to overlap under this period/duration")
}

func TestLoop_DelTimerWaitsForInFlightCallback(t *testing.T) {
	l := New()

	started := make(chan struct{})
	finished := make(chan struct{})

	id := l.AddTimer(2*time.Millisecond, ModeBlocking, func() {
		close1(started)
		time.Sleep(30 * time.Millisecond)
		close1(finished)
	})

	<-started
	l.DelTimer(id)

	select {
	case <-finished:
	default:
		t.Fatal("DelTimer returned before the in-flight callback finished")
	}
}

func TestLoop_IOWatchDispatchesReadiness(t *testing.T) {
	l := New()
	defer l.Close()

	ch := make(chan IOEventKind, 1)
	got := make(chan IOEventKind, 1)
	id := l.AddIOWatch(ch, func(kind IOEventKind) { got <- kind })

	ch <- IORead
	select {
	case kind := <-got:
		assert.Equal(t, IORead, kind)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for io watch dispatch")
	}

	l.DelIOWatch(id)
}

func TestLoop_Close_StopsEverything(t *testing.T) {
	l := New()
	var calls int32
	l.AddTimer(2*time.Millisecond, ModeNonBlocking, func() { atomic.AddInt32(&calls, 1) })

	l.Close()
	after := atomic.LoadInt32(&calls)
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, after, atomic.LoadInt32(&calls), "no timer callback should fire after Close")
}

func TestLoop_AddTimerAfterCloseIsNoop(t *testing.T) {
	l := New()
	l.Close()
	id := l.AddTimer(time.Millisecond, ModeNonBlocking, func() {})
	require.Equal(t, TimerID(""), id)
}

func close1(ch chan struct{}) {
	select {
	case <-ch:
	default:
		close(ch)
	}
}
