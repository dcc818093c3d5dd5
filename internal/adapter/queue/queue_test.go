// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of iiot-gateway-core.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package queue

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testMsg struct {
	id        int
	destroyed *bool
}

func (m testMsg) Destroy() {
	if m.destroyed != nil {
		*m.destroyed = true
	}
}

func TestQueue_PushPopFIFO(t *testing.T) {
	q := New(4)
	require.True(t, q.Push(testMsg{id: 1}))
	require.True(t, q.Push(testMsg{id: 2}))

	m, remaining, ok := q.Pop()
	require.True(t, ok)
	assert.Equal(t, 1, m.(testMsg).id)
	assert.Equal(t, 1, remaining)

	m, _, ok = q.Pop()
	require.True(t, ok)
	assert.Equal(t, 2, m.(testMsg).id)
}

func TestQueue_PushOverflowDropsAndCounts(t *testing.T) {
	q := New(1)
	require.True(t, q.Push(testMsg{id: 1}))
	require.False(t, q.Push(testMsg{id: 2}))
	assert.EqualValues(t, 1, q.Overflow())
}

func TestQueue_ShutdownDrainsAndDestroys(t *testing.T) {
	q := New(4)
	var destroyed1, destroyed2 bool
	q.Push(testMsg{id: 1, destroyed: &destroyed1})
	q.Push(testMsg{id: 2, destroyed: &destroyed2})

	q.Shutdown()
	assert.True(t, destroyed1)
	assert.True(t, destroyed2)

	_, _, ok := q.Pop()
	assert.False(t, ok)
}
