// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of iiot-gateway-core.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package tagcache

import (
	"testing"
	"time"

	"github.com/edgehaus/iiot-gateway-core/pkg/tagmodel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCache_AddDoesNotOverwriteExisting(t *testing.T) {
	c := New(true)
	c.Add("g1", "t1", tagmodel.NewInt32(1))
	c.Add("g1", "t1", tagmodel.NewInt32(2))

	v, _, _, ok := c.MetaGet("g1", "t1")
	require.True(t, ok)
	assert.Equal(t, int32(1), v.(tagmodel.Scalar[int32]).V)
}

func TestCache_Monotonicity_UpdateThenMetaGet(t *testing.T) {
	// An immediate meta_get after update must return exactly the
	// (ts, value, metas) just written.
	c := New(true)
	ts := time.Unix(1000, 0)
	var metas [NumMetaSlots][]byte
	metas[0] = []byte("m0")

	c.Update("g1", "t1", ts, tagmodel.NewDouble(3.5), metas)

	v, gotMetas, gotTs, ok := c.MetaGet("g1", "t1")
	require.True(t, ok)
	assert.Equal(t, 3.5, v.(tagmodel.Scalar[float64]).V)
	assert.True(t, ts.Equal(gotTs))
	assert.Equal(t, []byte("m0"), gotMetas[0])
}

func TestCache_ChangeGating_FilteredErrorsDoNotOverwriteLastGood(t *testing.T) {
	c := New(true) // sub_filter_err = true
	var metas [NumMetaSlots][]byte

	c.UpdateChange("g1", "t1", time.Now(), tagmodel.NewInt32(10), metas, 0, false)
	_, _, _, changed := c.MetaGetChanged("g1", "t1")
	require.True(t, changed, "first value must report changed")

	// An ERROR value must not be reported as a change under filtering.
	c.UpdateChange("g1", "t1", time.Now(), tagmodel.ErrorValue{Code: tagmodel.ErrTagNotReady}, metas, 0, false)
	_, _, _, changed = c.MetaGetChanged("g1", "t1")
	assert.False(t, changed, "filtered ERROR must not be reported as a change")

	// Recovering to the SAME value as before the error must not report a change.
	c.UpdateChange("g1", "t1", time.Now(), tagmodel.NewInt32(10), metas, 0, false)
	_, _, _, changed = c.MetaGetChanged("g1", "t1")
	assert.False(t, changed, "recovering to the last known-good value must not be reported changed")

	// Recovering to a DIFFERENT value must report a change.
	c.UpdateChange("g1", "t1", time.Now(), tagmodel.NewInt32(11), metas, 0, false)
	_, _, _, changed = c.MetaGetChanged("g1", "t1")
	assert.True(t, changed, "recovering to a new value must report a change")
}

func TestCache_ChangeGating_UnfilteredErrorsDoReportChange(t *testing.T) {
	c := New(false) // sub_filter_err = false
	var metas [NumMetaSlots][]byte

	c.UpdateChange("g1", "t1", time.Now(), tagmodel.NewInt32(10), metas, 0, false)
	c.MetaGetChanged("g1", "t1") // drain the first change

	c.UpdateChange("g1", "t1", time.Now(), tagmodel.ErrorValue{Code: tagmodel.ErrTagNotReady}, metas, 0, false)
	_, _, _, changed := c.MetaGetChanged("g1", "t1")
	assert.True(t, changed, "without filtering, an ERROR transition is a type change and must report changed")
}

func TestCache_ChangeGating_FloatsWithinPrecisionToleranceNotChanged(t *testing.T) {
	c := New(true)
	var metas [NumMetaSlots][]byte

	c.UpdateChange("g1", "t1", time.Now(), tagmodel.NewDouble(1.230), metas, 2, false)
	c.MetaGetChanged("g1", "t1")

	c.UpdateChange("g1", "t1", time.Now(), tagmodel.NewDouble(1.231), metas, 2, false)
	_, _, _, changed := c.MetaGetChanged("g1", "t1")
	assert.False(t, changed, "difference within 10^-2 tolerance must not report changed")

	c.UpdateChange("g1", "t1", time.Now(), tagmodel.NewDouble(1.35), metas, 2, false)
	_, _, _, changed = c.MetaGetChanged("g1", "t1")
	assert.True(t, changed, "difference beyond tolerance must report changed")
}

func TestCache_MetaGetChanged_ClearsChangedExceptForError(t *testing.T) {
	c := New(true)
	var metas [NumMetaSlots][]byte

	c.UpdateChange("g1", "t1", time.Now(), tagmodel.NewBool(true), metas, 0, false)
	_, _, _, changed := c.MetaGetChanged("g1", "t1")
	require.True(t, changed)

	_, _, _, changed = c.MetaGetChanged("g1", "t1")
	assert.False(t, changed, "changed flag must be cleared after being observed")
}

func TestCache_ForceChange(t *testing.T) {
	c := New(true)
	var metas [NumMetaSlots][]byte

	c.UpdateChange("g1", "t1", time.Now(), tagmodel.NewInt32(7), metas, 0, false)
	c.MetaGetChanged("g1", "t1")

	c.UpdateChange("g1", "t1", time.Now(), tagmodel.NewInt32(7), metas, 0, true)
	_, _, _, changed := c.MetaGetChanged("g1", "t1")
	assert.True(t, changed, "force_change must report changed even for an identical value")
}

func TestCache_MetaGetReturnsIndependentCopies(t *testing.T) {
	c := New(true)
	var metas [NumMetaSlots][]byte
	metas[0] = []byte("original")

	c.Update("g1", "t1", time.Now(), tagmodel.BytesValue{B: []byte{1, 2, 3}}, metas)

	v1, m1, _, _ := c.MetaGet("g1", "t1")
	m1[0][0] = 'X'
	v1.(tagmodel.BytesValue).B[0] = 99

	v2, m2, _, _ := c.MetaGet("g1", "t1")
	assert.Equal(t, byte('o'), m2[0][0], "mutating a returned meta slice must not affect the cache")
	assert.Equal(t, byte(1), v2.(tagmodel.BytesValue).B[0], "mutating a returned value must not affect the cache")
}

func TestCache_DelRemovesEntry(t *testing.T) {
	c := New(true)
	c.Add("g1", "t1", tagmodel.NewInt32(1))
	c.Del("g1", "t1")
	_, _, _, ok := c.MetaGet("g1", "t1")
	assert.False(t, ok)
}

func TestCache_DelGroupRemovesAllTagsAndTrace(t *testing.T) {
	c := New(true)
	c.Add("g1", "t1", tagmodel.NewInt32(1))
	c.Add("g1", "t2", tagmodel.NewInt32(2))
	c.Add("g2", "t1", tagmodel.NewInt32(3))
	c.UpdateTrace("g1", "trace-handle")

	c.DelGroup("g1")

	_, _, _, ok := c.MetaGet("g1", "t1")
	assert.False(t, ok)
	_, _, _, ok = c.MetaGet("g1", "t2")
	assert.False(t, ok)
	_, _, _, ok = c.MetaGet("g2", "t1")
	assert.True(t, ok, "unrelated group must be untouched")
	_, ok = c.GetTrace("g1")
	assert.False(t, ok)
}

func TestCache_TraceRoundTrip(t *testing.T) {
	c := New(true)
	_, ok := c.GetTrace("g1")
	assert.False(t, ok)

	c.UpdateTrace("g1", "handle-123")
	h, ok := c.GetTrace("g1")
	require.True(t, ok)
	assert.Equal(t, "handle-123", h)
}

func TestCache_Len(t *testing.T) {
	c := New(true)
	assert.Zero(t, c.Len())
	c.Add("g1", "t1", tagmodel.NewInt32(1))
	c.Add("g1", "t2", tagmodel.NewInt32(2))
	assert.Equal(t, 2, c.Len())
}
