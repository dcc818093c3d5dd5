// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of iiot-gateway-core.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package adapter

import (
	"testing"
	"time"

	"github.com/edgehaus/iiot-gateway-core/pkg/driver"
	"github.com/edgehaus/iiot-gateway-core/pkg/tagmodel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tagNames(body *TransData) []string {
	if body == nil {
		return nil
	}
	out := make([]string, len(body.Tags))
	for i, rt := range body.Tags {
		out[i] = rt.Name
	}
	return out
}

func TestReport_ChangeFiltering(t *testing.T) {
	// S1: two SUBSCRIBE tags; the second report only carries the tag
	// whose value actually changed.
	core := &pluginCore{}
	a := newTestAdapter(t, stubPlugin{core}, &captureSender{})
	require.NoError(t, a.AddGroup("g1", 1000))
	require.NoError(t, a.AddTag("g1", subTag("t1", tagmodel.TypeInt16)))
	require.NoError(t, a.AddTag("g1", subTag("t2", tagmodel.TypeInt16)))
	g, _ := a.Group("g1")

	cb := a.Callbacks()
	cb.Update("g1", "t1", tagmodel.NewInt16(5))
	cb.Update("g1", "t2", tagmodel.NewInt16(7))

	first := a.buildReport(g, time.Now())
	require.NotNil(t, first)
	assert.Equal(t, []string{"t1", "t2"}, tagNames(first))
	assert.Equal(t, int16(5), first.Tags[0].Value.(tagmodel.Scalar[int16]).V)
	assert.Equal(t, int16(7), first.Tags[1].Value.(tagmodel.Scalar[int16]).V)

	cb.Update("g1", "t1", tagmodel.NewInt16(5))
	cb.Update("g1", "t2", tagmodel.NewInt16(8))

	second := a.buildReport(g, time.Now())
	require.NotNil(t, second)
	assert.Equal(t, []string{"t2"}, tagNames(second), "only the changed tag may appear")
	assert.Equal(t, int16(8), second.Tags[0].Value.(tagmodel.Scalar[int16]).V)

	third := a.buildReport(g, time.Now())
	assert.Nil(t, third, "nothing changed, the payload must be dropped")
}

func TestReport_NonSubscribeTagAlwaysIncluded(t *testing.T) {
	core := &pluginCore{}
	a := newTestAdapter(t, stubPlugin{core}, &captureSender{})
	require.NoError(t, a.AddGroup("g1", 1000))
	require.NoError(t, a.AddTag("g1", readTag("t1", tagmodel.TypeInt16)))
	g, _ := a.Group("g1")

	a.Callbacks().Update("g1", "t1", tagmodel.NewInt16(5))

	for i := 0; i < 3; i++ {
		body := a.buildReport(g, time.Now())
		require.NotNil(t, body, "iteration %d", i)
		assert.Equal(t, []string{"t1"}, tagNames(body))
	}
}

func TestReport_MissingCacheEntryEmitsNotReady(t *testing.T) {
	core := &pluginCore{}
	a := newTestAdapter(t, stubPlugin{core}, &captureSender{})
	require.NoError(t, a.AddGroup("g1", 1000))
	require.NoError(t, a.AddTag("g1", readTag("t1", tagmodel.TypeInt16)))
	g, _ := a.Group("g1")

	body := a.buildReport(g, time.Now())
	require.NotNil(t, body)
	require.Len(t, body.Tags, 1)
	assert.Equal(t, tagmodel.ErrTagNotReady, body.Tags[0].ErrorCode)
}

func TestReport_ExpiredCacheEmitsValueExpired(t *testing.T) {
	// S4: interval 500ms, expire factor 3; a value older than 1500ms is
	// reported as ERROR(VALUE_EXPIRED).
	core := &pluginCore{}
	a := newTestAdapter(t, stubPlugin{core}, &captureSender{})
	require.NoError(t, a.AddGroup("g1", 500))
	require.NoError(t, a.AddTag("g1", readTag("t1", tagmodel.TypeInt16)))
	g, _ := a.Group("g1")

	a.Callbacks().Update("g1", "t1", tagmodel.NewInt16(5))

	fresh := a.buildReport(g, time.Now().Add(1400*time.Millisecond))
	require.NotNil(t, fresh)
	assert.Zero(t, fresh.Tags[0].ErrorCode, "value within the expiry window must pass through")

	stale := a.buildReport(g, time.Now().Add(1600*time.Millisecond))
	require.NotNil(t, stale)
	assert.Equal(t, tagmodel.ErrTagValueExpired, stale.Tags[0].ErrorCode)
}

func TestReport_CacheNeverPolicySkipsExpiry(t *testing.T) {
	core := &pluginCore{}
	a := New("d1", stubPlugin{core}, driver.Module{CacheType: driver.CacheNever},
		Options{SubFilterErr: true, Sender: &captureSender{}})
	require.NoError(t, a.Init())
	t.Cleanup(func() { _ = a.Uninit() })

	require.NoError(t, a.AddGroup("g1", 500))
	require.NoError(t, a.AddTag("g1", readTag("t1", tagmodel.TypeInt16)))
	g, _ := a.Group("g1")

	a.Callbacks().Update("g1", "t1", tagmodel.NewInt16(5))

	body := a.buildReport(g, time.Now().Add(time.Hour))
	require.NotNil(t, body)
	assert.Zero(t, body.Tags[0].ErrorCode, "cache_type NEVER must never expire values")
}

func TestReport_FanoutMultiplicity(t *testing.T) {
	// Invariant 5: N subscribers receive N independent payloads with
	// equal values and no shared buffers.
	core := &pluginCore{}
	sender := &captureSender{}
	a := newTestAdapter(t, stubPlugin{core}, sender)
	require.NoError(t, a.AddGroup("g1", 1000))
	require.NoError(t, a.AddTag("g1", readTag("t1", tagmodel.TypeBytes)))
	g, _ := a.Group("g1")

	require.NoError(t, a.Subscribe("g1", Subscriber{AppName: "app1", Addr: "neuron-7001"}))
	require.NoError(t, a.Subscribe("g1", Subscriber{AppName: "app2", Addr: "neuron-7002"}))
	require.NoError(t, a.Subscribe("g1", Subscriber{AppName: "app3", Addr: "neuron-7003"}))

	err := a.Subscribe("g1", Subscriber{AppName: "app1", Addr: "neuron-7004"})
	assert.Error(t, err, "duplicate app subscription must be rejected")

	a.Callbacks().Update("g1", "t1", tagmodel.BytesValue{B: []byte{1, 2, 3}})

	body := a.buildReport(g, time.Now())
	require.NotNil(t, body)
	a.dispatchReport(g, body)

	sent := sender.reports()
	require.Len(t, sent, 3)
	for _, r := range sent {
		require.Len(t, r.body.Tags, 1)
		assert.Equal(t, []byte{1, 2, 3}, r.body.Tags[0].Value.(tagmodel.BytesValue).B)
	}

	// Mutating one subscriber's payload must not leak into another's.
	sent[0].body.Tags[0].Value.(tagmodel.BytesValue).B[0] = 99
	assert.Equal(t, byte(1), sent[1].body.Tags[0].Value.(tagmodel.BytesValue).B[0])
	assert.Equal(t, byte(1), sent[2].body.Tags[0].Value.(tagmodel.BytesValue).B[0])
}

func TestReport_DecimalEmitsScaledDouble(t *testing.T) {
	// Second half of S2: a raw INT16 1230 under decimal=0.1 is reported
	// as DOUBLE 123.0.
	core := &pluginCore{}
	a := newTestAdapter(t, stubPlugin{core}, &captureSender{})
	require.NoError(t, a.AddGroup("g1", 1000))

	tag := readTag("t1", tagmodel.TypeInt16)
	tag.Decimal = 0.1
	require.NoError(t, a.AddTag("g1", tag))
	g, _ := a.Group("g1")

	a.Callbacks().Update("g1", "t1", tagmodel.NewInt16(1230))

	body := a.buildReport(g, time.Now())
	require.NotNil(t, body)
	require.Len(t, body.Tags, 1)
	assert.InDelta(t, 123.0, body.Tags[0].Value.(tagmodel.Scalar[float64]).V, 1e-9)
}

func TestReport_BiasEmitsOffsetDouble(t *testing.T) {
	core := &pluginCore{}
	a := newTestAdapter(t, stubPlugin{core}, &captureSender{})
	require.NoError(t, a.AddGroup("g1", 1000))

	tag := readTag("t1", tagmodel.TypeInt16)
	tag.Bias = 10
	require.NoError(t, a.AddTag("g1", tag))
	g, _ := a.Group("g1")

	a.Callbacks().Update("g1", "t1", tagmodel.NewInt16(100))

	body := a.buildReport(g, time.Now())
	require.NotNil(t, body)
	assert.InDelta(t, 110.0, body.Tags[0].Value.(tagmodel.Scalar[float64]).V, 1e-9)
	assert.Equal(t, 10.0, body.Tags[0].Bias, "bias must be echoed in the datatag")
}

func TestReport_EndianWireBytes(t *testing.T) {
	// S3: UINT32 0x01020304 with the byte-and-word swapped order goes on
	// the wire as [0x02,0x01,0x04,0x03].
	core := &pluginCore{}
	a := newTestAdapter(t, stubPlugin{core}, &captureSender{})
	require.NoError(t, a.AddGroup("g1", 1000))

	tag := readTag("t1", tagmodel.TypeUint32)
	tag.AddrOpt.Order = tagmodel.OrderLittleEndianSwap
	require.NoError(t, a.AddTag("g1", tag))
	g, _ := a.Group("g1")

	a.Callbacks().Update("g1", "t1", tagmodel.NewUint32(0x01020304))

	body := a.buildReport(g, time.Now())
	require.NotNil(t, body)
	assert.Equal(t, []byte{0x02, 0x01, 0x04, 0x03}, body.Tags[0].WireBytes)
}

func TestReport_ImmediateUpdateBypassesReportTimer(t *testing.T) {
	core := &pluginCore{}
	sender := &captureSender{}
	a := newTestAdapter(t, stubPlugin{core}, sender)
	require.NoError(t, a.AddGroup("g1", 1000))
	require.NoError(t, a.AddTag("g1", subTag("t1", tagmodel.TypeInt16)))
	require.NoError(t, a.Subscribe("g1", Subscriber{AppName: "app1", Addr: "neuron-7001"}))

	a.Callbacks().UpdateIm("g1", "t1", tagmodel.NewInt16(5))

	sent := sender.reports()
	require.Len(t, sent, 1, "update_im must dispatch without waiting for the report timer")
	assert.Equal(t, "t1", sent[0].body.Tags[0].Name)
}
