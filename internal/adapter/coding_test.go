// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of iiot-gateway-core.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package adapter

import (
	"fmt"
	"testing"

	"github.com/edgehaus/iiot-gateway-core/pkg/tagmodel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var allOrders = []tagmodel.ByteOrder{
	tagmodel.OrderBigEndian,
	tagmodel.OrderLittleEndian,
	tagmodel.OrderBigEndianSwap,
	tagmodel.OrderLittleEndianSwap,
}

func TestCoding_EndianRoundTrip(t *testing.T) {
	// decode(encode(x)) == x for every scalar type and endian option.
	values := []tagmodel.Value{
		tagmodel.NewInt16(-12345),
		tagmodel.NewUint16(0xBEEF),
		tagmodel.NewInt32(-123456789),
		tagmodel.NewUint32(0xDEADBEEF),
		tagmodel.NewInt64(-1234567890123456789),
		tagmodel.NewUint64(0xDEADBEEFCAFEF00D),
		tagmodel.NewFloat(3.14159),
		tagmodel.NewDouble(-2.718281828459045),
		tagmodel.NewWord(0x1234),
		tagmodel.NewDWord(0x12345678),
		tagmodel.NewLWord(0x123456789ABCDEF0),
	}

	for _, v := range values {
		for _, order := range allOrders {
			t.Run(fmt.Sprintf("%s_%d", v.Type(), order), func(t *testing.T) {
				b := EncodeScalar(v, order)
				require.NotNil(t, b, "scalar must encode")
				got := DecodeScalar(v.Type(), b, order)
				require.NotNil(t, got, "scalar must decode")
				assert.Equal(t, v, got)
			})
		}
	}
}

func TestCoding_EncodeS3ByteImage(t *testing.T) {
	b := EncodeScalar(tagmodel.NewUint32(0x01020304), tagmodel.OrderLittleEndianSwap)
	assert.Equal(t, []byte{0x02, 0x01, 0x04, 0x03}, b)
}

func TestCoding_EncodeKnownImages(t *testing.T) {
	assert.Equal(t, []byte{0x01, 0x02, 0x03, 0x04},
		EncodeScalar(tagmodel.NewUint32(0x01020304), tagmodel.OrderBigEndian))
	assert.Equal(t, []byte{0x04, 0x03, 0x02, 0x01},
		EncodeScalar(tagmodel.NewUint32(0x01020304), tagmodel.OrderLittleEndian))
	assert.Equal(t, []byte{0x03, 0x04, 0x01, 0x02},
		EncodeScalar(tagmodel.NewUint32(0x01020304), tagmodel.OrderBigEndianSwap))
	assert.Equal(t, []byte{0x12, 0x34},
		EncodeScalar(tagmodel.NewUint16(0x1234), tagmodel.OrderBigEndian))
}

func TestCoding_NonScalarsHaveNoByteImage(t *testing.T) {
	assert.Nil(t, EncodeScalar(tagmodel.StringValue{S: "x"}, tagmodel.OrderBigEndian))
	assert.Nil(t, EncodeScalar(tagmodel.NewBool(true), tagmodel.OrderBigEndian))
	assert.Nil(t, EncodeScalar(tagmodel.NewInt8(1), tagmodel.OrderBigEndian), "8-bit types have no byte order")
}

func TestCoding_DecimalBiasRoundTrip(t *testing.T) {
	// Invariant 7: write-side divide followed by emit-side multiply
	// reproduces the original wire value.
	tag := tagmodel.Tag{Name: "t", Type: tagmodel.TypeInt16, Decimal: 0.1, Attribute: tagmodel.AttrRead | tagmodel.AttrWrite}

	storage, code := coerceWriteValue(tag, tagmodel.NewInt64(123))
	require.Zero(t, code)
	require.Equal(t, int16(1230), storage.(tagmodel.Scalar[int16]).V)

	emitted := applyScaling(storage, tag.Decimal, tag.Bias)
	assert.InDelta(t, 123.0, emitted.(tagmodel.Scalar[float64]).V, 1e-9)
}

func TestCoding_CompactDouble(t *testing.T) {
	// Representation noise above the 10^-5 resolution collapses; genuine
	// digits survive.
	assert.Equal(t, 1234567.0, compactDouble(1234567.0000001))
	assert.Equal(t, 1234567.0, compactDouble(1234566.9999999))
	assert.InDelta(t, 123456.00001, compactDouble(123456.00001), 1e-12,
		"a four-digit zero run is genuine data, not noise")
	assert.Equal(t, 0.5, compactDouble(0.5))
	assert.Equal(t, 0.0, compactDouble(0.0))
	assert.Equal(t, -1234567.0, compactDouble(-1234567.0000001))
}
