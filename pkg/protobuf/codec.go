// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of iiot-gateway-core.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package protobuf

import (
	"encoding/binary"
	"math"

	"github.com/edgehaus/iiot-gateway-core/pkg/tagmodel"
)

// swap32/swap64 implement the mixed-endian byte orders a handful of PLC
// protocols use, applied on top of the plain big- or little-endian
// encoding: swap32 exchanges the two 16-bit halfwords of a 32-bit word,
// and swap64 exchanges the two 32-bit halves of a 64-bit word.
func swap32(b []byte) {
	b[0], b[1], b[2], b[3] = b[2], b[3], b[0], b[1]
}

func swap64(b []byte) {
	b[0], b[1], b[2], b[3], b[4], b[5], b[6], b[7] =
		b[4], b[5], b[6], b[7], b[0], b[1], b[2], b[3]
}

func byteOrderOf(order tagmodel.ByteOrder) binary.ByteOrder {
	switch order {
	case tagmodel.OrderBigEndian, tagmodel.OrderBigEndianSwap:
		return binary.BigEndian
	default:
		return binary.LittleEndian
	}
}

// PackUint16 writes a 16-bit value honoring the tag's configured byte order.
func PackUint16(c *PackCursor, v uint16, order tagmodel.ByteOrder) bool {
	b := c.Pack(2)
	if b == nil {
		return false
	}
	byteOrderOf(order).PutUint16(b, v)
	return true
}

// PackUint32 writes a 32-bit value, applying halfword swap for the mixed
// endian variants.
func PackUint32(c *PackCursor, v uint32, order tagmodel.ByteOrder) bool {
	b := c.Pack(4)
	if b == nil {
		return false
	}
	byteOrderOf(order).PutUint32(b, v)
	if order == tagmodel.OrderBigEndianSwap || order == tagmodel.OrderLittleEndianSwap {
		swap32(b)
	}
	return true
}

// PackUint64 writes a 64-bit value, applying halfword swap for the mixed
// endian variants.
func PackUint64(c *PackCursor, v uint64, order tagmodel.ByteOrder) bool {
	b := c.Pack(8)
	if b == nil {
		return false
	}
	byteOrderOf(order).PutUint64(b, v)
	if order == tagmodel.OrderBigEndianSwap || order == tagmodel.OrderLittleEndianSwap {
		swap64(b)
	}
	return true
}

// PackFloat32 writes an IEEE-754 single-precision value.
func PackFloat32(c *PackCursor, v float32, order tagmodel.ByteOrder) bool {
	return PackUint32(c, math.Float32bits(v), order)
}

// PackFloat64 writes an IEEE-754 double-precision value.
func PackFloat64(c *PackCursor, v float64, order tagmodel.ByteOrder) bool {
	return PackUint64(c, math.Float64bits(v), order)
}

// UnpackUint16 reads a 16-bit value honoring the tag's configured byte order.
func UnpackUint16(c *UnpackCursor, order tagmodel.ByteOrder) (uint16, bool) {
	b := c.Unpack(2)
	if b == nil {
		return 0, false
	}
	return byteOrderOf(order).Uint16(b), true
}

// UnpackUint32 reads a 32-bit value, undoing halfword swap for the mixed
// endian variants.
func UnpackUint32(c *UnpackCursor, order tagmodel.ByteOrder) (uint32, bool) {
	b := c.Unpack(4)
	if b == nil {
		return 0, false
	}
	tmp := make([]byte, 4)
	copy(tmp, b)
	if order == tagmodel.OrderBigEndianSwap || order == tagmodel.OrderLittleEndianSwap {
		swap32(tmp)
	}
	return byteOrderOf(order).Uint32(tmp), true
}

// UnpackUint64 reads a 64-bit value, undoing halfword swap for the mixed
// endian variants.
func UnpackUint64(c *UnpackCursor, order tagmodel.ByteOrder) (uint64, bool) {
	b := c.Unpack(8)
	if b == nil {
		return 0, false
	}
	tmp := make([]byte, 8)
	copy(tmp, b)
	if order == tagmodel.OrderBigEndianSwap || order == tagmodel.OrderLittleEndianSwap {
		swap64(tmp)
	}
	return byteOrderOf(order).Uint64(tmp), true
}

// UnpackFloat32 reads an IEEE-754 single-precision value.
func UnpackFloat32(c *UnpackCursor, order tagmodel.ByteOrder) (float32, bool) {
	u, ok := UnpackUint32(c, order)
	if !ok {
		return 0, false
	}
	return math.Float32frombits(u), true
}

// UnpackFloat64 reads an IEEE-754 double-precision value.
func UnpackFloat64(c *UnpackCursor, order tagmodel.ByteOrder) (float64, bool) {
	u, ok := UnpackUint64(c, order)
	if !ok {
		return 0, false
	}
	return math.Float64frombits(u), true
}
