// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of iiot-gateway-core.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package adapter

import (
	"math"
	"strings"

	"github.com/edgehaus/iiot-gateway-core/pkg/protobuf"
	"github.com/edgehaus/iiot-gateway-core/pkg/tagmodel"
)

// EncodeScalar renders a scalar value into its wire byte image per the
// tag's configured byte order, using the same pack codec protocol plugins
// assemble frames with. Non-scalar values and 8-bit types (which have no
// byte order) return nil.
func EncodeScalar(v tagmodel.Value, order tagmodel.ByteOrder) []byte {
	switch sv := v.(type) {
	case tagmodel.Scalar[int16]:
		return enc16(uint16(sv.V), order)
	case tagmodel.Scalar[uint16]:
		return enc16(sv.V, order)
	case tagmodel.Scalar[int32]:
		return enc32(uint32(sv.V), order)
	case tagmodel.Scalar[uint32]:
		return enc32(sv.V, order)
	case tagmodel.Scalar[int64]:
		return enc64(uint64(sv.V), order)
	case tagmodel.Scalar[uint64]:
		return enc64(sv.V, order)
	case tagmodel.Scalar[float32]:
		return enc32(math.Float32bits(sv.V), order)
	case tagmodel.Scalar[float64]:
		return enc64(math.Float64bits(sv.V), order)
	}
	return nil
}

// DecodeScalar is the inverse of EncodeScalar: it reads a wire byte image
// back into a typed scalar value. It returns nil when dt is not a scalar
// type of b's width.
func DecodeScalar(dt tagmodel.DataType, b []byte, order tagmodel.ByteOrder) tagmodel.Value {
	c := protobuf.NewUnpackCursor(b)
	switch dt {
	case tagmodel.TypeInt16:
		u, ok := protobuf.UnpackUint16(c, order)
		if !ok {
			return nil
		}
		return tagmodel.NewInt16(int16(u))
	case tagmodel.TypeUint16, tagmodel.TypeWord:
		u, ok := protobuf.UnpackUint16(c, order)
		if !ok {
			return nil
		}
		return tagmodel.Scalar[uint16]{DType: dt, V: u}
	case tagmodel.TypeInt32:
		u, ok := protobuf.UnpackUint32(c, order)
		if !ok {
			return nil
		}
		return tagmodel.NewInt32(int32(u))
	case tagmodel.TypeUint32, tagmodel.TypeDWord:
		u, ok := protobuf.UnpackUint32(c, order)
		if !ok {
			return nil
		}
		return tagmodel.Scalar[uint32]{DType: dt, V: u}
	case tagmodel.TypeInt64:
		u, ok := protobuf.UnpackUint64(c, order)
		if !ok {
			return nil
		}
		return tagmodel.NewInt64(int64(u))
	case tagmodel.TypeUint64, tagmodel.TypeLWord:
		u, ok := protobuf.UnpackUint64(c, order)
		if !ok {
			return nil
		}
		return tagmodel.Scalar[uint64]{DType: dt, V: u}
	case tagmodel.TypeFloat:
		f, ok := protobuf.UnpackFloat32(c, order)
		if !ok {
			return nil
		}
		return tagmodel.NewFloat(f)
	case tagmodel.TypeDouble:
		f, ok := protobuf.UnpackFloat64(c, order)
		if !ok {
			return nil
		}
		return tagmodel.NewDouble(f)
	}
	return nil
}

func enc16(v uint16, order tagmodel.ByteOrder) []byte {
	c := protobuf.NewPackCursor(2)
	protobuf.PackUint16(c, v, order)
	return c.Bytes()
}

func enc32(v uint32, order tagmodel.ByteOrder) []byte {
	c := protobuf.NewPackCursor(4)
	protobuf.PackUint32(c, v, order)
	return c.Bytes()
}

func enc64(v uint64, order tagmodel.ByteOrder) []byte {
	c := protobuf.NewPackCursor(8)
	protobuf.PackUint64(c, v, order)
	return c.Bytes()
}

// scalarAsFloat extracts a numeric scalar's value as float64 for the
// decimal/bias promotion path. ok is false for non-numeric variants.
func scalarAsFloat(v tagmodel.Value) (float64, bool) {
	switch sv := v.(type) {
	case tagmodel.Scalar[int8]:
		return float64(sv.V), true
	case tagmodel.Scalar[uint8]:
		return float64(sv.V), true
	case tagmodel.Scalar[int16]:
		return float64(sv.V), true
	case tagmodel.Scalar[uint16]:
		return float64(sv.V), true
	case tagmodel.Scalar[int32]:
		return float64(sv.V), true
	case tagmodel.Scalar[uint32]:
		return float64(sv.V), true
	case tagmodel.Scalar[int64]:
		return float64(sv.V), true
	case tagmodel.Scalar[uint64]:
		return float64(sv.V), true
	case tagmodel.Scalar[float32]:
		return float64(sv.V), true
	case tagmodel.Scalar[float64]:
		return sv.V, true
	}
	return 0, false
}

// applyScaling promotes a raw numeric value to DOUBLE = raw*decimal + bias
// when the tag carries a non-zero decimal or bias. A
// decimal of zero means "no scaling", so only bias applies then.
func applyScaling(v tagmodel.Value, decimal, bias float64) tagmodel.Value {
	raw, ok := scalarAsFloat(v)
	if !ok {
		return v
	}
	d := decimal
	if d == 0 {
		d = 1
	}
	return tagmodel.NewDouble(raw*d + bias)
}

// compactDouble eliminates float-representation noise from an unscaled
// DOUBLE (precision == 0, bias == 0): the value is scaled to 10^5 and
// rounded, and the digit string is scanned for a 5-digit run of zeros or
// nines marking where the binary representation stopped encoding real
// data; the fraction is truncated (or rounded up) at that boundary.
func compactDouble(v float64) float64 {
	scaled := math.Round(v * 1e5)
	if math.Abs(scaled) >= math.MaxInt64 {
		return v
	}
	digits := strings.TrimLeft(formatInt(int64(scaled)), "-")

	if i := strings.Index(digits, "00000"); i >= 0 {
		return roundAt(v, len(digits)-i)
	}
	if i := strings.Index(digits, "99999"); i >= 0 {
		return roundAt(v, len(digits)-i)
	}
	return v
}

func formatInt(n int64) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// roundAt drops everything below the noise boundary: tail counts how many
// of the 10^5-scaled digits sit at or below the detected run.
func roundAt(v float64, tail int) float64 {
	pow := math.Pow10(5 - tail)
	return math.Round(v*pow) / pow
}
