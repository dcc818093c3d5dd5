// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of iiot-gateway-core.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package tagmodel holds the tag and tag-value data model shared by the
// framed connection, tag cache, driver adapter and persister. The value
// is a tagged union expressed as a Go interface plus concrete per-variant
// types, so ownership of heap-allocated payloads (PTR, CUSTOM,
// ARRAY_STRING) lives in one place: each variant's own Clone method.
package tagmodel

import (
	"bytes"
	"encoding/json"
	"time"
)

// DataType is the semantic type of a tag or a tag value.
type DataType int32

const (
	TypeError DataType = iota
	TypeBit
	TypeBool
	TypeInt8
	TypeUint8
	TypeInt16
	TypeUint16
	TypeInt32
	TypeUint32
	TypeInt64
	TypeUint64
	TypeFloat
	TypeDouble
	TypeString
	TypeTime
	TypeDateTime
	TypeWord  // alias: UINT16
	TypeDWord // alias: UINT32
	TypeLWord // alias: UINT64
	TypeBytes
	TypeArrayInt8
	TypeArrayUint8
	TypeArrayInt16
	TypeArrayUint16
	TypeArrayInt32
	TypeArrayUint32
	TypeArrayInt64
	TypeArrayUint64
	TypeArrayFloat
	TypeArrayDouble
	TypeArrayString
	TypePtr
	TypeCustom
)

var typeNames = [...]string{
	"ERROR", "BIT", "BOOL", "INT8", "UINT8", "INT16", "UINT16", "INT32", "UINT32",
	"INT64", "UINT64", "FLOAT", "DOUBLE", "STRING", "TIME", "DATE_TIME",
	"WORD", "DWORD", "LWORD", "BYTES",
	"ARRAY_INT8", "ARRAY_UINT8", "ARRAY_INT16", "ARRAY_UINT16", "ARRAY_INT32",
	"ARRAY_UINT32", "ARRAY_INT64", "ARRAY_UINT64", "ARRAY_FLOAT", "ARRAY_DOUBLE",
	"ARRAY_STRING", "PTR", "CUSTOM",
}

func (t DataType) String() string {
	if int(t) >= 0 && int(t) < len(typeNames) {
		return typeNames[t]
	}
	return "UNKNOWN"
}

// IsNumeric reports whether t is a scalar integer or float type that takes
// part in decimal/bias scaling and endian byte-swapping.
func (t DataType) IsNumeric() bool {
	switch t {
	case TypeInt8, TypeUint8, TypeInt16, TypeUint16, TypeInt32, TypeUint32,
		TypeInt64, TypeUint64, TypeFloat, TypeDouble,
		TypeWord, TypeDWord, TypeLWord:
		return true
	}
	return false
}

// Value is the discriminated union over a tag's current value. Every
// concrete variant is immutable from the caller's perspective: Clone
// returns an independent deep copy, which is the only place PTR/CUSTOM/
// ARRAY_STRING payloads are duplicated.
type Value interface {
	Type() DataType
	Clone() Value
}

// numericKind is the set of underlying types a Scalar or ArrayValue may
// hold. bool covers BIT and BOOL.
type numericKind interface {
	~int8 | ~uint8 | ~int16 | ~uint16 | ~int32 | ~uint32 | ~int64 | ~uint64 |
		~float32 | ~float64 | ~bool
}

// Scalar is a single numeric or boolean value tagged with its DataType.
// Using one generic type for every scalar variant (instead of twelve
// hand-written structs) keeps the sum type exhaustive without the
// boilerplate a C union forces on its caller.
type Scalar[T numericKind] struct {
	DType DataType
	V     T
}

func (s Scalar[T]) Type() DataType { return s.DType }
func (s Scalar[T]) Clone() Value   { return s } // value semantics: no heap payload to duplicate

func NewBit(v bool) Scalar[bool]          { return Scalar[bool]{TypeBit, v} }
func NewBool(v bool) Scalar[bool]         { return Scalar[bool]{TypeBool, v} }
func NewInt8(v int8) Scalar[int8]         { return Scalar[int8]{TypeInt8, v} }
func NewUint8(v uint8) Scalar[uint8]      { return Scalar[uint8]{TypeUint8, v} }
func NewInt16(v int16) Scalar[int16]      { return Scalar[int16]{TypeInt16, v} }
func NewUint16(v uint16) Scalar[uint16]   { return Scalar[uint16]{TypeUint16, v} }
func NewInt32(v int32) Scalar[int32]      { return Scalar[int32]{TypeInt32, v} }
func NewUint32(v uint32) Scalar[uint32]   { return Scalar[uint32]{TypeUint32, v} }
func NewInt64(v int64) Scalar[int64]      { return Scalar[int64]{TypeInt64, v} }
func NewUint64(v uint64) Scalar[uint64]   { return Scalar[uint64]{TypeUint64, v} }
func NewFloat(v float32) Scalar[float32]  { return Scalar[float32]{TypeFloat, v} }
func NewDouble(v float64) Scalar[float64] { return Scalar[float64]{TypeDouble, v} }
func NewWord(v uint16) Scalar[uint16]     { return Scalar[uint16]{TypeWord, v} }
func NewDWord(v uint32) Scalar[uint32]    { return Scalar[uint32]{TypeDWord, v} }
func NewLWord(v uint64) Scalar[uint64]    { return Scalar[uint64]{TypeLWord, v} }

// ErrorValue is the sentinel variant carrying a propagated error code;
// ErrTagNotReady, ErrTagValueExpired, ErrPluginNotRunning and
// ErrPluginNotSupportReadSync are the reserved codes.
type ErrorValue struct {
	Code ErrorCode
}

func (e ErrorValue) Type() DataType { return TypeError }
func (e ErrorValue) Clone() Value   { return e }

// StringValue is a bounded UTF-8 string.
type StringValue struct {
	S string
}

func (s StringValue) Type() DataType { return TypeString }
func (s StringValue) Clone() Value   { return s } // Go strings are immutable; no copy needed

// BytesValue is a bounded byte array, distinct from ARRAY_UINT8 in that it
// has no per-element semantic meaning (it is a single BYTES tag value).
type BytesValue struct {
	B []byte
}

func (b BytesValue) Type() DataType { return TypeBytes }
func (b BytesValue) Clone() Value {
	cp := make([]byte, len(b.B))
	copy(cp, b.B)
	return BytesValue{B: cp}
}

// TimeValue is a time-of-day, held as an offset from midnight.
type TimeValue struct {
	D time.Duration
}

func (t TimeValue) Type() DataType { return TypeTime }
func (t TimeValue) Clone() Value   { return t }

// DateTimeValue is an absolute timestamp.
type DateTimeValue struct {
	T time.Time
}

func (t DateTimeValue) Type() DataType { return TypeDateTime }
func (t DateTimeValue) Clone() Value   { return t }

// ArrayValue is a bounded, typed numeric array (ARRAY_INT8 .. ARRAY_DOUBLE).
type ArrayValue[T numericKind] struct {
	DType DataType
	Data  []T
}

func NewArrayValue[T numericKind](dt DataType, data []T) ArrayValue[T] {
	return ArrayValue[T]{DType: dt, Data: data}
}

func (a ArrayValue[T]) Type() DataType { return a.DType }
func (a ArrayValue[T]) Clone() Value {
	cp := make([]T, len(a.Data))
	copy(cp, a.Data)
	return ArrayValue[T]{DType: a.DType, Data: cp}
}

// ArrayStringValue is a bounded array of strings, distinct from other
// ARRAY_* variants in that each element owns its own backing storage.
type ArrayStringValue struct {
	Strings []string
}

func (a ArrayStringValue) Type() DataType { return TypeArrayString }
func (a ArrayStringValue) Clone() Value {
	cp := make([]string, len(a.Strings))
	copy(cp, a.Strings)
	return ArrayStringValue{Strings: cp}
}

// PtrValue carries exclusive ownership of an opaque owned byte buffer
// tagged with its element type and length, for protocols that hand back
// raw device-specific blobs the core does not interpret.
type PtrValue struct {
	ElemType DataType
	Length   int
	Data     []byte
}

func (p PtrValue) Type() DataType { return TypePtr }
func (p PtrValue) Clone() Value {
	cp := make([]byte, len(p.Data))
	copy(cp, p.Data)
	return PtrValue{ElemType: p.ElemType, Length: p.Length, Data: cp}
}

// CustomValue carries exclusive ownership of an owned JSON document, used
// by plugins whose tag model does not map onto scalar/array values (e.g. a
// structured device status blob).
type CustomValue struct {
	Doc json.RawMessage
}

func (c CustomValue) Type() DataType { return TypeCustom }
func (c CustomValue) Clone() Value {
	cp := make(json.RawMessage, len(c.Doc))
	copy(cp, c.Doc)
	return CustomValue{Doc: cp}
}

// Equal compares two values the way the cache's change-detection algorithm
// does: same type, bitwise or length-aware equal.
// Floating point types compare within tolerance when precision > 0.
func Equal(a, b Value, precision uint8) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if a.Type() != b.Type() {
		return false
	}

	switch av := a.(type) {
	case Scalar[float32]:
		bv := b.(Scalar[float32])
		return floatEqual(float64(av.V), float64(bv.V), precision)
	case Scalar[float64]:
		bv := b.(Scalar[float64])
		return floatEqual(av.V, bv.V, precision)
	case Scalar[bool]:
		return av.V == b.(Scalar[bool]).V
	case Scalar[int8]:
		return av.V == b.(Scalar[int8]).V
	case Scalar[uint8]:
		return av.V == b.(Scalar[uint8]).V
	case Scalar[int16]:
		return av.V == b.(Scalar[int16]).V
	case Scalar[uint16]:
		return av.V == b.(Scalar[uint16]).V
	case Scalar[int32]:
		return av.V == b.(Scalar[int32]).V
	case Scalar[uint32]:
		return av.V == b.(Scalar[uint32]).V
	case Scalar[int64]:
		return av.V == b.(Scalar[int64]).V
	case Scalar[uint64]:
		return av.V == b.(Scalar[uint64]).V
	case StringValue:
		return av.S == b.(StringValue).S
	case BytesValue:
		return bytes.Equal(av.B, b.(BytesValue).B)
	case TimeValue:
		return av.D == b.(TimeValue).D
	case DateTimeValue:
		return av.T.Equal(b.(DateTimeValue).T)
	case ArrayStringValue:
		bv := b.(ArrayStringValue)
		if len(av.Strings) != len(bv.Strings) {
			return false
		}
		for i := range av.Strings {
			if av.Strings[i] != bv.Strings[i] {
				return false
			}
		}
		return true
	case PtrValue:
		bv := b.(PtrValue)
		return av.ElemType == bv.ElemType && bytes.Equal(av.Data, bv.Data)
	case CustomValue:
		return jsonDeepEqual(av.Doc, b.(CustomValue).Doc)
	case ErrorValue:
		return av.Code == b.(ErrorValue).Code
	}

	return arrayEqual(a, b)
}

func floatEqual(a, b float64, precision uint8) bool {
	if precision == 0 {
		return a == b
	}
	tol := 1.0
	for i := uint8(0); i < precision; i++ {
		tol /= 10
	}
	d := a - b
	if d < 0 {
		d = -d
	}
	return d <= tol
}

func jsonDeepEqual(a, b json.RawMessage) bool {
	var av, bv interface{}
	if json.Unmarshal(a, &av) != nil || json.Unmarshal(b, &bv) != nil {
		return bytes.Equal(a, b)
	}
	ab, _ := json.Marshal(av)
	bb, _ := json.Marshal(bv)
	return bytes.Equal(ab, bb)
}

func arrayEqual(a, b Value) bool {
	switch av := a.(type) {
	case ArrayValue[int8]:
		return equalSlices(av.Data, b.(ArrayValue[int8]).Data)
	case ArrayValue[uint8]:
		return equalSlices(av.Data, b.(ArrayValue[uint8]).Data)
	case ArrayValue[int16]:
		return equalSlices(av.Data, b.(ArrayValue[int16]).Data)
	case ArrayValue[uint16]:
		return equalSlices(av.Data, b.(ArrayValue[uint16]).Data)
	case ArrayValue[int32]:
		return equalSlices(av.Data, b.(ArrayValue[int32]).Data)
	case ArrayValue[uint32]:
		return equalSlices(av.Data, b.(ArrayValue[uint32]).Data)
	case ArrayValue[int64]:
		return equalSlices(av.Data, b.(ArrayValue[int64]).Data)
	case ArrayValue[uint64]:
		return equalSlices(av.Data, b.(ArrayValue[uint64]).Data)
	case ArrayValue[float32]:
		return equalSlices(av.Data, b.(ArrayValue[float32]).Data)
	case ArrayValue[float64]:
		return equalSlices(av.Data, b.(ArrayValue[float64]).Data)
	}
	return false
}

func equalSlices[T comparable](a, b []T) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
