// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of iiot-gateway-core.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package tagmodel

import "fmt"

// Attribute is a bitset of the operations a tag permits.
type Attribute uint8

const (
	AttrRead      Attribute = 1 << iota // tag value is included in scheduled reads/reports
	AttrWrite                           // tag accepts NEU_REQRESP_WRITE_TAGS
	AttrSubscribe                       // tag value changes are pushed to subscribers
)

func (a Attribute) Has(f Attribute) bool { return a&f != 0 }

const (
	maxTagNameLen     = 127
	maxTagAddressLen  = 127
	maxDescriptionLen = 511
	maxPrecision      = 17
	maxBias           = 1000.0
	minBias           = -1000.0
)

// ByteOrder is the wire byte order applied to a multi-byte scalar or array
// element before it reaches the protocol buffer cursor (see pkg/protobuf).
type ByteOrder uint8

const (
	OrderNative ByteOrder = iota
	OrderBigEndian
	OrderLittleEndian
	OrderBigEndianSwap // B3A2D1C0 style mixed-endian used by some PLCs
	OrderLittleEndianSwap
)

// StringEncoding is the on-wire text encoding of a STRING-typed tag.
type StringEncoding uint8

const (
	EncodingUTF8 StringEncoding = iota
	EncodingGBK
	EncodingASCII
)

// AddressOption carries the address-decoding parameters that apply to one
// tag's Address string. It is a flat struct rather than a nested union
// because at most one of its groups (endian, string, bytes, bit) is
// meaningful for any given Type, and a flat struct keeps Tag trivially
// copyable without per-type branching at call sites that don't care.
type AddressOption struct {
	Order          ByteOrder      // applies to 16/32/64-bit scalar and array element byte order
	StringLength   int            // STRING: max encoded byte length, 0 means unbounded by this field
	StringEncoding StringEncoding // STRING: on-wire encoding
	BytesLength    int            // BYTES: fixed buffer length
	BitPosition    uint8          // BIT: 0-7, bit offset within the addressed byte
}

// Tag is one point in a group's address space: a name, a driver-specific
// address string, a type, and the scaling/validation parameters applied to
// values read from or written to it.
type Tag struct {
	Name        string
	Address     string
	Attribute   Attribute
	Type        DataType
	Precision   uint8   // significant digits after decimal scaling, 0..17
	Decimal     float64 // scale factor: stored = raw * Decimal, 0 means "no scaling" (=1)
	Bias        float64 // offset added after scaling: stored = raw*Decimal + Bias, numeric types only
	Description string
	AddrOpt     AddressOption
	Meta        []byte // plugin-private opaque blob, persisted alongside the tag
}

// ValidateTag enforces the static invariants on a single tag
// definition. It is called when a tag is added to a group and again when a
// persisted tag definition is loaded back from the repository.
func ValidateTag(t *Tag) error {
	if len(t.Name) == 0 {
		return fmt.Errorf("tag: %w: name is empty", errValidation(ErrTagNameTooLong))
	}
	if len(t.Name) > maxTagNameLen {
		return fmt.Errorf("tag %q: %w: name exceeds %d bytes", t.Name, errValidation(ErrTagNameTooLong), maxTagNameLen)
	}
	if len(t.Address) > maxTagAddressLen {
		return fmt.Errorf("tag %q: %w: address exceeds %d bytes", t.Name, errValidation(ErrTagAddressTooLong), maxTagAddressLen)
	}
	if len(t.Description) > maxDescriptionLen {
		return fmt.Errorf("tag %q: %w: description exceeds %d bytes", t.Name, errValidation(ErrTagDescriptionTooLong), maxDescriptionLen)
	}
	if t.Precision > maxPrecision {
		return fmt.Errorf("tag %q: %w: precision %d exceeds %d", t.Name, errValidation(ErrTagPrecisionInvalid), t.Precision, maxPrecision)
	}

	if t.Bias != 0 {
		if !t.Type.IsNumeric() {
			return fmt.Errorf("tag %q: %w: bias only valid on numeric types, got %s", t.Name, errValidation(ErrTagBiasInvalid), t.Type)
		}
		if t.Bias < minBias || t.Bias > maxBias {
			return fmt.Errorf("tag %q: %w: bias %f out of range [%f,%f]", t.Name, errValidation(ErrTagBiasInvalid), t.Bias, minBias, maxBias)
		}
		if t.Attribute.Has(AttrWrite) {
			return fmt.Errorf("tag %q: %w: bias is not allowed on write-capable tags", t.Name, errValidation(ErrTagBiasInvalid))
		}
	}

	if t.Decimal != 0 {
		switch t.Type {
		case TypeBool, TypeBit, TypeString, TypeArrayString, TypeBytes, TypePtr, TypeCustom:
			return fmt.Errorf("tag %q: %w: decimal scaling not allowed on type %s", t.Name, errValidation(ErrTagDecimalInvalid), t.Type)
		}
	}

	return nil
}

// errValidation wraps an ErrorCode as a Go error for use with %w, so callers
// that need the code back can errors.As/errors.Is against CodedError while
// ValidateTag's messages stay human-readable.
func errValidation(code ErrorCode) error {
	return CodedError{Code: code}
}

// CodedError is a Go error carrying one of the ErrorCode taxonomy values,
// used at package boundaries (repository, adapter) that need to report the
// numeric code alongside a descriptive message.
type CodedError struct {
	Code ErrorCode
	Msg  string
}

func (e CodedError) Error() string {
	if e.Msg != "" {
		return e.Msg
	}
	return e.Code.String()
}
