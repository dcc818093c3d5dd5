// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of iiot-gateway-core.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package adapter

import (
	"math"
	"time"

	"github.com/edgehaus/iiot-gateway-core/internal/tracectx"
	"github.com/edgehaus/iiot-gateway-core/pkg/driver"
	"github.com/edgehaus/iiot-gateway-core/pkg/log"
	"github.com/edgehaus/iiot-gateway-core/pkg/tagmodel"
	"github.com/google/uuid"
)

// integralEps bounds how far a decimal-divided value may sit from an
// integer and still be accepted for an integer-typed tag.
const integralEps = 1e-9

// WriteRequest is one tag write submitted by a client; GroupName/TagName
// address the target, Value carries INT64/DOUBLE/BOOL/STRING/CUSTOM as the
// client sent it.
type WriteRequest struct {
	GroupName string
	TagName   string
	Value     tagmodel.Value
}

// WriteTag validates and enqueues a single-tag write.
// Validation errors return synchronously; an accepted write reaches the
// plugin via the group's write timer in FIFO order.
func (a *Adapter) WriteTag(req driver.Request, w WriteRequest) tagmodel.ErrorCode {
	codes := a.WriteTags(req, []WriteRequest{w})
	return codes[0]
}

// WriteTags validates a batch of writes addressed to one group and
// enqueues the batch atomically under the group's write-queue mutex, so
// the drain hands them to the plugin in submission order. The returned
// slice carries one code per request; any non-zero code means the whole
// batch was rejected and nothing was enqueued.
func (a *Adapter) WriteTags(req driver.Request, ws []WriteRequest) []tagmodel.ErrorCode {
	codes := make([]tagmodel.ErrorCode, len(ws))

	if a.State() != StateRunning {
		fill(codes, tagmodel.ErrPluginNotRunning)
		return codes
	}
	if _, ok := a.plugin.(driver.TagsWriter); !ok {
		if _, ok := a.plugin.(driver.TagWriter); !ok {
			fill(codes, tagmodel.ErrPluginNotSupportWriteTags)
			return codes
		}
	}
	if len(ws) == 0 {
		return codes
	}

	items := make([]writeItem, len(ws))
	batch := uuid.New()
	groupName := ws[0].GroupName
	reject := false

	for i, w := range ws {
		if w.GroupName != groupName {
			// write_tags is single-group; multi-group requests go through
			// WriteGTags which re-homes every item on the first group.
			codes[i] = tagmodel.ErrGroupNotExist
			reject = true
			continue
		}
		item, code := a.prepareWrite(w, req, batch)
		if code != 0 {
			codes[i] = code
			reject = true
			continue
		}
		items[i] = item
	}
	if reject {
		return codes
	}

	g, ok := a.Group(groupName)
	if !ok {
		fill(codes, tagmodel.ErrGroupNotExist)
		return codes
	}
	g.enqueueWrites(items)
	return codes
}

// WriteGTags accepts writes spanning several groups in one request. All
// items enqueue on the FIRST group's queue to preserve submission order
// within the request; the reply is one aggregated array.
func (a *Adapter) WriteGTags(req driver.Request, ws []WriteRequest) []tagmodel.ErrorCode {
	codes := make([]tagmodel.ErrorCode, len(ws))

	if a.State() != StateRunning {
		fill(codes, tagmodel.ErrPluginNotRunning)
		return codes
	}
	if _, ok := a.plugin.(driver.TagsWriter); !ok {
		if _, ok := a.plugin.(driver.TagWriter); !ok {
			fill(codes, tagmodel.ErrPluginNotSupportWriteTags)
			return codes
		}
	}
	if len(ws) == 0 {
		return codes
	}

	items := make([]writeItem, len(ws))
	batch := uuid.New()
	reject := false
	for i, w := range ws {
		item, code := a.prepareWrite(w, req, batch)
		if code != 0 {
			codes[i] = code
			reject = true
			continue
		}
		items[i] = item
	}
	if reject {
		return codes
	}

	g, ok := a.Group(ws[0].GroupName)
	if !ok {
		fill(codes, tagmodel.ErrGroupNotExist)
		return codes
	}
	g.enqueueWrites(items)
	return codes
}

func fill(codes []tagmodel.ErrorCode, c tagmodel.ErrorCode) {
	for i := range codes {
		codes[i] = c
	}
}

// prepareWrite runs the validation pipeline for one write: lookup,
// attribute check, type/range check, decimal divide, storage cast and
// endian fix-up.
func (a *Adapter) prepareWrite(w WriteRequest, req driver.Request, batch uuid.UUID) (writeItem, tagmodel.ErrorCode) {
	g, ok := a.Group(w.GroupName)
	if !ok {
		return writeItem{}, tagmodel.ErrGroupNotExist
	}
	t, ok := g.findTag(w.TagName)
	if !ok {
		return writeItem{}, tagmodel.ErrTagNotExist
	}
	if !t.Attribute.Has(tagmodel.AttrWrite) {
		return writeItem{}, tagmodel.ErrPluginTagNotAllowWrite
	}

	storage, code := coerceWriteValue(t, w.Value)
	if code != 0 {
		return writeItem{}, code
	}

	return writeItem{
		id:    uuid.New(),
		req:   req,
		tag:   t,
		value: storage,
		wire:  EncodeScalar(storage, t.AddrOpt.Order),
		batch: batch,
	}, 0
}

// coerceWriteValue applies the per-type range check table plus the
// FLOAT/DOUBLE promotion and decimal division, returning the value in the
// tag's storage type.
func coerceWriteValue(t tagmodel.Tag, v tagmodel.Value) (tagmodel.Value, tagmodel.ErrorCode) {
	switch t.Type {
	case tagmodel.TypeBool:
		if b, ok := v.(tagmodel.Scalar[bool]); ok && b.DType == tagmodel.TypeBool {
			if t.Decimal != 0 {
				return nil, tagmodel.ErrTagDecimalInvalid
			}
			return tagmodel.NewBool(b.V), 0
		}
		return nil, tagmodel.ErrTagTypeMismatch

	case tagmodel.TypeString:
		if s, ok := v.(tagmodel.StringValue); ok {
			if t.Decimal != 0 {
				return nil, tagmodel.ErrTagDecimalInvalid
			}
			return s, 0
		}
		return nil, tagmodel.ErrTagTypeMismatch

	case tagmodel.TypeCustom:
		if c, ok := v.(tagmodel.CustomValue); ok {
			return c.Clone(), 0
		}
		return nil, tagmodel.ErrTagTypeMismatch

	case tagmodel.TypeBit:
		if t.Decimal != 0 {
			return nil, tagmodel.ErrTagDecimalInvalid
		}
		i, ok := asInt64(v)
		if !ok {
			return nil, tagmodel.ErrTagTypeMismatch
		}
		if i != 0 && i != 1 {
			return nil, tagmodel.ErrTagValueOutOfRange
		}
		return tagmodel.NewBit(i == 1), 0
	}

	// Numeric storage types from here on.
	raw, isInt, isDouble := numericSource(v)
	if !isInt && !isDouble {
		return nil, tagmodel.ErrTagTypeMismatch
	}

	// DOUBLE input is only admissible for float storage, or for integer
	// storage when a decimal factor will divide it back to an integer.
	if isDouble && !isFloatType(t.Type) && t.Decimal == 0 {
		return nil, tagmodel.ErrTagTypeMismatch
	}

	if t.Decimal != 0 {
		raw = raw / t.Decimal
		if !isFloatType(t.Type) {
			rounded := math.Round(raw)
			if math.Abs(raw-rounded) > math.Abs(raw)*integralEps+integralEps {
				return nil, tagmodel.ErrTagValueOutOfRange
			}
			raw = rounded
		}
	}

	return castToStorage(t.Type, raw)
}

func isFloatType(dt tagmodel.DataType) bool {
	return dt == tagmodel.TypeFloat || dt == tagmodel.TypeDouble
}

// asInt64 accepts only an INT64-typed source value, the sole encoding the
// range table permits for BIT writes.
func asInt64(v tagmodel.Value) (int64, bool) {
	if sv, ok := v.(tagmodel.Scalar[int64]); ok {
		return sv.V, true
	}
	return 0, false
}

// numericSource extracts the incoming write value as float64, reporting
// whether the client sent INT64 or DOUBLE (the only two numeric source
// encodings a control request carries).
func numericSource(v tagmodel.Value) (raw float64, isInt, isDouble bool) {
	switch sv := v.(type) {
	case tagmodel.Scalar[int64]:
		return float64(sv.V), true, false
	case tagmodel.Scalar[float64]:
		return sv.V, false, true
	}
	return 0, false, false
}

// castToStorage range-checks raw against the storage type's bounds (MIN
// and MAX accepted, MIN-1 and MAX+1 rejected) and builds the
// storage-typed value.
func castToStorage(dt tagmodel.DataType, raw float64) (tagmodel.Value, tagmodel.ErrorCode) {
	switch dt {
	case tagmodel.TypeInt8:
		if raw < math.MinInt8 || raw > math.MaxInt8 {
			return nil, tagmodel.ErrTagValueOutOfRange
		}
		return tagmodel.NewInt8(int8(raw)), 0
	case tagmodel.TypeUint8:
		if raw < 0 || raw > math.MaxUint8 {
			return nil, tagmodel.ErrTagValueOutOfRange
		}
		return tagmodel.NewUint8(uint8(raw)), 0
	case tagmodel.TypeInt16:
		if raw < math.MinInt16 || raw > math.MaxInt16 {
			return nil, tagmodel.ErrTagValueOutOfRange
		}
		return tagmodel.NewInt16(int16(raw)), 0
	case tagmodel.TypeUint16, tagmodel.TypeWord:
		if raw < 0 || raw > math.MaxUint16 {
			return nil, tagmodel.ErrTagValueOutOfRange
		}
		return tagmodel.Scalar[uint16]{DType: dt, V: uint16(raw)}, 0
	case tagmodel.TypeInt32:
		if raw < math.MinInt32 || raw > math.MaxInt32 {
			return nil, tagmodel.ErrTagValueOutOfRange
		}
		return tagmodel.NewInt32(int32(raw)), 0
	case tagmodel.TypeUint32, tagmodel.TypeDWord:
		if raw < 0 || raw > math.MaxUint32 {
			return nil, tagmodel.ErrTagValueOutOfRange
		}
		return tagmodel.Scalar[uint32]{DType: dt, V: uint32(raw)}, 0
	case tagmodel.TypeInt64:
		// MaxInt64 rounds up to 2^63 as float64, so >= rejects exactly the
		// values int64 cannot hold.
		if raw < math.MinInt64 || raw >= math.MaxInt64 {
			return nil, tagmodel.ErrTagValueOutOfRange
		}
		return tagmodel.NewInt64(int64(raw)), 0
	case tagmodel.TypeUint64, tagmodel.TypeLWord:
		if raw < 0 || raw >= math.MaxUint64 {
			return nil, tagmodel.ErrTagValueOutOfRange
		}
		return tagmodel.Scalar[uint64]{DType: dt, V: uint64(raw)}, 0
	case tagmodel.TypeFloat:
		if math.Abs(raw) > math.MaxFloat32 {
			return nil, tagmodel.ErrTagValueOutOfRange
		}
		return tagmodel.NewFloat(float32(raw)), 0
	case tagmodel.TypeDouble:
		return tagmodel.NewDouble(raw), 0
	}
	return nil, tagmodel.ErrTagTypeMismatch
}

// writeCycle is the write-timer body: it drains the group's queue in FIFO
// order and invokes the plugin's write_tags (batched per originating
// request) or write_tag, opening one span per batch around the plugin
// call.
func (a *Adapter) writeCycle(g *Group) {
	items := g.drainWrites()
	if len(items) == 0 {
		return
	}

	tagsWriter, hasBatch := a.plugin.(driver.TagsWriter)
	tagWriter, hasSingle := a.plugin.(driver.TagWriter)

	i := 0
	for i < len(items) {
		// Collect the contiguous run of items submitted by one request.
		j := i
		for j < len(items) && items[j].batch == items[i].batch {
			j++
		}
		run := items[i:j]
		i = j

		tc := a.traces.Begin()
		tc.Acquire()
		start := time.Now().UnixNano()

		var err error
		switch {
		case hasBatch && len(run) > 1:
			batch := make([]driver.WriteItem, len(run))
			for k, it := range run {
				batch[k] = driver.WriteItem{TagName: it.tag.Name, Value: it.value, WireBytes: it.wire}
			}
			err = tagsWriter.WriteTags(run[0].req, batch)
		case hasSingle:
			for _, it := range run {
				if werr := tagWriter.WriteTag(it.req, it.tag, it.value); werr != nil && err == nil {
					err = werr
				}
			}
		case hasBatch:
			batch := make([]driver.WriteItem, len(run))
			for k, it := range run {
				batch[k] = driver.WriteItem{TagName: it.tag.Name, Value: it.value, WireBytes: it.wire}
			}
			err = tagsWriter.WriteTags(run[0].req, batch)
		}

		status := tracectx.StatusOK
		if err != nil {
			status = tracectx.StatusError
			log.Warnf("adapter %s: write to group %q failed: %v", a.name, g.name, err)
		}
		tc.AddSpan(tracectx.Span{
			SpanID:  tracectx.NewSpanID(),
			Kind:    tracectx.SpanKindServer,
			StartNS: start,
			EndNS:   time.Now().UnixNano(),
			Status:  status,
			Attributes: map[string]any{
				"driver": a.name,
				"group":  g.name,
				"items":  len(run),
			},
		})
		tc.Release()
		tc.Seal()
	}
}
