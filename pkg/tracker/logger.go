package tracker

import (
	"encoding/binary"
	"math"
	"unicode/utf16"
	"unsafe"

	"github.com/tmat/storetracker/pkg/encoding"
)

// MethodLogger is the handle an instrumented method body logs through. It
// is returned by value from the entry functions and carries the goroutine's
// buffer, so store sites compile to straight-line writes with no registry
// lookup and no allocation.
//
// One store method exists per primitive type rather than a single generic
// entry point, so each instrumented store site calls a direct, non-boxing
// method. The untyped LogLocalStore/LogParameterStore overloads are the
// boxed fallback for everything else.
type MethodLogger struct {
	b *buffer
	t *Tracker
}

// LogReturn records return from the method body.
func (m MethodLogger) LogReturn() {
	b := m.b
	p := b.writeRecordHeader(encoding.TagReturn, 0)
	b.endRecord(p)
}

// Typed local stores. The local index is folded into the tag; the payload
// is the raw value alone. The consumer recovers the width from the local's
// static type in the metadata.

func (m MethodLogger) LogLocalStoreBool(value bool, index int) {
	var v byte
	if value {
		v = 1
	}
	m.localFixed8(v, index)
}

func (m MethodLogger) LogLocalStoreInt8(value int8, index int)   { m.localFixed8(byte(value), index) }
func (m MethodLogger) LogLocalStoreUint8(value uint8, index int) { m.localFixed8(value, index) }

func (m MethodLogger) LogLocalStoreInt16(value int16, index int) {
	m.localFixed16(uint16(value), index)
}
func (m MethodLogger) LogLocalStoreUint16(value uint16, index int) { m.localFixed16(value, index) }

func (m MethodLogger) LogLocalStoreInt32(value int32, index int) {
	m.localFixed32(uint32(value), index)
}
func (m MethodLogger) LogLocalStoreUint32(value uint32, index int) { m.localFixed32(value, index) }

func (m MethodLogger) LogLocalStoreInt64(value int64, index int) {
	m.localFixed64(uint64(value), index)
}
func (m MethodLogger) LogLocalStoreUint64(value uint64, index int) { m.localFixed64(value, index) }

func (m MethodLogger) LogLocalStoreFloat32(value float32, index int) {
	m.localFixed32(math.Float32bits(value), index)
}

func (m MethodLogger) LogLocalStoreFloat64(value float64, index int) {
	m.localFixed64(math.Float64bits(value), index)
}

// LogLocalStoreChar records a UTF-16 code unit store. Runes outside the
// basic multilingual plane are recorded as their low 16 bits.
func (m MethodLogger) LogLocalStoreChar(value rune, index int) {
	m.localFixed16(uint16(value), index)
}

// LogLocalStoreString records a string store, truncated to the configured
// cap.
func (m MethodLogger) LogLocalStoreString(value string, index int) {
	b := m.b
	limit := m.t.stringLimit(b)
	p := b.writeRecordHeader(localStoreTag(index), encoding.MaxUintSize+2*limit)
	p = putUTF16(b.data, p, value, limit)
	b.endRecord(p)
}

// LogLocalStoreUnmanaged records the raw memory of a pointer-free value.
// size is the value's physical size; the consumer recovers it from the
// metadata.
func (m MethodLogger) LogLocalStoreUnmanaged(ptr unsafe.Pointer, size uintptr, index int) {
	m.unmanaged(encoding.TagLocalUnmanagedStore, ptr, size, index)
}

// LogLocalStore records a store of a value with no dedicated overload,
// dispatching on its dynamic type.
func (m MethodLogger) LogLocalStore(value any, index int) {
	m.untyped(encoding.TagUntypedLocalStoreBase, value, index)
}

// Typed parameter stores: [parameter index, value]. Parameter stores are
// rarer than local stores, so the index is a payload field rather than
// folded into the tag.

func (m MethodLogger) LogParameterStoreBool(value bool, index int) {
	var v byte
	if value {
		v = 1
	}
	m.paramFixed8(v, index)
}

func (m MethodLogger) LogParameterStoreInt8(value int8, index int)   { m.paramFixed8(byte(value), index) }
func (m MethodLogger) LogParameterStoreUint8(value uint8, index int) { m.paramFixed8(value, index) }

func (m MethodLogger) LogParameterStoreInt16(value int16, index int) {
	m.paramFixed16(uint16(value), index)
}
func (m MethodLogger) LogParameterStoreUint16(value uint16, index int) { m.paramFixed16(value, index) }

func (m MethodLogger) LogParameterStoreInt32(value int32, index int) {
	m.paramFixed32(uint32(value), index)
}
func (m MethodLogger) LogParameterStoreUint32(value uint32, index int) { m.paramFixed32(value, index) }

func (m MethodLogger) LogParameterStoreInt64(value int64, index int) {
	m.paramFixed64(uint64(value), index)
}
func (m MethodLogger) LogParameterStoreUint64(value uint64, index int) { m.paramFixed64(value, index) }

func (m MethodLogger) LogParameterStoreFloat32(value float32, index int) {
	m.paramFixed32(math.Float32bits(value), index)
}

func (m MethodLogger) LogParameterStoreFloat64(value float64, index int) {
	m.paramFixed64(math.Float64bits(value), index)
}

func (m MethodLogger) LogParameterStoreChar(value rune, index int) {
	m.paramFixed16(uint16(value), index)
}

func (m MethodLogger) LogParameterStoreString(value string, index int) {
	b := m.b
	limit := m.t.stringLimit(b)
	p := b.writeRecordHeader(encoding.TagParameterStore, 2*encoding.MaxUintSize+2*limit)
	p = encoding.PutUint(b.data, p, uint32(index))
	p = putUTF16(b.data, p, value, limit)
	b.endRecord(p)
}

func (m MethodLogger) LogParameterStoreUnmanaged(ptr unsafe.Pointer, size uintptr, index int) {
	m.unmanaged(encoding.TagParameterUnmanagedStore, ptr, size, index)
}

func (m MethodLogger) LogParameterStore(value any, index int) {
	m.untyped(encoding.TagUntypedParameterStoreBase, value, index)
}

// Address and alias records. A variable whose address escapes is recorded
// once at entry by address; the tracker cannot intercept mutations made
// through the alias, so no per-assignment records follow.

func (m MethodLogger) LogLocalAddress(addr unsafe.Pointer, index int) {
	m.address(int32(index), addr)
}

func (m MethodLogger) LogParameterAddress(addr unsafe.Pointer, index int) {
	m.address(encoding.ParameterSlot(int32(index)), addr)
}

func (m MethodLogger) LogLocalAliasLocal(targetLocal, sourceLocal int) {
	m.alias(encoding.TagLocalAliasLocal, targetLocal, sourceLocal)
}

func (m MethodLogger) LogLocalAliasParameter(targetLocal, sourceParameter int) {
	m.alias(encoding.TagLocalAliasParameter, targetLocal, sourceParameter)
}

func (m MethodLogger) LogParameterAliasParameter(targetParameter, sourceParameter int) {
	m.alias(encoding.TagParameterAliasParameter, targetParameter, sourceParameter)
}

func localStoreTag(index int) uint32 {
	return encoding.TagLocalStoreBase + uint32(index)
}

func (m MethodLogger) localFixed8(v byte, index int) {
	b := m.b
	p := b.writeRecordHeader(localStoreTag(index), 1)
	b.data[p] = v
	b.endRecord(p + 1)
}

func (m MethodLogger) localFixed16(v uint16, index int) {
	b := m.b
	p := b.writeRecordHeader(localStoreTag(index), 2)
	binary.LittleEndian.PutUint16(b.data[p:], v)
	b.endRecord(p + 2)
}

func (m MethodLogger) localFixed32(v uint32, index int) {
	b := m.b
	p := b.writeRecordHeader(localStoreTag(index), 4)
	binary.LittleEndian.PutUint32(b.data[p:], v)
	b.endRecord(p + 4)
}

func (m MethodLogger) localFixed64(v uint64, index int) {
	b := m.b
	p := b.writeRecordHeader(localStoreTag(index), 8)
	binary.LittleEndian.PutUint64(b.data[p:], v)
	b.endRecord(p + 8)
}

func (m MethodLogger) paramFixed8(v byte, index int) {
	b := m.b
	p := b.writeRecordHeader(encoding.TagParameterStore, encoding.MaxUintSize+1)
	p = encoding.PutUint(b.data, p, uint32(index))
	b.data[p] = v
	b.endRecord(p + 1)
}

func (m MethodLogger) paramFixed16(v uint16, index int) {
	b := m.b
	p := b.writeRecordHeader(encoding.TagParameterStore, encoding.MaxUintSize+2)
	p = encoding.PutUint(b.data, p, uint32(index))
	binary.LittleEndian.PutUint16(b.data[p:], v)
	b.endRecord(p + 2)
}

func (m MethodLogger) paramFixed32(v uint32, index int) {
	b := m.b
	p := b.writeRecordHeader(encoding.TagParameterStore, encoding.MaxUintSize+4)
	p = encoding.PutUint(b.data, p, uint32(index))
	binary.LittleEndian.PutUint32(b.data[p:], v)
	b.endRecord(p + 4)
}

func (m MethodLogger) paramFixed64(v uint64, index int) {
	b := m.b
	p := b.writeRecordHeader(encoding.TagParameterStore, encoding.MaxUintSize+8)
	p = encoding.PutUint(b.data, p, uint32(index))
	binary.LittleEndian.PutUint64(b.data[p:], v)
	b.endRecord(p + 8)
}

func (m MethodLogger) unmanaged(tag uint32, ptr unsafe.Pointer, size uintptr, index int) {
	b := m.b
	maxPayload := encoding.MaxUintSize + int(size)
	if maxEntrySize+maxHeaderSize+maxPayload > len(b.data)-1 {
		// The blob cannot fit even an empty buffer. Drop the record:
		// truncating the blob would overrun the end-of-data sentinel and
		// tear the rest of the generation.
		return
	}
	blob := unsafe.Slice((*byte)(ptr), size)
	p := b.writeRecordHeader(tag, maxPayload)
	p = encoding.PutUint(b.data, p, uint32(index))
	p += copy(b.data[p:], blob)
	b.endRecord(p)
}

func (m MethodLogger) address(slot int32, addr unsafe.Pointer) {
	b := m.b
	p := b.writeRecordHeader(encoding.TagVariableAddress, encoding.MaxUintSize+encoding.MaxLongSize)
	p = encoding.PutInt(b.data, p, slot)
	p = encoding.PutLong(b.data, p, uint64(uintptr(addr)))
	b.endRecord(p)
}

func (m MethodLogger) alias(tag uint32, target, source int) {
	b := m.b
	p := b.writeRecordHeader(tag, 2*encoding.MaxUintSize)
	p = encoding.PutUint(b.data, p, uint32(target))
	p = encoding.PutUint(b.data, p, uint32(source))
	b.endRecord(p)
}

// putUTF16 writes s as a length-prefixed UTF-16LE string truncated to at
// most limit code units and returns the new position. A string longer than
// the cap always emits exactly limit code units, even when that splits a
// surrogate pair.
func putUTF16(data []byte, pos int, s string, limit int) int {
	units := 0
	for _, r := range s {
		units++
		if r >= 0x10000 {
			units++
		}
	}
	if units > limit {
		units = limit
	}

	pos = encoding.PutUint(data, pos, uint32(units*2))
	written := 0
	for _, r := range s {
		if written >= units {
			break
		}
		if r < 0x10000 {
			binary.LittleEndian.PutUint16(data[pos:], uint16(r))
			pos += 2
			written++
			continue
		}
		hi, lo := utf16.EncodeRune(r)
		binary.LittleEndian.PutUint16(data[pos:], uint16(hi))
		pos += 2
		written++
		if written < units {
			binary.LittleEndian.PutUint16(data[pos:], uint16(lo))
			pos += 2
			written++
		}
	}
	return pos
}
