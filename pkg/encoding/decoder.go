package encoding

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// ErrPartialRecord reports a record whose bytes extend past the end of the
// capture. The producing goroutine commits records atomically with respect
// to the buffer notifications, but a consumer that reads a buffer without
// suspending the producer may observe a partially written trailing record.
// Such a record must be discarded; everything decoded before it is intact.
var ErrPartialRecord = errors.New("partial trailing record")

// Decoder decodes the records of one buffer generation. Typed store records
// have no self-describing width, so decoding requires the metadata table
// emitted by the instrumentation selector.
type Decoder struct {
	data []byte
	meta Metadata
	pos  int
	cur  *MethodInfo // method context established by the last entry record
	ok   bool        // cur is valid
}

// NewDecoder returns a decoder reading the records in data, which holds the
// live bytes of one buffer generation as reported by a buffer-full
// notification.
func NewDecoder(data []byte, meta Metadata) *Decoder {
	return &Decoder{data: data, meta: meta}
}

// Offset returns the offset of the next record. After Decode returns
// ErrPartialRecord this is the offset where the torn record begins.
func (d *Decoder) Offset() int { return d.pos }

// Decode decodes the next record into r. It returns io.EOF at the end of
// the capture or at the zero-filled unwritten tail, and ErrPartialRecord if
// the trailing record is torn.
func (d *Decoder) Decode(r *Record) error {
	if d.pos >= len(d.data) {
		return io.EOF
	}
	tag, p, err := Uint(d.data, d.pos)
	if err != nil {
		return err
	}
	if tag == TagEndOfData {
		return io.EOF
	}

	*r = Record{StrOffset: -1}
	switch {
	case tag >= TagLocalStoreBase:
		// Typed local store: the index is folded into the tag and the value
		// width comes from the local's static type.
		r.Kind = KindLocalStore
		r.Index = int32(tag - TagLocalStoreBase)
		vt, err := d.localType(r.Index)
		if err != nil {
			return err
		}
		r.Code = vt.Code
		if p, err = d.readValue(r, vt.Code, p, false); err != nil {
			return err
		}

	case tag >= TagUntypedParameterStoreBase && tag < TagUntypedParameterStoreBase+uint32(TypeCodeCount):
		r.Kind = KindUntypedParameterStore
		r.Code = TypeCode(tag - TagUntypedParameterStoreBase)
		if p, err = d.readUntyped(r, p); err != nil {
			return err
		}

	case tag >= TagUntypedLocalStoreBase && tag < TagUntypedLocalStoreBase+uint32(TypeCodeCount):
		r.Kind = KindUntypedLocalStore
		r.Code = TypeCode(tag - TagUntypedLocalStoreBase)
		if p, err = d.readUntyped(r, p); err != nil {
			return err
		}

	default:
		if p, err = d.decodeControl(r, tag, p); err != nil {
			return err
		}
	}

	d.pos = p
	return nil
}

// decodeControl decodes the payload of the fixed control tags.
func (d *Decoder) decodeControl(r *Record, tag uint32, p int) (int, error) {
	var err error
	switch tag {
	case TagMethodEntry, TagMethodEntryWithAddresses:
		r.Kind = KindMethodEntry
		if tag == TagMethodEntryWithAddresses {
			r.Kind = KindMethodEntryAddresses
		}
		if r.MethodID, p, err = Uint(d.data, p); err != nil {
			return p, err
		}
		d.enterMethod(r.MethodID)

	case TagLambdaEntry:
		r.Kind = KindLambdaEntry
		if r.MethodID, p, err = Uint(d.data, p); err != nil {
			return p, err
		}
		if r.LambdaID, p, err = Uint(d.data, p); err != nil {
			return p, err
		}
		d.enterMethod(r.MethodID)

	case TagStateMachineMethodEntry:
		r.Kind = KindStateMachineEntry
		if r.MethodID, p, err = Uint(d.data, p); err != nil {
			return p, err
		}
		if r.InstanceID, p, err = Long(d.data, p); err != nil {
			return p, err
		}
		d.enterMethod(r.MethodID)

	case TagStateMachineLambdaEntry:
		r.Kind = KindStateMachineLambdaEntry
		if r.MethodID, p, err = Uint(d.data, p); err != nil {
			return p, err
		}
		if r.LambdaID, p, err = Uint(d.data, p); err != nil {
			return p, err
		}
		if r.InstanceID, p, err = Long(d.data, p); err != nil {
			return p, err
		}
		d.enterMethod(r.MethodID)

	case TagReturn:
		r.Kind = KindReturn

	case TagVariableAddress:
		r.Kind = KindVariableAddress
		if r.Index, p, err = Int(d.data, p); err != nil {
			return p, err
		}
		if r.Address, p, err = Long(d.data, p); err != nil {
			return p, err
		}

	case TagLocalAliasLocal, TagLocalAliasParameter, TagParameterAliasParameter:
		switch tag {
		case TagLocalAliasLocal:
			r.Kind = KindLocalAliasLocal
		case TagLocalAliasParameter:
			r.Kind = KindLocalAliasParameter
		default:
			r.Kind = KindParameterAliasParameter
		}
		var target, source uint32
		if target, p, err = Uint(d.data, p); err != nil {
			return p, err
		}
		if source, p, err = Uint(d.data, p); err != nil {
			return p, err
		}
		r.Index, r.Source = int32(target), int32(source)

	case TagParameterStore:
		r.Kind = KindParameterStore
		var index uint32
		if index, p, err = Uint(d.data, p); err != nil {
			return p, err
		}
		r.Index = int32(index)
		vt, err := d.paramType(r.Index)
		if err != nil {
			return p, err
		}
		r.Code = vt.Code
		if p, err = d.readValue(r, vt.Code, p, false); err != nil {
			return p, err
		}

	case TagParameterUnmanagedStore, TagLocalUnmanagedStore:
		r.Kind = KindParameterUnmanagedStore
		if tag == TagLocalUnmanagedStore {
			r.Kind = KindLocalUnmanagedStore
		}
		var index uint32
		if index, p, err = Uint(d.data, p); err != nil {
			return p, err
		}
		r.Index = int32(index)
		var vt VarType
		if tag == TagLocalUnmanagedStore {
			vt, err = d.localType(r.Index)
		} else {
			vt, err = d.paramType(r.Index)
		}
		if err != nil {
			return p, err
		}
		if p+vt.Size > len(d.data) {
			return p, ErrPartialRecord
		}
		r.Blob = d.data[p : p+vt.Size]
		p += vt.Size

	default:
		// The tag ranges are contiguous, so anything else is a torn or
		// corrupted record.
		return p, ErrPartialRecord
	}
	return p, nil
}

// readUntyped reads an untyped store payload: the value in its
// TypeCode-specific encoding followed by the variable index.
func (d *Decoder) readUntyped(r *Record, p int) (int, error) {
	p, err := d.readValue(r, r.Code, p, true)
	if err != nil {
		return p, err
	}
	var index uint32
	if index, p, err = Uint(d.data, p); err != nil {
		return p, err
	}
	r.Index = int32(index)
	return p, nil
}

// readValue reads one value in the encoding implied by code. Untyped stores
// carry a trailing type identity for object and enum forms.
func (d *Decoder) readValue(r *Record, code TypeCode, p int, untyped bool) (int, error) {
	switch code {
	case TypeCodeString:
		return d.readString(r, p)

	case TypeCodeObject:
		p, err := d.readString(r, p)
		if err != nil {
			return p, err
		}
		return d.readTypeID(r, p)

	case TypeCodeEnum:
		if !untyped {
			return p, fmt.Errorf("enum values only appear in untyped stores")
		}
		if p >= len(d.data) {
			return p, ErrPartialRecord
		}
		underlying := TypeCode(d.data[p])
		p++
		size := underlying.FixedSize()
		if size < 0 || size > 8 {
			return p, ErrPartialRecord
		}
		p, err := d.readFixed(r, size, p)
		if err != nil {
			return p, err
		}
		return d.readTypeID(r, p)

	case TypeCodeNull:
		return p, nil

	default:
		size := code.FixedSize()
		if size < 0 {
			return p, fmt.Errorf("unexpected type code %s", code)
		}
		if code == TypeCodeDecimal {
			if p+size > len(d.data) {
				return p, ErrPartialRecord
			}
			r.Blob = d.data[p : p+size]
			return p + size, nil
		}
		return d.readFixed(r, size, p)
	}
}

func (d *Decoder) readFixed(r *Record, size, p int) (int, error) {
	if p+size > len(d.data) {
		return p, ErrPartialRecord
	}
	var v uint64
	for i := size - 1; i >= 0; i-- {
		v = v<<8 | uint64(d.data[p+i])
	}
	r.Value = v
	return p + size, nil
}

func (d *Decoder) readString(r *Record, p int) (int, error) {
	length, p, err := Uint(d.data, p)
	if err != nil {
		return p, err
	}
	if p+int(length) > len(d.data) {
		return p, ErrPartialRecord
	}
	r.Str = d.data[p : p+int(length)]
	r.StrOffset = p
	return p + int(length), nil
}

func (d *Decoder) readTypeID(r *Record, p int) (int, error) {
	if p+TypeIdentitySize > len(d.data) {
		return p, ErrPartialRecord
	}
	copy(r.TypeID.ModuleVersionID[:], d.data[p:p+16])
	r.TypeID.MetadataToken = binary.LittleEndian.Uint32(d.data[p+16:])
	return p + TypeIdentitySize, nil
}

func (d *Decoder) enterMethod(methodID uint32) {
	mi, ok := d.meta[methodID]
	if ok {
		d.cur, d.ok = &mi, true
	} else {
		d.cur, d.ok = nil, false
	}
}

func (d *Decoder) localType(index int32) (VarType, error) {
	if !d.ok {
		return VarType{}, fmt.Errorf("local store without method metadata")
	}
	return d.cur.local(index)
}

func (d *Decoder) paramType(index int32) (VarType, error) {
	if !d.ok {
		return VarType{}, fmt.Errorf("parameter store without method metadata")
	}
	return d.cur.param(index)
}
