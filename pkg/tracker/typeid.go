package tracker

import (
	"encoding/binary"
	"fmt"
	"hash/fnv"
	"math"
	"reflect"
	"sync"

	"github.com/tmat/storetracker/pkg/encoding"
)

// TypeResolver produces the wire identity of a dynamic type for the object
// and enum fallback encodings. The consumer resolves full type information
// out-of-band from the identity.
type TypeResolver interface {
	Identify(t reflect.Type) encoding.TypeIdentity
}

// hashResolver is the default resolver. It derives a deterministic identity
// by hashing the type's package path into the module version id and its
// full name into the token, so repeated runs of the same binary report the
// same identities.
type hashResolver struct {
	cache sync.Map // reflect.Type -> encoding.TypeIdentity
}

func (r *hashResolver) Identify(t reflect.Type) encoding.TypeIdentity {
	if v, ok := r.cache.Load(t); ok {
		return v.(encoding.TypeIdentity)
	}
	var id encoding.TypeIdentity
	h := fnv.New128a()
	h.Write([]byte(t.PkgPath()))
	h.Sum(id.ModuleVersionID[:0])

	h32 := fnv.New32a()
	h32.Write([]byte(t.String()))
	id.MetadataToken = h32.Sum32()

	r.cache.Store(t, id)
	return id
}

// untyped dispatches a boxed store on the value's dynamic type: a dedicated
// primitive TypeCode when one exists, the enum encoding for named types
// with an integer underlying kind, and the generic string+type-identity
// encoding otherwise. base selects the local or parameter untyped tag
// range.
func (m MethodLogger) untyped(base uint32, value any, index int) {
	switch v := value.(type) {
	case nil:
		m.untypedEmpty(base, encoding.TypeCodeNull, index)
	case bool:
		var bits uint64
		if v {
			bits = 1
		}
		m.untypedFixed(base, encoding.TypeCodeBool, bits, 1, index)
	case int8:
		m.untypedFixed(base, encoding.TypeCodeInt8, uint64(uint8(v)), 1, index)
	case uint8:
		m.untypedFixed(base, encoding.TypeCodeUint8, uint64(v), 1, index)
	case int16:
		m.untypedFixed(base, encoding.TypeCodeInt16, uint64(uint16(v)), 2, index)
	case uint16:
		m.untypedFixed(base, encoding.TypeCodeUint16, uint64(v), 2, index)
	case int32:
		m.untypedFixed(base, encoding.TypeCodeInt32, uint64(uint32(v)), 4, index)
	case uint32:
		m.untypedFixed(base, encoding.TypeCodeUint32, uint64(v), 4, index)
	case int64:
		m.untypedFixed(base, encoding.TypeCodeInt64, uint64(v), 8, index)
	case uint64:
		m.untypedFixed(base, encoding.TypeCodeUint64, v, 8, index)
	case int:
		m.untypedFixed(base, encoding.TypeCodeInt64, uint64(v), 8, index)
	case uint:
		m.untypedFixed(base, encoding.TypeCodeUint64, uint64(v), 8, index)
	case uintptr:
		m.untypedFixed(base, encoding.TypeCodeUint64, uint64(v), 8, index)
	case float32:
		m.untypedFixed(base, encoding.TypeCodeFloat32, uint64(math.Float32bits(v)), 4, index)
	case float64:
		m.untypedFixed(base, encoding.TypeCodeFloat64, math.Float64bits(v), 8, index)
	case string:
		m.untypedString(base, v, index)
	default:
		m.untypedFallback(base, value, index)
	}
}

// enumKinds is the fixed fallback chain of integer underlying kinds checked
// for named types without a dedicated encoding.
var enumKinds = [...]struct {
	kind reflect.Kind
	code encoding.TypeCode
	size int
}{
	{reflect.Int8, encoding.TypeCodeInt8, 1},
	{reflect.Uint8, encoding.TypeCodeUint8, 1},
	{reflect.Int16, encoding.TypeCodeInt16, 2},
	{reflect.Uint16, encoding.TypeCodeUint16, 2},
	{reflect.Int32, encoding.TypeCodeInt32, 4},
	{reflect.Uint32, encoding.TypeCodeUint32, 4},
	{reflect.Int64, encoding.TypeCodeInt64, 8},
	{reflect.Uint64, encoding.TypeCodeUint64, 8},
	{reflect.Int, encoding.TypeCodeInt64, 8},
	{reflect.Uint, encoding.TypeCodeUint64, 8},
}

func (m MethodLogger) untypedFallback(base uint32, value any, index int) {
	rt := reflect.TypeOf(value)
	if rt.Name() != "" {
		for _, ek := range enumKinds {
			if rt.Kind() != ek.kind {
				continue
			}
			rv := reflect.ValueOf(value)
			var bits uint64
			if rv.CanInt() {
				bits = uint64(rv.Int())
			} else {
				bits = rv.Uint()
			}
			m.untypedEnum(base, ek.code, bits, ek.size, m.t.resolver.Identify(rt), index)
			return
		}
	}
	m.untypedObject(base, value, rt, index)
}

func (m MethodLogger) untypedEmpty(base uint32, code encoding.TypeCode, index int) {
	b := m.b
	p := b.writeRecordHeader(base+uint32(code), encoding.MaxUintSize)
	p = encoding.PutUint(b.data, p, uint32(index))
	b.endRecord(p)
}

func (m MethodLogger) untypedFixed(base uint32, code encoding.TypeCode, bits uint64, size, index int) {
	b := m.b
	p := b.writeRecordHeader(base+uint32(code), size+encoding.MaxUintSize)
	for i := 0; i < size; i++ {
		b.data[p+i] = byte(bits >> (8 * i))
	}
	p += size
	p = encoding.PutUint(b.data, p, uint32(index))
	b.endRecord(p)
}

func (m MethodLogger) untypedString(base uint32, value string, index int) {
	b := m.b
	limit := m.t.stringLimit(b)
	p := b.writeRecordHeader(base+uint32(encoding.TypeCodeString), 2*encoding.MaxUintSize+2*limit)
	p = putUTF16(b.data, p, value, limit)
	p = encoding.PutUint(b.data, p, uint32(index))
	b.endRecord(p)
}

// untypedEnum writes the enum form: the underlying type code, the numeric
// value in that encoding, and the type identity the consumer uses to
// recover the symbolic member name from metadata.
func (m MethodLogger) untypedEnum(base uint32, underlying encoding.TypeCode, bits uint64, size int, id encoding.TypeIdentity, index int) {
	b := m.b
	p := b.writeRecordHeader(base+uint32(encoding.TypeCodeEnum), 1+8+encoding.TypeIdentitySize+encoding.MaxUintSize)
	b.data[p] = byte(underlying)
	p++
	for i := 0; i < size; i++ {
		b.data[p+i] = byte(bits >> (8 * i))
	}
	p += size
	p = putTypeID(b.data, p, id)
	p = encoding.PutUint(b.data, p, uint32(index))
	b.endRecord(p)
}

// untypedObject writes the generic fallback form: the value's string form
// followed by its dynamic type identity. Errors contribute their message,
// Stringers their String; anything a String method panics with propagates
// to the instrumented program, matching the semantics of calling it at the
// store site.
func (m MethodLogger) untypedObject(base uint32, value any, rt reflect.Type, index int) {
	s := stringForm(value)
	id := m.t.resolver.Identify(rt)

	b := m.b
	limit := m.t.stringLimit(b)
	p := b.writeRecordHeader(base+uint32(encoding.TypeCodeObject),
		encoding.MaxUintSize+2*limit+encoding.TypeIdentitySize+encoding.MaxUintSize)
	p = putUTF16(b.data, p, s, limit)
	p = putTypeID(b.data, p, id)
	p = encoding.PutUint(b.data, p, uint32(index))
	b.endRecord(p)
}

func stringForm(value any) string {
	switch v := value.(type) {
	case error:
		return v.Error()
	case fmt.Stringer:
		return v.String()
	default:
		return fmt.Sprintf("%v", value)
	}
}

func putTypeID(data []byte, pos int, id encoding.TypeIdentity) int {
	pos += copy(data[pos:], id.ModuleVersionID[:])
	binary.LittleEndian.PutUint32(data[pos:], id.MetadataToken)
	return pos + 4
}
