package encoding

import "strconv"

// TypeCode identifies the wire encoding of a stored value. The enumeration
// is contiguous and its ordering is load-bearing: untyped store tags are
// computed as a base tag plus the type code, so new codes may only be
// appended before TypeCodeCount.
type TypeCode byte

const (
	TypeCodeBool    TypeCode = 0  // 1 byte, 0 or 1
	TypeCodeInt8    TypeCode = 1  // 1 byte
	TypeCodeUint8   TypeCode = 2  // 1 byte
	TypeCodeInt16   TypeCode = 3  // 2 bytes, little-endian
	TypeCodeUint16  TypeCode = 4  // 2 bytes, little-endian
	TypeCodeInt32   TypeCode = 5  // 4 bytes, little-endian
	TypeCodeUint32  TypeCode = 6  // 4 bytes, little-endian
	TypeCodeInt64   TypeCode = 7  // 8 bytes, little-endian
	TypeCodeUint64  TypeCode = 8  // 8 bytes, little-endian
	TypeCodeFloat32 TypeCode = 9  // 4 bytes, IEEE 754 bits, little-endian
	TypeCodeFloat64 TypeCode = 10 // 8 bytes, IEEE 754 bits, little-endian
	TypeCodeDecimal TypeCode = 11 // 16 bytes; reserved, no Go producer
	TypeCodeChar    TypeCode = 12 // 2 bytes, UTF-16 code unit
	TypeCodeString  TypeCode = 13 // [byte length] [UTF-16LE bytes]
	TypeCodeObject  TypeCode = 14 // string form followed by type identity
	TypeCodeEnum    TypeCode = 15 // [underlying TypeCode byte] [value] [type identity]
	TypeCodeNull    TypeCode = 16 // no value bytes
	TypeCodeCount   TypeCode = 17
)

// FixedSize returns the encoded payload size of values with code c, or -1 if
// the size is not fixed (strings, objects, enums, null).
func (c TypeCode) FixedSize() int {
	switch c {
	case TypeCodeBool, TypeCodeInt8, TypeCodeUint8:
		return 1
	case TypeCodeInt16, TypeCodeUint16, TypeCodeChar:
		return 2
	case TypeCodeInt32, TypeCodeUint32, TypeCodeFloat32:
		return 4
	case TypeCodeInt64, TypeCodeUint64, TypeCodeFloat64:
		return 8
	case TypeCodeDecimal:
		return 16
	default:
		return -1
	}
}

func (c TypeCode) String() string {
	if int(c) < len(typeCodeNames) {
		return typeCodeNames[c]
	}
	return "TypeCode(" + strconv.Itoa(int(c)) + ")"
}

var typeCodeNames = [...]string{
	"Bool", "Int8", "Uint8", "Int16", "Uint16", "Int32", "Uint32",
	"Int64", "Uint64", "Float32", "Float64", "Decimal", "Char",
	"String", "Object", "Enum", "Null", "Count",
}
