package encoding

import (
	"encoding/binary"
	"unicode/utf16"
)

// DecodeString converts the UTF-16LE payload of a string or object record
// to a Go string.
func DecodeString(b []byte) string {
	units := make([]uint16, len(b)/2)
	for i := range units {
		units[i] = binary.LittleEndian.Uint16(b[2*i:])
	}
	return string(utf16.Decode(units))
}
