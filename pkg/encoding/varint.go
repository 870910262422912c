package encoding

import "encoding/binary"

// Compact integer encoding. A value occupies 1, 2 or 4 bytes depending on its
// magnitude and the width is recoverable from the first byte alone:
//
//	0xxxxxxx                            1 byte,  values 0..0x7F
//	10xxxxxx xxxxxxxx                   2 bytes, values 0..0x3FFF
//	11xxxxxx xxxxxxxx xxxxxxxx xxxxxxxx 4 bytes, values 0..0x3FFFFFFF
//
// Writers always pick the smallest tier that fits. This is a contract, not an
// optimization: readers compute record lengths from minimal-form encodings.

const (
	// MaxUint is the largest value representable as a compact uint.
	MaxUint = 0x3FFFFFFF
	// MaxUintSize is the largest encoded size of a compact uint.
	MaxUintSize = 4
	// MaxLongSize is the largest encoded size of a compact long:
	// a one byte discriminator followed by 8 raw bytes.
	MaxLongSize = 9
)

// PutUint writes v to b at pos in compact form and returns the position
// immediately following the encoded value.
//
// v must not exceed MaxUint. This is hot-path code and performs no
// validation; larger values corrupt the stream.
func PutUint(b []byte, pos int, v uint32) int {
	switch {
	case v <= 0x7F:
		b[pos] = byte(v)
		return pos + 1
	case v <= 0x3FFF:
		b[pos] = 0x80 | byte(v>>8)
		b[pos+1] = byte(v)
		return pos + 2
	default:
		b[pos] = 0xC0 | byte(v>>24)
		b[pos+1] = byte(v >> 16)
		b[pos+2] = byte(v >> 8)
		b[pos+3] = byte(v)
		return pos + 4
	}
}

// PutInt writes v to b at pos as a zig-zag transformed compact uint and
// returns the position immediately following the encoded value.
//
// The transform maps small magnitudes of either sign to small unsigned
// values, so each tier keeps a usable range (1 byte covers -64..63). It is
// used for variable slot identifiers where the sign distinguishes a
// parameter slot from a local slot.
func PutInt(b []byte, pos int, v int32) int {
	return PutUint(b, pos, uint32(v<<1)^uint32(v>>31))
}

// PutLong writes v to b at pos and returns the position immediately
// following the encoded value. Values representable as a compact uint are
// written as a zero discriminator byte followed by the compact form; larger
// values as a one discriminator byte followed by 8 raw little-endian bytes.
func PutLong(b []byte, pos int, v uint64) int {
	if v <= MaxUint {
		b[pos] = 0
		return PutUint(b, pos+1, uint32(v))
	}
	b[pos] = 1
	binary.LittleEndian.PutUint64(b[pos+1:], v)
	return pos + 9
}

// Uint reads a compact uint from b at pos and returns the value and the
// position immediately following it. It returns ErrPartialRecord if the
// encoded value extends past the end of b.
func Uint(b []byte, pos int) (uint32, int, error) {
	if pos >= len(b) {
		return 0, pos, ErrPartialRecord
	}
	first := b[pos]
	switch {
	case first&0x80 == 0:
		return uint32(first), pos + 1, nil
	case first&0x40 == 0:
		if pos+2 > len(b) {
			return 0, pos, ErrPartialRecord
		}
		return uint32(first&0x3F)<<8 | uint32(b[pos+1]), pos + 2, nil
	default:
		if pos+4 > len(b) {
			return 0, pos, ErrPartialRecord
		}
		v := uint32(first&0x3F)<<24 | uint32(b[pos+1])<<16 | uint32(b[pos+2])<<8 | uint32(b[pos+3])
		return v, pos + 4, nil
	}
}

// Int reads a zig-zag transformed compact int from b at pos.
func Int(b []byte, pos int) (int32, int, error) {
	u, next, err := Uint(b, pos)
	if err != nil {
		return 0, pos, err
	}
	return int32(u>>1) ^ -int32(u&1), next, nil
}

// Long reads a compact long from b at pos.
func Long(b []byte, pos int) (uint64, int, error) {
	if pos >= len(b) {
		return 0, pos, ErrPartialRecord
	}
	if b[pos] == 0 {
		v, next, err := Uint(b, pos+1)
		return uint64(v), next, err
	}
	if pos+9 > len(b) {
		return 0, pos, ErrPartialRecord
	}
	return binary.LittleEndian.Uint64(b[pos+1:]), pos + 9, nil
}
