// Package anon holds the letter-level obfuscation primitives used by the
// capture and metadata anonymizers.
package anon

import (
	"bytes"
	"encoding/binary"
	"unicode"
	"unicode/utf8"
)

// Name obfuscates a pkg.func identifier in place unless pkg is contained in
// packages. The obfuscation is done by replacing all upper and lower case
// letters with "X" and "x" respectively.
func Name(s []byte, packages []string) {
	if len(s) == 0 {
		return
	}

	pkg, _, found := bytes.Cut(s, []byte("."))
	if found {
		for _, allowed := range packages {
			if bytes.Equal(pkg, []byte(allowed)) {
				return
			}
		}
	}
	Bytes(s)
}

// Bytes replaces all upper and lower case letters with "X" and "x"
// respectively. Additionally it keeps any ".go" suffix of b intact.
func Bytes(b []byte) {
	if bytes.HasSuffix(b, []byte(".go")) {
		b = b[:len(b)-3]
	}

	// iterate over all utf8 runes in b
	for i := 0; i < len(b); {
		r, size := utf8.DecodeRune(b[i:])
		if unicode.IsUpper(r) {
			for j := 0; j < size; j++ {
				b[i+j] = 'X'
			}
		} else if unicode.IsLower(r) {
			for j := 0; j < size; j++ {
				b[i+j] = 'x'
			}
		}
		i += size
	}
}

// UTF16 obfuscates a UTF-16LE string payload in place, unit by unit, so the
// payload width never changes. Surrogate units become "x".
func UTF16(b []byte) {
	for i := 0; i+1 < len(b); i += 2 {
		u := binary.LittleEndian.Uint16(b[i:])
		switch {
		case u >= 0xD800 && u < 0xE000:
			binary.LittleEndian.PutUint16(b[i:], 'x')
		case unicode.IsUpper(rune(u)):
			binary.LittleEndian.PutUint16(b[i:], 'X')
		case unicode.IsLower(rune(u)):
			binary.LittleEndian.PutUint16(b[i:], 'x')
		}
	}
}
