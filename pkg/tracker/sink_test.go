package tracker

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tmat/storetracker/pkg/encoding"
)

func TestFileSink(t *testing.T) {
	dir := t.TempDir()
	sink, err := NewFileSink(dir)
	require.NoError(t, err)

	trk := New(Config{Sink: sink, BufferSize: minBufferSize})
	ml := trk.LogMethodEntry(7)
	for i := 0; i < 2000; i++ {
		ml.LogLocalStoreInt32(int32(i), 0)
	}
	trk.Flush()
	require.NoError(t, sink.Err())

	files, err := filepath.Glob(filepath.Join(dir, "capture-g*-*.bin"))
	require.NoError(t, err)
	require.NotEmpty(t, files)

	// Every file holds one complete, independently decodable generation.
	stores := 0
	for _, f := range files {
		data, err := os.ReadFile(f)
		require.NoError(t, err)
		for _, r := range decodeAll(t, data, testMeta) {
			if r.Kind == encoding.KindLocalStore {
				stores++
			}
		}
	}
	require.Equal(t, 2000, stores)
}

// TestPutUTF16SurrogatePairs tests the code-unit accounting of the string
// encoder, including a cap that falls inside a surrogate pair.
func TestPutUTF16SurrogatePairs(t *testing.T) {
	buf := make([]byte, 128)

	// "a" + U+1F600 is three code units.
	end := putUTF16(buf, 0, "a\U0001F600", 8)
	length, p, err := encoding.Uint(buf[:end], 0)
	require.NoError(t, err)
	require.Equal(t, uint32(6), length)
	require.Equal(t, "a\U0001F600", encoding.DecodeString(buf[p:end]))

	// A cap of 2 splits the pair: exactly 2 units are emitted.
	end = putUTF16(buf, 0, "a\U0001F600", 2)
	length, p, err = encoding.Uint(buf[:end], 0)
	require.NoError(t, err)
	require.Equal(t, uint32(4), length)
	require.Equal(t, end-p, 4)
	require.Equal(t, uint16(0xD83D), binary.LittleEndian.Uint16(buf[p+2:]))
}
