package breakdown

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tmat/storetracker/pkg/encoding"
	"github.com/tmat/storetracker/pkg/tracker"
)

type captureSink struct{ data []byte }

func (s *captureSink) BufferCreated(gid int64, buf []byte, version int32) {}

func (s *captureSink) BufferFull(gid int64, data []byte, version int32) {
	s.data = append(s.data, data...)
}

var testMeta = encoding.Metadata{
	7: {Name: "demo.work", Locals: []encoding.VarType{
		{Code: encoding.TypeCodeInt32}, {Code: encoding.TypeCodeString},
	}},
	8: {Name: "demo.help", Locals: []encoding.VarType{
		{Code: encoding.TypeCodeInt64},
	}},
}

func capture(t *testing.T) []byte {
	t.Helper()
	sink := &captureSink{}
	trk := tracker.New(tracker.Config{Sink: sink})

	ml := trk.LogMethodEntry(7)
	ml.LogLocalStoreInt32(1, 0)
	ml.LogLocalStoreString("hi", 1)
	ml.LogReturn()

	ml = trk.LogMethodEntry(8)
	ml.LogLocalStoreInt64(2, 0)
	ml.LogLocalStoreInt64(3, 0)
	ml.LogLocalStoreInt64(4, 0)

	trk.Flush()
	return sink.data
}

func TestByKind(t *testing.T) {
	data := capture(t)

	breakdown, err := ByKind(data, testMeta)
	require.NoError(t, err)

	require.Equal(t, int64(2), breakdown[encoding.KindMethodEntry].Count)
	require.Equal(t, int64(5), breakdown[encoding.KindLocalStore].Count)
	require.Equal(t, int64(1), breakdown[encoding.KindReturn].Count)

	// The sum of all record bytes equals the size of the capture.
	var size int64
	for _, summary := range breakdown {
		size += summary.Bytes
	}
	require.Equal(t, int64(len(data)), size)
}

func TestByMethod(t *testing.T) {
	data := capture(t)

	breakdown, err := ByMethod(data, testMeta)
	require.NoError(t, err)
	require.Len(t, breakdown, 2)

	require.Equal(t, "demo.work", breakdown[7].Name)
	require.Equal(t, int64(2), breakdown[7].Stores)
	require.Equal(t, int64(4), breakdown[7].Records)

	require.Equal(t, "demo.help", breakdown[8].Name)
	require.Equal(t, int64(3), breakdown[8].Stores)
	require.Equal(t, int64(4), breakdown[8].Records)
}
