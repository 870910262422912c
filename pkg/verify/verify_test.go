package verify

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
		{Name: "count", Code: encoding.TypeCodeInt32},
	}},
}

func TestCheckCleanCapture(t *testing.T) {
	sink := &captureSink{}
	trk := tracker.New(tracker.Config{Sink: sink})

	ml := trk.LogMethodEntry(7)
	ml.LogLocalStoreInt32(1, 0)
	ml.LogLocalAddress(nil, 0)
	ml.LogReturn()
	trk.Flush()

	report, err := Check(sink.data, testMeta)
	require.NoError(t, err)
	require.Equal(t, 4, report.Records)
	require.False(t, report.Torn)
	require.Empty(t, report.Findings)
}

func TestCheckUnbalancedReturn(t *testing.T) {
	sink := &captureSink{}
	trk := tracker.New(tracker.Config{Sink: sink})

	ml := trk.LogMethodEntry(7)
	ml.LogReturn()
	ml.LogReturn()
	trk.Flush()

	report, err := Check(sink.data, testMeta)
	require.NoError(t, err)
	require.Len(t, report.Findings, 1)
	require.Contains(t, report.Findings[0].String(), "return without a matching entry")
}

func TestCheckStoreOutsideMethod(t *testing.T) {
	sink := &captureSink{}
	trk := tracker.New(tracker.Config{Sink: sink})

	// An untyped store decodes without method context; it is still invalid.
	trk.LogMethodEntry(7).LogLocalStore(int32(5), 0)
	trk.Flush()

	// Rebuild the capture without the leading entry record: the entry for
	// method 7 is tag+id, two bytes.
	data := sink.data[2:]
	report, err := Check(data, testMeta)
	require.NoError(t, err)
	require.Len(t, report.Findings, 1)
	require.Contains(t, report.Findings[0].Msg, "local store outside of a method")
}

func TestCheckIndexOutOfRange(t *testing.T) {
	sink := &captureSink{}
	trk := tracker.New(tracker.Config{Sink: sink})

	ml := trk.LogMethodEntry(7)
	ml.LogLocalStore(int32(5), 3)
	trk.Flush()

	report, err := Check(sink.data, testMeta)
	require.NoError(t, err)
	require.Len(t, report.Findings, 1)
	require.Contains(t, report.Findings[0].Msg, "local index 3 out of range")
}

func TestCheckUnknownMethod(t *testing.T) {
	sink := &captureSink{}
	trk := tracker.New(tracker.Config{Sink: sink})

	trk.LogMethodEntry(99).LogReturn()
	trk.Flush()

	report, err := Check(sink.data, testMeta)
	require.NoError(t, err)
	require.Len(t, report.Findings, 1)
	require.Contains(t, report.Findings[0].Msg, "entry for method 99 without metadata")
}

func TestCheckTornTail(t *testing.T) {
	sink := &captureSink{}
	trk := tracker.New(tracker.Config{Sink: sink})

	ml := trk.LogMethodEntry(7)
	ml.LogLocalStoreInt32(1, 0)
	trk.Flush()

	report, err := Check(sink.data[:len(sink.data)-2], testMeta)
	require.NoError(t, err)
	require.True(t, report.Torn)
	require.Equal(t, 1, report.Records)
	require.Empty(t, report.Findings)
}
