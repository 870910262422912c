package print

import (
	"bytes"
	"strings"
	"testing"

	"github.com/gkampitakis/go-snaps/snaps"
	"github.com/stretchr/testify/assert"
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
		{Name: "label", Code: encoding.TypeCodeString},
	}},
	8: {Name: "demo.help", Locals: []encoding.VarType{
		{Name: "ratio", Code: encoding.TypeCodeFloat64},
	}},
}

func capture(t *testing.T) []byte {
	t.Helper()
	sink := &captureSink{}
	trk := tracker.New(tracker.Config{Sink: sink})

	ml := trk.LogMethodEntry(7)
	ml.LogLocalStoreInt32(-5, 0)
	ml.LogLocalStoreString("busy", 1)
	ml.LogReturn()

	ml = trk.LogMethodEntry(8)
	ml.LogLocalStoreFloat64(0.25, 0)
	ml.LogReturn()

	trk.Flush()
	return sink.data
}

func TestRecords(t *testing.T) {
	data := capture(t)

	t.Run("Default Filter", func(t *testing.T) {
		out := records(t, data, DefaultRecordFilter())
		assert.Contains(t, out, "MethodEntry method=demo.work(7)\n")
		assert.Contains(t, out, "LocalStore local=count(0) value=-5\n")
		assert.Contains(t, out, "LocalStore local=label(1) value=\"busy\"\n")
		assert.Contains(t, out, "LocalStore local=ratio(0) value=0.25\n")
		assert.Equal(t, 2, strings.Count(out, "Return\n"))
	})

	t.Run("Method Filter", func(t *testing.T) {
		f := DefaultRecordFilter()
		f.MethodID = 8
		out := records(t, data, f)
		// Entry records stay visible, stores of other methods do not.
		assert.Contains(t, out, "MethodEntry method=demo.work(7)\n")
		assert.NotContains(t, out, "local=count(0)")
		assert.Contains(t, out, "LocalStore local=ratio(0) value=0.25\n")
	})

	t.Run("Kind Filter", func(t *testing.T) {
		f := DefaultRecordFilter()
		f.Kinds = []encoding.Kind{encoding.KindReturn}
		out := records(t, data, f)
		assert.NotContains(t, out, "LocalStore")
		assert.Equal(t, 2, strings.Count(out, "Return\n"))
	})

	t.Run("Stores Only", func(t *testing.T) {
		f := DefaultRecordFilter()
		f.StoresOnly = true
		out := records(t, data, f)
		assert.Contains(t, out, "MethodEntry method=demo.work(7)\n")
		assert.Contains(t, out, "LocalStore local=count(0) value=-5\n")
		assert.NotContains(t, out, "Return\n")
	})
}

func TestRecordsSnapshot(t *testing.T) {
	out := records(t, capture(t), DefaultRecordFilter())
	snaps.MatchSnapshot(t, out)
}

func TestRecordsWithoutMetadata(t *testing.T) {
	// Entry and return records decode without metadata; the capture here
	// holds nothing else.
	sink := &captureSink{}
	trk := tracker.New(tracker.Config{Sink: sink})
	ml := trk.LogMethodEntry(42)
	ml.LogReturn()
	trk.Flush()

	out := records(t, sink.data, DefaultRecordFilter())
	assert.Contains(t, out, "MethodEntry method=42\n")
	assert.Contains(t, out, "Return\n")
}

func TestRecordsTornTail(t *testing.T) {
	data := capture(t)
	// Drop the trailing return record and cut into the float store before it.
	cut := data[:len(data)-2]

	var out bytes.Buffer
	err := Records(cut, testMeta, &out, DefaultRecordFilter())
	require.NoError(t, err)
	assert.Contains(t, out.String(), "torn record at offset")
}

func records(t *testing.T, in []byte, filter RecordFilter) string {
	t.Helper()
	var out bytes.Buffer
	err := Records(in, testMeta, &out, filter)
	require.NoError(t, err)
	return out.String()
}
