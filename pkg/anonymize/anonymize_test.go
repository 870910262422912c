package anonymize

import (
	"io"
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
	7: {Name: "app.Handle", Locals: []encoding.VarType{
		{Name: "count", Code: encoding.TypeCodeInt32},
		{Name: "user", Code: encoding.TypeCodeString},
	}},
}

// TestAnonymizeCapture tests that string payloads are obfuscated while the
// capture stays decodable with unchanged record structure.
func TestAnonymizeCapture(t *testing.T) {
	sink := &captureSink{}
	trk := tracker.New(tracker.Config{Sink: sink})

	ml := trk.LogMethodEntry(7)
	ml.LogLocalStoreInt32(42, 0)
	ml.LogLocalStoreString("Bob-42", 1)
	ml.LogLocalStore("Secret Street 7", 1)
	ml.LogReturn()
	trk.Flush()

	data := sink.data
	require.NoError(t, AnonymizeCapture(data, testMeta))

	dec := encoding.NewDecoder(data, testMeta)
	var rec encoding.Record
	var strs []string
	for {
		err := dec.Decode(&rec)
		if err != nil {
			require.Equal(t, io.EOF, err)
			break
		}
		if rec.StrOffset >= 0 {
			strs = append(strs, encoding.DecodeString(rec.Str))
		}
		if rec.Kind == encoding.KindLocalStore && rec.Code == encoding.TypeCodeInt32 {
			// Non-string payloads are untouched.
			require.Equal(t, uint64(42), rec.Value)
		}
	}

	require.Equal(t, []string{"Xxx-42", "Xxxxxx Xxxxxx 7"}, strs)
}

func TestAnonymizeCaptureTornTail(t *testing.T) {
	sink := &captureSink{}
	trk := tracker.New(tracker.Config{Sink: sink})
	ml := trk.LogMethodEntry(7)
	ml.LogLocalStoreString("Alice", 1)
	trk.Flush()

	// Cutting into the string payload must not fail the capture; everything
	// before the torn record is still obfuscated.
	cut := sink.data[:len(sink.data)-2]
	require.NoError(t, AnonymizeCapture(cut, testMeta))
}

func TestAnonymizeMetadata(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "stdlib name kept",
			in:   "encoding/json.Marshal",
			want: "encoding/json.Marshal",
		},
		{
			name: "app name obfuscated",
			in:   "app.Handle",
			want: "xxx.Xxxxxx",
		},
		{
			name: "unqualified name obfuscated",
			in:   "Handle",
			want: "Xxxxxx",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			meta := encoding.Metadata{1: {Name: tt.in}}
			got := AnonymizeMetadata(meta)[1].Name
			if got != tt.want {
				t.Errorf("got=%q want=%q", got, tt.want)
			}
		})
	}
}

func TestAnonymizeMetadataVariables(t *testing.T) {
	got := AnonymizeMetadata(testMeta)
	require.Equal(t, "xxxxx", got[7].Locals[0].Name)
	require.Equal(t, "xxxx", got[7].Locals[1].Name)
	// The input is not modified.
	require.Equal(t, "count", testMeta[7].Locals[0].Name)
}
