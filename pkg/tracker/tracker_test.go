package tracker

import (
	"io"
	"reflect"
	"sync"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"
	"github.com/tmat/storetracker/pkg/encoding"
)

// collectSink records notifications in memory. BufferFull copies the data
// because the buffer is zero-filled as soon as the sink returns.
type collectSink struct {
	mu      sync.Mutex
	created []int64
	gens    map[int64][][]byte
}

func newCollectSink() *collectSink {
	return &collectSink{gens: map[int64][][]byte{}}
}

func (s *collectSink) BufferCreated(gid int64, buf []byte, version int32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.created = append(s.created, gid)
}

func (s *collectSink) BufferFull(gid int64, data []byte, version int32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	s.gens[gid] = append(s.gens[gid], cp)
}

func (s *collectSink) generations() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	var all [][]byte
	for _, gens := range s.gens {
		all = append(all, gens...)
	}
	return all
}

// decodeAll decodes one generation to completion, failing the test on a
// torn record.
func decodeAll(t *testing.T, data []byte, meta encoding.Metadata) []encoding.Record {
	t.Helper()
	dec := encoding.NewDecoder(data, meta)
	var out []encoding.Record
	for {
		var r encoding.Record
		err := dec.Decode(&r)
		if err == io.EOF {
			return out
		}
		require.NoError(t, err)
		out = append(out, r)
	}
}

var testMeta = encoding.Metadata{
	7: {
		Name:   "sample.Fn",
		Locals: []encoding.VarType{{Code: encoding.TypeCodeInt32}, {Code: encoding.TypeCodeString}},
		Params: []encoding.VarType{{Code: encoding.TypeCodeBool}, {Code: encoding.TypeCodeFloat64}},
	},
}

// TestMethodEntryAndLocalStore is the basic end-to-end scenario: one method
// entry followed by one int local store, in that byte order.
func TestMethodEntryAndLocalStore(t *testing.T) {
	sink := newCollectSink()
	trk := New(Config{Sink: sink})

	ml := trk.LogMethodEntry(7)
	ml.LogLocalStoreInt32(42, 0)
	trk.Flush()

	gens := sink.generations()
	require.Len(t, gens, 1)

	// Exact wire bytes: entry tag, method id, local store tag with the
	// index folded in, then the little-endian value.
	require.Equal(t, []byte{
		byte(encoding.TagMethodEntry), 7,
		byte(encoding.TagLocalStoreBase + 0), 42, 0, 0, 0,
	}, gens[0])

	recs := decodeAll(t, gens[0], testMeta)
	require.Len(t, recs, 2)
	require.Equal(t, encoding.KindMethodEntry, recs[0].Kind)
	require.Equal(t, uint32(7), recs[0].MethodID)
	require.Equal(t, encoding.KindLocalStore, recs[1].Kind)
	require.Equal(t, int32(0), recs[1].Index)
	require.Equal(t, uint64(42), recs[1].Value)
}

// TestAddressTrackedParameter mirrors the aliased-parameter scenario: the
// parameter's address is recorded once at entry and no value stores follow.
func TestAddressTrackedParameter(t *testing.T) {
	sink := newCollectSink()
	trk := New(Config{Sink: sink})

	ml := trk.LogMethodEntryWithAddresses(7)
	ml.LogParameterAddress(unsafe.Pointer(&aliasedParam), 0)
	aliasedParam = 2
	aliasedParam = 3 // assignments through the alias are not observable
	ml.LogReturn()
	trk.Flush()

	gens := sink.generations()
	require.Len(t, gens, 1)
	recs := decodeAll(t, gens[0], testMeta)
	require.Len(t, recs, 3)
	require.Equal(t, encoding.KindMethodEntryAddresses, recs[0].Kind)
	require.Equal(t, encoding.KindVariableAddress, recs[1].Kind)
	require.True(t, encoding.IsParameterSlot(recs[1].Index))
	require.Equal(t, int32(0), encoding.SlotIndex(recs[1].Index))
	require.Equal(t, uint64(uintptr(unsafe.Pointer(&aliasedParam))), recs[1].Address)
	require.Equal(t, encoding.KindReturn, recs[2].Kind)
}

// aliasedParam lives outside the stack, so its address cannot change
// between recording and the assertion.
var aliasedParam int

// TestBoxedEnumStore stores a boxed named type with a uint8 underlying
// kind and expects the enum form: underlying value plus a 16-byte module
// version id and 4-byte token.
func TestBoxedEnumStore(t *testing.T) {
	type Color uint8

	sink := newCollectSink()
	trk := New(Config{Sink: sink})

	ml := trk.LogMethodEntry(7)
	ml.LogLocalStore(Color(3), 1)
	trk.Flush()

	gens := sink.generations()
	require.Len(t, gens, 1)
	recs := decodeAll(t, gens[0], testMeta)
	require.Len(t, recs, 2)

	r := recs[1]
	require.Equal(t, encoding.KindUntypedLocalStore, r.Kind)
	require.Equal(t, encoding.TypeCodeEnum, r.Code)
	require.Equal(t, uint64(3), r.Value)
	require.Equal(t, int32(1), r.Index)
	require.NotZero(t, r.TypeID.MetadataToken)

	// The identity is deterministic for a given type.
	var resolver hashResolver
	want := resolver.Identify(reflect.TypeOf(Color(0)))
	require.Equal(t, want, r.TypeID)
}

// TestBoxedStoreDispatch covers the dynamic dispatch chain of the untyped
// overload.
func TestBoxedStoreDispatch(t *testing.T) {
	sink := newCollectSink()
	trk := New(Config{Sink: sink})

	ml := trk.LogMethodEntry(7)
	ml.LogLocalStore(nil, 0)
	ml.LogLocalStore(true, 0)
	ml.LogLocalStore(int16(-2), 0)
	ml.LogLocalStore(3.5, 0)
	ml.LogLocalStore("boxed", 0)
	ml.LogLocalStore(struct{ A int }{A: 9}, 0)
	ml.LogParameterStore(uint64(1<<40), 1)
	trk.Flush()

	recs := decodeAll(t, sink.generations()[0], testMeta)
	require.Len(t, recs, 8)

	codes := []encoding.TypeCode{
		encoding.TypeCodeNull, encoding.TypeCodeBool, encoding.TypeCodeInt16,
		encoding.TypeCodeFloat64, encoding.TypeCodeString, encoding.TypeCodeObject,
	}
	for i, code := range codes {
		require.Equal(t, encoding.KindUntypedLocalStore, recs[i+1].Kind)
		require.Equal(t, code, recs[i+1].Code, "record %d", i+1)
	}
	require.Equal(t, "{9}", encoding.DecodeString(recs[6].Str))

	last := recs[7]
	require.Equal(t, encoding.KindUntypedParameterStore, last.Kind)
	require.Equal(t, encoding.TypeCodeUint64, last.Code)
	require.Equal(t, uint64(1<<40), last.Value)
	require.Equal(t, int32(1), last.Index)
}

// TestRecordNeverSplitAcrossReset fills a minimal buffer with enough
// records to force many resets and checks that every generation decodes to
// whole records only.
func TestRecordNeverSplitAcrossReset(t *testing.T) {
	sink := newCollectSink()
	trk := New(Config{Sink: sink, BufferSize: minBufferSize})

	const stores = 10000
	ml := trk.LogMethodEntry(7)
	for i := 0; i < stores; i++ {
		ml.LogLocalStoreInt32(int32(i), 0)
		if i%97 == 0 {
			ml.LogLocalStoreString("spill-the-buffer-string", 1)
		}
	}
	trk.Flush()

	gens := sink.generations()
	require.Greater(t, len(gens), 1)

	// Every generation opens with exactly one entry record: the original
	// one in the first, the replayed one in the rest.
	total := 0
	for _, gen := range gens {
		total += len(decodeAll(t, gen, testMeta))
	}
	require.Equal(t, stores+(stores+96)/97+len(gens), total)
}

// TestMethodContextSurvivesReset fills a minimal buffer from inside a
// single method and checks that every generation re-establishes the method
// context: typed local stores carry no method id, so a generation starting
// without an entry record would be undecodable on its own.
func TestMethodContextSurvivesReset(t *testing.T) {
	sink := newCollectSink()
	trk := New(Config{Sink: sink, BufferSize: minBufferSize})

	const stores = 2000
	ml := trk.LogMethodEntry(7)
	for i := 0; i < stores; i++ {
		ml.LogLocalStoreInt32(int32(i), 0)
	}
	trk.Flush()

	gens := sink.generations()
	require.Greater(t, len(gens), 1)

	next := uint64(0)
	for _, gen := range gens {
		recs := decodeAll(t, gen, testMeta)
		require.Equal(t, encoding.KindMethodEntry, recs[0].Kind)
		require.Equal(t, uint32(7), recs[0].MethodID)
		for _, r := range recs[1:] {
			require.Equal(t, next, r.Value)
			next++
		}
	}
	require.Equal(t, uint64(stores), next)
}

// TestStringTruncation tests that strings longer than the cap always emit
// exactly the cap in code units, with the length field reflecting the
// truncated byte count.
func TestStringTruncation(t *testing.T) {
	sink := newCollectSink()
	trk := New(Config{Sink: sink, MaxStringLength: 8})

	ml := trk.LogMethodEntry(7)
	ml.LogLocalStoreString("exactly eight and then some", 1)
	ml.LogLocalStoreString("short", 1)
	trk.Flush()

	recs := decodeAll(t, sink.generations()[0], testMeta)
	require.Len(t, recs, 3)
	require.Equal(t, 16, len(recs[1].Str))
	require.Equal(t, "exactly ", encoding.DecodeString(recs[1].Str))
	require.Equal(t, "short", encoding.DecodeString(recs[2].Str))
}

// TestStringLimitAppliesToSubsequentStrings tests the documented config
// semantics: changing the cap affects subsequently serialized strings only.
func TestStringLimitAppliesToSubsequentStrings(t *testing.T) {
	sink := newCollectSink()
	trk := New(Config{Sink: sink, MaxStringLength: 8})

	ml := trk.LogMethodEntry(7)
	ml.LogLocalStoreString("0123456789", 1)
	trk.SetMaxStringLength(4)
	ml.LogLocalStoreString("0123456789", 1)
	trk.Flush()

	recs := decodeAll(t, sink.generations()[0], testMeta)
	require.Equal(t, "01234567", encoding.DecodeString(recs[1].Str))
	require.Equal(t, "0123", encoding.DecodeString(recs[2].Str))
}

// TestGoroutineIsolation runs concurrent producers and checks that records
// only ever appear in their own goroutine's buffer.
func TestGoroutineIsolation(t *testing.T) {
	sink := newCollectSink()
	trk := New(Config{Sink: sink, BufferSize: minBufferSize})

	const producers = 8
	const stores = 500

	gids := make([]int64, producers)
	var wg sync.WaitGroup
	for i := 0; i < producers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			gids[n] = goroutineID()
			ml := trk.LogMethodEntry(7)
			for j := 0; j < stores; j++ {
				ml.LogLocalStoreInt32(int32(n), 0)
			}
		}(i)
	}
	wg.Wait()
	trk.Flush()

	sink.mu.Lock()
	defer sink.mu.Unlock()
	require.Len(t, sink.created, producers)

	seen := 0
	for n, gid := range gids {
		gens := sink.gens[gid]
		require.NotEmpty(t, gens, "producer %d", n)
		for _, gen := range gens {
			for _, r := range decodeAll(t, gen, testMeta) {
				if r.Kind == encoding.KindLocalStore {
					require.Equal(t, uint64(n), r.Value)
					seen++
				}
			}
		}
	}
	require.Equal(t, producers*stores, seen)
}

// TestBufferSizeAppliesToNewBuffers tests that a size change does not
// affect live buffers.
func TestBufferSizeAppliesToNewBuffers(t *testing.T) {
	sink := newCollectSink()
	trk := New(Config{Sink: sink, BufferSize: minBufferSize})

	ml := trk.LogMethodEntry(7)
	trk.SetBufferSize(4 * minBufferSize)
	ml.LogLocalStoreInt32(1, 0)
	trk.Close()

	// A fresh buffer picks up the new size.
	done := make(chan struct{})
	go func() {
		defer close(done)
		trk.LogMethodEntry(7).LogLocalStoreInt32(2, 0)
	}()
	<-done
	trk.Flush()

	require.Len(t, sink.generations(), 2)
}

// TestUnmanagedStore records the raw bytes of a pointer-free struct.
func TestUnmanagedStore(t *testing.T) {
	type pair struct {
		A uint16
		B uint16
	}
	meta := encoding.Metadata{
		9: {Locals: []encoding.VarType{{Size: int(unsafe.Sizeof(pair{}))}}},
	}

	sink := newCollectSink()
	trk := New(Config{Sink: sink})

	v := pair{A: 0x0102, B: 0x0304}
	ml := trk.LogMethodEntry(9)
	ml.LogLocalStoreUnmanaged(unsafe.Pointer(&v), unsafe.Sizeof(v), 0)
	trk.Flush()

	recs := decodeAll(t, sink.generations()[0], meta)
	require.Len(t, recs, 2)
	require.Equal(t, encoding.KindLocalUnmanagedStore, recs[1].Kind)
	require.Equal(t, []byte{0x02, 0x01, 0x04, 0x03}, recs[1].Blob)
}

// TestOversizedUnmanagedStore checks that a blob larger than the buffer is
// dropped whole: a truncated blob would overrun the end-of-data sentinel
// and tear every record committed after it.
func TestOversizedUnmanagedStore(t *testing.T) {
	meta := encoding.Metadata{
		9: {Locals: []encoding.VarType{
			{Size: 2 * minBufferSize},
			{Code: encoding.TypeCodeInt32},
		}},
	}

	sink := newCollectSink()
	trk := New(Config{Sink: sink, BufferSize: minBufferSize})

	big := make([]byte, 2*minBufferSize)
	ml := trk.LogMethodEntry(9)
	ml.LogLocalStoreUnmanaged(unsafe.Pointer(&big[0]), uintptr(len(big)), 0)
	ml.LogLocalStoreInt32(5, 1)
	trk.Flush()

	gens := sink.generations()
	require.Len(t, gens, 1)
	recs := decodeAll(t, gens[0], meta)
	require.Len(t, recs, 2)
	require.Equal(t, encoding.KindLocalStore, recs[1].Kind)
	require.Equal(t, int32(1), recs[1].Index)
	require.Equal(t, uint64(5), recs[1].Value)
}

// TestAliasRecords covers the three alias record shapes.
func TestAliasRecords(t *testing.T) {
	sink := newCollectSink()
	trk := New(Config{Sink: sink})

	ml := trk.LogMethodEntry(7)
	ml.LogLocalAliasLocal(1, 0)
	ml.LogLocalAliasParameter(0, 1)
	ml.LogParameterAliasParameter(1, 0)
	trk.Flush()

	recs := decodeAll(t, sink.generations()[0], testMeta)
	require.Len(t, recs, 4)
	require.Equal(t, encoding.KindLocalAliasLocal, recs[1].Kind)
	require.Equal(t, int32(1), recs[1].Index)
	require.Equal(t, int32(0), recs[1].Source)
	require.Equal(t, encoding.KindLocalAliasParameter, recs[2].Kind)
	require.Equal(t, encoding.KindParameterAliasParameter, recs[3].Kind)
}
