package breakdown

import (
	"io"

	"github.com/tmat/storetracker/pkg/encoding"
)

// ByKind reads a capture and returns a breakdown of it by record kind. A
// torn trailing record ends the capture without error: captures taken from
// a live buffer are expected to end mid-record.
func ByKind(data []byte, meta encoding.Metadata) (KindBreakdown, error) {
	dec := encoding.NewDecoder(data, meta)
	breakdown := make(KindBreakdown)

	var rec encoding.Record
	for {
		start := dec.Offset()
		err := dec.Decode(&rec)
		if err != nil {
			if err == io.EOF || err == encoding.ErrPartialRecord {
				break
			}
			return nil, err
		}
		breakdown[rec.Kind] = KindSummary{
			Kind:  rec.Kind,
			Count: breakdown[rec.Kind].Count + 1,
			Bytes: breakdown[rec.Kind].Bytes + int64(dec.Offset()-start),
		}
	}

	return breakdown, nil
}

// KindBreakdown breaks down the size of a capture by record kind.
type KindBreakdown map[encoding.Kind]KindSummary

// KindSummary summarizes the occurrence of a record kind inside of a capture.
type KindSummary struct {
	// Kind is the kind of record.
	Kind encoding.Kind
	// Count is the number of times this kind occurred in the capture.
	Count int64
	// Bytes is the amount of data occupied by records of this kind.
	Bytes int64
}

// ByMethod reads a capture and returns a breakdown of its store records by
// the method they occurred in. Records appearing before the first method
// entry are attributed to method id 0.
func ByMethod(data []byte, meta encoding.Metadata) (MethodBreakdown, error) {
	dec := encoding.NewDecoder(data, meta)
	breakdown := make(MethodBreakdown)

	var cur uint32
	var rec encoding.Record
	for {
		start := dec.Offset()
		err := dec.Decode(&rec)
		if err != nil {
			if err == io.EOF || err == encoding.ErrPartialRecord {
				break
			}
			return nil, err
		}

		switch rec.Kind {
		case encoding.KindMethodEntry, encoding.KindMethodEntryAddresses,
			encoding.KindLambdaEntry, encoding.KindStateMachineEntry,
			encoding.KindStateMachineLambdaEntry:
			cur = rec.MethodID
		}

		summary := breakdown[cur]
		summary.MethodID = cur
		summary.Name = meta[cur].Name
		summary.Records++
		summary.Bytes += int64(dec.Offset() - start)
		if isStore(rec.Kind) {
			summary.Stores++
		}
		breakdown[cur] = summary
	}

	return breakdown, nil
}

func isStore(k encoding.Kind) bool {
	switch k {
	case encoding.KindLocalStore, encoding.KindParameterStore,
		encoding.KindLocalUnmanagedStore, encoding.KindParameterUnmanagedStore,
		encoding.KindUntypedLocalStore, encoding.KindUntypedParameterStore:
		return true
	}
	return false
}

// MethodBreakdown breaks down a capture by the method its records belong to.
type MethodBreakdown map[uint32]MethodSummary

// MethodSummary summarizes the records attributed to one method.
type MethodSummary struct {
	// MethodID is the instrumentation-assigned method id.
	MethodID uint32
	// Name is the method name from the metadata, if known.
	Name string
	// Records is the number of records attributed to the method.
	Records int64
	// Stores is the number of store records among them.
	Stores int64
	// Bytes is the amount of capture data attributed to the method.
	Bytes int64
}
