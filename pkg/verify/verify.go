// Package verify checks a capture for internal consistency: records must
// decode, stores must appear inside a method context, and variable indices
// must stay within the bounds the metadata declares.
package verify

import (
	"fmt"
	"io"

	"github.com/tmat/storetracker/pkg/encoding"
)

// Finding reports one inconsistency found in a capture.
type Finding struct {
	// Offset is the byte offset of the offending record.
	Offset int
	// Msg describes the inconsistency.
	Msg string
}

func (f Finding) String() string {
	return fmt.Sprintf("offset %d: %s", f.Offset, f.Msg)
}

// Report summarizes a verification run.
type Report struct {
	// Records is the number of records decoded.
	Records int
	// Torn is true if the capture ends in a partially written record. This
	// is expected for captures taken from a live buffer and not a finding.
	Torn bool
	// Findings lists the inconsistencies found.
	Findings []Finding
}

// Check scans the capture in data and reports every inconsistency. It
// returns an error only when a record fails to decode outright.
func Check(data []byte, meta encoding.Metadata) (*Report, error) {
	var (
		dec     = encoding.NewDecoder(data, meta) // record decoder
		rec     encoding.Record                   // current record
		report  Report                            // return report
		method  uint32                            // current method id
		entered bool                              // a method context is open
		depth   int                               // open entries minus returns
	)
	for {
		start := dec.Offset()
		err := dec.Decode(&rec)
		if err != nil {
			if err == io.EOF {
				break
			}
			if err == encoding.ErrPartialRecord {
				report.Torn = true
				break
			}
			return nil, err
		}
		report.Records++

		finding := func(format string, args ...any) {
			report.Findings = append(report.Findings, Finding{
				Offset: start,
				Msg:    fmt.Sprintf(format, args...),
			})
		}

		switch rec.Kind {
		case encoding.KindMethodEntry, encoding.KindMethodEntryAddresses,
			encoding.KindLambdaEntry, encoding.KindStateMachineEntry,
			encoding.KindStateMachineLambdaEntry:
			method = rec.MethodID
			entered = true
			depth++
			if _, ok := meta[rec.MethodID]; !ok && meta != nil {
				finding("entry for method %d without metadata", rec.MethodID)
			}

		case encoding.KindReturn:
			if depth == 0 {
				finding("return without a matching entry")
			} else {
				depth--
			}

		case encoding.KindVariableAddress:
			if !entered {
				finding("address record outside of a method")
				break
			}
			checkIndex(finding, meta, method,
				encoding.IsParameterSlot(rec.Index), encoding.SlotIndex(rec.Index))

		case encoding.KindLocalAliasLocal:
			checkIndex(finding, meta, method, false, rec.Index)
			checkIndex(finding, meta, method, false, rec.Source)
		case encoding.KindLocalAliasParameter:
			checkIndex(finding, meta, method, false, rec.Index)
			checkIndex(finding, meta, method, true, rec.Source)
		case encoding.KindParameterAliasParameter:
			checkIndex(finding, meta, method, true, rec.Index)
			checkIndex(finding, meta, method, true, rec.Source)

		case encoding.KindLocalStore, encoding.KindLocalUnmanagedStore,
			encoding.KindUntypedLocalStore:
			if !entered {
				finding("local store outside of a method")
				break
			}
			checkIndex(finding, meta, method, false, rec.Index)

		case encoding.KindParameterStore, encoding.KindParameterUnmanagedStore,
			encoding.KindUntypedParameterStore:
			if !entered {
				finding("parameter store outside of a method")
				break
			}
			checkIndex(finding, meta, method, true, rec.Index)
		}
	}

	return &report, nil
}

// checkIndex validates a variable index against the metadata bounds of the
// current method. Unknown methods were already reported at their entry.
func checkIndex(finding func(string, ...any), meta encoding.Metadata, method uint32, param bool, index int32) {
	mi, ok := meta[method]
	if !ok {
		return
	}
	vars, noun := mi.Locals, "local"
	if param {
		vars, noun = mi.Params, "parameter"
	}
	if int(index) >= len(vars) {
		finding("%s index %d out of range for method %q", noun, index, mi.Name)
	}
}
