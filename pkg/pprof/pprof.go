// Package pprof converts store captures into pprof profiles. Each sample
// aggregates the store records of one variable, with the method as its
// parent frame, so a flame graph shows which methods and variables dominate
// a capture.
package pprof

import (
	"fmt"
	"io"

	"github.com/google/pprof/profile"

	"github.com/tmat/storetracker/pkg/encoding"
)

type Options struct {
	// Parameters includes parameter stores in the profile. Local stores are
	// always included.
	Parameters bool
}

// Convert reads the capture in data and writes a pprof profile with one
// sample per tracked variable, valued by store count and record bytes.
func Convert(data []byte, meta encoding.Metadata, w io.Writer, opt Options) error {
	p := &profile.Profile{
		SampleType: []*profile.ValueType{
			{Type: "stores", Unit: "count"},
			{Type: "size", Unit: "bytes"},
		},
		DefaultSampleType: "stores",
		Mapping:           []*profile.Mapping{},
	}

	sampleIdx := map[sampleKey]*profile.Sample{}
	locationIdx := map[string]*profile.Location{}
	fnIdx := map[string]*profile.Function{}

	location := func(name string) *profile.Location {
		loc, ok := locationIdx[name]
		if !ok {
			fn, ok := fnIdx[name]
			if !ok {
				fn = &profile.Function{
					ID:   uint64(len(p.Function) + 1),
					Name: name,
				}
				p.Function = append(p.Function, fn)
				fnIdx[name] = fn
			}
			loc = &profile.Location{
				ID:   uint64(len(p.Location) + 1),
				Line: []profile.Line{{Function: fn}},
			}
			p.Location = append(p.Location, loc)
			locationIdx[name] = loc
		}
		return loc
	}

	storeSample := func(method uint32, param bool, index int32, code encoding.TypeCode, bytes int64) {
		key := sampleKey{Method: method, Param: param, Index: index}
		sample, ok := sampleIdx[key]
		if !ok {
			// Variable leaf frame, method parent frame.
			sample = &profile.Sample{
				Location: []*profile.Location{
					location(variableName(meta, method, param, index)),
					location(methodName(meta, method)),
				},
				Value: []int64{0, 0},
				Label: map[string][]string{"type": {code.String()}},
			}
			p.Sample = append(p.Sample, sample)
			sampleIdx[key] = sample
		}
		sample.Value[0]++
		sample.Value[1] += bytes
	}

	dec := encoding.NewDecoder(data, meta)
	var cur uint32
	var rec encoding.Record
	for {
		start := dec.Offset()
		err := dec.Decode(&rec)
		if err != nil {
			if err == io.EOF || err == encoding.ErrPartialRecord {
				break
			}
			return err
		}
		bytes := int64(dec.Offset() - start)

		switch rec.Kind {
		case encoding.KindMethodEntry, encoding.KindMethodEntryAddresses,
			encoding.KindLambdaEntry, encoding.KindStateMachineEntry,
			encoding.KindStateMachineLambdaEntry:
			cur = rec.MethodID

		case encoding.KindLocalStore, encoding.KindLocalUnmanagedStore,
			encoding.KindUntypedLocalStore:
			storeSample(cur, false, rec.Index, rec.Code, bytes)

		case encoding.KindParameterStore, encoding.KindParameterUnmanagedStore,
			encoding.KindUntypedParameterStore:
			if opt.Parameters {
				storeSample(cur, true, rec.Index, rec.Code, bytes)
			}
		}
	}

	return p.Write(w)
}

func methodName(meta encoding.Metadata, method uint32) string {
	if mi, ok := meta[method]; ok && mi.Name != "" {
		return mi.Name
	}
	return fmt.Sprintf("method %d", method)
}

func variableName(meta encoding.Metadata, method uint32, param bool, index int32) string {
	mi := meta[method]
	vars, noun := mi.Locals, "local"
	if param {
		vars, noun = mi.Params, "parameter"
	}
	if int(index) < len(vars) && vars[index].Name != "" {
		return vars[index].Name
	}
	return fmt.Sprintf("%s %d", noun, index)
}

type sampleKey struct {
	Method uint32
	Param  bool
	Index  int32
}
