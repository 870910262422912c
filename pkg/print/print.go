// Package print renders the records of a capture in a line-oriented text
// form for inspection.
package print

import (
	"fmt"
	"io"
	"math"

	"slices"

	"github.com/tmat/storetracker/pkg/encoding"
)

// DefaultRecordFilter returns a filter that matches all records.
func DefaultRecordFilter() RecordFilter {
	return RecordFilter{MethodID: -1}
}

// RecordFilter is used to filter records.
type RecordFilter struct {
	// Only prints records of this method. If MethodID is -1, records of all
	// methods are printed. Entry records of other methods are still printed
	// so the method context stays visible.
	MethodID int64
	// Kinds prints records with these kinds. If Kinds is empty, all records
	// are printed.
	Kinds []encoding.Kind
	// StoresOnly prints store records only. Entry records are still printed.
	StoresOnly bool
}

// Records prints all records contained in data that match the given filter
// to w. A torn trailing record is reported on the last line instead of
// failing the whole capture.
func Records(data []byte, meta encoding.Metadata, w io.Writer, filter RecordFilter) error {
	dec := encoding.NewDecoder(data, meta)

	var cur uint32
	var rec encoding.Record
	for {
		err := dec.Decode(&rec)
		if err == io.EOF {
			return nil
		}
		if err == encoding.ErrPartialRecord {
			fmt.Fprintf(w, "torn record at offset %d\n", dec.Offset())
			return nil
		}
		if err != nil {
			return err
		}

		entry := isEntry(rec.Kind)
		if entry {
			cur = rec.MethodID
		}
		if !entry {
			if filter.MethodID != -1 && uint32(filter.MethodID) != cur {
				continue
			}
			if len(filter.Kinds) > 0 && !slices.Contains(filter.Kinds, rec.Kind) {
				continue
			}
			if filter.StoresOnly && !isStore(rec.Kind) {
				continue
			}
		}

		printRecord(w, meta, cur, rec)
		io.WriteString(w, "\n")
	}
}

func isEntry(k encoding.Kind) bool {
	switch k {
	case encoding.KindMethodEntry, encoding.KindMethodEntryAddresses,
		encoding.KindLambdaEntry, encoding.KindStateMachineEntry,
		encoding.KindStateMachineLambdaEntry:
		return true
	}
	return false
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

// printRecord prints a single record to w.
func printRecord(w io.Writer, meta encoding.Metadata, cur uint32, rec encoding.Record) {
	io.WriteString(w, rec.Kind.String())

	switch rec.Kind {
	case encoding.KindMethodEntry, encoding.KindMethodEntryAddresses:
		fmt.Fprintf(w, " method=%s", methodName(meta, rec.MethodID))

	case encoding.KindLambdaEntry:
		fmt.Fprintf(w, " method=%s lambda=%d", methodName(meta, rec.MethodID), rec.LambdaID)

	case encoding.KindStateMachineEntry:
		fmt.Fprintf(w, " method=%s instance=%#x", methodName(meta, rec.MethodID), rec.InstanceID)

	case encoding.KindStateMachineLambdaEntry:
		fmt.Fprintf(w, " method=%s lambda=%d instance=%#x",
			methodName(meta, rec.MethodID), rec.LambdaID, rec.InstanceID)

	case encoding.KindVariableAddress:
		if encoding.IsParameterSlot(rec.Index) {
			fmt.Fprintf(w, " parameter=%s", variableName(meta, cur, true, encoding.SlotIndex(rec.Index)))
		} else {
			fmt.Fprintf(w, " local=%s", variableName(meta, cur, false, rec.Index))
		}
		fmt.Fprintf(w, " addr=%#x", rec.Address)

	case encoding.KindLocalAliasLocal:
		fmt.Fprintf(w, " target=%s source=%s",
			variableName(meta, cur, false, rec.Index), variableName(meta, cur, false, rec.Source))

	case encoding.KindLocalAliasParameter:
		fmt.Fprintf(w, " target=%s source=%s",
			variableName(meta, cur, false, rec.Index), variableName(meta, cur, true, rec.Source))

	case encoding.KindParameterAliasParameter:
		fmt.Fprintf(w, " target=%s source=%s",
			variableName(meta, cur, true, rec.Index), variableName(meta, cur, true, rec.Source))

	case encoding.KindLocalStore, encoding.KindLocalUnmanagedStore, encoding.KindUntypedLocalStore:
		fmt.Fprintf(w, " local=%s ", variableName(meta, cur, false, rec.Index))
		printValue(w, rec)

	case encoding.KindParameterStore, encoding.KindParameterUnmanagedStore, encoding.KindUntypedParameterStore:
		fmt.Fprintf(w, " parameter=%s ", variableName(meta, cur, true, rec.Index))
		printValue(w, rec)
	}
}

// printValue prints the payload of a store record.
func printValue(w io.Writer, rec encoding.Record) {
	if rec.Blob != nil {
		fmt.Fprintf(w, "blob=%x", rec.Blob)
		return
	}

	switch rec.Code {
	case encoding.TypeCodeBool:
		fmt.Fprintf(w, "value=%t", rec.Value != 0)
	case encoding.TypeCodeInt8:
		fmt.Fprintf(w, "value=%d", int8(rec.Value))
	case encoding.TypeCodeInt16:
		fmt.Fprintf(w, "value=%d", int16(rec.Value))
	case encoding.TypeCodeInt32:
		fmt.Fprintf(w, "value=%d", int32(rec.Value))
	case encoding.TypeCodeInt64:
		fmt.Fprintf(w, "value=%d", int64(rec.Value))
	case encoding.TypeCodeFloat32:
		fmt.Fprintf(w, "value=%g", math.Float32frombits(uint32(rec.Value)))
	case encoding.TypeCodeFloat64:
		fmt.Fprintf(w, "value=%g", math.Float64frombits(rec.Value))
	case encoding.TypeCodeChar:
		fmt.Fprintf(w, "value=%q", rune(rec.Value))
	case encoding.TypeCodeString:
		fmt.Fprintf(w, "value=%q", encoding.DecodeString(rec.Str))
	case encoding.TypeCodeObject:
		fmt.Fprintf(w, "value=%q type=%s", encoding.DecodeString(rec.Str), typeID(rec))
	case encoding.TypeCodeEnum:
		fmt.Fprintf(w, "value=%d type=%s", rec.Value, typeID(rec))
	case encoding.TypeCodeNull:
		io.WriteString(w, "value=null")
	default:
		fmt.Fprintf(w, "value=%d", rec.Value)
	}
}

func typeID(rec encoding.Record) string {
	return fmt.Sprintf("%x:%08x", rec.TypeID.ModuleVersionID, rec.TypeID.MetadataToken)
}

func methodName(meta encoding.Metadata, method uint32) string {
	if mi, ok := meta[method]; ok && mi.Name != "" {
		return fmt.Sprintf("%s(%d)", mi.Name, method)
	}
	return fmt.Sprintf("%d", method)
}

func variableName(meta encoding.Metadata, method uint32, param bool, index int32) string {
	mi := meta[method]
	vars := mi.Locals
	if param {
		vars = mi.Params
	}
	if int(index) < len(vars) && vars[index].Name != "" {
		return fmt.Sprintf("%s(%d)", vars[index].Name, index)
	}
	return fmt.Sprintf("%d", index)
}
