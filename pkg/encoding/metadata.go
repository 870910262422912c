package encoding

import (
	"encoding/json"
	"fmt"
	"io"
)

// VarType describes the static wire type of one tracked variable.
type VarType struct {
	// Name is the source name of the variable, for presentation only.
	Name string   `json:"name,omitempty"`
	Code TypeCode `json:"code"`
	// Size is the physical byte size of unmanaged blob variables. It is
	// zero for variables with a dedicated TypeCode encoding.
	Size int `json:"size,omitempty"`
}

// MethodInfo describes the tracked variables of one instrumented method.
// Local and parameter slices are indexed by the local/parameter indices
// appearing in records.
type MethodInfo struct {
	Name   string    `json:"name,omitempty"`
	Locals []VarType `json:"locals,omitempty"`
	Params []VarType `json:"params,omitempty"`
}

// Metadata maps method ids to their variable descriptions. The wire format
// is decodable only with this static knowledge: typed store records imply
// their payload width through it. The instrumentation selector emits it
// alongside the rewritten sources.
type Metadata map[uint32]MethodInfo

// ReadMetadata reads the JSON metadata table emitted by the instrumentation
// selector.
func ReadMetadata(r io.Reader) (Metadata, error) {
	var m Metadata
	if err := json.NewDecoder(r).Decode(&m); err != nil {
		return nil, fmt.Errorf("failed to parse metadata: %w", err)
	}
	return m, nil
}

// Write writes m as JSON.
func (m Metadata) Write(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(m)
}

// local returns the type of a method's local, or an error for indices the
// metadata does not cover.
func (mi *MethodInfo) local(index int32) (VarType, error) {
	if int(index) >= len(mi.Locals) {
		return VarType{}, fmt.Errorf("method %q: no metadata for local %d", mi.Name, index)
	}
	return mi.Locals[index], nil
}

func (mi *MethodInfo) param(index int32) (VarType, error) {
	if int(index) >= len(mi.Params) {
		return VarType{}, fmt.Errorf("method %q: no metadata for parameter %d", mi.Name, index)
	}
	return mi.Params[index], nil
}
