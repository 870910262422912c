// Package anonymize obfuscates captures so they can be shared without
// leaking source-level information: string payloads inside the capture and
// identifiers inside the metadata are rewritten letter by letter.
package anonymize

import (
	"io"

	"golang.org/x/tools/go/packages"

	"github.com/tmat/storetracker/pkg/anon"
	"github.com/tmat/storetracker/pkg/encoding"
)

var stdlibPkgs = func() []string {
	// Determine stdlib packages
	pkgs, err := packages.Load(nil, "std")
	if err != nil {
		panic(err)
	}
	var stdlibPkgs []string
	for _, pkg := range pkgs {
		stdlibPkgs = append(stdlibPkgs, pkg.PkgPath)
	}
	return stdlibPkgs
}()

// AnonymizeCapture obfuscates the string payloads of the capture in place.
// Payloads are rewritten unit by unit, so record sizes and offsets are
// preserved and the capture stays decodable. A torn trailing record ends
// the capture without error.
func AnonymizeCapture(data []byte, meta encoding.Metadata) error {
	dec := encoding.NewDecoder(data, meta)

	var rec encoding.Record
	for {
		err := dec.Decode(&rec)
		if err != nil {
			if err == io.EOF || err == encoding.ErrPartialRecord {
				return nil
			}
			return err
		}
		if rec.StrOffset >= 0 {
			anon.UTF16(data[rec.StrOffset : rec.StrOffset+len(rec.Str)])
		}
	}
}

// AnonymizeMetadata returns a copy of meta with all method and variable
// names obfuscated. Method names qualified by a standard library package
// are kept intact.
func AnonymizeMetadata(meta encoding.Metadata) encoding.Metadata {
	out := make(encoding.Metadata, len(meta))
	for id, mi := range meta {
		name := []byte(mi.Name)
		anon.Name(name, stdlibPkgs)
		mi.Name = string(name)
		mi.Locals = anonymizeVars(mi.Locals)
		mi.Params = anonymizeVars(mi.Params)
		out[id] = mi
	}
	return out
}

func anonymizeVars(vars []encoding.VarType) []encoding.VarType {
	out := make([]encoding.VarType, len(vars))
	for i, vt := range vars {
		b := []byte(vt.Name)
		anon.Bytes(b)
		vt.Name = string(b)
		out[i] = vt
	}
	return out
}
