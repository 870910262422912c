package selector

import (
	"go/types"

	"github.com/tmat/storetracker/pkg/encoding"
)

// stdSizes mirrors the layout of the gc compiler on 64-bit targets; the
// selector needs concrete sizes to describe raw-memory stores to consumers.
var stdSizes = types.SizesFor("gc", "amd64")

// wireClass is the lowering decision for one variable: which overload
// records its stores and which type code the consumer decodes them with.
type wireClass struct {
	code      encoding.TypeCode
	size      int64  // payload size, raw-memory stores only
	suffix    string // specialized overload suffix, "" for boxed
	conv      string // conversion wrapping the value argument, "" for none
	unmanaged bool
}

func (c wireClass) varType() encoding.VarType {
	if c.unmanaged {
		// Raw-memory variables are described by size alone.
		return encoding.VarType{Size: int(c.size)}
	}
	return encoding.VarType{Code: c.code}
}

// basicClasses maps basic kinds that have a specialized overload. Sizes for
// fixed codes come from the code itself, so only suffix and conversion
// matter here.
var basicClasses = map[types.BasicKind]wireClass{
	types.Bool:    {code: encoding.TypeCodeBool, suffix: "Bool"},
	types.Int8:    {code: encoding.TypeCodeInt8, suffix: "Int8"},
	types.Uint8:   {code: encoding.TypeCodeUint8, suffix: "Uint8"},
	types.Int16:   {code: encoding.TypeCodeInt16, suffix: "Int16"},
	types.Uint16:  {code: encoding.TypeCodeUint16, suffix: "Uint16"},
	types.Int32:   {code: encoding.TypeCodeInt32, suffix: "Int32"},
	types.Uint32:  {code: encoding.TypeCodeUint32, suffix: "Uint32"},
	types.Int64:   {code: encoding.TypeCodeInt64, suffix: "Int64"},
	types.Uint64:  {code: encoding.TypeCodeUint64, suffix: "Uint64"},
	types.Int:     {code: encoding.TypeCodeInt64, suffix: "Int64", conv: "int64"},
	types.Uint:    {code: encoding.TypeCodeUint64, suffix: "Uint64", conv: "uint64"},
	types.Uintptr: {code: encoding.TypeCodeUint64, suffix: "Uint64", conv: "uint64"},
	types.Float32: {code: encoding.TypeCodeFloat32, suffix: "Float32"},
	types.Float64: {code: encoding.TypeCodeFloat64, suffix: "Float64"},
	types.String:  {code: encoding.TypeCodeString, suffix: "String"},
}

// suffixArgTypes gives the Go parameter type of each specialized overload,
// used to decide whether a named type needs a conversion.
var suffixArgTypes = map[string]string{
	"Bool": "bool", "Int8": "int8", "Uint8": "uint8",
	"Int16": "int16", "Uint16": "uint16", "Int32": "int32",
	"Uint32": "uint32", "Int64": "int64", "Uint64": "uint64",
	"Float32": "float32", "Float64": "float64", "String": "string",
}

// classify lowers a variable's static type to its tracking class. Named
// types with a basic underlying type go through the underlying overload
// with a conversion; pointer-free structs and arrays go through the
// raw-memory overload; everything else is boxed.
func classify(t types.Type) wireClass {
	if basic, ok := t.(*types.Basic); ok {
		if c, ok := basicClasses[basic.Kind()]; ok {
			return c
		}
		return wireClass{code: encoding.TypeCodeObject}
	}

	under := t.Underlying()
	if basic, ok := under.(*types.Basic); ok {
		c, ok := basicClasses[basic.Kind()]
		if !ok {
			return wireClass{code: encoding.TypeCodeObject}
		}
		if c.conv == "" {
			// The named type is not assignable to the overload parameter.
			c.conv = suffixArgTypes[c.suffix]
		}
		return c
	}

	if pointerFree(under) {
		return wireClass{size: stdSizes.Sizeof(t), unmanaged: true}
	}
	return wireClass{code: encoding.TypeCodeObject}
}

// pointerFree reports whether a value of type t contains no pointers, so
// copying its raw bytes captures the whole value.
func pointerFree(t types.Type) bool {
	switch u := t.Underlying().(type) {
	case *types.Basic:
		switch u.Kind() {
		case types.String, types.UnsafePointer, types.UntypedNil:
			return false
		}
		return true
	case *types.Array:
		return pointerFree(u.Elem())
	case *types.Struct:
		for i := 0; i < u.NumFields(); i++ {
			if !pointerFree(u.Field(i).Type()) {
				return false
			}
		}
		return true
	}
	return false
}
