// Copyright (c) 2024 Timo Savola. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package wa contains general WebAssembly definitions.
package wa

import (
	"fmt"
)

type Size uint8

const (
	Size32 = Size(4)
	Size64 = Size(8)
)

// ScalarCategory of a value type.
type ScalarCategory uint8

const (
	Int   = ScalarCategory(0)
	Float = ScalarCategory(1)
)

func (cat ScalarCategory) String() string {
	switch cat {
	case Int:
		return "int"

	case Float:
		return "float"

	default:
		return "<invalid scalar category>"
	}
}

// Type of a WebAssembly value.  Size is encoded in bit 3, and scalar category
// in bit 0, so that encoders can derive operand width and register bank
// without a table lookup.
type Type uint8

const (
	Void = Type(0)
	I32  = Type(4 | uint8(Int))
	F32  = Type(4 | uint8(Float))
	I64  = Type(8 | uint8(Int))
	F64  = Type(8 | uint8(Float))
)

// Category of a non-void type.
func (t Type) Category() ScalarCategory {
	return ScalarCategory(t & 1)
}

// Size in bytes.
func (t Type) Size() Size {
	return Size(t &^ 1)
}

func (t Type) String() string {
	switch t {
	case Void:
		return "void"

	case I32:
		return "i32"

	case I64:
		return "i64"

	case F32:
		return "f32"

	case F64:
		return "f64"

	default:
		return fmt.Sprintf("<invalid type %d>", uint8(t))
	}
}

// FuncType of a WebAssembly function.
type FuncType struct {
	Params  []Type
	Results []Type
}

func (f FuncType) Equal(other FuncType) bool {
	if len(f.Params) != len(other.Params) || len(f.Results) != len(other.Results) {
		return false
	}
	for i, t := range f.Params {
		if other.Params[i] != t {
			return false
		}
	}
	for i, t := range f.Results {
		if other.Results[i] != t {
			return false
		}
	}
	return true
}

// Result type, or Void if the function has none.
func (f FuncType) Result() Type {
	if len(f.Results) > 0 {
		return f.Results[0]
	}
	return Void
}

func (f FuncType) String() string {
	s := "("
	for i, t := range f.Params {
		if i > 0 {
			s += ", "
		}
		s += t.String()
	}
	s += ")"
	if len(f.Results) > 0 {
		s += " " + f.Results[0].String()
	}
	return s
}
