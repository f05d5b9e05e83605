// Copyright (c) 2024 Timo Savola. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package trap enumerates trap identifiers.
package trap

type ID int

const (
	Unreachable = ID(iota)
	IntegerDivideByZero
	IntegerOverflow
	MemoryAccessOutOfBounds
	IndirectCallNull
	IndirectCallSignatureMismatch

	NumTraps
)

func (id ID) String() string {
	switch id {
	case Unreachable:
		return "unreachable"

	case IntegerDivideByZero:
		return "integer divide by zero"

	case IntegerOverflow:
		return "integer overflow"

	case MemoryAccessOutOfBounds:
		return "memory access out of bounds"

	case IndirectCallNull:
		return "indirect call to null"

	case IndirectCallSignatureMismatch:
		return "indirect call signature mismatch"

	default:
		return "unknown trap"
	}
}
