// Copyright (c) 2024 Timo Savola. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package object contains the output of function compilation: machine code
// with relocation, call-site and trap-site records.  The records are consumed
// by the module linker and the runtime; they are never resolved here.
package object

import (
	"gate.computer/singlepass/trap"
)

// RelocKind tells the linker how to patch a code offset.
type RelocKind uint8

const (
	// Abs8 patches an absolute 8-byte little-endian address.
	Abs8 = RelocKind(iota)

	// Rel4 patches a 4-byte displacement relative to the end of the patched
	// field.
	Rel4
)

// TargetKind classifies what a relocation refers to.
type TargetKind uint8

const (
	TargetFunc = TargetKind(iota)
	TargetBuiltin
)

// Target of a relocation.
type Target struct {
	Kind  TargetKind
	Index uint32
}

// Reloc is a deferred patch.  Offset is relative to the start of the
// function's text.
type Reloc struct {
	Kind   RelocKind
	Target Target
	Offset uint32
	Addend int64
}

// CallSite brackets a call instruction, for stack walking and trap
// attribution.  Before is the offset of the call instruction; After is the
// return address offset.
type CallSite struct {
	Before uint32
	After  uint32
}

// TrapSite is the offset of an emitted trap instruction and the condition it
// stands for.  Trap delivery is owned by the runtime.
type TrapSite struct {
	Offset uint32
	ID     trap.ID
}

// FunctionCode is the result of compiling one function body.  Text is
// immutable after compilation; the linker is the sole writer of the later
// relocation-patching pass.
type FunctionCode struct {
	Text      []byte
	Relocs    []Reloc
	CallSites []CallSite
	TrapSites []TrapSite
}
