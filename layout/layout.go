// Copyright (c) 2024 Timo Savola. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package layout describes the VM context structure.  The offsets are
// computed by the embedder; code generation only emits loads and stores at
// register-plus-constant addresses derived from them.
package layout

// Offsets of module state relative to the VM-context register.
type Offsets struct {
	// ImportedFuncs is the base of an array of {function pointer, context
	// pointer} pairs, one per imported function, 16 bytes each.
	ImportedFuncs int32

	// Memories is the base of an array of {base pointer, byte bound} pairs,
	// one per locally defined memory, 16 bytes each.
	Memories int32

	// Tables is the base of an array of {base pointer, element count} pairs,
	// one per locally defined table, 16 bytes each.
	Tables int32

	// Globals is the base of an array of 8-byte global storage slots.
	Globals int32

	// Builtins is the base of the builtin function pointer array.
	Builtins int32
}

func (o *Offsets) ImportedFuncPtr(index uint32) int32 { return o.ImportedFuncs + int32(index)*16 }
func (o *Offsets) ImportedFuncCtx(index uint32) int32 { return o.ImportedFuncs + int32(index)*16 + 8 }

func (o *Offsets) MemoryBase(index uint32) int32  { return o.Memories + int32(index)*16 }
func (o *Offsets) MemoryBound(index uint32) int32 { return o.Memories + int32(index)*16 + 8 }

func (o *Offsets) TableBase(index uint32) int32  { return o.Tables + int32(index)*16 }
func (o *Offsets) TableCount(index uint32) int32 { return o.Tables + int32(index)*16 + 8 }

func (o *Offsets) Global(index uint32) int32 { return o.Globals + int32(index)*8 }

func (o *Offsets) Builtin(index uint32) int32 { return o.Builtins + int32(index)*8 }
