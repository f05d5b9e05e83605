// Copyright (c) 2024 Timo Savola. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package amd64

import (
	"math"

	"github.com/pkg/errors"

	"gate.computer/singlepass/internal/gen/local"
	"gate.computer/singlepass/internal/gen/reg"
	"gate.computer/singlepass/internal/isa/amd64/in"
	"gate.computer/singlepass/ops"
	"gate.computer/singlepass/trap"
	"gate.computer/singlepass/wa"
)

func accessSize(code ops.Code) int64 {
	switch code {
	case ops.I32Load8S, ops.I32Load8U, ops.I64Load8S, ops.I64Load8U,
		ops.I32Store8, ops.I64Store8:
		return 1

	case ops.I32Load16S, ops.I32Load16U, ops.I64Load16S, ops.I64Load16U,
		ops.I32Store16, ops.I64Store16:
		return 2

	case ops.I32Load, ops.F32Load, ops.I64Load32S, ops.I64Load32U,
		ops.I32Store, ops.F32Store, ops.I64Store32:
		return 4

	default:
		return 8
	}
}

// checkAccess bounds-checks addr+offset+size against the linear memory and
// returns the owned address register (zero-extended, with an oversized static
// offset folded in), the remaining displacement, and the base register loaded
// with the memory base.  The caller must free the base register and release
// the returned value.
func (mach *Machine) checkAccess(addr *local.Local, offset uint32, size int64, avoid reg.Set) (*local.Local, reg.R, int32, reg.R) {
	text := &mach.text

	a, ra := mach.own(addr, wa.I64, avoid)
	in.MOV.RegReg(text, wa.I32, ra, ra)

	disp := int64(offset)
	if disp+size > math.MaxInt32 {
		s := mach.mgr.GetFreeReg(wa.Int, reg.MakeSet(ra)|avoid)
		in.MovImm(text, wa.I64, s, disp)
		in.ADD.RegReg(text, wa.I64, ra, s)
		mach.mgr.FreeReg(wa.Int, s)
		disp = 0
	}

	base := mach.mgr.GetFreeReg(wa.Int, reg.MakeSet(ra)|avoid)
	in.LEA.RegMemDisp(text, wa.I64, base, ra, int32(disp+size))
	in.CMP.RegMem(text, wa.I64, base, regContext, mach.lay.MemoryBound(0))
	mach.branchIfStub(in.CondA, mach.trapLink(trap.MemoryAccessOutOfBounds))
	in.MOV.RegMemDisp(text, wa.I64, base, regContext, mach.lay.MemoryBase(0))

	return a, ra, int32(disp), base
}

// Load reads from linear memory.
func (mach *Machine) Load(op ops.Op, addr *local.Local) *local.Local {
	text := &mach.text
	size := accessSize(op.Code)

	a, ra, disp, base := mach.checkAccess(addr, op.Offset, size, 0)

	var t wa.Type
	switch op.Code {
	case ops.I32Load, ops.I32Load8S, ops.I32Load8U, ops.I32Load16S, ops.I32Load16U:
		t = wa.I32
	case ops.I64Load, ops.I64Load8S, ops.I64Load8U, ops.I64Load16S, ops.I64Load16U,
		ops.I64Load32S, ops.I64Load32U:
		t = wa.I64
	case ops.F32Load:
		t = wa.F32
	case ops.F64Load:
		t = wa.F64
	default:
		panic(errors.Errorf("unsupported load operator %#x", uint16(op.Code)))
	}

	var rd reg.R
	if t.Category() == wa.Int {
		// The address copy is dead after the access; its register can hold
		// the result (the access may read it as the index).
		rd = mach.mgr.Steal(a)
	} else {
		rd = mach.mgr.GetFreeReg(wa.Float, 0)
	}

	switch op.Code {
	case ops.I32Load:
		in.MOV.RegMemIndex(text, wa.I32, rd, base, ra, 1, disp)
	case ops.I64Load:
		in.MOV.RegMemIndex(text, wa.I64, rd, base, ra, 1, disp)
	case ops.I32Load8S:
		in.MOVSX8.RegMemIndex(text, wa.I32, rd, base, ra, 1, disp)
	case ops.I32Load8U, ops.I64Load8U:
		in.MOVZX8.RegMemIndex(text, wa.I32, rd, base, ra, 1, disp)
	case ops.I32Load16S:
		in.MOVSX16.RegMemIndex(text, wa.I32, rd, base, ra, 1, disp)
	case ops.I32Load16U, ops.I64Load16U:
		in.MOVZX16.RegMemIndex(text, wa.I32, rd, base, ra, 1, disp)
	case ops.I64Load8S:
		in.MOVSX8.RegMemIndex(text, wa.I64, rd, base, ra, 1, disp)
	case ops.I64Load16S:
		in.MOVSX16.RegMemIndex(text, wa.I64, rd, base, ra, 1, disp)
	case ops.I64Load32S:
		in.MOVSXD.RegMemIndex(text, wa.I64, rd, base, ra, 1, disp)
	case ops.I64Load32U:
		in.MOV.RegMemIndex(text, wa.I32, rd, base, ra, 1, disp)
	case ops.F32Load, ops.F64Load:
		in.MOVSx.RegMemIndex(text, t, rd, base, ra, 1, disp)
	}

	mach.mgr.FreeReg(wa.Int, base)
	if t.Category() == wa.Float {
		mach.mgr.Release(a)
	}
	return mach.mgr.NewLocalFromReg(rd, t)
}

// Store writes to linear memory.
func (mach *Machine) Store(op ops.Op, addr, value *local.Local) {
	text := &mach.text
	size := accessSize(op.Code)

	// The value register must be settled before the bounds-check branch.
	rv := mach.mgr.MoveToReg(value, 0)
	a, ra, disp, base := mach.checkAccess(addr, op.Offset, size, excl(value))

	switch op.Code {
	case ops.I32Store8, ops.I64Store8:
		in.STORE8.RegMemIndex(text, rv, base, ra, 1, disp)
	case ops.I32Store16, ops.I64Store16:
		in.Store16Index(text, rv, base, ra, 1, disp)
	case ops.I32Store, ops.I64Store32:
		in.MOVmr.RegMemIndex(text, wa.I32, rv, base, ra, 1, disp)
	case ops.I64Store:
		in.MOVmr.RegMemIndex(text, wa.I64, rv, base, ra, 1, disp)
	case ops.F32Store, ops.F64Store:
		in.MOVSxmr.RegMemIndex(text, value.Type(), rv, base, ra, 1, disp)
	default:
		panic(errors.Errorf("unsupported store operator %#x", uint16(op.Code)))
	}

	mach.mgr.FreeReg(wa.Int, base)
	mach.mgr.Release(a)
}

// GlobalGet loads a global variable.
func (mach *Machine) GlobalGet(index uint32, t wa.Type) *local.Local {
	rd := mach.mgr.GetFreeReg(t.Category(), 0)
	mach.MoveMemReg(t, regContext, mach.lay.Global(index), rd)
	return mach.mgr.NewLocalFromReg(rd, t)
}

// GlobalSet stores a global variable.
func (mach *Machine) GlobalSet(index uint32, x *local.Local) {
	r := mach.mgr.MoveToReg(x, 0)
	mach.MoveRegMem(x.Type(), r, regContext, mach.lay.Global(index))
}
