// Copyright (c) 2024 Timo Savola. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package arm64

import (
	"github.com/pkg/errors"

	"gate.computer/singlepass/internal/gen/local"
	"gate.computer/singlepass/internal/gen/reg"
	"gate.computer/singlepass/internal/isa/arm64/in"
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
// returns the owned address register (zero-extended, with the whole static
// offset folded in: the register-offset addressing form has no displacement
// field) and the base register loaded with the memory base.  The caller must
// free the base register and release the returned value.
func (mach *Machine) checkAccess(addr *local.Local, offset uint32, size int64, avoid reg.Set) (*local.Local, reg.R, reg.R) {
	text := &mach.text

	a, ra := mach.own(addr, wa.I64, avoid)
	in.MovReg(text, wa.I32, ra, ra)

	base := mach.mgr.GetFreeReg(wa.Int, reg.MakeSet(ra)|avoid)

	end := int64(offset) + size
	if end < 4096 {
		in.AddImm(text, wa.I64, base, ra, uint32(end))
	} else {
		in.MoveIntImm(text, regScratch, end)
		in.ADDreg.RdRnRm(text, wa.I64, base, ra, regScratch)
	}

	mach.access(in.LDRX, regScratch, regContext, mach.lay.MemoryBound(0))
	in.Cmp(text, wa.I64, base, regScratch)
	mach.branchIfStub(in.HI, mach.trapLink(trap.MemoryAccessOutOfBounds))

	if offset != 0 {
		if offset < 4096 {
			in.AddImm(text, wa.I64, ra, ra, offset)
		} else {
			in.MoveIntImm(text, regScratch, int64(offset))
			in.ADDreg.RdRnRm(text, wa.I64, ra, ra, regScratch)
		}
	}

	mach.access(in.LDRX, base, regContext, mach.lay.MemoryBase(0))

	return a, ra, base
}

// Load reads from linear memory.
func (mach *Machine) Load(op ops.Op, addr *local.Local) *local.Local {
	text := &mach.text
	size := accessSize(op.Code)

	a, ra, base := mach.checkAccess(addr, op.Offset, size, 0)

	var t wa.Type
	var ls in.LdSt
	switch op.Code {
	case ops.I32Load:
		t, ls = wa.I32, in.LDRW
	case ops.I32Load8S:
		t, ls = wa.I32, in.LDRSB32
	case ops.I32Load8U:
		t, ls = wa.I32, in.LDRB
	case ops.I32Load16S:
		t, ls = wa.I32, in.LDRSH32
	case ops.I32Load16U:
		t, ls = wa.I32, in.LDRH
	case ops.I64Load:
		t, ls = wa.I64, in.LDRX
	case ops.I64Load8S:
		t, ls = wa.I64, in.LDRSB64
	case ops.I64Load8U:
		t, ls = wa.I64, in.LDRB
	case ops.I64Load16S:
		t, ls = wa.I64, in.LDRSH64
	case ops.I64Load16U:
		t, ls = wa.I64, in.LDRH
	case ops.I64Load32S:
		t, ls = wa.I64, in.LDRSW
	case ops.I64Load32U:
		t, ls = wa.I64, in.LDRW
	case ops.F32Load:
		t, ls = wa.F32, in.LDRS
	case ops.F64Load:
		t, ls = wa.F64, in.LDRD
	default:
		panic(errors.Errorf("unsupported load operator %#x", uint16(op.Code)))
	}

	var rd reg.R
	if t.Category() == wa.Int {
		// The address copy is dead after the access; its register can hold
		// the result (the access reads it as the index).
		rd = mach.mgr.Steal(a)
	} else {
		rd = mach.mgr.GetFreeReg(wa.Float, 0)
	}

	ls.RtRnRm(text, rd, base, ra)

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
	a, ra, base := mach.checkAccess(addr, op.Offset, size, excl(value))

	var ls in.LdSt
	switch op.Code {
	case ops.I32Store8, ops.I64Store8:
		ls = in.STRB
	case ops.I32Store16, ops.I64Store16:
		ls = in.STRH
	case ops.I32Store, ops.I64Store32:
		ls = in.STRW
	case ops.I64Store:
		ls = in.STRX
	case ops.F32Store:
		ls = in.STRS
	case ops.F64Store:
		ls = in.STRD
	default:
		panic(errors.Errorf("unsupported store operator %#x", uint16(op.Code)))
	}

	ls.RtRnRm(text, rv, base, ra)

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
