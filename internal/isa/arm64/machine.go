// Copyright (c) 2024 Timo Savola. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package arm64 generates AArch64 machine code under the AAPCS64 calling
// convention.
package arm64

import (
	"gate.computer/singlepass/internal/code"
	"gate.computer/singlepass/internal/gen/link"
	"gate.computer/singlepass/internal/gen/local"
	"gate.computer/singlepass/internal/gen/reg"
	"gate.computer/singlepass/internal/isa/arm64/in"
	"gate.computer/singlepass/layout"
	"gate.computer/singlepass/object"
	"gate.computer/singlepass/trap"
	"gate.computer/singlepass/wa"
)

const (
	// x16 addresses out-of-range displacements; x17 carries transient values
	// of memory-to-memory and immediate-to-memory moves.  Neither is ever
	// allocated, so the sequences using them cannot clobber live values.
	regScratch  = reg.R(16)
	regScratch2 = reg.R(17)

	regContext = reg.R(28)
	regFP      = reg.R(29)
	regLink    = reg.R(30)
	regSP      = reg.R(31)
)

// AAPCS describes the register file to the allocator.  The context pointer
// takes the place of the first integer argument; x19-x27 are left untouched
// so that the prologue has nothing to save beyond the frame record.
var AAPCS = local.Desc{
	FP:        regFP,
	SP:        regSP,
	VMContext: regContext,

	RegCount:       32,
	WordSize:       8,
	StackGrowsDown: true,
	StackArgOffset: 32, // Saved FP, LR and context, plus padding.

	ArgRegs:      []reg.R{0, 1, 2, 3, 4, 5, 6, 7},
	ArgFloatRegs: []reg.R{0, 1, 2, 3, 4, 5, 6, 7},

	CalleeSave: reg.MakeSet(19, 20, 21, 22, 23, 24, 25, 26, 27),
	Reserved:   reg.MakeSet(regScratch, regScratch2, 18, regContext, regFP, regLink, regSP),
	FloatRegs:  reg.Set(0x00ff00ff), // v8-v15 are callee-saved; avoid them too.

	RetReg:      0,
	RetFloatReg: 0,
}

var (
	freeIntRegs   = []reg.R{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15}
	freeFloatRegs = []reg.R{0, 1, 2, 3, 4, 5, 6, 7, 16, 17, 18, 19, 20, 21, 22, 23}
)

// Machine is the AArch64 code generator of one function.  It implements the
// allocator's Emitter and the generic driver's Machine interface.
type Machine struct {
	text code.Buf
	mgr  *local.Manager
	lay  *layout.Offsets

	relocs    []object.Reloc
	callSites []object.CallSite
	trapSites []object.TrapSite
	trapLinks [trap.NumTraps]link.L
	trapUsed  [trap.NumTraps]bool
}

func New(buf code.Buffer, lay *layout.Offsets) *Machine {
	mach := &Machine{
		text: code.Buf{Buffer: buf},
		lay:  lay,
	}
	mach.mgr = local.NewManager(&AAPCS, mach)
	return mach
}

func (mach *Machine) M() *local.Manager            { return mach.mgr }
func (mach *Machine) Relocs() []object.Reloc       { return mach.relocs }
func (mach *Machine) CallSites() []object.CallSite { return mach.callSites }

// Prologue establishes the frame record and binds parameters and locals.
// The VM context pointer arrives as the first integer argument; stack
// arguments sit right above the frame.
func (mach *Machine) Prologue(paramTypes, localTypes []wa.Type) []*local.Local {
	text := &mach.text

	in.SubImm(text, wa.I64, regSP, regSP, 32)
	in.STRX.RtRnScaled(text, regFP, regSP, 0)
	in.STRX.RtRnScaled(text, regLink, regSP, 8)
	in.STRX.RtRnScaled(text, regContext, regSP, 16)
	in.AddImm(text, wa.I64, regFP, regSP, 0)
	in.MovReg(text, wa.I64, regContext, 0)

	return mach.mgr.InitLocals(paramTypes, localTypes, [2][]reg.R{freeIntRegs, freeFloatRegs})
}

func (mach *Machine) Epilogue() {
	text := &mach.text

	in.AddImm(text, wa.I64, regSP, regFP, 0)
	in.LDRX.RtRnScaled(text, regContext, regSP, 16)
	in.LDRX.RtRnScaled(text, regLink, regSP, 8)
	in.LDRX.RtRnScaled(text, regFP, regSP, 0)
	in.AddImm(text, wa.I64, regSP, regSP, 32)
	in.Ret(text)
}

// adjustSP moves the stack pointer by a (possibly large) byte count.
func (mach *Machine) adjustSP(down bool, bytes int32) {
	text := &mach.text

	if bytes < 4096 {
		if down {
			in.SubImm(text, wa.I64, regSP, regSP, uint32(bytes))
		} else {
			in.AddImm(text, wa.I64, regSP, regSP, uint32(bytes))
		}
		return
	}

	in.MoveIntImm(text, regScratch, int64(bytes))
	if down {
		in.SubRegExt(text, wa.I64, regSP, regSP, regScratch)
	} else {
		in.AddRegExt(text, wa.I64, regSP, regSP, regScratch)
	}
}

// Emitter implementation.

// GrowStack rounds the allocation up to a register pair so that the stack
// pointer stays 16-byte aligned at all times.
func (mach *Machine) GrowStack(slots int) int {
	slots = (slots + 1) &^ 1
	mach.adjustSP(true, int32(slots)*8)
	return slots
}

func (mach *Machine) ReserveStack(bytes int32) { mach.adjustSP(true, bytes) }
func (mach *Machine) ShrinkStack(bytes int32)  { mach.adjustSP(false, bytes) }

func (mach *Machine) MoveImmReg(t wa.Type, value int64, dst reg.R) {
	in.MoveIntImm(&mach.text, dst, value)
}

func (mach *Machine) MoveImmMem(t wa.Type, value int32, base reg.R, disp int32) {
	in.MoveIntImm(&mach.text, regScratch2, int64(value))
	mach.access(storeOp(intType(t)), regScratch2, base, disp)
}

func (mach *Machine) MoveRegReg(t wa.Type, src, dst reg.R) {
	if t.Category() == wa.Float {
		in.FMOVreg.RdRn(&mach.text, t, dst, src)
	} else {
		in.MovReg(&mach.text, t, dst, src)
	}
}

func (mach *Machine) MoveRegMem(t wa.Type, src, base reg.R, disp int32) {
	mach.access(storeOp(t), src, base, disp)
}

func (mach *Machine) MoveMemReg(t wa.Type, base reg.R, disp int32, dst reg.R) {
	mach.access(loadOp(t), dst, base, disp)
}

func (mach *Machine) MoveMemMem(t wa.Type, srcBase reg.R, srcDisp int32, dstBase reg.R, dstDisp int32) {
	// Spill slots are word-sized, so the full-width copy is always safe.
	mach.access(in.LDRX, regScratch2, srcBase, srcDisp)
	mach.access(in.STRX, regScratch2, dstBase, dstDisp)
}

func (mach *Machine) MoveIntToFloat(t wa.Type, src, dst reg.R) {
	in.FmovFromGen(&mach.text, t, dst, src)
}

func (mach *Machine) MoveFloatToInt(t wa.Type, src, dst reg.R) {
	in.FmovToGen(&mach.text, t, dst, src)
}

func loadOp(t wa.Type) in.LdSt {
	switch t {
	case wa.I32:
		return in.LDRW
	case wa.F32:
		return in.LDRS
	case wa.F64:
		return in.LDRD
	default:
		return in.LDRX
	}
}

func storeOp(t wa.Type) in.LdSt {
	switch t {
	case wa.I32:
		return in.STRW
	case wa.F32:
		return in.STRS
	case wa.F64:
		return in.STRD
	default:
		return in.STRX
	}
}

// access emits one load or store, materializing the address in the scratch
// register when the displacement fits neither encoding form.
func (mach *Machine) access(op in.LdSt, rt, base reg.R, disp int32) {
	text := &mach.text

	switch {
	case op.InScaledRange(disp):
		op.RtRnScaled(text, rt, base, disp)

	case disp >= -256 && disp < 256:
		op.RtRnUnscaled(text, rt, base, disp)

	default:
		in.MoveIntImm(text, regScratch, int64(disp))
		in.AddRegExt(text, wa.I64, regScratch, base, regScratch)
		op.RtRnScaled(text, rt, regScratch, 0)
	}
}

// own makes x's value the machine's to clobber in a register: stolen if dead,
// copied otherwise.
func (mach *Machine) own(x *local.Local, t wa.Type, dontUse reg.Set) (*local.Local, reg.R) {
	r := mach.mgr.MoveToReg(x, dontUse)
	if x.Refs() < 1 {
		mach.mgr.Steal(x)
	} else {
		r2 := mach.mgr.GetFreeReg(x.Cat(), dontUse.With(r))
		mach.MoveRegReg(x.Type(), r, r2)
		r = r2
	}
	return mach.mgr.NewLocalFromReg(r, t), r
}

// recordFault marks the next instruction as one which traps in hardware.
func (mach *Machine) recordFault(id trap.ID) {
	mach.trapSites = append(mach.trapSites, object.TrapSite{
		Offset: uint32(mach.text.Addr),
		ID:     id,
	})
}

func (mach *Machine) trapLink(id trap.ID) *link.L {
	mach.trapUsed[id] = true
	return &mach.trapLinks[id]
}

// Trap jumps to the function's shared trap block for the condition.
func (mach *Machine) Trap(id trap.ID) {
	mach.branchStub(mach.trapLink(id))
}

// FlushTraps emits the trap blocks referenced by the function body and
// returns all trap site records.  Must be called after the epilogue.
func (mach *Machine) FlushTraps() []object.TrapSite {
	for id := trap.ID(0); id < trap.NumTraps; id++ {
		if !mach.trapUsed[id] {
			continue
		}
		mach.Label(&mach.trapLinks[id])
		mach.trapSites = append(mach.trapSites, object.TrapSite{
			Offset: uint32(mach.text.Addr),
			ID:     id,
		})
		in.Brk(&mach.text, uint32(id))
	}

	return mach.trapSites
}

func intType(t wa.Type) wa.Type {
	if t.Size() == wa.Size64 {
		return wa.I64
	}
	return wa.I32
}
