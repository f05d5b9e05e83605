// Copyright (c) 2024 Timo Savola. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package amd64 generates x86-64 machine code under the System V calling
// convention.
package amd64

import (
	"golang.org/x/sys/cpu"

	"gate.computer/singlepass/internal/code"
	"gate.computer/singlepass/internal/gen/link"
	"gate.computer/singlepass/internal/gen/local"
	"gate.computer/singlepass/internal/gen/reg"
	"gate.computer/singlepass/internal/isa/amd64/in"
	"gate.computer/singlepass/layout"
	"gate.computer/singlepass/object"
	"gate.computer/singlepass/trap"
	"gate.computer/singlepass/wa"
)

const (
	rax = reg.R(iota)
	rcx
	rdx
	rbx
	rsp
	rbp
	rsi
	rdi
	r8
	r9
	r10
	r11
	r12
	r13
	r14
	r15
)

// regContext always holds the VM context pointer; it is saved and restored by
// the prologue and epilogue, so it survives calls between functions compiled
// here.  External calls go through trampolines which do the same.
const regContext = r15

// SysV describes the register file to the allocator.  Stack arguments of the
// internal convention occupy the same slots as System V's, but the context
// pointer takes the place of the first integer argument.
var SysV = local.Desc{
	FP:        rbp,
	SP:        rsp,
	VMContext: regContext,

	RegCount:       16,
	WordSize:       8,
	StackGrowsDown: true,
	StackArgOffset: 64, // 6 saved registers, padding, return address.

	ArgRegs:      []reg.R{rdi, rsi, rdx, rcx, r8, r9},
	ArgFloatRegs: []reg.R{0, 1, 2, 3, 4, 5, 6, 7},

	CalleeSave: reg.MakeSet(rbx, r12, r13, r14),
	Reserved:   reg.MakeSet(rsp, rbp, regContext),
	FloatRegs:  reg.Set(0xffff),

	RetReg:      rax,
	RetFloatReg: 0,
}

// Transient registers handed to the allocator at function entry.  The pop
// order is from the end, so the argument registers (clobbered first by calls
// anyway) are preferred last.
var (
	freeIntRegs   = []reg.R{rdi, rsi, rdx, rcx, r8, r9, rbx, r12, r13, r14, rax, r10, r11}
	freeFloatRegs = []reg.R{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15}
)

// Features gates the optional instruction set extensions which have cheap
// baseline fallbacks.  SSE4.1 is assumed (x86-64-v2).
type Features struct {
	PopCnt bool
	LzCnt  bool
	TzCnt  bool
}

// DetectFeatures queries the host processor.  Only meaningful when the
// compilation targets the host.
func DetectFeatures() Features {
	return Features{
		PopCnt: cpu.X86.HasPOPCNT,
		LzCnt:  cpu.X86.HasBMI1,
		TzCnt:  cpu.X86.HasBMI1,
	}
}

// Machine is the x86-64 code generator of one function.  It implements the
// allocator's Emitter and the generic driver's Machine interface.
type Machine struct {
	text code.Buf
	mgr  *local.Manager
	lay  *layout.Offsets
	feat Features

	relocs    []object.Reloc
	callSites []object.CallSite
	trapSites []object.TrapSite // Inline faulting instructions.
	trapLinks [trap.NumTraps]link.L
	trapUsed  [trap.NumTraps]bool
}

func New(buf code.Buffer, lay *layout.Offsets, feat Features) *Machine {
	mach := &Machine{
		text: code.Buf{Buffer: buf},
		lay:  lay,
		feat: feat,
	}
	mach.mgr = local.NewManager(&SysV, mach)
	return mach
}

func (mach *Machine) M() *local.Manager         { return mach.mgr }
func (mach *Machine) Relocs() []object.Reloc    { return mach.relocs }
func (mach *Machine) CallSites() []object.CallSite { return mach.callSites }

// Prologue establishes the frame and binds parameters and locals.  The VM
// context pointer arrives as the first integer argument.
func (mach *Machine) Prologue(paramTypes, localTypes []wa.Type) []*local.Local {
	in.SUB.RegImm(&mach.text, wa.I64, rsp, 8)
	in.PUSH.Reg(&mach.text, rbp)
	in.PUSH.Reg(&mach.text, regContext)
	in.PUSH.Reg(&mach.text, rbx)
	in.PUSH.Reg(&mach.text, r12)
	in.PUSH.Reg(&mach.text, r13)
	in.PUSH.Reg(&mach.text, r14)
	in.MOV.RegReg(&mach.text, wa.I64, rbp, rsp)
	in.MOV.RegReg(&mach.text, wa.I64, regContext, rdi)

	return mach.mgr.InitLocals(paramTypes, localTypes, [2][]reg.R{freeIntRegs, freeFloatRegs})
}

// Epilogue tears down the frame.  The return value (if any) has already been
// moved to its register.
func (mach *Machine) Epilogue() {
	in.MOV.RegReg(&mach.text, wa.I64, rsp, rbp)
	in.POP.Reg(&mach.text, r14)
	in.POP.Reg(&mach.text, r13)
	in.POP.Reg(&mach.text, r12)
	in.POP.Reg(&mach.text, rbx)
	in.POP.Reg(&mach.text, regContext)
	in.POP.Reg(&mach.text, rbp)
	in.ADD.RegImm(&mach.text, wa.I64, rsp, 8)
	in.RET.Simple(&mach.text)
}

// Emitter implementation.

func (mach *Machine) GrowStack(slots int) int {
	in.SUB.RegImm(&mach.text, wa.I64, rsp, int64(slots)*8)
	return slots
}

func (mach *Machine) ReserveStack(bytes int32) {
	in.SUB.RegImm(&mach.text, wa.I64, rsp, int64(bytes))
}

func (mach *Machine) ShrinkStack(bytes int32) {
	in.ADD.RegImm(&mach.text, wa.I64, rsp, int64(bytes))
}

func (mach *Machine) MoveImmReg(t wa.Type, value int64, dst reg.R) {
	if value == 0 {
		// Zeroing idiom; the 32-bit form clears the whole register.
		in.XOR.RegReg(&mach.text, wa.I32, dst, dst)
		return
	}
	in.MovImm(&mach.text, t, dst, value)
}

func (mach *Machine) MoveImmMem(t wa.Type, value int32, base reg.R, disp int32) {
	in.MovImmMem(&mach.text, t, value, base, disp)
}

func (mach *Machine) MoveRegReg(t wa.Type, src, dst reg.R) {
	if t.Category() == wa.Float {
		in.MOVSx.RegReg(&mach.text, t, in.OneSize, dst, src)
	} else {
		in.MOV.RegReg(&mach.text, t, dst, src)
	}
}

func (mach *Machine) MoveRegMem(t wa.Type, src, base reg.R, disp int32) {
	if t.Category() == wa.Float {
		in.MOVSxmr.RegMemDisp(&mach.text, t, src, base, disp)
	} else {
		in.MOVmr.RegMemDisp(&mach.text, t, src, base, disp)
	}
}

func (mach *Machine) MoveMemReg(t wa.Type, base reg.R, disp int32, dst reg.R) {
	if t.Category() == wa.Float {
		in.MOVSx.RegMemDisp(&mach.text, t, dst, base, disp)
	} else {
		in.MOV.RegMemDisp(&mach.text, t, dst, base, disp)
	}
}

func (mach *Machine) MoveMemMem(t wa.Type, srcBase reg.R, srcDisp int32, dstBase reg.R, dstDisp int32) {
	// Spill slots are word-sized, so the full-width copy is always safe.
	in.PUSHm.Mem(&mach.text, in.OneSize, srcBase, srcDisp)
	in.POPm.Mem(&mach.text, in.OneSize, dstBase, dstDisp)
}

func (mach *Machine) MoveIntToFloat(t wa.Type, src, dst reg.R) {
	in.MOVDq.RegReg(&mach.text, t, dst, src)
}

func (mach *Machine) MoveFloatToInt(t wa.Type, src, dst reg.R) {
	in.MOVDqmr.RegReg(&mach.text, t, src, dst)
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

func (mach *Machine) release(x *local.Local) {
	if x.Refs() < 1 {
		mach.mgr.Release(x)
	}
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
// returns all trap site records, including inline faulting instructions.
// Must be called after the epilogue.
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
		in.UD2.Simple(&mach.text)
	}

	return mach.trapSites
}
