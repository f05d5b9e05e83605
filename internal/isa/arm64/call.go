// Copyright (c) 2024 Timo Savola. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package arm64

import (
	"gate.computer/singlepass/internal/code"
	"gate.computer/singlepass/internal/gen/loc"
	"gate.computer/singlepass/internal/gen/reg"
	"gate.computer/singlepass/internal/isa/arm64/in"
	"gate.computer/singlepass/object"
	"gate.computer/singlepass/wa"
)

// Arguments and the context pointer have already been marshaled by the
// allocator's BeforeCall; these methods only emit the transfer of control.
// x16 is the platform scratch register, free across the call.

// CallLocal calls a function in the same module.  The target address is an
// inline 64-bit literal patched by the linker via an absolute relocation.
func (mach *Machine) CallLocal(index uint32) {
	text := &mach.text

	in.LdrLit(text, regScratch, 2)
	in.B(text, 3) // Over the literal.
	text.PutUint64(0)
	mach.relocs = append(mach.relocs, object.Reloc{
		Kind:   object.Abs8,
		Target: object.Target{Kind: object.TargetFunc, Index: index},
		Offset: uint32(mach.text.Addr) - 8,
	})

	before := uint32(mach.text.Addr)
	in.Blr(text, regScratch)
	mach.callSites = append(mach.callSites, object.CallSite{
		Before: before,
		After:  uint32(mach.text.Addr),
	})
}

// CallImported calls a host function through the VM context's import table.
// The import's own context pointer replaces the module context argument.
func (mach *Machine) CallImported(index uint32) {
	mach.access(in.LDRX, regScratch, regContext, mach.lay.ImportedFuncPtr(index))
	mach.access(in.LDRX, 0, regContext, mach.lay.ImportedFuncCtx(index))

	before := uint32(mach.text.Addr)
	in.Blr(&mach.text, regScratch)
	mach.callSites = append(mach.callSites, object.CallSite{
		Before: before,
		After:  uint32(mach.text.Addr),
	})
}

// Trampoline emits the host-to-function entry for a signature: it receives
// (context, function address, argument block) in the platform convention,
// unpacks the 16-byte argument slots, and stores the result back into the
// first slot.  The code depends only on the signature, so trampolines can be
// shared between functions.
func Trampoline(buf code.Buffer, sig wa.FuncType) {
	text := &code.Buf{Buffer: buf}

	const regArgs = reg.R(19) // Callee-saved; survives the call.
	const regFn = reg.R(9)

	// x0 = context, x1 = function, x2 = argument block.
	in.SubImm(text, wa.I64, regSP, regSP, 32)
	in.STRX.RtRnScaled(text, regFP, regSP, 0)
	in.STRX.RtRnScaled(text, regLink, regSP, 8)
	in.STRX.RtRnScaled(text, regArgs, regSP, 16)
	in.AddImm(text, wa.I64, regFP, regSP, 0)
	in.MovReg(text, wa.I64, regArgs, 2)
	in.MovReg(text, wa.I64, regFn, 1)

	all := make([]wa.Type, 0, len(sig.Params)+1)
	all = append(all, wa.I64) // Context stays in x0.
	all = append(all, sig.Params...)

	area := int32(AAPCS.StackArgCount(all)) * 8
	if area%16 != 0 {
		area += 8
	}
	if area > 0 {
		in.SubImm(text, wa.I64, regSP, regSP, uint32(area))
	}

	for i, t := range sig.Params {
		slot := int32(i) * 16
		l := AAPCS.CallerArgLoc(all, i+1)

		switch {
		case l.Kind() == loc.Reg:
			loadOp(t).RtRnScaled(text, l.Reg(), regArgs, slot)

		default:
			// Raw bits through a scratch register.
			in.LDRX.RtRnScaled(text, 10, regArgs, slot)
			in.STRX.RtRnScaled(text, 10, regSP, l.Disp())
		}
	}

	in.Blr(text, regFn)

	if t := sig.Result(); t != wa.Void {
		storeOp(t).RtRnScaled(text, 0, regArgs, 0)
	}

	if area > 0 {
		in.AddImm(text, wa.I64, regSP, regSP, uint32(area))
	}
	in.LDRX.RtRnScaled(text, regArgs, regSP, 16)
	in.LDRX.RtRnScaled(text, regLink, regSP, 8)
	in.LDRX.RtRnScaled(text, regFP, regSP, 0)
	in.AddImm(text, wa.I64, regSP, regSP, 32)
	in.Ret(text)
}
