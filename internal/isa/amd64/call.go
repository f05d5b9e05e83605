// Copyright (c) 2024 Timo Savola. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package amd64

import (
	"gate.computer/singlepass/internal/code"
	"gate.computer/singlepass/internal/gen/loc"
	"gate.computer/singlepass/internal/isa/amd64/in"
	"gate.computer/singlepass/object"
	"gate.computer/singlepass/wa"
)

// Arguments and the context pointer have already been marshaled by the
// allocator's BeforeCall; these methods only emit the transfer of control.
// rax is caller-saved and free at this point (live registers were spilled).

// CallLocal calls a function in the same module.  The target address is an
// absolute relocation patched by the linker.
func (mach *Machine) CallLocal(index uint32) {
	in.MovImm64(&mach.text, rax, 0)
	mach.relocs = append(mach.relocs, object.Reloc{
		Kind:   object.Abs8,
		Target: object.Target{Kind: object.TargetFunc, Index: index},
		Offset: uint32(mach.text.Addr) - 8,
	})

	before := uint32(mach.text.Addr)
	in.CALL.Reg(&mach.text, in.OneSize, rax)
	mach.callSites = append(mach.callSites, object.CallSite{
		Before: before,
		After:  uint32(mach.text.Addr),
	})
}

// CallImported calls a host function through the VM context's import table.
// The import's own context pointer replaces the module context argument.
func (mach *Machine) CallImported(index uint32) {
	in.MOV.RegMemDisp(&mach.text, wa.I64, rax, regContext, mach.lay.ImportedFuncPtr(index))
	in.MOV.RegMemDisp(&mach.text, wa.I64, rdi, regContext, mach.lay.ImportedFuncCtx(index))

	before := uint32(mach.text.Addr)
	in.CALL.Reg(&mach.text, in.OneSize, rax)
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

	// rdi = context, rsi = function, rdx = argument block.
	in.PUSH.Reg(text, rbx)
	in.MOV.RegReg(text, wa.I64, rbx, rdx)
	in.MOV.RegReg(text, wa.I64, rax, rsi)

	all := make([]wa.Type, 0, len(sig.Params)+1)
	all = append(all, wa.I64) // Context stays in rdi.
	all = append(all, sig.Params...)

	area := int32(SysV.StackArgCount(all)) * 8
	if area%16 != 0 {
		area += 8
	}
	if area > 0 {
		in.SUB.RegImm(text, wa.I64, rsp, int64(area))
	}

	for i, t := range sig.Params {
		slot := int32(i) * 16
		l := SysV.CallerArgLoc(all, i+1)

		switch {
		case l.Kind() == loc.Reg && t.Category() == wa.Float:
			in.MOVSx.RegMemDisp(text, t, l.Reg(), rbx, slot)

		case l.Kind() == loc.Reg:
			in.MOV.RegMemDisp(text, t, l.Reg(), rbx, slot)

		default:
			// Raw bits through a scratch register.
			in.MOV.RegMemDisp(text, wa.I64, r10, rbx, slot)
			in.MOVmr.RegMemDisp(text, wa.I64, r10, rsp, l.Disp())
		}
	}

	in.CALL.Reg(text, in.OneSize, rax)

	if t := sig.Result(); t != wa.Void {
		if t.Category() == wa.Float {
			in.MOVSxmr.RegMemDisp(text, t, 0, rbx, 0)
		} else {
			in.MOVmr.RegMemDisp(text, t, rax, rbx, 0)
		}
	}

	if area > 0 {
		in.ADD.RegImm(text, wa.I64, rsp, int64(area))
	}
	in.POP.Reg(text, rbx)
	in.RET.Simple(text)
}
