// Copyright (c) 2024 Timo Savola. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package codegen

import (
	"gate.computer/singlepass/internal/gen/link"
	"gate.computer/singlepass/internal/gen/local"
	"gate.computer/singlepass/internal/pan"
	"gate.computer/singlepass/ops"
	"gate.computer/singlepass/wa"
)

// Every control-flow edge observes the same contract: locals are in their
// dedicated frame slots, operands below the target block's entry depth are in
// the locations they had at block entry, and the block's result value is in
// the return register.  Branches into the function's outermost scope are the
// returns; nothing reads locals after them, so they can skip the local flush.

// flushLocals stores every local into its dedicated frame slot.
func (f *fun) flushLocals() {
	for i, x := range f.locals {
		f.mgr.FlushTo(x, f.homes[i])
	}
}

// spillOperands pins the operand stack to memory at block entry.  Memory and
// immediate locations never move on their own, so every path through the
// block observes the operands where the entry left them.
func (f *fun) spillOperands() {
	for _, x := range f.stack {
		f.mgr.SpillToStack(x)
	}
}

// setReturn copies a block result into the return register for an outgoing
// edge.  If the register had to be claimed, it is kept out of circulation so
// that emitting the edge's branches cannot clobber the value; the caller
// hands it back with releaseReturn once the branches are out.
func (f *fun) setReturn(x *local.Local) bool {
	rl := f.mgr.Desc().RetLoc(x.Type())
	if x.Loc() == rl {
		return false
	}
	f.mgr.EvictReg(x.Type().Category(), rl.Reg())
	f.mgr.SetReturn(x)
	return true
}

func (f *fun) releaseReturn(t wa.Type, held bool) {
	if held {
		f.mgr.FreeReg(t.Category(), f.mgr.Desc().RetLoc(t).Reg())
	}
}

// setDead marks the current position unreachable and drops the operands
// accumulated inside the innermost block.  Locals have been flushed by the
// terminating edge, so a later resurrection point sees the canonical state.
func (f *fun) setDead() {
	f.dead = true
	f.truncate(f.blocks[len(f.blocks)-1].depth)
}

func (f *fun) truncate(depth int) {
	for len(f.stack) > depth {
		f.release(f.pop())
	}
}

func (f *fun) genBlock(op ops.Op) {
	f.spillOperands()
	f.blocks = append(f.blocks, &block{result: op.Type, depth: len(f.stack)})
	f.mgr.BlockBegin()
}

func (f *fun) genLoop(op ops.Op) {
	f.flushLocals()
	f.spillOperands()
	b := &block{result: op.Type, depth: len(f.stack), loop: true}
	f.blocks = append(f.blocks, b)
	f.mgr.BlockBegin()
	f.mach.Label(&b.label) // Back edges jump here with all registers free.
}

func (f *fun) genIf(op ops.Op) {
	cond := f.pop()
	f.flushLocals()
	f.spillOperands()

	b := &block{result: op.Type, depth: len(f.stack), isIf: true}

	// The branch belongs to the enclosing scope: the condition's register is
	// freed before the entry snapshot, so both arms agree on its state.
	f.mach.BranchIf(cond, false, &b.elseLabel)
	f.release(cond)

	f.blocks = append(f.blocks, b)
	f.mgr.BlockBegin()
}

func (f *fun) genElse() {
	b := f.blocks[len(f.blocks)-1]
	if !b.isIf || b.hasElse {
		pan.Panicf("unexpected else operator")
	}
	b.hasElse = true

	if !f.dead {
		var x *local.Local
		if b.result != wa.Void {
			x = f.pop()
		}
		f.flushLocals()
		if x != nil {
			held := f.setReturn(x)
			f.release(x)
			f.releaseReturn(b.result, held)
		}
		f.mgr.BlockReset() // Unwinds the then arm's native stack growth.
		f.mach.Branch(&b.label)
	} else {
		f.truncate(b.depth)
		f.mgr.BlockReset()
		f.dead = false
	}

	f.mach.Label(&b.elseLabel)
}

func (f *fun) genEnd() {
	n := len(f.blocks) - 1
	b := f.blocks[n]
	f.blocks = f.blocks[:n]
	final := n == 0

	if !f.dead {
		var x *local.Local
		if b.result != wa.Void {
			x = f.pop()
		}
		if !final {
			f.flushLocals()
		}
		if x != nil {
			held := f.setReturn(x)
			f.release(x)
			f.releaseReturn(b.result, held)
		}
	} else {
		f.truncate(b.depth)
		if len(b.label.Sites) > 0 || (b.isIf && !b.hasElse) || final {
			f.dead = false
		}
	}

	if final {
		f.finish(b)
		return
	}

	// The stack shrink emitted by BlockEnd precedes the labels: incoming
	// edges have already restored the entry stack pointer.
	f.mgr.BlockEnd()
	if b.isIf && !b.hasElse {
		f.mach.Label(&b.elseLabel)
	}
	if !b.loop {
		f.mach.Label(&b.label)
	}

	if !f.dead && b.result != wa.Void {
		rl := f.mgr.Desc().RetLoc(b.result)
		f.push(f.mgr.NewLocalFromReg(rl.Reg(), b.result))
	}
}

// finish closes the outermost scope: the return label is bound, locals die,
// and the frame is torn down.
func (f *fun) finish(b *block) {
	if len(f.stack) != 0 {
		pan.Panicf("operand stack is not empty at the end of the function")
	}

	for _, x := range f.locals {
		x.Unref()
		f.release(x)
	}

	f.mgr.BlockEnd()
	f.mach.Label(&b.label)
	f.mgr.AssertNoneAllocated()
	f.mach.Epilogue()
}

// branchOut implements br and return.
func (f *fun) branchOut(depth int) {
	target := f.blocks[len(f.blocks)-1-depth]

	var x *local.Local
	if !target.loop && target.result != wa.Void {
		x = f.pop()
	}
	if len(f.blocks) > 1 {
		f.flushLocals()
	}
	if x != nil {
		held := f.setReturn(x)
		f.release(x)
		f.mgr.BrDepth(depth + 1)
		f.mach.Branch(&target.label)
		f.releaseReturn(target.result, held)
	} else {
		f.mgr.BrDepth(depth + 1)
		f.mach.Branch(&target.label)
	}

	f.setDead()
}

func (f *fun) genBrIf(depth int) {
	target := f.blocks[len(f.blocks)-1-depth]
	cond := f.pop()

	var x *local.Local
	if !target.loop && target.result != wa.Void {
		x = f.stack[len(f.stack)-1] // Stays put for the fall-through path.
	}

	if len(f.blocks)-1-depth > 0 {
		f.flushLocals()
	}

	held := false
	if x != nil {
		held = f.setReturn(x)
	}

	if f.mgr.BlockStackOffset(depth+1) != f.mgr.StackOffset() {
		// The target expects its entry-time stack pointer; restore it on a
		// detour so that the fall-through path keeps the current frame.
		var skip link.L
		f.mach.BranchIf(cond, false, &skip)
		f.mgr.BrDepth(depth + 1)
		f.mach.Branch(&target.label)
		f.mach.Label(&skip)
	} else {
		f.mach.BranchIf(cond, true, &target.label)
	}

	if x != nil {
		f.releaseReturn(target.result, held)
	}
	f.release(cond)
}
