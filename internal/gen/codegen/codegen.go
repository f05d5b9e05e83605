// Copyright (c) 2024 Timo Savola. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package codegen drives a machine backend through a validated operator
// stream, translating one function in a single pass.  All value placement
// goes through the local allocator; the machine only emits instructions.
package codegen

import (
	"gate.computer/singlepass/internal/gen/condition"
	"gate.computer/singlepass/internal/gen/debug"
	"gate.computer/singlepass/internal/gen/link"
	"gate.computer/singlepass/internal/gen/local"
	"gate.computer/singlepass/internal/pan"
	"gate.computer/singlepass/object"
	"gate.computer/singlepass/ops"
	"gate.computer/singlepass/trap"
	"gate.computer/singlepass/wa"
)

// Machine is the per-function code generator of one architecture.
type Machine interface {
	M() *local.Manager
	Prologue(paramTypes, localTypes []wa.Type) []*local.Local
	Epilogue()

	Label(l *link.L)
	Branch(l *link.L)
	BranchIf(x *local.Local, when bool, l *link.L)

	Binop(code ops.Code, a, b *local.Local) *local.Local
	Unop(code ops.Code, x *local.Local) *local.Local
	Compare(cond condition.C, a, b *local.Local) *local.Local
	Select(cond, a, b *local.Local) *local.Local

	Load(op ops.Op, addr *local.Local) *local.Local
	Store(op ops.Op, addr, value *local.Local)
	GlobalGet(index uint32, t wa.Type) *local.Local
	GlobalSet(index uint32, x *local.Local)

	CallLocal(index uint32)
	CallImported(index uint32)

	Trap(id trap.ID)
	FlushTraps() []object.TrapSite
	Relocs() []object.Reloc
	CallSites() []object.CallSite
}

// ModuleMap describes the module-level indexes a function body refers to.
type ModuleMap struct {
	Types      []wa.FuncType // Distinct signatures.
	FuncTypes  []uint32      // Type index of each function, imports first.
	Globals    []wa.Type     // Global variable types.
	NumImports uint32
}

func (m *ModuleMap) FuncSig(index uint32) wa.FuncType {
	if int(index) >= len(m.FuncTypes) {
		pan.Panicf("function index %d out of range", index)
	}
	i := m.FuncTypes[index]
	if int(i) >= len(m.Types) {
		pan.Panicf("function %d has type index %d out of range", index, i)
	}
	return m.Types[i]
}

func (m *ModuleMap) GlobalType(index uint32) wa.Type {
	if int(index) >= len(m.Globals) {
		pan.Panicf("global index %d out of range", index)
	}
	return m.Globals[index]
}

// block is one structured control scope.  The function body itself is the
// outermost block; its label is the return target.
type block struct {
	label     link.L
	elseLabel link.L
	result    wa.Type
	depth     int // Operand stack length at entry.
	loop      bool
	isIf      bool
	hasElse   bool
}

type fun struct {
	mach Machine
	mgr  *local.Manager
	mod  *ModuleMap
	sig  wa.FuncType

	locals []*local.Local
	homes  []int32 // Dedicated frame slot of each local.
	stack  []*local.Local
	blocks []*block

	dead bool // No path reaches the current operator.
	skip int  // Structure nesting entered while dead.
}

// Compile translates a validated function body.  The machine accumulates the
// text and the relocation, call site and trap site records; the caller
// collects them afterwards.
func Compile(mach Machine, mod *ModuleMap, sig wa.FuncType, localTypes []wa.Type, body []ops.Op) {
	f := &fun{
		mach: mach,
		mgr:  mach.M(),
		mod:  mod,
		sig:  sig,
	}

	f.locals = mach.Prologue(sig.Params, localTypes)
	f.homes = f.mgr.ReserveSlots(len(f.locals))
	f.blocks = append(f.blocks, &block{result: sig.Result()})
	f.mgr.BlockBegin()

	for _, op := range body {
		if debug.Enabled {
			debug.Printf("operator %#04x dead=%t stack=%d", uint16(op.Code), f.dead, len(f.stack))
		}

		if f.dead {
			switch op.Code {
			case ops.Block, ops.Loop, ops.If:
				f.skip++
			case ops.Else:
				if f.skip == 0 {
					f.genElse()
				}
			case ops.End:
				if f.skip > 0 {
					f.skip--
				} else {
					f.genEnd()
				}
			}
			continue
		}

		f.genOp(op)
	}

	if len(f.blocks) != 0 {
		pan.Panicf("function body is not terminated")
	}
}

func (f *fun) push(x *local.Local) {
	x.Retain()
	f.stack = append(f.stack, x)
}

func (f *fun) pop() *local.Local {
	n := len(f.stack) - 1
	if n < 0 {
		pan.Panicf("operand stack underflow")
	}
	x := f.stack[n]
	f.stack = f.stack[:n]
	x.Unref()
	return x
}

// release frees a value's location unless it is still referenced.  Safe to
// call after any machine operation: stolen values have no location left.
func (f *fun) release(x *local.Local) {
	if x.Refs() < 1 {
		f.mgr.Release(x)
	}
}

func (f *fun) local(index uint32) *local.Local {
	if int(index) >= len(f.locals) {
		pan.Panicf("local index %d out of range", index)
	}
	return f.locals[index]
}

func (f *fun) genOp(op ops.Op) {
	switch op.Code {
	case ops.Nop:

	case ops.Unreachable:
		if len(f.blocks) > 1 {
			f.flushLocals()
		}
		f.mach.Trap(trap.Unreachable)
		f.setDead()

	case ops.Block:
		f.genBlock(op)
	case ops.Loop:
		f.genLoop(op)
	case ops.If:
		f.genIf(op)
	case ops.Else:
		f.genElse()
	case ops.End:
		f.genEnd()

	case ops.Br:
		f.branchOut(int(op.Depth))
	case ops.BrIf:
		f.genBrIf(int(op.Depth))
	case ops.Return:
		f.branchOut(len(f.blocks) - 1)

	case ops.Call:
		f.genCall(op)

	case ops.Drop:
		f.release(f.pop())

	case ops.Select:
		c := f.pop()
		b := f.pop()
		a := f.pop()
		f.push(f.mach.Select(c, a, b))
		f.release(a)
		f.release(b)
		f.release(c)

	case ops.LocalGet:
		f.push(f.local(op.Index))
	case ops.LocalSet:
		f.setLocal(op.Index, f.pop())
	case ops.LocalTee:
		f.setLocal(op.Index, f.pop())
		f.push(f.locals[op.Index])

	case ops.GlobalGet:
		f.push(f.mach.GlobalGet(op.Index, f.mod.GlobalType(op.Index)))
	case ops.GlobalSet:
		x := f.pop()
		f.mach.GlobalSet(op.Index, x)
		f.release(x)

	case ops.I32Load, ops.I64Load, ops.F32Load, ops.F64Load,
		ops.I32Load8S, ops.I32Load8U, ops.I32Load16S, ops.I32Load16U,
		ops.I64Load8S, ops.I64Load8U, ops.I64Load16S, ops.I64Load16U,
		ops.I64Load32S, ops.I64Load32U:
		a := f.pop()
		f.push(f.mach.Load(op, a))
		f.release(a)

	case ops.I32Store, ops.I64Store, ops.F32Store, ops.F64Store,
		ops.I32Store8, ops.I32Store16, ops.I64Store8, ops.I64Store16,
		ops.I64Store32:
		v := f.pop()
		a := f.pop()
		f.mach.Store(op, a, v)
		f.release(a)
		f.release(v)

	default:
		f.genExpr(op)
	}
}
