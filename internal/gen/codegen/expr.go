// Copyright (c) 2024 Timo Savola. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package codegen

import (
	"gate.computer/singlepass/internal/gen/condition"
	"gate.computer/singlepass/internal/gen/loc"
	"gate.computer/singlepass/internal/gen/local"
	"gate.computer/singlepass/internal/pan"
	"gate.computer/singlepass/ops"
	"gate.computer/singlepass/wa"
)

func (f *fun) genExpr(op ops.Op) {
	switch op.Code {
	case ops.I32Const:
		f.push(local.New(loc.MakeImm32(int32(op.Imm)), wa.I32))
	case ops.I64Const:
		f.push(local.New(loc.MakeImm(op.Imm), wa.I64))
	case ops.F32Const:
		f.push(local.New(loc.MakeImm32(int32(op.Imm)), wa.F32))
	case ops.F64Const:
		f.push(local.New(loc.MakeImm64(op.Imm), wa.F64))

	case ops.I32Eqz, ops.I64Eqz:
		x := f.pop()
		f.push(f.mach.Compare(condition.Eq, x, local.New(loc.MakeImm32(0), x.Type())))
		f.release(x)

	case ops.I32Eq, ops.I64Eq:
		f.compare(condition.Eq, false)
	case ops.I32Ne, ops.I64Ne:
		f.compare(condition.Ne, false)
	case ops.I32LtS, ops.I64LtS:
		f.compare(condition.LtS, false)
	case ops.I32LtU, ops.I64LtU:
		f.compare(condition.LtU, false)
	case ops.I32GtS, ops.I64GtS:
		f.compare(condition.GtS, false)
	case ops.I32GtU, ops.I64GtU:
		f.compare(condition.GtU, false)
	case ops.I32LeS, ops.I64LeS:
		f.compare(condition.LeS, false)
	case ops.I32LeU, ops.I64LeU:
		f.compare(condition.LeU, false)
	case ops.I32GeS, ops.I64GeS:
		f.compare(condition.GeS, false)
	case ops.I32GeU, ops.I64GeU:
		f.compare(condition.GeU, false)

	// Float conditions come in ordered-and and unordered-or forms only;
	// less-than comparisons are expressed as swapped greater-thans.
	case ops.F32Eq, ops.F64Eq:
		f.compare(condition.OrderedAndEq, false)
	case ops.F32Ne, ops.F64Ne:
		f.compare(condition.UnorderedOrNe, false)
	case ops.F32Lt, ops.F64Lt:
		f.compare(condition.OrderedAndGt, true)
	case ops.F32Gt, ops.F64Gt:
		f.compare(condition.OrderedAndGt, false)
	case ops.F32Le, ops.F64Le:
		f.compare(condition.OrderedAndGe, true)
	case ops.F32Ge, ops.F64Ge:
		f.compare(condition.OrderedAndGe, false)

	case ops.I32Add, ops.I64Add, ops.I32Sub, ops.I64Sub,
		ops.I32Mul, ops.I64Mul,
		ops.I32DivS, ops.I64DivS, ops.I32DivU, ops.I64DivU,
		ops.I32RemS, ops.I64RemS, ops.I32RemU, ops.I64RemU,
		ops.I32And, ops.I64And, ops.I32Or, ops.I64Or, ops.I32Xor, ops.I64Xor,
		ops.I32Shl, ops.I64Shl, ops.I32ShrS, ops.I64ShrS,
		ops.I32ShrU, ops.I64ShrU, ops.I32Rotl, ops.I64Rotl,
		ops.I32Rotr, ops.I64Rotr,
		ops.F32Add, ops.F64Add, ops.F32Sub, ops.F64Sub,
		ops.F32Mul, ops.F64Mul, ops.F32Div, ops.F64Div,
		ops.F32Min, ops.F64Min, ops.F32Max, ops.F64Max,
		ops.F32Copysign, ops.F64Copysign:
		b := f.pop()
		a := f.pop()
		if x, ok := fold(op.Code, a, b); ok {
			f.push(x)
		} else {
			f.push(f.mach.Binop(op.Code, a, b))
			f.release(a)
			f.release(b)
		}

	case ops.I32Clz, ops.I64Clz, ops.I32Ctz, ops.I64Ctz,
		ops.I32Popcnt, ops.I64Popcnt,
		ops.I32WrapI64, ops.I64ExtendI32S, ops.I64ExtendI32U,
		ops.F32ConvertI32S, ops.F32ConvertI32U,
		ops.F32ConvertI64S, ops.F32ConvertI64U,
		ops.F64ConvertI32S, ops.F64ConvertI32U,
		ops.F64ConvertI64S, ops.F64ConvertI64U,
		ops.F32DemoteF64, ops.F64PromoteF32,
		ops.I32ReinterpretF32, ops.I64ReinterpretF64,
		ops.F32ReinterpretI32, ops.F64ReinterpretI64,
		ops.F32Abs, ops.F64Abs, ops.F32Neg, ops.F64Neg,
		ops.F32Ceil, ops.F64Ceil, ops.F32Floor, ops.F64Floor,
		ops.F32Trunc, ops.F64Trunc, ops.F32Nearest, ops.F64Nearest,
		ops.F32Sqrt, ops.F64Sqrt:
		x := f.pop()
		f.push(f.mach.Unop(op.Code, x))
		f.release(x)

	default:
		pan.Panicf("unsupported operator %#04x", uint16(op.Code))
	}
}

func (f *fun) compare(cond condition.C, swap bool) {
	b := f.pop()
	a := f.pop()
	if swap {
		a, b = b, a
	}
	f.push(f.mach.Compare(cond, a, b))
	f.release(a)
	f.release(b)
}

// fold evaluates an integer operator with two constant operands at compile
// time, so that address and mask arithmetic on constants stays in immediate
// form.  Operators which can trap are never folded.
func fold(code ops.Code, a, b *local.Local) (*local.Local, bool) {
	if a.Loc().Kind() != loc.Imm || b.Loc().Kind() != loc.Imm || a.Cat() != wa.Int {
		return nil, false
	}

	va := a.Loc().Imm()
	vb := b.Loc().Imm()

	var v int64
	switch code {
	case ops.I32Add, ops.I64Add:
		v = va + vb
	case ops.I32Sub, ops.I64Sub:
		v = va - vb
	case ops.I32Mul, ops.I64Mul:
		v = va * vb
	case ops.I32And, ops.I64And:
		v = va & vb
	case ops.I32Or, ops.I64Or:
		v = va | vb
	case ops.I32Xor, ops.I64Xor:
		v = va ^ vb
	default:
		return nil, false
	}

	if a.Type() == wa.I32 {
		return local.New(loc.MakeImm32(int32(v)), wa.I32), true
	}
	return local.New(loc.MakeImm(v), wa.I64), true
}

// setLocal rebinds a local to a popped value.  Constants stay in immediate
// form; values with outstanding references are copied so that the earlier
// uses keep observing the old value.
func (f *fun) setLocal(index uint32, x *local.Local) {
	old := f.local(index)

	if x.Loc().Kind() == loc.Imm {
		x = local.New(x.Loc(), x.Type())
	} else if x.Refs() >= 1 {
		x = f.mgr.NormalizeLocal(x)
	}

	old.Unref()
	f.release(old)
	x.SetBaseRef()
	f.locals[index] = x
}

func (f *fun) genCall(op ops.Op) {
	sig := f.mod.FuncSig(op.Index)

	n := len(sig.Params)
	if len(f.stack)-f.blocks[len(f.blocks)-1].depth < n {
		pan.Panicf("too few operands for call to function %d", op.Index)
	}

	args := f.stack[len(f.stack)-n:]
	f.stack = f.stack[:len(f.stack)-n]
	for _, a := range args {
		a.Unref()
	}

	f.mgr.BeforeCall(args)
	if op.Index < f.mod.NumImports {
		f.mach.CallImported(op.Index)
	} else {
		f.mach.CallLocal(op.Index)
	}
	res := f.mgr.AfterCall(sig.Result())

	// Argument locations stay intact until the marshaled copies have been
	// consumed by the call.
	for _, a := range args {
		f.release(a)
	}
	if res != nil {
		f.push(res)
	}
}
