// Copyright (c) 2024 Timo Savola. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package amd64

import (
	"github.com/pkg/errors"

	"gate.computer/singlepass/internal/gen/condition"
	"gate.computer/singlepass/internal/gen/link"
	"gate.computer/singlepass/internal/gen/loc"
	"gate.computer/singlepass/internal/gen/local"
	"gate.computer/singlepass/internal/gen/reg"
	"gate.computer/singlepass/internal/isa/amd64/in"
	"gate.computer/singlepass/ops"
	"gate.computer/singlepass/trap"
	"gate.computer/singlepass/wa"
)

var conds = [condition.NumConditions]in.Cond{
	condition.Eq:  in.CondE,
	condition.Ne:  in.CondNE,
	condition.GeS: in.CondGE,
	condition.GtS: in.CondG,
	condition.GeU: in.CondAE,
	condition.GtU: in.CondA,
	condition.LeS: in.CondLE,
	condition.LtS: in.CondL,
	condition.LeU: in.CondBE,
	condition.LtU: in.CondB,

	// Float conditions assume UCOMIS flags; Eq and Ne are handled separately.
	condition.OrderedAndGe: in.CondAE,
	condition.OrderedAndGt: in.CondA,
	condition.UnorderedOrLe: in.CondBE,
	condition.UnorderedOrLt: in.CondB,
}

// Binop applies a two-operand arithmetic or logic operator.
func (mach *Machine) Binop(code ops.Code, a, b *local.Local) *local.Local {
	switch code {
	case ops.I32Add, ops.I64Add:
		return mach.alu(in.ADD, true, a, b)
	case ops.I32Sub, ops.I64Sub:
		return mach.alu(in.SUB, false, a, b)
	case ops.I32And, ops.I64And:
		return mach.alu(in.AND, true, a, b)
	case ops.I32Or, ops.I64Or:
		return mach.alu(in.OR, true, a, b)
	case ops.I32Xor, ops.I64Xor:
		return mach.alu(in.XOR, true, a, b)

	case ops.I32Mul, ops.I64Mul:
		return mach.mul(a, b)

	case ops.I32DivS, ops.I64DivS, ops.I32DivU, ops.I64DivU,
		ops.I32RemS, ops.I64RemS, ops.I32RemU, ops.I64RemU:
		return mach.divide(code, a, b)

	case ops.I32Shl, ops.I64Shl:
		return mach.shift(in.SHL, a, b)
	case ops.I32ShrS, ops.I64ShrS:
		return mach.shift(in.SAR, a, b)
	case ops.I32ShrU, ops.I64ShrU:
		return mach.shift(in.SHR, a, b)
	case ops.I32Rotl, ops.I64Rotl:
		return mach.shift(in.ROL, a, b)
	case ops.I32Rotr, ops.I64Rotr:
		return mach.shift(in.ROR, a, b)

	case ops.F32Add, ops.F64Add:
		return mach.floatArith(in.ADDSx, true, a, b)
	case ops.F32Sub, ops.F64Sub:
		return mach.floatArith(in.SUBSx, false, a, b)
	case ops.F32Mul, ops.F64Mul:
		return mach.floatArith(in.MULSx, true, a, b)
	case ops.F32Div, ops.F64Div:
		return mach.floatArith(in.DIVSx, false, a, b)

	case ops.F32Min, ops.F64Min:
		return mach.floatMinMax(true, a, b)
	case ops.F32Max, ops.F64Max:
		return mach.floatMinMax(false, a, b)

	case ops.F32Copysign, ops.F64Copysign:
		return mach.copysign(a, b)
	}

	panic(errors.Errorf("unsupported binary operator %#x", uint16(code)))
}

func (mach *Machine) alu(op in.ALU, commutative bool, a, b *local.Local) *local.Local {
	t := a.Type()
	text := &mach.text

	rule := &local.BinaryRule{
		Type:        t,
		Commutative: commutative,
		ImmWidth:    32,
		RegImm:      func(r reg.R, imm int64) { op.RegImm(text, t, r, imm) },
		RegReg:      func(rd, rs reg.R) { op.RegReg(text, t, rd, rs) },
		RegMem:      func(rd, base reg.R, disp int32) { op.RegMem(text, t, rd, base, disp) },
	}
	if op == in.ADD {
		rule.RegImmReg = func(src reg.R, imm int64, dst reg.R) {
			in.LEA.RegMemDisp(text, t, dst, src, int32(imm))
		}
	}

	return mach.mgr.Binary(rule, a, b)
}

func (mach *Machine) mul(a, b *local.Local) *local.Local {
	t := a.Type()
	text := &mach.text

	return mach.mgr.Binary(&local.BinaryRule{
		Type:        t,
		Commutative: true,
		ImmWidth:    32,
		RegImmReg:   func(src reg.R, imm int64, dst reg.R) { in.ImulImm(text, t, src, dst, int32(imm)) },
		RegReg:      func(rd, rs reg.R) { in.IMUL.RegReg(text, t, rd, rs) },
		RegMem:      func(rd, base reg.R, disp int32) { in.IMUL.RegMemDisp(text, t, rd, base, disp) },
	}, a, b)
}

func (mach *Machine) floatArith(op in.RMscalar, commutative bool, a, b *local.Local) *local.Local {
	t := a.Type()
	text := &mach.text

	return mach.mgr.Binary(&local.BinaryRule{
		Type:        t,
		Commutative: commutative,
		RegReg:      func(rd, rs reg.R) { op.RegReg(text, t, in.OneSize, rd, rs) },
		RegMem:      func(rd, base reg.R, disp int32) { op.RegMemDisp(text, t, rd, base, disp) },
	}, a, b)
}

// divide implements the division and remainder operators with the dividend
// forced into rax and rdx evicted for the high half.
func (mach *Machine) divide(code ops.Code, a, b *local.Local) *local.Local {
	t := a.Type()
	text := &mach.text

	var signed, rem bool
	switch code {
	case ops.I32DivS, ops.I64DivS:
		signed = true
	case ops.I32RemS, ops.I64RemS:
		signed, rem = true, true
	case ops.I32RemU, ops.I64RemU:
		rem = true
	}

	a = mach.mgr.RestoreLocal(a, loc.MakeReg(rax))
	mach.mgr.EvictReg(wa.Int, rdx)
	rb := mach.mgr.MoveToRegExcl(b, reg.MakeSet(rax, rdx))

	if signed {
		var div, done link.L

		// Divisor -1 would fault on the most negative dividend; quotient
		// becomes a negation, remainder becomes zero.
		in.CMP.RegImm(text, t, rb, -1)
		mach.branchIfStub(in.CondNE, &div)
		if rem {
			in.XOR.RegReg(text, wa.I32, rdx, rdx)
		} else {
			in.NEG.Reg(text, t, rax)
			mach.branchIfStub(in.CondO, mach.trapLink(trap.IntegerOverflow))
		}
		mach.branchStub(&done)

		mach.Label(&div)
		in.CDQ.Type(text, t)
		mach.recordFault(trap.IntegerDivideByZero)
		in.IDIV.Reg(text, t, rb)
		mach.Label(&done)
	} else {
		in.XOR.RegReg(text, wa.I32, rdx, rdx)
		mach.recordFault(trap.IntegerDivideByZero)
		in.DIV.Reg(text, t, rb)
	}

	r := mach.mgr.Steal(a)
	if rem {
		mach.mgr.FreeReg(wa.Int, r)
		return mach.mgr.NewLocalFromReg(rdx, t)
	}
	mach.mgr.FreeReg(wa.Int, rdx)
	return mach.mgr.NewLocalFromReg(r, t)
}

func (mach *Machine) shift(op in.ShiftOp, a, b *local.Local) *local.Local {
	t := a.Type()
	text := &mach.text

	mask := int64(31)
	if t.Size() == wa.Size64 {
		mask = 63
	}

	if b.Loc().Kind() == loc.Imm {
		res, rd := mach.own(a, t, 0)
		op.RegImm(text, t, rd, int8(b.Loc().Imm()&mask))
		return res
	}

	count := mach.mgr.RestoreLocal(b, loc.MakeReg(rcx))
	res, rd := mach.own(a, t, reg.MakeSet(rcx))
	op.RegCL(text, t, rd)

	if count != b {
		mach.mgr.Release(count)
	}
	return res
}

// floatMinMax implements the IEEE semantics on top of MINS/MAXS: NaN operands
// propagate, and equal operands (including opposite zeros) are merged with a
// bitwise operation so that the right zero sign wins.
func (mach *Machine) floatMinMax(isMin bool, a, b *local.Local) *local.Local {
	t := a.Type()
	text := &mach.text

	res, ra := mach.own(a, t, excl(b))
	rb := mach.mgr.MoveToReg(b, reg.MakeSet(ra))

	var op, nan, done link.L

	in.UCOMISx.RegReg(text, t, ra, rb)
	mach.branchIfStub(in.CondP, &nan)
	mach.branchIfStub(in.CondNE, &op)

	if isMin {
		in.ORPx.RegReg(text, t, ra, rb)
	} else {
		in.ANDPx.RegReg(text, t, ra, rb)
	}
	mach.branchStub(&done)

	mach.Label(&nan)
	in.ADDSx.RegReg(text, t, in.OneSize, ra, rb)
	mach.branchStub(&done)

	mach.Label(&op)
	if isMin {
		in.MINSx.RegReg(text, t, in.OneSize, ra, rb)
	} else {
		in.MAXSx.RegReg(text, t, in.OneSize, ra, rb)
	}
	mach.Label(&done)

	return res
}

// copysign combines the operands' bits in the integer bank: magnitude of a,
// sign of b.  Shifting in and out of the top bit avoids mask constants.
func (mach *Machine) copysign(a, b *local.Local) *local.Local {
	t := a.Type()
	it := intType(t)
	text := &mach.text

	ra := mach.mgr.MoveToReg(a, excl(b))
	rb := mach.mgr.MoveToReg(b, reg.MakeSet(ra))

	ia := mach.mgr.GetFreeReg(wa.Int, 0)
	ib := mach.mgr.GetFreeReg(wa.Int, reg.MakeSet(ia))

	mach.MoveFloatToInt(t, ra, ia)
	mach.MoveFloatToInt(t, rb, ib)

	topBit := int8(t.Size())*8 - 1
	in.SHL.RegImm(text, it, ia, 1)
	in.SHR.RegImm(text, it, ia, 1)
	in.SHR.RegImm(text, it, ib, topBit)
	in.SHL.RegImm(text, it, ib, topBit)
	in.OR.RegReg(text, it, ia, ib)

	var rd reg.R
	if a.Refs() < 1 {
		rd = mach.mgr.Steal(a)
	} else {
		rd = mach.mgr.GetFreeReg(wa.Float, reg.MakeSet(ra, rb))
	}
	mach.MoveIntToFloat(t, ia, rd)

	mach.mgr.FreeReg(wa.Int, ia)
	mach.mgr.FreeReg(wa.Int, ib)
	return mach.mgr.NewLocalFromReg(rd, t)
}

// Compare materializes a comparison as an i32 boolean.  The operands of the
// ordered float conditions have been arranged by the caller so that the
// greater-than direction suits the UCOMIS flag encoding.
func (mach *Machine) Compare(cond condition.C, a, b *local.Local) *local.Local {
	t := a.Type()
	text := &mach.text

	if t.Category() == wa.Float {
		return mach.mgr.Compare(&local.CompareRule{
			RegReg: func(ra, rb reg.R) { in.UCOMISx.RegReg(text, t, ra, rb) },
			Bool:   func(dst reg.R) { mach.floatBool(cond, dst) },
		}, a, b)
	}

	cc := conds[cond]
	return mach.mgr.Compare(&local.CompareRule{
		ImmWidth: 32,
		RegImm:   func(r reg.R, imm int64) { in.CMP.RegImm(text, t, r, imm) },
		RegReg:   func(ra, rb reg.R) { in.CMP.RegReg(text, t, ra, rb) },
		Bool: func(dst reg.R) {
			in.Setcc(text, cc, dst)
			in.MOVZX8.RegReg8(text, wa.I32, dst, dst)
		},
	}, a, b)
}

// floatBool materializes a float condition after a UCOMIS.  Equality must
// exclude the unordered case (PF set), and inequality must include it; the
// register is preset with a flag-preserving move and the setcc skipped on
// parity.  A setcc with forced REX is four bytes.
func (mach *Machine) floatBool(cond condition.C, dst reg.R) {
	text := &mach.text

	switch cond {
	case condition.OrderedAndEq:
		in.MovImm(text, wa.I32, dst, 0)
		in.Jcc8(text, in.CondP, 4)
		in.Setcc(text, in.CondE, dst)

	case condition.UnorderedOrNe:
		in.MovImm(text, wa.I32, dst, 1)
		in.Jcc8(text, in.CondP, 4)
		in.Setcc(text, in.CondNE, dst)

	default:
		in.Setcc(text, conds[cond], dst)
		in.MOVZX8.RegReg8(text, wa.I32, dst, dst)
	}
}

func intType(t wa.Type) wa.Type {
	if t.Size() == wa.Size64 {
		return wa.I64
	}
	return wa.I32
}
