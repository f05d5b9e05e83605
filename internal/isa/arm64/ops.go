// Copyright (c) 2024 Timo Savola. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package arm64

import (
	"github.com/pkg/errors"

	"gate.computer/singlepass/internal/code"
	"gate.computer/singlepass/internal/gen/condition"
	"gate.computer/singlepass/internal/gen/link"
	"gate.computer/singlepass/internal/gen/local"
	"gate.computer/singlepass/internal/gen/reg"
	"gate.computer/singlepass/internal/isa/arm64/in"
	"gate.computer/singlepass/ops"
	"gate.computer/singlepass/trap"
	"gate.computer/singlepass/wa"
)

// FCMP leaves unordered operands looking less-than (C and V set), so LT and
// LE match the unordered-or conditions and GT and GE the ordered-and ones.
var conds = [condition.NumConditions]in.Cond{
	condition.Eq:  in.EQ,
	condition.Ne:  in.NE,
	condition.GeS: in.GE,
	condition.GtS: in.GT,
	condition.GeU: in.HS,
	condition.GtU: in.HI,
	condition.LeS: in.LE,
	condition.LtS: in.LT,
	condition.LeU: in.LS,
	condition.LtU: in.LO,

	condition.OrderedAndEq:  in.EQ,
	condition.OrderedAndGe:  in.GE,
	condition.OrderedAndGt:  in.GT,
	condition.UnorderedOrNe: in.NE,
	condition.UnorderedOrLe: in.LE,
	condition.UnorderedOrLt: in.LT,
}

// Binop applies a two-operand arithmetic or logic operator.
func (mach *Machine) Binop(code ops.Code, a, b *local.Local) *local.Local {
	switch code {
	case ops.I32Add, ops.I64Add:
		return mach.addsub(in.ADDreg, in.AddImm, true, a, b)
	case ops.I32Sub, ops.I64Sub:
		return mach.addsub(in.SUBreg, in.SubImm, false, a, b)

	case ops.I32And, ops.I64And:
		return mach.logic(in.ANDreg, a, b)
	case ops.I32Or, ops.I64Or:
		return mach.logic(in.ORRreg, a, b)
	case ops.I32Xor, ops.I64Xor:
		return mach.logic(in.EORreg, a, b)

	case ops.I32Mul, ops.I64Mul:
		return mach.mul(a, b)

	case ops.I32DivS, ops.I64DivS, ops.I32DivU, ops.I64DivU,
		ops.I32RemS, ops.I64RemS, ops.I32RemU, ops.I64RemU:
		return mach.divide(code, a, b)

	case ops.I32Shl, ops.I64Shl:
		return mach.shift(in.LSLV, in.LslImm, a, b)
	case ops.I32ShrS, ops.I64ShrS:
		return mach.shift(in.ASRV, in.AsrImm, a, b)
	case ops.I32ShrU, ops.I64ShrU:
		return mach.shift(in.LSRV, in.LsrImm, a, b)
	case ops.I32Rotl, ops.I64Rotl:
		return mach.rotate(true, a, b)
	case ops.I32Rotr, ops.I64Rotr:
		return mach.rotate(false, a, b)

	case ops.F32Add, ops.F64Add:
		return mach.floatArith(in.FADD, true, a, b)
	case ops.F32Sub, ops.F64Sub:
		return mach.floatArith(in.FSUB, false, a, b)
	case ops.F32Mul, ops.F64Mul:
		return mach.floatArith(in.FMUL, true, a, b)
	case ops.F32Div, ops.F64Div:
		return mach.floatArith(in.FDIV, false, a, b)

	// FMIN and FMAX propagate NaNs and order the zero signs as required.
	case ops.F32Min, ops.F64Min:
		return mach.floatArith(in.FMIN, true, a, b)
	case ops.F32Max, ops.F64Max:
		return mach.floatArith(in.FMAX, true, a, b)

	case ops.F32Copysign, ops.F64Copysign:
		return mach.copysign(a, b)
	}

	panic(errors.Errorf("unsupported binary operator %#x", uint16(code)))
}

func (mach *Machine) addsub(op in.RRR, opImm func(*code.Buf, wa.Type, reg.R, reg.R, uint32), commutative bool, a, b *local.Local) *local.Local {
	t := a.Type()
	text := &mach.text

	return mach.mgr.Binary(&local.BinaryRule{
		Type:        t,
		Commutative: commutative,
		ImmWidth:    12,
		RegImmReg:   func(src reg.R, imm int64, dst reg.R) { opImm(text, t, dst, src, uint32(imm)) },
		RegRegReg:   func(src1, src2, dst reg.R) { op.RdRnRm(text, t, dst, src1, src2) },
	}, a, b)
}

// logic has no immediate form: the A64 bitmask-immediate encoding covers only
// some values, so constants are materialized instead.
func (mach *Machine) logic(op in.RRR, a, b *local.Local) *local.Local {
	t := a.Type()
	text := &mach.text

	return mach.mgr.Binary(&local.BinaryRule{
		Type:        t,
		Commutative: true,
		RegRegReg:   func(src1, src2, dst reg.R) { op.RdRnRm(text, t, dst, src1, src2) },
	}, a, b)
}

func (mach *Machine) mul(a, b *local.Local) *local.Local {
	t := a.Type()
	text := &mach.text

	return mach.mgr.Binary(&local.BinaryRule{
		Type:        t,
		Commutative: true,
		RegRegReg: func(src1, src2, dst reg.R) {
			in.Madd(text, t, dst, src1, src2, in.RegZero)
		},
	}, a, b)
}

// divide checks the divisor explicitly: there is no hardware divide-by-zero
// fault.  Signed division of the most negative value by -1 is detected by
// negating the dividend (NEGS overflows exactly then); the signed remainder
// of that pair needs no check because SDIV and MSUB produce the correct zero.
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

	// All registers are settled before any branch.
	res, ra := mach.own(a, t, excl(b))
	rb := mach.mgr.MoveToReg(b, reg.MakeSet(ra))
	q := ra
	if rem {
		q = mach.mgr.GetFreeReg(wa.Int, reg.MakeSet(ra, rb))
	}

	mach.branchZeroStub(t, rb, false, mach.trapLink(trap.IntegerDivideByZero))

	if signed {
		if rem {
			in.SDIV.RdRnRm(text, t, q, ra, rb)
			in.Msub(text, t, ra, q, rb, ra)
		} else {
			var ok link.L
			in.CmnImm(text, t, rb, 1)
			mach.branchIfStub(in.NE, &ok)
			in.Negs(text, t, ra)
			mach.branchIfStub(in.VS, mach.trapLink(trap.IntegerOverflow))
			mach.Label(&ok)
			in.SDIV.RdRnRm(text, t, ra, ra, rb)
		}
	} else {
		if rem {
			in.UDIV.RdRnRm(text, t, q, ra, rb)
			in.Msub(text, t, ra, q, rb, ra)
		} else {
			in.UDIV.RdRnRm(text, t, ra, ra, rb)
		}
	}

	if rem {
		mach.mgr.FreeReg(wa.Int, q)
	}
	return res
}

// shift relies on the variable forms masking the count by the operand width.
func (mach *Machine) shift(op in.RRR, opImm func(*code.Buf, wa.Type, reg.R, reg.R, uint32), a, b *local.Local) *local.Local {
	t := a.Type()
	text := &mach.text
	bits := uint32(t.Size())*8 - 1

	return mach.mgr.Binary(&local.BinaryRule{
		Type:      t,
		ImmWidth:  32,
		RegImmReg: func(src reg.R, imm int64, dst reg.R) { opImm(text, t, dst, src, uint32(imm)&bits) },
		RegRegReg: func(src1, src2, dst reg.R) { op.RdRnRm(text, t, dst, src1, src2) },
	}, a, b)
}

// rotate: there is no left-rotate instruction, so the count is reversed.
// Variable left rotation negates the count into the assembler scratch.
func (mach *Machine) rotate(left bool, a, b *local.Local) *local.Local {
	t := a.Type()
	text := &mach.text
	bits := uint32(t.Size())*8 - 1

	return mach.mgr.Binary(&local.BinaryRule{
		Type:     t,
		ImmWidth: 32,
		RegImmReg: func(src reg.R, imm int64, dst reg.R) {
			count := uint32(imm) & bits
			if left {
				count = (bits + 1 - count) & bits
			}
			in.Extr(text, t, dst, src, src, count)
		},
		RegRegReg: func(src1, src2, dst reg.R) {
			if left {
				in.Neg(text, t, regScratch2, src2)
				in.RORV.RdRnRm(text, t, dst, src1, regScratch2)
			} else {
				in.RORV.RdRnRm(text, t, dst, src1, src2)
			}
		},
	}, a, b)
}

func (mach *Machine) floatArith(op in.FRRR, commutative bool, a, b *local.Local) *local.Local {
	t := a.Type()
	text := &mach.text

	return mach.mgr.Binary(&local.BinaryRule{
		Type:        t,
		Commutative: commutative,
		RegRegReg:   func(src1, src2, dst reg.R) { op.RdRnRm(text, t, dst, src1, src2) },
	}, a, b)
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

	topBit := uint32(t.Size())*8 - 1
	in.LslImm(text, it, ia, ia, 1)
	in.LsrImm(text, it, ia, ia, 1)
	in.LsrImm(text, it, ib, ib, topBit)
	in.LslImm(text, it, ib, ib, topBit)
	in.ORRreg.RdRnRm(text, it, ia, ia, ib)

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

// Compare materializes a comparison as an i32 boolean.
func (mach *Machine) Compare(cond condition.C, a, b *local.Local) *local.Local {
	t := a.Type()
	text := &mach.text
	cc := conds[cond]

	if t.Category() == wa.Float {
		return mach.mgr.Compare(&local.CompareRule{
			RegReg: func(ra, rb reg.R) { in.Fcmp(text, t, ra, rb) },
			Bool:   func(dst reg.R) { in.Cset(text, dst, cc) },
		}, a, b)
	}

	return mach.mgr.Compare(&local.CompareRule{
		ImmWidth: 12,
		RegImm:   func(r reg.R, imm int64) { in.CmpImm(text, t, r, uint32(imm)) },
		RegReg:   func(ra, rb reg.R) { in.Cmp(text, t, ra, rb) },
		Bool:     func(dst reg.R) { in.Cset(text, dst, cc) },
	}, a, b)
}
