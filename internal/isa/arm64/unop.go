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
	"gate.computer/singlepass/wa"
)

// Unop applies a one-operand operator or conversion.
func (mach *Machine) Unop(code ops.Code, x *local.Local) *local.Local {
	t := x.Type()
	text := &mach.text

	switch code {
	case ops.I32Clz, ops.I64Clz:
		return mach.mgr.Unary(&local.UnaryRule{
			Type:    t,
			InPlace: true,
			RegReg:  func(src, dst reg.R) { in.CLZ.RdRn(text, t, dst, src) },
		}, x)

	case ops.I32Ctz, ops.I64Ctz:
		// Count leading zeros of the reversed bits.
		return mach.mgr.Unary(&local.UnaryRule{
			Type:    t,
			InPlace: true,
			RegReg: func(src, dst reg.R) {
				in.RBIT.RdRn(text, t, dst, src)
				in.CLZ.RdRn(text, t, dst, dst)
			},
		}, x)

	case ops.I32Popcnt, ops.I64Popcnt:
		return mach.popcnt(x)

	case ops.I32WrapI64, ops.I64ExtendI32U:
		// The 32-bit move clears the high half.
		return mach.mgr.Unary(&local.UnaryRule{
			Type:    resultIntType(code),
			InPlace: true,
			RegReg:  func(src, dst reg.R) { in.MovReg(text, wa.I32, dst, src) },
		}, x)

	case ops.I64ExtendI32S:
		return mach.mgr.Unary(&local.UnaryRule{
			Type:    wa.I64,
			InPlace: true,
			RegReg:  func(src, dst reg.R) { in.Sxtw(text, dst, src) },
		}, x)

	case ops.I32ReinterpretF32, ops.I64ReinterpretF64:
		return mach.mgr.Unary(&local.UnaryRule{
			Type:   intType(t),
			RegReg: func(src, dst reg.R) { mach.MoveFloatToInt(t, src, dst) },
		}, x)

	case ops.F32ReinterpretI32:
		return mach.mgr.Unary(&local.UnaryRule{
			Type:   wa.F32,
			RegReg: func(src, dst reg.R) { mach.MoveIntToFloat(wa.F32, src, dst) },
		}, x)

	case ops.F64ReinterpretI64:
		return mach.mgr.Unary(&local.UnaryRule{
			Type:   wa.F64,
			RegReg: func(src, dst reg.R) { mach.MoveIntToFloat(wa.F64, src, dst) },
		}, x)

	case ops.F32DemoteF64:
		return mach.mgr.Unary(&local.UnaryRule{
			Type:    wa.F32,
			InPlace: true,
			RegReg:  func(src, dst reg.R) { in.Fcvt(text, wa.F64, dst, src) },
		}, x)

	case ops.F64PromoteF32:
		return mach.mgr.Unary(&local.UnaryRule{
			Type:    wa.F64,
			InPlace: true,
			RegReg:  func(src, dst reg.R) { in.Fcvt(text, wa.F32, dst, src) },
		}, x)

	case ops.F32ConvertI32S, ops.F64ConvertI32S:
		return mach.convert(resultType(code), wa.I32, true, x)
	case ops.F32ConvertI64S, ops.F64ConvertI64S:
		return mach.convert(resultType(code), wa.I64, true, x)
	case ops.F32ConvertI32U, ops.F64ConvertI32U:
		return mach.convert(resultType(code), wa.I32, false, x)
	case ops.F32ConvertI64U, ops.F64ConvertI64U:
		return mach.convert(resultType(code), wa.I64, false, x)

	case ops.F32Sqrt, ops.F64Sqrt:
		return mach.floatUnary(in.FSQRT, x)
	case ops.F32Ceil, ops.F64Ceil:
		return mach.floatUnary(in.FRINTP, x)
	case ops.F32Floor, ops.F64Floor:
		return mach.floatUnary(in.FRINTM, x)
	case ops.F32Trunc, ops.F64Trunc:
		return mach.floatUnary(in.FRINTZ, x)
	case ops.F32Nearest, ops.F64Nearest:
		return mach.floatUnary(in.FRINTN, x)
	case ops.F32Neg, ops.F64Neg:
		return mach.floatUnary(in.FNEG, x)
	case ops.F32Abs, ops.F64Abs:
		return mach.floatUnary(in.FABS, x)
	}

	panic(errors.Errorf("unsupported unary operator %#x", uint16(code)))
}

func resultType(code ops.Code) wa.Type {
	if code >= ops.F64ConvertI32S {
		return wa.F64
	}
	return wa.F32
}

func resultIntType(code ops.Code) wa.Type {
	if code == ops.I32WrapI64 {
		return wa.I32
	}
	return wa.I64
}

func (mach *Machine) floatUnary(op in.FRR, x *local.Local) *local.Local {
	t := x.Type()
	text := &mach.text

	return mach.mgr.Unary(&local.UnaryRule{
		Type:    t,
		InPlace: true,
		RegReg:  func(src, dst reg.R) { op.RdRn(text, t, dst, src) },
	}, x)
}

func (mach *Machine) convert(ft, it wa.Type, signed bool, x *local.Local) *local.Local {
	text := &mach.text

	return mach.mgr.Unary(&local.UnaryRule{
		Type: ft,
		RegReg: func(src, dst reg.R) {
			if signed {
				in.Scvtf(text, ft, it, dst, src)
			} else {
				in.Ucvtf(text, ft, it, dst, src)
			}
		},
	}, x)
}

// popcnt counts through the vector unit: the byte population counts of the
// value are summed across the low lanes.  The 32-bit transfer in clears the
// upper lanes, so the sum is exact for both widths.
func (mach *Machine) popcnt(x *local.Local) *local.Local {
	t := x.Type()
	text := &mach.text

	rx := mach.mgr.MoveToReg(x, 0)
	f := mach.mgr.GetFreeReg(wa.Float, 0)

	in.FmovFromGen(text, t, f, rx)
	in.CntBytes(text, f, f)
	in.AddvBytes(text, f, f)

	var rd reg.R
	if x.Refs() < 1 {
		rd = mach.mgr.Steal(x)
	} else {
		rd = mach.mgr.GetFreeReg(wa.Int, reg.MakeSet(rx))
	}
	in.FmovToGen(text, wa.I32, rd, f)

	mach.mgr.FreeReg(wa.Float, f)
	return mach.mgr.NewLocalFromReg(rd, t)
}
