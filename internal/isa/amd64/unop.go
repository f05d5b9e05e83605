// Copyright (c) 2024 Timo Savola. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package amd64

import (
	"github.com/pkg/errors"

	"gate.computer/singlepass/internal/code"
	"gate.computer/singlepass/internal/gen/link"
	"gate.computer/singlepass/internal/gen/local"
	"gate.computer/singlepass/internal/gen/reg"
	"gate.computer/singlepass/internal/isa/amd64/in"
	"gate.computer/singlepass/ops"
	"gate.computer/singlepass/wa"
)

// Unop applies a one-operand operator or conversion.
func (mach *Machine) Unop(code ops.Code, x *local.Local) *local.Local {
	t := x.Type()
	text := &mach.text

	switch code {
	case ops.I32Clz, ops.I64Clz, ops.I32Ctz, ops.I64Ctz, ops.I32Popcnt, ops.I64Popcnt:
		return mach.bitcount(code, x)

	case ops.I32WrapI64:
		return mach.mgr.Unary(&local.UnaryRule{
			Type:    wa.I32,
			InPlace: true,
			RegReg:  func(src, dst reg.R) { in.MOV.RegReg(text, wa.I32, dst, src) },
		}, x)

	case ops.I64ExtendI32S:
		return mach.mgr.Unary(&local.UnaryRule{
			Type:    wa.I64,
			InPlace: true,
			RegReg:  func(src, dst reg.R) { in.MOVSXD.RegReg(text, wa.I64, dst, src) },
		}, x)

	case ops.I64ExtendI32U:
		// The 32-bit move clears the high half.
		return mach.mgr.Unary(&local.UnaryRule{
			Type:    wa.I64,
			InPlace: true,
			RegReg:  func(src, dst reg.R) { in.MOV.RegReg(text, wa.I32, dst, src) },
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
			RegReg:  func(src, dst reg.R) { in.CVTS2S.RegReg(text, wa.F64, in.OneSize, dst, src) },
		}, x)

	case ops.F64PromoteF32:
		return mach.mgr.Unary(&local.UnaryRule{
			Type:    wa.F64,
			InPlace: true,
			RegReg:  func(src, dst reg.R) { in.CVTS2S.RegReg(text, wa.F32, in.OneSize, dst, src) },
		}, x)

	case ops.F32ConvertI32S, ops.F64ConvertI32S:
		return mach.convertSigned(resultType(code), wa.I32, x)
	case ops.F32ConvertI64S, ops.F64ConvertI64S:
		return mach.convertSigned(resultType(code), wa.I64, x)

	case ops.F32ConvertI32U, ops.F64ConvertI32U:
		return mach.convertUnsigned32(resultType(code), x)
	case ops.F32ConvertI64U, ops.F64ConvertI64U:
		return mach.convertUnsigned64(resultType(code), x)

	case ops.F32Sqrt, ops.F64Sqrt:
		return mach.mgr.Unary(&local.UnaryRule{
			Type:    t,
			InPlace: true,
			RegReg:  func(src, dst reg.R) { in.SQRTSx.RegReg(text, t, in.OneSize, dst, src) },
		}, x)

	case ops.F32Ceil, ops.F64Ceil:
		return mach.round(t, in.RoundUp, x)
	case ops.F32Floor, ops.F64Floor:
		return mach.round(t, in.RoundDown, x)
	case ops.F32Trunc, ops.F64Trunc:
		return mach.round(t, in.RoundZero, x)
	case ops.F32Nearest, ops.F64Nearest:
		return mach.round(t, in.RoundNearest, x)

	case ops.F32Neg, ops.F64Neg:
		return mach.signBit(x, in.Btc)
	case ops.F32Abs, ops.F64Abs:
		return mach.signBit(x, in.Btr)
	}

	panic(errors.Errorf("unsupported unary operator %#x", uint16(code)))
}

func resultType(code ops.Code) wa.Type {
	if code >= ops.F64ConvertI32S {
		return wa.F64
	}
	return wa.F32
}

func (mach *Machine) round(t wa.Type, mode in.RoundMode, x *local.Local) *local.Local {
	text := &mach.text
	return mach.mgr.Unary(&local.UnaryRule{
		Type:    t,
		InPlace: true,
		RegReg:  func(src, dst reg.R) { in.RoundSx(text, t, src, dst, mode) },
	}, x)
}

// signBit flips or clears the sign through the integer bank, avoiding mask
// constants.
func (mach *Machine) signBit(x *local.Local, op func(*code.Buf, wa.Type, reg.R, uint8)) *local.Local {
	t := x.Type()
	it := intType(t)

	rx := mach.mgr.MoveToReg(x, 0)
	ia := mach.mgr.GetFreeReg(wa.Int, 0)

	mach.MoveFloatToInt(t, rx, ia)
	op(&mach.text, it, ia, uint8(t.Size())*8-1)

	var rd reg.R
	if x.Refs() < 1 {
		rd = mach.mgr.Steal(x)
	} else {
		rd = mach.mgr.GetFreeReg(wa.Float, reg.MakeSet(rx))
	}
	mach.MoveIntToFloat(t, ia, rd)

	mach.mgr.FreeReg(wa.Int, ia)
	return mach.mgr.NewLocalFromReg(rd, t)
}

func (mach *Machine) convertSigned(ft, it wa.Type, x *local.Local) *local.Local {
	text := &mach.text
	return mach.mgr.Unary(&local.UnaryRule{
		Type:   ft,
		RegReg: func(src, dst reg.R) { in.CVTSI2Sx.RegReg(text, ft, it, dst, src) },
	}, x)
}

// convertUnsigned32 zero-extends into 64 bits, where the signed conversion is
// exact for any 32-bit unsigned value.
func (mach *Machine) convertUnsigned32(ft wa.Type, x *local.Local) *local.Local {
	text := &mach.text

	tmp, ri := mach.own(x, wa.I64, 0)
	in.MOV.RegReg(text, wa.I32, ri, ri)

	rd := mach.mgr.GetFreeReg(wa.Float, 0)
	in.CVTSI2Sx.RegReg(text, ft, wa.I64, rd, ri)

	mach.mgr.Release(tmp)
	return mach.mgr.NewLocalFromReg(rd, ft)
}

// convertUnsigned64 branches on the sign: non-negative values convert
// directly, others are halved with the low bit folded in, converted, and
// doubled.  All registers are allocated before the branch so both paths leave
// the allocator in the same state.
func (mach *Machine) convertUnsigned64(ft wa.Type, x *local.Local) *local.Local {
	text := &mach.text

	tmp, ri := mach.own(x, wa.I64, 0)
	s := mach.mgr.GetFreeReg(wa.Int, reg.MakeSet(ri))
	rd := mach.mgr.GetFreeReg(wa.Float, 0)

	var negative, done link.L

	in.TEST.RegReg(text, wa.I64, ri, ri)
	mach.branchIfStub(in.CondS, &negative)

	in.CVTSI2Sx.RegReg(text, ft, wa.I64, rd, ri)
	mach.branchStub(&done)

	mach.Label(&negative)
	in.MOV.RegReg(text, wa.I64, s, ri)
	in.AND.RegImm(text, wa.I64, s, 1)
	in.SHR.RegImm(text, wa.I64, ri, 1)
	in.OR.RegReg(text, wa.I64, ri, s)
	in.CVTSI2Sx.RegReg(text, ft, wa.I64, rd, ri)
	in.ADDSx.RegReg(text, ft, in.OneSize, rd, rd)
	mach.Label(&done)

	mach.mgr.FreeReg(wa.Int, s)
	mach.mgr.Release(tmp)
	return mach.mgr.NewLocalFromReg(rd, ft)
}

// bitcount implements clz, ctz and popcnt, preferring the dedicated
// instructions when the target supports them.
func (mach *Machine) bitcount(code ops.Code, x *local.Local) *local.Local {
	t := x.Type()
	text := &mach.text
	size := int64(t.Size()) * 8

	rx := mach.mgr.MoveToReg(x, 0)

	var rd reg.R
	if x.Refs() < 1 {
		rd = mach.mgr.Steal(x)
	} else {
		rd = mach.mgr.GetFreeReg(wa.Int, reg.MakeSet(rx))
	}

	switch code {
	case ops.I32Clz, ops.I64Clz:
		if mach.feat.LzCnt {
			in.LZCNT.RegReg(text, t, rd, rx)
			break
		}
		var zero, done link.L
		in.BSR.RegReg(text, t, rd, rx)
		mach.branchIfStub(in.CondE, &zero)
		in.XOR.RegImm(text, t, rd, size-1)
		mach.branchStub(&done)
		mach.Label(&zero)
		in.MovImm(text, wa.I32, rd, size)
		mach.Label(&done)

	case ops.I32Ctz, ops.I64Ctz:
		if mach.feat.TzCnt {
			in.TZCNT.RegReg(text, t, rd, rx)
			break
		}
		var done link.L
		in.BSF.RegReg(text, t, rd, rx)
		mach.branchIfStub(in.CondNE, &done)
		in.MovImm(text, wa.I32, rd, size)
		mach.Label(&done)

	case ops.I32Popcnt, ops.I64Popcnt:
		if mach.feat.PopCnt {
			in.POPCNT.RegReg(text, t, rd, rx)
			break
		}
		// Shift-and-carry loop; the final one bit is added by the carry of
		// the shift which clears the working register.
		s := mach.mgr.GetFreeReg(wa.Int, reg.MakeSet(rx, rd))
		var loop, done link.L
		in.MOV.RegReg(text, t, s, rx)
		in.XOR.RegReg(text, wa.I32, rd, rd)
		in.TEST.RegReg(text, t, s, s)
		mach.branchIfStub(in.CondE, &done)
		mach.Label(&loop)
		in.SHR.RegImm(text, t, s, 1)
		in.ADC.RegImm(text, t, rd, 0)
		in.TEST.RegReg(text, t, s, s)
		mach.branchIfStub(in.CondNE, &loop)
		mach.Label(&done)
		mach.mgr.FreeReg(wa.Int, s)
	}

	return mach.mgr.NewLocalFromReg(rd, t)
}
