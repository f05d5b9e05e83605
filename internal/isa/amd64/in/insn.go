// Copyright (c) 2024 Timo Savola. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package in

import (
	"gate.computer/singlepass/internal/code"
	"gate.computer/singlepass/internal/gen/reg"
	"gate.computer/singlepass/wa"
)

// Integer instructions.
const (
	MOV   = RM(0x8b) // reg <- r/m
	MOVmr = RM(0x89) // r/m <- reg
	LEA   = RM(0x8d)

	MOVZX8  = RM2(0x0fb6)
	MOVZX16 = RM2(0x0fb7)
	MOVSX8  = RM2(0x0fbe)
	MOVSX16 = RM2(0x0fbf)
	MOVSXD  = RM(0x63) // reg64 <- r/m32, sign-extended

	ADD = ALU(0)
	OR  = ALU(1)
	ADC = ALU(2)
	AND = ALU(4)
	SUB = ALU(5)
	XOR = ALU(6)
	CMP = ALU(7)

	STORE8 = RM8(0x88)

	TEST = RM(0x85) // Order of register operands is irrelevant.
	IMUL = RM2(0x0faf)

	NOT  = M(0xf7 | 2<<8)
	NEG  = M(0xf7 | 3<<8)
	DIV  = M(0xf7 | 6<<8)
	IDIV = M(0xf7 | 7<<8)

	ROL = ShiftOp(0)
	ROR = ShiftOp(1)
	SHL = ShiftOp(4)
	SHR = ShiftOp(5)
	SAR = ShiftOp(7)

	POPCNT = RMpre(0xf3<<16 | 0x0fb8)
	LZCNT  = RMpre(0xf3<<16 | 0x0fbd)
	TZCNT  = RMpre(0xf3<<16 | 0x0fbc)
	BSR    = RM2(0x0fbd)
	BSF    = RM2(0x0fbc)

	CDQ = NP(0x99) // CQO with REX.W.
	RET = NP(0xc3)
	UD2 = NP2(0x0f0b)

	PUSH  = O(0x50)
	POP   = O(0x58)
	PUSHm = M(0xff | 6<<8)
	POPm  = M(0x8f | 0<<8)

	CALL = M(0xff | 2<<8)
)

// Scalar SSE instructions.  The F3/F2 prefix comes from the float type.
const (
	MOVSx   = RMscalar(0x10) // xmm <- r/m
	MOVSxmr = RMscalar(0x11) // r/m <- xmm

	ADDSx  = RMscalar(0x58)
	MULSx  = RMscalar(0x59)
	CVTS2S = RMscalar(0x5a) // cvtss2sd/cvtsd2ss; prefix from the source type
	SUBSx  = RMscalar(0x5c)
	MINSx  = RMscalar(0x5d)
	DIVSx  = RMscalar(0x5e)
	MAXSx  = RMscalar(0x5f)
	SQRTSx = RMscalar(0x51)

	CVTSI2Sx = RMscalar(0x2a) // prefix from the float type, REX.W from the int type

	UCOMISx = RMpacked(0x2e)
	ANDPx   = RMpacked(0x54)
	ORPx    = RMpacked(0x56)
	XORPx   = RMpacked(0x57)

	MOVDq   = RMpre(0x66<<16 | 0x0f6e) // xmm <- r/m (integer); MOVQ with REX.W
	MOVDqmr = RMpre(0x66<<16 | 0x0f7e) // r/m <- xmm
)

// ImulImm: three-operand multiply with an immediate.
func ImulImm(text *code.Buf, t wa.Type, src, dst reg.R, value int32) {
	var o output
	o.rexIf(typeRexW(t) | regRexR(dst) | regRexB(src))
	if value == int32(int8(value)) {
		o.byte(0x6b)
		o.mod(ModReg, regRO(dst), regRM(src))
		o.int8(int8(value))
	} else {
		o.byte(0x69)
		o.mod(ModReg, regRO(dst), regRM(src))
		o.int32(value)
	}
	o.copy(text.Extend(o.len()))
}

// Btc complements one bit of a register.
func Btc(text *code.Buf, t wa.Type, r reg.R, bit uint8) {
	btx(text, t, r, bit, 7)
}

// Btr resets one bit of a register.
func Btr(text *code.Buf, t wa.Type, r reg.R, bit uint8) {
	btx(text, t, r, bit, 6)
}

func btx(text *code.Buf, t wa.Type, r reg.R, bit uint8, digit byte) {
	var o output
	o.rexIf(typeRexW(t) | regRexB(r))
	o.word(0x0fba)
	o.mod(ModReg, ModRO(digit<<3), regRM(r))
	o.int8(int8(bit))
	o.copy(text.Extend(o.len()))
}

// RoundMode of the ROUNDSS/ROUNDSD immediate.
type RoundMode int8

const (
	RoundNearest = RoundMode(0x0)
	RoundDown    = RoundMode(0x1)
	RoundUp      = RoundMode(0x2)
	RoundZero    = RoundMode(0x3)
)

// RoundSx: SSE4.1 scalar rounding.  The 0x08 immediate bit suppresses the
// precision exception.
func RoundSx(text *code.Buf, t wa.Type, src, dst reg.R, mode RoundMode) {
	var o output
	o.byte(0x66)
	o.rexIf(regRexR(dst) | regRexB(src))
	o.word(0x0f3a)
	o.byteIf(0x0a, t.Size() == wa.Size32)
	o.byteIf(0x0b, t.Size() == wa.Size64)
	o.mod(ModReg, regRO(dst), regRM(src))
	o.int8(int8(mode) | 0x08)
	o.copy(text.Extend(o.len()))
}
