// Copyright (c) 2024 Timo Savola. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package in encodes AArch64 instructions.
package in

import (
	"gate.computer/singlepass/internal/code"
	"gate.computer/singlepass/internal/gen/reg"
	"gate.computer/singlepass/wa"
)

// Cond is an A64 condition code.
type Cond uint32

const (
	EQ = Cond(0)
	NE = Cond(1)
	HS = Cond(2)
	LO = Cond(3)
	MI = Cond(4)
	PL = Cond(5)
	VS = Cond(6)
	VC = Cond(7)
	HI = Cond(8)
	LS = Cond(9)
	GE = Cond(10)
	LT = Cond(11)
	GT = Cond(12)
	LE = Cond(13)
)

// Inverted condition (LSB flip works for all codes below AL).
func (c Cond) Inverted() Cond { return c ^ 1 }

// RegZero reads as zero and discards writes in most contexts; the same
// encoding means the stack pointer in address arithmetic.
const RegZero = reg.R(31)

func sf(t wa.Type) uint32 { return uint32(t&8) << 28 } // Bit 31 set for 64-bit.

func fsz(t wa.Type) uint32 { return uint32(t&8) << 19 } // Bit 22 set for double.

func rd(r reg.R) uint32 { return uint32(r) }
func rn(r reg.R) uint32 { return uint32(r) << 5 }
func rm(r reg.R) uint32 { return uint32(r) << 16 }
func ra(r reg.R) uint32 { return uint32(r) << 10 }

// RRR: integer three-register operation with an sf bit.
type RRR uint32

const (
	ADDreg  = RRR(0x0b000000)
	ADDSreg = RRR(0x2b000000)
	SUBreg  = RRR(0x4b000000)
	SUBSreg = RRR(0x6b000000)

	ANDreg  = RRR(0x0a000000)
	ORRreg  = RRR(0x2a000000)
	EORreg  = RRR(0x4a000000)
	ANDSreg = RRR(0x6a000000)

	UDIV = RRR(0x1ac00800)
	SDIV = RRR(0x1ac00c00)
	LSLV = RRR(0x1ac02000)
	LSRV = RRR(0x1ac02400)
	ASRV = RRR(0x1ac02800)
	RORV = RRR(0x1ac02c00)
)

func (op RRR) RdRnRm(text *code.Buf, t wa.Type, d, n, m reg.R) {
	text.PutUint32(uint32(op) | sf(t) | rm(m) | rn(n) | rd(d))
}

// MovReg: register move via ORR with the zero register.  The 32-bit form
// clears the high half.
func MovReg(text *code.Buf, t wa.Type, d, m reg.R) {
	ORRreg.RdRnRm(text, t, d, RegZero, m)
}

// Cmp compares two registers (SUBS discarding the result).
func Cmp(text *code.Buf, t wa.Type, n, m reg.R) {
	SUBSreg.RdRnRm(text, t, RegZero, n, m)
}

// Tst tests a register against itself (ANDS discarding the result).
func Tst(text *code.Buf, t wa.Type, n reg.R) {
	ANDSreg.RdRnRm(text, t, RegZero, n, n)
}

// Negs subtracts from zero, discarding the result but keeping the flags.  The
// overflow flag is set exactly when the operand is the most negative value.
func Negs(text *code.Buf, t wa.Type, m reg.R) {
	text.PutUint32(uint32(SUBSreg) | sf(t) | rm(m) | rn(RegZero) | rd(RegZero))
}

// Neg negates into a register.
func Neg(text *code.Buf, t wa.Type, d, m reg.R) {
	SUBreg.RdRnRm(text, t, d, RegZero, m)
}

// Madd: d = n*m + a.
func Madd(text *code.Buf, t wa.Type, d, n, m, acc reg.R) {
	text.PutUint32(0x1b000000 | sf(t) | rm(m) | ra(acc) | rn(n) | rd(d))
}

// Msub: d = a - n*m.
func Msub(text *code.Buf, t wa.Type, d, n, m, acc reg.R) {
	text.PutUint32(0x1b008000 | sf(t) | rm(m) | ra(acc) | rn(n) | rd(d))
}

// RR: integer two-register operation with an sf bit.
type RR uint32

const (
	RBIT = RR(0x5ac00000)
	CLZ  = RR(0x5ac01000)
)

func (op RR) RdRn(text *code.Buf, t wa.Type, d, n reg.R) {
	text.PutUint32(uint32(op) | sf(t) | rn(n) | rd(d))
}

// AddImm and SubImm take an unsigned 12-bit immediate.  Register 31 means the
// stack pointer here.
func AddImm(text *code.Buf, t wa.Type, d, n reg.R, imm uint32) {
	text.PutUint32(0x11000000 | sf(t) | imm<<10 | rn(n) | rd(d))
}

func SubImm(text *code.Buf, t wa.Type, d, n reg.R, imm uint32) {
	text.PutUint32(0x51000000 | sf(t) | imm<<10 | rn(n) | rd(d))
}

// AddRegExt and SubRegExt use the extended-register form (UXTX, no shift),
// in which register 31 means the stack pointer.
func AddRegExt(text *code.Buf, t wa.Type, d, n, m reg.R) {
	text.PutUint32(0x0b206000 | sf(t) | rm(m) | rn(n) | rd(d))
}

func SubRegExt(text *code.Buf, t wa.Type, d, n, m reg.R) {
	text.PutUint32(0x4b206000 | sf(t) | rm(m) | rn(n) | rd(d))
}

// CmpImm compares against an unsigned 12-bit immediate (SUBS to zero).
func CmpImm(text *code.Buf, t wa.Type, n reg.R, imm uint32) {
	text.PutUint32(0x71000000 | sf(t) | imm<<10 | rn(n) | rd(RegZero))
}

// CmnImm compares against a negated 12-bit immediate (ADDS to zero).
func CmnImm(text *code.Buf, t wa.Type, n reg.R, imm uint32) {
	text.PutUint32(0x31000000 | sf(t) | imm<<10 | rn(n) | rd(RegZero))
}

// Move-wide group.

func MovZ(text *code.Buf, t wa.Type, d reg.R, imm16 uint32, hw uint32) {
	text.PutUint32(0x52800000 | sf(t) | hw<<21 | imm16<<5 | rd(d))
}

func MovN(text *code.Buf, t wa.Type, d reg.R, imm16 uint32, hw uint32) {
	text.PutUint32(0x12800000 | sf(t) | hw<<21 | imm16<<5 | rd(d))
}

func MovK(text *code.Buf, t wa.Type, d reg.R, imm16 uint32, hw uint32) {
	text.PutUint32(0x72800000 | sf(t) | hw<<21 | imm16<<5 | rd(d))
}

// MoveIntImm materializes a 64-bit constant using the shortest move-wide
// sequence, starting with MOVN when the value is mostly ones.
func MoveIntImm(text *code.Buf, r reg.R, value int64) {
	v := uint64(value)

	var zeros, ones int
	for hw := 0; hw < 4; hw++ {
		switch uint16(v >> (16 * hw)) {
		case 0:
			zeros++
		case 0xffff:
			ones++
		}
	}

	if ones > zeros {
		first := true
		for hw := 0; hw < 4; hw++ {
			chunk := uint16(v >> (16 * hw))
			if first {
				MovN(text, wa.I64, r, uint32(^chunk), uint32(hw))
				first = false
				continue
			}
			if chunk != 0xffff {
				MovK(text, wa.I64, r, uint32(chunk), uint32(hw))
			}
		}
		return
	}

	first := true
	for hw := 0; hw < 4; hw++ {
		chunk := uint16(v >> (16 * hw))
		if chunk == 0 {
			continue
		}
		if first {
			MovZ(text, wa.I64, r, uint32(chunk), uint32(hw))
			first = false
		} else {
			MovK(text, wa.I64, r, uint32(chunk), uint32(hw))
		}
	}
	if first {
		MovZ(text, wa.I64, r, 0, 0)
	}
}

// Bitfield group.

func Ubfm(text *code.Buf, t wa.Type, d, n reg.R, immr, imms uint32) {
	n64 := sf(t) >> 9 // N matches sf.
	text.PutUint32(0x53000000 | sf(t) | n64 | immr<<16 | imms<<10 | rn(n) | rd(d))
}

func Sbfm(text *code.Buf, t wa.Type, d, n reg.R, immr, imms uint32) {
	n64 := sf(t) >> 9
	text.PutUint32(0x13000000 | sf(t) | n64 | immr<<16 | imms<<10 | rn(n) | rd(d))
}

func Extr(text *code.Buf, t wa.Type, d, n, m reg.R, lsb uint32) {
	n64 := sf(t) >> 9
	text.PutUint32(0x13800000 | sf(t) | n64 | rm(m) | lsb<<10 | rn(n) | rd(d))
}

func LslImm(text *code.Buf, t wa.Type, d, n reg.R, shift uint32) {
	bits := uint32(t.Size())*8 - 1
	Ubfm(text, t, d, n, (bits+1-shift)&bits, bits-shift)
}

func LsrImm(text *code.Buf, t wa.Type, d, n reg.R, shift uint32) {
	bits := uint32(t.Size())*8 - 1
	Ubfm(text, t, d, n, shift, bits)
}

func AsrImm(text *code.Buf, t wa.Type, d, n reg.R, shift uint32) {
	bits := uint32(t.Size())*8 - 1
	Sbfm(text, t, d, n, shift, bits)
}

// Sxtw sign-extends the low word into a 64-bit register.
func Sxtw(text *code.Buf, d, n reg.R) {
	Sbfm(text, wa.I64, d, n, 0, 31)
}

// Conditional select group.

func Csel(text *code.Buf, t wa.Type, d, n, m reg.R, cond Cond) {
	text.PutUint32(0x1a800000 | sf(t) | rm(m) | uint32(cond)<<12 | rn(n) | rd(d))
}

// Cset materializes a condition as 0 or 1 (CSINC from the zero register with
// the inverted condition).
func Cset(text *code.Buf, d reg.R, cond Cond) {
	text.PutUint32(0x1a800400 | rm(RegZero) | uint32(cond.Inverted())<<12 | rn(RegZero) | rd(d))
}

// FRRR: scalar float three-register operation; bit 22 selects double.
type FRRR uint32

const (
	FADD = FRRR(0x1e202800)
	FSUB = FRRR(0x1e203800)
	FMUL = FRRR(0x1e200800)
	FDIV = FRRR(0x1e201800)
	FMAX = FRRR(0x1e204800)
	FMIN = FRRR(0x1e205800)
)

func (op FRRR) RdRnRm(text *code.Buf, t wa.Type, d, n, m reg.R) {
	text.PutUint32(uint32(op) | fsz(t) | rm(m) | rn(n) | rd(d))
}

// FRR: scalar float two-register operation.
type FRR uint32

const (
	FMOVreg = FRR(0x1e204000)
	FABS    = FRR(0x1e20c000)
	FNEG    = FRR(0x1e214000)
	FSQRT   = FRR(0x1e21c000)
	FRINTN  = FRR(0x1e244000)
	FRINTP  = FRR(0x1e24c000)
	FRINTM  = FRR(0x1e254000)
	FRINTZ  = FRR(0x1e25c000)
)

func (op FRR) RdRn(text *code.Buf, t wa.Type, d, n reg.R) {
	text.PutUint32(uint32(op) | fsz(t) | rn(n) | rd(d))
}

// Fcmp compares scalar float registers.
func Fcmp(text *code.Buf, t wa.Type, n, m reg.R) {
	text.PutUint32(0x1e202000 | fsz(t) | rm(m) | rn(n))
}

func Fcsel(text *code.Buf, t wa.Type, d, n, m reg.R, cond Cond) {
	text.PutUint32(0x1e201c00 | fsz(t) | rm(m) | uint32(cond)<<12 | rn(n) | rd(d))
}

// Fcvt converts between scalar float precisions (bit 22 selects the source).
func Fcvt(text *code.Buf, from wa.Type, d, n reg.R) {
	if from.Size() == wa.Size64 {
		text.PutUint32(0x1e624000 | rn(n) | rd(d)) // To single.
	} else {
		text.PutUint32(0x1e22c000 | rn(n) | rd(d)) // To double.
	}
}

// Scvtf and Ucvtf convert integers to floats; sf selects the integer width
// and bit 22 the float width.
func Scvtf(text *code.Buf, ft, it wa.Type, d, n reg.R) {
	text.PutUint32(0x1e220000 | sf(it) | fsz(ft) | rn(n) | rd(d))
}

func Ucvtf(text *code.Buf, ft, it wa.Type, d, n reg.R) {
	text.PutUint32(0x1e230000 | sf(it) | fsz(ft) | rn(n) | rd(d))
}

// FmovToGen moves raw bits from a float register to a general register.
func FmovToGen(text *code.Buf, t wa.Type, d, n reg.R) {
	text.PutUint32(0x1e260000 | sf(t) | fsz(t) | rn(n) | rd(d))
}

// FmovFromGen moves raw bits from a general register to a float register.
func FmovFromGen(text *code.Buf, t wa.Type, d, n reg.R) {
	text.PutUint32(0x1e270000 | sf(t) | fsz(t) | rn(n) | rd(d))
}

// CntBytes: population count per byte of the low 64 bits (vector 8B form).
func CntBytes(text *code.Buf, d, n reg.R) {
	text.PutUint32(0x0e205800 | rn(n) | rd(d))
}

// AddvBytes sums the byte lanes into the scalar byte register.
func AddvBytes(text *code.Buf, d, n reg.R) {
	text.PutUint32(0x0e31b800 | rn(n) | rd(d))
}

// LdSt is a load/store family identified by its unscaled-offset base opcode.
// The scaled and register-offset forms are derived from it.
type LdSt uint32

const (
	LDRB    = LdSt(0x38400000)
	LDRSB64 = LdSt(0x38800000)
	LDRSB32 = LdSt(0x38c00000)
	LDRH    = LdSt(0x78400000)
	LDRSH64 = LdSt(0x78800000)
	LDRSH32 = LdSt(0x78c00000)
	LDRW    = LdSt(0xb8400000)
	LDRSW   = LdSt(0xb8800000)
	LDRX    = LdSt(0xf8400000)
	STRB    = LdSt(0x38000000)
	STRH    = LdSt(0x78000000)
	STRW    = LdSt(0xb8000000)
	STRX    = LdSt(0xf8000000)

	LDRS = LdSt(0xbc400000)
	LDRD = LdSt(0xfc400000)
	STRS = LdSt(0xbc000000)
	STRD = LdSt(0xfc000000)
)

func (op LdSt) scale() uint32 { return uint32(op) >> 30 }

// RtRnScaled encodes the unsigned scaled-offset form; disp must be a
// naturally aligned multiple within 12 bits of the scaled range.
func (op LdSt) RtRnScaled(text *code.Buf, t, n reg.R, disp int32) {
	imm12 := uint32(disp) >> op.scale()
	text.PutUint32(uint32(op) | 0x01000000 | imm12<<10 | rn(n) | rd(t))
}

// RtRnUnscaled encodes the signed 9-bit unscaled-offset form.
func (op LdSt) RtRnUnscaled(text *code.Buf, t, n reg.R, disp int32) {
	imm9 := uint32(disp) & 0x1ff
	text.PutUint32(uint32(op) | imm9<<12 | rn(n) | rd(t))
}

// RtRnRm encodes the register-offset form without extension or shift.
func (op LdSt) RtRnRm(text *code.Buf, t, n, m reg.R) {
	text.PutUint32(uint32(op) | 0x00206800 | rm(m) | rn(n) | rd(t))
}

// InScaledRange reports whether the scaled form can encode the displacement.
func (op LdSt) InScaledRange(disp int32) bool {
	size := int32(1) << op.scale()
	return disp >= 0 && disp%size == 0 && disp/size < 4096
}

// Branches.  Offsets are in words relative to the branch instruction itself.

// B branches unconditionally; offset zero (the stub placeholder) loops on
// itself until patched.
func B(text *code.Buf, words int32) {
	text.PutUint32(0x14000000 | uint32(words)&0x03ffffff)
}

func Bcond(text *code.Buf, cond Cond, words int32) {
	text.PutUint32(0x54000000 | (uint32(words)&0x7ffff)<<5 | uint32(cond))
}

func Cbz(text *code.Buf, t wa.Type, r reg.R, words int32) {
	text.PutUint32(0x34000000 | sf(t) | (uint32(words)&0x7ffff)<<5 | rd(r))
}

func Cbnz(text *code.Buf, t wa.Type, r reg.R, words int32) {
	text.PutUint32(0x35000000 | sf(t) | (uint32(words)&0x7ffff)<<5 | rd(r))
}

// LdrLit loads a 64-bit literal at a word offset from the instruction.
func LdrLit(text *code.Buf, r reg.R, words int32) {
	text.PutUint32(0x58000000 | (uint32(words)&0x7ffff)<<5 | rd(r))
}

func Blr(text *code.Buf, n reg.R) {
	text.PutUint32(0xd63f0000 | rn(n))
}

func Ret(text *code.Buf) {
	text.PutUint32(0xd65f0000 | rn(reg.R(30)))
}

func Brk(text *code.Buf, imm16 uint32) {
	text.PutUint32(0xd4200000 | imm16<<5)
}
