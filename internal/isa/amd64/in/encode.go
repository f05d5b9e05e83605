// Copyright (c) 2024 Timo Savola. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package in encodes x86-64 instructions.
package in

import (
	"encoding/binary"

	"gate.computer/singlepass/internal/code"
	"gate.computer/singlepass/internal/gen/reg"
	"gate.computer/singlepass/wa"
)

func typeScalarPrefix(t wa.Type) byte { return byte(t)>>2 | 0xf2 } // 0xf3 or 0xf2

func addrDisp(currentAddr, insnSize, targetAddr int32) int32 {
	if targetAddr != 0 {
		siteAddr := currentAddr + insnSize
		return targetAddr - siteAddr
	}
	return -insnSize // Infinite loop as placeholder.
}

// OneSize suppresses the REX.W prefix on instructions with a fixed size.
const OneSize = wa.Type(0)

type output struct {
	buf    [16]byte
	offset uint8
}

func (o *output) len() int           { return int(o.offset) }
func (o *output) copy(target []byte) { copy(target, o.buf[:o.offset]) }

func (o *output) byte(b byte) {
	o.buf[o.offset] = b
	o.offset++
}

func (o *output) byteIf(b byte, condition bool) {
	o.buf[o.offset] = b
	o.offset += bit(condition)
}

// word appends the two bytes of a big-endian word.
func (o *output) word(w uint16) {
	binary.BigEndian.PutUint16(o.buf[o.offset:], w)
	o.offset += 2
}

func (o *output) rex(wrxb rexWRXB) {
	o.buf[o.offset] = Rex | byte(wrxb)
	o.offset++
}

func (o *output) rexIf(wrxb rexWRXB) {
	o.buf[o.offset] = Rex | byte(wrxb)
	o.offset += bit(wrxb != 0)
}

func (o *output) mod(mod Mod, ro ModRO, rm ModRM) {
	o.buf[o.offset] = byte(mod) | byte(ro) | byte(rm)
	o.offset++
}

func (o *output) sib(s Scale, i Index, b Base) {
	o.buf[o.offset] = byte(s) | byte(i) | byte(b)
	o.offset++
}

func (o *output) int8(val int8) {
	o.buf[o.offset] = uint8(val)
	o.offset++
}

func (o *output) int32(val int32) {
	binary.LittleEndian.PutUint32(o.buf[o.offset:], uint32(val))
	o.offset += 4
}

func (o *output) int64(val int64) {
	binary.LittleEndian.PutUint64(o.buf[o.offset:], uint64(val))
	o.offset += 8
}

func (o *output) int(val int32, size uint8) {
	// Little-endian byte order works for any size.
	binary.LittleEndian.PutUint32(o.buf[o.offset:], uint32(val))
	o.offset += size
}

// mem writes the ModRM (and SIB, displacement) bytes of a memory operand
// with an arbitrary base register.  RSP/R12 bases need a SIB byte.
func (o *output) mem(ro ModRO, base reg.R, disp int32) {
	mod, dispSize := baseDispModSize(base, disp)

	if base&7 == 4 {
		o.mod(mod, ro, ModRMSIB)
		o.sib(Scale0, IndexNone, regBase(base))
	} else {
		o.mod(mod, ro, regRM(base))
	}

	o.int(disp, dispSize)
}

// memIndex writes ModRM+SIB bytes of a base+index*scale+disp operand.
func (o *output) memIndex(ro ModRO, base, index reg.R, scale uint8, disp int32) {
	mod, dispSize := baseDispModSize(base, disp)
	if base&7 == 5 && mod == ModMem {
		mod, dispSize = ModMemDisp8, 1
	}
	o.mod(mod, ro, ModRMSIB)
	o.sib(scaleOf(scale), regIndex(index), regBase(base))
	o.int(disp, dispSize)
}

// NP: no-operand instruction, with optional REX.W by type.

type NP byte

func (op NP) Simple(text *code.Buf) {
	text.PutByte(byte(op))
}

func (op NP) Type(text *code.Buf, t wa.Type) {
	var o output
	o.rexIf(typeRexW(t))
	o.byte(byte(op))
	o.copy(text.Extend(o.len()))
}

// NP2: two-byte no-operand instruction (0F escape).

type NP2 uint16

func (op NP2) Simple(text *code.Buf) {
	var o output
	o.word(uint16(op))
	o.copy(text.Extend(o.len()))
}

// O: opcode with register encoded in the low bits (push/pop).

type O byte

func (op O) Reg(text *code.Buf, r reg.R) {
	var o output
	o.rexIf(regRexB(r))
	o.byte(byte(op) + byte(r&7))
	o.copy(text.Extend(o.len()))
}

// M: one-byte opcode with a /digit field and one r/m operand.

type M uint16 // Opcode in the low byte, digit in the high byte.

func (op M) ro() ModRO { return ModRO(op >> 8 << 3) }

func (op M) Reg(text *code.Buf, t wa.Type, r reg.R) {
	var o output
	o.rexIf(typeRexW(t) | regRexB(r))
	o.byte(byte(op))
	o.mod(ModReg, op.ro(), regRM(r))
	o.copy(text.Extend(o.len()))
}

func (op M) Mem(text *code.Buf, t wa.Type, base reg.R, disp int32) {
	var o output
	o.rexIf(typeRexW(t) | regRexB(base))
	o.byte(byte(op))
	o.mem(op.ro(), base, disp)
	o.copy(text.Extend(o.len()))
}

// RM: one-byte opcode with a register operand and an r/m operand.

type RM byte

func (op RM) RegReg(text *code.Buf, t wa.Type, ro, rm reg.R) {
	var o output
	o.rexIf(typeRexW(t) | regRexR(ro) | regRexB(rm))
	o.byte(byte(op))
	o.mod(ModReg, regRO(ro), regRM(rm))
	o.copy(text.Extend(o.len()))
}

func (op RM) RegMemDisp(text *code.Buf, t wa.Type, ro, base reg.R, disp int32) {
	var o output
	o.rexIf(typeRexW(t) | regRexR(ro) | regRexB(base))
	o.byte(byte(op))
	o.mem(regRO(ro), base, disp)
	o.copy(text.Extend(o.len()))
}

func (op RM) RegMemIndex(text *code.Buf, t wa.Type, ro, base, index reg.R, scale uint8, disp int32) {
	var o output
	o.rexIf(typeRexW(t) | regRexR(ro) | regRexX(index) | regRexB(base))
	o.byte(byte(op))
	o.memIndex(regRO(ro), base, index, scale, disp)
	o.copy(text.Extend(o.len()))
}

// RM8: one-byte opcode on a byte-size r/m operand.  REX is always emitted so
// SPL/BPL/SIL/DIL are addressable.

type RM8 byte

func (op RM8) RegMemDisp(text *code.Buf, ro, base reg.R, disp int32) {
	var o output
	o.rex(regRexR(ro) | regRexB(base))
	o.byte(byte(op))
	o.mem(regRO(ro), base, disp)
	o.copy(text.Extend(o.len()))
}

func (op RM8) RegMemIndex(text *code.Buf, ro, base, index reg.R, scale uint8, disp int32) {
	var o output
	o.rex(regRexR(ro) | regRexX(index) | regRexB(base))
	o.byte(byte(op))
	o.memIndex(regRO(ro), base, index, scale, disp)
	o.copy(text.Extend(o.len()))
}

// RM2: 0F-escaped opcode with a register operand and an r/m operand.

type RM2 uint16

func (op RM2) RegReg(text *code.Buf, t wa.Type, ro, rm reg.R) {
	var o output
	o.rexIf(typeRexW(t) | regRexR(ro) | regRexB(rm))
	o.word(uint16(op))
	o.mod(ModReg, regRO(ro), regRM(rm))
	o.copy(text.Extend(o.len()))
}

// RegReg8 is the byte-source register form.  REX is always emitted so that
// r/m values 4..7 address SPL/BPL/SIL/DIL instead of the high-byte registers.
func (op RM2) RegReg8(text *code.Buf, t wa.Type, ro, rm reg.R) {
	var o output
	o.rex(typeRexW(t) | regRexR(ro) | regRexB(rm))
	o.word(uint16(op))
	o.mod(ModReg, regRO(ro), regRM(rm))
	o.copy(text.Extend(o.len()))
}

func (op RM2) RegMemDisp(text *code.Buf, t wa.Type, ro, base reg.R, disp int32) {
	var o output
	o.rexIf(typeRexW(t) | regRexR(ro) | regRexB(base))
	o.word(uint16(op))
	o.mem(regRO(ro), base, disp)
	o.copy(text.Extend(o.len()))
}

func (op RM2) RegMemIndex(text *code.Buf, t wa.Type, ro, base, index reg.R, scale uint8, disp int32) {
	var o output
	o.rexIf(typeRexW(t) | regRexR(ro) | regRexX(index) | regRexB(base))
	o.word(uint16(op))
	o.memIndex(regRO(ro), base, index, scale, disp)
	o.copy(text.Extend(o.len()))
}

// RMpre: 0F-escaped opcode with a fixed mandatory prefix.

type RMpre uint32 // Prefix byte in bits 16..23, 0F xx in the low word.

func (op RMpre) RegReg(text *code.Buf, t wa.Type, ro, rm reg.R) {
	var o output
	o.byte(byte(op >> 16))
	o.rexIf(typeRexW(t) | regRexR(ro) | regRexB(rm))
	o.word(uint16(op))
	o.mod(ModReg, regRO(ro), regRM(rm))
	o.copy(text.Extend(o.len()))
}

func (op RMpre) RegMemDisp(text *code.Buf, t wa.Type, ro, base reg.R, disp int32) {
	var o output
	o.byte(byte(op >> 16))
	o.rexIf(typeRexW(t) | regRexR(ro) | regRexB(base))
	o.word(uint16(op))
	o.mem(regRO(ro), base, disp)
	o.copy(text.Extend(o.len()))
}

// RMscalar: 0F-escaped opcode with the scalar-size prefix (F3/F2) chosen by
// float type.  REX.W comes from a separate type (conversions mix sizes).

type RMscalar byte

func (op RMscalar) RegReg(text *code.Buf, floatType wa.Type, wide wa.Type, ro, rm reg.R) {
	var o output
	o.byte(typeScalarPrefix(floatType))
	o.rexIf(typeRexW(wide) | regRexR(ro) | regRexB(rm))
	o.word(0x0f00 | uint16(op))
	o.mod(ModReg, regRO(ro), regRM(rm))
	o.copy(text.Extend(o.len()))
}

func (op RMscalar) RegMemDisp(text *code.Buf, floatType wa.Type, ro, base reg.R, disp int32) {
	var o output
	o.byte(typeScalarPrefix(floatType))
	o.rexIf(regRexR(ro) | regRexB(base))
	o.word(0x0f00 | uint16(op))
	o.mem(regRO(ro), base, disp)
	o.copy(text.Extend(o.len()))
}

func (op RMscalar) RegMemIndex(text *code.Buf, floatType wa.Type, ro, base, index reg.R, scale uint8, disp int32) {
	var o output
	o.byte(typeScalarPrefix(floatType))
	o.rexIf(regRexR(ro) | regRexX(index) | regRexB(base))
	o.word(0x0f00 | uint16(op))
	o.memIndex(regRO(ro), base, index, scale, disp)
	o.copy(text.Extend(o.len()))
}

// RMpacked: 0F-escaped opcode where F64 takes a 0x66 prefix (ucomis).

type RMpacked byte

func (op RMpacked) RegReg(text *code.Buf, t wa.Type, ro, rm reg.R) {
	var o output
	o.byteIf(0x66, t.Size() == wa.Size64)
	o.rexIf(regRexR(ro) | regRexB(rm))
	o.word(0x0f00 | uint16(op))
	o.mod(ModReg, regRO(ro), regRM(rm))
	o.copy(text.Extend(o.len()))
}

// ALU: the classic arithmetic group (add/or/and/sub/xor/cmp) identified by
// its /digit; all operand forms derive from it.

type ALU byte

func (op ALU) RegReg(text *code.Buf, t wa.Type, dst, src reg.R) {
	RM(byte(op)<<3 | 0x03).RegReg(text, t, dst, src)
}

func (op ALU) RegMem(text *code.Buf, t wa.Type, dst, base reg.R, disp int32) {
	RM(byte(op)<<3 | 0x03).RegMemDisp(text, t, dst, base, disp)
}

func (op ALU) RegImm(text *code.Buf, t wa.Type, r reg.R, value int64) {
	var o output
	o.rexIf(typeRexW(t) | regRexB(r))
	if value == int64(int8(value)) {
		o.byte(0x83)
		o.mod(ModReg, ModRO(op)<<3, regRM(r))
		o.int8(int8(value))
	} else {
		o.byte(0x81)
		o.mod(ModReg, ModRO(op)<<3, regRM(r))
		o.int32(int32(value))
	}
	o.copy(text.Extend(o.len()))
}

// ShiftOp: the shift/rotate group (rol/ror/shl/shr/sar) by its /digit.

type ShiftOp byte

func (op ShiftOp) RegCL(text *code.Buf, t wa.Type, r reg.R) {
	M(0xd3 | uint16(op)<<8).Reg(text, t, r)
}

func (op ShiftOp) RegImm(text *code.Buf, t wa.Type, r reg.R, count int8) {
	var o output
	o.rexIf(typeRexW(t) | regRexB(r))
	o.byte(0xc1)
	o.mod(ModReg, ModRO(op)<<3, regRM(r))
	o.int8(count)
	o.copy(text.Extend(o.len()))
}

// MovImm loads an immediate into a register using the shortest encoding
// which preserves the value.
func MovImm(text *code.Buf, t wa.Type, r reg.R, value int64) {
	if t.Size() == wa.Size32 {
		var o output
		o.rexIf(regRexB(r))
		o.byte(0xb8 + byte(r&7))
		o.int32(int32(value))
		o.copy(text.Extend(o.len()))
		return
	}

	if value == int64(int32(value)) {
		var o output
		o.rex(RexW | regRexB(r))
		o.byte(0xc7)
		o.mod(ModReg, 0, regRM(r))
		o.int32(int32(value))
		o.copy(text.Extend(o.len()))
		return
	}

	MovImm64(text, r, value)
}

// MovImm64 emits the full 10-byte form, whose 8-byte immediate field can
// serve as a relocation slot.
func MovImm64(text *code.Buf, r reg.R, value int64) {
	var o output
	o.rex(RexW | regRexB(r))
	o.byte(0xb8 + byte(r&7))
	o.int64(value)
	o.copy(text.Extend(o.len()))
}

// MovImmMem stores a sign-extended 32-bit immediate.
func MovImmMem(text *code.Buf, t wa.Type, value int32, base reg.R, disp int32) {
	var o output
	o.rexIf(typeRexW(t) | regRexB(base))
	o.byte(0xc7)
	o.mem(0, base, disp)
	o.int32(value)
	o.copy(text.Extend(o.len()))
}

// Store16 stores the low 16 bits of a register (0x66 prefix form).
func Store16(text *code.Buf, src, base reg.R, disp int32) {
	var o output
	o.byte(0x66)
	o.rexIf(regRexR(src) | regRexB(base))
	o.byte(0x89)
	o.mem(regRO(src), base, disp)
	o.copy(text.Extend(o.len()))
}

func Store16Index(text *code.Buf, src, base, index reg.R, scale uint8, disp int32) {
	var o output
	o.byte(0x66)
	o.rexIf(regRexR(src) | regRexX(index) | regRexB(base))
	o.byte(0x89)
	o.memIndex(regRO(src), base, index, scale, disp)
	o.copy(text.Extend(o.len()))
}

// Cond is an x86 condition code (the tttn field).

type Cond byte

const (
	CondO  = Cond(0x0)
	CondNO = Cond(0x1)
	CondB  = Cond(0x2)
	CondAE = Cond(0x3)
	CondE  = Cond(0x4)
	CondNE = Cond(0x5)
	CondBE = Cond(0x6)
	CondA  = Cond(0x7)
	CondS  = Cond(0x8)
	CondNS = Cond(0x9)
	CondP  = Cond(0xa)
	CondNP = Cond(0xb)
	CondL  = Cond(0xc)
	CondGE = Cond(0xd)
	CondLE = Cond(0xe)
	CondG  = Cond(0xf)
)

// Setcc materializes a condition into the low byte of a register.  REX is
// always emitted so that SPL/BPL/SIL/DIL are addressable.
func Setcc(text *code.Buf, cc Cond, r reg.R) {
	var o output
	o.rex(regRexB(r))
	o.word(0x0f90 | uint16(cc))
	o.mod(ModReg, 0, regRM(r))
	o.copy(text.Extend(o.len()))
}

// Cmovcc: conditional move (0F 40+cc).
func Cmovcc(text *code.Buf, cc Cond, t wa.Type, dst, src reg.R) {
	RM2(0x0f40 | uint16(cc)).RegReg(text, t, dst, src)
}

// JmpStub emits a jump with a placeholder displacement (the instruction
// branches to itself until patched).  Returns nothing; the caller records
// text.Addr as the site.
func JmpStub(text *code.Buf) {
	var o output
	o.byte(0xe9)
	o.int32(addrDisp(text.Addr, 5, 0))
	o.copy(text.Extend(o.len()))
}

func JmpAddr(text *code.Buf, targetAddr int32) {
	var o output
	o.byte(0xe9)
	o.int32(addrDisp(text.Addr, 5, targetAddr))
	o.copy(text.Extend(o.len()))
}

func JccStub(text *code.Buf, cc Cond) {
	var o output
	o.word(0x0f80 | uint16(cc))
	o.int32(addrDisp(text.Addr, 6, 0))
	o.copy(text.Extend(o.len()))
}

func JccAddr(text *code.Buf, cc Cond, targetAddr int32) {
	var o output
	o.word(0x0f80 | uint16(cc))
	o.int32(addrDisp(text.Addr, 6, targetAddr))
	o.copy(text.Extend(o.len()))
}

// Jcc8 skips a fixed number of following bytes.
func Jcc8(text *code.Buf, cc Cond, disp int8) {
	var o output
	o.byte(0x70 | byte(cc))
	o.int8(disp)
	o.copy(text.Extend(o.len()))
}
