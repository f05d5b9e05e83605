// Copyright (c) 2024 Timo Savola. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package in

import (
	"encoding/binary"
	"testing"

	"gate.computer/singlepass/buffer"
	"gate.computer/singlepass/internal/code"
	"gate.computer/singlepass/wa"
)

func words(f func(text *code.Buf)) []uint32 {
	b := buffer.NewDynamic(nil)
	f(&code.Buf{Buffer: b})

	data := b.Bytes()
	out := make([]uint32, len(data)/4)
	for i := range out {
		out[i] = binary.LittleEndian.Uint32(data[i*4:])
	}
	return out
}

func TestEncode(t *testing.T) {
	tests := []struct {
		name string
		emit func(text *code.Buf)
		want []uint32
	}{
		{"add x2, x0, x1", func(b *code.Buf) { ADDreg.RdRnRm(b, wa.I64, 2, 0, 1) }, []uint32{0x8b010002}},
		{"sub w3, w1, w2", func(b *code.Buf) { SUBreg.RdRnRm(b, wa.I32, 3, 1, 2) }, []uint32{0x4b020023}},
		{"and w0, w1, w2", func(b *code.Buf) { ANDreg.RdRnRm(b, wa.I32, 0, 1, 2) }, []uint32{0x0a020020}},
		{"udiv w0, w1, w2", func(b *code.Buf) { UDIV.RdRnRm(b, wa.I32, 0, 1, 2) }, []uint32{0x1ac20820}},
		{"mul x0, x1, x2", func(b *code.Buf) { Madd(b, wa.I64, 0, 1, 2, RegZero) }, []uint32{0x9b027c20}},

		{"mov x5, x7", func(b *code.Buf) { MovReg(b, wa.I64, 5, 7) }, []uint32{0xaa0703e5}},
		{"cmp w0, w1", func(b *code.Buf) { Cmp(b, wa.I32, 0, 1) }, []uint32{0x6b01001f}},
		{"add sp, sp, #16", func(b *code.Buf) { AddImm(b, wa.I64, 31, 31, 16) }, []uint32{0x910043ff}},
		{"sub w0, w1, #4", func(b *code.Buf) { SubImm(b, wa.I32, 0, 1, 4) }, []uint32{0x51001020}},

		{"mov x0, #1", func(b *code.Buf) { MoveIntImm(b, 0, 1) }, []uint32{0xd2800020}},
		{"mov x1, #-1", func(b *code.Buf) { MoveIntImm(b, 1, -1) }, []uint32{0x92800001}},
		{"mov x2, #0x10000", func(b *code.Buf) { MoveIntImm(b, 2, 0x10000) }, []uint32{0xd2a00022}},
		{"mov x0, #0", func(b *code.Buf) { MoveIntImm(b, 0, 0) }, []uint32{0xd2800000}},
		{"mov x3, #0x123456789", func(b *code.Buf) { MoveIntImm(b, 3, 0x123456789) },
			[]uint32{0xd28cf123, 0xf2a468a3, 0xf2c00023}},

		{"cset w3, eq", func(b *code.Buf) { Cset(b, 3, EQ) }, []uint32{0x1a9f17e3}},
		{"csel w0, w1, w2, ne", func(b *code.Buf) { Csel(b, wa.I32, 0, 1, 2, NE) }, []uint32{0x1a821020}},

		{"lsl w0, w1, #8", func(b *code.Buf) { LslImm(b, wa.I32, 0, 1, 8) }, []uint32{0x53185c20}},
		{"lsr x0, x1, #3", func(b *code.Buf) { LsrImm(b, wa.I64, 0, 1, 3) }, []uint32{0xd343fc20}},
		{"sxtw x0, w1", func(b *code.Buf) { Sxtw(b, 0, 1) }, []uint32{0x93407c20}},

		{"fadd s0, s1, s2", func(b *code.Buf) { FADD.RdRnRm(b, wa.F32, 0, 1, 2) }, []uint32{0x1e222820}},
		{"fmov d0, d1", func(b *code.Buf) { FMOVreg.RdRn(b, wa.F64, 0, 1) }, []uint32{0x1e604020}},
		{"fcmp d0, d1", func(b *code.Buf) { Fcmp(b, wa.F64, 0, 1) }, []uint32{0x1e612000}},
		{"scvtf d0, w1", func(b *code.Buf) { Scvtf(b, wa.F64, wa.I32, 0, 1) }, []uint32{0x1e620020}},
		{"ucvtf s0, x1", func(b *code.Buf) { Ucvtf(b, wa.F32, wa.I64, 0, 1) }, []uint32{0x9e230020}},
		{"fmov x0, d1", func(b *code.Buf) { FmovToGen(b, wa.I64, 0, 1) }, []uint32{0x9e660020}},
		{"fmov d0, x1", func(b *code.Buf) { FmovFromGen(b, wa.I64, 0, 1) }, []uint32{0x9e670020}},
		{"cnt v0.8b, v1.8b", func(b *code.Buf) { CntBytes(b, 0, 1) }, []uint32{0x0e205820}},
		{"addv b0, v1.8b", func(b *code.Buf) { AddvBytes(b, 0, 1) }, []uint32{0x0e31b820}},

		{"ldr x1, [x2, #16]", func(b *code.Buf) { LDRX.RtRnScaled(b, 1, 2, 16) }, []uint32{0xf9400841}},
		{"stur w3, [sp, #-8]", func(b *code.Buf) { STRW.RtRnUnscaled(b, 3, 31, -8) }, []uint32{0xb81f83e3}},
		{"ldr w0, [x1, x2]", func(b *code.Buf) { LDRW.RtRnRm(b, 0, 1, 2) }, []uint32{0xb8626820}},

		{"b #4", func(b *code.Buf) { B(b, 1) }, []uint32{0x14000001}},
		{"b.ne #16", func(b *code.Buf) { Bcond(b, NE, 4) }, []uint32{0x54000081}},
		{"cbz x0, #8", func(b *code.Buf) { Cbz(b, wa.I64, 0, 2) }, []uint32{0xb4000040}},
		{"cbnz w3, #-4", func(b *code.Buf) { Cbnz(b, wa.I32, 3, -1) }, []uint32{0x35ffffe3}},
		{"ldr x0, #8", func(b *code.Buf) { LdrLit(b, 0, 2) }, []uint32{0x58000040}},

		{"blr x16", func(b *code.Buf) { Blr(b, 16) }, []uint32{0xd63f0200}},
		{"ret", func(b *code.Buf) { Ret(b) }, []uint32{0xd65f03c0}},
		{"brk #7", func(b *code.Buf) { Brk(b, 7) }, []uint32{0xd42000e0}},
	}

	for _, test := range tests {
		got := words(test.emit)
		if len(got) != len(test.want) {
			t.Errorf("%s: %d words (want %d)", test.name, len(got), len(test.want))
			continue
		}
		for i := range got {
			if got[i] != test.want[i] {
				t.Errorf("%s: word %d is %#08x (want %#08x)", test.name, i, got[i], test.want[i])
			}
		}
	}
}

func TestCondInverted(t *testing.T) {
	pairs := [][2]Cond{
		{EQ, NE}, {HS, LO}, {MI, PL}, {VS, VC}, {HI, LS}, {GE, LT}, {GT, LE},
	}
	for _, p := range pairs {
		if p[0].Inverted() != p[1] || p[1].Inverted() != p[0] {
			t.Errorf("%d and %d are not inverses", p[0], p[1])
		}
	}
}

func TestScaledRange(t *testing.T) {
	if !LDRX.InScaledRange(0) || !LDRX.InScaledRange(32760) {
		t.Error("aligned in-range displacement rejected")
	}
	if LDRX.InScaledRange(-8) || LDRX.InScaledRange(12) || LDRX.InScaledRange(32768) {
		t.Error("unencodable displacement accepted")
	}
	if !LDRB.InScaledRange(4095) || LDRB.InScaledRange(4096) {
		t.Error("byte-access range is wrong")
	}
}
