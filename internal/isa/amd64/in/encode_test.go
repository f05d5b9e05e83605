// Copyright (c) 2024 Timo Savola. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package in

import (
	"bytes"
	"testing"

	"gate.computer/singlepass/buffer"
	"gate.computer/singlepass/internal/code"
	"gate.computer/singlepass/internal/gen/reg"
	"gate.computer/singlepass/wa"
)

const (
	rax = reg.R(0)
	rcx = reg.R(1)
	rdx = reg.R(2)
	rbx = reg.R(3)
	rsp = reg.R(4)
	rbp = reg.R(5)
	rsi = reg.R(6)
	rdi = reg.R(7)
	r8  = reg.R(8)
	r12 = reg.R(12)
	r13 = reg.R(13)
	r15 = reg.R(15)
)

func encode(f func(text *code.Buf)) []byte {
	b := buffer.NewDynamic(nil)
	f(&code.Buf{Buffer: b})
	return b.Bytes()
}

func TestEncode(t *testing.T) {
	tests := []struct {
		name string
		emit func(text *code.Buf)
		want []byte
	}{
		{"mov eax, ecx", func(b *code.Buf) { MOV.RegReg(b, wa.I32, rax, rcx) },
			[]byte{0x8b, 0xc1}},
		{"mov rax, rcx", func(b *code.Buf) { MOV.RegReg(b, wa.I64, rax, rcx) },
			[]byte{0x48, 0x8b, 0xc1}},
		{"mov r8, r15", func(b *code.Buf) { MOV.RegReg(b, wa.I64, r8, r15) },
			[]byte{0x4d, 0x8b, 0xc7}},

		{"add eax, ebx", func(b *code.Buf) { ADD.RegReg(b, wa.I32, rax, rbx) },
			[]byte{0x03, 0xc3}},
		{"sub rdx, 1", func(b *code.Buf) { SUB.RegImm(b, wa.I64, rdx, 1) },
			[]byte{0x48, 0x83, 0xea, 0x01}},
		{"add eax, 0x1000", func(b *code.Buf) { ADD.RegImm(b, wa.I32, rax, 0x1000) },
			[]byte{0x81, 0xc0, 0x00, 0x10, 0x00, 0x00}},
		{"test eax, eax", func(b *code.Buf) { TEST.RegReg(b, wa.I32, rax, rax) },
			[]byte{0x85, 0xc0}},
		{"neg rcx", func(b *code.Buf) { NEG.Reg(b, wa.I64, rcx) },
			[]byte{0x48, 0xf7, 0xd9}},
		{"imul eax, ecx, 10", func(b *code.Buf) { ImulImm(b, wa.I32, rcx, rax, 10) },
			[]byte{0x6b, 0xc1, 0x0a}},
		{"shl ecx, 5", func(b *code.Buf) { SHL.RegImm(b, wa.I32, rcx, 5) },
			[]byte{0xc1, 0xe1, 0x05}},
		{"popcnt eax, ecx", func(b *code.Buf) { POPCNT.RegReg(b, wa.I32, rax, rcx) },
			[]byte{0xf3, 0x0f, 0xb8, 0xc1}},

		// Memory operands: RBP/R13 bases force a displacement byte, RSP/R12
		// bases force a SIB byte.
		{"mov rax, [rbp+16]", func(b *code.Buf) { MOV.RegMemDisp(b, wa.I64, rax, rbp, 16) },
			[]byte{0x48, 0x8b, 0x45, 0x10}},
		{"mov [rsp+8], ecx", func(b *code.Buf) { MOVmr.RegMemDisp(b, wa.I32, rcx, rsp, 8) },
			[]byte{0x89, 0x4c, 0x24, 0x08}},
		{"mov [r12], eax", func(b *code.Buf) { MOVmr.RegMemDisp(b, wa.I32, rax, r12, 0) },
			[]byte{0x41, 0x89, 0x04, 0x24}},
		{"mov eax, [r13]", func(b *code.Buf) { MOV.RegMemDisp(b, wa.I32, rax, r13, 0) },
			[]byte{0x41, 0x8b, 0x45, 0x00}},
		{"mov [rax+4], cx", func(b *code.Buf) { Store16(b, rcx, rax, 4) },
			[]byte{0x66, 0x89, 0x48, 0x04}},

		// Immediate loads use the shortest form which preserves the value.
		{"mov eax, 0x11223344", func(b *code.Buf) { MovImm(b, wa.I32, rax, 0x11223344) },
			[]byte{0xb8, 0x44, 0x33, 0x22, 0x11}},
		{"mov rax, -2", func(b *code.Buf) { MovImm(b, wa.I64, rax, -2) },
			[]byte{0x48, 0xc7, 0xc0, 0xfe, 0xff, 0xff, 0xff}},
		{"movabs rax", func(b *code.Buf) { MovImm64(b, rax, 0x1122334455667788) },
			[]byte{0x48, 0xb8, 0x88, 0x77, 0x66, 0x55, 0x44, 0x33, 0x22, 0x11}},

		{"sete al", func(b *code.Buf) { Setcc(b, CondE, rax) },
			[]byte{0x40, 0x0f, 0x94, 0xc0}},
		{"cmovne rax, rcx", func(b *code.Buf) { Cmovcc(b, CondNE, wa.I64, rax, rcx) },
			[]byte{0x48, 0x0f, 0x45, 0xc1}},

		// Byte-register operands: without REX, r/m values 4..7 would address
		// the legacy high-byte registers instead of SPL/BPL/SIL/DIL.
		{"sete sil", func(b *code.Buf) { Setcc(b, CondE, rsi) },
			[]byte{0x40, 0x0f, 0x94, 0xc6}},
		{"setne dil", func(b *code.Buf) { Setcc(b, CondNE, rdi) },
			[]byte{0x40, 0x0f, 0x95, 0xc7}},
		{"sete r8b", func(b *code.Buf) { Setcc(b, CondE, r8) },
			[]byte{0x41, 0x0f, 0x94, 0xc0}},
		{"movzx esi, sil", func(b *code.Buf) { MOVZX8.RegReg8(b, wa.I32, rsi, rsi) },
			[]byte{0x40, 0x0f, 0xb6, 0xf6}},
		{"movsx edi, dil", func(b *code.Buf) { MOVSX8.RegReg8(b, wa.I32, rdi, rdi) },
			[]byte{0x40, 0x0f, 0xbe, 0xff}},
		{"movzx eax, r8b", func(b *code.Buf) { MOVZX8.RegReg8(b, wa.I32, rax, r8) },
			[]byte{0x41, 0x0f, 0xb6, 0xc0}},
		{"movzx rax, sil", func(b *code.Buf) { MOVZX8.RegReg8(b, wa.I64, rax, rsi) },
			[]byte{0x48, 0x0f, 0xb6, 0xc6}},

		{"ret", func(b *code.Buf) { RET.Simple(b) }, []byte{0xc3}},
		{"ud2", func(b *code.Buf) { UD2.Simple(b) }, []byte{0x0f, 0x0b}},
		{"cqo", func(b *code.Buf) { CDQ.Type(b, wa.I64) }, []byte{0x48, 0x99}},
		{"cdq", func(b *code.Buf) { CDQ.Type(b, wa.I32) }, []byte{0x99}},
		{"push rbx", func(b *code.Buf) { PUSH.Reg(b, rbx) }, []byte{0x53}},
		{"push r15", func(b *code.Buf) { PUSH.Reg(b, r15) }, []byte{0x41, 0x57}},
		{"call rax", func(b *code.Buf) { CALL.Reg(b, OneSize, rax) }, []byte{0xff, 0xd0}},

		{"addss xmm0, xmm1", func(b *code.Buf) { ADDSx.RegReg(b, wa.F32, OneSize, rax, rcx) },
			[]byte{0xf3, 0x0f, 0x58, 0xc1}},
		{"addsd xmm0, xmm1", func(b *code.Buf) { ADDSx.RegReg(b, wa.F64, OneSize, rax, rcx) },
			[]byte{0xf2, 0x0f, 0x58, 0xc1}},
		{"ucomiss xmm0, xmm1", func(b *code.Buf) { UCOMISx.RegReg(b, wa.F32, rax, rcx) },
			[]byte{0x0f, 0x2e, 0xc1}},
		{"ucomisd xmm0, xmm1", func(b *code.Buf) { UCOMISx.RegReg(b, wa.F64, rax, rcx) },
			[]byte{0x66, 0x0f, 0x2e, 0xc1}},
		{"movd xmm0, edx", func(b *code.Buf) { MOVDq.RegReg(b, wa.I32, rax, rdx) },
			[]byte{0x66, 0x0f, 0x6e, 0xc2}},
		{"movq xmm0, rdx", func(b *code.Buf) { MOVDq.RegReg(b, wa.I64, rax, rdx) },
			[]byte{0x66, 0x48, 0x0f, 0x6e, 0xc2}},
		{"roundss xmm2, xmm1, 9", func(b *code.Buf) { RoundSx(b, wa.F32, rcx, rdx, RoundDown) },
			[]byte{0x66, 0x0f, 0x3a, 0x0a, 0xd1, 0x09}},

		// Branch stubs loop on themselves until patched.
		{"jmp +16", func(b *code.Buf) { JmpAddr(b, 16) },
			[]byte{0xe9, 0x0b, 0x00, 0x00, 0x00}},
		{"jmp stub", func(b *code.Buf) { JmpStub(b) },
			[]byte{0xe9, 0xfb, 0xff, 0xff, 0xff}},
		{"jne stub", func(b *code.Buf) { JccStub(b, CondNE) },
			[]byte{0x0f, 0x85, 0xfa, 0xff, 0xff, 0xff}},
		{"je +2", func(b *code.Buf) { Jcc8(b, CondE, 2) },
			[]byte{0x74, 0x02}},
	}

	for _, test := range tests {
		if got := encode(test.emit); !bytes.Equal(got, test.want) {
			t.Errorf("%s: %#02x (want %#02x)", test.name, got, test.want)
		}
	}
}
