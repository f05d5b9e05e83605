// Copyright (c) 2024 Timo Savola. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package loc describes where an operand currently lives.
package loc

import (
	"fmt"

	"gate.computer/singlepass/internal/gen/reg"
)

type Kind uint8

const (
	None = Kind(iota)
	Imm
	Reg
	Mem
	MemIndex
)

// L is a location.  It is a value type; the zero value means no location.
// Memory locations are expressed relative to the frame pointer or the
// VM-context register, never as absolute addresses.
type L struct {
	kind  Kind
	width uint8 // Immediate width in bits (8, 32 or 64).
	scale uint8
	reg   reg.R // Register, or memory base register.
	index reg.R
	disp  int32
	imm   int64
}

func MakeImm8(value int8) L {
	return L{kind: Imm, width: 8, imm: int64(value)}
}

func MakeImm32(value int32) L {
	return L{kind: Imm, width: 32, imm: int64(value)}
}

func MakeImm64(value int64) L {
	return L{kind: Imm, width: 64, imm: value}
}

// MakeImm chooses the narrowest representation of value.
func MakeImm(value int64) L {
	switch {
	case value == int64(int8(value)):
		return MakeImm8(int8(value))

	case value == int64(int32(value)):
		return MakeImm32(int32(value))

	default:
		return MakeImm64(value)
	}
}

func MakeReg(r reg.R) L {
	return L{kind: Reg, reg: r}
}

func MakeMem(base reg.R, disp int32) L {
	return L{kind: Mem, reg: base, disp: disp}
}

func MakeMemIndex(base, index reg.R, scale uint8, disp int32) L {
	return L{kind: MemIndex, reg: base, index: index, scale: scale, disp: disp}
}

func (l L) Kind() Kind      { return l.kind }
func (l L) Reg() reg.R      { return l.reg }
func (l L) Base() reg.R     { return l.reg }
func (l L) Index() reg.R    { return l.index }
func (l L) Scale() uint8    { return l.scale }
func (l L) Disp() int32     { return l.disp }
func (l L) Imm() int64      { return l.imm }
func (l L) ImmWidth() uint8 { return l.width }

func (l L) String() string {
	switch l.kind {
	case None:
		return "none"

	case Imm:
		return fmt.Sprintf("%d", l.imm)

	case Reg:
		return l.reg.String()

	case Mem:
		return fmt.Sprintf("[%s%+d]", l.reg, l.disp)

	case MemIndex:
		return fmt.Sprintf("[%s+%s*%d%+d]", l.reg, l.index, l.scale, l.disp)

	default:
		return "<invalid location>"
	}
}
