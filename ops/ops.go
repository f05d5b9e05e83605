// Copyright (c) 2024 Timo Savola. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package ops models the decoded operator stream which a validated function
// body has been parsed into.  Code values are the WebAssembly binary opcodes.
package ops

import (
	"math"

	"gate.computer/singlepass/wa"
)

type Code uint16

const (
	Unreachable = Code(0x00)
	Nop         = Code(0x01)
	Block       = Code(0x02)
	Loop        = Code(0x03)
	If          = Code(0x04)
	Else        = Code(0x05)
	End         = Code(0x0b)
	Br          = Code(0x0c)
	BrIf        = Code(0x0d)
	Return      = Code(0x0f)
	Call        = Code(0x10)

	Drop   = Code(0x1a)
	Select = Code(0x1b)

	LocalGet  = Code(0x20)
	LocalSet  = Code(0x21)
	LocalTee  = Code(0x22)
	GlobalGet = Code(0x23)
	GlobalSet = Code(0x24)

	I32Load    = Code(0x28)
	I64Load    = Code(0x29)
	F32Load    = Code(0x2a)
	F64Load    = Code(0x2b)
	I32Load8S  = Code(0x2c)
	I32Load8U  = Code(0x2d)
	I32Load16S = Code(0x2e)
	I32Load16U = Code(0x2f)
	I64Load8S  = Code(0x30)
	I64Load8U  = Code(0x31)
	I64Load16S = Code(0x32)
	I64Load16U = Code(0x33)
	I64Load32S = Code(0x34)
	I64Load32U = Code(0x35)
	I32Store   = Code(0x36)
	I64Store   = Code(0x37)
	F32Store   = Code(0x38)
	F64Store   = Code(0x39)
	I32Store8  = Code(0x3a)
	I32Store16 = Code(0x3b)
	I64Store8  = Code(0x3c)
	I64Store16 = Code(0x3d)
	I64Store32 = Code(0x3e)

	I32Const = Code(0x41)
	I64Const = Code(0x42)
	F32Const = Code(0x43)
	F64Const = Code(0x44)

	I32Eqz = Code(0x45)
	I32Eq  = Code(0x46)
	I32Ne  = Code(0x47)
	I32LtS = Code(0x48)
	I32LtU = Code(0x49)
	I32GtS = Code(0x4a)
	I32GtU = Code(0x4b)
	I32LeS = Code(0x4c)
	I32LeU = Code(0x4d)
	I32GeS = Code(0x4e)
	I32GeU = Code(0x4f)

	I64Eqz = Code(0x50)
	I64Eq  = Code(0x51)
	I64Ne  = Code(0x52)
	I64LtS = Code(0x53)
	I64LtU = Code(0x54)
	I64GtS = Code(0x55)
	I64GtU = Code(0x56)
	I64LeS = Code(0x57)
	I64LeU = Code(0x58)
	I64GeS = Code(0x59)
	I64GeU = Code(0x5a)

	F32Eq = Code(0x5b)
	F32Ne = Code(0x5c)
	F32Lt = Code(0x5d)
	F32Gt = Code(0x5e)
	F32Le = Code(0x5f)
	F32Ge = Code(0x60)

	F64Eq = Code(0x61)
	F64Ne = Code(0x62)
	F64Lt = Code(0x63)
	F64Gt = Code(0x64)
	F64Le = Code(0x65)
	F64Ge = Code(0x66)

	I32Clz    = Code(0x67)
	I32Ctz    = Code(0x68)
	I32Popcnt = Code(0x69)
	I32Add    = Code(0x6a)
	I32Sub    = Code(0x6b)
	I32Mul    = Code(0x6c)
	I32DivS   = Code(0x6d)
	I32DivU   = Code(0x6e)
	I32RemS   = Code(0x6f)
	I32RemU   = Code(0x70)
	I32And    = Code(0x71)
	I32Or     = Code(0x72)
	I32Xor    = Code(0x73)
	I32Shl    = Code(0x74)
	I32ShrS   = Code(0x75)
	I32ShrU   = Code(0x76)
	I32Rotl   = Code(0x77)
	I32Rotr   = Code(0x78)

	I64Clz    = Code(0x79)
	I64Ctz    = Code(0x7a)
	I64Popcnt = Code(0x7b)
	I64Add    = Code(0x7c)
	I64Sub    = Code(0x7d)
	I64Mul    = Code(0x7e)
	I64DivS   = Code(0x7f)
	I64DivU   = Code(0x80)
	I64RemS   = Code(0x81)
	I64RemU   = Code(0x82)
	I64And    = Code(0x83)
	I64Or     = Code(0x84)
	I64Xor    = Code(0x85)
	I64Shl    = Code(0x86)
	I64ShrS   = Code(0x87)
	I64ShrU   = Code(0x88)
	I64Rotl   = Code(0x89)
	I64Rotr   = Code(0x8a)

	F32Abs      = Code(0x8b)
	F32Neg      = Code(0x8c)
	F32Ceil     = Code(0x8d)
	F32Floor    = Code(0x8e)
	F32Trunc    = Code(0x8f)
	F32Nearest  = Code(0x90)
	F32Sqrt     = Code(0x91)
	F32Add      = Code(0x92)
	F32Sub      = Code(0x93)
	F32Mul      = Code(0x94)
	F32Div      = Code(0x95)
	F32Min      = Code(0x96)
	F32Max      = Code(0x97)
	F32Copysign = Code(0x98)

	F64Abs      = Code(0x99)
	F64Neg      = Code(0x9a)
	F64Ceil     = Code(0x9b)
	F64Floor    = Code(0x9c)
	F64Trunc    = Code(0x9d)
	F64Nearest  = Code(0x9e)
	F64Sqrt     = Code(0x9f)
	F64Add      = Code(0xa0)
	F64Sub      = Code(0xa1)
	F64Mul      = Code(0xa2)
	F64Div      = Code(0xa3)
	F64Min      = Code(0xa4)
	F64Max      = Code(0xa5)
	F64Copysign = Code(0xa6)

	I32WrapI64    = Code(0xa7)
	I64ExtendI32S = Code(0xac)
	I64ExtendI32U = Code(0xad)

	F32ConvertI32S = Code(0xb2)
	F32ConvertI32U = Code(0xb3)
	F32ConvertI64S = Code(0xb4)
	F32ConvertI64U = Code(0xb5)
	F32DemoteF64   = Code(0xb6)
	F64ConvertI32S = Code(0xb7)
	F64ConvertI32U = Code(0xb8)
	F64ConvertI64S = Code(0xb9)
	F64ConvertI64U = Code(0xba)
	F64PromoteF32  = Code(0xbb)

	I32ReinterpretF32 = Code(0xbc)
	I64ReinterpretF64 = Code(0xbd)
	F32ReinterpretI32 = Code(0xbe)
	F64ReinterpretI64 = Code(0xbf)
)

// Op is one decoded operator.  Field usage depends on Code:
// Type is the block result type of block/loop/if; Index is a local, global
// or function index; Depth is a relative branch depth; Offset and Align come
// from a memory access immediate; Imm holds a constant (float bit patterns
// for f32/f64).
type Op struct {
	Code   Code
	Type   wa.Type
	Index  uint32
	Depth  uint32
	Offset uint32
	Align  uint32
	Imm    int64
}

// Constructors for building operator streams programmatically (tests,
// embedders with their own decoders).

func Simple(code Code) Op           { return Op{Code: code} }
func ConstI32(value int32) Op       { return Op{Code: I32Const, Imm: int64(value)} }
func ConstI64(value int64) Op       { return Op{Code: I64Const, Imm: value} }
func ConstF32(value float32) Op     { return Op{Code: F32Const, Imm: int64(math.Float32bits(value))} }
func ConstF64(value float64) Op     { return Op{Code: F64Const, Imm: int64(math.Float64bits(value))} }
func Local(code Code, i uint32) Op  { return Op{Code: code, Index: i} }
func Global(code Code, i uint32) Op { return Op{Code: code, Index: i} }
func CallFunc(i uint32) Op          { return Op{Code: Call, Index: i} }
func Branch(depth uint32) Op        { return Op{Code: Br, Depth: depth} }
func BranchIf(depth uint32) Op      { return Op{Code: BrIf, Depth: depth} }
func BlockType(code Code, t wa.Type) Op {
	return Op{Code: code, Type: t}
}
func Memory(code Code, offset, align uint32) Op {
	return Op{Code: code, Offset: offset, Align: align}
}
