// Copyright (c) 2024 Timo Savola. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package in

import (
	"gate.computer/singlepass/internal/gen/reg"
)

type Mod byte
type ModRO byte
type ModRM byte

const (
	ModMem       = Mod(0)
	ModMemDisp8  = Mod(64)
	ModMemDisp32 = Mod(128)
	ModReg       = Mod(192)
)

const (
	ModRMSIB    = ModRM(4)
	ModRMDisp32 = ModRM(5)
)

// baseDispModSize chooses the displacement encoding for a memory operand.
// RBP and R13 as base have no displacement-free form (mod=0 with r/m=5 means
// RIP-relative), so they get at least a zero disp8.
func baseDispModSize(base reg.R, disp int32) (mod Mod, size uint8) {
	switch {
	case disp == 0 && base&7 != 5:
		return ModMem, 0

	case disp == int32(int8(disp)):
		return ModMemDisp8, 1

	default:
		return ModMemDisp32, 4
	}
}

func regRO(r reg.R) ModRO { return ModRO((r & 7) << 3) }
func regRM(r reg.R) ModRM { return ModRM(r & 7) }

type Scale byte
type Index byte
type Base byte

const (
	Scale0 = Scale(0)
	Scale1 = Scale(1 << 6)
	Scale2 = Scale(2 << 6)
	Scale3 = Scale(3 << 6)
)

// IndexNone encodes no index (RSP cannot be an index register).
const IndexNone = Index(4 << 3)

func regIndex(r reg.R) Index { return Index((r & 7) << 3) }
func regBase(r reg.R) Base   { return Base(r & 7) }

func scaleOf(s uint8) Scale {
	switch s {
	case 1:
		return Scale0
	case 2:
		return Scale1
	case 4:
		return Scale2
	case 8:
		return Scale3
	default:
		panic("invalid scale")
	}
}
