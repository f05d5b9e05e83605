// Copyright (c) 2024 Timo Savola. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package condition

type C int

const (
	Eq = C(iota)
	Ne
	GeS
	GtS
	GeU
	GtU
	LeS
	LtS
	LeU
	LtU

	OrderedAndEq
	OrderedAndGe
	OrderedAndGt
	UnorderedOrNe
	UnorderedOrLe
	UnorderedOrLt

	NumConditions
)

// Inverted returns the condition which is true when this one is false.
func (c C) Inverted() C {
	switch c {
	case Eq:
		return Ne
	case Ne:
		return Eq
	case GeS:
		return LtS
	case GtS:
		return LeS
	case GeU:
		return LtU
	case GtU:
		return LeU
	case LeS:
		return GtS
	case LtS:
		return GeS
	case LeU:
		return GtU
	case LtU:
		return GeU
	case OrderedAndEq:
		return UnorderedOrNe
	case OrderedAndGe:
		return UnorderedOrLt
	case OrderedAndGt:
		return UnorderedOrLe
	case UnorderedOrNe:
		return OrderedAndEq
	case UnorderedOrLe:
		return OrderedAndGt
	case UnorderedOrLt:
		return OrderedAndGe
	default:
		panic(c)
	}
}

// Swapped returns the condition with operand order reversed.  Float
// conditions are expressed with a fixed operand order instead of swapping.
func (c C) Swapped() C {
	switch c {
	case Eq, Ne:
		return c
	case GeS:
		return LeS
	case GtS:
		return LtS
	case GeU:
		return LeU
	case GtU:
		return LtU
	case LeS:
		return GeS
	case LtS:
		return GtS
	case LeU:
		return GeU
	case LtU:
		return GtU
	default:
		panic(c)
	}
}
