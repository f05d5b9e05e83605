// Copyright (c) 2024 Timo Savola. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package local

import (
	"github.com/pkg/errors"

	"gate.computer/singlepass/internal/gen/loc"
	"gate.computer/singlepass/internal/gen/reg"
	"gate.computer/singlepass/wa"
)

// Desc describes a target's calling convention and register file to the
// allocator.  The integer and float register banks are indexed separately;
// all masks and the argument lists are per-bank.
type Desc struct {
	FP        reg.R // Frame pointer; spill slots are addressed through it.
	SP        reg.R // Stack pointer; outgoing call arguments are addressed through it.
	VMContext reg.R // Always holds the VM context pointer; callee-saved everywhere.

	RegCount       int
	WordSize       int32
	StackGrowsDown bool
	StackArgOffset int32 // Incoming stack arguments relative to FP.

	ArgRegs      []reg.R // Integer argument registers, in passing order.
	ArgFloatRegs []reg.R

	CalleeSave reg.Set // Integer bank.
	Reserved   reg.Set // Integer bank: SP, FP, VM context, assembler scratch.
	FloatRegs  reg.Set // Allocatable float registers; all caller-saved.

	RetReg      reg.R
	RetFloatReg reg.R
}

// argLoc walks the parameter types up to index n, maintaining separate
// register counters per bank, and returns the slot of parameter n from the
// given perspective.  Index 0 is the implicit VM context parameter.
func (d *Desc) argLoc(types []wa.Type, n int, base reg.R, baseOffset int32) loc.L {
	ints, floats, stack := 0, 0, 0

	for i := 0; ; i++ {
		var l loc.L

		if types[i].Category() == wa.Float {
			if floats < len(d.ArgFloatRegs) {
				l = loc.MakeReg(d.ArgFloatRegs[floats])
				floats++
			}
		} else {
			if ints < len(d.ArgRegs) {
				l = loc.MakeReg(d.ArgRegs[ints])
				ints++
			}
		}

		if l.Kind() == loc.None {
			l = loc.MakeMem(base, baseOffset+d.WordSize*int32(stack))
			stack++
		}

		if i == n {
			return l
		}
	}
}

// CalleeParamLoc is where the function being compiled finds its n-th
// parameter.  Must agree with CallerArgLoc slot for slot.
func (d *Desc) CalleeParamLoc(types []wa.Type, n int) loc.L {
	return d.argLoc(types, n, d.FP, d.StackArgOffset)
}

// CallerArgLoc is where a call being compiled places its n-th argument.
func (d *Desc) CallerArgLoc(types []wa.Type, n int) loc.L {
	return d.argLoc(types, n, d.SP, 0)
}

// StackArgCount is the number of overflow argument slots for a signature.
func (d *Desc) StackArgCount(types []wa.Type) int {
	ints, floats, stack := 0, 0, 0

	for _, t := range types {
		if t.Category() == wa.Float {
			if floats < len(d.ArgFloatRegs) {
				floats++
				continue
			}
		} else {
			if ints < len(d.ArgRegs) {
				ints++
				continue
			}
		}
		stack++
	}

	return stack
}

// RetLoc is the return value location for a type.
func (d *Desc) RetLoc(t wa.Type) loc.L {
	if t.Category() == wa.Float {
		return loc.MakeReg(d.RetFloatReg)
	}
	return loc.MakeReg(d.RetReg)
}

func (d *Desc) allocatable(cat wa.ScalarCategory, r reg.R) bool {
	if cat == wa.Float {
		return d.FloatRegs.Contains(r)
	}
	return !d.Reserved.Contains(r) && !d.CalleeSave.Contains(r)
}

func (d *Desc) check() {
	if !d.StackGrowsDown {
		panic(errors.New("only descending stacks are supported"))
	}
}
