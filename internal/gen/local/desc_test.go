// Copyright (c) 2024 Timo Savola. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package local

import (
	"testing"

	"gate.computer/singlepass/internal/gen/loc"
	"gate.computer/singlepass/wa"
)

// Parameter locations seen by the callee must agree slot for slot with the
// argument locations used by a caller: register arguments in the same
// registers, and overflow arguments at the same position within the stack
// argument area (the callee addresses it through FP above the saved
// registers, the caller through SP at the bottom of its frame).
func TestParamArgAgreement(t *testing.T) {
	d := testDesc()

	// Context plus a mix which overflows both register banks.
	types := []wa.Type{
		wa.I64, // VM context.
		wa.I32, wa.F32, wa.I64, wa.F64, wa.F32, wa.F64, wa.I32, wa.I64, wa.I32,
	}

	if n := d.StackArgCount(types); n != 4 {
		t.Fatal(n)
	}

	stackSlots := 0
	for n := 0; n < len(types); n++ {
		callee := d.CalleeParamLoc(types, n)
		caller := d.CallerArgLoc(types, n)

		switch callee.Kind() {
		case loc.Reg:
			if caller != callee {
				t.Errorf("parameter %d: callee %s, caller %s", n, callee, caller)
			}

		case loc.Mem:
			if callee.Base() != d.FP || caller.Base() != d.SP {
				t.Errorf("parameter %d: callee %s, caller %s", n, callee, caller)
			}
			want := int32(stackSlots) * d.WordSize
			if caller.Disp() != want || callee.Disp() != want+d.StackArgOffset {
				t.Errorf("parameter %d: callee %s, caller %s", n, callee, caller)
			}
			if caller.Kind() != loc.Mem {
				t.Errorf("parameter %d: caller %s", n, caller)
			}
			stackSlots++

		default:
			t.Errorf("parameter %d: %s", n, callee)
		}
	}

	if stackSlots != 4 {
		t.Error(stackSlots)
	}
}

func TestParamBankCounters(t *testing.T) {
	d := testDesc()

	// Float arguments never consume integer registers and vice versa.
	types := []wa.Type{wa.I64, wa.F64, wa.F32, wa.I32}

	if l := d.CalleeParamLoc(types, 2); l != loc.MakeReg(d.ArgFloatRegs[1]) {
		t.Error(l)
	}
	if l := d.CalleeParamLoc(types, 3); l != loc.MakeReg(d.ArgRegs[1]) {
		t.Error(l)
	}
}

func TestRetLoc(t *testing.T) {
	d := testDesc()

	if l := d.RetLoc(wa.I32); l != loc.MakeReg(d.RetReg) {
		t.Error(l)
	}
	if l := d.RetLoc(wa.I64); l != loc.MakeReg(d.RetReg) {
		t.Error(l)
	}
	if l := d.RetLoc(wa.F32); l != loc.MakeReg(d.RetFloatReg) {
		t.Error(l)
	}
	if l := d.RetLoc(wa.F64); l != loc.MakeReg(d.RetFloatReg) {
		t.Error(l)
	}
}
