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

// BinaryRule is the set of legal encodings of one binary operator.  The
// engine picks the cheapest form which matches the operand locations,
// materializing operands only when nothing matches directly.  Three-operand
// forms are preferred over in-place two-operand forms.
type BinaryRule struct {
	Type        wa.Type // Result type.
	Commutative bool
	ImmWidth    uint8 // Max immediate field width in bits; 0 = no immediate forms.

	RegImmReg func(src reg.R, imm int64, dst reg.R)
	RegRegReg func(src1, src2, dst reg.R)
	RegImm    func(srcDst reg.R, imm int64)
	RegReg    func(srcDst, src reg.R)
	RegMem    func(srcDst reg.R, base reg.R, disp int32)
}

// UnaryRule transforms one register operand into a result register, which
// may be in a different bank (conversions).
type UnaryRule struct {
	Type    wa.Type // Result type.
	RegReg  func(src, dst reg.R)
	InPlace bool // The operation may reuse the source register for int->int.
}

// CompareRule emits a two-operand comparison followed by a boolean
// materialization of the tested condition.
type CompareRule struct {
	ImmWidth uint8
	RegImm   func(a reg.R, imm int64)
	RegReg   func(a, b reg.R)
	Bool     func(dst reg.R) // setcc/cset; must not allocate.
}

func immFits(v int64, width uint8) bool {
	switch {
	case width == 0:
		return false
	case width >= 64:
		return true
	case width >= 32:
		return v == int64(int32(v))
	default:
		return v >= 0 && v < 1<<width
	}
}

func (m *Manager) immTooLarge(x *Local, width uint8) bool {
	if x.Loc().Kind() != loc.Imm {
		return false
	}
	if x.Cat() == wa.Float {
		return true
	}
	return !immFits(x.Loc().Imm(), width)
}

func excludeReg(x *Local) reg.Set {
	if x.Loc().Kind() == loc.Reg {
		return reg.MakeSet(x.Loc().Reg())
	}
	return 0
}

// own makes x's value the caller's to clobber: the register is stolen if x
// is dead, copied otherwise.  Returns the result value bound to the register.
func (m *Manager) own(x *Local, t wa.Type, dontUse reg.Set) (*Local, reg.R) {
	r := m.MoveToReg(x, dontUse)
	if x.refs < 1 {
		m.Steal(x)
	} else {
		r2 := m.GetFreeReg(x.Cat(), dontUse.With(r))
		m.e.MoveRegReg(x.Type(), r, r2)
		r = r2
	}
	return m.NewLocalFromReg(r, t), r
}

// result3 picks a destination for a three-operand form: a dead input's
// register in place, or a fresh one.
func (m *Manager) result3(t wa.Type, a *Local, ra reg.R, b *Local, rb reg.R) (*Local, reg.R) {
	var r reg.R
	switch {
	case a.refs < 1 && a.Loc().Kind() == loc.Reg:
		r = m.Steal(a)
	case b.refs < 1 && b.Loc().Kind() == loc.Reg:
		r = m.Steal(b)
	default:
		r = m.GetFreeReg(t.Category(), reg.MakeSet(ra, rb))
	}
	return m.NewLocalFromReg(r, t), r
}

// Binary applies a binary operator rule to two operands and returns the
// result value.  The inputs' storage is recycled when they are dead; live
// inputs are preserved.
func (m *Manager) Binary(rule *BinaryRule, a, b *Local) *Local {
	// Immediates the instruction cannot encode become registers.
	if m.immTooLarge(a, rule.ImmWidth) {
		m.MoveToReg(a, excludeReg(b))
	}
	if m.immTooLarge(b, rule.ImmWidth) {
		m.MoveToReg(b, excludeReg(a))
	}

	// Exploit commutativity to get the immediate into the second slot.
	if a.Loc().Kind() == loc.Imm {
		if rule.Commutative && (rule.RegImmReg != nil || rule.RegImm != nil) {
			a, b = b, a
		}
	}
	if a.Loc().Kind() == loc.Imm {
		m.MoveToReg(a, excludeReg(b))
	}
	if a.Loc().Kind() == loc.Mem && b.Loc().Kind() == loc.Mem {
		m.MoveToReg(a, excludeReg(b))
	}

	switch ak, bk := a.Loc().Kind(), b.Loc().Kind(); {
	case ak == loc.Reg && bk == loc.Imm:
		ra, imm := a.Loc().Reg(), b.Loc().Imm()

		switch {
		case rule.RegImmReg != nil:
			res, rd := m.result3(rule.Type, a, ra, b, ra)
			rule.RegImmReg(ra, imm, rd)
			return res

		case rule.RegRegReg != nil:
			rb := m.MoveToReg(b, reg.MakeSet(ra))
			res, rd := m.result3(rule.Type, a, ra, b, rb)
			rule.RegRegReg(ra, rb, rd)
			return res

		case rule.RegImm != nil:
			res, rd := m.own(a, rule.Type, 0)
			rule.RegImm(rd, imm)
			return res

		case rule.RegReg != nil:
			res, rd := m.own(a, rule.Type, 0)
			rb := m.MoveToReg(b, reg.MakeSet(rd))
			rule.RegReg(rd, rb)
			return res
		}

	case ak == loc.Reg && bk == loc.Reg:
		ra, rb := a.Loc().Reg(), b.Loc().Reg()

		switch {
		case rule.RegRegReg != nil:
			res, rd := m.result3(rule.Type, a, ra, b, rb)
			rule.RegRegReg(ra, rb, rd)
			return res

		case rule.RegReg != nil:
			res, rd := m.own(a, rule.Type, reg.MakeSet(rb))
			rule.RegReg(rd, rb)
			return res
		}

	case ak == loc.Reg && bk == loc.Mem:
		ra := a.Loc().Reg()

		switch {
		case rule.RegRegReg != nil:
			rb := m.MoveToReg(b, reg.MakeSet(ra))
			res, rd := m.result3(rule.Type, a, ra, b, rb)
			rule.RegRegReg(ra, rb, rd)
			return res

		case rule.RegMem != nil:
			base, disp := b.Loc().Base(), b.Loc().Disp()
			res, rd := m.own(a, rule.Type, 0)
			rule.RegMem(rd, base, disp)
			return res

		case rule.RegReg != nil:
			res, rd := m.own(a, rule.Type, 0)
			rb := m.MoveToReg(b, reg.MakeSet(rd))
			rule.RegReg(rd, rb)
			return res
		}

	case ak == loc.Mem && bk == loc.Reg:
		rb := b.Loc().Reg()

		switch {
		case rule.RegRegReg != nil:
			ra := m.MoveToReg(a, reg.MakeSet(rb))
			res, rd := m.result3(rule.Type, a, ra, b, rb)
			rule.RegRegReg(ra, rb, rd)
			return res

		case rule.Commutative && rule.RegMem != nil:
			base, disp := a.Loc().Base(), a.Loc().Disp()
			res, rd := m.own(b, rule.Type, 0)
			rule.RegMem(rd, base, disp)
			return res

		case rule.RegReg != nil:
			res, rd := m.own(a, rule.Type, reg.MakeSet(rb))
			rule.RegReg(rd, rb)
			return res
		}

	case ak == loc.Mem && bk == loc.Imm:
		imm := b.Loc().Imm()

		switch {
		case rule.RegImmReg != nil:
			ra := m.MoveToReg(a, 0)
			res, rd := m.result3(rule.Type, a, ra, b, ra)
			rule.RegImmReg(ra, imm, rd)
			return res

		case rule.RegImm != nil:
			res, rd := m.own(a, rule.Type, 0)
			rule.RegImm(rd, imm)
			return res

		case rule.RegReg != nil:
			res, rd := m.own(a, rule.Type, 0)
			rb := m.MoveToReg(b, reg.MakeSet(rd))
			rule.RegReg(rd, rb)
			return res
		}
	}

	panic(errors.Errorf("no binary encoding for operands %s and %s", a.Loc(), b.Loc()))
}

// Unary applies a unary operator rule.
func (m *Manager) Unary(rule *UnaryRule, x *Local) *Local {
	rx := m.MoveToReg(x, 0)

	var rd reg.R
	if rule.InPlace && x.refs < 1 && x.Cat() == rule.Type.Category() {
		rd = m.Steal(x)
	} else {
		rd = m.GetFreeReg(rule.Type.Category(), reg.MakeSet(rx))
	}

	rule.RegReg(rx, rd)
	return m.NewLocalFromReg(rd, rule.Type)
}

// Compare applies a comparison rule and returns the i32 boolean result.
// The destination register is settled before the comparison is emitted, so
// no flag-clobbering allocation happens between compare and materialize.
func (m *Manager) Compare(rule *CompareRule, a, b *Local) *Local {
	if b.Loc().Kind() == loc.Imm && rule.RegImm != nil && !m.immTooLarge(b, rule.ImmWidth) {
		ra := m.MoveToReg(a, 0)
		imm := b.Loc().Imm()

		var rd reg.R
		if a.refs < 1 && a.Cat() == wa.Int {
			// Steal after the compare; stealing emits nothing.
			rule.RegImm(ra, imm)
			rd = m.Steal(a)
		} else {
			rd = m.GetFreeReg(wa.Int, reg.MakeSet(ra))
			rule.RegImm(ra, imm)
		}
		rule.Bool(rd)
		return m.NewLocalFromReg(rd, wa.I32)
	}

	ra := m.MoveToReg(a, excludeReg(b))
	rb := m.MoveToReg(b, reg.MakeSet(ra))

	var rd reg.R
	switch {
	case a.refs < 1 && a.Cat() == wa.Int:
		rule.RegReg(ra, rb)
		rd = m.Steal(a)
	case b.refs < 1 && b.Cat() == wa.Int:
		rule.RegReg(ra, rb)
		rd = m.Steal(b)
	default:
		rd = m.GetFreeReg(wa.Int, reg.MakeSet(ra, rb))
		rule.RegReg(ra, rb)
	}
	rule.Bool(rd)
	return m.NewLocalFromReg(rd, wa.I32)
}
