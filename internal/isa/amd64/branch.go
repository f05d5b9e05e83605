// Copyright (c) 2024 Timo Savola. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package amd64

import (
	"encoding/binary"

	"gate.computer/singlepass/internal/gen/link"
	"gate.computer/singlepass/internal/gen/loc"
	"gate.computer/singlepass/internal/gen/local"
	"gate.computer/singlepass/internal/gen/reg"
	"gate.computer/singlepass/internal/isa/amd64/in"
	"gate.computer/singlepass/wa"
)

// Branch sites record the address just after the instruction; the rel32 field
// occupies the preceding four bytes.

func (mach *Machine) branchStub(l *link.L) {
	if l.Addr != 0 {
		in.JmpAddr(&mach.text, l.Addr)
		return
	}
	in.JmpStub(&mach.text)
	l.AddSite(mach.text.Addr)
}

func (mach *Machine) branchIfStub(cc in.Cond, l *link.L) {
	if l.Addr != 0 {
		in.JccAddr(&mach.text, cc, l.Addr)
		return
	}
	in.JccStub(&mach.text, cc)
	l.AddSite(mach.text.Addr)
}

// Label binds a label to the current address and patches the forward branches
// which referred to it.
func (mach *Machine) Label(l *link.L) {
	l.Addr = mach.text.Addr

	text := mach.text.Bytes()
	for _, site := range l.Sites {
		binary.LittleEndian.PutUint32(text[site-4:site], uint32(l.Addr-site))
	}
	l.Sites = nil
}

// Branch jumps to a label unconditionally.
func (mach *Machine) Branch(l *link.L) {
	mach.branchStub(l)
}

// BranchIf tests a boolean value and branches when its truth matches the
// condition.  The value register is settled before the test so that no
// allocation clobbers the flags.
func (mach *Machine) BranchIf(x *local.Local, when bool, l *link.L) {
	r := mach.mgr.MoveToReg(x, 0)
	in.TEST.RegReg(&mach.text, wa.I32, r, r)

	cc := in.CondNE
	if !when {
		cc = in.CondE
	}
	mach.branchIfStub(cc, l)
}

func excl(x *local.Local) reg.Set {
	if x.Loc().Kind() == loc.Reg {
		return reg.MakeSet(x.Loc().Reg())
	}
	return 0
}

// Select returns a when cond is true, b otherwise.  All operands are settled
// in registers before the test.
func (mach *Machine) Select(cond, a, b *local.Local) *local.Local {
	t := a.Type()
	text := &mach.text

	res, ra := mach.own(a, t, excl(b)|excl(cond))
	rb := mach.mgr.MoveToReg(b, reg.MakeSet(ra)|excl(cond))
	rc := mach.mgr.MoveToReg(cond, reg.MakeSet(ra, rb))

	in.TEST.RegReg(text, wa.I32, rc, rc)

	if t.Category() == wa.Int {
		in.Cmovcc(text, in.CondE, t, ra, rb)
	} else {
		var skip link.L
		mach.branchIfStub(in.CondNE, &skip)
		in.MOVSx.RegReg(text, t, in.OneSize, ra, rb)
		mach.Label(&skip)
	}

	return res
}
