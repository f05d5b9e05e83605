// Copyright (c) 2024 Timo Savola. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package arm64

import (
	"encoding/binary"

	"github.com/pkg/errors"

	"gate.computer/singlepass/internal/gen/link"
	"gate.computer/singlepass/internal/gen/loc"
	"gate.computer/singlepass/internal/gen/local"
	"gate.computer/singlepass/internal/gen/reg"
	"gate.computer/singlepass/internal/isa/arm64/in"
	"gate.computer/singlepass/wa"
)

// Branch sites record the address of the branch instruction itself.  Forward
// branches are emitted with offset zero (a self-loop) and patched by Label;
// the offset field of an unpatched stub is all zeros, so patching is a plain
// OR into the word.

func (mach *Machine) branchStub(l *link.L) {
	if l.Addr != 0 {
		in.B(&mach.text, int32(l.Addr-mach.text.Addr)/4)
		return
	}
	l.AddSite(mach.text.Addr)
	in.B(&mach.text, 0)
}

func (mach *Machine) branchIfStub(cc in.Cond, l *link.L) {
	if l.Addr != 0 {
		in.Bcond(&mach.text, cc, int32(l.Addr-mach.text.Addr)/4)
		return
	}
	l.AddSite(mach.text.Addr)
	in.Bcond(&mach.text, cc, 0)
}

func (mach *Machine) branchZeroStub(t wa.Type, r reg.R, nonzero bool, l *link.L) {
	var words int32
	if l.Addr != 0 {
		words = int32(l.Addr-mach.text.Addr) / 4
	} else {
		l.AddSite(mach.text.Addr)
	}
	if nonzero {
		in.Cbnz(&mach.text, t, r, words)
	} else {
		in.Cbz(&mach.text, t, r, words)
	}
}

// Label binds a label to the current address and patches the forward branches
// which referred to it.
func (mach *Machine) Label(l *link.L) {
	l.Addr = mach.text.Addr

	text := mach.text.Bytes()
	for _, site := range l.Sites {
		w := binary.LittleEndian.Uint32(text[site : site+4])
		words := uint32(int32(l.Addr-site) / 4)

		switch {
		case w>>26 == 0x05: // B
			w |= words & 0x03ffffff

		case w>>24 == 0x54 || w&0x7e000000 == 0x34000000: // B.cond, CBZ, CBNZ
			w |= (words & 0x7ffff) << 5

		default:
			panic(errors.Errorf("unrecognized branch instruction %#08x at offset %d", w, site))
		}

		binary.LittleEndian.PutUint32(text[site:site+4], w)
	}
	l.Sites = nil
}

// Branch jumps to a label unconditionally.
func (mach *Machine) Branch(l *link.L) {
	mach.branchStub(l)
}

// BranchIf tests a boolean value and branches when its truth matches the
// condition.  Compare-and-branch avoids the flags altogether.
func (mach *Machine) BranchIf(x *local.Local, when bool, l *link.L) {
	r := mach.mgr.MoveToReg(x, 0)
	mach.branchZeroStub(wa.I32, r, when, l)
}

func excl(x *local.Local) reg.Set {
	if x.Loc().Kind() == loc.Reg {
		return reg.MakeSet(x.Loc().Reg())
	}
	return 0
}

// Select returns a when cond is true, b otherwise.  Branchless on both banks.
func (mach *Machine) Select(cond, a, b *local.Local) *local.Local {
	t := a.Type()
	text := &mach.text

	res, ra := mach.own(a, t, excl(b)|excl(cond))
	rb := mach.mgr.MoveToReg(b, reg.MakeSet(ra)|excl(cond))
	rc := mach.mgr.MoveToReg(cond, reg.MakeSet(ra, rb))

	in.Tst(text, wa.I32, rc)
	if t.Category() == wa.Int {
		in.Csel(text, t, ra, ra, rb, in.NE)
	} else {
		in.Fcsel(text, t, ra, ra, rb, in.NE)
	}

	return res
}
