// Copyright (c) 2024 Timo Savola. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package local

import (
	"testing"

	"gate.computer/singlepass/internal/gen/loc"
	"gate.computer/singlepass/internal/gen/reg"
	"gate.computer/singlepass/wa"
)

// testDesc resembles a System V-style convention: four integer and two float
// argument registers, a few callee-saved registers, and the high integer
// registers reserved for the frame, stack, context and scratch.
func testDesc() *Desc {
	return &Desc{
		FP:             14,
		SP:             15,
		VMContext:      13,
		RegCount:       16,
		WordSize:       8,
		StackGrowsDown: true,
		StackArgOffset: 16,
		ArgRegs:        []reg.R{0, 1, 2, 3},
		ArgFloatRegs:   []reg.R{0, 1},
		CalleeSave:     reg.MakeSet(10, 11),
		Reserved:       reg.MakeSet(12, 13, 14, 15),
		FloatRegs:      reg.MakeSet(0, 1, 2, 3, 4, 5),
		RetReg:         0,
		RetFloatReg:    0,
	}
}

func testFreeRegs() [2][]reg.R {
	return [2][]reg.R{
		{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11},
		{0, 1, 2, 3, 4, 5},
	}
}

type move struct {
	op  string
	t   wa.Type
	src loc.L
	dst loc.L
}

// fakeEmitter records the data movement and stack traffic the manager
// requests.  GrowStack rounds the slot count up to a multiple of round, like
// an architecture with a stack alignment requirement larger than the word
// size would.
type fakeEmitter struct {
	round int

	grown    int
	reserved []int32
	shrunk   []int32
	moves    []move
}

func (e *fakeEmitter) GrowStack(slots int) int {
	if e.round > 1 {
		if rem := slots % e.round; rem != 0 {
			slots += e.round - rem
		}
	}
	e.grown += slots
	return slots
}

func (e *fakeEmitter) ReserveStack(bytes int32) { e.reserved = append(e.reserved, bytes) }
func (e *fakeEmitter) ShrinkStack(bytes int32)  { e.shrunk = append(e.shrunk, bytes) }

func (e *fakeEmitter) MoveImmReg(t wa.Type, value int64, dst reg.R) {
	e.moves = append(e.moves, move{"mov", t, loc.MakeImm(value), loc.MakeReg(dst)})
}

func (e *fakeEmitter) MoveImmMem(t wa.Type, value int32, base reg.R, disp int32) {
	e.moves = append(e.moves, move{"mov", t, loc.MakeImm(int64(value)), loc.MakeMem(base, disp)})
}

func (e *fakeEmitter) MoveRegReg(t wa.Type, src, dst reg.R) {
	e.moves = append(e.moves, move{"mov", t, loc.MakeReg(src), loc.MakeReg(dst)})
}

func (e *fakeEmitter) MoveRegMem(t wa.Type, src, base reg.R, disp int32) {
	e.moves = append(e.moves, move{"mov", t, loc.MakeReg(src), loc.MakeMem(base, disp)})
}

func (e *fakeEmitter) MoveMemReg(t wa.Type, base reg.R, disp int32, dst reg.R) {
	e.moves = append(e.moves, move{"mov", t, loc.MakeMem(base, disp), loc.MakeReg(dst)})
}

func (e *fakeEmitter) MoveMemMem(t wa.Type, srcBase reg.R, srcDisp int32, dstBase reg.R, dstDisp int32) {
	e.moves = append(e.moves, move{"mov", t, loc.MakeMem(srcBase, srcDisp), loc.MakeMem(dstBase, dstDisp)})
}

func (e *fakeEmitter) MoveIntToFloat(t wa.Type, src, dst reg.R) {
	e.moves = append(e.moves, move{"i2f", t, loc.MakeReg(src), loc.MakeReg(dst)})
}

func (e *fakeEmitter) MoveFloatToInt(t wa.Type, src, dst reg.R) {
	e.moves = append(e.moves, move{"f2i", t, loc.MakeReg(src), loc.MakeReg(dst)})
}

func newTestManager(paramTypes, localTypes []wa.Type) (*Manager, *fakeEmitter, []*Local) {
	e := &fakeEmitter{round: 1}
	m := NewManager(testDesc(), e)
	locals := m.InitLocals(paramTypes, localTypes, testFreeRegs())
	return m, e, locals
}

func TestInitLocalsRegisterParams(t *testing.T) {
	m, _, locals := newTestManager([]wa.Type{wa.I32, wa.F64, wa.I64}, []wa.Type{wa.F32})

	if len(locals) != 4 {
		t.Fatal(len(locals))
	}

	// The VM context occupies the first integer argument register slot.
	if locals[0].Loc() != loc.MakeReg(1) || locals[0].Type() != wa.I32 {
		t.Error(locals[0])
	}
	if locals[1].Loc() != loc.MakeReg(0) || locals[1].Type() != wa.F64 {
		t.Error(locals[1])
	}
	if locals[2].Loc() != loc.MakeReg(2) || locals[2].Type() != wa.I64 {
		t.Error(locals[2])
	}
	if locals[3].Loc() != loc.MakeImm32(0) || locals[3].Type() != wa.F32 {
		t.Error(locals[3])
	}

	for _, x := range locals {
		if x.Refs() != 1 {
			t.Errorf("%s does not have the base reference", x)
		}
	}

	// The seeded float registers exclude the one holding a parameter.
	if r := m.GetFreeReg(wa.Float, 0); r != 5 {
		t.Error(r)
	}
	// Integer registers come from the callee-save list first.
	if r := m.GetFreeReg(wa.Int, 0); r != 11 {
		t.Error(r)
	}
}

func TestInitLocalsStackParams(t *testing.T) {
	types := []wa.Type{wa.I64, wa.I64, wa.I64, wa.I64, wa.I64}
	m, _, locals := newTestManager(types, nil)

	// Context plus the first three parameters fill the argument registers.
	if locals[2].Loc() != loc.MakeReg(3) {
		t.Error(locals[2])
	}
	if locals[3].Loc() != loc.MakeMem(14, 16) {
		t.Error(locals[3])
	}
	if locals[4].Loc() != loc.MakeMem(14, 24) {
		t.Error(locals[4])
	}

	if m.StackOffset() != 0 {
		t.Error(m.StackOffset())
	}
}

func TestSpillRelease(t *testing.T) {
	m, e, _ := newTestManager(nil, nil)

	x := m.NewLocalFromReg(m.GetFreeReg(wa.Int, 0), wa.I64)
	r := x.Loc().Reg()

	m.SpillToStack(x)
	if x.Loc() != loc.MakeMem(14, -8) {
		t.Fatal(x.Loc())
	}
	if e.grown != 1 {
		t.Error(e.grown)
	}
	want := move{"mov", wa.I64, loc.MakeReg(r), loc.MakeMem(14, -8)}
	if e.moves[len(e.moves)-1] != want {
		t.Error(e.moves)
	}

	// Memory and immediate locations are already stable.
	n := len(e.moves)
	m.SpillToStack(x)
	if len(e.moves) != n {
		t.Error("stable value moved")
	}

	m.Release(x)
	m.AssertNoneAllocated()

	// The freed slot is reused without growing the stack again.
	y := m.NewLocalFromReg(m.GetFreeReg(wa.Int, 0), wa.I64)
	m.SpillToStack(y)
	if e.grown != 1 {
		t.Error(e.grown)
	}
	if y.Loc() != loc.MakeMem(14, -8) {
		t.Error(y.Loc())
	}
	m.Release(y)
}

func TestGetFreeRegEviction(t *testing.T) {
	m, e, _ := newTestManager(nil, nil)

	var bound []*Local
	for i := 0; i < 12; i++ {
		bound = append(bound, m.NewLocalFromReg(m.GetFreeReg(wa.Int, 0), wa.I64))
	}

	// All integer registers are occupied: the round-robin cursor starts the
	// victim search at register 0.
	r := m.GetFreeReg(wa.Int, 0)
	if r != 0 {
		t.Fatal(r)
	}
	if e.grown != 1 {
		t.Error(e.grown)
	}

	var victim *Local
	for _, x := range bound {
		if x.Loc() == loc.MakeMem(14, -8) {
			victim = x
		}
	}
	if victim == nil {
		t.Fatal("no value was spilled")
	}

	m.FreeReg(wa.Int, r)
	for _, x := range bound {
		m.Release(x)
	}
	m.AssertNoneAllocated()
}

func TestBlockEndUnwindsStack(t *testing.T) {
	m, e, _ := newTestManager(nil, nil)

	m.BlockBegin()

	x := m.NewLocalFromReg(m.GetFreeReg(wa.Int, 0), wa.I64)
	m.SpillToStack(x)
	if m.StackOffset() != -8 {
		t.Fatal(m.StackOffset())
	}
	m.Release(x)

	m.BlockEnd()
	if m.StackOffset() != 0 {
		t.Error(m.StackOffset())
	}
	if len(e.shrunk) != 1 || e.shrunk[0] != 8 {
		t.Error(e.shrunk)
	}
	m.AssertNoneAllocated()
}

func TestBrDepthKeepsState(t *testing.T) {
	m, e, _ := newTestManager(nil, nil)

	m.BlockBegin()

	x := m.NewLocalFromReg(m.GetFreeReg(wa.Int, 0), wa.I64)
	m.SpillToStack(x)

	if m.BlockStackOffset(1) != 0 {
		t.Error(m.BlockStackOffset(1))
	}

	// The adjustment is emitted for the taken edge, but the fall-through
	// path continues with the grown frame.
	m.BrDepth(1)
	if len(e.shrunk) != 1 || e.shrunk[0] != 8 {
		t.Error(e.shrunk)
	}
	if m.StackOffset() != -8 {
		t.Error(m.StackOffset())
	}

	m.Release(x)
	m.BlockEnd()
	m.AssertNoneAllocated()
}

func TestReserveSlotsAndFlushTo(t *testing.T) {
	e := &fakeEmitter{round: 2}
	m := NewManager(testDesc(), e)
	m.InitLocals(nil, nil, testFreeRegs())

	homes := m.ReserveSlots(3)
	if len(homes) != 3 || homes[0] != -8 || homes[1] != -16 || homes[2] != -24 {
		t.Fatal(homes)
	}
	if e.grown != 4 || m.StackOffset() != -32 {
		t.Fatal(e.grown, m.StackOffset())
	}

	// The alignment surplus went to the free pool; spilling uses it without
	// touching the dedicated slots.
	z := m.NewLocalFromReg(m.GetFreeReg(wa.Int, 0), wa.I64)
	m.SpillToStack(z)
	if z.Loc() != loc.MakeMem(14, -32) {
		t.Fatal(z.Loc())
	}
	if e.grown != 4 {
		t.Error(e.grown)
	}

	x := m.NewLocalFromReg(m.GetFreeReg(wa.Int, 0), wa.I64)
	x.SetBaseRef()
	r := x.Loc().Reg()

	m.FlushTo(x, homes[0])
	if x.Loc() != loc.MakeMem(14, -8) {
		t.Fatal(x.Loc())
	}
	want := move{"mov", wa.I64, loc.MakeReg(r), loc.MakeMem(14, -8)}
	if e.moves[len(e.moves)-1] != want {
		t.Error(e.moves)
	}

	// Flushing a value already at home is a no-op.
	n := len(e.moves)
	m.FlushTo(x, homes[0])
	if len(e.moves) != n {
		t.Error("value at home was moved")
	}

	y := New(loc.MakeImm32(0), wa.I32)
	y.SetBaseRef()
	m.FlushTo(y, homes[1])
	if y.Loc() != loc.MakeMem(14, -16) {
		t.Fatal(y.Loc())
	}
	want = move{"mov", wa.I32, loc.MakeImm(0), loc.MakeMem(14, -16)}
	if e.moves[len(e.moves)-1] != want {
		t.Error(e.moves)
	}

	m.Release(x)
	m.Release(y)
	m.Release(z)
	m.AssertNoneAllocated()
}

func TestBeforeCallMarshalsArgs(t *testing.T) {
	m, e, _ := newTestManager(nil, nil)

	var args []*Local
	for i := 0; i < 6; i++ {
		args = append(args, New(loc.MakeImm(int64(i+1)), wa.I64))
	}

	m.BeforeCall(args)

	// Context plus six arguments: three overflow to the stack, and the
	// 24-byte area is padded to keep 16-byte alignment.
	if len(e.reserved) != 1 || e.reserved[0] != 32 {
		t.Fatal(e.reserved)
	}

	find := func(want move) {
		t.Helper()
		for _, mv := range e.moves {
			if mv == want {
				return
			}
		}
		t.Errorf("move not emitted: %v", want)
	}

	find(move{"mov", wa.I64, loc.MakeReg(13), loc.MakeReg(0)}) // Context.
	find(move{"mov", wa.I64, loc.MakeImm(1), loc.MakeReg(1)})
	find(move{"mov", wa.I64, loc.MakeImm(3), loc.MakeReg(3)})
	find(move{"mov", wa.I64, loc.MakeImm(4), loc.MakeMem(15, 0)})
	find(move{"mov", wa.I64, loc.MakeImm(5), loc.MakeMem(15, 8)})
	find(move{"mov", wa.I64, loc.MakeImm(6), loc.MakeMem(15, 16)})

	res := m.AfterCall(wa.I64)
	if len(e.shrunk) != 1 || e.shrunk[0] != 32 {
		t.Error(e.shrunk)
	}
	if res.Loc() != loc.MakeReg(0) {
		t.Error(res.Loc())
	}

	for _, a := range args {
		m.Release(a)
	}
	m.Release(res)
	m.AssertNoneAllocated()
}

func TestBeforeCallSpillsCallerSave(t *testing.T) {
	m, e, _ := newTestManager(nil, nil)

	w := m.NewLocalFromReg(5, wa.I64)

	m.BeforeCall(nil)

	if w.Loc() != loc.MakeMem(14, -8) {
		t.Fatal(w.Loc())
	}

	// No overflow arguments, but the spill slot leaves the stack depth
	// misaligned for the call.
	if len(e.reserved) != 1 || e.reserved[0] != 8 {
		t.Error(e.reserved)
	}

	if res := m.AfterCall(wa.Void); res != nil {
		t.Error(res)
	}
	if m.StackOffset() != -8 {
		t.Error(m.StackOffset())
	}

	m.Release(w)
	m.AssertNoneAllocated()
}

func TestNormalizeLocal(t *testing.T) {
	m, _, _ := newTestManager(nil, nil)

	// Immediates become stack-resident copies.
	x := New(loc.MakeImm32(7), wa.I32)
	nx := m.NormalizeLocal(x)
	if nx == x || nx.Loc().Kind() != loc.Mem {
		t.Error(nx)
	}
	m.Release(nx)

	// Referenced values are copied so the references keep the original.
	y := m.NewLocalFromReg(m.GetFreeReg(wa.Int, 0), wa.I64)
	y.SetBaseRef()
	old := y.Loc()
	ny := m.NormalizeLocal(y)
	if ny == y || ny.Loc().Kind() != loc.Reg || ny.Loc() == old {
		t.Error(ny)
	}
	if y.Loc() != old {
		t.Error("original was relocated")
	}
	m.Release(ny)

	// Dead register values are already safe to mutate.
	y.Unref()
	if m.NormalizeLocal(y) != y {
		t.Error("dead register value was copied")
	}

	m.Release(y)
	m.AssertNoneAllocated()
}
