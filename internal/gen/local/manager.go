// Copyright (c) 2024 Timo Savola. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package local

import (
	"github.com/pkg/errors"

	"gate.computer/singlepass/internal/gen/debug"
	"gate.computer/singlepass/internal/gen/loc"
	"gate.computer/singlepass/internal/gen/reg"
	"gate.computer/singlepass/wa"
)

// Emitter is the subset of machine primitives the allocator needs for data
// movement and stack growth.  Memory-to-memory moves are the only primitives
// allowed to use the architecture's reserved scratch register; nothing here
// may touch an allocatable register the manager did not pass in.
type Emitter interface {
	// GrowStack reserves spill slots and returns how many were actually
	// added (an architecture may round up for alignment).
	GrowStack(slots int) int

	// ReserveStack and ShrinkStack adjust the stack pointer by a byte
	// count without any slot bookkeeping.
	ReserveStack(bytes int32)
	ShrinkStack(bytes int32)

	MoveImmReg(t wa.Type, value int64, dst reg.R)
	MoveImmMem(t wa.Type, value int32, base reg.R, disp int32)
	MoveRegReg(t wa.Type, src, dst reg.R)
	MoveRegMem(t wa.Type, src, base reg.R, disp int32)
	MoveMemReg(t wa.Type, base reg.R, disp int32, dst reg.R)
	MoveMemMem(t wa.Type, srcBase reg.R, srcDisp int32, dstBase reg.R, dstDisp int32)

	// Cross-bank moves of raw bits; t is the float type.
	MoveIntToFloat(t wa.Type, src, dst reg.R)
	MoveFloatToInt(t wa.Type, src, dst reg.R)
}

// bankIndex interleaves the integer and float register banks in one array.
func bankIndex(cat wa.ScalarCategory, r reg.R) int {
	return int(r)<<1 | int(cat)
}

type snapshot struct {
	freeRegs       [2][]reg.R
	freeCalleeSave [2][]reg.R
	freeStack      []int32
}

// Manager owns the mapping from WebAssembly locals and operand-stack values
// to machine locations.  One instance per function compilation.
type Manager struct {
	d *Desc
	e Emitter

	regs  []*Local // Indexed by bankIndex.
	stack []*Local // Incoming stack params, then spill slots in growth order.

	regCursor      [2]int
	numStackParams int
	stackOffset    int32 // Negative; FP-relative bottom of the spill area.

	freeRegs       [2][]reg.R
	freeCalleeSave [2][]reg.R
	freeStack      []int32

	savedOffsets []int32
	savedBlocks  []snapshot
}

func NewManager(d *Desc, e Emitter) *Manager {
	d.check()
	return &Manager{
		d:    d,
		e:    e,
		regs: make([]*Local, d.RegCount*2),
	}
}

func (m *Manager) Desc() *Desc          { return m.d }
func (m *Manager) StackOffset() int32   { return m.stackOffset }
func (m *Manager) StackDepth() int32    { return -m.stackOffset }

// InitLocals is called once at function entry.  Parameters are bound to the
// slots the calling convention put them in; the VM context pointer is the
// implicit parameter 0, so wasm parameter i is at CalleeParamLoc(i+1).
// Non-parameter locals are lazily zero-initialized as immediates.  The free
// register lists are seeded with the architecture's transient registers,
// minus any holding parameters.
func (m *Manager) InitLocals(paramTypes, localTypes []wa.Type, freeRegs [2][]reg.R) []*Local {
	all := make([]wa.Type, 0, len(paramTypes)+1)
	all = append(all, wa.I64) // VM context.
	all = append(all, paramTypes...)

	m.numStackParams = m.d.StackArgCount(all)
	m.stack = make([]*Local, m.numStackParams)

	locals := make([]*Local, 0, len(paramTypes)+len(localTypes))

	for i, t := range paramTypes {
		l := m.d.CalleeParamLoc(all, i+1)
		x := New(l, t)
		x.SetBaseRef()

		switch l.Kind() {
		case loc.Reg:
			m.regs[bankIndex(t.Category(), l.Reg())] = x

		case loc.Mem:
			if l.Base() != m.d.FP {
				panic(errors.New("parameter slot not frame-relative"))
			}
			m.stack[m.stackIndex(l.Disp())] = x

		default:
			panic(errors.New("unexpected parameter location"))
		}

		locals = append(locals, x)
	}

	for _, t := range localTypes {
		x := New(loc.MakeImm32(0), t)
		x.SetBaseRef()
		locals = append(locals, x)
	}

	for cat, regs := range freeRegs {
		for _, r := range regs {
			if m.regs[bankIndex(wa.ScalarCategory(cat), r)] != nil {
				continue // Holds a parameter.
			}
			if wa.ScalarCategory(cat) == wa.Int && m.d.CalleeSave.Contains(r) {
				m.freeCalleeSave[cat] = append(m.freeCalleeSave[cat], r)
			} else {
				m.freeRegs[cat] = append(m.freeRegs[cat], r)
			}
		}
	}

	return locals
}

func (m *Manager) stackIndex(offset int32) int {
	if offset >= 0 {
		if offset < m.d.StackArgOffset {
			panic(errors.New("stack offset inside saved-register area"))
		}
		return int((offset - m.d.StackArgOffset) / m.d.WordSize)
	}
	return m.numStackParams + int(offset/-m.d.WordSize) - 1
}

// getFreeStack returns a free FP-relative spill slot offset, growing the
// native stack if needed.
func (m *Manager) getFreeStack() int32 {
	if n := len(m.freeStack); n > 0 {
		offset := m.freeStack[n-1]
		m.freeStack = m.freeStack[:n-1]
		return offset
	}

	count := m.e.GrowStack(1)
	for i := 0; i < count; i++ {
		m.stackOffset -= m.d.WordSize
		m.freeStack = append(m.freeStack, m.stackOffset)
		m.stack = append(m.stack, nil)
	}

	n := len(m.freeStack)
	offset := m.freeStack[n-1]
	m.freeStack = m.freeStack[:n-1]
	return offset
}

// moveToStack spills a value into a fresh spill slot and rebinds it there.
func (m *Manager) moveToStack(x *Local) {
	offset := m.getFreeStack()
	m.moveData(x.Type(), x.Loc(), loc.MakeMem(m.d.FP, offset))
	m.Release(x)
	x.l = loc.MakeMem(m.d.FP, offset)
	m.stack[m.stackIndex(offset)] = x
}

// takeFreeReg removes a specific register from the free lists, if present.
func (m *Manager) takeFreeReg(cat wa.ScalarCategory, r reg.R) {
	lists := []*[]reg.R{&m.freeRegs[cat], &m.freeCalleeSave[cat]}
	for _, list := range lists {
		for i, fr := range *list {
			if fr == r {
				*list = append((*list)[:i], (*list)[i+1:]...)
				return
			}
		}
	}
}

func (m *Manager) takeFreeStack(offset int32) {
	for i, off := range m.freeStack {
		if off == offset {
			m.freeStack = append(m.freeStack[:i], m.freeStack[i+1:]...)
			return
		}
	}
}

func (m *Manager) pushFreeReg(cat wa.ScalarCategory, r reg.R) {
	if cat == wa.Int && m.d.CalleeSave.Contains(r) {
		m.freeCalleeSave[cat] = append(m.freeCalleeSave[cat], r)
	} else {
		m.freeRegs[cat] = append(m.freeRegs[cat], r)
	}
}

func popFreeReg(list *[]reg.R, dontUse reg.Set) (reg.R, bool) {
	for i := len(*list) - 1; i >= 0; i-- {
		r := (*list)[i]
		if dontUse.Contains(r) {
			continue
		}
		*list = append((*list)[:i], (*list)[i+1:]...)
		return r, true
	}
	return 0, false
}

// GetFreeReg returns a register of the given bank, spilling a victim if
// nothing is free.  The victim is chosen by a round-robin cursor over the
// allocatable registers, so repeated pressure rotates through the bank
// deterministically.  The returned register must eventually come back via
// Release of a Local bound to it (see NewLocalFromReg).
func (m *Manager) GetFreeReg(cat wa.ScalarCategory, dontUse reg.Set) reg.R {
	if r, ok := popFreeReg(&m.freeCalleeSave[cat], dontUse); ok {
		return r
	}
	if r, ok := popFreeReg(&m.freeRegs[cat], dontUse); ok {
		return r
	}

	for {
		r := reg.R(m.regCursor[cat])
		m.regCursor[cat] = (m.regCursor[cat] + 1) % m.d.RegCount

		if !m.d.allocatable(cat, r) || dontUse.Contains(r) {
			continue
		}

		victim := m.regs[bankIndex(cat, r)]
		if victim == nil {
			panic(errors.New("unoccupied register missing from free list"))
		}

		m.moveToStack(victim)

		// The spill pushed r onto a free list; take it back.
		m.takeFreeReg(cat, r)
		return r
	}
}

// Steal unbinds a dead value (no outstanding references) from its register
// without freeing the register, so it can be reused as a result in place.
func (m *Manager) Steal(x *Local) reg.R {
	if x.refs >= 1 {
		panic(errors.New("stealing the register of a referenced value"))
	}
	r := x.Loc().Reg()
	idx := bankIndex(x.Cat(), r)
	if m.regs[idx] != x {
		panic(errors.New("stolen register is not bound to the value"))
	}
	m.regs[idx] = nil
	x.l = loc.L{}
	return r
}

// NewLocalFromReg binds a fresh transient value to a register the caller has
// obtained from GetFreeReg or steal.
func (m *Manager) NewLocalFromReg(r reg.R, t wa.Type) *Local {
	idx := bankIndex(t.Category(), r)
	if m.regs[idx] != nil {
		panic(errors.New("creating value in an occupied register"))
	}
	m.takeFreeReg(t.Category(), r)
	x := New(loc.MakeReg(r), t)
	m.regs[idx] = x
	return x
}

// MoveToReg materializes a value into some register of its bank and rebinds
// it there.  Registers in dontUse are avoided.
func (m *Manager) MoveToReg(x *Local, dontUse reg.Set) reg.R {
	if x.Loc().Kind() == loc.Reg {
		return x.Loc().Reg()
	}

	r := m.GetFreeReg(x.Cat(), dontUse)
	m.moveData(x.Type(), x.Loc(), loc.MakeReg(r))
	m.Release(x)
	m.regs[bankIndex(x.Cat(), r)] = x
	x.l = loc.MakeReg(r)
	return r
}

// MoveToRegExcl is like MoveToReg, but also relocates the value if it is
// already in one of the dontUse registers.
func (m *Manager) MoveToRegExcl(x *Local, dontUse reg.Set) reg.R {
	if x.Loc().Kind() == loc.Reg && !dontUse.Contains(x.Loc().Reg()) {
		return x.Loc().Reg()
	}
	if x.Loc().Kind() != loc.Reg {
		return m.MoveToReg(x, dontUse)
	}

	old := x.Loc().Reg()
	r := m.GetFreeReg(x.Cat(), dontUse)
	m.e.MoveRegReg(x.Type(), old, r)
	m.Release(x)
	m.regs[bankIndex(x.Cat(), r)] = x
	x.l = loc.MakeReg(r)
	return r
}

// NormalizeLocal returns a value which is safe to relocate or mutate:
// immediates become stack-resident copies, and values with outstanding
// references are copied into a fresh register.  The original is untouched in
// the copying cases.
func (m *Manager) NormalizeLocal(x *Local) *Local {
	if x.Loc().Kind() == loc.Imm {
		nx := New(x.Loc(), x.Type())
		m.moveToStack(nx)
		return nx
	}

	if x.refs >= 1 {
		var r reg.R
		if x.Loc().Kind() == loc.Reg {
			r = m.GetFreeReg(x.Cat(), reg.MakeSet(x.Loc().Reg()))
		} else {
			r = m.GetFreeReg(x.Cat(), 0)
		}
		m.moveData(x.Type(), x.Loc(), loc.MakeReg(r))
		return m.NewLocalFromReg(r, x.Type())
	}

	return x
}

// RestoreLocal forces a value into a specific location, evicting the current
// occupant.  Returns the value which ends up there (a copy if the input was
// still referenced).
func (m *Manager) RestoreLocal(x *Local, target loc.L) *Local {
	x = m.NormalizeLocal(x)

	if x.Loc() == target {
		return x
	}

	switch target.Kind() {
	case loc.Reg:
		m.EvictReg(x.Cat(), target.Reg())

	case loc.Mem:
		if target.Base() != m.d.FP {
			panic(errors.New("restore target is not frame-relative"))
		}
		if other := m.stack[m.stackIndex(target.Disp())]; other != nil {
			m.moveToStack(other)
		}
		m.takeFreeStack(target.Disp())

	default:
		panic(errors.New("unexpected restore target"))
	}

	m.moveData(x.Type(), x.Loc(), target)
	m.Release(x)
	x.l = target

	switch target.Kind() {
	case loc.Reg:
		m.regs[bankIndex(x.Cat(), target.Reg())] = x
	case loc.Mem:
		m.stack[m.stackIndex(target.Disp())] = x
	}

	return x
}

// EvictReg spills the value occupying a register, and removes the register
// from the free lists.  The caller owns the register until it binds a value
// to it (NewLocalFromReg) or returns it (FreeReg).
func (m *Manager) EvictReg(cat wa.ScalarCategory, r reg.R) {
	if other := m.regs[bankIndex(cat, r)]; other != nil {
		m.moveToStack(other)
	}
	m.takeFreeReg(cat, r)
}

// FreeReg returns an unbound register to the free lists.
func (m *Manager) FreeReg(cat wa.ScalarCategory, r reg.R) {
	if m.regs[bankIndex(cat, r)] != nil {
		panic(errors.New("freeing an occupied register"))
	}
	m.pushFreeReg(cat, r)
}

// Release marks a value's location free for reuse.  Must be called exactly
// once per dead value; double release panics.
func (m *Manager) Release(x *Local) {
	switch x.Loc().Kind() {
	case loc.Reg:
		r := x.Loc().Reg()
		idx := bankIndex(x.Cat(), r)
		if m.regs[idx] != x {
			panic(errors.New("releasing a register which is not bound to the value"))
		}
		m.regs[idx] = nil
		m.pushFreeReg(x.Cat(), r)

	case loc.Mem:
		if x.Loc().Base() == m.d.FP {
			idx := m.stackIndex(x.Loc().Disp())
			if m.stack[idx] != x {
				panic(errors.New("releasing a stack slot which is not bound to the value"))
			}
			m.stack[idx] = nil
			m.freeStack = append(m.freeStack, x.Loc().Disp())
		}

	case loc.Imm, loc.None:
	}
}

// BlockBegin snapshots the stack depth and free-resource state at structured
// block entry.  The snapshot is authoritative for every branch to the block's
// label.
func (m *Manager) BlockBegin() {
	m.savedOffsets = append(m.savedOffsets, m.stackOffset)

	var s snapshot
	for cat := 0; cat < 2; cat++ {
		s.freeRegs[cat] = append([]reg.R(nil), m.freeRegs[cat]...)
		s.freeCalleeSave[cat] = append([]reg.R(nil), m.freeCalleeSave[cat]...)
	}
	s.freeStack = append([]int32(nil), m.freeStack...)
	m.savedBlocks = append(m.savedBlocks, s)
}

// BlockEnd restores the entry state, unwinding any native stack growth which
// happened inside the block.
func (m *Manager) BlockEnd() {
	n := len(m.savedBlocks)
	s := m.savedBlocks[n-1]
	m.savedBlocks = m.savedBlocks[:n-1]
	m.freeRegs = s.freeRegs
	m.freeCalleeSave = s.freeCalleeSave
	m.freeStack = s.freeStack

	n = len(m.savedOffsets)
	prev := m.savedOffsets[n-1]
	m.savedOffsets = m.savedOffsets[:n-1]

	if m.stackOffset != prev {
		m.e.ShrinkStack(prev - m.stackOffset)
		m.stackOffset = prev
		m.stack = m.stack[:m.numStackParams+int(-prev/m.d.WordSize)]
	}
}

// BlockReset re-enters the current block with its entry state (the else arm
// of an if).
func (m *Manager) BlockReset() {
	m.BlockEnd()
	m.BlockBegin()
}

// BrDepth emits the stack-pointer adjustment for branching out of depth
// nested blocks, without changing allocator state: the fall-through path (of
// a conditional branch) continues with the current layout.
func (m *Manager) BrDepth(depth int) {
	if depth > 0 {
		prev := m.savedOffsets[len(m.savedOffsets)-depth]
		if m.stackOffset != prev {
			m.e.ShrinkStack(prev - m.stackOffset)
		}
	}
}

// ReserveSlots dedicates n spill slots outside the free pool, in allocation
// order, and returns their offsets.  Callers use them as canonical frame
// locations which survive any allocator traffic; any alignment surplus goes
// to the pool.
func (m *Manager) ReserveSlots(n int) []int32 {
	if n == 0 {
		return nil
	}

	offsets := make([]int32, 0, n)
	count := m.e.GrowStack(n)
	for i := 0; i < count; i++ {
		m.stackOffset -= m.d.WordSize
		m.stack = append(m.stack, nil)
		if len(offsets) < n {
			offsets = append(offsets, m.stackOffset)
		} else {
			m.freeStack = append(m.freeStack, m.stackOffset)
		}
	}
	return offsets
}

// FlushTo forces a value into a dedicated frame slot (see ReserveSlots),
// rebinding it there regardless of outstanding references: all references
// share the value, so they observe the move.  A transient which claimed the
// slot through the free pool is relocated first.
func (m *Manager) FlushTo(x *Local, offset int32) {
	target := loc.MakeMem(m.d.FP, offset)
	if x.Loc() == target {
		return
	}

	idx := m.stackIndex(offset)
	if other := m.stack[idx]; other != nil {
		m.moveToStack(other)
	}
	m.takeFreeStack(offset)

	m.moveData(x.Type(), x.Loc(), target)
	m.Release(x)
	x.l = target
	m.stack[idx] = x
}

// SpillToStack forces a register-resident value into a spill slot, after
// which register pressure cannot move it.  Memory and immediate locations
// are already stable.
func (m *Manager) SpillToStack(x *Local) {
	if x.Loc().Kind() == loc.Reg {
		m.moveToStack(x)
	}
}

// BlockStackOffset returns the native stack offset at entry to the block
// depth levels out (1 is the innermost).
func (m *Manager) BlockStackOffset(depth int) int32 {
	return m.savedOffsets[len(m.savedOffsets)-depth]
}

// BeforeCall spills live caller-saved registers, reserves a 16-byte-aligned
// outgoing argument area, and marshals the VM context pointer and arguments
// into the caller's argument slots.
func (m *Manager) BeforeCall(args []*Local) {
	// Wide and float immediates cannot be marshaled without a register;
	// materialize them while the spill machinery is still free to run.
	for _, a := range args {
		if a.Loc().Kind() == loc.Imm && (a.Cat() == wa.Float || a.Loc().ImmWidth() == 64) {
			m.MoveToReg(a, 0)
		}
	}

	for r := 0; r < m.d.RegCount; r++ {
		if x := m.regs[bankIndex(wa.Int, reg.R(r))]; x != nil {
			if !m.d.CalleeSave.Contains(reg.R(r)) && !m.d.Reserved.Contains(reg.R(r)) {
				m.moveToStack(x)
			}
		}
		if x := m.regs[bankIndex(wa.Float, reg.R(r))]; x != nil {
			m.moveToStack(x)
		}
	}

	all := make([]wa.Type, 0, len(args)+1)
	all = append(all, wa.I64)
	for _, a := range args {
		all = append(all, a.Type())
	}

	area := int32(m.d.StackArgCount(all)) * m.d.WordSize
	if rem := (m.StackDepth() + area) % 16; rem != 0 {
		area += 16 - rem
	}

	m.savedOffsets = append(m.savedOffsets, m.stackOffset)

	if area > 0 {
		m.e.ReserveStack(area)
		m.stackOffset -= area
	}

	m.moveData(wa.I64, loc.MakeReg(m.d.VMContext), m.d.CallerArgLoc(all, 0))
	for i, a := range args {
		m.moveData(a.Type(), a.Loc(), m.d.CallerArgLoc(all, i+1))
	}
}

// AfterCall releases the outgoing argument area and binds the return
// register to a fresh value (nil for a void result).
func (m *Manager) AfterCall(result wa.Type) *Local {
	n := len(m.savedOffsets)
	prev := m.savedOffsets[n-1]
	m.savedOffsets = m.savedOffsets[:n-1]

	if m.stackOffset != prev {
		m.e.ShrinkStack(prev - m.stackOffset)
		m.stackOffset = prev
	}

	if result == wa.Void {
		return nil
	}
	return m.NewLocalFromReg(m.d.RetLoc(result).Reg(), result)
}

// SetReturn moves a value into the function's return location.
func (m *Manager) SetReturn(x *Local) {
	target := m.d.RetLoc(x.Type())
	if x.Loc() == target {
		return
	}
	m.moveData(x.Type(), x.Loc(), target)
}

// AssertNoneAllocated panics if any register or spill slot is still bound.
// The locals themselves must have been released first.
func (m *Manager) AssertNoneAllocated() {
	for i, x := range m.regs {
		if x != nil {
			panic(errors.Errorf("register bank entry %d leaked: %s", i, x))
		}
	}
	for i := m.numStackParams; i < len(m.stack); i++ {
		if m.stack[i] != nil {
			panic(errors.Errorf("stack slot %d leaked: %s", i, m.stack[i]))
		}
	}
}

func intType(t wa.Type) wa.Type {
	if t.Size() == wa.Size64 {
		return wa.I64
	}
	return wa.I32
}

// moveData emits a move between two locations, decomposing the combinations
// the hardware has no single instruction for.  Wide and float immediates go
// through a transient integer register.
func (m *Manager) moveData(t wa.Type, src, dst loc.L) {
	if debug.Enabled {
		debug.Printf("move %s: %s <- %s", t, dst, src)
	}

	switch {
	case src.Kind() == loc.Imm && dst.Kind() == loc.Reg:
		if t.Category() == wa.Float {
			ri := m.GetFreeReg(wa.Int, 0)
			m.e.MoveImmReg(intType(t), src.Imm(), ri)
			m.e.MoveIntToFloat(t, ri, dst.Reg())
			m.pushFreeReg(wa.Int, ri)
		} else {
			m.e.MoveImmReg(t, src.Imm(), dst.Reg())
		}

	case src.Kind() == loc.Imm && dst.Kind() == loc.Mem:
		if src.ImmWidth() == 64 {
			ri := m.GetFreeReg(wa.Int, 0)
			m.e.MoveImmReg(wa.I64, src.Imm(), ri)
			m.e.MoveRegMem(wa.I64, ri, dst.Base(), dst.Disp())
			m.pushFreeReg(wa.Int, ri)
		} else {
			m.e.MoveImmMem(intType(t), int32(src.Imm()), dst.Base(), dst.Disp())
		}

	case src.Kind() == loc.Reg && dst.Kind() == loc.Reg:
		m.e.MoveRegReg(t, src.Reg(), dst.Reg())

	case src.Kind() == loc.Reg && dst.Kind() == loc.Mem:
		m.e.MoveRegMem(t, src.Reg(), dst.Base(), dst.Disp())

	case src.Kind() == loc.Mem && dst.Kind() == loc.Reg:
		m.e.MoveMemReg(t, src.Base(), src.Disp(), dst.Reg())

	case src.Kind() == loc.Mem && dst.Kind() == loc.Mem:
		m.e.MoveMemMem(t, src.Base(), src.Disp(), dst.Base(), dst.Disp())

	default:
		panic(errors.Errorf("unsupported move: %s <- %s", dst, src))
	}
}
