// Copyright (c) 2024 Timo Savola. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package local assigns registers and stack slots to WebAssembly locals and
// operand-stack values.
package local

import (
	"fmt"

	"gate.computer/singlepass/internal/gen/loc"
	"gate.computer/singlepass/wa"
)

// Local is a value in flight: its current location, value type, and the
// number of operand-stack references still outstanding.  WebAssembly locals
// hold one baseline reference for the locals array; transient results start
// at zero and are counted only while on the operand stack.
type Local struct {
	l    loc.L
	t    wa.Type
	refs int
}

func New(l loc.L, t wa.Type) *Local {
	return &Local{l: l, t: t}
}

func (x *Local) Loc() loc.L                { return x.l }
func (x *Local) Type() wa.Type             { return x.t }
func (x *Local) Cat() wa.ScalarCategory    { return x.t.Category() }
func (x *Local) Refs() int                 { return x.refs }
func (x *Local) Retain()                   { x.refs++ }
func (x *Local) Unref()                    { x.refs-- }
func (x *Local) SetBaseRef()               { x.refs = 1 }

func (x *Local) String() string {
	return fmt.Sprintf("%s %s (refs %d)", x.t, x.l, x.refs)
}
