// Copyright (c) 2024 Timo Savola. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package reg

import (
	"fmt"
)

// R is a register index.  The mapping to architecture registers is a total
// bijection over 0..31 per register bank.
type R byte

func (r R) String() string {
	return fmt.Sprintf("r%d", byte(r))
}

// Bitmap of the register.
func (r R) Bitmap() uint32 {
	return uint32(1) << r
}

// Set of registers within one bank.
type Set uint32

func MakeSet(regs ...R) (s Set) {
	for _, r := range regs {
		s |= Set(r.Bitmap())
	}
	return
}

func (s Set) Contains(r R) bool {
	return s&Set(r.Bitmap()) != 0
}

func (s Set) With(r R) Set {
	return s | Set(r.Bitmap())
}

func (s Set) Without(r R) Set {
	return s &^ Set(r.Bitmap())
}
