// Copyright (c) 2024 Timo Savola. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package link

import (
	"github.com/pkg/errors"
)

// L is a label and the set of branch sites which refer to it.  Site addresses
// are specific to the architecture's branch encoding.
type L struct {
	Sites []int32
	Addr  int32
}

func (l *L) AddSite(addr int32) {
	l.Sites = append(l.Sites, addr)
}

func (l *L) FinalAddr() int32 {
	if l.Addr == 0 {
		panic(errors.New("label address has not been set"))
	}
	return l.Addr
}
