// Copyright (c) 2024 Timo Savola. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package reg

import (
	"testing"
)

func TestBitmap(t *testing.T) {
	if R(0).Bitmap() != 1 {
		t.Error(R(0).Bitmap())
	}
	if R(5).Bitmap() != 1<<5 {
		t.Error(R(5).Bitmap())
	}
	if R(31).Bitmap() != 1<<31 {
		t.Error(R(31).Bitmap())
	}
}

func TestSet(t *testing.T) {
	s := MakeSet(1, 3, 31)

	for r := R(0); r < 32; r++ {
		want := r == 1 || r == 3 || r == 31
		if s.Contains(r) != want {
			t.Errorf("register %s containment is %t", r, !want)
		}
	}

	s = s.With(7)
	if !s.Contains(7) {
		t.Error("register not added")
	}

	s = s.Without(3)
	if s.Contains(3) {
		t.Error("register not removed")
	}
	if !s.Contains(1) || !s.Contains(7) || !s.Contains(31) {
		t.Error("unrelated registers disturbed")
	}

	if Set(0).Contains(0) {
		t.Error("empty set contains a register")
	}
}

func TestSetIdempotent(t *testing.T) {
	s := MakeSet(2)
	if s.With(2) != s {
		t.Error("with an existing register changed the set")
	}
	if s.Without(9) != s {
		t.Error("without an absent register changed the set")
	}
}

func TestString(t *testing.T) {
	if s := R(13).String(); s != "r13" {
		t.Error(s)
	}
}
