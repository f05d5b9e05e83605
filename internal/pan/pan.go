// Copyright (c) 2024 Timo Savola. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package pan

import (
	"golang.org/x/xerrors"
	"import.name/pan"
)

var z = new(pan.Zone)

var (
	Check = z.Check
	Wrap  = z.Wrap
	Panic = z.Panic
)

// Error converts a recovered panic value into an error if it originated in
// this package.  Other panic values (including runtime errors) resume
// panicking: they indicate compiler bugs, not input errors.
func Error(x any) error {
	return z.Error(x)
}

// Panicf raises a compile-time-fatal condition which the public API boundary
// reports as an error.
func Panicf(format string, args ...any) {
	z.Panic(xerrors.Errorf(format, args...))
}

func Must[T any](x T, err error) T {
	Check(err)
	return x
}
