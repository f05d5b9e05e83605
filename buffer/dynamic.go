// Copyright (c) 2024 Timo Savola. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package buffer implements code buffers.
package buffer

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// Dynamic is a variable-capacity code buffer.  The default value is a valid
// buffer.
type Dynamic struct {
	buf     []byte
	maxSize int // For limiting allocation; not enforced by this implementation.
}

// NewDynamic buffer.  The slice must be empty.
func NewDynamic(b []byte) *Dynamic {
	return NewDynamicHint(b, 0)
}

// NewDynamicHint avoids making excessive allocations if the maximum buffer
// size can be estimated in advance.  The slice must be empty.
func NewDynamicHint(b []byte, maxSizeHint int) *Dynamic {
	if len(b) != 0 {
		panic(errors.New("slice must be empty"))
	}
	return &Dynamic{b, maxSizeHint}
}

// Len doesn't panic.
func (d *Dynamic) Len() int {
	return len(d.buf)
}

// Bytes doesn't panic.
func (d *Dynamic) Bytes() []byte {
	return d.buf
}

// PutByte doesn't panic unless out of memory.
func (d *Dynamic) PutByte(value byte) {
	d.Extend(1)[0] = value
}

// PutUint32 doesn't panic unless out of memory.
func (d *Dynamic) PutUint32(i uint32) {
	binary.LittleEndian.PutUint32(d.Extend(4), i)
}

// PutUint64 doesn't panic unless out of memory.
func (d *Dynamic) PutUint64(i uint64) {
	binary.LittleEndian.PutUint64(d.Extend(8), i)
}

// Extend doesn't panic unless out of memory.
func (d *Dynamic) Extend(addLen int) []byte {
	offset := len(d.buf)

	if size := offset + addLen; size <= cap(d.buf) {
		if size < offset { // Check for overflow
			panic(errors.New("buffer size out of range"))
		}

		d.buf = d.buf[:size]
	} else {
		d.grow(addLen)
	}

	return d.buf[offset:]
}

func (d *Dynamic) grow(addLen int) {
	newSize := len(d.buf) + addLen
	if newSize < len(d.buf) {
		panic(errors.New("buffer size out of range"))
	}

	newCap := cap(d.buf)*2 + addLen
	if newCap < 512 {
		newCap = 512
	}
	if d.maxSize != 0 && newCap > d.maxSize {
		newCap = d.maxSize
	}
	if newCap < newSize {
		newCap = newSize
	}

	newBuf := make([]byte, newSize, newCap)
	copy(newBuf, d.buf)
	d.buf = newBuf
}
