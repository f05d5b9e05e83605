// Copyright (c) 2024 Timo Savola. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package code

// Buffer is the target for machine code.
type Buffer interface {
	Bytes() []byte
	Extend(n int) []byte
	PutByte(byte)
	PutUint32(uint32) // Little-endian byte order.
	PutUint64(uint64) // Little-endian byte order.
}

// Buf is a code buffer with a cached length.  All writes must go through the
// overriding methods so that Addr stays current.
type Buf struct {
	Buffer
	Addr int32
}

func (buf *Buf) Extend(n int) []byte {
	buf.Addr += int32(n)
	return buf.Buffer.Extend(n)
}

func (buf *Buf) PutByte(b byte) {
	buf.Addr++
	buf.Buffer.PutByte(b)
}

func (buf *Buf) PutUint32(v uint32) {
	buf.Addr += 4
	buf.Buffer.PutUint32(v)
}

func (buf *Buf) PutUint64(v uint64) {
	buf.Addr += 8
	buf.Buffer.PutUint64(v)
}
