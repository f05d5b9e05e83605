// Copyright (c) 2024 Timo Savola. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package singlepass

import (
	"sync"

	"gate.computer/singlepass/internal/pan"
	"gate.computer/singlepass/wa"
)

// SignatureRegistry interns function signatures, assigning dense indexes.
// Registration is append-only; indexes stay valid for the registry's
// lifetime.  The zero value is an empty registry.
type SignatureRegistry struct {
	mu   sync.RWMutex
	sigs []wa.FuncType
}

func (r *SignatureRegistry) lookup(sig wa.FuncType) (uint32, bool) {
	for i, s := range r.sigs {
		if s.Equal(sig) {
			return uint32(i), true
		}
	}
	return 0, false
}

// Register returns the signature's index, assigning one if it has not been
// seen before.
func (r *SignatureRegistry) Register(sig wa.FuncType) uint32 {
	r.mu.RLock()
	i, found := r.lookup(sig)
	r.mu.RUnlock()
	if found {
		return i
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if i, found := r.lookup(sig); found {
		return i
	}
	r.sigs = append(r.sigs, sig)
	return uint32(len(r.sigs) - 1)
}

// Get returns the signature registered at an index.
func (r *SignatureRegistry) Get(index uint32) wa.FuncType {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if int(index) >= len(r.sigs) {
		pan.Panicf("signature index %d out of range", index)
	}
	return r.sigs[index]
}

// Count returns the number of registered signatures.
func (r *SignatureRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sigs)
}

type trampolineKey struct {
	arch Arch
	sig  uint32
}

// TrampolineCache memoizes trampoline code, which depends only on the target
// architecture and the function signature.  The zero value is an empty
// cache.
type TrampolineCache struct {
	sigs SignatureRegistry

	mu   sync.RWMutex
	code map[trampolineKey][]byte
}

// Get returns the trampoline for a signature, compiling it on first use.
// The returned slice is shared; callers must not modify it.
func (c *TrampolineCache) Get(cfg *Config, sig wa.FuncType) ([]byte, error) {
	key := trampolineKey{cfg.Arch, c.sigs.Register(sig)}

	c.mu.RLock()
	text, found := c.code[key]
	c.mu.RUnlock()
	if found {
		return text, nil
	}

	text, err := CompileTrampoline(cfg, sig)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if old, found := c.code[key]; found {
		return old, nil
	}
	if c.code == nil {
		c.code = make(map[trampolineKey][]byte)
	}
	c.code[key] = text
	return text, nil
}
