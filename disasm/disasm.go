// Copyright (c) 2024 Timo Savola. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build cgo

// Package disasm prints compiled function text as annotated assembly, for
// tests and debugging.
package disasm

import (
	"fmt"
	"io"
	"strings"

	"github.com/bnagy/gapstone"
	"github.com/pkg/errors"

	"gate.computer/singlepass"
	"gate.computer/singlepass/object"
)

// Fprint disassembles a compiled function, annotating the offsets which the
// relocation, call-site and trap-site records point at.
func Fprint(w io.Writer, arch singlepass.Arch, fn *object.FunctionCode) error {
	var (
		engine gapstone.Engine
		err    error
	)

	switch arch {
	case singlepass.AMD64:
		engine, err = gapstone.New(gapstone.CS_ARCH_X86, gapstone.CS_MODE_64)
	case singlepass.ARM64:
		engine, err = gapstone.New(gapstone.CS_ARCH_ARM64, gapstone.CS_MODE_ARM)
	default:
		return errors.Errorf("unsupported architecture: %s", arch)
	}
	if err != nil {
		return err
	}
	defer engine.Close()

	if arch == singlepass.AMD64 {
		if err := engine.SetOption(gapstone.CS_OPT_SYNTAX, gapstone.CS_OPT_SYNTAX_ATT); err != nil {
			return err
		}
	}

	insns, err := engine.Disasm(fn.Text, 0, 0)
	if err != nil {
		return err
	}

	notes := make(map[uint][]string)
	for _, r := range fn.Relocs {
		notes[uint(r.Offset)] = append(notes[uint(r.Offset)],
			fmt.Sprintf("reloc kind=%d target=%d/%d", r.Kind, r.Target.Kind, r.Target.Index))
	}
	for _, s := range fn.CallSites {
		notes[uint(s.Before)] = append(notes[uint(s.Before)],
			fmt.Sprintf("call site (return at %#x)", s.After))
	}
	for _, s := range fn.TrapSites {
		notes[uint(s.Offset)] = append(notes[uint(s.Offset)],
			fmt.Sprintf("trap: %s", s.ID))
	}

	for _, insn := range insns {
		line := strings.TrimSpace(fmt.Sprintf("%s\t%s", insn.Mnemonic, insn.OpStr))
		if ns := notes[insn.Address]; len(ns) > 0 {
			line = fmt.Sprintf("%-40s ; %s", line, strings.Join(ns, "; "))
		}
		if _, err := fmt.Fprintf(w, "%6x\t%s\n", insn.Address, line); err != nil {
			return err
		}
	}

	return nil
}
