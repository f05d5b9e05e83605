// Copyright (c) 2024 Timo Savola. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package singlepass compiles validated WebAssembly function bodies into
// native machine code in a single pass, without an intermediate
// representation.  Each function is compiled independently; the output is
// position-independent text with relocation, call-site and trap-site records
// for a linker to consume.
package singlepass

import (
	"gate.computer/singlepass/buffer"
	"gate.computer/singlepass/internal/code"
	"gate.computer/singlepass/internal/gen/codegen"
	"gate.computer/singlepass/internal/isa/amd64"
	"gate.computer/singlepass/internal/isa/arm64"
	"gate.computer/singlepass/internal/pan"
	"gate.computer/singlepass/layout"
	"gate.computer/singlepass/object"
	"gate.computer/singlepass/ops"
	"gate.computer/singlepass/wa"
)

// Arch is a compilation target.
type Arch int

const (
	AMD64 = Arch(iota)
	ARM64
)

func (a Arch) String() string {
	switch a {
	case AMD64:
		return "amd64"
	case ARM64:
		return "arm64"
	default:
		return "<invalid architecture>"
	}
}

// Config carries the module-level inputs of function compilation.  It is
// read-only during compilation and can be shared between functions and
// goroutines.
type Config struct {
	Arch       Arch
	Layout     *layout.Offsets
	Types      []wa.FuncType // Signature table, indexed by signature index.
	FuncTypes  []uint32      // Function index to signature index.
	Globals    []wa.Type     // Global variable types.
	NumImports uint32        // Imported functions precede local ones.
}

func (cfg *Config) moduleMap() *codegen.ModuleMap {
	return &codegen.ModuleMap{
		Types:      cfg.Types,
		FuncTypes:  cfg.FuncTypes,
		Globals:    cfg.Globals,
		NumImports: cfg.NumImports,
	}
}

func (cfg *Config) newMachine(buf code.Buffer) codegen.Machine {
	switch cfg.Arch {
	case AMD64:
		return amd64.New(buf, cfg.Layout, amd64.DetectFeatures())
	case ARM64:
		return arm64.New(buf, cfg.Layout)
	}
	pan.Panicf("unsupported architecture %d", int(cfg.Arch))
	return nil
}

// CompileFunction compiles one validated function body.  The signature lists
// the parameters; localTypes lists the non-parameter locals, which start out
// zero.  Input errors are returned; internal failures panic.
func CompileFunction(cfg *Config, sig wa.FuncType, localTypes []wa.Type, body []ops.Op) (_ *object.FunctionCode, err error) {
	defer func() { err = pan.Error(recover()) }()

	buf := buffer.NewDynamicHint(nil, len(body)*8+64)
	mach := cfg.newMachine(buf)

	codegen.Compile(mach, cfg.moduleMap(), sig, localTypes, body)
	trapSites := mach.FlushTraps()

	return &object.FunctionCode{
		Text:      buf.Bytes(),
		Relocs:    mach.Relocs(),
		CallSites: mach.CallSites(),
		TrapSites: trapSites,
	}, nil
}

// CompileTrampoline generates the host-to-function entry code for a
// signature.  The output depends only on the architecture and the signature;
// see TrampolineCache for sharing it between functions.
func CompileTrampoline(cfg *Config, sig wa.FuncType) (_ []byte, err error) {
	defer func() { err = pan.Error(recover()) }()

	buf := buffer.NewDynamic(nil)

	switch cfg.Arch {
	case AMD64:
		amd64.Trampoline(buf, sig)
	case ARM64:
		arm64.Trampoline(buf, sig)
	default:
		pan.Panicf("unsupported architecture %d", int(cfg.Arch))
	}

	return buf.Bytes(), nil
}
