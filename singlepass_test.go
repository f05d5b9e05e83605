// Copyright (c) 2024 Timo Savola. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package singlepass_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"gate.computer/singlepass"
	"gate.computer/singlepass/layout"
	"gate.computer/singlepass/object"
	"gate.computer/singlepass/ops"
	"gate.computer/singlepass/wa"
)

var archs = []singlepass.Arch{singlepass.AMD64, singlepass.ARM64}

func testConfig(arch singlepass.Arch) *singlepass.Config {
	return &singlepass.Config{
		Arch: arch,
		Layout: &layout.Offsets{
			ImportedFuncs: 0,
			Memories:      64,
			Tables:        128,
			Globals:       256,
			Builtins:      512,
		},
	}
}

func forEachArch(t *testing.T, f func(t *testing.T, cfg *singlepass.Config)) {
	for _, arch := range archs {
		arch := arch
		t.Run(arch.String(), func(t *testing.T) {
			f(t, testConfig(arch))
		})
	}
}

func TestAddFunction(t *testing.T) {
	sig := wa.FuncType{
		Params:  []wa.Type{wa.I32, wa.I32},
		Results: []wa.Type{wa.I32},
	}
	body := []ops.Op{
		ops.Local(ops.LocalGet, 0),
		ops.Local(ops.LocalGet, 1),
		ops.Simple(ops.I32Add),
		ops.Simple(ops.End),
	}

	forEachArch(t, func(t *testing.T, cfg *singlepass.Config) {
		fn, err := singlepass.CompileFunction(cfg, sig, nil, body)
		require.NoError(t, err)
		require.NotEmpty(t, fn.Text)
		require.Empty(t, fn.Relocs)
		require.Empty(t, fn.CallSites)
		require.Empty(t, fn.TrapSites)

		// Compilation is deterministic.
		again, err := singlepass.CompileFunction(cfg, sig, nil, body)
		require.NoError(t, err)
		require.Equal(t, fn.Text, again.Text)
	})
}

func TestSelfCall(t *testing.T) {
	params := make([]wa.Type, 10)
	for i := range params {
		params[i] = wa.I64
	}
	sig := wa.FuncType{Params: params, Results: []wa.Type{wa.I64}}

	body := make([]ops.Op, 0, 12)
	for i := range params {
		body = append(body, ops.Local(ops.LocalGet, uint32(i)))
	}
	body = append(body, ops.CallFunc(0), ops.Simple(ops.End))

	forEachArch(t, func(t *testing.T, cfg *singlepass.Config) {
		cfg.Types = []wa.FuncType{sig}
		cfg.FuncTypes = []uint32{0}

		fn, err := singlepass.CompileFunction(cfg, sig, nil, body)
		require.NoError(t, err)

		require.Len(t, fn.Relocs, 1)
		require.Equal(t, object.Abs8, fn.Relocs[0].Kind)
		require.Equal(t, object.TargetFunc, fn.Relocs[0].Target.Kind)
		require.Equal(t, uint32(0), fn.Relocs[0].Target.Index)
		require.True(t, int(fn.Relocs[0].Offset)+8 <= len(fn.Text))

		require.Len(t, fn.CallSites, 1)
		require.Less(t, fn.CallSites[0].Before, fn.CallSites[0].After)
		require.True(t, int(fn.CallSites[0].After) <= len(fn.Text))
	})
}

func TestImportedCall(t *testing.T) {
	sig := wa.FuncType{}

	body := []ops.Op{
		ops.CallFunc(0),
		ops.Simple(ops.End),
	}

	forEachArch(t, func(t *testing.T, cfg *singlepass.Config) {
		cfg.Types = []wa.FuncType{sig}
		cfg.FuncTypes = []uint32{0}
		cfg.NumImports = 1

		fn, err := singlepass.CompileFunction(cfg, sig, nil, body)
		require.NoError(t, err)

		// Imports are reached through the context; no relocation.
		require.Empty(t, fn.Relocs)
		require.Len(t, fn.CallSites, 1)
	})
}

func TestIfElse(t *testing.T) {
	sig := wa.FuncType{
		Params:  []wa.Type{wa.I32},
		Results: []wa.Type{wa.I32},
	}
	body := []ops.Op{
		ops.Local(ops.LocalGet, 0),
		ops.BlockType(ops.If, wa.I32),
		ops.ConstI32(1),
		ops.Simple(ops.Else),
		ops.ConstI32(2),
		ops.Simple(ops.End),
		ops.Simple(ops.End),
	}

	forEachArch(t, func(t *testing.T, cfg *singlepass.Config) {
		fn, err := singlepass.CompileFunction(cfg, sig, nil, body)
		require.NoError(t, err)
		require.NotEmpty(t, fn.Text)
		require.Empty(t, fn.Relocs)
	})
}

func TestIfWithoutElse(t *testing.T) {
	sig := wa.FuncType{Params: []wa.Type{wa.I32, wa.I32}}
	body := []ops.Op{
		ops.Local(ops.LocalGet, 0),
		ops.BlockType(ops.If, wa.Void),
		ops.ConstI32(7),
		ops.Local(ops.LocalSet, 1),
		ops.Simple(ops.End),
		ops.Simple(ops.End),
	}

	forEachArch(t, func(t *testing.T, cfg *singlepass.Config) {
		_, err := singlepass.CompileFunction(cfg, sig, nil, body)
		require.NoError(t, err)
	})
}

func TestLoopBackBranch(t *testing.T) {
	sig := wa.FuncType{
		Params:  []wa.Type{wa.I32},
		Results: []wa.Type{wa.I32},
	}

	// Count the parameter down to zero.
	body := []ops.Op{
		ops.BlockType(ops.Loop, wa.Void),
		ops.Local(ops.LocalGet, 0),
		ops.ConstI32(1),
		ops.Simple(ops.I32Sub),
		ops.Local(ops.LocalTee, 0),
		ops.BranchIf(0),
		ops.Simple(ops.End),
		ops.Local(ops.LocalGet, 0),
		ops.Simple(ops.End),
	}

	forEachArch(t, func(t *testing.T, cfg *singlepass.Config) {
		fn, err := singlepass.CompileFunction(cfg, sig, nil, body)
		require.NoError(t, err)
		require.NotEmpty(t, fn.Text)
	})
}

func TestBranchWithValue(t *testing.T) {
	sig := wa.FuncType{
		Params:  []wa.Type{wa.I32},
		Results: []wa.Type{wa.I32},
	}
	body := []ops.Op{
		ops.BlockType(ops.Block, wa.I32),
		ops.ConstI32(5),
		ops.Local(ops.LocalGet, 0),
		ops.BranchIf(0),
		ops.Simple(ops.Drop),
		ops.ConstI32(6),
		ops.Branch(0),
		ops.Simple(ops.End),
		ops.Simple(ops.End),
	}

	forEachArch(t, func(t *testing.T, cfg *singlepass.Config) {
		fn, err := singlepass.CompileFunction(cfg, sig, nil, body)
		require.NoError(t, err)
		require.NotEmpty(t, fn.Text)
	})
}

func TestReturnFromBlock(t *testing.T) {
	sig := wa.FuncType{
		Params:  []wa.Type{wa.I32},
		Results: []wa.Type{wa.I32},
	}
	body := []ops.Op{
		ops.BlockType(ops.Block, wa.Void),
		ops.Local(ops.LocalGet, 0),
		ops.Simple(ops.Return),
		ops.Simple(ops.End),
		ops.ConstI32(0),
		ops.Simple(ops.End),
	}

	forEachArch(t, func(t *testing.T, cfg *singlepass.Config) {
		_, err := singlepass.CompileFunction(cfg, sig, nil, body)
		require.NoError(t, err)
	})
}

func TestUnreachable(t *testing.T) {
	body := []ops.Op{
		ops.Simple(ops.Unreachable),
		ops.Simple(ops.End),
	}

	forEachArch(t, func(t *testing.T, cfg *singlepass.Config) {
		fn, err := singlepass.CompileFunction(cfg, wa.FuncType{}, nil, body)
		require.NoError(t, err)
		require.NotEmpty(t, fn.TrapSites)
	})
}

func TestLocalsAndGlobals(t *testing.T) {
	sig := wa.FuncType{Results: []wa.Type{wa.I64}}
	body := []ops.Op{
		ops.Global(ops.GlobalGet, 0),
		ops.Local(ops.LocalTee, 0),
		ops.Global(ops.GlobalSet, 1),
		ops.Local(ops.LocalGet, 0),
		ops.Simple(ops.End),
	}

	forEachArch(t, func(t *testing.T, cfg *singlepass.Config) {
		cfg.Globals = []wa.Type{wa.I64, wa.I64}

		_, err := singlepass.CompileFunction(cfg, sig, []wa.Type{wa.I64}, body)
		require.NoError(t, err)
	})
}

func TestMemoryAccess(t *testing.T) {
	sig := wa.FuncType{
		Params:  []wa.Type{wa.I32, wa.I32},
		Results: []wa.Type{wa.I32},
	}
	body := []ops.Op{
		ops.Local(ops.LocalGet, 0),
		ops.Local(ops.LocalGet, 1),
		ops.Memory(ops.I32Store, 0, 2),
		ops.Local(ops.LocalGet, 0),
		ops.Memory(ops.I32Load, 4, 2),
		ops.Simple(ops.End),
	}

	forEachArch(t, func(t *testing.T, cfg *singlepass.Config) {
		fn, err := singlepass.CompileFunction(cfg, sig, nil, body)
		require.NoError(t, err)

		// Out-of-bounds accesses trap.
		require.NotEmpty(t, fn.TrapSites)
	})
}

func TestFloatOps(t *testing.T) {
	sig := wa.FuncType{
		Params:  []wa.Type{wa.F64, wa.F64},
		Results: []wa.Type{wa.I32},
	}
	body := []ops.Op{
		ops.Local(ops.LocalGet, 0),
		ops.Local(ops.LocalGet, 1),
		ops.Simple(ops.F64Add),
		ops.ConstF64(2.5),
		ops.Simple(ops.F64Lt),
		ops.Simple(ops.End),
	}

	forEachArch(t, func(t *testing.T, cfg *singlepass.Config) {
		_, err := singlepass.CompileFunction(cfg, sig, nil, body)
		require.NoError(t, err)
	})
}

func TestSelect(t *testing.T) {
	sig := wa.FuncType{
		Params:  []wa.Type{wa.I64, wa.I64, wa.I32},
		Results: []wa.Type{wa.I64},
	}
	body := []ops.Op{
		ops.Local(ops.LocalGet, 0),
		ops.Local(ops.LocalGet, 1),
		ops.Local(ops.LocalGet, 2),
		ops.Simple(ops.Select),
		ops.Simple(ops.End),
	}

	forEachArch(t, func(t *testing.T, cfg *singlepass.Config) {
		_, err := singlepass.CompileFunction(cfg, sig, nil, body)
		require.NoError(t, err)
	})
}

func TestInputErrors(t *testing.T) {
	forEachArch(t, func(t *testing.T, cfg *singlepass.Config) {
		_, err := singlepass.CompileFunction(cfg, wa.FuncType{}, nil, []ops.Op{
			ops.ConstI32(0),
		})
		require.Error(t, err, "unterminated body")

		_, err = singlepass.CompileFunction(cfg, wa.FuncType{}, nil, []ops.Op{
			ops.Simple(ops.I32Add),
			ops.Simple(ops.End),
		})
		require.Error(t, err, "operand stack underflow")

		_, err = singlepass.CompileFunction(cfg, wa.FuncType{}, nil, []ops.Op{
			ops.Local(ops.LocalGet, 3),
			ops.Simple(ops.End),
		})
		require.Error(t, err, "local index out of range")
	})

	cfg := testConfig(singlepass.Arch(99))
	_, err := singlepass.CompileFunction(cfg, wa.FuncType{}, nil, []ops.Op{
		ops.Simple(ops.End),
	})
	require.Error(t, err)
}

func TestTrampoline(t *testing.T) {
	sig := wa.FuncType{
		Params:  []wa.Type{wa.I32, wa.F64, wa.I64},
		Results: []wa.Type{wa.I64},
	}

	forEachArch(t, func(t *testing.T, cfg *singlepass.Config) {
		text, err := singlepass.CompileTrampoline(cfg, sig)
		require.NoError(t, err)
		require.NotEmpty(t, text)

		again, err := singlepass.CompileTrampoline(cfg, sig)
		require.NoError(t, err)
		require.Equal(t, text, again)
	})
}

func TestTrampolineCache(t *testing.T) {
	sig1 := wa.FuncType{Params: []wa.Type{wa.I32}}
	sig2 := wa.FuncType{Params: []wa.Type{wa.I64}}

	var cache singlepass.TrampolineCache

	forEachArch(t, func(t *testing.T, cfg *singlepass.Config) {
		a, err := cache.Get(cfg, sig1)
		require.NoError(t, err)
		require.NotEmpty(t, a)

		b, err := cache.Get(cfg, sig2)
		require.NoError(t, err)

		// Same signature returns the cached code.
		c, err := cache.Get(cfg, sig1)
		require.NoError(t, err)
		require.Equal(t, a, c)
		require.NotEqual(t, a, b)
	})
}

func TestSignatureRegistry(t *testing.T) {
	var r singlepass.SignatureRegistry

	sig1 := wa.FuncType{Params: []wa.Type{wa.I32}}
	sig2 := wa.FuncType{Results: []wa.Type{wa.I32}}

	i := r.Register(sig1)
	j := r.Register(sig2)
	require.NotEqual(t, i, j)
	require.Equal(t, i, r.Register(sig1))
	require.Equal(t, j, r.Register(wa.FuncType{Results: []wa.Type{wa.I32}}))
	require.Equal(t, 2, r.Count())

	require.True(t, r.Get(i).Equal(sig1))
	require.True(t, r.Get(j).Equal(sig2))
}
