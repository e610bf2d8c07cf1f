// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package loader turns a parsed ELF image (internal/elfimg) into the
// function table a kernel registers (internal/kernel.Module), the load-side
// half of the pipeline original_source/src/kernel/kernel.cpp calls
// load_module: find every function symbol, cut out its instruction span,
// and rewrite its rodata references into the per-function string table
// ATOM/STRING lookups expect (internal/process.Function.RODataStrings,
// indexed the same way internal/process/exec.go's literalString reads it).
package loader

import (
	"fmt"
	"sort"

	"github.com/viua-vm/viua/internal/elfimg"
	"github.com/viua-vm/viua/internal/isa"
	"github.com/viua-vm/viua/internal/kernel"
	"github.com/viua-vm/viua/internal/process"
)

// rodataOps are the opcodes whose E-format immediate addresses a .rodata
// byte offset rather than an arbitrary constant.
var rodataOps = map[isa.Opcode]bool{
	isa.ATOM:   true,
	isa.STRING: true,
}

// Module builds a kernel.Module named name from img: one process.Function
// per non-extern, non-jump-label function/closure/block symbol.
func Module(name string, img *elfimg.Image) (*kernel.Module, error) {
	var funcs []elfimg.Symbol
	for _, s := range img.Symbols {
		if s.Kind != elfimg.SymFunction && s.Kind != elfimg.SymClosure && s.Kind != elfimg.SymBlock {
			continue
		}
		if s.Extern || s.Linkage == elfimg.LinkageJumpLabel {
			continue
		}
		funcs = append(funcs, s)
	}
	sort.Slice(funcs, func(i, j int) bool { return funcs[i].Value < funcs[j].Value })

	mod := &kernel.Module{Name: name, Functions: make(map[string]*process.Function, len(funcs))}
	for _, sym := range funcs {
		fn, err := buildFunction(img, sym)
		if err != nil {
			return nil, err
		}
		fn.Module = name
		mod.Functions[sym.Name] = fn
	}
	return mod, nil
}

// buildFunction slices sym's instructions out of img.Text, decodes them,
// and rewrites any rodata-addressing immediate (ATOM/STRING) from a raw
// .rodata byte offset into an index into the function's own
// RODataStrings table, assigned in first-seen order (mirroring the
// linker's own "rewrite an operand to its resolved address" patching
// idiom in internal/linker.patchLoadPair).
func buildFunction(img *elfimg.Image, sym elfimg.Symbol) (*process.Function, error) {
	start := int(sym.Value) * isa.Size
	end := start + int(sym.Size)*isa.Size
	if start < 0 || end > len(img.Text) {
		return nil, fmt.Errorf("loader: function %q (addr %d, size %d words) out of .text range", sym.Name, sym.Value, sym.Size)
	}
	ins, err := isa.DecodeAll(img.Text[start:end])
	if err != nil {
		return nil, fmt.Errorf("loader: function %q: %w", sym.Name, err)
	}

	var strings []string
	seen := make(map[uint64]int64)
	for i, one := range ins {
		if !rodataOps[one.Op.Bare()] {
			continue
		}
		offset := uint64(one.Imm)
		idx, ok := seen[offset]
		if !ok {
			data, err := img.RodataEntry(offset)
			if err != nil {
				return nil, fmt.Errorf("loader: function %q: %w", sym.Name, err)
			}
			idx = int64(len(strings))
			strings = append(strings, string(data))
			seen[offset] = idx
		}
		ins[i].Imm = idx
	}

	return &process.Function{
		Name:          sym.Name,
		Text:          ins,
		RODataStrings: strings,
	}, nil
}
