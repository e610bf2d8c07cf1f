// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package loader

import (
	"testing"

	"github.com/viua-vm/viua/internal/elfimg"
	"github.com/viua-vm/viua/internal/isa"
)

func encode(t *testing.T, ins []isa.Instruction) []byte {
	t.Helper()
	b, err := isa.EncodeAll(ins)
	if err != nil {
		t.Fatalf("EncodeAll: %v", err)
	}
	return b
}

func reg(idx uint8) isa.RegisterAccess {
	return isa.RegisterAccess{Set: isa.Local, Index: uint16(idx), Access: isa.Direct}
}

func TestModuleBuildsOneFunctionPerSymbol(t *testing.T) {
	img := &elfimg.Image{}
	offset := img.AppendRodata([]byte("hello"))

	ins := []isa.Instruction{
		{Op: isa.ATOM, Out: reg(1), Imm: int64(offset)},
		{Op: isa.RETURN},
	}
	img.Text = encode(t, ins)
	img.Symbols = []elfimg.Symbol{
		{Name: "main", Kind: elfimg.SymFunction, Linkage: elfimg.LinkageGlobal, Value: 0, Size: uint64(len(ins))},
	}

	mod, err := Module("test", img)
	if err != nil {
		t.Fatalf("Module: %v", err)
	}
	fn, ok := mod.Functions["main"]
	if !ok {
		t.Fatalf("expected a \"main\" function, got %+v", mod.Functions)
	}
	if fn.Module != "test" {
		t.Errorf("expected fn.Module %q, got %q", "test", fn.Module)
	}
	if len(fn.Text) != 2 {
		t.Fatalf("expected 2 instructions, got %d", len(fn.Text))
	}
	if fn.Text[0].Imm != 0 {
		t.Errorf("expected the rodata reference rewritten to index 0, got %d", fn.Text[0].Imm)
	}
	if len(fn.RODataStrings) != 1 || fn.RODataStrings[0] != "hello" {
		t.Fatalf("expected RODataStrings == [\"hello\"], got %v", fn.RODataStrings)
	}
}

func TestModuleDedupesRepeatedRodataReferences(t *testing.T) {
	img := &elfimg.Image{}
	offset := img.AppendRodata([]byte("again"))

	ins := []isa.Instruction{
		{Op: isa.STRING, Out: reg(1), Imm: int64(offset)},
		{Op: isa.STRING, Out: reg(2), Imm: int64(offset)},
		{Op: isa.RETURN},
	}
	img.Text = encode(t, ins)
	img.Symbols = []elfimg.Symbol{
		{Name: "f", Kind: elfimg.SymFunction, Linkage: elfimg.LinkageGlobal, Value: 0, Size: uint64(len(ins))},
	}

	mod, err := Module("test", img)
	if err != nil {
		t.Fatalf("Module: %v", err)
	}
	fn := mod.Functions["f"]
	if len(fn.RODataStrings) != 1 {
		t.Fatalf("expected one deduplicated rodata entry, got %v", fn.RODataStrings)
	}
	if fn.Text[0].Imm != 0 || fn.Text[1].Imm != 0 {
		t.Errorf("expected both references to share index 0, got %d and %d", fn.Text[0].Imm, fn.Text[1].Imm)
	}
}

func TestModuleSkipsExternAndJumpLabelSymbols(t *testing.T) {
	ins := []isa.Instruction{{Op: isa.RETURN}}
	img := &elfimg.Image{
		Text: encode(t, ins),
		Symbols: []elfimg.Symbol{
			{Name: "main", Kind: elfimg.SymFunction, Linkage: elfimg.LinkageGlobal, Value: 0, Size: 1},
			{Name: "ext::frob", Kind: elfimg.SymFunction, Extern: true},
			{Name: ".L0", Kind: elfimg.SymFunction, Linkage: elfimg.LinkageJumpLabel, Value: 0, Size: 1},
		},
	}

	mod, err := Module("test", img)
	if err != nil {
		t.Fatalf("Module: %v", err)
	}
	if len(mod.Functions) != 1 {
		t.Fatalf("expected only \"main\" to be loaded, got %v", mod.Functions)
	}
}
