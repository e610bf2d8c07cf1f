// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package linker

import (
	"testing"

	"github.com/viua-vm/viua/internal/elfimg"
	"github.com/viua-vm/viua/internal/isa"
)

func luiLli(addr uint64) []isa.Instruction {
	out := isa.RegisterAccess{Set: isa.Local, Index: 0, Access: isa.Direct}
	pair := isa.LongImmediate(out, addr, false)
	return []isa.Instruction{pair[0], pair[1]}
}

func mustEncode(t *testing.T, ins []isa.Instruction) []byte {
	t.Helper()
	b, err := isa.EncodeAll(ins)
	if err != nil {
		t.Fatalf("EncodeAll: %v", err)
	}
	return b
}

func TestLinkResolvesCrossModuleCall(t *testing.T) {
	mainText := mustEncode(t, append(luiLli(0), isa.Instruction{Op: isa.RETURN}))
	libText := mustEncode(t, []isa.Instruction{{Op: isa.RETURN}})

	mainModule := &elfimg.Image{
		Type: elfimg.TypeRel,
		Text: mainText,
		Symbols: []elfimg.Symbol{
			{Name: "main", Kind: elfimg.SymFunction, Linkage: elfimg.LinkageGlobal, Value: 0, Size: 3, EntryPoint: true},
			{Name: "frob", Kind: elfimg.SymFunction, Extern: true},
		},
		Relocations: []elfimg.Relocation{{Offset: 0, Symbol: "frob"}},
	}
	libModule := &elfimg.Image{
		Type: elfimg.TypeRel,
		Text: libText,
		Symbols: []elfimg.Symbol{
			{Name: "frob", Kind: elfimg.SymFunction, Linkage: elfimg.LinkageGlobal, Value: 0, Size: 1},
		},
	}

	out, err := Link([]*elfimg.Image{mainModule, libModule}, Options{Type: OutputExecutable})
	if err != nil {
		t.Fatalf("Link: %v", err)
	}
	if out.Type != elfimg.TypeExec {
		t.Fatalf("expected an executable image")
	}
	// frob is appended after main's 3 words, so its address is word index 3.
	if out.Entry != 0 {
		t.Fatalf("expected entry at word 0 (main), got %d", out.Entry)
	}

	words, err := isa.DecodeAll(out.Text[:2*isa.Size])
	if err != nil {
		t.Fatalf("DecodeAll: %v", err)
	}
	patchedHi := uint64(uint32(words[0].Imm)) << 32
	patchedLo := uint64(uint32(words[1].Imm))
	if got := patchedHi | patchedLo; got != 3 {
		t.Fatalf("expected patched address 3 (frob's word offset), got %d", got)
	}
}

func TestLinkRejectsUnresolvedSymbolForExecutable(t *testing.T) {
	mainText := mustEncode(t, append(luiLli(0), isa.Instruction{Op: isa.RETURN}))
	mainModule := &elfimg.Image{
		Type: elfimg.TypeRel,
		Text: mainText,
		Symbols: []elfimg.Symbol{
			{Name: "main", Kind: elfimg.SymFunction, Linkage: elfimg.LinkageGlobal, EntryPoint: true},
		},
		Relocations: []elfimg.Relocation{{Offset: 0, Symbol: "missing"}},
	}

	if _, err := Link([]*elfimg.Image{mainModule}, Options{Type: OutputExecutable}); err == nil {
		t.Fatalf("expected an unresolved-symbol error")
	}
}

func TestLinkRelocatableKeepsUnresolvedSymbols(t *testing.T) {
	mainText := mustEncode(t, append(luiLli(0), isa.Instruction{Op: isa.RETURN}))
	mainModule := &elfimg.Image{
		Type: elfimg.TypeRel,
		Text: mainText,
		Symbols: []elfimg.Symbol{
			{Name: "helper", Kind: elfimg.SymFunction, Linkage: elfimg.LinkageGlobal},
		},
		Relocations: []elfimg.Relocation{{Offset: 0, Symbol: "ext::frob"}},
	}

	out, err := Link([]*elfimg.Image{mainModule}, Options{Type: OutputRelocatable})
	if err != nil {
		t.Fatalf("Link: %v", err)
	}
	if out.Type != elfimg.TypeRel {
		t.Fatalf("expected a relocatable image")
	}
	if len(out.Relocations) != 1 || out.Relocations[0].Symbol != "ext::frob" {
		t.Fatalf("expected the unresolved relocation to be carried forward, got %+v", out.Relocations)
	}
}

func TestLinkRejectsDuplicateGlobalSymbol(t *testing.T) {
	a := &elfimg.Image{
		Type: elfimg.TypeRel,
		Text: mustEncode(t, []isa.Instruction{{Op: isa.RETURN}}),
		Symbols: []elfimg.Symbol{
			{Name: "shared", Kind: elfimg.SymFunction, Linkage: elfimg.LinkageGlobal},
		},
	}
	b := &elfimg.Image{
		Type: elfimg.TypeRel,
		Text: mustEncode(t, []isa.Instruction{{Op: isa.RETURN}}),
		Symbols: []elfimg.Symbol{
			{Name: "shared", Kind: elfimg.SymFunction, Linkage: elfimg.LinkageGlobal},
		},
	}

	if _, err := Link([]*elfimg.Image{a, b}, Options{Type: OutputRelocatable}); err == nil {
		t.Fatalf("expected a duplicate-symbol error")
	}
}

func TestLinkAllowsDuplicateUnitLocalSymbols(t *testing.T) {
	a := &elfimg.Image{
		Type: elfimg.TypeRel,
		Text: mustEncode(t, []isa.Instruction{{Op: isa.RETURN}}),
		Symbols: []elfimg.Symbol{
			{Name: "helper", Kind: elfimg.SymFunction, Linkage: elfimg.LinkageUnitLocal},
		},
	}
	b := &elfimg.Image{
		Type: elfimg.TypeRel,
		Text: mustEncode(t, []isa.Instruction{{Op: isa.RETURN}}),
		Symbols: []elfimg.Symbol{
			{Name: "helper", Kind: elfimg.SymFunction, Linkage: elfimg.LinkageUnitLocal},
		},
	}

	if _, err := Link([]*elfimg.Image{a, b}, Options{Type: OutputRelocatable}); err != nil {
		t.Fatalf("Link: %v", err)
	}
}
