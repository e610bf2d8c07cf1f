// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package disasm

import (
	"strings"
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

func TestModuleFoldsLongImmediate(t *testing.T) {
	out := isa.RegisterAccess{Set: isa.Local, Index: 1, Access: isa.Direct}
	pair := isa.LongImmediate(out, 42, false)
	ins := []isa.Instruction{pair[0], pair[1], {Op: isa.RETURN}}

	img := &elfimg.Image{
		Text: encode(t, ins),
		Symbols: []elfimg.Symbol{
			{Name: "main", Kind: elfimg.SymFunction, Linkage: elfimg.LinkageGlobal, Value: 0, Size: uint64(len(ins))},
		},
	}

	listings, err := Module(img)
	if err != nil {
		t.Fatalf("Module: %v", err)
	}
	if len(listings) != 1 {
		t.Fatalf("expected 1 listing, got %d", len(listings))
	}
	lines := listings[0].Lines
	if len(lines) != 2 {
		t.Fatalf("expected the LUI/LLI pair folded into 1 line plus return, got %d lines: %+v", len(lines), lines)
	}
	if !strings.HasPrefix(lines[0].Text, "li ") {
		t.Errorf("expected folded long-immediate line to start with \"li \", got %q", lines[0].Text)
	}
	if !strings.Contains(lines[0].Text, "42") {
		t.Errorf("expected folded line to carry the literal value, got %q", lines[0].Text)
	}
	if lines[1].Text != "return" {
		t.Errorf("expected second line to be \"return\", got %q", lines[1].Text)
	}
}

func TestModuleFoldsShortImmediate(t *testing.T) {
	out := isa.RegisterAccess{Set: isa.Local, Index: 2, Access: isa.Direct}
	ins := []isa.Instruction{
		isa.ShortImmediate(out, 7, false),
		{Op: isa.RETURN},
	}
	img := &elfimg.Image{
		Text: encode(t, ins),
		Symbols: []elfimg.Symbol{
			{Name: "f", Kind: elfimg.SymFunction, Linkage: elfimg.LinkageGlobal, Value: 0, Size: uint64(len(ins))},
		},
	}

	listings, err := Module(img)
	if err != nil {
		t.Fatalf("Module: %v", err)
	}
	if got := listings[0].Lines[0].Text; got != "li $2.local, 7" {
		t.Errorf("short immediate rendered as %q, want %q", got, "li $2.local, 7")
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

	listings, err := Module(img)
	if err != nil {
		t.Fatalf("Module: %v", err)
	}
	if len(listings) != 1 || listings[0].Symbol.Name != "main" {
		t.Fatalf("expected only \"main\" to be listed, got %+v", listings)
	}
}

func TestTextRendersASymbolHeaderPerFunction(t *testing.T) {
	ins := []isa.Instruction{{Op: isa.RETURN}}
	img := &elfimg.Image{
		Text: encode(t, ins),
		Symbols: []elfimg.Symbol{
			{Name: "main", Kind: elfimg.SymFunction, Linkage: elfimg.LinkageGlobal, Value: 0, Size: 1},
		},
	}

	out, err := Text(img)
	if err != nil {
		t.Fatalf("Text: %v", err)
	}
	if !strings.Contains(out, ".symbol main") || !strings.Contains(out, ".label main") {
		t.Errorf("expected a .symbol/.label header for main, got:\n%s", out)
	}
	if !strings.Contains(out, "return") {
		t.Errorf("expected the return instruction to be rendered, got:\n%s", out)
	}
}
