// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/viua-vm/viua/internal/config"
	"github.com/viua-vm/viua/internal/elfimg"
	"github.com/viua-vm/viua/internal/isa"
)

func buildExecutable(t *testing.T) []byte {
	t.Helper()
	out := isa.RegisterAccess{Set: isa.Local, Index: 0, Access: isa.Direct}
	ins := []isa.Instruction{
		{Op: isa.ALLOCATE_REGISTERS, Out: isa.Void, Imm: 1},
		isa.ShortImmediate(out, 7, false),
		{Op: isa.RETURN},
	}
	text, err := isa.EncodeAll(ins)
	if err != nil {
		t.Fatalf("EncodeAll: %v", err)
	}

	img := &elfimg.Image{
		Type: elfimg.TypeExec,
		Text: text,
		Symbols: []elfimg.Symbol{
			{
				Name:       "main",
				Kind:       elfimg.SymFunction,
				Linkage:    elfimg.LinkageGlobal,
				Value:      0,
				Size:       uint64(len(ins)),
				EntryPoint: true,
			},
		},
	}

	raw, err := elfimg.Write(img)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	return raw
}

func TestExecuteRunsToCleanExit(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "program.elf")
	if err := os.WriteFile(path, buildExecutable(t), 0o755); err != nil {
		t.Fatalf("writing program: %v", err)
	}

	cfg := config.FromEnv()
	cfg.ProcSchedulers = 1
	cfg.IOSchedulers = 1

	code, err := execute(path, nil, cfg)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if code != 0 {
		t.Errorf("expected exit code 0, got %d", code)
	}
}

func TestExecuteRejectsRelocatableInput(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "program.o")

	img := &elfimg.Image{
		Type: elfimg.TypeRel,
		Symbols: []elfimg.Symbol{
			{Name: "main", Kind: elfimg.SymFunction, Linkage: elfimg.LinkageGlobal},
		},
	}
	raw, err := elfimg.Write(img)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := os.WriteFile(path, raw, 0o755); err != nil {
		t.Fatalf("writing program: %v", err)
	}

	cfg := config.FromEnv()
	code, err := execute(path, nil, cfg)
	if err == nil {
		t.Fatal("expected an error for a relocatable (non-executable) input")
	}
	if code != 2 {
		t.Errorf("expected exit code 2, got %d", code)
	}
}
