// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package main

import (
	"flag"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gopkg.in/urfave/cli.v1"

	"github.com/viua-vm/viua/internal/elfimg"
	"github.com/viua-vm/viua/internal/isa"
)

func sampleExecutable(t *testing.T, path string) {
	t.Helper()
	ins := []isa.Instruction{{Op: isa.RETURN}}
	text, err := isa.EncodeAll(ins)
	if err != nil {
		t.Fatalf("EncodeAll: %v", err)
	}
	img := &elfimg.Image{
		Type: elfimg.TypeExec,
		Text: text,
		Symbols: []elfimg.Symbol{
			{Name: "main", Kind: elfimg.SymFunction, Linkage: elfimg.LinkageGlobal, Value: 0, Size: uint64(len(ins)), EntryPoint: true},
		},
	}
	raw, err := elfimg.Write(img)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		t.Fatalf("writing %s: %v", path, err)
	}
}

func newTestContext(t *testing.T, args []string, o string) *cli.Context {
	t.Helper()
	app := cli.NewApp()
	fs := flag.NewFlagSet("viua-dis", flag.ContinueOnError)
	fs.String("o", o, "")
	if err := fs.Parse(args); err != nil {
		t.Fatalf("parsing flags: %v", err)
	}
	return cli.NewContext(app, fs, nil)
}

func TestRunWritesListingToFile(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "prog.elf")
	out := filepath.Join(dir, "prog.s")
	sampleExecutable(t, in)

	ctx := newTestContext(t, []string{in}, out)
	if err := run(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}

	listing, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("reading listing: %v", err)
	}
	if !strings.Contains(string(listing), "main") {
		t.Errorf("listing does not mention the main function: %q", listing)
	}
}

func TestRunRejectsMissingInput(t *testing.T) {
	ctx := newTestContext(t, nil, "")
	if err := run(ctx); err == nil {
		t.Fatal("expected an error with no input file")
	}
}

func TestRunRejectsUnreadableInput(t *testing.T) {
	dir := t.TempDir()
	ctx := newTestContext(t, []string{filepath.Join(dir, "missing.elf")}, "")
	if err := run(ctx); err == nil {
		t.Fatal("expected an error for a nonexistent input file")
	}
}
