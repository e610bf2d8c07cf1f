// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package main

import (
	"bytes"
	"flag"
	"os"
	"path/filepath"
	"testing"

	"gopkg.in/urfave/cli.v1"

	"github.com/viua-vm/viua/internal/elfimg"
	"github.com/viua-vm/viua/internal/isa"
)

func relocatableModule(t *testing.T, path string) {
	t.Helper()
	ins := []isa.Instruction{{Op: isa.RETURN}}
	text, err := isa.EncodeAll(ins)
	if err != nil {
		t.Fatalf("EncodeAll: %v", err)
	}
	img := &elfimg.Image{
		Type: elfimg.TypeRel,
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

func newTestContext(t *testing.T, args []string, o, typ string) *cli.Context {
	t.Helper()
	app := cli.NewApp()
	fs := flag.NewFlagSet("viua-ld", flag.ContinueOnError)
	fs.String("o", o, "")
	fs.String("type", typ, "")
	if err := fs.Parse(args); err != nil {
		t.Fatalf("parsing flags: %v", err)
	}
	return cli.NewContext(app, fs, nil)
}

func TestRunLinksOneModuleIntoExecutable(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "main.o")
	out := filepath.Join(dir, "prog.elf")
	relocatableModule(t, in)

	ctx := newTestContext(t, []string{in}, out, "exec")
	if err := run(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}

	raw, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("reading linked output: %v", err)
	}
	img, err := elfimg.Read(bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("reading linked image back: %v", err)
	}
	if img.Type != elfimg.TypeExec {
		t.Errorf("expected an executable image, got type %v", img.Type)
	}
	if _, ok := img.EntryPointSymbol(); !ok {
		t.Error("linked executable has no entry point symbol")
	}
}

func TestRunRejectsMissingOutputFlag(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "main.o")
	relocatableModule(t, in)

	ctx := newTestContext(t, []string{in}, "", "exec")
	if err := run(ctx); err == nil {
		t.Fatal("expected an error when -o is not given")
	}
}

func TestRunRejectsUnknownOutputType(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "main.o")
	out := filepath.Join(dir, "prog.elf")
	relocatableModule(t, in)

	ctx := newTestContext(t, []string{in}, out, "bogus")
	if err := run(ctx); err == nil {
		t.Fatal("expected an error for an unrecognised --type")
	}
}
