// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package linker implements the single-pass static linker: it glues a
// main relocatable module and its dependencies' .text/.rodata/.symtab
// together, resolves cross-module symbol references, patches LUI/LLI
// relocation pairs with the resolved runtime address, and produces either
// an ET_EXEC (all relocations resolved, entry point set) or an ET_REL
// (unresolved externs preserved for a further link) image.
//
// Grounded directly on original_source/new/src/tools/exec/ld.cpp's
// stage::emit_elf / main flow: glue text+rodata+symtab+strtab from the
// inputs in argument order, then walk .rel entries patching the LUI/LLI
// pair at each relocation's text offset with the resolved symbol's
// address, split high/low 32 bits the same way ld.cpp's F::decode/encode
// roundtrip does.
package linker

import (
	"errors"
	"fmt"

	"github.com/viua-vm/viua/internal/elfimg"
	"github.com/viua-vm/viua/internal/isa"
)

// Sentinel errors, following the teacher's errors.New + fmt.Errorf("%w")
// idiom.
var (
	ErrNotRelocatable   = errors.New("linker: input module is not ET_REL")
	ErrMissingSection   = errors.New("linker: input module is missing a required section")
	ErrDuplicateSymbol  = errors.New("linker: duplicate global symbol definition")
	ErrUnresolvedSymbol = errors.New("linker: unresolved symbol reference")
	ErrNoEntryPoint     = errors.New("linker: no entry point defined for an executable")
	ErrEntryPointInLib  = errors.New("linker: entry point defined but output requested is a library")
)

// OutputType selects what kind of image Link produces.
type OutputType int

const (
	OutputExecutable OutputType = iota
	OutputRelocatable
)

// Options configures a Link invocation.
type Options struct {
	Type OutputType
}

// Link merges modules (main module first, per ld.cpp's CLI convention)
// into a single image. Every input must be ET_REL with the five required
// sections (§4.6).
func Link(modules []*elfimg.Image, opts Options) (*elfimg.Image, error) {
	if len(modules) == 0 {
		return nil, errors.New("linker: no input modules")
	}
	for i, m := range modules {
		if m.Type != elfimg.TypeRel {
			return nil, fmt.Errorf("%w: module %d", ErrNotRelocatable, i)
		}
		if len(m.Symbols) == 0 {
			return nil, fmt.Errorf("%w: module %d has no .symtab entries", ErrMissingSection, i)
		}
	}

	out := &elfimg.Image{}
	// Unit-local symbols (STB_LOCAL+STV_DEFAULT) are only visible within
	// their own module, so two modules may legally reuse the same name;
	// they get a per-module address map. Module-local and globally
	// exported symbols must be unique across the whole link, so they
	// share one link-wide map (and collisions are a hard error).
	globalFunctionAddr := make(map[string]uint64)
	globalObjectAddr := make(map[string]uint64)
	localFunctionAddr := make([]map[string]uint64, len(modules))
	localObjectAddr := make([]map[string]uint64, len(modules))

	var entryName string
	var haveEntry bool

	textWordOffset := make([]int, len(modules)) // module index -> .text word offset in out.Text
	rodataByteOffset := make([]uint64, len(modules))

	for i, m := range modules {
		localFunctionAddr[i] = make(map[string]uint64)
		localObjectAddr[i] = make(map[string]uint64)

		textWordOffset[i] = out.TextWords()
		out.Text = append(out.Text, m.Text...)
		rodataByteOffset[i] = uint64(len(out.Rodata))
		out.Rodata = append(out.Rodata, m.Rodata...)

		for _, sym := range m.Symbols {
			if sym.Extern {
				continue // reference only; resolved in the relocation pass below
			}
			isFunc := sym.Kind == elfimg.SymFunction || sym.Kind == elfimg.SymClosure || sym.Kind == elfimg.SymBlock
			var addr uint64
			if isFunc {
				addr = sym.Value + uint64(textWordOffset[i])
			} else {
				addr = sym.Value + rodataByteOffset[i]
			}

			if sym.Linkage == elfimg.LinkageUnitLocal {
				if isFunc {
					localFunctionAddr[i][sym.Name] = addr
				} else {
					localObjectAddr[i][sym.Name] = addr
				}
			} else {
				table := globalObjectAddr
				if isFunc {
					table = globalFunctionAddr
				}
				if _, dup := table[sym.Name]; dup {
					return nil, fmt.Errorf("%w: %q", ErrDuplicateSymbol, sym.Name)
				}
				table[sym.Name] = addr
			}

			out.Symbols = append(out.Symbols, elfimg.Symbol{
				Name: sym.Name, Kind: sym.Kind, Linkage: sym.Linkage,
				Value: addr, Size: sym.Size,
			})
			if sym.EntryPoint {
				if haveEntry {
					return nil, fmt.Errorf("linker: more than one entry point defined (%q and %q)", entryName, sym.Name)
				}
				entryName, haveEntry = sym.Name, true
			}
		}
	}

	resolve := func(moduleIdx int, name string) (uint64, bool) {
		if addr, ok := localFunctionAddr[moduleIdx][name]; ok {
			return addr, true
		}
		if addr, ok := localObjectAddr[moduleIdx][name]; ok {
			return addr, true
		}
		if addr, ok := globalFunctionAddr[name]; ok {
			return addr, true
		}
		if addr, ok := globalObjectAddr[name]; ok {
			return addr, true
		}
		return 0, false
	}

	var unresolved []elfimg.Relocation
	for i, m := range modules {
		for _, rel := range m.Relocations {
			absoluteOffset := rel.Offset + textWordOffset[i]

			addr, ok := resolve(i, rel.Symbol)
			if !ok {
				if opts.Type == OutputRelocatable {
					unresolved = append(unresolved, elfimg.Relocation{Offset: absoluteOffset, Symbol: rel.Symbol})
					continue
				}
				return nil, fmt.Errorf("%w: %q", ErrUnresolvedSymbol, rel.Symbol)
			}
			if err := patchLoadPair(out.Text, absoluteOffset, addr); err != nil {
				return nil, err
			}
		}
	}

	switch opts.Type {
	case OutputExecutable:
		if !haveEntry {
			return nil, ErrNoEntryPoint
		}
		out.Type = elfimg.TypeExec
		entryAddr, ok := resolve(0, entryName)
		if !ok {
			return nil, fmt.Errorf("linker: internal error: entry point %q has no recorded address", entryName)
		}
		out.Entry = entryAddr
	case OutputRelocatable:
		out.Type = elfimg.TypeRel
		out.Relocations = unresolved
		if haveEntry {
			return nil, ErrEntryPointInLib
		}
	}

	return out, nil
}

// patchLoadPair rewrites the LUI/LLI instruction pair at text word index
// offset (LUI at offset, LLI at offset+1) to load addr, mirroring
// ld.cpp's F::decode/F{opcode, out, hi/lo}.encode() round trip: the
// opcode and destination register of each half are preserved, only the
// 32-bit immediate half changes.
func patchLoadPair(text []byte, offset int, addr uint64) error {
	if offset < 0 || (offset+2)*isa.Size > len(text) {
		return fmt.Errorf("linker: relocation offset %d is out of range for a %d-word .text", offset, len(text)/isa.Size)
	}

	words, err := isa.DecodeAll(text[offset*isa.Size : (offset+2)*isa.Size])
	if err != nil {
		return fmt.Errorf("linker: decoding relocation target: %w", err)
	}
	if len(words) != 2 || words[0].Op.Bare() != isa.LUI || words[1].Op.Bare() != isa.LLI {
		return fmt.Errorf("linker: relocation at word %d does not target a LUI/LLI pair", offset)
	}

	words[0].Imm = int64(int32(addr >> 32))
	words[1].Imm = int64(int32(addr & 0xffffffff))

	patched, err := isa.EncodeAll(words)
	if err != nil {
		return fmt.Errorf("linker: re-encoding patched LUI/LLI pair: %w", err)
	}
	copy(text[offset*isa.Size:(offset+2)*isa.Size], patched)
	return nil
}
