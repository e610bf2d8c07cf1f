// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package elfimg

import (
	"debug/elf"
	"encoding/binary"
	"fmt"
)

// Symbol is one entry of .symtab, narrowed to the fields the VM and linker
// care about (§3 "Symbol", §4.6).
type Symbol struct {
	Name       string
	Kind       SymbolKind
	Linkage    Linkage
	Value      uint64 // st_value: .text offset for functions, .rodata offset for objects
	Size       uint64
	Extern     bool // st_value == 0 and the symbol is undefined in this module
	EntryPoint bool // file-scope entry_point attribute (§4.6)
}

// Relocation is one .rel entry: a LUI/LLI pair at Offset (into .text,
// pointing at the LUI word; the LLI word is the next instruction slot)
// needs patching to the runtime address of Symbol.
type Relocation struct {
	Offset int // instruction index into .text, not byte offset
	Symbol string
}

// Image is a parsed Viua ELF64 module: an object file (ET_REL) or an
// executable (ET_EXEC), per §3 "Module" and §4.6.
type Image struct {
	Type   elf.Type
	Entry  uint64 // e_entry, only meaningful for ET_EXEC
	Interp string // populated by Read; Write always emits the canonical Interp constant

	Text        []byte
	Rodata      []byte
	Symbols     []Symbol
	Relocations []Relocation
	Comment     string
}

// FunctionSymbol looks up a function symbol by name.
func (img *Image) FunctionSymbol(name string) (Symbol, bool) {
	for _, s := range img.Symbols {
		if s.Kind == SymFunction && s.Name == name {
			return s, true
		}
	}
	return Symbol{}, false
}

// EntryPointSymbol returns the symbol marked as the module's entry point,
// if any (§4.6: "must define an entry point ... if the output is an
// executable").
func (img *Image) EntryPointSymbol() (Symbol, bool) {
	for _, s := range img.Symbols {
		if s.EntryPoint {
			return s, true
		}
	}
	return Symbol{}, false
}

// RodataEntry reads the length-prefixed entry whose data begins at the
// given offset into .rodata (§6: "an offset into .rodata points to the
// data byte, not the size word").
func (img *Image) RodataEntry(offset uint64) ([]byte, error) {
	if offset < 8 || offset > uint64(len(img.Rodata)) {
		return nil, fmt.Errorf("elfimg: rodata offset %d has no length prefix", offset)
	}
	size := binary.LittleEndian.Uint64(img.Rodata[offset-8 : offset])
	end := offset + size
	if end > uint64(len(img.Rodata)) {
		return nil, fmt.Errorf("elfimg: rodata entry at %d (size %d) overruns section", offset, size)
	}
	return img.Rodata[offset:end], nil
}

// AppendRodata appends a length-prefixed entry to Rodata and returns the
// offset of its data (i.e. past the length prefix), matching the encoding
// RodataEntry reads back.
func (img *Image) AppendRodata(data []byte) uint64 {
	var lenBuf [8]byte
	binary.LittleEndian.PutUint64(lenBuf[:], uint64(len(data)))
	img.Rodata = append(img.Rodata, lenBuf[:]...)
	offset := uint64(len(img.Rodata))
	img.Rodata = append(img.Rodata, data...)
	return offset
}

// TextWords is the number of 64-bit instruction slots in Text.
func (img *Image) TextWords() int {
	return len(img.Text) / 8
}
