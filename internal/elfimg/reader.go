// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package elfimg

import (
	"bytes"
	"debug/elf"
	"errors"
	"fmt"
	"io"
)

// Sentinel errors for malformed modules, following the teacher's
// errors.New + fmt.Errorf("%w: ...") sentinel idiom.
var (
	ErrBadMagic  = errors.New("elfimg: missing or incorrect .viua.magic section")
	ErrBadInterp = errors.New("elfimg: missing or incorrect .interp section")
	ErrNotELF64  = errors.New("elfimg: not a 64-bit little-endian ELF")
	ErrNoSymtab  = errors.New("elfimg: module has no usable .symtab")
)

// requiredSections for an ET_REL input module (§4.6: "must be ET_REL with
// at least .text, .rodata, .symtab, .strtab, .rel").
var requiredRelSections = []string{".text", ".rodata", ".symtab", ".strtab", ".rel"}

// Read parses a Viua ELF64 image from r, validating the magic and interp
// sections and indexing symbols, per §4.6's loader algorithm.
func Read(r io.ReaderAt) (*Image, error) {
	f, err := elf.NewFile(r)
	if err != nil {
		return nil, fmt.Errorf("elfimg: parsing ELF: %w", err)
	}
	defer f.Close()

	if f.Class != elf.ELFCLASS64 || f.Data != elf.ELFDATA2LSB {
		return nil, ErrNotELF64
	}

	magic := f.Section(".viua.magic")
	if magic == nil {
		return nil, ErrBadMagic
	}
	// Write stores .viua.magic as a PROGBITS section holding Magic, so its
	// contents must match that byte pattern exactly.
	magicBytes, err := magic.Data()
	if err != nil || !bytes.Equal(magicBytes, Magic[:]) {
		return nil, ErrBadMagic
	}

	interpSec := f.Section(".interp")
	if interpSec == nil {
		return nil, ErrBadInterp
	}
	interpBytes, err := interpSec.Data()
	if err != nil {
		return nil, fmt.Errorf("elfimg: reading .interp: %w", err)
	}
	interp := string(bytes.TrimRight(interpBytes, "\x00"))
	if interp != "viua-vm" {
		return nil, fmt.Errorf("%w: got %q", ErrBadInterp, interp)
	}

	if f.Type == elf.ET_REL {
		for _, name := range requiredRelSections {
			if f.Section(name) == nil {
				return nil, fmt.Errorf("elfimg: relocatable module missing required section %q", name)
			}
		}
	}

	img := &Image{Type: f.Type, Entry: f.Entry, Interp: interp}

	if textSec := f.Section(".text"); textSec != nil {
		data, err := textSec.Data()
		if err != nil {
			return nil, fmt.Errorf("elfimg: reading .text: %w", err)
		}
		img.Text = data
	}
	if rodataSec := f.Section(".rodata"); rodataSec != nil {
		data, err := rodataSec.Data()
		if err != nil {
			return nil, fmt.Errorf("elfimg: reading .rodata: %w", err)
		}
		img.Rodata = data
	}
	if commentSec := f.Section(".comment"); commentSec != nil {
		data, err := commentSec.Data()
		if err != nil {
			return nil, fmt.Errorf("elfimg: reading .comment: %w", err)
		}
		img.Comment = string(data)
	}

	symbols, err := f.Symbols()
	if err != nil && !errors.Is(err, elf.ErrNoSymbols) {
		return nil, fmt.Errorf("elfimg: reading .symtab: %w", err)
	}
	for _, sym := range symbols {
		s := Symbol{
			Name:    sym.Name,
			Value:   sym.Value,
			Size:    sym.Size,
			Extern:  sym.Value == 0 && sym.Section == elf.SHN_UNDEF,
			Linkage: ClassifyLinkage(elf.ST_BIND(sym.Info), elf.ST_VISIBILITY(sym.Other), elf.ST_TYPE(sym.Info)),
		}
		switch elf.ST_TYPE(sym.Info) {
		case elf.STT_FUNC:
			s.Kind = SymFunction
		case elf.STT_OBJECT:
			s.Kind = SymObject
		default:
			continue
		}
		// entry_point attribute (§4.6) is carried as a reserved high bit
		// of st_other (standard ELF leaves bits above STV_* unused); bit 3
		// is the convention this module format assigns it.
		s.EntryPoint = sym.Other&0x08 != 0
		img.Symbols = append(img.Symbols, s)
	}
	if len(img.Symbols) == 0 && f.Type == elf.ET_REL {
		return nil, ErrNoSymtab
	}

	if relSec := f.Section(".rel"); relSec != nil {
		data, err := relSec.Data()
		if err != nil {
			return nil, fmt.Errorf("elfimg: reading .rel: %w", err)
		}
		rels, err := decodeRelocations(data, symbols)
		if err != nil {
			return nil, err
		}
		img.Relocations = rels
	}

	return img, nil
}

// relEntrySize is the on-disk width of one Elf64_Rel-shaped entry as this
// format writes it: r_offset (8 bytes, instruction index not byte offset)
// + r_sym (8 bytes, index into the symbol table in file order).
const relEntrySize = 16

func decodeRelocations(data []byte, symbols []elf.Symbol) ([]Relocation, error) {
	if len(data)%relEntrySize != 0 {
		return nil, fmt.Errorf("elfimg: .rel size %d is not a multiple of %d", len(data), relEntrySize)
	}
	var out []Relocation
	for i := 0; i+relEntrySize <= len(data); i += relEntrySize {
		offset := le64(data[i:])
		// symIdx is a raw .symtab index, counting the mandatory STN_UNDEF
		// null entry at 0; debug/elf's Symbols() already strips that
		// entry, so the corresponding slice index is symIdx-1.
		symIdx := le64(data[i+8:])
		if symIdx == 0 || int(symIdx-1) >= len(symbols) {
			return nil, fmt.Errorf("elfimg: relocation references out-of-range symbol %d", symIdx)
		}
		out = append(out, Relocation{Offset: int(offset), Symbol: symbols[symIdx-1].Name})
	}
	return out, nil
}

func le64(b []byte) uint64 {
	var v uint64
	for i := 0; i < 8; i++ {
		v |= uint64(b[i]) << (8 * i)
	}
	return v
}
