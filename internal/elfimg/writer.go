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
	"encoding/binary"
	"fmt"
)

// sectionBuilder accumulates one output section's header fields and raw
// bytes as the writer lays the file out.
type sectionBuilder struct {
	name    string
	typ     elf.SectionType
	flags   elf.SectionFlag
	data    []byte
	link    uint32
	info    uint32
	entsize uint64
	align   uint64
}

// Write serialises img into a Viua ELF64 image (§6 "Bytecode file
// format"): ELFCLASS64/ELFDATA2LSB header, ELFOSABI_STANDALONE, the
// fixed section set in the order the loader expects (.viua.magic
// immediately after the null section, per §4.6), a generated .symtab/
// .strtab pair, and a .rel section built from img.Relocations.
//
// The strict "magic bytes live at the p_offset of the second PT_NULL
// program header" convention from the original toolchain is not modeled;
// this writer stores .viua.magic as an ordinary PROGBITS section holding
// the literal magic bytes, which is sufficient for Read (and for
// file(1)-style sniffing of the raw bytes) without emitting a program
// header table this VM never otherwise uses (see DESIGN.md).
func Write(img *Image) ([]byte, error) {
	shstrtab := newStringTable()
	strtab := newStringTable()

	symtabData, err := encodeSymbols(img.Symbols, strtab)
	if err != nil {
		return nil, err
	}
	relData := encodeRelocations(img.Relocations, img.Symbols)

	sections := []sectionBuilder{
		{name: ""}, // SHN_UNDEF
		{name: ".viua.magic", typ: elf.SHT_PROGBITS, flags: elf.SHF_ALLOC, data: Magic[:], align: 8},
		{name: ".interp", typ: elf.SHT_PROGBITS, data: []byte(Interp)},
		{name: ".text", typ: elf.SHT_PROGBITS, flags: elf.SHF_ALLOC | elf.SHF_EXECINSTR, data: img.Text, align: 8, entsize: 8},
		{name: ".rodata", typ: elf.SHT_PROGBITS, flags: elf.SHF_ALLOC, data: img.Rodata, align: 8},
		{name: ".symtab", typ: elf.SHT_SYMTAB, data: symtabData, entsize: Sym64Size, align: 8},
		{name: ".strtab", typ: elf.SHT_STRTAB, data: strtab.bytes()},
		{name: ".rel", typ: elf.SHT_REL, data: relData, entsize: relEntrySize, align: 8},
		{name: ".comment", typ: elf.SHT_PROGBITS, data: []byte(img.Comment)},
		{name: ".shstrtab", typ: elf.SHT_STRTAB},
	}

	const (
		idxSymtab   = 5
		idxStrtab   = 6
		idxRel      = 7
		idxShstrtab = 9
		idxText     = 3
	)
	sections[idxSymtab].link = idxStrtab
	sections[idxRel].link = idxSymtab
	sections[idxRel].info = idxText

	nameOffsets := make([]uint32, len(sections))
	for i, s := range sections {
		nameOffsets[i] = shstrtab.add(s.name)
	}
	sections[idxShstrtab].data = shstrtab.bytes()

	var buf bytes.Buffer

	const ehdrSize = 64
	const shdrSize = 64
	dataStart := uint64(ehdrSize)

	offsets := make([]uint64, len(sections))
	for i, s := range sections {
		if s.typ == 0 && s.name == "" {
			offsets[i] = 0
			continue
		}
		if s.align > 1 {
			if pad := dataStart % s.align; pad != 0 {
				dataStart += s.align - pad
			}
		}
		offsets[i] = dataStart
		dataStart += uint64(len(s.data))
	}
	shoff := dataStart
	if shoff%8 != 0 {
		shoff += 8 - shoff%8
	}

	hdr := elf.Header64{
		Ident:     [elf.EI_NIDENT]byte{0x7f, 'E', 'L', 'F', byte(elf.ELFCLASS64), byte(elf.ELFDATA2LSB), byte(elf.EV_CURRENT), OSABIStandalone},
		Type:      uint16(img.Type),
		Machine:   0, // no standard machine ID applies to this ISA
		Version:   uint32(elf.EV_CURRENT),
		Entry:     img.Entry,
		Phoff:     0,
		Shoff:     shoff,
		Ehsize:    ehdrSize,
		Shentsize: shdrSize,
		Shnum:     uint16(len(sections)),
		Shstrndx:  idxShstrtab,
	}
	if err := binary.Write(&buf, binary.LittleEndian, &hdr); err != nil {
		return nil, fmt.Errorf("elfimg: writing ELF header: %w", err)
	}

	for i, s := range sections {
		if offsets[i] == 0 && i != 0 {
			continue
		}
		for uint64(buf.Len()) < offsets[i] {
			buf.WriteByte(0)
		}
		buf.Write(s.data)
	}
	for uint64(buf.Len()) < shoff {
		buf.WriteByte(0)
	}

	for i, s := range sections {
		sh := elf.Section64{
			Name:      nameOffsets[i],
			Type:      uint32(s.typ),
			Flags:     uint64(s.flags),
			Off:       offsets[i],
			Size:      uint64(len(s.data)),
			Link:      s.link,
			Info:      s.info,
			Addralign: s.align,
			Entsize:   s.entsize,
		}
		if err := binary.Write(&buf, binary.LittleEndian, &sh); err != nil {
			return nil, fmt.Errorf("elfimg: writing section header %d: %w", i, err)
		}
	}

	return buf.Bytes(), nil
}

// stringTable accumulates a SHT_STRTAB blob: a leading NUL, then each
// added string NUL-terminated, returning the offset it was stored at.
type stringTable struct {
	buf    []byte
	cache  map[string]uint32
}

func newStringTable() *stringTable {
	return &stringTable{buf: []byte{0}, cache: map[string]uint32{"": 0}}
}

func (t *stringTable) add(s string) uint32 {
	if off, ok := t.cache[s]; ok {
		return off
	}
	off := uint32(len(t.buf))
	t.buf = append(t.buf, []byte(s)...)
	t.buf = append(t.buf, 0)
	t.cache[s] = off
	return off
}

func (t *stringTable) bytes() []byte { return t.buf }

// Sym64Size mirrors elf.Sym64Size; re-exported so callers assembling
// Image.Symbols counts don't need to import debug/elf themselves.
const Sym64Size = 24

func encodeSymbols(symbols []Symbol, strtab *stringTable) ([]byte, error) {
	var buf bytes.Buffer
	// first entry is the mandatory all-zero STN_UNDEF symbol.
	buf.Write(make([]byte, Sym64Size))

	for _, s := range symbols {
		bind := elf.STB_LOCAL
		vis := elf.STV_DEFAULT
		switch s.Linkage {
		case LinkageModuleLocal:
			bind, vis = elf.STB_GLOBAL, elf.STV_HIDDEN
		case LinkageGlobal:
			bind, vis = elf.STB_GLOBAL, elf.STV_DEFAULT
		case LinkageJumpLabel:
			bind, vis = elf.STB_LOCAL, elf.STV_HIDDEN
		}
		typ := elf.STT_OBJECT
		if s.Kind == SymFunction || s.Kind == SymClosure || s.Kind == SymBlock {
			typ = elf.STT_FUNC
		}
		other := byte(vis)
		if s.EntryPoint {
			other |= 0x08
		}
		shndx := uint16(elf.SHN_UNDEF)
		if !s.Extern {
			shndx = 1
		}
		sym := elf.Sym64{
			Name:  strtab.add(s.Name),
			Info:  byte(bind)<<4 | byte(typ),
			Other: other,
			Shndx: shndx,
			Value: s.Value,
			Size:  s.Size,
		}
		if err := binary.Write(&buf, binary.LittleEndian, &sym); err != nil {
			return nil, fmt.Errorf("elfimg: encoding symbol %q: %w", s.Name, err)
		}
	}
	return buf.Bytes(), nil
}

func encodeRelocations(rels []Relocation, symbols []Symbol) []byte {
	index := make(map[string]uint64, len(symbols))
	for i, s := range symbols {
		index[s.Name] = uint64(i + 1) // +1: slot 0 is the mandatory null symbol
	}
	buf := make([]byte, 0, len(rels)*relEntrySize)
	for _, r := range rels {
		var entry [relEntrySize]byte
		binary.LittleEndian.PutUint64(entry[0:8], uint64(r.Offset))
		binary.LittleEndian.PutUint64(entry[8:16], index[r.Symbol])
		buf = append(buf, entry[:]...)
	}
	return buf
}
