// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package elfimg implements the reader/writer for Viua's ELF64-based
// module format (§3 "Module", §4.6, §6 "Bytecode file format").
//
// The on-wire header/section/symbol layouts reuse debug/elf's standard
// ELF64 struct definitions and class/data/machine constants; the section
// *conventions* (.viua.magic, length-prefixed .rodata, the LUI/LLI
// relocation scheme) are bespoke to this VM and are not something
// debug/elf or any retrieved third-party ELF library models, so the
// reader/writer logic itself is hand-rolled (see DESIGN.md).
package elfimg

import (
	"debug/elf"
)

// Magic is the required contents of the .viua.magic section (§6).
var Magic = [8]byte{0x7f, 'V', 'I', 'U', 'A', 0, 0, 0}

// Interp is the required contents of the .interp section (§6).
const Interp = "viua-vm\x00"

// OSABIStandalone is the VM's ABI tag: the standard ELFOSABI_STANDALONE
// value (255, elf.ELFOSABI_STANDALONE in debug/elf), kept as an untyped
// constant so it can be written straight into e_ident.
const OSABIStandalone = 0xff

// Re-exported debug/elf constants used verbatim on the wire (§6: "EI_CLASS
// = ELFCLASS64, EI_DATA = ELFDATA2LSB").
const (
	ClassELF64  = elf.ELFCLASS64
	DataLSB     = elf.ELFDATA2LSB
	TypeExec    = elf.ET_EXEC
	TypeRel     = elf.ET_REL
	SectionProgbits = elf.SHT_PROGBITS
	SectionNobits   = elf.SHT_NOBITS
	SectionSymtab   = elf.SHT_SYMTAB
	SectionStrtab   = elf.SHT_STRTAB
	SectionRel      = elf.SHT_REL
	FlagAlloc       = elf.SHF_ALLOC
	FlagExecInstr   = elf.SHF_EXECINSTR
	FlagWrite       = elf.SHF_WRITE
)

// SymbolKind distinguishes the kinds of symbol the VM cares about (§3
// "Symbol").
type SymbolKind uint8

const (
	SymFunction SymbolKind = iota
	SymClosure
	SymBlock
	SymObject
)

// Linkage is a symbol's visibility classification (§4.6 "Symbol visibility
// mapping").
type Linkage uint8

const (
	LinkageUnitLocal Linkage = iota
	LinkageModuleLocal
	LinkageGlobal
	// LinkageJumpLabel marks STT_FUNC+STB_LOCAL+STV_HIDDEN symbols
	// reserved for intra-function jump labels (§4.6).
	LinkageJumpLabel
)

// ClassifyLinkage maps an ELF symbol's bind/visibility/type triple to the
// VM's Linkage classification, per §4.6:
//
//	STB_LOCAL + STV_DEFAULT        => unit-local
//	STB_GLOBAL + STV_HIDDEN        => module-local
//	STB_GLOBAL + STV_DEFAULT       => globally exported
//	STT_FUNC + STB_LOCAL + STV_HIDDEN => jump label
func ClassifyLinkage(bind elf.SymBind, vis elf.SymVis, typ elf.SymType) Linkage {
	if typ == elf.STT_FUNC && bind == elf.STB_LOCAL && vis == elf.STV_HIDDEN {
		return LinkageJumpLabel
	}
	switch {
	case bind == elf.STB_LOCAL && vis == elf.STV_DEFAULT:
		return LinkageUnitLocal
	case bind == elf.STB_GLOBAL && vis == elf.STV_HIDDEN:
		return LinkageModuleLocal
	case bind == elf.STB_GLOBAL && vis == elf.STV_DEFAULT:
		return LinkageGlobal
	default:
		return LinkageUnitLocal
	}
}
