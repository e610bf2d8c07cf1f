// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package disasm renders a module's .text back into assembly-style
// listings: one block per function symbol, instructions folded back into
// their canonical source forms where the encoder produces a recognisable
// multi-word pattern (long immediates, short immediates, sized memory
// access mnemonics), grounded on
// original_source/new/src/tools/exec/dis.cpp's cook:: passes and the
// teacher's table-walking Disassemble (go-probe-master's
// probe-lang/lang/vm/vm.go).
package disasm

import (
	"fmt"
	"sort"
	"strings"

	"github.com/viua-vm/viua/internal/elfimg"
	"github.com/viua-vm/viua/internal/isa"
)

// Listing is one function's disassembled instructions.
type Listing struct {
	Symbol elfimg.Symbol
	Lines  []Line
}

// Line is one rendered instruction (or folded multi-word pseudo-op).
type Line struct {
	// Index is the instruction's position within the function, after
	// folding (a folded LUI/LLI pair or ADDI-void collapses to one Line).
	Index int
	// Address is the absolute word offset into the module's .text.
	Address uint64
	Text    string
}

// Module renders every non-extern, non-jump-label function symbol in img,
// ordered by address, mirroring dis.cpp's per-symbol text sections.
func Module(img *elfimg.Image) ([]Listing, error) {
	var funcs []elfimg.Symbol
	for _, s := range img.Symbols {
		if s.Kind != elfimg.SymFunction && s.Kind != elfimg.SymClosure && s.Kind != elfimg.SymBlock {
			continue
		}
		if s.Extern || s.Linkage == elfimg.LinkageJumpLabel {
			continue
		}
		funcs = append(funcs, s)
	}
	sort.Slice(funcs, func(i, j int) bool { return funcs[i].Value < funcs[j].Value })

	out := make([]Listing, 0, len(funcs))
	for _, sym := range funcs {
		words := int(sym.Size)
		start := int(sym.Value) * isa.Size
		end := start + words*isa.Size
		if start < 0 || end > len(img.Text) {
			return nil, fmt.Errorf("disasm: function %q (addr %d, size %d) out of .text range", sym.Name, sym.Value, sym.Size)
		}
		ins, err := isa.DecodeAll(img.Text[start:end])
		if err != nil {
			return nil, fmt.Errorf("disasm: function %q: %w", sym.Name, err)
		}
		out = append(out, Listing{Symbol: sym, Lines: renderFunction(sym.Value, ins)})
	}
	return out, nil
}

// renderFunction folds a function's raw instructions and renders each
// surviving entry to text.
func renderFunction(base uint64, ins []isa.Instruction) []Line {
	folded := foldImmediates(ins)

	lines := make([]Line, 0, len(folded))
	for i, f := range folded {
		lines = append(lines, Line{Index: i, Address: base + uint64(f.physicalStart), Text: f.text})
	}
	return lines
}

// foldedOp is one surviving line after folding, tracking the original
// physical (pre-fold) word index it starts at so Address stays accurate.
type foldedOp struct {
	physicalStart int
	text          string
}

// foldImmediates replaces every canonical LUI/LLI pair (as produced by
// isa.LongImmediate) with a single `li`/`g.li` pseudo-instruction, and every
// `addi out, void, imm` with its short `li`/`g.li` form, per dis.cpp's
// demangle_canonical_li / demangle_short_li.
func foldImmediates(ins []isa.Instruction) []foldedOp {
	var out []foldedOp
	for i := 0; i < len(ins); i++ {
		if i+1 < len(ins) && isa.IsLongImmediatePair(ins[i], ins[i+1]) {
			value := isa.LongImmediateValue(ins[i], ins[i+1])
			greedy := ins[i+1].Op.Greedy()
			unsigned := ins[i].Op.Unsigned()
			literal := formatImmediate(int64(value), unsigned)
			prefix := ""
			if greedy {
				prefix = "g."
			}
			out = append(out, foldedOp{
				physicalStart: i,
				text:          fmt.Sprintf("%sli %s, %s", prefix, ins[i].Out, literal),
			})
			i++ // consumed the LLI half too
			continue
		}
		if isa.IsShortImmediate(ins[i]) {
			prefix := ""
			if ins[i].Op.Greedy() {
				prefix = "g."
			}
			literal := formatImmediate(ins[i].Imm, ins[i].Op.Unsigned())
			out = append(out, foldedOp{
				physicalStart: i,
				text:          fmt.Sprintf("%sli %s, %s", prefix, ins[i].Out, literal),
			})
			continue
		}
		out = append(out, foldedOp{physicalStart: i, text: renderInstruction(ins[i])})
	}
	return out
}

// formatImmediate renders a long-immediate literal the way the assembler's
// canonical form expects it: `u`-suffixed unsigned decimal, or plain signed
// decimal.
func formatImmediate(v int64, unsigned bool) string {
	if unsigned {
		return fmt.Sprintf("%du", uint64(v))
	}
	return fmt.Sprintf("%d", v)
}

// memoryMnemonic names SM/LM/AA/AD opcodes with their size-spec suffix
// (b/h/w/d/q), per dis.cpp's demangle_memory.
func memoryMnemonic(op isa.Opcode, spec uint8) (string, bool) {
	bare := op.Bare()
	var base string
	switch bare {
	case isa.SM:
		base = "s"
	case isa.LM:
		base = "l"
	case isa.AA:
		base = "am"
	case isa.AD:
		base = "am"
	default:
		return "", false
	}
	suffix, ok := sizeSpecSuffix(spec)
	if !ok {
		return "", false
	}
	name := base + suffix
	if bare == isa.AD {
		name += "d"
	} else if bare == isa.AA {
		name += "a"
	}
	if op.Greedy() {
		name = "g." + name
	}
	return name, true
}

func sizeSpecSuffix(spec uint8) (string, bool) {
	switch spec {
	case 0:
		return "b", true
	case 1:
		return "h", true
	case 2:
		return "w", true
	case 3:
		return "d", true
	case 4:
		return "q", true
	default:
		return "", false
	}
}

// renderInstruction formats a single, un-folded instruction by its format's
// operand shape.
func renderInstruction(ins isa.Instruction) string {
	greedy := ""
	if ins.Op.Greedy() {
		greedy = "g."
	}
	name := greedy + ins.Op.Name()

	if mnem, ok := memoryMnemonic(ins.Op, ins.Spec); ok {
		return fmt.Sprintf("%s %s, %s, %d", mnem, ins.Out, ins.In, ins.Imm)
	}

	switch ins.Op.Format() {
	case isa.FormatN:
		return name
	case isa.FormatS:
		return fmt.Sprintf("%s %s", name, ins.Out)
	case isa.FormatD:
		return fmt.Sprintf("%s %s, %s", name, ins.Out, ins.In)
	case isa.FormatT:
		return fmt.Sprintf("%s %s, %s, %s", name, ins.Out, ins.In, ins.RHS)
	case isa.FormatE:
		return fmt.Sprintf("%s %s, %d", name, ins.Out, ins.Imm)
	case isa.FormatR:
		return fmt.Sprintf("%s %s, %s, %d", name, ins.Out, ins.In, ins.Imm)
	case isa.FormatF:
		return fmt.Sprintf("%s %s, %d", name, ins.Out, ins.Imm)
	case isa.FormatM:
		return fmt.Sprintf("%s %s, %s, %d", name, ins.Out, ins.In, ins.Imm)
	default:
		return fmt.Sprintf("; invalid instruction 0x%02x", uint8(ins.Op))
	}
}

// Text renders a full module listing the way viua-dis prints to stdout:
// one annotated block per function, in address order.
func Text(img *elfimg.Image) (string, error) {
	listings, err := Module(img)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	for _, l := range listings {
		fmt.Fprintf(&b, "\n.symbol %s\n.label %s\n", l.Symbol.Name, l.Symbol.Name)
		for _, line := range l.Lines {
			fmt.Fprintf(&b, "    ; [.text+0x%08x] %d\n    %s\n", line.Address, line.Index, line.Text)
		}
	}
	return b.String(), nil
}
