// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package isa

// LongImmediate returns the canonical LUI/LLI pair that loads the 64-bit
// value n into register out. When greedy is true both instructions are
// flagged GREEDY so the pair executes atomically within one scheduler
// quantum (§4.1); otherwise neither is.
func LongImmediate(out RegisterAccess, n uint64, greedy bool) [2]Instruction {
	lui := Instruction{Op: LUI, Out: out, Imm: int64(int32(n >> 32))}
	lli := Instruction{Op: LLI, Out: out, Imm: int64(int32(n & 0xffffffff))}
	if greedy {
		lui.Op = lui.Op.WithGreedy()
		lli.Op = lli.Op.WithGreedy()
	}
	return [2]Instruction{lui, lli}
}

// ShortImmediate returns the `ADDI out, void, imm` form the disassembler
// folds back into `li out, imm`.
func ShortImmediate(out RegisterAccess, imm int64, unsigned bool) Instruction {
	op := ADDI
	if unsigned {
		op = op.WithUnsigned()
	}
	return Instruction{Op: op, Out: out, In: Void, Imm: imm}
}

// IsLongImmediatePair reports whether a and b form a LUI/LLI pair targeting
// the same output register, as produced by LongImmediate.
func IsLongImmediatePair(a, b Instruction) bool {
	return a.Op.Bare() == LUI && b.Op.Bare() == LLI && a.Out == b.Out
}

// IsShortImmediate reports whether ins is the `ADDI out, void, imm` form.
func IsShortImmediate(ins Instruction) bool {
	return ins.Op.Bare() == ADDI && ins.In.IsVoid()
}

// LongImmediateValue reconstructs the 64-bit value loaded by a LUI/LLI
// pair.
func LongImmediateValue(lui, lli Instruction) uint64 {
	hi := uint32(lui.Imm)
	lo := uint32(lli.Imm)
	return uint64(hi)<<32 | uint64(lo)
}
