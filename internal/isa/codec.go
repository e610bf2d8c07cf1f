// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package isa's codec.go implements the fixed-width, little-endian
// instruction word encoder/decoder. Every instruction is exactly 8 bytes;
// the bit layout within the word depends on the opcode's Format.
package isa

import (
	"encoding/binary"
	"fmt"
)

// Word is a single 64-bit instruction.
type Word uint64

// Size is the width in bytes of one instruction word.
const Size = 8

// Instruction is the decoded form of a Word: opcode plus up to three
// register operands and/or an immediate, tagged by Format.
type Instruction struct {
	Op   Opcode
	Out  RegisterAccess
	In   RegisterAccess
	RHS  RegisterAccess
	Imm  int64  // sign-extended immediate (E/R/F formats)
	Spec uint8  // M-format size spec: 0..4 => b/h/w/d/q
}

// bit layout, LSB-first within the 64-bit word:
//
//	bits  0- 7  opcode (incl. GREEDY/UNSIGNED flags)
//	bits  8-15  Out register index                 [S,D,T,E,R,F,M]
//	bits 16-23  In register index                  [D,T,R,M]
//
// Every register operand is stored as an 8-bit index, with 0xff meaning
// Void. The register set is not encoded (every decoded operand is in the
// Local set), indices above 254 do not fit, and the access mode is kept
// only by the D format. Per format:
//
//	N: opcode only, rest zero.
//	S: opcode(8) + Out(8).
//	D: opcode(8) + Out(8) + In(8); bits 32-33 and 34-35 hold the Out and
//	   In access modes (direct, pointer dereference, register indirect).
//	T: opcode(8) + Out(8) + In(8) + RHS(8, bits 24-31), all Direct.
//	E: opcode(8) + Out(8) + imm(40, bits 16-55, sign/unsigned per flag).
//	R: opcode(8) + Out(8) + In(8) + imm(32, bits 32-63, sign/unsigned per flag).
//	F: opcode(8) + Out(8) + imm(32, bits 32-63, always sign-extended).
//	M: opcode(8) + Out(8) + In(8) + spec(8, bits 24-31) + imm(24, bits 32-55).
const (
	shiftOp  = 0
	shiftOut = 8
)

// Encode packs an Instruction into its wire Word.
func Encode(ins Instruction) (Word, error) {
	switch ins.Op.Format() {
	case FormatN:
		return Word(ins.Op), nil

	case FormatS:
		return Word(ins.Op) | Word(regIndex8(ins.Out))<<shiftOut, nil

	case FormatD:
		w := Word(ins.Op)
		w |= Word(regIndex8(ins.Out)) << 8
		w |= Word(regIndex8(ins.In)) << 16
		w |= Word(accessBits(ins.Out)) << 32
		w |= Word(accessBits(ins.In)) << 34
		return w, nil

	case FormatT:
		w := Word(ins.Op)
		w |= Word(regIndex8(ins.Out)) << 8
		w |= Word(regIndex8(ins.In)) << 16
		w |= Word(regIndex8(ins.RHS)) << 24
		return w, nil

	case FormatE:
		if ins.Imm < -(1<<39) || ins.Imm >= (1<<40) {
			return 0, fmt.Errorf("isa: E-format immediate %d out of 40-bit range", ins.Imm)
		}
		w := Word(ins.Op)
		w |= Word(regIndex8(ins.Out)) << 8
		w |= Word(uint64(ins.Imm)&0xffffffffff) << 16
		return w, nil

	case FormatR:
		if ins.Imm < -(1<<31) || ins.Imm >= (1<<32) {
			return 0, fmt.Errorf("isa: R-format immediate %d out of 32-bit range", ins.Imm)
		}
		w := Word(ins.Op)
		w |= Word(regIndex8(ins.Out)) << 8
		w |= Word(regIndex8(ins.In)) << 16
		w |= Word(uint32(ins.Imm)) << 32
		return w, nil

	case FormatF:
		w := Word(ins.Op)
		w |= Word(regIndex8(ins.Out)) << 8
		w |= Word(uint32(ins.Imm)) << 32
		return w, nil

	case FormatM:
		w := Word(ins.Op)
		w |= Word(regIndex8(ins.Out)) << 8
		w |= Word(regIndex8(ins.In)) << 16
		w |= Word(ins.Spec) << 24
		w |= Word(uint32(ins.Imm)&0xffffff) << 32
		return w, nil

	default:
		return 0, fmt.Errorf("isa: unknown format for opcode 0x%02x", uint8(ins.Op))
	}
}

// Decode unpacks a Word into an Instruction.
func Decode(w Word) (Instruction, error) {
	op := Opcode(w & 0xff)
	if !op.Valid() {
		return Instruction{}, fmt.Errorf("%w: 0x%02x", ErrUnknownOpcode, uint8(op.Bare()))
	}

	ins := Instruction{Op: op}

	switch op.Format() {
	case FormatN:
		// no operands

	case FormatS:
		ins.Out = regFrom8(uint8((w >> 8) & 0xff))

	case FormatD:
		ins.Out = regFrom8(uint8((w >> 8) & 0xff))
		ins.In = regFrom8(uint8((w >> 16) & 0xff))
		applyAccessBits(&ins.Out, uint8((w>>32)&0b11))
		applyAccessBits(&ins.In, uint8((w>>34)&0b11))

	case FormatT:
		ins.Out = regFrom8(uint8((w >> 8) & 0xff))
		ins.In = regFrom8(uint8((w >> 16) & 0xff))
		ins.RHS = regFrom8(uint8((w >> 24) & 0xff))

	case FormatE:
		ins.Out = regFrom8(uint8((w >> 8) & 0xff))
		raw := uint64((w >> 16) & 0xffffffffff)
		ins.Imm = signExtend(raw, 40, op.Unsigned())

	case FormatR:
		ins.Out = regFrom8(uint8((w >> 8) & 0xff))
		ins.In = regFrom8(uint8((w >> 16) & 0xff))
		raw := uint64((w >> 32) & 0xffffffff)
		ins.Imm = signExtend(raw, 32, op.Unsigned())

	case FormatF:
		ins.Out = regFrom8(uint8((w >> 8) & 0xff))
		ins.Imm = int64(int32((w >> 32) & 0xffffffff))

	case FormatM:
		ins.Out = regFrom8(uint8((w >> 8) & 0xff))
		ins.In = regFrom8(uint8((w >> 16) & 0xff))
		ins.Spec = uint8((w >> 24) & 0xff)
		raw := uint64((w >> 32) & 0xffffff)
		ins.Imm = signExtend(raw, 24, op.Unsigned())

	default:
		return Instruction{}, fmt.Errorf("isa: unknown format for opcode 0x%02x", uint8(op))
	}

	return ins, nil
}

// regIndex8 compresses a RegisterAccess to the 8-bit index space used by
// the T/S-lite operand slots; callers of the wider D-format encode the
// access mode separately via accessBits.
func regIndex8(r RegisterAccess) uint8 {
	if r.IsVoid() {
		return 0xff
	}
	return uint8(r.Index)
}

func regFrom8(b uint8) RegisterAccess {
	if b == 0xff {
		return Void
	}
	return RegisterAccess{Set: Local, Index: uint16(b), Access: Direct}
}

func accessBits(r RegisterAccess) uint8 {
	switch r.Access {
	case PointerDereference:
		return 0b01
	case RegisterIndirect:
		return 0b10
	default:
		return 0b00
	}
}

func applyAccessBits(r *RegisterAccess, bits uint8) {
	switch bits {
	case 0b01:
		r.Access = PointerDereference
	case 0b10:
		r.Access = RegisterIndirect
	default:
		r.Access = Direct
	}
}

// signExtend interprets the low `bits` bits of raw as a two's-complement
// signed integer unless unsigned is true.
func signExtend(raw uint64, bits int, unsigned bool) int64 {
	if unsigned {
		return int64(raw)
	}
	shift := 64 - bits
	return int64(raw<<shift) >> shift
}

// EncodeAll serialises a sequence of instructions into a .text-ready byte
// slice, little-endian 8-byte words.
func EncodeAll(ins []Instruction) ([]byte, error) {
	out := make([]byte, 0, len(ins)*Size)
	for i, in := range ins {
		w, err := Encode(in)
		if err != nil {
			return nil, fmt.Errorf("isa: encoding instruction %d: %w", i, err)
		}
		var buf [Size]byte
		binary.LittleEndian.PutUint64(buf[:], uint64(w))
		out = append(out, buf[:]...)
	}
	return out, nil
}

// DecodeAll parses a .text byte slice (must be a multiple of Size bytes)
// into instructions.
func DecodeAll(text []byte) ([]Instruction, error) {
	if len(text)%Size != 0 {
		return nil, fmt.Errorf("isa: text length %d is not a multiple of %d", len(text), Size)
	}
	out := make([]Instruction, 0, len(text)/Size)
	for i := 0; i+Size <= len(text); i += Size {
		w := Word(binary.LittleEndian.Uint64(text[i:]))
		ins, err := Decode(w)
		if err != nil {
			return nil, fmt.Errorf("isa: decoding word at offset %d: %w", i, err)
		}
		out = append(out, ins)
	}
	return out, nil
}
