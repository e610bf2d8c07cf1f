// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The ProbeChain is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the ProbeChain. If not, see <http://www.gnu.org/licenses/>.

// Package isa defines the Viua VM instruction set: the opcode space, the
// eight instruction formats (N, S, D, T, E, R, F, M), the two orthogonal
// opcode flag bits (GREEDY, UNSIGNED), and the register-access encoding.
//
// Every instruction is exactly one 64-bit, little-endian word. The opcode
// occupies the low byte. Bare masks it to its low six bits, which index
// opcodeTable for the mnemonic and the format; the format is not carried in
// the opcode bits themselves. GREEDY is bit 6 and UNSIGNED bit 7 of the
// opcode byte.
package isa

// Opcode is the low byte of an instruction word: the opcode number and the
// GREEDY/UNSIGNED flags.
type Opcode uint8

const (
	// flagGreedy marks an instruction that executes immediately after the
	// current one without the scheduler counting a quantum tick.
	flagGreedy Opcode = 1 << 6
	// flagUnsigned marks that an E-, R- or M-format immediate operand is
	// unsigned rather than sign-extended (F-format immediates are always
	// sign-extended).
	flagUnsigned Opcode = 1 << 7

	opcodeMask Opcode = 0x3f
)

// Greedy reports whether the GREEDY bit is set on this opcode.
func (op Opcode) Greedy() bool { return op&flagGreedy != 0 }

// Unsigned reports whether the UNSIGNED bit is set on this opcode.
func (op Opcode) Unsigned() bool { return op&flagUnsigned != 0 }

// WithGreedy returns op with the GREEDY bit set.
func (op Opcode) WithGreedy() Opcode { return op | flagGreedy }

// WithUnsigned returns op with the UNSIGNED bit set.
func (op Opcode) WithUnsigned() Opcode { return op | flagUnsigned }

// Bare strips the GREEDY/UNSIGNED flags, returning the plain opcode value
// suitable for table lookups.
func (op Opcode) Bare() Opcode { return op & opcodeMask }

// Format identifies one of the eight instruction encodings.
type Format uint8

const (
	FormatN Format = iota // no operands
	FormatS                // one register access
	FormatD                // two register accesses (out, in)
	FormatT                // three register accesses (out, lhs, rhs)
	FormatE                // out register + 40-bit immediate
	FormatR                // out + in + 32-bit immediate
	FormatF                // out + 32-bit immediate (high/low half of a 64-bit load)
	FormatM                // memory op: out + in + 8-bit size spec + immediate
)

func (f Format) String() string {
	switch f {
	case FormatN:
		return "N"
	case FormatS:
		return "S"
	case FormatD:
		return "D"
	case FormatT:
		return "T"
	case FormatE:
		return "E"
	case FormatR:
		return "R"
	case FormatF:
		return "F"
	case FormatM:
		return "M"
	default:
		return "?"
	}
}

// Defined opcodes. The bare (unflagged) value is what is stored in
// opcodeTable; GREEDY/UNSIGNED variants are derived at encode/decode time.
const (
	NOP Opcode = iota

	// Long-immediate load pair.
	LUI
	LLI

	// Short-immediate arithmetic, used to synthesize `li rX, imm`.
	ADDI

	MOVE
	COPY
	PTR
	PTRLIVE
	SWAP
	DELETE
	ISNULL
	CAST

	ATOM
	DOUBLE
	STRING

	VECTOR
	VINSERT
	VPUSH
	VPOP
	VAT
	VLEN

	STRUCT
	STRUCTINSERT
	STRUCTREMOVE
	STRUCTAT
	STRUCTKEYS

	FRAME
	ALLOCATE_REGISTERS
	CALL
	TAILCALL
	DEFER
	PROCESS
	ACTOR
	SELF
	PIDEQ
	JOIN
	SEND
	RECEIVE
	WATCHDOG
	RETURN

	JUMP
	IF

	TRY
	CATCH
	DRAW
	ENTER
	THROW
	LEAVE

	IMPORT
	ARODP
	ATXTP

	SM
	LM
	AA
	AD

	IO_READ
	IO_WRITE
	IO_WAIT
	IO_CANCEL
	IO_CLOSE

	// FOREIGN_CALL invokes a registered foreign function by name. The call
	// is synchronous: it runs to completion within the tick that executes
	// the instruction; no frame is pushed and no request is queued. Its
	// callee is looked up the same way ATOM/STRING resolve a literal: an index into
	// the calling function's rodata string table.
	FOREIGN_CALL

	HALT

	// Opcodes the front end treats as internal and renames during
	// disassembly; kept distinct from MOVE/COPY per the open-question
	// decision recorded in SPEC_FULL.md.
	PAMV
	PARAM
	ARG

	// ADD/SUB/etc are expressed as arithmetic ops taking the T format.
	ADD
	SUB
	MUL
	DIV
	LT
	LTE
	GT
	GTE
	EQ

	AND
	OR
	NOT

	BITS
	BITAND
	BITOR
	BITNOT
	BITXOR
	SHL
	SHR
	ASHL
	ASHR
	ROL
	ROR

	opcodeCount
)

// opcodeInfo is the static description of one opcode: its mnemonic and its
// instruction format.
type opcodeInfo struct {
	name   string
	format Format
}

var opcodeTable = [opcodeCount]opcodeInfo{
	NOP:  {"nop", FormatN},
	LUI:  {"lui", FormatF},
	LLI:  {"lli", FormatF},
	ADDI: {"addi", FormatR},

	MOVE:    {"move", FormatD},
	COPY:    {"copy", FormatD},
	PTR:     {"ptr", FormatD},
	PTRLIVE: {"ptrlive", FormatS},
	SWAP:    {"swap", FormatD},
	DELETE:  {"delete", FormatS},
	ISNULL:  {"isnull", FormatD},
	CAST:    {"cast", FormatE},

	ATOM:   {"atom", FormatE},
	DOUBLE: {"double", FormatE},
	STRING: {"string", FormatE},

	VECTOR:  {"vector", FormatT},
	VINSERT: {"vinsert", FormatT},
	VPUSH:   {"vpush", FormatD},
	VPOP:    {"vpop", FormatT},
	VAT:     {"vat", FormatT},
	VLEN:    {"vlen", FormatD},

	STRUCT:       {"struct", FormatS},
	STRUCTINSERT: {"structinsert", FormatT},
	STRUCTREMOVE: {"structremove", FormatT},
	STRUCTAT:     {"structat", FormatT},
	STRUCTKEYS:   {"structkeys", FormatD},

	FRAME:               {"frame", FormatE},
	ALLOCATE_REGISTERS:  {"allocate_registers", FormatE},
	CALL:                {"call", FormatD},
	TAILCALL:            {"tailcall", FormatS},
	DEFER:               {"defer", FormatS},
	PROCESS:             {"process", FormatD},
	ACTOR:               {"actor", FormatD},
	SELF:                {"self", FormatS},
	PIDEQ:               {"pideq", FormatT},
	JOIN:                {"join", FormatT},
	SEND:                {"send", FormatD},
	RECEIVE:             {"receive", FormatD},
	WATCHDOG:            {"watchdog", FormatS},
	RETURN:              {"return", FormatN},

	JUMP: {"jump", FormatE},
	IF:   {"if", FormatT},

	TRY:   {"try", FormatN},
	CATCH: {"catch", FormatE},
	DRAW:  {"draw", FormatS},
	ENTER: {"enter", FormatE},
	THROW: {"throw", FormatS},
	LEAVE: {"leave", FormatN},

	IMPORT: {"import", FormatE},
	ARODP:  {"arodp", FormatE},
	ATXTP:  {"atxtp", FormatE},

	SM: {"sm", FormatM},
	LM: {"lm", FormatM},
	AA: {"aa", FormatM},
	AD: {"ad", FormatM},

	IO_READ:   {"io_read", FormatT},
	IO_WRITE:  {"io_write", FormatT},
	IO_WAIT:   {"io_wait", FormatR},
	IO_CANCEL: {"io_cancel", FormatS},
	IO_CLOSE:  {"io_close", FormatS},

	FOREIGN_CALL: {"foreign_call", FormatE},

	HALT: {"halt", FormatN},

	PAMV:  {"pamv", FormatD},
	PARAM: {"param", FormatD},
	ARG:   {"arg", FormatD},

	ADD: {"add", FormatT},
	SUB: {"sub", FormatT},
	MUL: {"mul", FormatT},
	DIV: {"div", FormatT},
	LT:  {"lt", FormatT},
	LTE: {"lte", FormatT},
	GT:  {"gt", FormatT},
	GTE: {"gte", FormatT},
	EQ:  {"eq", FormatT},

	AND: {"and", FormatT},
	OR:  {"or", FormatT},
	NOT: {"not", FormatD},

	BITS:   {"bits", FormatE},
	BITAND: {"bitand", FormatT},
	BITOR:  {"bitor", FormatT},
	BITNOT: {"bitnot", FormatD},
	BITXOR: {"bitxor", FormatT},
	SHL:    {"shl", FormatT},
	SHR:    {"shr", FormatT},
	ASHL:   {"ashl", FormatT},
	ASHR:   {"ashr", FormatT},
	ROL:    {"rol", FormatT},
	ROR:    {"ror", FormatT},
}

// Name returns the mnemonic for the bare opcode, with `u` appended when the
// UNSIGNED flag is set, matching the assembler's ADDI/ADDIU convention.
func (op Opcode) Name() string {
	bare := op.Bare()
	if int(bare) >= len(opcodeTable) {
		return "unknown"
	}
	name := opcodeTable[bare].name
	if op.Unsigned() {
		name += "u"
	}
	return name
}

// Format returns the instruction format for the bare opcode.
func (op Opcode) Format() Format {
	bare := op.Bare()
	if int(bare) >= len(opcodeTable) {
		return FormatN
	}
	return opcodeTable[bare].format
}

// Valid reports whether the bare opcode is a known instruction.
func (op Opcode) Valid() bool {
	return int(op.Bare()) < int(opcodeCount)
}
