// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package frame implements the register-window machine: register sets,
// call frames, try-frames, and the per-process stack (§3, §4.2).
package frame

import (
	"fmt"

	"github.com/viua-vm/viua/internal/isa"
	"github.com/viua-vm/viua/internal/value"
)

// cell owns zero or one Value plus its ownership flags (§3: "Register
// cell: owns zero or one Value with flags {moved, reference, keep, bound,
// to-be-bound, copy-on-write}").
type cell struct {
	v     value.Value
	flags value.Flags
	set   bool
}

// RegisterSet is an ordered, fixed-size sequence of cells.
type RegisterSet struct {
	cells []cell
	kind  isa.RegisterSet
}

// NewRegisterSet allocates a register set of the given size, as the
// ALLOCATE_REGISTERS opcode does at function entry.
func NewRegisterSet(kind isa.RegisterSet, size int) *RegisterSet {
	return &RegisterSet{cells: make([]cell, size), kind: kind}
}

// Len returns the number of register cells.
func (rs *RegisterSet) Len() int { return len(rs.cells) }

// Kind reports which logical register set this is.
func (rs *RegisterSet) Kind() isa.RegisterSet { return rs.kind }

func (rs *RegisterSet) bounds(i int) error {
	if i < 0 || i >= len(rs.cells) {
		return fmt.Errorf("%w: index %d (set has %d registers)", ErrInvalidRegisterIndex, i, len(rs.cells))
	}
	return nil
}

// Get reads the value at index i without consuming it.
func (rs *RegisterSet) Get(i int) (value.Value, error) {
	if err := rs.bounds(i); err != nil {
		return value.Value{}, err
	}
	c := &rs.cells[i]
	if !c.set {
		return value.Void(), nil
	}
	return c.v, nil
}

// Flags returns the ownership flags of the cell at index i.
func (rs *RegisterSet) Flags(i int) (value.Flags, error) {
	if err := rs.bounds(i); err != nil {
		return 0, err
	}
	return rs.cells[i].flags, nil
}

// Set stores v at index i, replacing whatever was there. Writing to Void
// (index == isa.VoidIndex) is a silent no-op, matching register-indirect
// access into the sentinel.
func (rs *RegisterSet) Set(i int, v value.Value) error {
	if i == isa.VoidIndex {
		return nil
	}
	if err := rs.bounds(i); err != nil {
		return err
	}
	rs.cells[i] = cell{v: v, set: true}
	return nil
}

// SetFlags ORs extra flags onto the cell at index i.
func (rs *RegisterSet) SetFlags(i int, flags value.Flags) error {
	if err := rs.bounds(i); err != nil {
		return err
	}
	rs.cells[i].flags |= flags
	return nil
}

// Move transfers ownership from src to dst within the same set: dst
// receives the value, src becomes void and is marked moved (§4.2: "MOVE
// transfers ownership ... the source becomes void and is marked moved").
func (rs *RegisterSet) Move(dst, src int) error {
	v, err := rs.Get(src)
	if err != nil {
		return err
	}
	if err := rs.Set(dst, v); err != nil {
		return err
	}
	if src != isa.VoidIndex {
		rs.cells[src] = cell{flags: value.FlagMoved, set: false}
	}
	return nil
}

// Copy duplicates src's value into dst by value semantics (§4.2).
func (rs *RegisterSet) Copy(dst, src int) error {
	v, err := rs.Get(src)
	if err != nil {
		return err
	}
	return rs.Set(dst, v.DeepCopy())
}

// Delete clears the cell at index i, as the DELETE opcode does.
func (rs *RegisterSet) Delete(i int) error {
	if err := rs.bounds(i); err != nil {
		return err
	}
	rs.cells[i] = cell{}
	return nil
}

// IsSet reports whether the cell at index i currently holds a value,
// distinguishing an empty slot from one holding an explicit void.
func (rs *RegisterSet) IsSet(i int) (bool, error) {
	if err := rs.bounds(i); err != nil {
		return false, err
	}
	return rs.cells[i].set, nil
}
