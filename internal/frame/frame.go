// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package frame

import "github.com/viua-vm/viua/internal/isa"

// Frame is one activation record (§3): it owns a local register set, the
// arguments register set being prepared for a callee, a reference to the
// parameters register set the caller handed it, the return address and
// register, deferred calls, and the function name.
type Frame struct {
	Name string

	Local        *RegisterSet
	Static       *RegisterSet // lazily materialised, 16 cells, per function (§4.2)
	Parameters   *RegisterSet // populated by the caller's FRAME+arguments, becomes this frame's parameters
	Arguments    *RegisterSet // being assembled for a callee not yet called
	ClosureLocal *RegisterSet // materialised from a Closure's captured cells on ENTER

	ReturnAddress  uint32
	ReturnRegister isa.RegisterAccess

	// Deferred holds frames registered via DEFER, executed LIFO when this
	// frame returns or is unwound (§4.3, §8 invariant: deferred calls
	// execute in LIFO order of registration).
	Deferred []*Frame
}

// NewFrame creates a frame for entry into function name, with a local
// register set of the given size as ALLOCATE_REGISTERS would allocate.
func NewFrame(name string, localSize int) *Frame {
	return &Frame{
		Name:  name,
		Local: NewRegisterSet(isa.Local, localSize),
	}
}

// PushDeferred registers a deferred call frame, appended so the last
// registered call executes first (LIFO) when drained by DeferredInOrder.
func (f *Frame) PushDeferred(deferred *Frame) {
	f.Deferred = append(f.Deferred, deferred)
}

// DeferredInOrder returns this frame's deferred calls in execution order
// (LIFO with respect to registration).
func (f *Frame) DeferredInOrder() []*Frame {
	out := make([]*Frame, len(f.Deferred))
	for i, d := range f.Deferred {
		out[len(f.Deferred)-1-i] = d
	}
	return out
}

// PrepareArguments allocates the scratch "arguments" register set for a
// pending call, as the `FRAME n` opcode does (§4.2).
func (f *Frame) PrepareArguments(n int) {
	f.Arguments = NewRegisterSet(isa.Arguments, n)
}

// ArgumentsComplete reports whether every slot in the arguments register
// set prepared by FRAME has been written, enforcing the "no gaps" rule
// (§4.2, §8 frame-balance invariant).
func (f *Frame) ArgumentsComplete() bool {
	if f.Arguments == nil {
		return true
	}
	for i := 0; i < f.Arguments.Len(); i++ {
		set, err := f.Arguments.IsSet(i)
		if err != nil || !set {
			return false
		}
	}
	return true
}

// TryFrame is a catch-map keyed by exception-type name, associated with
// the frame that installed it (§3).
type TryFrame struct {
	// Owner is the frame active when this try-frame was installed.
	Owner *Frame
	// Catchers maps an exception type name to the block entry address
	// that handles it.
	Catchers map[string]uint32
}

// NewTryFrame creates an empty try-frame owned by owner.
func NewTryFrame(owner *Frame) *TryFrame {
	return &TryFrame{Owner: owner, Catchers: make(map[string]uint32)}
}

// Catch registers a handler for exceptionType at block entry address.
func (t *TryFrame) Catch(exceptionType string, entry uint32) {
	t.Catchers[exceptionType] = entry
}

// Lookup finds a direct catcher for exceptionType, without walking an
// ancestor-type map (that lookup lives in the kernel, which owns the
// inheritance table per §4.3/§9).
func (t *TryFrame) Lookup(exceptionType string) (uint32, bool) {
	addr, ok := t.Catchers[exceptionType]
	return addr, ok
}
