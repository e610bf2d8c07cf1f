// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package ffi implements the kernel's foreign-function table: a name to
// Go-function mapping that the FOREIGN_CALL opcode calls synchronously,
// through Kernel.CallForeign, within one tick; there is no request queue.
// Generalised from the teacher's per-opcode builtins (vm.go's
// OpSHA3/OpSHAKE256/OpFalcon512Verify/OpMLDSAVerify/OpSLHDSAVerify/
// OpSecp256k1Recover) into named table entries, per the kernel owning "a
// foreign-function table (name -> C++ function pointer)".
package ffi

import (
	"errors"
	"fmt"
	"sync"

	"github.com/viua-vm/viua/internal/value"
)

// Function is one foreign function: it receives the call's arguments and
// returns a single result Value, mirroring the bytecode CALL convention
// (arguments packed by FRAME/PARAM, a single return value written to the
// caller's out register).
type Function func(args []value.Value) (value.Value, error)

// ErrUnknownFunction is returned by Call for a name with no registered
// Function.
var ErrUnknownFunction = errors.New("ffi: no foreign function registered under this name")

// ErrAlreadyRegistered guards against a name being bound twice, the same
// failure mode the linker treats as a hard error for duplicate symbols.
var ErrAlreadyRegistered = errors.New("ffi: a function is already registered under this name")

// Table is the kernel's foreign-function table. Safe for concurrent use:
// multiple processes across multiple schedulers may call into it at once.
type Table struct {
	mu    sync.RWMutex
	funcs map[string]Function
}

// NewTable returns an empty table.
func NewTable() *Table {
	return &Table{funcs: make(map[string]Function)}
}

// Register binds name to fn. It is an error to register the same name
// twice (§4.6's duplicate-symbol discipline applied to the FFI namespace).
func (t *Table) Register(name string, fn Function) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.funcs[name]; ok {
		return fmt.Errorf("%w: %q", ErrAlreadyRegistered, name)
	}
	t.funcs[name] = fn
	return nil
}

// Call invokes the function registered under name, per the kernel's
// Foreign_function_call_request handling: resolve the callee, invoke it,
// hand the result back to the caller (§4.5).
func (t *Table) Call(name string, args []value.Value) (value.Value, error) {
	t.mu.RLock()
	fn, ok := t.funcs[name]
	t.mu.RUnlock()
	if !ok {
		return value.Value{}, fmt.Errorf("%w: %q", ErrUnknownFunction, name)
	}
	return fn(args)
}

// Names lists every registered function name, sorted-free (callers that
// need a stable order should sort it themselves); mainly useful for
// diagnostics and tests.
func (t *Table) Names() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]string, 0, len(t.funcs))
	for name := range t.funcs {
		out = append(out, name)
	}
	return out
}
