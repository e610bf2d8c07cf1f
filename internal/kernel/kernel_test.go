// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package kernel

import (
	"errors"
	"testing"

	"github.com/viua-vm/viua/internal/ffi"
	"github.com/viua-vm/viua/internal/process"
	"github.com/viua-vm/viua/internal/value"
)

// stubIO satisfies process.IOProvider without ever being exercised by these
// tests; New requires one to build a Kernel.
type stubIO struct{}

func (stubIO) Submit(p *process.Process, kind string, args []value.Value) (value.IOHandle, error) {
	return value.IOHandle{}, errors.New("stubIO: not implemented")
}
func (stubIO) Wait(p *process.Process, h value.IOHandle) (value.Value, error) {
	return value.Value{}, errors.New("stubIO: not implemented")
}
func (stubIO) Cancel(p *process.Process, h value.IOHandle) error { return nil }
func (stubIO) Close(p *process.Process, h value.IOHandle) error  { return nil }

func TestNewRegistersBuiltinForeignFunctions(t *testing.T) {
	k := New(stubIO{})
	if k.foreign == nil {
		t.Fatal("expected New to populate the foreign-function table")
	}
	names := k.foreign.Names()
	if len(names) == 0 {
		t.Fatal("expected at least the builtin crypto functions to be registered")
	}
}

func TestCallForeignInvokesRegisteredFunction(t *testing.T) {
	k := New(stubIO{})
	got, err := k.CallForeign("crypto::sha3_256", []value.Value{value.Bits([]byte("hello"))})
	if err != nil {
		t.Fatalf("CallForeign: %v", err)
	}
	if got.Kind != value.KindBits || len(got.Bits) != 32 {
		t.Fatalf("expected a 32-byte digest, got %+v", got)
	}
}

func TestCallForeignUnknownNameErrors(t *testing.T) {
	k := New(stubIO{})
	if _, err := k.CallForeign("does::not_exist", nil); !errors.Is(err, ffi.ErrUnknownFunction) {
		t.Fatalf("expected ErrUnknownFunction, got %v", err)
	}
}
