// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package process

import (
	"errors"
	"strings"
	"testing"

	"github.com/viua-vm/viua/internal/isa"
	"github.com/viua-vm/viua/internal/value"
)

type fakeProgram struct {
	functions map[string]*Function
}

func (f *fakeProgram) Resolve(ref value.FuncRef) (*Function, error) {
	fn, ok := f.functions[ref.Name]
	if !ok {
		return nil, errors.New("fakeProgram: no such function")
	}
	return fn, nil
}

type fakeKernel struct{}

func (fakeKernel) Spawn(value.FuncRef, []value.Value, int, bool) (value.PID, error) {
	return value.NewPID(), nil
}
func (fakeKernel) IsAncestor(candidate, thrown string) bool { return false }
func (fakeKernel) Watchdog() (value.FuncRef, bool)          { return value.FuncRef{}, false }
func (fakeKernel) ResultOf(value.PID) (value.Value, bool, error) {
	return value.Void(), false, nil
}
func (fakeKernel) DeliverMessage(value.PID, value.Value) error { return nil }
func (fakeKernel) CallForeign(string, []value.Value) (value.Value, error) {
	return value.Void(), errors.New("fakeKernel: no foreign functions registered")
}

type fakeIO struct{}

func (fakeIO) Submit(*Process, string, []value.Value) (value.IOHandle, error) {
	return value.IOHandle{}, nil
}
func (fakeIO) Wait(*Process, value.IOHandle) (value.Value, error)  { return value.Void(), nil }
func (fakeIO) Cancel(*Process, value.IOHandle) error                { return nil }
func (fakeIO) Close(*Process, value.IOHandle) error                 { return nil }

func reg(i int) isa.RegisterAccess {
	return isa.RegisterAccess{Set: isa.Local, Index: uint16(i), Access: isa.Direct}
}

func globalReg(i int) isa.RegisterAccess {
	return isa.RegisterAccess{Set: isa.Global, Index: uint16(i), Access: isa.Direct}
}

func argReg(i int) isa.RegisterAccess {
	return isa.RegisterAccess{Set: isa.Arguments, Index: uint16(i), Access: isa.Direct}
}

func newTestProcess(program *fakeProgram) *Process {
	return New(value.NewPID(), 0, true, program, fakeKernel{}, fakeIO{})
}

func TestArithmeticAndReturnConvention(t *testing.T) {
	program := &fakeProgram{functions: map[string]*Function{
		"main": {
			Name:           "main",
			LocalRegisters: 4,
			Text: []isa.Instruction{
				{Op: isa.ADDI, Out: reg(0), In: isa.Void, Imm: 40},
				{Op: isa.ADDI, Out: reg(1), In: isa.Void, Imm: 2},
				{Op: isa.ADD, Out: reg(0), In: reg(0), RHS: reg(1)},
				{Op: isa.RETURN},
			},
		},
	}}

	p := newTestProcess(program)
	if err := p.Start(value.FuncRef{Name: "main"}, nil); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := p.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !p.Finished {
		t.Fatalf("process should be finished")
	}
	if got := p.stacks[0].ReturnValue.Int(); got != 42 {
		t.Fatalf("return value = %d, want 42", got)
	}
}

func TestDeferredCallRunsOnReturn(t *testing.T) {
	program := &fakeProgram{functions: map[string]*Function{
		"main": {
			Name:           "main",
			LocalRegisters: 4,
			RODataStrings:  []string{"cleanup"},
			Text: []isa.Instruction{
				{Op: isa.ATXTP, Out: reg(0), Imm: 0},
				{Op: isa.DEFER, Out: reg(0)},
				{Op: isa.RETURN},
			},
		},
		"cleanup": {
			Name:           "cleanup",
			LocalRegisters: 1,
			Text: []isa.Instruction{
				{Op: isa.ADDI, Out: globalReg(0), In: isa.Void, Imm: 99},
				{Op: isa.RETURN},
			},
		},
	}}

	p := newTestProcess(program)
	if err := p.Start(value.FuncRef{Name: "main"}, nil); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := p.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}

	got, err := p.Global.Get(0)
	if err != nil {
		t.Fatalf("Global.Get: %v", err)
	}
	if got.Int() != 99 {
		t.Fatalf("deferred call did not run: global[0] = %v, want 99", got)
	}
}

func TestUncaughtExceptionFinishesProcessWithError(t *testing.T) {
	program := &fakeProgram{functions: map[string]*Function{
		"main": {
			Name:           "main",
			LocalRegisters: 2,
			Text: []isa.Instruction{
				{Op: isa.ADDI, Out: reg(0), In: isa.Void, Imm: 7},
				{Op: isa.THROW, Out: reg(0)},
			},
		},
	}}

	p := newTestProcess(program)
	if err := p.Start(value.FuncRef{Name: "main"}, nil); err != nil {
		t.Fatalf("Start: %v", err)
	}
	err := p.Run()
	if err == nil {
		t.Fatalf("expected an uncaught-exception error")
	}
	if !p.Finished {
		t.Fatalf("process should be finished after an uncaught exception")
	}
}

func TestTryCatchHandlesMatchingException(t *testing.T) {
	// THROW on a non-exception value wraps it under the generic "Exception"
	// type (see execThrow), so the catcher is installed for that type.
	program := &fakeProgram{functions: map[string]*Function{
		"main": {
			Name:           "main",
			LocalRegisters: 4,
			RODataStrings:  []string{"Exception"},
			Text: []isa.Instruction{
				{Op: isa.TRY},
				{Op: isa.ATOM, Out: reg(1), Imm: 0},
				{Op: isa.CATCH, Out: reg(1), Imm: 5},
				{Op: isa.ENTER},
				{Op: isa.THROW, Out: reg(1)}, // index 4: throws reg(1)'s value, wrapped as type "Exception"
				{Op: isa.DRAW, Out: reg(2)},  // index 5: catch block entry
				{Op: isa.ADDI, Out: reg(0), In: isa.Void, Imm: 1},
				{Op: isa.RETURN},
			},
		},
	}}

	p := newTestProcess(program)
	if err := p.Start(value.FuncRef{Name: "main"}, nil); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := p.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := p.stacks[0].ReturnValue.Int(); got != 1 {
		t.Fatalf("caught path did not complete: return value = %d, want 1", got)
	}
}

func TestInfiniteLoopRaisesInstructionUnchanged(t *testing.T) {
	program := &fakeProgram{functions: map[string]*Function{
		"main": {
			Name:           "main",
			LocalRegisters: 1,
			Text: []isa.Instruction{
				{Op: isa.JUMP, Imm: 0}, // jumps to itself forever
			},
		},
	}}

	p := newTestProcess(program)
	if err := p.Start(value.FuncRef{Name: "main"}, nil); err != nil {
		t.Fatalf("Start: %v", err)
	}
	err := p.Run()
	if err == nil {
		t.Fatalf("expected InstructionUnchanged to surface as an uncaught exception")
	}
}

// foreignKernel overrides fakeKernel.CallForeign with one registered
// function, "double", so FOREIGN_CALL can be exercised end to end through a
// real process/bytecode path rather than as a direct Go method call.
type foreignKernel struct{ fakeKernel }

func (foreignKernel) CallForeign(name string, args []value.Value) (value.Value, error) {
	if name == "double" && len(args) == 1 {
		return value.Int(args[0].Int() * 2), nil
	}
	return value.Void(), errors.New("foreignKernel: no such function " + name)
}

func TestForeignCallInvokesRegisteredFunction(t *testing.T) {
	program := &fakeProgram{functions: map[string]*Function{
		"main": {
			Name:           "main",
			LocalRegisters: 2,
			RODataStrings:  []string{"double"},
			Text: []isa.Instruction{
				{Op: isa.FRAME, Imm: 1},
				{Op: isa.ADDI, Out: argReg(0), In: isa.Void, Imm: 21},
				{Op: isa.FOREIGN_CALL, Out: reg(0), Imm: 0},
				{Op: isa.RETURN},
			},
		},
	}}

	p := New(value.NewPID(), 0, true, program, foreignKernel{}, fakeIO{})
	if err := p.Start(value.FuncRef{Name: "main"}, nil); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := p.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := p.stacks[0].ReturnValue.Int(); got != 42 {
		t.Fatalf("return value = %d, want 42", got)
	}
}

func TestForeignCallUnknownNameRaisesException(t *testing.T) {
	program := &fakeProgram{functions: map[string]*Function{
		"main": {
			Name:           "main",
			LocalRegisters: 2,
			RODataStrings:  []string{"mystery"},
			Text: []isa.Instruction{
				{Op: isa.FRAME, Imm: 0},
				{Op: isa.FOREIGN_CALL, Out: reg(0), Imm: 0},
				{Op: isa.RETURN},
			},
		},
	}}

	p := New(value.NewPID(), 0, true, program, foreignKernel{}, fakeIO{})
	if err := p.Start(value.FuncRef{Name: "main"}, nil); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := p.Run(); err == nil {
		t.Fatalf("expected an uncaught ForeignFunctionError exception")
	}
}

func TestJoinRaisesTimeoutWhenTargetNeverFinishes(t *testing.T) {
	// fakeKernel.ResultOf always reports "not ready", so a JOIN on any PID
	// (here the process's own) blocks until its timeout operand expires.
	program := &fakeProgram{functions: map[string]*Function{
		"main": {
			Name:           "main",
			LocalRegisters: 3,
			Text: []isa.Instruction{
				{Op: isa.SELF, Out: reg(0)},
				{Op: isa.ADDI, Out: reg(1), In: isa.Void, Imm: 0}, // timeout: 0ms
				{Op: isa.JOIN, Out: reg(2), In: reg(0), RHS: reg(1)},
				{Op: isa.RETURN},
			},
		},
	}}

	p := newTestProcess(program)
	if err := p.Start(value.FuncRef{Name: "main"}, nil); err != nil {
		t.Fatalf("Start: %v", err)
	}
	err := p.Run()
	if err == nil {
		t.Fatalf("expected a Timeout exception to surface as an uncaught error")
	}
	if !strings.Contains(err.Error(), "Timeout") {
		t.Fatalf("error = %q, want it to mention Timeout", err)
	}
}

func TestReceiveRaisesTimeoutWithEmptyMailbox(t *testing.T) {
	program := &fakeProgram{functions: map[string]*Function{
		"main": {
			Name:           "main",
			LocalRegisters: 2,
			Text: []isa.Instruction{
				{Op: isa.ADDI, Out: reg(0), In: isa.Void, Imm: 0}, // timeout: 0ms
				{Op: isa.RECEIVE, Out: reg(1), In: reg(0)},
				{Op: isa.RETURN},
			},
		},
	}}

	p := newTestProcess(program)
	if err := p.Start(value.FuncRef{Name: "main"}, nil); err != nil {
		t.Fatalf("Start: %v", err)
	}
	err := p.Run()
	if err == nil {
		t.Fatalf("expected a Timeout exception to surface as an uncaught error")
	}
	if !strings.Contains(err.Error(), "Timeout") {
		t.Fatalf("error = %q, want it to mention Timeout", err)
	}
}

func TestIsolationViolationOnSendingAPointer(t *testing.T) {
	program := &fakeProgram{functions: map[string]*Function{
		"main": {
			Name:           "main",
			LocalRegisters: 4,
			Text: []isa.Instruction{
				{Op: isa.ADDI, Out: reg(0), In: isa.Void, Imm: 1},
				{Op: isa.PTR, Out: reg(1), In: reg(0)},
				{Op: isa.SELF, Out: reg(2)},
				{Op: isa.SEND, Out: reg(2), In: reg(1)},
				{Op: isa.RETURN},
			},
		},
	}}

	p := newTestProcess(program)
	if err := p.Start(value.FuncRef{Name: "main"}, nil); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := p.Run(); err == nil {
		t.Fatalf("expected Run to return the uncaught IsolationViolation")
	}
	if p.ExitErr == nil {
		t.Fatalf("expected SEND of a pointer to raise IsolationViolation")
	}
}
