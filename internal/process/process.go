// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package process implements one VM process (§3 "Process", §4.3 "Process
// execution"): its register windows, its stack-of-stacks (the main call
// stack plus any nested stacks opened to run deferred calls, on return or
// during unwind),
// the fetch-decode-dispatch tick, the exception unwinder, and mailbox
// receive.
//
// Grounded on original_source/src/process.cpp and include/viua/process.h
// for the per-tick algorithm and the Stack::STATE machine, and on the
// teacher's vm.go Step()/execute() split for the Go fetch-decode-dispatch
// shape — generalised here into the flat opcode-indexed dispatch table
// called for in SPEC_FULL.md's design notes, rather than the teacher's
// single big switch.
package process

import (
	"fmt"
	"time"

	"github.com/viua-vm/viua/internal/frame"
	"github.com/viua-vm/viua/internal/isa"
	"github.com/viua-vm/viua/internal/value"
	"github.com/viua-vm/viua/internal/vlog"
)

// Default scheduling priorities (§4.4 "each process runs for up to priority
// instructions per burst"): the entry process gets the generous default, a
// PROCESS/ACTOR-spawned process gets the smaller one, since neither opcode
// currently carries an operand to request anything else.
const (
	DefaultMainPriority  = 512
	DefaultSpawnPriority = 16
)

// Function is one resolved, callable unit of bytecode: a flat instruction
// sequence plus the register-allocation sizes its ALLOCATE_REGISTERS/FRAME
// prologue would otherwise compute (§4.6 "Function").
type Function struct {
	Name           string
	Module         string
	Text           []isa.Instruction
	LocalRegisters int
	RODataStrings  []string
}

// Program resolves function/closure references to their bytecode. Satisfied
// by the kernel's module registry; kept as an interface here so
// internal/process never imports internal/kernel (the kernel imports
// internal/process instead, owning the process table).
type Program interface {
	Resolve(ref value.FuncRef) (*Function, error)
}

// Kernel is the subset of kernel services a process needs to drive
// spawn/exception-inheritance/watchdog lookups without importing the kernel
// package directly (§4.3, §9 "kernel owns the inheritance map").
type Kernel interface {
	Spawn(entry value.FuncRef, args []value.Value, priority int, joinable bool) (value.PID, error)
	IsAncestor(candidateType, thrownType string) bool
	Watchdog() (value.FuncRef, bool)
	ResultOf(pid value.PID) (value.Value, bool, error)
	DeliverMessage(to value.PID, msg value.Value) error
	CallForeign(name string, args []value.Value) (value.Value, error)
}

// Process is one VM process: isolated heap (implicit in Go's GC), a global
// register set, per-function static register sets, a stack of call stacks
// (the extra stacks beyond index 0 are opened to execute deferred calls,
// on RETURN or during unwind, per §4.3), a mailbox, and scheduling metadata
// (§3).
type Process struct {
	PID      value.PID
	Priority int
	Joinable bool

	Global  *frame.RegisterSet
	Statics map[string]*frame.RegisterSet

	stacks []*execStack

	Mailbox *Mailbox

	// IOInteractions holds the IDs of I/O handles this process has
	// submitted and not yet waited on, cancelled or closed. Nothing cancels
	// them when the process finishes.
	IOInteractions map[uint64]struct{}

	Finished bool
	ExitErr  error

	// Memory backs the SM/LM/AA/AD linear-memory opcodes (§4.1 M-format).
	Memory []byte

	watchdog    value.FuncRef
	hasWatchdog bool

	// deferredFn remembers which Function backs each deferred frame, since
	// frame.Frame (a dependency-light package) has no notion of bytecode;
	// runDeferred looks it up when it finally runs the call.
	deferredFn map[*frame.Frame]*Function

	program Program
	kernel  Kernel
	io      IOProvider
}

// IOProvider is the subset of the I/O worker pool a process calls into for
// IO_READ/WRITE/WAIT/CANCEL/CLOSE (§4.5, grounded on internal/ioworker).
type IOProvider interface {
	Submit(p *Process, kind string, args []value.Value) (value.IOHandle, error)
	Wait(p *Process, h value.IOHandle) (value.Value, error)
	Cancel(p *Process, h value.IOHandle) error
	Close(p *Process, h value.IOHandle) error
}

const globalRegisterCount = 256

// New creates a process ready to be started, with globalRegisterCount
// (256) global registers and the given Program/Kernel/IOProvider
// collaborators.
func New(pid value.PID, priority int, joinable bool, program Program, kernel Kernel, io IOProvider) *Process {
	return &Process{
		PID:            pid,
		Priority:       priority,
		Joinable:       joinable,
		Global:         frame.NewRegisterSet(isa.Global, globalRegisterCount),
		Statics:        make(map[string]*frame.RegisterSet),
		Mailbox:        NewMailbox(),
		IOInteractions: make(map[uint64]struct{}),
		deferredFn:     make(map[*frame.Frame]*Function),
		program:        program,
		kernel:         kernel,
		io:             io,
	}
}

// Start pushes the initial stack executing entry with args bound as its
// parameters (§4.3 "a process begins execution by calling its entry
// function with the arguments it was spawned with").
func (p *Process) Start(entry value.FuncRef, args []value.Value) error {
	fn, err := p.program.Resolve(entry)
	if err != nil {
		return fmt.Errorf("process: starting %s::%s: %w", entry.Module, entry.Name, err)
	}

	f := frame.NewFrame(entry.Name, fn.LocalRegisters)
	f.Parameters = frame.NewRegisterSet(isa.Parameters, len(args))
	for i, a := range args {
		f.Parameters.Set(i, a)
	}

	s := &execStack{Stack: frame.NewStack(1, entry.Name)}
	s.State = frame.Running
	if err := s.Push(f); err != nil {
		return err
	}
	s.fns = append(s.fns, fn)
	p.stacks = append(p.stacks, s)
	return nil
}

// execStack pairs a frame.Stack with the resolved Function backing each of
// its frames, kept in lockstep by the call/return handlers in exec.go
// (frame.Stack itself has no notion of bytecode, only register windows).
type execStack struct {
	*frame.Stack
	fns []*Function

	// waiting/waitIP/waitDeadline track a RECEIVE/JOIN retry loop's deadline
	// (§5 "RECEIVE and JOIN accept a timeout in milliseconds, or infinity"):
	// the deadline is computed once, the first time the blocking instruction
	// at waitIP runs, rather than reset on every retried tick.
	waiting      bool
	waitIP       uint32
	waitDeadline time.Time
}

func (s *execStack) currentFunction() *Function {
	if len(s.fns) == 0 {
		return nil
	}
	return s.fns[len(s.fns)-1]
}

func (s *execStack) pushFrame(f *frame.Frame, fn *Function) error {
	if err := s.Push(f); err != nil {
		return err
	}
	s.fns = append(s.fns, fn)
	return nil
}

func (s *execStack) popFrame() (*frame.Frame, *Function) {
	f := s.Pop()
	if f == nil {
		return nil, nil
	}
	var fn *Function
	if n := len(s.fns); n > 0 {
		fn = s.fns[n-1]
		s.fns = s.fns[:n-1]
	}
	return f, fn
}

// activeStack returns the stack currently being executed: the top of the
// stack-of-stacks, since a deferred call opens a new nested stack on top of
// the one it is unwinding (§4.3).
func (p *Process) activeStack() *execStack {
	if len(p.stacks) == 0 {
		return nil
	}
	return p.stacks[len(p.stacks)-1]
}

func (p *Process) resolveSet(rs isa.RegisterSet) (*frame.RegisterSet, error) {
	s := p.activeStack()
	if s == nil {
		return nil, ErrNoActiveStack
	}
	top := s.Top()
	if top == nil {
		return nil, ErrNoActiveStack
	}

	switch rs {
	case isa.Local:
		return top.Local, nil
	case isa.Global:
		return p.Global, nil
	case isa.Static:
		set, ok := p.Statics[top.Name]
		if !ok {
			set = frame.NewRegisterSet(isa.Static, 16)
			p.Statics[top.Name] = set
		}
		return set, nil
	case isa.Arguments:
		if top.Arguments == nil {
			top.Arguments = frame.NewRegisterSet(isa.Arguments, 0)
		}
		return top.Arguments, nil
	case isa.Parameters:
		if top.Parameters == nil {
			top.Parameters = frame.NewRegisterSet(isa.Parameters, 0)
		}
		return top.Parameters, nil
	case isa.ClosureLocal:
		if top.ClosureLocal == nil {
			return nil, fmt.Errorf("%w: no closure bound to this frame", ErrTypeMismatch)
		}
		return top.ClosureLocal, nil
	default:
		return nil, fmt.Errorf("process: unknown register set %v", rs)
	}
}

// read resolves a register access, following PointerDereference/
// RegisterIndirect modes (§3 "Register access").
func (p *Process) read(ra isa.RegisterAccess) (value.Value, error) {
	if ra.IsVoid() {
		return value.Void(), nil
	}
	set, err := p.resolveSet(ra.Set)
	if err != nil {
		return value.Value{}, err
	}

	switch ra.Access {
	case isa.Direct:
		return set.Get(int(ra.Index))
	case isa.RegisterIndirect:
		idxVal, err := set.Get(int(ra.Index))
		if err != nil {
			return value.Value{}, err
		}
		return set.Get(int(idxVal.Int()))
	case isa.PointerDereference:
		cell, err := set.Get(int(ra.Index))
		if err != nil {
			return value.Value{}, err
		}
		if cell.Kind != value.KindPointer {
			return value.Value{}, fmt.Errorf("%w: expected pointer, got %s", ErrTypeMismatch, cell.Kind)
		}
		if !cell.Pointer.Owner.Equal(p.PID) {
			return value.Value{}, ErrForeignPointer
		}
		if cell.Pointer.Target == nil {
			return value.Void(), nil
		}
		return *cell.Pointer.Target, nil
	default:
		return value.Value{}, fmt.Errorf("process: unknown access mode %v", ra.Access)
	}
}

// write stores v through a register access, honouring the same three access
// modes as read.
func (p *Process) write(ra isa.RegisterAccess, v value.Value) error {
	if ra.IsVoid() {
		return nil
	}
	set, err := p.resolveSet(ra.Set)
	if err != nil {
		return err
	}

	switch ra.Access {
	case isa.Direct:
		return set.Set(int(ra.Index), v)
	case isa.RegisterIndirect:
		idxVal, err := set.Get(int(ra.Index))
		if err != nil {
			return err
		}
		return set.Set(int(idxVal.Int()), v)
	case isa.PointerDereference:
		cell, err := set.Get(int(ra.Index))
		if err != nil {
			return err
		}
		if cell.Kind != value.KindPointer {
			return fmt.Errorf("%w: expected pointer, got %s", ErrTypeMismatch, cell.Kind)
		}
		if !cell.Pointer.Owner.Equal(p.PID) {
			return ErrForeignPointer
		}
		if cell.Pointer.Target != nil {
			*cell.Pointer.Target = v
		}
		return nil
	default:
		return fmt.Errorf("process: unknown access mode %v", ra.Access)
	}
}

// Depth reports the number of nested stacks (>1 means deferred calls are
// executing during an unwind).
func (p *Process) Depth() int { return len(p.stacks) }

// LastReturnValue reports the value RETURN left behind when the process's
// main stack halted, for a Kernel's Finish to record into the process's
// result slot. Void if the process never started or has no main stack.
func (p *Process) LastReturnValue() value.Value {
	if len(p.stacks) == 0 {
		return value.Void()
	}
	return p.stacks[0].ReturnValue
}

func (p *Process) log() *vlog.Logger { return vlog.With("pid", p.PID.String()) }
