// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package process

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/viua-vm/viua/internal/frame"
	"github.com/viua-vm/viua/internal/isa"
	"github.com/viua-vm/viua/internal/value"
	"github.com/viua-vm/viua/internal/vlog"
)

// handlerFunc executes one decoded instruction against the process's active
// stack. It returns a Go error only for internal faults (bad bytecode,
// register out of range); VM-level exceptions are reported by setting
// es.Thrown directly, matching the "exceptions are values" design (§9).
type handlerFunc func(p *Process, es *execStack, ins isa.Instruction) error

// dispatchTable is indexed by the bare opcode byte, mirroring SPEC_FULL.md's
// flat dispatch-table design (replacing the teacher's single big switch in
// vm.go's execute()) while most entries still share one handler per
// instruction family, the same grouping the teacher uses internally.
var dispatchTable [256]handlerFunc

func init() {
	reg := func(op isa.Opcode, h handlerFunc) { dispatchTable[op] = h }

	reg(isa.NOP, execNop)
	reg(isa.LUI, execLUI)
	reg(isa.LLI, execLLI)
	reg(isa.ADDI, execADDI)

	reg(isa.MOVE, execMove)
	reg(isa.COPY, execCopy)
	reg(isa.PTR, execPtr)
	reg(isa.PTRLIVE, execPtrlive)
	reg(isa.SWAP, execSwap)
	reg(isa.DELETE, execDelete)
	reg(isa.ISNULL, execIsnull)
	reg(isa.CAST, execCast)

	reg(isa.ATOM, execAtom)
	reg(isa.DOUBLE, execDouble)
	reg(isa.STRING, execString)

	reg(isa.VECTOR, execVector)
	reg(isa.VINSERT, execVinsert)
	reg(isa.VPUSH, execVpush)
	reg(isa.VPOP, execVpop)
	reg(isa.VAT, execVat)
	reg(isa.VLEN, execVlen)

	reg(isa.STRUCT, execStruct)
	reg(isa.STRUCTINSERT, execStructinsert)
	reg(isa.STRUCTREMOVE, execStructremove)
	reg(isa.STRUCTAT, execStructat)
	reg(isa.STRUCTKEYS, execStructkeys)

	reg(isa.FRAME, execFrame)
	reg(isa.ALLOCATE_REGISTERS, execAllocateRegisters)
	reg(isa.CALL, execCall)
	reg(isa.TAILCALL, execTailcall)
	reg(isa.DEFER, execDefer)
	reg(isa.PROCESS, execProcess)
	reg(isa.ACTOR, execActor)
	reg(isa.SELF, execSelf)
	reg(isa.PIDEQ, execPideq)
	reg(isa.JOIN, execJoin)
	reg(isa.SEND, execSend)
	reg(isa.RECEIVE, execReceive)
	reg(isa.WATCHDOG, execWatchdog)
	reg(isa.RETURN, execReturn)

	reg(isa.JUMP, execJump)
	reg(isa.IF, execIf)

	reg(isa.TRY, execTry)
	reg(isa.CATCH, execCatch)
	reg(isa.DRAW, execDraw)
	reg(isa.ENTER, execEnter)
	reg(isa.THROW, execThrow)
	reg(isa.LEAVE, execLeave)

	reg(isa.IMPORT, execImport)
	reg(isa.ARODP, execArodp)
	reg(isa.ATXTP, execAtxtp)

	reg(isa.SM, execSM)
	reg(isa.LM, execLM)
	reg(isa.AA, execAA)
	reg(isa.AD, execAD)

	reg(isa.IO_READ, execIORead)
	reg(isa.IO_WRITE, execIOWrite)
	reg(isa.IO_WAIT, execIOWait)
	reg(isa.IO_CANCEL, execIOCancel)
	reg(isa.IO_CLOSE, execIOClose)

	reg(isa.FOREIGN_CALL, execForeignCall)

	reg(isa.HALT, execHalt)

	reg(isa.PAMV, execMove)
	reg(isa.PARAM, execCopy)
	reg(isa.ARG, execCopy)

	arith := execArithmetic
	for _, op := range []isa.Opcode{isa.ADD, isa.SUB, isa.MUL, isa.DIV, isa.LT, isa.LTE, isa.GT, isa.GTE, isa.EQ,
		isa.AND, isa.OR, isa.BITAND, isa.BITOR, isa.BITXOR, isa.SHL, isa.SHR, isa.ASHL, isa.ASHR, isa.ROL, isa.ROR} {
		reg(op, arith)
	}
	reg(isa.NOT, execNot)
	reg(isa.BITNOT, execBitnot)
	reg(isa.BITS, execBitsLiteral)
}

// exemptFromProgressCheck lists the opcodes allowed to leave the instruction
// pointer unchanged across a tick without tripping InstructionUnchanged
// (§4.3 step 6): they legitimately retry themselves while blocked on a
// result, a message, or an I/O completion.
func exemptFromProgressCheck(bare isa.Opcode) bool {
	switch bare {
	case isa.RETURN, isa.JOIN, isa.RECEIVE, isa.IO_WAIT:
		return true
	default:
		return false
	}
}

// Tick executes one step of the process's fetch-decode-dispatch loop,
// following §4.3 "Process execution" exactly:
//
//  1. if the active stack is Running or SuspendedByDeferredOnFramePop, decode
//     and execute the instruction at its instruction pointer;
//  2. the executor updates the instruction pointer;
//  3. a thrown exception is captured into stack.Thrown rather than
//     propagated as a Go error;
//  4. if stack.Thrown is set, or the state is
//     SuspendedByDeferredDuringUnwind, run the unwinder;
//  5. if the stack is Halted or empty, the process (or the nested deferred
//     stack) is finished;
//  6. a no-progress tick on a non-exempt opcode raises InstructionUnchanged.
// Tick executes one step of the process's fetch-decode-dispatch loop (see
// the algorithm above), and reports whether the instruction it ran is
// GREEDY — the scheduler's burst loop doesn't count a greedy tick against
// the process's quantum (§4.4 "Greedy-flagged instructions do not count
// against the quantum; they continue executing until a non-greedy
// instruction").
func (p *Process) Tick() (bool, error) {
	es := p.activeStack()
	if es == nil {
		p.Finished = true
		return false, nil
	}

	var executedOp isa.Opcode
	var ipBefore uint32
	executed := false
	greedy := false

	if es.State == frame.Running || es.State == frame.SuspendedByDeferredOnFramePop {
		es.State = frame.Running
		fn := es.currentFunction()
		if fn == nil {
			return false, fmt.Errorf("process: stack %d has no current function", es.ID)
		}
		ipBefore = es.InstructionPointer
		if int(ipBefore) >= len(fn.Text) {
			// Falling off the end of a function without RETURN is a bytecode
			// bug, not a VM-level exception.
			return false, fmt.Errorf("process: instruction pointer %d past end of %q (%d instructions)", ipBefore, fn.Name, len(fn.Text))
		}
		ins := fn.Text[ipBefore]
		executedOp = ins.Op.Bare()
		greedy = ins.Op.Greedy()
		executed = true

		es.InstructionPointer = ipBefore + 1
		h := dispatchTable[executedOp]
		if h == nil {
			return false, fmt.Errorf("process: no handler registered for opcode %q", ins.Op.Name())
		}
		p.log().Log(context.Background(), vlog.LevelTrace, "exec", "ip", ipBefore, "op", ins.Op.Name())
		if err := h(p, es, ins); err != nil {
			return false, fmt.Errorf("process: executing %s: %w", ins.Op.Name(), err)
		}
	}

	if executed && !exemptFromProgressCheck(executedOp) && es.Thrown.IsVoid() && es.InstructionPointer == ipBefore {
		es.Thrown = value.ExceptionValue("InstructionUnchanged",
			fmt.Sprintf("instruction pointer stuck at %d", ipBefore))
	}

	if !es.Thrown.IsVoid() || es.State == frame.SuspendedByDeferredDuringUnwind {
		p.unwind(es)
	}

	if es.State == frame.Halted || es.Depth() == 0 {
		p.finishStack()
	}

	return greedy, nil
}

// Run drives Tick until the process finishes or an internal fault occurs.
func (p *Process) Run() error {
	for !p.Finished {
		if _, err := p.Tick(); err != nil {
			p.Finished = true
			p.ExitErr = err
			return err
		}
	}
	return p.ExitErr
}

// runToCompletion executes a freshly-pushed stack (a deferred call) to
// exhaustion, synchronously. Deferred calls are not preempted by the
// scheduler's quantum accounting — they run as one nested, uninterrupted
// stack, per §8's "deferred calls execute in LIFO order of registration".
func (p *Process) runToCompletion(es *execStack) error {
	p.stacks = append(p.stacks, es)
	defer func() { p.stacks = p.stacks[:len(p.stacks)-1] }()

	for es.State != frame.Halted && es.Depth() > 0 {
		fn := es.currentFunction()
		if fn == nil || int(es.InstructionPointer) >= len(fn.Text) {
			return nil
		}
		ins := fn.Text[es.InstructionPointer]
		ipBefore := es.InstructionPointer
		es.InstructionPointer = ipBefore + 1
		h := dispatchTable[ins.Op.Bare()]
		if h == nil {
			return fmt.Errorf("process: no handler registered for opcode %q", ins.Op.Name())
		}
		if err := h(p, es, ins); err != nil {
			return fmt.Errorf("process: executing deferred call %s: %w", ins.Op.Name(), err)
		}
		if !es.Thrown.IsVoid() {
			p.unwind(es)
		}
	}
	return nil
}

// runDeferred runs f's deferred calls, LIFO, to completion (§8).
func (p *Process) runDeferred(f *frame.Frame) {
	for _, d := range f.DeferredInOrder() {
		fn := p.deferredFn[d]
		if fn == nil {
			continue
		}
		delete(p.deferredFn, d)

		nested := &execStack{Stack: frame.NewStack(0, d.Name)}
		nested.State = frame.Running
		nested.Push(d)
		nested.fns = append(nested.fns, fn)
		p.runToCompletion(nested)
	}
}

// unwind implements the exception-unwinder (§4.3, grounded on
// original_source/src/process.cpp's unwinder): search innermost-first for a
// catcher; on a match, pop frames down to the catching frame (running each
// popped frame's deferred calls), clear Thrown into Caught, and resume at
// the catch address. On no match within this stack, propagate to the next
// stack out (if this is a nested deferred-call stack) or finish the process
// with an uncaught exception.
func (p *Process) unwind(es *execStack) {
	thrown := es.Thrown
	if thrown.IsVoid() {
		return
	}

	tf, addr, ok := es.FindCatcher(thrown.Exception.Type, p.kernel.IsAncestor)
	if ok {
		popped := es.UnwindFramesTo(tf)
		for _, f := range popped {
			p.runDeferred(f)
		}
		es.PopTry()
		es.Caught = thrown
		es.Thrown = value.Void()
		es.InstructionPointer = addr
		es.State = frame.Running
		return
	}

	// No catcher in this stack. Run every remaining frame's deferred calls
	// as the stack unwinds completely, then propagate.
	for es.Depth() > 0 {
		f := es.Pop()
		p.runDeferred(f)
	}
	es.State = frame.Halted
}

// finishStack retires a halted or exhausted stack. If it was a nested
// deferred-call stack (Depth()==0 and more than one stack remains), any
// exception it raised propagates into the stack below; if it was the
// process's only stack, the process itself is finished.
func (p *Process) finishStack() {
	es := p.activeStack()
	if es == nil {
		return
	}
	if len(p.stacks) == 1 {
		p.Finished = true
		if !es.Thrown.IsVoid() {
			p.ExitErr = fmt.Errorf("process: uncaught exception: %s", es.Thrown.Exception.Error())
		}
		return
	}
	// Nested deferred stack finished; pop it and propagate any exception it
	// raised into the stack it interrupted.
	p.stacks = p.stacks[:len(p.stacks)-1]
	outer := p.activeStack()
	if outer != nil && !es.Thrown.IsVoid() {
		outer.Thrown = es.Thrown
	}
}

// ---- handlers --------------------------------------------------------

func execNop(p *Process, es *execStack, ins isa.Instruction) error { return nil }

func execLUI(p *Process, es *execStack, ins isa.Instruction) error {
	return p.write(ins.Out, value.Int(ins.Imm<<32))
}

func execLLI(p *Process, es *execStack, ins isa.Instruction) error {
	cur, err := p.read(ins.Out)
	if err != nil {
		return err
	}
	lower := uint64(ins.Imm) & 0xffffffff
	return p.write(ins.Out, value.Int(cur.Int()|int64(lower)))
}

func execADDI(p *Process, es *execStack, ins isa.Instruction) error {
	base, err := p.read(ins.In)
	if err != nil {
		return err
	}
	return p.write(ins.Out, value.Int(base.Int()+ins.Imm))
}

func execMove(p *Process, es *execStack, ins isa.Instruction) error {
	v, err := p.read(ins.In)
	if err != nil {
		return err
	}
	if err := p.write(ins.Out, v); err != nil {
		return err
	}
	if ins.In.Access == isa.Direct && !ins.In.IsVoid() {
		set, err := p.resolveSet(ins.In.Set)
		if err != nil {
			return err
		}
		set.Delete(int(ins.In.Index))
		set.SetFlags(int(ins.In.Index), value.FlagMoved)
	}
	return nil
}

func execCopy(p *Process, es *execStack, ins isa.Instruction) error {
	v, err := p.read(ins.In)
	if err != nil {
		return err
	}
	return p.write(ins.Out, v.DeepCopy())
}

func execPtr(p *Process, es *execStack, ins isa.Instruction) error {
	set, err := p.resolveSet(ins.In.Set)
	if err != nil {
		return err
	}
	cur, err := set.Get(int(ins.In.Index))
	if err != nil {
		return err
	}
	target := cur
	return p.write(ins.Out, value.Value{Kind: value.KindPointer, Pointer: value.Pointer{Owner: p.PID, Target: &target}})
}

func execPtrlive(p *Process, es *execStack, ins isa.Instruction) error {
	v, err := p.read(ins.Out)
	if err != nil {
		return err
	}
	return p.write(ins.Out, boolValue(v.Kind == value.KindPointer && v.Pointer.Target != nil))
}

func execSwap(p *Process, es *execStack, ins isa.Instruction) error {
	a, err := p.read(ins.Out)
	if err != nil {
		return err
	}
	b, err := p.read(ins.In)
	if err != nil {
		return err
	}
	if err := p.write(ins.Out, b); err != nil {
		return err
	}
	return p.write(ins.In, a)
}

func execDelete(p *Process, es *execStack, ins isa.Instruction) error {
	set, err := p.resolveSet(ins.Out.Set)
	if err != nil {
		return err
	}
	return set.Delete(int(ins.Out.Index))
}

func execIsnull(p *Process, es *execStack, ins isa.Instruction) error {
	v, err := p.read(ins.In)
	if err != nil {
		return err
	}
	return p.write(ins.Out, boolValue(v.IsVoid()))
}

func execCast(p *Process, es *execStack, ins isa.Instruction) error {
	v, err := p.read(ins.Out)
	if err != nil {
		return err
	}
	switch value.Kind(ins.Imm) {
	case value.KindInt:
		switch v.Kind {
		case value.KindFloat64:
			return p.write(ins.Out, value.Int(int64(v.Float64())))
		case value.KindFloat32:
			return p.write(ins.Out, value.Int(int64(v.Float32())))
		default:
			return p.write(ins.Out, value.Int(v.Int()))
		}
	case value.KindFloat64:
		return p.write(ins.Out, value.Float64(float64(v.Int())))
	case value.KindString:
		return p.write(ins.Out, value.String(v.String()))
	default:
		return fmt.Errorf("%w: unsupported cast target %d", isa.ErrInvalidTypeCast, ins.Imm)
	}
}

func literalString(fn *Function, idx int64) string {
	if fn == nil || idx < 0 || int(idx) >= len(fn.RODataStrings) {
		return ""
	}
	return fn.RODataStrings[idx]
}

func execAtom(p *Process, es *execStack, ins isa.Instruction) error {
	return p.write(ins.Out, value.Atom(literalString(es.currentFunction(), ins.Imm)))
}

func execDouble(p *Process, es *execStack, ins isa.Instruction) error {
	f, _ := strconv.ParseFloat(literalString(es.currentFunction(), ins.Imm), 64)
	return p.write(ins.Out, value.Float64(f))
}

func execString(p *Process, es *execStack, ins isa.Instruction) error {
	return p.write(ins.Out, value.String(literalString(es.currentFunction(), ins.Imm)))
}

func execVector(p *Process, es *execStack, ins isa.Instruction) error {
	return p.write(ins.Out, value.Vector(nil))
}

func execVinsert(p *Process, es *execStack, ins isa.Instruction) error {
	vec, err := p.read(ins.Out)
	if err != nil {
		return err
	}
	idx, err := p.read(ins.In)
	if err != nil {
		return err
	}
	v, err := p.read(ins.RHS)
	if err != nil {
		return err
	}
	i := int(idx.Int())
	elems := append([]value.Value(nil), vec.Vector...)
	if i >= len(elems) {
		padded := make([]value.Value, i+1)
		copy(padded, elems)
		elems = padded
	}
	elems[i] = v
	return p.write(ins.Out, value.Vector(elems))
}

func execVpush(p *Process, es *execStack, ins isa.Instruction) error {
	vec, err := p.read(ins.Out)
	if err != nil {
		return err
	}
	v, err := p.read(ins.In)
	if err != nil {
		return err
	}
	return p.write(ins.Out, value.Vector(append(append([]value.Value(nil), vec.Vector...), v)))
}

func execVpop(p *Process, es *execStack, ins isa.Instruction) error {
	vec, err := p.read(ins.In)
	if err != nil {
		return err
	}
	if len(vec.Vector) == 0 {
		return p.write(ins.Out, value.Void())
	}
	last := vec.Vector[len(vec.Vector)-1]
	if err := p.write(ins.Out, last); err != nil {
		return err
	}
	return p.write(ins.In, value.Vector(vec.Vector[:len(vec.Vector)-1]))
}

func execVat(p *Process, es *execStack, ins isa.Instruction) error {
	vec, err := p.read(ins.In)
	if err != nil {
		return err
	}
	idx, err := p.read(ins.RHS)
	if err != nil {
		return err
	}
	i := int(idx.Int())
	if i < 0 || i >= len(vec.Vector) {
		es.Thrown = value.ExceptionValue("OutOfBoundsRead", fmt.Sprintf("vector index %d out of range", i))
		return nil
	}
	return p.write(ins.Out, vec.Vector[i])
}

func execVlen(p *Process, es *execStack, ins isa.Instruction) error {
	vec, err := p.read(ins.In)
	if err != nil {
		return err
	}
	return p.write(ins.Out, value.Int(int64(len(vec.Vector))))
}

func execStruct(p *Process, es *execStack, ins isa.Instruction) error {
	return p.write(ins.Out, value.Struct(make(map[string]value.Value)))
}

func execStructinsert(p *Process, es *execStack, ins isa.Instruction) error {
	st, err := p.read(ins.Out)
	if err != nil {
		return err
	}
	key, err := p.read(ins.In)
	if err != nil {
		return err
	}
	v, err := p.read(ins.RHS)
	if err != nil {
		return err
	}
	m := make(map[string]value.Value, len(st.Struct)+1)
	for k, e := range st.Struct {
		m[k] = e
	}
	m[key.Atom] = v
	return p.write(ins.Out, value.Struct(m))
}

func execStructremove(p *Process, es *execStack, ins isa.Instruction) error {
	st, err := p.read(ins.In)
	if err != nil {
		return err
	}
	key, err := p.read(ins.RHS)
	if err != nil {
		return err
	}
	v, ok := st.Struct[key.Atom]
	if !ok {
		return p.write(ins.Out, value.Void())
	}
	m := make(map[string]value.Value, len(st.Struct))
	for k, e := range st.Struct {
		if k != key.Atom {
			m[k] = e
		}
	}
	if err := p.write(ins.In, value.Struct(m)); err != nil {
		return err
	}
	return p.write(ins.Out, v)
}

func execStructat(p *Process, es *execStack, ins isa.Instruction) error {
	st, err := p.read(ins.In)
	if err != nil {
		return err
	}
	key, err := p.read(ins.RHS)
	if err != nil {
		return err
	}
	v, ok := st.Struct[key.Atom]
	if !ok {
		es.Thrown = value.ExceptionValue("KeyError", fmt.Sprintf("no key %q in struct", key.Atom))
		return nil
	}
	return p.write(ins.Out, v)
}

func execStructkeys(p *Process, es *execStack, ins isa.Instruction) error {
	st, err := p.read(ins.In)
	if err != nil {
		return err
	}
	keys := make([]value.Value, 0, len(st.Struct))
	for k := range st.Struct {
		keys = append(keys, value.Atom(k))
	}
	return p.write(ins.Out, value.Vector(keys))
}

func execFrame(p *Process, es *execStack, ins isa.Instruction) error {
	top := es.Top()
	if top == nil {
		return ErrNoActiveStack
	}
	top.PrepareArguments(int(ins.Imm))
	return nil
}

func execAllocateRegisters(p *Process, es *execStack, ins isa.Instruction) error {
	top := es.Top()
	if top == nil {
		return ErrNoActiveStack
	}
	top.Local = frame.NewRegisterSet(isa.Local, int(ins.Imm))
	return nil
}

// resolveCallee reads a FuncRef from reg and asks the Program to resolve it
// to a Function, used by CALL/TAILCALL/DEFER/PROCESS/ACTOR alike.
func (p *Process) resolveCallee(reg isa.RegisterAccess) (value.FuncRef, *Function, error) {
	v, err := p.read(reg)
	if err != nil {
		return value.FuncRef{}, nil, err
	}
	var ref value.FuncRef
	switch v.Kind {
	case value.KindFuncRef:
		ref = v.FuncRef
	case value.KindClosure:
		ref = value.FuncRef{Name: v.Closure.Function}
	default:
		return value.FuncRef{}, nil, fmt.Errorf("%w: expected function reference, got %s", ErrTypeMismatch, v.Kind)
	}
	fn, err := p.program.Resolve(ref)
	if err != nil {
		return ref, nil, fmt.Errorf("%w: %s::%s", ErrUnknownFunction, ref.Module, ref.Name)
	}
	return ref, fn, nil
}

func execCall(p *Process, es *execStack, ins isa.Instruction) error {
	top := es.Top()
	if top == nil {
		return ErrNoActiveStack
	}
	_, fn, err := p.resolveCallee(ins.In)
	if err != nil {
		return err
	}

	callee := frame.NewFrame(fn.Name, fn.LocalRegisters)
	callee.Parameters = top.Arguments
	callee.ReturnAddress = es.InstructionPointer
	callee.ReturnRegister = ins.Out
	top.Arguments = nil

	return es.pushFrame(callee, fn)
}

func execTailcall(p *Process, es *execStack, ins isa.Instruction) error {
	top := es.Top()
	if top == nil {
		return ErrNoActiveStack
	}
	_, fn, err := p.resolveCallee(ins.Out)
	if err != nil {
		return err
	}

	callee := frame.NewFrame(fn.Name, fn.LocalRegisters)
	callee.Parameters = top.Arguments
	callee.ReturnAddress = top.ReturnAddress
	callee.ReturnRegister = top.ReturnRegister
	top.Arguments = nil

	es.popFrame()
	return es.pushFrame(callee, fn)
}

func execDefer(p *Process, es *execStack, ins isa.Instruction) error {
	top := es.Top()
	if top == nil {
		return ErrNoActiveStack
	}
	_, fn, err := p.resolveCallee(ins.Out)
	if err != nil {
		return err
	}
	deferred := frame.NewFrame(fn.Name, fn.LocalRegisters)
	deferred.Parameters = top.Arguments
	top.Arguments = nil
	top.PushDeferred(deferred)
	p.deferredFn[deferred] = fn
	return nil
}

func (p *Process) argumentsValues(es *execStack) []value.Value {
	top := es.Top()
	if top == nil || top.Arguments == nil {
		return nil
	}
	out := make([]value.Value, top.Arguments.Len())
	for i := range out {
		out[i], _ = top.Arguments.Get(i)
	}
	return out
}

func execProcess(p *Process, es *execStack, ins isa.Instruction) error {
	ref, _, err := p.resolveCallee(ins.In)
	if err != nil {
		return err
	}
	args := p.argumentsValues(es)
	if top := es.Top(); top != nil {
		top.Arguments = nil
	}
	pid, err := p.kernel.Spawn(ref, args, DefaultSpawnPriority, true)
	if err != nil {
		es.Thrown = value.ExceptionValue("SpawnError", err.Error())
		return nil
	}
	return p.write(ins.Out, value.Pid(pid))
}

func execActor(p *Process, es *execStack, ins isa.Instruction) error {
	ref, _, err := p.resolveCallee(ins.In)
	if err != nil {
		return err
	}
	args := p.argumentsValues(es)
	if top := es.Top(); top != nil {
		top.Arguments = nil
	}
	pid, err := p.kernel.Spawn(ref, args, DefaultSpawnPriority, false)
	if err != nil {
		es.Thrown = value.ExceptionValue("SpawnError", err.Error())
		return nil
	}
	return p.write(ins.Out, value.Pid(pid))
}

func execSelf(p *Process, es *execStack, ins isa.Instruction) error {
	return p.write(ins.Out, value.Pid(p.PID))
}

func execPideq(p *Process, es *execStack, ins isa.Instruction) error {
	a, err := p.read(ins.In)
	if err != nil {
		return err
	}
	b, err := p.read(ins.RHS)
	if err != nil {
		return err
	}
	return p.write(ins.Out, boolValue(a.PID.Equal(b.PID)))
}

// readTimeout interprets reg as a RECEIVE/JOIN timeout operand (§5:
// "RECEIVE and JOIN accept a timeout in milliseconds, or infinity"): Void
// means wait forever, otherwise its integer value is the timeout in
// milliseconds.
func (p *Process) readTimeout(reg isa.RegisterAccess) (dur time.Duration, infinite bool, err error) {
	v, err := p.read(reg)
	if err != nil {
		return 0, false, err
	}
	if v.IsVoid() {
		return 0, true, nil
	}
	return time.Duration(v.Int()) * time.Millisecond, false, nil
}

// armWait starts (or continues) a timed wait for the blocking instruction at
// es's current instruction pointer, returning the deadline to check against.
// A fresh deadline is only computed the first time a given instruction
// address blocks; retried ticks of the same instruction reuse it, so the
// timeout is measured from when the process first blocked, not reset on
// every retry.
func (es *execStack) armWait(p *Process, timeoutReg isa.RegisterAccess) error {
	ip := es.InstructionPointer - 1
	if es.waiting && es.waitIP == ip {
		return nil
	}
	dur, infinite, err := p.readTimeout(timeoutReg)
	if err != nil {
		return err
	}
	es.waiting = true
	es.waitIP = ip
	if infinite {
		es.waitDeadline = time.Time{}
	} else {
		es.waitDeadline = time.Now().Add(dur)
	}
	return nil
}

// timedOut reports whether es's armed wait has passed its deadline. A zero
// deadline means infinity: never times out.
func (es *execStack) timedOut() bool {
	return !es.waitDeadline.IsZero() && !time.Now().Before(es.waitDeadline)
}

func execJoin(p *Process, es *execStack, ins isa.Instruction) error {
	if err := es.armWait(p, ins.RHS); err != nil {
		return err
	}

	target, err := p.read(ins.In)
	if err != nil {
		return err
	}
	result, ready, err := p.kernel.ResultOf(target.PID)
	if err != nil {
		es.waiting = false
		es.Thrown = value.ExceptionValue("JoinError", err.Error())
		return nil
	}
	if ready {
		es.waiting = false
		return p.write(ins.Out, result)
	}
	if es.timedOut() {
		es.waiting = false
		es.Thrown = value.ExceptionValue("Timeout", ErrJoinTimeout.Error())
		return nil
	}
	es.InstructionPointer--
	return nil
}

func execSend(p *Process, es *execStack, ins isa.Instruction) error {
	target, err := p.read(ins.Out)
	if err != nil {
		return err
	}
	msg, err := p.read(ins.In)
	if err != nil {
		return err
	}
	if !msg.CanCrossProcess() {
		es.Thrown = value.ExceptionValue("IsolationViolation", "value cannot cross a process boundary")
		return nil
	}
	if err := p.kernel.DeliverMessage(target.PID, msg.DeepCopy()); err != nil {
		es.Thrown = value.ExceptionValue("SendError", err.Error())
	}
	return nil
}

func execReceive(p *Process, es *execStack, ins isa.Instruction) error {
	if err := es.armWait(p, ins.In); err != nil {
		return err
	}

	v, ok := p.Mailbox.TryReceive()
	if ok {
		es.waiting = false
		return p.write(ins.Out, v)
	}
	if es.timedOut() {
		es.waiting = false
		es.Thrown = value.ExceptionValue("Timeout", ErrReceiveTimeout.Error())
		return nil
	}
	es.InstructionPointer--
	return nil
}

func execWatchdog(p *Process, es *execStack, ins isa.Instruction) error {
	v, err := p.read(ins.Out)
	if err != nil {
		return err
	}
	if v.Kind == value.KindFuncRef {
		p.watchdog = v.FuncRef
		p.hasWatchdog = true
	}
	return nil
}

// execReturn implements RETURN (FormatN, no operands): by convention the
// popping frame's local register 0 holds the value to return, mirroring the
// teacher's single-return-slot frame struct (vm.go's frame.retReg)
// generalised to the register-window model.
func execReturn(p *Process, es *execStack, ins isa.Instruction) error {
	top := es.Top()
	if top == nil {
		es.State = frame.Halted
		return nil
	}
	rv, err := top.Local.Get(0)
	if err != nil {
		rv = value.Void()
	}

	f, _ := es.popFrame()
	p.runDeferred(f)

	if es.Depth() == 0 {
		es.ReturnValue = rv
		es.State = frame.Halted
		return nil
	}

	es.State = frame.Running
	es.InstructionPointer = f.ReturnAddress
	return p.write(f.ReturnRegister, rv)
}

func execJump(p *Process, es *execStack, ins isa.Instruction) error {
	es.InstructionPointer = uint32(ins.Imm)
	return nil
}

func execIf(p *Process, es *execStack, ins isa.Instruction) error {
	cond, err := p.read(ins.Out)
	if err != nil {
		return err
	}
	if cond.Int() != 0 {
		target, err := p.read(ins.In)
		if err != nil {
			return err
		}
		es.InstructionPointer = uint32(target.Int())
		return nil
	}
	if !ins.RHS.IsVoid() {
		target, err := p.read(ins.RHS)
		if err != nil {
			return err
		}
		es.InstructionPointer = uint32(target.Int())
	}
	return nil
}

func execTry(p *Process, es *execStack, ins isa.Instruction) error {
	es.TryFrameNew = frame.NewTryFrame(es.Top())
	return nil
}

func execCatch(p *Process, es *execStack, ins isa.Instruction) error {
	if es.TryFrameNew == nil {
		return fmt.Errorf("process: CATCH without a preceding TRY")
	}
	typ, err := p.read(ins.Out)
	if err != nil {
		return err
	}
	es.TryFrameNew.Catch(typ.Atom, uint32(ins.Imm))
	return nil
}

func execDraw(p *Process, es *execStack, ins isa.Instruction) error {
	v := es.Caught
	es.Caught = value.Void()
	return p.write(ins.Out, v)
}

func execEnter(p *Process, es *execStack, ins isa.Instruction) error {
	if es.TryFrameNew == nil {
		return fmt.Errorf("process: ENTER without a preceding TRY")
	}
	es.PushTry(es.TryFrameNew)
	es.TryFrameNew = nil
	return nil
}

func execThrow(p *Process, es *execStack, ins isa.Instruction) error {
	v, err := p.read(ins.Out)
	if err != nil {
		return err
	}
	if v.Kind == value.KindException {
		es.Thrown = v
		return nil
	}
	es.Thrown = value.ExceptionValue("Exception", v.String())
	return nil
}

func execLeave(p *Process, es *execStack, ins isa.Instruction) error {
	es.PopTry()
	return nil
}

func execImport(p *Process, es *execStack, ins isa.Instruction) error {
	// Module loading is resolved by the kernel's module registry before a
	// process starts (§4.6); by the time a process is running, every module
	// it names is already loaded, so IMPORT is a recorded no-op here.
	return nil
}

func execArodp(p *Process, es *execStack, ins isa.Instruction) error {
	return p.write(ins.Out, value.String(literalString(es.currentFunction(), ins.Imm)))
}

func execAtxtp(p *Process, es *execStack, ins isa.Instruction) error {
	name := literalString(es.currentFunction(), ins.Imm)
	return p.write(ins.Out, value.Value{Kind: value.KindFuncRef, FuncRef: value.FuncRef{Name: name}})
}

func execSM(p *Process, es *execStack, ins isa.Instruction) error {
	base, err := p.read(ins.Out)
	if err != nil {
		return err
	}
	v, err := p.read(ins.In)
	if err != nil {
		return err
	}
	off := int(base.Int()) + int(ins.Imm)
	n := sizeOf(ins.Spec)
	if off < 0 || off+n > len(p.Memory) {
		es.Thrown = value.ExceptionValue("OutOfBoundsWrite", fmt.Sprintf("offset %d+%d exceeds memory of size %d", off, n, len(p.Memory)))
		return nil
	}
	putInt(p.Memory[off:off+n], v.Int())
	return nil
}

func execLM(p *Process, es *execStack, ins isa.Instruction) error {
	base, err := p.read(ins.In)
	if err != nil {
		return err
	}
	off := int(base.Int()) + int(ins.Imm)
	n := sizeOf(ins.Spec)
	if off < 0 || off+n > len(p.Memory) {
		es.Thrown = value.ExceptionValue("OutOfBoundsRead", fmt.Sprintf("offset %d+%d exceeds memory of size %d", off, n, len(p.Memory)))
		return nil
	}
	return p.write(ins.Out, value.Int(getInt(p.Memory[off:off+n])))
}

func execAA(p *Process, es *execStack, ins isa.Instruction) error {
	n := int(ins.Imm)
	offset := len(p.Memory)
	p.Memory = append(p.Memory, make([]byte, n)...)
	return p.write(ins.Out, value.Int(int64(offset)))
}

func execAD(p *Process, es *execStack, ins isa.Instruction) error {
	// Linear memory is process-lifetime; deallocation is a bookkeeping
	// no-op (no compaction), matching the teacher's OpFree, which only
	// marks the region as reusable rather than shrinking the backing slice.
	return nil
}

func execIORead(p *Process, es *execStack, ins isa.Instruction) error {
	return p.ioOp(es, "read", ins.Out, []isa.RegisterAccess{ins.In, ins.RHS})
}

func execIOWrite(p *Process, es *execStack, ins isa.Instruction) error {
	return p.ioOp(es, "write", ins.Out, []isa.RegisterAccess{ins.In, ins.RHS})
}

func (p *Process) ioOp(es *execStack, kind string, out isa.RegisterAccess, args []isa.RegisterAccess) error {
	vals := make([]value.Value, 0, len(args))
	for _, a := range args {
		v, err := p.read(a)
		if err != nil {
			return err
		}
		vals = append(vals, v)
	}
	h, err := p.io.Submit(p, kind, vals)
	if err != nil {
		es.Thrown = value.ExceptionValue("IOError", err.Error())
		return nil
	}
	p.IOInteractions[h.ID] = struct{}{}
	return p.write(out, value.Value{Kind: value.KindIOHandle, IOHandle: h})
}

func execIOWait(p *Process, es *execStack, ins isa.Instruction) error {
	h, err := p.read(ins.In)
	if err != nil {
		return err
	}
	result, err := p.io.Wait(p, h.IOHandle)
	if err == ErrIONotReady {
		es.InstructionPointer--
		return nil
	}
	if err != nil {
		es.Thrown = value.ExceptionValue("IOError", err.Error())
		return nil
	}
	delete(p.IOInteractions, h.IOHandle.ID)
	return p.write(ins.Out, result)
}

func execIOCancel(p *Process, es *execStack, ins isa.Instruction) error {
	h, err := p.read(ins.Out)
	if err != nil {
		return err
	}
	if err := p.io.Cancel(p, h.IOHandle); err != nil {
		es.Thrown = value.ExceptionValue("IOError", err.Error())
	}
	delete(p.IOInteractions, h.IOHandle.ID)
	return nil
}

func execIOClose(p *Process, es *execStack, ins isa.Instruction) error {
	h, err := p.read(ins.Out)
	if err != nil {
		return err
	}
	if err := p.io.Close(p, h.IOHandle); err != nil {
		es.Thrown = value.ExceptionValue("IOError", err.Error())
	}
	delete(p.IOInteractions, h.IOHandle.ID)
	return nil
}

func execHalt(p *Process, es *execStack, ins isa.Instruction) error {
	es.State = frame.Halted
	return nil
}

// execForeignCall implements FOREIGN_CALL: resolve the callee's name out of
// the current function's rodata string table (the same literal-lookup
// convention ATOM/STRING use), gather the FRAME/PARAM-prepared arguments the
// same way a CALL would, and invoke it through the kernel's foreign-function
// table (§4.5/§4.8). The FFI call blocks the calling goroutine for the
// duration of the call, mirroring the suspend/post/resume shape IO_WAIT uses
// for I/O interactions, except a foreign function call runs to completion in
// one tick rather than being polled across several.
func execForeignCall(p *Process, es *execStack, ins isa.Instruction) error {
	name := literalString(es.currentFunction(), ins.Imm)
	args := p.argumentsValues(es)
	if top := es.Top(); top != nil {
		top.Arguments = nil
	}

	result, err := p.kernel.CallForeign(name, args)
	if err != nil {
		es.Thrown = value.ExceptionValue("ForeignFunctionError", err.Error())
		return nil
	}
	return p.write(ins.Out, result)
}

func execArithmetic(p *Process, es *execStack, ins isa.Instruction) error {
	a, err := p.read(ins.In)
	if err != nil {
		return err
	}
	b, err := p.read(ins.RHS)
	if err != nil {
		return err
	}

	switch ins.Op.Bare() {
	case isa.ADD:
		return p.write(ins.Out, value.Int(a.Int()+b.Int()))
	case isa.SUB:
		return p.write(ins.Out, value.Int(a.Int()-b.Int()))
	case isa.MUL:
		return p.write(ins.Out, value.Int(a.Int()*b.Int()))
	case isa.DIV:
		if b.Int() == 0 {
			es.Thrown = value.ExceptionValue("DivisionByZero", "division by zero")
			return nil
		}
		return p.write(ins.Out, value.Int(a.Int()/b.Int()))
	case isa.LT:
		return p.write(ins.Out, boolValue(a.Int() < b.Int()))
	case isa.LTE:
		return p.write(ins.Out, boolValue(a.Int() <= b.Int()))
	case isa.GT:
		return p.write(ins.Out, boolValue(a.Int() > b.Int()))
	case isa.GTE:
		return p.write(ins.Out, boolValue(a.Int() >= b.Int()))
	case isa.EQ:
		return p.write(ins.Out, boolValue(valuesEqual(a, b)))
	case isa.AND:
		return p.write(ins.Out, boolValue(a.Int() != 0 && b.Int() != 0))
	case isa.OR:
		return p.write(ins.Out, boolValue(a.Int() != 0 || b.Int() != 0))
	case isa.BITAND:
		return p.write(ins.Out, value.Uint(a.Uint()&b.Uint()))
	case isa.BITOR:
		return p.write(ins.Out, value.Uint(a.Uint()|b.Uint()))
	case isa.BITXOR:
		return p.write(ins.Out, value.Uint(a.Uint()^b.Uint()))
	case isa.SHL:
		return p.write(ins.Out, value.Uint(a.Uint()<<uint(b.Uint())))
	case isa.SHR:
		return p.write(ins.Out, value.Uint(a.Uint()>>uint(b.Uint())))
	case isa.ASHL:
		return p.write(ins.Out, value.Int(a.Int()<<uint(b.Int())))
	case isa.ASHR:
		return p.write(ins.Out, value.Int(a.Int()>>uint(b.Int())))
	case isa.ROL:
		n := uint(b.Uint() % 64)
		return p.write(ins.Out, value.Uint(a.Uint()<<n|a.Uint()>>(64-n)))
	case isa.ROR:
		n := uint(b.Uint() % 64)
		return p.write(ins.Out, value.Uint(a.Uint()>>n|a.Uint()<<(64-n)))
	default:
		return fmt.Errorf("process: unhandled arithmetic opcode %q", ins.Op.Name())
	}
}

func execNot(p *Process, es *execStack, ins isa.Instruction) error {
	v, err := p.read(ins.In)
	if err != nil {
		return err
	}
	return p.write(ins.Out, boolValue(v.Int() == 0))
}

func execBitnot(p *Process, es *execStack, ins isa.Instruction) error {
	v, err := p.read(ins.In)
	if err != nil {
		return err
	}
	return p.write(ins.Out, value.Uint(^v.Uint()))
}

func execBitsLiteral(p *Process, es *execStack, ins isa.Instruction) error {
	str := literalString(es.currentFunction(), ins.Imm)
	return p.write(ins.Out, value.Bits([]byte(str)))
}

// ---- small shared helpers ---------------------------------------------

func boolValue(b bool) value.Value {
	if b {
		return value.Int(1)
	}
	return value.Int(0)
}

func valuesEqual(a, b value.Value) bool {
	if a.Kind != b.Kind {
		return false
	}
	switch a.Kind {
	case value.KindInt:
		return a.Int() == b.Int()
	case value.KindUint:
		return a.Uint() == b.Uint()
	case value.KindString:
		return a.Str == b.Str
	case value.KindAtom:
		return a.Atom == b.Atom
	case value.KindPID:
		return a.PID.Equal(b.PID)
	default:
		return a.String() == b.String()
	}
}

func sizeOf(spec uint8) int {
	switch spec {
	case 0:
		return 1
	case 1:
		return 2
	case 2:
		return 4
	case 3:
		return 8
	default:
		return 8
	}
}

func putInt(dst []byte, v int64) {
	for i := range dst {
		dst[i] = byte(v >> (8 * i))
	}
}

func getInt(src []byte) int64 {
	var v int64
	for i, b := range src {
		v |= int64(b) << (8 * i)
	}
	return v
}
