// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package kernel owns the tables named in original_source/src/kernel/
// kernel.cpp: the module registry, the function-address table, the
// mailbox/result-slot tables keyed by PID, the PID generator, and the
// exception-type inheritance map the unwinder consults. It also hands
// freshly spawned processes to the scheduler through a free-process pool
// channel, mirroring kernel.cpp's notify_about_process_spawned/
// process_spawned_by handoff, generalised from a condition-variable wakeup
// to a buffered Go channel.
package kernel

import (
	"fmt"
	"sync"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru"

	"github.com/viua-vm/viua/internal/ffi"
	"github.com/viua-vm/viua/internal/process"
	"github.com/viua-vm/viua/internal/value"
	"github.com/viua-vm/viua/internal/vlog"
)

// moduleBytecodeCacheSize bounds the number of resolved functions (keyed
// "module::name") kept warm, mirroring the teacher's consensus
// packages' ARC-cache sizing idiom (a handful of hot entries, not every
// module ever loaded).
const moduleBytecodeCacheSize = 64

// Module is one loaded, resolved compilation unit: its exported functions
// indexed by name, keyed in Kernel.modules by module name (§4.5's "module
// table (name -> loaded ELF image + bytecode buffer)").
type Module struct {
	Name      string
	Functions map[string]*process.Function
}

// Kernel is the process-table/registry owner (spec.md §4.5). It satisfies
// process.Program (module/function resolution) and process.Kernel (spawn,
// exception-ancestor lookups, watchdog, join, mailbox delivery) so that
// internal/process never imports this package.
type Kernel struct {
	mu      sync.RWMutex
	modules map[string]*Module

	bytecodeCache *lru.ARCCache // "module::name" -> *process.Function, warm cache over modules

	processesMu sync.RWMutex
	processes   map[value.PID]*process.Process

	resultsMu sync.Mutex
	results   map[value.PID]*resultSlot

	inheritanceMu sync.RWMutex
	inheritance   map[string]string // child exception type -> parent type

	watchdogMu  sync.RWMutex
	watchdog    value.FuncRef
	hasWatchdog bool

	running int64 // atomic, mirrors kernel.cpp's running_processes

	// ready is the free-process pool a scheduler drains from (§4.4's
	// "condvar-guarded kernel-level free pool", here a channel).
	ready chan *process.Process

	io process.IOProvider

	foreign *ffi.Table
}

// resultSlot mirrors kernel.cpp's Process_result: a one-shot box a JOINing
// process polls, written exactly once by whichever scheduler runs the
// owning process to completion.
type resultSlot struct {
	mu    sync.Mutex
	done  bool
	value value.Value
	err   error
}

// New constructs a kernel with an empty module/process table and the given
// IOProvider wired into every process it spawns (§4.9, built by
// internal/ioworker).
func New(io process.IOProvider) *Kernel {
	cache, err := lru.NewARC(moduleBytecodeCacheSize)
	if err != nil {
		// lru.NewARC only errors on a non-positive size, which
		// moduleBytecodeCacheSize never is; a panic here would indicate a
		// programming mistake, not a runtime condition.
		panic(fmt.Sprintf("kernel: building bytecode cache: %v", err))
	}
	k := &Kernel{
		modules:       make(map[string]*Module),
		bytecodeCache: cache,
		processes:     make(map[value.PID]*process.Process),
		results:       make(map[value.PID]*resultSlot),
		inheritance:   make(map[string]string),
		ready:         make(chan *process.Process, 4096),
		io:            io,
		foreign:       ffi.NewTable(),
	}
	if err := registerBuiltinFFI(k.foreign); err != nil {
		panic(fmt.Sprintf("kernel: registering builtin foreign functions: %v", err))
	}
	return k
}

// CallForeign invokes a registered foreign function by name, the kernel-side
// half of a Foreign_function_call_request (§4.5): resolve the callee in the
// foreign-function table, invoke it, hand the result back to the caller.
func (k *Kernel) CallForeign(name string, args []value.Value) (value.Value, error) {
	return k.foreign.Call(name, args)
}

// LoadModule registers a module's resolved functions, replacing any module
// previously registered under the same name (kernel.cpp's Kernel::load,
// generalised from "one bytecode buffer" to "one module per name" since
// this kernel can hold several linked executables/libraries at once).
func (k *Kernel) LoadModule(m *Module) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.modules[m.Name] = m
	// A reload can change any function's address, and the cache keys don't
	// carry enough structure to invalidate selectively, so drop it all.
	k.bytecodeCache.Purge()
}

// LoadDynamic registers m as an additional module at runtime, failing if a
// module of the same name is already loaded; otherwise it behaves like
// LoadModule. It takes an already-built Module, not an ELF file, and
// applies no symbol-precedence rules.
func (k *Kernel) LoadDynamic(m *Module) error {
	k.mu.RLock()
	_, exists := k.modules[m.Name]
	k.mu.RUnlock()
	if exists {
		return fmt.Errorf("kernel: module %q already loaded", m.Name)
	}
	k.LoadModule(m)
	return nil
}

// Resolve implements process.Program: a FuncRef names a module and a
// function within it (empty Module means "search every loaded module",
// matching an unqualified call site). Hits are served from the ARC
// bytecode cache so a hot call site (the common case: recursion, a tight
// loop calling a helper) doesn't repeat the module scan every time.
func (k *Kernel) Resolve(ref value.FuncRef) (*process.Function, error) {
	cacheKey := ref.Module + "::" + ref.Name
	if cached, ok := k.bytecodeCache.Get(cacheKey); ok {
		return cached.(*process.Function), nil
	}

	k.mu.RLock()
	defer k.mu.RUnlock()

	if ref.Module != "" {
		mod, ok := k.modules[ref.Module]
		if !ok {
			return nil, fmt.Errorf("kernel: no such module %q", ref.Module)
		}
		fn, ok := mod.Functions[ref.Name]
		if !ok {
			return nil, fmt.Errorf("kernel: module %q has no function %q", ref.Module, ref.Name)
		}
		k.bytecodeCache.Add(cacheKey, fn)
		return fn, nil
	}

	for _, mod := range k.modules {
		if fn, ok := mod.Functions[ref.Name]; ok {
			k.bytecodeCache.Add(cacheKey, fn)
			return fn, nil
		}
	}
	return nil, fmt.Errorf("kernel: unresolved function %q", ref.Name)
}

// RegisterAncestor records that child is a direct subtype of parent in the
// exception-type inheritance map (§9: "the unwinder matches by type name
// against internal/kernel's inheritance map").
func (k *Kernel) RegisterAncestor(child, parent string) {
	k.inheritanceMu.Lock()
	defer k.inheritanceMu.Unlock()
	k.inheritance[child] = parent
}

// IsAncestor implements process.Kernel: reports whether candidate is
// thrownType itself or one of its registered ancestors, walking the chain
// kernel.cpp's type system would otherwise walk via a class hierarchy.
func (k *Kernel) IsAncestor(candidate, thrownType string) bool {
	k.inheritanceMu.RLock()
	defer k.inheritanceMu.RUnlock()

	typ := thrownType
	for i := 0; i < len(k.inheritance)+1; i++ {
		if typ == candidate {
			return true
		}
		parent, ok := k.inheritance[typ]
		if !ok {
			return false
		}
		typ = parent
	}
	return false
}

// SetWatchdog installs the kernel-wide default watchdog function, invoked
// for a process that terminates with an uncaught exception and no
// watchdog of its own (spec.md §4.3).
func (k *Kernel) SetWatchdog(ref value.FuncRef) {
	k.watchdogMu.Lock()
	defer k.watchdogMu.Unlock()
	k.watchdog = ref
	k.hasWatchdog = true
}

// Watchdog implements process.Kernel.
func (k *Kernel) Watchdog() (value.FuncRef, bool) {
	k.watchdogMu.RLock()
	defer k.watchdogMu.RUnlock()
	return k.watchdog, k.hasWatchdog
}

// Spawn implements process.Kernel: allocates a PID, builds a process,
// starts it at entry, registers its result slot if joinable, and hands it
// to the free-process pool for a scheduler to pick up (kernel.cpp's
// make_pid + create_mailbox + create_result_slot_for, generalised to
// spawn the process object itself here rather than leaving that to the
// bytecode interpreter's OP_PROCESS case).
func (k *Kernel) Spawn(entry value.FuncRef, args []value.Value, priority int, joinable bool) (value.PID, error) {
	pid := value.NewPID()
	proc := process.New(pid, priority, joinable, k, k, k.io)
	if err := proc.Start(entry, args); err != nil {
		return pid, fmt.Errorf("kernel: spawning %s::%s: %w", entry.Module, entry.Name, err)
	}

	k.processesMu.Lock()
	k.processes[pid] = proc
	k.processesMu.Unlock()

	if joinable {
		k.resultsMu.Lock()
		k.results[pid] = &resultSlot{}
		k.resultsMu.Unlock()
	}

	atomic.AddInt64(&k.running, 1)
	vlog.Debug("kernel: spawned process", "pid", pid.String(), "joinable", joinable, "priority", priority)

	select {
	case k.ready <- proc:
	default:
		// The free-process pool is a generous buffer (4096); a full buffer
		// means schedulers aren't draining it, which is a scheduler-side
		// bug, not something a spawning process should block on.
		go func() { k.ready <- proc }()
	}
	return pid, nil
}

// NextReady blocks until a freshly spawned (or requeued) process is
// available, for a scheduler goroutine to run. Returns false if ch is
// closed (kernel shutdown).
func (k *Kernel) NextReady() (*process.Process, bool) {
	p, ok := <-k.ready
	return p, ok
}

// TryNextReady is NextReady's non-blocking counterpart, used by a
// scheduler rebalancing its local load (§4.4's "fetch a process if current
// load is less than our fair share") without parking if the pool happens
// to be momentarily empty.
func (k *Kernel) TryNextReady() (*process.Process, bool) {
	select {
	case p, ok := <-k.ready:
		return p, ok
	default:
		return nil, false
	}
}

// Requeue puts a process back onto the free-process pool, used by a
// scheduler that gives up an unfinished process while rebalancing an
// overloaded local queue.
func (k *Kernel) Requeue(p *process.Process) {
	k.ready <- p
}

// Finish retires a process that has run to completion, recording its
// result (or thrown exception) and releasing its process-table entry
// (kernel.cpp's record_process_result + delete_mailbox).
func (k *Kernel) Finish(p *process.Process) {
	k.processesMu.Lock()
	delete(k.processes, p.PID)
	k.processesMu.Unlock()

	atomic.AddInt64(&k.running, -1)

	k.resultsMu.Lock()
	slot, tracked := k.results[p.PID]
	k.resultsMu.Unlock()
	if !tracked {
		return
	}

	slot.mu.Lock()
	defer slot.mu.Unlock()
	slot.done = true
	if p.ExitErr != nil {
		slot.err = p.ExitErr
	} else {
		slot.value = p.LastReturnValue()
	}
}

// ResultOf implements process.Kernel: reports a finished joinable
// process's return value, or (Void, false, nil) if it hasn't finished yet
// (JOIN retries in that case).
func (k *Kernel) ResultOf(pid value.PID) (value.Value, bool, error) {
	k.resultsMu.Lock()
	slot, ok := k.results[pid]
	k.resultsMu.Unlock()
	if !ok {
		return value.Value{}, false, fmt.Errorf("kernel: pid %s is not joinable or unknown", pid.String())
	}

	slot.mu.Lock()
	defer slot.mu.Unlock()
	if !slot.done {
		return value.Value{}, false, nil
	}
	return slot.value, true, slot.err
}

// DeliverMessage implements process.Kernel: routes msg to target's
// mailbox. A message to an unknown PID is silently dropped, matching
// kernel.cpp's send() comment ("sending a message to an unknown address
// just drops the message instead of crashing the sending process").
func (k *Kernel) DeliverMessage(target value.PID, msg value.Value) error {
	k.processesMu.RLock()
	proc, ok := k.processes[target]
	k.processesMu.RUnlock()
	if !ok {
		return nil
	}
	proc.Mailbox.Deliver(msg)
	return nil
}

// ProcessCount reports the number of currently running processes
// (kernel.cpp's process_count/pids()).
func (k *Kernel) ProcessCount() int64 { return atomic.LoadInt64(&k.running) }
