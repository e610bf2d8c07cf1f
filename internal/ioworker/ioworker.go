// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package ioworker backs IO_READ/IO_WRITE/IO_WAIT/IO_CANCEL/IO_CLOSE
// (spec.md §4.5's "I/O path"): IO_READ/WRITE post an interaction to a
// worker pool and return a handle immediately; IO_WAIT polls for
// completion; IO_CANCEL/IO_CLOSE retire the interaction. Grounded on
// original_source/src/stdlib/posix/network.cpp's blocking read(2)/
// write(2) calls over a Socket_type/IO_fd (generalised here to any
// io.Reader/io.Writer resource, not only sockets) and on the teacher's
// miner/worker.go taskLoop goroutine-plus-channel idiom for the worker
// pool shape.
package ioworker

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"

	"github.com/viua-vm/viua/internal/process"
	"github.com/viua-vm/viua/internal/value"
	"github.com/viua-vm/viua/internal/vlog"
)

// Resource is anything an interaction can read from or write to: a file,
// a pipe, a socket connection. Registered by fd-like integer key.
type Resource interface {
	io.Reader
	io.Writer
}

// interaction is one in-flight IO_READ/IO_WRITE request, keyed by a
// monotonically increasing id (spec.md's "(scheduler_id, sequence) id",
// simplified here to a single global sequence since this pool isn't
// scheduler-partitioned).
type interaction struct {
	id   uint64
	kind string
	args []value.Value

	mu        sync.Mutex
	cancelled bool
	completed bool
	result    value.Value
	err       error
}

// Pool is a fixed-size worker pool performing blocking reads/writes off a
// request channel, satisfying process.IOProvider.
type Pool struct {
	resourcesMu sync.RWMutex
	resources   map[int64]Resource

	nextID uint64

	interactionsMu sync.Mutex
	interactions   map[uint64]*interaction

	requests chan *interaction

	workers int
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewPool creates a pool with workerCount blocking-I/O workers and the
// standard fd 0/1/2 resources pre-registered, mirroring a process's
// inherited stdin/stdout/stderr.
func NewPool(workerCount int) *Pool {
	if workerCount <= 0 {
		workerCount = 1
	}
	p := &Pool{
		resources:    map[int64]Resource{0: os.Stdin, 1: os.Stdout, 2: os.Stderr},
		interactions: make(map[uint64]*interaction),
		requests:     make(chan *interaction, 256),
		workers:      workerCount,
	}

	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	for i := 0; i < workerCount; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}
	return p
}

// RegisterResource makes an additional fd-like resource available to
// IO_READ/IO_WRITE, for embedders that open real files or sockets before
// running a program.
func (p *Pool) RegisterResource(fd int64, r Resource) {
	p.resourcesMu.Lock()
	defer p.resourcesMu.Unlock()
	p.resources[fd] = r
}

// Shutdown stops every worker goroutine. Pending interactions are left
// exactly as they are; a process that IO_WAITs on one after Shutdown
// simply never observes completion, matching "in-flight blocking reads
// cannot always be interrupted" (spec.md §4.9/§5).
func (p *Pool) Shutdown() {
	p.cancel()
	p.wg.Wait()
}

// worker is the taskLoop-shaped goroutine: dequeue, perform the blocking
// call, publish the result, repeat (teacher's miner/worker.go taskLoop).
func (p *Pool) worker(ctx context.Context, id int) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case in := <-p.requests:
			in.mu.Lock()
			cancelled := in.cancelled
			in.mu.Unlock()

			var result value.Value
			var err error
			if cancelled {
				err = fmt.Errorf("ioworker: interaction %d cancelled", in.id)
			} else {
				result, err = p.perform(in)
			}

			in.mu.Lock()
			in.completed = true
			in.result = result
			in.err = err
			in.mu.Unlock()
			if err != nil {
				vlog.Debug("ioworker: interaction failed", "worker", id, "kind", in.kind, "err", err)
			}
		}
	}
}

func (p *Pool) perform(in *interaction) (value.Value, error) {
	if len(in.args) < 2 {
		return value.Value{}, fmt.Errorf("ioworker: %s requires a resource and a length/data argument", in.kind)
	}
	fd := in.args[0].Int()

	p.resourcesMu.RLock()
	res, ok := p.resources[fd]
	p.resourcesMu.RUnlock()
	if !ok {
		return value.Value{}, fmt.Errorf("ioworker: no resource registered for fd %d", fd)
	}

	switch in.kind {
	case "read":
		n := int(in.args[1].Int())
		if n <= 0 {
			n = 4096
		}
		buf := make([]byte, n)
		read, err := res.Read(buf)
		if err != nil && err != io.EOF {
			return value.Value{}, err
		}
		return value.String(string(buf[:read])), nil
	case "write":
		data := in.args[1].String()
		if _, err := res.Write([]byte(data)); err != nil {
			return value.Value{}, err
		}
		return value.Int(int64(len(data))), nil
	default:
		return value.Value{}, fmt.Errorf("ioworker: unknown interaction kind %q", in.kind)
	}
}

// Submit implements process.IOProvider: enqueues the interaction and
// returns its handle immediately (spec.md: "the opcode returns the id
// immediately").
func (p *Pool) Submit(_ *process.Process, kind string, args []value.Value) (value.IOHandle, error) {
	id := atomic.AddUint64(&p.nextID, 1)
	in := &interaction{id: id, kind: kind, args: args}

	p.interactionsMu.Lock()
	p.interactions[id] = in
	p.interactionsMu.Unlock()

	select {
	case p.requests <- in:
	default:
		go func() { p.requests <- in }()
	}
	return value.IOHandle{ID: id}, nil
}

// Wait implements process.IOProvider: returns process.ErrIONotReady until
// the worker pool has completed the interaction, at which point the
// result is returned and the interaction is retired (one-shot, matching
// kernel.cpp's io_result's transfer-then-erase pattern).
func (p *Pool) Wait(_ *process.Process, h value.IOHandle) (value.Value, error) {
	p.interactionsMu.Lock()
	in, ok := p.interactions[h.ID]
	p.interactionsMu.Unlock()
	if !ok {
		return value.Value{}, fmt.Errorf("ioworker: unknown interaction %d", h.ID)
	}

	in.mu.Lock()
	defer in.mu.Unlock()
	if !in.completed {
		return value.Value{}, process.ErrIONotReady
	}

	p.interactionsMu.Lock()
	delete(p.interactions, h.ID)
	p.interactionsMu.Unlock()

	return in.result, in.err
}

// Cancel implements process.IOProvider: a best-effort request to abandon
// an in-flight interaction (spec.md §4.9: IO_CANCEL "requests
// cancellation"; a blocking read already inside the syscall cannot always
// be interrupted).
func (p *Pool) Cancel(_ *process.Process, h value.IOHandle) error {
	p.interactionsMu.Lock()
	in, ok := p.interactions[h.ID]
	p.interactionsMu.Unlock()
	if !ok {
		return nil
	}
	in.mu.Lock()
	in.cancelled = true
	in.mu.Unlock()
	return nil
}

// Close implements process.IOProvider: drops the interaction's bookkeeping
// entry without waiting for it to complete.
func (p *Pool) Close(_ *process.Process, h value.IOHandle) error {
	p.interactionsMu.Lock()
	delete(p.interactions, h.ID)
	p.interactionsMu.Unlock()
	return nil
}
