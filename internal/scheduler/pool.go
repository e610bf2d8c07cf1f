// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package scheduler

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Pool runs a fixed-size fleet of process schedulers (§4.4: "N process
// schedulers, each a goroutine"), mirroring the teacher's pattern of
// starting a handful of named goroutines from one constructor
// (miner.newWorker starting mainLoop/newWorkLoop/taskLoop together).
// Launch/join uses errgroup rather than a raw WaitGroup, the same
// launch-a-fleet-join-a-fleet idiom the teacher reaches for elsewhere.
type Pool struct {
	schedulers []*Scheduler
	cancel     context.CancelFunc
	g          *errgroup.Group
}

// NewPool creates count schedulers sharing k, each with the given
// per-process instruction quantum.
func NewPool(k Kernel, count, quantum int) *Pool {
	if count <= 0 {
		count = 1
	}
	p := &Pool{}
	for i := 0; i < count; i++ {
		p.schedulers = append(p.schedulers, New(i, k, count, quantum))
	}
	return p
}

// Start launches every scheduler's Run loop in its own goroutine.
func (p *Pool) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	g, ctx := errgroup.WithContext(ctx)
	p.g = g
	for _, s := range p.schedulers {
		s := s
		g.Go(func() error {
			s.Run(ctx)
			return nil
		})
	}
}

// Stop cancels every scheduler's loop and waits for them to exit.
func (p *Pool) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	if p.g != nil {
		p.g.Wait()
	}
}

// TotalLoad sums every scheduler's local process count, for diagnostics.
func (p *Pool) TotalLoad() int {
	total := 0
	for _, s := range p.schedulers {
		total += s.LocalLoad()
	}
	return total
}
