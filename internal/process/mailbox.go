// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package process

import (
	"sync"

	"github.com/viua-vm/viua/internal/value"
)

// Mailbox is a process's FIFO message queue (§3 "Mailbox: FIFO per PID").
// Delivery is single-notify, not broadcast: a Deliver call wakes at most one
// blocked Receive, matching SPEC_FULL.md's scheduler wakeup discipline
// (grounded on original_source/src/scheduler/vps.cpp's condvar-per-process
// signalling rather than a global broadcast).
type Mailbox struct {
	mu       sync.Mutex
	messages []value.Value
	wake     chan struct{}
}

// NewMailbox creates an empty mailbox.
func NewMailbox() *Mailbox {
	return &Mailbox{wake: make(chan struct{}, 1)}
}

// Deliver enqueues a message and wakes one waiting receiver, if any.
func (m *Mailbox) Deliver(v value.Value) {
	m.mu.Lock()
	m.messages = append(m.messages, v)
	m.mu.Unlock()

	select {
	case m.wake <- struct{}{}:
	default:
	}
}

// TryReceive pops the oldest message without blocking.
func (m *Mailbox) TryReceive() (value.Value, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.messages) == 0 {
		return value.Value{}, false
	}
	v := m.messages[0]
	m.messages = m.messages[1:]
	return v, true
}

// WakeChannel exposes the single-slot notification channel so a scheduler
// can select on it alongside other readiness sources instead of busy-polling
// TryReceive (§4.4 "process scheduler ... wakes a suspended process when its
// mailbox receives a message").
func (m *Mailbox) WakeChannel() <-chan struct{} { return m.wake }

// Len reports the number of pending messages.
func (m *Mailbox) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.messages)
}
