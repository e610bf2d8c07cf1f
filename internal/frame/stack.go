// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package frame

import "github.com/viua-vm/viua/internal/value"

// MaxStackSize is the maximum number of frames a Stack may hold (§3).
const MaxStackSize = 8192

// State is one of the Stack lifecycle states (§3, grounded on
// original_source/include/viua/process.h's Stack::STATE enum).
type State uint8

const (
	Uninitialised State = iota
	Running
	SuspendedByDeferredOnFramePop
	SuspendedByDeferredDuringUnwind
	Halted
)

func (s State) String() string {
	switch s {
	case Uninitialised:
		return "uninitialised"
	case Running:
		return "running"
	case SuspendedByDeferredOnFramePop:
		return "suspended_by_deferred_on_frame_pop"
	case SuspendedByDeferredDuringUnwind:
		return "suspended_by_deferred_during_unwind"
	case Halted:
		return "halted"
	default:
		return "?"
	}
}

// Stack is an ordered sequence of frames plus a parallel sequence of
// try-frames, a lifecycle state, and the thrown/caught/return-value slots
// (§3).
type Stack struct {
	ID uint64

	frames    []*Frame
	tryframes []*TryFrame

	// FrameNew is the single frame prepared by FRAME but not yet pushed by
	// CALL/TAILCALL/DEFER/PROCESS/ACTOR (§8 invariant: 0 or 1 at any
	// instant).
	FrameNew *Frame
	// TryFrameNew mirrors FrameNew for a try-frame being installed by TRY
	// before its first CATCH.
	TryFrameNew *TryFrame

	State State

	Thrown       value.Value
	Caught       value.Value
	ReturnValue  value.Value

	InstructionPointer uint32
	JumpBase           uint32

	EntryFunction string
}

// NewStack creates an empty, uninitialised stack rooted at entryFunction.
func NewStack(id uint64, entryFunction string) *Stack {
	return &Stack{ID: id, EntryFunction: entryFunction, State: Uninitialised}
}

// Depth returns the number of frames currently pushed.
func (s *Stack) Depth() int { return len(s.frames) }

// Top returns the top (currently executing) frame, or nil if empty.
func (s *Stack) Top() *Frame {
	if len(s.frames) == 0 {
		return nil
	}
	return s.frames[len(s.frames)-1]
}

// Push pushes f onto the stack, enforcing MaxStackSize (§7 StackOverflow).
func (s *Stack) Push(f *Frame) error {
	if len(s.frames) >= MaxStackSize {
		return ErrStackOverflow
	}
	s.frames = append(s.frames, f)
	return nil
}

// Pop removes and returns the top frame.
func (s *Stack) Pop() *Frame {
	if len(s.frames) == 0 {
		return nil
	}
	f := s.frames[len(s.frames)-1]
	s.frames = s.frames[:len(s.frames)-1]
	return f
}

// PushTry installs a try-frame.
func (s *Stack) PushTry(t *TryFrame) {
	s.tryframes = append(s.tryframes, t)
}

// PopTry removes and returns the innermost try-frame.
func (s *Stack) PopTry() *TryFrame {
	if len(s.tryframes) == 0 {
		return nil
	}
	t := s.tryframes[len(s.tryframes)-1]
	s.tryframes = s.tryframes[:len(s.tryframes)-1]
	return t
}

// TryDepth returns the number of installed try-frames.
func (s *Stack) TryDepth() int { return len(s.tryframes) }

// PrepareFrame stages f as the single pending frame_new, enforcing the
// frame-balance invariant (§8: "number of frames marked as prepared but
// not pushed is 0 or 1").
func (s *Stack) PrepareFrame(f *Frame) error {
	if s.FrameNew != nil {
		return ErrFrameAlreadyPrepared
	}
	s.FrameNew = f
	return nil
}

// TakeFrame consumes and returns the pending frame_new, clearing it. It is
// an error to call this with no frame prepared (§8 invariant).
func (s *Stack) TakeFrame() (*Frame, error) {
	if s.FrameNew == nil {
		return nil, ErrFrameNotReady
	}
	f := s.FrameNew
	s.FrameNew = nil
	return f, nil
}

// FindCatcher walks try-frames innermost-first looking for a direct or
// ancestor match for exceptionType. isAncestor is supplied by the kernel's
// inheritance map (§4.3/§9).
func (s *Stack) FindCatcher(exceptionType string, isAncestor func(candidate, thrown string) bool) (*TryFrame, uint32, bool) {
	for i := len(s.tryframes) - 1; i >= 0; i-- {
		t := s.tryframes[i]
		for candidate, addr := range t.Catchers {
			if candidate == exceptionType || isAncestor(candidate, exceptionType) {
				return t, addr, true
			}
		}
	}
	return nil, 0, false
}

// UnwindFramesTo pops frames (and their owned try-frames) until the frame
// owning target is once again the top of the stack, returning the popped
// frames in pop order (outermost-last) so callers can run their deferred
// calls in that same order.
func (s *Stack) UnwindFramesTo(target *TryFrame) []*Frame {
	var popped []*Frame
	for len(s.frames) > 0 && s.Top() != target.Owner {
		popped = append(popped, s.Pop())
	}
	for len(s.tryframes) > 0 && s.tryframes[len(s.tryframes)-1] != target {
		s.PopTry()
	}
	return popped
}
