// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package frame

import "errors"

// Runtime errors surfaced by the register/frame layer (§7 "Runtime
// errors").
var (
	ErrInvalidRegisterIndex = errors.New("frame: invalid register index")
	ErrStackOverflow        = errors.New("frame: stack overflow")
	ErrFrameNotReady        = errors.New("frame: prepared frame (frame_new) missing")
	ErrFrameAlreadyPrepared = errors.New("frame: a frame is already prepared")
	ErrGapInArguments       = errors.New("frame: unfilled argument slot before call")
	ErrEmptyTryFrames       = errors.New("frame: no try-frame installed")
)
