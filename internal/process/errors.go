// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package process

import "errors"

// Runtime error sentinels, following the teacher's vm.go convention of one
// errors.New per fault kind rather than untyped fmt.Errorf strings.
var (
	ErrHalted              = errors.New("process: already halted")
	ErrUnknownFunction     = errors.New("process: unknown function reference")
	ErrIsolationViolation  = errors.New("process: value cannot cross a process boundary")
	ErrForeignPointer      = errors.New("process: pointer does not belong to this process")
	ErrInstructionUnchanged = errors.New("process: instruction pointer did not advance")
	ErrNoActiveStack       = errors.New("process: no active stack")
	ErrTypeMismatch        = errors.New("process: operand has the wrong value kind")
	ErrDivisionByZero      = errors.New("process: division by zero")
	ErrNoCatcher           = errors.New("process: no matching catch block, exception propagates")
	ErrJoinTimeout         = errors.New("process: join timed out")
	ErrReceiveTimeout      = errors.New("process: receive timed out")
	ErrNoWatchdog          = errors.New("process: no watchdog function installed")

	// ErrIONotReady is returned by an IOProvider's Wait when the
	// interaction hasn't completed yet; execIOWait treats it as a signal
	// to retry IO_WAIT rather than a fault (§4.5/§4.9).
	ErrIONotReady = errors.New("process: io interaction not yet complete")
)
