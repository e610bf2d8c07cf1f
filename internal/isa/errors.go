// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package isa

import "errors"

// Decode errors, per the "Decode errors" row of the error taxonomy.
var (
	ErrUnknownOpcode        = errors.New("isa: unknown opcode")
	ErrInvalidFormat        = errors.New("isa: invalid instruction format")
	ErrInvalidRegisterAccess = errors.New("isa: invalid register access")
	ErrInvalidTypeCast      = errors.New("isa: invalid type cast")
)
