// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package kernel

import "github.com/viua-vm/viua/internal/ffi"

// registerBuiltinFFI binds every builtin foreign function onto t at kernel
// construction (§4.8: "registered at kernel construction in
// internal/kernel/ffi_registry.go"). A second registration source (e.g. a
// host embedding this kernel with its own builtins) would call t.Register
// directly; this file only owns the set this kernel ships with.
func registerBuiltinFFI(t *ffi.Table) error {
	return ffi.RegisterCrypto(t)
}
