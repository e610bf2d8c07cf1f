// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package ffi

import (
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/cloudflare/circl/sign/schemes"
	"golang.org/x/crypto/sha3"

	"github.com/viua-vm/viua/internal/value"
)

// mldsaSchemeName and slhdsaSchemeName pick one parameter set of each
// family to back the generalised "verify" builtins; the teacher's vm.go
// opcodes did not parametrise over strength levels either, so this mirrors
// that single-scheme convention.
const (
	mldsaSchemeName  = "Dilithium3"
	slhdsaSchemeName = "SLH-DSA-SHA2-128s"
)

// RegisterCrypto binds the crypto builtins named in SPEC_FULL.md §4.8 onto
// t. Called from internal/kernel/ffi_registry.go at kernel construction.
func RegisterCrypto(t *Table) error {
	entries := []struct {
		name string
		fn   Function
	}{
		{"crypto::sha3_256", sha3256},
		{"crypto::shake256", shake256},
		{"crypto::falcon512_verify", falcon512Verify},
		{"crypto::mldsa_verify", verifyWithScheme(mldsaSchemeName)},
		{"crypto::slhdsa_verify", verifyWithScheme(slhdsaSchemeName)},
		{"crypto::secp256k1_recover", secp256k1Recover},
	}
	for _, e := range entries {
		if err := t.Register(e.name, e.fn); err != nil {
			return err
		}
	}
	return nil
}

func bitsArg(args []value.Value, i int) ([]byte, error) {
	if i >= len(args) {
		return nil, fmt.Errorf("ffi: missing argument %d", i)
	}
	if args[i].Kind != value.KindBits {
		return nil, fmt.Errorf("ffi: argument %d must be bits, got %s", i, args[i].Kind)
	}
	return args[i].Bits, nil
}

// sha3256 hashes args[0] (bits) with SHA3-256, returning the 32-byte digest
// as bits. Grounded on the teacher's OpSHA3 (vm.go), which hashes a memory
// span into a destination register; here the span is passed as a Value
// instead of read from emulated memory.
func sha3256(args []value.Value) (value.Value, error) {
	data, err := bitsArg(args, 0)
	if err != nil {
		return value.Value{}, err
	}
	sum := sha3.Sum256(data)
	return value.Bits(sum[:]), nil
}

// shake256 squeezes args[1] (uint) bytes of SHAKE256 output from args[0]
// (bits), mirroring the teacher's OpSHAKE256 (variable-length digest).
func shake256(args []value.Value) (value.Value, error) {
	data, err := bitsArg(args, 0)
	if err != nil {
		return value.Value{}, err
	}
	if len(args) < 2 || args[1].Kind != value.KindUint {
		return value.Value{}, fmt.Errorf("ffi: crypto::shake256 requires a uint output-length argument")
	}
	out := make([]byte, args[1].Uint())
	h := sha3.NewShake256()
	h.Write(data)
	if _, err := h.Read(out); err != nil {
		return value.Value{}, fmt.Errorf("ffi: shake256: %w", err)
	}
	return value.Bits(out), nil
}

// falcon512Verify is a documented stub: no retrieved dependency ships a
// maintained Go Falcon-512 implementation (see DESIGN.md's internal/ffi
// entry). It always reports verification
// failure rather than silently accepting anything.
//
// TODO: wire a real Falcon-512 verifier once one is available among the
// vetted dependencies; until then this builtin is present for API
// completeness only.
func falcon512Verify(args []value.Value) (value.Value, error) {
	return value.Uint(0), nil
}

// verifyWithScheme returns a Function that verifies args[0]=message,
// args[1]=signature, args[2]=public key (all bits) against the named
// circl signature scheme, returning uint(1)/uint(0). Used for both
// crypto::mldsa_verify and crypto::slhdsa_verify, generalising the
// teacher's OpMLDSAVerify/OpSLHDSAVerify into one code path keyed by
// scheme name.
func verifyWithScheme(name string) Function {
	return func(args []value.Value) (value.Value, error) {
		message, err := bitsArg(args, 0)
		if err != nil {
			return value.Value{}, err
		}
		signature, err := bitsArg(args, 1)
		if err != nil {
			return value.Value{}, err
		}
		pubKeyBytes, err := bitsArg(args, 2)
		if err != nil {
			return value.Value{}, err
		}

		scheme := schemes.ByName(name)
		if scheme == nil {
			return value.Value{}, fmt.Errorf("ffi: unknown signature scheme %q", name)
		}
		pub, err := scheme.UnmarshalBinaryPublicKey(pubKeyBytes)
		if err != nil {
			return value.Uint(0), nil
		}
		ok := scheme.Verify(pub, message, signature, nil)
		if ok {
			return value.Uint(1), nil
		}
		return value.Uint(0), nil
	}
}

// secp256k1Recover recovers the signer's public key from a compact
// signature (args[0], 65 bytes: recovery id + r + s) and a 32-byte message
// hash (args[1]), returning the uncompressed public key as bits. Grounded
// on the teacher's OpSecp256k1Recover (vm.go) / go-ethereum's
// crypto.Ecrecover convention (btcec.RecoverCompact).
func secp256k1Recover(args []value.Value) (value.Value, error) {
	sig, err := bitsArg(args, 0)
	if err != nil {
		return value.Value{}, err
	}
	hash, err := bitsArg(args, 1)
	if err != nil {
		return value.Value{}, err
	}
	pub, _, err := ecdsa.RecoverCompact(sig, hash)
	if err != nil {
		return value.Value{}, fmt.Errorf("ffi: secp256k1_recover: %w", err)
	}
	return value.Bits(pub.SerializeUncompressed()), nil
}
