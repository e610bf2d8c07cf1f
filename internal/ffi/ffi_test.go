// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package ffi

import (
	"errors"
	"testing"

	"github.com/viua-vm/viua/internal/value"
)

func TestRegisterAndCall(t *testing.T) {
	tbl := NewTable()
	if err := tbl.Register("double", func(args []value.Value) (value.Value, error) {
		return value.Int(args[0].Int() * 2), nil
	}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	got, err := tbl.Call("double", []value.Value{value.Int(21)})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if got.Int() != 42 {
		t.Errorf("Call returned %d, want 42", got.Int())
	}
}

func TestRegisterRejectsDuplicateName(t *testing.T) {
	tbl := NewTable()
	noop := func(args []value.Value) (value.Value, error) { return value.Void(), nil }
	if err := tbl.Register("f", noop); err != nil {
		t.Fatalf("first Register: %v", err)
	}
	if err := tbl.Register("f", noop); !errors.Is(err, ErrAlreadyRegistered) {
		t.Fatalf("expected ErrAlreadyRegistered, got %v", err)
	}
}

func TestCallUnknownNameErrors(t *testing.T) {
	tbl := NewTable()
	if _, err := tbl.Call("missing", nil); !errors.Is(err, ErrUnknownFunction) {
		t.Fatalf("expected ErrUnknownFunction, got %v", err)
	}
}

func TestRegisterCryptoPopulatesAllBuiltins(t *testing.T) {
	tbl := NewTable()
	if err := RegisterCrypto(tbl); err != nil {
		t.Fatalf("RegisterCrypto: %v", err)
	}
	want := []string{
		"crypto::sha3_256",
		"crypto::shake256",
		"crypto::falcon512_verify",
		"crypto::mldsa_verify",
		"crypto::slhdsa_verify",
		"crypto::secp256k1_recover",
	}
	names := tbl.Names()
	nameSet := make(map[string]bool, len(names))
	for _, n := range names {
		nameSet[n] = true
	}
	for _, w := range want {
		if !nameSet[w] {
			t.Errorf("expected %q to be registered, got %v", w, names)
		}
	}
}

func TestSHA3256KnownVector(t *testing.T) {
	tbl := NewTable()
	if err := RegisterCrypto(tbl); err != nil {
		t.Fatalf("RegisterCrypto: %v", err)
	}
	got, err := tbl.Call("crypto::sha3_256", []value.Value{value.Bits(nil)})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if got.Kind != value.KindBits || len(got.Bits) != 32 {
		t.Fatalf("expected a 32-byte digest, got %+v", got)
	}
}

func TestShake256ProducesRequestedLength(t *testing.T) {
	tbl := NewTable()
	if err := RegisterCrypto(tbl); err != nil {
		t.Fatalf("RegisterCrypto: %v", err)
	}
	got, err := tbl.Call("crypto::shake256", []value.Value{value.Bits([]byte("hello")), value.Uint(64)})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if len(got.Bits) != 64 {
		t.Fatalf("expected a 64-byte digest, got %d bytes", len(got.Bits))
	}
}

func TestFalcon512VerifyIsAStubThatRejects(t *testing.T) {
	tbl := NewTable()
	if err := RegisterCrypto(tbl); err != nil {
		t.Fatalf("RegisterCrypto: %v", err)
	}
	got, err := tbl.Call("crypto::falcon512_verify", []value.Value{
		value.Bits([]byte("msg")), value.Bits([]byte("sig")), value.Bits([]byte("pub")),
	})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if got.Uint() != 0 {
		t.Errorf("expected the stub to report verification failure, got %d", got.Uint())
	}
}

func TestMLDSAVerifyRejectsGarbageKey(t *testing.T) {
	tbl := NewTable()
	if err := RegisterCrypto(tbl); err != nil {
		t.Fatalf("RegisterCrypto: %v", err)
	}
	got, err := tbl.Call("crypto::mldsa_verify", []value.Value{
		value.Bits([]byte("msg")), value.Bits([]byte("sig")), value.Bits([]byte("not-a-real-key")),
	})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if got.Uint() != 0 {
		t.Errorf("expected verification of a malformed key to report failure, got %d", got.Uint())
	}
}

func TestSecp256k1RecoverRejectsMalformedSignature(t *testing.T) {
	tbl := NewTable()
	if err := RegisterCrypto(tbl); err != nil {
		t.Fatalf("RegisterCrypto: %v", err)
	}
	if _, err := tbl.Call("crypto::secp256k1_recover", []value.Value{
		value.Bits([]byte("too-short")), value.Bits(make([]byte, 32)),
	}); err == nil {
		t.Fatalf("expected a malformed compact signature to error")
	}
}
