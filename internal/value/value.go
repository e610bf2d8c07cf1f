// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package value implements Viua's runtime value model: a tagged sum over
// the closed set of value kinds (§3, §9 — "reimplement inheritance as a
// tagged sum over the closed value kinds with a narrow trait for debug
// repr / deep-copy / is-reference").
package value

import (
	"fmt"

	"github.com/google/uuid"
)

// Kind tags the dynamic type a Value currently holds.
type Kind uint8

const (
	KindVoid Kind = iota
	KindInt
	KindUint
	KindFloat32
	KindFloat64
	KindPointer
	KindAtom
	KindPID
	KindString
	KindBits
	KindVector
	KindStruct
	KindClosure
	KindFuncRef
	KindIOHandle
	KindException
)

func (k Kind) String() string {
	switch k {
	case KindVoid:
		return "void"
	case KindInt:
		return "int"
	case KindUint:
		return "uint"
	case KindFloat32:
		return "float32"
	case KindFloat64:
		return "float64"
	case KindPointer:
		return "pointer"
	case KindAtom:
		return "atom"
	case KindPID:
		return "pid"
	case KindString:
		return "string"
	case KindBits:
		return "bits"
	case KindVector:
		return "vector"
	case KindStruct:
		return "struct"
	case KindClosure:
		return "closure"
	case KindFuncRef:
		return "function"
	case KindIOHandle:
		return "io_handle"
	case KindException:
		return "exception"
	default:
		return "?"
	}
}

// PID is an opaque 128-bit process identifier: a random (version 4) UUID
// from uuid.New. PIDs are not allocated in sequence, and nothing checks for
// a collision.
type PID uuid.UUID

func NewPID() PID { return PID(uuid.New()) }

func (p PID) String() string { return uuid.UUID(p).String() }

func (p PID) Equal(other PID) bool { return p == other }

// Pointer is a weak reference to a value owned by some process; it must be
// authenticated against the current process before dereference (§3).
type Pointer struct {
	Owner  PID
	Target *Value
}

// Closure captures a function reference plus its bound cells.
type Closure struct {
	Function string
	Captured map[string]Value
}

// FuncRef names a function or block by symbol.
type FuncRef struct {
	Name   string
	Module string
}

// IOHandle is an opaque handle to an I/O interaction's underlying resource.
type IOHandle struct {
	ID uint64
}

// Exception is a first-class value carrying a user-visible error (§7, §9:
// "represent user-visible exceptions as first-class Value variants").
type Exception struct {
	Type    string
	Message string
	Trace   []TraceEntry
}

// TraceEntry is one frame of a call trace. The unwinder does not fill
// Exception.Trace, so it is empty on every exception the VM raises.
type TraceEntry struct {
	Function      string
	ReturnAddress uint32
}

func (e Exception) Error() string {
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Flags record a register cell's ownership state (§3: "Register cell ...
// flags {moved, reference, keep, bound, to-be-bound, copy-on-write}").
type Flags uint8

const (
	FlagMoved Flags = 1 << iota
	FlagReference
	FlagKeep
	FlagBound
	FlagToBeBound
	FlagCopyOnWrite
)

func (f Flags) Has(flag Flags) bool { return f&flag != 0 }

// Value is the tagged runtime value. The zero Value is KindVoid.
type Value struct {
	Kind Kind

	i   int64
	u   uint64
	f32 float32
	f64 float64

	Pointer   Pointer
	Atom      string
	PID       PID
	Str       string
	Bits      []byte
	Vector    []Value
	Struct    map[string]Value
	Closure   Closure
	FuncRef   FuncRef
	IOHandle  IOHandle
	Exception Exception
}

func Void() Value                { return Value{Kind: KindVoid} }
func Int(n int64) Value          { return Value{Kind: KindInt, i: n} }
func Uint(n uint64) Value        { return Value{Kind: KindUint, u: n} }
func Float32(f float32) Value    { return Value{Kind: KindFloat32, f32: f} }
func Float64(f float64) Value    { return Value{Kind: KindFloat64, f64: f} }
func Atom(s string) Value        { return Value{Kind: KindAtom, Atom: s} }
func String(s string) Value      { return Value{Kind: KindString, Str: s} }
func Pid(p PID) Value            { return Value{Kind: KindPID, PID: p} }
func Bits(b []byte) Value        { return Value{Kind: KindBits, Bits: append([]byte(nil), b...)} }
func Vector(vs []Value) Value    { return Value{Kind: KindVector, Vector: vs} }
func Struct(m map[string]Value) Value {
	return Value{Kind: KindStruct, Struct: m}
}
func ExceptionValue(typ, msg string) Value {
	return Value{Kind: KindException, Exception: Exception{Type: typ, Message: msg}}
}

func (v Value) Int() int64     { return v.i }
func (v Value) Uint() uint64   { return v.u }
func (v Value) Float32() float32 { return v.f32 }
func (v Value) Float64() float64 { return v.f64 }

func (v Value) IsVoid() bool { return v.Kind == KindVoid }

// IsReference reports whether a value's identity, rather than its content,
// is what matters for equality/ownership purposes (pointers, closures,
// PIDs, IO handles).
func (v Value) IsReference() bool {
	switch v.Kind {
	case KindPointer, KindClosure, KindPID, KindIOHandle:
		return true
	default:
		return false
	}
}

func (v Value) String() string {
	switch v.Kind {
	case KindVoid:
		return "void"
	case KindInt:
		return fmt.Sprintf("%d", v.i)
	case KindUint:
		return fmt.Sprintf("%d", v.u)
	case KindFloat32:
		return fmt.Sprintf("%g", v.f32)
	case KindFloat64:
		return fmt.Sprintf("%g", v.f64)
	case KindAtom:
		return "'" + v.Atom + "'"
	case KindPID:
		return v.PID.String()
	case KindString:
		return v.Str
	case KindBits:
		return fmt.Sprintf("bits(%d)", len(v.Bits))
	case KindVector:
		return fmt.Sprintf("vector(%d)", len(v.Vector))
	case KindStruct:
		return fmt.Sprintf("struct(%d)", len(v.Struct))
	case KindClosure:
		return fmt.Sprintf("closure(%s)", v.Closure.Function)
	case KindFuncRef:
		return fmt.Sprintf("function(%s::%s)", v.FuncRef.Module, v.FuncRef.Name)
	case KindIOHandle:
		return fmt.Sprintf("io_handle(%d)", v.IOHandle.ID)
	case KindException:
		return v.Exception.Error()
	case KindPointer:
		return "pointer"
	default:
		return "?"
	}
}

// DeepCopy returns a value-semantics duplicate, recursing through vectors
// and structs. Closures and pointers are reference kinds and are returned
// unchanged by DeepCopy; callers that need SEND's isolation rules must
// check CanCrossProcess first.
func (v Value) DeepCopy() Value {
	switch v.Kind {
	case KindVector:
		out := make([]Value, len(v.Vector))
		for i, e := range v.Vector {
			out[i] = e.DeepCopy()
		}
		return Value{Kind: KindVector, Vector: out}
	case KindStruct:
		out := make(map[string]Value, len(v.Struct))
		for k, e := range v.Struct {
			out[k] = e.DeepCopy()
		}
		return Value{Kind: KindStruct, Struct: out}
	case KindBits:
		return Bits(v.Bits)
	default:
		return v
	}
}

// CanCrossProcess reports whether a value is legal to SEND to another
// process. Pointers and closures cannot cross processes (§5): "attempting
// to do so raises IsolationViolation". Per the Open Question decision in
// SPEC_FULL.md, this is unconditional.
func (v Value) CanCrossProcess() bool {
	switch v.Kind {
	case KindPointer, KindClosure:
		return false
	case KindVector:
		for _, e := range v.Vector {
			if !e.CanCrossProcess() {
				return false
			}
		}
		return true
	case KindStruct:
		for _, e := range v.Struct {
			if !e.CanCrossProcess() {
				return false
			}
		}
		return true
	default:
		return true
	}
}
