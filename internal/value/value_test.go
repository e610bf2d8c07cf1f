// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package value

import "testing"

func TestCanCrossProcess(t *testing.T) {
	tests := []struct {
		name string
		v    Value
		want bool
	}{
		{"int", Int(42), true},
		{"string", String("ping"), true},
		{"pointer", Value{Kind: KindPointer}, false},
		{"closure", Value{Kind: KindClosure}, false},
		{"vector of ints", Vector([]Value{Int(1), Int(2)}), true},
		{"vector with pointer", Vector([]Value{Int(1), {Kind: KindPointer}}), false},
		{"struct with closure", Struct(map[string]Value{"f": {Kind: KindClosure}}), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.v.CanCrossProcess(); got != tt.want {
				t.Errorf("CanCrossProcess() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDeepCopyIndependence(t *testing.T) {
	original := Vector([]Value{String("a"), Vector([]Value{Int(1)})})
	clone := original.DeepCopy()

	clone.Vector[0] = String("mutated")
	if original.Vector[0].Str != "a" {
		t.Fatalf("mutating the clone affected the original: %v", original.Vector[0])
	}
}

func TestPIDUniqueness(t *testing.T) {
	a, b := NewPID(), NewPID()
	if a.Equal(b) {
		t.Fatalf("two freshly generated PIDs should not be equal")
	}
}

func TestIsReference(t *testing.T) {
	if !Pid(NewPID()).IsReference() {
		t.Fatalf("PID values should be reference kind")
	}
	if Int(1).IsReference() {
		t.Fatalf("int values should not be reference kind")
	}
}
