// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package config reads the VIUA_* environment variables that configure a
// VM invocation (§6 "External Interfaces").
package config

import (
	"os"
	"runtime"
	"strconv"
	"strings"
)

// StackTraceFormat selects how an uncaught exception's trace is rendered.
type StackTraceFormat uint8

const (
	StackTraceHuman StackTraceFormat = iota
	StackTraceJSON
)

// Config holds every VIUA_* knob, each with the documented default (§4.4,
// §6).
type Config struct {
	ProcSchedulers int
	FFISchedulers  int
	IOSchedulers   int

	EnableTracing           bool
	StackTraces             bool
	StackTraceSerialisation StackTraceFormat
	StackTracePrintTo       string // "-" means stderr
}

// FromEnv builds a Config from the process environment, applying the
// hardware-concurrency-derived defaults from §4.4.
func FromEnv() Config {
	hw := runtime.NumCPU()
	if hw < 1 {
		hw = 1
	}

	c := Config{
		ProcSchedulers:          envInt("VIUA_PROC_SCHEDULERS", hw),
		FFISchedulers:           envInt("VIUA_FFI_SCHEDULERS", max1(hw/2)),
		IOSchedulers:            envInt("VIUA_IO_SCHEDULERS", max1(hw/2)),
		EnableTracing:           envBool("VIUA_ENABLE_TRACING", false),
		StackTraces:             envBool("VIUA_STACK_TRACES", true),
		StackTraceSerialisation: envFormat("VIUA_STACKTRACE_SERIALISATION"),
		StackTracePrintTo:       envString("VIUA_STACKTRACE_PRINT_TO", "-"),
	}
	return c
}

func max1(n int) int {
	if n < 1 {
		return 1
	}
	return n
}

func envInt(name string, def int) int {
	raw, ok := os.LookupEnv(name)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func envBool(name string, def bool) bool {
	raw, ok := os.LookupEnv(name)
	if !ok {
		return def
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return def
	}
	return b
}

func envString(name, def string) string {
	if raw, ok := os.LookupEnv(name); ok && raw != "" {
		return raw
	}
	return def
}

func envFormat(name string) StackTraceFormat {
	switch strings.ToLower(os.Getenv(name)) {
	case "json":
		return StackTraceJSON
	default:
		return StackTraceHuman
	}
}
