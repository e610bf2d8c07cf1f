// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package vlog provides the VM's structured, leveled logging. Call sites
// look like "vlog.Info("msg", "key", value, ...)" throughout the codebase,
// matching the key-value logging convention used pervasively by the
// teacher repository's own internal log package.
package vlog

import (
	"context"
	"io"
	"log/slog"
	"os"
)

type (
	Logger = slog.Logger
)

// defaultLogger is the package-level logger used by call sites that don't
// hold their own *Logger (most of the VM core; the kernel and scheduler
// attach PID/scheduler-id context via With).
var defaultLogger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: LevelVar}))

// LevelVar sets the default logger's minimum level. cmd/viua lowers it to
// LevelTrace when VIUA_ENABLE_TRACING is set.
var LevelVar = new(slog.LevelVar)

// SetOutput redirects the default logger's output.
func SetOutput(w io.Writer) {
	defaultLogger = slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: LevelVar}))
}

// Default returns the package-level logger.
func Default() *Logger { return defaultLogger }

// With returns a logger bound to the given key-value context (e.g. a PID),
// mirroring the teacher's "log := log.New("pid", p)" attachment idiom.
func With(args ...any) *Logger { return defaultLogger.With(args...) }

func Debug(msg string, args ...any) { defaultLogger.Debug(msg, args...) }
func Info(msg string, args ...any)  { defaultLogger.Info(msg, args...) }
func Warn(msg string, args ...any)  { defaultLogger.Warn(msg, args...) }
func Error(msg string, args ...any) { defaultLogger.Error(msg, args...) }

// Trace logs below slog's Debug level, matching spec.md's VIUA_ENABLE_TRACING
// surface for per-instruction/FFI/IO tracing.
const LevelTrace = slog.Level(-8)

func Trace(msg string, args ...any) {
	defaultLogger.Log(context.Background(), LevelTrace, msg, args...)
}
