// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Command viua runs a Viua ELF executable: viua <elf> [args...].
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/urfave/cli.v1"

	"github.com/viua-vm/viua/internal/config"
	"github.com/viua-vm/viua/internal/elfimg"
	"github.com/viua-vm/viua/internal/ioworker"
	"github.com/viua-vm/viua/internal/kernel"
	"github.com/viua-vm/viua/internal/loader"
	"github.com/viua-vm/viua/internal/process"
	"github.com/viua-vm/viua/internal/scheduler"
	"github.com/viua-vm/viua/internal/value"
	"github.com/viua-vm/viua/internal/vlog"
)

func main() {
	app := cli.NewApp()
	app.Name = "viua"
	app.Usage = "run a Viua ELF executable"
	app.UsageText = "viua <elf> [args...]"
	app.Action = run
	// Stop urfave/cli from swallowing the process's own arguments as
	// flags meant for the guest program (e.g. "-v").
	app.SkipFlagParsing = true

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "viua:", err)
		os.Exit(2)
	}
}

func run(c *cli.Context) error {
	args := c.Args()
	if len(args) < 1 {
		return cli.NewExitError("viua: missing <elf> argument", 2)
	}
	path := args[0]
	guestArgs := args[1:]

	cfg := config.FromEnv()
	exitCode, err := execute(path, guestArgs, cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, "viua:", err)
	}
	os.Exit(exitCode)
	return nil
}

// execute loads path, runs its entry process to completion, and returns the
// exit code from spec.md §6: 0 on clean exit, 1 on an uncaught exception
// terminating the main process, 2 on an internal invariant violation.
func execute(path string, guestArgs []string, cfg config.Config) (int, error) {
	if cfg.EnableTracing {
		vlog.LevelVar.Set(vlog.LevelTrace)
	}

	f, err := os.Open(path)
	if err != nil {
		return 2, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	img, err := elfimg.Read(f)
	if err != nil {
		return 2, fmt.Errorf("reading %s: %w", path, err)
	}
	if img.Type != elfimg.TypeExec {
		return 2, fmt.Errorf("%s is not an executable (no entry point)", path)
	}
	entrySym, ok := img.EntryPointSymbol()
	if !ok {
		return 2, fmt.Errorf("%s has no entry point symbol", path)
	}

	moduleName := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	mod, err := loader.Module(moduleName, img)
	if err != nil {
		return 2, fmt.Errorf("loading %s: %w", path, err)
	}

	io := ioworker.NewPool(cfg.IOSchedulers)
	defer io.Shutdown()

	k := kernel.New(io)
	k.LoadModule(mod)

	pool := scheduler.NewPool(k, cfg.ProcSchedulers, 0)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pool.Start(ctx)
	defer pool.Stop()

	params := make([]value.Value, len(guestArgs))
	for i, a := range guestArgs {
		params[i] = value.String(a)
	}

	entry := value.FuncRef{Module: moduleName, Name: entrySym.Name}
	pid, err := k.Spawn(entry, params, process.DefaultMainPriority, true)
	if err != nil {
		return 2, fmt.Errorf("spawning %s: %w", entry.Name, err)
	}

	for {
		_, done, resultErr := k.ResultOf(pid)
		if done {
			if resultErr != nil {
				reportFailure(pid.String(), resultErr, cfg)
				// Anything other than an uncaught exception is an internal
				// fault; InstructionUnchanged is an invariant violation too.
				const uncaught = "process: uncaught exception: "
				msg := resultErr.Error()
				if !strings.HasPrefix(msg, uncaught) || strings.HasPrefix(msg, uncaught+"InstructionUnchanged") {
					return 2, nil
				}
				return 1, nil
			}
			return 0, nil
		}
		time.Sleep(time.Millisecond)
	}
}

// reportFailure prints the best-effort failure report a process.ExitErr
// carries, in either human or JSON form per VIUA_STACKTRACE_SERIALISATION
// (§6), to VIUA_STACKTRACE_PRINT_TO ("-" meaning stderr).
func reportFailure(pid string, err error, cfg config.Config) {
	w := os.Stderr
	if cfg.StackTracePrintTo != "-" && cfg.StackTracePrintTo != "" {
		if f, openErr := os.Create(cfg.StackTracePrintTo); openErr == nil {
			defer f.Close()
			w = f
		}
	}

	vlog.Error("process terminated with an uncaught exception", "pid", pid, "err", err)

	if cfg.StackTraceSerialisation == config.StackTraceJSON {
		enc := json.NewEncoder(w)
		enc.Encode(map[string]string{"pid": pid, "error": err.Error()})
		return
	}
	fmt.Fprintf(w, "process %s terminated: %s\n", pid, err)
}
