// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Command viua-ld links Viua ELF relocatables into an executable or shared
// object: viua-ld <main>.o <mod>.o... -o <out> [--type=shared|exec|static|object].
package main

import (
	"fmt"
	"os"

	"gopkg.in/urfave/cli.v1"

	"github.com/viua-vm/viua/internal/elfimg"
	"github.com/viua-vm/viua/internal/linker"
)

func main() {
	app := cli.NewApp()
	app.Name = "viua-ld"
	app.Usage = "link Viua ELF relocatables"
	app.UsageText = "viua-ld <main>.o <mod>.o... -o <out> [--type=shared|exec|static|object]"
	app.Flags = []cli.Flag{
		cli.StringFlag{Name: "o", Usage: "output file"},
		cli.StringFlag{Name: "type", Value: "exec", Usage: "exec, static, shared, or object"},
	}
	app.Action = run

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "viua-ld:", err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	inputs := c.Args()
	if len(inputs) == 0 {
		return cli.NewExitError("viua-ld: no input modules", 1)
	}
	out := c.String("o")
	if out == "" {
		return cli.NewExitError("viua-ld: -o <out> is required", 1)
	}

	opts := linker.Options{}
	switch c.String("type") {
	case "exec", "static":
		opts.Type = linker.OutputExecutable
	case "shared", "object":
		opts.Type = linker.OutputRelocatable
	default:
		return cli.NewExitError(fmt.Sprintf("viua-ld: unknown --type %q", c.String("type")), 1)
	}

	modules := make([]*elfimg.Image, 0, len(inputs))
	for _, path := range inputs {
		img, err := readModule(path)
		if err != nil {
			return cli.NewExitError(err.Error(), 1)
		}
		modules = append(modules, img)
	}

	linked, err := linker.Link(modules, opts)
	if err != nil {
		return cli.NewExitError(fmt.Sprintf("viua-ld: %v", err), 1)
	}

	return writeModule(out, linked)
}

func readModule(path string) (*elfimg.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("viua-ld: opening %s: %w", path, err)
	}
	defer f.Close()
	img, err := elfimg.Read(f)
	if err != nil {
		return nil, fmt.Errorf("viua-ld: reading %s: %w", path, err)
	}
	return img, nil
}

func writeModule(path string, img *elfimg.Image) error {
	raw, err := elfimg.Write(img)
	if err != nil {
		return cli.NewExitError(fmt.Sprintf("viua-ld: encoding output: %v", err), 1)
	}
	if err := os.WriteFile(path, raw, 0o755); err != nil {
		return cli.NewExitError(fmt.Sprintf("viua-ld: writing %s: %v", path, err), 1)
	}
	return nil
}
