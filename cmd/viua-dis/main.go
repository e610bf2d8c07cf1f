// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Command viua-dis disassembles a Viua ELF module: viua-dis <elf> [-o <out>.s].
package main

import (
	"fmt"
	"os"

	"gopkg.in/urfave/cli.v1"

	"github.com/viua-vm/viua/internal/disasm"
	"github.com/viua-vm/viua/internal/elfimg"
)

func main() {
	app := cli.NewApp()
	app.Name = "viua-dis"
	app.Usage = "disassemble a Viua ELF module"
	app.UsageText = "viua-dis <elf> [-o <out>.s]"
	app.Flags = []cli.Flag{
		cli.StringFlag{Name: "o", Usage: "output file (default: stdout)"},
	}
	app.Action = run

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "viua-dis:", err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	args := c.Args()
	if len(args) != 1 {
		return cli.NewExitError("viua-dis: expected exactly one <elf> argument", 1)
	}
	path := args[0]

	f, err := os.Open(path)
	if err != nil {
		return cli.NewExitError(fmt.Sprintf("viua-dis: opening %s: %v", path, err), 1)
	}
	defer f.Close()

	img, err := elfimg.Read(f)
	if err != nil {
		return cli.NewExitError(fmt.Sprintf("viua-dis: reading %s: %v", path, err), 1)
	}

	listing, err := disasm.Text(img)
	if err != nil {
		return cli.NewExitError(fmt.Sprintf("viua-dis: %v", err), 1)
	}

	if out := c.String("o"); out != "" {
		if err := os.WriteFile(out, []byte(listing), 0o644); err != nil {
			return cli.NewExitError(fmt.Sprintf("viua-dis: writing %s: %v", out, err), 1)
		}
		return nil
	}
	fmt.Print(listing)
	return nil
}
