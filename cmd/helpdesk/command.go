// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/pflag"
)

// command is one node in the CLI tree: either a group dispatching to
// subcommands or a leaf with a run function.
type command struct {
	name    string
	summary string
	usage   string

	// flags returns a configured flag set. Called lazily; nil means
	// the command accepts no flags.
	flags func() *pflag.FlagSet

	subcommands []*command

	// run executes the leaf with the positional args left after flag
	// parsing.
	run func(args []string) error

	parent *command
}

// Execute parses args and dispatches to the matching subcommand or the
// run function.
func (c *command) Execute(args []string) error {
	if len(args) > 0 && isHelpFlag(args[0]) {
		c.printHelp(os.Stderr)
		return nil
	}

	if len(c.subcommands) > 0 && len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		name := args[0]
		for _, sub := range c.subcommands {
			if sub.name == name {
				sub.parent = c
				return sub.Execute(args[1:])
			}
		}
		return fmt.Errorf("unknown command %q\n\nRun '%s --help' for usage.", name, c.fullName())
	}

	if c.run == nil {
		c.printHelp(os.Stderr)
		if len(args) == 0 {
			return fmt.Errorf("subcommand required")
		}
		return fmt.Errorf("unknown argument %q", args[0])
	}

	if c.flags != nil {
		flagSet := c.flags()
		flagSet.SetOutput(io.Discard)
		if err := flagSet.Parse(args); err != nil {
			return fmt.Errorf("%s\n\nRun '%s --help' for usage.", err, c.fullName())
		}
		args = flagSet.Args()
	}

	return c.run(args)
}

func (c *command) printHelp(w io.Writer) {
	if c.summary != "" {
		fmt.Fprintf(w, "%s\n\n", c.summary)
	}

	if c.usage != "" {
		fmt.Fprintf(w, "Usage: %s\n", c.usage)
	} else if len(c.subcommands) > 0 {
		fmt.Fprintf(w, "Usage: %s <command> [flags]\n", c.fullName())
	} else {
		fmt.Fprintf(w, "Usage: %s [flags]\n", c.fullName())
	}

	if len(c.subcommands) > 0 {
		fmt.Fprintf(w, "\nCommands:\n")
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		for _, sub := range c.subcommands {
			fmt.Fprintf(tw, "  %s\t%s\n", sub.name, sub.summary)
		}
		tw.Flush()
	}

	if c.flags != nil {
		fmt.Fprintf(w, "\nFlags:\n%s", c.flags().FlagUsages())
	}
}

func (c *command) fullName() string {
	if c.parent == nil {
		return c.name
	}
	return c.parent.fullName() + " " + c.name
}

func isHelpFlag(arg string) bool {
	return arg == "-h" || arg == "--help" || arg == "help"
}
