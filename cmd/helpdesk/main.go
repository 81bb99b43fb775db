// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"os"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	return rootCommand().Execute(os.Args[1:])
}

func rootCommand() *command {
	return &command{
		name:    "helpdesk",
		summary: "Operator CLI for the helpdesk relay daemon",
		subcommands: []*command{
			ticketsCommand(),
			ticketCommand(),
			chatCommand(),
			userCommand(),
		},
	}
}
