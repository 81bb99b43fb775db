// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/helpdesk/relay"
)

// chatCommand groups chat lifecycle operations.
func chatCommand() *command {
	return &command{
		name:    "chat",
		summary: "Chat lifecycle operations",
		subcommands: []*command{
			chatCloseCommand(),
			chatDeleteCommand(),
		},
	}
}

func chatCloseCommand() *command {
	var socket *string
	var force *bool
	return &command{
		name:    "close",
		summary: "Close an open chat",
		usage:   "helpdesk chat close <chat-id> [--force]",
		flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("close", pflag.ContinueOnError)
			socket = socketFlag(flagSet)
			force = flagSet.BoolP("force", "f", false, "close even if already closed (re-runs cleanup)")
			return flagSet
		},
		run: func(args []string) error {
			chatID, err := chatArg(args)
			if err != nil {
				return err
			}
			_, err = call(*socket, relay.AdminRequest{
				Action: "chat.close",
				Chat:   chatID,
				Force:  *force,
			})
			if err != nil {
				return err
			}
			fmt.Printf("chat %d: closed\n", chatID)
			return nil
		},
	}
}

func chatDeleteCommand() *command {
	var socket *string
	return &command{
		name:    "delete",
		summary: "Delete a closed, vacated chat",
		usage:   "helpdesk chat delete <chat-id>",
		flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("delete", pflag.ContinueOnError)
			socket = socketFlag(flagSet)
			return flagSet
		},
		run: func(args []string) error {
			chatID, err := chatArg(args)
			if err != nil {
				return err
			}
			if _, err := call(*socket, relay.AdminRequest{Action: "chat.delete", Chat: chatID}); err != nil {
				return err
			}
			fmt.Printf("chat %d: deleted\n", chatID)
			return nil
		},
	}
}

func chatArg(args []string) (int64, error) {
	if len(args) != 1 {
		return 0, fmt.Errorf("exactly one chat ID argument is required")
	}
	chatID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil || chatID <= 0 {
		return 0, fmt.Errorf("invalid chat ID %q", args[0])
	}
	return chatID, nil
}
