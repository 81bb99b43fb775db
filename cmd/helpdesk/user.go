// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/helpdesk/relay"
)

// userCommand groups per-user queries.
func userCommand() *command {
	return &command{
		name:    "user",
		summary: "User queries",
		subcommands: []*command{
			userActiveCommand(),
			userAvatarCommand(),
		},
	}
}

func userActiveCommand() *command {
	var socket *string
	return &command{
		name:    "active",
		summary: "Show a user's active ticket",
		usage:   "helpdesk user active <user-id>",
		flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("active", pflag.ContinueOnError)
			socket = socketFlag(flagSet)
			return flagSet
		},
		run: func(args []string) error {
			userID, err := userArg(args)
			if err != nil {
				return err
			}
			response, err := call(*socket, relay.AdminRequest{Action: "ticket.active", User: userID})
			if err != nil {
				return err
			}
			if response.ActiveTicket == 0 {
				fmt.Printf("%s has no active ticket\n", userID)
				return nil
			}
			fmt.Printf("%s: ticket #%d\n", userID, response.ActiveTicket)
			return nil
		},
	}
}

func userAvatarCommand() *command {
	var socket *string
	return &command{
		name:    "avatar",
		summary: "Show a user's avatar URL",
		usage:   "helpdesk user avatar <user-id>",
		flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("avatar", pflag.ContinueOnError)
			socket = socketFlag(flagSet)
			return flagSet
		},
		run: func(args []string) error {
			userID, err := userArg(args)
			if err != nil {
				return err
			}
			response, err := call(*socket, relay.AdminRequest{Action: "user.avatar", User: userID})
			if err != nil {
				return err
			}
			if response.AvatarURL == "" {
				fmt.Printf("%s has no avatar\n", userID)
				return nil
			}
			fmt.Println(response.AvatarURL)
			return nil
		},
	}
}

func userArg(args []string) (string, error) {
	if len(args) != 1 {
		return "", fmt.Errorf("exactly one user ID argument is required")
	}
	return args[0], nil
}
