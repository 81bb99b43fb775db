// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/helpdesk/relay"
)

// ticketsCommand lists open tickets.
func ticketsCommand() *command {
	var socket *string
	return &command{
		name:    "tickets",
		summary: "List open tickets",
		usage:   "helpdesk tickets [flags]",
		flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("tickets", pflag.ContinueOnError)
			socket = socketFlag(flagSet)
			return flagSet
		},
		run: func(args []string) error {
			response, err := call(*socket, relay.AdminRequest{Action: "tickets.open"})
			if err != nil {
				return err
			}
			if len(response.Tickets) == 0 {
				fmt.Println("No open tickets.")
				return nil
			}
			return writeTicketTable(response.Tickets)
		},
	}
}

// ticketCommand groups per-ticket lifecycle operations.
func ticketCommand() *command {
	return &command{
		name:    "ticket",
		summary: "Ticket lifecycle operations",
		subcommands: []*command{
			ticketUserAction("claim", "Assign a staff member to a ticket", "ticket.claim"),
			ticketUserAction("claimfor", "Assign a support responder to a ticket", "ticket.claimfor"),
			ticketUserAction("unassign", "Remove an assignee from a ticket", "ticket.unassign"),
			ticketCloseCommand(),
			ticketSimpleAction("reopen", "Reopen a closed ticket", "ticket.reopen"),
			ticketSimpleAction("delete", "Delete a closed, vacated ticket", "ticket.delete"),
			ticketMessagesCommand(),
		},
	}
}

// ticketUserAction builds a subcommand taking a ticket ID and a
// --user flag.
func ticketUserAction(name, summary, action string) *command {
	var socket, user *string
	return &command{
		name:    name,
		summary: summary,
		usage:   fmt.Sprintf("helpdesk ticket %s <ticket-id> --user USER", name),
		flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet(name, pflag.ContinueOnError)
			socket = socketFlag(flagSet)
			user = flagSet.StringP("user", "u", "", "Matrix user ID (e.g. @staff:example.com)")
			return flagSet
		},
		run: func(args []string) error {
			ticketID, err := ticketArg(args)
			if err != nil {
				return err
			}
			if *user == "" {
				return fmt.Errorf("--user is required")
			}
			_, err = call(*socket, relay.AdminRequest{
				Action: action,
				Ticket: ticketID,
				User:   *user,
			})
			if err != nil {
				return err
			}
			fmt.Printf("ticket #%d: %s %s\n", ticketID, name, *user)
			return nil
		},
	}
}

// ticketSimpleAction builds a subcommand taking only a ticket ID.
func ticketSimpleAction(name, summary, action string) *command {
	var socket *string
	return &command{
		name:    name,
		summary: summary,
		usage:   fmt.Sprintf("helpdesk ticket %s <ticket-id>", name),
		flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet(name, pflag.ContinueOnError)
			socket = socketFlag(flagSet)
			return flagSet
		},
		run: func(args []string) error {
			ticketID, err := ticketArg(args)
			if err != nil {
				return err
			}
			if _, err := call(*socket, relay.AdminRequest{Action: action, Ticket: ticketID}); err != nil {
				return err
			}
			fmt.Printf("ticket #%d: %s\n", ticketID, name)
			return nil
		},
	}
}

func ticketCloseCommand() *command {
	var socket *string
	var force *bool
	return &command{
		name:    "close",
		summary: "Close an open ticket",
		usage:   "helpdesk ticket close <ticket-id> [--force]",
		flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("close", pflag.ContinueOnError)
			socket = socketFlag(flagSet)
			force = flagSet.BoolP("force", "f", false, "close even if already closed (re-runs cleanup)")
			return flagSet
		},
		run: func(args []string) error {
			ticketID, err := ticketArg(args)
			if err != nil {
				return err
			}
			_, err = call(*socket, relay.AdminRequest{
				Action: "ticket.close",
				Ticket: ticketID,
				Force:  *force,
			})
			if err != nil {
				return err
			}
			fmt.Printf("ticket #%d: closed\n", ticketID)
			return nil
		},
	}
}

func ticketMessagesCommand() *command {
	var socket *string
	var limit *int
	return &command{
		name:    "messages",
		summary: "Show recent messages in a ticket room",
		usage:   "helpdesk ticket messages <ticket-id> [--limit N]",
		flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("messages", pflag.ContinueOnError)
			socket = socketFlag(flagSet)
			limit = flagSet.IntP("limit", "n", 50, "maximum number of messages")
			return flagSet
		},
		run: func(args []string) error {
			ticketID, err := ticketArg(args)
			if err != nil {
				return err
			}
			response, err := call(*socket, relay.AdminRequest{
				Action: "ticket.messages",
				Ticket: ticketID,
				Limit:  *limit,
			})
			if err != nil {
				return err
			}
			if len(response.Messages) == 0 {
				fmt.Println("No messages.")
				return nil
			}
			for _, message := range response.Messages {
				timestamp := time.UnixMilli(message.Timestamp).Format(time.RFC3339)
				fmt.Printf("%s  %s  %s\n", timestamp, message.Sender, message.Body)
			}
			return nil
		},
	}
}

// ticketArg parses the single positional ticket ID, accepting an
// optional "#" prefix.
func ticketArg(args []string) (int64, error) {
	if len(args) != 1 {
		return 0, fmt.Errorf("exactly one ticket ID argument is required")
	}
	raw := strings.TrimPrefix(args[0], "#")
	ticketID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || ticketID <= 0 {
		return 0, fmt.Errorf("invalid ticket ID %q", args[0])
	}
	return ticketID, nil
}

func writeTicketTable(tickets []relay.TicketSummary) error {
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTATUS\tUSER\tNAME")
	for _, ticket := range tickets {
		fmt.Fprintf(tw, "#%d\t%s\t%s\t%s\n", ticket.ID, ticket.Status, ticket.UserID, ticket.Name)
	}
	return tw.Flush()
}
