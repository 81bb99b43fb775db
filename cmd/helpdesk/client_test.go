// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"net"
	"path/filepath"
	"strings"
	"testing"

	"github.com/bureau-foundation/helpdesk/lib/codec"
	"github.com/bureau-foundation/helpdesk/lib/testutil"
	"github.com/bureau-foundation/helpdesk/relay"
)

// stubDaemon answers one exchange per connection with a canned
// response, recording the requests it saw.
func stubDaemon(t *testing.T, response relay.AdminResponse) (string, *[]relay.AdminRequest) {
	t.Helper()
	socketPath := filepath.Join(testutil.SocketDir(t), "admin.sock")
	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		t.Fatalf("listening on %s: %v", socketPath, err)
	}
	t.Cleanup(func() { listener.Close() })

	var requests []relay.AdminRequest
	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			var request relay.AdminRequest
			if err := codec.NewDecoder(conn).Decode(&request); err == nil {
				requests = append(requests, request)
				codec.NewEncoder(conn).Encode(response)
			}
			conn.Close()
		}
	}()
	return socketPath, &requests
}

func TestCall(t *testing.T) {
	t.Run("round trip", func(t *testing.T) {
		socketPath, requests := stubDaemon(t, relay.AdminResponse{
			OK: true,
			Tickets: []relay.TicketSummary{
				{ID: 7, UserID: "@alice:test", Name: "Billing issue", Status: "open"},
			},
		})

		response, err := call(socketPath, relay.AdminRequest{Action: "tickets.open"})
		if err != nil {
			t.Fatalf("call failed: %v", err)
		}
		if len(response.Tickets) != 1 || response.Tickets[0].ID != 7 {
			t.Errorf("tickets = %+v", response.Tickets)
		}
		if len(*requests) != 1 || (*requests)[0].Action != "tickets.open" {
			t.Errorf("daemon saw requests %+v", *requests)
		}
	})

	t.Run("daemon error becomes a readable error", func(t *testing.T) {
		socketPath, _ := stubDaemon(t, relay.AdminResponse{
			Kind:  "invalid_state",
			Error: "ticket #7 is already closed",
		})

		_, err := call(socketPath, relay.AdminRequest{Action: "ticket.close", Ticket: 7})
		if err == nil {
			t.Fatal("expected error from failed response")
		}
		if !strings.Contains(err.Error(), "already closed") || !strings.Contains(err.Error(), "invalid_state") {
			t.Errorf("error = %v", err)
		}
	})

	t.Run("missing socket names the daemon", func(t *testing.T) {
		_, err := call(filepath.Join(t.TempDir(), "nowhere.sock"), relay.AdminRequest{Action: "tickets.open"})
		if err == nil {
			t.Fatal("expected connection error")
		}
		if !strings.Contains(err.Error(), "helpdesk-relay") {
			t.Errorf("error should point at the daemon: %v", err)
		}
	})
}

func TestTicketArg(t *testing.T) {
	cases := []struct {
		args    []string
		want    int64
		wantErr bool
	}{
		{args: []string{"12"}, want: 12},
		{args: []string{"#12"}, want: 12},
		{args: []string{"0"}, wantErr: true},
		{args: []string{"-3"}, wantErr: true},
		{args: []string{"twelve"}, wantErr: true},
		{args: []string{}, wantErr: true},
		{args: []string{"1", "2"}, wantErr: true},
	}
	for _, tc := range cases {
		got, err := ticketArg(tc.args)
		if tc.wantErr {
			if err == nil {
				t.Errorf("ticketArg(%v): expected error, got %d", tc.args, got)
			}
			continue
		}
		if err != nil || got != tc.want {
			t.Errorf("ticketArg(%v) = %d, %v; want %d", tc.args, got, err, tc.want)
		}
	}
}

func TestCommandDispatch(t *testing.T) {
	t.Run("unknown subcommand", func(t *testing.T) {
		err := rootCommand().Execute([]string{"frobnicate"})
		if err == nil || !strings.Contains(err.Error(), "unknown command") {
			t.Errorf("err = %v", err)
		}
	})

	t.Run("group without subcommand", func(t *testing.T) {
		err := rootCommand().Execute([]string{"ticket"})
		if err == nil || !strings.Contains(err.Error(), "subcommand required") {
			t.Errorf("err = %v", err)
		}
	})

	t.Run("help is not an error", func(t *testing.T) {
		if err := rootCommand().Execute([]string{"--help"}); err != nil {
			t.Errorf("help returned error: %v", err)
		}
	})

	t.Run("dispatch reaches the daemon", func(t *testing.T) {
		socketPath, requests := stubDaemon(t, relay.AdminResponse{OK: true})

		err := rootCommand().Execute([]string{"ticket", "reopen", "4", "--socket", socketPath})
		if err != nil {
			t.Fatalf("Execute failed: %v", err)
		}
		if len(*requests) != 1 {
			t.Fatalf("daemon saw %d requests", len(*requests))
		}
		request := (*requests)[0]
		if request.Action != "ticket.reopen" || request.Ticket != 4 {
			t.Errorf("request = %+v", request)
		}
	})
}
