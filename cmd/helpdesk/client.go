// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"net"
	"time"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/helpdesk/lib/codec"
	"github.com/bureau-foundation/helpdesk/relay"
)

const defaultSocketPath = "/run/helpdesk/admin.sock"

// socketFlag registers the shared --socket flag on a command's flag
// set and returns the destination variable.
func socketFlag(flagSet *pflag.FlagSet) *string {
	return flagSet.StringP("socket", "s", defaultSocketPath, "path to the daemon's admin socket")
}

// call performs one request/response exchange with the daemon. A
// response with OK unset is translated into an error carrying the
// daemon's explanation.
func call(socketPath string, request relay.AdminRequest) (relay.AdminResponse, error) {
	conn, err := net.DialTimeout("unix", socketPath, 5*time.Second)
	if err != nil {
		return relay.AdminResponse{}, fmt.Errorf("connecting to daemon at %s: %w (is helpdesk-relay running?)", socketPath, err)
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(30 * time.Second))

	if err := codec.NewEncoder(conn).Encode(request); err != nil {
		return relay.AdminResponse{}, fmt.Errorf("sending request: %w", err)
	}

	var response relay.AdminResponse
	if err := codec.NewDecoder(conn).Decode(&response); err != nil {
		return relay.AdminResponse{}, fmt.Errorf("reading response: %w", err)
	}

	if !response.OK {
		if response.Kind != "" {
			return response, fmt.Errorf("%s (%s)", response.Error, response.Kind)
		}
		return response, fmt.Errorf("%s", response.Error)
	}
	return response, nil
}
