// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package ref

import (
	"fmt"
	"strings"
)

// parseMatrixID splits a sigil-prefixed Matrix identifier
// ("@localpart:server") into localpart and server, validating the
// structural format. The sigil must already be present — callers pass
// the raw identifier including '@'.
func parseMatrixID(raw string) (localpart, server string, err error) {
	if raw == "" {
		return "", "", fmt.Errorf("empty user ID")
	}
	if raw[0] != '@' {
		return "", "", fmt.Errorf("user ID must start with '@': %q", raw)
	}

	colonIndex := strings.IndexByte(raw[1:], ':')
	if colonIndex < 0 {
		return "", "", fmt.Errorf("user ID missing ':server' suffix: %q", raw)
	}
	if colonIndex == 0 {
		return "", "", fmt.Errorf("user ID has empty localpart: %q", raw)
	}

	localpart = raw[1 : 1+colonIndex]
	server = raw[1+colonIndex+1:]
	if server == "" {
		return "", "", fmt.Errorf("user ID has empty server name: %q", raw)
	}
	return localpart, server, nil
}
