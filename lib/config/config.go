// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/bureau-foundation/helpdesk/lib/ref"
)

// Config is the master configuration for the helpdesk relay.
type Config struct {
	// Matrix configures the homeserver connection and bot account.
	Matrix MatrixConfig `yaml:"matrix"`

	// Rooms identifies the fixed rooms the relay operates in.
	Rooms RoomsConfig `yaml:"rooms"`

	// Relay configures message routing behavior.
	Relay RelayConfig `yaml:"relay"`

	// Storage configures the SQLite database.
	Storage StorageConfig `yaml:"storage"`

	// Admin configures the Unix-socket admin API.
	Admin AdminConfig `yaml:"admin"`
}

// MatrixConfig configures the homeserver connection and bot account.
type MatrixConfig struct {
	// HomeserverURL is the base URL of the Matrix homeserver
	// (e.g. "https://matrix.example.com").
	HomeserverURL string `yaml:"homeserver_url"`

	// UserID is the fully qualified Matrix user ID of the bot account
	// (e.g. "@helpdesk:example.com").
	UserID string `yaml:"user_id"`

	// AccessToken authenticates the bot account. If empty, Password
	// is used to log in and obtain a token at startup.
	AccessToken string `yaml:"access_token"`

	// AccessTokenFile reads the access token from a file instead of
	// inlining it in the config. "-" reads from stdin.
	AccessTokenFile string `yaml:"access_token_file"`

	// Password is the bot account password, used only when no access
	// token is configured.
	Password string `yaml:"password"`

	// PasswordFile reads the password from a file instead of inlining
	// it in the config. "-" reads from stdin.
	PasswordFile string `yaml:"password_file"`

	// DeviceID pins the bot to a known device so that encryption
	// state survives restarts. Optional when logging in fresh.
	DeviceID string `yaml:"device_id"`

	// DeviceName is the display name registered for new devices.
	DeviceName string `yaml:"device_name"`
}

// RoomsConfig identifies the fixed rooms the relay operates in.
type RoomsConfig struct {
	// Management is the room ID of the staff management room. All
	// user traffic without an active ticket or chat is relayed here,
	// and staff commands are accepted only from here. Required.
	Management string `yaml:"management"`

	// Logging is the room ID that receives operational diagnostics
	// (dropped pending tasks, relay failures). Optional; when empty,
	// diagnostics go to the management room.
	Logging string `yaml:"logging"`
}

// RelayConfig configures message routing behavior.
type RelayConfig struct {
	// CommandPrefix introduces staff commands in the management room.
	// Default: "!".
	CommandPrefix string `yaml:"command_prefix"`

	// AnonymiseManagement controls whether user identities are
	// anonymized when relaying into the management room. Relays into
	// ticket and chat rooms are always anonymized regardless of this
	// setting.
	AnonymiseManagement bool `yaml:"anonymise_management"`

	// PendingTimeout is how long a queued relay task may wait for its
	// destination room before being dropped. Default: 300s.
	PendingTimeout string `yaml:"pending_timeout"`

	// WelcomeMessage is sent to a user's communications room when
	// they first appear. Empty disables the welcome.
	WelcomeMessage string `yaml:"welcome_message"`
}

// StorageConfig configures the SQLite database.
type StorageConfig struct {
	// DatabasePath is the filesystem path to the SQLite database
	// file. The parent directory must exist. Required.
	DatabasePath string `yaml:"database_path"`

	// PoolSize is the connection pool size. Zero means the pool
	// default.
	PoolSize int `yaml:"pool_size"`
}

// AdminConfig configures the Unix-socket admin API.
type AdminConfig struct {
	// SocketPath is where the daemon listens for CLI requests.
	// Default: /run/helpdesk/admin.sock.
	SocketPath string `yaml:"socket_path"`
}

// Default returns the default configuration. These defaults are used
// as a base before loading the config file. They exist primarily to
// ensure all fields have sensible zero-values, not as a fallback; the
// config file is required.
func Default() *Config {
	return &Config{
		Matrix: MatrixConfig{
			DeviceName: "helpdesk-relay",
		},
		Relay: RelayConfig{
			CommandPrefix:  "!",
			PendingTimeout: "300s",
		},
		Admin: AdminConfig{
			SocketPath: "/run/helpdesk/admin.sock",
		},
	}
}

// Load loads configuration from the HELPDESK_CONFIG environment
// variable.
//
// This is the only way to load configuration without an explicit path.
// There are no fallbacks or defaults; if HELPDESK_CONFIG is not set,
// this fails. This ensures deterministic, auditable configuration with
// no hidden overrides.
func Load() (*Config, error) {
	configPath := os.Getenv("HELPDESK_CONFIG")
	if configPath == "" {
		return nil, fmt.Errorf("HELPDESK_CONFIG environment variable not set; " +
			"set it to the path of your helpdesk.yaml config file, or use --config flag")
	}

	return LoadFile(configPath)
}

// LoadFile loads configuration from a specific file path.
//
// The config file is the single source of truth. Environment variables
// do not override config values. The only expansion performed is
// ${HOME} and similar path variables for portability.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	// Expand ${HOME} and similar variables in paths for portability.
	cfg.expandVariables()

	return cfg, nil
}

// expandVariables expands ${VAR} and ${VAR:-default} patterns in paths.
func (c *Config) expandVariables() {
	vars := map[string]string{
		"HOME": os.Getenv("HOME"),
	}

	c.Matrix.AccessTokenFile = expandVars(c.Matrix.AccessTokenFile, vars)
	c.Matrix.PasswordFile = expandVars(c.Matrix.PasswordFile, vars)
	c.Storage.DatabasePath = expandVars(c.Storage.DatabasePath, vars)
	c.Admin.SocketPath = expandVars(c.Admin.SocketPath, vars)
}

// expandVars expands ${VAR} and ${VAR:-default} patterns.
var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		name := parts[1]
		defaultValue := ""
		if len(parts) >= 3 {
			defaultValue = parts[2]
		}

		// Check provided vars first, then environment.
		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

// Validate checks the configuration for errors. All problems are
// reported at once via errors.Join so a misconfigured deployment is
// fixed in one pass.
func (c *Config) Validate() error {
	var errs []error

	if c.Matrix.HomeserverURL == "" {
		errs = append(errs, fmt.Errorf("matrix.homeserver_url is required"))
	} else if _, err := url.Parse(c.Matrix.HomeserverURL); err != nil {
		errs = append(errs, fmt.Errorf("matrix.homeserver_url: %w", err))
	}

	if c.Matrix.UserID == "" {
		errs = append(errs, fmt.Errorf("matrix.user_id is required"))
	} else if _, err := ref.ParseUserID(c.Matrix.UserID); err != nil {
		errs = append(errs, fmt.Errorf("matrix.user_id: %w", err))
	}

	if c.Matrix.AccessToken == "" && c.Matrix.AccessTokenFile == "" &&
		c.Matrix.Password == "" && c.Matrix.PasswordFile == "" {
		errs = append(errs, fmt.Errorf("one of matrix.access_token, matrix.access_token_file, matrix.password, or matrix.password_file is required"))
	}

	if c.Rooms.Management == "" {
		errs = append(errs, fmt.Errorf("rooms.management is required"))
	} else if _, err := ref.ParseRoomID(c.Rooms.Management); err != nil {
		errs = append(errs, fmt.Errorf("rooms.management: %w", err))
	}

	if c.Rooms.Logging != "" {
		if _, err := ref.ParseRoomID(c.Rooms.Logging); err != nil {
			errs = append(errs, fmt.Errorf("rooms.logging: %w", err))
		}
	}

	if c.Relay.CommandPrefix == "" {
		errs = append(errs, fmt.Errorf("relay.command_prefix is required"))
	}

	if _, err := time.ParseDuration(c.Relay.PendingTimeout); err != nil {
		errs = append(errs, fmt.Errorf("relay.pending_timeout: %w", err))
	}

	if c.Storage.DatabasePath == "" {
		errs = append(errs, fmt.Errorf("storage.database_path is required"))
	}

	if c.Admin.SocketPath == "" {
		errs = append(errs, fmt.Errorf("admin.socket_path is required"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// BotUserID returns the parsed bot user ID. Call Validate first.
func (c *Config) BotUserID() ref.UserID {
	return ref.MustParseUserID(c.Matrix.UserID)
}

// ManagementRoom returns the parsed management room ID. Call Validate
// first.
func (c *Config) ManagementRoom() ref.RoomID {
	return ref.MustParseRoomID(c.Rooms.Management)
}

// LoggingRoom returns the parsed logging room ID, falling back to the
// management room when no logging room is configured. Call Validate
// first.
func (c *Config) LoggingRoom() ref.RoomID {
	if c.Rooms.Logging == "" {
		return c.ManagementRoom()
	}
	return ref.MustParseRoomID(c.Rooms.Logging)
}

// PendingExpiry returns the parsed pending-task timeout. Call Validate
// first.
func (c *Config) PendingExpiry() time.Duration {
	duration, err := time.ParseDuration(c.Relay.PendingTimeout)
	if err != nil {
		panic(fmt.Sprintf("config: pending_timeout not validated: %v", err))
	}
	return duration
}

// EnsurePaths creates the parent directories for the database and
// admin socket if they don't exist.
func (c *Config) EnsurePaths() error {
	for _, path := range []string{c.Storage.DatabasePath, c.Admin.SocketPath} {
		if path == "" {
			continue
		}
		directory := filepath.Dir(path)
		if err := os.MkdirAll(directory, 0o755); err != nil {
			return fmt.Errorf("creating %s: %w", directory, err)
		}
	}
	return nil
}
