// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bureau-foundation/helpdesk/lib/clock"
	"github.com/bureau-foundation/helpdesk/lib/config"
	"github.com/bureau-foundation/helpdesk/lib/secret"
	"github.com/bureau-foundation/helpdesk/messaging"
	"github.com/bureau-foundation/helpdesk/relay"
	"github.com/bureau-foundation/helpdesk/store"
)

// version is stamped by the build via -ldflags.
var version = "devel"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath    string
		sweepInterval time.Duration
		showVersion   bool
	)

	flag.StringVar(&configPath, "config", "", "path to helpdesk.yaml (default: $HELPDESK_CONFIG)")
	flag.DurationVar(&sweepInterval, "sweep-interval", 30*time.Second, "how often to sweep the pending delivery queue")
	flag.BoolVar(&showVersion, "version", false, "print version information and exit")
	flag.Parse()

	if showVersion {
		fmt.Printf("helpdesk-relay %s\n", version)
		return nil
	}

	var cfg *config.Config
	var err error
	if configPath != "" {
		cfg, err = config.LoadFile(configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if err := cfg.EnsurePaths(); err != nil {
		return fmt.Errorf("preparing runtime paths: %w", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client, err := messaging.NewClient(messaging.ClientConfig{
		HomeserverURL: cfg.Matrix.HomeserverURL,
		Logger:        logger,
	})
	if err != nil {
		return fmt.Errorf("creating matrix client: %w", err)
	}

	session, err := openSession(ctx, client, cfg)
	if err != nil {
		return fmt.Errorf("opening matrix session: %w", err)
	}
	defer session.Close()

	userID, err := session.WhoAmI(ctx)
	if err != nil {
		return fmt.Errorf("validating matrix session: %w", err)
	}
	logger.Info("matrix session valid", "user_id", userID)

	clk := clock.Real()

	db, err := store.Open(store.Config{
		Path:     cfg.Storage.DatabasePath,
		PoolSize: cfg.Storage.PoolSize,
		Clock:    clk,
		Logger:   logger,
	})
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer db.Close()

	// Seed the room tracker from the bot's current memberships so
	// delivery readiness checks work before the first /sync lands.
	tracker := messaging.NewRoomTracker()
	if err := seedTracker(ctx, session, tracker, logger); err != nil {
		return fmt.Errorf("seeding room tracker: %w", err)
	}

	// Forwarder stays nil: encrypting m.forwarded_room_key payloads
	// per device needs an olm provider, which does not ship in-tree.
	// The engine skips historical key forwarding when unset.
	engine := relay.NewEngine(relay.Config{
		Session:             session,
		Tracker:             tracker,
		Store:               db,
		Clock:               clk,
		Logger:              logger,
		ManagementRoom:      cfg.ManagementRoom(),
		LoggingRoom:         cfg.LoggingRoom(),
		CommandPrefix:       cfg.Relay.CommandPrefix,
		AnonymiseManagement: cfg.Relay.AnonymiseManagement,
		WelcomeMessage:      cfg.Relay.WelcomeMessage,
		PendingExpiry:       cfg.PendingExpiry(),
	})

	// Admin socket. Remove any stale socket left by an unclean
	// shutdown before binding.
	if err := os.Remove(cfg.Admin.SocketPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing stale admin socket: %w", err)
	}
	listener, err := net.Listen("unix", cfg.Admin.SocketPath)
	if err != nil {
		return fmt.Errorf("binding admin socket: %w", err)
	}
	defer os.Remove(cfg.Admin.SocketPath)
	if err := os.Chmod(cfg.Admin.SocketPath, 0o660); err != nil {
		return fmt.Errorf("setting admin socket permissions: %w", err)
	}

	adminServer := &relay.AdminServer{
		Engine:  engine,
		Session: session,
		Store:   db,
		Logger:  logger,
	}
	adminDone := make(chan error, 1)
	go func() {
		adminDone <- adminServer.Serve(ctx, listener)
	}()

	// Sweep the pending queue: flush tasks whose destination rooms
	// have materialized, expire the rest.
	go engine.Pending().Run(ctx, sweepInterval)

	daemon := &relayDaemon{
		session: session,
		engine:  engine,
		tracker: tracker,
		botUser: cfg.BotUserID(),
		clock:   clk,
		logger:  logger,
	}

	sinceToken, err := daemon.initialSync(ctx)
	if err != nil {
		return fmt.Errorf("initial sync: %w", err)
	}

	logger.Info("helpdesk relay running",
		"user_id", userID,
		"management_room", cfg.ManagementRoom(),
		"admin_socket", cfg.Admin.SocketPath,
	)

	daemon.syncLoop(ctx, sinceToken)

	logger.Info("shutting down")
	if err := <-adminDone; err != nil {
		logger.Error("admin server error", "error", err)
	}
	return nil
}

// openSession authenticates using a configured access token when one
// is available, otherwise logs in with the account password. Token and
// password may be inlined in the config or read from a file.
func openSession(ctx context.Context, client *messaging.Client, cfg *config.Config) (*messaging.DirectSession, error) {
	if cfg.Matrix.AccessToken != "" {
		return client.SessionFromToken(cfg.BotUserID(), cfg.Matrix.AccessToken)
	}
	if cfg.Matrix.AccessTokenFile != "" {
		token, err := secret.ReadFromPath(cfg.Matrix.AccessTokenFile)
		if err != nil {
			return nil, fmt.Errorf("reading access token: %w", err)
		}
		defer token.Close()
		return client.SessionFromToken(cfg.BotUserID(), token.String())
	}

	var password *secret.Buffer
	var err error
	if cfg.Matrix.PasswordFile != "" {
		password, err = secret.ReadFromPath(cfg.Matrix.PasswordFile)
		if err != nil {
			err = fmt.Errorf("reading password: %w", err)
		}
	} else {
		password, err = secret.NewFromBytes([]byte(cfg.Matrix.Password))
		if err != nil {
			err = fmt.Errorf("protecting password: %w", err)
		}
	}
	if err != nil {
		return nil, err
	}
	defer password.Close()

	return client.Login(ctx, messaging.LoginOptions{
		Username:   cfg.Matrix.UserID,
		Password:   password,
		DeviceID:   cfg.Matrix.DeviceID,
		DeviceName: cfg.Matrix.DeviceName,
	})
}

// seedTracker populates the room tracker from the bot's joined rooms.
// Membership and encryption state arrive via /sync afterwards; this
// initial fetch covers rooms whose state precedes the first sync batch.
func seedTracker(ctx context.Context, session messaging.Session, tracker *messaging.RoomTracker, logger *slog.Logger) error {
	rooms, err := session.JoinedRooms(ctx)
	if err != nil {
		return fmt.Errorf("listing joined rooms: %w", err)
	}

	for _, roomID := range rooms {
		members, err := session.GetRoomMembers(ctx, roomID)
		if err != nil {
			logger.Error("failed to fetch room members", "room_id", roomID, "error", err)
			continue
		}
		_, err = session.GetStateEvent(ctx, roomID, "m.room.encryption", "")
		encrypted := err == nil
		tracker.Seed(roomID, members, encrypted)
	}

	logger.Info("room tracker seeded", "rooms", len(rooms))
	return nil
}
