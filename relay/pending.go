// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package relay

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/bureau-foundation/helpdesk/lib/clock"
	"github.com/bureau-foundation/helpdesk/lib/ref"
)

// PendingTask is a deferred relay operation held until its destination
// room's membership and encryption state become locally observable.
// Creating a room or inviting a participant does not make the relay's
// view of that room consistent immediately; sending into a room whose
// state is unknown misdelivers.
type PendingTask struct {
	// Destination is the room the task delivers into.
	Destination ref.RoomID

	// Origin is the room the triggering event arrived in.
	Origin ref.RoomID

	// Sender is the user whose event is being relayed.
	Sender ref.UserID

	// Description summarizes the payload for diagnostics, so a dropped
	// message remains recoverable from logs.
	Description string

	// Execute performs the delivery.
	Execute func(ctx context.Context) error

	enqueuedAt time.Time
}

// PendingQueueConfig configures a PendingQueue.
type PendingQueueConfig struct {
	// Clock drives enqueue timestamps and expiry.
	Clock clock.Clock

	// Expiry is how long a task may wait for its destination before
	// being dropped.
	Expiry time.Duration

	// Ready reports whether a destination room is materialized (the
	// relay has joined it and observed its state).
	Ready func(ref.RoomID) bool

	// Report emits one diagnostic for a dropped task, addressed to an
	// operator-visible room.
	Report func(ctx context.Context, task PendingTask)

	Logger *slog.Logger
}

// PendingQueue holds deferred relay tasks keyed by destination room,
// FIFO per room. Flush runs when a destination becomes observable; a
// periodic sweep flushes newly materialized rooms and expires tasks
// whose destination never converged.
type PendingQueue struct {
	mu    sync.Mutex
	tasks map[ref.RoomID][]PendingTask

	clock  clock.Clock
	expiry time.Duration
	ready  func(ref.RoomID) bool
	report func(ctx context.Context, task PendingTask)
	logger *slog.Logger
}

// NewPendingQueue builds a queue from the config. Clock defaults to
// the real clock, Logger to discard.
func NewPendingQueue(cfg PendingQueueConfig) *PendingQueue {
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	return &PendingQueue{
		tasks:  make(map[ref.RoomID][]PendingTask),
		clock:  cfg.Clock,
		expiry: cfg.Expiry,
		ready:  cfg.Ready,
		report: cfg.Report,
		logger: cfg.Logger,
	}
}

// Enqueue appends the task to its destination room's list.
func (q *PendingQueue) Enqueue(task PendingTask) {
	task.enqueuedAt = q.clock.Now()

	q.mu.Lock()
	defer q.mu.Unlock()
	q.tasks[task.Destination] = append(q.tasks[task.Destination], task)
	q.logger.Debug("relay task deferred",
		"room_id", task.Destination,
		"origin", task.Origin,
		"queued", len(q.tasks[task.Destination]))
}

// Flush executes and removes every queued task for the room, in
// enqueue order. Per-task failures are logged with full addressing
// context and do not block the remaining tasks.
func (q *PendingQueue) Flush(ctx context.Context, roomID ref.RoomID) {
	q.mu.Lock()
	tasks := q.tasks[roomID]
	delete(q.tasks, roomID)
	q.mu.Unlock()

	for _, task := range tasks {
		if err := task.Execute(ctx); err != nil {
			q.logger.Error("deferred relay task failed",
				"room_id", task.Destination,
				"origin", task.Origin,
				"user_id", task.Sender,
				"description", task.Description,
				"error", err)
		}
	}
}

// Sweep evaluates every destination room with queued tasks: flush it
// if materialized, otherwise drop tasks older than the expiry with one
// diagnostic each.
func (q *PendingQueue) Sweep(ctx context.Context) {
	q.mu.Lock()
	var flushable []ref.RoomID
	var expired []PendingTask
	cutoff := q.clock.Now().Add(-q.expiry)
	for roomID, tasks := range q.tasks {
		if q.ready(roomID) {
			flushable = append(flushable, roomID)
			continue
		}
		kept := tasks[:0]
		for _, task := range tasks {
			if task.enqueuedAt.Before(cutoff) || task.enqueuedAt.Equal(cutoff) {
				expired = append(expired, task)
			} else {
				kept = append(kept, task)
			}
		}
		if len(kept) == 0 {
			delete(q.tasks, roomID)
		} else {
			q.tasks[roomID] = kept
		}
	}
	q.mu.Unlock()

	for _, roomID := range flushable {
		q.Flush(ctx, roomID)
	}
	for _, task := range expired {
		q.logger.Warn("deferred relay task expired",
			"room_id", task.Destination,
			"origin", task.Origin,
			"user_id", task.Sender,
			"description", task.Description)
		if q.report != nil {
			q.report(ctx, task)
		}
	}
}

// Run sweeps on the given interval until ctx is cancelled. The daemon
// runs this on its own goroutine.
func (q *PendingQueue) Run(ctx context.Context, interval time.Duration) {
	ticker := q.clock.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			q.Sweep(ctx)
		}
	}
}

// Len returns the total number of queued tasks across all rooms.
func (q *PendingQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	total := 0
	for _, tasks := range q.tasks {
		total += len(tasks)
	}
	return total
}
