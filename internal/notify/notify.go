// Package notify provides async delivery of lifecycle events to a
// configured callback endpoint.
package notify

import (
	"context"
	"errors"
	"time"

	"boltzflow/internal/model"
)

// ErrBufferFull is returned when the notifier's buffer is full and the event is dropped.
var ErrBufferFull = errors.New("notifier buffer full, event dropped")

// Event type names on the wire.
const (
	TypeStatusChanged = "compound.status_changed"
	TypeFilesReady    = "compound.files_ready"
	TypeRunCompleted  = "run.completed"
)

// Notifier handles async delivery of lifecycle events.
type Notifier interface {
	// StatusChanged reports a compound status transition. Non-blocking;
	// delivery failures never propagate to the caller.
	StatusChanged(ev model.StatusEvent)

	// FilesReady reports that a compound's artifacts landed on disk.
	FilesReady(ev model.FilesReadyEvent)

	// RunCompleted reports a run whose compounds all reached a terminal
	// status.
	RunCompleted(summary model.RunCompletion)

	// Stats returns current notifier statistics.
	Stats() Stats

	// Close gracefully shuts down, attempting to deliver queued events.
	// The context deadline controls how long to wait for drain.
	Close(ctx context.Context) error
}

// Stats holds notifier statistics.
type Stats struct {
	QueueDepth    int   // current queue size
	Queued        int64 // total events queued
	Delivered     int64 // successful deliveries
	Failed        int64 // failed after retries
	Dropped       int64 // dropped due to full buffer or max requeues
	Requeued      int64 // requeued due to open circuit
	RetriesTotal  int64 // total retry attempts
	BreakersTotal int   // total circuit breakers
	BreakersOpen  int   // currently open breakers
}

// Config holds configuration for the webhook notifier.
type Config struct {
	CallbackURL string        // destination endpoint; empty disables delivery
	SigningKey  string        // HMAC key for signing, empty = no signing
	BufferSize  int           // pending events buffer (default: 1000)
	Workers     int           // concurrent delivery goroutines (default: 4)
	HTTPTimeout time.Duration // per-request timeout (default: 10s)
}

// withDefaults fills in zero values with defaults.
func (c Config) withDefaults() Config {
	if c.BufferSize <= 0 {
		c.BufferSize = 1000
	}
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.HTTPTimeout <= 0 {
		c.HTTPTimeout = 10 * time.Second
	}
	return c
}
