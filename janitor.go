package jobqueue

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"
)

// Janitor periodically deletes expired journal records.
type Janitor struct {
	journal  Journal
	ttl      time.Duration
	interval time.Duration
	logger   *slog.Logger

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewJanitor creates a new janitor.
// config provides the record TTL and the cleanup interval; a nil logger discards output.
func NewJanitor(journal Journal, config *Config, logger *slog.Logger) *Janitor {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Janitor{
		journal:  journal,
		ttl:      config.JournalTTL,
		interval: config.CleanupInterval,
		logger:   logger,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start runs one cleanup immediately and then starts the background loop.
// It returns an error if the configuration cannot drive a ticker.
// The loop runs until Stop is called or ctx is done.
func (j *Janitor) Start(ctx context.Context) error {
	if j.ttl <= 0 {
		return fmt.Errorf("ttl must be > 0, got %v", j.ttl)
	}
	if j.interval <= 0 {
		return fmt.Errorf("cleanup interval must be > 0, got %v", j.interval)
	}
	go j.cleanupLoop(ctx)
	return nil
}

// Stop stops the janitor and waits for the loop to exit.
// It must only be called after a successful Start.
func (j *Janitor) Stop() {
	j.stopOnce.Do(func() { close(j.stopCh) })
	<-j.doneCh
}

// cleanupLoop periodically cleans up expired records
func (j *Janitor) cleanupLoop(ctx context.Context) {
	defer close(j.doneCh)

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	j.cleanup(ctx)

	for {
		select {
		case <-j.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			j.cleanup(ctx)
		}
	}
}

func (j *Janitor) cleanup(ctx context.Context) {
	if err := j.journal.CleanupExpiredRecords(ctx, j.ttl); err != nil {
		j.logger.Error("Janitor: failed to cleanup expired records", "error", err)
		return
	}
	j.logger.Debug("Janitor: cleanup finished", "ttl", j.ttl)
}
