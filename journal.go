package jobqueue

import (
	"context"
	"time"
)

// Journal represents the interface for execution history storage.
// It records what the queue did; the queue never reads it back, so nothing
// stored here is restored after a restart.
// Implementations must be thread-safe and support concurrent operations.
type Journal interface {
	// RecordTransition applies a queue transition to the execution's record.
	// Transitions whose Seq is not greater than the stored one are ignored.
	RecordTransition(ctx context.Context, t Transition) error

	// GetRecord retrieves the record of an execution by ID
	GetRecord(ctx context.Context, id int64) (*ExecutionRecord, error)

	// ListRecords lists records for the given queue ordered by execution ID.
	// An empty queue key lists every record.
	ListRecords(ctx context.Context, queue QueueKey) ([]*ExecutionRecord, error)

	// GetStats gets statistics for records in any of the given queues.
	// An empty slice means all queues.
	GetStats(ctx context.Context, queues []QueueKey) (*JournalStats, error)

	// CleanupExpiredRecords deletes records in a final status finalized more than ttl ago
	CleanupExpiredRecords(ctx context.Context, ttl time.Duration) error

	// Close closes the journal
	Close() error
}

func queueFilter(queues []QueueKey) func(QueueKey) bool {
	if len(queues) == 0 {
		return func(QueueKey) bool { return true }
	}
	set := make(map[QueueKey]struct{}, len(queues))
	for _, q := range queues {
		set[q] = struct{}{}
	}
	return func(q QueueKey) bool {
		_, ok := set[q]
		return ok
	}
}
