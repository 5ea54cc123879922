package jobqueue

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// InMemoryJournal implements the Journal interface using in-memory storage.
// It uses a single mutex for thread-safety and is suitable for testing and
// for processes that do not need history after exit.
type InMemoryJournal struct {
	mu      sync.RWMutex
	records map[int64]*ExecutionRecord
	closed  bool
}

// NewInMemoryJournal creates a new in-memory journal.
func NewInMemoryJournal() *InMemoryJournal {
	return &InMemoryJournal{
		records: make(map[int64]*ExecutionRecord),
	}
}

// Close closes the journal and prevents further operations.
func (j *InMemoryJournal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.closed = true
	return nil
}

// RecordTransition applies t to the record of t.ID.
func (j *InMemoryJournal) RecordTransition(ctx context.Context, t Transition) error {
	if _, err := normalizeContext(ctx); err != nil {
		return err
	}
	if t.Status == "" {
		return fmt.Errorf("transition for execution %d has no status", t.ID)
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	if err := j.ensureOpenLocked(); err != nil {
		return err
	}
	rec, ok := j.records[t.ID]
	if !ok {
		rec = &ExecutionRecord{}
	}
	if applyTransition(rec, t) {
		j.records[t.ID] = rec
	}
	return nil
}

// GetRecord retrieves the record of an execution by ID.
func (j *InMemoryJournal) GetRecord(ctx context.Context, id int64) (*ExecutionRecord, error) {
	if _, err := normalizeContext(ctx); err != nil {
		return nil, err
	}

	j.mu.RLock()
	defer j.mu.RUnlock()
	if err := j.ensureOpenLocked(); err != nil {
		return nil, err
	}
	rec, ok := j.records[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrRecordNotFound, id)
	}
	return cloneRecord(rec), nil
}

// ListRecords lists records of a queue (or all records) ordered by ID.
func (j *InMemoryJournal) ListRecords(ctx context.Context, queue QueueKey) ([]*ExecutionRecord, error) {
	if _, err := normalizeContext(ctx); err != nil {
		return nil, err
	}

	j.mu.RLock()
	defer j.mu.RUnlock()
	if err := j.ensureOpenLocked(); err != nil {
		return nil, err
	}
	result := make([]*ExecutionRecord, 0)
	for _, rec := range j.records {
		if queue == "" || rec.Queue == queue {
			result = append(result, cloneRecord(rec))
		}
	}
	sort.Slice(result, func(a, b int) bool { return result[a].ID < result[b].ID })
	return result, nil
}

// GetStats gets statistics for records in any of the given queues.
func (j *InMemoryJournal) GetStats(ctx context.Context, queues []QueueKey) (*JournalStats, error) {
	if _, err := normalizeContext(ctx); err != nil {
		return nil, err
	}

	j.mu.RLock()
	defer j.mu.RUnlock()
	if err := j.ensureOpenLocked(); err != nil {
		return nil, err
	}
	stats := &JournalStats{Queues: queues}
	match := queueFilter(queues)
	for _, rec := range j.records {
		if match(rec.Queue) {
			stats.add(rec)
		}
	}
	return stats, nil
}

// CleanupExpiredRecords deletes final records finalized before now minus ttl.
func (j *InMemoryJournal) CleanupExpiredRecords(ctx context.Context, ttl time.Duration) error {
	if _, err := normalizeContext(ctx); err != nil {
		return err
	}
	if ttl <= 0 {
		return fmt.Errorf("ttl must be greater than 0")
	}
	cutoff := time.Now().Add(-ttl)

	j.mu.Lock()
	defer j.mu.Unlock()
	if err := j.ensureOpenLocked(); err != nil {
		return err
	}
	for id, rec := range j.records {
		if isExpired(rec, cutoff) {
			delete(j.records, id)
		}
	}
	return nil
}

func (j *InMemoryJournal) ensureOpenLocked() error {
	if j.closed {
		return ErrJournalClosed
	}
	return nil
}

func isExpired(rec *ExecutionRecord, cutoff time.Time) bool {
	return rec.Status.IsFinal() && rec.FinalizedAt != nil && rec.FinalizedAt.Before(cutoff)
}
