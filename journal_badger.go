package jobqueue

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// BadgerJournal implements the Journal interface using BadgerDB.
// It keeps history on disk without CGO and suits long-running daemons.
type BadgerJournal struct {
	db     *badger.DB
	logger *slog.Logger
}

// NewBadgerJournal creates a new BadgerDB journal.
// The database directory will be created if it doesn't exist.
// dbPath is the path to the BadgerDB database directory.
// Note: BadgerDB uses its own logger interface, so its internal logging is disabled.
func NewBadgerJournal(dbPath string, logger *slog.Logger) (*BadgerJournal, error) {
	opts := badger.DefaultOptions(dbPath)
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open BadgerDB: %w", err)
	}

	return &BadgerJournal{
		db:     db,
		logger: logger,
	}, nil
}

// Close closes the database
func (j *BadgerJournal) Close() error {
	return j.db.Close()
}

// retryUpdate retries a BadgerDB update operation on transaction conflicts.
// Concurrent completions on different queue keys write to the journal at the same time.
func (j *BadgerJournal) retryUpdate(ctx context.Context, fn func(txn *badger.Txn) error) error {
	const maxRetries = 50
	const retryDelay = 1 * time.Millisecond

	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
			time.Sleep(retryDelay)
		}

		err := j.db.Update(fn)
		if err == nil {
			return nil
		}
		if errors.Is(err, badger.ErrConflict) {
			lastErr = err
			continue
		}
		return err
	}
	return fmt.Errorf("transaction conflict after %d retries: %w", maxRetries, lastErr)
}

// key prefixes
const (
	keyPrefixRecord = "rec:"
	keyPrefixQueue  = "queue:"
)

// idBytes encodes id so that byte order matches numeric order, negatives included.
func idBytes(id int64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(id)^(1<<63))
	return b
}

// recordKey returns the key for an execution record
func recordKey(id int64) []byte {
	return append([]byte(keyPrefixRecord), idBytes(id)...)
}

// queuePrefix returns the index prefix for a queue; NUL keeps "a" from matching "a:b".
func queuePrefix(queue QueueKey) []byte {
	return []byte(keyPrefixQueue + string(queue) + "\x00")
}

// queueIndexKey returns the key for the queue index of an execution
func queueIndexKey(queue QueueKey, id int64) []byte {
	return append(queuePrefix(queue), idBytes(id)...)
}

func getRecord(txn *badger.Txn, id int64) (*ExecutionRecord, error) {
	item, err := txn.Get(recordKey(id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: %d", ErrRecordNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get record: %w", err)
	}
	data, err := item.ValueCopy(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to copy record data: %w", err)
	}
	var rec ExecutionRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal record: %w", err)
	}
	return &rec, nil
}

// RecordTransition applies t to the record of t.ID
func (j *BadgerJournal) RecordTransition(ctx context.Context, t Transition) error {
	var err error
	if ctx, err = normalizeContext(ctx); err != nil {
		return err
	}
	if t.Status == "" {
		return fmt.Errorf("transition for execution %d has no status", t.ID)
	}

	return j.retryUpdate(ctx, func(txn *badger.Txn) error {
		rec, err := getRecord(txn, t.ID)
		if errors.Is(err, ErrRecordNotFound) {
			rec = &ExecutionRecord{}
		} else if err != nil {
			return err
		}
		prevQueue := rec.Queue
		if !applyTransition(rec, t) {
			if j.logger != nil {
				j.logger.Debug("RecordTransition: stale transition ignored", "executionID", t.ID, "seq", t.Seq, "storedSeq", rec.Seq)
			}
			return nil
		}

		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("failed to marshal record: %w", err)
		}
		if err := txn.Set(recordKey(rec.ID), data); err != nil {
			return fmt.Errorf("failed to store record: %w", err)
		}
		if prevQueue != "" && prevQueue != rec.Queue {
			if err := txn.Delete(queueIndexKey(prevQueue, rec.ID)); err != nil {
				return fmt.Errorf("failed to delete queue index: %w", err)
			}
		}
		if err := txn.Set(queueIndexKey(rec.Queue, rec.ID), []byte{}); err != nil {
			return fmt.Errorf("failed to store queue index: %w", err)
		}
		return nil
	})
}

// GetRecord retrieves the record of an execution by ID
func (j *BadgerJournal) GetRecord(ctx context.Context, id int64) (*ExecutionRecord, error) {
	var err error
	if ctx, err = normalizeContext(ctx); err != nil {
		return nil, err
	}

	var rec *ExecutionRecord
	err = j.db.View(func(txn *badger.Txn) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		r, err := getRecord(txn, id)
		if err != nil {
			return err
		}
		rec = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// ListRecords lists records of a queue (or all records) ordered by ID
func (j *BadgerJournal) ListRecords(ctx context.Context, queue QueueKey) ([]*ExecutionRecord, error) {
	var err error
	if ctx, err = normalizeContext(ctx); err != nil {
		return nil, err
	}

	result := make([]*ExecutionRecord, 0)
	err = j.db.View(func(txn *badger.Txn) error {
		if queue == "" {
			return j.scanRecords(ctx, txn, func(rec *ExecutionRecord) error {
				result = append(result, rec)
				return nil
			})
		}

		prefix := queuePrefix(queue)
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		opts.PrefetchValues = false

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			key := it.Item().Key()
			if len(key) != len(prefix)+8 {
				continue
			}
			id := int64(binary.BigEndian.Uint64(key[len(prefix):]) ^ (1 << 63))
			rec, err := getRecord(txn, id)
			if errors.Is(err, ErrRecordNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			result = append(result, rec)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// GetStats gets statistics for records in any of the given queues
func (j *BadgerJournal) GetStats(ctx context.Context, queues []QueueKey) (*JournalStats, error) {
	var err error
	if ctx, err = normalizeContext(ctx); err != nil {
		return nil, err
	}

	stats := &JournalStats{Queues: queues}
	match := queueFilter(queues)
	err = j.db.View(func(txn *badger.Txn) error {
		return j.scanRecords(ctx, txn, func(rec *ExecutionRecord) error {
			if match(rec.Queue) {
				stats.add(rec)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return stats, nil
}

// CleanupExpiredRecords deletes final records finalized before now minus ttl
func (j *BadgerJournal) CleanupExpiredRecords(ctx context.Context, ttl time.Duration) error {
	var err error
	if ctx, err = normalizeContext(ctx); err != nil {
		return err
	}
	if ttl <= 0 {
		return fmt.Errorf("ttl must be greater than 0")
	}
	cutoff := time.Now().Add(-ttl)

	return j.retryUpdate(ctx, func(txn *badger.Txn) error {
		var expired []*ExecutionRecord
		err := j.scanRecords(ctx, txn, func(rec *ExecutionRecord) error {
			if isExpired(rec, cutoff) {
				expired = append(expired, rec)
			}
			return nil
		})
		if err != nil {
			return err
		}

		for _, rec := range expired {
			if err := txn.Delete(recordKey(rec.ID)); err != nil {
				return fmt.Errorf("failed to delete record: %w", err)
			}
			if err := txn.Delete(queueIndexKey(rec.Queue, rec.ID)); err != nil {
				return fmt.Errorf("failed to delete queue index: %w", err)
			}
		}
		if len(expired) > 0 && j.logger != nil {
			j.logger.Debug("CleanupExpiredRecords: deleted records", "count", len(expired))
		}
		return nil
	})
}

// scanRecords calls fn for every record in ID order. Undecodable values are skipped.
func (j *BadgerJournal) scanRecords(ctx context.Context, txn *badger.Txn, fn func(rec *ExecutionRecord) error) error {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = []byte(keyPrefixRecord)
	opts.PrefetchValues = true

	it := txn.NewIterator(opts)
	defer it.Close()

	for it.Rewind(); it.Valid(); it.Next() {
		if err := ctx.Err(); err != nil {
			return err
		}
		item := it.Item()
		data, err := item.ValueCopy(nil)
		if err != nil {
			continue
		}
		var rec ExecutionRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			continue
		}
		if err := fn(&rec); err != nil {
			return err
		}
	}
	return nil
}
