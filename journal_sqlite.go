//go:build sqlite
// +build sqlite

package jobqueue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteJournal implements the Journal interface using SQLite.
// It provides ACID transactions and is suitable for single-server deployments.
type SQLiteJournal struct {
	db *sql.DB
}

// NewSQLiteJournal creates a new SQLite journal.
// The database file will be created if it doesn't exist.
// dbPath is the path to the SQLite database file.
func NewSQLiteJournal(dbPath string) (*SQLiteJournal, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// A single connection serializes read-modify-write transactions; SQLite
	// does not retry a busy lock upgrade inside a deferred transaction.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	journal := &SQLiteJournal{db: db}

	if err := journal.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return journal, nil
}

// Close closes the database connection
func (j *SQLiteJournal) Close() error {
	return j.db.Close()
}

// initSchema initializes the database schema
func (j *SQLiteJournal) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS executions (
		id INTEGER PRIMARY KEY,
		queue TEXT NOT NULL,
		status TEXT NOT NULL,
		seq INTEGER NOT NULL,
		enqueued_at INTEGER NOT NULL,
		started_at INTEGER,
		finalized_at INTEGER
	);

	CREATE INDEX IF NOT EXISTS idx_executions_queue ON executions(queue);
	CREATE INDEX IF NOT EXISTS idx_executions_finalized_at ON executions(finalized_at);
	`

	_, err := j.db.Exec(schema)
	return err
}

const selectRecord = `SELECT id, queue, status, seq, enqueued_at, started_at, finalized_at FROM executions`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*ExecutionRecord, error) {
	var (
		rec                    ExecutionRecord
		enqueuedAt             int64
		startedAt, finalizedAt sql.NullInt64
	)
	if err := row.Scan(&rec.ID, &rec.Queue, &rec.Status, &rec.Seq, &enqueuedAt, &startedAt, &finalizedAt); err != nil {
		return nil, err
	}
	rec.EnqueuedAt = time.Unix(0, enqueuedAt)
	if startedAt.Valid {
		t := time.Unix(0, startedAt.Int64)
		rec.StartedAt = &t
	}
	if finalizedAt.Valid {
		t := time.Unix(0, finalizedAt.Int64)
		rec.FinalizedAt = &t
	}
	return &rec, nil
}

func nullableNanos(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixNano(), Valid: true}
}

// RecordTransition applies t to the record of t.ID
func (j *SQLiteJournal) RecordTransition(ctx context.Context, t Transition) error {
	var err error
	if ctx, err = normalizeContext(ctx); err != nil {
		return err
	}
	if t.Status == "" {
		return fmt.Errorf("transition for execution %d has no status", t.ID)
	}

	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	rec, err := scanRecord(tx.QueryRowContext(ctx, selectRecord+` WHERE id = ?`, t.ID))
	if errors.Is(err, sql.ErrNoRows) {
		rec = &ExecutionRecord{}
	} else if err != nil {
		return fmt.Errorf("failed to load record: %w", err)
	}
	if !applyTransition(rec, t) {
		return nil
	}

	_, err = tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO executions (id, queue, status, seq, enqueued_at, started_at, finalized_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, rec.ID, string(rec.Queue), string(rec.Status), rec.Seq, rec.EnqueuedAt.UnixNano(),
		nullableNanos(rec.StartedAt), nullableNanos(rec.FinalizedAt))
	if err != nil {
		return fmt.Errorf("failed to store record: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// GetRecord retrieves the record of an execution by ID
func (j *SQLiteJournal) GetRecord(ctx context.Context, id int64) (*ExecutionRecord, error) {
	var err error
	if ctx, err = normalizeContext(ctx); err != nil {
		return nil, err
	}

	rec, err := scanRecord(j.db.QueryRowContext(ctx, selectRecord+` WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %d", ErrRecordNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get record: %w", err)
	}
	return rec, nil
}

// ListRecords lists records of a queue (or all records) ordered by ID
func (j *SQLiteJournal) ListRecords(ctx context.Context, queue QueueKey) ([]*ExecutionRecord, error) {
	var err error
	if ctx, err = normalizeContext(ctx); err != nil {
		return nil, err
	}

	var rows *sql.Rows
	if queue == "" {
		rows, err = j.db.QueryContext(ctx, selectRecord+` ORDER BY id`)
	} else {
		rows, err = j.db.QueryContext(ctx, selectRecord+` WHERE queue = ? ORDER BY id`, string(queue))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query records: %w", err)
	}
	defer rows.Close()

	result := make([]*ExecutionRecord, 0)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		result = append(result, rec)
	}
	return result, rows.Err()
}

// GetStats gets statistics for records in any of the given queues
func (j *SQLiteJournal) GetStats(ctx context.Context, queues []QueueKey) (*JournalStats, error) {
	var err error
	if ctx, err = normalizeContext(ctx); err != nil {
		return nil, err
	}

	query := `SELECT status, COUNT(*) FROM executions`
	args := make([]any, 0, len(queues))
	if len(queues) > 0 {
		query += ` WHERE queue IN (` + placeholdersStr(len(queues)) + `)`
		for _, q := range queues {
			args = append(args, string(q))
		}
	}
	query += ` GROUP BY status`

	rows, err := j.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query stats: %w", err)
	}
	defer rows.Close()

	stats := &JournalStats{Queues: queues}
	for rows.Next() {
		var (
			status ExecutionStatus
			count  int32
		)
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan stats: %w", err)
		}
		stats.TotalRecords += count
		switch status {
		case ExecutionStatusQueued:
			stats.QueuedRecords += count
		case ExecutionStatusRunning:
			stats.RunningRecords += count
		case ExecutionStatusFinished:
			stats.Finished += count
		case ExecutionStatusCancelled:
			stats.Cancelled += count
		case ExecutionStatusDropped:
			stats.Dropped += count
		}
	}
	return stats, rows.Err()
}

// CleanupExpiredRecords deletes final records finalized before now minus ttl
func (j *SQLiteJournal) CleanupExpiredRecords(ctx context.Context, ttl time.Duration) error {
	var err error
	if ctx, err = normalizeContext(ctx); err != nil {
		return err
	}
	if ttl <= 0 {
		return fmt.Errorf("ttl must be greater than 0")
	}
	cutoff := time.Now().Add(-ttl).UnixNano()

	_, err = j.db.ExecContext(ctx, `
		DELETE FROM executions
		WHERE status IN (?, ?, ?) AND finalized_at IS NOT NULL AND finalized_at < ?
	`, string(ExecutionStatusFinished), string(ExecutionStatusCancelled), string(ExecutionStatusDropped), cutoff)
	if err != nil {
		return fmt.Errorf("failed to cleanup expired records: %w", err)
	}
	return nil
}

func placeholdersStr(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}
