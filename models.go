// Package jobqueue provides an in-memory coordinator for long-running
// deploy and command jobs partitioned into named queues.
//
// The library supports:
//   - At most one active execution per queue key, unlimited parallelism across keys
//   - Strict FIFO promotion of waiting executions when the active one finishes
//   - A process-wide start switch (kill switch) that gates every start
//   - Bulk clearing of waiting work without touching running executions
//   - An execution journal with in-memory, BadgerDB and SQLite backends
//   - Automatic cleanup of expired journal records
//
// Example usage:
//
//	gate := jobqueue.NewStartSwitch(true)
//	queue := jobqueue.NewJobQueue(gate, logger, jobqueue.WithJournal(jobqueue.NewInMemoryJournal()))
//
//	exec := jobqueue.NewCommandExecution(ctx, 42, []string{"make", "deploy"})
//	_ = queue.Enqueue(exec, jobqueue.WithQueue("production"))
//	_ = queue.Wait(ctx, 42)
package jobqueue

import (
	"time"
)

// QueueKey names a concurrency partition. Only one execution may be active per key.
type QueueKey string

// DefaultQueue is the implicit key used when Enqueue is called without WithQueue.
const DefaultQueue QueueKey = "default"

// Execution is the handle of a single job run. The queue never creates or
// destroys executions; it only starts, watches and (when clearing) closes them.
type Execution interface {
	// ID returns the identifier of the execution, unique while it is tracked.
	ID() int64

	// Start begins the run. It must not block on the run itself.
	Start()

	// Done returns a channel that is closed exactly once when the run ends,
	// whether it succeeded or failed.
	Done() <-chan struct{}

	// Close cancels an execution that was never started and releases its
	// resources. It must be idempotent.
	Close() error
}

// QueueState is a point-in-time view of a single queue key.
type QueueState struct {
	Key        QueueKey // Queue key
	ActiveID   int64    // ID of the active execution (valid only if HasActive)
	HasActive  bool     // Whether an execution is active on the key
	WaitingIDs []int64  // Waiting execution IDs, oldest first
}

// ExecutionStatus represents the journaled status of an execution.
type ExecutionStatus string

const (
	// ExecutionStatusQueued indicates the execution is waiting behind an active one.
	ExecutionStatusQueued ExecutionStatus = "queued"
	// ExecutionStatusRunning indicates the execution was started.
	ExecutionStatusRunning ExecutionStatus = "running"
	// ExecutionStatusFinished indicates the execution reported completion.
	ExecutionStatusFinished ExecutionStatus = "finished"
	// ExecutionStatusCancelled indicates the execution was removed from a waiting list before it started.
	ExecutionStatusCancelled ExecutionStatus = "cancelled"
	// ExecutionStatusDropped indicates the execution was submitted while starting was disabled.
	ExecutionStatusDropped ExecutionStatus = "dropped"
)

// IsFinal reports whether no further transitions are expected for the status.
func (s ExecutionStatus) IsFinal() bool {
	switch s {
	case ExecutionStatusFinished, ExecutionStatusCancelled, ExecutionStatusDropped:
		return true
	}
	return false
}

// Transition is a single status change emitted by the queue.
type Transition struct {
	ID     int64           // Execution ID
	Queue  QueueKey        // Queue key the execution was submitted to
	Status ExecutionStatus // New status
	Seq    uint64          // Monotonic sequence number assigned by the queue
	At     time.Time       // When the transition happened
}

// ExecutionRecord is the journaled history of one execution.
type ExecutionRecord struct {
	ID          int64           // Execution ID
	Queue       QueueKey        // Queue key
	Status      ExecutionStatus // Latest status
	Seq         uint64          // Sequence number of the latest applied transition
	EnqueuedAt  time.Time       // First time the execution was seen
	StartedAt   *time.Time      // When the execution was started (nil if never started)
	FinalizedAt *time.Time      // When the execution reached a final status (nil if not final)
}

// JournalStats represents statistics for journaled executions.
type JournalStats struct {
	Queues         []QueueKey // Queues used for query (empty means all)
	TotalRecords   int32      // Total number of records
	QueuedRecords  int32      // Number of queued executions
	RunningRecords int32      // Number of running executions
	Finished       int32      // Number of finished executions
	Cancelled      int32      // Number of cancelled executions
	Dropped        int32      // Number of dropped executions
}

// applyTransition folds t into rec. It returns false if t is stale.
func applyTransition(rec *ExecutionRecord, t Transition) bool {
	if rec.Seq != 0 && t.Seq <= rec.Seq {
		return false
	}
	if rec.EnqueuedAt.IsZero() {
		rec.EnqueuedAt = t.At
	}
	rec.ID = t.ID
	rec.Queue = t.Queue
	rec.Status = t.Status
	rec.Seq = t.Seq
	at := t.At
	if t.Status == ExecutionStatusRunning {
		rec.StartedAt = &at
	}
	if t.Status.IsFinal() {
		rec.FinalizedAt = &at
	}
	return true
}

func cloneRecord(rec *ExecutionRecord) *ExecutionRecord {
	if rec == nil {
		return nil
	}
	cp := *rec
	cp.StartedAt = copyTimePtr(rec.StartedAt)
	cp.FinalizedAt = copyTimePtr(rec.FinalizedAt)
	return &cp
}

func copyTimePtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	cp := *t
	return &cp
}

func (s *JournalStats) add(rec *ExecutionRecord) {
	s.TotalRecords++
	switch rec.Status {
	case ExecutionStatusQueued:
		s.QueuedRecords++
	case ExecutionStatusRunning:
		s.RunningRecords++
	case ExecutionStatusFinished:
		s.Finished++
	case ExecutionStatusCancelled:
		s.Cancelled++
	case ExecutionStatusDropped:
		s.Dropped++
	}
}
