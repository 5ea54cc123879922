package jobqueue

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sort"
	"sync"
	"time"
)

const defaultJournalTimeout = 5 * time.Second

// Option configures a JobQueue.
type Option func(*JobQueue)

// WithJournal records every state transition in j.
func WithJournal(j Journal) Option {
	return func(q *JobQueue) {
		q.journal = j
	}
}

// WithJournalTimeout bounds each journal write (default: 5s).
func WithJournalTimeout(d time.Duration) Option {
	return func(q *JobQueue) {
		if d > 0 {
			q.journalTimeout = d
		}
	}
}

// EnqueueOption configures a single Enqueue call.
type EnqueueOption func(*enqueueOptions)

type enqueueOptions struct {
	queue QueueKey
}

// WithQueue submits the execution to the given queue key instead of DefaultQueue.
func WithQueue(key QueueKey) EnqueueOption {
	return func(o *enqueueOptions) {
		o.queue = key
	}
}

// activeRun is one occupancy of a queue slot. Completions are matched against
// the run pointer, so a late or repeated completion cannot clear a newer run.
type activeRun struct {
	key  QueueKey
	exec Execution
}

// queueSlot holds the state of one queue key. It is removed from the queue
// as soon as it has neither an active run nor waiting executions.
type queueSlot struct {
	active  *activeRun
	waiting []Execution // oldest first
}

type tracked struct {
	key    QueueKey
	exec   Execution
	active bool
}

// JobQueue coordinates executions so that at most one is active per queue key.
// All methods are safe for concurrent use. No method blocks on an execution
// except Wait and Flush.
type JobQueue struct {
	gate           Gate
	journal        Journal
	journalTimeout time.Duration
	logger         *slog.Logger

	mu       sync.Mutex
	slots    map[QueueKey]*queueSlot
	index    map[int64]*tracked // execution ID -> location
	seq      uint64
	inflight int           // transitions not yet handed to the journal
	changed  chan struct{} // closed and replaced on every state change
}

// NewJobQueue creates a new JobQueue.
// gate is consulted before every start; a nil gate always allows starting.
// logger is the logger instance for queue decisions; nil discards output.
func NewJobQueue(gate Gate, logger *slog.Logger, opts ...Option) *JobQueue {
	if gate == nil {
		gate = NewStartSwitch(true)
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	q := &JobQueue{
		gate:           gate,
		journalTimeout: defaultJournalTimeout,
		logger:         logger,
		slots:          make(map[QueueKey]*queueSlot),
		index:          make(map[int64]*tracked),
		changed:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Enqueue submits an execution.
//
// If starting is disabled the execution is dropped: it is neither started nor
// tracked, and nil is returned. If no execution is active on the queue key the
// execution becomes active and is started; otherwise it is appended to the
// key's waiting list.
//
// Errors are returned only for caller mistakes: a nil execution or an ID that
// is already active or waiting. State is left untouched in both cases.
func (q *JobQueue) Enqueue(exec Execution, opts ...EnqueueOption) error {
	if exec == nil {
		q.logger.Debug("Enqueue: error - execution is nil")
		return ErrNilExecution
	}
	o := enqueueOptions{queue: DefaultQueue}
	for _, opt := range opts {
		opt(&o)
	}
	id, key := exec.ID(), o.queue
	q.logger.Debug("Enqueue", "executionID", id, "queue", key)

	q.mu.Lock()
	if _, exists := q.index[id]; exists {
		q.mu.Unlock()
		q.logger.Debug("Enqueue: error - execution already tracked", "executionID", id)
		return fmt.Errorf("%w: %d", ErrDuplicateExecution, id)
	}

	if !q.gate.Enabled() {
		t := q.transitionLocked(id, key, ExecutionStatusDropped)
		q.mu.Unlock()
		q.logger.Debug("Enqueue: starting disabled, dropping execution", "executionID", id, "queue", key)
		q.record(t)
		return nil
	}

	slot := q.slots[key]
	if slot == nil {
		slot = &queueSlot{}
		q.slots[key] = slot
	}

	var (
		started     Execution
		transitions []Transition
	)
	if slot.active != nil {
		q.appendLocked(key, slot, exec)
		transitions = append(transitions, q.transitionLocked(id, key, ExecutionStatusQueued))
		q.logger.Debug("Enqueue: queue busy, execution waiting", "executionID", id, "queue", key,
			"activeID", slot.active.exec.ID(), "waiting", len(slot.waiting))
	} else {
		// Only an active run makes a key busy; executions left waiting by a
		// completion while disabled are promoted by the next completion.
		started = exec
		q.activateLocked(key, slot, started)
		transitions = append(transitions, q.transitionLocked(id, key, ExecutionStatusRunning))
		q.logger.Debug("Enqueue: queue idle, starting execution", "executionID", id, "queue", key)
	}
	q.notifyLocked()
	q.mu.Unlock()

	if started != nil {
		started.Start()
	}
	q.record(transitions...)
	return nil
}

// IsActive reports whether the execution with the given ID occupies an active slot.
func (q *JobQueue) IsActive(id int64) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	t, ok := q.index[id]
	return ok && t.active
}

// IsQueued reports whether the execution with the given ID is in a waiting list.
func (q *JobQueue) IsQueued(id int64) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	t, ok := q.index[id]
	return ok && !t.active
}

// FindByID returns the execution with the given ID if it is active or waiting.
func (q *JobQueue) FindByID(id int64) (Execution, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	t, ok := q.index[id]
	if !ok {
		return nil, false
	}
	return t.exec, true
}

// Clear closes every waiting execution and empties all waiting lists.
// Active executions keep running; when they finish nothing is promoted
// because their waiting lists are empty. Calling Clear with nothing waiting
// is a no-op.
func (q *JobQueue) Clear() {
	q.mu.Lock()
	var (
		cleared     []Execution
		transitions []Transition
	)
	for _, key := range q.sortedKeysLocked() {
		slot := q.slots[key]
		for _, exec := range slot.waiting {
			cleared = append(cleared, exec)
			delete(q.index, exec.ID())
			transitions = append(transitions, q.transitionLocked(exec.ID(), key, ExecutionStatusCancelled))
		}
		slot.waiting = nil
		q.pruneLocked(key, slot)
	}
	if len(cleared) > 0 {
		q.notifyLocked()
	}
	q.mu.Unlock()

	if len(cleared) == 0 {
		q.logger.Debug("Clear: nothing waiting")
		return
	}
	q.logger.Debug("Clear: closing waiting executions", "count", len(cleared))
	for _, exec := range cleared {
		if err := exec.Close(); err != nil {
			q.logger.Error("Clear: failed to close execution", "executionID", exec.ID(), "error", err)
		}
	}
	q.record(transitions...)
}

// Dequeue removes a single waiting execution and hands it back to the caller
// without closing it. Active executions are never dequeued.
func (q *JobQueue) Dequeue(id int64) (Execution, bool) {
	q.mu.Lock()
	t, ok := q.index[id]
	if !ok || t.active {
		q.mu.Unlock()
		q.logger.Debug("Dequeue: execution not waiting", "executionID", id, "tracked", ok)
		return nil, false
	}
	slot := q.slots[t.key]
	idx := slices.IndexFunc(slot.waiting, func(e Execution) bool { return e.ID() == id })
	if idx >= 0 {
		slot.waiting = slices.Delete(slot.waiting, idx, idx+1)
	}
	delete(q.index, id)
	q.pruneLocked(t.key, slot)
	tr := q.transitionLocked(id, t.key, ExecutionStatusCancelled)
	q.notifyLocked()
	q.mu.Unlock()

	q.logger.Debug("Dequeue: removed waiting execution", "executionID", id, "queue", t.key)
	q.record(tr)
	return t.exec, true
}

// Snapshot returns the state of every non-empty queue key, sorted by key.
func (q *JobQueue) Snapshot() []QueueState {
	q.mu.Lock()
	defer q.mu.Unlock()

	states := make([]QueueState, 0, len(q.slots))
	for _, key := range q.sortedKeysLocked() {
		slot := q.slots[key]
		state := QueueState{Key: key}
		if slot.active != nil {
			state.HasActive = true
			state.ActiveID = slot.active.exec.ID()
		}
		if len(slot.waiting) > 0 {
			state.WaitingIDs = make([]int64, len(slot.waiting))
			for i, exec := range slot.waiting {
				state.WaitingIDs[i] = exec.ID()
			}
		}
		states = append(states, state)
	}
	return states
}

// Wait blocks until the execution with the given ID is neither active nor
// waiting, or ctx is done. It returns immediately for unknown IDs.
func (q *JobQueue) Wait(ctx context.Context, id int64) error {
	var err error
	if ctx, err = normalizeContext(ctx); err != nil {
		return err
	}
	for {
		q.mu.Lock()
		_, ok := q.index[id]
		changed := q.changed
		q.mu.Unlock()
		if !ok {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-changed:
		}
	}
}

// Flush blocks until every transition produced so far has been handed to the
// journal, or ctx is done. Wait returns once an execution leaves the queue,
// which may be before its final transition is journaled.
func (q *JobQueue) Flush(ctx context.Context) error {
	var err error
	if ctx, err = normalizeContext(ctx); err != nil {
		return err
	}
	for {
		q.mu.Lock()
		inflight := q.inflight
		changed := q.changed
		q.mu.Unlock()
		if inflight == 0 {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-changed:
		}
	}
}

// watch waits for the run to end and hands it to complete.
func (q *JobQueue) watch(run *activeRun, done <-chan struct{}) {
	<-done
	q.complete(run)
}

// complete releases the slot held by run and promotes the next waiting
// execution of the same key if starting is enabled.
func (q *JobQueue) complete(run *activeRun) {
	id := run.exec.ID()

	q.mu.Lock()
	slot := q.slots[run.key]
	if slot == nil || slot.active != run {
		q.mu.Unlock()
		q.logger.Debug("complete: stale completion ignored", "executionID", id, "queue", run.key)
		return
	}
	slot.active = nil
	delete(q.index, id)
	transitions := []Transition{q.transitionLocked(id, run.key, ExecutionStatusFinished)}

	var next Execution
	if len(slot.waiting) > 0 {
		if q.gate.Enabled() {
			next = q.popLocked(slot)
			q.activateLocked(run.key, slot, next)
			transitions = append(transitions, q.transitionLocked(next.ID(), run.key, ExecutionStatusRunning))
		} else {
			q.logger.Debug("complete: starting disabled, leaving executions waiting",
				"executionID", id, "queue", run.key, "waiting", len(slot.waiting))
		}
	}
	q.pruneLocked(run.key, slot)
	q.notifyLocked()
	q.mu.Unlock()

	if next != nil {
		q.logger.Debug("complete: promoting next execution", "executionID", id, "queue", run.key, "nextID", next.ID())
		next.Start()
	} else {
		q.logger.Debug("complete: queue released", "executionID", id, "queue", run.key)
	}
	q.record(transitions...)
}

// activateLocked puts exec into the active slot and registers its completion watcher.
func (q *JobQueue) activateLocked(key QueueKey, slot *queueSlot, exec Execution) {
	run := &activeRun{key: key, exec: exec}
	slot.active = run
	q.index[exec.ID()] = &tracked{key: key, exec: exec, active: true}
	go q.watch(run, exec.Done())
}

func (q *JobQueue) appendLocked(key QueueKey, slot *queueSlot, exec Execution) {
	slot.waiting = append(slot.waiting, exec)
	q.index[exec.ID()] = &tracked{key: key, exec: exec}
}

// popLocked removes and returns the oldest waiting execution of slot.
func (q *JobQueue) popLocked(slot *queueSlot) Execution {
	head := slot.waiting[0]
	slot.waiting[0] = nil
	slot.waiting = slot.waiting[1:]
	if len(slot.waiting) == 0 {
		slot.waiting = nil
	}
	return head
}

func (q *JobQueue) pruneLocked(key QueueKey, slot *queueSlot) {
	if slot.active == nil && len(slot.waiting) == 0 {
		delete(q.slots, key)
	}
}

func (q *JobQueue) notifyLocked() {
	close(q.changed)
	q.changed = make(chan struct{})
}

func (q *JobQueue) sortedKeysLocked() []QueueKey {
	keys := make([]QueueKey, 0, len(q.slots))
	for key := range q.slots {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

func (q *JobQueue) transitionLocked(id int64, key QueueKey, status ExecutionStatus) Transition {
	q.seq++
	q.inflight++
	return Transition{
		ID:     id,
		Queue:  key,
		Status: status,
		Seq:    q.seq,
		At:     time.Now(),
	}
}

// record writes transitions to the journal outside of the queue lock.
// Journal failures are logged and never surfaced to callers.
func (q *JobQueue) record(transitions ...Transition) {
	if len(transitions) == 0 {
		return
	}
	defer q.settle(len(transitions))
	if q.journal == nil {
		return
	}
	ctx, cancel := detachedContext(q.journalTimeout)
	defer cancel()
	for _, t := range transitions {
		if err := q.journal.RecordTransition(ctx, t); err != nil {
			q.logger.Error("failed to journal transition", "executionID", t.ID, "queue", t.Queue, "status", t.Status, "error", err)
		}
	}
}

func (q *JobQueue) settle(n int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.inflight -= n
	if q.inflight == 0 {
		q.notifyLocked()
	}
}
