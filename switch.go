package jobqueue

import "sync/atomic"

// Gate decides whether executions may be started. The queue reads it at every
// decision point: on each Enqueue and on each completion-driven promotion.
type Gate interface {
	Enabled() bool
}

// GateFunc adapts an ordinary function to the Gate interface.
type GateFunc func() bool

// Enabled calls f.
func (f GateFunc) Enabled() bool { return f() }

// StartSwitch is a process-wide kill switch for starting executions.
// Turning it off prevents all future starts; executions already running
// continue until they finish. Turning it back on does not start anything by
// itself: work resumes on the next Enqueue or the next completion.
type StartSwitch struct {
	enabled atomic.Bool
}

// NewStartSwitch creates a switch in the given state.
func NewStartSwitch(enabled bool) *StartSwitch {
	s := &StartSwitch{}
	s.enabled.Store(enabled)
	return s
}

// Enabled reports whether starting executions is allowed.
func (s *StartSwitch) Enabled() bool {
	return s.enabled.Load()
}

// Enable allows starting executions.
func (s *StartSwitch) Enable() {
	s.enabled.Store(true)
}

// Disable forbids starting executions.
func (s *StartSwitch) Disable() {
	s.enabled.Store(false)
}

// Set stores the given state and returns the previous one.
func (s *StartSwitch) Set(enabled bool) bool {
	return s.enabled.Swap(enabled)
}
