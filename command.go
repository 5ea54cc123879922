package jobqueue

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sync"
)

// CommandState represents the lifecycle state of a CommandExecution.
type CommandState string

const (
	// CommandStateNew indicates the command was neither started nor closed.
	CommandStateNew CommandState = "new"
	// CommandStateRunning indicates the command process is running.
	CommandStateRunning CommandState = "running"
	// CommandStateFinished indicates the command process exited (successfully or not).
	CommandStateFinished CommandState = "finished"
	// CommandStateCancelled indicates the command was closed before it started.
	CommandStateCancelled CommandState = "cancelled"
)

// ErrCommandCancelled is reported by Err for commands closed before they started.
var ErrCommandCancelled = errors.New("command cancelled before start")

// CommandOption configures a CommandExecution.
type CommandOption func(*CommandExecution)

// WithDir sets the working directory of the command.
func WithDir(dir string) CommandOption {
	return func(c *CommandExecution) { c.dir = dir }
}

// WithEnv sets the environment of the command (KEY=value entries).
// Nil inherits the environment of the current process.
func WithEnv(env []string) CommandOption {
	return func(c *CommandExecution) { c.env = env }
}

// WithOutput directs both stdout and stderr of the command to w.
func WithOutput(w io.Writer) CommandOption {
	return func(c *CommandExecution) { c.output = w }
}

// CommandExecution is an Execution that runs an OS command.
// Closing a running command kills its process through the command context.
type CommandExecution struct {
	id     int64
	argv   []string
	dir    string
	env    []string
	output io.Writer

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu    sync.Mutex
	state CommandState
	err   error
}

// NewCommandExecution creates a command execution. argv[0] is the program,
// the rest are its arguments. ctx bounds the lifetime of the process.
func NewCommandExecution(ctx context.Context, id int64, argv []string, opts ...CommandOption) *CommandExecution {
	if ctx == nil {
		ctx = context.Background()
	}
	runCtx, cancel := context.WithCancel(ctx)
	c := &CommandExecution{
		id:     id,
		argv:   append([]string(nil), argv...),
		output: io.Discard,
		ctx:    runCtx,
		cancel: cancel,
		done:   make(chan struct{}),
		state:  CommandStateNew,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ID returns the execution ID.
func (c *CommandExecution) ID() int64 { return c.id }

// Done is closed when the command exits or is cancelled before start.
func (c *CommandExecution) Done() <-chan struct{} { return c.done }

// Start launches the command in the background. Only the first call has an effect.
func (c *CommandExecution) Start() {
	c.mu.Lock()
	if c.state != CommandStateNew {
		c.mu.Unlock()
		return
	}
	c.state = CommandStateRunning
	c.mu.Unlock()

	go c.run()
}

func (c *CommandExecution) run() {
	err := c.execute()

	c.mu.Lock()
	c.state = CommandStateFinished
	c.err = err
	c.mu.Unlock()

	c.cancel()
	close(c.done)
}

func (c *CommandExecution) execute() error {
	if len(c.argv) == 0 {
		return fmt.Errorf("execution %d has no command", c.id)
	}
	cmd := exec.CommandContext(c.ctx, c.argv[0], c.argv[1:]...)
	cmd.Dir = c.dir
	cmd.Env = c.env
	cmd.Stdout = c.output
	cmd.Stderr = c.output
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("execution %d: %w", c.id, err)
	}
	return nil
}

// Close cancels the command. A command that never started becomes cancelled
// and its Done channel is closed; a running command is killed. Close is idempotent.
func (c *CommandExecution) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case CommandStateNew:
		c.state = CommandStateCancelled
		c.err = ErrCommandCancelled
		c.cancel()
		close(c.done)
	case CommandStateRunning:
		c.cancel()
	}
	return nil
}

// State returns the current lifecycle state.
func (c *CommandExecution) State() CommandState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Err returns the result of the run once Done is closed.
func (c *CommandExecution) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}
