package jobqueue

import "errors"

var (
	// ErrNilExecution is returned by Enqueue when the execution is nil.
	ErrNilExecution = errors.New("execution is nil")
	// ErrDuplicateExecution is returned by Enqueue when an execution with the
	// same ID is already active or waiting.
	ErrDuplicateExecution = errors.New("execution already tracked")
	// ErrRecordNotFound is returned by journals for unknown execution IDs.
	ErrRecordNotFound = errors.New("execution record not found")
	// ErrJournalClosed is returned by journals after Close.
	ErrJournalClosed = errors.New("journal is closed")
)
