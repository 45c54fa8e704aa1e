package coordination

import "errors"

var (
	// ErrEmptyDescription is returned when a task has no description.
	ErrEmptyDescription = errors.New("coordination: empty task description")
	// ErrTaskNotFound is returned for an unknown task ID.
	ErrTaskNotFound = errors.New("coordination: task not found")
	// ErrTaskTerminal is returned when a finished task is changed.
	ErrTaskTerminal = errors.New("coordination: task already finished")
	// ErrInvalidOutcome is returned for an observation outside [0, 1].
	ErrInvalidOutcome = errors.New("coordination: outcome must be in [0, 1]")
	// ErrUnknownPattern is returned for a pattern outside the catalogue.
	ErrUnknownPattern = errors.New("coordination: unknown pattern")
	// ErrClosed is returned after the registry has been stopped.
	ErrClosed = errors.New("coordination: registry closed")
)
