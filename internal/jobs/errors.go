package jobs

import "errors"

var (
	// ErrNotFound is returned when operating on an unknown job id
	ErrNotFound = errors.New("job not found")

	// ErrInvalidTransition is returned for illegal state machine transitions,
	// e.g. cancelling a terminal job or resuming a job that is not paused
	ErrInvalidTransition = errors.New("invalid job state transition")

	// ErrNotCompleted is returned when results are exported before the job
	// reaches the completed state
	ErrNotCompleted = errors.New("job is not completed")
)
