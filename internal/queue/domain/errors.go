package domain

import "errors"

var (
	// ErrJobNotFound is returned when a job id does not exist.
	ErrJobNotFound = errors.New("job not found")

	// ErrInvalidTransition is returned when an operation is attempted
	// from a status that does not permit it.
	ErrInvalidTransition = errors.New("invalid job status transition")

	// ErrUnknownType is returned when a job carries a type no handler
	// is registered for.
	ErrUnknownType = errors.New("unknown job type")

	// ErrInvalidPayload is returned when a handler cannot decode its
	// payload. Never retried.
	ErrInvalidPayload = errors.New("invalid job payload")

	// ErrDeadLetterNotFound is returned when a dead-letter id does not exist.
	ErrDeadLetterNotFound = errors.New("dead letter item not found")

	// ErrDeadLetterResolved is returned when retrying or resolving an
	// already resolved dead-letter item.
	ErrDeadLetterResolved = errors.New("dead letter item already resolved")
)
