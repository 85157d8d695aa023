package shared

import "errors"

var (
	// ErrConfiguration marks an unknown tier or phase mapping. Fatal, never retried.
	ErrConfiguration = errors.New("configuration error")
	// ErrLockTimeout marks a generation that exceeded its time bound. Retryable.
	ErrLockTimeout = errors.New("generation timed out")
	// ErrGeneration marks an external service failure or a malformed payload.
	ErrGeneration = errors.New("generation failed")
	// ErrNotFoundTransient marks content that a concurrent generation has not made visible yet.
	ErrNotFoundTransient = errors.New("content not yet available")
	// ErrGenerationInProgress is returned when another caller holds the generation lock.
	ErrGenerationInProgress = errors.New("generation already in progress")
	// ErrUserAuthoredWeek is returned when day overrides already cover most of a week.
	ErrUserAuthoredWeek = errors.New("week is mostly user-authored")
	// ErrNoActivePhase is returned for users without a program calendar.
	ErrNoActivePhase = errors.New("no active phase")
	ErrAlreadyExists = errors.New("already exists")
	ErrNotFound      = errors.New("not found")
)
