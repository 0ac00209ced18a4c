package model

import (
	"errors"
)

var (
	// ErrNotFound is returned on lookups of unknown task identifiers.
	ErrNotFound = errors.New("task not found")
	// ErrInvalidTransition is returned when a status change is requested
	// out of legal order. Under single-writer discipline it indicates a
	// race or a programming bug, not a user error.
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrTooManyTasks is returned when a submission is rejected because
	// the concurrency ceiling is reached. Callers may retry later.
	ErrTooManyTasks = errors.New("too many running tasks")
	// ErrTimedOut marks an execution killed by its hard deadline.
	ErrTimedOut = errors.New("scan timed out")
	// ErrParse marks tool output the parser could not understand at all.
	ErrParse = errors.New("unparseable scan output")
)
