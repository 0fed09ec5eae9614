package database

import "errors"

var (
	ErrNotAvailable           = errors.New("no units available for the requested period")
	ErrConcurrentModification = errors.New("booking was modified concurrently")
	ErrNotFound               = errors.New("booking not found")
	ErrPastDate               = errors.New("start date is in the past")
	ErrDateTooFar             = errors.New("start date is too far in the future")
)
