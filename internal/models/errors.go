package models

import (
	"errors"
	"fmt"
)

// Custom errors
var (
	ErrNotFound          = errors.New("record not found")
	ErrDuplicateKey      = errors.New("duplicate key violation")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrNoActiveModel     = errors.New("no active calibration model")
)

// InsufficientDataError is returned when a fit or evaluation lacks samples.
type InsufficientDataError struct {
	What string
	Have int
	Need int
}

func (e *InsufficientDataError) Error() string {
	return fmt.Sprintf("insufficient data for %s: have %d, need %d", e.What, e.Have, e.Need)
}

// DataUnavailableError wraps a failure to reach an external data source.
type DataUnavailableError struct {
	Source   string
	Resource string
	Err      error
}

func (e *DataUnavailableError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("data unavailable from %s (%s): %v", e.Source, e.Resource, e.Err)
	}
	return fmt.Sprintf("data unavailable from %s (%s)", e.Source, e.Resource)
}

func (e *DataUnavailableError) Unwrap() error {
	return e.Err
}

// CorruptedStateError signals a broken bankroll invariant. It is fatal for
// live betting and always engages the emergency stop.
type CorruptedStateError struct {
	Reason string
}

func (e *CorruptedStateError) Error() string {
	return "bankroll state corrupted: " + e.Reason
}
