package magnet

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidRangeTable = errors.New("invalid current range table")
	ErrInvalidUnits      = errors.New("invalid units")
	ErrInvalidCoil       = errors.New("coil constant must be positive")
	ErrInvalidRate       = errors.New("rate must be positive")
	ErrFieldLimit        = errors.New("field setpoint outside limit")
)

// SafetyFault blocks ramp initiation.
type SafetyFault struct {
	Reason string
	State  FailureState
}

func (e *SafetyFault) Error() string {
	return e.Reason
}

// OutOfRangeError means no rate band covers the present current.
type OutOfRangeError struct {
	CurrentA float64
	Ranges   RateTable
}

func (e *OutOfRangeError) Error() string {
	return fmt.Sprintf("current %g A is outside of defined rate ranges %s", e.CurrentA, e.Ranges)
}

// ParseError is a reply that could not be read as a number.
type ParseError struct {
	Command string
	Reply   string
	Err     error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse reply %q to %s: %v", e.Reply, e.Command, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}
