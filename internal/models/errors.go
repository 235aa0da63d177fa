package models

import (
	"errors"
	"fmt"
)

// Sentinel errors shared across the automation stack.
var (
	ErrDecisionFailure = errors.New("decision failure")
	ErrDeviceFailure   = errors.New("device failure")
	ErrTaskTerminal    = errors.New("task already terminal")
	ErrUnknownStep     = errors.New("unknown step kind")
)

// DecisionError wraps an oracle call or decoding failure.
type DecisionError struct {
	Op  string
	Raw string
	Err error
}

func (e *DecisionError) Error() string {
	return fmt.Sprintf("%s: %s: %v", ErrDecisionFailure, e.Op, e.Err)
}

func (e *DecisionError) Unwrap() error { return e.Err }

// Is matches ErrDecisionFailure.
func (e *DecisionError) Is(target error) bool {
	return target == ErrDecisionFailure
}

// NewDecisionError wraps err for op. raw is the oracle output, if any.
func NewDecisionError(op, raw string, err error) *DecisionError {
	return &DecisionError{Op: op, Raw: raw, Err: err}
}

// DeviceError wraps a device surface failure.
type DeviceError struct {
	Op  string
	Err error
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("%s: %s: %v", ErrDeviceFailure, e.Op, e.Err)
}

func (e *DeviceError) Unwrap() error { return e.Err }

// Is matches ErrDeviceFailure.
func (e *DeviceError) Is(target error) bool {
	return target == ErrDeviceFailure
}

// NewDeviceError wraps err for op.
func NewDeviceError(op string, err error) *DeviceError {
	return &DeviceError{Op: op, Err: err}
}
