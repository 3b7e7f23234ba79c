package lmchat

import "fmt"

// NotFoundError is returned when a session name has no durable record.
type NotFoundError struct {
	Name string
}

func (e NotFoundError) Error() string {
	return fmt.Sprintf("session %q not found", e.Name)
}

// ConflictError is returned when an operation would overwrite an existing session.
type ConflictError struct {
	Name string
}

func (e ConflictError) Error() string {
	return fmt.Sprintf("session %q already exists", e.Name)
}

// OutOfRangeError is returned when a block index does not address any block in the
// session's history.
type OutOfRangeError struct {
	Index  int
	Length int
}

func (e OutOfRangeError) Error() string {
	return fmt.Sprintf("block index %d out of range, the session has %d blocks", e.Index, e.Length)
}

// ValidationError is returned when a payload misses required fields or carries values
// outside the accepted ranges.
type ValidationError struct {
	Reason string
}

func (e ValidationError) Error() string {
	return "validation failed: " + e.Reason
}

// GenerationError wraps any failure of the underlying generation engine.
type GenerationError struct {
	Err error
}

func (e GenerationError) Error() string {
	return "generation failed: " + e.Err.Error()
}

func (e GenerationError) Unwrap() error {
	return e.Err
}
