package engine

import "fmt"

// DataError reports malformed or insufficient task data, such as a
// missing embedding. The engine never substitutes defaults for it.
type DataError struct {
	Field string
	Msg   string
}

func (e *DataError) Error() string {
	return fmt.Sprintf("invalid task data: %s: %s", e.Field, e.Msg)
}

// StoreError wraps a permanent collaborator failure. Transient failures
// are retried inside the store clients and never reach the engine.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store failure during %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// ExecutionError records that one pair failed to apply. It is written
// onto the pair and never halts the rest of the batch.
type ExecutionError struct {
	PairID string
	Err    error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("execution failed for pair %s: %v", e.PairID, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// ValidationError rejects an invalid input, such as an unrecognized
// review status, before any write happens.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }
