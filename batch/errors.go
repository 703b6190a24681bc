package batch

import (
	"errors"
	"fmt"
)

// ErrBatchFinished is returned by Put/Delete once the batch has Finished
// and not yet been Reset.
var ErrBatchFinished = errors.New("batch: already finished")

// ErrBatchNotFinished is returned by Reset when called from the Active
// state — reset is allowed only from Finished.
var ErrBatchNotFinished = errors.New("batch: not finished")

// ErrUnbound is the panic value raised by Put/Delete when the
// supplied context carries no handle for this batch — calling Bind is a
// precondition, and skipping it is a programmer error, not a runtime
// condition, the same assertion-class tier as the sstbuilder verification
// panics.
var ErrUnbound = errors.New("batch: context not Bind-ed to this WriteBatch")

// ErrFamilyOutOfRange is returned when family is outside [0, families).
var ErrFamilyOutOfRange = errors.New("batch: family out of range")

// FlushError wraps the first error captured during a parallel fan-out in
// Finish; the first error wins.
type FlushError struct {
	Err error
}

func (e *FlushError) Error() string { return fmt.Sprintf("batch: flush failed: %v", e.Err) }
func (e *FlushError) Unwrap() error { return e.Err }
