package store

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrAlreadyExists   = errors.New("already exists")
	ErrBucketNotEmpty  = errors.New("bucket not empty")
	ErrInvalidArgument = errors.New("invalid argument")
	ErrQuotaExceeded   = errors.New("quota exceeds ceiling")
	ErrUnboundedQuota  = errors.New("quota has no size limit")
	ErrReadPosition    = errors.New("could not read to the requested position")
	ErrRemote          = errors.New("remote call failed")
)

// StepError reports which step of a multi-step operation failed. Steps that
// completed before the failure are not rolled back; every step is idempotent
// so the operation can be re-invoked.
type StepError struct {
	// Op is the overall operation, e.g. "delete bucket photos".
	Op string
	// Step names the failing step, e.g. "delete object" or "upload part".
	Step string
	// Item is the object key, part number or credential the step worked on.
	Item string
	// Index is the 1-based position of the step among Total steps. Zero
	// when the step is not one of a numbered sequence.
	Index int
	Total int
	Err   error
}

func (e *StepError) Error() string {
	step := e.Step
	if e.Item != "" {
		step += " " + e.Item
	}
	if e.Index > 0 {
		step = fmt.Sprintf("%s (%d of %d)", step, e.Index, e.Total)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, step, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}
