package worker

import (
	"context"
	"errors"
)

// Job is a unit of scheduled work.
type Job interface {
	// Name identifies the job in logs, metrics and lease keys.
	Name() string

	// Run executes one pass. The context carries the job timeout.
	Run(ctx context.Context) error
}

// JobFunc adapts a function to the Job interface.
type JobFunc struct {
	JobName string
	Fn      func(ctx context.Context) error
}

// Name implements Job.
func (f JobFunc) Name() string { return f.JobName }

// Run implements Job.
func (f JobFunc) Run(ctx context.Context) error { return f.Fn(ctx) }

// PermanentError marks a failure that the next scheduled run cannot fix,
// such as a misconfiguration. It is logged at error level with the
// "permanent" attribute so it stands out from transient failures.
type PermanentError struct {
	Err error
}

// Error implements the error interface.
func (e *PermanentError) Error() string {
	return e.Err.Error()
}

// Unwrap allows errors.Is and errors.As to work with PermanentError.
func (e *PermanentError) Unwrap() error {
	return e.Err
}

// NewPermanentError wraps err as a PermanentError.
func NewPermanentError(err error) error {
	return &PermanentError{Err: err}
}

// IsPermanent reports whether err (or anything it wraps) is a PermanentError.
func IsPermanent(err error) bool {
	var permErr *PermanentError
	return errors.As(err, &permErr)
}
