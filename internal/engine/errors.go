package engine

import "errors"

// Engine errors.
var (
	// ErrPoolAllocation indicates the worker pool could not be sized.
	ErrPoolAllocation = errors.New("engine: cannot allocate worker pool")

	// ErrAlreadyRan indicates Submit or Run was called after Run.
	ErrAlreadyRan = errors.New("engine: run already started")

	// ErrNoFunc indicates the engine was built without a simulation function.
	ErrNoFunc = errors.New("engine: no simulation function")

	// ErrUnknownMode indicates an execution mode other than sequential or parallel.
	ErrUnknownMode = errors.New("engine: unknown execution mode")
)

// Fault is an engine-level failure. It aborts the whole run, unlike task
// faults which stay inside their unit.
type Fault struct {
	Op  string
	Err error
}

func (f *Fault) Error() string {
	return "engine " + f.Op + ": " + f.Err.Error()
}

func (f *Fault) Unwrap() error {
	return f.Err
}
