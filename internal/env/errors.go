package env

import (
	"errors"
	"fmt"
)

var (
	// ErrLifecycle is the root of every lifecycle-state fault.
	ErrLifecycle = errors.New("env: operation not allowed in current state")

	// ErrAlreadyLoaded indicates Load was called again without Cleanup.
	ErrAlreadyLoaded = fmt.Errorf("%w: already loaded", ErrLifecycle)

	// ErrNotLoaded indicates Run was called before Load.
	ErrNotLoaded = fmt.Errorf("%w: not loaded", ErrLifecycle)

	ErrEmptyProject = errors.New("env: project name is empty")
	ErrNilFunc      = errors.New("env: simulation function is nil")
)

// StateError reports an operation rejected by the lifecycle. The environment
// is left untouched.
type StateError struct {
	Op    string
	State State
	Err   error
}

func (e *StateError) Error() string {
	return fmt.Sprintf("env: cannot %s in state %s", e.Op, e.State)
}

func (e *StateError) Unwrap() error {
	return e.Err
}
