// Package results collects finished task units in submission order.
package results

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/UynajGI/yuusim/internal/task"
)

var (
	// ErrNotReady is returned by non-blocking reads before every unit is recorded.
	ErrNotReady = errors.New("results: not all tasks have completed")

	// ErrDuplicateIndex means two writers recorded the same index. The run is corrupt.
	ErrDuplicateIndex = errors.New("results: index recorded twice")

	// ErrIndexOutOfRange means a unit carries an index outside the store.
	ErrIndexOutOfRange = errors.New("results: index out of range")

	// ErrNotTerminal means a unit was recorded before reaching a terminal status.
	ErrNotTerminal = errors.New("results: unit is not terminal")
)

// Store holds one slot per submitted unit. Each slot is written at most once;
// the claim uses an atomic flag so concurrent workers never share a slot.
type Store struct {
	slots     []*task.Unit
	claimed   []atomic.Bool
	completed atomic.Int64

	done     chan struct{}
	doneOnce sync.Once
}

// New returns a store sized for n units. A zero-sized store is complete at once.
func New(n int) *Store {
	s := &Store{
		slots:   make([]*task.Unit, n),
		claimed: make([]atomic.Bool, n),
		done:    make(chan struct{}),
	}
	if n == 0 {
		s.markDone()
	}
	return s
}

// Record publishes a terminal unit into its slot.
func (s *Store) Record(u *task.Unit) error {
	if u == nil || !u.Status.Terminal() {
		return ErrNotTerminal
	}
	if u.Index < 0 || u.Index >= len(s.slots) {
		return fmt.Errorf("%w: %d not in [0,%d)", ErrIndexOutOfRange, u.Index, len(s.slots))
	}
	if !s.claimed[u.Index].CompareAndSwap(false, true) {
		return fmt.Errorf("%w: %d", ErrDuplicateIndex, u.Index)
	}

	s.slots[u.Index] = u
	if s.completed.Add(1) == int64(len(s.slots)) {
		s.markDone()
	}
	return nil
}

func (s *Store) markDone() {
	s.doneOnce.Do(func() { close(s.done) })
}

func (s *Store) Len() int { return len(s.slots) }

// Completed is the number of recorded units.
func (s *Store) Completed() int { return int(s.completed.Load()) }

// Done is closed once every slot is recorded.
func (s *Store) Done() <-chan struct{} { return s.done }

// Complete reports whether every slot is recorded.
func (s *Store) Complete() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// Snapshot returns copies of every unit in submission order, or ErrNotReady.
func (s *Store) Snapshot() ([]task.Unit, error) {
	if !s.Complete() {
		return nil, ErrNotReady
	}
	return s.copyAll(), nil
}

// Wait blocks until the store is complete or ctx ends.
func (s *Store) Wait(ctx context.Context) ([]task.Unit, error) {
	select {
	case <-s.done:
		return s.copyAll(), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Failures returns the Failed units in submission order.
func (s *Store) Failures() ([]task.Unit, error) {
	return s.filter(task.Failed)
}

// Cancelled returns the Cancelled units in submission order.
func (s *Store) Cancelled() ([]task.Unit, error) {
	return s.filter(task.Cancelled)
}

// Values returns result values in submission order; non-succeeded slots are nil.
func (s *Store) Values() ([]any, error) {
	if !s.Complete() {
		return nil, ErrNotReady
	}
	vals := make([]any, len(s.slots))
	for i, u := range s.slots {
		if u.Status == task.Succeeded {
			vals[i] = u.Result
		}
	}
	return vals, nil
}

func (s *Store) filter(status task.Status) ([]task.Unit, error) {
	if !s.Complete() {
		return nil, ErrNotReady
	}
	out := make([]task.Unit, 0)
	for _, u := range s.slots {
		if u.Status == status {
			out = append(out, *u)
		}
	}
	return out, nil
}

func (s *Store) copyAll() []task.Unit {
	out := make([]task.Unit, len(s.slots))
	for i, u := range s.slots {
		out[i] = *u
	}
	return out
}
