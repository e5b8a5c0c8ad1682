// Package models provides the built-in dynamical systems that the CLI can
// sweep over parameter grids.
//
// Each model implements [System]:
//
//   - [Pendulum]: damped pendulum
//   - [SpringMass]: damped mass on a spring, or a chain of them
//   - [Lorenz]: butterfly attractor
//
// Systems that conserve energy when undamped also implement [Hamiltonian].
// Trajectories are integrated with [RK4] by [Simulate].
package models

import (
	"context"
	"errors"
	"fmt"
	"math"
)

// State is the vector describing a system at one instant.
type State []float64

// System defines dX/dt = f(X, t).
type System interface {
	StateDim() int
	Derive(x State, t float64) State
	DefaultState() State
	Params() map[string]float64
	SetParam(name string, value float64) error
}

// Hamiltonian is implemented by systems with a total energy.
type Hamiltonian interface {
	Energy(x State) float64
}

var (
	ErrInvalidStep     = errors.New("models: time step must be positive")
	ErrInvalidDuration = errors.New("models: duration must be non-negative")
	ErrStateDim        = errors.New("models: state dimension mismatch")
	ErrNonFinite       = errors.New("models: state diverged")
	errUnknownParam    = errors.New("unknown param")
)

// Trajectory is a sampled solution.
type Trajectory struct {
	Times  []float64
	States []State
}

// Final returns the last sampled state.
func (tr *Trajectory) Final() State {
	if len(tr.States) == 0 {
		return nil
	}
	return tr.States[len(tr.States)-1]
}

// checkEvery is how many steps pass between context checks.
const checkEvery = 256

// Simulate integrates sys from x0 with RK4 for duration, recording every
// step. It stops early with ctx.Err() when ctx ends.
func Simulate(ctx context.Context, sys System, x0 State, dt, duration float64) (*Trajectory, error) {
	if dt <= 0 {
		return nil, ErrInvalidStep
	}
	if duration < 0 || math.IsNaN(duration) || math.IsInf(duration, 0) {
		return nil, fmt.Errorf("%w: got %g", ErrInvalidDuration, duration)
	}
	if len(x0) != sys.StateDim() {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrStateDim, len(x0), sys.StateDim())
	}

	steps := int(math.Round(duration / dt))
	tr := &Trajectory{
		Times:  make([]float64, 0, steps+1),
		States: make([]State, 0, steps+1),
	}

	integ := NewRK4()
	x := append(State(nil), x0...)
	tr.Times = append(tr.Times, 0)
	tr.States = append(tr.States, x)

	for i := 0; i < steps; i++ {
		if i%checkEvery == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		t := float64(i) * dt
		x = integ.Step(sys, x, t, dt)
		for _, v := range x {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return nil, fmt.Errorf("%w at t=%g", ErrNonFinite, t+dt)
			}
		}
		tr.Times = append(tr.Times, t+dt)
		tr.States = append(tr.States, x)
	}
	return tr, nil
}
