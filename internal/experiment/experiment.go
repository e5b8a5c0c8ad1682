// Package experiment turns the built-in models into simulation functions
// that the engine can run over parameter sets.
//
// Parameter sets are mappings. For a model simulation the keys "dt" and
// "duration" control integration, state keys (such as "theta") set the
// initial state, and every other key is a model parameter.
package experiment

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"math"
	"slices"
	"strconv"
	"time"

	"github.com/UynajGI/yuusim/internal/models"
	"github.com/UynajGI/yuusim/internal/task"
)

const (
	DefaultDt       = 0.01
	DefaultDuration = 10.0
)

// ErrFail is returned by Fail.
var ErrFail = errors.New("simulated failure")

// Simulation returns a task.Func integrating a fresh system per call.
// stateKeys name the initial-state components in order.
func Simulation(build func() models.System, stateKeys ...string) task.Func {
	return func(ctx context.Context, params any) (any, error) {
		p, err := asMap(params)
		if err != nil {
			return nil, err
		}

		sys := build()
		x0 := sys.DefaultState()
		dt, duration := DefaultDt, DefaultDuration

		for _, k := range slices.Sorted(maps.Keys(p)) {
			v, err := number(p[k])
			if err != nil {
				return nil, fmt.Errorf("param %s: %w", k, err)
			}
			switch k {
			case "dt":
				dt = v
			case "duration":
				duration = v
			default:
				if i := slices.Index(stateKeys, k); i >= 0 {
					x0[i] = v
					continue
				}
				if err := sys.SetParam(k, v); err != nil {
					return nil, err
				}
			}
		}

		tr, err := models.Simulate(ctx, sys, x0, dt, duration)
		if err != nil {
			return nil, err
		}

		final := tr.Final()
		out := map[string]any{
			"steps": len(tr.States) - 1,
			"final": []float64(final),
		}
		if h, ok := sys.(models.Hamiltonian); ok {
			out["energy_initial"] = h.Energy(tr.States[0])
			out["energy_final"] = h.Energy(final)
		}
		return out, nil
	}
}

// Double returns twice its numeric input. A mapping input is read from key "x".
func Double(_ context.Context, params any) (any, error) {
	if m, ok := params.(map[string]any); ok {
		params = m["x"]
	}
	v, err := number(params)
	if err != nil {
		return nil, err
	}
	return v * 2, nil
}

// Sleep waits for params["ms"] milliseconds, or less if ctx ends first.
func Sleep(ctx context.Context, params any) (any, error) {
	p, err := asMap(params)
	if err != nil {
		return nil, err
	}
	ms, err := number(p["ms"])
	if err != nil {
		return nil, fmt.Errorf("param ms: %w", err)
	}

	t := time.NewTimer(time.Duration(ms * float64(time.Millisecond)))
	defer t.Stop()
	select {
	case <-t.C:
		return ms, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func Fail(context.Context, any) (any, error) {
	return nil, ErrFail
}

func asMap(params any) (map[string]any, error) {
	switch p := params.(type) {
	case map[string]any:
		return p, nil
	case nil:
		return map[string]any{}, nil
	default:
		return nil, fmt.Errorf("expected a mapping of parameters, got %T", params)
	}
}

func number(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case uint64:
		return float64(n), nil
	case string:
		f, err := strconv.ParseFloat(n, 64)
		if err != nil {
			return 0, fmt.Errorf("not a number: %q", n)
		}
		return f, nil
	default:
		return math.NaN(), fmt.Errorf("not a number: %v (%T)", v, v)
	}
}
