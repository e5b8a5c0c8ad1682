package experiment

import (
	"errors"
	"fmt"
	"maps"
	"slices"

	"github.com/UynajGI/yuusim/internal/models"
	"github.com/UynajGI/yuusim/internal/task"
)

var ErrUnknownModel = errors.New("unknown model")

type entry struct {
	fn          task.Func
	description string
}

// Registry maps model names to simulation functions.
type Registry struct {
	models map[string]entry
}

// NewRegistry returns a registry holding the built-in models.
func NewRegistry() *Registry {
	r := &Registry{models: make(map[string]entry)}

	r.Register("pendulum", "damped pendulum (theta, omega)",
		Simulation(func() models.System { return models.NewPendulum() }, "theta", "omega"))
	r.Register("spring_mass", "damped mass on a spring (pos, vel)",
		Simulation(func() models.System { return models.NewSpringMass() }, "pos", "vel"))
	r.Register("lorenz", "Lorenz attractor (x, y, z)",
		Simulation(func() models.System { return models.NewLorenz() }, "x", "y", "z"))

	r.Register("double", "returns x * 2", Double)
	r.Register("sleep", "sleeps ms milliseconds", Sleep)
	r.Register("fail", "always fails", Fail)

	return r
}

// Register adds or replaces a model.
func (r *Registry) Register(name, description string, fn task.Func) {
	r.models[name] = entry{fn: fn, description: description}
}

func (r *Registry) GetFunc(name string) (task.Func, error) {
	e, ok := r.models[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownModel, name)
	}
	return e.fn, nil
}

func (r *Registry) Describe(name string) string {
	return r.models[name].description
}

// ListModels returns the registered names, sorted.
func (r *Registry) ListModels() []string {
	return slices.Sorted(maps.Keys(r.models))
}
