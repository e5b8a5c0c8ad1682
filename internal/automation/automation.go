// Package automation runs scripted sequences of simulation projects.
package automation

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/UynajGI/yuusim/internal/config"
	"github.com/UynajGI/yuusim/internal/env"
	"github.com/UynajGI/yuusim/internal/experiment"
	"github.com/UynajGI/yuusim/internal/logging"
	"github.com/UynajGI/yuusim/internal/persist"
)

// ErrNoConfig indicates a step names neither a config file, a preset nor a
// system mapping.
var ErrNoConfig = errors.New("automation: step has no configuration")

// Scenario defines a scripted sequence of project runs
type Scenario struct {
	Name            string `yaml:"name"`
	Description     string `yaml:"description"`
	ContinueOnError bool   `yaml:"continue_on_error"`
	Steps           []Step `yaml:"steps"`
}

// Step is one project run. Exactly one of Config, Preset and System
// provides the configuration.
type Step struct {
	Name    string         `yaml:"name"`
	Project string         `yaml:"project"`
	Model   string         `yaml:"model"`
	Config  string         `yaml:"config"`
	Preset  string         `yaml:"preset"`
	System  map[string]any `yaml:"system"`
	Workers int            `yaml:"workers"`
	Mode    string         `yaml:"mode"`
	Timeout string         `yaml:"timeout"`
	Force   bool           `yaml:"force"`

	TaskTimeout string `yaml:"task_timeout"`
	HardKill    bool   `yaml:"hard_kill"`
	Profile     bool   `yaml:"profile"`
}

// LoadScenario loads a scenario from a YAML file
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var scenario Scenario
	if err := yaml.Unmarshal(data, &scenario); err != nil {
		return nil, fmt.Errorf("parsing scenario %s: %w", path, err)
	}
	return &scenario, nil
}

// StepResult reports one step. Outcome is nil when the step was skipped or
// failed before completing.
type StepResult struct {
	Step    Step
	Skipped bool
	Outcome *env.Outcome
	Err     error
}

// Runner executes steps through a simulation environment.
type Runner struct {
	Registry *experiment.Registry
	Output   string // workspace root; empty disables workspaces

	// OpenStore returns a fresh store for each step, since cleanup closes
	// it. Nil disables persistence.
	OpenStore func() (persist.Store, error)

	Logger   *slog.Logger
	Progress func(done, total int)
	Out      io.Writer
}

// RunScenario executes all steps in order. It stops at the first failed
// step unless the scenario continues on error.
func (r *Runner) RunScenario(ctx context.Context, sc *Scenario) ([]StepResult, error) {
	results := make([]StepResult, 0, len(sc.Steps))
	var errs []error

	for i, step := range sc.Steps {
		r.printf("Running step %d/%d: %s\n", i+1, len(sc.Steps), step.label())

		res := r.RunStep(ctx, step)
		results = append(results, res)

		switch {
		case res.Err != nil:
			err := fmt.Errorf("step %d (%s): %w", i+1, step.label(), res.Err)
			if !sc.ContinueOnError {
				return results, err
			}
			errs = append(errs, err)
		case res.Skipped:
			r.printf("  skipped: results for this configuration already exist\n")
		default:
			r.printf("  %d tasks, %d failed, %.2f tasks/s\n",
				res.Outcome.Report.Total, res.Outcome.Report.Failed, res.Outcome.Report.Throughput)
		}
	}
	return results, errors.Join(errs...)
}

// RunStep runs a single project, skipping it when the latest stored run has
// the same configuration hash and Force is not set.
func (r *Runner) RunStep(ctx context.Context, step Step) (res StepResult) {
	res.Step = step

	fn, err := r.Registry.GetFunc(step.Model)
	if err != nil {
		res.Err = err
		return res
	}
	file, err := step.File()
	if err != nil {
		res.Err = err
		return res
	}

	opts := []env.Option{env.WithLogger(r.logger())}
	if r.Output != "" {
		opts = append(opts, env.WithWorkspace(r.Output))
	}
	if r.Progress != nil {
		opts = append(opts, env.WithProgress(r.Progress))
	}
	if step.Profile {
		opts = append(opts, env.WithProfile(true))
	}
	var store persist.Store
	if r.OpenStore != nil {
		if store, err = r.OpenStore(); err != nil {
			res.Err = err
			return res
		}
		opts = append(opts, env.WithStore(store))
	}

	e, err := env.New(step.project(), opts...)
	if err != nil {
		if store != nil {
			store.Close()
		}
		res.Err = err
		return res
	}
	defer func() {
		if err := e.Cleanup(ctx); err != nil && res.Err == nil {
			res.Err = err
		}
	}()

	if err := e.Load(ctx, fn, file.Options()); err != nil {
		res.Err = err
		return res
	}

	if !step.Force {
		exists, err := e.HasResults(ctx)
		if err != nil {
			r.logger().Warn("cannot check previous results", "error", err)
		}
		if exists {
			res.Skipped = true
			return res
		}
	}

	res.Outcome, res.Err = e.Run(ctx, file.ParameterSets(config.DefaultLogBase))
	return res
}

// File resolves the step configuration and lays the step's run settings
// over it.
func (s Step) File() (*config.File, error) {
	var (
		file *config.File
		err  error
	)
	switch {
	case s.Config != "":
		file, err = config.Load(s.Config)
	case s.Preset != "":
		file = config.GetPreset(s.Model, s.Preset)
		if file == nil {
			err = fmt.Errorf("unknown preset %q for model %s", s.Preset, s.Model)
		}
	case s.System != nil:
		file, err = config.FromMap(map[string]any{"system": s.System})
	default:
		err = ErrNoConfig
	}
	if err != nil {
		return nil, err
	}

	run := maps.Clone(file.Run)
	if run == nil {
		run = make(map[string]any)
	}
	if s.Workers != 0 {
		run["workers"] = s.Workers
	}
	if s.Mode != "" {
		run["mode"] = s.Mode
	}
	if s.Timeout != "" {
		run["timeout"] = s.Timeout
	}
	if s.TaskTimeout != "" {
		run["task_timeout"] = s.TaskTimeout
	}
	if s.HardKill {
		run["hard_kill"] = true
	}
	file.Run = run
	return file, nil
}

func (s Step) project() string {
	if s.Project != "" {
		return s.Project
	}
	return s.Model
}

func (s Step) label() string {
	if s.Name != "" {
		return s.Name
	}
	return s.project()
}

func (r *Runner) logger() *slog.Logger {
	if r.Logger == nil {
		return logging.Discard()
	}
	return r.Logger
}

func (r *Runner) printf(format string, args ...any) {
	if r.Out != nil {
		fmt.Fprintf(r.Out, format, args...)
	}
}
