package env

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"sync"
	"time"

	"github.com/UynajGI/yuusim/internal/config"
	"github.com/UynajGI/yuusim/internal/engine"
	"github.com/UynajGI/yuusim/internal/logging"
	"github.com/UynajGI/yuusim/internal/perf"
	"github.com/UynajGI/yuusim/internal/persist"
	"github.com/UynajGI/yuusim/internal/task"
)

type State string

const (
	Uninitialized State = "uninitialized"
	Loaded        State = "loaded"
	Running       State = "running"
	Completed     State = "completed"
	Failed        State = "failed"
	CleanedUp     State = "cleaned_up"
)

// Outcome is what a completed run hands back to the caller.
type Outcome struct {
	Results  []task.Unit // submission order
	Values   []any       // nil where the unit did not succeed
	Failures []task.Unit
	Report   perf.Report
	RunID    string
	Name     string // <timestamp>_<hash>, names the run's artifacts

	// Profile is the single-call measurement taken with WithProfile, and
	// Analysis the report file it was written to, if any.
	Profile  *perf.Profile
	Analysis string
}

type Environment struct {
	project string
	opts    options

	mu       sync.Mutex
	state    State
	fn       task.Func
	cfg      map[string]any
	hash     string
	engine   *engine.Engine
	outcome  *Outcome
	previous *persist.Snapshot
}

// New creates an environment for project. With WithWorkspace the project
// folders are created immediately.
func New(project string, opts ...Option) (*Environment, error) {
	if project == "" {
		return nil, ErrEmptyProject
	}
	o := options{keepData: true, keepLogs: true}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = logging.Discard()
	}
	o.logger = o.logger.With("project", project)

	if o.output != "" {
		ws, err := NewWorkspace(o.output, project)
		if err != nil {
			logging.Critical(context.Background(), o.logger, "workspace unavailable", "error", err)
			return nil, err
		}
		o.workspace = ws
	}

	return &Environment{project: project, opts: o, state: Uninitialized}, nil
}

func (e *Environment) Project() string { return e.project }

// Workspace returns nil unless WithWorkspace was given.
func (e *Environment) Workspace() *Workspace { return e.opts.workspace }

func (e *Environment) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// ConfigHash identifies the loaded configuration; empty before Load.
func (e *Environment) ConfigHash() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.hash
}

// Outcome returns the last completed run, or nil.
func (e *Environment) Outcome() *Outcome {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.outcome
}

// Previous returns the snapshot found at Load when resume is enabled.
func (e *Environment) Previous() *persist.Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.previous
}

// Load binds fn and cfg. cfg is copied; its run keys are only validated by Run.
func (e *Environment) Load(ctx context.Context, fn task.Func, cfg map[string]any) error {
	if fn == nil {
		return ErrNilFunc
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != Uninitialized && e.state != CleanedUp {
		return &StateError{Op: "load", State: e.state, Err: ErrAlreadyLoaded}
	}

	if cfg == nil {
		cfg = map[string]any{}
	}
	e.fn = fn
	e.cfg = maps.Clone(cfg)
	e.hash = config.Hash(e.cfg, e.project)
	e.outcome = nil
	e.previous = nil

	if e.opts.resume && e.opts.store != nil {
		snap, err := e.opts.store.Load(ctx, e.project)
		switch {
		case err == nil:
			e.previous = snap
			e.opts.logger.Info("previous run found", "run_id", snap.RunID, "config_hash", snap.ConfigHash)
		case errors.Is(err, persist.ErrNotFound):
		default:
			e.opts.logger.Warn("previous run unreadable", "error", err)
		}
	}

	e.state = Loaded
	e.opts.logger.Debug("environment loaded", "config_hash", e.hash)
	return nil
}

// Run executes fn over paramSets and blocks until every unit is terminal.
//
// Task faults never fail Run; they are reported in Outcome.Failures. A
// non-nil error with a nil Outcome means the run failed. A non-nil error
// with an Outcome means the run completed but could not be persisted.
func (e *Environment) Run(ctx context.Context, paramSets []any) (*Outcome, error) {
	e.mu.Lock()
	if e.state != Loaded {
		st := e.state
		e.mu.Unlock()
		cause := ErrLifecycle
		if st == Uninitialized || st == CleanedUp {
			cause = ErrNotLoaded
		}
		return nil, &StateError{Op: "run", State: st, Err: cause}
	}
	e.state = Running
	fn, cfg, hash := e.fn, e.cfg, e.hash
	e.mu.Unlock()

	logger := e.opts.logger.With("config_hash", hash)

	eng, err := e.newEngine(fn, cfg)
	if err != nil {
		e.fail(ctx, logger, err)
		return nil, err
	}
	if err := eng.Submit(paramSets); err != nil {
		e.fail(ctx, logger, err)
		return nil, err
	}

	e.mu.Lock()
	e.engine = eng
	e.mu.Unlock()

	var (
		prof     *perf.Profile
		analysis string
	)
	if e.opts.profile && len(paramSets) > 0 {
		prof, analysis = e.profile(ctx, logger, fn, hash, paramSets[0])
	}

	// The engine and its tasks log through the context logger.
	store, err := eng.Run(logging.WithLogger(ctx, logger))
	if err != nil {
		e.fail(ctx, logger, err)
		return nil, err
	}

	units, err := store.Snapshot()
	if err != nil {
		e.fail(ctx, logger, err)
		return nil, err
	}
	failures, _ := store.Failures()
	values, _ := store.Values()
	report, _ := perf.Analyze(store)

	snap := persist.NewSnapshot(e.project, hash, cfg, string(eng.Mode()), eng.Workers(), units)
	out := &Outcome{
		Results:  units,
		Values:   values,
		Failures: failures,
		Report:   report,
		RunID:    snap.RunID,
		Name:     snap.Name(),
		Profile:  prof,
		Analysis: analysis,
	}

	e.mu.Lock()
	e.state = Completed
	e.outcome = out
	e.mu.Unlock()

	if len(failures) > 0 {
		logger.Warn("run finished with failures", "failed", len(failures), "total", len(units))
	}
	return out, e.persist(ctx, logger, snap)
}

// profile measures one call of fn. A report that cannot be written is logged
// and does not fail the run.
func (e *Environment) profile(ctx context.Context, logger *slog.Logger, fn task.Func, hash string, params any) (*perf.Profile, string) {
	p := perf.Measure(ctx, fn, params)
	logger.Info("profile taken", "elapsed", p.Elapsed, "alloc_bytes", p.AllocBytes, "status", p.Status)

	ws := e.opts.workspace
	if ws == nil {
		return &p, ""
	}
	body := fmt.Sprintf("project: %s\nconfig_hash: %s\nparams: %v\n%s\n", e.project, hash, params, p)
	path, err := ws.WriteAnalysis("profile", hash, body, time.Now())
	if err != nil {
		logger.Warn("profile report not written", "error", err)
		return &p, ""
	}
	return &p, path
}

func (e *Environment) newEngine(fn task.Func, cfg map[string]any) (*engine.Engine, error) {
	ro, err := config.ParseOptions(cfg)
	if err != nil {
		return nil, fmt.Errorf("env: invalid run options: %w", err)
	}
	return engine.New(fn, engine.Options{
		Workers:     ro.Workers,
		Mode:        engine.Mode(ro.Mode),
		Timeout:     ro.Timeout,
		TaskTimeout: ro.TaskTimeout,
		HardKill:    ro.HardKill,
		Validate:    e.opts.validate,
		OnProgress:  e.opts.progress,
	})
}

func (e *Environment) fail(ctx context.Context, logger *slog.Logger, err error) {
	e.mu.Lock()
	e.state = Failed
	e.mu.Unlock()
	logging.Critical(ctx, logger, "run failed", "error", err)
}

func (e *Environment) persist(ctx context.Context, logger *slog.Logger, snap *persist.Snapshot) error {
	var errs []error
	if s := e.opts.store; s != nil {
		if err := s.Save(ctx, e.project, snap); err != nil {
			logger.Error("snapshot save failed", "run_id", snap.RunID, "error", err)
			errs = append(errs, fmt.Errorf("env: saving snapshot: %w", err))
		} else {
			logger.Info("snapshot saved", "run_id", snap.RunID, "name", snap.Name())
		}
	}
	if ws := e.opts.workspace; ws != nil {
		if _, err := ws.SaveConfig(snap.Name(), snap.Config); err != nil {
			logger.Error("config copy failed", "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// HasResults reports whether the latest stored run of the project used the
// currently loaded configuration.
func (e *Environment) HasResults(ctx context.Context) (bool, error) {
	e.mu.Lock()
	hash := e.hash
	e.mu.Unlock()

	if e.opts.store == nil || hash == "" {
		return false, nil
	}
	snap, err := e.opts.store.Load(ctx, e.project)
	if errors.Is(err, persist.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return snap.ConfigHash == hash, nil
}

// Cleanup releases the engine and the store and applies the workspace
// cleanup policy. It is rejected while a run is in progress. After Cleanup,
// Load may bind a new function; later runs are no longer persisted to the
// closed store.
func (e *Environment) Cleanup(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch e.state {
	case Running:
		return &StateError{Op: "cleanup", State: e.state, Err: ErrLifecycle}
	case CleanedUp:
		return nil
	}

	e.engine = nil
	e.fn = nil

	var (
		errs []error
		keep []string
	)
	if s := e.opts.store; s != nil {
		if e.opts.keepData && e.opts.workspace != nil {
			metas, err := s.List(ctx, e.project)
			if err != nil {
				e.opts.logger.Warn("cannot list stored runs", "error", err)
			}
			for _, m := range metas {
				keep = append(keep, m.Name())
			}
		}
		if err := s.Close(); err != nil {
			errs = append(errs, fmt.Errorf("env: closing store: %w", err))
		}
		e.opts.store = nil
	}
	if ws := e.opts.workspace; ws != nil {
		if err := ws.Clean(e.opts.keepData, e.opts.keepLogs, e.hash, keep...); err != nil {
			errs = append(errs, fmt.Errorf("env: cleaning workspace: %w", err))
		}
	}

	e.state = CleanedUp
	if err := errors.Join(errs...); err != nil {
		e.opts.logger.Error("cleanup incomplete", "error", err)
		return err
	}
	logging.Success(ctx, e.opts.logger, "cleanup complete")
	return nil
}
