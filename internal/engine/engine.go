package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/UynajGI/yuusim/internal/logging"
	"github.com/UynajGI/yuusim/internal/results"
	"github.com/UynajGI/yuusim/internal/task"
)

type Mode string

const (
	Sequential Mode = "sequential"
	Parallel   Mode = "parallel"
)

// ParseMode accepts "sequential" or "parallel"; empty means parallel.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case "", Parallel:
		return Parallel, nil
	case Sequential:
		return Sequential, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownMode, s)
	}
}

type Options struct {
	Workers     int // 0 means runtime.NumCPU()
	Mode        Mode
	Timeout     time.Duration // whole run, 0 disables
	TaskTimeout time.Duration // per unit, 0 disables
	HardKill    bool
	Validate    func(result any) error
	Logger      *slog.Logger // nil means the logger carried by the run context

	// OnProgress is called after each unit is recorded. In parallel mode it
	// is called from several goroutines at once.
	OnProgress func(done, total int)
}

type Engine struct {
	fn     task.Func
	opts   Options
	units  []*task.Unit
	ran    atomic.Bool
	logger *slog.Logger
}

func New(fn task.Func, opts Options) (*Engine, error) {
	if fn == nil {
		return nil, &Fault{Op: "new", Err: ErrNoFunc}
	}
	if opts.Workers < 0 {
		return nil, &Fault{Op: "new", Err: fmt.Errorf("%w: workers=%d", ErrPoolAllocation, opts.Workers)}
	}
	if opts.Workers == 0 {
		opts.Workers = runtime.NumCPU()
	}
	mode, err := ParseMode(string(opts.Mode))
	if err != nil {
		return nil, &Fault{Op: "new", Err: err}
	}
	opts.Mode = mode

	return &Engine{fn: fn, opts: opts, logger: opts.Logger}, nil
}

func (e *Engine) Workers() int { return e.opts.Workers }
func (e *Engine) Mode() Mode   { return e.opts.Mode }

// Units returns the submitted units. They must not be modified while Run is
// in progress.
func (e *Engine) Units() []*task.Unit { return e.units }

// Submit appends one unit per parameter set. Indices follow input order and
// continue across calls.
func (e *Engine) Submit(params []any) error {
	if e.ran.Load() {
		return ErrAlreadyRan
	}
	for _, p := range params {
		e.units = append(e.units, task.New(len(e.units), p))
	}
	return nil
}

// Run executes every submitted unit and returns the completed store.
// Task faults are recorded in their units; only engine faults are returned.
func (e *Engine) Run(ctx context.Context) (*results.Store, error) {
	if !e.ran.CompareAndSwap(false, true) {
		return nil, ErrAlreadyRan
	}

	if e.logger == nil {
		e.logger = logging.FromContext(ctx)
	}

	store := results.New(len(e.units))
	if len(e.units) == 0 {
		e.logger.Info("run complete", "tasks", 0)
		return store, nil
	}

	runCtx := ctx
	if e.opts.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, e.opts.Timeout)
		defer cancel()
	}

	e.logger.Info("run started",
		"tasks", len(e.units),
		"mode", e.opts.Mode,
		"workers", e.activeWorkers(),
	)
	start := time.Now()

	var err error
	if e.opts.Mode == Sequential {
		err = e.runSequential(runCtx, store)
	} else {
		err = e.runParallel(runCtx, store)
	}
	if err == nil {
		err = e.cancelRemaining(runCtx, store)
	}
	if err != nil {
		logging.Critical(ctx, e.logger, "run aborted", "error", err)
		return nil, &Fault{Op: "run", Err: err}
	}

	var succeeded, failed, cancelled int
	for _, u := range e.units {
		switch u.Status {
		case task.Succeeded:
			succeeded++
		case task.Failed:
			failed++
		case task.Cancelled:
			cancelled++
		}
	}
	logging.Success(ctx, e.logger, "run complete",
		"tasks", len(e.units),
		"succeeded", succeeded,
		"failed", failed,
		"cancelled", cancelled,
		"elapsed", time.Since(start),
	)
	return store, nil
}

func (e *Engine) runSequential(ctx context.Context, store *results.Store) error {
	for _, u := range e.units {
		if ctx.Err() != nil {
			return nil
		}
		u.Execute(ctx, e.fn, e.execOptions(e.logger, 0))
		if err := e.record(store, u); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) runParallel(ctx context.Context, store *results.Store) error {
	var next atomic.Int64
	g, gctx := errgroup.WithContext(ctx)

	for w := 1; w <= e.activeWorkers(); w++ {
		worker := w
		g.Go(func() error {
			logger := e.logger.With("worker", worker)
			for {
				i := int(next.Add(1) - 1)
				if i >= len(e.units) {
					return nil
				}
				// A unit claimed after cancellation stays pending and is
				// cancelled once the pool has drained.
				if gctx.Err() != nil {
					return nil
				}
				u := e.units[i]
				u.Execute(gctx, e.fn, e.execOptions(logger, worker))
				if err := e.record(store, u); err != nil {
					return err
				}
			}
		})
	}

	return g.Wait()
}

// cancelRemaining records every unit that never started as Cancelled.
func (e *Engine) cancelRemaining(ctx context.Context, store *results.Store) error {
	reason := "run cancelled"
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		reason = "run timeout"
	}

	n := 0
	for _, u := range e.units {
		if !u.Cancel(reason) {
			continue
		}
		if err := e.record(store, u); err != nil {
			return err
		}
		n++
	}
	if n > 0 {
		e.logger.Warn("pending tasks cancelled", "count", n, "reason", reason)
	}
	return nil
}

func (e *Engine) record(store *results.Store, u *task.Unit) error {
	if err := store.Record(u); err != nil {
		return err
	}
	if e.opts.OnProgress != nil {
		e.opts.OnProgress(store.Completed(), store.Len())
	}
	return nil
}

func (e *Engine) execOptions(logger *slog.Logger, worker int) task.ExecOptions {
	return task.ExecOptions{
		Logger:   logger,
		Worker:   worker,
		Timeout:  e.opts.TaskTimeout,
		HardKill: e.opts.HardKill,
		Validate: e.opts.Validate,
	}
}

func (e *Engine) activeWorkers() int {
	if e.opts.Mode == Sequential {
		return 1
	}
	return min(e.opts.Workers, max(len(e.units), 1))
}
