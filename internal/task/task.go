package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/UynajGI/yuusim/internal/logging"
)

// Status is the lifecycle position of a Unit.
type Status string

const (
	Pending   Status = "pending"
	Running   Status = "running"
	Succeeded Status = "succeeded"
	Failed    Status = "failed"
	Cancelled Status = "cancelled"
)

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s == Succeeded || s == Failed || s == Cancelled
}

// Fault kinds stored in ErrorRecord.Kind.
const (
	KindError         = "error"
	KindPanic         = "panic"
	KindTimeout       = "timeout"
	KindCancelled     = "cancelled"
	KindInvalidResult = "invalid_result"
)

// Func is a user simulation: it maps one parameter set to one result.
type Func func(ctx context.Context, params any) (any, error)

// Kinder lets an error returned by a Func choose its own fault kind.
type Kinder interface {
	Kind() string
}

// ErrorRecord is the serializable form of a task fault.
type ErrorRecord struct {
	Kind    string `json:"kind" msgpack:"kind"`
	Type    string `json:"type,omitempty" msgpack:"type,omitempty"`
	Message string `json:"message" msgpack:"message"`
}

func (e *ErrorRecord) Error() string {
	return e.Kind + ": " + e.Message
}

// Unit is one invocation of a Func over one parameter set.
//
// A Unit is mutated only by the goroutine executing it. Once terminal,
// exactly one of Result and Err describes the outcome.
type Unit struct {
	Index  int
	Params any
	Status Status
	Result any
	Err    *ErrorRecord
	Start  time.Time
	End    time.Time
	Worker int
}

// ExecOptions tunes a single Execute call.
type ExecOptions struct {
	Logger   *slog.Logger
	Worker   int
	Timeout  time.Duration
	HardKill bool
	Validate func(result any) error
}

func New(index int, params any) *Unit {
	return &Unit{Index: index, Params: params, Status: Pending}
}

// Execute runs fn with the unit's parameters and records the outcome.
// Panics raised by fn are recovered and recorded as KindPanic faults.
func (u *Unit) Execute(ctx context.Context, fn Func, opts ExecOptions) {
	logger := opts.Logger
	if logger == nil {
		logger = logging.FromContext(ctx)
	}

	u.Worker = opts.Worker
	u.Status = Running
	u.Start = time.Now()
	logger.Debug("task started", "index", u.Index, "worker", u.Worker)

	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	var (
		res any
		rec *ErrorRecord
	)
	if opts.HardKill {
		res, rec = callAbandonable(ctx, fn, u.Params)
	} else {
		res, rec = call(ctx, fn, u.Params)
	}
	if rec == nil && opts.Validate != nil {
		if err := opts.Validate(res); err != nil {
			res, rec = nil, &ErrorRecord{Kind: KindInvalidResult, Type: typeName(err), Message: err.Error()}
		}
	}

	u.End = time.Now()
	u.finish(res, rec)

	if u.Status == Succeeded {
		logger.Debug("task succeeded", "index", u.Index, "worker", u.Worker, "duration", u.Duration())
		return
	}
	logger.Warn("task failed",
		"index", u.Index,
		"worker", u.Worker,
		"status", u.Status,
		"kind", u.Err.Kind,
		"error", u.Err.Message,
		"duration", u.Duration(),
	)
}

// Cancel marks a pending unit as cancelled without running it.
// It reports false when the unit already left Pending.
func (u *Unit) Cancel(reason string) bool {
	if u.Status != Pending {
		return false
	}
	u.Status = Cancelled
	u.Err = &ErrorRecord{Kind: KindCancelled, Message: reason}
	return true
}

// Ran reports whether the unit was ever started.
func (u *Unit) Ran() bool { return !u.Start.IsZero() }

// Duration is the execution time of a finished unit, zero otherwise.
func (u *Unit) Duration() time.Duration {
	if u.Start.IsZero() || u.End.IsZero() {
		return 0
	}
	return u.End.Sub(u.Start)
}

func (u *Unit) finish(res any, rec *ErrorRecord) {
	if rec == nil {
		u.Status = Succeeded
		u.Result = res
		u.Err = nil
		return
	}
	u.Result = nil
	u.Err = rec
	if rec.Kind == KindCancelled {
		u.Status = Cancelled
	} else {
		u.Status = Failed
	}
}

func call(ctx context.Context, fn Func, params any) (res any, rec *ErrorRecord) {
	defer func() {
		if r := recover(); r != nil {
			res, rec = nil, panicRecord(r)
		}
	}()

	out, err := fn(ctx, params)
	if err != nil {
		return nil, classify(err)
	}
	return out, nil
}

// callAbandonable stops waiting for fn once ctx ends. The abandoned call keeps
// running in its goroutine and its outcome is dropped.
func callAbandonable(ctx context.Context, fn Func, params any) (any, *ErrorRecord) {
	type outcome struct {
		res any
		rec *ErrorRecord
	}
	done := make(chan outcome, 1)
	go func() {
		res, rec := call(ctx, fn, params)
		done <- outcome{res, rec}
	}()

	select {
	case o := <-done:
		return o.res, o.rec
	case <-ctx.Done():
		return nil, &ErrorRecord{
			Kind:    KindTimeout,
			Type:    typeName(ctx.Err()),
			Message: "task abandoned: " + ctx.Err().Error(),
		}
	}
}

func classify(err error) *ErrorRecord {
	rec := &ErrorRecord{Kind: KindError, Type: typeName(err), Message: err.Error()}

	var k Kinder
	switch {
	case errors.As(err, &k):
		rec.Kind = k.Kind()
	case errors.Is(err, context.DeadlineExceeded):
		rec.Kind = KindTimeout
	case errors.Is(err, context.Canceled):
		rec.Kind = KindCancelled
	}
	return rec
}

func panicRecord(r any) *ErrorRecord {
	msg := fmt.Sprint(r)
	if err, ok := r.(error); ok {
		msg = err.Error()
	}
	return &ErrorRecord{Kind: KindPanic, Type: typeName(r), Message: msg}
}

func typeName(v any) string {
	return fmt.Sprintf("%T", v)
}
