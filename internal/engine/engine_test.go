package engine

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"reflect"
	"runtime"
	"sync"
	"strings"
	"testing"
	"time"

	"github.com/UynajGI/yuusim/internal/logging"
	"github.com/UynajGI/yuusim/internal/task"
)

func square(_ context.Context, p any) (any, error) {
	x := p.(int)
	return x * x, nil
}

func ints(n int) []any {
	out := make([]any, n)
	for i := range out {
		out[i] = i
	}
	return out
}

func runEngine(t *testing.T, fn task.Func, opts Options, params []any) []task.Unit {
	t.Helper()
	eng, err := New(fn, opts)
	if err != nil {
		t.Fatalf("new failed: %v", err)
	}
	if err := eng.Submit(params); err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	store, err := eng.Run(context.Background())
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	snap, err := store.Snapshot()
	if err != nil {
		t.Fatalf("snapshot failed: %v", err)
	}
	return snap
}

func TestParseMode(t *testing.T) {
	tests := []struct {
		in      string
		want    Mode
		wantErr bool
	}{
		{"", Parallel, false},
		{"parallel", Parallel, false},
		{"Sequential", Sequential, false},
		{"distributed", "", true},
	}

	for _, tt := range tests {
		got, err := ParseMode(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseMode(%q) error = %v", tt.in, err)
		}
		if got != tt.want {
			t.Errorf("ParseMode(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestSequentialMatchesParallel(t *testing.T) {
	params := ints(200)

	seq := runEngine(t, square, Options{Mode: Sequential}, params)
	par := runEngine(t, square, Options{Mode: Parallel, Workers: 8}, params)

	if len(seq) != len(par) {
		t.Fatalf("length mismatch %d vs %d", len(seq), len(par))
	}
	for i := range seq {
		if seq[i].Index != i || par[i].Index != i {
			t.Fatalf("index mismatch at %d", i)
		}
		if !reflect.DeepEqual(seq[i].Result, par[i].Result) {
			t.Errorf("result mismatch at %d: %v vs %v", i, seq[i].Result, par[i].Result)
		}
		if seq[i].Result != i*i {
			t.Errorf("expected %d at %d, got %v", i*i, i, seq[i].Result)
		}
	}
}

func TestEmptySubmission(t *testing.T) {
	for _, mode := range []Mode{Sequential, Parallel} {
		t.Run(string(mode), func(t *testing.T) {
			snap := runEngine(t, square, Options{Mode: mode}, nil)
			if len(snap) != 0 {
				t.Errorf("expected no units, got %d", len(snap))
			}
		})
	}
}

func TestPanicIsolation(t *testing.T) {
	double := func(_ context.Context, p any) (any, error) {
		return p.(int) * 2, nil
	}

	for _, mode := range []Mode{Sequential, Parallel} {
		t.Run(string(mode), func(t *testing.T) {
			snap := runEngine(t, double, Options{Mode: mode, Workers: 2}, []any{1, "bad", 3})

			if snap[0].Result != 2 || snap[2].Result != 6 {
				t.Errorf("unexpected results %v %v", snap[0].Result, snap[2].Result)
			}
			if snap[1].Status != task.Failed {
				t.Fatalf("expected index 1 failed, got %s", snap[1].Status)
			}
			if snap[1].Err.Kind != task.KindPanic {
				t.Errorf("expected panic kind, got %s", snap[1].Err.Kind)
			}
		})
	}
}

func TestAllTasksFail(t *testing.T) {
	fail := func(context.Context, any) (any, error) { return nil, errors.New("always") }

	eng, _ := New(fail, Options{Workers: 3})
	eng.Submit(ints(10))
	store, err := eng.Run(context.Background())
	if err != nil {
		t.Fatalf("task faults must not abort the run: %v", err)
	}

	failures, err := store.Failures()
	if err != nil {
		t.Fatal(err)
	}
	if len(failures) != 10 {
		t.Errorf("expected 10 failures, got %d", len(failures))
	}
}

func TestSingleWorkerUsesPool(t *testing.T) {
	snap := runEngine(t, square, Options{Mode: Parallel, Workers: 1}, ints(5))
	for _, u := range snap {
		if u.Worker != 1 {
			t.Errorf("unit %d ran on worker %d, want 1", u.Index, u.Worker)
		}
		if u.Status != task.Succeeded {
			t.Errorf("unit %d status %s", u.Index, u.Status)
		}
	}
}

func TestWorkersRunConcurrently(t *testing.T) {
	sleepy := func(context.Context, any) (any, error) {
		time.Sleep(100 * time.Millisecond)
		return nil, nil
	}

	start := time.Now()
	runEngine(t, sleepy, Options{Mode: Parallel, Workers: 4}, ints(4))
	if elapsed := time.Since(start); elapsed > 350*time.Millisecond {
		t.Errorf("four workers took %v for four 100ms tasks", elapsed)
	}
}

func TestDefaultWorkers(t *testing.T) {
	eng, err := New(square, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if eng.Workers() != runtime.NumCPU() {
		t.Errorf("expected %d workers, got %d", runtime.NumCPU(), eng.Workers())
	}
	if eng.Mode() != Parallel {
		t.Errorf("expected parallel default, got %s", eng.Mode())
	}
}

func TestPoolAllocationFault(t *testing.T) {
	_, err := New(square, Options{Workers: -1})
	if !errors.Is(err, ErrPoolAllocation) {
		t.Fatalf("expected ErrPoolAllocation, got %v", err)
	}
	var fault *Fault
	if !errors.As(err, &fault) {
		t.Errorf("expected *Fault, got %T", err)
	}
}

func TestNilFunc(t *testing.T) {
	if _, err := New(nil, Options{}); !errors.Is(err, ErrNoFunc) {
		t.Errorf("expected ErrNoFunc, got %v", err)
	}
}

func TestRunOnce(t *testing.T) {
	eng, _ := New(square, Options{})
	eng.Submit(ints(2))
	if _, err := eng.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if _, err := eng.Run(context.Background()); !errors.Is(err, ErrAlreadyRan) {
		t.Errorf("second run: expected ErrAlreadyRan, got %v", err)
	}
	if err := eng.Submit(ints(1)); !errors.Is(err, ErrAlreadyRan) {
		t.Errorf("late submit: expected ErrAlreadyRan, got %v", err)
	}
}

func TestSubmitAppends(t *testing.T) {
	eng, _ := New(square, Options{Mode: Sequential})
	eng.Submit([]any{1, 2})
	eng.Submit([]any{3})

	units := eng.Units()
	if len(units) != 3 || units[2].Index != 2 || units[2].Params != 3 {
		t.Fatalf("unexpected units %+v", units)
	}
}

func TestRunTimeoutCooperative(t *testing.T) {
	// Ignores ctx so the in-flight unit runs to completion.
	stubborn := func(_ context.Context, p any) (any, error) {
		time.Sleep(100 * time.Millisecond)
		return p, nil
	}

	for _, mode := range []Mode{Sequential, Parallel} {
		t.Run(string(mode), func(t *testing.T) {
			snap := runEngine(t, stubborn, Options{Mode: mode, Workers: 1, Timeout: 20 * time.Millisecond}, ints(3))

			if snap[0].Status != task.Succeeded {
				t.Errorf("in-flight unit should finish, got %s", snap[0].Status)
			}
			for _, u := range snap[1:] {
				if u.Status != task.Cancelled {
					t.Errorf("unit %d: expected cancelled, got %s", u.Index, u.Status)
				}
				if u.Err == nil || u.Err.Message != "run timeout" {
					t.Errorf("unit %d: unexpected record %+v", u.Index, u.Err)
				}
				if u.Ran() {
					t.Errorf("unit %d should never start", u.Index)
				}
			}
		})
	}
}

func TestRunTimeoutHardKill(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	stuck := func(context.Context, any) (any, error) {
		<-release
		return nil, nil
	}

	start := time.Now()
	snap := runEngine(t, stuck, Options{Workers: 1, Timeout: 20 * time.Millisecond, HardKill: true}, ints(3))
	if time.Since(start) > time.Second {
		t.Fatal("hard kill should not wait for stuck tasks")
	}

	if snap[0].Status != task.Failed || snap[0].Err.Kind != task.KindTimeout {
		t.Errorf("expected failed timeout, got %s %+v", snap[0].Status, snap[0].Err)
	}
	for _, u := range snap[1:] {
		if u.Status != task.Cancelled {
			t.Errorf("unit %d: expected cancelled, got %s", u.Index, u.Status)
		}
	}
}

func TestTaskTimeout(t *testing.T) {
	slow := func(ctx context.Context, p any) (any, error) {
		if p.(int) == 1 {
			<-ctx.Done()
			return nil, ctx.Err()
		}
		return p, nil
	}

	snap := runEngine(t, slow, Options{Workers: 2, TaskTimeout: 10 * time.Millisecond}, ints(3))
	if snap[1].Status != task.Failed || snap[1].Err.Kind != task.KindTimeout {
		t.Errorf("expected timeout on index 1, got %s %+v", snap[1].Status, snap[1].Err)
	}
	if snap[0].Status != task.Succeeded || snap[2].Status != task.Succeeded {
		t.Error("other units should succeed")
	}
}

func TestCallerCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	eng, _ := New(square, Options{Workers: 2})
	eng.Submit(ints(4))
	store, err := eng.Run(ctx)
	if err != nil {
		t.Fatal(err)
	}

	cancelled, _ := store.Cancelled()
	if len(cancelled) != 4 {
		t.Errorf("expected all 4 cancelled, got %d", len(cancelled))
	}
	if cancelled[0].Err.Message != "run cancelled" {
		t.Errorf("unexpected reason %q", cancelled[0].Err.Message)
	}
}

func TestValidateOption(t *testing.T) {
	reject := func(v any) error {
		if v.(int) > 4 {
			return errors.New("out of range")
		}
		return nil
	}

	snap := runEngine(t, square, Options{Workers: 2, Validate: reject}, ints(4))
	if snap[3].Status != task.Failed || snap[3].Err.Kind != task.KindInvalidResult {
		t.Errorf("expected invalid result at 3, got %s %+v", snap[3].Status, snap[3].Err)
	}
	if snap[2].Status != task.Succeeded {
		t.Errorf("expected success at 2, got %s", snap[2].Status)
	}
}

func TestOnProgress(t *testing.T) {
	var (
		mu   sync.Mutex
		seen []int
	)
	progress := func(done, total int) {
		mu.Lock()
		defer mu.Unlock()
		if total != 20 {
			t.Errorf("expected total 20, got %d", total)
		}
		seen = append(seen, done)
	}

	runEngine(t, square, Options{Workers: 4, OnProgress: progress}, ints(20))

	if len(seen) != 20 {
		t.Fatalf("expected 20 callbacks, got %d", len(seen))
	}
	maxDone := 0
	for _, d := range seen {
		maxDone = max(maxDone, d)
	}
	if maxDone != 20 {
		t.Errorf("expected final count 20, got %d", maxDone)
	}
}

func TestContextLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	ctx := logging.WithLogger(context.Background(), logger)

	eng, err := New(square, Options{Workers: 2})
	if err != nil {
		t.Fatal(err)
	}
	if err := eng.Submit(ints(3)); err != nil {
		t.Fatal(err)
	}
	if _, err := eng.Run(ctx); err != nil {
		t.Fatal(err)
	}

	out := buf.String()
	for _, want := range []string{"run started", "task started", "run complete"} {
		if !strings.Contains(out, want) {
			t.Errorf("context logger missing %q:\n%s", want, out)
		}
	}
}
