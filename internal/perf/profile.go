package perf

import (
	"context"
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/UynajGI/yuusim/internal/task"
)

// Profile is the cost of a single call of a simulation function.
type Profile struct {
	Elapsed    time.Duration
	AllocBytes uint64 // bytes allocated during the call
	Mallocs    uint64 // heap objects allocated during the call
	HeapInUse  uint64 // heap in use after the call
	NumGC      uint32 // collections triggered during the call
	Status     task.Status
	Err        *task.ErrorRecord
}

// Measure runs fn once on params and measures time and allocations. Faults are
// captured in the returned Profile like any other unit.
func Measure(ctx context.Context, fn task.Func, params any) Profile {
	var before, after runtime.MemStats
	runtime.GC()
	runtime.ReadMemStats(&before)

	u := task.New(0, params)
	u.Execute(ctx, fn, task.ExecOptions{})

	runtime.ReadMemStats(&after)

	return Profile{
		Elapsed:    u.Duration(),
		AllocBytes: after.TotalAlloc - before.TotalAlloc,
		Mallocs:    after.Mallocs - before.Mallocs,
		HeapInUse:  after.HeapInuse,
		NumGC:      after.NumGC - before.NumGC,
		Status:     u.Status,
		Err:        u.Err,
	}
}

func (p Profile) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "status: %s\n", p.Status)
	fmt.Fprintf(&sb, "elapsed: %v\n", p.Elapsed)
	fmt.Fprintf(&sb, "allocated: %s in %s objects\n", humanize.Bytes(p.AllocBytes), humanize.Comma(int64(p.Mallocs)))
	fmt.Fprintf(&sb, "heap in use: %s\n", humanize.Bytes(p.HeapInUse))
	fmt.Fprintf(&sb, "gc cycles: %d", p.NumGC)
	if p.Err != nil {
		fmt.Fprintf(&sb, "\nerror: %s", p.Err.Error())
	}
	return sb.String()
}
