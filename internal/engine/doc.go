// Package engine schedules task units over a user simulation function.
//
// Two modes are supported:
//
//   - [Sequential]: units run one after another on the calling goroutine
//   - [Parallel]: a bounded pool of workers claims the next unclaimed index
//     from a shared atomic cursor until the queue drains
//
// # Example
//
//	eng, _ := engine.New(fn, engine.Options{Mode: engine.Parallel, Workers: 8})
//	_ = eng.Submit(params)
//	store, err := eng.Run(ctx)
//
// # Cancellation
//
// A run timeout, or cancellation of the caller's context, stops handing out
// units. Units that never started are marked Cancelled. Units already running
// see the cancelled context and are allowed to finish, unless HardKill is set,
// in which case the engine stops waiting for them and marks them Failed with
// a timeout fault.
package engine
