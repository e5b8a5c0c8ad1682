// Package env is the facade that binds a project, its configuration and a
// simulation function, and orchestrates one run at a time.
//
// An [Environment] moves through these states:
//
//	Uninitialized --Load--> Loaded --Run--> Running --> Completed | Failed --Cleanup--> CleanedUp
//
// Load is accepted from Uninitialized and CleanedUp, Run only from Loaded.
// Cleanup is accepted from every state except Running and is idempotent.
// Rejected calls return a [*StateError] and leave the environment unchanged.
//
// # Example
//
//	e, _ := env.New("pendulum", env.WithStore(store))
//	_ = e.Load(ctx, fn, cfg)
//	out, err := e.Run(ctx, params)
//	defer e.Cleanup(ctx)
//
// # Thread Safety
//
// All methods may be called from any goroutine. Run blocks until every task
// unit reaches a terminal state; a concurrent Run is rejected.
package env
