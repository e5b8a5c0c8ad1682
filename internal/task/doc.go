// Package task defines the unit of work scheduled by the execution engine.
//
// A [Unit] wraps one call of a user [Func] over one parameter set:
//
//   - its submission index, which fixes its slot in the result store
//   - its status, moving Pending → Running → Succeeded|Failed|Cancelled
//   - either a result value or an [ErrorRecord], never both
//   - start and end timestamps used by the performance analyzer
//
// Faults raised by the Func (returned errors and panics alike) never escape
// Execute. They are reduced to an ErrorRecord holding a kind, the Go type of
// the fault and its message.
//
// # Thread Safety
//
// A Unit is owned by the goroutine executing it. Other goroutines may read
// it only after the result store has published it.
package task
