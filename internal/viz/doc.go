// Package viz renders run reports for the terminal.
//
//   - [RenderReport] and [RenderFailures]: styled summaries of a run
//   - [DurationPlot]: ASCII chart of per-task durations
//   - [Progress]: Bubble Tea model fed by engine progress callbacks
package viz
