package env

import (
	"log/slog"

	"github.com/UynajGI/yuusim/internal/persist"
)

type options struct {
	logger    *slog.Logger
	store     persist.Store
	output    string
	workspace *Workspace
	keepData  bool
	keepLogs  bool
	resume    bool
	validate  func(any) error
	progress  func(done, total int)
	profile   bool
}

type Option func(*options)

func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithStore persists every completed run. Cleanup closes the store.
func WithStore(s persist.Store) Option {
	return func(o *options) { o.store = s }
}

// WithWorkspace creates the project folder tree under output.
func WithWorkspace(output string) Option {
	return func(o *options) { o.output = output }
}

// WithCleanupPolicy chooses whether Cleanup keeps data/ and logs/. Both are
// kept by default; tmp/ is always emptied.
func WithCleanupPolicy(keepData, keepLogs bool) Option {
	return func(o *options) {
		o.keepData = keepData
		o.keepLogs = keepLogs
	}
}

// WithResume makes Load fetch the latest stored run, exposed via Previous.
func WithResume(resume bool) Option {
	return func(o *options) { o.resume = resume }
}

// WithValidator rejects successful results; a rejection fails the unit with
// kind invalid_result.
func WithValidator(fn func(result any) error) Option {
	return func(o *options) { o.validate = fn }
}

func WithProgress(fn func(done, total int)) Option {
	return func(o *options) { o.progress = fn }
}

// WithProfile makes Run measure one call on the first parameter set before
// the run starts. The report is kept in Outcome.Profile and, with a
// workspace, written to analysis/profile_<timestamp>_<hash>.log.
func WithProfile(profile bool) Option {
	return func(o *options) { o.profile = profile }
}
