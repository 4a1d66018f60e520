package harvest

import "sync/atomic"

// RunStats are the counters of one run. They are shared by concurrent
// fan-out tasks, so every field is atomic.
type RunStats struct {
	APICalls atomic.Int64

	Listed        atomic.Int64 // records returned by listings
	ListFailures  atomic.Int64 // listings that ended early
	Inserted      atomic.Int64
	Existing      atomic.Int64
	Skipped       atomic.Int64 // insert failures and key collisions
	CommitErrors  atomic.Int64
	Refreshed     atomic.Int64
	RefreshFailed atomic.Int64
}

// LogArgs renders the counters as slog key/value pairs.
func (s *RunStats) LogArgs() []any {
	return []any{
		"api_calls", s.APICalls.Load(),
		"listed", s.Listed.Load(),
		"list_failures", s.ListFailures.Load(),
		"inserted", s.Inserted.Load(),
		"existing", s.Existing.Load(),
		"skipped", s.Skipped.Load(),
		"commit_errors", s.CommitErrors.Load(),
		"refreshed", s.Refreshed.Load(),
		"refresh_failed", s.RefreshFailed.Load(),
	}
}
