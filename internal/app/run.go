package app

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MarkSG93/2fa-stats-sub000/internal/harvest"
)

// ErrReportDateInFuture is returned when a run is asked for a report date
// after today. The run is recorded as deferred.
var ErrReportDateInFuture = errors.New("report date is in the future")

// RunRecord tracks the harvest_runs row of the current invocation. It lives
// in memory with ID=0 until the run is persisted.
type RunRecord struct {
	ID          int64
	Environment string
	ReportDate  time.Time
	Status      string
	APICalls    int64
}

// NewRunRecord creates an in-memory run record with status running.
func NewRunRecord(environment string, reportDate time.Time) *RunRecord {
	return &RunRecord{
		Environment: environment,
		ReportDate:  reportDate,
		Status:      harvest.RunRunning,
	}
}

// Persisted returns true if the record has been saved to the store.
func (r *RunRecord) Persisted() bool {
	return r.ID != 0
}

// SnapshotName is the archive name of the cache snapshot taken for this run.
func (r *RunRecord) SnapshotName() string {
	return fmt.Sprintf("%s%d.db", SnapshotPrefix(r.Environment), r.ID)
}

// SnapshotPrefix is the archive prefix of an environment's snapshots.
func SnapshotPrefix(environment string) string {
	return "snapshots/" + environment + "/"
}

// ParseReportDate parses a YYYY-MM-DD report date. An empty value means
// today in UTC.
func ParseReportDate(s string, now time.Time) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return today(now), nil
	}
	d, err := time.ParseInLocation(time.DateOnly, s, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid report date %q: want YYYY-MM-DD", s)
	}
	return d, nil
}

func today(now time.Time) time.Time {
	y, m, d := now.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
