package harvest

import (
	"context"
	"time"
)

// RefreshQuery selects one page of rows for a refresh pass.
type RefreshQuery struct {
	// ReportDate marks rows refreshed before it as stale.
	ReportDate time.Time
	// Pass excludes rows already attempted by this pass.
	Pass string
	// Status, when set, selects rows with exactly this stats_status instead
	// of stale rows. Used by the secondary sweep.
	Status string
	Limit  int
}

// Store is the persistent cache. All writes go through a Batch so that each
// stage commits once.
type Store interface {
	// Begin opens a write batch. Nothing else may be called on the store
	// until the batch is committed or rolled back.
	Begin(ctx context.Context) (Batch, error)

	// AccountsForRefresh returns up to q.Limit accounts of kind matching q, ordered by key.
	AccountsForRefresh(ctx context.Context, kind Kind, q RefreshQuery) ([]*Account, error)

	// UsersForRefresh returns up to q.Limit users matching q, ordered by key.
	UsersForRefresh(ctx context.Context, q RefreshQuery) ([]*User, error)

	// StatusCounts returns the number of rows of kind per stats_status.
	StatusCounts(ctx context.Context, kind Kind) (map[string]int, error)

	// Wipe deletes every cached record. Run records are kept.
	Wipe(ctx context.Context) error

	// Run records

	CreateRun(ctx context.Context, environment string, reportDate, startedAt time.Time) (int64, error)
	FinishRun(ctx context.Context, id int64, status string, apiCalls int64, finishedAt time.Time) error
	ListRuns(ctx context.Context, limit int) ([]*Run, error)

	Close() error
}

// Batch is a single-writer unit of work committed once.
//
// A failed insert or update leaves the batch usable; only Commit decides
// whether the batch's writes become durable.
type Batch interface {
	// LookupAccount returns the external id stored under key, if any.
	LookupAccount(ctx context.Context, kind Kind, key int64) (externalID string, found bool, err error)
	InsertAccount(ctx context.Context, a *Account) error
	UpdateAccount(ctx context.Context, a *Account) error

	LookupUser(ctx context.Context, key int64) (externalID string, found bool, err error)
	InsertUser(ctx context.Context, u *User) error
	UpdateUser(ctx context.Context, u *User) error

	Commit() error
	Rollback() error
}

// Run is one recorded invocation of the harvester.
type Run struct {
	ID          int64
	Environment string
	ReportDate  time.Time
	StartedAt   time.Time
	FinishedAt  *time.Time
	Status      string
	APICalls    int64
}

// Run statuses.
const (
	RunRunning  = "running"
	RunSuccess  = "success"
	RunDeferred = "deferred"
	RunError    = "error"
)
