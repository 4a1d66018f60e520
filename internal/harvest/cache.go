package harvest

import (
	"context"
	"fmt"
	"time"
)

// CacheWriter upserts harvested summaries into the store.
type CacheWriter struct {
	store  Store
	logger Logger
	clock  Clock
	stats  *RunStats
}

// NewCacheWriter creates a CacheWriter. stats may be shared with other components.
func NewCacheWriter(store Store, logger Logger, clock Clock, stats *RunStats) *CacheWriter {
	return &CacheWriter{store: store, logger: logger, clock: clock, stats: stats}
}

// WriteResult summarises one batch.
type WriteResult struct {
	Inserted int
	Existing int
	Skipped  int
	// CommitErr is set when the batch could not be opened or committed; the
	// batch's inserts are then not guaranteed to be durable.
	CommitErr error
}

// WriteAccounts inserts every account whose key is not cached yet with status
// pending and the sentinel refresh time. Existing rows are left alone: whether
// they are stale relative to reportDate is decided by the refresher's query.
func (w *CacheWriter) WriteAccounts(ctx context.Context, kind Kind, accounts []*Account, reportDate time.Time) WriteResult {
	now := w.clock.Now()
	return writeBatch(ctx, w, kind, accounts, reportDate, batchOps[*Account]{
		key:        func(a *Account) int64 { return a.Key },
		externalID: func(a *Account) string { return a.ExternalID },
		lookup: func(ctx context.Context, b Batch, key int64) (string, bool, error) {
			return b.LookupAccount(ctx, kind, key)
		},
		insert: func(ctx context.Context, b Batch, a *Account) error {
			a.Kind = kind
			a.StatsStatus = StatusPending
			a.FirstSeenAt = now
			a.RefreshedAt = SentinelRefreshedAt
			a.RefreshPass = ""
			return b.InsertAccount(ctx, a)
		},
	})
}

// WriteUsers is WriteAccounts for users.
func (w *CacheWriter) WriteUsers(ctx context.Context, users []*User, reportDate time.Time) WriteResult {
	now := w.clock.Now()
	return writeBatch(ctx, w, KindUsers, users, reportDate, batchOps[*User]{
		key:        func(u *User) int64 { return u.Key },
		externalID: func(u *User) string { return u.ExternalID },
		lookup: func(ctx context.Context, b Batch, key int64) (string, bool, error) {
			return b.LookupUser(ctx, key)
		},
		insert: func(ctx context.Context, b Batch, u *User) error {
			u.StatsStatus = StatusPending
			u.FirstSeenAt = now
			u.RefreshedAt = SentinelRefreshedAt
			u.RefreshPass = ""
			return b.InsertUser(ctx, u)
		},
	})
}

type batchOps[T any] struct {
	key        func(T) int64
	externalID func(T) string
	lookup     func(context.Context, Batch, int64) (string, bool, error)
	insert     func(context.Context, Batch, T) error
}

func writeBatch[T any](ctx context.Context, w *CacheWriter, kind Kind, items []T, reportDate time.Time, ops batchOps[T]) WriteResult {
	var res WriteResult
	log := w.logger.With("kind", string(kind))

	batch, err := w.store.Begin(ctx)
	if err != nil {
		res.CommitErr = fmt.Errorf("opening %s batch: %w", kind, err)
		res.Skipped = len(items)
		w.stats.CommitErrors.Add(1)
		w.stats.Skipped.Add(int64(len(items)))
		log.Error("cache batch not opened", "error", err, "records", len(items))
		return res
	}

	for _, item := range items {
		key, extID := ops.key(item), ops.externalID(item)

		stored, found, err := ops.lookup(ctx, batch, key)
		if err != nil {
			res.Skipped++
			log.Warn("cache lookup failed", "key", key, "external_id", extID, "error", err)
			continue
		}
		if found {
			if stored != extID {
				res.Skipped++
				log.Warn("cache key collision", "key", key, "external_id", extID, "stored_external_id", stored)
				continue
			}
			res.Existing++
			continue
		}

		if err := ops.insert(ctx, batch, item); err != nil {
			res.Skipped++
			log.Warn("cache insert failed", "key", key, "external_id", extID, "error", err)
			continue
		}
		res.Inserted++
	}

	if err := batch.Commit(); err != nil {
		res.CommitErr = fmt.Errorf("committing %s batch: %w", kind, err)
		w.stats.CommitErrors.Add(1)
		log.Error("cache batch commit failed", "error", err, "records", len(items))
	}

	w.stats.Inserted.Add(int64(res.Inserted))
	w.stats.Existing.Add(int64(res.Existing))
	w.stats.Skipped.Add(int64(res.Skipped))
	log.Info("cache batch written",
		"inserted", res.Inserted,
		"existing", res.Existing,
		"skipped", res.Skipped,
		"report_date", reportDate.Format(time.DateOnly),
	)
	return res
}
