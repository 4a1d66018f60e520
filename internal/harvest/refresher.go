package harvest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// Refresher runs the checkpointed detail refresh loops, one per kind.
type Refresher struct {
	store  Store
	source Source
	logger Logger
	clock  Clock
	idgen  IDGenerator
	stats  *RunStats
	opts   Options
}

// NewRefresher creates a Refresher.
func NewRefresher(store Store, source Source, logger Logger, clock Clock, idgen IDGenerator, stats *RunStats, opts Options) *Refresher {
	return &Refresher{
		store:  store,
		source: source,
		logger: logger,
		clock:  clock,
		idgen:  idgen,
		stats:  stats,
		opts:   opts,
	}
}

// PassResult describes one refresh pass.
type PassResult struct {
	Pass       string
	Iterations int // loop iterations, including failed loads
	Batches    int // non-empty pages processed
	Processed  int
	Succeeded  int
	Failed     int

	Drained         bool // the query ran dry
	CeilingHit      bool
	BudgetExhausted bool
}

// RefreshResult holds the main pass and the ERROR_HTML_RESPONSE sweep.
type RefreshResult struct {
	Kind      Kind
	Main      PassResult
	Secondary PassResult
}

// RefreshAccounts refreshes stale accounts of kind, then retries the ones
// left with ERROR_HTML_RESPONSE.
func (r *Refresher) RefreshAccounts(ctx context.Context, kind Kind, reportDate time.Time, maxRecords int) RefreshResult {
	t := refreshTarget[*Account]{
		kind: kind,
		load: func(ctx context.Context, q RefreshQuery) ([]*Account, error) {
			return r.store.AccountsForRefresh(ctx, kind, q)
		},
		fetch: func(ctx context.Context, a *Account) error {
			d, err := r.source.AccountDetail(ctx, kind, a.ExternalID)
			if err != nil {
				return err
			}
			a.ApplyDetail(d, r.clock.Now())
			return nil
		},
		externalID: func(a *Account) string { return a.ExternalID },
		settle: func(a *Account, pass, status string) {
			a.RefreshPass = pass
			a.StatsStatus = status
		},
		save: func(ctx context.Context, b Batch, a *Account) error { return b.UpdateAccount(ctx, a) },
	}
	return runRefresh(ctx, r, t, reportDate, maxRecords)
}

// RefreshUsers refreshes stale users' OTP details, then retries the ones left
// with ERROR_HTML_RESPONSE.
func (r *Refresher) RefreshUsers(ctx context.Context, reportDate time.Time, maxRecords int) RefreshResult {
	t := refreshTarget[*User]{
		kind: KindUsers,
		load: r.store.UsersForRefresh,
		fetch: func(ctx context.Context, u *User) error {
			d, err := r.source.UserDetail(ctx, u.ExternalID)
			if err != nil {
				return err
			}
			u.ApplyDetail(d, r.clock.Now())
			return nil
		},
		externalID: func(u *User) string { return u.ExternalID },
		settle: func(u *User, pass, status string) {
			u.RefreshPass = pass
			u.StatsStatus = status
		},
		save: func(ctx context.Context, b Batch, u *User) error { return b.UpdateUser(ctx, u) },
	}
	return runRefresh(ctx, r, t, reportDate, maxRecords)
}

// refreshTarget binds the generic loop to one record type.
type refreshTarget[T any] struct {
	kind       Kind
	load       func(context.Context, RefreshQuery) ([]T, error)
	fetch      func(context.Context, T) error // fetches and applies the detail
	externalID func(T) string
	settle     func(rec T, pass, status string)
	save       func(context.Context, Batch, T) error
}

func runRefresh[T any](ctx context.Context, r *Refresher, t refreshTarget[T], reportDate time.Time, maxRecords int) RefreshResult {
	opts := r.opts.refresh(t.kind)
	if maxRecords > 0 {
		opts.MaxRecords = maxRecords
	}
	log := r.logger.With("kind", string(t.kind))

	res := RefreshResult{Kind: t.kind}
	res.Main = refreshLoop(ctx, r, t, RefreshQuery{
		ReportDate: reportDate,
		Pass:       r.idgen.New(),
	}, opts, log)
	log.Info("refresh pass finished", passLogArgs(res.Main, r.stats)...)

	if ctx.Err() != nil {
		return res
	}

	res.Secondary = refreshLoop(ctx, r, t, RefreshQuery{
		ReportDate: reportDate,
		Pass:       r.idgen.New(),
		Status:     StatusHTMLResponse,
	}, opts, log.With("sweep", StatusHTMLResponse))
	if res.Secondary.Processed > 0 {
		log.Info("html response sweep finished", passLogArgs(res.Secondary, r.stats)...)
	}
	return res
}

// refreshLoop pages through the rows selected by q until none are left, the
// iteration ceiling is hit or the record budget is spent. Every attempted row
// is stamped with q.Pass so the same pass never selects it twice.
func refreshLoop[T any](ctx context.Context, r *Refresher, t refreshTarget[T], q RefreshQuery, opts RefreshOptions, log Logger) PassResult {
	res := PassResult{Pass: q.Pass}

	for {
		if ctx.Err() != nil {
			return res
		}
		if res.Iterations >= opts.MaxPages {
			res.CeilingHit = true
			log.Warn("refresh ceiling hit", "iterations", res.Iterations, "processed", res.Processed)
			return res
		}

		q.Limit = opts.PageSize
		if opts.MaxRecords > 0 {
			remaining := opts.MaxRecords - res.Processed
			if remaining <= 0 {
				res.BudgetExhausted = true
				return res
			}
			q.Limit = min(q.Limit, remaining)
		}

		res.Iterations++
		page, err := t.load(ctx, q)
		if err != nil {
			log.Error("refresh page load failed", "error", err, "iteration", res.Iterations)
			continue
		}
		if len(page) == 0 {
			res.Drained = true
			return res
		}

		settled := fetchPage(ctx, r, t, page, q.Pass, opts, log)
		persistPage(ctx, r, t, settled, log)

		res.Batches++
		for _, s := range settled {
			res.Processed++
			if s.ok {
				res.Succeeded++
			} else {
				res.Failed++
			}
		}
		log.Debug("refresh page done",
			"iteration", res.Iterations,
			"records", len(page),
			"processed", res.Processed,
			"api_calls", r.stats.APICalls.Load(),
		)
	}
}

type settledRecord[T any] struct {
	rec T
	ok  bool
}

// fetchPage fetches every record's detail with bounded parallelism. Records
// interrupted by cancellation of ctx are left out of the result so they keep
// their previous status.
func fetchPage[T any](ctx context.Context, r *Refresher, t refreshTarget[T], page []T, pass string, opts RefreshOptions, log Logger) []settledRecord[T] {
	var (
		mu      sync.Mutex
		settled = make([]settledRecord[T], 0, len(page))
	)

	var g errgroup.Group
	g.SetLimit(opts.Parallelism)
	for _, rec := range page {
		g.Go(func() error {
			err := fetchOne(ctx, t, rec, opts.Timeout)
			if err != nil && ctx.Err() != nil {
				return nil
			}

			status := StatusFor(err)
			t.settle(rec, pass, status)
			if err != nil {
				r.stats.RefreshFailed.Add(1)
				log.Debug("detail fetch failed", "external_id", t.externalID(rec), "status", status, "error", err)
			} else {
				r.stats.Refreshed.Add(1)
			}

			mu.Lock()
			settled = append(settled, settledRecord[T]{rec: rec, ok: err == nil})
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	return settled
}

func fetchOne[T any](ctx context.Context, t refreshTarget[T], rec T, timeout time.Duration) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("detail fetch panicked: %v", p)
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return t.fetch(ctx, rec)
}

// persistPage writes the settled records in one batch. A failed update skips
// the record; a failed commit loses the page, which the next run redoes.
func persistPage[T any](ctx context.Context, r *Refresher, t refreshTarget[T], settled []settledRecord[T], log Logger) {
	if len(settled) == 0 {
		return
	}

	batch, err := r.store.Begin(ctx)
	if err != nil {
		r.stats.CommitErrors.Add(1)
		log.Error("refresh batch not opened", "error", err, "records", len(settled))
		return
	}

	for _, s := range settled {
		if err := t.save(ctx, batch, s.rec); err != nil {
			r.stats.Skipped.Add(1)
			log.Warn("refresh update failed", "external_id", t.externalID(s.rec), "error", err)
		}
	}

	if err := batch.Commit(); err != nil {
		r.stats.CommitErrors.Add(1)
		log.Error("refresh batch commit failed", "error", err, "records", len(settled))
	}
}

func passLogArgs(p PassResult, stats *RunStats) []any {
	return []any{
		"batches", p.Batches,
		"processed", p.Processed,
		"succeeded", p.Succeeded,
		"failed", p.Failed,
		"drained", p.Drained,
		"ceiling_hit", p.CeilingHit,
		"budget_exhausted", p.BudgetExhausted,
		"api_calls", stats.APICalls.Load(),
	}
}
