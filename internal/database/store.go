package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MarkSG93/2fa-stats-sub000/internal/harvest"
)

// store implements harvest.Store on top of a runner. The SQLite and
// PostgreSQL backends differ only in how they connect and open transactions.
type store struct {
	db       runner
	begin    func(ctx context.Context) (txRunner, error)
	accounts map[harvest.Kind]tableQueries
	users    tableQueries

	runInsert, runFinish, runList string
}

func newStore(d dialect, db runner, begin func(ctx context.Context) (txRunner, error)) *store {
	s := &store{
		db:       db,
		begin:    begin,
		accounts: make(map[harvest.Kind]tableQueries, len(accountTables)),
		users:    buildQueries(d, userTable),
	}
	for kind, t := range accountTables {
		s.accounts[kind] = buildQueries(d, t)
	}
	s.runInsert, s.runFinish, s.runList = runQueries(d)
	return s
}

func (s *store) accountQueries(kind harvest.Kind) (*table[*harvest.Account], tableQueries, error) {
	t, ok := accountTables[kind]
	if !ok {
		return nil, tableQueries{}, fmt.Errorf("unknown account kind %q", kind)
	}
	return t, s.accounts[kind], nil
}

// Begin opens a batch. Once begun, a batch runs to completion even if ctx is
// cancelled, so a cancelled run still commits the work it already holds.
func (s *store) Begin(ctx context.Context) (harvest.Batch, error) {
	tx, err := s.begin(context.WithoutCancel(ctx))
	if err != nil {
		return nil, fmt.Errorf("starting transaction: %w", err)
	}
	return &batch{s: s, tx: tx}, nil
}

func (s *store) AccountsForRefresh(ctx context.Context, kind harvest.Kind, q harvest.RefreshQuery) ([]*harvest.Account, error) {
	t, tq, err := s.accountQueries(kind)
	if err != nil {
		return nil, err
	}
	return loadForRefresh(ctx, s.db, t, tq, q)
}

func (s *store) UsersForRefresh(ctx context.Context, q harvest.RefreshQuery) ([]*harvest.User, error) {
	return loadForRefresh(ctx, s.db, userTable, s.users, q)
}

func loadForRefresh[T any](ctx context.Context, r runner, t *table[T], tq tableQueries, q harvest.RefreshQuery) ([]T, error) {
	var (
		rows rowIter
		err  error
	)
	if q.Status != "" {
		rows, err = r.query(ctx, tq.byStatus, q.Status, q.Pass, q.Limit)
	} else {
		rows, err = r.query(ctx, tq.stale, q.ReportDate.UTC(), q.Pass, q.Limit)
	}
	if err != nil {
		return nil, fmt.Errorf("selecting %s for refresh: %w", t.name, err)
	}
	defer rows.Close()

	var out []T
	for rows.Next() {
		rec, err := t.scan(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning %s: %w", t.name, err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading %s: %w", t.name, err)
	}
	return out, nil
}

func (s *store) StatusCounts(ctx context.Context, kind harvest.Kind) (map[string]int, error) {
	var query string
	if kind == harvest.KindUsers {
		query = s.users.counts
	} else {
		_, tq, err := s.accountQueries(kind)
		if err != nil {
			return nil, err
		}
		query = tq.counts
	}

	rows, err := s.db.query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("counting %s: %w", kind, err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scanning %s counts: %w", kind, err)
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

func (s *store) Wipe(ctx context.Context) error {
	tx, err := s.begin(ctx)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.rollback()

	for _, kind := range []harvest.Kind{harvest.KindUsers, harvest.KindClients, harvest.KindVendors, harvest.KindDistributors} {
		if err := tx.exec(ctx, "DELETE FROM "+string(kind)); err != nil {
			return fmt.Errorf("wiping %s: %w", kind, err)
		}
	}
	return tx.commit()
}

func (s *store) CreateRun(ctx context.Context, environment string, reportDate, startedAt time.Time) (int64, error) {
	var id int64
	err := s.db.queryRow(ctx, s.runInsert, environment, reportDate.UTC(), startedAt.UTC(), harvest.RunRunning).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("creating run record: %w", err)
	}
	return id, nil
}

func (s *store) FinishRun(ctx context.Context, id int64, status string, apiCalls int64, finishedAt time.Time) error {
	if err := s.db.exec(ctx, s.runFinish, status, apiCalls, finishedAt.UTC(), id); err != nil {
		return fmt.Errorf("finishing run record %d: %w", id, err)
	}
	return nil
}

func (s *store) ListRuns(ctx context.Context, limit int) ([]*harvest.Run, error) {
	rows, err := s.db.query(ctx, s.runList, limit)
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	defer rows.Close()

	var runs []*harvest.Run
	for rows.Next() {
		r := &harvest.Run{}
		if err := rows.Scan(&r.ID, &r.Environment, &r.ReportDate, &r.StartedAt, &r.FinishedAt, &r.Status, &r.APICalls); err != nil {
			return nil, fmt.Errorf("scanning run: %w", err)
		}
		r.ReportDate = r.ReportDate.UTC()
		r.StartedAt = r.StartedAt.UTC()
		if r.FinishedAt != nil {
			f := r.FinishedAt.UTC()
			r.FinishedAt = &f
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// batch implements harvest.Batch.
type batch struct {
	s  *store
	tx txRunner
}

func (b *batch) LookupAccount(ctx context.Context, kind harvest.Kind, key int64) (string, bool, error) {
	_, tq, err := b.s.accountQueries(kind)
	if err != nil {
		return "", false, err
	}
	return lookup(context.WithoutCancel(ctx), b.tx, tq.lookup, key)
}

func (b *batch) InsertAccount(ctx context.Context, a *harvest.Account) error {
	t, tq, err := b.s.accountQueries(a.Kind)
	if err != nil {
		return err
	}
	return write(ctx, b.tx, tq.insert, t.values(a))
}

func (b *batch) UpdateAccount(ctx context.Context, a *harvest.Account) error {
	t, tq, err := b.s.accountQueries(a.Kind)
	if err != nil {
		return err
	}
	return write(ctx, b.tx, tq.update, t.updateValues(a))
}

func (b *batch) LookupUser(ctx context.Context, key int64) (string, bool, error) {
	return lookup(context.WithoutCancel(ctx), b.tx, b.s.users.lookup, key)
}

func (b *batch) InsertUser(ctx context.Context, u *harvest.User) error {
	return write(ctx, b.tx, b.s.users.insert, userTable.values(u))
}

func (b *batch) UpdateUser(ctx context.Context, u *harvest.User) error {
	return write(ctx, b.tx, b.s.users.update, userTable.updateValues(u))
}

func (b *batch) Commit() error {
	if err := b.tx.commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

func (b *batch) Rollback() error {
	return b.tx.rollback()
}

func lookup(ctx context.Context, r runner, query string, key int64) (string, bool, error) {
	var externalID string
	err := r.queryRow(ctx, query, key).Scan(&externalID)
	if errors.Is(err, errNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return externalID, true, nil
}

func write(ctx context.Context, tx txRunner, query string, args []any) error {
	ctx = context.WithoutCancel(ctx)
	return tx.guarded(ctx, func(r runner) error {
		return r.exec(ctx, query, args...)
	})
}
