package database

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// errNoRows is returned by row scanners of every backend when a single-row
// query matched nothing.
var errNoRows = errors.New("no rows")

type scanner interface {
	Scan(dest ...any) error
}

type rowIter interface {
	scanner
	Next() bool
	Err() error
	Close()
}

// runner is the subset of a connection or transaction the store needs.
type runner interface {
	exec(ctx context.Context, query string, args ...any) error
	queryRow(ctx context.Context, query string, args ...any) scanner
	query(ctx context.Context, query string, args ...any) (rowIter, error)
}

// txRunner is a runner inside a transaction. guarded runs fn so that its
// failure leaves the transaction usable.
type txRunner interface {
	runner
	guarded(ctx context.Context, fn func(runner) error) error
	commit() error
	rollback() error
}

type dialect int

const (
	dialectSQLite dialect = iota
	dialectPostgres
)

func (d dialect) placeholder(n int) string {
	if d == dialectPostgres {
		return "$" + strconv.Itoa(n)
	}
	return "?"
}

// tableQueries are the statements built once per table and dialect.
type tableQueries struct {
	lookup   string
	insert   string
	update   string
	stale    string
	byStatus string
	counts   string
}

func buildQueries[T any](d dialect, t *table[T]) tableQueries {
	names := make([]string, len(t.columns))
	marks := make([]string, len(t.columns))
	var sets []string
	for i, c := range t.columns {
		names[i] = c.name
		marks[i] = d.placeholder(i + 1)
		if c.name != "key" && c.name != "first_seen_at" {
			sets = append(sets, fmt.Sprintf("%s = %s", c.name, d.placeholder(len(sets)+1)))
		}
	}
	cols := strings.Join(names, ", ")

	return tableQueries{
		lookup: fmt.Sprintf("SELECT external_id FROM %s WHERE key = %s", t.name, d.placeholder(1)),
		insert: fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", t.name, cols, strings.Join(marks, ", ")),
		update: fmt.Sprintf("UPDATE %s SET %s WHERE key = %s", t.name, strings.Join(sets, ", "), d.placeholder(len(sets)+1)),
		stale: fmt.Sprintf(
			"SELECT %s FROM %s WHERE (stats_status <> 'SUCCESS' OR refreshed_at < %s) AND refresh_pass <> %s ORDER BY key LIMIT %s",
			cols, t.name, d.placeholder(1), d.placeholder(2), d.placeholder(3)),
		byStatus: fmt.Sprintf(
			"SELECT %s FROM %s WHERE stats_status = %s AND refresh_pass <> %s ORDER BY key LIMIT %s",
			cols, t.name, d.placeholder(1), d.placeholder(2), d.placeholder(3)),
		counts: fmt.Sprintf("SELECT stats_status, COUNT(*) FROM %s GROUP BY stats_status", t.name),
	}
}

func runQueries(d dialect) (insert, finish, list string) {
	insert = fmt.Sprintf(
		"INSERT INTO harvest_runs (environment, report_date, started_at, status, api_calls) VALUES (%s, %s, %s, %s, 0) RETURNING id",
		d.placeholder(1), d.placeholder(2), d.placeholder(3), d.placeholder(4))
	finish = fmt.Sprintf(
		"UPDATE harvest_runs SET status = %s, api_calls = %s, finished_at = %s WHERE id = %s",
		d.placeholder(1), d.placeholder(2), d.placeholder(3), d.placeholder(4))
	list = fmt.Sprintf(
		"SELECT id, environment, report_date, started_at, finished_at, status, api_calls FROM harvest_runs ORDER BY id DESC LIMIT %s",
		d.placeholder(1))
	return insert, finish, list
}
