package harvest_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/MarkSG93/2fa-stats-sub000/internal/harvest"
	"github.com/MarkSG93/2fa-stats-sub000/internal/testutil"
)

var reportDate = time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

type fixture struct {
	store  harvest.Store
	source *testutil.FakeSource
	clock  *testutil.StubClock
	idgen  *testutil.StubIDGenerator
	stats  *harvest.RunStats
	opts   harvest.Options
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	opts := harvest.DefaultOptions()
	opts.Fanout = 4
	return &fixture{
		store:  testutil.NewTestStore(t),
		source: testutil.NewFakeSource(),
		clock:  testutil.FixedClock(),
		idgen:  testutil.NewStubIDGenerator(),
		stats:  &harvest.RunStats{},
		opts:   opts,
	}
}

func (f *fixture) writer() *harvest.CacheWriter {
	return harvest.NewCacheWriter(f.store, harvest.NewNopLogger(), f.clock, f.stats)
}

func (f *fixture) refresher(store harvest.Store) *harvest.Refresher {
	return harvest.NewRefresher(store, f.source, harvest.NewNopLogger(), f.clock, f.idgen, f.stats, f.opts)
}

// seedUsers writes n pending users owned by "c-1" and returns their ids.
func (f *fixture) seedUsers(t *testing.T, n int) []string {
	t.Helper()
	ids := make([]string, n)
	users := make([]*harvest.User, n)
	for i := range n {
		ids[i] = fmt.Sprintf("u-%03d", i)
		users[i] = harvest.NewUser(ids[i], "c-1")
	}
	res := f.writer().WriteUsers(context.Background(), users, reportDate)
	require.NoError(t, res.CommitErr)
	require.Equal(t, n, res.Inserted)
	return ids
}

func (f *fixture) counts(t *testing.T, kind harvest.Kind) map[string]int {
	t.Helper()
	c, err := f.store.StatusCounts(context.Background(), kind)
	require.NoError(t, err)
	return c
}

func (f *fixture) lookupAccount(t *testing.T, kind harvest.Kind, externalID string) (string, bool) {
	t.Helper()
	ctx := context.Background()
	b, err := f.store.Begin(ctx)
	require.NoError(t, err)
	defer b.Rollback()

	ext, found, err := b.LookupAccount(ctx, kind, harvest.KeyFor(externalID))
	require.NoError(t, err)
	return ext, found
}
