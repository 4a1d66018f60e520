package database

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MarkSG93/2fa-stats-sub000/internal/harvest"
)

var (
	reportDate = time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	seenAt     = time.Date(2026, 2, 20, 9, 0, 0, 0, time.UTC)
)

// newTestStore creates a new in-memory store with migrations applied.
func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	s, err := NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func newAccount(kind harvest.Kind, id, parent, status string, refreshedAt time.Time) *harvest.Account {
	a := harvest.NewAccount(kind, id, parent)
	a.Name = "Account " + id
	a.StatsStatus = status
	a.FirstSeenAt = seenAt
	a.RefreshedAt = refreshedAt
	return a
}

func insertAccounts(t *testing.T, s *SQLiteStore, accounts ...*harvest.Account) {
	t.Helper()
	ctx := context.Background()

	b, err := s.Begin(ctx)
	require.NoError(t, err)
	for _, a := range accounts {
		require.NoError(t, b.InsertAccount(ctx, a), "insert %s", a.ExternalID)
	}
	require.NoError(t, b.Commit())
}

func TestSQLiteStore_Lookup(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	insertAccounts(t, s, newAccount(harvest.KindVendors, "v-1", "d-1", harvest.StatusPending, harvest.SentinelRefreshedAt))

	b, err := s.Begin(ctx)
	require.NoError(t, err)
	defer b.Rollback()

	t.Run("finds stored key", func(t *testing.T) {
		ext, found, err := b.LookupAccount(ctx, harvest.KindVendors, harvest.KeyFor("v-1"))
		require.NoError(t, err)
		assert.True(t, found)
		assert.Equal(t, "v-1", ext)
	})

	t.Run("tables are separate per kind", func(t *testing.T) {
		_, found, err := b.LookupAccount(ctx, harvest.KindClients, harvest.KeyFor("v-1"))
		require.NoError(t, err)
		assert.False(t, found, "vendor found in the clients table")
	})

	t.Run("unknown kind", func(t *testing.T) {
		_, _, err := b.LookupAccount(ctx, harvest.KindUsers, 1)
		assert.Error(t, err)
	})
}

func TestSQLiteStore_FailedInsertKeepsBatchUsable(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	b, err := s.Begin(ctx)
	require.NoError(t, err)
	first := newAccount(harvest.KindClients, "c-1", "v-1", harvest.StatusPending, harvest.SentinelRefreshedAt)
	require.NoError(t, b.InsertAccount(ctx, first))
	require.Error(t, b.InsertAccount(ctx, first), "duplicate insert")

	second := newAccount(harvest.KindClients, "c-2", "v-1", harvest.StatusPending, harvest.SentinelRefreshedAt)
	require.NoError(t, b.InsertAccount(ctx, second), "insert after a failed one")
	require.NoError(t, b.Commit())

	counts, err := s.StatusCounts(ctx, harvest.KindClients)
	require.NoError(t, err)
	assert.Equal(t, 2, counts[harvest.StatusPending])
}

func TestSQLiteStore_Rollback(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	b, err := s.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, b.InsertAccount(ctx, newAccount(harvest.KindDistributors, "d-1", "", harvest.StatusPending, harvest.SentinelRefreshedAt)))
	require.NoError(t, b.Rollback())

	counts, err := s.StatusCounts(ctx, harvest.KindDistributors)
	require.NoError(t, err)
	assert.Empty(t, counts)
}

func TestSQLiteStore_AccountsForRefresh(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	fresh := reportDate.Add(2 * time.Hour)
	stale := reportDate.Add(-48 * time.Hour)
	insertAccounts(t, s,
		newAccount(harvest.KindVendors, "pending", "d", harvest.StatusPending, harvest.SentinelRefreshedAt),
		newAccount(harvest.KindVendors, "failed", "d", "ERROR_HTTP_500", fresh),
		newAccount(harvest.KindVendors, "stale-ok", "d", harvest.StatusSuccess, stale),
		newAccount(harvest.KindVendors, "fresh-ok", "d", harvest.StatusSuccess, fresh),
		newAccount(harvest.KindVendors, "html", "d", harvest.StatusHTMLResponse, fresh),
	)

	t.Run("selects non-success and stale rows ordered by key", func(t *testing.T) {
		got, err := s.AccountsForRefresh(ctx, harvest.KindVendors, harvest.RefreshQuery{ReportDate: reportDate, Pass: "p1", Limit: 10})
		require.NoError(t, err)

		var ids []string
		for i, a := range got {
			ids = append(ids, a.ExternalID)
			assert.Equal(t, harvest.KindVendors, a.Kind)
			if i > 0 {
				assert.Less(t, got[i-1].Key, a.Key, "rows not ordered by key")
			}
		}
		assert.ElementsMatch(t, []string{"pending", "failed", "stale-ok", "html"}, ids)
	})

	t.Run("respects limit", func(t *testing.T) {
		got, err := s.AccountsForRefresh(ctx, harvest.KindVendors, harvest.RefreshQuery{ReportDate: reportDate, Pass: "p1", Limit: 2})
		require.NoError(t, err)
		assert.Len(t, got, 2)
	})

	t.Run("skips rows already attempted by the pass", func(t *testing.T) {
		rows, err := s.AccountsForRefresh(ctx, harvest.KindVendors, harvest.RefreshQuery{ReportDate: reportDate, Pass: "p2", Limit: 10})
		require.NoError(t, err)

		b, err := s.Begin(ctx)
		require.NoError(t, err)
		for _, a := range rows {
			a.RefreshPass = "p2"
			a.StatsStatus = "ERROR_TIMEOUT"
			require.NoError(t, b.UpdateAccount(ctx, a))
		}
		require.NoError(t, b.Commit())

		again, err := s.AccountsForRefresh(ctx, harvest.KindVendors, harvest.RefreshQuery{ReportDate: reportDate, Pass: "p2", Limit: 10})
		require.NoError(t, err)
		assert.Empty(t, again, "same pass")

		next, err := s.AccountsForRefresh(ctx, harvest.KindVendors, harvest.RefreshQuery{ReportDate: reportDate, Pass: "p3", Limit: 10})
		require.NoError(t, err)
		assert.Len(t, next, len(rows), "new pass")
	})

	t.Run("selects by status", func(t *testing.T) {
		insertAccounts(t, s, newAccount(harvest.KindClients, "c-html", "v", harvest.StatusHTMLResponse, reportDate))
		got, err := s.AccountsForRefresh(ctx, harvest.KindClients, harvest.RefreshQuery{Status: harvest.StatusHTMLResponse, Pass: "p9", Limit: 10})
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "c-html", got[0].ExternalID)
	})
}

func TestSQLiteStore_UpdateAccountRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	a := newAccount(harvest.KindClients, "c-1", "v-1", harvest.StatusPending, harvest.SentinelRefreshedAt)
	insertAccounts(t, s, a)

	minLen, history := int64(12), int64(5)
	mfa := true
	refreshed := reportDate.Add(3 * time.Hour)
	a.ApplyDetail(&harvest.AccountDetail{
		State:  "suspended",
		Policy: &harvest.PasswordPolicy{MinLength: &minLen, History: &history, MFARequired: &mfa},
	}, refreshed)
	a.RefreshPass = "p1"

	b, err := s.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, b.UpdateAccount(ctx, a))
	require.NoError(t, b.Commit())

	got, err := s.AccountsForRefresh(ctx, harvest.KindClients, harvest.RefreshQuery{ReportDate: refreshed.Add(time.Hour), Pass: "p2", Limit: 1})
	require.NoError(t, err)
	require.Len(t, got, 1)

	c := got[0]
	assert.Equal(t, harvest.StatusSuccess, c.StatsStatus)
	assert.Equal(t, "suspended", c.State)
	assert.Equal(t, "p1", c.RefreshPass)
	assert.True(t, c.RefreshedAt.Equal(refreshed), "RefreshedAt = %v", c.RefreshedAt)
	assert.True(t, c.FirstSeenAt.Equal(seenAt), "FirstSeenAt = %v", c.FirstSeenAt)
	require.NotNil(t, c.ParentKey)
	assert.Equal(t, harvest.KeyFor("v-1"), *c.ParentKey)

	require.NotNil(t, c.Policy.MinLength)
	assert.Equal(t, int64(12), *c.Policy.MinLength)
	assert.Nil(t, c.Policy.ExpiryDays)
	require.NotNil(t, c.Policy.MFARequired)
	assert.True(t, *c.Policy.MFARequired)
}

func TestSQLiteStore_Users(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	tz := "Europe/Paris"
	modified := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	u := harvest.NewUser("u-1", "c-1")
	u.Name = "Grace"
	u.Timezone = &tz
	u.ModifiedAt = &modified
	u.StatsStatus = harvest.StatusPending
	u.FirstSeenAt = seenAt
	u.RefreshedAt = harvest.SentinelRefreshedAt

	b, err := s.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, b.InsertUser(ctx, u))
	ext, found, err := b.LookupUser(ctx, u.Key)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "u-1", ext)
	require.NoError(t, b.Commit())

	u.ApplyDetail(&harvest.UserDetail{OTP: []harvest.OTPMethod{{Type: "totp", Enabled: true}}}, reportDate)
	u.RefreshPass = "p1"
	b, err = s.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, b.UpdateUser(ctx, u))
	require.NoError(t, b.Commit())

	got, err := s.UsersForRefresh(ctx, harvest.RefreshQuery{ReportDate: reportDate.Add(time.Hour), Pass: "p2", Limit: 5})
	require.NoError(t, err)
	require.Len(t, got, 1)

	r := got[0]
	require.NotNil(t, r.OTPEnabled)
	assert.True(t, *r.OTPEnabled)
	require.NotNil(t, r.OTPMethods)
	assert.Equal(t, "totp", *r.OTPMethods)
	require.NotNil(t, r.Timezone)
	assert.Equal(t, tz, *r.Timezone)
	assert.Nil(t, r.Mobile)
	require.NotNil(t, r.ModifiedAt)
	assert.True(t, r.ModifiedAt.Equal(modified), "ModifiedAt = %v", r.ModifiedAt)
	assert.Equal(t, harvest.KeyFor("c-1"), r.OwnerKey)
}

func TestSQLiteStore_Runs(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	started := time.Date(2026, 3, 1, 6, 0, 0, 0, time.UTC)
	first, err := s.CreateRun(ctx, "prod", reportDate, started)
	require.NoError(t, err)
	require.NoError(t, s.FinishRun(ctx, first, harvest.RunSuccess, 1234, started.Add(time.Hour)))
	second, err := s.CreateRun(ctx, "prod", reportDate, started.Add(2*time.Hour))
	require.NoError(t, err)

	runs, err := s.ListRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)

	newest, oldest := runs[0], runs[1]
	assert.Equal(t, second, newest.ID)
	assert.Equal(t, harvest.RunRunning, newest.Status)
	assert.Nil(t, newest.FinishedAt)

	assert.Equal(t, first, oldest.ID)
	assert.Equal(t, harvest.RunSuccess, oldest.Status)
	assert.Equal(t, int64(1234), oldest.APICalls)
	assert.True(t, oldest.ReportDate.Equal(reportDate), "ReportDate = %v", oldest.ReportDate)

	limited, err := s.ListRuns(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestSQLiteStore_Wipe(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	insertAccounts(t, s,
		newAccount(harvest.KindDistributors, "d-1", "", harvest.StatusPending, harvest.SentinelRefreshedAt),
		newAccount(harvest.KindVendors, "v-1", "d-1", harvest.StatusSuccess, reportDate),
	)
	_, err := s.CreateRun(ctx, "prod", reportDate, reportDate)
	require.NoError(t, err)

	require.NoError(t, s.Wipe(ctx))

	for _, kind := range []harvest.Kind{harvest.KindDistributors, harvest.KindVendors, harvest.KindClients, harvest.KindUsers} {
		counts, err := s.StatusCounts(ctx, kind)
		require.NoError(t, err)
		assert.Empty(t, counts, "%s after wipe", kind)
	}

	runs, err := s.ListRuns(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, runs, 1, "run records survive a wipe")
}

func TestSQLiteStore_SnapshotTo(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	insertAccounts(t, s, newAccount(harvest.KindDistributors, "d-1", "", harvest.StatusPending, harvest.SentinelRefreshedAt))

	dest := filepath.Join(t.TempDir(), "snapshot.db")
	require.NoError(t, s.SnapshotTo(ctx, dest))
	require.FileExists(t, dest)

	copied, err := NewSQLiteStore(dest)
	require.NoError(t, err)
	defer copied.Close()

	assert.NoError(t, copied.CheckMigrations(ctx))
	counts, err := copied.StatusCounts(ctx, harvest.KindDistributors)
	require.NoError(t, err)
	assert.Equal(t, 1, counts[harvest.StatusPending])
}
