package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MarkSG93/2fa-stats-sub000/internal/config"
	"github.com/MarkSG93/2fa-stats-sub000/internal/database"
	"github.com/MarkSG93/2fa-stats-sub000/internal/encryption"
	"github.com/MarkSG93/2fa-stats-sub000/internal/harvest"
	"github.com/MarkSG93/2fa-stats-sub000/internal/testutil"
)

// fakeAPI serves a small account hierarchy keyed by "path?owner". Any request
// naming the failing id, as a detail path or an owner filter, answers 503.
type fakeAPI struct {
	listings map[string][]map[string]any
	failing  string

	requests atomic.Int64
	failed   atomic.Int64
}

// newFakeAPI serves d-1 owning v-1, v-1 owning c-1 and c-2, and one user per
// client.
func newFakeAPI() *fakeAPI {
	return &fakeAPI{listings: map[string][]map[string]any{
		"/accounts/distributors": {{"id": "d-1", "name": "Dist"}},
		"/accounts/vendors?d-1":  {{"id": "v-1", "name": "Vendor"}},
		"/accounts/clients?v-1":  {{"id": "c-1", "name": "Client 1"}, {"id": "c-2", "name": "Client 2"}},
		"/accounts/users?c-1":    {{"id": "u-1", "name": "Ada", "email": "ada@example.com"}},
		"/accounts/users?c-2":    {{"id": "u-2", "name": "Bob", "email": "bob@example.com"}},
		"/accounts/users?d-1":    nil,
		"/accounts/users?v-1":    nil,
	}}
}

func (f *fakeAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.requests.Add(1)
	if r.Header.Get("X-Api-Key") != "secret" {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	owner := r.URL.Query().Get("owner")
	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	if f.failing != "" && (owner == f.failing || (len(parts) == 3 && parts[2] == f.failing)) {
		f.failed.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	key := r.URL.Path
	if owner != "" {
		key += "?" + owner
	}
	if items, ok := f.listings[key]; ok {
		if items == nil {
			items = []map[string]any{}
		}
		json.NewEncoder(w).Encode(map[string]any{"offset": 0, "limit": 100, "count": len(items), "items": items})
		return
	}

	if len(parts) != 3 {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	switch parts[1] {
	case "users":
		json.NewEncoder(w).Encode(map[string]any{"id": parts[2], "otp": []map[string]any{{"type": "TOTP", "enabled": true}}})
	default:
		json.NewEncoder(w).Encode(map[string]any{"id": parts[2], "name": "Detail " + parts[2], "state": "ACTIVE"})
	}
}

func newTestConfig(t *testing.T, baseURL string) *config.Config {
	t.Helper()
	base := t.TempDir()
	cfg := config.NewConfig(base)
	cfg.Environments = []config.EnvironmentConfig{{Name: "test", BaseURL: baseURL, APIKey: "secret"}}
	cfg.Archive = config.ArchiveConfig{Type: "filesystem", FSRoot: filepath.Join(base, "archive")}
	cfg.Encryption.Type = "test"
	cfg.Harvest = config.HarvestConfig{RatePermits: 1000, RetryBackoffMS: 1, DetailTimeoutS: 5}
	return cfg
}

func newTestApp(t *testing.T, cfg *config.Config, opts Options) *App {
	t.Helper()
	a, err := New(context.Background(), cfg, opts)
	require.NoError(t, err)
	return a
}

// migrate creates the sqlite cache of cfg's environment.
func migrate(t *testing.T, cfg *config.Config) {
	t.Helper()
	a := newTestApp(t, cfg, Options{SkipMigrationCheck: true})
	require.NoError(t, a.Migrate(context.Background()))
	require.NoError(t, a.Close())
}

// statusCounts returns the StatusReport as counts per kind.
func statusCounts(t *testing.T, cfg *config.Config) map[harvest.Kind]map[string]int {
	t.Helper()
	a := newTestApp(t, cfg, Options{})
	defer a.Close()

	report, err := a.StatusReport(context.Background())
	require.NoError(t, err)
	out := make(map[harvest.Kind]map[string]int, len(report))
	for _, ks := range report {
		out[ks.Kind] = ks.Counts
	}
	return out
}

func TestNew_RequiresMigratedStore(t *testing.T) {
	cfg := newTestConfig(t, "http://127.0.0.1:1")

	_, err := New(context.Background(), cfg, Options{})
	require.Error(t, err, "unmigrated store")

	migrate(t, cfg)
	a := newTestApp(t, cfg, Options{})
	assert.NoError(t, a.Close())
}

func TestNew_UnknownEnvironment(t *testing.T) {
	cfg := newTestConfig(t, "http://127.0.0.1:1")
	_, err := New(context.Background(), cfg, Options{Environment: "nope"})
	assert.Error(t, err)
}

func TestApp_Run(t *testing.T) {
	ctx := context.Background()
	api := newFakeAPI()
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)

	cfg := newTestConfig(t, srv.URL)
	migrate(t, cfg)

	a := newTestApp(t, cfg, Options{})
	sum, err := a.Run(ctx, RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Harvest.Clients)
	assert.Equal(t, 2, sum.Harvest.Users)
	require.NoError(t, a.Close())

	t.Run("run is recorded", func(t *testing.T) {
		a := newTestApp(t, cfg, Options{})
		defer a.Close()

		runs, err := a.History(ctx, 10)
		require.NoError(t, err)
		require.Len(t, runs, 1)
		r := runs[0]
		assert.Equal(t, harvest.RunSuccess, r.Status)
		assert.NotNil(t, r.FinishedAt)
		assert.Equal(t, api.requests.Load(), r.APICalls)
	})

	t.Run("every row refreshed", func(t *testing.T) {
		assert.Equal(t, map[harvest.Kind]map[string]int{
			harvest.KindDistributors: {harvest.StatusSuccess: 1},
			harvest.KindVendors:      {harvest.StatusSuccess: 1},
			harvest.KindClients:      {harvest.StatusSuccess: 2},
			harvest.KindUsers:        {harvest.StatusSuccess: 2},
		}, statusCounts(t, cfg))
	})

	t.Run("snapshot published and pullable", func(t *testing.T) {
		a := newTestApp(t, cfg, Options{})
		defer a.Close()

		names, err := a.Snapshots(ctx)
		require.NoError(t, err)
		require.Equal(t, []string{"snapshots/test/1.db.test"}, names)

		dest := filepath.Join(t.TempDir(), "pulled.db")
		require.NoError(t, a.PullSnapshot(ctx, names[0], dest, "unused"))

		pulled, err := database.NewSQLiteStore(dest)
		require.NoError(t, err)
		defer pulled.Close()
		counts, err := pulled.StatusCounts(ctx, harvest.KindUsers)
		require.NoError(t, err)
		assert.Equal(t, 2, counts[harvest.StatusSuccess])
	})
}

// A vendor that answers 503 to everything fails alone: its sibling, the
// clients under the sibling and the run itself still succeed.
func TestApp_RunIsolatesFailingVendor(t *testing.T) {
	ctx := context.Background()
	api := &fakeAPI{
		failing: "v-1",
		listings: map[string][]map[string]any{
			"/accounts/distributors": {{"id": "d-1", "name": "Dist"}},
			"/accounts/vendors?d-1":  {{"id": "v-1", "name": "Vendor 1"}, {"id": "v-2", "name": "Vendor 2"}},
			"/accounts/clients?v-2":  {{"id": "c-1", "name": "Client 1"}, {"id": "c-2", "name": "Client 2"}},
			"/accounts/users?d-1":    nil,
			"/accounts/users?v-2":    nil,
			"/accounts/users?c-1":    {{"id": "u-1", "name": "Ada", "email": "ada@example.com"}},
			"/accounts/users?c-2":    {{"id": "u-2", "name": "Bob", "email": "bob@example.com"}},
		},
	}
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)

	cfg := newTestConfig(t, srv.URL)
	migrate(t, cfg)

	a := newTestApp(t, cfg, Options{})
	sum, err := a.Run(ctx, RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Harvest.Vendors)
	assert.Equal(t, 2, sum.Harvest.Clients)
	require.NoError(t, a.Close())

	// Client listing, user listing and detail for v-1, three attempts each.
	assert.Equal(t, int64(9), api.failed.Load())

	assert.Equal(t, map[harvest.Kind]map[string]int{
		harvest.KindDistributors: {harvest.StatusSuccess: 1},
		harvest.KindVendors:      {harvest.StatusHTTP(http.StatusServiceUnavailable): 1, harvest.StatusSuccess: 1},
		harvest.KindClients:      {harvest.StatusSuccess: 2},
		harvest.KindUsers:        {harvest.StatusSuccess: 2},
	}, statusCounts(t, cfg))

	a = newTestApp(t, cfg, Options{})
	defer a.Close()
	runs, err := a.History(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, harvest.RunSuccess, runs[0].Status)
	assert.Equal(t, api.requests.Load(), runs[0].APICalls)
}

func TestApp_RunFutureReportDate(t *testing.T) {
	ctx := context.Background()
	api := newFakeAPI()
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)

	cfg := newTestConfig(t, srv.URL)
	migrate(t, cfg)

	clock := testutil.NewStubClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	a := newTestApp(t, cfg, Options{Clock: clock})
	_, err := a.Run(ctx, RunOptions{ReportDate: "2026-03-02"})
	require.ErrorIs(t, err, ErrReportDateInFuture)
	require.NoError(t, a.Close())

	assert.Zero(t, api.requests.Load(), "deferred run must not call the API")

	a = newTestApp(t, cfg, Options{Clock: clock})
	defer a.Close()
	runs, err := a.History(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, harvest.RunDeferred, runs[0].Status)

	_, err = os.Stat(filepath.Join(cfg.Archive.FSRoot, "snapshots"))
	assert.True(t, os.IsNotExist(err), "deferred run published a snapshot: %v", err)
}

func TestApp_RunInvalidReportDate(t *testing.T) {
	cfg := newTestConfig(t, "http://127.0.0.1:1")
	migrate(t, cfg)

	a := newTestApp(t, cfg, Options{})
	defer a.Close()
	_, err := a.Run(context.Background(), RunOptions{ReportDate: "yesterday"})
	assert.Error(t, err)
}

func TestApp_SetupKeys(t *testing.T) {
	cfg := newTestConfig(t, "http://127.0.0.1:1")
	cfg.Encryption.Type = "age"
	migrate(t, cfg)

	a := newTestApp(t, cfg, Options{})
	defer a.Close()

	pub, err := a.SetupKeys("passphrase")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(pub, "age1"), "SetupKeys() = %q, want an age public key", pub)

	_, err = a.SetupKeys("passphrase")
	assert.ErrorIs(t, err, encryption.ErrKeysExist)
	assert.FileExists(t, cfg.Encryption.PublicKeyPath)
}
