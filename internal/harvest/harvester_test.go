package harvest_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MarkSG93/2fa-stats-sub000/internal/harvest"
	"github.com/MarkSG93/2fa-stats-sub000/internal/testutil"
)

var errListing = errors.New("listing failed")

// scriptHierarchy sets up two distributors, one of which fails to list its
// vendors after returning v-9.
func scriptHierarchy(src *testutil.FakeSource) {
	src.AddAccounts(harvest.KindDistributors, "", "d-1", "d-2")
	src.AddAccounts(harvest.KindVendors, "d-1", "v-1", "v-2")
	src.AddAccounts(harvest.KindVendors, "d-2", "v-9")
	src.FailListing(harvest.KindVendors, "d-2", errListing)
	src.AddAccounts(harvest.KindClients, "v-1", "c-1", "c-2")
	src.AddAccounts(harvest.KindClients, "v-2", "c-2", "c-3")
	src.AddUsers("d-1", "u-1")
	src.AddUsers("v-1", "u-2")
	src.AddUsers("c-1", "u-3", "u-2")
}

func (f *fixture) harvester() *harvest.Harvester {
	return harvest.NewHarvester(f.source, f.writer(), harvest.NewNopLogger(), f.stats, f.opts)
}

func TestHarvester_Run(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	scriptHierarchy(f.source)

	sum, err := f.harvester().Run(ctx, reportDate)
	require.NoError(t, err)

	assert.Equal(t, harvest.HarvestSummary{Distributors: 2, Vendors: 2, Clients: 3, Users: 4}, sum)
	assert.Equal(t, map[string]int{harvest.StatusPending: 2}, f.counts(t, harvest.KindDistributors))
	assert.Equal(t, map[string]int{harvest.StatusPending: 2}, f.counts(t, harvest.KindVendors))
	assert.Equal(t, map[string]int{harvest.StatusPending: 3}, f.counts(t, harvest.KindClients))
	assert.Equal(t, map[string]int{harvest.StatusPending: 3}, f.counts(t, harvest.KindUsers))

	t.Run("failed owner contributes nothing", func(t *testing.T) {
		_, found := f.lookupAccount(t, harvest.KindVendors, "v-9")
		assert.False(t, found)
		assert.Equal(t, int64(1), f.stats.ListFailures.Load())
	})

	t.Run("every owner listed once", func(t *testing.T) {
		assert.Equal(t, 1, f.source.Calls(harvest.KindDistributors, ""))
		for _, v := range []string{"v-1", "v-2"} {
			assert.Equal(t, 1, f.source.Calls(harvest.KindClients, v), v)
		}
		for _, owner := range []string{"d-1", "d-2", "v-1", "v-2", "c-1", "c-2", "c-3"} {
			assert.Equal(t, 1, f.source.Calls(harvest.KindUsers, owner), owner)
		}
	})

	t.Run("duplicate user across tiers is stored once", func(t *testing.T) {
		assert.Equal(t, int64(1), f.stats.Existing.Load())
	})
}

func TestHarvester_KeepPartial(t *testing.T) {
	f := newFixture(t)
	f.opts.KeepPartial = true
	scriptHierarchy(f.source)

	sum, err := f.harvester().Run(context.Background(), reportDate)
	require.NoError(t, err)
	assert.Equal(t, 3, sum.Vendors)

	ext, found := f.lookupAccount(t, harvest.KindVendors, "v-9")
	assert.True(t, found)
	assert.Equal(t, "v-9", ext)
}

func TestHarvester_NoDistributors(t *testing.T) {
	f := newFixture(t)
	f.source.FailListing(harvest.KindDistributors, "", errListing)

	sum, err := f.harvester().Run(context.Background(), reportDate)
	require.NoError(t, err)
	assert.Equal(t, harvest.HarvestSummary{}, sum)
	assert.Empty(t, f.counts(t, harvest.KindDistributors))
	assert.Equal(t, 1, f.source.Calls(harvest.KindDistributors, ""))
}

func TestHarvester_ListingMaxResults(t *testing.T) {
	f := newFixture(t)
	f.opts.Listing = map[harvest.Kind]harvest.ListOptions{
		harvest.KindClients: {PageLimit: 10, MaxResults: 1},
	}
	f.source.AddAccounts(harvest.KindDistributors, "", "d-1")
	f.source.AddAccounts(harvest.KindVendors, "d-1", "v-1")
	f.source.AddAccounts(harvest.KindClients, "v-1", "c-1", "c-2", "c-3")

	sum, err := f.harvester().Run(context.Background(), reportDate)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Clients)
}

// panickingSource panics when listing the users of one owner.
type panickingSource struct {
	*testutil.FakeSource
	owner string
}

func (s *panickingSource) ListUsers(ctx context.Context, owner string, opts harvest.ListOptions) ([]*harvest.User, error) {
	if owner == s.owner {
		panic("boom")
	}
	return s.FakeSource.ListUsers(ctx, owner, opts)
}

func TestHarvester_PanicIsolated(t *testing.T) {
	f := newFixture(t)
	scriptHierarchy(f.source)
	src := &panickingSource{FakeSource: f.source, owner: "c-1"}

	h := harvest.NewHarvester(src, f.writer(), harvest.NewNopLogger(), f.stats, f.opts)
	sum, err := h.Run(context.Background(), reportDate)
	require.NoError(t, err)

	// u-3 was only listed under c-1.
	assert.Equal(t, 2, sum.Users)
	assert.Equal(t, map[string]int{harvest.StatusPending: 2}, f.counts(t, harvest.KindUsers))
	assert.Equal(t, int64(2), f.stats.ListFailures.Load())
}

func TestHarvester_Cancelled(t *testing.T) {
	f := newFixture(t)
	scriptHierarchy(f.source)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.harvester().Run(ctx, reportDate)
	assert.ErrorIs(t, err, context.Canceled)
}
