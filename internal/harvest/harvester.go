package harvest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// Harvester walks distributors → vendors → clients → users and hands every
// tier to the CacheWriter.
type Harvester struct {
	source Source
	writer *CacheWriter
	logger Logger
	stats  *RunStats
	opts   Options
}

// NewHarvester creates a Harvester.
func NewHarvester(source Source, writer *CacheWriter, logger Logger, stats *RunStats, opts Options) *Harvester {
	if opts.Fanout <= 0 {
		opts.Fanout = 1
	}
	return &Harvester{source: source, writer: writer, logger: logger, stats: stats, opts: opts}
}

// HarvestSummary counts the deduplicated records seen per tier.
type HarvestSummary struct {
	Distributors int
	Vendors      int
	Clients      int
	Users        int
}

// Run performs one full traversal. Listing failures are logged and isolated
// to their owner; the only error returned is the context's.
func (h *Harvester) Run(ctx context.Context, reportDate time.Time) (HarvestSummary, error) {
	var sum HarvestSummary

	distributors, err := h.source.ListAccounts(ctx, KindDistributors, "", h.opts.listing(KindDistributors))
	h.stats.Listed.Add(int64(len(distributors)))
	if err != nil {
		h.stats.ListFailures.Add(1)
		h.logger.Warn("distributor listing failed", "error", err, "partial", len(distributors), "api_calls", h.stats.APICalls.Load())
		if !h.opts.KeepPartial {
			distributors = nil
		}
	}
	distributors = DedupAccounts(distributors)
	sum.Distributors = len(distributors)
	h.writer.WriteAccounts(ctx, KindDistributors, distributors, reportDate)
	h.logger.Info("distributors harvested", "count", sum.Distributors, "api_calls", h.stats.APICalls.Load())
	if len(distributors) == 0 {
		return sum, ctx.Err()
	}

	vendors := fanOut(ctx, h, distributors, "distributor", func(ctx context.Context, d *Account) ([]*Account, error) {
		return h.source.ListAccounts(ctx, KindVendors, d.ExternalID, h.opts.listing(KindVendors))
	})
	vendors = DedupAccounts(vendors)
	sum.Vendors = len(vendors)
	h.writer.WriteAccounts(ctx, KindVendors, vendors, reportDate)
	h.logger.Info("vendors harvested", "count", sum.Vendors, "api_calls", h.stats.APICalls.Load())
	if len(vendors) == 0 {
		return sum, ctx.Err()
	}

	clients := fanOut(ctx, h, vendors, "vendor", func(ctx context.Context, v *Account) ([]*Account, error) {
		return h.source.ListAccounts(ctx, KindClients, v.ExternalID, h.opts.listing(KindClients))
	})
	clients = DedupAccounts(clients)
	sum.Clients = len(clients)
	h.writer.WriteAccounts(ctx, KindClients, clients, reportDate)
	h.logger.Info("clients harvested", "count", sum.Clients, "api_calls", h.stats.APICalls.Load())

	owners := []struct {
		label    string
		accounts []*Account
	}{
		{"distributor", distributors},
		{"vendor", vendors},
		{"client", clients},
	}
	for _, o := range owners {
		if ctx.Err() != nil {
			break
		}
		users := fanOut(ctx, h, o.accounts, o.label, func(ctx context.Context, a *Account) ([]*User, error) {
			return h.source.ListUsers(ctx, a.ExternalID, h.opts.listing(KindUsers))
		})
		users = DedupUsers(users)
		sum.Users += len(users)
		h.writer.WriteUsers(ctx, users, reportDate)
		h.logger.Info("users harvested", "owner_tier", o.label, "count", len(users), "api_calls", h.stats.APICalls.Load())
	}

	return sum, ctx.Err()
}

// fanOut lists children for every owner with bounded concurrency and returns
// the union once all listings finished. A failing or panicking owner is
// logged and contributes nothing unless KeepPartial is set.
func fanOut[C any](ctx context.Context, h *Harvester, owners []*Account, label string, list func(context.Context, *Account) ([]C, error)) []C {
	var (
		mu  sync.Mutex
		acc []C
	)

	var g errgroup.Group
	g.SetLimit(h.opts.Fanout)
	for _, owner := range owners {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			log := h.logger.With(label, owner.ExternalID)
			items, err := safeList(ctx, owner, list)
			h.stats.Listed.Add(int64(len(items)))
			if err != nil {
				h.stats.ListFailures.Add(1)
				log.Warn("listing failed", "error", err, "partial", len(items), "api_calls", h.stats.APICalls.Load())
				if !h.opts.KeepPartial {
					return nil
				}
			}
			mu.Lock()
			acc = append(acc, items...)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	return acc
}

func safeList[C any](ctx context.Context, owner *Account, list func(context.Context, *Account) ([]C, error)) (items []C, err error) {
	defer func() {
		if p := recover(); p != nil {
			items, err = nil, fmt.Errorf("listing panicked: %v", p)
		}
	}()
	return list(ctx, owner)
}
