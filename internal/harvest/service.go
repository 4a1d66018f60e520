package harvest

import (
	"context"
	"fmt"
	"time"
)

// Service is the orchestration layer that runs one harvest followed by the
// detail refreshers.
type Service struct {
	store     Store
	harvester *Harvester
	refresher *Refresher
	logger    Logger
	stats     *RunStats
}

// NewService wires the harvester, cache writer and refreshers over one store
// and one source. stats receives every counter of the run.
func NewService(store Store, source Source, logger Logger, clock Clock, idgen IDGenerator, stats *RunStats, opts Options) *Service {
	writer := NewCacheWriter(store, logger, clock, stats)
	return &Service{
		store:     store,
		harvester: NewHarvester(source, writer, logger, stats, opts),
		refresher: NewRefresher(store, source, logger, clock, idgen, stats, opts),
		logger:    logger,
		stats:     stats,
	}
}

// RunRequest parameterises one run.
type RunRequest struct {
	ReportDate  time.Time
	Wipe        bool // delete the cache before harvesting
	SkipHarvest bool // only run the refreshers
	MaxRecords  int  // optional per-pass refresh budget, 0 = unlimited
}

// RunSummary is what a run achieved.
type RunSummary struct {
	Harvest HarvestSummary
	Refresh []RefreshResult
}

// Run harvests the hierarchy and refreshes details for every kind.
// Partial failures are recorded in the store's status fields and in the run
// stats; the returned error is reserved for store-level failures and
// cancellation.
func (s *Service) Run(ctx context.Context, req RunRequest) (*RunSummary, error) {
	sum := &RunSummary{}

	if req.Wipe {
		if err := s.store.Wipe(ctx); err != nil {
			return nil, fmt.Errorf("wiping cache: %w", err)
		}
		s.logger.Info("cache wiped")
	}

	if !req.SkipHarvest {
		h, err := s.harvester.Run(ctx, req.ReportDate)
		sum.Harvest = h
		if err != nil {
			return sum, fmt.Errorf("harvesting: %w", err)
		}
	}

	for _, kind := range AccountKinds {
		if err := ctx.Err(); err != nil {
			return sum, fmt.Errorf("refreshing %s: %w", kind, err)
		}
		sum.Refresh = append(sum.Refresh, s.refresher.RefreshAccounts(ctx, kind, req.ReportDate, req.MaxRecords))
	}
	if err := ctx.Err(); err != nil {
		return sum, fmt.Errorf("refreshing %s: %w", KindUsers, err)
	}
	sum.Refresh = append(sum.Refresh, s.refresher.RefreshUsers(ctx, req.ReportDate, req.MaxRecords))

	s.logger.Info("run complete", s.stats.LogArgs()...)
	return sum, ctx.Err()
}
