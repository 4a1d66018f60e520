package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/MarkSG93/2fa-stats-sub000/internal/api"
	"github.com/MarkSG93/2fa-stats-sub000/internal/archive"
	"github.com/MarkSG93/2fa-stats-sub000/internal/config"
	"github.com/MarkSG93/2fa-stats-sub000/internal/database"
	"github.com/MarkSG93/2fa-stats-sub000/internal/encryption"
	"github.com/MarkSG93/2fa-stats-sub000/internal/harvest"
	"github.com/MarkSG93/2fa-stats-sub000/internal/transport"
)

// Options select what New wires up.
type Options struct {
	// Environment names the [[environments]] entry; empty means the default.
	Environment string
	// Stderr receives a copy of the log; nil logs to the file only.
	Stderr  io.Writer
	Verbose bool
	// SkipMigrationCheck opens a store whose schema may be out of date, for
	// `db migrate`.
	SkipMigrationCheck bool
	// Clock defaults to harvest.RealClock.
	Clock harvest.Clock
}

// App is the application layer between the CLI and the harvest engine.
// It constructs all dependencies from config, records the run and publishes
// the cache snapshot on Close.
type App struct {
	cfg       *config.Config
	env       *config.EnvironmentConfig
	store     database.Store
	archive   harvest.Archive
	encryptor encryption.KeyedEncryptor
	logger    *slog.Logger
	logFile   *os.File
	clock     harvest.Clock
	idgen     harvest.IDGenerator
	run       *RunRecord

	newSource func(stats *harvest.RunStats) (harvest.Source, error)
}

// New creates a fully wired App for one environment. The caller must call
// Close when done.
func New(ctx context.Context, cfg *config.Config, opts Options) (*App, error) {
	env, err := cfg.Environment(opts.Environment)
	if err != nil {
		return nil, err
	}

	store, err := database.NewStoreFromConfig(ctx, cfg.Database, env.Name)
	if err != nil {
		return nil, fmt.Errorf("creating store: %w", err)
	}

	if !opts.SkipMigrationCheck {
		if err := store.CheckMigrations(ctx); err != nil {
			store.Close()
			return nil, fmt.Errorf("database schema out of date (run `2fa-stats db migrate`): %w", err)
		}
	}

	arc, err := archive.NewArchiveFromConfig(ctx, cfg.Archive)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("creating archive: %w", err)
	}

	enc, err := encryption.NewEncryptorFromConfig(cfg.Encryption)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("creating encryptor: %w", err)
	}

	clock := opts.Clock
	if clock == nil {
		clock = harvest.RealClock{}
	}
	idgen := harvest.UUIDGenerator{}

	level := slog.LevelInfo
	if opts.Verbose {
		level = slog.LevelDebug
	}
	logger, logFile, err := newLogger(cfg.LogDir, opts.Stderr, level, env.Name, idgen.New())
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("creating logger: %w", err)
	}

	a := &App{
		cfg:       cfg,
		env:       env,
		store:     store,
		archive:   arc,
		encryptor: enc,
		logger:    logger,
		logFile:   logFile,
		clock:     clock,
		idgen:     idgen,
	}
	a.newSource = a.apiSource
	return a, nil
}

// apiSource builds the rate-limited, retrying API client. Requests that reach
// the network are counted in stats.APICalls.
func (a *App) apiSource(stats *harvest.RunStats) (harvest.Source, error) {
	httpClient := transport.NewClient(transportOptions(a.cfg.Harvest), &stats.APICalls)
	c, err := api.NewClient(a.env.BaseURL, a.env.APIKey, a.env.APIKeyHeader, httpClient)
	if err != nil {
		return nil, fmt.Errorf("creating api client: %w", err)
	}
	return c, nil
}

// Environment returns the selected environment name.
func (a *App) Environment() string {
	return a.env.Name
}

// Migrate applies pending schema migrations.
func (a *App) Migrate(ctx context.Context) error {
	return a.store.Migrate(ctx)
}

// RunOptions are the flags of `run`.
type RunOptions struct {
	ReportDate  string // YYYY-MM-DD, empty for today
	Wipe        bool
	SkipHarvest bool
	MaxRecords  int
}

// Run records a run, harvests the environment and refreshes details.
// A report date after today records a deferred run and returns
// ErrReportDateInFuture without touching the API.
func (a *App) Run(ctx context.Context, opts RunOptions) (*harvest.RunSummary, error) {
	now := a.clock.Now()
	reportDate, err := ParseReportDate(opts.ReportDate, now)
	if err != nil {
		return nil, err
	}

	run := NewRunRecord(a.env.Name, reportDate)
	id, err := a.store.CreateRun(ctx, run.Environment, run.ReportDate, now)
	if err != nil {
		return nil, fmt.Errorf("recording run: %w", err)
	}
	run.ID = id
	a.run = run

	log := &slogAdapter{l: a.logger.With("run_id", id)}
	if reportDate.After(today(now)) {
		run.Status = harvest.RunDeferred
		log.Warn("report date in the future, run deferred", "report_date", reportDate.Format("2006-01-02"))
		return nil, fmt.Errorf("%w: %s", ErrReportDateInFuture, reportDate.Format("2006-01-02"))
	}

	stats := &harvest.RunStats{}
	source, err := a.newSource(stats)
	if err != nil {
		run.Status = harvest.RunError
		return nil, err
	}

	log.Info("run started",
		"report_date", reportDate.Format("2006-01-02"),
		"wipe", opts.Wipe,
		"skip_harvest", opts.SkipHarvest,
		"max_records", opts.MaxRecords,
	)
	svc := harvest.NewService(a.store, source, log, a.clock, a.idgen, stats, harvestOptions(a.cfg.Harvest))
	sum, err := svc.Run(ctx, harvest.RunRequest{
		ReportDate:  reportDate,
		Wipe:        opts.Wipe,
		SkipHarvest: opts.SkipHarvest,
		MaxRecords:  opts.MaxRecords,
	})
	run.APICalls = stats.APICalls.Load()
	if err != nil {
		run.Status = harvest.RunError
		log.Error("run failed", "error", err, "api_calls", run.APICalls)
		return sum, err
	}
	run.Status = harvest.RunSuccess
	return sum, nil
}

// History returns the most recent run records.
func (a *App) History(ctx context.Context, limit int) ([]*harvest.Run, error) {
	return a.store.ListRuns(ctx, limit)
}

// KindStatus is the stats_status breakdown of one kind.
type KindStatus struct {
	Kind   harvest.Kind
	Counts map[string]int
}

// StatusReport counts the cached rows per kind and stats_status.
func (a *App) StatusReport(ctx context.Context) ([]KindStatus, error) {
	kinds := append(append([]harvest.Kind{}, harvest.AccountKinds...), harvest.KindUsers)
	report := make([]KindStatus, 0, len(kinds))
	for _, kind := range kinds {
		counts, err := a.store.StatusCounts(ctx, kind)
		if err != nil {
			return nil, err
		}
		report = append(report, KindStatus{Kind: kind, Counts: counts})
	}
	return report, nil
}

// SetupKeys generates the snapshot key pair and returns its public key.
func (a *App) SetupKeys(passphrase string) (string, error) {
	if a.encryptor == nil {
		return "", fmt.Errorf("encryption is disabled; set [encryption] type = \"age\"")
	}
	if err := a.encryptor.Setup(passphrase); err != nil {
		return "", err
	}
	return a.encryptor.Recipient()
}

// Close finalizes the run record, publishes the cache snapshot and closes
// all resources. Commands that never started a run only close the store.
func (a *App) Close() error {
	var firstErr error
	ctx := context.Background()

	if a.run != nil && a.run.Persisted() {
		if err := a.store.FinishRun(ctx, a.run.ID, a.run.Status, a.run.APICalls, a.clock.Now()); err != nil {
			firstErr = fmt.Errorf("finishing run record: %w", err)
		}

		if a.archive != nil && a.run.Status != harvest.RunDeferred {
			if err := a.publishSnapshot(ctx); err != nil {
				a.logger.Error("snapshot publish failed", "run_id", a.run.ID, "error", err)
				if firstErr == nil {
					firstErr = err
				}
			}
		}
	}

	if err := a.store.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("closing store: %w", err)
	}
	if a.logFile != nil {
		a.logFile.Close()
	}
	return firstErr
}
