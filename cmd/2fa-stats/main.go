package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime/debug"
	"slices"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/MarkSG93/2fa-stats-sub000/internal/app"
	"github.com/MarkSG93/2fa-stats-sub000/internal/config"
)

// Exit codes.
const (
	exitOK       = 0
	exitFailure  = 1
	exitDeferred = 2
)

func main() {
	os.Exit(execute(context.Background(), rootCmd, os.Args[1:], os.Stderr))
}

// execute runs cmd and maps the outcome to an exit code. A panic anywhere in
// the command is reported on stderr and exits with exitFailure.
func execute(ctx context.Context, cmd *cobra.Command, args []string, stderr io.Writer) (code int) {
	defer func() {
		if p := recover(); p != nil {
			fmt.Fprintf(stderr, "fatal: %v\n%s", p, debug.Stack())
			code = exitFailure
		}
	}()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd.SetArgs(args)
	return exitCode(cmd.ExecuteContext(ctx))
}

func exitCode(err error) int {
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, app.ErrReportDateInFuture):
		return exitDeferred
	default:
		return exitFailure
	}
}

func readConfig() (*config.Config, string, error) {
	defaults, err := app.GetDefaults()
	if err != nil {
		return nil, "", fmt.Errorf("getting defaults: %w", err)
	}
	cfg, err := config.ReadFromFile(defaults["config_path"])
	if err != nil {
		return nil, "", fmt.Errorf("reading config: %w", err)
	}
	return cfg, defaults["config_path"], nil
}

// newApp reads the config and creates an App. The caller must defer a.Close().
func newApp(cmd *cobra.Command, opts app.Options) (*app.App, error) {
	cfg, _, err := readConfig()
	if err != nil {
		return nil, err
	}

	opts.Environment, _ = cmd.Flags().GetString("env")
	opts.Verbose, _ = cmd.Flags().GetBool("verbose")
	opts.Stderr = os.Stderr

	a, err := app.New(cmd.Context(), cfg, opts)
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}
	return a, nil
}

// readSecret reads a line from stdin without echo when it is a terminal.
func readSecret(prompt string) (string, error) {
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		fmt.Fprint(os.Stderr, prompt)
		b, err := term.ReadPassword(fd)
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(string(b)), nil
	}
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

var rootCmd = &cobra.Command{
	Use:          "2fa-stats",
	Short:        "Harvest account and 2FA enrolment statistics into a local cache",
	SilenceUsage: true,
}

// run command
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Harvest the hierarchy and refresh details",
	RunE: func(cmd *cobra.Command, args []string) error {
		reportDate, _ := cmd.Flags().GetString("report-date")
		wipe, _ := cmd.Flags().GetBool("wipe")
		skipHarvest, _ := cmd.Flags().GetBool("skip-harvest")
		maxRecords, _ := cmd.Flags().GetInt("max-records")

		a, err := newApp(cmd, app.Options{})
		if err != nil {
			return err
		}

		sum, runErr := a.Run(cmd.Context(), app.RunOptions{
			ReportDate:  reportDate,
			Wipe:        wipe,
			SkipHarvest: skipHarvest,
			MaxRecords:  maxRecords,
		})
		if closeErr := a.Close(); closeErr != nil {
			fmt.Fprintf(os.Stderr, "warning: %v\n", closeErr)
		}
		if runErr != nil {
			return runErr
		}

		fmt.Printf("Harvested %d distributors, %d vendors, %d clients, %d users\n",
			sum.Harvest.Distributors, sum.Harvest.Vendors, sum.Harvest.Clients, sum.Harvest.Users)
		for _, r := range sum.Refresh {
			fmt.Printf("%-13s refreshed %d (%d failed)", r.Kind, r.Main.Succeeded+r.Secondary.Succeeded, r.Main.Failed)
			if r.Main.CeilingHit {
				fmt.Print("  [ceiling hit]")
			}
			if r.Main.BudgetExhausted {
				fmt.Print("  [budget exhausted]")
			}
			fmt.Println()
		}
		return nil
	},
}

// config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		name, _ := cmd.Flags().GetString("env")
		if name == "" {
			name = "prod"
		}
		baseURL, _ := cmd.Flags().GetString("base-url")
		if baseURL == "" {
			return fmt.Errorf("--base-url is required")
		}

		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		apiKey, err := readSecret(fmt.Sprintf("API key for %s: ", name))
		if err != nil {
			return fmt.Errorf("reading api key: %w", err)
		}

		cfg := config.NewConfig(defaults["base_dir"])
		cfg.DefaultEnvironment = name
		cfg.Environments = []config.EnvironmentConfig{{Name: name, BaseURL: baseURL, APIKey: apiKey}}

		if err := config.Init(defaults["config_path"], cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		fmt.Printf("Configuration initialized at %s\n", defaults["config_path"])
		fmt.Printf("Environment: %s (%s)\n", name, baseURL)
		fmt.Printf("Base Dir:    %s\n", defaults["base_dir"])
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "View configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, path, err := readConfig()
		if err != nil {
			return err
		}

		fmt.Printf("Configuration from %s:\n\n", path)
		fmt.Printf("Base Dir: %s\n", cfg.BaseDir)
		fmt.Printf("Log Dir:  %s\n", cfg.LogDir)
		fmt.Printf("Database: %s\n", cfg.Database.Type)
		if cfg.Archive.Type != "" {
			fmt.Printf("Archive:  %s\n", cfg.Archive.Type)
		}
		fmt.Println("Environments:")
		for _, env := range cfg.Environments {
			marker := " "
			if env.Name == cfg.DefaultEnvironment {
				marker = "*"
			}
			fmt.Printf("  %s %-12s %s\n", marker, env.Name, env.BaseURL)
		}
		return nil
	},
}

// db command
var dbCmd = &cobra.Command{
	Use:   "db",
	Short: "Manage the cache database",
}

var dbMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending schema migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, app.Options{SkipMigrationCheck: true})
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.Migrate(cmd.Context()); err != nil {
			return fmt.Errorf("migrating %s: %w", a.Environment(), err)
		}
		fmt.Printf("Database for %s is up to date\n", a.Environment())
		return nil
	},
}

var dbStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Count cached rows per kind and status",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, app.Options{})
		if err != nil {
			return err
		}
		defer a.Close()

		report, err := a.StatusReport(cmd.Context())
		if err != nil {
			return err
		}

		for _, ks := range report {
			total := 0
			statuses := make([]string, 0, len(ks.Counts))
			for status, n := range ks.Counts {
				statuses = append(statuses, status)
				total += n
			}
			slices.Sort(statuses)

			fmt.Printf("%s: %d\n", ks.Kind, total)
			for _, status := range statuses {
				fmt.Printf("  %-22s %d\n", status, ks.Counts[status])
			}
		}
		return nil
	},
}

// history command
var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "View recent runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		a, err := newApp(cmd, app.Options{})
		if err != nil {
			return err
		}
		defer a.Close()

		runs, err := a.History(cmd.Context(), limit)
		if err != nil {
			return err
		}

		if len(runs) == 0 {
			fmt.Println("No runs recorded.")
			return nil
		}

		for _, r := range runs {
			duration := ""
			if r.FinishedAt != nil {
				duration = r.FinishedAt.Sub(r.StartedAt).Truncate(time.Second).String()
			}
			fmt.Printf("#%d  %-10s  %s  %s  %-8s  %6d calls  %s\n",
				r.ID,
				r.Environment,
				r.ReportDate.Format(time.DateOnly),
				r.StartedAt.Format("2006-01-02 15:04:05"),
				r.Status,
				r.APICalls,
				duration,
			)
		}
		return nil
	},
}

// keys command
var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Manage snapshot encryption keys",
}

var keysInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Generate the snapshot key pair",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, app.Options{})
		if err != nil {
			return err
		}
		defer a.Close()

		passphrase, err := readSecret("Passphrase: ")
		if err != nil {
			return fmt.Errorf("reading passphrase: %w", err)
		}
		if passphrase == "" {
			return fmt.Errorf("passphrase must not be empty")
		}
		pub, err := a.SetupKeys(passphrase)
		if err != nil {
			return err
		}
		fmt.Printf("Snapshot keys created\nPublic key: %s\n", pub)
		return nil
	},
}

// snapshot command
var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Inspect published cache snapshots",
}

var snapshotListCmd = &cobra.Command{
	Use:   "list",
	Short: "List published snapshots",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, app.Options{})
		if err != nil {
			return err
		}
		defer a.Close()

		names, err := a.Snapshots(cmd.Context())
		if err != nil {
			return err
		}
		if len(names) == 0 {
			fmt.Println("No snapshots published.")
			return nil
		}
		for _, n := range names {
			fmt.Println(n)
		}
		return nil
	},
}

var snapshotPullCmd = &cobra.Command{
	Use:   "pull NAME DEST",
	Short: "Download (and decrypt) a snapshot",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, app.Options{})
		if err != nil {
			return err
		}
		defer a.Close()

		var passphrase string
		if !strings.HasSuffix(args[0], ".db") {
			if passphrase, err = readSecret("Passphrase: "); err != nil {
				return fmt.Errorf("reading passphrase: %w", err)
			}
		}
		if err := a.PullSnapshot(cmd.Context(), args[0], args[1], passphrase); err != nil {
			return err
		}
		fmt.Printf("Snapshot written to %s\n", args[1])
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringP("env", "e", "", "Environment to use (default: default_environment)")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Log debug records")

	runCmd.Flags().String("report-date", "", "Report date YYYY-MM-DD (default: today, UTC)")
	runCmd.Flags().Bool("wipe", false, "Delete the cache before harvesting")
	runCmd.Flags().Bool("skip-harvest", false, "Only run the detail refreshers")
	runCmd.Flags().Int("max-records", 0, "Refresh at most N records per pass (0 = unlimited)")
	rootCmd.AddCommand(runCmd)

	configInitCmd.Flags().String("base-url", "", "API base URL")
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configListCmd)
	rootCmd.AddCommand(configCmd)

	dbCmd.AddCommand(dbMigrateCmd)
	dbCmd.AddCommand(dbStatusCmd)
	rootCmd.AddCommand(dbCmd)

	historyCmd.Flags().IntP("limit", "n", 20, "Maximum number of runs to show")
	rootCmd.AddCommand(historyCmd)

	keysCmd.AddCommand(keysInitCmd)
	rootCmd.AddCommand(keysCmd)

	snapshotCmd.AddCommand(snapshotListCmd)
	snapshotCmd.AddCommand(snapshotPullCmd)
	rootCmd.AddCommand(snapshotCmd)
}
