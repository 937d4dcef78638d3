/*
main.go - One-shot job runner

PURPOSE:
  Runs the engine's batch jobs once from the command line (cron, CI, or an
  operator shell) against the same database and configuration as the
  server. Leases make it safe to run alongside a server whose scheduler is
  enabled. Reports are printed to stdout as JSON.

COMMANDS:
  accrue     --year --month [--dry-run]   Monthly leave accrual
                                          (default: the month before today)
  retention  [--dry-run]                  Retention sweep
  seed       [--catalog FILE]             Seed the catalog into an empty database

COMMON FLAGS:
  --config   YAML configuration file (default: $PAYROLL_CONFIG)
  --db       SQLite database path (overrides database.path)

EXIT STATUS:
  0 on success, 1 on error, 2 when the job's lease is held elsewhere.

SEE ALSO:
  - leave/accrual_job.go, leave/retention.go: the jobs
  - cmd/server/main.go: the long-running server
*/
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"github.com/warp/payroll-engine/api"
	"github.com/warp/payroll-engine/config"
	"github.com/warp/payroll-engine/generic"
	"github.com/warp/payroll-engine/leave"
	"github.com/warp/payroll-engine/store/sqlite"
)

const usage = `usage: jobs <command> [flags]

commands:
  accrue      run the monthly leave accrual
  retention   delete expired exports and job records
  seed        seed the catalog into an empty database
`

const exitLeaseHeld = 2

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		if errors.Is(err, generic.ErrJobRunning) {
			os.Exit(exitLeaseHeld)
		}
		os.Exit(1)
	}
}

func run(args []string) error {
	if len(args) == 0 || args[0] == "-h" || args[0] == "--help" {
		fmt.Fprint(os.Stderr, usage)
		return nil
	}
	command, args := args[0], args[1:]

	flagSet := pflag.NewFlagSet("jobs "+command, pflag.ContinueOnError)
	configPath := flagSet.String("config", "", "YAML configuration file")
	dbPath := flagSet.String("db", "", "SQLite database path")
	dryRun := flagSet.Bool("dry-run", false, "report without writing")
	year := flagSet.Int("year", 0, "accrual year")
	month := flagSet.Int("month", 0, "accrual month (1-12)")
	catalog := flagSet.String("catalog", "", "catalog YAML file")
	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	if flagSet.Changed("db") {
		cfg.Database.Path = *dbPath
	}
	if flagSet.Changed("catalog") {
		cfg.CatalogFile = *catalog
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	logger := config.NewLogger(os.Stderr, cfg.Log)

	store, err := sqlite.New(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("initialize database: %w", err)
	}
	defer store.Close()

	hostname, _ := os.Hostname()
	svc := api.NewServices(store, api.OptionsFromConfig(cfg, logger, fmt.Sprintf("%s-jobs-%d", hostname, os.Getpid())))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var report any
	switch command {
	case "accrue":
		req := leave.AccrualRequest{Year: *year, Month: time.Month(*month), DryRun: *dryRun}
		if req.Year == 0 && req.Month == 0 {
			now := time.Now().UTC()
			lastOfPrev := now.AddDate(0, 0, -now.Day())
			req.Year, req.Month = lastOfPrev.Year(), lastOfPrev.Month()
		}
		report, err = svc.Accrual.Run(ctx, req)
	case "retention":
		report, err = svc.Retention.Run(ctx, *dryRun)
	case "seed":
		report, err = svc.SeedCatalog(ctx, cfg.CatalogFile)
	default:
		fmt.Fprint(os.Stderr, usage)
		return fmt.Errorf("unknown command %q", command)
	}
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}
