/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the payroll engine HTTP server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Parse command-line flags
  2. Load configuration (file, .env, PAYROLL_* variables), apply flags, validate
  3. Initialize SQLite store
  4. Wire services; seed the catalog into an empty database
  5. Start the job scheduler
  6. Configure HTTP router
  7. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  --config     YAML configuration file (default: $PAYROLL_CONFIG)
  --port       HTTP server port (overrides server.port)
  --db         SQLite database path (overrides database.path)
               Use ":memory:" for in-memory database
  --catalog    Catalog YAML seeded into an empty database (overrides catalog_file)
  --no-seed    Skip seeding
  --no-scheduler  Do not start the job scheduler

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the scheduler (waits for an in-flight job)
  2. Stop accepting new connections
  3. Wait for active requests to complete (30s timeout)
  4. Close database connection
  5. Exit

EXAMPLES:
  # Run with file database
  ./server --db=./data/payroll.db

  # Run with a config file and JSON logs
  PAYROLL_LOG_FORMAT=json ./server --config=payroll.yaml

SEE ALSO:
  - config/config.go: Configuration sources
  - api/server.go: Router configuration
  - api/scheduler.go: Job scheduler
*/
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"github.com/warp/payroll-engine/api"
	"github.com/warp/payroll-engine/config"
	"github.com/warp/payroll-engine/store/sqlite"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Flags
	flagSet := pflag.NewFlagSet("payroll-server", pflag.ContinueOnError)
	configPath := flagSet.String("config", "", "YAML configuration file")
	port := flagSet.Int("port", 0, "HTTP server port")
	dbPath := flagSet.String("db", "", "SQLite database path")
	catalog := flagSet.String("catalog", "", "catalog YAML seeded into an empty database")
	noSeed := flagSet.Bool("no-seed", false, "skip catalog seeding")
	noScheduler := flagSet.Bool("no-scheduler", false, "do not start the job scheduler")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	// 2. Configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	if flagSet.Changed("port") {
		cfg.Server.Port = *port
	}
	if flagSet.Changed("db") {
		cfg.Database.Path = *dbPath
	}
	if flagSet.Changed("catalog") {
		cfg.CatalogFile = *catalog
	}
	if *noScheduler {
		cfg.Scheduler.Enabled = false
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger := config.NewLogger(os.Stderr, cfg.Log)
	slog.SetDefault(logger)

	// 3. Store
	store, err := sqlite.New(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("initialize database: %w", err)
	}
	defer store.Close()

	// 4. Services and seed
	hostname, _ := os.Hostname()
	svc := api.NewServices(store, api.OptionsFromConfig(cfg, logger, fmt.Sprintf("%s-%d", hostname, os.Getpid())))
	if !*noSeed {
		report, err := svc.SeedCatalog(context.Background(), cfg.CatalogFile)
		if err != nil {
			return fmt.Errorf("seed catalog: %w", err)
		}
		if report != nil {
			logger.Info("catalog seeded",
				"rule_types", report.RuleTypes,
				"benefit_types", report.BenefitTypes,
				"employees", report.Employees,
				"leave_balances", report.LeaveBalances)
		}
	}

	// 5. Scheduler
	scheduler := api.NewJobScheduler(svc, logger)
	scheduler.Enabled = cfg.Scheduler.Enabled
	scheduler.CheckInterval = cfg.Scheduler.CheckInterval
	scheduler.Start()
	defer scheduler.Stop()

	// 6. Router
	handler := api.NewHandler(svc, logger)
	handler.Scheduler = scheduler
	router := api.NewRouter(handler, cfg.Server.CORSOrigins)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// 7. Serve until a signal arrives
	serveErr := make(chan error, 1)
	go func() {
		logger.Info("server starting", "addr", server.Addr, "db", cfg.Database.Path)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-serveErr:
		return fmt.Errorf("server failed: %w", err)
	case sig := <-quit:
		logger.Info("shutting down", "signal", sig.String())
	}

	scheduler.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	logger.Info("server stopped")
	return nil
}
