package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	cppcheckadapter "github.com/fixmycodedb/scraper/internal/adapter/driven/cppcheck"
	githubadapter "github.com/fixmycodedb/scraper/internal/adapter/driven/github"
	sinkadapter "github.com/fixmycodedb/scraper/internal/adapter/driven/sinkhttp"
	sqliteadapter "github.com/fixmycodedb/scraper/internal/adapter/driven/sqlite"
	"github.com/fixmycodedb/scraper/internal/adapter/driving/tcpctl"
	"github.com/fixmycodedb/scraper/internal/application"
	"github.com/fixmycodedb/scraper/internal/config"
	"github.com/fixmycodedb/scraper/internal/domain/port/driven"
	"github.com/fixmycodedb/scraper/internal/labeling"
)

var scrapeParallel bool

func init() {
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the TCP control server",
		RunE:  runServe,
	}
	rootCmd.AddCommand(serveCmd)

	scrapeCmd := &cobra.Command{
		Use:   "scrape JOB_FILE",
		Short: "Run one job file and exit",
		Args:  cobra.ExactArgs(1),
		RunE:  runScrape,
	}
	scrapeCmd.Flags().BoolVar(&scrapeParallel, "parallel", false, "download repositories concurrently")
	rootCmd.AddCommand(scrapeCmd)
}

// buildOrchestrator wires adapters into an orchestrator per the loaded
// configuration. The returned cleanup closes the database.
func buildOrchestrator(cfg *config.Config) (*application.Orchestrator, func(), error) {
	db, err := sqliteadapter.NewDB(cfg.DBPath)
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() {
		if closeErr := db.Close(); closeErr != nil {
			slog.Error("error closing database", "error", closeErr)
		}
	}

	if err := sqliteadapter.RunMigrations(db.Writer); err != nil {
		cleanup()
		return nil, nil, err
	}
	slog.Info("database ready", "path", cfg.DBPath)

	classifier, err := labeling.LoadClassifier(cfg.LabelsPath)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("load labels config %s: %w", cfg.LabelsPath, err)
	}

	tool := cppcheckadapter.New(cfg.CppcheckPath, cfg.AnalysisTimeout)
	if !tool.Available() {
		slog.Warn("cppcheck binary not found, commits will produce no issues", "path", cfg.CppcheckPath)
	}

	newGitClient := func(token string) driven.GitClient {
		return githubadapter.NewClient(token)
	}

	orch := application.NewOrchestrator(
		newGitClient,
		tool,
		sinkadapter.NewClient(cfg.SinkURL),
		sqliteadapter.NewArchiveRepo(db),
		sqliteadapter.NewRunRepo(db),
		classifier,
	)

	return orch, cleanup, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	slog.Info("config loaded",
		"listen_addr", cfg.ListenAddr,
		"sink_url", cfg.SinkURL,
		"db_path", cfg.DBPath,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	orch, cleanup, err := buildOrchestrator(cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	srv := tcpctl.NewControlServer(cfg.ListenAddr, orch)
	if err := srv.ListenAndServe(ctx); err != nil {
		return err
	}

	slog.Info("control server stopped")
	return nil
}

func runScrape(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	orch, cleanup, err := buildOrchestrator(cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	result, err := orch.RunJobFile(ctx, args[0], scrapeParallel)
	if err != nil {
		return err
	}

	fmt.Printf("Completed %d/%d repos, %d records in %.1fs\n",
		result.ReposSucceeded, result.ReposTotal, result.Records, result.Duration.Seconds())
	return nil
}
