package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"transitmap/internal/config"
	"transitmap/internal/gtfs"
	"transitmap/internal/realtime"
	"transitmap/internal/server"
	"transitmap/internal/storage"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	cfg := config.Load()

	// CLI flags
	load := flag.Bool("load", false, "Load GTFS data from the feed directory, then exit")
	stopsOnly := flag.Bool("stops-only", false, "With -load: load only stops (and their prerequisites)")
	routesOnly := flag.Bool("routes-only", false, "With -load: load only routes")
	flag.IntVar(&cfg.Port, "port", cfg.Port, "HTTP server port")
	flag.StringVar(&cfg.GTFSDir, "gtfs-dir", cfg.GTFSDir, "Directory containing GTFS feed files")
	flag.Parse()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := storage.Open(cfg.DBPath, logger)
	if err != nil {
		logger.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if *load || *stopsOnly || *routesOnly {
		runLoad(ctx, db, cfg, logger, *stopsOnly, *routesOnly)
		return
	}

	if !db.HasData(ctx) {
		logger.Warn("database has no stops; run with -load to ingest a GTFS feed", "gtfs_dir", cfg.GTFSDir)
	}

	// Live vehicle positions are optional; static queries work without them.
	if cfg.RealtimeEnabled() {
		fetcher := realtime.NewFetcher(cfg.VehicleURLs, cfg.APIKey, db, logger)
		go fetcher.Start(ctx)
	} else {
		logger.Info("no vehicle feed configured, realtime disabled")
	}

	srv := server.New(cfg, db, logger)

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		logger.Info("shutting down")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown error", "error", err)
		}
		cancel()
	}()

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}

// runLoad ingests the GTFS feed directory and exits nonzero if any required
// entity failed. Partial failures still leave loadable entities persisted.
func runLoad(ctx context.Context, db *storage.DB, cfg *config.Config, logger *slog.Logger, stopsOnly, routesOnly bool) {
	logger.Info("loading GTFS feed", "dir", cfg.GTFSDir)
	loader := gtfs.NewLoader(db, cfg.GTFSDir, logger)

	var reports []gtfs.Report
	switch {
	case stopsOnly:
		reports = loader.LoadStopsOnly(ctx)
	case routesOnly:
		reports = loader.LoadRoutesOnly(ctx)
	default:
		reports = loader.LoadAll(ctx)
	}

	if err := gtfs.RequiredFailed(reports); err != nil {
		logger.Error("feed load incomplete", "error", err)
		os.Exit(1)
	}
	logger.Info("feed load complete")
}
