package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/raaihank/case-sentinel/internal/app"
	"github.com/raaihank/case-sentinel/internal/config"
	"github.com/raaihank/case-sentinel/internal/logger"
	"github.com/raaihank/case-sentinel/internal/source"
)

func main() {
	var (
		configPath   = flag.String("config", "", "Configuration file path")
		loop         = flag.Bool("loop", false, "Keep running, syncing every sync.interval")
		interval     = flag.Duration("interval", 0, "Override sync.interval for --loop")
		inputFile    = flag.String("import", "", "Import candidate records from a file (CSV, Parquet, or JSON lines)")
		batchSize    = flag.Int("batch-size", 500, "Batch size for imports")
		ensureSchema = flag.Bool("ensure-schema", false, "Create the source table if it does not exist")
		showStats    = flag.Bool("stats", false, "Show source table statistics and exit")
	)
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [options]\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "\nOptions:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  %s                          # one sync run\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s --loop --interval 15m\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s --import records.parquet --ensure-schema\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s --stats\n", os.Args[0])
	}
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := app.NewLogger(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("Starting case-sentinel sync job",
		zap.String("source", cfg.Source.Kind),
		zap.Bool("loop", *loop),
		zap.String("import", *inputFile))

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Info("Received shutdown signal, cancelling operations...")
		cancel()
	}()

	services, err := app.Initialize(ctx, cfg, log)
	if err != nil {
		log.Fatal("Failed to initialize services", zap.Error(err))
	}
	defer services.Cleanup()

	needsSQL := *ensureSchema || *inputFile != "" || *showStats
	if needsSQL && services.SQL == nil {
		log.Fatal("--ensure-schema, --import and --stats need source.kind postgres")
	}

	if *ensureSchema {
		if err := services.SQL.EnsureSchema(ctx); err != nil {
			log.Fatal("Failed to ensure schema", zap.Error(err))
		}
	}

	switch {
	case *showStats:
		if err := showSourceStats(ctx, services.SQL); err != nil {
			log.Fatal("Failed to show stats", zap.Error(err))
		}
	case *inputFile != "":
		if err := importFile(ctx, services.SQL, *inputFile, *batchSize, log); err != nil {
			log.Fatal("Import failed", zap.Error(err))
		}
	case *ensureSchema:
		// schema only
	default:
		if services.Sync == nil {
			log.Fatal("Sync needs a configured source and destination")
		}
		if *loop {
			if err := services.Sync.Loop(ctx, *interval); err != nil && !errors.Is(err, context.Canceled) {
				log.Fatal("Sync loop failed", zap.Error(err))
			}
			break
		}
		result, err := services.Sync.Run(ctx)
		if err != nil {
			log.Fatal("Sync run failed", zap.Error(err))
		}
		fmt.Printf("Candidates: %d  Accepted: %d  Rejected: %d  Skipped: %d  Failed: %d  (%v)\n",
			result.Candidates, result.Accepted, result.Rejected, result.Skipped, result.Failed, result.Duration)
	}

	log.Info("Sync job completed")
}

// importFile loads a candidate file into the source table
func importFile(ctx context.Context, store *source.SQLStore, path string, batchSize int, log *logger.Logger) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return fmt.Errorf("input file does not exist: %s", path)
	}

	result, err := source.NewImporter(store, batchSize, log).ImportFile(ctx, path)
	if err != nil {
		return err
	}

	log.Info("Import completed",
		zap.String("file", path),
		zap.Int64("total_rows", result.TotalRows),
		zap.Int64("inserted", result.Inserted),
		zap.Int64("duplicates", result.Duplicates),
		zap.Int64("invalid", result.Invalid),
		zap.Int64("failed", result.Failed),
		zap.Duration("duration", result.Duration))

	if len(result.Errors) > 0 {
		log.Warn("Import completed with errors", zap.Strings("errors", result.Errors))
	}
	return nil
}

// showSourceStats prints sync progress of the source table
func showSourceStats(ctx context.Context, store *source.SQLStore) error {
	stats, err := store.Stats(ctx)
	if err != nil {
		return fmt.Errorf("failed to get source stats: %w", err)
	}

	fmt.Printf("\n=== case-sentinel Source Statistics ===\n")
	fmt.Printf("Total Records:    %d\n", stats.Total)
	if stats.Total == 0 {
		return nil
	}
	fmt.Printf("Synced:           %d (%.1f%%)\n", stats.Synced, float64(stats.Synced)/float64(stats.Total)*100)
	fmt.Printf("Awaiting Sync:    %d (%.1f%%)\n", stats.Unsynced, float64(stats.Unsynced)/float64(stats.Total)*100)
	return nil
}
