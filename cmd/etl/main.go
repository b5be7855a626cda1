package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"go.uber.org/zap"

	"github.com/plumbrhq/plumbr/internal/config"
	"github.com/plumbrhq/plumbr/internal/engine"
	"github.com/plumbrhq/plumbr/internal/etl"
	"github.com/plumbrhq/plumbr/internal/logger"
)

var (
	version = "1.0.0"
	commit  = "dev"
	date    = "unknown"
)

func main() {
	var (
		configPath  = flag.String("config", "", "Path to configuration file")
		input       = flag.String("input", "", "Input log file or directory")
		output      = flag.String("output", "", "Output parquet file or directory (default: derived from input)")
		batchSize   = flag.Int("batch-size", 0, "Lines per processing batch (default: from config)")
		workers     = flag.Int("workers", 0, "Concurrent files when input is a directory (default: from config)")
		showVersion = flag.Bool("version", false, "Show version information")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("plumbr-etl %s (commit: %s, built: %s)\n", version, commit, date)
		os.Exit(0)
	}

	if *input == "" {
		fmt.Fprintf(os.Stderr, "Usage: %s [options]\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "\nOptions:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  %s --input app.log --output app.parquet\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s --input logs/ --output sanitized/ --workers 8\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s --input events.jsonl --batch-size 5000\n", os.Args[0])
		os.Exit(1)
	}

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log, err := logger.New(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("Starting Plumbr log sanitizer",
		zap.String("version", version),
		zap.String("input", *input))

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

	info, err := os.Stat(*input)
	if err != nil {
		log.Fatal("Cannot read input path", zap.Error(err))
	}

	etlConfig := &etl.Config{
		BatchSize:      cfg.ETL.BatchSize,
		WorkerCount:    cfg.ETL.WorkerCount,
		ProgressReport: cfg.ETL.ProgressReport,
	}
	if *batchSize > 0 {
		etlConfig.BatchSize = *batchSize
	}
	if *workers > 0 {
		etlConfig.WorkerCount = *workers
	}

	eng, err := engine.New(engine.Config{
		PatternFile: cfg.Engine.PatternFile,
		PatternDir:  cfg.Engine.PatternDir,
		Compliance:  cfg.Engine.Compliance,
		NumThreads:  cfg.Engine.NumThreads,
		Quiet:       cfg.Engine.Quiet,
		NoDefaults:  cfg.Engine.NoDefaults,
	}, log)
	if err != nil {
		log.Fatal("Failed to create redaction engine", zap.Error(err))
	}
	defer eng.Close()

	pipeline := etl.NewPipeline(eng, etlConfig, log.WithComponent("etl").Logger)

	outPath := *output
	var result *etl.ProcessingResult
	if info.IsDir() {
		if outPath == "" {
			outPath = filepath.Clean(*input) + "-sanitized"
		}
		result, err = pipeline.ProcessDir(ctx, *input, outPath)
	} else {
		if outPath == "" {
			outPath = strings.TrimSuffix(*input, filepath.Ext(*input)) + ".parquet"
		}
		result, err = pipeline.ProcessFile(ctx, *input, outPath)
	}
	if err != nil {
		log.Fatal("Sanitization failed", zap.Error(err))
	}

	log.Info("Sanitization completed",
		zap.String("input", *input),
		zap.String("output", outPath),
		zap.Int64("total_lines", result.TotalLines),
		zap.Int64("modified_lines", result.ModifiedLines),
		zap.Int64("patterns_matched", result.MatchedTotal),
		zap.Int64("skipped_lines", result.SkippedLines),
		zap.Duration("total_duration", result.Duration),
		zap.Duration("redaction_time", result.RedactionTime),
		zap.Duration("write_time", result.WriteTime),
		zap.Float64("lines_per_second", linesPerSecond(result)))
}

func linesPerSecond(r *etl.ProcessingResult) float64 {
	if r.Duration <= 0 {
		return 0
	}
	return float64(r.TotalLines) / r.Duration.Seconds()
}
